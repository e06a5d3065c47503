// Package reconcile decides whether a fetched breakdown is written to the
// snapshot table and issues the insert or update.
package reconcile

import (
	"context"
	"errors"

	"github.com/TobiSchelling/socialshares/internal/database"
	"github.com/TobiSchelling/socialshares/internal/logging"
)

// Outcome is the terminal state of one record in a run.
type Outcome int

const (
	Unchanged Outcome = iota
	New
	Updated
	Failed
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Unchanged:
		return "unchanged"
	case New:
		return "new"
	case Updated:
		return "updated"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Persisted reports whether the outcome wrote a snapshot.
func (o Outcome) Persisted() bool {
	return o == New || o == Updated
}

// Store is the snapshot writer. *database.DB implements it.
type Store interface {
	InsertSnapshot(ctx context.Context, contentID int64, b database.Breakdown, total int64) error
	UpdateSnapshot(ctx context.Context, contentID int64, b database.Breakdown, total int64, expectedTotal *int64) error
}

// Reconciler is the sole writer of engagement snapshots.
type Reconciler struct {
	store Store
	log   logging.Logger
}

// NewReconciler creates a reconciler writing to store.
func NewReconciler(store Store, logger logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reconciler{store: store, log: logger}
}

// Persist writes breakdown and total for contentID: an update of every
// counter when a snapshot exists, an insert otherwise. Each call is one
// transaction attempted once.
func (r *Reconciler) Persist(ctx context.Context, contentID int64, b database.Breakdown, total int64, hadPrior bool) error {
	return r.persist(ctx, contentID, b, total, hadPrior, nil)
}

func (r *Reconciler) persist(ctx context.Context, contentID int64, b database.Breakdown, total int64, hadPrior bool, expected *int64) error {
	var err error
	if hadPrior {
		err = r.store.UpdateSnapshot(ctx, contentID, b, total, expected)
	} else {
		err = r.store.InsertSnapshot(ctx, contentID, b, total)
	}
	if err != nil {
		r.log.WithField("content_id", contentID).WithError(err).Error("persisting snapshot failed")
	}
	return err
}

// Reconcile classifies and persists one fetched candidate.
//
// Without change detection every candidate is written (New or Updated).
// With change detection a candidate whose prior total equals total is
// Unchanged and nothing is written; an update is then conditional on the
// stored total still matching the prior one, and a lost race surfaces as
// database.ErrStaleSnapshot with outcome Failed.
func (r *Reconciler) Reconcile(ctx context.Context, c database.Candidate, b database.Breakdown, changeDetection bool) (Outcome, error) {
	total := b.Total()
	hadPrior := c.HasSnapshot()

	var expected *int64
	if changeDetection && hadPrior {
		if c.Prior.Total == total {
			return Unchanged, nil
		}
		expected = c.PriorTotal()
	}

	if err := r.persist(ctx, c.ID, b, total, hadPrior, expected); err != nil {
		return Failed, err
	}
	if hadPrior {
		return Updated, nil
	}
	return New, nil
}

// IsStale reports whether err came from a lost optimistic update.
func IsStale(err error) bool {
	return errors.Is(err, database.ErrStaleSnapshot)
}

// Package pipeline runs one engagement refresh: select candidates, fetch and
// sum their engagement, reconcile each against its stored snapshot.
package pipeline

import (
	"context"
	"errors"
	"time"


	"github.com/TobiSchelling/socialshares/internal/database"
	"github.com/TobiSchelling/socialshares/internal/logging"
	"github.com/TobiSchelling/socialshares/internal/reconcile"
	"github.com/TobiSchelling/socialshares/internal/social"
)

// CandidateSource selects content records. *database.DB implements it.
type CandidateSource interface {
	SelectByIDs(ctx context.Context, ids []int64) ([]database.Candidate, []int64, error)
	SelectMissing(ctx context.Context, limit int, clientID *int64) ([]database.Candidate, error)
	SelectRecent(ctx context.Context, daysBack int) ([]database.Candidate, error)
}

// Fetcher returns the combined breakdown for a URL. *social.Aggregator
// implements it.
type Fetcher interface {
	FetchBreakdown(ctx context.Context, target string) social.FetchResult
}

// Reconciler classifies and persists one candidate.
type Reconciler interface {
	Reconcile(ctx context.Context, c database.Candidate, b database.Breakdown, changeDetection bool) (reconcile.Outcome, error)
}

// RecordResult is what happened to one candidate.
type RecordResult struct {
	Candidate database.Candidate
	Outcome   reconcile.Outcome
	Breakdown database.Breakdown
	Total     int64
	Degraded  []string
	Err       error
}

// Result is the tally of one run.
type Result struct {
	Selection    Selection
	DryRun       bool
	StartedAt    time.Time
	FinishedAt   time.Time
	Selected     int
	Processed    int
	New          int
	Updated      int
	Unchanged    int
	Failed       int
	Skipped      int
	Degraded     int
	DegradedBy   map[string]int
	Missing      []int64
	SelectionErr error
	Interrupted  bool
	Records      []RecordResult
}

// Duration is the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Succeeded counts records whose snapshot was written.
func (r *Result) Succeeded() int {
	return r.New + r.Updated
}

// SuccessRate is the share of processed records that were written, in
// percent. It is 0 when nothing was processed.
func (r *Result) SuccessRate() float64 {
	if r.Processed == 0 {
		return 0
	}
	return float64(r.Succeeded()) / float64(r.Processed) * 100
}

func (r *Result) add(rec RecordResult) {
	r.Processed++
	switch rec.Outcome {
	case reconcile.New:
		r.New++
	case reconcile.Updated:
		r.Updated++
	case reconcile.Unchanged:
		r.Unchanged++
	case reconcile.Failed:
		r.Failed++
	case reconcile.Skipped:
		r.Skipped++
	}
	if len(rec.Degraded) > 0 {
		r.Degraded++
		for _, name := range rec.Degraded {
			r.DegradedBy[name]++
		}
	}
	r.Records = append(r.Records, rec)
}

// Options tunes a Pipeline.
type Options struct {
	// Delay is the pause after each record except the last.
	// Zero disables pacing.
	Delay time.Duration
	// Progress, when set, is called after each record.
	Progress func(done, total int, rec RecordResult)
	Now      func() time.Time
}

// Pipeline wires the selector, aggregator and reconciler into one run.
type Pipeline struct {
	source     CandidateSource
	fetcher    Fetcher
	reconciler Reconciler
	opts       Options
	log        logging.Logger
}

// New creates a pipeline.
func New(source CandidateSource, fetcher Fetcher, reconciler Reconciler, opts Options, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{source: source, fetcher: fetcher, reconciler: reconciler, opts: opts, log: logger}
}

// Run executes one pass over the candidates chosen by sel. Selection faults
// end the run with zero candidates and are kept in Result.SelectionErr.
// Cancelling ctx stops the loop between records; the record in flight
// completes first and Result.Interrupted is set.
func (p *Pipeline) Run(ctx context.Context, sel Selection) *Result {
	return p.run(ctx, sel, false)
}

// DryRun selects candidates and reports them as skipped without contacting
// the providers or writing snapshots.
func (p *Pipeline) DryRun(ctx context.Context, sel Selection) *Result {
	return p.run(ctx, sel, true)
}

func (p *Pipeline) run(ctx context.Context, sel Selection, dryRun bool) *Result {
	r := &Result{
		Selection:  sel,
		DryRun:     dryRun,
		StartedAt:  p.opts.Now(),
		DegradedBy: map[string]int{},
	}
	defer func() { r.FinishedAt = p.opts.Now() }()

	if err := sel.Validate(); err != nil {
		r.SelectionErr = err
		return r
	}

	candidates, err := p.selectCandidates(ctx, sel, r)
	if err != nil {
		r.SelectionErr = err
		p.log.WithError(err).WithField("selection", sel.String()).Error("candidate selection failed")
		return r
	}
	r.Selected = len(candidates)
	if len(r.Missing) > 0 {
		p.log.WithField("ids", r.Missing).Warn("ids not found, deleted or without url")
	}
	if len(candidates) == 0 {
		p.log.WithField("selection", sel.String()).Info("no candidates to process")
		return r
	}

	p.log.WithFields(logging.Fields{
		"selection":  sel.String(),
		"candidates": len(candidates),
		"dry_run":    dryRun,
	}).Info("processing candidates")

	for i, c := range candidates {
		if ctx.Err() != nil {
			r.Interrupted = true
			break
		}

		var rec RecordResult
		if dryRun {
			rec = RecordResult{Candidate: c, Outcome: reconcile.Skipped}
		} else {
			// The in-flight record finishes even if the run is interrupted.
			rec = p.processRecord(context.WithoutCancel(ctx), c, sel.ChangeDetection())
		}
		r.add(rec)
		p.logRecord(rec)

		if p.opts.Progress != nil {
			p.opts.Progress(i+1, len(candidates), rec)
		}

		if !dryRun && i < len(candidates)-1 {
			if err := pause(ctx, p.opts.Delay); err != nil {
				r.Interrupted = true
				break
			}
		}
	}

	if r.Interrupted {
		p.log.WithFields(logging.Fields{
			"processed": r.Processed,
			"remaining": r.Selected - r.Processed,
		}).Warn("run interrupted")
	}
	return r
}

// pause sleeps for d, returning early with ctx's error on cancellation.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Pipeline) selectCandidates(ctx context.Context, sel Selection, r *Result) ([]database.Candidate, error) {
	switch sel.Mode {
	case ModeIDs:
		candidates, missing, err := p.source.SelectByIDs(ctx, sel.IDs)
		r.Missing = missing
		return candidates, err
	case ModeMissing:
		return p.source.SelectMissing(ctx, sel.Limit, sel.ClientID)
	case ModeRecent:
		return p.source.SelectRecent(ctx, sel.DaysBack)
	}
	return nil, errors.New("unreachable selection mode")
}

func (p *Pipeline) processRecord(ctx context.Context, c database.Candidate, changeDetection bool) RecordResult {
	fetched := p.fetcher.FetchBreakdown(ctx, c.URL)
	rec := RecordResult{
		Candidate: c,
		Breakdown: fetched.Breakdown,
		Total:     fetched.Total(),
		Degraded:  fetched.DegradedNames(),
	}
	rec.Outcome, rec.Err = p.reconciler.Reconcile(ctx, c, fetched.Breakdown, changeDetection)
	return rec
}

func (p *Pipeline) logRecord(rec RecordResult) {
	fields := logging.Fields{
		"content_id": rec.Candidate.ID,
		"outcome":    rec.Outcome.String(),
	}
	if rec.Candidate.ClientID != nil {
		fields["client_id"] = *rec.Candidate.ClientID
	}
	if rec.Outcome != reconcile.Skipped {
		fields["total"] = rec.Total
	}
	if prior := rec.Candidate.PriorTotal(); prior != nil {
		fields["prior_total"] = *prior
	}
	if len(rec.Degraded) > 0 {
		fields["degraded"] = rec.Degraded
	}

	entry := p.log.WithFields(fields)
	if rec.Err != nil {
		entry.WithError(rec.Err).Error("record failed")
		return
	}
	entry.Info("record processed")
}

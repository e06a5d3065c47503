package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TobiSchelling/socialshares/internal/database"
	"github.com/TobiSchelling/socialshares/internal/reconcile"
	"github.com/TobiSchelling/socialshares/internal/social"
)

type fakeSource struct {
	candidates []database.Candidate
	missing    []int64
	err        error
	calls      []string
}

func (f *fakeSource) SelectByIDs(ctx context.Context, ids []int64) ([]database.Candidate, []int64, error) {
	f.calls = append(f.calls, "ids")
	return f.candidates, f.missing, f.err
}

func (f *fakeSource) SelectMissing(ctx context.Context, limit int, clientID *int64) ([]database.Candidate, error) {
	f.calls = append(f.calls, "missing")
	return f.candidates, f.err
}

func (f *fakeSource) SelectRecent(ctx context.Context, daysBack int) ([]database.Candidate, error) {
	f.calls = append(f.calls, "recent")
	return f.candidates, f.err
}

// fakeFetcher returns a fixed result per URL.
type fakeFetcher struct {
	mu      sync.Mutex
	results map[string]social.FetchResult
	urls    []string
	onFetch func()
}

func (f *fakeFetcher) FetchBreakdown(ctx context.Context, target string) social.FetchResult {
	f.mu.Lock()
	f.urls = append(f.urls, target)
	f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch()
	}
	return f.results[target]
}

type memStore struct {
	totals map[int64]int64
	fail   map[int64]error
	ctxErr []error
}

func newMemStore() *memStore {
	return &memStore{totals: map[int64]int64{}, fail: map[int64]error{}}
}

func (s *memStore) InsertSnapshot(ctx context.Context, id int64, b database.Breakdown, total int64) error {
	s.ctxErr = append(s.ctxErr, ctx.Err())
	if err := s.fail[id]; err != nil {
		return err
	}
	s.totals[id] = total
	return nil
}

func (s *memStore) UpdateSnapshot(ctx context.Context, id int64, b database.Breakdown, total int64, expected *int64) error {
	s.ctxErr = append(s.ctxErr, ctx.Err())
	if err := s.fail[id]; err != nil {
		return err
	}
	if expected != nil && s.totals[id] != *expected {
		return database.ErrStaleSnapshot
	}
	s.totals[id] = total
	return nil
}

func cand(id int64, prior *int64) database.Candidate {
	c := database.Candidate{ContentRecord: database.ContentRecord{ID: id, URL: urlFor(id)}}
	if prior != nil {
		c.Prior = &database.Snapshot{ContentID: id, Total: *prior}
	}
	return c
}

func urlFor(id int64) string {
	return "https://example.com/" + string(rune('a'+id))
}

func i64(v int64) *int64 { return &v }

func fetched(b database.Breakdown, degraded ...string) social.FetchResult {
	res := social.FetchResult{Breakdown: b}
	for _, name := range degraded {
		res.Degraded = append(res.Degraded, social.Degradation{Provider: name, Err: errors.New("down")})
	}
	return res
}

func TestRunRecentTally(t *testing.T) {
	store := newMemStore()
	store.totals[2] = 5
	store.totals[3] = 7

	source := &fakeSource{candidates: []database.Candidate{cand(1, nil), cand(2, i64(5)), cand(3, i64(7))}}
	fetcher := &fakeFetcher{results: map[string]social.FetchResult{
		urlFor(1): fetched(database.Breakdown{Reddit: 4}),
		urlFor(2): fetched(database.Breakdown{Reddit: 5}, "xsearch"),
		urlFor(3): fetched(database.Breakdown{Reddit: 9}),
	}}
	p := New(source, fetcher, reconcile.NewReconciler(store, nil), Options{}, nil)

	r := p.Run(context.Background(), Selection{Mode: ModeRecent, DaysBack: 10})
	if r.SelectionErr != nil {
		t.Fatalf("unexpected selection error: %v", r.SelectionErr)
	}
	if r.Processed != 3 || r.New != 1 || r.Unchanged != 1 || r.Updated != 1 || r.Failed != 0 {
		t.Errorf("unexpected tally %+v", r)
	}
	if r.Degraded != 1 || r.DegradedBy["xsearch"] != 1 {
		t.Errorf("expected one xsearch degradation, got %d %v", r.Degraded, r.DegradedBy)
	}
	if store.totals[1] != 4 || store.totals[2] != 5 || store.totals[3] != 9 {
		t.Errorf("unexpected stored totals %v", store.totals)
	}
	if got := r.SuccessRate(); got < 66.6 || got > 66.7 {
		t.Errorf("expected success rate ~66.7, got %.2f", got)
	}
	if source.calls[0] != "recent" {
		t.Errorf("expected recent selection, got %v", source.calls)
	}
}

func TestRunBackfillWritesUnchangedTotals(t *testing.T) {
	store := newMemStore()
	store.totals[1] = 3
	source := &fakeSource{candidates: []database.Candidate{cand(1, i64(3))}}
	fetcher := &fakeFetcher{results: map[string]social.FetchResult{urlFor(1): fetched(database.Breakdown{Pinterest: 3})}}
	p := New(source, fetcher, reconcile.NewReconciler(store, nil), Options{}, nil)

	r := p.Run(context.Background(), Selection{Mode: ModeIDs, IDs: []int64{1}})
	if r.Updated != 1 || r.Unchanged != 0 {
		t.Errorf("backfill should overwrite without change detection, got %+v", r)
	}
}

func TestRunIDsReportsMissing(t *testing.T) {
	store := newMemStore()
	source := &fakeSource{candidates: []database.Candidate{cand(1, nil), cand(3, nil)}, missing: []int64{2}}
	fetcher := &fakeFetcher{results: map[string]social.FetchResult{}}
	p := New(source, fetcher, reconcile.NewReconciler(store, nil), Options{}, nil)

	r := p.Run(context.Background(), Selection{Mode: ModeIDs, IDs: []int64{1, 2, 3}})
	if len(r.Missing) != 1 || r.Missing[0] != 2 {
		t.Errorf("expected missing [2], got %v", r.Missing)
	}
	if r.Processed != 2 || r.New != 2 {
		t.Errorf("expected two new records, got %+v", r)
	}
}

func TestRunSelectionFailure(t *testing.T) {
	source := &fakeSource{err: errors.New("connection refused")}
	fetcher := &fakeFetcher{}
	p := New(source, fetcher, reconcile.NewReconciler(newMemStore(), nil), Options{}, nil)

	r := p.Run(context.Background(), Selection{Mode: ModeMissing, Limit: 10})
	if r.SelectionErr == nil {
		t.Fatal("expected selection error to be kept")
	}
	if r.Processed != 0 || len(fetcher.urls) != 0 {
		t.Errorf("expected nothing processed, got %+v", r)
	}
}

func TestRunInvalidSelection(t *testing.T) {
	source := &fakeSource{}
	p := New(source, &fakeFetcher{}, reconcile.NewReconciler(newMemStore(), nil), Options{}, nil)

	r := p.Run(context.Background(), Selection{Mode: ModeIDs})
	if r.SelectionErr == nil {
		t.Error("expected validation error")
	}
	if len(source.calls) != 0 {
		t.Errorf("invalid selection must not query the store, got %v", source.calls)
	}
}

func TestRunPersistFailureContinues(t *testing.T) {
	store := newMemStore()
	store.fail[1] = errors.New("constraint violation")
	source := &fakeSource{candidates: []database.Candidate{cand(1, nil), cand(2, nil)}}
	fetcher := &fakeFetcher{results: map[string]social.FetchResult{}}
	p := New(source, fetcher, reconcile.NewReconciler(store, nil), Options{}, nil)

	r := p.Run(context.Background(), Selection{Mode: ModeMissing, Limit: 5})
	if r.Failed != 1 || r.New != 1 || r.Processed != 2 {
		t.Errorf("expected one failed and one new, got %+v", r)
	}
	if r.Records[0].Err == nil {
		t.Error("expected failure recorded on first record")
	}
}

func TestDryRunSkipsFetchAndWrite(t *testing.T) {
	store := newMemStore()
	source := &fakeSource{candidates: []database.Candidate{cand(1, nil), cand(2, i64(4))}}
	fetcher := &fakeFetcher{}
	p := New(source, fetcher, reconcile.NewReconciler(store, nil), Options{Delay: time.Hour}, nil)

	r := p.DryRun(context.Background(), Selection{Mode: ModeRecent, DaysBack: 3})
	if !r.DryRun || r.Skipped != 2 || r.Processed != 2 {
		t.Errorf("expected two skipped records, got %+v", r)
	}
	if len(fetcher.urls) != 0 || len(store.totals) != 0 {
		t.Error("dry run must not fetch or write")
	}
}

func TestRunInterruptFinishesInFlightRecord(t *testing.T) {
	store := newMemStore()
	source := &fakeSource{candidates: []database.Candidate{cand(1, nil), cand(2, nil), cand(3, nil)}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &fakeFetcher{results: map[string]social.FetchResult{}, onFetch: cancel}

	var progress []int
	p := New(source, fetcher, reconcile.NewReconciler(store, nil), Options{
		Progress: func(done, total int, rec RecordResult) { progress = append(progress, done) },
	}, nil)

	r := p.Run(ctx, Selection{Mode: ModeRecent, DaysBack: 1})
	if !r.Interrupted {
		t.Error("expected interrupted run")
	}
	if r.Processed != 1 || r.New != 1 {
		t.Errorf("expected the in-flight record to complete, got %+v", r)
	}
	if _, ok := store.totals[1]; !ok {
		t.Error("in-flight record should be persisted")
	}
	if store.ctxErr[0] != nil {
		t.Errorf("persist must run on a live context, got %v", store.ctxErr[0])
	}
	if len(progress) != 1 || progress[0] != 1 {
		t.Errorf("unexpected progress calls %v", progress)
	}
}

func TestRunPacesRecords(t *testing.T) {
	source := &fakeSource{candidates: []database.Candidate{cand(1, nil), cand(2, nil), cand(3, nil)}}
	fetcher := &fakeFetcher{results: map[string]social.FetchResult{}}
	p := New(source, fetcher, reconcile.NewReconciler(newMemStore(), nil), Options{Delay: 30 * time.Millisecond}, nil)

	start := time.Now()
	r := p.Run(context.Background(), Selection{Mode: ModeRecent, DaysBack: 1})
	elapsed := time.Since(start)

	if r.Processed != 3 {
		t.Fatalf("expected 3 processed, got %d", r.Processed)
	}
	if elapsed < 55*time.Millisecond {
		t.Errorf("expected two pauses between three records, elapsed %v", elapsed)
	}
}

func TestRunPausesAfterSlowRecords(t *testing.T) {
	source := &fakeSource{candidates: []database.Candidate{cand(1, nil), cand(2, nil), cand(3, nil)}}
	fetcher := &fakeFetcher{
		results: map[string]social.FetchResult{},
		onFetch: func() { time.Sleep(40 * time.Millisecond) },
	}
	p := New(source, fetcher, reconcile.NewReconciler(newMemStore(), nil), Options{Delay: 30 * time.Millisecond}, nil)

	start := time.Now()
	r := p.Run(context.Background(), Selection{Mode: ModeRecent, DaysBack: 1})
	elapsed := time.Since(start)

	if r.Processed != 3 {
		t.Fatalf("expected 3 processed, got %d", r.Processed)
	}
	// Three 40ms records plus two full 30ms pauses.
	if elapsed < 175*time.Millisecond {
		t.Errorf("expected a full pause after each slow record, elapsed %v", elapsed)
	}
}

func TestRunNoPauseAfterLastRecord(t *testing.T) {
	source := &fakeSource{candidates: []database.Candidate{cand(1, nil)}}
	fetcher := &fakeFetcher{results: map[string]social.FetchResult{}}
	p := New(source, fetcher, reconcile.NewReconciler(newMemStore(), nil), Options{Delay: time.Hour}, nil)

	done := make(chan *Result, 1)
	go func() { done <- p.Run(context.Background(), Selection{Mode: ModeRecent, DaysBack: 1}) }()

	select {
	case r := <-done:
		if r.Processed != 1 || r.Interrupted {
			t.Errorf("unexpected result %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run waited after the final record")
	}
}

func TestRunInterruptDuringPause(t *testing.T) {
	source := &fakeSource{candidates: []database.Candidate{cand(1, nil), cand(2, nil)}}
	fetcher := &fakeFetcher{results: map[string]social.FetchResult{}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(source, fetcher, reconcile.NewReconciler(newMemStore(), nil), Options{
		Delay:    time.Hour,
		Progress: func(done, total int, rec RecordResult) { cancel() },
	}, nil)

	done := make(chan *Result, 1)
	go func() { done <- p.Run(ctx, Selection{Mode: ModeRecent, DaysBack: 1}) }()

	select {
	case r := <-done:
		if !r.Interrupted || r.Processed != 1 {
			t.Errorf("expected interrupt after first record, got %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not end the pause")
	}
}

func TestRunAgainstSQLite(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	db, err := database.Open(filepath.Join(t.TempDir(), "run.db"), database.Options{Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	published := now.AddDate(0, 0, -2)
	for id := int64(1); id <= 3; id++ {
		rec := database.ContentRecord{ID: id, URL: urlFor(id), Published: &published}
		if err := db.InsertContent(ctx, rec, id == 2); err != nil {
			t.Fatalf("insert content: %v", err)
		}
	}

	fetcher := &fakeFetcher{results: map[string]social.FetchResult{
		urlFor(1): fetched(database.Breakdown{XTweets: 1, Reddit: 2}),
		urlFor(3): fetched(database.Breakdown{FacebookShares: 6}),
	}}
	p := New(db, fetcher, reconcile.NewReconciler(db, nil), Options{}, nil)

	first := p.Run(ctx, Selection{Mode: ModeRecent, DaysBack: 10})
	if first.New != 2 || first.Processed != 2 {
		t.Fatalf("expected two new snapshots, got %+v", first)
	}

	second := p.Run(ctx, Selection{Mode: ModeRecent, DaysBack: 10})
	if second.Unchanged != 2 || second.Succeeded() != 0 {
		t.Errorf("rerun with same totals should be unchanged, got %+v", second)
	}

	fetcher.results[urlFor(3)] = fetched(database.Breakdown{FacebookShares: 8})
	third := p.Run(ctx, Selection{Mode: ModeRecent, DaysBack: 10})
	if third.Updated != 1 || third.Unchanged != 1 {
		t.Errorf("expected one update, got %+v", third)
	}
	snap, err := db.GetSnapshot(ctx, 3)
	if err != nil || snap == nil || snap.Total != 8 {
		t.Errorf("expected stored total 8, got %+v %v", snap, err)
	}
}

func TestSelectionValidate(t *testing.T) {
	tests := []struct {
		sel   Selection
		valid bool
	}{
		{Selection{Mode: ModeIDs, IDs: []int64{1}}, true},
		{Selection{Mode: ModeIDs}, false},
		{Selection{Mode: ModeMissing, Limit: 1}, true},
		{Selection{Mode: ModeMissing}, false},
		{Selection{Mode: ModeRecent, DaysBack: 10}, true},
		{Selection{Mode: ModeRecent, DaysBack: -1}, false},
		{Selection{Mode: "weekly"}, false},
	}
	for _, tt := range tests {
		err := tt.sel.Validate()
		if (err == nil) != tt.valid {
			t.Errorf("%s: valid=%v, err=%v", tt.sel, tt.valid, err)
		}
	}
	if !(Selection{Mode: ModeRecent}).ChangeDetection() || (Selection{Mode: ModeIDs}).ChangeDetection() {
		t.Error("change detection should apply to recent selections only")
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(" Recent "); err != nil || m != ModeRecent {
		t.Errorf("expected recent, got %q %v", m, err)
	}
	if _, err := ParseMode("all"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/socialshares/internal/database"
	"github.com/TobiSchelling/socialshares/internal/pipeline"
	"github.com/TobiSchelling/socialshares/internal/reconcile"
)

func sampleRun() *pipeline.Result {
	start := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	return &pipeline.Result{
		Selection:  pipeline.Selection{Mode: pipeline.ModeRecent, DaysBack: 10},
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
		Selected:   3,
		DegradedBy: map[string]int{"xsearch": 2},
		Records: []pipeline.RecordResult{
			{Outcome: reconcile.New},
			{Outcome: reconcile.Updated},
			{Outcome: reconcile.Updated},
		},
	}
}

func TestObserveRun(t *testing.T) {
	m := New()
	m.ObserveRun(sampleRun())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.records.WithLabelValues("recent", "new")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.records.WithLabelValues("recent", "updated")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.degraded.WithLabelValues("xsearch")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.selected.WithLabelValues("recent")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.selectionErrors.WithLabelValues("recent")))
}

func TestObserveRunSelectionError(t *testing.T) {
	m := New()
	r := sampleRun()
	r.Records = nil
	r.SelectionErr = errors.New("db down")
	m.ObserveRun(r)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.selectionErrors.WithLabelValues("recent")))
}

type stubStats struct {
	st  *database.Stats
	err error
}

func (s stubStats) Stats(ctx context.Context) (*database.Stats, error) { return s.st, s.err }

func TestHandlerExposesStoreGauges(t *testing.T) {
	m := New()
	m.RegisterStore(stubStats{st: &database.Stats{Eligible: 12, MissingSnapshot: 4, TotalEngagement: 900}})
	m.ObserveRun(sampleRun())

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, "socialshares_store_eligible_content 12")
	assert.Contains(t, text, "socialshares_store_missing_snapshots 4")
	assert.Contains(t, text, "socialshares_store_engagement_total 900")
	assert.Contains(t, text, `socialshares_records_total{mode="recent",outcome="updated"} 2`)
}

func TestPushSendsRegistry(t *testing.T) {
	var gotPath string
	var gotBody string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	m := New()
	m.ObserveRun(sampleRun())
	require.NoError(t, m.Push(context.Background(), gateway.URL, "socialshares"))

	assert.Equal(t, "/metrics/job/socialshares", gotPath)
	assert.True(t, strings.Contains(gotBody, "socialshares_records_total"), "expected pushed records metric")
}

func TestPushReportsGatewayError(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gateway.Close()

	m := New()
	err := m.Push(context.Background(), gateway.URL, "socialshares")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pushing metrics")
}

// Package telemetry keeps Prometheus metrics for engagement runs on a private
// registry, served by the dashboard or pushed to a Pushgateway after a
// one-shot run.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/TobiSchelling/socialshares/internal/database"
	"github.com/TobiSchelling/socialshares/internal/pipeline"
)

const namespace = "socialshares"

// Metrics holds the run collectors.
type Metrics struct {
	registry *prometheus.Registry

	records         *prometheus.CounterVec
	degraded        *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	lastRun         *prometheus.GaugeVec
	selected        *prometheus.GaugeVec
	selectionErrors *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.records = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records processed, by selection mode and outcome",
		},
		[]string{"mode", "outcome"},
	)
	m.degraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_fetches_total",
			Help:      "Provider contributions replaced by zeros after a failed or unconfigured fetch",
		},
		[]string{"provider"},
	)
	m.runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of engagement runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5h
		},
		[]string{"mode"},
	)
	m.lastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run of each mode finished",
		},
		[]string{"mode"},
	)
	m.selected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_candidates",
			Help:      "Candidates selected by the last run of each mode",
		},
		[]string{"mode"},
	)
	m.selectionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selection_errors_total",
			Help:      "Runs that ended because candidate selection failed",
		},
		[]string{"mode"},
	)

	m.registry.MustRegister(m.records, m.degraded, m.runDuration, m.lastRun, m.selected, m.selectionErrors)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun folds a finished run into the collectors.
func (m *Metrics) ObserveRun(r *pipeline.Result) {
	mode := string(r.Selection.Mode)

	for _, rec := range r.Records {
		m.records.WithLabelValues(mode, rec.Outcome.String()).Inc()
	}
	for provider, n := range r.DegradedBy {
		m.degraded.WithLabelValues(provider).Add(float64(n))
	}
	if r.SelectionErr != nil {
		m.selectionErrors.WithLabelValues(mode).Inc()
	}
	m.runDuration.WithLabelValues(mode).Observe(r.Duration().Seconds())
	m.lastRun.WithLabelValues(mode).Set(float64(r.FinishedAt.Unix()))
	m.selected.WithLabelValues(mode).Set(float64(r.Selected))
}

// StatsSource reports snapshot coverage. *database.DB implements it.
type StatsSource interface {
	Stats(ctx context.Context) (*database.Stats, error)
}

// RegisterStore adds gauges read from the store on every scrape.
func (m *Metrics) RegisterStore(src StatsSource) {
	m.registry.MustRegister(&storeCollector{
		src: src,
		eligible: prometheus.NewDesc(prometheus.BuildFQName(namespace, "store", "eligible_content"),
			"Content records with a URL that are not deleted", nil, nil),
		missing: prometheus.NewDesc(prometheus.BuildFQName(namespace, "store", "missing_snapshots"),
			"Eligible content records without a snapshot", nil, nil),
		engagement: prometheus.NewDesc(prometheus.BuildFQName(namespace, "store", "engagement_total"),
			"Sum of stored engagement totals", nil, nil),
	})
}

// RegisterRuntime adds the Go and process collectors, for long-running modes.
func (m *Metrics) RegisterRuntime() {
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Push sends the registry to a Pushgateway under job.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job string) error {
	if err := push.New(gatewayURL, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", gatewayURL, err)
	}
	return nil
}

type storeCollector struct {
	src        StatsSource
	eligible   *prometheus.Desc
	missing    *prometheus.Desc
	engagement *prometheus.Desc
}

func (c *storeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.eligible
	ch <- c.missing
	ch <- c.engagement
}

func (c *storeCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := c.src.Stats(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.eligible, err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.eligible, prometheus.GaugeValue, float64(st.Eligible))
	ch <- prometheus.MustNewConstMetric(c.missing, prometheus.GaugeValue, float64(st.MissingSnapshot))
	ch <- prometheus.MustNewConstMetric(c.engagement, prometheus.GaugeValue, float64(st.TotalEngagement))
}

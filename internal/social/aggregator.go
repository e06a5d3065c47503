// Package social fetches engagement counters for a URL from the two external
// metrics providers and combines them into one breakdown.
package social

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/socialshares/internal/config"
	"github.com/TobiSchelling/socialshares/internal/database"
	"github.com/TobiSchelling/socialshares/internal/logging"
)

// ErrNotConfigured marks a provider skipped because its API key is missing.
var ErrNotConfigured = errors.New("provider not configured")

// StatusError is a non-200 provider response.
type StatusError struct {
	Provider string
	Code     int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s HTTP error: %d", e.Provider, e.Code)
}

// Provider is one external engagement source.
type Provider interface {
	Name() string
	IsConfigured() bool
	Fetch(ctx context.Context, target string) (database.Breakdown, error)
}

// Degradation records a provider whose contribution was replaced by zeros.
type Degradation struct {
	Provider string
	Err      error
}

// FetchResult is the combined breakdown of one URL plus the providers that
// failed, so "no engagement" can be told apart from "fetch failed".
type FetchResult struct {
	Breakdown database.Breakdown
	Degraded  []Degradation
}

// Total is the sum of all counters.
func (r FetchResult) Total() int64 {
	return r.Breakdown.Total()
}

// IsDegraded reports whether any provider contribution was lost.
func (r FetchResult) IsDegraded() bool {
	return len(r.Degraded) > 0
}

// DegradedNames lists the degraded providers in fetch order.
func (r FetchResult) DegradedNames() []string {
	names := make([]string, len(r.Degraded))
	for i, d := range r.Degraded {
		names[i] = d.Provider
	}
	return names
}

// Aggregator fetches from the shared-counting and social-search providers.
type Aggregator struct {
	shared   Provider
	search   Provider
	parallel bool
	log      logging.Logger
}

// NewAggregator creates an aggregator over the two providers.
func NewAggregator(shared, search Provider, parallel bool, logger logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Aggregator{shared: shared, search: search, parallel: parallel, log: logger}
}

// NewFromConfig builds both HTTP clients, each behind its own circuit breaker.
func NewFromConfig(cfg config.Social, logger logging.Logger) *Aggregator {
	shared := WithBreaker(NewSharedCountClient(cfg.SharedCount), cfg.Breaker.Failures, cfg.Breaker.Cooldown, logger)
	search := WithBreaker(NewXSearchClient(cfg.XSearch), cfg.Breaker.Failures, cfg.Breaker.Cooldown, logger)
	return NewAggregator(shared, search, cfg.Parallel, logger)
}

// Providers returns the shared-counting and social-search providers.
func (a *Aggregator) Providers() []Provider {
	return []Provider{a.shared, a.search}
}

// FetchBreakdown fetches both providers for target and sums their counters.
// It never fails: a faulty provider contributes zeros and is listed in
// Degraded.
func (a *Aggregator) FetchBreakdown(ctx context.Context, target string) FetchResult {
	var shared, search providerResult

	if a.parallel {
		var g errgroup.Group
		g.Go(func() error { shared = a.fetchOne(ctx, a.shared, target); return nil })
		g.Go(func() error { search = a.fetchOne(ctx, a.search, target); return nil })
		_ = g.Wait()
	} else {
		shared = a.fetchOne(ctx, a.shared, target)
		search = a.fetchOne(ctx, a.search, target)
	}

	var res FetchResult
	for _, pr := range []providerResult{shared, search} {
		if pr.err != nil {
			res.Degraded = append(res.Degraded, Degradation{Provider: pr.name, Err: pr.err})
			continue
		}
		res.Breakdown = res.Breakdown.Add(pr.breakdown)
	}
	return res
}

type providerResult struct {
	name      string
	breakdown database.Breakdown
	err       error
}

func (a *Aggregator) fetchOne(ctx context.Context, p Provider, target string) providerResult {
	pr := providerResult{name: p.Name()}
	if !p.IsConfigured() {
		pr.err = ErrNotConfigured
		a.log.WithField("provider", pr.name).Debug("provider not configured, skipping")
		return pr
	}

	b, err := p.Fetch(ctx, target)
	if err != nil {
		pr.err = err
		a.log.WithFields(logging.Fields{
			"provider": pr.name,
			"url":      target,
		}).WithError(err).Warn("provider fetch failed, counting zero")
		return pr
	}
	pr.breakdown = b
	return pr
}

// redactKey strips an API key from the URL carried by a transport error.
func redactKey(err error, key string) error {
	var ue *url.Error
	if key == "" || !errors.As(err, &ue) {
		return err
	}
	return &url.Error{Op: ue.Op, URL: strings.ReplaceAll(ue.URL, url.QueryEscape(key), "REDACTED"), Err: ue.Err}
}

package social

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/TobiSchelling/socialshares/internal/database"
	"github.com/TobiSchelling/socialshares/internal/logging"
)

// breakerProvider guards a provider with a circuit breaker. While the
// breaker is open calls fail fast with circuitbreaker.ErrOpen, which the
// aggregator degrades like any other provider fault.
type breakerProvider struct {
	Provider
	cb circuitbreaker.CircuitBreaker[any]
}

// WithBreaker wraps p so that failures consecutive outages open the breaker
// for cooldown. Only transport faults, malformed payloads, 5xx and 429
// responses count as outages. A zero failures value returns p unchanged.
func WithBreaker(p Provider, failures uint, cooldown time.Duration, logger logging.Logger) Provider {
	if failures == 0 {
		return p
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}

	name := p.Name()
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(failures).
		WithDelay(cooldown).
		WithSuccessThreshold(1).
		HandleIf(func(_ any, err error) bool {
			return isOutage(err)
		}).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			if logger == nil {
				return
			}
			logger.WithFields(logging.Fields{
				"provider":   name,
				"from_state": stateName(event.OldState),
				"to_state":   stateName(event.NewState),
			}).Warn("provider circuit breaker state change")
		}).
		Build()

	return &breakerProvider{Provider: p, cb: cb}
}

func (b *breakerProvider) Fetch(ctx context.Context, target string) (database.Breakdown, error) {
	res, err := failsafe.With[any](b.cb).WithContext(ctx).Get(func() (any, error) {
		return b.Provider.Fetch(ctx, target)
	})
	if err != nil {
		return database.Breakdown{}, err
	}
	return res.(database.Breakdown), nil
}

// isOutage reports whether err says the provider itself is unhealthy.
// Rejections of a single URL (4xx other than 429) do not count.
func isOutage(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return !errors.Is(err, ErrNotConfigured)
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.ClosedState:
		return "closed"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	case circuitbreaker.OpenState:
		return "open"
	default:
		return "unknown"
	}
}

package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/sony/gobreaker"
)

// newBreaker guards gateway calls. Only transport failures count, business
// errors reported by the gateway travel inside a successful response.
func newBreaker(name string, logger *slog.Logger) *gobreaker.CircuitBreaker {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    15 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(cbName string, from gobreaker.State, to gobreaker.State) {
			metrics.GetOrCreateCounter(fmt.Sprintf(`gateway_breaker_transitions_total{to=%q}`, to.String())).Inc()
			logger.Warn("Circuit breaker state changed", "circuit", cbName, "from", from.String(), "to", to.String())
		},
	})

	// 0=closed, 1=open, 2=half-open
	metrics.GetOrCreateGauge(fmt.Sprintf(`gateway_breaker_state{circuit=%q}`, name), func() float64 {
		switch cb.State() {
		case gobreaker.StateOpen:
			return 1
		case gobreaker.StateHalfOpen:
			return 2
		default:
			return 0
		}
	})

	return cb
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) {
		return fmt.Errorf("circuit breaker is open (gateway unavailable): %w", err)
	}
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("circuit breaker: too many requests in half-open state: %w", err)
	}
	return err
}

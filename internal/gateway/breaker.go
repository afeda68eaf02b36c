package gateway

import (
	"time"

	"payment-engine/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/sony/gobreaker"
)

// newBreaker builds the circuit breaker guarding one provider's API. An open
// circuit fails charge creation fast instead of stacking timeouts on the
// user-facing request path.
func newBreaker(provider string, logger log.Logger) *gobreaker.CircuitBreaker {
	logHelper := log.NewHelper(logger)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 3,
		Interval:    15 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			state := float64(0)
			switch to {
			case gobreaker.StateOpen:
				state = 1
			case gobreaker.StateHalfOpen:
				state = 2
			}
			metrics.GetMetrics().CircuitBreakerState.WithLabelValues(name).Set(state)
			logHelper.Infof("circuit breaker %s: %s -> %s", name, from.String(), to.String())
		},
	})
}

// Package resilience provides fault tolerance for calls to external services.
package resilience

import (
	"errors"
	"time"

	"grievance_server/pkg/logger"

	"github.com/sony/gobreaker"
)

// BreakerConfig holds the trip policy for a breaker.
type BreakerConfig struct {
	Name             string
	MaxHalfOpen      uint32        // requests allowed through while half-open
	Interval         time.Duration // closed-state counter reset period
	OpenTimeout      time.Duration // time spent open before probing again
	ConsecutiveFails uint32        // trips after more than this many consecutive failures
	MinRequests      uint32        // ratio trip needs at least this many requests
	FailureRatio     float64       // ratio trip threshold
}

// DefaultBreakerConfig returns the policy used for mail and embedding backends.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxHalfOpen:      3,
		Interval:         60 * time.Second,
		OpenTimeout:      30 * time.Second,
		ConsecutiveFails: 5,
		MinRequests:      10,
		FailureRatio:     0.6,
	}
}

// NewBreaker builds a gobreaker circuit breaker that logs state transitions.
func NewBreaker(cfg BreakerConfig) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxHalfOpen,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures > cfg.ConsecutiveFails {
				return true
			}
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
}

// IsOpen reports whether err was produced by a breaker refusing the call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

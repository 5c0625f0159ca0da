// Package breaker wraps sony/gobreaker behind the narrow execute contract
// the hot path consumes: run a supplier, or fail fast with ErrOpen while the
// protected dependency is unhealthy.
package breaker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned while the breaker is open (or half-open and at its
// trial capacity). Callers treat it as an infrastructure fault, not a
// dependency error.
var ErrOpen = errors.New("circuit breaker open")

// Settings configures a CircuitBreaker.
type Settings struct {
	// Name appears in logs and state-change events.
	Name string
	// FailureThreshold is the consecutive-failure count that trips the breaker.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before half-open trials.
	ResetTimeout time.Duration
	// HalfOpenMaxCalls is the number of trial calls allowed while half-open.
	HalfOpenMaxCalls int
}

// CircuitBreaker is a three-state (closed / open / half-open) gate around a
// potentially slow or failing dependency.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a breaker with the given settings. Zero-valued fields get
// conservative defaults.
func New(s Settings) *CircuitBreaker {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = 30 * time.Second
	}
	if s.HalfOpenMaxCalls <= 0 {
		s.HalfOpenMaxCalls = 1
	}
	threshold := uint32(s.FailureThreshold)
	return &CircuitBreaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        s.Name,
			MaxRequests: uint32(s.HalfOpenMaxCalls),
			Timeout:     s.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("Circuit breaker state change",
					"breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Execute runs fn through the breaker. While open it returns ErrOpen without
// invoking fn; otherwise it returns fn's result and records the outcome.
func Execute[T any](b *CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %s", ErrOpen, b.cb.Name())
		}
		return zero, err
	}
	return res.(T), nil
}

// State returns the current breaker state name (closed, open, half-open).
func (b *CircuitBreaker) State() string {
	return b.cb.State().String()
}

// Package resilience wraps circuit breaking and backoff around the
// broker's REST and stream transports, and tracks the system-wide
// degraded-mode state they fall back to.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned by Execute when the breaker is open and the
// call was short-circuited.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// Breaker wraps a gobreaker.CircuitBreaker with the logging and metrics
// hooks the core expects, and exposes a name for telemetry labelling.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker[any]
	log  zerolog.Logger
}

// BreakerConfig configures how many consecutive failures trip the breaker
// and how long it stays open before probing again.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	Cooldown         time.Duration
	OnStateChange    func(name string, from, to gobreaker.State)
}

// NewBreaker builds a named circuit breaker around the given config.
func NewBreaker(cfg BreakerConfig, log zerolog.Logger) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	}

	return &Breaker{
		name: cfg.Name,
		cb:   gobreaker.NewCircuitBreaker[any](settings),
		log:  log.With().Str("breaker", cfg.Name).Logger(),
	}
}

// Name returns the breaker's configured name.
func (b *Breaker) Name() string { return b.name }

// State returns the breaker's current state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Execute runs fn through the breaker. ErrCircuitOpen is returned without
// calling fn when the breaker is open.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return v, err
}

// RetryPolicy builds an exponential backoff policy whose intervals are
// randomised by ±jitterFraction. Neither the REST retry loop nor the
// stream reconnect loop uses it; both double their own delay and apply
// Jitter directly.
func RetryPolicy(ctx context.Context, base, maxInterval time.Duration, jitterFraction float64) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = 0 // caller controls total attempts via retry budget
	b.RandomizationFactor = jitterFraction
	return backoff.WithContext(b, ctx)
}

// Jitter returns d scaled by a uniform random factor in
// [1-fraction, 1+fraction], used by the REST retry and stream reconnect
// loops to jitter each backoff delay.
func Jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * fraction
	return time.Duration(float64(d) * (1 + delta))
}

// DegradedController tracks whether the core is currently relying on
// REST-only polling because the stream is unavailable, and exposes that
// state to the poller (which shortens its interval) and to telemetry.
type DegradedController struct {
	degraded atomic.Bool
}

// NewDegradedController returns a controller starting in normal mode.
func NewDegradedController() *DegradedController {
	return &DegradedController{}
}

// Enter marks the system degraded. Returns true if this call transitioned
// the state (false if already degraded).
func (d *DegradedController) Enter() bool {
	return d.degraded.CompareAndSwap(false, true)
}

// Exit clears degraded mode. Returns true if this call transitioned the
// state.
func (d *DegradedController) Exit() bool {
	return d.degraded.CompareAndSwap(true, false)
}

// IsDegraded reports the current mode.
func (d *DegradedController) IsDegraded() bool {
	return d.degraded.Load()
}

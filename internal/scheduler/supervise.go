package scheduler

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// SupervisorConfig bounds a supervised loop's restart backoff and the
// escalation threshold for repeated rapid failures.
type SupervisorConfig struct {
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	RapidFailWindow time.Duration // a restart inside this window counts as "rapid"
	MaxRapidFails  int            // escalate to fatal after this many in a row
}

// OnFatal is invoked once the rapid-restart threshold is exceeded; the
// caller typically raises an operator alert and may choose to exit the
// process.
type OnFatal func(lastErr error, rapidFails int)

// Supervise wraps a long-running loop (stream reader, REST poller, the
// scheduler itself) with panic recovery and exponential-backoff restart,
// escalating to onFatal after repeated rapid failures. Blocks until ctx is
// cancelled.
func Supervise(ctx context.Context, name string, cfg SupervisorConfig, loop func(ctx context.Context) error, onFatal OnFatal, log zerolog.Logger) {
	log = log.With().Str("component", "supervisor").Str("loop", name).Logger()
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.RapidFailWindow <= 0 {
		cfg.RapidFailWindow = 10 * time.Second
	}
	if cfg.MaxRapidFails <= 0 {
		cfg.MaxRapidFails = 5
	}

	attempt := 0
	rapidFails := 0
	var lastStart time.Time

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		lastStart = time.Now()
		err := runOnceGuarded(ctx, loop)

		if ctx.Err() != nil {
			return
		}

		if err == nil {
			// A clean (non-error) return from a supposedly infinite loop
			// still counts as a failure to supervise against: restart it.
			err = context.Canceled
		}

		if time.Since(lastStart) < cfg.RapidFailWindow {
			rapidFails++
		} else {
			rapidFails = 1
		}

		log.Error().Err(err).Int("rapid_fails", rapidFails).Msg("supervised loop exited, restarting")

		if rapidFails >= cfg.MaxRapidFails {
			log.Error().Int("rapid_fails", rapidFails).Msg("supervised loop escalating to fatal after repeated rapid restarts")
			if onFatal != nil {
				onFatal(err, rapidFails)
			}
			return
		}

		backoff := backoffFor(attempt, cfg.BackoffBase, cfg.BackoffCap)
		attempt++

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// runOnceGuarded runs loop, converting a panic into an error so Supervise's
// restart logic applies uniformly to panics and returned errors.
func runOnceGuarded(ctx context.Context, loop func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return loop(ctx)
}

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return "panic recovered in supervised loop"
}

// backoffFor returns exponential backoff with full jitter, capped.
func backoffFor(attempt int, base, maxBackoff time.Duration) time.Duration {
	exp := math.Pow(2, float64(attempt))
	d := time.Duration(float64(base) * exp)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// Package poll implements a bounded fixed-delay polling loop for
// long-running remote resources. It is deliberately free of any HTTP or UI
// concern: callers inject the fetch function and, in tests, the sleeper.
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted is returned when the attempt budget runs out before the
// resource reaches a terminal state. This is a client-side timeout only;
// the remote job may still finish afterwards.
var ErrExhausted = errors.New("resource not ready before attempt budget was exhausted")

// Outcome classifies one fetch of the polled resource.
type Outcome int

const (
	// Pending means the resource has not reached a terminal state yet.
	Pending Outcome = iota
	// Done means the resource reached its terminal success state.
	Done
	// Failed means the resource reached its terminal failure state.
	Failed
)

// Fetch retrieves the current state of the polled resource and classifies
// it. On Failed the returned error carries the resource's failure reason.
type Fetch[T any] func(ctx context.Context) (T, Outcome, error)

// Config bounds a polling loop.
type Config struct {
	// MaxAttempts is the number of fetches before giving up.
	MaxAttempts int
	// Delay is the fixed wait inserted after each non-terminal fetch.
	Delay time.Duration
	// Sleep is overridable for tests; defaults to a context-aware wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig is the build-watch policy: 20 attempts, 800ms apart, for a
// wall-clock budget of roughly 16 seconds plus request latency.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 20,
		Delay:       800 * time.Millisecond,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Until fetches the resource until it reaches a terminal state or the
// attempt budget is spent. A fetch error or a Failed outcome ends the loop
// immediately; the error from the final fetch is returned unchanged so the
// caller can distinguish a terminal failure from ErrExhausted.
func Until[T any](ctx context.Context, cfg Config, fetch Fetch[T]) (T, error) {
	var zero T

	if cfg.MaxAttempts <= 0 {
		return zero, ErrExhausted
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		resource, outcome, err := fetch(ctx)
		if err != nil {
			return zero, err
		}
		switch outcome {
		case Done:
			return resource, nil
		case Failed:
			// A Failed outcome without an error still must not be retried.
			return zero, errors.New("resource entered a failed state")
		}
		if err := sleep(ctx, cfg.Delay); err != nil {
			return zero, err
		}
	}

	return zero, ErrExhausted
}

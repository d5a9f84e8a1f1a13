// Package backoff provides bounded retry utilities for turn-loop and
// connection-level operations.
package backoff

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

type Strategy struct {
	Delays []time.Duration
	// Jittered spreads each delay uniformly over [d/2, 3d/2) so retries
	// from concurrent sessions do not synchronize.
	Jittered bool
}

var (
	// Quick allows a single in-turn retry. Anything longer would eat the
	// turn deadline.
	Quick = Strategy{
		Delays:   []time.Duration{50 * time.Millisecond},
		Jittered: true,
	}

	// Persist covers turn persistence, which may retry more than once
	// because it sits off the speech path.
	Persist = Strategy{
		Delays: []time.Duration{
			50 * time.Millisecond,
			100 * time.Millisecond,
			200 * time.Millisecond,
		},
		Jittered: true,
	}

	// Standard is for connection-level operations with no deadline pressure.
	Standard = Strategy{
		Delays: []time.Duration{
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
		},
	}
)

func (s Strategy) delay(i int) time.Duration {
	d := s.Delays[i]
	if !s.Jittered || d <= 0 {
		return d
	}
	return d/2 + time.Duration(rand.Int64N(int64(d)))
}

// Attempts is the total number of invocations Retry will make: the first
// call plus one per delay.
func (s Strategy) Attempts() int {
	return len(s.Delays) + 1
}

type RetryFunc func(ctx context.Context, attempt int) error

// Retry invokes fn until it succeeds, the delays are exhausted, or ctx is
// done. Attempt numbering starts at 1.
func Retry(ctx context.Context, strategy Strategy, fn RetryFunc) error {
	return RetryWithCallback(ctx, strategy, fn, nil)
}

// RetryWithCallback is Retry with a hook invoked before each wait, for
// logging or counting retries.
func RetryWithCallback(ctx context.Context, strategy Strategy, fn RetryFunc, onRetry func(attempt int, err error, delay time.Duration)) error {
	var lastErr error

	for i := 0; i <= len(strategy.Delays); i++ {
		if err := fn(ctx, i+1); err != nil {
			lastErr = err
			if i == len(strategy.Delays) {
				break
			}

			delay := strategy.delay(i)
			if onRetry != nil {
				onRetry(i+1, err, delay)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", strategy.Attempts(), lastErr)
}

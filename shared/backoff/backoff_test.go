package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastStrategy(delays ...time.Duration) Strategy {
	return Strategy{Delays: delays}
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastStrategy(time.Millisecond), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryRecoversAfterFailure(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastStrategy(time.Millisecond, time.Millisecond), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	sentinel := errors.New("still down")
	calls := 0
	err := Retry(context.Background(), fastStrategy(time.Millisecond), func(ctx context.Context, attempt int) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want wrapped sentinel", err)
	}
	// One delay means two attempts total.
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, fastStrategy(time.Second), func(ctx context.Context, attempt int) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithCallbackReportsEachWait(t *testing.T) {
	var attempts []int
	err := RetryWithCallback(context.Background(), fastStrategy(time.Millisecond, time.Millisecond),
		func(ctx context.Context, attempt int) error {
			return errors.New("transient")
		},
		func(attempt int, err error, delay time.Duration) {
			attempts = append(attempts, attempt)
		})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("callback attempts = %v, want [1 2]", attempts)
	}
}

func TestJitterStaysBounded(t *testing.T) {
	s := Strategy{Delays: []time.Duration{100 * time.Millisecond}, Jittered: true}
	for i := 0; i < 100; i++ {
		d := s.delay(0)
		if d < 50*time.Millisecond || d >= 150*time.Millisecond {
			t.Fatalf("jittered delay %v outside [50ms, 150ms)", d)
		}
	}
}

func TestStrategyAttempts(t *testing.T) {
	if got := Quick.Attempts(); got != 2 {
		t.Errorf("Quick attempts = %d, want 2", got)
	}
	if got := Persist.Attempts(); got != 4 {
		t.Errorf("Persist attempts = %d, want 4", got)
	}
}

package retrier

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunSucceedsWithoutRetry(t *testing.T) {
	r := NewRetrier(3, time.Millisecond, 10*time.Millisecond, 2, 0)

	calls := 0
	err := r.Run(context.Background(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	r := NewRetrier(5, time.Millisecond, 10*time.Millisecond, 2, 0)

	calls := 0
	err := r.Run(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRunWrapsLastError(t *testing.T) {
	r := NewRetrier(2, time.Millisecond, 10*time.Millisecond, 2, 0)

	want := errors.New("connection refused")
	err := r.Run(context.Background(), func() error { return want })
	if !errors.Is(err, want) {
		t.Errorf("Run error = %v, want wrapped %v", err, want)
	}
}

func TestRunExecutesAtLeastOnce(t *testing.T) {
	// A non-positive attempt count must not skip the function or fail
	// without a cause; the run still makes one attempt.
	for _, attempts := range []int{0, -1} {
		r := NewRetrier(attempts, time.Millisecond, 10*time.Millisecond, 2, 0.1)

		calls := 0
		want := errors.New("network is down")
		err := r.Run(context.Background(), func() error {
			calls++
			return want
		})
		if calls != 1 {
			t.Errorf("attempts=%d: calls = %d, want 1", attempts, calls)
		}
		if !errors.Is(err, want) {
			t.Errorf("attempts=%d: error = %v, want wrapped %v", attempts, err, want)
		}
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	r := NewRetrier(10, 50*time.Millisecond, time.Second, 2, 0)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := r.Run(ctx, func() error {
		calls++
		return errors.New("still down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 before the cancelled wait", calls)
	}
}

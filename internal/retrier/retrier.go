// Package retrier implements the bounded exponential backoff used when
// replaying queued mutations during a drain pass.
package retrier

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Retrier runs a function up to a fixed number of attempts, sleeping
// between failures with exponentially growing, jittered delays.
type Retrier struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
	factor    float64
	jitter    float64
}

// NewRetrier 建立重試器
// NewRetrier builds a Retrier. An attempt count below one is treated as
// one, so Run always executes its function at least once.
func NewRetrier(attempts int, baseDelay, maxDelay time.Duration, factor, jitter float64) *Retrier {
	if attempts < 1 {
		attempts = 1
	}
	return &Retrier{
		attempts:  attempts,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		factor:    factor,
		jitter:    jitter,
	}
}

// Run invokes fn until it succeeds or the attempt budget is spent,
// waiting between attempts. Cancelling the context during a wait aborts
// the run with the context's error.
func (r *Retrier) Run(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < r.attempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == r.attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delay(attempt)):
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", r.attempts, lastErr)
}

func (r *Retrier) delay(attempt int) time.Duration {
	d := float64(r.baseDelay) * math.Pow(r.factor, float64(attempt))
	if d > float64(r.maxDelay) {
		d = float64(r.maxDelay)
	}
	d += rand.Float64() * r.jitter * d
	return time.Duration(d)
}

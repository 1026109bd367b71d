package order

import (
	"context"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// RetryPolicy repeats operations failing with a retryable error.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns 3 attempts with 100ms exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// Backoff returns the wait before retry number n, counted from zero.
func (p RetryPolicy) Backoff(n int) time.Duration {
	d := p.BaseDelay << n
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		return p.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, fails with a non-retryable error, the
// attempts run out or ctx is done. It returns the last error of fn.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)
	for n := 0; ; n++ {
		err := fn(ctx)
		if err == nil || n+1 >= attempts || !Retryable(err) || ctx.Err() != nil {
			return err
		}

		wait := p.Backoff(n)
		zctx.From(ctx).Warn("Retrying order operation",
			zap.Int("attempt", n+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

package catalog

import (
	"context"
	"time"

	"github.com/asgsync/gallery/internal/models"
)

// RetryPolicy governs how rate-limited requests are retried. It is a value
// object so tests can drive it with a fake sleeper instead of a wall clock.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the first backoff delay; each retry doubles it.
	BaseDelay time.Duration
	// Sleep suspends between attempts. Defaults to a context-aware
	// time.Sleep when nil.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy matches the camera server's rate limiting: two retries,
// 1s base delay, doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		BaseDelay:  time.Second,
	}
}

// Delay returns the backoff before retry attempt n (zero-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn, retrying on rate-limit errors per the policy. Any other error
// is returned immediately. Once retries are exhausted, the last rate-limit
// error surfaces to the caller.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !models.IsRateLimit(err) {
			return err
		}
		if attempt >= p.MaxRetries {
			return err
		}
		if serr := p.sleep(ctx, p.Delay(attempt)); serr != nil {
			return serr
		}
	}
}

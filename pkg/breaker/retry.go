package breaker

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy bounds retry behavior for a single operation.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the venue call budget: three attempts with
// short exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Retry runs fn up to MaxAttempts times, backing off exponentially with
// jitter between attempts. transient decides whether an error is worth
// retrying; non-transient errors are returned immediately. ErrCircuitOpen
// is never retried — backing off inside an open window just burns time.
func Retry(ctx context.Context, p RetryPolicy, transient func(error) bool, fn func() error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(p, attempt)):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if err == ErrCircuitOpen || (transient != nil && !transient(err)) {
			return err
		}
	}
	return err
}

func backoff(p RetryPolicy, attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	// Jitter up to 25% so a burst of callers does not retry in lockstep.
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

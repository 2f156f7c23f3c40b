package resilience

import (
	"context"
	"time"
)

// RetryPolicy defines retry behavior for transient failures.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func NewRetryPolicy(maxRetries int, backoff time.Duration) RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{MaxRetries: maxRetries, Backoff: backoff}
}

// Do retries fn until it succeeds or the attempts are exhausted.
func (r RetryPolicy) Do(ctx context.Context, fn func() error) error {
	return r.DoIf(ctx, fn, func(error) bool { return true })
}

// DoIf retries fn only while retryable(err) holds. The backoff doubles per attempt.
func (r RetryPolicy) DoIf(ctx context.Context, fn func() error, retryable func(error) bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	backoff := r.Backoff
	var err error
	for i := 0; i <= r.MaxRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if i == r.MaxRetries || !retryable(err) {
			return err
		}
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		backoff *= 2
	}
	return err
}

package transcriber

import (
	"context"
	"time"
)

// RetryPolicy retries transient failures with linear backoff: attempt n
// (1-based) waits n*Backoff before it is sent.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Backoff: 500 * time.Millisecond}
}

func (p RetryPolicy) Delay(attempt int) time.Duration {
	return time.Duration(attempt) * p.Backoff
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// retries are exhausted. It returns the number of retries performed.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	retries := 0
	for {
		err := fn(ctx)
		if err == nil || !Retryable(err) || retries >= p.MaxRetries {
			return retries, err
		}
		retries++
		select {
		case <-ctx.Done():
			return retries, &Error{Kind: ErrNetwork, Message: "retry aborted", Err: ctx.Err()}
		case <-time.After(p.Delay(retries)):
		}
	}
}

// Package resilience wraps external-channel calls with bounded retry and a
// circuit breaker over channel health. Semantic game errors are never
// retried here; only the transient failures named by the policy filter.
package resilience

import (
	"context"
	"time"
)

// Policy bounds one retried operation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// IsTransient decides which errors are worth another attempt. A nil
	// filter retries nothing.
	IsTransient func(error) bool
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	return p
}

// Retry runs op up to p.MaxAttempts times with capped exponential backoff
// between attempts. It returns the last error when the budget is exhausted.
func Retry(ctx context.Context, p Policy, op func(context.Context) error) error {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if p.IsTransient == nil || !p.IsTransient(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := sleepWithContext(ctx, backoff(p, attempt)); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func backoff(p Policy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	d := p.BaseDelay * time.Duration(1<<uint(attempt-1))
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limited wraps an Oracle with a shared call rate and a per-call deadline.
type Limited struct {
	next    Oracle
	limiter *rate.Limiter
	timeout time.Duration
}

// NewLimited allows perMinute calls per minute with the given burst. A
// non-positive perMinute disables rate limiting; a non-positive timeout
// disables the per-call deadline.
func NewLimited(next Oracle, perMinute, burst int, timeout time.Duration) *Limited {
	l := &Limited{next: next, timeout: timeout}
	if perMinute > 0 {
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
	}
	return l
}

// Generate implements Oracle.
func (l *Limited) Generate(ctx context.Context, req Request) (string, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return "", classify(ctx, "limiter", ctx.Err())
			}
			return "", fmt.Errorf("%w: rate limit: %v", ErrUnavailable, err)
		}
	}

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	text, err := l.next.Generate(ctx, req)
	if err != nil && !errors.Is(err, ErrTimeout) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", classify(ctx, "oracle", err)
	}
	return text, err
}

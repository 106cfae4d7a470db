package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// ErrRateLimitExceeded is returned when admission retries are exhausted.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// rateLimitedError is implemented by platform errors that represent a
// platform-side rate limit (e.g. Facebook 1500, Instagram 36000, Zalo -216).
type rateLimitedError interface {
	RateLimited() bool
}

// WithRetry runs fn under admission control. A denied admission sleeps until
// the window turns (or an exponential backoff, whichever is shorter); a fn
// error reporting a platform-side rate limit backs off and retries. Any
// other fn error returns immediately. After maxRetries denials the helper
// gives up with ErrRateLimitExceeded.
func (l *Limiter) WithRetry(ctx context.Context, platform, tenantKey string, fn func() error, maxRetries int) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		d := l.Admit(platform, tenantKey)
		if !d.Allowed {
			if attempt >= maxRetries {
				return ErrRateLimitExceeded
			}
			delay := d.RetryAfter
			if backoff := l.backoff(attempt); backoff < delay {
				delay = backoff
			}
			slog.Info("rate limit window full, waiting",
				"platform", platform,
				"tenant", tenantKey,
				"retry_after_seconds", d.RetryAfterSeconds())
			l.sleep(delay)
			continue
		}

		err := fn()
		if err == nil {
			return nil
		}

		var rl rateLimitedError
		if errors.As(err, &rl) && rl.RateLimited() && attempt < maxRetries {
			delay := l.backoff(attempt)
			slog.Info("platform reported rate limit, backing off",
				"platform", platform,
				"tenant", tenantKey,
				"delay", delay.String())
			l.sleep(delay)
			continue
		}

		return err
	}
}

// backoff is baseDelay × 2^attempt plus up to one baseDelay of jitter,
// capped at maxDelay.
func (l *Limiter) backoff(attempt int) time.Duration {
	delay := l.baseDelay << uint(attempt)
	if delay > l.maxDelay || delay <= 0 {
		delay = l.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(l.baseDelay)))
	if delay+jitter > l.maxDelay {
		return l.maxDelay
	}
	return delay + jitter
}

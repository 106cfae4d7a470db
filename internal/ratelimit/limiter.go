package ratelimit

import (
	"sync"
	"time"

	config "github.com/cuongccna/autopost-vn-sub000/configs"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds is RetryAfter rounded up to whole seconds, the shape
// platform callers report to users.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int((d.RetryAfter + time.Second - 1) / time.Second)
}

type window struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window counter per (platform, tenant) pair. Windows are
// reclaimed lazily on next access, there is no background sweep. State is
// process-local; all workers for one pair must share one Limiter.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limits  map[string]config.PlatformLimit

	baseDelay time.Duration
	maxDelay  time.Duration

	now   func() time.Time
	sleep func(d time.Duration) // overridable in tests
}

func NewLimiter(limits map[string]config.PlatformLimit, baseDelay time.Duration) *Limiter {
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Limiter{
		windows:   make(map[string]*window),
		limits:    limits,
		baseDelay: baseDelay,
		maxDelay:  30 * time.Second,
		now:       time.Now,
		sleep:     time.Sleep,
	}
}

// Admit counts one request against the (platform, tenant) window. The first
// hit in a window sets count=1 and resetAt=now+window; once the count
// reaches the platform maximum the caller is denied until the window turns.
func (l *Limiter) Admit(platform, tenantKey string) Decision {
	limit, ok := l.limits[platform]
	if !ok || limit.MaxRequests <= 0 {
		// Unconfigured platforms are not limited.
		return Decision{Allowed: true}
	}

	key := platform + "|" + tenantKey
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 0, resetAt: now.Add(limit.Window)}
		l.windows[key] = w
	}

	if w.count >= limit.MaxRequests {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    w.resetAt,
			RetryAfter: w.resetAt.Sub(now),
		}
	}

	w.count++
	return Decision{
		Allowed:   true,
		Remaining: limit.MaxRequests - w.count,
		ResetAt:   w.resetAt,
	}
}

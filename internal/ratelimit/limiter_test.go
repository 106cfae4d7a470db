package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	config "github.com/cuongccna/autopost-vn-sub000/configs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter(maxRequests int, window time.Duration) (*Limiter, *time.Time) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l := NewLimiter(map[string]config.PlatformLimit{
		"facebook": {MaxRequests: maxRequests, Window: window},
	}, 10*time.Millisecond)
	l.now = func() time.Time { return now }
	l.sleep = func(time.Duration) {}
	return l, &now
}

func TestAdmitFixedWindow(t *testing.T) {
	l, now := testLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		d := l.Admit("facebook", "tenant-1")
		require.True(t, d.Allowed, "call %d should be admitted", i+1)
		assert.Equal(t, 2-i, d.Remaining)
	}

	denied := l.Admit("facebook", "tenant-1")
	assert.False(t, denied.Allowed)
	assert.Greater(t, denied.RetryAfterSeconds(), 0)
	assert.Equal(t, now.Add(time.Hour), denied.ResetAt)

	// After the window elapses admission resets.
	*now = now.Add(time.Hour + time.Second)
	d := l.Admit("facebook", "tenant-1")
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestAdmitIsolatesTenants(t *testing.T) {
	l, _ := testLimiter(1, time.Hour)

	assert.True(t, l.Admit("facebook", "tenant-1").Allowed)
	assert.False(t, l.Admit("facebook", "tenant-1").Allowed)
	assert.True(t, l.Admit("facebook", "tenant-2").Allowed)
}

func TestAdmitUnconfiguredPlatform(t *testing.T) {
	l, _ := testLimiter(1, time.Hour)

	for i := 0; i < 10; i++ {
		assert.True(t, l.Admit("unknown", "tenant-1").Allowed)
	}
}

func TestWithRetryExhaustsAdmission(t *testing.T) {
	l, _ := testLimiter(1, time.Hour)

	require.True(t, l.Admit("facebook", "tenant-1").Allowed)

	calls := 0
	err := l.WithRetry(context.Background(), "facebook", "tenant-1", func() error {
		calls++
		return nil
	}, 2)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Zero(t, calls, "fn must not run while the window is full")
}

type platformLimitErr struct{}

func (platformLimitErr) Error() string     { return "daily limit reached" }
func (platformLimitErr) RateLimited() bool { return true }

func TestWithRetryRetriesPlatformRateLimit(t *testing.T) {
	l, _ := testLimiter(10, time.Hour)

	calls := 0
	err := l.WithRetry(context.Background(), "facebook", "tenant-1", func() error {
		calls++
		if calls < 3 {
			return platformLimitErr{}
		}
		return nil
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnOtherErrors(t *testing.T) {
	l, _ := testLimiter(10, time.Hour)

	boom := errors.New("permission denied")
	calls := 0
	err := l.WithRetry(context.Background(), "facebook", "tenant-1", func() error {
		calls++
		return boom
	}, 3)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestWithRetryHonoursContext(t *testing.T) {
	l, _ := testLimiter(10, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.WithRetry(ctx, "facebook", "tenant-1", func() error { return nil }, 3)
	assert.ErrorIs(t, err, context.Canceled)
}

// ABOUTME: Tests for per-IP failure counting and wall-clock lockout.
// ABOUTME: Uses an injected clock so windows can be crossed instantly.

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter() (*RateLimiter, *time.Time) {
	r := NewRateLimiter(3, 30*time.Second, 60*time.Second, nil)
	now := time.Now()
	r.now = func() time.Time { return now }
	return r, &now
}

func TestLockoutAfterThreshold(t *testing.T) {
	r, _ := newTestLimiter()

	assert.Zero(t, r.Check("1.2.3.4"))
	assert.False(t, r.RecordFailure("1.2.3.4"))
	assert.False(t, r.RecordFailure("1.2.3.4"))
	assert.Zero(t, r.Check("1.2.3.4"), "not locked before the threshold")

	assert.True(t, r.RecordFailure("1.2.3.4"), "third failure locks out")
	remaining := r.Check("1.2.3.4")
	assert.Greater(t, remaining, 29*time.Second)
}

func TestLockoutExpires(t *testing.T) {
	r, now := newTestLimiter()

	for range 3 {
		r.RecordFailure("1.2.3.4")
	}
	assert.NotZero(t, r.Check("1.2.3.4"))

	*now = now.Add(31 * time.Second)
	assert.Zero(t, r.Check("1.2.3.4"), "lockout lifted after the window")
	assert.False(t, r.RecordFailure("1.2.3.4"), "counter restarted")
}

func TestFailureWindowResets(t *testing.T) {
	r, now := newTestLimiter()

	r.RecordFailure("1.2.3.4")
	r.RecordFailure("1.2.3.4")

	*now = now.Add(61 * time.Second)
	assert.False(t, r.RecordFailure("1.2.3.4"), "stale failures do not count toward lockout")
	assert.Zero(t, r.Check("1.2.3.4"))
}

func TestIPsTrackedIndependently(t *testing.T) {
	r, _ := newTestLimiter()

	for range 3 {
		r.RecordFailure("1.2.3.4")
	}
	assert.NotZero(t, r.Check("1.2.3.4"))
	assert.Zero(t, r.Check("5.6.7.8"))
	assert.False(t, r.RecordFailure("5.6.7.8"))
}

func TestClearAfterSuccess(t *testing.T) {
	r, _ := newTestLimiter()

	r.RecordFailure("1.2.3.4")
	r.RecordFailure("1.2.3.4")
	r.Clear("1.2.3.4")

	assert.False(t, r.RecordFailure("1.2.3.4"), "cleared IP starts from zero")
}

func TestDefaultsApplied(t *testing.T) {
	r := NewRateLimiter(0, 0, 0, nil)
	assert.Equal(t, DefaultMaxFailures, r.maxFailures)
	assert.Equal(t, DefaultLockout, r.lockout)
	assert.Equal(t, DefaultFailureWindow, r.window)
}

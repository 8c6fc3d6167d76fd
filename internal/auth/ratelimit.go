// ABOUTME: Per-IP failure tracking with time-boxed lockout.
// ABOUTME: Shared across connections so reconnecting never resets a lockout.

package auth

import (
	"log/slog"
	"sync"
	"time"
)

// Default thresholds for code-verification failures.
const (
	DefaultMaxFailures   = 3
	DefaultLockout       = 30 * time.Second
	DefaultFailureWindow = 60 * time.Second
)

// attempt tracks consecutive failures from one remote address.
type attempt struct {
	failures     int
	firstFailure time.Time
	lockoutUntil time.Time
}

// RateLimiter counts verification failures per remote IP and locks an IP
// out for a fixed duration once it exceeds the threshold. Lockout is
// anchored to wall-clock time, so a new connection from the same IP stays
// locked until the window passes.
type RateLimiter struct {
	mu          sync.Mutex
	attempts    map[string]*attempt
	maxFailures int
	lockout     time.Duration
	window      time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewRateLimiter creates a limiter. Zero values fall back to the defaults.
func NewRateLimiter(maxFailures int, lockout, window time.Duration, logger *slog.Logger) *RateLimiter {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	if lockout <= 0 {
		lockout = DefaultLockout
	}
	if window <= 0 {
		window = DefaultFailureWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		attempts:    make(map[string]*attempt),
		maxFailures: maxFailures,
		lockout:     lockout,
		window:      window,
		logger:      logger.With("component", "ratelimit"),
		now:         time.Now,
	}
}

// Check returns the remaining lockout duration for ip, or zero if the IP
// may attempt verification. Expired failure windows and lockouts are reset
// as a side effect.
func (r *RateLimiter) Check(ip string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attempts[ip]
	if !ok {
		return 0
	}
	now := r.now()

	if now.Sub(a.firstFailure) > r.window && a.lockoutUntil.IsZero() {
		delete(r.attempts, ip)
		return 0
	}
	if !a.lockoutUntil.IsZero() {
		if now.Before(a.lockoutUntil) {
			remaining := a.lockoutUntil.Sub(now)
			r.logger.Debug("ip is locked out", "ip", ip, "remaining", remaining)
			return remaining
		}
		delete(r.attempts, ip)
	}
	return 0
}

// RecordFailure counts one failed attempt from ip and reports whether the
// IP is now locked out.
func (r *RateLimiter) RecordFailure(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	a, ok := r.attempts[ip]
	if !ok || now.Sub(a.firstFailure) > r.window {
		a = &attempt{firstFailure: now}
		r.attempts[ip] = a
	}

	a.failures++
	if a.failures >= r.maxFailures {
		a.lockoutUntil = now.Add(r.lockout)
		r.logger.Warn("lockout triggered",
			"ip", ip,
			"failures", a.failures,
			"lockout", r.lockout)
		return true
	}
	r.logger.Debug("failure recorded", "ip", ip, "failures", a.failures, "max", r.maxFailures)
	return false
}

// Clear drops failure tracking for ip after a successful verification.
func (r *RateLimiter) Clear(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, ip)
}

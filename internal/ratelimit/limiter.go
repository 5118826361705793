// Package ratelimit implements a sliding-window invocation limiter keyed by
// (session, tool). State is process-wide: construct one Limiter at startup
// and hand it to the security gate.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"toolgate/internal/logging"
)

// Denied reports a rejected check with a hint for when to retry.
type Denied struct {
	Session    string
	Tool       string
	RetryAfter time.Duration
}

func (d *Denied) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s/%s, retry after %v", d.Session, d.Tool, d.RetryAfter)
}

type key struct {
	session string
	tool    string
}

// Limiter tracks invocation timestamps per (session, tool) pair in a
// trailing window. Expired timestamps are pruned lazily on every check;
// Sweep removes keys with nothing left so the store stays bounded in the
// number of distinct pairs seen.
type Limiter struct {
	mu      sync.Mutex
	windows map[key][]time.Time
	now     func() time.Time
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		windows: make(map[key][]time.Time),
		now:     time.Now,
	}
}

// Check records one invocation if the (session, tool) pair is under limit
// within the trailing window. Returns *Denied with a retry hint otherwise.
// All locking is confined to this synchronous path.
func (l *Limiter) Check(session, tool string, limit int, window time.Duration) error {
	if limit <= 0 || window <= 0 {
		return nil // unlimited
	}

	now := l.now()
	cutoff := now.Add(-window)
	k := key{session: session, tool: tool}

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.windows[k]

	// Drop expired timestamps in place. Stamps are appended in order, so the
	// survivors are a suffix.
	keep := 0
	for keep < len(stamps) && !stamps[keep].After(cutoff) {
		keep++
	}
	stamps = stamps[keep:]

	if len(stamps) < limit {
		l.windows[k] = append(stamps, now)
		return nil
	}

	l.windows[k] = stamps
	retryAfter := stamps[0].Add(window).Sub(now)
	if retryAfter < time.Millisecond {
		retryAfter = time.Millisecond
	}
	logging.RateLimit("denied %s/%s: %d calls in window, retry after %v", session, tool, len(stamps), retryAfter)
	return &Denied{Session: session, Tool: tool, RetryAfter: retryAfter}
}

// Remaining returns how many invocations are left in the current window
// without recording one.
func (l *Limiter) Remaining(session, tool string, limit int, window time.Duration) int {
	if limit <= 0 || window <= 0 {
		return limit
	}

	cutoff := l.now().Add(-window)
	k := key{session: session, tool: tool}

	l.mu.Lock()
	defer l.mu.Unlock()

	live := 0
	for _, ts := range l.windows[k] {
		if ts.After(cutoff) {
			live++
		}
	}
	if live >= limit {
		return 0
	}
	return limit - live
}

// Clear removes all windows belonging to a session. Call at session teardown.
func (l *Limiter) Clear(session string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for k := range l.windows {
		if k.session == session {
			delete(l.windows, k)
		}
	}
	logging.RateLimitDebug("cleared windows for session %s", session)
}

// Sweep removes keys whose newest timestamp is older than maxAge. Returns
// the number of keys removed.
func (l *Limiter) Sweep(maxAge time.Duration) int {
	cutoff := l.now().Add(-maxAge)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, stamps := range l.windows {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.windows, k)
			removed++
		}
	}
	if removed > 0 {
		logging.RateLimitDebug("sweep removed %d idle keys", removed)
	}
	return removed
}

// Len reports the number of tracked (session, tool) pairs.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

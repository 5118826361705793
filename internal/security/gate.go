// Package security composes the per-call authorization checks into a single
// ordered decision. The gate runs the rate limiter first, then the
// permission resolver; the first failing check short-circuits the rest.
// Rate limiting goes first because it is the cheapest check and the one
// most likely to reject an abusive burst.
package security

import (
	"errors"
	"time"

	"toolgate/internal/logging"
	"toolgate/internal/permission"
	"toolgate/internal/ratelimit"
)

// Reason identifies why the gate denied a call.
type Reason string

const (
	// ReasonRateLimited means the (session, tool) pair exceeded its window.
	ReasonRateLimited Reason = "rate_limited"

	// ReasonPermissionDenied means the session's tier is below the tool's
	// required tier and no consent was given.
	ReasonPermissionDenied Reason = "permission_denied"
)

// Decision is the outcome of the gate for one call. Produced fresh per
// call and never persisted.
type Decision struct {
	// Allowed reports whether the call may proceed.
	Allowed bool

	// Reason is set when Allowed is false.
	Reason Reason

	// RetryAfter is set for rate-limit denials: how long until the next
	// attempt can succeed.
	RetryAfter time.Duration

	// Err carries the underlying typed denial for errors.As inspection.
	Err error
}

// Gate holds the shared rate limiter and the permission table. One gate
// instance is constructed at startup and shared by all concurrent calls.
type Gate struct {
	limiter  *ratelimit.Limiter
	resolver *permission.Resolver
}

// NewGate builds a gate around the given limiter and resolver.
func NewGate(limiter *ratelimit.Limiter, resolver *permission.Resolver) *Gate {
	return &Gate{limiter: limiter, resolver: resolver}
}

// Check runs the ordered security checks for one tool call. All checks
// are synchronous and in-memory; the gate never blocks on I/O.
func (g *Gate) Check(sessionID, toolName string, granted permission.Tier, consented map[string]bool) Decision {
	// 1. Rate limit. Applies even to consented tools; consent bypasses
	// the tier comparison, not the invocation budget.
	rl := g.resolver.LimitFor(toolName)
	if err := g.limiter.Check(sessionID, toolName, rl.Limit, rl.Window); err != nil {
		var denied *ratelimit.Denied
		retryAfter := time.Duration(0)
		if errors.As(err, &denied) {
			retryAfter = denied.RetryAfter
		}
		logging.SecurityWarn("Rate limit denied %s for session %s (retry in %v)", toolName, sessionID, retryAfter)
		return Decision{Reason: ReasonRateLimited, RetryAfter: retryAfter, Err: err}
	}

	// 2. Permission tier, with the consent override applied inside the
	// resolver.
	if err := g.resolver.Check(toolName, granted, consented); err != nil {
		logging.SecurityWarn("Permission denied %s for session %s (granted=%s)", toolName, sessionID, granted)
		return Decision{Reason: ReasonPermissionDenied, Err: err}
	}

	logging.SecurityDebug("Allowed %s for session %s", toolName, sessionID)
	return Decision{Allowed: true}
}

// ClearSession drops the session's rate-limit state. Called at session
// teardown.
func (g *Gate) ClearSession(sessionID string) {
	g.limiter.Clear(sessionID)
}

// Sweep removes stale rate-limit keys and returns how many were dropped.
// Intended to run on a periodic ticker.
func (g *Gate) Sweep(maxAge time.Duration) int {
	return g.limiter.Sweep(maxAge)
}

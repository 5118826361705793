package security

import (
	"errors"
	"testing"
	"time"

	"toolgate/internal/permission"
	"toolgate/internal/ratelimit"
)

func newTestGate() *Gate {
	return NewGate(ratelimit.NewLimiter(), permission.NewResolver())
}

func TestGateAllowsWithinTierAndLimit(t *testing.T) {
	gate := newTestGate()

	d := gate.Check("s1", "read_file", permission.TierReadOnly, nil)
	if !d.Allowed {
		t.Fatalf("decision = %+v, want allowed", d)
	}
	if d.Reason != "" || d.Err != nil {
		t.Errorf("allowed decision carries denial fields: %+v", d)
	}
}

func TestGateDeniesInsufficientTier(t *testing.T) {
	gate := newTestGate()

	d := gate.Check("s1", "write_file", permission.TierReadOnly, nil)
	if d.Allowed {
		t.Fatal("write_file allowed for read-only session")
	}
	if d.Reason != ReasonPermissionDenied {
		t.Errorf("reason = %q, want %q", d.Reason, ReasonPermissionDenied)
	}
	var denial *permission.Denial
	if !errors.As(d.Err, &denial) {
		t.Fatalf("Err = %v, want *permission.Denial", d.Err)
	}
	if denial.Required != permission.TierWrite || denial.Granted != permission.TierReadOnly {
		t.Errorf("denial = %+v", denial)
	}
}

func TestGateConsentOverridesTier(t *testing.T) {
	gate := newTestGate()

	consented := map[string]bool{"web_fetch": true}
	d := gate.Check("s1", "web_fetch", permission.TierReadOnly, consented)
	if !d.Allowed {
		t.Fatalf("consented privileged tool denied: %+v", d)
	}
}

func TestGateRateLimitRunsFirst(t *testing.T) {
	// Exhaust a tight custom limit, then confirm even a consented call
	// is rejected with the rate-limit reason, not the permission one.
	resolver := permission.NewResolverWithTable(
		map[string]permission.Tier{"web_fetch": permission.TierPrivileged},
		map[permission.Tier]permission.RateLimit{
			permission.TierPrivileged: {Limit: 2, Window: time.Minute},
		},
	)
	gate := NewGate(ratelimit.NewLimiter(), resolver)
	consented := map[string]bool{"web_fetch": true}

	for i := 0; i < 2; i++ {
		if d := gate.Check("s1", "web_fetch", permission.TierReadOnly, consented); !d.Allowed {
			t.Fatalf("call %d denied: %+v", i+1, d)
		}
	}

	d := gate.Check("s1", "web_fetch", permission.TierReadOnly, consented)
	if d.Allowed {
		t.Fatal("third call within window allowed, want rate limit denial")
	}
	if d.Reason != ReasonRateLimited {
		t.Errorf("reason = %q, want %q", d.Reason, ReasonRateLimited)
	}
	if d.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want > 0", d.RetryAfter)
	}
}

func TestGateSessionsIndependent(t *testing.T) {
	resolver := permission.NewResolverWithTable(
		map[string]permission.Tier{"grep": permission.TierReadOnly},
		map[permission.Tier]permission.RateLimit{
			permission.TierReadOnly: {Limit: 1, Window: time.Minute},
		},
	)
	gate := NewGate(ratelimit.NewLimiter(), resolver)

	if d := gate.Check("s1", "grep", permission.TierReadOnly, nil); !d.Allowed {
		t.Fatalf("s1 first call denied: %+v", d)
	}
	if d := gate.Check("s1", "grep", permission.TierReadOnly, nil); d.Allowed {
		t.Fatal("s1 second call allowed past limit 1")
	}
	if d := gate.Check("s2", "grep", permission.TierReadOnly, nil); !d.Allowed {
		t.Fatalf("s2 affected by s1's window: %+v", d)
	}
}

func TestGateClearSession(t *testing.T) {
	resolver := permission.NewResolverWithTable(
		map[string]permission.Tier{"grep": permission.TierReadOnly},
		map[permission.Tier]permission.RateLimit{
			permission.TierReadOnly: {Limit: 1, Window: time.Minute},
		},
	)
	gate := NewGate(ratelimit.NewLimiter(), resolver)

	gate.Check("s1", "grep", permission.TierReadOnly, nil)
	if d := gate.Check("s1", "grep", permission.TierReadOnly, nil); d.Allowed {
		t.Fatal("second call allowed past limit 1")
	}

	gate.ClearSession("s1")
	if d := gate.Check("s1", "grep", permission.TierReadOnly, nil); !d.Allowed {
		t.Fatalf("call after ClearSession denied: %+v", d)
	}
}

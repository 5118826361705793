package permission

import (
	"time"

	"toolgate/internal/logging"
)

// defaultToolTiers classifies the built-in tool catalog.
// Unknown tools default to TierReadOnly: classification fails open, access
// control still applies through the granted-tier comparison.
var defaultToolTiers = map[string]Tier{
	"read_file":   TierReadOnly,
	"list_dir":    TierReadOnly,
	"grep":        TierReadOnly,
	"write_file":  TierWrite,
	"edit_file":   TierWrite,
	"delete_file": TierWrite,
	"run_command": TierExecute,
	"git":         TierExecute,
	"web_fetch":   TierPrivileged,
}

// RateLimit pairs an invocation budget with its trailing window.
type RateLimit struct {
	Limit  int
	Window time.Duration
}

// defaultTierLimits seeds the rate limiter with per-tier budgets.
var defaultTierLimits = map[Tier]RateLimit{
	TierReadOnly:   {Limit: 100, Window: time.Minute},
	TierWrite:      {Limit: 30, Window: time.Minute},
	TierExecute:    {Limit: 10, Window: time.Minute},
	TierPrivileged: {Limit: 5, Window: time.Minute},
}

// Denial reports a failed permission check.
type Denial struct {
	Tool     string
	Required Tier
	Granted  Tier
}

func (d *Denial) Error() string {
	return "permission denied for " + d.Tool + ": requires " + d.Required.String() +
		", session granted " + d.Granted.String()
}

// Resolver maps tool names to required tiers. The table is fixed at
// construction; concurrent reads need no locking.
type Resolver struct {
	toolTiers  map[string]Tier
	tierLimits map[Tier]RateLimit
}

// NewResolver returns a resolver with the default classification table.
func NewResolver() *Resolver {
	return NewResolverWithTable(nil, nil)
}

// NewResolverWithTable overlays custom tool→tier and tier→limit entries on
// the defaults. Nil maps keep the defaults unchanged.
func NewResolverWithTable(toolTiers map[string]Tier, tierLimits map[Tier]RateLimit) *Resolver {
	tiers := make(map[string]Tier, len(defaultToolTiers)+len(toolTiers))
	for name, tier := range defaultToolTiers {
		tiers[name] = tier
	}
	for name, tier := range toolTiers {
		tiers[name] = tier
	}

	limits := make(map[Tier]RateLimit, len(defaultTierLimits))
	for tier, rl := range defaultTierLimits {
		limits[tier] = rl
	}
	for tier, rl := range tierLimits {
		limits[tier] = rl
	}

	return &Resolver{toolTiers: tiers, tierLimits: limits}
}

// RequiredTier returns the tier a tool needs. Unknown tools are classified
// TierReadOnly.
func (r *Resolver) RequiredTier(toolName string) Tier {
	if tier, ok := r.toolTiers[toolName]; ok {
		return tier
	}
	logging.SecurityDebug("unclassified tool %s, defaulting to read_only tier", toolName)
	return TierReadOnly
}

// Check verifies that the granted tier covers the tool's required tier, or
// that the tool was explicitly consented to.
func (r *Resolver) Check(toolName string, granted Tier, consented map[string]bool) error {
	required := r.RequiredTier(toolName)
	if consented[toolName] {
		logging.Security("consent override for tool %s (required=%s)", toolName, required)
		return nil
	}
	if required <= granted {
		return nil
	}
	return &Denial{Tool: toolName, Required: required, Granted: granted}
}

// LimitFor returns the rate limit seeded for a tool's tier.
func (r *Resolver) LimitFor(toolName string) RateLimit {
	return r.tierLimits[r.RequiredTier(toolName)]
}

// TiersForTools returns a copy of the classification table.
func (r *Resolver) TiersForTools() map[string]Tier {
	out := make(map[string]Tier, len(r.toolTiers))
	for name, tier := range r.toolTiers {
		out[name] = tier
	}
	return out
}

// TierLimits returns a copy of the tier→rate-limit table.
func (r *Resolver) TierLimits() map[Tier]RateLimit {
	out := make(map[Tier]RateLimit, len(r.tierLimits))
	for tier, rl := range r.tierLimits {
		out[tier] = rl
	}
	return out
}

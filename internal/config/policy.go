// Package config loads the deployment security policy: tool tiers, rate
// limits, command lists, sanitizer fields, audit capacity and execution
// budgets. Policy files are YAML; a missing file means defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"toolgate/internal/command"
	"toolgate/internal/permission"
	"toolgate/internal/sanitize"
)

// Policy holds all toolgate configuration.
type Policy struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Security tiers and rate limits
	Security SecurityPolicy `yaml:"security"`

	// Command allow/deny lists
	Commands CommandPolicy `yaml:"commands"`

	// Output sanitizer
	Sanitizer SanitizerPolicy `yaml:"sanitizer"`

	// Audit trail
	Audit AuditPolicy `yaml:"audit"`

	// Execution budgets
	Execution ExecutionPolicy `yaml:"execution"`
}

// SecurityPolicy configures the permission resolver and rate limiter.
type SecurityPolicy struct {
	// ToolTiers maps tool names to required tiers
	// (read_only, write, execute, privileged).
	ToolTiers map[string]string `yaml:"tool_tiers"`

	// TierLimits overrides the per-tier rate limits.
	TierLimits map[string]TierLimit `yaml:"tier_limits"`
}

// TierLimit is one tier's invocation budget.
type TierLimit struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

// CommandPolicy extends the command validator's lists.
type CommandPolicy struct {
	ExtraAllowed []string `yaml:"extra_allowed"`
	ExtraBlocked []string `yaml:"extra_blocked"`
}

// SanitizerPolicy extends the sensitive-field list.
type SanitizerPolicy struct {
	ExtraFields []string `yaml:"extra_fields"`
}

// AuditPolicy configures the audit trail.
type AuditPolicy struct {
	// Capacity is the ring buffer size (default 10000).
	Capacity int `yaml:"capacity"`

	// DatabasePath enables the persistent SQLite sink when set.
	DatabasePath string `yaml:"database_path"`
}

// ExecutionPolicy configures per-call budgets.
type ExecutionPolicy struct {
	// DefaultTimeout is the per-call wall-clock budget.
	DefaultTimeout string `yaml:"default_timeout"`

	// MaxParallel caps in-flight calls in parallel batches.
	MaxParallel int `yaml:"max_parallel"`

	// MaxOutputBytes caps a single call's result size.
	MaxOutputBytes int `yaml:"max_output_bytes"`

	// SweepInterval is how often stale rate-limit keys are swept.
	SweepInterval string `yaml:"sweep_interval"`
}

// DefaultPolicy returns the default configuration.
func DefaultPolicy() *Policy {
	return &Policy{
		Name:    "toolgate",
		Version: "1.0.0",

		Security: SecurityPolicy{},

		Audit: AuditPolicy{
			Capacity: 10000,
		},

		Execution: ExecutionPolicy{
			DefaultTimeout: "30s",
			MaxParallel:    8,
			MaxOutputBytes: 4 << 20,
			SweepInterval:  "5m",
		},
	}
}

// Load loads a policy from a YAML file, applying defaults for anything
// the file omits. A missing file returns the defaults.
func Load(path string) (*Policy, error) {
	policy := DefaultPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			policy.applyEnvOverrides()
			return policy, nil
		}
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}

	if err := yaml.Unmarshal(data, policy); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	policy.applyEnvOverrides()
	if err := policy.validate(); err != nil {
		return nil, err
	}

	return policy, nil
}

// applyEnvOverrides lets deployment environments override file settings
// without editing the policy. Invalid values fall through to validate.
func (p *Policy) applyEnvOverrides() {
	if v := os.Getenv("TOOLGATE_AUDIT_DB"); v != "" {
		p.Audit.DatabasePath = v
	}
	if v := os.Getenv("TOOLGATE_DEFAULT_TIMEOUT"); v != "" {
		p.Execution.DefaultTimeout = v
	}
	if v := os.Getenv("TOOLGATE_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Execution.MaxParallel = n
		}
	}
}

// Save writes the policy to a YAML file.
func (p *Policy) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create policy directory: %w", err)
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write policy: %w", err)
	}

	return nil
}

// validate rejects unusable values before any component is built from
// the policy.
func (p *Policy) validate() error {
	for tool, tier := range p.Security.ToolTiers {
		if _, err := permission.ParseTier(tier); err != nil {
			return fmt.Errorf("tool %s: %w", tool, err)
		}
	}
	for tier, limit := range p.Security.TierLimits {
		if _, err := permission.ParseTier(tier); err != nil {
			return err
		}
		if limit.Window != "" {
			if _, err := time.ParseDuration(limit.Window); err != nil {
				return fmt.Errorf("tier %s window: %w", tier, err)
			}
		}
	}
	if p.Execution.DefaultTimeout != "" {
		if _, err := time.ParseDuration(p.Execution.DefaultTimeout); err != nil {
			return fmt.Errorf("default_timeout: %w", err)
		}
	}
	if p.Execution.SweepInterval != "" {
		if _, err := time.ParseDuration(p.Execution.SweepInterval); err != nil {
			return fmt.Errorf("sweep_interval: %w", err)
		}
	}
	return nil
}

// BuildResolver constructs the permission resolver from the policy
// overlay. Tools and tiers the policy does not mention keep their
// built-in defaults.
func (p *Policy) BuildResolver() (*permission.Resolver, error) {
	toolTiers := make(map[string]permission.Tier, len(p.Security.ToolTiers))
	for tool, name := range p.Security.ToolTiers {
		tier, err := permission.ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", tool, err)
		}
		toolTiers[tool] = tier
	}

	tierLimits := make(map[permission.Tier]permission.RateLimit, len(p.Security.TierLimits))
	for name, tl := range p.Security.TierLimits {
		tier, err := permission.ParseTier(name)
		if err != nil {
			return nil, err
		}
		window := time.Minute
		if tl.Window != "" {
			window, err = time.ParseDuration(tl.Window)
			if err != nil {
				return nil, fmt.Errorf("tier %s window: %w", name, err)
			}
		}
		tierLimits[tier] = permission.RateLimit{Limit: tl.Limit, Window: window}
	}

	if len(toolTiers) == 0 && len(tierLimits) == 0 {
		return permission.NewResolver(), nil
	}
	return permission.NewResolverWithTable(toolTiers, tierLimits), nil
}

// BuildCommandValidator constructs the command validator with the
// policy's extra lists applied.
func (p *Policy) BuildCommandValidator() *command.Validator {
	if len(p.Commands.ExtraAllowed) == 0 && len(p.Commands.ExtraBlocked) == 0 {
		return command.NewValidator()
	}
	return command.NewValidatorWithLists(p.Commands.ExtraAllowed, p.Commands.ExtraBlocked)
}

// BuildSanitizer constructs the output sanitizer with the policy's extra
// sensitive fields.
func (p *Policy) BuildSanitizer() *sanitize.Sanitizer {
	return sanitize.NewSanitizer(p.Sanitizer.ExtraFields...)
}

// DefaultTimeout returns the parsed per-call budget.
func (p *Policy) DefaultTimeout() time.Duration {
	d, err := time.ParseDuration(p.Execution.DefaultTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// SweepInterval returns the parsed rate-limit sweep cadence.
func (p *Policy) SweepInterval() time.Duration {
	d, err := time.ParseDuration(p.Execution.SweepInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"toolgate/internal/permission"
)

func TestDefaultPolicy(t *testing.T) {
	policy := DefaultPolicy()
	if policy.Name != "toolgate" {
		t.Errorf("Name = %s", policy.Name)
	}
	if policy.Audit.Capacity != 10000 {
		t.Errorf("audit capacity = %d, want 10000", policy.Audit.Capacity)
	}
	if policy.DefaultTimeout() != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", policy.DefaultTimeout())
	}
}

func TestPolicySaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")

	policy := DefaultPolicy()
	policy.Security.ToolTiers = map[string]string{"deploy": "privileged"}
	policy.Execution.DefaultTimeout = "10s"

	if err := policy.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Security.ToolTiers["deploy"] != "privileged" {
		t.Errorf("tool tiers = %v", loaded.Security.ToolTiers)
	}
	if loaded.DefaultTimeout() != 10*time.Second {
		t.Errorf("default timeout = %v, want 10s", loaded.DefaultTimeout())
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	policy, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if policy.Name != "toolgate" || policy.Audit.Capacity != 10000 {
		t.Errorf("policy = %+v, want defaults", policy)
	}
}

func TestLoadRejectsBadTier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	os.WriteFile(path, []byte("security:\n  tool_tiers:\n    x: godmode\n"), 0o644)

	if _, err := Load(path); err == nil {
		t.Error("unknown tier accepted")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	os.WriteFile(path, []byte("execution:\n  default_timeout: whenever\n"), 0o644)

	if _, err := Load(path); err == nil {
		t.Error("malformed duration accepted")
	}
}

func TestBuildResolver(t *testing.T) {
	policy := DefaultPolicy()
	policy.Security.ToolTiers = map[string]string{"deploy": "privileged"}
	policy.Security.TierLimits = map[string]TierLimit{
		"privileged": {Limit: 2, Window: "30s"},
	}

	resolver, err := policy.BuildResolver()
	if err != nil {
		t.Fatalf("BuildResolver failed: %v", err)
	}
	if got := resolver.RequiredTier("deploy"); got != permission.TierPrivileged {
		t.Errorf("deploy tier = %v", got)
	}
	limit := resolver.LimitFor("deploy")
	if limit.Limit != 2 || limit.Window != 30*time.Second {
		t.Errorf("deploy limit = %+v", limit)
	}
}

func TestBuildCommandValidator(t *testing.T) {
	policy := DefaultPolicy()
	policy.Commands.ExtraAllowed = []string{"terraform"}
	policy.Commands.ExtraBlocked = []string{"curl"}

	v := policy.BuildCommandValidator()
	if err := v.ValidateCommand("terraform"); err != nil {
		t.Errorf("extra allowed command rejected: %v", err)
	}
	if err := v.ValidateCommand("curl"); err == nil {
		t.Error("extra blocked command accepted")
	}
}

func TestBuildSanitizer(t *testing.T) {
	policy := DefaultPolicy()
	policy.Sanitizer.ExtraFields = []string{"internal_id"}

	s := policy.BuildSanitizer()
	out := s.Sanitize(map[string]any{"internal_id": "12345"}).(map[string]any)
	if out["internal_id"] == "12345" {
		t.Error("extra sensitive field not redacted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TOOLGATE_AUDIT_DB", "/tmp/override.db")
	t.Setenv("TOOLGATE_DEFAULT_TIMEOUT", "45s")
	t.Setenv("TOOLGATE_MAX_PARALLEL", "3")

	policy, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if policy.Audit.DatabasePath != "/tmp/override.db" {
		t.Errorf("DatabasePath = %q", policy.Audit.DatabasePath)
	}
	if policy.DefaultTimeout() != 45*time.Second {
		t.Errorf("DefaultTimeout = %v", policy.DefaultTimeout())
	}
	if policy.Execution.MaxParallel != 3 {
		t.Errorf("MaxParallel = %d", policy.Execution.MaxParallel)
	}
}

func TestEnvOverrideInvalidParallelIgnored(t *testing.T) {
	t.Setenv("TOOLGATE_MAX_PARALLEL", "not-a-number")

	policy, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if policy.Execution.MaxParallel != 8 {
		t.Errorf("MaxParallel = %d, want default 8", policy.Execution.MaxParallel)
	}
}

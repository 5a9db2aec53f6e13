package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zen-systems/pipewarden/pkg/killswitch"
	"github.com/zen-systems/pipewarden/pkg/schema"
)

const sampleConfig = `
api_keys:
  anthropic: file-anthropic-key
logging:
  level: debug
  format: console
ledger:
  path: /var/lib/pipewarden/audit.db
  retention_days: 90
policy:
  confidence_threshold: 0.9
  allowed_dependencies: [requests, stdlib]
  strict_dependencies: true
  max_attempts: 5
capabilities:
  dev: [read, write]
  auditor: [read]
approvals:
  - stage: deploy
    environment: prod
    required_approvals: 3
    deadline: 48h
  - environment: staging
    required_approvals: 2
    deadline: 6h
kill_switch:
  pending_approvals: reject
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileReadsAllSections(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.LogFormat != "console" {
		t.Fatalf("logging = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.LedgerPath != "/var/lib/pipewarden/audit.db" || cfg.RetentionDays != 90 {
		t.Fatalf("ledger = %q/%d", cfg.LedgerPath, cfg.RetentionDays)
	}
	if cfg.ConfidenceThreshold != 0.9 || !cfg.StrictDependencies || cfg.MaxAttempts != 5 {
		t.Fatalf("policy section lost: %+v", cfg)
	}
	if cfg.KillSwitchPending != killswitch.PendingReject {
		t.Fatalf("kill switch pending = %q", cfg.KillSwitchPending)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	t.Setenv("PIPEWARDEN_LOG_LEVEL", "warn")

	cfg, err := LoadFile(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AnthropicAPIKey != "env-key" {
		t.Fatalf("env var must win, got %q", cfg.AnthropicAPIKey)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("log level = %q", cfg.LogLevel)
	}
}

func TestMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.KillSwitchPending != killswitch.PendingHold {
		t.Fatalf("default pending behavior = %q, want hold", cfg.KillSwitchPending)
	}
	if cfg.LedgerPath == "" {
		t.Fatalf("ledger path must default under the config dir")
	}
	if !cfg.HasInvoker("mock") {
		t.Fatalf("mock invoker is always available")
	}
}

func TestBuildRegistryFromConfiguredRules(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	registry, err := cfg.BuildRegistry()
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	if !registry.IsPermitted("auditor", schema.VerbRead) {
		t.Fatalf("configured role lost")
	}
	if registry.IsPermitted("dev", schema.VerbDeploy) {
		t.Fatalf("configured rules replace defaults wholesale")
	}
}

func TestBuildRegistryRejectsUnknownVerb(t *testing.T) {
	cfg := &Config{Capabilities: map[string][]string{"dev": {"teleport"}}}
	if _, err := cfg.BuildRegistry(); err == nil {
		t.Fatalf("unknown verb in config must be a load error")
	}
}

func TestBuildPolicyTableLayersOverDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	table, err := cfg.BuildPolicyTable()
	if err != nil {
		t.Fatalf("build table: %v", err)
	}
	if got := table.For(schema.StageDeploy, schema.EnvProd).RequiredApprovals; got != 3 {
		t.Fatalf("prod deploy approvals = %d, want 3", got)
	}
	if got := table.For(schema.StageDev, schema.EnvStaging).RequiredApprovals; got != 2 {
		t.Fatalf("staging default approvals = %d, want 2", got)
	}
	// Untouched defaults survive.
	if got := table.For(schema.StageDev, schema.EnvDev).RequiredApprovals; got != 0 {
		t.Fatalf("dev default approvals = %d, want 0", got)
	}
}

func TestBuildPolicyTableRejectsBadRules(t *testing.T) {
	cfg := &Config{Approvals: []ApprovalRule{{Stage: "deploy", Environment: "qa", RequiredApprovals: 1}}}
	if _, err := cfg.BuildPolicyTable(); err == nil {
		t.Fatalf("unknown environment must fail")
	}
	cfg = &Config{Approvals: []ApprovalRule{{Stage: "review", Environment: "prod", RequiredApprovals: 1}}}
	if _, err := cfg.BuildPolicyTable(); err == nil {
		t.Fatalf("unknown stage must fail")
	}
	cfg = &Config{Approvals: []ApprovalRule{{Stage: "deploy", Environment: "prod", Deadline: "soon"}}}
	if _, err := cfg.BuildPolicyTable(); err == nil {
		t.Fatalf("unparsable deadline must fail")
	}
}

// Package config loads the process configuration: API keys, capability
// rules, approval policies, policy engine settings, ledger location, and
// kill-switch behavior. Environment variables take precedence over the
// file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zen-systems/pipewarden/pkg/approval"
	"github.com/zen-systems/pipewarden/pkg/capability"
	"github.com/zen-systems/pipewarden/pkg/killswitch"
	"github.com/zen-systems/pipewarden/pkg/schema"
)

// Config is the resolved application configuration.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string

	LogLevel  string
	LogFormat string

	LedgerPath    string
	RetentionDays int

	ConfidenceThreshold float64
	AllowedDependencies []string
	RequiredMarkers     []string
	StrictDependencies  bool
	MaxAttempts         int

	Capabilities map[string][]string
	Approvals    []ApprovalRule

	KillSwitchPending killswitch.PendingBehavior

	ConfigDir string
}

// ApprovalRule is one approval policy entry. Stage empty means the rule
// is the environment-wide default.
type ApprovalRule struct {
	Stage             string `yaml:"stage"`
	Environment       string `yaml:"environment"`
	RequiredApprovals int    `yaml:"required_approvals"`
	Deadline          string `yaml:"deadline"`
}

// FileConfig represents the structure of ~/.pipewarden/config.yaml.
type FileConfig struct {
	APIKeys struct {
		Anthropic string `yaml:"anthropic"`
		OpenAI    string `yaml:"openai"`
		Google    string `yaml:"google"`
	} `yaml:"api_keys"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Ledger struct {
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"ledger"`
	Policy struct {
		ConfidenceThreshold float64  `yaml:"confidence_threshold"`
		AllowedDependencies []string `yaml:"allowed_dependencies"`
		RequiredMarkers     []string `yaml:"required_markers"`
		StrictDependencies  bool     `yaml:"strict_dependencies"`
		MaxAttempts         int      `yaml:"max_attempts"`
	} `yaml:"policy"`
	Capabilities map[string][]string `yaml:"capabilities"`
	Approvals    []ApprovalRule      `yaml:"approvals"`
	KillSwitch   struct {
		PendingApprovals string `yaml:"pending_approvals"`
	} `yaml:"kill_switch"`
}

// Load reads configuration from the default config directory.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return LoadFile(filepath.Join(configDir, "config.yaml"))
}

// LoadFile reads configuration from an explicit path. A missing file
// yields defaults; environment variables still apply.
func LoadFile(path string) (*Config, error) {
	fileConfig := loadFileConfig(path)

	cfg := &Config{
		AnthropicAPIKey: getEnvOrDefault("ANTHROPIC_API_KEY", fileConfig.APIKeys.Anthropic),
		OpenAIAPIKey:    getEnvOrDefault("OPENAI_API_KEY", fileConfig.APIKeys.OpenAI),
		GoogleAPIKey:    getEnvOrDefault("GOOGLE_API_KEY", fileConfig.APIKeys.Google),

		LogLevel:  getEnvOrDefault("PIPEWARDEN_LOG_LEVEL", fileConfig.Logging.Level),
		LogFormat: getEnvOrDefault("PIPEWARDEN_LOG_FORMAT", fileConfig.Logging.Format),

		LedgerPath:    getEnvOrDefault("PIPEWARDEN_LEDGER", fileConfig.Ledger.Path),
		RetentionDays: fileConfig.Ledger.RetentionDays,

		ConfidenceThreshold: fileConfig.Policy.ConfidenceThreshold,
		AllowedDependencies: fileConfig.Policy.AllowedDependencies,
		RequiredMarkers:     fileConfig.Policy.RequiredMarkers,
		StrictDependencies:  fileConfig.Policy.StrictDependencies,
		MaxAttempts:         fileConfig.Policy.MaxAttempts,

		Capabilities: fileConfig.Capabilities,
		Approvals:    fileConfig.Approvals,

		ConfigDir: filepath.Dir(path),
	}

	if days := os.Getenv("PIPEWARDEN_RETENTION_DAYS"); days != "" {
		parsed, err := strconv.Atoi(days)
		if err != nil {
			return nil, fmt.Errorf("invalid PIPEWARDEN_RETENTION_DAYS: %w", err)
		}
		cfg.RetentionDays = parsed
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = filepath.Join(cfg.ConfigDir, "audit.db")
	}

	pending := getEnvOrDefault("PIPEWARDEN_KILLSWITCH_PENDING", fileConfig.KillSwitch.PendingApprovals)
	if pending == "" {
		pending = string(killswitch.PendingHold)
	}
	cfg.KillSwitchPending = killswitch.PendingBehavior(pending)
	if !killswitch.IsKnownPendingBehavior(cfg.KillSwitchPending) {
		return nil, fmt.Errorf("unknown kill_switch.pending_approvals value %q", pending)
	}

	return cfg, nil
}

// HasInvoker reports whether the API key for the given provider is set.
func (c *Config) HasInvoker(name string) bool {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	case "mock":
		return true
	default:
		return false
	}
}

// BuildRegistry converts configured capability rules into a registry.
// With no rules configured the shipped defaults apply.
func (c *Config) BuildRegistry() (*capability.Registry, error) {
	if len(c.Capabilities) == 0 {
		return capability.NewRegistry(nil)
	}
	rules := make(map[string][]schema.Verb, len(c.Capabilities))
	for role, verbs := range c.Capabilities {
		converted := make([]schema.Verb, len(verbs))
		for i, verb := range verbs {
			converted[i] = schema.Verb(verb)
		}
		rules[role] = converted
	}
	return capability.NewRegistry(rules)
}

// BuildPolicyTable layers configured approval rules over the defaults.
func (c *Config) BuildPolicyTable() (*approval.PolicyTable, error) {
	table := approval.DefaultPolicyTable()
	for _, rule := range c.Approvals {
		env := schema.Environment(rule.Environment)
		if !schema.IsKnownEnvironment(env) {
			return nil, fmt.Errorf("approval rule: unknown environment %q", rule.Environment)
		}
		ttl := 24 * time.Hour
		if rule.Deadline != "" {
			parsed, err := time.ParseDuration(rule.Deadline)
			if err != nil {
				return nil, fmt.Errorf("approval rule deadline %q: %w", rule.Deadline, err)
			}
			ttl = parsed
		}
		p := approval.Policy{RequiredApprovals: rule.RequiredApprovals, TTL: ttl}

		if rule.Stage == "" {
			table.SetEnvDefault(env, p)
			continue
		}
		kind := schema.StageKind(rule.Stage)
		if !schema.IsKnownStageKind(kind) {
			return nil, fmt.Errorf("approval rule: unknown stage %q", rule.Stage)
		}
		table.Set(kind, env, p)
	}
	return table, nil
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) *FileConfig {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}

	_ = yaml.Unmarshal(data, cfg)
	return cfg
}

func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	configDir := filepath.Join(home, ".pipewarden")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", err
	}
	return configDir, nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/trcoder/trcoder/pkg/permission"
)

// Policy file names inside the config root.
const (
	FileModelStack  = "model-stack.v2.json"
	FileLanePolicy  = "lane-policy.v1.yaml"
	FileRiskPolicy  = "risk-policy.v1.yaml"
	FilePricing     = "pricing.v1.yaml"
	FilePermissions = "permissions.defaults.yaml"
	FileVerifyGates = "verify.gates.yaml"
)

// EnvConfigRoot overrides the default config root (~/.trcoder/config)
const EnvConfigRoot = "TRCODER_CONFIG_ROOT"

// DefaultRoot returns the config root, honoring TRCODER_CONFIG_ROOT
func DefaultRoot() (string, error) {
	if root := os.Getenv(EnvConfigRoot); root != "" {
		return root, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".trcoder", "config"), nil
}

// Load reads and cross-validates every policy file under root. Missing files
// are seeded with defaults first, so a fresh install starts with a working
// policy set.
func Load(root string) (*Config, error) {
	if err := EnsureDefaults(root); err != nil {
		return nil, err
	}

	cfg := &Config{}

	if err := loadJSON(filepath.Join(root, FileModelStack), &cfg.ModelStack); err != nil {
		return nil, err
	}
	if err := loadYAML(filepath.Join(root, FileLanePolicy), &cfg.LanePolicy); err != nil {
		return nil, err
	}
	if err := loadYAML(filepath.Join(root, FileRiskPolicy), &cfg.RiskPolicy); err != nil {
		return nil, err
	}
	if err := loadYAML(filepath.Join(root, FilePricing), &cfg.Pricing); err != nil {
		return nil, err
	}
	if err := loadYAML(filepath.Join(root, FilePermissions), &cfg.Permissions); err != nil {
		return nil, err
	}
	if err := loadYAML(filepath.Join(root, FileVerifyGates), &cfg.VerifyGates); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// EnsureDefaults writes any missing policy file with its default content
func EnsureDefaults(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("failed to create config root: %w", err)
	}

	files := map[string][]byte{
		FileModelStack:  defaultModelStackJSON(),
		FileLanePolicy:  []byte(defaultLanePolicyYAML),
		FileRiskPolicy:  []byte(defaultRiskPolicyYAML),
		FilePricing:     []byte(defaultPricingYAML),
		FilePermissions: []byte(defaultPermissionsYAML),
		FileVerifyGates: []byte(defaultVerifyGatesYAML),
	}

	for name, content := range files {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, content, 0600); err != nil {
			return fmt.Errorf("failed to write default %s: %w", name, err)
		}
	}
	return nil
}

// CompilePermissions builds the glob policy from the loaded rules
func (c *Config) CompilePermissions() (*permission.Policy, error) {
	return permission.NewPolicy(c.Permissions)
}

func loadJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Package config loads and validates codeforge configuration.
// Configuration is read from <project-root>/.forge/config.yaml when
// present, then overridden by environment variables. Each concern has
// its own file in this package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"codeforge/internal/types"
)

// StateDirName is the per-project state directory.
const StateDirName = ".forge"

// Config is the root configuration.
type Config struct {
	Workspace string          `yaml:"workspace"`
	Mode      string          `yaml:"mode"` // direct | concise | deep
	Debug     bool            `yaml:"debug"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Memory    MemoryConfig    `yaml:"memory"`
	Approval  ApprovalConfig  `yaml:"approval"`
	Monitor   MonitorConfig   `yaml:"monitor"`
}

// MonitorConfig configures the optional observability observer.
type MonitorConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // loopback HTTP POST target
}

// Default returns the full default configuration for a workspace.
func Default(workspace string) Config {
	return Config{
		Workspace: workspace,
		Mode:      string(types.ModeConcise),
		LLM:       DefaultLLMConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Memory:    DefaultMemoryConfig(workspace),
		Approval:  DefaultApprovalConfig(),
		Monitor: MonitorConfig{
			Endpoint: "http://127.0.0.1:4317/events",
		},
	}
}

// Load reads config.yaml from the workspace state dir (if present),
// applies environment overrides and validates the result.
func Load(workspace string) (Config, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return Config{}, types.NewAgentError(types.KindConfig, "config", "invalid workspace path", err)
	}

	cfg := Default(abs)

	path := filepath.Join(abs, StateDirName, "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, types.NewAgentError(types.KindConfig, "config", fmt.Sprintf("failed to parse %s", path), err)
		}
		cfg.Workspace = abs
	} else if !os.IsNotExist(err) {
		return Config{}, types.NewAgentError(types.KindConfig, "config", fmt.Sprintf("failed to read %s", path), err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides config fields from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("APPROVAL_MODE"); v != "" {
		c.Approval.Mode = v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		c.Debug = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ENABLE_MONITORING"); v != "" {
		c.Monitor.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("FORGE_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("FORGE_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("FORGE_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("FORGE_MODE"); v != "" {
		c.Mode = v
	}
}

// Validate checks required fields and enum values.
func (c *Config) Validate() error {
	if !types.ValidMode(types.Mode(c.Mode)) {
		return types.NewAgentError(types.KindConfig, "config",
			fmt.Sprintf("invalid mode %q (want direct, concise or deep)", c.Mode), nil)
	}
	if !validApprovalMode(c.Approval.Mode) {
		return types.NewAgentError(types.KindConfig, "config",
			fmt.Sprintf("invalid approval mode %q (want default, autoEdit or yolo)", c.Approval.Mode), nil)
	}
	if c.LLM.Provider == "" {
		return types.NewAgentError(types.KindConfig, "config", "llm provider required", nil)
	}
	return nil
}

// StateDir returns the per-project state directory path.
func (c *Config) StateDir() string {
	return filepath.Join(c.Workspace, StateDirName)
}

// DatabasePath returns the embedded store path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.StateDir(), "store.db")
}

// LockPath returns the advisory lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.StateDir(), "lock")
}

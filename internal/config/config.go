// Package config loads the policy engine configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all policyd configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Kernel  KernelConfig  `yaml:"kernel"`
	Guard   GuardConfig   `yaml:"guard"`
	History HistoryConfig `yaml:"history"`
	Mission MissionConfig `yaml:"mission"`
}

// KernelConfig configures the Datalog kernel.
type KernelConfig struct {
	FactLimit    int    `yaml:"fact_limit"`
	QueryTimeout string `yaml:"query_timeout"`
	AutoEval     bool   `yaml:"auto_eval"`
	PolicyDir    string `yaml:"policy_dir"` // extra .mg files, hot reloaded
}

// GuardConfig configures the risk attempt guard.
type GuardConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Cooldown    string `yaml:"cooldown"`
}

// HistoryConfig configures the mission history store.
type HistoryConfig struct {
	DBPath string `yaml:"db_path"`
}

// MissionConfig configures mission composition.
type MissionConfig struct {
	DefaultWorld string `yaml:"default_world"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "policyd",
		Version: "1.0",
		Kernel: KernelConfig{
			FactLimit:    100000,
			QueryTimeout: "5s",
			AutoEval:     true,
		},
		Guard: GuardConfig{
			MaxAttempts: 2,
			Cooldown:    "30s",
		},
		History: HistoryConfig{
			DBPath: "policyd.db",
		},
		Mission: MissionConfig{
			DefaultWorld: "health",
		},
	}
}

// Load reads a YAML config file, filling gaps with defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseQueryTimeout parses the kernel query timeout.
func (c *KernelConfig) ParseQueryTimeout() (time.Duration, error) {
	if c.QueryTimeout == "" {
		return 5 * time.Second, nil
	}
	d, err := time.ParseDuration(c.QueryTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid query_timeout %q: %w", c.QueryTimeout, err)
	}
	return d, nil
}

// ParseCooldown parses the guard cooldown.
func (c *GuardConfig) ParseCooldown() (time.Duration, error) {
	if c.Cooldown == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Cooldown)
	if err != nil {
		return 0, fmt.Errorf("invalid cooldown %q: %w", c.Cooldown, err)
	}
	return d, nil
}

// Copyright 2026 The Benchrig Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// CI is for continuous-integration workers.
	CI Environment = "ci"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for benchrig.
type Config struct {
	// Environment identifies the deployment type (development, ci, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Packages configures system package installation.
	Packages PackagesConfig `yaml:"packages"`

	// Notify configures webhook notification defaults.
	Notify NotifyConfig `yaml:"notify"`

	// Timeouts configures default step and test deadlines.
	Timeouts TimeoutsConfig `yaml:"timeouts"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	CI          *ConfigOverrides `yaml:"ci,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths    *PathsConfig    `yaml:"paths,omitempty"`
	Packages *PackagesConfig `yaml:"packages,omitempty"`
	Notify   *NotifyConfig   `yaml:"notify,omitempty"`
	LogLevel string          `yaml:"log_level,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for benchrig data.
	Root string `yaml:"root"`

	// Work is the scratch directory where provisioning steps run.
	Work string `yaml:"work"`

	// Cache is the content-addressed archive cache. Downloads verified
	// against their declared checksum are stored here and reused across
	// runs.
	Cache string `yaml:"cache"`

	// Tools is where fetched archives are extracted and built.
	// Each fetch step gets a subdirectory named after the step.
	Tools string `yaml:"tools"`
}

// PackagesConfig configures how package steps install system packages.
type PackagesConfig struct {
	// Command is the package-manager invocation that package names are
	// appended to. Default: apt-get install -y --no-install-recommends
	Command []string `yaml:"command"`

	// Sudo prefixes the package command with sudo. Default: true on
	// development machines, false in CI (where the worker already
	// runs as root).
	Sudo bool `yaml:"sudo"`
}

// NotifyConfig configures webhook notification defaults. A manifest's
// notify block takes precedence over these values.
type NotifyConfig struct {
	// URL is the default webhook endpoint.
	URL string `yaml:"url"`

	// Token is sent as a bearer token with each notification.
	Token string `yaml:"token"`
}

// TimeoutsConfig configures default deadlines. Manifest steps may
// override these per step.
type TimeoutsConfig struct {
	// Step is the default per-step deadline. Default: 10m.
	Step string `yaml:"step"`

	// Test is the default test-command deadline. Default: 1h.
	Test string `yaml:"test"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values;
// commands that accept an optional config file fall back to them.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "benchrig")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:  defaultRoot,
			Work:  filepath.Join(defaultRoot, "work"),
			Cache: filepath.Join(defaultRoot, "cache"),
			Tools: filepath.Join(defaultRoot, "tools"),
		},
		Packages: PackagesConfig{
			Command: []string{"apt-get", "install", "-y", "--no-install-recommends"},
			Sudo:    true,
		},
		Timeouts: TimeoutsConfig{
			Step: "10m",
			Test: "1h",
		},
		LogLevel: "info",
	}
}

// Load loads configuration from the BENCHRIG_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if BENCHRIG_CONFIG is not set, this fails.
// This ensures deterministic, auditable configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("BENCHRIG_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("BENCHRIG_CONFIG environment variable not set; " +
			"set it to the path of your benchrig.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values - this ensures deterministic, auditable configuration.
// The only expansion performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/ci/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case CI:
		overrides = c.CI
		// CI defaults: the worker runs as root, no sudo.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Packages: &PackagesConfig{},
			}
		}
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.Work != "" {
			c.Paths.Work = overrides.Paths.Work
		}
		if overrides.Paths.Cache != "" {
			c.Paths.Cache = overrides.Paths.Cache
		}
		if overrides.Paths.Tools != "" {
			c.Paths.Tools = overrides.Paths.Tools
		}
	}

	if overrides.Packages != nil {
		if len(overrides.Packages.Command) > 0 {
			c.Packages.Command = overrides.Packages.Command
		}
		// Sudo is a bool, so we always apply it from overrides.
		c.Packages.Sudo = overrides.Packages.Sudo
	}

	if overrides.Notify != nil {
		if overrides.Notify.URL != "" {
			c.Notify.URL = overrides.Notify.URL
		}
		if overrides.Notify.Token != "" {
			c.Notify.Token = overrides.Notify.Token
		}
	}

	if overrides.LogLevel != "" {
		c.LogLevel = overrides.LogLevel
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"BENCHRIG_ROOT": c.Paths.Root,
		"HOME":          os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["BENCHRIG_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Work = expandVars(c.Paths.Work, vars)
	c.Paths.Cache = expandVars(c.Paths.Cache, vars)
	c.Paths.Tools = expandVars(c.Paths.Tools, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != CI && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}

	if len(c.Packages.Command) == 0 {
		errs = append(errs, fmt.Errorf("packages.command is required"))
	}

	logLevels := []string{"debug", "info", "warn", "error"}
	if !contains(logLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level must be one of: %v", logLevels))
	}

	if _, err := c.StepTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("timeouts.step: %w", err))
	}
	if _, err := c.TestTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("timeouts.test: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// StepTimeout parses the default per-step deadline.
func (c *Config) StepTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Timeouts.Step)
}

// TestTimeout parses the default test-command deadline.
func (c *Config) TestTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Timeouts.Test)
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Work,
		c.Paths.Cache,
		c.Paths.Tools,
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

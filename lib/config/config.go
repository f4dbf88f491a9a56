// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Atelier components.
//
// Configuration is loaded from a single file specified by:
//   - ATELIER_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections (development,
// staging, production) that override base values when the environment matches.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for Atelier.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Store configures the build and job store.
	Store StoreConfig `yaml:"store"`

	// Worker configures the build worker pool.
	Worker WorkerConfig `yaml:"worker"`

	// Reaper configures the stuck-job reaper.
	Reaper ReaperConfig `yaml:"reaper"`

	// Settlement configures the escrow settlement provider.
	Settlement SettlementConfig `yaml:"settlement"`

	// Service configures the broker service socket.
	Service ServiceConfig `yaml:"service"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Store      *StoreConfig      `yaml:"store,omitempty"`
	Worker     *WorkerConfig     `yaml:"worker,omitempty"`
	Reaper     *ReaperConfig     `yaml:"reaper,omitempty"`
	Settlement *SettlementConfig `yaml:"settlement,omitempty"`
	Service    *ServiceConfig    `yaml:"service,omitempty"`
}

// StoreConfig configures the SQLite build and job store.
type StoreConfig struct {
	// Path is the SQLite database file.
	// Default: ${HOME}/.local/share/atelier/atelier.db
	Path string `yaml:"path"`

	// PoolSize is the number of pooled connections.
	// Default: 4
	PoolSize int `yaml:"pool_size"`
}

// WorkerConfig configures the build worker pool.
type WorkerConfig struct {
	// MaxConcurrent is the number of builds executed in parallel.
	// Default: 3
	MaxConcurrent int `yaml:"max_concurrent"`

	// PollInterval is how often an idle pool checks for pending jobs.
	// Default: 30s
	PollInterval string `yaml:"poll_interval"`

	// ClaimTimeout is how long a claimed job may run before the reaper
	// treats it as abandoned.
	// Default: 10m
	ClaimTimeout string `yaml:"claim_timeout"`

	// MaxRetries is the per-job failure budget before dead-lettering.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`

	// BuilderCommand is the command executed for each claimed job.
	// It receives the job payload on stdin and must print the delivery
	// URL on stdout.
	BuilderCommand []string `yaml:"builder_command"`
}

// ReaperConfig configures the stuck-job reaper.
type ReaperConfig struct {
	// Interval is how often abandoned jobs are swept back to pending.
	// Default: 5m
	Interval string `yaml:"interval"`
}

// SettlementConfig configures the escrow settlement provider.
type SettlementConfig struct {
	// SocketPath is the Unix socket of the settlement service.
	// Default: /run/atelier/settlement.sock
	SocketPath string `yaml:"socket_path"`

	// FeeBasisPoints is the platform fee taken on release.
	// Default: 200 (2%)
	FeeBasisPoints int64 `yaml:"fee_basis_points"`

	// DepositTolerance is the acceptable shortfall, in minor units,
	// between a verified deposit and the requested escrow amount.
	// Default: 0
	DepositTolerance int64 `yaml:"deposit_tolerance"`

	// CallTimeout bounds each settlement call.
	// Default: 5s
	CallTimeout string `yaml:"call_timeout"`
}

// ServiceConfig configures the broker service socket.
type ServiceConfig struct {
	// SocketPath is the Unix socket the broker service listens on.
	// Default: /run/atelier/broker.sock
	SocketPath string `yaml:"socket_path"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Environment: Development,
		Store: StoreConfig{
			Path:     filepath.Join(homeDir, ".local", "share", "atelier", "atelier.db"),
			PoolSize: 4,
		},
		Worker: WorkerConfig{
			MaxConcurrent: 3,
			PollInterval:  "30s",
			ClaimTimeout:  "10m",
			MaxRetries:    3,
		},
		Reaper: ReaperConfig{
			Interval: "5m",
		},
		Settlement: SettlementConfig{
			SocketPath:       "/run/atelier/settlement.sock",
			FeeBasisPoints:   200,
			DepositTolerance: 0,
			CallTimeout:      "5s",
		},
		Service: ServiceConfig{
			SocketPath: "/run/atelier/broker.sock",
		},
	}
}

// Load loads configuration from the ATELIER_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks - if ATELIER_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("ATELIER_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("ATELIER_CONFIG environment variable not set; " +
			"set it to the path of your atelier.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do
// not override config values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()

	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if overrides.Store != nil {
		if overrides.Store.Path != "" {
			c.Store.Path = overrides.Store.Path
		}
		if overrides.Store.PoolSize != 0 {
			c.Store.PoolSize = overrides.Store.PoolSize
		}
	}

	if overrides.Worker != nil {
		if overrides.Worker.MaxConcurrent != 0 {
			c.Worker.MaxConcurrent = overrides.Worker.MaxConcurrent
		}
		if overrides.Worker.PollInterval != "" {
			c.Worker.PollInterval = overrides.Worker.PollInterval
		}
		if overrides.Worker.ClaimTimeout != "" {
			c.Worker.ClaimTimeout = overrides.Worker.ClaimTimeout
		}
		if overrides.Worker.MaxRetries != 0 {
			c.Worker.MaxRetries = overrides.Worker.MaxRetries
		}
		if len(overrides.Worker.BuilderCommand) != 0 {
			c.Worker.BuilderCommand = overrides.Worker.BuilderCommand
		}
	}

	if overrides.Reaper != nil {
		if overrides.Reaper.Interval != "" {
			c.Reaper.Interval = overrides.Reaper.Interval
		}
	}

	if overrides.Settlement != nil {
		if overrides.Settlement.SocketPath != "" {
			c.Settlement.SocketPath = overrides.Settlement.SocketPath
		}
		if overrides.Settlement.FeeBasisPoints != 0 {
			c.Settlement.FeeBasisPoints = overrides.Settlement.FeeBasisPoints
		}
		if overrides.Settlement.DepositTolerance != 0 {
			c.Settlement.DepositTolerance = overrides.Settlement.DepositTolerance
		}
		if overrides.Settlement.CallTimeout != "" {
			c.Settlement.CallTimeout = overrides.Settlement.CallTimeout
		}
	}

	if overrides.Service != nil {
		if overrides.Service.SocketPath != "" {
			c.Service.SocketPath = overrides.Service.SocketPath
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path is required"))
	}
	if c.Store.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("store.pool_size must be at least 1"))
	}

	if c.Worker.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("worker.max_concurrent must be at least 1"))
	}
	if c.Worker.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("worker.max_retries must be at least 1"))
	}
	for name, value := range map[string]string{
		"worker.poll_interval":    c.Worker.PollInterval,
		"worker.claim_timeout":    c.Worker.ClaimTimeout,
		"reaper.interval":         c.Reaper.Interval,
		"settlement.call_timeout": c.Settlement.CallTimeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if c.Settlement.SocketPath == "" {
		errs = append(errs, fmt.Errorf("settlement.socket_path is required"))
	}
	if c.Settlement.FeeBasisPoints < 0 || c.Settlement.FeeBasisPoints > 10000 {
		errs = append(errs, fmt.Errorf("settlement.fee_basis_points must be between 0 and 10000"))
	}
	if c.Settlement.DepositTolerance < 0 {
		errs = append(errs, fmt.Errorf("settlement.deposit_tolerance must not be negative"))
	}

	if c.Service.SocketPath == "" {
		errs = append(errs, fmt.Errorf("service.socket_path is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Duration parses a duration field that Validate has already checked.
// Invalid values fall back to the given default rather than panicking,
// so callers that skip Validate still get usable settings.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

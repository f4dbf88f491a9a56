// Copyright 2026 The Atelier Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Worker.MaxConcurrent != 3 {
		t.Errorf("expected max_concurrent=3, got %d", cfg.Worker.MaxConcurrent)
	}
	if cfg.Settlement.FeeBasisPoints != 200 {
		t.Errorf("expected fee_basis_points=200, got %d", cfg.Settlement.FeeBasisPoints)
	}
	if cfg.Reaper.Interval != "5m" {
		t.Errorf("expected reaper interval=5m, got %s", cfg.Reaper.Interval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_RequiresAtelierConfig(t *testing.T) {
	origConfig := os.Getenv("ATELIER_CONFIG")
	defer os.Setenv("ATELIER_CONFIG", origConfig)

	os.Unsetenv("ATELIER_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when ATELIER_CONFIG not set, got nil")
	}
	if !strings.Contains(err.Error(), "ATELIER_CONFIG environment variable not set") {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "atelier.yaml")

	configContent := `
environment: staging
store:
  path: /test/atelier.db
worker:
  max_concurrent: 8
  poll_interval: 5s
settlement:
  socket_path: /test/settlement.sock
  fee_basis_points: 150
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.Store.Path != "/test/atelier.db" {
		t.Errorf("expected store path override, got %s", cfg.Store.Path)
	}
	if cfg.Worker.MaxConcurrent != 8 {
		t.Errorf("expected max_concurrent=8, got %d", cfg.Worker.MaxConcurrent)
	}
	if cfg.Worker.PollInterval != "5s" {
		t.Errorf("expected poll_interval=5s, got %s", cfg.Worker.PollInterval)
	}
	// Unspecified fields keep their defaults.
	if cfg.Worker.ClaimTimeout != "10m" {
		t.Errorf("expected default claim_timeout=10m, got %s", cfg.Worker.ClaimTimeout)
	}
	if cfg.Settlement.FeeBasisPoints != 150 {
		t.Errorf("expected fee_basis_points=150, got %d", cfg.Settlement.FeeBasisPoints)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "atelier.yaml")

	configContent := `
environment: production
worker:
  max_concurrent: 4
production:
  worker:
    max_concurrent: 16
  store:
    path: /var/lib/atelier/atelier.db
staging:
  worker:
    max_concurrent: 99
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if cfg.Worker.MaxConcurrent != 16 {
		t.Errorf("expected production override max_concurrent=16, got %d", cfg.Worker.MaxConcurrent)
	}
	if cfg.Store.Path != "/var/lib/atelier/atelier.db" {
		t.Errorf("expected production store path, got %s", cfg.Store.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad environment",
			mutate:  func(c *Config) { c.Environment = "qa" },
			wantErr: "invalid environment",
		},
		{
			name:    "missing store path",
			mutate:  func(c *Config) { c.Store.Path = "" },
			wantErr: "store.path is required",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Worker.MaxConcurrent = 0 },
			wantErr: "worker.max_concurrent",
		},
		{
			name:    "bad duration",
			mutate:  func(c *Config) { c.Worker.PollInterval = "soon" },
			wantErr: "worker.poll_interval",
		},
		{
			name:    "fee over 100 percent",
			mutate:  func(c *Config) { c.Settlement.FeeBasisPoints = 10001 },
			wantErr: "fee_basis_points",
		},
		{
			name:    "negative tolerance",
			mutate:  func(c *Config) { c.Settlement.DepositTolerance = -1 },
			wantErr: "deposit_tolerance",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("expected error containing %q, got %q", test.wantErr, err.Error())
			}
		})
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("45s", time.Minute); got != 45*time.Second {
		t.Errorf("Duration(45s) = %v", got)
	}
	if got := Duration("garbage", time.Minute); got != time.Minute {
		t.Errorf("Duration(garbage) = %v, want fallback", got)
	}
}

// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Storage.ArtifactDir != "/data/artifacts" {
		t.Errorf("artifact_dir = %q", cfg.Storage.ArtifactDir)
	}
	if cfg.Export.ArtifactTTL != 24*time.Hour {
		t.Errorf("artifact_ttl = %v", cfg.Export.ArtifactTTL)
	}
	if !cfg.Backup.Compress || cfg.Backup.Upload {
		t.Errorf("backup defaults = %+v", cfg.Backup)
	}
	if cfg.Backup.Retention.DailyKeep != 7 || cfg.Backup.Retention.WeeklyKeep != 4 || cfg.Backup.Retention.MonthlyKeep != 12 {
		t.Errorf("retention defaults = %+v", cfg.Backup.Retention)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ARTIFACT_DIR", "/srv/artifacts")
	t.Setenv("EXPORT_ARTIFACT_TTL", "2h")
	t.Setenv("BACKUP_RETENTION_DAILY", "14")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Storage.ArtifactDir != "/srv/artifacts" {
		t.Errorf("artifact_dir = %q", cfg.Storage.ArtifactDir)
	}
	if cfg.Export.ArtifactTTL != 2*time.Hour {
		t.Errorf("artifact_ttl = %v", cfg.Export.ArtifactTTL)
	}
	if cfg.Backup.Retention.DailyKeep != 14 {
		t.Errorf("daily_keep = %d", cfg.Backup.Retention.DailyKeep)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
storage:
  artifact_dir: /var/lib/portarius/artifacts
backup:
  compress: false
logging:
  format: console
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Storage.ArtifactDir != "/var/lib/portarius/artifacts" {
		t.Errorf("artifact_dir = %q", cfg.Storage.ArtifactDir)
	}
	if cfg.Backup.Compress {
		t.Error("file did not override backup.compress")
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("log format = %q", cfg.Logging.Format)
	}
	// Untouched settings keep their defaults.
	if cfg.Storage.JobStorePath != "/data/jobs" {
		t.Errorf("job_store_path = %q", cfg.Storage.JobStorePath)
	}
}

func TestEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("log level = %q, want env to win", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty artifact dir", func(c *Config) { c.Storage.ArtifactDir = "" }},
		{"zero artifact ttl", func(c *Config) { c.Export.ArtifactTTL = 0 }},
		{"empty backup dir", func(c *Config) { c.Backup.Dir = "" }},
		{"negative retention", func(c *Config) { c.Backup.Retention.WeeklyKeep = -1 }},
		{"upload without bucket", func(c *Config) { c.Backup.Upload = true }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestUnmappedEnvVarsIgnored(t *testing.T) {
	t.Setenv("PATH_LIKE_RANDOM_VAR", "junk")
	if got := envTransformFunc("PATH_LIKE_RANDOM_VAR"); got != "" {
		t.Errorf("unmapped var transformed to %q", got)
	}
}

// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

// Package config loads Portarius configuration with layered sources:
// built-in defaults, an optional YAML config file, and environment
// variables, in rising precedence. Config is immutable after Load and
// safe for concurrent reads.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/portarius/config.yaml",
	"/etc/portarius/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Config holds all Portarius settings.
type Config struct {
	Storage StorageConfig `koanf:"storage"`
	Export  ExportConfig  `koanf:"export"`
	Backup  BackupConfig  `koanf:"backup"`
	Logging LoggingConfig `koanf:"logging"`
}

// StorageConfig locates the durable stores.
type StorageConfig struct {
	// ArtifactDir holds export artifacts and uploaded import payloads.
	ArtifactDir string `koanf:"artifact_dir"`

	// SnapshotDir holds rollback snapshot payloads.
	SnapshotDir string `koanf:"snapshot_dir"`

	// SnapshotMetaPath is the snapshot metadata database directory.
	SnapshotMetaPath string `koanf:"snapshot_meta_path"`

	// JobStorePath is the job metadata database directory.
	JobStorePath string `koanf:"job_store_path"`

	// RepositoryDir holds the file-backed record repository used by
	// the standalone CLI, one JSON file per entity type. Embedding
	// applications register their own adapters and ignore this.
	RepositoryDir string `koanf:"repository_dir"`
}

// ExportConfig tunes the export engine.
type ExportConfig struct {
	// ArtifactTTL is how long export artifacts stay downloadable
	// before the expiry sweep may collect them.
	ArtifactTTL time.Duration `koanf:"artifact_ttl"`
}

// BackupConfig tunes the backup service.
type BackupConfig struct {
	Dir      string `koanf:"dir"`
	Compress bool   `koanf:"compress"`
	Upload   bool   `koanf:"upload"`

	S3        S3Config        `koanf:"s3"`
	Retention RetentionConfig `koanf:"retention"`
}

// S3Config holds S3-compatible object storage settings for backup
// uploads. Endpoint is optional and supports MinIO-style deployments.
type S3Config struct {
	Endpoint  string `koanf:"endpoint"`
	Bucket    string `koanf:"bucket"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	Prefix    string `koanf:"prefix"`
}

// RetentionConfig is the daily/weekly/monthly backup retention
// schedule.
type RetentionConfig struct {
	DailyKeep   int `koanf:"daily_keep"`
	WeeklyKeep  int `koanf:"weekly_keep"`
	MonthlyKeep int `koanf:"monthly_keep"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, applied before file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			ArtifactDir:      "/data/artifacts",
			SnapshotDir:      "/data/snapshots",
			SnapshotMetaPath: "/data/snapshot-meta",
			JobStorePath:     "/data/jobs",
			RepositoryDir:    "/data/repository",
		},
		Export: ExportConfig{
			ArtifactTTL: 24 * time.Hour,
		},
		Backup: BackupConfig{
			Dir:      "/data/backups",
			Compress: true,
			Upload:   false,
			Retention: RetentionConfig{
				DailyKeep:   7,
				WeeklyKeep:  4,
				MonthlyKeep: 12,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, the optional config
// file, and environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file path, or empty.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to config paths.
// Unmapped variables are dropped so stray environment does not pollute
// the config.
func envTransformFunc(key string) string {
	envMappings := map[string]string{
		"ARTIFACT_DIR":       "storage.artifact_dir",
		"SNAPSHOT_DIR":       "storage.snapshot_dir",
		"SNAPSHOT_META_PATH": "storage.snapshot_meta_path",
		"JOB_STORE_PATH":     "storage.job_store_path",
		"REPOSITORY_DIR":     "storage.repository_dir",

		"EXPORT_ARTIFACT_TTL": "export.artifact_ttl",

		"BACKUP_DIR":      "backup.dir",
		"BACKUP_COMPRESS": "backup.compress",
		"BACKUP_UPLOAD":   "backup.upload",

		"BACKUP_S3_ENDPOINT":   "backup.s3.endpoint",
		"BACKUP_S3_BUCKET":     "backup.s3.bucket",
		"BACKUP_S3_REGION":     "backup.s3.region",
		"BACKUP_S3_ACCESS_KEY": "backup.s3.access_key",
		"BACKUP_S3_SECRET_KEY": "backup.s3.secret_key",
		"BACKUP_S3_PREFIX":     "backup.s3.prefix",

		"BACKUP_RETENTION_DAILY":   "backup.retention.daily_keep",
		"BACKUP_RETENTION_WEEKLY":  "backup.retention.weekly_keep",
		"BACKUP_RETENTION_MONTHLY": "backup.retention.monthly_keep",

		"LOG_LEVEL":  "logging.level",
		"LOG_FORMAT": "logging.format",
		"LOG_CALLER": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

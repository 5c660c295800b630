// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

package config

import "fmt"

// Validate checks the loaded configuration for inconsistencies. It is
// called by Load; callers constructing a Config by hand should call it
// themselves.
func (c *Config) Validate() error {
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateExport(); err != nil {
		return err
	}
	if err := c.validateBackup(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStorage() error {
	paths := map[string]string{
		"storage.artifact_dir":       c.Storage.ArtifactDir,
		"storage.snapshot_dir":       c.Storage.SnapshotDir,
		"storage.snapshot_meta_path": c.Storage.SnapshotMetaPath,
		"storage.job_store_path":     c.Storage.JobStorePath,
		"storage.repository_dir":     c.Storage.RepositoryDir,
	}
	for name, path := range paths {
		if path == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
	}
	return nil
}

func (c *Config) validateExport() error {
	if c.Export.ArtifactTTL <= 0 {
		return fmt.Errorf("export.artifact_ttl must be positive")
	}
	return nil
}

func (c *Config) validateBackup() error {
	if c.Backup.Dir == "" {
		return fmt.Errorf("backup.dir must not be empty")
	}

	r := c.Backup.Retention
	if r.DailyKeep < 0 || r.WeeklyKeep < 0 || r.MonthlyKeep < 0 {
		return fmt.Errorf("backup.retention keep counts must not be negative")
	}

	if c.Backup.Upload {
		s3 := c.Backup.S3
		if s3.Bucket == "" {
			return fmt.Errorf("backup.s3.bucket is required when backup.upload is enabled")
		}
		if s3.AccessKey == "" || s3.SecretKey == "" {
			return fmt.Errorf("backup.s3 credentials are required when backup.upload is enabled")
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("logging.level %q is not valid", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q is not valid", c.Logging.Format)
	}
	return nil
}

// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

// Package metrics exposes Prometheus instrumentation for jobs, backups,
// and retention runs. Metrics register on the default registry; the
// embedding server decides where to scrape them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsStarted counts jobs by kind and entity type.
	JobsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_jobs_started_total",
			Help: "Total number of export/import jobs started",
		},
		[]string{"kind", "entity_type"},
	)

	// JobsFinished counts terminal job outcomes.
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_jobs_finished_total",
			Help: "Total number of export/import jobs finished, by terminal status",
		},
		[]string{"kind", "entity_type", "status"},
	)

	// JobDuration observes end-to-end job runtime.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "migration_job_duration_seconds",
			Help:    "Duration of export/import jobs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	// RowsProcessed counts successfully processed input rows.
	RowsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_rows_processed_total",
			Help: "Total number of records processed by jobs",
		},
		[]string{"kind", "entity_type"},
	)

	// RowErrors counts row-level failures recorded in job errors.
	RowErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "migration_row_errors_total",
			Help: "Total number of row-level errors recorded by jobs",
		},
		[]string{"kind", "entity_type"},
	)

	// SnapshotsCaptured counts rollback snapshots taken before imports.
	SnapshotsCaptured = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "migration_snapshots_captured_total",
			Help: "Total number of pre-import rollback snapshots captured",
		},
	)

	// BackupDuration observes backup creation time.
	BackupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backup_duration_seconds",
			Help:    "Duration of backup creation in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// BackupSizeBytes observes final backup artifact sizes.
	BackupSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backup_size_bytes",
			Help:    "Size of completed backup artifacts in bytes",
			Buckets: prometheus.ExponentialBuckets(1<<20, 4, 10),
		},
	)

	// BackupErrors counts failed backup attempts by stage.
	BackupErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_errors_total",
			Help: "Total number of backup failures",
		},
		[]string{"stage"}, // "dump", "compress", "checksum", "write", "upload"
	)

	// RetentionDeleted counts backups pruned by retention runs.
	RetentionDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backup_retention_deleted_total",
			Help: "Total number of backups deleted by retention policy",
		},
	)

	// RetentionErrors counts deletions that failed and will be retried.
	RetentionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "backup_retention_errors_total",
			Help: "Total number of retention deletion failures",
		},
	)
)

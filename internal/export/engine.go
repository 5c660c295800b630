// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

// Package export orchestrates export jobs: select records through an
// entity adapter, optionally anonymize, serialize via a format codec,
// and publish the result as a time-limited downloadable artifact.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/portarius/portarius/internal/artifact"
	"github.com/portarius/portarius/internal/codec"
	"github.com/portarius/portarius/internal/job"
	"github.com/portarius/portarius/internal/logging"
	"github.com/portarius/portarius/internal/metrics"
	"github.com/portarius/portarius/internal/record"
)

// DefaultArtifactTTL is the retention window for export artifacts when
// the engine is configured with none.
const DefaultArtifactTTL = 24 * time.Hour

// Request describes one export run.
type Request struct {
	EntityType string
	Format     codec.Format

	// Filters are adapter-specific and opaque to the engine.
	Filters record.Filters

	// Anonymize applies the adapter's anonymization transform to every
	// record before serialization.
	Anonymize bool

	// DryRun counts matching records without producing an artifact.
	DryRun bool
}

// Engine runs export jobs. It never mutates the repository.
type Engine struct {
	registry  *record.Registry
	jobs      *job.Store
	artifacts *artifact.Store
	ttl       time.Duration
}

// NewEngine creates an export engine. ttl <= 0 selects
// DefaultArtifactTTL.
func NewEngine(registry *record.Registry, jobs *job.Store, artifacts *artifact.Store, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = DefaultArtifactTTL
	}
	return &Engine{registry: registry, jobs: jobs, artifacts: artifacts, ttl: ttl}
}

// Run executes one export job synchronously. Unknown entity types and
// unsupported formats are rejected before a job is created. Any adapter
// read error, codec error, or context cancellation finalizes the job to
// FAILED before the error is returned; the job is never left
// PROCESSING.
func (e *Engine) Run(ctx context.Context, req Request) (*job.Job, error) {
	adapter, err := e.registry.Resolve(req.EntityType)
	if err != nil {
		return nil, err
	}
	c, err := codec.ForFormat(req.Format)
	if err != nil {
		return nil, err
	}

	j := job.New(job.KindExport, req.EntityType, req.Format)
	if err := e.jobs.Create(j); err != nil {
		return nil, err
	}
	metrics.JobsStarted.WithLabelValues(string(j.Kind), j.EntityType).Inc()
	started := time.Now()

	j.Status = job.StatusProcessing
	if err := e.jobs.Update(j); err != nil {
		return nil, err
	}

	logging.Ctx(ctx).Info().
		Str("job_id", j.ID).
		Str("entity_type", req.EntityType).
		Str("format", string(req.Format)).
		Bool("dry_run", req.DryRun).
		Msg("Export started")

	records, err := e.collect(ctx, adapter, req)
	if err != nil {
		return e.fail(ctx, j, started, err)
	}

	j.TotalCount = len(records)
	j.ProcessedCount = len(records)

	if req.DryRun {
		j.Status = job.StatusCompleted
		if err := e.jobs.Update(j); err != nil {
			return nil, err
		}
		e.observeFinished(j, started)
		return j, nil
	}

	var buf bytes.Buffer
	if err := c.Encode(&buf, records); err != nil {
		return e.fail(ctx, j, started, err)
	}

	// The artifact store renames into place, so a partial artifact is
	// never exposed under the job's reference.
	ref, err := e.artifacts.Put(buf.Bytes(), string(req.Format))
	if err != nil {
		return e.fail(ctx, j, started, err)
	}

	expires := time.Now().UTC().Add(e.ttl)
	j.ArtifactRef = string(ref)
	j.ExpiresAt = &expires
	j.Status = job.StatusCompleted
	if err := e.jobs.Update(j); err != nil {
		return nil, err
	}
	e.observeFinished(j, started)

	logging.Ctx(ctx).Info().
		Str("job_id", j.ID).
		Int("records", j.ProcessedCount).
		Str("artifact_ref", j.ArtifactRef).
		Msg("Export completed")

	return j, nil
}

// collect drains the adapter cursor, applying anonymization when
// requested. Context cancellation aborts the read.
func (e *Engine) collect(ctx context.Context, adapter record.EntityAdapter, req Request) ([]record.Record, error) {
	cursor, err := adapter.Read(ctx, req.Filters)
	if err != nil {
		return nil, fmt.Errorf("read %s records: %w", req.EntityType, err)
	}
	defer func() {
		if closeErr := cursor.Close(); closeErr != nil {
			logging.Warn().Err(closeErr).Msg("Error closing export cursor")
		}
	}()

	var records []record.Record
	for {
		if err := ctx.Err(); err != nil {
			return nil, timeoutError(err)
		}

		rec, err := cursor.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s records: %w", req.EntityType, err)
		}

		if req.Anonymize {
			rec = adapter.Anonymize(rec)
		}
		records = append(records, rec)
	}
	return records, nil
}

// fail finalizes the job to FAILED with a single top-level error entry
// and propagates the cause.
func (e *Engine) fail(ctx context.Context, j *job.Job, started time.Time, cause error) (*job.Job, error) {
	j.Status = job.StatusFailed
	j.AddRowError(0, cause.Error())
	if err := e.jobs.Update(j); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("job_id", j.ID).Msg("Failed to finalize export job")
	}
	e.observeFinished(j, started)

	logging.Ctx(ctx).Error().Err(cause).Str("job_id", j.ID).Msg("Export failed")
	return j, cause
}

func (e *Engine) observeFinished(j *job.Job, started time.Time) {
	metrics.JobsFinished.WithLabelValues(string(j.Kind), j.EntityType, string(j.Status)).Inc()
	metrics.JobDuration.WithLabelValues(string(j.Kind)).Observe(time.Since(started).Seconds())
	metrics.RowsProcessed.WithLabelValues(string(j.Kind), j.EntityType).Add(float64(j.ProcessedCount))
}

// timeoutError rewraps a context error so operators can tell a deadline
// from a mid-flight failure.
func timeoutError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("timeout: %w", err)
	}
	return fmt.Errorf("canceled: %w", err)
}

// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

// Package dataimport orchestrates import jobs: decode an uploaded
// artifact, validate rows, resolve duplicates against the repository,
// snapshot overwrite targets, and commit best-effort row writes under
// a per-entity-type lock.
package dataimport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/portarius/portarius/internal/artifact"
	"github.com/portarius/portarius/internal/codec"
	"github.com/portarius/portarius/internal/job"
	"github.com/portarius/portarius/internal/logging"
	"github.com/portarius/portarius/internal/metrics"
	"github.com/portarius/portarius/internal/record"
	"github.com/portarius/portarius/internal/snapshot"
)

// DuplicatePolicy decides what happens when an incoming record matches
// an existing one by duplicate key.
type DuplicatePolicy string

const (
	// PolicySkip leaves the existing record untouched and drops the
	// incoming one without counting it as an error.
	PolicySkip DuplicatePolicy = "skip"

	// PolicyUpdate overwrites the existing record, capturing its
	// pre-image in a snapshot first.
	PolicyUpdate DuplicatePolicy = "update"

	// PolicyFail aborts the whole job on the first duplicate, before
	// any write happens.
	PolicyFail DuplicatePolicy = "fail"
)

// ParsePolicy maps a request string to a DuplicatePolicy. Empty input
// selects PolicySkip.
func ParsePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "":
		return PolicySkip, nil
	case PolicySkip, PolicyUpdate, PolicyFail:
		return DuplicatePolicy(s), nil
	default:
		return "", fmt.Errorf("unsupported duplicate policy %q", s)
	}
}

// ErrDuplicateConflict is returned when PolicyFail encounters an
// existing record. The job is finalized FAILED and nothing is written.
var ErrDuplicateConflict = errors.New("duplicate record conflict")

// Request describes one import run.
type Request struct {
	EntityType string
	Format     codec.Format

	// ArtifactRef names the uploaded payload in the artifact store.
	ArtifactRef artifact.Ref

	OnDuplicate DuplicatePolicy

	// ValidateOnly runs decode, validation, and duplicate
	// classification but writes nothing.
	ValidateOnly bool
}

// Engine runs import jobs.
type Engine struct {
	registry  *record.Registry
	jobs      *job.Store
	artifacts *artifact.Store
	snapshots *snapshot.Store
	locks     *keyedMutex
}

// NewEngine creates an import engine sharing the given stores.
func NewEngine(registry *record.Registry, jobs *job.Store, artifacts *artifact.Store, snapshots *snapshot.Store) *Engine {
	return &Engine{
		registry:  registry,
		jobs:      jobs,
		artifacts: artifacts,
		snapshots: snapshots,
		locks:     newKeyedMutex(),
	}
}

// classified is a decoded row that passed validation, tagged with the
// write mode duplicate resolution assigned to it.
type classified struct {
	row  codec.Row
	mode record.WriteMode

	// key is the duplicate key for updates; empty for inserts whose
	// adapter reported no identity.
	key string
}

// Run executes one import job synchronously. Unknown entity types,
// unsupported formats, and bad policies are rejected before a job is
// created. A malformed artifact, a duplicate under PolicyFail, or
// context cancellation finalizes the job to FAILED; row-level
// validation and write errors are recorded on the job and do not abort
// it. The job ends FAILED only when at least one write was attempted
// and none succeeded.
func (e *Engine) Run(ctx context.Context, req Request) (*job.Job, error) {
	adapter, err := e.registry.Resolve(req.EntityType)
	if err != nil {
		return nil, err
	}
	c, err := codec.ForFormat(req.Format)
	if err != nil {
		return nil, err
	}
	policy, err := ParsePolicy(string(req.OnDuplicate))
	if err != nil {
		return nil, err
	}

	j := job.New(job.KindImport, req.EntityType, req.Format)
	j.ArtifactRef = string(req.ArtifactRef)
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
		Str("on_duplicate", string(policy)).
		Bool("validate_only", req.ValidateOnly).
		Msg("Import started")

	data, err := e.artifacts.Get(req.ArtifactRef)
	if err != nil {
		return e.fail(ctx, j, started, fmt.Errorf("load import artifact: %w", err))
	}

	// A malformed payload aborts before any row is considered.
	rows, err := c.Decode(bytes.NewReader(data))
	if err != nil {
		return e.fail(ctx, j, started, err)
	}
	j.TotalCount = len(rows)

	valid := e.validate(j, adapter, rows)

	if req.ValidateOnly {
		set, err := e.classify(ctx, j, adapter, valid, policy)
		if err != nil {
			return e.fail(ctx, j, started, err)
		}
		j.ProcessedCount = len(set)
		j.Status = job.StatusCompleted
		if err := e.jobs.Update(j); err != nil {
			return nil, err
		}
		e.observeFinished(j, started)
		return j, nil
	}

	// The entity lock covers duplicate resolution through the final
	// commit, so concurrent imports cannot race the existence checks.
	lock := e.locks.acquire(req.EntityType)
	lock.Lock()
	defer lock.Unlock()

	set, err := e.classify(ctx, j, adapter, valid, policy)
	if err != nil {
		return e.fail(ctx, j, started, err)
	}

	if err := e.captureSnapshot(ctx, j, adapter, set); err != nil {
		return e.fail(ctx, j, started, err)
	}

	attempted, succeeded, err := e.commit(ctx, j, adapter, set)
	if err != nil {
		return e.fail(ctx, j, started, err)
	}

	j.ProcessedCount = succeeded
	if attempted > 0 && succeeded == 0 {
		j.Status = job.StatusFailed
	} else {
		j.Status = job.StatusCompleted
	}
	if err := e.jobs.Update(j); err != nil {
		return nil, err
	}
	e.observeFinished(j, started)

	logging.Ctx(ctx).Info().
		Str("job_id", j.ID).
		Str("status", string(j.Status)).
		Int("total", j.TotalCount).
		Int("processed", j.ProcessedCount).
		Int("errors", j.ErrorCount).
		Msg("Import finished")

	return j, nil
}

// validate checks every decoded row, recording failures as row errors
// and returning the rows that may proceed.
func (e *Engine) validate(j *job.Job, adapter record.EntityAdapter, rows []codec.Row) []codec.Row {
	valid := make([]codec.Row, 0, len(rows))
	for _, row := range rows {
		if err := adapter.Validate(row.Record); err != nil {
			j.AddRowError(row.Index, err.Error())
			metrics.RowErrors.WithLabelValues(string(j.Kind), j.EntityType).Inc()
			continue
		}
		valid = append(valid, row)
	}
	return valid
}

// classify resolves each valid row against existing records. Rows
// without a duplicate key, or whose key is absent from the repository,
// become inserts. Matches follow the policy: skip drops the row,
// update marks it for overwrite, fail aborts the job.
func (e *Engine) classify(ctx context.Context, j *job.Job, adapter record.EntityAdapter, rows []codec.Row, policy DuplicatePolicy) ([]classified, error) {
	set := make([]classified, 0, len(rows))
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, timeoutError(err)
		}

		key, ok := adapter.DuplicateKey(row.Record)
		if !ok {
			set = append(set, classified{row: row, mode: record.ModeInsert})
			continue
		}

		exists, err := adapter.Exists(ctx, key)
		if err != nil {
			j.AddRowError(row.Index, fmt.Sprintf("duplicate check: %v", err))
			metrics.RowErrors.WithLabelValues(string(j.Kind), j.EntityType).Inc()
			continue
		}
		if !exists {
			set = append(set, classified{row: row, mode: record.ModeInsert, key: key})
			continue
		}

		switch policy {
		case PolicySkip:
			// Not an error and not a write; the row simply drops out.
		case PolicyUpdate:
			set = append(set, classified{row: row, mode: record.ModeUpdate, key: key})
		case PolicyFail:
			return nil, fmt.Errorf("%w: row %d key %q already exists", ErrDuplicateConflict, row.Index, key)
		}
	}
	return set, nil
}

// captureSnapshot stores pre-images of every record about to be
// overwritten and links the snapshot to the job. Inserts leave nothing
// to capture; a pre-image that cannot be fetched is logged and skipped.
func (e *Engine) captureSnapshot(ctx context.Context, j *job.Job, adapter record.EntityAdapter, set []classified) error {
	var preImages []record.Record
	for _, cl := range set {
		if cl.mode != record.ModeUpdate {
			continue
		}
		prev, err := adapter.Get(ctx, cl.key)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str("job_id", j.ID).
				Str("key", cl.key).
				Msg("Pre-image unavailable, skipping")
			continue
		}
		preImages = append(preImages, prev)
	}
	if len(preImages) == 0 {
		return nil
	}

	snap, err := e.snapshots.Capture(ctx, j.EntityType, preImages)
	if err != nil {
		return fmt.Errorf("capture pre-import snapshot: %w", err)
	}
	j.SnapshotID = snap.ID
	return nil
}

// commit writes the classified set best-effort. Each failed write is a
// row error; the loop continues. Context cancellation aborts the
// remainder.
func (e *Engine) commit(ctx context.Context, j *job.Job, adapter record.EntityAdapter, set []classified) (attempted, succeeded int, err error) {
	for _, cl := range set {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempted, succeeded, timeoutError(ctxErr)
		}

		attempted++
		if writeErr := adapter.Write(ctx, cl.row.Record, cl.mode); writeErr != nil {
			j.AddRowError(cl.row.Index, writeErr.Error())
			metrics.RowErrors.WithLabelValues(string(j.Kind), j.EntityType).Inc()
			continue
		}
		succeeded++
	}
	return attempted, succeeded, nil
}

// fail finalizes the job to FAILED, keeping any row errors already
// collected, and propagates the cause.
func (e *Engine) fail(ctx context.Context, j *job.Job, started time.Time, cause error) (*job.Job, error) {
	j.Status = job.StatusFailed
	j.AddRowError(0, cause.Error())
	if err := e.jobs.Update(j); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("job_id", j.ID).Msg("Failed to finalize import job")
	}
	e.observeFinished(j, started)

	logging.Ctx(ctx).Error().Err(cause).Str("job_id", j.ID).Msg("Import failed")
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

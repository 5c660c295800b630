// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

// Package job defines the tracked unit of export or import work and its
// durable store. A job is created PENDING, moved to PROCESSING by the
// engine that owns it, and finalized to exactly one terminal status;
// retries always create a new job.
package job

import (
	"time"

	"github.com/google/uuid"

	"github.com/portarius/portarius/internal/codec"
)

// Kind distinguishes export from import jobs.
type Kind string

const (
	// KindExport is a job producing a downloadable artifact.
	KindExport Kind = "export"

	// KindImport is a job consuming an uploaded artifact.
	KindImport Kind = "import"
)

// Status is the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is created but work has not begun.
	StatusPending Status = "pending"

	// StatusProcessing means the owning engine is running the job.
	StatusProcessing Status = "processing"

	// StatusCompleted is terminal; the job finished, possibly with
	// row-level errors.
	StatusCompleted Status = "completed"

	// StatusFailed is terminal; the job produced no usable result.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RowError records one failed input row. Row indices are 1-based and
// match what the operator sees in their file.
type RowError struct {
	RowIndex int    `json:"row_index"`
	Message  string `json:"message"`
}

// Job is a tracked unit of export or import work.
type Job struct {
	ID         string       `json:"id"`
	Kind       Kind         `json:"kind"`
	EntityType string       `json:"entity_type"`
	Format     codec.Format `json:"format"`
	Status     Status       `json:"status"`

	TotalCount     int `json:"total_count"`
	ProcessedCount int `json:"processed_count"`
	ErrorCount     int `json:"error_count"`

	Errors []RowError `json:"errors,omitempty"`

	// ArtifactRef references the produced export artifact or the
	// consumed import artifact. Empty until produced.
	ArtifactRef string `json:"artifact_ref,omitempty"`

	// SnapshotID references the pre-import snapshot a non-dry-run
	// import created, if any.
	SnapshotID string `json:"snapshot_id,omitempty"`

	// ExpiresAt marks when an export artifact becomes eligible for
	// garbage collection.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a PENDING job.
func New(kind Kind, entityType string, format codec.Format) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:         uuid.New().String(),
		Kind:       kind,
		EntityType: entityType,
		Format:     format,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// AddRowError appends a row-level error and bumps the error counter.
func (j *Job) AddRowError(rowIndex int, message string) {
	j.Errors = append(j.Errors, RowError{RowIndex: rowIndex, Message: message})
	j.ErrorCount++
}

// Touch refreshes the update timestamp.
func (j *Job) Touch() {
	j.UpdatedAt = time.Now().UTC()
}

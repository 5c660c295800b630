// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

// Package artifact stores the serialized byte streams exports produce
// and imports consume, behind opaque references. Artifacts are written
// atomically: a partial artifact is never visible under its reference.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/portarius/portarius/internal/logging"
)

// Ref is an opaque reference to a stored artifact.
type Ref string

// ErrNotFound is returned when a reference resolves to no artifact.
var ErrNotFound = errors.New("artifact not found")

// Store is a filesystem-backed artifact store.
type Store struct {
	dir string
}

// NewStore creates the artifact directory if needed and returns a store
// over it.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string { return s.dir }

// Put stores bytes under a fresh reference. The file is written to a
// temp path and renamed, so readers only ever see complete artifacts.
func (s *Store) Put(data []byte, ext string) (Ref, error) {
	name := uuid.New().String()
	if ext != "" {
		name += "." + strings.TrimPrefix(ext, ".")
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()          //nolint:errcheck // cleanup after write failure
		os.Remove(tmpPath)   //nolint:errcheck // cleanup after write failure
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath) //nolint:errcheck // cleanup after close failure
		return "", fmt.Errorf("close artifact: %w", err)
	}

	final := filepath.Join(s.dir, name)
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath) //nolint:errcheck // cleanup after rename failure
		return "", fmt.Errorf("publish artifact: %w", err)
	}

	return Ref(name), nil
}

// Get returns the bytes stored under ref, or ErrNotFound.
func (s *Store) Get(ref Ref) ([]byte, error) {
	path, err := s.Path(ref)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is validated against the store dir
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// Delete removes the artifact under ref. Deleting an absent artifact is
// not an error, so sweeps and retries are idempotent.
func (s *Store) Delete(ref Ref) error {
	path, err := s.Path(ref)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

// Path resolves a reference to its on-disk path, rejecting references
// that escape the store directory.
func (s *Store) Path(ref Ref) (string, error) {
	name := string(ref)
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid artifact ref: %q", ref)
	}
	return filepath.Join(s.dir, name), nil
}

// Sweep deletes the given references, tolerating already-absent
// artifacts. Used by the expiry garbage-collection pass, which computes
// expired references from the job store.
func (s *Store) Sweep(refs []Ref) int {
	removed := 0
	for _, ref := range refs {
		if err := s.Delete(ref); err != nil {
			logging.Warn().Err(err).Str("ref", string(ref)).Msg("Failed to sweep expired artifact")
			continue
		}
		removed++
	}
	if removed > 0 {
		logging.Info().Int("removed", removed).Msg("Expired artifacts swept")
	}
	return removed
}

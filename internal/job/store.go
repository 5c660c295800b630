// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

package job

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/portarius/portarius/internal/logging"
)

// keyPrefix namespaces job records in the shared Badger store.
const keyPrefix = "job:"

var (
	// ErrNotFound is returned when no job exists for an ID.
	ErrNotFound = errors.New("job not found")

	// ErrTerminal is returned when an update targets a job whose stored
	// status is already COMPLETED or FAILED.
	ErrTerminal = errors.New("job is in a terminal status")
)

// ListOptions filters and paginates job listings.
type ListOptions struct {
	// Kind filters by job kind when non-empty.
	Kind Kind

	// EntityType filters by entity type when non-empty.
	EntityType string

	// Limit caps the number of returned jobs (0 = no limit).
	Limit int

	// Offset skips that many jobs from the newest end.
	Offset int
}

// Store is the durable record of job metadata and progress, backed by
// BadgerDB. Exactly one engine instance owns a job's lifecycle
// end-to-end, so per-job writes are never concurrent; the store guards
// only the terminal-status invariant.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a job store at the given directory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	logging.Info().Str("path", path).Msg("Job store opened")
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store. Intended for tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory job store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func jobKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// Create persists a new job record.
func (s *Store) Create(j *Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := jobKey(j.ID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("job %s already exists", j.ID)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// Get returns the job with the given ID, or ErrNotFound.
func (s *Store) Get(id string) (*Job, error) {
	var j Job

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &j)
		})
	})
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// Update persists a mutated job. The stored record must not already be
// terminal: once COMPLETED or FAILED a job never transitions again, and
// a new job must be created to retry.
func (s *Store) Update(j *Job) error {
	return s.db.Update(func(txn *badger.Txn) error {
		key := jobKey(j.ID)

		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, j.ID)
		}
		if err != nil {
			return err
		}

		var stored Job
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		}); err != nil {
			return fmt.Errorf("unmarshal stored job: %w", err)
		}
		if stored.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrTerminal, j.ID, stored.Status)
		}

		j.Touch()
		data, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		return txn.Set(key, data)
	})
}

// List returns jobs newest-first, filtered and paginated per opts.
func (s *Store) List(opts ListOptions) ([]*Job, error) {
	var jobs []*Job

	err := s.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.PrefetchValues = true
		it := txn.NewIterator(iopts)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var j Job
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &j)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("Skipping unreadable job record")
				continue
			}

			if opts.Kind != "" && j.Kind != opts.Kind {
				continue
			}
			if opts.EntityType != "" && j.EntityType != opts.EntityType {
				continue
			}
			jobs = append(jobs, &j)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return []*Job{}, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}

	return jobs, nil
}

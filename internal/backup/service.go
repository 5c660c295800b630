// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

// Package backup produces verifiable repository backups and prunes
// them by retention policy.
//
// A backup is a full dump of the repository, optionally gzipped,
// checksummed with SHA-256, written atomically to the local backup
// directory, and optionally pushed to S3-compatible object storage.
// Backup metadata lives in metadata.json alongside the archives; the
// service is the only writer of that index, and retention is the only
// deleter of records.
//
// Create and ApplyRetention are serialized against each other so
// retention always sees a stable record list.
package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/portarius/portarius/internal/logging"
	"github.com/portarius/portarius/internal/metrics"
)

// Kind is the backup variant. Only full backups exist today;
// incremental is a planned extension of the same record shape.
type Kind string

// KindFull is a complete repository dump.
const KindFull Kind = "full"

// ErrNotFound is returned when a backup id is not in the index.
var ErrNotFound = errors.New("backup not found")

// RepositoryDumper produces a consistent full dump of the repository.
// The persistence layer owns the dump format; the backup service
// treats it as an opaque byte stream.
type RepositoryDumper interface {
	Dump(ctx context.Context, w io.Writer) error
}

// Record is the immutable metadata of one completed backup.
type Record struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	CreatedAt  time.Time `json:"created_at"`
	Filename   string    `json:"filename"`
	SizeBytes  int64     `json:"size_bytes"`
	Compressed bool      `json:"compressed"`

	// Checksum is the SHA-256 of the final archive bytes, after
	// compression.
	Checksum string `json:"checksum"`

	// StorageRef is the remote object key. Empty when the backup was
	// not uploaded or the upload failed.
	StorageRef string `json:"storage_ref,omitempty"`
}

// UploadError marks a backup whose local write succeeded but whose
// remote upload did not. The record is registered either way; callers
// treat this as a warning, not a failed backup.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("backup upload failed: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Options configures one backup run.
type Options struct {
	Compress bool
	Upload   bool
}

// index is the on-disk metadata store shape.
type index struct {
	Backups []*Record `json:"backups"`
}

// Service creates, verifies, and lists backups.
type Service struct {
	dir    string
	dumper RepositoryDumper

	// remote is nil when no object storage is configured; Upload
	// requests then fail as UploadError.
	remote *RemoteStore

	metadataFile string
	metadata     *index
	metadataMu   sync.RWMutex

	// opMu serializes Create against ApplyRetention.
	opMu sync.Mutex
}

// NewService opens the backup directory and loads the metadata index,
// starting empty if none exists yet. remote may be nil.
func NewService(dir string, dumper RepositoryDumper, remote *RemoteStore) (*Service, error) {
	if dumper == nil {
		return nil, fmt.Errorf("repository dumper is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	s := &Service{
		dir:          dir,
		dumper:       dumper,
		remote:       remote,
		metadataFile: filepath.Join(dir, "metadata.json"),
	}
	if err := s.loadMetadata(); err != nil {
		s.metadata = &index{Backups: make([]*Record, 0)}
	}
	return s, nil
}

// Create runs one backup. Dump, compression, checksum, or local write
// failure registers nothing. A failed upload still registers the local
// record, with an empty StorageRef, and returns it together with an
// *UploadError.
func (s *Service) Create(ctx context.Context, opts Options) (*Record, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	started := time.Now()

	var dump bytes.Buffer
	if err := s.dumper.Dump(ctx, &dump); err != nil {
		metrics.BackupErrors.WithLabelValues("dump").Inc()
		return nil, fmt.Errorf("dump repository: %w", err)
	}

	data := dump.Bytes()
	ext := ".dump"
	if opts.Compress {
		compressed, err := gzipBytes(data)
		if err != nil {
			metrics.BackupErrors.WithLabelValues("compress").Inc()
			return nil, fmt.Errorf("compress backup: %w", err)
		}
		data = compressed
		ext = ".dump.gz"
	}

	sum := sha256.Sum256(data)

	rec := &Record{
		ID:         uuid.New().String(),
		Kind:       KindFull,
		CreatedAt:  time.Now().UTC(),
		Compressed: opts.Compress,
		SizeBytes:  int64(len(data)),
		Checksum:   hex.EncodeToString(sum[:]),
	}
	rec.Filename = fmt.Sprintf("backup-%s-%s%s",
		rec.CreatedAt.Format("20060102T150405Z"), rec.ID[:8], ext)

	if err := s.writeArchive(rec.Filename, data); err != nil {
		metrics.BackupErrors.WithLabelValues("write").Inc()
		return nil, err
	}

	var uploadErr error
	if opts.Upload {
		key, err := s.upload(ctx, rec.Filename, data)
		if err != nil {
			// Local backup validity does not depend on remote
			// availability; surface the failure and keep the record.
			metrics.BackupErrors.WithLabelValues("upload").Inc()
			logging.Ctx(ctx).Warn().Err(err).
				Str("backup_id", rec.ID).
				Msg("Backup upload failed, local archive kept")
			uploadErr = &UploadError{Err: err}
		} else {
			rec.StorageRef = key
		}
	}

	s.metadataMu.Lock()
	s.metadata.Backups = append(s.metadata.Backups, rec)
	saveErr := s.saveMetadataLocked()
	s.metadataMu.Unlock()
	if saveErr != nil {
		logging.Ctx(ctx).Error().Err(saveErr).Msg("Failed to save backup metadata")
	}

	metrics.BackupDuration.Observe(time.Since(started).Seconds())
	metrics.BackupSizeBytes.Observe(float64(rec.SizeBytes))

	logging.Ctx(ctx).Info().
		Str("backup_id", rec.ID).
		Str("filename", rec.Filename).
		Int64("size_bytes", rec.SizeBytes).
		Bool("compressed", rec.Compressed).
		Bool("uploaded", rec.StorageRef != "").
		Msg("Backup created")

	return rec, uploadErr
}

// writeArchive writes the archive under a temp name and renames it
// into place, so a crash never leaves a partial file under a recorded
// filename.
func (s *Service) writeArchive(filename string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()          //nolint:errcheck // write error wins
		os.Remove(tmpName)   //nolint:errcheck // best effort cleanup
		return fmt.Errorf("write backup file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // best effort cleanup
		return fmt.Errorf("close backup file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, filename)); err != nil {
		os.Remove(tmpName) //nolint:errcheck // best effort cleanup
		return fmt.Errorf("finalize backup file: %w", err)
	}
	return nil
}

func (s *Service) upload(ctx context.Context, filename string, data []byte) (string, error) {
	if s.remote == nil {
		return "", fmt.Errorf("object storage not configured")
	}
	return s.remote.Upload(ctx, filename, bytes.NewReader(data), int64(len(data)))
}

// Get returns the record for a backup id.
func (s *Service) Get(id string) (*Record, error) {
	s.metadataMu.RLock()
	defer s.metadataMu.RUnlock()

	for _, rec := range s.metadata.Backups {
		if rec.ID == id {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// List returns all records, newest first.
func (s *Service) List() []*Record {
	s.metadataMu.RLock()
	defer s.metadataMu.RUnlock()

	out := make([]*Record, 0, len(s.metadata.Backups))
	for _, rec := range s.metadata.Backups {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Verify recomputes the archive checksum and compares it against the
// recorded one.
func (s *Service) Verify(id string) error {
	rec, err := s.Get(id)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(s.dir, rec.Filename)) //nolint:gosec // filenames are service-generated
	if err != nil {
		return fmt.Errorf("read backup archive: %w", err)
	}

	sum := sha256.Sum256(data)
	if actual := hex.EncodeToString(sum[:]); actual != rec.Checksum {
		return fmt.Errorf("checksum mismatch for backup %s: recorded %s, actual %s", id, rec.Checksum, actual)
	}
	return nil
}

// Open returns the raw archive bytes of a backup.
func (s *Service) Open(id string) ([]byte, error) {
	rec, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, rec.Filename)) //nolint:gosec // filenames are service-generated
	if err != nil {
		return nil, fmt.Errorf("read backup archive: %w", err)
	}
	return data, nil
}

func (s *Service) loadMetadata() error {
	s.metadataMu.Lock()
	defer s.metadataMu.Unlock()

	data, err := os.ReadFile(s.metadataFile)
	if err != nil {
		return err
	}

	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return err
	}
	s.metadata = &idx
	return nil
}

// saveMetadataLocked persists the index. Callers hold metadataMu.
func (s *Service) saveMetadataLocked() error {
	data, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.metadataFile, data, 0o600)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

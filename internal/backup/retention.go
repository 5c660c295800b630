// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/portarius/portarius/internal/logging"
	"github.com/portarius/portarius/internal/metrics"
)

// Policy is a daily/weekly/monthly backup retention schedule. Each
// count is the number of retention buckets of that granularity; zero
// disables the rule.
type Policy struct {
	DailyKeep   int `json:"daily_keep"`
	WeeklyKeep  int `json:"weekly_keep"`
	MonthlyKeep int `json:"monthly_keep"`
}

// DefaultPolicy keeps a week of dailies, a month of weeklies, and a
// year of monthlies.
func DefaultPolicy() Policy {
	return Policy{DailyKeep: 7, WeeklyKeep: 4, MonthlyKeep: 12}
}

// Validate rejects negative keep counts.
func (p Policy) Validate() error {
	if p.DailyKeep < 0 || p.WeeklyKeep < 0 || p.MonthlyKeep < 0 {
		return fmt.Errorf("retention keep counts must not be negative")
	}
	return nil
}

// Result reports the outcome of one retention run. On a dry run,
// Deleted lists what would have been deleted.
type Result struct {
	Kept    []*Record `json:"kept"`
	Deleted []*Record `json:"deleted"`
}

// periodKeyFunc buckets a record into a retention period.
type periodKeyFunc func(*Record) string

// ApplyRetention classifies backups into retention buckets and deletes
// everything outside them. Records are sorted newest first; the
// DailyKeep most recent are always kept, then one representative per
// ISO week and per calendar month covers the older history, newest
// within each period winning. Deletion removes the local archive and
// the remote object before the record itself, so a crash mid-run never
// strands a record whose artifacts cannot be re-deleted. A failed
// deletion keeps the record for the next run.
func (s *Service) ApplyRetention(ctx context.Context, policy Policy, dryRun bool) (*Result, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.metadataMu.Lock()
	defer s.metadataMu.Unlock()

	records := make([]*Record, len(s.metadata.Backups))
	copy(records, s.metadata.Backups)
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	keep := classify(records, policy)

	res := &Result{}
	for _, rec := range records {
		if keep[rec.ID] {
			res.Kept = append(res.Kept, rec)
		} else {
			res.Deleted = append(res.Deleted, rec)
		}
	}

	logging.Ctx(ctx).Info().
		Int("kept", len(res.Kept)).
		Int("deleted", len(res.Deleted)).
		Bool("dry_run", dryRun).
		Msg("Retention classified backups")

	if dryRun {
		return res, nil
	}

	var deleted []*Record
	for _, rec := range res.Deleted {
		if err := s.deleteArchivesLocked(ctx, rec); err != nil {
			// Keep the record so the next run retries the deletion.
			metrics.RetentionErrors.Inc()
			logging.Ctx(ctx).Warn().Err(err).
				Str("backup_id", rec.ID).
				Msg("Failed to delete backup, keeping record")
			res.Kept = append(res.Kept, rec)
			continue
		}
		s.removeRecordLocked(rec.ID)
		metrics.RetentionDeleted.Inc()
		deleted = append(deleted, rec)
	}
	res.Deleted = deleted

	if err := s.saveMetadataLocked(); err != nil {
		return res, fmt.Errorf("save backup metadata: %w", err)
	}
	return res, nil
}

// classify builds the keep set: head slice for dailies, then weekly
// and monthly representative buckets over what remains.
func classify(sorted []*Record, policy Policy) map[string]bool {
	keep := make(map[string]bool)

	for i := 0; i < policy.DailyKeep && i < len(sorted); i++ {
		keep[sorted[i].ID] = true
	}

	remainder := sorted[min(policy.DailyKeep, len(sorted)):]

	weekly := func(r *Record) string {
		year, week := r.CreatedAt.ISOWeek()
		return fmt.Sprintf("%d-%02d", year, week)
	}
	keepByPeriod(keep, remainder, policy.WeeklyKeep, weekly)

	// Monthly buckets only consider what the weekly pass left over.
	var rest []*Record
	for _, r := range remainder {
		if !keep[r.ID] {
			rest = append(rest, r)
		}
	}
	monthly := func(r *Record) string {
		return r.CreatedAt.Format("2006-01")
	}
	keepByPeriod(keep, rest, policy.MonthlyKeep, monthly)

	return keep
}

// keepByPeriod keeps the newest not-yet-kept record of each period, up
// to limit periods. The input is newest first, so the first record
// seen for a period is its newest.
func keepByPeriod(keep map[string]bool, records []*Record, limit int, keyFunc periodKeyFunc) {
	if limit <= 0 {
		return
	}

	seen := make(map[string]bool)
	for _, rec := range records {
		key := keyFunc(rec)
		if seen[key] {
			continue
		}
		if len(seen) >= limit {
			break
		}
		seen[key] = true
		keep[rec.ID] = true
	}
}

// deleteArchivesLocked removes the local archive and the remote object
// of a record. Absent artifacts are not errors, so retries after a
// partial failure converge.
func (s *Service) deleteArchivesLocked(ctx context.Context, rec *Record) error {
	local := filepath.Join(s.dir, rec.Filename)
	if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete local archive: %w", err)
	}

	if rec.StorageRef != "" {
		if s.remote == nil {
			return fmt.Errorf("remote object %s recorded but object storage not configured", rec.StorageRef)
		}
		if err := s.remote.Delete(ctx, rec.StorageRef); err != nil {
			return fmt.Errorf("delete remote object: %w", err)
		}
	}
	return nil
}

func (s *Service) removeRecordLocked(id string) {
	for i, rec := range s.metadata.Backups {
		if rec.ID == id {
			s.metadata.Backups = append(s.metadata.Backups[:i], s.metadata.Backups[i+1:]...)
			return
		}
	}
}

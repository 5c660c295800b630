// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

package export

import (
	"time"

	"github.com/portarius/portarius/internal/artifact"
	"github.com/portarius/portarius/internal/job"
)

// SweepExpired deletes export artifacts whose retention window has
// passed and returns how many were removed. Job records are kept; only
// the downloadable bytes are garbage-collected. The outer scheduler
// decides when to call this.
func SweepExpired(jobs *job.Store, artifacts *artifact.Store, now time.Time) (int, error) {
	exports, err := jobs.List(job.ListOptions{Kind: job.KindExport})
	if err != nil {
		return 0, err
	}

	var refs []artifact.Ref
	for _, j := range exports {
		if j.ArtifactRef == "" || j.ExpiresAt == nil {
			continue
		}
		if j.ExpiresAt.Before(now) {
			refs = append(refs, artifact.Ref(j.ArtifactRef))
		}
	}

	return artifacts.Sweep(refs), nil
}

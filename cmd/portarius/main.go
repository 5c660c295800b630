// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

// Package main is the Portarius operational CLI.
//
// Portarius moves structured records between environments with
// job-tracked export and import, rollback snapshots, and verifiable,
// retained backups. The engines are designed to be embedded in a
// larger backend; this binary drives them standalone against a
// file-backed record repository, one JSON file per entity type under
// the configured repository directory.
//
// Commands:
//
//	export     serialize records of one entity type to an artifact
//	import     load an artifact into the repository
//	rollback   restore the pre-images captured by an import
//	snapshots  list rollback snapshots
//	jobs       show job records
//	sweep      delete expired export artifacts
//	backup     create a repository backup
//	verify     re-check a backup's checksum
//	retention  prune backups by retention policy
//
// Configuration is loaded via Koanf with layered sources (highest
// priority wins): environment variables, an optional config.yaml, and
// built-in defaults.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/portarius/portarius/internal/artifact"
	"github.com/portarius/portarius/internal/backup"
	"github.com/portarius/portarius/internal/codec"
	"github.com/portarius/portarius/internal/config"
	"github.com/portarius/portarius/internal/export"
	dataimport "github.com/portarius/portarius/internal/import"
	"github.com/portarius/portarius/internal/job"
	"github.com/portarius/portarius/internal/logging"
	"github.com/portarius/portarius/internal/record"
	"github.com/portarius/portarius/internal/snapshot"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	if err := dispatch(command, cfg, args); err != nil {
		logging.Error().Err(err).Str("command", command).Msg("Command failed")
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: portarius <command> [flags]

commands:
  export     serialize records of one entity type to an artifact
  import     load an artifact into the repository
  rollback   restore the pre-images captured by an import
  snapshots  list rollback snapshots
  jobs       show job records
  sweep      delete expired export artifacts
  backup     create a repository backup
  verify     re-check a backup's checksum
  retention  prune backups by retention policy`)
}

func dispatch(command string, cfg *config.Config, args []string) error {
	switch command {
	case "export":
		return runExport(cfg, args)
	case "import":
		return runImport(cfg, args)
	case "rollback":
		return runRollback(cfg, args)
	case "snapshots":
		return runSnapshots(cfg, args)
	case "jobs":
		return runJobs(cfg, args)
	case "sweep":
		return runSweep(cfg, args)
	case "backup":
		return runBackup(cfg, args)
	case "verify":
		return runVerify(cfg, args)
	case "retention":
		return runRetention(cfg, args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// app bundles the opened stores and engines for one command run.
type app struct {
	cfg       *config.Config
	registry  *record.Registry
	jobs      *job.Store
	artifacts *artifact.Store
	snapshots *snapshot.Store
}

// repositoryKeyField is the duplicate-key field of the file-backed
// repository. Embedding applications define their own per adapter.
const repositoryKeyField = "id"

func openApp(cfg *config.Config) (*app, error) {
	jobs, err := job.Open(cfg.Storage.JobStorePath)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}

	artifacts, err := artifact.NewStore(cfg.Storage.ArtifactDir)
	if err != nil {
		jobs.Close() //nolint:errcheck // open error wins
		return nil, err
	}

	payloads, err := artifact.NewStore(cfg.Storage.SnapshotDir)
	if err != nil {
		jobs.Close() //nolint:errcheck // open error wins
		return nil, err
	}
	snapshots, err := snapshot.Open(cfg.Storage.SnapshotMetaPath, payloads)
	if err != nil {
		jobs.Close() //nolint:errcheck // open error wins
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		registry:  record.NewRegistry(),
		jobs:      jobs,
		artifacts: artifacts,
		snapshots: snapshots,
	}
	if err := a.loadRepository(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if err := a.snapshots.Close(); err != nil {
		logging.Warn().Err(err).Msg("Error closing snapshot store")
	}
	if err := a.jobs.Close(); err != nil {
		logging.Warn().Err(err).Msg("Error closing job store")
	}
}

// loadRepository registers a file adapter for every entity-type file
// already present in the repository directory.
func (a *app) loadRepository() error {
	dir := a.cfg.Storage.RepositoryDir
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create repository dir: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read repository dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		entityType := strings.TrimSuffix(name, ".json")
		adapter, err := record.NewFileAdapter(filepath.Join(dir, name), entityType, repositoryKeyField)
		if err != nil {
			return err
		}
		a.registry.Register(adapter)
	}
	return nil
}

// ensureEntity registers an empty file adapter for an entity type that
// has no repository file yet, so first-time imports work.
func (a *app) ensureEntity(entityType string) error {
	if _, err := a.registry.Resolve(entityType); err == nil {
		return nil
	}
	path := filepath.Join(a.cfg.Storage.RepositoryDir, entityType+".json")
	adapter, err := record.NewFileAdapter(path, entityType, repositoryKeyField)
	if err != nil {
		return err
	}
	a.registry.Register(adapter)
	return nil
}

func runExport(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	entity := fs.String("entity", "", "entity type to export")
	format := fs.String("format", "json", "output format: json, csv, or xlsx")
	anonymize := fs.Bool("anonymize", false, "strip sensitive fields")
	dryRun := fs.Bool("dry-run", false, "count matching records without producing an artifact")
	out := fs.String("out", "", "copy the artifact to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *entity == "" {
		return fmt.Errorf("-entity is required")
	}

	f, err := codec.ParseFormat(*format)
	if err != nil {
		return err
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	engine := export.NewEngine(a.registry, a.jobs, a.artifacts, cfg.Export.ArtifactTTL)
	j, err := engine.Run(context.Background(), export.Request{
		EntityType: *entity,
		Format:     f,
		Anonymize:  *anonymize,
		DryRun:     *dryRun,
	})
	if err != nil {
		return err
	}

	if *out != "" && j.ArtifactRef != "" {
		data, err := a.artifacts.Get(artifact.Ref(j.ArtifactRef))
		if err != nil {
			return err
		}
		if err := os.WriteFile(*out, data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", *out, err)
		}
	}
	return printJSON(j)
}

func runImport(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	entity := fs.String("entity", "", "entity type to import")
	format := fs.String("format", "json", "input format: json, csv, or xlsx")
	path := fs.String("file", "", "input file")
	onDuplicate := fs.String("on-duplicate", "skip", "duplicate policy: skip, update, or fail")
	validateOnly := fs.Bool("validate-only", false, "validate and classify without writing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *entity == "" || *path == "" {
		return fmt.Errorf("-entity and -file are required")
	}

	f, err := codec.ParseFormat(*format)
	if err != nil {
		return err
	}
	policy, err := dataimport.ParsePolicy(*onDuplicate)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(*path) //nolint:gosec // operator-supplied input file
	if err != nil {
		return fmt.Errorf("read %s: %w", *path, err)
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.ensureEntity(*entity); err != nil {
		return err
	}

	ref, err := a.artifacts.Put(data, string(f))
	if err != nil {
		return err
	}

	engine := dataimport.NewEngine(a.registry, a.jobs, a.artifacts, a.snapshots)
	j, err := engine.Run(context.Background(), dataimport.Request{
		EntityType:   *entity,
		Format:       f,
		ArtifactRef:  ref,
		OnDuplicate:  policy,
		ValidateOnly: *validateOnly,
	})
	if j != nil {
		if printErr := printJSON(j); printErr != nil {
			return printErr
		}
	}
	return err
}

func runRollback(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	id := fs.String("snapshot", "", "snapshot id to restore")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-snapshot is required")
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.snapshots.Restore(context.Background(), *id, a.registry)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runSnapshots(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("snapshots", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	list, err := a.snapshots.List()
	if err != nil {
		return err
	}
	return printJSON(list)
}

func runJobs(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("jobs", flag.ExitOnError)
	id := fs.String("id", "", "show a single job")
	kind := fs.String("kind", "", "filter by kind: export or import")
	entity := fs.String("entity", "", "filter by entity type")
	limit := fs.Int("limit", 20, "maximum jobs to list")
	offset := fs.Int("offset", 0, "list offset for pagination")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if *id != "" {
		j, err := a.jobs.Get(*id)
		if err != nil {
			return err
		}
		return printJSON(j)
	}

	list, err := a.jobs.List(job.ListOptions{
		Kind:       job.Kind(*kind),
		EntityType: *entity,
		Limit:      *limit,
		Offset:     *offset,
	})
	if err != nil {
		return err
	}
	return printJSON(list)
}

func runSweep(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := export.SweepExpired(a.jobs, a.artifacts, time.Now())
	if err != nil {
		return err
	}
	logging.Info().Int("deleted", n).Msg("Expired export artifacts swept")
	return nil
}

func runBackup(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	compress := fs.Bool("compress", cfg.Backup.Compress, "gzip the backup archive")
	upload := fs.Bool("upload", cfg.Backup.Upload, "push the archive to object storage")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	svc, err := openBackupService(cfg, a)
	if err != nil {
		return err
	}

	rec, err := svc.Create(context.Background(), backup.Options{
		Compress: *compress,
		Upload:   *upload,
	})

	var ue *backup.UploadError
	if errors.As(err, &ue) {
		// The local backup is valid; surface the upload failure as a
		// warning and report the record.
		logging.Warn().Err(ue).Msg("Backup created locally but upload failed")
		return printJSON(rec)
	}
	if err != nil {
		return err
	}
	return printJSON(rec)
}

func runVerify(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	id := fs.String("id", "", "backup id to verify")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	svc, err := openBackupService(cfg, a)
	if err != nil {
		return err
	}
	if err := svc.Verify(*id); err != nil {
		return err
	}
	logging.Info().Str("backup_id", *id).Msg("Backup checksum verified")
	return nil
}

func runRetention(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("retention", flag.ExitOnError)
	daily := fs.Int("daily", cfg.Backup.Retention.DailyKeep, "recent backups to always keep")
	weekly := fs.Int("weekly", cfg.Backup.Retention.WeeklyKeep, "weekly representatives to keep")
	monthly := fs.Int("monthly", cfg.Backup.Retention.MonthlyKeep, "monthly representatives to keep")
	dryRun := fs.Bool("dry-run", false, "classify without deleting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	svc, err := openBackupService(cfg, a)
	if err != nil {
		return err
	}

	res, err := svc.ApplyRetention(context.Background(), backup.Policy{
		DailyKeep:   *daily,
		WeeklyKeep:  *weekly,
		MonthlyKeep: *monthly,
	}, *dryRun)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func openBackupService(cfg *config.Config, a *app) (*backup.Service, error) {
	var remote *backup.RemoteStore
	if cfg.Backup.S3.Bucket != "" {
		remote = backup.NewRemoteStore(backup.S3Config{
			Endpoint:  cfg.Backup.S3.Endpoint,
			Bucket:    cfg.Backup.S3.Bucket,
			Region:    cfg.Backup.S3.Region,
			AccessKey: cfg.Backup.S3.AccessKey,
			SecretKey: cfg.Backup.S3.SecretKey,
			Prefix:    cfg.Backup.S3.Prefix,
		})
	}
	return backup.NewService(cfg.Backup.Dir, &repositoryDumper{registry: a.registry}, remote)
}

// repositoryDumper dumps the file-backed repository as one JSON object
// keyed by entity type.
type repositoryDumper struct {
	registry *record.Registry
}

func (d *repositoryDumper) Dump(ctx context.Context, w io.Writer) error {
	state := make(map[string][]record.Record)
	for _, entityType := range d.registry.EntityTypes() {
		adapter, err := d.registry.Resolve(entityType)
		if err != nil {
			return err
		}
		cursor, err := adapter.Read(ctx, nil)
		if err != nil {
			return err
		}
		records := []record.Record{}
		for {
			rec, err := cursor.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				cursor.Close() //nolint:errcheck // read error wins
				return err
			}
			records = append(records, rec)
		}
		if err := cursor.Close(); err != nil {
			return err
		}
		state[entityType] = records
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal repository state: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

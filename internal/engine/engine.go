// Package engine wires storage, restore points, database snapshots, jobs and
// operations into the entry points used by the CLI and the worker.
package engine

import (
	"context"
	"fmt"

	"github.com/juju/clock"

	"site-guardian/internal/blobstore"
	"site-guardian/internal/config"
	"site-guardian/internal/database"
	"site-guardian/internal/dbjob"
	"site-guardian/internal/dbsnapshot"
	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/license"
	"site-guardian/internal/logging"
	"site-guardian/internal/operation"
	"site-guardian/internal/restorepoint"
	"site-guardian/internal/scheduler"
	"site-guardian/internal/storage"
)

// Options are the collaborators of an Engine. DB may be nil when restore
// points never include the database; Scheduler may be nil when jobs are
// driven by hand.
type Options struct {
	Settings  *config.Settings
	Objects   *storage.ObjectStore
	DB        database.Database
	Gate      license.Gate
	Scheduler scheduler.Scheduler
	Clock     clock.Clock
	Logger    *logging.Logger
}

// Engine is the site protection facade
type Engine struct {
	settings *config.Settings
	objects  *storage.ObjectStore
	db       database.Database
	gate     license.Gate
	clock    clock.Clock
	logger   *logging.Logger

	blobs      *blobstore.Store
	manifests  *restorepoint.Store
	scanner    *restorepoint.Scanner
	restorer   *restorepoint.Restorer
	snapshot   *dbsnapshot.Snapshot
	jobs       *dbjob.Store
	exporter   *dbjob.Exporter
	dbRestorer *dbjob.Restorer
	operations *operation.Tracker
	dbEngine   DBEngine
}

// New builds an Engine from its settings and collaborators
func New(opts Options) (*Engine, error) {
	if opts.Settings == nil {
		return nil, apperrors.NewConfigurationError("settings are required", nil)
	}
	if opts.Objects == nil {
		return nil, apperrors.NewConfigurationError("object store is required", nil)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	logger := logging.OrDefault(opts.Logger)
	s := opts.Settings

	e := &Engine{
		settings: s,
		objects:  opts.Objects,
		db:       opts.DB,
		gate:     opts.Gate,
		clock:    clk,
		logger:   logger,
	}
	if e.gate == nil {
		e.gate = license.Static(s.License.Licensed)
	}

	e.blobs = blobstore.New(opts.Objects, logger)
	e.manifests = restorepoint.NewStore(opts.Objects, logger)
	e.scanner = restorepoint.NewScanner(e.blobs, s.RestorePoints.MaxBlobBytes, logger)
	e.restorer = restorepoint.NewRestorer(e.manifests, e.blobs, s.SiteRoot, logger)
	e.jobs = dbjob.NewStore(opts.Objects.Backend())
	e.operations = operation.NewTracker(opts.Objects.Backend(), clk, logger)
	if opts.DB != nil {
		e.snapshot = dbsnapshot.New(opts.DB, opts.Objects, clk, logger)
		e.exporter = dbjob.NewExporter(opts.DB, opts.Objects, e.jobs, opts.Scheduler, clk, s.Scheduler.ExportDelay, logger)
		e.dbRestorer = dbjob.NewRestorer(opts.DB, opts.Objects, e.jobs, opts.Scheduler, clk, s.Scheduler.RestoreDelay, s.DB.MaxSeconds, logger)
	}

	dbEngine, err := e.engineFor(s.DB.Engine)
	if err != nil {
		return nil, err
	}
	e.dbEngine = dbEngine
	return e, nil
}

// Settings returns the settings the engine was built with
func (e *Engine) Settings() *config.Settings {
	return e.settings
}

// CreateOptions tune a single restore point
type CreateOptions struct {
	Label string
	// Paths replaces the scope paths from settings when set
	Paths []string
	// SkipDB leaves the database out even when settings include it
	SkipDB bool
}

// CreateRestorePoint scans the configured scope, snapshots the database with
// the configured engine when enabled, stores the manifest and prunes old
// restore points. A failed database snapshot is recorded in the manifest
// rather than failing the restore point.
func (e *Engine) CreateRestorePoint(ctx context.Context, opts CreateOptions) (*restorepoint.Manifest, error) {
	if err := license.Require(ctx, e.gate, "create restore point"); err != nil {
		return nil, err
	}
	done := e.logger.LogOperationStart("create_restore_point", map[string]interface{}{"label": opts.Label})

	m, err := e.createRestorePoint(ctx, opts)
	done(err)
	return m, err
}

func (e *Engine) createRestorePoint(ctx context.Context, opts CreateOptions) (*restorepoint.Manifest, error) {
	scope := restorepoint.BuildScope(e.settings.RestorePoints.Scope)
	if len(opts.Paths) > 0 {
		scope.Paths = opts.Paths
	}
	if len(scope.Paths) == 0 {
		return nil, apperrors.NewValidationError("restore point scope is empty", nil)
	}

	now := e.clock.Now()
	id := restorepoint.NewID(now)
	label := opts.Label
	if label == "" {
		label = "Manual restore point"
	}

	scan, err := e.scanner.Scan(ctx, e.settings.SiteRoot, scope)
	if err != nil {
		return nil, err
	}
	m := restorepoint.NewManifest(id, label, now, scope, scan)

	if e.settings.RestorePoints.IncludeDB && !opts.SkipDB {
		m.DB = e.snapshotDatabase(ctx, id)
	}

	if err := e.manifests.Save(ctx, m); err != nil {
		return nil, err
	}
	e.logger.LogRestorePoint(m.ID, m.Counts.Files, m.Counts.BlobsNew, m.Counts.SkippedLarge, m.Counts.Missing)

	if _, err := e.manifests.Prune(ctx, e.settings.RestorePoints.KeepLast); err != nil {
		e.logger.WithError(err).Warn("Failed to prune old restore points")
	}
	return m, nil
}

func (e *Engine) snapshotDatabase(ctx context.Context, id string) *restorepoint.DBSnapshot {
	if e.db == nil {
		return &restorepoint.DBSnapshot{Engine: e.dbEngine.Name(), Error: "no database configured"}
	}
	snap, err := e.dbEngine.Snapshot(ctx, id)
	if err != nil {
		e.logger.WithField("restore_point", id).WithError(err).Error("Database snapshot failed")
		if snap == nil {
			snap = &restorepoint.DBSnapshot{Engine: e.dbEngine.Name()}
		}
		snap.OK = false
		snap.Error = err.Error()
	}
	return snap
}

// ListRestorePoints returns up to limit restore points, newest first
func (e *Engine) ListRestorePoints(ctx context.Context, limit int) ([]*restorepoint.Manifest, error) {
	return e.manifests.List(ctx, limit)
}

// GetRestorePoint loads one restore point
func (e *Engine) GetRestorePoint(ctx context.Context, id string) (*restorepoint.Manifest, error) {
	return e.manifests.Load(ctx, id)
}

// Restore restores a file or directory (trailing slash) of a restore point
// into the site root
func (e *Engine) Restore(ctx context.Context, id, target string, deleteFirst bool) (*restorepoint.RestoreResult, error) {
	return e.restorer.Restore(ctx, id, target, deleteFirst)
}

// RestoreAll writes every file of a restore point under destRoot
func (e *Engine) RestoreAll(ctx context.Context, id, destRoot string) (*restorepoint.RestoreResult, error) {
	return e.restorer.RestoreAll(ctx, id, destRoot)
}

// RestoreDatabase restores the database part of a restore point with the
// engine that produced it. Basic dumps are replayed at once; pro dumps start
// a restore job.
func (e *Engine) RestoreDatabase(ctx context.Context, id string) (*DBRestoreResult, error) {
	m, err := e.manifests.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.DB == nil || (m.DB.Key == "" && m.DB.JobID == "" && m.DB.SchemaKey == "") {
		return nil, apperrors.NewMissingDumpError(fmt.Sprintf("restore point %s has no database snapshot", id), nil)
	}
	if e.db == nil {
		return nil, apperrors.NewConfigurationError("no database configured", nil)
	}

	dbEngine, err := e.engineFor(m.DB.Engine)
	if err != nil {
		return nil, err
	}
	return dbEngine.Restore(ctx, m.ID, m.DB)
}

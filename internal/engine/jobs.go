package engine

import (
	"context"

	"site-guardian/internal/dbjob"
	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/license"
	"site-guardian/internal/restorepoint"
	"site-guardian/internal/scheduler"
)

func (e *Engine) requireDB() error {
	if e.db == nil {
		return apperrors.NewConfigurationError("no database configured", nil)
	}
	return nil
}

// StartExport starts a resumable export into the dump directory of
// restorePointID and runs its first step. An empty id gets a fresh one.
func (e *Engine) StartExport(ctx context.Context, restorePointID string) (*dbjob.ExportJob, error) {
	if err := license.Require(ctx, e.gate, "start database export"); err != nil {
		return nil, err
	}
	if err := e.requireDB(); err != nil {
		return nil, err
	}
	if restorePointID == "" {
		restorePointID = restorepoint.NewID(e.clock.Now())
	}
	return e.startExport(ctx, restorePointID)
}

// startExport may return the job together with the error of its first step
func (e *Engine) startExport(ctx context.Context, restorePointID string) (*dbjob.ExportJob, error) {
	s := e.settings.DB
	job, err := e.exporter.Start(ctx, dbjob.ExportOptions{
		RestorePointID: restorePointID,
		TablesMode:     s.TablesMode,
		CustomTables:   s.CustomTables,
		Prefix:         s.TablePrefix,
		ChunkRows:      s.ChunkRows,
		MaxSeconds:     s.MaxSeconds,
	})
	if err != nil {
		return nil, err
	}
	stepped, err := e.exporter.ContinueStep(ctx, job.ID)
	if stepped == nil {
		return job, err
	}
	return stepped, err
}

// ContinueExport runs one more step of an export job
func (e *Engine) ContinueExport(ctx context.Context, id string) (*dbjob.ExportJob, error) {
	if err := e.requireDB(); err != nil {
		return nil, err
	}
	return e.exporter.ContinueStep(ctx, id)
}

// StartRestoreJob starts a resumable restore and runs its first step
func (e *Engine) StartRestoreJob(ctx context.Context, meta dbjob.RestoreMeta) (*dbjob.RestoreJob, error) {
	if err := license.Require(ctx, e.gate, "start database restore"); err != nil {
		return nil, err
	}
	if err := e.requireDB(); err != nil {
		return nil, err
	}
	job, err := e.dbRestorer.Start(ctx, meta)
	if err != nil {
		return nil, err
	}
	stepped, err := e.dbRestorer.ContinueStep(ctx, job.ID)
	if stepped == nil {
		return job, err
	}
	return stepped, err
}

// ContinueRestore runs one more step of a restore job
func (e *Engine) ContinueRestore(ctx context.Context, id string) (*dbjob.RestoreJob, error) {
	if err := e.requireDB(); err != nil {
		return nil, err
	}
	return e.dbRestorer.ContinueStep(ctx, id)
}

// RestoreAllChunks replays a whole pro dump in one go, without time limit or
// scheduling
func (e *Engine) RestoreAllChunks(ctx context.Context, meta dbjob.RestoreMeta) (*dbjob.RestoreJob, error) {
	if err := license.Require(ctx, e.gate, "start database restore"); err != nil {
		return nil, err
	}
	if err := e.requireDB(); err != nil {
		return nil, err
	}
	return e.dbRestorer.RestoreAll(ctx, meta)
}

// GetExportJob loads an export job
func (e *Engine) GetExportJob(ctx context.Context, id string) (*dbjob.ExportJob, error) {
	return e.jobs.LoadExport(ctx, id)
}

// GetRestoreJob loads a restore job
func (e *Engine) GetRestoreJob(ctx context.Context, id string) (*dbjob.RestoreJob, error) {
	return e.jobs.LoadRestore(ctx, id)
}

// ListExportJobs returns export jobs, newest first
func (e *Engine) ListExportJobs(ctx context.Context) ([]*dbjob.ExportJob, error) {
	return e.jobs.ListExports(ctx)
}

// ListRestoreJobs returns restore jobs, newest first
func (e *Engine) ListRestoreJobs(ctx context.Context) ([]*dbjob.RestoreJob, error) {
	return e.jobs.ListRestores(ctx)
}

// Run executes a scheduled continuation. Tasks for jobs that no longer exist
// are dropped.
func (e *Engine) Run(ctx context.Context, task scheduler.Task) error {
	var err error
	switch task.Kind {
	case scheduler.KindExport:
		_, err = e.ContinueExport(ctx, task.JobID)
	case scheduler.KindRestore:
		_, err = e.ContinueRestore(ctx, task.JobID)
	default:
		e.logger.WithContext(ctx).WithField("kind", task.Kind).Warn("Dropping task of unknown kind")
		return nil
	}
	if apperrors.IsNotFound(err) {
		e.logger.WithContext(ctx).WithField("job_id", task.JobID).Warn("Dropping task for unknown job")
		return nil
	}
	return err
}

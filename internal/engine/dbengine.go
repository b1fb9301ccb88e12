package engine

import (
	"context"
	"fmt"

	"site-guardian/internal/config"
	"site-guardian/internal/dbjob"
	"site-guardian/internal/dbsnapshot"
	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/restorepoint"
)

// DBEngine puts the database into a restore point and back
type DBEngine interface {
	Name() string
	Snapshot(ctx context.Context, restorePointID string) (*restorepoint.DBSnapshot, error)
	Restore(ctx context.Context, restorePointID string, snap *restorepoint.DBSnapshot) (*DBRestoreResult, error)
}

// DBRestoreResult reports a database restore. Pro restores report the job
// they started.
type DBRestoreResult struct {
	Engine     string `json:"engine"`
	OK         bool   `json:"ok"`
	Statements int    `json:"statements"`
	Errors     int    `json:"errors"`
	JobID      string `json:"job_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Progress   int    `json:"progress,omitempty"`
}

// dbEngines is the capability table of database engines
var dbEngines = map[string]func(*Engine) DBEngine{
	config.EngineBasic: func(e *Engine) DBEngine { return &basicEngine{e: e} },
	config.EnginePro:   func(e *Engine) DBEngine { return &proEngine{e: e} },
}

func (e *Engine) engineFor(name string) (DBEngine, error) {
	if name == "" {
		name = config.EngineBasic
	}
	build, ok := dbEngines[name]
	if !ok {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("unknown database engine %q", name), nil)
	}
	return build(e), nil
}

type basicEngine struct {
	e *Engine
}

func (b *basicEngine) Name() string { return config.EngineBasic }

func (b *basicEngine) Snapshot(ctx context.Context, restorePointID string) (*restorepoint.DBSnapshot, error) {
	s := b.e.settings.DB
	result, err := b.e.snapshot.Export(ctx, dbsnapshot.ExportOptions{
		RestorePointID: restorePointID,
		TablesMode:     s.TablesMode,
		CustomTables:   s.CustomTables,
		Prefix:         s.TablePrefix,
		MaxSeconds:     s.MaxSeconds,
		PageRows:       s.ChunkRows,
	})
	if err != nil {
		return nil, err
	}
	return &restorepoint.DBSnapshot{
		Engine:     config.EngineBasic,
		OK:         true,
		Key:        result.Key,
		Tables:     result.Tables,
		Rows:       result.Counts.Rows,
		Statements: result.Counts.Statements,
		Truncated:  result.Truncated,
	}, nil
}

func (b *basicEngine) Restore(ctx context.Context, restorePointID string, snap *restorepoint.DBSnapshot) (*DBRestoreResult, error) {
	key := snap.Key
	if key == "" {
		key = dbsnapshot.Key(restorePointID, b.e.objects.Extension())
	}
	result, err := b.e.snapshot.Restore(ctx, key)
	if err != nil {
		return nil, err
	}
	return &DBRestoreResult{
		Engine:     config.EngineBasic,
		OK:         result.OK,
		Statements: result.Statements,
		Errors:     result.Errors,
	}, nil
}

type proEngine struct {
	e *Engine
}

func (p *proEngine) Name() string { return config.EnginePro }

// Snapshot starts an export job and runs its first step; the scheduler
// carries it on
func (p *proEngine) Snapshot(ctx context.Context, restorePointID string) (*restorepoint.DBSnapshot, error) {
	job, err := p.e.startExport(ctx, restorePointID)
	if job == nil {
		return nil, err
	}
	return exportSnapshot(job), err
}

func exportSnapshot(job *dbjob.ExportJob) *restorepoint.DBSnapshot {
	return &restorepoint.DBSnapshot{
		Engine:    config.EnginePro,
		OK:        job.Status != dbjob.StatusError,
		Error:     job.LastError,
		Tables:    job.Tables,
		Rows:      job.Counts.Rows,
		JobID:     job.ID,
		Status:    string(job.Status),
		SchemaKey: job.SchemaKey,
		DumpRoot:  job.DumpRoot,
		Chunks:    job.Counts.Chunks,
		Progress:  job.Progress,
	}
}

func (p *proEngine) Restore(ctx context.Context, restorePointID string, snap *restorepoint.DBSnapshot) (*DBRestoreResult, error) {
	job, err := p.e.StartRestoreJob(ctx, dbjob.RestoreMeta{
		ExportJobID:    snap.JobID,
		RestorePointID: restorePointID,
		SchemaKey:      snap.SchemaKey,
		DumpRoot:       snap.DumpRoot,
	})
	if err != nil {
		return nil, err
	}
	return &DBRestoreResult{
		Engine:     config.EnginePro,
		OK:         job.Status != dbjob.StatusError,
		Statements: job.Counts.Statements,
		Errors:     job.Counts.Errors,
		JobID:      job.ID,
		Status:     string(job.Status),
		Progress:   job.Progress,
	}, nil
}

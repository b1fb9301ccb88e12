package dbjob

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/juju/clock"

	"site-guardian/internal/database"
	"site-guardian/internal/dbsnapshot"
	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/logging"
	"site-guardian/internal/scheduler"
	"site-guardian/internal/storage"
)

// DefaultRestoreDelay is how long a pending restore waits for its next step
const DefaultRestoreDelay = 30 * time.Second

// RestoreMeta points a restore at a dump, usually taken from a manifest
type RestoreMeta struct {
	ExportJobID    string
	RestorePointID string
	SchemaKey      string
	DumpRoot       string
}

// Restorer replays resumable dumps
type Restorer struct {
	db         database.Database
	objects    *storage.ObjectStore
	jobs       *Store
	scheduler  scheduler.Scheduler
	clock      clock.Clock
	delay      time.Duration
	maxSeconds int
	logger     *logging.Logger
}

// NewRestorer creates a Restorer. maxSeconds is the per-step budget given to
// new jobs.
func NewRestorer(db database.Database, objects *storage.ObjectStore, jobs *Store, sched scheduler.Scheduler, clk clock.Clock, delay time.Duration, maxSeconds int, logger *logging.Logger) *Restorer {
	if clk == nil {
		clk = clock.WallClock
	}
	if delay <= 0 {
		delay = DefaultRestoreDelay
	}
	if maxSeconds <= 0 {
		maxSeconds = DefaultMaxSeconds
	}
	return &Restorer{
		db:         db,
		objects:    objects,
		jobs:       jobs,
		scheduler:  sched,
		clock:      clk,
		delay:      delay,
		maxSeconds: maxSeconds,
		logger:     logging.OrDefault(logger),
	}
}

// Start checks that the dump is complete and persists a pending restore job.
// It fails with MISSING_DUMP when the export is unfinished or the schema or
// table chunks are absent.
func (r *Restorer) Start(ctx context.Context, meta RestoreMeta) (*RestoreJob, error) {
	var export *ExportJob
	if meta.ExportJobID != "" {
		job, err := r.jobs.LoadExport(ctx, meta.ExportJobID)
		if err != nil {
			if apperrors.IsNotFound(err) {
				return nil, apperrors.NewMissingDumpError(fmt.Sprintf("export job %s not found", meta.ExportJobID), err)
			}
			return nil, err
		}
		if job.Status != StatusDone {
			return nil, apperrors.NewMissingDumpError(fmt.Sprintf("export job %s is %s, not done", job.ID, job.Status), nil)
		}
		export = job
		if meta.RestorePointID == "" {
			meta.RestorePointID = job.RestorePointID
		}
		if meta.SchemaKey == "" {
			meta.SchemaKey = job.SchemaKey
		}
		if meta.DumpRoot == "" {
			meta.DumpRoot = job.DumpRoot
		}
	}
	if meta.RestorePointID == "" && (meta.SchemaKey == "" || meta.DumpRoot == "") {
		return nil, apperrors.NewValidationError("restore needs a restore point or an export job", nil)
	}
	if meta.SchemaKey == "" {
		meta.SchemaKey = SchemaKey(meta.RestorePointID, r.objects.Extension())
	}
	if meta.DumpRoot == "" {
		meta.DumpRoot = DumpRoot(meta.RestorePointID)
	}
	if !strings.HasSuffix(meta.DumpRoot, "/") {
		meta.DumpRoot += "/"
	}

	exists, err := r.objects.Exists(ctx, meta.SchemaKey)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperrors.NewMissingDumpError(fmt.Sprintf("schema %s not found", meta.SchemaKey), nil)
	}

	tables, err := r.tableDirs(ctx, meta.DumpRoot)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 && export != nil && export.Counts.Chunks > 0 {
		return nil, apperrors.NewMissingDumpError(fmt.Sprintf("no table chunks under %s", meta.DumpRoot), nil)
	}

	now := r.clock.Now().UTC()
	job := &RestoreJob{
		ID:             newJobID(now, "dbpro-restore"),
		ExportJobID:    meta.ExportJobID,
		RestorePointID: meta.RestorePointID,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		SchemaKey:      meta.SchemaKey,
		DumpRoot:       meta.DumpRoot,
		Tables:         tables,
		MaxSeconds:     r.maxSeconds,
	}
	if err := r.jobs.SaveRestore(ctx, job); err != nil {
		return nil, err
	}

	r.logger.WithFields(map[string]interface{}{
		"job_id":        job.ID,
		"restore_point": job.RestorePointID,
		"tables":        len(tables),
	}).Info("Restore job started")
	return job, nil
}

// tableDirs lists the table directories under root in key order
func (r *Restorer) tableDirs(ctx context.Context, root string) ([]string, error) {
	objects, err := r.objects.List(ctx, root)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var tables []string
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Key, root)
		idx := strings.Index(rel, "/")
		if idx <= 0 || !strings.HasPrefix(rel[idx+1:], chunkPrefix) {
			continue
		}
		table := rel[:idx]
		if !seen[table] {
			seen[table] = true
			tables = append(tables, table)
		}
	}
	sort.Strings(tables)
	return tables, nil
}

// chunks lists the chunk keys of table in key order
func (r *Restorer) chunks(ctx context.Context, root, table string) ([]string, error) {
	prefix := root + table + "/" + chunkPrefix
	objects, err := r.objects.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		if strings.Contains(strings.TrimPrefix(obj.Key, root+table+"/"), "/") {
			continue
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

// ContinueStep runs one time-boxed step of restore job id
func (r *Restorer) ContinueStep(ctx context.Context, id string) (*RestoreJob, error) {
	return r.continueStep(ctx, id, true)
}

func (r *Restorer) continueStep(ctx context.Context, id string, bounded bool) (*RestoreJob, error) {
	unlock := r.jobs.lock(id)
	defer unlock()

	job, err := r.jobs.LoadRestore(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusPending {
		return job, nil
	}

	start := r.clock.Now()
	budget := time.Duration(job.MaxSeconds) * time.Second
	if !bounded {
		budget = 0
	}
	job.Steps++

	saveCtx := context.WithoutCancel(ctx)

	if err := r.step(ctx, job, start, budget); err != nil {
		if job.Status == StatusError {
			job.UpdatedAt = r.clock.Now().UTC()
			if serr := r.jobs.SaveRestore(saveCtx, job); serr != nil {
				r.logger.WithError(serr).Error("Failed to record restore failure")
			}
		}
		return job, err
	}

	if job.Cursor.SchemaDone && job.Cursor.TableIndex >= len(job.Tables) {
		job.Status = StatusDone
	}
	job.Progress = progress(job.Status, job.Cursor.SchemaDone, job.Cursor.TableIndex, len(job.Tables))
	job.UpdatedAt = r.clock.Now().UTC()
	if err := r.jobs.SaveRestore(saveCtx, job); err != nil {
		return job, err
	}

	r.logger.LogJobStep(string(scheduler.KindRestore), job.ID, string(job.Status), job.Progress, r.clock.Now().Sub(start))
	if bounded && job.Status == StatusPending && r.scheduler != nil {
		task := scheduler.Task{JobID: job.ID, Kind: scheduler.KindRestore}
		if err := r.scheduler.ScheduleOnce(saveCtx, task, r.delay); err != nil {
			r.logger.WithField("job_id", job.ID).WithError(err).Warn("Failed to schedule next restore step")
		}
	}
	return job, nil
}

// step applies the schema once, then chunks from the cursor. A zero budget
// means no time limit.
func (r *Restorer) step(ctx context.Context, job *RestoreJob, start time.Time, budget time.Duration) error {
	if !job.Cursor.SchemaDone {
		data, err := r.objects.Get(ctx, job.SchemaKey)
		if err != nil {
			if apperrors.Interrupted(ctx, err) {
				return nil
			}
			if apperrors.IsNotFound(err) {
				return r.fail(job, apperrors.NewMissingDumpError(fmt.Sprintf("schema %s not found", job.SchemaKey), err))
			}
			return r.fail(job, apperrors.NewIOFailureError("failed to read schema", err))
		}
		applied, err := dbsnapshot.ApplyBytes(ctx, r.db, data, r.logger)
		job.Counts.Statements += applied.Statements
		job.Counts.Errors += applied.Errors
		if err != nil {
			return r.yield(ctx, job, job.SchemaKey, err)
		}
		job.Cursor.SchemaDone = true
		if err := r.persist(ctx, job); err != nil {
			return err
		}
	}

	for job.Cursor.TableIndex < len(job.Tables) {
		if budget > 0 && r.clock.Now().Sub(start) >= budget {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		table := job.Tables[job.Cursor.TableIndex]
		keys, err := r.chunks(ctx, job.DumpRoot, table)
		if err != nil {
			if apperrors.Interrupted(ctx, err) {
				return nil
			}
			return r.fail(job, apperrors.NewIOFailureError("failed to list chunks", err).WithContext("table", table))
		}

		if job.Cursor.ChunkIndex >= len(keys) {
			job.Cursor.TableIndex++
			job.Cursor.ChunkIndex = 0
			job.Counts.Tables++
			if err := r.persist(ctx, job); err != nil {
				return err
			}
			continue
		}

		key := keys[job.Cursor.ChunkIndex]
		data, err := r.objects.Get(ctx, key)
		switch {
		case err != nil && apperrors.Interrupted(ctx, err):
			return nil
		case apperrors.IsNotFound(err):
			r.logger.WithField("key", key).Warn("Skipping unreadable chunk")
			job.Counts.Errors++
			job.Errors = recordError(job.Errors, fmt.Sprintf("%s: %v", key, err))
		case err != nil:
			return r.fail(job, apperrors.NewIOFailureError("failed to read chunk", err).WithContext("key", key))
		default:
			applied, err := dbsnapshot.ApplyBytes(ctx, r.db, data, r.logger)
			job.Counts.Statements += applied.Statements
			job.Counts.Errors += applied.Errors
			if err != nil {
				return r.yield(ctx, job, key, err)
			}
			job.Counts.Chunks++
		}

		job.Cursor.ChunkIndex++
		if err := r.persist(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// RestoreAll starts a restore and runs it to completion without time limit
// or scheduling
func (r *Restorer) RestoreAll(ctx context.Context, meta RestoreMeta) (*RestoreJob, error) {
	job, err := r.Start(ctx, meta)
	if err != nil {
		return nil, err
	}
	for job.Status == StatusPending {
		if err := ctx.Err(); err != nil {
			return job, err
		}
		if job, err = r.continueStep(ctx, job.ID, false); err != nil {
			return job, err
		}
	}
	return job, nil
}

func (r *Restorer) persist(ctx context.Context, job *RestoreJob) error {
	job.Progress = progress(job.Status, job.Cursor.SchemaDone, job.Cursor.TableIndex, len(job.Tables))
	job.UpdatedAt = r.clock.Now().UTC()
	return r.jobs.SaveRestore(context.WithoutCancel(ctx), job)
}

// yield ends a step whose replay of key stopped part way. The cursor stays on
// key so the next step replays it from the start; the statements already run
// are kept in the counts. Anything but an interruption fails the job.
func (r *Restorer) yield(ctx context.Context, job *RestoreJob, key string, err error) error {
	if !apperrors.Interrupted(ctx, err) {
		return r.fail(job, apperrors.NewIOFailureError("failed to replay dump", err).WithContext("key", key))
	}
	r.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"job_id": job.ID,
		"key":    key,
	}).WithError(err).Warn("Restore step interrupted, resuming later")
	return r.persist(ctx, job)
}

func (r *Restorer) fail(job *RestoreJob, err error) error {
	job.Status = StatusError
	job.LastError = err.Error()
	job.Errors = recordError(job.Errors, err.Error())
	r.logger.WithField("job_id", job.ID).WithError(err).Error("Restore job failed")
	return err
}

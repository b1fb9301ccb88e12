package dbjob

import (
	"context"
	"fmt"
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

// DefaultExportDelay is how long a pending export waits for its next step
const DefaultExportDelay = 60 * time.Second

// ExportOptions configure a new export job
type ExportOptions struct {
	RestorePointID string
	TablesMode     database.TablesMode
	CustomTables   string
	Prefix         string
	ChunkRows      int
	MaxSeconds     int
}

// Exporter runs resumable exports
type Exporter struct {
	db        database.Database
	objects   *storage.ObjectStore
	jobs      *Store
	scheduler scheduler.Scheduler
	clock     clock.Clock
	delay     time.Duration
	logger    *logging.Logger
}

// NewExporter creates an Exporter. A nil scheduler leaves continuation to the
// caller.
func NewExporter(db database.Database, objects *storage.ObjectStore, jobs *Store, sched scheduler.Scheduler, clk clock.Clock, delay time.Duration, logger *logging.Logger) *Exporter {
	if clk == nil {
		clk = clock.WallClock
	}
	if delay <= 0 {
		delay = DefaultExportDelay
	}
	return &Exporter{
		db:        db,
		objects:   objects,
		jobs:      jobs,
		scheduler: sched,
		clock:     clk,
		delay:     delay,
		logger:    logging.OrDefault(logger),
	}
}

// Start resolves the table list and persists a pending job. No data is
// exported until the first step.
func (e *Exporter) Start(ctx context.Context, opts ExportOptions) (*ExportJob, error) {
	if opts.RestorePointID == "" {
		return nil, apperrors.NewValidationError("restore point id is required", nil)
	}
	if opts.ChunkRows < 1 {
		opts.ChunkRows = DefaultChunkRows
	}
	if opts.MaxSeconds <= 0 {
		opts.MaxSeconds = DefaultMaxSeconds
	}

	tables, err := database.ResolveTables(ctx, e.db, opts.TablesMode, opts.Prefix, opts.CustomTables)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now().UTC()
	job := &ExportJob{
		ID:             newJobID(now, "dbpro"),
		RestorePointID: opts.RestorePointID,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		TablesMode:     opts.TablesMode,
		Tables:         tables,
		ChunkRows:      opts.ChunkRows,
		MaxSeconds:     opts.MaxSeconds,
		SchemaKey:      SchemaKey(opts.RestorePointID, e.objects.Extension()),
		DumpRoot:       DumpRoot(opts.RestorePointID),
	}
	if err := e.jobs.SaveExport(ctx, job); err != nil {
		return nil, err
	}

	e.logger.WithFields(map[string]interface{}{
		"job_id":        job.ID,
		"restore_point": job.RestorePointID,
		"tables":        len(tables),
	}).Info("Export job started")
	return job, nil
}

// ContinueStep runs one time-boxed step of export job id. Finished jobs are
// returned unchanged. A step that leaves the job pending schedules the next
// one.
func (e *Exporter) ContinueStep(ctx context.Context, id string) (*ExportJob, error) {
	unlock := e.jobs.lock(id)
	defer unlock()

	job, err := e.jobs.LoadExport(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusPending {
		return job, nil
	}

	start := e.clock.Now()
	budget := time.Duration(job.MaxSeconds) * time.Second
	job.Steps++

	// the record and the next trigger must be written even when ctx was
	// cancelled mid-step
	saveCtx := context.WithoutCancel(ctx)

	if err := e.step(ctx, job, start, budget); err != nil {
		if job.Status == StatusError {
			job.UpdatedAt = e.clock.Now().UTC()
			if serr := e.jobs.SaveExport(saveCtx, job); serr != nil {
				e.logger.WithError(serr).Error("Failed to record export failure")
			}
		}
		return job, err
	}

	if job.Cursor.SchemaDone && job.Cursor.TableIndex >= len(job.Tables) {
		job.Status = StatusDone
	}
	job.Progress = progress(job.Status, job.Cursor.SchemaDone, job.Cursor.TableIndex, len(job.Tables))
	job.UpdatedAt = e.clock.Now().UTC()
	if err := e.jobs.SaveExport(saveCtx, job); err != nil {
		return job, err
	}

	e.logger.LogJobStep(string(scheduler.KindExport), job.ID, string(job.Status), job.Progress, e.clock.Now().Sub(start))
	if job.Status == StatusPending {
		e.scheduleNext(saveCtx, job.ID)
	}
	return job, nil
}

func (e *Exporter) step(ctx context.Context, job *ExportJob, start time.Time, budget time.Duration) error {
	if !job.Cursor.SchemaDone {
		written, err := e.writeSchema(ctx, job)
		if err != nil || !written {
			return err
		}
		job.Cursor.SchemaDone = true
		if err := e.persist(ctx, job); err != nil {
			return err
		}
	}

	for job.Cursor.TableIndex < len(job.Tables) {
		if e.clock.Now().Sub(start) >= budget {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return nil
		}

		table := job.Tables[job.Cursor.TableIndex]
		// one extra row tells whether the table continues past this chunk
		page, err := e.db.Query(ctx, database.SelectPage(table, job.ChunkRows+1, job.Cursor.Offset))
		if err != nil {
			if apperrors.Interrupted(ctx, err) {
				e.logger.WithContext(ctx).WithFields(map[string]interface{}{
					"job_id": job.ID,
					"table":  table,
					"offset": job.Cursor.Offset,
				}).WithError(err).Warn("Export step interrupted, resuming later")
				return nil
			}
			e.logger.WithField("table", table).WithError(err).Warn("Skipping unreadable table")
			job.Counts.Errors++
			job.Errors = recordError(job.Errors, fmt.Sprintf("%s: %v", table, err))
			job.Cursor.TableIndex++
			job.Cursor.Offset = 0
			if err := e.persist(ctx, job); err != nil {
				return err
			}
			continue
		}

		rows := page.Rows
		more := len(rows) > job.ChunkRows
		if more {
			rows = rows[:job.ChunkRows]
		}

		if len(rows) > 0 {
			index := job.Cursor.Offset/job.ChunkRows + 1
			key := ChunkKey(job.RestorePointID, table, index, e.objects.Extension())
			if err := e.objects.Put(ctx, key, chunkDump(job.RestorePointID, table, index, page.Columns, rows, e.clock.Now())); err != nil {
				if apperrors.Interrupted(ctx, err) {
					return nil
				}
				return e.fail(job, apperrors.NewIOFailureError("failed to write chunk", err).WithContext("key", key))
			}
			job.Counts.Chunks++
			job.Counts.Rows += len(rows)
		}

		if more {
			job.Cursor.Offset += job.ChunkRows
		} else {
			job.Cursor.TableIndex++
			job.Cursor.Offset = 0
			job.Counts.Tables++
		}
		if err := e.persist(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// writeSchema stores the DDL of every table. It reports false, leaving the
// job untouched, when the step was interrupted before all definitions were
// read.
func (e *Exporter) writeSchema(ctx context.Context, job *ExportJob) (bool, error) {
	var (
		b       strings.Builder
		skipped []string
	)
	b.WriteString(dbsnapshot.DumpHeader("schema dump", job.RestorePointID, e.clock.Now()))
	for _, table := range job.Tables {
		ddl, err := e.db.ShowCreateTable(ctx, table)
		if err != nil {
			if apperrors.Interrupted(ctx, err) {
				e.logger.WithField("job_id", job.ID).WithError(err).Warn("Schema export interrupted, resuming later")
				return false, nil
			}
			e.logger.WithField("table", table).WithError(err).Warn("Skipping table without definition")
			skipped = append(skipped, fmt.Sprintf("%s: %v", table, err))
			continue
		}
		b.WriteString(dbsnapshot.TableSchema(table, ddl))
	}
	b.WriteString(dbsnapshot.DumpFooter)

	if err := e.objects.Put(ctx, job.SchemaKey, []byte(b.String())); err != nil {
		if apperrors.Interrupted(ctx, err) {
			return false, nil
		}
		return false, e.fail(job, apperrors.NewIOFailureError("failed to write schema", err).WithContext("key", job.SchemaKey))
	}
	for _, msg := range skipped {
		job.Counts.Errors++
		job.Errors = recordError(job.Errors, msg)
	}
	return true, nil
}

func chunkDump(restorePointID, table string, index int, columns []string, rows [][]any, now time.Time) []byte {
	var b strings.Builder
	b.WriteString(dbsnapshot.DumpHeader(fmt.Sprintf("data dump %s chunk %d", table, index), restorePointID, now))
	for _, row := range rows {
		b.WriteString(database.InsertStatement(table, columns, row))
	}
	b.WriteString(dbsnapshot.DumpFooter)
	return []byte(b.String())
}

// persist saves the cursor mid-step
func (e *Exporter) persist(ctx context.Context, job *ExportJob) error {
	job.Progress = progress(job.Status, job.Cursor.SchemaDone, job.Cursor.TableIndex, len(job.Tables))
	job.UpdatedAt = e.clock.Now().UTC()
	return e.jobs.SaveExport(context.WithoutCancel(ctx), job)
}

func (e *Exporter) fail(job *ExportJob, err error) error {
	job.Status = StatusError
	job.LastError = err.Error()
	job.Errors = recordError(job.Errors, err.Error())
	e.logger.WithField("job_id", job.ID).WithError(err).Error("Export job failed")
	return err
}

func (e *Exporter) scheduleNext(ctx context.Context, id string) {
	if e.scheduler == nil {
		return
	}
	if err := e.scheduler.ScheduleOnce(ctx, scheduler.Task{JobID: id, Kind: scheduler.KindExport}, e.delay); err != nil {
		e.logger.WithField("job_id", id).WithError(err).Warn("Failed to schedule next export step")
	}
}

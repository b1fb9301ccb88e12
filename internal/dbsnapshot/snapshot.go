// Package dbsnapshot is the single-shot database snapshot engine: one time
// budgeted export into a single dump object, and a best-effort replay.
package dbsnapshot

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"

	"site-guardian/internal/database"
	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/logging"
	"site-guardian/internal/storage"
)

// Defaults applied to unset options
const (
	DefaultPageRows   = 500
	DefaultMaxSeconds = 20
)

// Key returns the dump key of a restore point: db/<id>.sql<ext>
func Key(restorePointID, ext string) string {
	return "db/" + restorePointID + ".sql" + ext
}

// ExportOptions configure an export
type ExportOptions struct {
	RestorePointID string
	TablesMode     database.TablesMode
	CustomTables   string
	Prefix         string
	MaxSeconds     int
	PageRows       int
}

// Counts aggregates an export
type Counts struct {
	Tables     int `json:"tables"`
	Rows       int `json:"rows"`
	Statements int `json:"statements"`
}

// ExportResult describes a written dump
type ExportResult struct {
	Key       string
	Tables    []string
	Counts    Counts
	Truncated bool
}

// RestoreResult summarises a replay
type RestoreResult struct {
	OK         bool
	Statements int
	Errors     int
	Discarded  string
}

// Snapshot exports and restores single-object dumps
type Snapshot struct {
	db      database.Database
	objects *storage.ObjectStore
	clock   clock.Clock
	logger  *logging.Logger
}

// New creates a Snapshot
func New(db database.Database, objects *storage.ObjectStore, clk clock.Clock, logger *logging.Logger) *Snapshot {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Snapshot{
		db:      db,
		objects: objects,
		clock:   clk,
		logger:  logging.OrDefault(logger),
	}
}

// Export dumps the selected tables. Once MaxSeconds have elapsed, or when ctx
// is cancelled or the connection drops, the export stops where it is and the
// result is marked truncated; what was dumped so far is still stored.
func (s *Snapshot) Export(ctx context.Context, opts ExportOptions) (*ExportResult, error) {
	if opts.RestorePointID == "" {
		return nil, apperrors.NewValidationError("restore point id is required", nil)
	}
	if opts.PageRows < 1 {
		opts.PageRows = DefaultPageRows
	}
	if opts.MaxSeconds <= 0 {
		opts.MaxSeconds = DefaultMaxSeconds
	}
	budget := time.Duration(opts.MaxSeconds) * time.Second
	start := s.clock.Now()

	tables, err := database.ResolveTables(ctx, s.db, opts.TablesMode, opts.Prefix, opts.CustomTables)
	if err != nil {
		return nil, err
	}

	result := &ExportResult{
		Key:    Key(opts.RestorePointID, s.objects.Extension()),
		Tables: tables,
	}

	var dump bytes.Buffer
	dump.WriteString(DumpHeader("database dump", opts.RestorePointID, start))

tables:
	for _, table := range tables {
		if s.clock.Now().Sub(start) >= budget {
			result.Truncated = true
			break
		}

		ddl, err := s.db.ShowCreateTable(ctx, table)
		if err != nil {
			if apperrors.Interrupted(ctx, err) {
				s.logger.WithField("table", table).WithError(err).Warn("Database export interrupted")
				result.Truncated = true
				break
			}
			s.logger.WithField("table", table).WithError(err).Warn("Skipping table without definition")
			continue
		}
		dump.WriteString(TableSchema(table, ddl))
		result.Counts.Tables++
		result.Counts.Statements += 2

		for offset := 0; ; offset += opts.PageRows {
			if s.clock.Now().Sub(start) >= budget {
				result.Truncated = true
				break tables
			}

			page, err := s.db.Query(ctx, database.SelectPage(table, opts.PageRows, offset))
			if err != nil {
				if apperrors.Interrupted(ctx, err) {
					s.logger.WithField("table", table).WithError(err).Warn("Database export interrupted")
					result.Truncated = true
					dump.WriteString("\n")
					break tables
				}
				s.logger.WithField("table", table).WithError(err).Warn("Failed to read table rows")
				break
			}
			for _, row := range page.Rows {
				dump.WriteString(database.InsertStatement(table, page.Columns, row))
				result.Counts.Rows++
				result.Counts.Statements++
			}
			if len(page.Rows) < opts.PageRows {
				break
			}
		}
		dump.WriteString("\n")
	}
	dump.WriteString(DumpFooter)

	// a truncated dump is still stored after cancellation
	if err := s.objects.Put(context.WithoutCancel(ctx), result.Key, dump.Bytes()); err != nil {
		return nil, apperrors.NewIOFailureError("failed to store database dump", err).WithContext("key", result.Key)
	}

	s.logger.WithFields(map[string]interface{}{
		"restore_point": opts.RestorePointID,
		"tables":        result.Counts.Tables,
		"rows":          result.Counts.Rows,
		"truncated":     result.Truncated,
		"duration":      s.clock.Now().Sub(start).String(),
	}).Info("Database export finished")
	return result, nil
}

// Restore replays the dump stored under key. Statement failures are counted,
// not fatal.
func (s *Snapshot) Restore(ctx context.Context, key string) (*RestoreResult, error) {
	data, err := s.objects.Get(ctx, key)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, apperrors.NewMissingDumpError(fmt.Sprintf("database dump %s not found", key), err)
		}
		return nil, err
	}

	applied, err := ApplyBytes(ctx, s.db, data, s.logger)
	if err != nil {
		return nil, err
	}

	result := &RestoreResult{
		OK:         applied.Errors == 0,
		Statements: applied.Statements,
		Errors:     applied.Errors,
		Discarded:  applied.Remainder,
	}
	s.logger.WithFields(map[string]interface{}{
		"key":        key,
		"statements": result.Statements,
		"errors":     result.Errors,
	}).Info("Database restore finished")
	return result, nil
}

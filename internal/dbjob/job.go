// Package dbjob runs database exports and restores as resumable jobs. Each
// invocation does one time-boxed step and persists a cursor after every
// chunk, so an interrupted step loses at most one chunk of work.
package dbjob

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"site-guardian/internal/database"
)

// Status of a job. done and error are terminal.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Defaults applied to unset job parameters
const (
	DefaultChunkRows  = 500
	DefaultMaxSeconds = 20
)

const (
	jobsPrefix        = "db-pro/jobs/"
	restoreJobsPrefix = "db-pro/restore-jobs/"
	dumpsPrefix       = "db-pro/dumps/"
	chunkPrefix       = "chunk-"
)

// DumpRoot returns the directory holding the dump of a restore point
func DumpRoot(restorePointID string) string {
	return dumpsPrefix + restorePointID + "/"
}

// SchemaKey returns the key of the schema file of a restore point dump
func SchemaKey(restorePointID, ext string) string {
	return DumpRoot(restorePointID) + "schema.sql" + ext
}

// ChunkKey returns the key of chunk index (1-based) of table
func ChunkKey(restorePointID, table string, index int, ext string) string {
	return fmt.Sprintf("%s%s/%s%06d.sql%s", DumpRoot(restorePointID), table, chunkPrefix, index, ext)
}

func newJobID(now time.Time, tag string) string {
	return now.UTC().Format("20060102-150405") + "-" + tag + "-" + uuid.NewString()[:6]
}

// ExportCursor is where the next export step resumes
type ExportCursor struct {
	TableIndex int  `json:"table_index"`
	Offset     int  `json:"offset"`
	SchemaDone bool `json:"schema_done"`
}

// ExportCounts accumulates over all steps of an export
type ExportCounts struct {
	Tables int `json:"tables"`
	Chunks int `json:"chunks"`
	Rows   int `json:"rows"`
	Errors int `json:"errors"`
}

// ExportJob is the persisted record of a resumable export. The table list
// is resolved once when the job starts.
type ExportJob struct {
	ID             string              `json:"id"`
	RestorePointID string              `json:"restore_point_id"`
	Status         Status              `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	TablesMode     database.TablesMode `json:"tables_mode"`
	Tables         []string            `json:"tables"`
	ChunkRows      int                 `json:"chunk_rows"`
	MaxSeconds     int                 `json:"max_seconds"`
	SchemaKey      string              `json:"schema_key"`
	DumpRoot       string              `json:"dump_root"`
	Cursor         ExportCursor        `json:"cursor"`
	Counts         ExportCounts        `json:"counts"`
	Progress       int                 `json:"progress"`
	Steps          int                 `json:"steps"`
	Errors         []string            `json:"errors,omitempty"`
	LastError      string              `json:"last_error,omitempty"`
}

// RestoreCursor is where the next restore step resumes
type RestoreCursor struct {
	TableIndex int  `json:"table_index"`
	ChunkIndex int  `json:"chunk_index"`
	SchemaDone bool `json:"schema_done"`
}

// RestoreCounts accumulates over all steps of a restore
type RestoreCounts struct {
	Tables     int `json:"tables"`
	Chunks     int `json:"chunks"`
	Statements int `json:"statements"`
	Errors     int `json:"errors"`
}

// RestoreJob is the persisted record of a resumable restore. Table
// directories are listed once when the job starts; chunks are listed in
// key order on every step.
type RestoreJob struct {
	ID             string        `json:"id"`
	ExportJobID    string        `json:"export_job_id,omitempty"`
	RestorePointID string        `json:"restore_point_id"`
	Status         Status        `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	SchemaKey      string        `json:"schema_key"`
	DumpRoot       string        `json:"dump_root"`
	Tables         []string      `json:"tables"`
	MaxSeconds     int           `json:"max_seconds"`
	Cursor         RestoreCursor `json:"cursor"`
	Counts         RestoreCounts `json:"counts"`
	Progress       int           `json:"progress"`
	Steps          int           `json:"steps"`
	Errors         []string      `json:"errors,omitempty"`
	LastError      string        `json:"last_error,omitempty"`
}

// progress maps a table position to a percentage. It stays below 100 until
// the job is done and at 0 until the schema has been handled.
func progress(status Status, schemaDone bool, tableIndex, total int) int {
	if status == StatusDone {
		return 100
	}
	if !schemaDone || total <= 0 {
		return 0
	}
	p := tableIndex * 100 / total
	if p > 99 {
		p = 99
	}
	return p
}

const maxRecordedErrors = 50

func recordError(errs []string, msg string) []string {
	if len(errs) >= maxRecordedErrors {
		return errs
	}
	return append(errs, msg)
}

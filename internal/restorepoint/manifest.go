// Package restorepoint builds, stores and restores deduplicated file-tree
// restore points.
package restorepoint

import (
	"time"

	"github.com/google/uuid"
)

// ManifestVersion is written into every new manifest
const ManifestVersion = 1

// Database engine tags recorded in a manifest
const (
	EngineBasic = "basic"
	EnginePro   = "pro"
)

// Entry describes one file of a restore point. Skipped entries have no hash
// and cannot be restored.
type Entry struct {
	Hash    string `json:"hash,omitempty"`
	Size    int64  `json:"size"`
	MTime   int64  `json:"mtime"`
	Skipped bool   `json:"skipped,omitempty"`
}

// Scope lists the root paths of a restore point and the path prefixes left
// out of it. Paths are relative to the site root and slash separated.
type Scope struct {
	Paths   []string `json:"paths"`
	Exclude []string `json:"exclude"`
}

// Counts aggregates a scan
type Counts struct {
	Files        int `json:"files"`
	BlobsNew     int `json:"blobs_new"`
	SkippedLarge int `json:"skipped_large"`
	Missing      int `json:"missing"`
}

// DBSnapshot is the database part of a restore point. Basic snapshots point
// at a single dump; pro snapshots at a resumable export job and its dump
// root.
type DBSnapshot struct {
	Engine     string   `json:"engine"`
	OK         bool     `json:"ok"`
	Error      string   `json:"error,omitempty"`
	Key        string   `json:"key,omitempty"`
	Tables     []string `json:"tables,omitempty"`
	Rows       int      `json:"rows"`
	Statements int      `json:"statements,omitempty"`
	Truncated  bool     `json:"truncated,omitempty"`

	JobID     string `json:"job_id,omitempty"`
	Status    string `json:"status,omitempty"`
	SchemaKey string `json:"schema_key,omitempty"`
	DumpRoot  string `json:"dump_root,omitempty"`
	Chunks    int    `json:"chunks,omitempty"`
	Progress  int    `json:"progress,omitempty"`
}

// Manifest is a restore point
type Manifest struct {
	Version   int              `json:"version"`
	ID        string           `json:"id"`
	Label     string           `json:"label"`
	CreatedAt time.Time        `json:"created_at"`
	Scope     Scope            `json:"scope"`
	Files     map[string]Entry `json:"files"`
	Counts    Counts           `json:"counts"`
	DB        *DBSnapshot      `json:"db,omitempty"`
}

// NewID returns a time-ordered restore point identifier
func NewID(now time.Time) string {
	return now.UTC().Format("20060102-150405") + "-rp-" + uuid.NewString()[:6]
}

// NewManifest assembles a manifest from a scan
func NewManifest(id, label string, createdAt time.Time, scope Scope, scan *ScanResult) *Manifest {
	return &Manifest{
		Version:   ManifestVersion,
		ID:        id,
		Label:     label,
		CreatedAt: createdAt.UTC(),
		Scope:     scope,
		Files:     scan.Files,
		Counts:    scan.Counts,
	}
}

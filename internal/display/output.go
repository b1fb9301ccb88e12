// Package display renders command results as colored text tables, JSON or
// YAML.
package display

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"site-guardian/internal/dbjob"
	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/operation"
	"site-guardian/internal/restorepoint"
)

// Format is an output format
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Config selects how a Printer renders
type Config struct {
	Format Format
	Theme  string
	Color  bool
	Quiet  bool
}

// ParseFormat validates an output format name
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(name)); f {
	case "", FormatText, "table":
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", apperrors.NewValidationError(fmt.Sprintf("unknown output format %q, use text, json or yaml", name), nil)
	}
}

// Printer writes results and status lines
type Printer struct {
	out     io.Writer
	format  Format
	quiet   bool
	unicode bool
	colors  ColorSystem
}

// NewPrinter creates a Printer writing to out
func NewPrinter(out io.Writer, cfg Config) *Printer {
	if cfg.Format == "" {
		cfg.Format = FormatText
	}
	return &Printer{
		out:     out,
		format:  cfg.Format,
		quiet:   cfg.Quiet,
		unicode: detectUnicodeSupport(),
		colors:  NewColorSystem(ThemeByName(cfg.Theme), out, cfg.Color),
	}
}

// Structured reports whether results are printed as JSON or YAML
func (p *Printer) Structured() bool {
	return p.format != FormatText
}

// Writer returns the writer results go to
func (p *Printer) Writer() io.Writer {
	return p.out
}

// Colors returns the printer's color system
func (p *Printer) Colors() ColorSystem {
	return p.colors
}

func (p *Printer) status(icon Icon, clr Color, format string, args ...interface{}) {
	if p.quiet || p.Structured() {
		return
	}
	prefix := p.colors.Colorize(icon.Render(p.unicode), clr)
	fmt.Fprintf(p.out, "%s %s\n", prefix, fmt.Sprintf(format, args...))
}

func (p *Printer) Success(format string, args ...interface{}) {
	p.status(IconSuccess, p.colors.Theme().Success, format, args...)
}

func (p *Printer) Warn(format string, args ...interface{}) {
	p.status(IconWarning, p.colors.Theme().Warning, format, args...)
}

func (p *Printer) Info(format string, args ...interface{}) {
	p.status(IconInfo, p.colors.Theme().Info, format, args...)
}

// Error prints err with its cause. It prints even when quiet.
func (p *Printer) Error(err error) {
	prefix := p.colors.Colorize(IconError.Render(p.unicode), p.colors.Theme().Error)
	fmt.Fprintf(p.out, "%s %s\n", prefix, apperrors.FormatUserError(err))

	var engineErr *apperrors.EngineError
	if errors.As(err, &engineErr) && engineErr.Cause != nil {
		fmt.Fprintf(p.out, "  %s\n", p.colors.Colorize(engineErr.Cause.Error(), p.colors.Theme().Muted))
	}
}

// Emit prints v as JSON or YAML, or calls text for the text format
func (p *Printer) Emit(v interface{}, text func()) error {
	switch p.format {
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal output to JSON: %w", err)
		}
		fmt.Fprintln(p.out, string(data))
	case FormatYAML:
		// Round trip through JSON so YAML keys follow the json tags
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal output to YAML: %w", err)
		}
		var generic interface{}
		if err := json.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("failed to marshal output to YAML: %w", err)
		}
		out, err := yaml.Marshal(generic)
		if err != nil {
			return fmt.Errorf("failed to marshal output to YAML: %w", err)
		}
		fmt.Fprint(p.out, string(out))
	default:
		text()
	}
	return nil
}

// KeyValues prints aligned "key: value" lines
func (p *Printer) KeyValues(pairs [][2]string) {
	width := 0
	for _, kv := range pairs {
		if len(kv[0]) > width {
			width = len(kv[0])
		}
	}
	for _, kv := range pairs {
		key := p.colors.Colorize(fmt.Sprintf("%-*s", width+1, kv[0]+":"), p.colors.Theme().Muted)
		fmt.Fprintf(p.out, "%s %s\n", key, kv[1])
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func (p *Printer) statusText(status string) string {
	theme := p.colors.Theme()
	switch status {
	case string(dbjob.StatusDone), string(operation.StatusCompleted), "ok":
		return p.colors.Colorize(status, theme.Success)
	case string(dbjob.StatusPending), string(operation.StatusArmed):
		return p.colors.Colorize(status, theme.Warning)
	case string(dbjob.StatusError), string(operation.StatusFailed):
		return p.colors.Colorize(status, theme.Error)
	default:
		return status
	}
}

// RestorePoints prints a restore point listing
func (p *Printer) RestorePoints(list []*restorepoint.Manifest) error {
	return p.Emit(list, func() {
		if len(list) == 0 {
			p.Info("No restore points")
			return
		}
		t := NewTable(p.colors, "ID", "CREATED", "LABEL", "FILES", "DATABASE").AlignRight(3)
		for _, m := range list {
			t.AddRow(m.ID, formatTime(m.CreatedAt), m.Label, fmt.Sprint(m.Counts.Files), dbSummary(m.DB))
		}
		t.RenderTo(p.out)
	})
}

func dbSummary(db *restorepoint.DBSnapshot) string {
	switch {
	case db == nil:
		return "-"
	case !db.OK:
		return db.Engine + " failed"
	case db.Engine == restorepoint.EnginePro:
		return fmt.Sprintf("pro %s %d%%", db.Status, db.Progress)
	default:
		return fmt.Sprintf("basic %d rows", db.Rows)
	}
}

// RestorePoint prints one restore point
func (p *Printer) RestorePoint(m *restorepoint.Manifest) error {
	return p.Emit(m, func() {
		pairs := [][2]string{
			{"ID", m.ID},
			{"Label", m.Label},
			{"Created", formatTime(m.CreatedAt)},
			{"Paths", strings.Join(m.Scope.Paths, ", ")},
			{"Files", fmt.Sprint(m.Counts.Files)},
			{"New blobs", fmt.Sprint(m.Counts.BlobsNew)},
			{"Skipped (large)", fmt.Sprint(m.Counts.SkippedLarge)},
			{"Missing", fmt.Sprint(m.Counts.Missing)},
		}
		if db := m.DB; db != nil {
			pairs = append(pairs, [2]string{"Database", dbSummary(db)})
			if db.JobID != "" {
				pairs = append(pairs, [2]string{"Export job", db.JobID})
			}
			if db.Error != "" {
				pairs = append(pairs, [2]string{"Database error", p.colors.Colorize(db.Error, p.colors.Theme().Error)})
			}
		}
		p.KeyValues(pairs)
	})
}

// RestoreResult prints the outcome of a file restore
func (p *Printer) RestoreResult(r *restorepoint.RestoreResult) error {
	return p.Emit(r, func() {
		p.Success("Restored %d file(s)", r.Restored)
		if r.Skipped > 0 {
			p.Warn("Skipped %d file(s) whose content is unavailable", r.Skipped)
		}
	})
}

// ExportJob prints an export job
func (p *Printer) ExportJob(j *dbjob.ExportJob) error {
	return p.Emit(j, func() {
		pairs := [][2]string{
			{"Job", j.ID},
			{"Restore point", j.RestorePointID},
			{"Status", p.statusText(string(j.Status))},
			{"Progress", fmt.Sprintf("%d%%", j.Progress)},
			{"Tables", fmt.Sprintf("%d/%d", j.Cursor.TableIndex, len(j.Tables))},
			{"Chunks", fmt.Sprint(j.Counts.Chunks)},
			{"Rows", fmt.Sprint(j.Counts.Rows)},
			{"Steps", fmt.Sprint(j.Steps)},
			{"Updated", formatTime(j.UpdatedAt)},
		}
		if j.LastError != "" {
			pairs = append(pairs, [2]string{"Last error", j.LastError})
		}
		p.KeyValues(pairs)
	})
}

// RestoreJob prints a restore job
func (p *Printer) RestoreJob(j *dbjob.RestoreJob) error {
	return p.Emit(j, func() {
		pairs := [][2]string{
			{"Job", j.ID},
			{"Restore point", j.RestorePointID},
			{"Status", p.statusText(string(j.Status))},
			{"Progress", fmt.Sprintf("%d%%", j.Progress)},
			{"Tables", fmt.Sprintf("%d/%d", j.Cursor.TableIndex, len(j.Tables))},
			{"Chunks", fmt.Sprint(j.Counts.Chunks)},
			{"Statements", fmt.Sprint(j.Counts.Statements)},
			{"Errors", fmt.Sprint(j.Counts.Errors)},
			{"Updated", formatTime(j.UpdatedAt)},
		}
		if j.LastError != "" {
			pairs = append(pairs, [2]string{"Last error", j.LastError})
		}
		p.KeyValues(pairs)
	})
}

// ExportJobs prints a job listing
func (p *Printer) ExportJobs(jobs []*dbjob.ExportJob) error {
	return p.Emit(jobs, func() {
		t := NewTable(p.colors, "JOB", "RESTORE POINT", "STATUS", "PROGRESS", "ROWS").AlignRight(3).AlignRight(4)
		for _, j := range jobs {
			t.AddRow(j.ID, j.RestorePointID, p.statusText(string(j.Status)), fmt.Sprintf("%d%%", j.Progress), fmt.Sprint(j.Counts.Rows))
		}
		p.renderJobs(t)
	})
}

// RestoreJobs prints a job listing
func (p *Printer) RestoreJobs(jobs []*dbjob.RestoreJob) error {
	return p.Emit(jobs, func() {
		t := NewTable(p.colors, "JOB", "RESTORE POINT", "STATUS", "PROGRESS", "STATEMENTS").AlignRight(3).AlignRight(4)
		for _, j := range jobs {
			t.AddRow(j.ID, j.RestorePointID, p.statusText(string(j.Status)), fmt.Sprintf("%d%%", j.Progress), fmt.Sprint(j.Counts.Statements))
		}
		p.renderJobs(t)
	})
}

func (p *Printer) renderJobs(t *Table) {
	if t.Len() == 0 {
		p.Info("No jobs")
		return
	}
	t.RenderTo(p.out)
}

// Operation prints an operation record
func (p *Printer) Operation(rec *operation.Record) error {
	return p.Emit(rec, func() {
		pairs := [][2]string{
			{"Operation", rec.ID},
			{"Type", rec.Type},
			{"Status", p.statusText(string(rec.Status))},
			{"Restore point", rec.RestorePointBefore},
			{"Created", formatTime(rec.CreatedAt)},
			{"Updated", formatTime(rec.UpdatedAt)},
		}
		if rec.Status == operation.StatusArmed {
			pairs = append(pairs, [2]string{"Armed until", formatTime(rec.ArmedUntil)})
		}
		if rec.Error != "" {
			pairs = append(pairs, [2]string{"Error", rec.Error})
		}
		p.KeyValues(pairs)
	})
}

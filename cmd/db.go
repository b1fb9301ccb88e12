package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"site-guardian/internal/confirmation"
	"site-guardian/internal/dbjob"
	"site-guardian/internal/display"
	apperrors "site-guardian/internal/errors"
)

func newDBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Resumable database export and restore jobs",
		Long: `Resumable jobs dump the database in chunks, a few seconds at a time.
Each step stops at the configured time budget and schedules its own
continuation; the worker, or 'db continue', runs the next step.

Examples:
  # Start an export and drive it to completion in the foreground
  site-guardian db export --follow

  # Restore the dump of an export job
  site-guardian db restore --job 20240501-090000-dbpro-abc123 --follow

  # Show pending and finished jobs
  site-guardian db jobs`,
	}
	cmd.AddCommand(
		newDBExportCommand(),
		newDBRestoreCommand(),
		newDBContinueCommand(),
		newDBJobsCommand(),
		newDBJobCommand(),
	)
	return cmd
}

func newDBExportCommand() *cobra.Command {
	var restorePointID string
	var follow bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Start a resumable export",
		Args:  cobra.NoArgs,
		RunE: runWithApp(appOptions{needDB: true}, func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			job, err := a.engine.StartExport(ctx, restorePointID)
			if err != nil && job == nil {
				return err
			}
			if follow && err == nil {
				job, err = followExport(ctx, a, job)
			}
			if job != nil {
				if perr := a.printer.ExportJob(job); perr != nil {
					return perr
				}
			}
			return err
		}),
	}
	cmd.Flags().StringVar(&restorePointID, "restore-point", "", "restore point id the dump belongs to (generated when empty)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "run the remaining steps in the foreground")
	return cmd
}

func newDBRestoreCommand() *cobra.Command {
	var meta dbjob.RestoreMeta
	var follow, all bool
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a resumable dump",
		Args:  cobra.NoArgs,
		RunE: runWithApp(appOptions{needDB: true}, func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			if meta.ExportJobID == "" && meta.RestorePointID == "" {
				return apperrors.NewValidationError("either --job or --restore-point is required", nil)
			}
			source := meta.ExportJobID
			if source == "" {
				source = meta.RestorePointID
			}
			ok, err := confirm(cmd, a, confirmation.Request{
				Title: "Restore database from " + source,
				Summary: [][2]string{
					{"Database", a.settings.DB.Connection.Database},
					{"Mode", map[bool]string{true: "all chunks now", false: "resumable job"}[all]},
				},
				Destructive: true,
			})
			if err != nil || !ok {
				return err
			}

			var job *dbjob.RestoreJob
			if all {
				job, err = a.engine.RestoreAllChunks(ctx, meta)
			} else {
				job, err = a.engine.StartRestoreJob(ctx, meta)
				if follow && err == nil {
					job, err = followRestore(ctx, a, job)
				}
			}
			if job != nil {
				if perr := a.printer.RestoreJob(job); perr != nil {
					return perr
				}
			}
			return err
		}),
	}
	cmd.Flags().StringVar(&meta.ExportJobID, "job", "", "export job whose dump to restore")
	cmd.Flags().StringVar(&meta.RestorePointID, "restore-point", "", "restore point whose dump to restore")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "run the remaining steps in the foreground")
	cmd.Flags().BoolVar(&all, "all", false, "replay every chunk now without a time budget")
	return cmd
}

func newDBContinueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "continue <job-id>",
		Short: "Run one more step of a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(appOptions{needDB: true}, func(cmd *cobra.Command, args []string, a *app) error {
			ctx := cmd.Context()
			id := args[0]
			if isRestoreJobID(id) {
				job, err := a.engine.ContinueRestore(ctx, id)
				if job != nil {
					if perr := a.printer.RestoreJob(job); perr != nil {
						return perr
					}
				}
				return err
			}
			job, err := a.engine.ContinueExport(ctx, id)
			if job != nil {
				if perr := a.printer.ExportJob(job); perr != nil {
					return perr
				}
			}
			return err
		}),
	}
}

func newDBJobsCommand() *cobra.Command {
	var restores bool
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List export jobs, or restore jobs with --restores",
		Args:  cobra.NoArgs,
		RunE: runWithApp(appOptions{}, func(cmd *cobra.Command, args []string, a *app) error {
			if restores {
				jobs, err := a.engine.ListRestoreJobs(cmd.Context())
				if err != nil {
					return err
				}
				return a.printer.RestoreJobs(jobs)
			}
			jobs, err := a.engine.ListExportJobs(cmd.Context())
			if err != nil {
				return err
			}
			return a.printer.ExportJobs(jobs)
		}),
	}
	cmd.Flags().BoolVar(&restores, "restores", false, "list restore jobs")
	return cmd
}

func newDBJobCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "job <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(appOptions{}, func(cmd *cobra.Command, args []string, a *app) error {
			if isRestoreJobID(args[0]) {
				job, err := a.engine.GetRestoreJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.printer.RestoreJob(job)
			}
			job, err := a.engine.GetExportJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printer.ExportJob(job)
		}),
	}
}

func isRestoreJobID(id string) bool {
	return strings.Contains(id, "-dbpro-restore-")
}

// stepFunc runs one step and reports progress, whether the job is still
// pending and a short detail
type stepFunc func() (progress int, pending bool, detail string, err error)

// followExport drives an export in the foreground until it leaves pending
func followExport(ctx context.Context, a *app, job *dbjob.ExportJob) (*dbjob.ExportJob, error) {
	current := job
	err := drive(ctx, a, "Exporting", func() (int, bool, string, error) {
		if current.Status != dbjob.StatusPending {
			return current.Progress, false, "", nil
		}
		next, err := a.engine.ContinueExport(ctx, current.ID)
		if next != nil {
			current = next
		}
		return current.Progress, current.Status == dbjob.StatusPending, tableDetail(current.Cursor.TableIndex, current.Tables), err
	})
	return current, err
}

func followRestore(ctx context.Context, a *app, job *dbjob.RestoreJob) (*dbjob.RestoreJob, error) {
	current := job
	err := drive(ctx, a, "Restoring", func() (int, bool, string, error) {
		if current.Status != dbjob.StatusPending {
			return current.Progress, false, "", nil
		}
		next, err := a.engine.ContinueRestore(ctx, current.ID)
		if next != nil {
			current = next
		}
		return current.Progress, current.Status == dbjob.StatusPending, tableDetail(current.Cursor.TableIndex, current.Tables), err
	})
	return current, err
}

func drive(ctx context.Context, a *app, description string, step stepFunc) error {
	var bar *display.JobProgress
	if !a.printer.Structured() && !quiet {
		bar = display.NewJobProgress(a.printer.Writer(), description)
	}
	for {
		progress, pending, detail, err := step()
		if bar != nil {
			_ = bar.Update(progress, detail)
		}
		if err != nil {
			return err
		}
		if !pending {
			if bar != nil {
				_ = bar.Finish()
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func tableDetail(index int, tables []string) string {
	if index < len(tables) {
		return fmt.Sprintf("%s (%d/%d)", tables[index], index+1, len(tables))
	}
	return ""
}

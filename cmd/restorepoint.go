package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"site-guardian/internal/confirmation"
	"site-guardian/internal/engine"
)

func newRestorePointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "restore-point",
		Aliases: []string{"rp"},
		Short:   "Create, list and restore restore points",
		Long: `Restore points capture the configured scope of the site tree as
content-addressed blobs plus a manifest, and optionally the database.

Examples:
  # Take a restore point with a label
  site-guardian restore-point create --label "Before theme switch"

  # Capture only some paths, without the database
  site-guardian restore-point create --path wp-content/plugins/shop --skip-db

  # Put a plugin directory back, removing files added since
  site-guardian restore-point restore 20240501-090000-rp-abc123 wp-content/plugins/shop/ --delete-first`,
	}
	cmd.AddCommand(
		newRestorePointCreateCommand(),
		newRestorePointListCommand(),
		newRestorePointShowCommand(),
		newRestorePointRestoreCommand(),
		newRestorePointRestoreAllCommand(),
		newRestorePointRestoreDBCommand(),
	)
	return cmd
}

func newRestorePointCreateCommand() *cobra.Command {
	var opts engine.CreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Take a restore point of the configured scope",
		Args:  cobra.NoArgs,
		RunE: runWithApp(appOptions{}, func(cmd *cobra.Command, args []string, a *app) error {
			m, err := a.engine.CreateRestorePoint(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if !a.printer.Structured() {
				a.printer.Success("Restore point %s created", m.ID)
				if m.DB != nil && !m.DB.OK {
					a.printer.Warn("Database snapshot failed: %s", m.DB.Error)
				}
			}
			return a.printer.RestorePoint(m)
		}),
	}
	cmd.Flags().StringVarP(&opts.Label, "label", "l", "", "label of the restore point")
	cmd.Flags().StringSliceVar(&opts.Paths, "path", nil, "relative path to capture instead of the configured scope (repeatable)")
	cmd.Flags().BoolVar(&opts.SkipDB, "skip-db", false, "leave the database out")
	return cmd
}

func newRestorePointListCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List restore points, newest first",
		Args:  cobra.NoArgs,
		RunE: runWithApp(appOptions{}, func(cmd *cobra.Command, args []string, a *app) error {
			list, err := a.engine.ListRestorePoints(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return a.printer.RestorePoints(list)
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of restore points to list")
	return cmd
}

func newRestorePointShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one restore point",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(appOptions{}, func(cmd *cobra.Command, args []string, a *app) error {
			m, err := a.engine.GetRestorePoint(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.printer.RestorePoint(m)
		}),
	}
}

func newRestorePointRestoreCommand() *cobra.Command {
	var deleteFirst bool
	cmd := &cobra.Command{
		Use:   "restore <id> <path>",
		Short: "Restore a file, or a directory given with a trailing slash",
		Args:  cobra.ExactArgs(2),
		RunE: runWithApp(appOptions{}, func(cmd *cobra.Command, args []string, a *app) error {
			id, target := args[0], args[1]
			ok, err := confirm(cmd, a, confirmation.Request{
				Title: "Restore " + target,
				Summary: [][2]string{
					{"Restore point", id},
					{"Site root", a.settings.SiteRoot},
					{"Delete first", fmt.Sprint(deleteFirst)},
				},
				Destructive: true,
			})
			if err != nil || !ok {
				return err
			}

			result, err := a.engine.Restore(cmd.Context(), id, target, deleteFirst)
			if err != nil {
				return err
			}
			return a.printer.RestoreResult(result)
		}),
	}
	cmd.Flags().BoolVar(&deleteFirst, "delete-first", false, "remove the target before restoring so added files disappear")
	return cmd
}

func newRestorePointRestoreAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore-all <id> <destination>",
		Short: "Write every file of a restore point under a destination directory",
		Args:  cobra.ExactArgs(2),
		RunE: runWithApp(appOptions{}, func(cmd *cobra.Command, args []string, a *app) error {
			id, dest := args[0], args[1]
			if err := os.MkdirAll(dest, 0755); err != nil {
				return fmt.Errorf("failed to create destination: %w", err)
			}
			result, err := a.engine.RestoreAll(cmd.Context(), id, dest)
			if err != nil {
				return err
			}
			return a.printer.RestoreResult(result)
		}),
	}
}

func newRestorePointRestoreDBCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore-db <id>",
		Short: "Restore the database of a restore point with the engine that took it",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(appOptions{needDB: true}, func(cmd *cobra.Command, args []string, a *app) error {
			m, err := a.engine.GetRestorePoint(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			summary := [][2]string{
				{"Restore point", m.ID},
				{"Database", a.settings.DB.Connection.Database},
			}
			if m.DB != nil {
				summary = append(summary,
					[2]string{"Engine", m.DB.Engine},
					[2]string{"Tables", strings.Join(m.DB.Tables, ", ")})
			}
			ok, err := confirm(cmd, a, confirmation.Request{
				Title:       "Restore database",
				Summary:     summary,
				Destructive: true,
			})
			if err != nil || !ok {
				return err
			}

			result, err := a.engine.RestoreDatabase(cmd.Context(), m.ID)
			if err != nil {
				return err
			}
			return a.printer.Emit(result, func() {
				if result.JobID != "" {
					a.printer.Success("Restore job %s is %s (%d%%)", result.JobID, result.Status, result.Progress)
					if result.Status == "pending" {
						a.printer.Info("Run the worker or 'db continue %s' to finish it", result.JobID)
					}
					return
				}
				a.printer.Success("Replayed %d statement(s)", result.Statements)
				if result.Errors > 0 {
					a.printer.Warn("%d statement(s) failed", result.Errors)
				}
			})
		}),
	}
}

// confirm asks before destructive commands unless --yes was given
func confirm(cmd *cobra.Command, a *app, req confirmation.Request) (bool, error) {
	req.AutoApprove = autoApprove
	in := cmd.InOrStdin()
	svc := confirmation.NewService(in, cmd.ErrOrStderr(), a.printer.Colors(), confirmation.IsInteractive(in))
	return svc.Confirm(cmd.Context(), req)
}

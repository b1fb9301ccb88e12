package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"site-guardian/internal/confirmation"
	apperrors "site-guardian/internal/errors"
)

func newOperationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operation",
		Short: "Guard a risky operation with an automatic restore point",
		Long: `Wrap an upgrade or install: 'begin' takes a restore point and records a
pending operation, 'arm' opens the rollback window before the risky step,
'complete' closes it. If the site breaks, 'rollback' restores the scope
recorded before the operation.

Examples:
  site-guardian operation begin plugin_upgrade
  site-guardian operation arm
  site-guardian operation complete
  site-guardian operation rollback`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "begin <type>",
			Short: "Take a restore point and record a pending operation",
			Args:  cobra.ExactArgs(1),
			RunE: runWithApp(appOptions{}, func(cmd *cobra.Command, args []string, a *app) error {
				rec, err := a.engine.BeginOperation(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.printer.Operation(rec)
			}),
		},
		&cobra.Command{
			Use:   "arm",
			Short: "Open the rollback window of the pending operation",
			Args:  cobra.NoArgs,
			RunE: runWithApp(appOptions{}, func(cmd *cobra.Command, args []string, a *app) error {
				rec, err := a.engine.ArmOperation(cmd.Context())
				if err != nil {
					return err
				}
				return a.printer.Operation(rec)
			}),
		},
		&cobra.Command{
			Use:   "complete",
			Short: "Mark the last operation completed",
			Args:  cobra.NoArgs,
			RunE: runWithApp(appOptions{}, func(cmd *cobra.Command, args []string, a *app) error {
				rec, err := a.engine.CompleteOperation(cmd.Context())
				if err != nil {
					return err
				}
				return a.printer.Operation(rec)
			}),
		},
		newOperationFailCommand(),
		&cobra.Command{
			Use:   "status",
			Short: "Show the last operation and whether it can be rolled back",
			Args:  cobra.NoArgs,
			RunE: runWithApp(appOptions{}, func(cmd *cobra.Command, args []string, a *app) error {
				armed, err := a.engine.CheckOnStartup(cmd.Context())
				if err != nil {
					return err
				}
				rec, err := a.engine.LastOperation(cmd.Context())
				if apperrors.IsNotFound(err) {
					a.printer.Info("No operation recorded")
					return nil
				}
				if err != nil {
					return err
				}
				if armed != nil && !a.printer.Structured() {
					a.printer.Warn("Operation %s is armed; roll back with 'operation rollback'", armed.ID)
				}
				return a.printer.Operation(rec)
			}),
		},
		newOperationRollbackCommand(),
	)
	return cmd
}

func newOperationFailCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail",
		Short: "Mark the last operation failed",
		Args:  cobra.NoArgs,
		RunE: runWithApp(appOptions{}, func(cmd *cobra.Command, args []string, a *app) error {
			var cause error
			if reason != "" {
				cause = errors.New(reason)
			}
			rec, err := a.engine.FailOperation(cmd.Context(), cause)
			if err != nil {
				return err
			}
			return a.printer.Operation(rec)
		}),
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the operation failed")
	return cmd
}

func newOperationRollbackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback",
		Short: "Restore the scope recorded before the last operation",
		Args:  cobra.NoArgs,
		RunE: runWithApp(appOptions{}, func(cmd *cobra.Command, args []string, a *app) error {
			rec, err := a.engine.LastOperation(cmd.Context())
			if err != nil {
				return err
			}
			var scope []string
			if m, err := a.engine.GetRestorePoint(cmd.Context(), rec.RestorePointBefore); err == nil {
				scope = m.Scope.Paths
			}
			ok, err := confirm(cmd, a, confirmation.Request{
				Title: fmt.Sprintf("Roll back %s", rec.Type),
				Summary: [][2]string{
					{"Operation", rec.ID},
					{"Status", string(rec.Status)},
					{"Restore point", rec.RestorePointBefore},
				},
				Details:     scope,
				Destructive: true,
			})
			if err != nil || !ok {
				return err
			}

			result, err := a.engine.RollbackLastOperation(cmd.Context())
			if err != nil {
				return err
			}
			return a.printer.RestoreResult(result)
		}),
	}
}

package cmd

import (
	"github.com/spf13/cobra"

	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/scheduler"
)

func newWorkerCommand() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run scheduled job continuations",
		Long: `The worker polls the scheduler state and runs the next step of every job
whose continuation is due. It stops on SIGINT or SIGTERM after the current
step. With --once it runs what is due and exits, which suits cron.`,
		Args: cobra.NoArgs,
		RunE: runWithApp(appOptions{needDB: true}, func(cmd *cobra.Command, args []string, a *app) error {
			if _, err := a.engine.CheckOnStartup(cmd.Context()); err != nil {
				a.logger.WithError(err).Warn("Failed to check the last operation")
			}

			worker := scheduler.NewWorker(a.queue, a.engine, nil, a.settings.Scheduler.PollInterval, a.logger)
			if once {
				n, err := worker.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				a.printer.Success("Ran %d due task(s)", n)
				return nil
			}

			shutdown := apperrors.NewGracefulShutdownHandler()
			defer shutdown.Shutdown()
			ctx := shutdown.Start(cmd.Context())

			pending, err := a.queue.Pending(ctx)
			if err != nil {
				return err
			}
			a.logger.WithField("pending", pending).Info("Starting worker")
			return worker.Run(ctx)
		}),
	}
	cmd.Flags().BoolVar(&once, "once", false, "run due tasks once and exit")
	return cmd
}

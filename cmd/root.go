package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"site-guardian/internal/config"
	"site-guardian/internal/database"
	"site-guardian/internal/display"
	"site-guardian/internal/engine"
	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/logging"
	"site-guardian/internal/scheduler"
	"site-guardian/internal/storage"
)

var cfgFile string

// Global flag variables
var (
	verbose      bool
	quiet        bool
	noColor      bool
	theme        string
	outputFormat string
	autoApprove  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "site-guardian",
	Short: "Restore points and resumable database snapshots for WordPress sites",
	Long: `Site Guardian takes content-addressed restore points of a WordPress tree,
snapshots its database in one pass or as a resumable chunked job, and rolls
risky operations back when they break the site.

Examples:
  # Take a restore point of plugins, themes and wp-config.php
  site-guardian restore-point create --label "Before upgrade"

  # Start a resumable export and follow it until it is done
  site-guardian db export --follow

  # Run the scheduler worker that continues pending jobs
  site-guardian worker

  # Roll back the last armed operation
  site-guardian operation rollback`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		display.NewPrinter(os.Stderr, display.Config{Color: !noColor, Theme: theme}).Error(err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch apperrors.GetErrorType(err) {
	case apperrors.ErrorTypeUnlicensed:
		return 3
	case apperrors.ErrorTypeValidation, apperrors.ErrorTypeConfiguration:
		return 2
	default:
		return 1
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./.site-guardian.yaml or $HOME/.site-guardian.yaml)")
	flags.String("site-root", "", "root of the protected WordPress tree")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	flags.BoolVar(&noColor, "no-color", false, "disable color output")
	flags.StringVar(&theme, "theme", "dark", "color theme (dark, light, plain)")
	flags.StringVar(&outputFormat, "format", "text", "output format (text, json, yaml)")
	flags.BoolVarP(&autoApprove, "yes", "y", false, "skip confirmation prompts")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(
		newRestorePointCommand(),
		newDBCommand(),
		newWorkerCommand(),
		newOperationCommand(),
		newInitConfigCommand(),
		newVersionCommand(),
	)
}

// loadSettings reads the config file, environment and bound flags
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	v := config.NewViper(cfgFile)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, apperrors.NewConfigurationError("failed to read config file", err)
		}
	}
	if f := cmd.Flags().Lookup("site-root"); f != nil && f.Changed {
		if err := v.BindPFlag("site_root", f); err != nil {
			return nil, apperrors.NewConfigurationError("failed to bind site-root flag", err)
		}
	}

	settings, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	switch {
	case verbose:
		settings.Logging.Level = logging.LogLevelVerbose
	case quiet:
		settings.Logging.Level = logging.LogLevelQuiet
	}
	return settings, nil
}

// app holds what a command needs to run
type app struct {
	settings *config.Settings
	logger   *logging.Logger
	printer  *display.Printer
	engine   *engine.Engine
	queue    *scheduler.SQLiteQueue
	db       *database.MySQL
}

type appOptions struct {
	// needDB connects to the database even when restore points leave it out
	needDB bool
}

func newApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	settings, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	format, err := display.ParseFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(settings.LoggerConfig())
	if err != nil {
		return nil, apperrors.NewConfigurationError("failed to create logger", err)
	}

	a := &app{
		settings: settings,
		logger:   logger,
		printer: display.NewPrinter(cmd.OutOrStdout(), display.Config{
			Format: format,
			Theme:  theme,
			Color:  !noColor,
			Quiet:  quiet,
		}),
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	objects, err := storage.Open(ctx, settings.Storage, nil, logger)
	if err != nil {
		return nil, err
	}

	if opts.needDB || settings.RestorePoints.IncludeDB {
		if err := settings.DB.Connection.Validate(); err != nil {
			return nil, err
		}
		if a.db, err = database.Open(ctx, settings.DB.Connection, nil, logger); err != nil {
			return nil, err
		}
	}

	if a.queue, err = scheduler.Open(settings.Scheduler.StatePath, nil); err != nil {
		a.Close()
		return nil, err
	}

	engineOpts := engine.Options{
		Settings:  settings,
		Objects:   objects,
		Scheduler: a.queue,
		Logger:    logger,
	}
	if a.db != nil {
		engineOpts.DB = a.db
	}
	if a.engine, err = engine.New(engineOpts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the database and the scheduler state
func (a *app) Close() {
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close scheduler state")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close database connection")
		}
	}
}

func runWithApp(opts appOptions, fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, opts)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, args, a)
	}
}

func newInitConfigCommand() *cobra.Command {
	var path string
	var showEnv bool
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a commented configuration file with every default",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showEnv {
				for _, name := range config.EnvironmentVariables() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			}
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", config.ConfigName+".yaml", "where to write the configuration file")
	cmd.Flags().BoolVar(&showEnv, "env", false, "list the environment variables that override settings instead")
	return cmd
}

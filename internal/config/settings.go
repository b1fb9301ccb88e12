// Package config holds the explicit settings every component is built from.
package config

import (
	"errors"
	"strings"
	"time"

	"site-guardian/internal/database"
	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/logging"
	"site-guardian/internal/restorepoint"
	"site-guardian/internal/storage"
)

// DB engines selectable in settings
const (
	EngineBasic = restorepoint.EngineBasic
	EnginePro   = restorepoint.EnginePro
)

// Defaults for unset or out of range settings
const (
	DefaultKeepLast     = 10
	DefaultMaxBlobBytes = restorepoint.DefaultMaxBlobBytes
	DefaultMaxSeconds   = 20
	DefaultChunkRows    = 500
	DefaultTablePrefix  = "wp_"
	DefaultPollInterval = 15 * time.Second
	DefaultExportDelay  = 60 * time.Second
	DefaultRestoreDelay = 30 * time.Second
	DefaultArmWindow    = 10 * time.Minute
)

// Settings is the complete configuration of the engine
type Settings struct {
	SiteRoot      string               `yaml:"site_root" mapstructure:"site_root"`
	Storage       storage.Config       `yaml:"storage" mapstructure:"storage"`
	RestorePoints RestorePointSettings `yaml:"restore_points" mapstructure:"restore_points"`
	DB            DBSettings           `yaml:"db" mapstructure:"db"`
	Scheduler     SchedulerSettings    `yaml:"scheduler" mapstructure:"scheduler"`
	License       LicenseSettings      `yaml:"license" mapstructure:"license"`
	Logging       LoggingSettings      `yaml:"logging" mapstructure:"logging"`
	Operation     OperationSettings    `yaml:"operation" mapstructure:"operation"`
}

// RestorePointSettings control file restore points
type RestorePointSettings struct {
	KeepLast     int                       `yaml:"keep_last" mapstructure:"keep_last"`
	MaxBlobBytes int64                     `yaml:"max_blob_bytes" mapstructure:"max_blob_bytes"`
	IncludeDB    bool                      `yaml:"include_db" mapstructure:"include_db"`
	Scope        restorepoint.ScopeOptions `yaml:"scope" mapstructure:"scope"`
}

// DBSettings control database snapshots and jobs
type DBSettings struct {
	Engine       string                  `yaml:"engine" mapstructure:"engine"`
	TablesMode   database.TablesMode     `yaml:"tables_mode" mapstructure:"tables_mode"`
	CustomTables string                  `yaml:"custom_tables" mapstructure:"custom_tables"`
	MaxSeconds   int                     `yaml:"max_seconds" mapstructure:"max_seconds"`
	ChunkRows    int                     `yaml:"chunk_rows" mapstructure:"chunk_rows"`
	TablePrefix  string                  `yaml:"table_prefix" mapstructure:"table_prefix"`
	Connection   database.DatabaseConfig `yaml:"connection" mapstructure:"connection"`
}

// SchedulerSettings control the durable timer table and its worker
type SchedulerSettings struct {
	StatePath    string        `yaml:"state_path" mapstructure:"state_path"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	ExportDelay  time.Duration `yaml:"export_delay" mapstructure:"export_delay"`
	RestoreDelay time.Duration `yaml:"restore_delay" mapstructure:"restore_delay"`
}

// LicenseSettings feed the static license gate
type LicenseSettings struct {
	Licensed bool `yaml:"licensed" mapstructure:"licensed"`
}

// LoggingSettings configure the logger
type LoggingSettings struct {
	Level  logging.LogLevel `yaml:"level" mapstructure:"level"`
	Format string           `yaml:"format" mapstructure:"format"`
	File   string           `yaml:"file" mapstructure:"file"`
}

// OperationSettings control armed operations
type OperationSettings struct {
	Window time.Duration `yaml:"window" mapstructure:"window"`
}

// Default returns settings with every default applied
func Default() *Settings {
	s := &Settings{}
	s.SetDefaults()
	return s
}

// SetDefaults fills in unset values
func (s *Settings) SetDefaults() {
	if s.SiteRoot == "" {
		s.SiteRoot = "."
	}
	s.Storage.SetDefaults()
	s.DB.Connection.SetDefaults()

	if s.DB.Engine == "" {
		s.DB.Engine = EngineBasic
	}
	if s.DB.TablesMode == "" {
		s.DB.TablesMode = database.TablesWPCore
	}
	if s.DB.TablePrefix == "" {
		s.DB.TablePrefix = DefaultTablePrefix
	}
	if s.Scheduler.StatePath == "" {
		s.Scheduler.StatePath = "./guardian-data/scheduler.db"
	}
	if s.Logging.Level == "" {
		s.Logging.Level = logging.LogLevelNormal
	}
	if s.Logging.Format == "" {
		s.Logging.Format = "text"
	}
	s.Normalize()
}

// Normalize replaces out of range numbers with their defaults, the way the
// settings page always has
func (s *Settings) Normalize() {
	if s.RestorePoints.KeepLast <= 0 {
		s.RestorePoints.KeepLast = DefaultKeepLast
	}
	if s.RestorePoints.MaxBlobBytes <= 0 {
		s.RestorePoints.MaxBlobBytes = DefaultMaxBlobBytes
	}
	if s.DB.MaxSeconds <= 0 {
		s.DB.MaxSeconds = DefaultMaxSeconds
	}
	if s.DB.ChunkRows <= 0 {
		s.DB.ChunkRows = DefaultChunkRows
	}
	if s.Scheduler.PollInterval <= 0 {
		s.Scheduler.PollInterval = DefaultPollInterval
	}
	if s.Scheduler.ExportDelay <= 0 {
		s.Scheduler.ExportDelay = DefaultExportDelay
	}
	if s.Scheduler.RestoreDelay <= 0 {
		s.Scheduler.RestoreDelay = DefaultRestoreDelay
	}
	if s.Operation.Window <= 0 {
		s.Operation.Window = DefaultArmWindow
	}
	s.DB.Engine = strings.ToLower(s.DB.Engine)
	s.DB.TablePrefix = database.SanitizeTableName(s.DB.TablePrefix)
}

// Validate checks the settings. Database connection settings are only
// required when restore points include the database.
func (s *Settings) Validate() error {
	var errs apperrors.ValidationErrors

	if strings.TrimSpace(s.SiteRoot) == "" {
		errs.Add("site_root", "site root is required", nil)
	}
	switch s.DB.Engine {
	case EngineBasic, EnginePro:
	default:
		errs.Add("db.engine", "engine must be basic or pro", s.DB.Engine)
	}
	switch s.DB.TablesMode {
	case database.TablesWPCore, database.TablesAllPrefix:
	case database.TablesCustom:
		if len(database.ParseCustomTables(s.DB.CustomTables)) == 0 {
			errs.Add("db.custom_tables", "custom table mode needs at least one table", nil)
		}
	default:
		errs.Add("db.tables_mode", "tables mode must be wp_core, all_prefix or custom", s.DB.TablesMode)
	}
	switch s.Logging.Format {
	case "text", "json":
	default:
		errs.Add("logging.format", "format must be text or json", s.Logging.Format)
	}

	if err := s.Storage.Validate(); err != nil {
		appendValidation(&errs, "storage", err)
	}
	if s.RestorePoints.IncludeDB {
		if err := s.DB.Connection.Validate(); err != nil {
			appendValidation(&errs, "db.connection", err)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func appendValidation(errs *apperrors.ValidationErrors, field string, err error) {
	var nested apperrors.ValidationErrors
	if errors.As(err, &nested) {
		*errs = append(*errs, nested...)
		return
	}
	errs.Add(field, err.Error(), nil)
}

// LoggerConfig converts the logging settings for logging.NewLogger
func (s *Settings) LoggerConfig() logging.Config {
	return logging.Config{
		Level:   s.Logging.Level,
		Format:  s.Logging.Format,
		LogFile: s.Logging.File,
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apperrors "site-guardian/internal/errors"
)

// EnvPrefix prefixes every environment variable read by the configuration
const EnvPrefix = "SITE_GUARDIAN"

// ConfigName is the base name of the configuration file searched by NewViper
const ConfigName = ".site-guardian"

// Load reads, completes and validates the YAML settings file at path
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("failed to read configuration file %s", path), err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML settings, applies environment overrides and
// defaults, then validates
func LoadFromBytes(data []byte) (*Settings, error) {
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, apperrors.NewConfigurationError("failed to parse configuration", err)
	}
	return complete(&s)
}

// FromViper decodes settings from an initialized viper instance
func FromViper(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, apperrors.NewConfigurationError("failed to decode configuration", err)
	}
	return complete(&s)
}

func complete(s *Settings) (*Settings, error) {
	s.LoadFromEnvironment()
	s.SetDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadFromEnvironment applies the secret and deployment overrides that are
// usually kept out of the settings file
func (s *Settings) LoadFromEnvironment() {
	s.Storage.LoadFromEnvironment()
	if val := os.Getenv(EnvPrefix + "_SITE_ROOT"); val != "" {
		s.SiteRoot = val
	}
	if val := os.Getenv(EnvPrefix + "_DB_HOST"); val != "" {
		s.DB.Connection.Host = val
	}
	if val := os.Getenv(EnvPrefix + "_DB_USER"); val != "" {
		s.DB.Connection.Username = val
	}
	if val := os.Getenv(EnvPrefix + "_DB_PASSWORD"); val != "" {
		s.DB.Connection.Password = val
	}
	if val := os.Getenv(EnvPrefix + "_DB_NAME"); val != "" {
		s.DB.Connection.Database = val
	}
}

// NewViper prepares a viper instance that reads configFile, or searches for
// .site-guardian.yaml in the working directory and $HOME when it is empty.
// Every setting can be overridden by SITE_GUARDIAN_<SECTION>_<KEY>.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetViperDefaults(v)
	return v
}

// SetViperDefaults registers every key with its default so environment
// overrides reach Unmarshal
func SetViperDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("site_root", d.SiteRoot)

	v.SetDefault("storage.provider", string(d.Storage.Provider))
	v.SetDefault("storage.local.base_path", d.Storage.Local.BasePath)
	v.SetDefault("storage.compression.algorithm", string(d.Storage.Compression.Algorithm))
	v.SetDefault("storage.compression.level", 0)
	v.SetDefault("storage.encryption.enabled", false)
	v.SetDefault("storage.encryption.key_env_var", d.Storage.Encryption.KeyEnvVar)

	v.SetDefault("restore_points.keep_last", d.RestorePoints.KeepLast)
	v.SetDefault("restore_points.max_blob_bytes", d.RestorePoints.MaxBlobBytes)
	v.SetDefault("restore_points.include_db", false)
	v.SetDefault("restore_points.scope.plugins_themes", true)
	v.SetDefault("restore_points.scope.wp_config", true)
	v.SetDefault("restore_points.scope.core", false)
	v.SetDefault("restore_points.scope.uploads", false)

	v.SetDefault("db.engine", d.DB.Engine)
	v.SetDefault("db.tables_mode", string(d.DB.TablesMode))
	v.SetDefault("db.custom_tables", "")
	v.SetDefault("db.max_seconds", d.DB.MaxSeconds)
	v.SetDefault("db.chunk_rows", d.DB.ChunkRows)
	v.SetDefault("db.table_prefix", d.DB.TablePrefix)
	v.SetDefault("db.connection.host", d.DB.Connection.Host)
	v.SetDefault("db.connection.port", d.DB.Connection.Port)
	v.SetDefault("db.connection.username", "")
	v.SetDefault("db.connection.password", "")
	v.SetDefault("db.connection.database", "")
	v.SetDefault("db.connection.timeout", d.DB.Connection.Timeout)

	v.SetDefault("scheduler.state_path", d.Scheduler.StatePath)
	v.SetDefault("scheduler.poll_interval", d.Scheduler.PollInterval)
	v.SetDefault("scheduler.export_delay", d.Scheduler.ExportDelay)
	v.SetDefault("scheduler.restore_delay", d.Scheduler.RestoreDelay)

	v.SetDefault("license.licensed", false)

	v.SetDefault("logging.level", string(d.Logging.Level))
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", "")

	v.SetDefault("operation.window", d.Operation.Window)
}

// WriteDefault writes the commented template to path. An existing file is
// never overwritten.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return apperrors.NewConfigurationError(fmt.Sprintf("configuration file already exists: %s", path), nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperrors.NewIOFailureError("failed to create config directory", err)
	}
	if err := os.WriteFile(path, []byte(Template()), 0600); err != nil {
		return apperrors.NewIOFailureError("failed to write configuration file", err)
	}
	return nil
}

// Template returns a commented settings file with every default spelled out
func Template() string {
	return `# Site Guardian configuration

# Root of the protected WordPress tree
site_root: .

storage:
  # LOCAL, S3, AZURE or GCS
  provider: LOCAL
  local:
    base_path: ./guardian-data
  # s3:
  #   bucket: my-backups
  #   region: us-east-1
  #   prefix: site-guardian
  # azure:
  #   account_name: myaccount
  #   container_name: backups
  # gcs:
  #   bucket: my-backups
  #   credentials_path: /path/to/credentials.json
  compression:
    # GZIP, LZ4, ZSTD or NONE
    algorithm: GZIP
    level: 0
  encryption:
    enabled: false
    # hex encoded 32-byte key, wins over passphrase
    key_env_var: SITE_GUARDIAN_ENCRYPTION_KEY

restore_points:
  keep_last: 10
  # files above this size are recorded but not stored
  max_blob_bytes: 20971520
  include_db: false
  scope:
    plugins_themes: true
    wp_config: true
    core: false
    uploads: false

db:
  # basic: one time-boxed dump; pro: resumable chunked jobs
  engine: basic
  # wp_core, all_prefix or custom
  tables_mode: wp_core
  # one table per line, used by tables_mode custom
  custom_tables: ""
  max_seconds: 20
  chunk_rows: 500
  table_prefix: wp_
  connection:
    host: localhost
    port: 3306
    username: ""
    password: ""
    database: ""
    timeout: 30s

scheduler:
  state_path: ./guardian-data/scheduler.db
  poll_interval: 15s
  export_delay: 60s
  restore_delay: 30s

license:
  licensed: false

logging:
  # quiet, normal, verbose or debug
  level: normal
  # text or json
  format: text
  file: ""

operation:
  # how long an armed operation can be rolled back
  window: 10m
`
}

// EnvironmentVariables lists the environment overrides read outside viper
func EnvironmentVariables() []string {
	return []string{
		EnvPrefix + "_SITE_ROOT",
		EnvPrefix + "_STORAGE_PROVIDER",
		EnvPrefix + "_STORAGE_PATH",
		EnvPrefix + "_COMPRESSION",
		EnvPrefix + "_COMPRESSION_LEVEL",
		EnvPrefix + "_ENCRYPTION_KEY",
		EnvPrefix + "_S3_ACCESS_KEY",
		EnvPrefix + "_S3_SECRET_KEY",
		EnvPrefix + "_AZURE_ACCOUNT_KEY",
		EnvPrefix + "_DB_HOST",
		EnvPrefix + "_DB_USER",
		EnvPrefix + "_DB_PASSWORD",
		EnvPrefix + "_DB_NAME",
	}
}

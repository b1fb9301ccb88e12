package database

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	apperrors "site-guardian/internal/errors"
)

// DatabaseConfig holds the configuration parameters for the site database
type DatabaseConfig struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Port     int           `mapstructure:"port" yaml:"port"`
	Username string        `mapstructure:"username" yaml:"username"`
	Password string        `mapstructure:"password" yaml:"password"`
	Database string        `mapstructure:"database" yaml:"database"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SetDefaults fills in the port and timeout when unset
func (dc *DatabaseConfig) SetDefaults() {
	if dc.Host == "" {
		dc.Host = "localhost"
	}
	if dc.Port == 0 {
		dc.Port = 3306
	}
	if dc.Timeout <= 0 {
		dc.Timeout = 30 * time.Second
	}
}

// Validate checks if the database configuration has all required parameters
func (dc *DatabaseConfig) Validate() error {
	var errs apperrors.ValidationErrors

	if dc.Host == "" {
		errs.Add("db.connection.host", "host is required", nil)
	}
	if dc.Port <= 0 || dc.Port > 65535 {
		errs.Add("db.connection.port", "port must be between 1 and 65535", dc.Port)
	}
	if dc.Username == "" {
		errs.Add("db.connection.username", "username is required", nil)
	}
	if dc.Database == "" {
		errs.Add("db.connection.database", "database name is required", nil)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// DSN returns the Data Source Name for the MySQL driver. Temporal columns are
// left as raw bytes so zero dates survive a dump and replay unchanged.
func (dc *DatabaseConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = dc.Username
	cfg.Passwd = dc.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", dc.Host, dc.Port)
	cfg.DBName = dc.Database
	cfg.Timeout = dc.Timeout
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

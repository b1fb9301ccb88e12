// Package database is the collaborator interface the snapshot engines use to
// read and replay the site database, with its MySQL implementation.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/logging"
)

// ResultSet is a fully materialised query result. Byte values are returned
// as strings.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Database is the access the engines need from the site database
type Database interface {
	Query(ctx context.Context, query string) (*ResultSet, error)
	Exec(ctx context.Context, statement string) error
	ShowCreateTable(ctx context.Context, table string) (string, error)
	ListTablesWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// MySQL implements Database over database/sql
type MySQL struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewMySQL wraps an open connection pool
func NewMySQL(db *sql.DB, logger *logging.Logger) *MySQL {
	return &MySQL{db: db, logger: logging.OrDefault(logger)}
}

// Open connects to MySQL, retrying recoverable connection failures
func Open(ctx context.Context, config DatabaseConfig, retry *apperrors.RetryHandler, logger *logging.Logger) (*MySQL, error) {
	logger = logging.OrDefault(logger)
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, apperrors.NewConfigurationError("invalid database configuration", err)
	}
	if retry == nil {
		retry = apperrors.NewDefaultRetryHandler()
	}

	startTime := time.Now()
	logger.WithFields(map[string]interface{}{
		"host":     config.Host,
		"database": config.Database,
		"port":     config.Port,
	}).Info("Attempting database connection")

	var db *sql.DB
	err := retry.Retry(ctx, func() error {
		var openErr error
		db, openErr = sql.Open("mysql", config.DSN())
		if openErr != nil {
			return apperrors.WrapError(openErr, "failed to open database connection")
		}

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, config.Timeout)
		defer cancel()
		if pingErr := db.PingContext(pingCtx); pingErr != nil {
			db.Close()
			return apperrors.WrapError(pingErr, "failed to ping database")
		}
		return nil
	})

	logger.LogDatabaseConnection(config.Host, config.Database, err == nil, time.Since(startTime), err)
	if err != nil {
		return nil, err
	}
	return NewMySQL(db, logger), nil
}

// Close closes the connection pool
func (m *MySQL) Close() error {
	if m.db == nil {
		return nil
	}
	if err := m.db.Close(); err != nil {
		return apperrors.WrapError(err, "failed to close database connection")
	}
	return nil
}

// Query runs query and reads every row
func (m *MySQL) Query(ctx context.Context, query string) (*ResultSet, error) {
	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		m.logger.WithField("sql", logging.SanitizeSQL(query)).WithError(err).Debug("Query failed")
		return nil, apperrors.WrapError(err, "query failed")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, apperrors.WrapError(err, "failed to read result columns")
	}

	result := &ResultSet{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, apperrors.WrapError(err, "failed to scan row")
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WrapError(err, "failed to iterate rows")
	}
	return result, nil
}

// Exec executes a single statement. Logging is left to the caller replaying
// the dump.
func (m *MySQL) Exec(ctx context.Context, statement string) error {
	if _, err := m.db.ExecContext(ctx, statement); err != nil {
		return apperrors.WrapError(err, "statement failed")
	}
	return nil
}

// ShowCreateTable returns the CREATE TABLE statement for table, without a
// trailing semicolon
func (m *MySQL) ShowCreateTable(ctx context.Context, table string) (string, error) {
	var name, ddl string
	err := m.db.QueryRowContext(ctx, fmt.Sprintf("SHOW CREATE TABLE %s", QuoteIdentifier(table))).Scan(&name, &ddl)
	if err != nil {
		return "", apperrors.WrapError(err, fmt.Sprintf("failed to read definition of %s", table))
	}
	return ddl, nil
}

// ListTablesWithPrefix lists the tables of the current database whose name
// starts with prefix
func (m *MySQL) ListTablesWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	result, err := m.Query(ctx, fmt.Sprintf("SHOW TABLES LIKE %s", Literal(EscapeLike(prefix)+"%")))
	if err != nil {
		return nil, err
	}

	var tables []string
	for _, row := range result.Rows {
		if len(row) == 0 {
			continue
		}
		name, ok := row[0].(string)
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		tables = append(tables, name)
	}
	return tables, nil
}

package dbsnapshot

import (
	"bytes"
	"context"
	"io"
	"time"

	"site-guardian/internal/database"
	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/logging"
	"site-guardian/internal/sqlsplit"
)

// ApplyResult counts replayed statements. Remainder is trailing text without
// a terminating semicolon, which is never executed. FirstError is the first
// STATEMENT_FAILURE seen.
type ApplyResult struct {
	Statements int
	Errors     int
	Remainder  string
	FirstError error
}

// Apply replays the statements in r against db. A failing statement is
// counted and logged; replay continues with the next one. Replay stops with
// the context error once ctx is done; the result then holds what ran so far.
func Apply(ctx context.Context, db database.Database, r io.Reader, logger *logging.Logger) (*ApplyResult, error) {
	logger = logging.OrDefault(logger)
	result := &ApplyResult{}

	rest, err := sqlsplit.SplitReader(r, func(stmt string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		err := db.Exec(ctx, stmt)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		result.Statements++
		if err != nil {
			result.Errors++
			err = apperrors.NewStatementFailureError("statement failed during replay", err).
				WithContext("statement", logging.SanitizeSQL(stmt))
			if result.FirstError == nil {
				result.FirstError = err
			}
		}
		logger.LogSQLExecution(stmt, time.Since(start), err)
		return nil
	})
	if err != nil {
		return result, err
	}

	if rest != "" {
		result.Remainder = rest
		logger.WithField("sql", logging.SanitizeSQL(rest)).Warn("Discarded unterminated trailing statement")
	}
	return result, nil
}

// ApplyBytes is Apply over an in-memory dump
func ApplyBytes(ctx context.Context, db database.Database, data []byte, logger *logging.Logger) (*ApplyResult, error) {
	return Apply(ctx, db, bytes.NewReader(data), logger)
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/juju/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineError(t *testing.T) {
	cause := errors.New("disk unplugged")
	err := NewIOFailureError("failed to write chunk", cause)

	assert.Equal(t, ErrorTypeIOFailure, err.Type)
	assert.Equal(t, "IO_FAILURE: failed to write chunk (caused by: disk unplugged)", err.Error())
	assert.Same(t, cause, errors.Unwrap(err))
	assert.False(t, err.IsRecoverable())

	err.WithContext("table", "wp_posts").WithContext("chunk", 3)
	assert.Equal(t, "wp_posts", err.Context["table"])
	assert.Equal(t, 3, err.Context["chunk"])
}

func TestTypePredicates(t *testing.T) {
	notFound := NewNotFoundError("restore point not found", nil)
	wrapped := fmt.Errorf("loading manifest: %w", notFound)

	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsInvalidPath(wrapped))
	assert.True(t, IsStructural(wrapped))
	assert.True(t, IsInvalidPath(NewInvalidPathError("bad", nil)))
	assert.True(t, IsUnlicensed(NewUnlicensedError("no license", nil)))
	assert.True(t, IsMissingDump(NewMissingDumpError("no schema", nil)))
	assert.False(t, IsStructural(NewStatementFailureError("bad insert", nil)))

	// an outer error of a different type still exposes the inner type
	outer := NewIOFailureError("restore failed", notFound)
	assert.True(t, IsNotFound(outer))
	assert.True(t, IsIOFailure(outer))
}

func TestValidationErrors(t *testing.T) {
	var errs ValidationErrors
	assert.False(t, errs.HasErrors())

	errs.Add("db.chunk_rows", "must be positive", -1)
	assert.True(t, errs.HasErrors())
	assert.Equal(t, "validation error for field 'db.chunk_rows': must be positive", errs.Error())

	errs.Add("storage.provider", "unsupported", "FTP")
	assert.Contains(t, errs.Error(), "2 validation errors")
}

func TestErrorClassifier_MySQL(t *testing.T) {
	classifier := NewErrorClassifier()

	tests := []struct {
		name         string
		number       uint16
		expectedType ErrorType
		recoverable  bool
	}{
		{"access denied", 1045, ErrorTypeConfiguration, false},
		{"unknown database", 1049, ErrorTypeConfiguration, false},
		{"duplicate entry", 1062, ErrorTypeStatementFailure, false},
		{"syntax error", 1064, ErrorTypeStatementFailure, false},
		{"cannot connect", 2003, ErrorTypeConnection, true},
		{"server gone away", 2006, ErrorTypeConnection, true},
		{"other", 1205, ErrorTypeDatabase, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifier.ClassifyError(&mysql.MySQLError{Number: tt.number, Message: tt.name})
			assert.Equal(t, tt.expectedType, classified.Type)
			assert.Equal(t, tt.recoverable, classified.IsRecoverable())
			assert.Equal(t, tt.number, classified.Context["mysql_error_code"])
		})
	}
}

func TestErrorClassifier_ContextAndFileSystem(t *testing.T) {
	classifier := NewErrorClassifier()

	assert.Equal(t, ErrorTypeTimeout, classifier.ClassifyError(context.DeadlineExceeded).Type)
	assert.Equal(t, ErrorTypeInterruption, classifier.ClassifyError(context.Canceled).Type)

	missing := &os.PathError{Op: "open", Path: "/nonexistent", Err: syscall.ENOENT}
	assert.Equal(t, ErrorTypeNotFound, classifier.ClassifyError(missing).Type)

	denied := &os.PathError{Op: "open", Path: "/restricted", Err: syscall.EACCES}
	assert.Equal(t, ErrorTypeIOFailure, classifier.ClassifyError(denied).Type)

	assert.Equal(t, ErrorTypeUnknown, classifier.ClassifyError(errors.New("weird")).Type)
	assert.Nil(t, classifier.ClassifyError(nil))
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "ignored"))

	wrapped := WrapError(NewRecoverable(ErrorTypeConnection, "lost", nil), "upload failed")
	assert.Equal(t, ErrorTypeConnection, GetErrorType(wrapped))
	assert.True(t, IsRecoverableError(wrapped))

	fsWrapped := WrapError(&os.PathError{Op: "open", Path: "x", Err: syscall.ENOENT}, "reading blob")
	assert.True(t, IsNotFound(fsWrapped))
	assert.Equal(t, "reading blob", FormatUserError(fsWrapped))
}

func TestRetryHandler_Retry(t *testing.T) {
	config := RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
	handler := NewRetryHandler(config, clock.WallClock)

	t.Run("success after retries", func(t *testing.T) {
		attempts := 0
		err := handler.Retry(context.Background(), func() error {
			attempts++
			if attempts < 3 {
				return NewRecoverable(ErrorTypeConnection, "temporary failure", nil)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("non-recoverable error stops immediately", func(t *testing.T) {
		attempts := 0
		err := handler.Retry(context.Background(), func() error {
			attempts++
			return NewValidationError("bad input", nil)
		})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
		assert.Equal(t, ErrorTypeValidation, GetErrorType(err))
	})

	t.Run("max attempts exceeded", func(t *testing.T) {
		attempts := 0
		err := handler.Retry(context.Background(), func() error {
			attempts++
			return NewRecoverable(ErrorTypeConnection, "always fails", nil)
		})
		require.Error(t, err)
		assert.Equal(t, config.MaxAttempts, attempts)
		assert.Equal(t, ErrorTypeConnection, GetErrorType(err))
	})

	t.Run("context canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := handler.Retry(ctx, func() error { return nil })
		assert.Equal(t, ErrorTypeInterruption, GetErrorType(err))
	})
}

func TestRetryHandler_CalculateDelay(t *testing.T) {
	handler := NewRetryHandler(RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    300 * time.Millisecond,
		Multiplier:  2.0,
	}, nil)

	assert.Equal(t, 100*time.Millisecond, handler.calculateDelay(1))
	assert.Equal(t, 200*time.Millisecond, handler.calculateDelay(2))
	assert.Equal(t, 300*time.Millisecond, handler.calculateDelay(3))
}

func TestGracefulShutdownHandler(t *testing.T) {
	handler := NewGracefulShutdownHandler()

	var order []int
	handler.RegisterShutdownFunc(func() error { order = append(order, 1); return nil })
	handler.RegisterShutdownFunc(func() error { order = append(order, 2); return errors.New("ignored") })

	ctx := handler.Start(context.Background())
	handler.Shutdown()
	handler.Shutdown()

	<-ctx.Done()
	assert.Equal(t, []int{2, 1}, order)
}

func TestInterrupted(t *testing.T) {
	ctx := context.Background()
	assert.False(t, Interrupted(ctx, nil))
	assert.False(t, Interrupted(ctx, errors.New("table wp_x doesn't exist")))
	assert.False(t, Interrupted(ctx, &mysql.MySQLError{Number: 1146, Message: "Table 'wp.wp_x' doesn't exist"}))

	assert.True(t, Interrupted(ctx, context.Canceled))
	assert.True(t, Interrupted(ctx, fmt.Errorf("query: %w", context.DeadlineExceeded)))
	assert.True(t, Interrupted(ctx, WrapError(context.Canceled, "failed to query")))
	assert.True(t, Interrupted(ctx, &mysql.MySQLError{Number: 2013, Message: "Lost connection"}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.True(t, Interrupted(cancelled, errors.New("anything")))
}

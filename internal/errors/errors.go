package errors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"syscall"

	"github.com/go-sql-driver/mysql"
)

// ErrorType represents different categories of engine errors
type ErrorType string

const (
	// ErrorTypeNotFound is returned when a blob, manifest or job record is absent
	ErrorTypeNotFound ErrorType = "NOT_FOUND"
	// ErrorTypeInvalidPath is returned for traversal or empty restore targets
	ErrorTypeInvalidPath ErrorType = "INVALID_PATH"
	// ErrorTypeUnlicensed is returned when the license gate refuses an entry point
	ErrorTypeUnlicensed ErrorType = "UNLICENSED"
	// ErrorTypeMissingDump is returned when a restore references an incomplete export
	ErrorTypeMissingDump ErrorType = "MISSING_DUMP"
	// ErrorTypeIOFailure represents write/open failures on storage
	ErrorTypeIOFailure ErrorType = "IO_FAILURE"
	// ErrorTypeStatementFailure represents a single SQL statement failing during replay
	ErrorTypeStatementFailure ErrorType = "STATEMENT_FAILURE"
	ErrorTypeValidation       ErrorType = "VALIDATION"
	ErrorTypeConfiguration    ErrorType = "CONFIGURATION"
	ErrorTypeDatabase         ErrorType = "DATABASE"
	ErrorTypeConnection       ErrorType = "CONNECTION"
	ErrorTypeTimeout          ErrorType = "TIMEOUT"
	ErrorTypeInterruption     ErrorType = "INTERRUPTION"
	ErrorTypeUnknown          ErrorType = "UNKNOWN"
)

// EngineError represents a typed engine failure with context
type EngineError struct {
	Type        ErrorType              `json:"type"`
	Message     string                 `json:"message"`
	Cause       error                  `json:"-"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Recoverable bool                   `json:"recoverable"`
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// IsRecoverable returns whether retrying the failed operation may succeed
func (e *EngineError) IsRecoverable() bool {
	return e.Recoverable
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new engine error
func New(errorType ErrorType, message string, cause error) *EngineError {
	return &EngineError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewRecoverable creates a new engine error that is safe to retry
func NewRecoverable(errorType ErrorType, message string, cause error) *EngineError {
	e := New(errorType, message, cause)
	e.Recoverable = true
	return e
}

func NewNotFoundError(message string, cause error) *EngineError {
	return New(ErrorTypeNotFound, message, cause)
}

func NewInvalidPathError(message string, cause error) *EngineError {
	return New(ErrorTypeInvalidPath, message, cause)
}

func NewUnlicensedError(message string, cause error) *EngineError {
	return New(ErrorTypeUnlicensed, message, cause)
}

func NewMissingDumpError(message string, cause error) *EngineError {
	return New(ErrorTypeMissingDump, message, cause)
}

func NewIOFailureError(message string, cause error) *EngineError {
	return New(ErrorTypeIOFailure, message, cause)
}

func NewStatementFailureError(message string, cause error) *EngineError {
	return New(ErrorTypeStatementFailure, message, cause)
}

func NewValidationError(message string, cause error) *EngineError {
	return New(ErrorTypeValidation, message, cause)
}

func NewConfigurationError(message string, cause error) *EngineError {
	return New(ErrorTypeConfiguration, message, cause)
}

func NewDatabaseError(message string, cause error) *EngineError {
	return New(ErrorTypeDatabase, message, cause)
}

// GetErrorType returns the engine error type found in err's chain
func GetErrorType(err error) ErrorType {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether any engine error in err's chain has the given type
func Is(err error, errorType ErrorType) bool {
	for err != nil {
		var engineErr *EngineError
		if !errors.As(err, &engineErr) {
			return false
		}
		if engineErr.Type == errorType {
			return true
		}
		err = engineErr.Cause
	}
	return false
}

func IsNotFound(err error) bool    { return Is(err, ErrorTypeNotFound) }
func IsInvalidPath(err error) bool { return Is(err, ErrorTypeInvalidPath) }
func IsUnlicensed(err error) bool  { return Is(err, ErrorTypeUnlicensed) }
func IsMissingDump(err error) bool { return Is(err, ErrorTypeMissingDump) }
func IsIOFailure(err error) bool   { return Is(err, ErrorTypeIOFailure) }

// IsRecoverableError checks if an error is recoverable
func IsRecoverableError(err error) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.IsRecoverable()
	}
	return false
}

// IsStructural reports whether err must abort an operation rather than be counted
func IsStructural(err error) bool {
	switch GetErrorType(err) {
	case ErrorTypeNotFound, ErrorTypeInvalidPath, ErrorTypeUnlicensed, ErrorTypeMissingDump:
		return true
	default:
		return false
	}
}

// Interrupted reports whether err means the work should stop and be resumed
// later rather than skipped: the context is done, or the failure is a
// cancellation or recoverable connection problem.
func Interrupted(ctx context.Context, err error) bool {
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	classified := NewErrorClassifier().ClassifyError(err)
	return classified.Type == ErrorTypeInterruption || classified.IsRecoverable()
}

// ValidationError represents validation-specific errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// ErrorClassifier maps driver, network and filesystem errors onto engine errors
type ErrorClassifier struct{}

// NewErrorClassifier creates a new error classifier
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// ClassifyError analyzes an error and returns an EngineError with appropriate classification
func (ec *ErrorClassifier) ClassifyError(err error) *EngineError {
	if err == nil {
		return nil
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}

	if mysqlErr := ec.classifyMySQLError(err); mysqlErr != nil {
		return mysqlErr
	}
	if ctxErr := ec.classifyContextError(err); ctxErr != nil {
		return ctxErr
	}
	if netErr := ec.classifyNetworkError(err); netErr != nil {
		return netErr
	}
	if fsErr := ec.classifyFileSystemError(err); fsErr != nil {
		return fsErr
	}

	return New(ErrorTypeUnknown, "An unexpected error occurred", err)
}

func (ec *ErrorClassifier) classifyMySQLError(err error) *EngineError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1045: // Access denied
			return New(ErrorTypeConfiguration,
				"Database access denied - check username and password", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1049: // Unknown database
			return New(ErrorTypeConfiguration,
				"Database does not exist", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 1146, 1054, 1062, 1064:
			return New(ErrorTypeStatementFailure,
				fmt.Sprintf("MySQL statement rejected: %s", mysqlErr.Message), err).
				WithContext("mysql_error_code", mysqlErr.Number)
		case 2003, 2006, 2013:
			return NewRecoverable(ErrorTypeConnection,
				"MySQL server unreachable or connection lost", err).
				WithContext("mysql_error_code", mysqlErr.Number)
		default:
			return New(ErrorTypeDatabase,
				fmt.Sprintf("MySQL error: %s", mysqlErr.Message), err).
				WithContext("mysql_error_code", mysqlErr.Number)
		}
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return NewRecoverable(ErrorTypeConnection, "Database connection is invalid", err)
	}
	return nil
}

func (ec *ErrorClassifier) classifyNetworkError(err error) *EngineError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewRecoverable(ErrorTypeTimeout, "Network operation timed out", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			return NewRecoverable(ErrorTypeConnection, "Failed to establish network connection", err)
		case "read", "write":
			return NewRecoverable(ErrorTypeConnection, "Network I/O error", err)
		}
	}
	return nil
}

func (ec *ErrorClassifier) classifyContextError(err error) *EngineError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRecoverable(ErrorTypeTimeout, "Operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrorTypeInterruption, "Operation was canceled", err)
	}
	return nil
}

func (ec *ErrorClassifier) classifyFileSystemError(err error) *EngineError {
	if errors.Is(err, fs.ErrNotExist) {
		return New(ErrorTypeNotFound, "File or directory not found", err)
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		switch pathErr.Err {
		case syscall.EACCES, syscall.EPERM:
			return New(ErrorTypeIOFailure,
				fmt.Sprintf("Permission denied: %s", pathErr.Path), err)
		case syscall.ENOSPC:
			return New(ErrorTypeIOFailure, "No space left on device", err)
		default:
			return New(ErrorTypeIOFailure,
				fmt.Sprintf("Filesystem error on %s", pathErr.Path), err)
		}
	}
	return nil
}

// WrapError wraps an existing error with additional context, keeping its type
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		wrapped := New(engineErr.Type, message, err)
		wrapped.Recoverable = engineErr.Recoverable
		return wrapped
	}

	classified := NewErrorClassifier().ClassifyError(err)
	return &EngineError{
		Type:        classified.Type,
		Message:     message,
		Cause:       err,
		Context:     classified.Context,
		Recoverable: classified.Recoverable,
	}
}

// FormatUserError formats an error for display to users
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Message
	}
	return err.Error()
}

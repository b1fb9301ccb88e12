package engine

import (
	"context"

	"site-guardian/internal/operation"
	"site-guardian/internal/restorepoint"
)

// BeginOperation takes a restore point and records a pending operation of
// opType pointing at it
func (e *Engine) BeginOperation(ctx context.Context, opType string) (*operation.Record, error) {
	m, err := e.CreateRestorePoint(ctx, CreateOptions{Label: "Before " + opType})
	if err != nil {
		return nil, err
	}
	return e.operations.Begin(ctx, opType, m.ID)
}

// ArmOperation opens the rollback window of the pending operation
func (e *Engine) ArmOperation(ctx context.Context) (*operation.Record, error) {
	return e.operations.Arm(ctx, e.settings.Operation.Window)
}

// CompleteOperation marks the last operation completed
func (e *Engine) CompleteOperation(ctx context.Context) (*operation.Record, error) {
	return e.operations.Complete(ctx)
}

// FailOperation marks the last operation failed
func (e *Engine) FailOperation(ctx context.Context, cause error) (*operation.Record, error) {
	return e.operations.Fail(ctx, cause)
}

// LastOperation returns the last operation record
func (e *Engine) LastOperation(ctx context.Context) (*operation.Record, error) {
	return e.operations.Last(ctx)
}

// CheckOnStartup returns the operation still eligible for rollback, if any
func (e *Engine) CheckOnStartup(ctx context.Context) (*operation.Record, error) {
	return e.operations.CheckOnStartup(ctx)
}

// RollbackLastOperation restores the scope recorded before the last
// operation
func (e *Engine) RollbackLastOperation(ctx context.Context) (*restorepoint.RestoreResult, error) {
	return e.operations.Rollback(ctx, e.restorer)
}

// Package operation keeps the record of the last risky operation (plugin
// upgrade, install) and the restore point taken before it, so a failed
// operation can be rolled back when the process next starts.
package operation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	apperrors "site-guardian/internal/errors"
	"site-guardian/internal/logging"
	"site-guardian/internal/restorepoint"
	"site-guardian/internal/storage"
)

// DefaultWindow is how long an armed operation stays eligible for rollback
const DefaultWindow = 10 * time.Minute

const lastKey = "operations/last.json"

// Status of an operation record
type Status string

const (
	StatusPending    Status = "pending"
	StatusArmed      Status = "armed"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Record describes the last operation
type Record struct {
	ID                 string    `json:"id"`
	Type               string    `json:"type"`
	Status             Status    `json:"status"`
	RestorePointBefore string    `json:"restore_point_before,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
	ArmedUntil         time.Time `json:"armed_until,omitempty"`
	Error              string    `json:"error,omitempty"`
}

// Rollbacker puts the scope of a restore point back in place
type Rollbacker interface {
	RestoreScope(ctx context.Context, restorePointID string) (*restorepoint.RestoreResult, error)
}

// Tracker persists the last operation record
type Tracker struct {
	backend storage.Backend
	clock   clock.Clock
	logger  *logging.Logger
}

// NewTracker creates a Tracker storing its record on backend
func NewTracker(backend storage.Backend, clk clock.Clock, logger *logging.Logger) *Tracker {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Tracker{backend: backend, clock: clk, logger: logging.OrDefault(logger)}
}

// Last returns the last operation record, NOT_FOUND when there is none
func (t *Tracker) Last(ctx context.Context) (*Record, error) {
	data, err := t.backend.Get(ctx, lastKey)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, apperrors.NewNotFoundError("operation record is corrupt", err)
	}
	return &rec, nil
}

func (t *Tracker) save(ctx context.Context, rec *Record) error {
	rec.UpdatedAt = t.clock.Now().UTC()
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return apperrors.NewIOFailureError("failed to encode operation record", err)
	}
	if err := t.backend.Put(ctx, lastKey, data); err != nil {
		return apperrors.NewIOFailureError("failed to write operation record", err)
	}
	return nil
}

// Begin records a new pending operation, replacing the previous record
func (t *Tracker) Begin(ctx context.Context, opType, restorePointBefore string) (*Record, error) {
	if opType == "" {
		return nil, apperrors.NewValidationError("operation type is required", nil)
	}
	now := t.clock.Now().UTC()
	rec := &Record{
		ID:                 now.Format("20060102-150405") + "-op-" + uuid.NewString()[:6],
		Type:               opType,
		Status:             StatusPending,
		RestorePointBefore: restorePointBefore,
		CreatedAt:          now,
	}
	if err := t.save(ctx, rec); err != nil {
		return nil, err
	}
	t.logger.WithFields(map[string]interface{}{
		"operation_id":  rec.ID,
		"type":          opType,
		"restore_point": restorePointBefore,
	}).Info("Operation started")
	return rec, nil
}

// Arm opens the rollback window of the pending operation. A window <= 0
// means DefaultWindow.
func (t *Tracker) Arm(ctx context.Context, window time.Duration) (*Record, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	rec, err := t.Last(ctx)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending && rec.Status != StatusArmed {
		return nil, apperrors.NewValidationError(fmt.Sprintf("operation %s is %s and cannot be armed", rec.ID, rec.Status), nil)
	}
	rec.Status = StatusArmed
	rec.ArmedUntil = t.clock.Now().UTC().Add(window)
	if err := t.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Complete marks the last operation completed
func (t *Tracker) Complete(ctx context.Context) (*Record, error) {
	return t.finish(ctx, StatusCompleted, nil)
}

// Fail marks the last operation failed
func (t *Tracker) Fail(ctx context.Context, cause error) (*Record, error) {
	return t.finish(ctx, StatusFailed, cause)
}

func (t *Tracker) finish(ctx context.Context, status Status, cause error) (*Record, error) {
	rec, err := t.Last(ctx)
	if err != nil {
		return nil, err
	}
	rec.Status = status
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := t.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CheckOnStartup returns the armed operation while its window is open. An
// armed operation past its window is marked completed and nil is returned,
// as it is when there is nothing armed.
func (t *Tracker) CheckOnStartup(ctx context.Context) (*Record, error) {
	rec, err := t.Last(ctx)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if rec.Status != StatusArmed {
		return nil, nil
	}
	if t.clock.Now().After(rec.ArmedUntil) {
		rec.Status = StatusCompleted
		if err := t.save(ctx, rec); err != nil {
			return nil, err
		}
		t.logger.WithField("operation_id", rec.ID).Info("Rollback window expired, operation completed")
		return nil, nil
	}
	return rec, nil
}

// Rollback restores the scope of the restore point taken before the last
// operation and marks it rolled back
func (t *Tracker) Rollback(ctx context.Context, r Rollbacker) (*restorepoint.RestoreResult, error) {
	rec, err := t.Last(ctx)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusRolledBack {
		return nil, apperrors.NewValidationError(fmt.Sprintf("operation %s was already rolled back", rec.ID), nil)
	}
	if rec.RestorePointBefore == "" {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("operation %s has no restore point", rec.ID), nil)
	}

	result, err := r.RestoreScope(ctx, rec.RestorePointBefore)
	if err != nil {
		return nil, err
	}

	rec.Status = StatusRolledBack
	if err := t.save(ctx, rec); err != nil {
		return result, err
	}
	t.logger.WithFields(map[string]interface{}{
		"operation_id":  rec.ID,
		"restore_point": rec.RestorePointBefore,
		"restored":      result.Restored,
		"skipped":       result.Skipped,
	}).Warn("Operation rolled back")
	return result, nil
}

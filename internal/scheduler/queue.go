package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"
	_ "modernc.org/sqlite"

	apperrors "site-guardian/internal/errors"
)

// DefaultLease is how long a claimed task stays invisible before it is
// delivered again
const DefaultLease = 10 * time.Minute

// SQLiteQueue is a durable timer table. There is at most one pending timer
// per job and kind; scheduling an already pending task is a no-op.
//
// Due leases tasks instead of removing them. A claimed timer is removed by
// Ack, or replaced when the task schedules itself again; a process that dies
// before either gets the task back once the lease runs out.
type SQLiteQueue struct {
	db    *sql.DB
	clock clock.Clock
	Lease time.Duration
}

// Open opens or creates the timer table at path
func Open(path string, clk clock.Clock) (*SQLiteQueue, error) {
	if clk == nil {
		clk = clock.WallClock
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, apperrors.NewIOFailureError("failed to create scheduler state directory", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.NewIOFailureError("failed to open scheduler state", err)
	}
	db.SetMaxOpenConns(1)

	q := &SQLiteQueue{db: db, clock: clk, Lease: DefaultLease}
	if err := q.migrate(); err != nil {
		db.Close()
		return nil, apperrors.NewIOFailureError("failed to prepare scheduler state", err)
	}
	return q, nil
}

func (q *SQLiteQueue) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS timers (
		job_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		due_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		claimed INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (job_id, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_timers_due ON timers(due_at);
	`
	_, err := q.db.Exec(schema)
	return err
}

// Close closes the database connection
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

// ScheduleOnce records task to become due after delay. A pending timer for
// the task is kept as is; a claimed one is replaced.
func (q *SQLiteQueue) ScheduleOnce(ctx context.Context, task Task, delay time.Duration) error {
	if task.JobID == "" {
		return apperrors.NewValidationError("task has no job id", nil)
	}
	now := q.clock.Now()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO timers (job_id, kind, due_at, created_at, claimed)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT (job_id, kind) DO UPDATE
		SET due_at = excluded.due_at, created_at = excluded.created_at, claimed = 0
		WHERE timers.claimed = 1
	`, task.JobID, string(task.Kind), now.Add(delay).UnixNano(), now.UnixNano())
	if err != nil {
		return apperrors.NewIOFailureError(fmt.Sprintf("failed to schedule %s job %s", task.Kind, task.JobID), err)
	}
	return nil
}

// Due claims every task whose time has come, oldest first. Claimed tasks
// become due again after the lease unless acknowledged or rescheduled.
func (q *SQLiteQueue) Due(ctx context.Context) ([]Task, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewIOFailureError("failed to begin scheduler transaction", err)
	}
	defer tx.Rollback()

	now := q.clock.Now().UnixNano()
	rows, err := tx.QueryContext(ctx, `
		SELECT job_id, kind FROM timers
		WHERE due_at <= ?
		ORDER BY due_at, job_id
	`, now)
	if err != nil {
		return nil, apperrors.NewIOFailureError("failed to read due timers", err)
	}

	var tasks []Task
	for rows.Next() {
		var task Task
		var kind string
		if err := rows.Scan(&task.JobID, &kind); err != nil {
			rows.Close()
			return nil, apperrors.NewIOFailureError("failed to scan timer", err)
		}
		task.Kind = Kind(kind)
		tasks = append(tasks, task)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewIOFailureError("failed to read due timers", err)
	}

	lease := q.Lease
	if lease <= 0 {
		lease = DefaultLease
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE timers SET claimed = 1, due_at = ?
		WHERE due_at <= ?
	`, now+lease.Nanoseconds(), now); err != nil {
		return nil, apperrors.NewIOFailureError("failed to claim due timers", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewIOFailureError("failed to commit scheduler transaction", err)
	}
	return tasks, nil
}

// Ack removes the claimed timer of a task that ran. A timer the task
// scheduled again meanwhile is left alone.
func (q *SQLiteQueue) Ack(ctx context.Context, task Task) error {
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM timers WHERE job_id = ? AND kind = ? AND claimed = 1
	`, task.JobID, string(task.Kind))
	if err != nil {
		return apperrors.NewIOFailureError(fmt.Sprintf("failed to acknowledge %s job %s", task.Kind, task.JobID), err)
	}
	return nil
}

// Pending returns the number of scheduled timers, claimed ones included
func (q *SQLiteQueue) Pending(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM timers`).Scan(&n); err != nil {
		return 0, apperrors.NewIOFailureError("failed to count timers", err)
	}
	return n, nil
}

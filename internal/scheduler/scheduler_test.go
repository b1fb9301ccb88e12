package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"site-guardian/internal/logging"
)

func openTestQueue(t *testing.T) (*SQLiteQueue, *testclock.Clock) {
	t.Helper()
	clk := testclock.NewClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	q, err := Open(filepath.Join(t.TempDir(), "state", "scheduler.db"), clk)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, clk
}

func TestQueue_ScheduleAndDue(t *testing.T) {
	ctx := context.Background()
	q, clk := openTestQueue(t)

	require.NoError(t, q.ScheduleOnce(ctx, Task{JobID: "job-export", Kind: KindExport}, 60*time.Second))
	require.NoError(t, q.ScheduleOnce(ctx, Task{JobID: "job-restore", Kind: KindRestore}, 30*time.Second))
	require.NoError(t, q.ScheduleOnce(ctx, Task{JobID: "job-export", Kind: KindExport}, time.Second))

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	due, err := q.Due(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)

	clk.Advance(30 * time.Second)
	due, err = q.Due(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Task{{JobID: "job-restore", Kind: KindRestore}}, due)

	clk.Advance(30 * time.Second)
	due, err = q.Due(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Task{{JobID: "job-export", Kind: KindExport}}, due)

	due, err = q.Due(ctx)
	require.NoError(t, err)
	assert.Empty(t, due, "claimed tasks are not delivered twice")

	assert.Error(t, q.ScheduleOnce(ctx, Task{Kind: KindExport}, 0))
}

func TestQueue_Durable(t *testing.T) {
	ctx := context.Background()
	clk := testclock.NewClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	path := filepath.Join(t.TempDir(), "scheduler.db")

	q, err := Open(path, clk)
	require.NoError(t, err)
	require.NoError(t, q.ScheduleOnce(ctx, Task{JobID: "j", Kind: KindExport}, 0))
	require.NoError(t, q.Close())

	reopened, err := Open(path, clk)
	require.NoError(t, err)
	defer reopened.Close()

	due, err := reopened.Due(ctx)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestWorker_RunOnceReschedulesFailures(t *testing.T) {
	ctx := context.Background()
	q, clk := openTestQueue(t)

	require.NoError(t, q.ScheduleOnce(ctx, Task{JobID: "ok", Kind: KindExport}, 0))
	require.NoError(t, q.ScheduleOnce(ctx, Task{JobID: "bad", Kind: KindRestore}, 0))

	var ran []string
	runner := RunnerFunc(func(ctx context.Context, task Task) error {
		ran = append(ran, task.JobID)
		if task.JobID == "bad" {
			return errors.New("step failed")
		}
		return nil
	})

	w := NewWorker(q, runner, clk, time.Second, logging.NewNopLogger())
	w.RetryDelay = 10 * time.Second

	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"ok", "bad"}, ran)

	n, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(10 * time.Second)
	ran = nil
	n, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"bad"}, ran)
}

func TestWorker_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q, clk := openTestQueue(t)
	require.NoError(t, q.ScheduleOnce(ctx, Task{JobID: "later", Kind: KindExport}, 30*time.Second))

	ranCh := make(chan Task, 1)
	runner := RunnerFunc(func(ctx context.Context, task Task) error {
		ranCh <- task
		return nil
	})

	w := NewWorker(q, runner, clk, 30*time.Second, logging.NewNopLogger())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, clk.WaitAdvance(30*time.Second, 5*time.Second, 1))

	select {
	case task := <-ranCh:
		assert.Equal(t, "later", task.JobID)
	case <-time.After(5 * time.Second):
		t.Fatal("task was not run")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestQueue_ClaimIsLeasedUntilAck(t *testing.T) {
	ctx := context.Background()
	q, clk := openTestQueue(t)
	task := Task{JobID: "j1", Kind: KindExport}
	require.NoError(t, q.ScheduleOnce(ctx, task, 0))

	due, err := q.Due(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Task{task}, due)

	// the claimant never runs the task
	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending)

	due, err = q.Due(ctx)
	require.NoError(t, err)
	assert.Empty(t, due)

	clk.Advance(DefaultLease)
	due, err = q.Due(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Task{task}, due, "an unacknowledged task is delivered again")

	require.NoError(t, q.Ack(ctx, task))
	pending, err = q.Pending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestQueue_RescheduleReplacesClaim(t *testing.T) {
	ctx := context.Background()
	q, clk := openTestQueue(t)
	task := Task{JobID: "j1", Kind: KindRestore}
	require.NoError(t, q.ScheduleOnce(ctx, task, 0))

	_, err := q.Due(ctx)
	require.NoError(t, err)

	require.NoError(t, q.ScheduleOnce(ctx, task, 30*time.Second))
	require.NoError(t, q.Ack(ctx, task))

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pending, "ack leaves the new timer alone")

	clk.Advance(30 * time.Second)
	due, err := q.Due(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Task{task}, due)
}

func TestWorker_RunOnceAfterCancellation(t *testing.T) {
	q, clk := openTestQueue(t)
	task := Task{JobID: "j1", Kind: KindExport}
	require.NoError(t, q.ScheduleOnce(context.Background(), task, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := RunnerFunc(func(ctx context.Context, task Task) error {
		cancel()
		return ctx.Err()
	})

	w := NewWorker(q, runner, clk, time.Second, logging.NewNopLogger())
	w.RetryDelay = 10 * time.Second
	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clk.Advance(10 * time.Second)
	due, err := q.Due(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Task{task}, due, "a task interrupted by shutdown is kept")
}

func TestWorker_RunOnceCorrelationIDs(t *testing.T) {
	ctx := context.Background()
	q, clk := openTestQueue(t)
	require.NoError(t, q.ScheduleOnce(ctx, Task{JobID: "a", Kind: KindExport}, 0))
	require.NoError(t, q.ScheduleOnce(ctx, Task{JobID: "b", Kind: KindExport}, 0))

	ids := make(map[string]string)
	runner := RunnerFunc(func(ctx context.Context, task Task) error {
		ids[task.JobID] = logging.GetCorrelationID(ctx)
		return nil
	})

	_, err := NewWorker(q, runner, clk, time.Second, logging.NewNopLogger()).RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids["a"])
	assert.NotEmpty(t, ids["b"])
	assert.NotEqual(t, ids["a"], ids["b"])
}

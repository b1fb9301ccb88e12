package scheduler

import (
	"context"
	"time"

	"github.com/juju/clock"

	"site-guardian/internal/logging"
)

// Worker drains the queue and runs due tasks. A task whose run fails is
// scheduled again after RetryDelay.
type Worker struct {
	queue      *SQLiteQueue
	runner     Runner
	clock      clock.Clock
	poll       time.Duration
	RetryDelay time.Duration
	logger     *logging.Logger
}

// NewWorker creates a Worker polling every poll interval
func NewWorker(queue *SQLiteQueue, runner Runner, clk clock.Clock, poll time.Duration, logger *logging.Logger) *Worker {
	if clk == nil {
		clk = clock.WallClock
	}
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Worker{
		queue:      queue,
		runner:     runner,
		clock:      clk,
		poll:       poll,
		RetryDelay: time.Minute,
		logger:     logging.OrDefault(logger),
	}
}

// RunOnce runs every due task and returns how many ran. Each task runs with
// its own correlation ID. A task that ran is acknowledged; one that failed
// is scheduled again after RetryDelay.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	tasks, err := w.queue.Due(ctx)
	if err != nil {
		return 0, err
	}

	// bookkeeping must land even when shutdown cancels ctx mid-task
	bookCtx := context.WithoutCancel(ctx)
	for _, task := range tasks {
		taskCtx := logging.ContextWithCorrelationID(ctx, "")
		entry := w.logger.WithContext(taskCtx).WithFields(map[string]interface{}{
			"job_id": task.JobID,
			"kind":   task.Kind,
		})
		if err := w.runner.Run(taskCtx, task); err != nil {
			entry.WithError(err).Warn("Task failed, rescheduling")
			if serr := w.queue.ScheduleOnce(bookCtx, task, w.RetryDelay); serr != nil {
				entry.WithError(serr).Error("Failed to reschedule task")
			}
			continue
		}
		if err := w.queue.Ack(bookCtx, task); err != nil {
			entry.WithError(err).Error("Failed to acknowledge task")
			continue
		}
		entry.Debug("Task ran")
	}
	return len(tasks), nil
}

// Run polls until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	w.logger.WithField("poll_interval", w.poll.String()).Info("Scheduler worker started")
	for {
		if _, err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.WithError(err).Warn("Failed to poll scheduler queue")
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Scheduler worker stopped")
			return nil
		case <-w.clock.After(w.poll):
		}
	}
	w.logger.Info("Scheduler worker stopped")
	return nil
}

// Package scheduler re-invokes resumable jobs. Continuations are typed tasks
// kept in a durable SQLite timer table and drained by a worker loop.
package scheduler

import (
	"context"
	"time"
)

// Kind is the direction of a resumable database job
type Kind string

const (
	KindExport  Kind = "export"
	KindRestore Kind = "restore"
)

// Task asks for one more step of a job
type Task struct {
	JobID string `json:"job_id"`
	Kind  Kind   `json:"kind"`
}

// Scheduler accepts requests to run a task once after a delay. Delivery is
// at least once, not necessarily promptly.
type Scheduler interface {
	ScheduleOnce(ctx context.Context, task Task, delay time.Duration) error
}

// Runner executes a due task
type Runner interface {
	Run(ctx context.Context, task Task) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, task Task) error

// Run calls f
func (f RunnerFunc) Run(ctx context.Context, task Task) error {
	return f(ctx, task)
}

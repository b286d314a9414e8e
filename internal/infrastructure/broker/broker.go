// Package broker defines the task-queue abstraction the dispatcher and
// tracker submit work through, and its Redis-backed implementation.
//
// The shape follows Celery's own broker contract: named queues, a
// caller-supplied task ID on submission, polling by ID for status, revoke
// by ID, and live worker inspection by queue name — the same primitives
// workflow_tracker.py and annotation_watchdog.py drive through
// current_app.control / AsyncResult.
package broker

import (
	"context"
	"errors"
	"time"
)

// TaskState mirrors Celery's task states closely enough for the
// tracker/watchdog reconciliation logic to key off of.
type TaskState string

const (
	StatePending TaskState = "PENDING"
	StateStarted TaskState = "STARTED"
	StateSuccess TaskState = "SUCCESS"
	StateFailure TaskState = "FAILURE"
	StateRevoked TaskState = "REVOKED"
)

// Terminal reports whether a task in this state will never change again.
func (s TaskState) Terminal() bool {
	switch s {
	case StateSuccess, StateFailure, StateRevoked:
		return true
	default:
		return false
	}
}

// ErrNotFound is returned when a task ID is unknown to the broker (expired
// result, or never submitted).
var ErrNotFound = errors.New("broker: task not found")

// TaskStatus is a point-in-time snapshot of a dispatched task.
type TaskStatus struct {
	TaskID  string
	State   TaskState
	Result  map[string]any
	Error   string
}

// Submission describes one task to enqueue.
type Submission struct {
	TaskID string
	Queue  string
	Name   string
	Args   map[string]any
	// Countdown delays delivery, used when chaining a task behind a
	// group/chord join.
	Countdown time.Duration
}

// Broker is the transport a workflow's compiled tasks are dispatched
// through and later polled/revoked via.
type Broker interface {
	// Submit enqueues a task under its caller-supplied ID, returning
	// ErrBrokerUnavailable-wrapped errors on transport failure.
	Submit(ctx context.Context, sub Submission) error

	// Status polls the current state of a previously submitted task.
	Status(ctx context.Context, taskID string) (*TaskStatus, error)

	// Revoke cancels a pending or running task. Revoking an already
	// terminal task is a no-op.
	Revoke(ctx context.Context, taskID string) error

	// Forget discards a terminal task's cached result, mirroring
	// AsyncResult.forget().
	Forget(ctx context.Context, taskID string) error

	// ActiveTaskIDs returns the task IDs a worker pool listening on the
	// given queue currently reports as active, analogous to
	// current_app.control.inspect().active().
	ActiveTaskIDs(ctx context.Context, queue string) ([]string, error)

	// AvailableWorkers returns the number of worker processes currently
	// registered against the given queue.
	AvailableWorkers(ctx context.Context, queue string) (int, error)

	// WorkerIDs returns the ids of every worker process currently
	// registered against the given queue, the per-queue breakdown
	// get_ai_model_training_info's "workers" section and the annotation
	// watchdog's "both worker classes present" check both need,
	// analogous to current_app.control.inspect().active() grouped by
	// the worker's advertised queues.
	WorkerIDs(ctx context.Context, queue string) ([]string, error)
}

package aide

import "errors"

// Sentinel errors returned by the orchestration core. Callers should use
// errors.Is against these values; wrapped errors carry additional context
// via %w.
var (
	// ErrInvalidWorkflow is returned when a workflow document fails
	// structural validation or references an unknown task type.
	ErrInvalidWorkflow = errors.New("aide: invalid workflow")

	// ErrUnknownWorkflow is returned when a named saved workflow (or a
	// workflow history entry) cannot be found for a project.
	ErrUnknownWorkflow = errors.New("aide: unknown workflow")

	// ErrAdmissionRefused is returned by the middleware when a task
	// cannot be admitted under the current concurrency policy.
	ErrAdmissionRefused = errors.New("aide: admission refused")

	// ErrBrokerUnavailable is returned when the task broker cannot be
	// reached to submit, inspect, or revoke a task.
	ErrBrokerUnavailable = errors.New("aide: broker unavailable")

	// ErrStoreGone is returned when the persistence layer for a project
	// (its schema, or a row within it) no longer exists.
	ErrStoreGone = errors.New("aide: project store gone")

	// ErrModelVerificationFailed is returned when a model adapter
	// rejects the options supplied for training or inference.
	ErrModelVerificationFailed = errors.New("aide: model verification failed")

	// ErrUnknownModel is returned when a requested AI model library is
	// not registered with the middleware.
	ErrUnknownModel = errors.New("aide: unknown AI model")

	// ErrNoCapacity reports that no workers are available for a workflow;
	// FromError reports it as StatusNoCapacity. The compiler does not
	// return it: it clamps requested worker counts to those available.
	ErrNoCapacity = errors.New("aide: no workers available")
)

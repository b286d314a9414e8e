package middleware

import (
	"context"
	"fmt"

	"github.com/smilemakc/aidecore/internal/domain/aide"
)

// Admission enforces can_launch_task's concurrency policy: an
// auto-launched run may only start while its project has no other run in
// flight, while a user-launched run may start so long as the project's
// (optionally globally-clamped) concurrency cap has not been reached.
type Admission struct {
	Tracker             *trackerQuerier
	GlobalMaxConcurrent int
}

// trackerQuerier is the slice of *tracker.Tracker's surface Admission
// needs, held as a function field so admission tests can supply a fake
// without importing the tracker package.
type trackerQuerier struct {
	activeTaskIDs func(ctx context.Context, shortName string) ([]string, error)
}

// NewAdmission builds an Admission against a function reporting a
// project's currently active task IDs (normally Tracker.ActiveTaskIDs)
// and the configured global concurrency ceiling.
func NewAdmission(activeTaskIDs func(ctx context.Context, shortName string) ([]string, error), globalMaxConcurrent int) *Admission {
	return &Admission{
		Tracker:             &trackerQuerier{activeTaskIDs: activeTaskIDs},
		GlobalMaxConcurrent: globalMaxConcurrent,
	}
}

// CanLaunch reports whether a new run may be admitted for project, per
// can_launch_task: an auto-launched request (autoLaunched true) is
// refused outright if any task is already running for the project; a
// user-launched request is admitted while the number running is strictly
// below the project's effective cap. The effective cap is the project's
// own MaxNumConcurrent, clamped down to the global ceiling when the
// global ceiling is positive; a non-positive project cap is replaced by a
// positive global ceiling, and the cap is unlimited only when both are
// non-positive.
func (a *Admission) CanLaunch(ctx context.Context, shortName string, project *aide.Project, autoLaunched bool) error {
	active, err := a.Tracker.activeTaskIDs(ctx, shortName)
	if err != nil {
		return err
	}
	running := len(active)

	if autoLaunched {
		if running > 0 {
			return fmt.Errorf("%w: a workflow is already running for %q", aide.ErrAdmissionRefused, shortName)
		}
		return nil
	}

	cap := project.MaxNumConcurrent
	if a.GlobalMaxConcurrent > 0 && (cap <= 0 || cap > a.GlobalMaxConcurrent) {
		cap = a.GlobalMaxConcurrent
	}
	if cap <= 0 {
		return nil
	}
	if running >= cap {
		return fmt.Errorf("%w: %d of %d concurrent workflows already running for %q", aide.ErrAdmissionRefused, running, cap, shortName)
	}
	return nil
}

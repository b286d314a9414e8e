package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/smilemakc/aidecore/internal/domain/aide"
	"github.com/smilemakc/aidecore/internal/domain/repository"
)

// AdmissionChecker decides whether an auto-launched workflow may start
// right now, implemented by the middleware's admission control.
type AdmissionChecker func(ctx context.Context, shortName string) error

// WorkerClassesOnline reports whether at least one worker advertising
// the AIController queue and at least one advertising the AIWorker queue
// are currently registered with the broker, the second half of spec.md
// §4.5's auto-launch decision alongside AdmissionChecker.
type WorkerClassesOnline func(ctx context.Context) (bool, error)

// Launcher compiles and dispatches the project's configured (or default)
// autotrain workflow.
type Launcher func(ctx context.Context, shortName string, doc *aide.Document) error

// Reconciler reconciles a project's recorded running tasks against the
// broker's live worker state, normally Tracker.Reconcile wrapped by the
// middleware.
type Reconciler func(ctx context.Context, shortName string) error

// ProjectWatchdog is the per-project annotation watchdog: it polls label
// counts on a back-off schedule and triggers an auto-train run once a
// project crosses its configured threshold, mirroring
// annotation_watchdog.py's Watchdog thread.
type ProjectWatchdog struct {
	ShortName string

	Projects      repository.ProjectRepository
	Images        repository.ImageRepository
	Launch        Launcher
	Admit         AdmissionChecker
	WorkersOnline WorkerClassesOnline
	Reconcile     Reconciler
	Logger        *slog.Logger

	WaitMin    time.Duration
	WaitMax    time.Duration
	SleepSlice time.Duration

	stop  chan struct{}
	nudge chan struct{}
	done  chan struct{}
}

// New builds a ProjectWatchdog. Call Run in its own goroutine.
func New(shortName string, projects repository.ProjectRepository, images repository.ImageRepository, launch Launcher, admit AdmissionChecker, workersOnline WorkerClassesOnline, reconcile Reconciler, waitMin, waitMax, sleepSlice time.Duration, logger *slog.Logger) *ProjectWatchdog {
	return &ProjectWatchdog{
		ShortName:     shortName,
		Projects:      projects,
		Images:        images,
		Launch:        launch,
		Admit:         admit,
		WorkersOnline: workersOnline,
		Reconcile:     reconcile,
		Logger:        logger,
		WaitMin:       waitMin,
		WaitMax:       waitMax,
		SleepSlice:    sleepSlice,
		stop:          make(chan struct{}),
		nudge:         make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
}

// Stop signals the watchdog loop to exit and blocks until it does.
func (w *ProjectWatchdog) Stop() {
	close(w.stop)
	<-w.done
}

// Done reports whether the watchdog's loop has exited, either via Stop or
// by self-terminating when its project disappeared.
func (w *ProjectWatchdog) Done() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Nudge wakes the watchdog immediately instead of waiting out its current
// back-off interval, used when a project's autotrain settings change.
func (w *ProjectWatchdog) Nudge() {
	select {
	case w.nudge <- struct{}{}:
	default:
	}
}

// Run is the watchdog's main loop: while the project still exists, each
// wake first reconciles the project's recorded running tasks against the
// broker's live state, then checks whether the project has crossed its
// autotrain threshold and, if admission allows, launches its autotrain
// workflow; then it sleeps for a back-off interval computed from how
// close the project is and how fast it is still gaining annotations, in
// interruptible slices so Stop/Nudge take effect promptly.
func (w *ProjectWatchdog) Run(ctx context.Context) {
	defer close(w.done)

	lastCount := 0

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		exists, err := w.Projects.Exists(ctx, w.ShortName)
		if err != nil || !exists {
			if err != nil {
				w.logError("check project exists", err)
			}
			return
		}

		project, err := w.Projects.Get(ctx, w.ShortName)
		if err != nil {
			w.logError("load project", err)
			return
		}

		// Reconcile on every wake, before the launch decision: a stale
		// "running" row would otherwise block admission forever. Errors
		// are transient; the loop retries on its next tick.
		if w.Reconcile != nil {
			if err := w.Reconcile(ctx, w.ShortName); err != nil {
				w.logError("reconcile running tasks", err)
			}
		}

		count := 0
		threshold := project.NumImagesAutotrain
		if project.AutotrainEnabled && threshold > 0 {
			stats, err := w.Images.LabelingStats(ctx, w.ShortName, project.MinNumAnnoPerImage)
			if err != nil {
				w.logError("load labeling stats", err)
			} else {
				count = stats.NumAnnotated
				if count >= threshold {
					w.tryLaunch(ctx, project)
				}
			}
		}

		wait := computeWait(count, lastCount, threshold, w.WaitMin, w.WaitMax)
		lastCount = count

		if !w.interruptibleSleep(wait) {
			return
		}
	}
}

func (w *ProjectWatchdog) tryLaunch(ctx context.Context, project *aide.Project) {
	if w.WorkersOnline != nil {
		online, err := w.WorkersOnline(ctx)
		if err != nil {
			w.logError("check worker classes online", err)
			return
		}
		if !online {
			return
		}
	}

	if err := w.Admit(ctx, w.ShortName); err != nil {
		w.logInfo("autotrain admission refused", err)
		return
	}

	doc := aide.DefaultAutotrainWorkflow()
	if err := w.Launch(ctx, w.ShortName, doc); err != nil {
		w.logError("launch autotrain workflow", err)
	}
}

// interruptibleSleep sleeps for d in SleepSlice-sized increments so Stop
// or Nudge interrupt it promptly, the same role the original's 10-second
// polling loop plays around time.sleep(). Returns false if the watchdog
// was stopped while sleeping.
func (w *ProjectWatchdog) interruptibleSleep(d time.Duration) bool {
	slice := w.SleepSlice
	if slice <= 0 {
		slice = d
	}

	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		step := slice
		if remaining < step {
			step = remaining
		}

		timer := time.NewTimer(step)
		select {
		case <-w.stop:
			timer.Stop()
			return false
		case <-w.nudge:
			timer.Stop()
			return true
		case <-timer.C:
		}
	}
	return true
}

func (w *ProjectWatchdog) logError(msg string, err error) {
	if w.Logger != nil {
		w.Logger.Error(msg, slog.String("project", w.ShortName), slog.String("error", err.Error()))
	}
}

func (w *ProjectWatchdog) logInfo(msg string, err error) {
	if w.Logger != nil {
		w.Logger.Info(msg, slog.String("project", w.ShortName), slog.String("reason", err.Error()))
	}
}

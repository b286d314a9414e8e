package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/smilemakc/aidecore/internal/infrastructure/broker"
)

// TaskWatchdog is the process-wide singleton that periodically refreshes
// the broker's live-task snapshot (roughly every 10s) and exposes it
// read-only. It performs no reconciliation itself — each project's
// annotation watchdog reconciles on its own wake — it only keeps a cheap
// cached view of what the worker pool is currently running, for callers
// that want the answer without paying for a broker inspection.
type TaskWatchdog struct {
	Broker broker.Broker
	Queue  string
	Logger *slog.Logger

	cron *cron.Cron

	mu       sync.RWMutex
	snapshot []string
}

// NewTaskWatchdog builds a TaskWatchdog with second-precision cron
// scheduling.
func NewTaskWatchdog(b broker.Broker, queue string, logger *slog.Logger) *TaskWatchdog {
	return &TaskWatchdog{
		Broker: b,
		Queue:  queue,
		Logger: logger,
		cron:   cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
	}
}

// Start schedules the snapshot refresh at the given period (rounded down
// to whole seconds, at least one second; a period of a minute or more
// runs once a minute) and begins running it in the background.
func (w *TaskWatchdog) Start(ctx context.Context, period time.Duration) error {
	spec := cronSpecForPeriod(period)
	_, err := w.cron.AddFunc(spec, func() {
		w.refresh(ctx)
	})
	if err != nil {
		return err
	}
	w.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight refresh to finish.
func (w *TaskWatchdog) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
}

// Snapshot returns a copy of the most recently refreshed live-task id
// list. Empty until the first refresh completes.
func (w *TaskWatchdog) Snapshot() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.snapshot...)
}

func (w *TaskWatchdog) refresh(ctx context.Context) {
	ids, err := w.Broker.ActiveTaskIDs(ctx, w.Queue)
	if err != nil {
		if w.Logger != nil {
			w.Logger.Error("live-task snapshot refresh failed",
				slog.String("queue", w.Queue),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	w.mu.Lock()
	w.snapshot = ids
	w.mu.Unlock()
}

// cronSpecForPeriod builds a seconds-precision "every N seconds" cron
// expression for a sub-minute period, falling back to once a minute for
// anything coarser.
func cronSpecForPeriod(period time.Duration) string {
	secs := int(period.Seconds())
	if secs < 1 {
		secs = 1
	}
	if secs >= 60 {
		return "@every 1m"
	}
	return "@every " + time.Duration(secs*int(time.Second)).String()
}

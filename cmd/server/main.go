// AIDE core server - AI task orchestration daemon
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/smilemakc/aidecore/internal/application/compiler"
	"github.com/smilemakc/aidecore/internal/application/dispatch"
	"github.com/smilemakc/aidecore/internal/application/middleware"
	"github.com/smilemakc/aidecore/internal/application/tracker"
	"github.com/smilemakc/aidecore/internal/application/watchdog"
	"github.com/smilemakc/aidecore/internal/config"
	"github.com/smilemakc/aidecore/internal/infrastructure/broker"
	"github.com/smilemakc/aidecore/internal/infrastructure/cache"
	"github.com/smilemakc/aidecore/internal/infrastructure/clock"
	"github.com/smilemakc/aidecore/internal/infrastructure/logger"
	"github.com/smilemakc/aidecore/internal/infrastructure/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	appLogger := logger.New(cfg.Logging)
	logger.SetDefault(appLogger)

	appLogger.Info("Starting AIDE orchestration core",
		"queue", cfg.Broker.DefaultQueue,
	)

	// Initialize database
	db := storage.NewDB(cfg.Database)
	defer db.Close()

	appLogger.Info("Database connected",
		"max_conns", cfg.Database.MaxConnections,
	)

	// Initialize Redis-backed broker
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		appLogger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisCache.Close()
	appLogger.Info("Redis connected")

	taskBroker := broker.NewRedisBroker(redisCache.Client(), cfg.Broker.ResultTTL)

	// Repositories
	projects := storage.NewProjectRepository(db, cfg.Database.AdminSchema)
	workflows := storage.NewWorkflowRepository(db)
	history := storage.NewWorkflowHistoryRepository(db)
	modelStates := storage.NewModelStateRepository(db)
	images := storage.NewImageRepository(db)
	labelClasses := storage.NewLabelClassRepository(db)

	// Model registry. Prediction/ranking model adapters are registered by
	// the deployment's model packages; an empty registry still serves
	// every non-model operation.
	registry, warnings := middleware.Bootstrap(nil, nil, nil)
	for _, w := range warnings {
		appLogger.Warn("model registry", "warning", w)
	}

	// Orchestration core
	comp := compiler.New(func(ctx context.Context) (int, error) {
		return taskBroker.AvailableWorkers(ctx, cfg.Broker.DefaultQueue)
	})
	clk := clock.Real{}
	disp := dispatch.New(taskBroker, history, cfg.Broker.DefaultQueue)
	disp.Now = clk.Now
	trk := tracker.New(taskBroker, history, cfg.Broker.DefaultQueue)
	trk.Now = clk.Now
	adm := middleware.NewAdmission(trk.ActiveTaskIDs, cfg.Admission.GlobalMaxConcurrent)

	mw := &middleware.Middleware{
		Compiler:        comp,
		Dispatcher:      disp,
		Tracker:         trk,
		Admission:       adm,
		Registry:        registry,
		Projects:        projects,
		Workflows:       workflows,
		History:         history,
		ModelStates:     modelStates,
		Images:          images,
		LabelClasses:    labelClasses,
		Broker:          taskBroker,
		Queue:           cfg.Broker.DefaultQueue,
		ControllerQueue: cfg.Broker.ControllerQueue,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Per-project annotation watchdogs, started lazily on first status
	// request. Each reconciles its own project's running tasks on every
	// wake, ahead of the auto-launch decision.
	reconcile := func(ctx context.Context, shortName string) error {
		_, err := trk.Reconcile(ctx, shortName)
		return err
	}
	mw.Watchdogs = watchdog.NewManager(func(shortName string) *watchdog.ProjectWatchdog {
		return watchdog.New(
			shortName,
			projects,
			images,
			mw.LaunchAutoTrain,
			mw.AdmitAuto,
			mw.WorkersOnline,
			reconcile,
			cfg.Watchdog.WaitMin,
			cfg.Watchdog.WaitMax,
			cfg.Watchdog.SleepSlice,
			appLogger.Slog(),
		)
	})
	defer mw.Watchdogs.StopAll()

	// Process-wide task watchdog: fixed-cadence, read-only refresh of the
	// broker's live-task snapshot
	taskWatchdog := watchdog.NewTaskWatchdog(taskBroker, cfg.Broker.DefaultQueue, appLogger.Slog())
	if err := taskWatchdog.Start(ctx, cfg.Watchdog.RefreshPeriod); err != nil {
		appLogger.Error("Failed to start task watchdog", "error", err)
		os.Exit(1)
	}
	defer taskWatchdog.Stop()

	appLogger.Info("Orchestration core running",
		"task_watchdog_period", cfg.Watchdog.RefreshPeriod.String(),
	)

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down")
}

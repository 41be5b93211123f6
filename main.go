package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nexus-kamuy/orchestrator/internal/agent"
	"github.com/nexus-kamuy/orchestrator/internal/allocator"
	"github.com/nexus-kamuy/orchestrator/internal/config"
	"github.com/nexus-kamuy/orchestrator/internal/coordinator"
	"github.com/nexus-kamuy/orchestrator/internal/events"
	"github.com/nexus-kamuy/orchestrator/internal/history"
	"github.com/nexus-kamuy/orchestrator/internal/registry"
	"github.com/nexus-kamuy/orchestrator/internal/scheduler"
	"github.com/nexus-kamuy/orchestrator/internal/session"
	"github.com/nexus-kamuy/orchestrator/internal/templates"
	"github.com/nexus-kamuy/orchestrator/internal/tracing"
	"github.com/nexus-kamuy/orchestrator/internal/workflow"
)

const eventBusCapacity = 1024

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting orchestrator",
		zap.String("environment", cfg.Environment),
		zap.String("log_level", cfg.LogLevel),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing comes up first so every component can open spans.
	traceShutdown, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}

	// Prometheus endpoint.
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			logger.Info("Metrics endpoint listening", zap.Int("port", cfg.Metrics.Port))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	// Core scheduling stack.
	tasks := registry.NewTaskRegistry(logger)
	sched := scheduler.New(tasks, cfg.Scheduling, logger)
	recurring := scheduler.NewRecurringScheduler(sched, logger)
	alloc := allocator.New(logger)

	// Agent fleet: capability profiles backed by simulated executors.
	agents := agent.NewRegistry(logger)
	for _, profile := range agent.DefaultProfiles() {
		agents.Register(agent.NewSimAgent(profile.Role), profile)
	}

	coord := coordinator.New(agents, tasks, cfg.Queue.DefaultMaxConcurrent, logger)

	// Workflow pipeline.
	bus := events.NewBus(eventBusCapacity)
	catalogue := templates.NewRegistry()
	if dir := cfg.Templates.Dir; dir != "" {
		if _, err := os.Stat(dir); err == nil {
			if err := catalogue.LoadDirectory(dir); err != nil {
				logger.Warn("Some workflow templates failed to load", zap.Error(err))
			}
		}
	}

	var orchOpts []workflow.Option
	var histWriter *history.Writer
	if cfg.History.Enabled {
		db, err := history.Open(cfg.Postgres)
		if err != nil {
			logger.Fatal("Failed to connect to postgres", zap.Error(err))
		}
		defer db.Close()
		histWriter = history.NewWriter(db, cfg.History, logger)
		orchOpts = append(orchOpts, workflow.WithRecorder(histWriter))
	}
	orch := workflow.New(agents, catalogue, bus, cfg.Workflow,
		cfg.Templates.FallbackEnabled, logger, orchOpts...)

	// Collaboration sessions need Redis. A missing Redis disables the
	// session service but leaves scheduling and workflows running.
	sessions, err := session.NewManager(cfg.Redis, cfg.Session, logger)
	if err != nil {
		logger.Warn("Session service disabled", zap.Error(err))
		sessions = nil
	}

	// Hot reload of workflow template files.
	cfgManager, err := config.NewManager(cfg.Templates.Dir, logger)
	if err != nil {
		logger.Warn("Template hot reload disabled", zap.Error(err))
	} else {
		registerTemplateReload(cfgManager, catalogue, cfg.Templates.Dir, logger)
		if err := cfgManager.Start(ctx); err != nil {
			logger.Warn("Template watcher failed to start", zap.Error(err))
		}
	}

	pool := map[string]float64{
		"cpu":     cfg.Scheduling.CPUPool,
		"memory":  cfg.Scheduling.MemoryPool,
		"disk":    cfg.Scheduling.DiskPool,
		"network": cfg.Scheduling.NetworkPool,
	}
	go dispatchLoop(ctx, sched, recurring, alloc, pool, coord, logger)
	if sessions != nil {
		go sessionCleanupLoop(ctx, sessions, cfg.Session.CleanupPeriod, logger)
	}
	go logEvents(ctx, bus, logger)

	logger.Info("Orchestrator ready",
		zap.Strings("agents", agents.Roles()),
		zap.Int("templates", len(catalogue.List())),
	)

	// Block until shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down",
		zap.String("signal", sig.String()),
		zap.Int("workflows_recorded", len(orch.History())),
	)

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer shutdownCancel()

	if cfgManager != nil {
		if err := cfgManager.Stop(); err != nil {
			logger.Warn("Template watcher stop error", zap.Error(err))
		}
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown error", zap.Error(err))
		}
	}
	if histWriter != nil {
		if err := histWriter.Close(shutdownCtx); err != nil {
			logger.Warn("History writer shutdown error", zap.Error(err))
		}
	}
	if err := traceShutdown(shutdownCtx); err != nil {
		logger.Warn("Tracing shutdown error", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Environment == "development" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// registerTemplateReload re-walks the template directory whenever one of its
// files changes. New files dropped in after startup are picked up on the
// next change to a watched file.
func registerTemplateReload(m *config.Manager, catalogue *templates.Registry, dir string, logger *zap.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	reload := func(event config.ChangeEvent) error {
		if err := catalogue.LoadDirectory(dir); err != nil {
			return err
		}
		logger.Info("Workflow templates reloaded",
			zap.String("trigger", event.File),
			zap.Int("templates", len(catalogue.List())),
		)
		return nil
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		m.RegisterHandler(entry.Name(), reload)
	}
}

// dispatchLoop materializes due recurring tasks, refreshes the resource
// allocation over the pending set, and delegates ready tasks to agent queues.
func dispatchLoop(ctx context.Context, sched *scheduler.Scheduler, recurring *scheduler.RecurringScheduler, alloc *allocator.Allocator, pool map[string]float64, coord *coordinator.Coordinator, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, materialized := range recurring.MaterializeDue(now) {
				logger.Debug("Recurring task materialized",
					zap.String("task_id", materialized.TaskID),
				)
			}
			if entries := sched.Entries(); len(entries) > 0 {
				if result, err := alloc.Allocate(entries, pool, allocator.PriorityBased); err == nil {
					logger.Debug("Resource allocation refreshed",
						zap.Int("tasks", len(result.Allocations)),
						zap.Any("utilization", result.Utilization),
					)
				}
			}
			for {
				entry, ok := sched.NextReady()
				if !ok {
					break
				}
				delegation, err := coord.Delegate(entry.Task, coordinator.Criteria{})
				if err != nil {
					logger.Warn("Failed to delegate scheduled task",
						zap.String("task_id", entry.Task.ID),
						zap.Error(err),
					)
					break
				}
				if err := sched.Complete(entry.Task.ID); err != nil {
					logger.Warn("Failed to retire scheduled entry",
						zap.String("task_id", entry.Task.ID),
						zap.Error(err),
					)
				}
				logger.Info("Task delegated",
					zap.String("task_id", delegation.TaskID),
					zap.String("agent", delegation.SelectedAgent),
					zap.Int("queue_position", delegation.QueuePosition),
				)
			}
		}
	}
}

func sessionCleanupLoop(ctx context.Context, sessions *session.Manager, period time.Duration, logger *zap.Logger) {
	if period <= 0 {
		period = time.Hour
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := sessions.CleanupExpired(ctx)
			if err != nil {
				logger.Warn("Session cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("Expired sessions removed", zap.Int("count", removed))
			}
		}
	}
}

// logEvents mirrors the coordination event stream into the log at debug
// level, which doubles as a liveness check on the bus.
func logEvents(ctx context.Context, bus *events.Bus, logger *zap.Logger) {
	sub := bus.Subscribe("", 64)
	defer bus.Unsubscribe("", sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			logger.Debug("Coordination event",
				zap.String("type", ev.Type),
				zap.String("scope", ev.Scope),
				zap.Uint64("seq", ev.Seq),
			)
		}
	}
}

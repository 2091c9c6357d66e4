// Command flowengine runs the workflow engine as an MCP stdio server.
//
// Storage, admission counters, and plan tiers are configured through
// FLOWENGINE_* env vars; see config.go.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/leadstack/flowengine/internal/admission"
	"github.com/leadstack/flowengine/internal/engine"
	"github.com/leadstack/flowengine/internal/executors"
	"github.com/leadstack/flowengine/internal/logging"
	"github.com/leadstack/flowengine/internal/scheduler"
	"github.com/leadstack/flowengine/internal/services"
	"github.com/leadstack/flowengine/internal/stats"
	"github.com/leadstack/flowengine/internal/store"
	"github.com/leadstack/flowengine/internal/validation"
	"github.com/leadstack/flowengine/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "flowengine:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Run-history and definition store.
	var st store.Store
	if cfg.DBPath != "" {
		libsql, err := store.NewLibSQLStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		if err := libsql.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}
		st = libsql
		logger.Info("using libsql store", slog.String("path", cfg.DBPath))
	} else {
		st = store.NewMemoryStore()
		logger.Info("using in-memory store")
	}
	defer st.Close()

	// Admission counters: Redis when configured, in-memory otherwise.
	var counters admission.CounterStore
	if cfg.RedisAddr != "" {
		client, err := admission.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		counters = admission.NewRedisCounterStore(client)
		logger.Info("using redis admission counters", slog.String("addr", cfg.RedisAddr))
	} else {
		counters = admission.NewMemoryCounterStore()
		logger.Info("using in-memory admission counters")
	}
	controller := admission.NewController(counters, cfg.Plans, logger)

	registry, err := buildRegistry(logger)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	recorder := stats.NewRecorder(st, logger)
	orchestrator := engine.NewOrchestrator(registry, st, controller, recorder, logger)

	validator, err := validation.NewDefinitionValidator(registry)
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}

	if cfg.Scheduler {
		sched := scheduler.NewScheduler(st, orchestrator, logger)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()
	}

	srv := mcp.NewFlowServer(mcp.FlowServerDeps{
		Runner:    orchestrator,
		Store:     st,
		Validator: validator,
		Stats:     recorder,
		Logger:    logger,
	})

	logger.Info("flowengine listening on stdio",
		slog.Int("node_types", registry.Count()),
	)
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// buildRegistry registers every node executor. Service-backed executors use
// the local in-process backend; a real deployment swaps in CRM clients here.
func buildRegistry(logger *slog.Logger) (*executors.Registry, error) {
	backend := services.NewLocalBackend(logger)

	registry := executors.NewRegistry()
	registry.MustRegister(executors.NewLeadBatchExecutor(backend, logger))
	registry.MustRegister(executors.NewValidateRowsExecutor())
	registry.MustRegister(executors.NewSendMessageExecutor(backend, logger))
	registry.MustRegister(executors.NewFollowUpExecutor(backend, logger))
	registry.MustRegister(executors.NewAdSyncExecutor(backend, nil, logger))
	registry.MustRegister(executors.NewComputeExecutor())
	registry.MustRegister(executors.NewTransformExecutor())
	registry.MustRegister(executors.NewWaitExecutor())

	branch, err := executors.NewBranchExecutor()
	if err != nil {
		return nil, err
	}
	registry.MustRegister(branch)

	return registry, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	// Logs go to stderr; stdout carries the MCP transport.
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// Package scheduler triggers recurring runs for flow definitions that carry a
// cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/leadstack/flowengine/pkg/schema"
)

// FlowRunner is the interface the scheduler uses to start runs.
// Satisfied by the orchestrator (avoids import cycle).
type FlowRunner interface {
	RunWorkflow(ctx context.Context, flowID, tenantID string, seed map[string]any) (*schema.WorkflowRun, error)
}

// DefinitionLister lists stored flow definitions. Satisfied by the store.
type DefinitionLister interface {
	ListDefinitions(ctx context.Context) ([]*schema.FlowDefinition, error)
}

// Scheduler polls the store for active scheduled flows and starts runs whose
// cron schedule is due.
type Scheduler struct {
	definitions DefinitionLister
	runner      FlowRunner
	parser      cron.Parser
	logger      *slog.Logger
	cancel      context.CancelFunc
	done        chan struct{}
	mu          sync.Mutex

	// nextDue tracks per-flow due times across ticks.
	dueMu   sync.Mutex
	nextDue map[string]time.Time

	inflightMu sync.Mutex
	inflight   map[string]struct{} // flow IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(definitions DefinitionLister, runner FlowRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		definitions: definitions,
		runner:      runner,
		parser:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:      logger,
		nextDue:     make(map[string]time.Time),
		inflight:    make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick checks all active scheduled flows and starts those that are due.
// Exported so tests and operators can drive the scheduler without the ticker.
func (s *Scheduler) Tick(ctx context.Context) {
	defs, err := s.definitions.ListDefinitions(ctx)
	if err != nil {
		s.logger.Error("failed to list definitions", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, def := range defs {
		if !def.Active || def.Schedule == "" {
			continue
		}
		due, err := s.isDue(def, now)
		if err != nil {
			s.logger.Error("invalid schedule",
				slog.String("flow_id", def.ID),
				slog.String("schedule", def.Schedule),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !due {
			continue
		}
		if !s.tryAcquire(def.ID) {
			continue // previous scheduled run still going (dedup)
		}
		go s.runFlow(ctx, def)
	}
}

// isDue reports whether the flow's schedule has fired since the last tick.
// The first sighting of a flow only arms its next due time.
func (s *Scheduler) isDue(def *schema.FlowDefinition, now time.Time) (bool, error) {
	s.dueMu.Lock()
	defer s.dueMu.Unlock()

	next, seen := s.nextDue[def.ID]
	if !seen {
		n, err := s.CalculateNextRun(def.Schedule, now)
		if err != nil {
			return false, err
		}
		s.nextDue[def.ID] = n
		return false, nil
	}

	if now.Before(next) {
		return false, nil
	}

	n, err := s.CalculateNextRun(def.Schedule, now)
	if err != nil {
		return false, err
	}
	s.nextDue[def.ID] = n
	return true, nil
}

func (s *Scheduler) runFlow(ctx context.Context, def *schema.FlowDefinition) {
	defer s.release(def.ID)

	s.logger.Info("starting scheduled run",
		slog.String("flow_id", def.ID),
		slog.String("schedule", def.Schedule),
	)

	seed := map[string]any{"triggered_by": "schedule"}
	run, err := s.runner.RunWorkflow(ctx, def.ID, def.TenantID, seed)
	if err != nil {
		s.logger.Error("scheduled run rejected",
			slog.String("flow_id", def.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("scheduled run finished",
		slog.String("flow_id", def.ID),
		slog.String("run_id", run.ID),
		slog.String("state", string(run.State)),
	)
}

// tryAcquire returns true and marks the flow as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(flowID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[flowID]; ok {
		return false
	}
	s.inflight[flowID] = struct{}{}
	return true
}

// release removes the flow from the in-flight set.
func (s *Scheduler) release(flowID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, flowID)
}

// CalculateNextRun computes the next fire time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Package stats aggregates per-flow run outcomes for reporting.
package stats

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/leadstack/flowengine/pkg/schema"
)

// DefaultHistoryCap bounds the per-flow run history ring.
const DefaultHistoryCap = 50

// DefaultSlowThreshold marks runs slower than this as slow in the log stream.
const DefaultSlowThreshold = 30 * time.Second

// Sink persists terminal runs. Satisfied by the store; nil disables persistence.
type Sink interface {
	SaveRun(ctx context.Context, run *schema.WorkflowRun) error
}

// FlowStats is the aggregate view for one flow.
type FlowStats struct {
	FlowID             string          `json:"flow_id"`
	Total              int64           `json:"total"`
	Completed          int64           `json:"completed"`
	Failed             int64           `json:"failed"`
	Compensated        int64           `json:"compensated"`
	CompensationFailed int64           `json:"compensation_failed"`
	LastState          schema.RunState `json:"last_state,omitempty"`
	LastRunID          string          `json:"last_run_id,omitempty"`
	LastDurationMs     int64           `json:"last_duration_ms"`
	LastFinishedAt     time.Time       `json:"last_finished_at"`
}

type flowEntry struct {
	stats   FlowStats
	history []*schema.WorkflowRun // ring, newest last
}

// Recorder accumulates run outcomes in memory and optionally forwards each
// terminal run to a sink. Safe for concurrent use.
type Recorder struct {
	mu         sync.RWMutex
	flows      map[string]*flowEntry
	historyCap int
	slowAfter  time.Duration
	sink       Sink
	logger     *slog.Logger
}

// NewRecorder creates a Recorder. The sink may be nil.
func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		flows:      make(map[string]*flowEntry),
		historyCap: DefaultHistoryCap,
		slowAfter:  DefaultSlowThreshold,
		sink:       sink,
		logger:     logger,
	}
}

// Record ingests a terminal run. Non-terminal failed runs (empty ledger) count
// as failed; compensated and compensation_failed are tracked separately so
// "what failed" and "what could not be undone" stay distinct.
func (r *Recorder) Record(run *schema.WorkflowRun) {
	r.mu.Lock()

	entry, ok := r.flows[run.FlowID]
	if !ok {
		entry = &flowEntry{stats: FlowStats{FlowID: run.FlowID}}
		r.flows[run.FlowID] = entry
	}

	entry.stats.Total++
	switch run.State {
	case schema.RunStateCompleted:
		entry.stats.Completed++
	case schema.RunStateFailed:
		entry.stats.Failed++
	case schema.RunStateCompensated:
		entry.stats.Failed++
		entry.stats.Compensated++
	case schema.RunStateCompensationFailed:
		entry.stats.Failed++
		entry.stats.CompensationFailed++
	}

	entry.stats.LastState = run.State
	entry.stats.LastRunID = run.ID
	entry.stats.LastDurationMs = run.Duration().Milliseconds()
	if run.CompletedAt != nil {
		entry.stats.LastFinishedAt = *run.CompletedAt
	}

	entry.history = append(entry.history, run)
	if len(entry.history) > r.historyCap {
		entry.history = entry.history[len(entry.history)-r.historyCap:]
	}

	r.mu.Unlock()

	if run.Duration() > r.slowAfter {
		r.logger.Warn("slow run",
			slog.String("run_id", run.ID),
			slog.String("flow_id", run.FlowID),
			slog.Int64("duration_ms", run.Duration().Milliseconds()),
		)
	}

	if r.sink != nil {
		if err := r.sink.SaveRun(context.Background(), run); err != nil {
			r.logger.Error("failed to persist run",
				slog.String("run_id", run.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// StatsFor returns the aggregate stats for one flow and whether any run of it
// has been recorded.
func (r *Recorder) StatsFor(flowID string) (FlowStats, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.flows[flowID]
	if !ok {
		return FlowStats{}, false
	}
	return entry.stats, true
}

// History returns the retained runs for a flow, oldest first.
func (r *Recorder) History(flowID string) []*schema.WorkflowRun {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.flows[flowID]
	if !ok {
		return nil
	}
	out := make([]*schema.WorkflowRun, len(entry.history))
	copy(out, entry.history)
	return out
}

// All returns stats for every observed flow, sorted by flow ID.
func (r *Recorder) All() []FlowStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FlowStats, 0, len(r.flows))
	for _, entry := range r.flows {
		out = append(out, entry.stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FlowID < out[j].FlowID })
	return out
}

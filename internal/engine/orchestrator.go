package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/leadstack/flowengine/internal/executors"
	"github.com/leadstack/flowengine/internal/logging"
	"github.com/leadstack/flowengine/internal/template"
	"github.com/leadstack/flowengine/pkg/schema"
)

// AdmissionController gates run starts per tenant. Admit returns a release
// callback that must be invoked exactly when the run leaves execution;
// implementations make release idempotent.
type AdmissionController interface {
	Admit(ctx context.Context, tenantID string, flowID string) (release func(), err error)
}

// DefinitionProvider loads flow definitions by ID. Satisfied by the store and
// test fakes.
type DefinitionProvider interface {
	LoadDefinition(ctx context.Context, flowID string) (*schema.FlowDefinition, error)
}

// StatsRecorder observes terminal runs. Satisfied by the stats recorder.
type StatsRecorder interface {
	Record(run *schema.WorkflowRun)
}

// Orchestrator drives workflow runs: it loads the definition, gates admission,
// walks the node graph sequentially, and unwinds recorded side effects in
// reverse when a node fails.
type Orchestrator struct {
	registry    *executors.Registry
	definitions DefinitionProvider
	admission   AdmissionController
	stats       StatsRecorder
	fsm         *RunFSM
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator. The stats recorder may be nil.
func NewOrchestrator(registry *executors.Registry, definitions DefinitionProvider, admission AdmissionController, stats StatsRecorder, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		registry:    registry,
		definitions: definitions,
		admission:   admission,
		stats:       stats,
		fsm:         NewRunFSM(),
		logger:      logger,
	}
}

// FSM exposes the run FSM so observers can register transition hooks.
func (o *Orchestrator) FSM() *RunFSM {
	return o.fsm
}

// RunWorkflow executes one run of the given flow for a tenant, seeding the
// payload with the trigger data. An admission denial returns (nil, err) and
// creates no run. Once a run exists, its outcome is conveyed by the returned
// run's State and Error fields, and the returned error is nil.
func (o *Orchestrator) RunWorkflow(ctx context.Context, flowID, tenantID string, seed map[string]any) (*schema.WorkflowRun, error) {
	def, err := o.definitions.LoadDefinition(ctx, flowID)
	if err != nil {
		return nil, schema.AsFlowError(err, schema.ErrCodeNotFound)
	}

	if !def.Active {
		return nil, schema.NewError(schema.ErrCodeAdmissionDenied, "workflow not active").
			WithDetails(map[string]any{"flow_id": flowID, "tenant_id": tenantID})
	}

	release, err := o.admission.Admit(ctx, tenantID, flowID)
	if err != nil {
		return nil, err
	}
	defer release()

	run := &schema.WorkflowRun{
		ID:        uuid.NewString(),
		FlowID:    flowID,
		TenantID:  tenantID,
		State:     schema.RunStatePending,
		StartedAt: time.Now().UTC(),
	}

	ctx = logging.WithRunID(ctx, run.ID)
	ctx = logging.WithTenantID(ctx, tenantID)

	o.logger.InfoContext(ctx, "run admitted", slog.String("flow_id", flowID))

	// Preflight: every node type must resolve and every raw config must pass
	// its executor's validation before the run enters Running. Placeholder
	// tokens are opaque strings at this point.
	if err := o.preflight(def); err != nil {
		run.Error = schema.AsFlowError(err, schema.ErrCodeValidation)
		o.finishRun(ctx, run, schema.RunStateFailed, nil)
		return run, nil
	}

	if err := o.fsm.Transition(run, schema.RunStateRunning); err != nil {
		return nil, err
	}

	payload := NewPayload(seed)
	ledger := NewLedger()

	o.walk(ctx, def, run, payload, ledger)
	return run, nil
}

// preflight checks the whole graph before the first node executes so a
// misconfigured node never leaves earlier nodes with side effects to unwind.
func (o *Orchestrator) preflight(def *schema.FlowDefinition) error {
	if def.Node(def.EntryNode) == nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"entry node %q not found in flow %s", def.EntryNode, def.ID)
	}
	for i := range def.Nodes {
		node := &def.Nodes[i]
		exec, err := o.registry.Resolve(node.Type)
		if err != nil {
			return schema.AsFlowError(err, schema.ErrCodeUnknownNodeType).WithNode(node.ID)
		}
		if !template.ContainsPlaceholders(node.Config) {
			if err := exec.ValidateConfig(node.Config); err != nil {
				return schema.AsFlowError(err, schema.ErrCodeInvalidNodeConfig).WithNode(node.ID)
			}
		}
		if node.Timeout != "" {
			if _, err := time.ParseDuration(node.Timeout); err != nil {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"invalid timeout %q on node %s", node.Timeout, node.ID).WithNode(node.ID)
			}
		}
	}
	return nil
}

// walk executes the graph from the entry node until a node fails, an edge
// runs out, or the visit guard trips.
func (o *Orchestrator) walk(ctx context.Context, def *schema.FlowDefinition, run *schema.WorkflowRun, payload *Payload, ledger *Ledger) {
	current := def.EntryNode
	visits := 0

	for current != "" {
		visits++
		if visits > len(def.Nodes) {
			run.Error = schema.NewErrorf(schema.ErrCodeValidation,
				"node visit limit exceeded at %q, flow graph has a cycle", current)
			o.failAndCompensate(ctx, run, payload, ledger)
			return
		}

		node := def.Node(current)
		if node == nil {
			run.Error = schema.NewErrorf(schema.ErrCodeValidation,
				"next node %q not found in flow %s", current, def.ID)
			o.failAndCompensate(ctx, run, payload, ledger)
			return
		}

		result, record, err := o.executeNode(ctx, node, payload)
		run.Records = append(run.Records, record)

		if err != nil {
			run.Error = schema.AsFlowError(err, schema.ErrCodeNodeExecution).WithNode(node.ID)
			o.failAndCompensate(ctx, run, payload, ledger)
			return
		}

		payload.Merge(result.Delta)

		if result.Compensation != nil {
			exec, _ := o.registry.Resolve(node.Type)
			ledger.Append(LedgerEntry{
				NodeID:   node.ID,
				NodeType: node.Type,
				Config:   record.Config,
				Snapshot: result.Compensation,
				Executor: exec,
			})
		}

		switch {
		case result.NextNodeID != "":
			current = result.NextNodeID
		default:
			current = node.Next
		}
	}

	o.finishRun(ctx, run, schema.RunStateCompleted, payload)
}

// executeNode substitutes placeholders, applies the per-node timeout, and runs
// the executor. The returned record always reflects what actually ran.
func (o *Orchestrator) executeNode(ctx context.Context, node *schema.NodeDefinition, payload *Payload) (*executors.Result, schema.NodeExecutionRecord, error) {
	ctx = logging.WithNodeID(ctx, node.ID)

	cfg := template.SubstituteConfig(node.Config, payload.View())

	record := schema.NodeExecutionRecord{
		NodeID:    node.ID,
		Type:      node.Type,
		Config:    cfg,
		StartedAt: time.Now().UTC(),
	}

	exec, err := o.registry.Resolve(node.Type)
	if err != nil {
		record.Status = schema.NodeStatusFailed
		record.CompletedAt = time.Now().UTC()
		record.Error = err.Error()
		return nil, record, err
	}

	execCtx := ctx
	if node.Timeout != "" {
		if dur, parseErr := time.ParseDuration(node.Timeout); parseErr == nil {
			var cancel context.CancelFunc
			execCtx, cancel = context.WithTimeout(ctx, dur)
			defer cancel()
		}
	}

	o.logger.InfoContext(ctx, "executing node", slog.String("node_type", node.Type))

	result, execErr := exec.Execute(execCtx, cfg, payload.View())

	record.CompletedAt = time.Now().UTC()
	record.DurationMs = record.CompletedAt.Sub(record.StartedAt).Milliseconds()

	if execErr != nil {
		if errors.Is(execErr, context.DeadlineExceeded) || errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			execErr = schema.NewErrorf(schema.ErrCodeTimeout,
				"node timed out after %s", node.Timeout).WithCause(execErr)
		}
		record.Status = schema.NodeStatusFailed
		record.Error = execErr.Error()
		o.logger.ErrorContext(ctx, "node failed", slog.String("error", execErr.Error()))
		return nil, record, execErr
	}

	record.Status = schema.NodeStatusSucceeded
	record.Delta = result.Delta
	return result, record, nil
}

// failAndCompensate moves a failed run through the unwind phase. Runs with an
// empty ledger stop at failed; runs with recorded side effects always continue
// into compensating and end compensated or compensation_failed.
func (o *Orchestrator) failAndCompensate(ctx context.Context, run *schema.WorkflowRun, payload *Payload, ledger *Ledger) {
	if err := o.fsm.Transition(run, schema.RunStateFailed); err != nil {
		o.logger.ErrorContext(ctx, "run transition rejected", slog.String("error", err.Error()))
	}

	if ledger.Len() == 0 {
		o.finishRun(ctx, run, run.State, payload)
		return
	}

	if err := o.fsm.Transition(run, schema.RunStateCompensating); err != nil {
		o.logger.ErrorContext(ctx, "run transition rejected", slog.String("error", err.Error()))
	}

	report := o.unwind(ctx, ledger)
	run.Compensation = report

	final := schema.RunStateCompensated
	if !report.Clean() {
		final = schema.RunStateCompensationFailed
	}
	o.finishRun(ctx, run, final, payload)
}

// unwind drains the ledger strictly in reverse execution order. It uses a
// context detached from the caller's cancellation so a run aborted by timeout
// still gets its side effects reversed. Every entry is attempted; one failure
// never stops the drain.
func (o *Orchestrator) unwind(ctx context.Context, ledger *Ledger) *schema.CompensationReport {
	dctx := context.WithoutCancel(ctx)
	entries := ledger.Entries()
	report := &schema.CompensationReport{}

	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		outcome := schema.CompensationOutcome{NodeID: entry.NodeID}

		comp, ok := entry.Executor.(executors.Compensator)
		if !ok {
			outcome.NonCompensable = true
			outcome.Error = "executor has no compensator"
			o.logger.ErrorContext(dctx, "ledger entry not compensable",
				slog.String("node_id", entry.NodeID),
				slog.String("node_type", entry.NodeType),
			)
			report.Outcomes = append(report.Outcomes, outcome)
			continue
		}

		if err := comp.Compensate(dctx, entry.Config, entry.Snapshot); err != nil {
			outcome.Error = err.Error()
			o.logger.ErrorContext(dctx, "compensation failed",
				slog.String("node_id", entry.NodeID),
				slog.String("error", err.Error()),
			)
		} else {
			outcome.Undone = true
			o.logger.InfoContext(dctx, "side effect reversed", slog.String("node_id", entry.NodeID))
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	return report
}

// finishRun applies the terminal transition, stamps completion, snapshots the
// payload, and hands the run to the stats recorder.
func (o *Orchestrator) finishRun(ctx context.Context, run *schema.WorkflowRun, state schema.RunState, payload *Payload) {
	if run.State != state {
		if err := o.fsm.Transition(run, state); err != nil {
			o.logger.ErrorContext(ctx, "run transition rejected", slog.String("error", err.Error()))
			run.State = state
		}
	}

	now := time.Now().UTC()
	run.CompletedAt = &now
	if payload != nil {
		run.FinalPayload = payload.View()
	}

	o.logger.InfoContext(ctx, "run finished",
		slog.String("state", string(run.State)),
		slog.Int64("duration_ms", run.Duration().Milliseconds()),
	)

	if o.stats != nil {
		o.stats.Record(run)
	}
}

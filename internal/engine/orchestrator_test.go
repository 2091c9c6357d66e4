package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadstack/flowengine/internal/executors"
	"github.com/leadstack/flowengine/pkg/schema"
)

// --- fakes ---

type fakeDefinitions struct {
	defs map[string]*schema.FlowDefinition
}

func (f *fakeDefinitions) LoadDefinition(ctx context.Context, flowID string) (*schema.FlowDefinition, error) {
	def, ok := f.defs[flowID]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "flow %s not found", flowID)
	}
	return def, nil
}

type fakeAdmission struct {
	denyWith error
	admitted int
	released int
}

func (f *fakeAdmission) Admit(ctx context.Context, tenantID, flowID string) (func(), error) {
	if f.denyWith != nil {
		return nil, f.denyWith
	}
	f.admitted++
	return func() { f.released++ }, nil
}

type fakeStats struct {
	runs []*schema.WorkflowRun
}

func (f *fakeStats) Record(run *schema.WorkflowRun) {
	f.runs = append(f.runs, run)
}

// scriptedExecutor runs an arbitrary function and has no compensator.
type scriptedExecutor struct {
	tag string
	run func(ctx context.Context, config, payload map[string]any) (*executors.Result, error)
}

func (e *scriptedExecutor) Type() string                               { return e.tag }
func (e *scriptedExecutor) ValidateConfig(config map[string]any) error { return nil }
func (e *scriptedExecutor) Execute(ctx context.Context, config, payload map[string]any) (*executors.Result, error) {
	return e.run(ctx, config, payload)
}

// reversibleExecutor additionally records compensation calls.
type reversibleExecutor struct {
	scriptedExecutor
	compensated []map[string]any
	compErr     error
}

func (e *reversibleExecutor) Compensate(ctx context.Context, config, snapshot map[string]any) error {
	e.compensated = append(e.compensated, snapshot)
	return e.compErr
}

func deltaExecutor(tag string, delta, snapshot map[string]any) *reversibleExecutor {
	return &reversibleExecutor{
		scriptedExecutor: scriptedExecutor{
			tag: tag,
			run: func(ctx context.Context, config, payload map[string]any) (*executors.Result, error) {
				return &executors.Result{Delta: delta, Compensation: snapshot}, nil
			},
		},
	}
}

func failingExecutor(tag string) *scriptedExecutor {
	return &scriptedExecutor{
		tag: tag,
		run: func(ctx context.Context, config, payload map[string]any) (*executors.Result, error) {
			return nil, schema.NewError(schema.ErrCodeNodeExecution, "boom")
		},
	}
}

func newTestOrchestrator(t *testing.T, defs map[string]*schema.FlowDefinition, execs ...executors.NodeExecutor) (*Orchestrator, *fakeAdmission, *fakeStats) {
	t.Helper()
	reg := executors.NewRegistry()
	for _, e := range execs {
		reg.MustRegister(e)
	}
	adm := &fakeAdmission{}
	stats := &fakeStats{}
	orc := NewOrchestrator(reg, &fakeDefinitions{defs: defs}, adm, stats, nil)
	return orc, adm, stats
}

func linearFlow(id string, nodes ...schema.NodeDefinition) *schema.FlowDefinition {
	for i := 0; i < len(nodes)-1; i++ {
		if nodes[i].Next == "" {
			nodes[i].Next = nodes[i+1].ID
		}
	}
	return &schema.FlowDefinition{
		ID:        id,
		Active:    true,
		EntryNode: nodes[0].ID,
		Nodes:     nodes,
	}
}

// --- tests ---

func TestOrchestrator_CompletedRun(t *testing.T) {
	execA := deltaExecutor("step_a", map[string]any{"leads": 3}, map[string]any{"ids": []any{"l1"}})
	execB := deltaExecutor("step_b", map[string]any{"task": "t-1"}, nil)

	def := linearFlow("flow-1",
		schema.NodeDefinition{ID: "a", Type: "step_a"},
		schema.NodeDefinition{ID: "b", Type: "step_b"},
	)
	orc, adm, stats := newTestOrchestrator(t, map[string]*schema.FlowDefinition{"flow-1": def}, execA, execB)

	run, err := orc.RunWorkflow(context.Background(), "flow-1", "tenant-1", map[string]any{"seed": true})
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.Equal(t, schema.RunStateCompleted, run.State)
	assert.Nil(t, run.Error)
	assert.Nil(t, run.Compensation)
	require.Len(t, run.Records, 2)
	assert.Equal(t, schema.NodeStatusSucceeded, run.Records[0].Status)

	assert.Equal(t, true, run.FinalPayload["seed"])
	assert.Equal(t, 3, run.FinalPayload["leads"])
	assert.Equal(t, "t-1", run.FinalPayload["task"])

	assert.Empty(t, execA.compensated, "completed runs never unwind")
	assert.Equal(t, 1, adm.admitted)
	assert.Equal(t, 1, adm.released)
	require.Len(t, stats.runs, 1)
	assert.NotNil(t, run.CompletedAt)
}

func TestOrchestrator_FailureUnwindsEarlierNodes(t *testing.T) {
	execA := deltaExecutor("step_a", map[string]any{"leads": 3}, map[string]any{"ids": []any{"l1", "l2"}})
	execB := failingExecutor("step_b")

	def := linearFlow("flow-1",
		schema.NodeDefinition{ID: "a", Type: "step_a"},
		schema.NodeDefinition{ID: "b", Type: "step_b"},
	)
	orc, adm, _ := newTestOrchestrator(t, map[string]*schema.FlowDefinition{"flow-1": def}, execA, execB)

	run, err := orc.RunWorkflow(context.Background(), "flow-1", "tenant-1", nil)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStateCompensated, run.State)
	require.NotNil(t, run.Error)
	assert.Equal(t, schema.ErrCodeNodeExecution, run.Error.Code)
	assert.Equal(t, "b", run.Error.NodeID, "terminal error is the node failure, not a compensation error")

	require.NotNil(t, run.Compensation)
	require.Len(t, run.Compensation.Outcomes, 1)
	assert.Equal(t, "a", run.Compensation.Outcomes[0].NodeID)
	assert.True(t, run.Compensation.Outcomes[0].Undone)
	assert.True(t, run.Compensation.Clean())

	require.Len(t, execA.compensated, 1)
	assert.Equal(t, map[string]any{"ids": []any{"l1", "l2"}}, execA.compensated[0])
	assert.Equal(t, 1, adm.released)
}

func TestOrchestrator_UnwindIsReverseOrder(t *testing.T) {
	e1 := deltaExecutor("step_1", nil, map[string]any{"tag": "step_1"})
	e2 := deltaExecutor("step_2", nil, map[string]any{"tag": "step_2"})
	e3 := deltaExecutor("step_3", nil, map[string]any{"tag": "step_3"})
	fail := failingExecutor("step_fail")

	def := linearFlow("flow-1",
		schema.NodeDefinition{ID: "n1", Type: "step_1"},
		schema.NodeDefinition{ID: "n2", Type: "step_2"},
		schema.NodeDefinition{ID: "n3", Type: "step_3"},
		schema.NodeDefinition{ID: "n4", Type: "step_fail"},
	)
	orc, _, _ := newTestOrchestrator(t, map[string]*schema.FlowDefinition{"flow-1": def}, e1, e2, e3, fail)

	run, err := orc.RunWorkflow(context.Background(), "flow-1", "tenant-1", nil)
	require.NoError(t, err)

	require.NotNil(t, run.Compensation)
	var order []string
	for _, o := range run.Compensation.Outcomes {
		order = append(order, o.NodeID)
	}
	assert.Equal(t, []string{"n3", "n2", "n1"}, order)
	assert.Equal(t, schema.RunStateCompensated, run.State)
}

func TestOrchestrator_NonCompensableForcesCompensationFailed(t *testing.T) {
	// Declares a compensation snapshot but implements no Compensate method.
	orphan := &scriptedExecutor{
		tag: "orphan",
		run: func(ctx context.Context, config, payload map[string]any) (*executors.Result, error) {
			return &executors.Result{Compensation: map[string]any{"id": "x"}}, nil
		},
	}
	fail := failingExecutor("step_fail")

	def := linearFlow("flow-1",
		schema.NodeDefinition{ID: "a", Type: "orphan"},
		schema.NodeDefinition{ID: "b", Type: "step_fail"},
	)
	orc, _, _ := newTestOrchestrator(t, map[string]*schema.FlowDefinition{"flow-1": def}, orphan, fail)

	run, err := orc.RunWorkflow(context.Background(), "flow-1", "tenant-1", nil)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStateCompensationFailed, run.State)
	require.Len(t, run.Compensation.Outcomes, 1)
	assert.True(t, run.Compensation.Outcomes[0].NonCompensable)
	assert.False(t, run.Compensation.Outcomes[0].Undone)
}

func TestOrchestrator_CompensationErrorNeverMasksNodeError(t *testing.T) {
	execA := deltaExecutor("step_a", nil, map[string]any{"id": "x"})
	execA.compErr = errors.New("delete rejected")
	fail := failingExecutor("step_fail")

	def := linearFlow("flow-1",
		schema.NodeDefinition{ID: "a", Type: "step_a"},
		schema.NodeDefinition{ID: "b", Type: "step_fail"},
	)
	orc, _, _ := newTestOrchestrator(t, map[string]*schema.FlowDefinition{"flow-1": def}, execA, fail)

	run, err := orc.RunWorkflow(context.Background(), "flow-1", "tenant-1", nil)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStateCompensationFailed, run.State)
	assert.Equal(t, schema.ErrCodeNodeExecution, run.Error.Code)
	assert.Contains(t, run.Compensation.Outcomes[0].Error, "delete rejected")
}

func TestOrchestrator_FailedWithEmptyLedgerIsTerminal(t *testing.T) {
	fail := failingExecutor("step_fail")

	def := linearFlow("flow-1", schema.NodeDefinition{ID: "a", Type: "step_fail"})
	orc, _, stats := newTestOrchestrator(t, map[string]*schema.FlowDefinition{"flow-1": def}, fail)

	run, err := orc.RunWorkflow(context.Background(), "flow-1", "tenant-1", nil)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStateFailed, run.State)
	assert.Nil(t, run.Compensation, "nothing recorded, nothing to unwind")
	require.Len(t, stats.runs, 1)
}

func TestOrchestrator_AdmissionDenied(t *testing.T) {
	def := linearFlow("flow-1", schema.NodeDefinition{ID: "a", Type: "step_a"})
	orc, adm, stats := newTestOrchestrator(t, map[string]*schema.FlowDefinition{"flow-1": def},
		deltaExecutor("step_a", nil, nil))
	adm.denyWith = schema.NewError(schema.ErrCodeAdmissionDenied, "concurrent limit reached")

	run, err := orc.RunWorkflow(context.Background(), "flow-1", "tenant-1", nil)
	require.Error(t, err)
	assert.Nil(t, run, "denied requests create no run")
	assert.Empty(t, stats.runs)

	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, schema.ErrCodeAdmissionDenied, fe.Code)
}

func TestOrchestrator_InactiveWorkflowDenied(t *testing.T) {
	def := linearFlow("flow-1", schema.NodeDefinition{ID: "a", Type: "step_a"})
	def.Active = false
	orc, adm, _ := newTestOrchestrator(t, map[string]*schema.FlowDefinition{"flow-1": def},
		deltaExecutor("step_a", nil, nil))

	run, err := orc.RunWorkflow(context.Background(), "flow-1", "tenant-1", nil)
	require.Error(t, err)
	assert.Nil(t, run)
	assert.Contains(t, err.Error(), "workflow not active")
	assert.Equal(t, 0, adm.admitted, "inactive flows are rejected before counters move")
}

func TestOrchestrator_UnknownFlow(t *testing.T) {
	orc, _, _ := newTestOrchestrator(t, map[string]*schema.FlowDefinition{})

	_, err := orc.RunWorkflow(context.Background(), "nope", "tenant-1", nil)
	require.Error(t, err)

	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, schema.ErrCodeNotFound, fe.Code)
}

func TestOrchestrator_UnknownNodeTypeFailsBeforeRunning(t *testing.T) {
	def := linearFlow("flow-1",
		schema.NodeDefinition{ID: "a", Type: "step_a"},
		schema.NodeDefinition{ID: "b", Type: "not_registered"},
	)
	orc, _, stats := newTestOrchestrator(t, map[string]*schema.FlowDefinition{"flow-1": def},
		deltaExecutor("step_a", nil, map[string]any{"id": "x"}))

	run, err := orc.RunWorkflow(context.Background(), "flow-1", "tenant-1", nil)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStateFailed, run.State)
	assert.Equal(t, schema.ErrCodeUnknownNodeType, run.Error.Code)
	assert.Empty(t, run.Records, "no node executed, so no side effect to unwind")
	assert.Nil(t, run.Compensation)
	require.Len(t, stats.runs, 1)
}

func TestOrchestrator_DynamicNextOverridesStaticEdge(t *testing.T) {
	router := &scriptedExecutor{
		tag: "router",
		run: func(ctx context.Context, config, payload map[string]any) (*executors.Result, error) {
			return &executors.Result{NextNodeID: "c"}, nil
		},
	}
	skipped := &scriptedExecutor{
		tag: "skipped",
		run: func(ctx context.Context, config, payload map[string]any) (*executors.Result, error) {
			return nil, fmt.Errorf("must not run")
		},
	}
	final := deltaExecutor("final", map[string]any{"done": true}, nil)

	def := &schema.FlowDefinition{
		ID:        "flow-1",
		Active:    true,
		EntryNode: "a",
		Nodes: []schema.NodeDefinition{
			{ID: "a", Type: "router", Next: "b"},
			{ID: "b", Type: "skipped"},
			{ID: "c", Type: "final"},
		},
	}
	orc, _, _ := newTestOrchestrator(t, map[string]*schema.FlowDefinition{"flow-1": def}, router, skipped, final)

	run, err := orc.RunWorkflow(context.Background(), "flow-1", "tenant-1", nil)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStateCompleted, run.State)
	require.Len(t, run.Records, 2)
	assert.Equal(t, "a", run.Records[0].NodeID)
	assert.Equal(t, "c", run.Records[1].NodeID)
}

func TestOrchestrator_PlaceholderSubstitutionInConfig(t *testing.T) {
	var seenConfig map[string]any
	echo := &scriptedExecutor{
		tag: "echo",
		run: func(ctx context.Context, config, payload map[string]any) (*executors.Result, error) {
			seenConfig = config
			return &executors.Result{}, nil
		},
	}

	def := linearFlow("flow-1", schema.NodeDefinition{
		ID:   "a",
		Type: "echo",
		Config: map[string]any{
			"greeting": "Hello {{ name }}",
			"rows":     "{{ csv_rows }}",
		},
	})
	orc, _, _ := newTestOrchestrator(t, map[string]*schema.FlowDefinition{"flow-1": def}, echo)

	seed := map[string]any{
		"name":     "Ada",
		"csv_rows": []any{map[string]any{"email": "a@b.c"}},
	}
	run, err := orc.RunWorkflow(context.Background(), "flow-1", "tenant-1", seed)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStateCompleted, run.State)

	assert.Equal(t, "Hello Ada", seenConfig["greeting"])
	rows, ok := seenConfig["rows"].([]any)
	require.True(t, ok, "whole-token references keep their payload type")
	assert.Len(t, rows, 1)
}

func TestOrchestrator_NodeTimeout(t *testing.T) {
	slow := &scriptedExecutor{
		tag: "slow",
		run: func(ctx context.Context, config, payload map[string]any) (*executors.Result, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return &executors.Result{}, nil
			}
		},
	}

	def := linearFlow("flow-1", schema.NodeDefinition{ID: "a", Type: "slow", Timeout: "20ms"})
	orc, _, _ := newTestOrchestrator(t, map[string]*schema.FlowDefinition{"flow-1": def}, slow)

	run, err := orc.RunWorkflow(context.Background(), "flow-1", "tenant-1", nil)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStateFailed, run.State)
	assert.Equal(t, schema.ErrCodeTimeout, run.Error.Code)
}

func TestOrchestrator_CycleGuard(t *testing.T) {
	loop := &scriptedExecutor{
		tag: "loop",
		run: func(ctx context.Context, config, payload map[string]any) (*executors.Result, error) {
			return &executors.Result{NextNodeID: "a"}, nil
		},
	}

	def := linearFlow("flow-1", schema.NodeDefinition{ID: "a", Type: "loop"})
	orc, _, _ := newTestOrchestrator(t, map[string]*schema.FlowDefinition{"flow-1": def}, loop)

	run, err := orc.RunWorkflow(context.Background(), "flow-1", "tenant-1", nil)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStateFailed, run.State)
	assert.Equal(t, schema.ErrCodeValidation, run.Error.Code)
	assert.Contains(t, run.Error.Message, "cycle")
}

func TestLedger_AppendAndOrder(t *testing.T) {
	l := NewLedger()
	assert.Equal(t, 0, l.Len())

	l.Append(LedgerEntry{NodeID: "a"})
	l.Append(LedgerEntry{NodeID: "b"})

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].NodeID)
	assert.Equal(t, "b", entries[1].NodeID)
	assert.False(t, entries[0].RecordedAt.IsZero())
}

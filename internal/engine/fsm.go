package engine

import (
	"sync"

	"github.com/leadstack/flowengine/pkg/schema"
)

// TransitionHook is called before or after a run state transition.
type TransitionHook func(from, to schema.RunState) error

type hookKey struct {
	from, to schema.RunState
}

// RunFSM validates workflow run lifecycle transitions. The orchestrator owns
// one FSM per engine instance; hooks let surrounding components (stats, store)
// observe state changes without the orchestrator calling them directly.
type RunFSM struct {
	mu     sync.Mutex
	before map[hookKey][]TransitionHook
	after  map[hookKey][]TransitionHook
}

// NewRunFSM creates a RunFSM with no hooks registered.
func NewRunFSM() *RunFSM {
	return &RunFSM{
		before: make(map[hookKey][]TransitionHook),
		after:  make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before the given transition.
func (f *RunFSM) OnBefore(from, to schema.RunState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after the given transition.
func (f *RunFSM) OnAfter(from, to schema.RunState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and applies a state change on the run. The run's State
// field is only updated when the transition is legal and all before hooks pass.
func (f *RunFSM) Transition(run *schema.WorkflowRun, to schema.RunState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	from := run.State
	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": run.ID, "from": string(from), "to": string(to)})
	}

	key := hookKey{from, to}

	for _, hook := range f.before[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	run.State = to

	for _, hook := range f.after[key] {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	return nil
}

func isValidRunTransition(from, to schema.RunState) bool {
	allowed, ok := ValidRunTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// ValidRunTransitions defines the allowed run lifecycle transitions. Failed is
// terminal only for runs with an empty compensation ledger; runs with recorded
// side effects continue into compensating.
var ValidRunTransitions = map[schema.RunState][]schema.RunState{
	schema.RunStatePending:            {schema.RunStateRunning, schema.RunStateFailed},
	schema.RunStateRunning:            {schema.RunStateCompleted, schema.RunStateFailed},
	schema.RunStateFailed:             {schema.RunStateCompensating},
	schema.RunStateCompensating:       {schema.RunStateCompensated, schema.RunStateCompensationFailed},
	schema.RunStateCompleted:          {},
	schema.RunStateCompensated:        {},
	schema.RunStateCompensationFailed: {},
}

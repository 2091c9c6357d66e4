package executors

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/leadstack/flowengine/pkg/schema"
)

// BranchExecutor implements the branch node type: it evaluates a CEL
// condition against the payload and routes the run to one of two next nodes.
// Thread-safe: compiled programs are cached and reused across goroutines.
type BranchExecutor struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewBranchExecutor creates a BranchExecutor with a sandboxed CEL environment
// exposing a single top-level variable:
//   - payload: map(string, dyn), the current execution payload
func NewBranchExecutor() (*BranchExecutor, error) {
	env, err := cel.NewEnv(
		cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &BranchExecutor{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

func (e *BranchExecutor) Type() string { return "branch" }

func (e *BranchExecutor) ValidateConfig(config map[string]any) error {
	expression, err := requireString(e.Type(), config, "expression")
	if err != nil {
		return err
	}
	if _, err := e.getOrCompile(expression); err != nil {
		return err
	}
	if _, err := requireString(e.Type(), config, "if_true"); err != nil {
		return err
	}
	_, err = requireString(e.Type(), config, "if_false")
	return err
}

func (e *BranchExecutor) Execute(ctx context.Context, config, payload map[string]any) (*Result, error) {
	expression, err := requireString(e.Type(), config, "expression")
	if err != nil {
		return nil, err
	}
	ifTrue, err := requireString(e.Type(), config, "if_true")
	if err != nil {
		return nil, err
	}
	ifFalse, err := requireString(e.Type(), config, "if_false")
	if err != nil {
		return nil, err
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	activation := map[string]any{"payload": payload}
	if payload == nil {
		activation["payload"] = map[string]any{}
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	verdict, ok := out.Value().(bool)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: expression %q must evaluate to a boolean (got %T)", e.Type(), expression, out.Value())
	}

	next := ifFalse
	if verdict {
		next = ifTrue
	}

	result := &Result{NextNodeID: next}
	if outputKey := optString(config, "output_key", ""); outputKey != "" {
		result.Delta = map[string]any{outputKey: verdict}
	}
	return result, nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *BranchExecutor) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: CEL compile error in %q: %s", e.Type(), expression, issues.Err().Error()).
			WithCause(issues.Err())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: CEL program error for %q: %s", e.Type(), expression, err.Error()).
			WithCause(err)
	}

	e.cache[expression] = prg
	return prg, nil
}

var _ NodeExecutor = (*BranchExecutor)(nil)

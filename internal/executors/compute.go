package executors

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/leadstack/flowengine/pkg/schema"
)

// ComputeExecutor implements the compute node type: it evaluates an
// expr-lang expression with payload keys as top-level variables and writes
// the result under a configured output key. Useful for derived values
// (scores, flags, formatted strings) between business nodes.
// Thread-safe: compiled programs are cached and reused across goroutines.
type ComputeExecutor struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewComputeExecutor creates a ComputeExecutor with an empty program cache.
func NewComputeExecutor() *ComputeExecutor {
	return &ComputeExecutor{cache: make(map[string]*vm.Program)}
}

func (e *ComputeExecutor) Type() string { return "compute" }

func (e *ComputeExecutor) ValidateConfig(config map[string]any) error {
	expression, err := requireString(e.Type(), config, "expression")
	if err != nil {
		return err
	}
	if _, err := e.getOrCompile(expression); err != nil {
		return err
	}
	_, err = requireString(e.Type(), config, "output_key")
	return err
}

func (e *ComputeExecutor) Execute(ctx context.Context, config, payload map[string]any) (*Result, error) {
	expression, err := requireString(e.Type(), config, "expression")
	if err != nil {
		return nil, err
	}
	outputKey, err := requireString(e.Type(), config, "output_key")
	if err != nil {
		return nil, err
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	env := payload
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNodeExecution,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return &Result{Delta: map[string]any{outputKey: out}}, nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *ComputeExecutor) getOrCompile(expression string) (*vm.Program, error) {
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

	prg, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: expr compile error in %q: %s", e.Type(), expression, err.Error()).
			WithCause(err)
	}

	e.cache[expression] = prg
	return prg, nil
}

var _ NodeExecutor = (*ComputeExecutor)(nil)

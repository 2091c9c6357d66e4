package executors

import (
	"context"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/leadstack/flowengine/pkg/schema"
)

// TransformExecutor implements the transform node type: it runs a jq program
// over the payload and writes the result under a configured output key. Used
// for filtering, reshaping, and aggregating data between business nodes.
// Thread-safe: compiled *Code objects are cached and reused across goroutines.
type TransformExecutor struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewTransformExecutor creates a TransformExecutor with an empty program cache.
func NewTransformExecutor() *TransformExecutor {
	return &TransformExecutor{cache: make(map[string]*gojq.Code)}
}

func (e *TransformExecutor) Type() string { return "transform" }

func (e *TransformExecutor) ValidateConfig(config map[string]any) error {
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

func (e *TransformExecutor) Execute(ctx context.Context, config, payload map[string]any) (*Result, error) {
	expression, err := requireString(e.Type(), config, "expression")
	if err != nil {
		return nil, err
	}
	outputKey, err := requireString(e.Type(), config, "output_key")
	if err != nil {
		return nil, err
	}

	code, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	input := normalizeForJQ(payload)
	iter := code.RunWithContext(ctx, input)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if jqErr, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeNodeExecution,
				"jq evaluation failed for %q: %s", expression, jqErr.Error()).
				WithCause(jqErr).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}

	var out any
	switch len(results) {
	case 0:
		out = nil
	case 1:
		out = results[0]
	default:
		out = results
	}

	return &Result{Delta: map[string]any{outputKey: out}}, nil
}

// getOrCompile returns a cached compiled code or compiles and caches a new one.
func (e *TransformExecutor) getOrCompile(expression string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: jq parse error in %q: %s", e.Type(), expression, err.Error()).
			WithCause(err)
	}

	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: jq compile error in %q: %s", e.Type(), expression, err.Error()).
			WithCause(err)
	}

	e.cache[expression] = code
	return code, nil
}

// normalizeForJQ converts Go native types to jq-compatible types.
// jq uses float64 for all numbers.
func normalizeForJQ(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalizeForJQ(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeForJQ(inner)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ NodeExecutor = (*TransformExecutor)(nil)

package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/leadstack/flowengine/pkg/schema"
)

// Default output keys for the validation partitions and the keyed error map.
const (
	defaultValidKey     = "valid_rows"
	defaultInvalidKey   = "invalid_rows"
	defaultRowErrorsKey = "row_errors"
)

// ValidateRowsExecutor implements the validate_rows node type: it runs one
// JSON Schema per row from the externally supplied rule set, partitions rows
// into valid/invalid, and emits both partitions plus a row_<index> error map.
// A validation failure is reported data, never a node error.
// Compiled schemas are cached and reused across executions.
type ValidateRowsExecutor struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewValidateRowsExecutor creates a ValidateRowsExecutor with an empty schema cache.
func NewValidateRowsExecutor() *ValidateRowsExecutor {
	return &ValidateRowsExecutor{cache: make(map[string]*jsonschema.Schema)}
}

func (e *ValidateRowsExecutor) Type() string { return "validate_rows" }

func (e *ValidateRowsExecutor) ValidateConfig(config map[string]any) error {
	if _, ok := config["rows"]; !ok {
		return schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: missing required config key %q", e.Type(), "rows")
	}
	rules, ok := config["rules"].(map[string]any)
	if !ok || len(rules) == 0 {
		return schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: config key %q must be a JSON Schema object", e.Type(), "rules")
	}
	return nil
}

func (e *ValidateRowsExecutor) Execute(ctx context.Context, config, payload map[string]any) (*Result, error) {
	rows, err := requireSlice(e.Type(), config, "rows")
	if err != nil {
		return nil, err
	}
	rules, ok := config["rules"].(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: config key %q must be a JSON Schema object", e.Type(), "rules")
	}

	compiled, err := e.getOrCompile(rules)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: invalid rule set: %s", e.Type(), err.Error()).WithCause(err)
	}

	validKey := optString(config, "valid_key", defaultValidKey)
	invalidKey := optString(config, "invalid_key", defaultInvalidKey)
	errorsKey := optString(config, "errors_key", defaultRowErrorsKey)

	valid := make([]any, 0, len(rows))
	invalid := make([]any, 0)
	rowErrors := make(map[string]any)

	for i, row := range rows {
		doc, convErr := toJSONValue(row)
		if convErr != nil {
			invalid = append(invalid, row)
			rowErrors[fmt.Sprintf("row_%d", i)] = []any{convErr.Error()}
			continue
		}
		if vErr := compiled.Validate(doc); vErr != nil {
			invalid = append(invalid, row)
			rowErrors[fmt.Sprintf("row_%d", i)] = collectViolations(vErr)
			continue
		}
		valid = append(valid, row)
	}

	return &Result{
		Delta: map[string]any{
			validKey:   valid,
			invalidKey: invalid,
			errorsKey:  rowErrors,
		},
	}, nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (e *ValidateRowsExecutor) getOrCompile(rules map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(rules)
	if err != nil {
		return nil, err
	}
	key := string(raw)

	e.mu.RLock()
	if cached, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return cached, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if cached, ok := e.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal rule set: %w", err)
	}

	// Each rule set gets a unique URL to avoid collisions in the compiler.
	url := fmt.Sprintf("flowengine://row-rules/%d", len(e.cache))

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add rule set resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile rule set: %w", err)
	}

	e.cache[key] = compiled
	return compiled, nil
}

// collectViolations flattens a jsonschema validation error into messages.
func collectViolations(err error) []any {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []any{err.Error()}
	}

	var msgs []any
	var walk func(v *jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			loc := "/"
			if len(v.InstanceLocation) > 0 {
				loc = "/" + strings.Join(v.InstanceLocation, "/")
			}
			msgs = append(msgs, fmt.Sprintf("%s: %s", loc, v.Error()))
			return
		}
		for _, cause := range v.Causes {
			walk(cause)
		}
	}
	walk(verr)
	return msgs
}

// toJSONValue round-trips a Go value through JSON encoding so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

var _ NodeExecutor = (*ValidateRowsExecutor)(nil)

package executors

import (
	"context"

	"github.com/spf13/cast"

	"github.com/leadstack/flowengine/pkg/schema"
)

// NodeExecutor is an executable unit of work implementing one node type.
// Execute receives the node's post-substitution configuration and a read-only
// view of the execution payload; it returns the payload delta to merge and an
// optional next-node hint. Side effects on external systems happen only here
// (and in Compensate).
type NodeExecutor interface {
	Type() string
	ValidateConfig(config map[string]any) error
	Execute(ctx context.Context, config, payload map[string]any) (*Result, error)
}

// Compensator is the optional inverse of an executor. An executor that does
// not implement it is not compensable: the orchestrator will not attempt to
// unwind its nodes and flags them explicitly instead.
type Compensator interface {
	Compensate(ctx context.Context, config, snapshot map[string]any) error
}

// Result is the outcome of a successful node execution.
type Result struct {
	// Delta holds the payload keys this node contributes. Later keys win on merge.
	Delta map[string]any
	// NextNodeID overrides the node's static next edge when non-empty.
	NextNodeID string
	// Compensation, when non-nil, declares a reversible side effect and holds
	// the exact input snapshot the compensator needs. Compensators are not
	// guaranteed to be pure functions of the final payload, so the snapshot is
	// recorded in the ledger at execution time.
	Compensation map[string]any
}

// --- config coercion helpers ---

// requireString returns config[key] as a string, failing with
// INVALID_NODE_CONFIG when the key is missing or empty.
func requireString(nodeType string, config map[string]any, key string) (string, error) {
	v, ok := config[key]
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: missing required config key %q", nodeType, key)
	}
	s := cast.ToString(v)
	if s == "" {
		return "", schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: config key %q must be a non-empty string", nodeType, key)
	}
	return s, nil
}

// requireSlice returns config[key] as a []any, failing with INVALID_NODE_CONFIG
// when the key is missing or not list-shaped.
func requireSlice(nodeType string, config map[string]any, key string) ([]any, error) {
	v, ok := config[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: missing required config key %q", nodeType, key)
	}
	s, ok := v.([]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: config key %q must be a list", nodeType, key)
	}
	return s, nil
}

func optString(config map[string]any, key, fallback string) string {
	if v, ok := config[key]; ok {
		if s := cast.ToString(v); s != "" {
			return s
		}
	}
	return fallback
}

func optInt(config map[string]any, key string, fallback int) int {
	if v, ok := config[key]; ok {
		if n, err := cast.ToIntE(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func optBool(config map[string]any, key string, fallback bool) bool {
	if v, ok := config[key]; ok {
		if b, err := cast.ToBoolE(v); err == nil {
			return b
		}
	}
	return fallback
}

func optMap(config map[string]any, key string) map[string]any {
	if v, ok := config[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

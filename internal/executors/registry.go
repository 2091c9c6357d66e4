package executors

import (
	"sort"
	"sync"

	"github.com/leadstack/flowengine/pkg/schema"
)

// Registry resolves a node's declared type tag to the executor implementing
// it. Registration is static configuration performed at startup; the set of
// supported node types is fixed per deployment.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]NodeExecutor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]NodeExecutor),
	}
}

// Register adds an executor to the registry. Returns an error on duplicate type tags.
func (r *Registry) Register(exec NodeExecutor) error {
	if exec == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	nodeType := exec.Type()
	if nodeType == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor type tag is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[nodeType]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "executor %q already registered", nodeType)
	}

	r.executors[nodeType] = exec
	return nil
}

// MustRegister registers an executor and panics on error. Intended for
// build-time wiring where a duplicate tag is a programming mistake.
func (r *Registry) MustRegister(exec NodeExecutor) {
	if err := r.Register(exec); err != nil {
		panic(err)
	}
}

// Resolve retrieves the executor for a node type tag. Unknown types are a
// hard failure with UNKNOWN_NODE_TYPE.
func (r *Registry) Resolve(nodeType string) (NodeExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[nodeType]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownNodeType,
			"no executor registered for node type %q", nodeType)
	}
	return exec, nil
}

// Has checks whether a node type is registered.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[nodeType]
	return ok
}

// Types returns all registered type tags, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Count returns the number of registered executors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors)
}

package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/leadstack/flowengine/pkg/schema"
)

// MemoryStore is an in-memory Store for tests and ephemeral deployments.
// Values are copied on the way in and out via JSON so callers can never
// mutate stored state through shared references.
type MemoryStore struct {
	mu          sync.RWMutex
	definitions map[string]*schema.FlowDefinition
	runs        map[string]*schema.WorkflowRun
	runOrder    []string // insertion order for ListRuns
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions: make(map[string]*schema.FlowDefinition),
		runs:        make(map[string]*schema.WorkflowRun),
	}
}

func (s *MemoryStore) SaveDefinition(ctx context.Context, def *schema.FlowDefinition) error {
	if def.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "definition id is empty")
	}
	copied, err := copyValue(def)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "encode definition: %s", err.Error()).WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[def.ID] = copied
	return nil
}

func (s *MemoryStore) LoadDefinition(ctx context.Context, id string) (*schema.FlowDefinition, error) {
	s.mu.RLock()
	def, ok := s.definitions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("definition", id)
	}
	return copyValue(def)
}

func (s *MemoryStore) ListDefinitions(ctx context.Context) ([]*schema.FlowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*schema.FlowDefinition, 0, len(s.definitions))
	for _, def := range s.definitions {
		copied, err := copyValue(def)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) DeleteDefinition(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.definitions[id]; !ok {
		return storeNotFound("definition", id)
	}
	delete(s.definitions, id)
	return nil
}

func (s *MemoryStore) SaveRun(ctx context.Context, run *schema.WorkflowRun) error {
	if run.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run id is empty")
	}
	copied, err := copyValue(run)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "encode run: %s", err.Error()).WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		s.runOrder = append(s.runOrder, run.ID)
	}
	s.runs[run.ID] = copied
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*schema.WorkflowRun, error) {
	s.mu.RLock()
	run, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("run", id)
	}
	return copyValue(run)
}

func (s *MemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.WorkflowRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*schema.WorkflowRun
	// Newest first.
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		run := s.runs[s.runOrder[i]]
		if !matchesFilter(run, filter) {
			continue
		}
		copied, err := copyValue(run)
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func matchesFilter(run *schema.WorkflowRun, filter RunFilter) bool {
	if filter.FlowID != "" && run.FlowID != filter.FlowID {
		return false
	}
	if filter.TenantID != "" && run.TenantID != filter.TenantID {
		return false
	}
	if filter.State != "" && run.State != filter.State {
		return false
	}
	return true
}

func copyValue[T any](v *T) (*T, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)

package engine

import "sort"

// Payload is the single shared data object flowing through a run. It grows
// monotonically: nodes contribute deltas via Merge and existing keys are only
// ever overwritten, never removed. Not safe for concurrent use; a run executes
// nodes sequentially and the orchestrator is the only writer.
type Payload struct {
	data    map[string]any
	version int
}

// NewPayload creates a payload seeded with a copy of the given trigger data.
func NewPayload(seed map[string]any) *Payload {
	data := make(map[string]any, len(seed))
	for k, v := range seed {
		data[k] = v
	}
	return &Payload{data: data}
}

// Merge applies a node's delta. Later keys win on collision. Each merge bumps
// the payload version, even when the delta is empty.
func (p *Payload) Merge(delta map[string]any) {
	for k, v := range delta {
		p.data[k] = v
	}
	p.version++
}

// Get returns the value for a key and whether it exists.
func (p *Payload) Get(key string) (any, bool) {
	v, ok := p.data[key]
	return v, ok
}

// View returns a deep copy of the payload contents. Executors receive views,
// never the backing map.
func (p *Payload) View() map[string]any {
	return deepCopyMap(p.data)
}

// Keys returns all payload keys, sorted.
func (p *Payload) Keys() []string {
	keys := make([]string, 0, len(p.data))
	for k := range p.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Version returns the number of merges applied so far.
func (p *Payload) Version() int {
	return p.version
}

// Len returns the number of top-level keys.
func (p *Payload) Len() int {
	return len(p.data)
}

func deepCopyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopyValue(v)
	}
	return dst
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

package schema

// FlowDefinition is the JSON-serializable description of a workflow graph.
// It is owned by the definition store and only read for the duration of a run.
type FlowDefinition struct {
	ID        string           `json:"id"`
	Name      string           `json:"name,omitempty"`
	TenantID  string           `json:"tenant_id,omitempty"`
	Active    bool             `json:"active"`
	EntryNode string           `json:"entry_node"`
	Nodes     []NodeDefinition `json:"nodes"`
	Schedule  string           `json:"schedule,omitempty"` // cron expression for recurring runs
	Metadata  map[string]any   `json:"metadata,omitempty"`
}

// NodeDefinition describes a single node in a flow.
type NodeDefinition struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`              // executor type tag (e.g. "create_lead_batch")
	Config  map[string]any `json:"config,omitempty"`  // executor-specific configuration
	Next    string         `json:"next,omitempty"`    // static next-node edge
	Timeout string         `json:"timeout,omitempty"` // per-node timeout (e.g. "30s")
}

// Node returns the node with the given ID, or nil if it does not exist.
func (d *FlowDefinition) Node(id string) *NodeDefinition {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// RunState enumerates the workflow run lifecycle states.
type RunState string

const (
	RunStatePending            RunState = "pending"
	RunStateRunning            RunState = "running"
	RunStateCompleted          RunState = "completed"
	RunStateFailed             RunState = "failed"
	RunStateCompensating       RunState = "compensating"
	RunStateCompensated        RunState = "compensated"
	RunStateCompensationFailed RunState = "compensation_failed"
)

// IsTerminal reports whether the state admits no further transitions.
// A failed run with ledger entries still transitions to compensating; the
// orchestrator drives that transition before the run is handed to observers.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateCompleted, RunStateCompensated, RunStateCompensationFailed:
		return true
	}
	return false
}

// NodeStatus enumerates the outcome of a single executed node.
type NodeStatus string

const (
	NodeStatusSucceeded NodeStatus = "succeeded"
	NodeStatusFailed    NodeStatus = "failed"
)

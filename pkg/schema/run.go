package schema

import "time"

// WorkflowRun is one concrete execution of a FlowDefinition. It is created at
// admission, mutated only by the orchestrator, and read-only once terminal.
type WorkflowRun struct {
	ID           string                `json:"id"`
	FlowID       string                `json:"flow_id"`
	TenantID     string                `json:"tenant_id"`
	State        RunState              `json:"state"`
	Records      []NodeExecutionRecord `json:"records,omitempty"`
	StartedAt    time.Time             `json:"started_at"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`
	Error        *FlowError            `json:"error,omitempty"`
	Compensation *CompensationReport   `json:"compensation,omitempty"`
	FinalPayload map[string]any        `json:"final_payload,omitempty"`
}

// Duration returns the wall-clock run duration, or 0 if the run has not ended.
func (r *WorkflowRun) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// NodeExecutionRecord captures one node actually executed during a run.
type NodeExecutionRecord struct {
	NodeID      string         `json:"node_id"`
	Type        string         `json:"type"`
	Config      map[string]any `json:"config,omitempty"` // post-substitution input
	Delta       map[string]any `json:"delta,omitempty"`  // payload keys this node added
	Status      NodeStatus     `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	DurationMs  int64          `json:"duration_ms"`
	Error       string         `json:"error,omitempty"`
}

// CompensationReport summarizes the unwind of a failed run. It is separate
// from the run's terminal error: "what failed" and "what could not be undone"
// are distinct, non-overlapping pieces of information.
type CompensationReport struct {
	Outcomes []CompensationOutcome `json:"outcomes"`
}

// CompensationOutcome is the result of unwinding a single ledger entry.
type CompensationOutcome struct {
	NodeID         string `json:"node_id"`
	Undone         bool   `json:"undone"`
	NonCompensable bool   `json:"non_compensable,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Clean reports whether every ledger entry was successfully undone.
func (r *CompensationReport) Clean() bool {
	for _, o := range r.Outcomes {
		if !o.Undone {
			return false
		}
	}
	return true
}

package engine

import (
	"time"

	"github.com/leadstack/flowengine/internal/executors"
)

// LedgerEntry records one reversible side effect: which node produced it, the
// post-substitution config it ran with, and the snapshot its compensator
// needs. The snapshot is captured at execution time because compensators are
// not functions of the final payload.
type LedgerEntry struct {
	NodeID     string
	NodeType   string
	Config     map[string]any
	Snapshot   map[string]any
	RecordedAt time.Time
	Executor   executors.NodeExecutor
}

// Ledger is the append-only record of reversible side effects for one run.
// Entries are appended in execution order and unwound strictly in reverse.
// Not safe for concurrent use; a run has a single executing goroutine.
type Ledger struct {
	entries []LedgerEntry
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append records a reversible side effect.
func (l *Ledger) Append(entry LedgerEntry) {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	l.entries = append(l.entries, entry)
}

// Entries returns the recorded entries in execution order.
func (l *Ledger) Entries() []LedgerEntry {
	return l.entries
}

// Len returns the number of recorded entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

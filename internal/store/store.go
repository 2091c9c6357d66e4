// Package store persists flow definitions and terminal runs.
package store

import (
	"context"

	"github.com/leadstack/flowengine/pkg/schema"
)

// RunFilter narrows ListRuns results. Zero-value fields match everything.
type RunFilter struct {
	FlowID   string
	TenantID string
	State    schema.RunState
	Limit    int
}

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Definitions
	SaveDefinition(ctx context.Context, def *schema.FlowDefinition) error
	LoadDefinition(ctx context.Context, id string) (*schema.FlowDefinition, error)
	ListDefinitions(ctx context.Context) ([]*schema.FlowDefinition, error)
	DeleteDefinition(ctx context.Context, id string) error

	// Runs
	SaveRun(ctx context.Context, run *schema.WorkflowRun) error
	GetRun(ctx context.Context, id string) (*schema.WorkflowRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.WorkflowRun, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}

func storeNotFound(kind, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %s not found", kind, id)
}

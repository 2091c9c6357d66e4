package executors

import (
	"context"
	"log/slog"

	"github.com/leadstack/flowengine/internal/services"
	"github.com/leadstack/flowengine/pkg/schema"
)

// DefaultChunkSize is the number of rows processed per chunk when the node
// config does not override it.
const DefaultChunkSize = 50

// Default output keys for the batch summary and the created leads list.
const (
	defaultSummaryKey = "batch_result"
	defaultLeadsKey   = "created_leads"
)

// Row outcome classifications emitted in the per-row results.
const (
	rowOutcomeCreated   = "created"
	rowOutcomeDuplicate = "duplicate"
	rowOutcomeFailed    = "failed"
)

// LeadBatchExecutor implements the create_lead_batch node type: it processes
// input rows in fixed-size chunks through the lead service, classifies each
// row as created/duplicate/failed, and always emits a summary into the
// payload. With stop_on_error set, processing halts at the first hard
// failure; rows already created are still reported and remain compensable.
type LeadBatchExecutor struct {
	leads  services.LeadService
	logger *slog.Logger
}

// NewLeadBatchExecutor creates a LeadBatchExecutor backed by the given lead service.
func NewLeadBatchExecutor(leads services.LeadService, logger *slog.Logger) *LeadBatchExecutor {
	return &LeadBatchExecutor{leads: leads, logger: logger}
}

func (e *LeadBatchExecutor) Type() string { return "create_lead_batch" }

func (e *LeadBatchExecutor) ValidateConfig(config map[string]any) error {
	if _, ok := config["rows"]; !ok {
		return schema.NewErrorf(schema.ErrCodeInvalidNodeConfig,
			"%s: missing required config key %q", e.Type(), "rows")
	}
	return nil
}

func (e *LeadBatchExecutor) Execute(ctx context.Context, config, payload map[string]any) (*Result, error) {
	rows, err := requireSlice(e.Type(), config, "rows")
	if err != nil {
		return nil, err
	}

	chunkSize := optInt(config, "chunk_size", DefaultChunkSize)
	stopOnError := optBool(config, "stop_on_error", false)
	summaryKey := optString(config, "summary_key", defaultSummaryKey)
	leadsKey := optString(config, "leads_key", defaultLeadsKey)

	var (
		created    []map[string]any
		leadIDs    []any
		rowResults []any
		duplicates int
		failures   int
		aborted    bool
	)

	for start := 0; start < len(rows) && !aborted; start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}

		for i := start; i < end; i++ {
			data, ok := rows[i].(map[string]any)
			if !ok {
				failures++
				rowResults = append(rowResults, map[string]any{
					"index": i, "status": rowOutcomeFailed, "error": "row is not an object",
				})
				if stopOnError {
					aborted = true
					break
				}
				continue
			}

			lead, createErr := e.leads.CreateLead(ctx, data)
			switch {
			case createErr == nil:
				leadIDs = append(leadIDs, lead.ID)
				created = append(created, map[string]any{"id": lead.ID, "email": lead.Email})
				rowResults = append(rowResults, map[string]any{
					"index": i, "status": rowOutcomeCreated, "lead_id": lead.ID,
				})
			case services.IsDuplicateLead(createErr):
				duplicates++
				rowResults = append(rowResults, map[string]any{
					"index": i, "status": rowOutcomeDuplicate, "error": createErr.Error(),
				})
			default:
				failures++
				rowResults = append(rowResults, map[string]any{
					"index": i, "status": rowOutcomeFailed, "error": createErr.Error(),
				})
				if stopOnError {
					aborted = true
				}
			}
			if aborted {
				break
			}
		}
	}

	total := len(rows)
	successRate := 0.0
	if total > 0 {
		successRate = float64(len(created)) / float64(total)
	}

	summary := map[string]any{
		"total":        total,
		"created":      len(created),
		"duplicates":   duplicates,
		"failed":       failures,
		"success_rate": successRate,
		"aborted":      aborted,
		"rows":         rowResults,
	}

	if e.logger != nil {
		e.logger.InfoContext(ctx, "lead batch processed",
			slog.Int("total", total),
			slog.Int("created", len(created)),
			slog.Int("duplicates", duplicates),
			slog.Int("failed", failures),
			slog.Bool("aborted", aborted),
		)
	}

	createdAny := make([]any, len(created))
	for i, c := range created {
		createdAny[i] = c
	}

	result := &Result{
		Delta: map[string]any{
			summaryKey: summary,
			leadsKey:   createdAny,
		},
	}
	if len(leadIDs) > 0 {
		result.Compensation = map[string]any{"lead_ids": leadIDs}
	}
	return result, nil
}

// Compensate deletes the leads recorded in the execution snapshot. Deletion
// errors are collected; the first one is returned after all deletes were attempted.
func (e *LeadBatchExecutor) Compensate(ctx context.Context, config, snapshot map[string]any) error {
	ids, _ := snapshot["lead_ids"].([]any)

	var firstErr error
	for _, id := range ids {
		leadID, ok := id.(string)
		if !ok {
			continue
		}
		if err := e.leads.DeleteLead(ctx, leadID); err != nil {
			if e.logger != nil {
				e.logger.WarnContext(ctx, "failed to delete lead during compensation",
					slog.String("lead_id", leadID),
					slog.String("error", err.Error()),
				)
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return schema.NewErrorf(schema.ErrCodeCompensation,
			"delete created leads: %s", firstErr.Error()).WithCause(firstErr)
	}
	return nil
}

var (
	_ NodeExecutor = (*LeadBatchExecutor)(nil)
	_ Compensator  = (*LeadBatchExecutor)(nil)
)

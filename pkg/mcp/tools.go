package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leadstack/flowengine/internal/store"
	"github.com/leadstack/flowengine/pkg/schema"
)

const defaultListLimit = 20

// handleDefine validates and stores a workflow definition.
func (s *FlowServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	// Re-decode through JSON so the loose map becomes a typed definition.
	raw, err := json.Marshal(defRaw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
	}
	def := &schema.FlowDefinition{}
	if err := json.Unmarshal(raw, def); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
	}

	if err := s.validator.Validate(def); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("definition rejected: %v", err)), nil
	}
	if err := s.store.SaveDefinition(ctx, def); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to save definition: %v", err)), nil
	}

	return marshalResult(map[string]any{
		"ok":      true,
		"flow_id": def.ID,
		"active":  def.Active,
		"nodes":   len(def.Nodes),
	})
}

// handleRun executes a registered workflow and returns the terminal run.
func (s *FlowServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flowID, err := req.RequireString("flow_id")
	if err != nil {
		return mcp.NewToolResultError("flow_id is required"), nil
	}
	tenantID, err := req.RequireString("tenant_id")
	if err != nil {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}
	seed := mcp.ParseStringMap(req, "payload", nil)

	run, runErr := s.runner.RunWorkflow(ctx, flowID, tenantID, seed)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run rejected: %v", runErr)), nil
	}

	return marshalResult(run)
}

// handleStatus returns the stored record of a run.
func (s *FlowServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	run, getErr := s.store.GetRun(ctx, runID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", getErr)), nil
	}

	return marshalResult(run)
}

// handleList lists definitions or recent runs.
func (s *FlowServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError("kind is required"), nil
	}

	switch kind {
	case "definitions":
		defs, listErr := s.store.ListDefinitions(ctx)
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", listErr)), nil
		}
		return marshalResult(map[string]any{"definitions": defs, "count": len(defs)})

	case "runs":
		criteria := mcp.ParseStringMap(req, "filter", map[string]any{})
		filter := store.RunFilter{
			Limit: extractInt(criteria, "limit", defaultListLimit),
		}
		if flowID, ok := criteria["flow_id"].(string); ok {
			filter.FlowID = flowID
		}
		if tenantID, ok := criteria["tenant_id"].(string); ok {
			filter.TenantID = tenantID
		}
		if state, ok := criteria["state"].(string); ok {
			filter.State = schema.RunState(state)
		}
		runs, listErr := s.store.ListRuns(ctx, filter)
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", listErr)), nil
		}
		return marshalResult(map[string]any{"runs": runs, "count": len(runs)})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown kind %q", kind)), nil
	}
}

// handleStats returns outcome aggregates for one flow or all observed flows.
func (s *FlowServer) handleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.stats == nil {
		return mcp.NewToolResultError("stats recording is disabled"), nil
	}

	if flowID := req.GetString("flow_id", ""); flowID != "" {
		flowStats, ok := s.stats.StatsFor(flowID)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("no runs recorded for flow %q", flowID)), nil
		}
		return marshalResult(flowStats)
	}

	return marshalResult(map[string]any{"flows": s.stats.All()})
}

func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

// Package mcp exposes the workflow engine to agents over the Model Context
// Protocol.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/leadstack/flowengine/internal/stats"
	"github.com/leadstack/flowengine/internal/store"
	"github.com/leadstack/flowengine/internal/validation"
	"github.com/leadstack/flowengine/pkg/schema"
)

// FlowRunner starts workflow runs. Satisfied by the orchestrator.
type FlowRunner interface {
	RunWorkflow(ctx context.Context, flowID, tenantID string, seed map[string]any) (*schema.WorkflowRun, error)
}

// FlowServerDeps holds the dependencies for creating a FlowServer.
type FlowServerDeps struct {
	Runner    FlowRunner
	Store     store.Store
	Validator *validation.DefinitionValidator
	Stats     *stats.Recorder
	Logger    *slog.Logger
}

// FlowServer wraps an MCP server with workflow engine tool handlers.
type FlowServer struct {
	runner    FlowRunner
	store     store.Store
	validator *validation.DefinitionValidator
	stats     *stats.Recorder
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewFlowServer creates a new FlowServer with all 5 tools registered.
func NewFlowServer(deps FlowServerDeps) *FlowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowServer{
		runner:    deps.Runner,
		store:     deps.Store,
		validator: deps.Validator,
		stats:     deps.Stats,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"flowengine",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Flowengine executes marketing workflow graphs with saga compensation. Use flow.define to register a workflow, flow.run to execute it, flow.status to inspect a run, flow.list to browse definitions and runs, and flow.stats for per-flow outcome aggregates."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *FlowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *FlowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: statsTool(), Handler: s.handleStats},
	}
}

// --- Tool definitions ---

func defineTool() mcp.Tool {
	return mcp.NewTool("flow.define",
		mcp.WithDescription("Validate and register a workflow definition"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Flow definition object (id, entry_node, nodes)")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("flow.run",
		mcp.WithDescription("Execute a registered workflow"),
		mcp.WithString("flow_id", mcp.Required(), mcp.Description("ID of the workflow to execute")),
		mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant the run is billed against")),
		mcp.WithObject("payload", mcp.Description("Trigger data seeding the execution payload")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("flow.status",
		mcp.WithDescription("Get the full record of a workflow run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("flow.list",
		mcp.WithDescription("List workflow definitions or recent runs"),
		mcp.WithString("kind", mcp.Required(),
			mcp.Enum("definitions", "runs"),
			mcp.Description("What to list"),
		),
		mcp.WithObject("filter", mcp.Description("Run filter criteria (flow_id, tenant_id, state, limit)")),
	)
}

func statsTool() mcp.Tool {
	return mcp.NewTool("flow.stats",
		mcp.WithDescription("Get per-flow run outcome aggregates"),
		mcp.WithString("flow_id", mcp.Description("Limit to one flow (default: all observed flows)")),
	)
}

package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ledren/cadent/internal/query"
	"github.com/ledren/cadent/internal/store"
	"github.com/ledren/cadent/internal/validation"
)

// CadentServerDeps holds the dependencies for creating a CadentServer.
type CadentServerDeps struct {
	Store     store.RunStore
	Validator *validation.TemplateValidator
	Logger    *slog.Logger
}

// CadentServer wraps an MCP server with cadent-specific tool handlers. Each
// tool is a 1:1 wrapper over one engine operation; the server's own job is
// loading the run record before the call and persisting it after.
type CadentServer struct {
	store     store.RunStore
	validator *validation.TemplateValidator
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  RunNotifier
	jq        *query.Engine
	mcpServer *server.MCPServer
}

// NewCadentServer creates a CadentServer with all tools registered.
func NewCadentServer(deps CadentServerDeps) *CadentServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &CadentServer{
		store:     deps.Store,
		validator: deps.Validator,
		logger:    logger,
		sessions:  NewSessionRegistry(),
		jq:        query.NewEngine(),
	}

	mcpSrv := server.NewMCPServer(
		"cadent",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Cadent drives long-running, suspendable agent workflows. Use workflow.start to begin a run from a template document, workflow.status to see the current step and instructions, workflow.advance to record a step's output and move on, workflow.set_tasks to feed a loop step its task list, workflow.set_summary to leave a short note on the run, workflow.fail to abort a run, workflow.state for the raw run record, and workflow.query to inspect runs and their event logs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *CadentServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *CadentServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *CadentServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: advanceTool(), Handler: s.handleAdvance},
		{Tool: setTasksTool(), Handler: s.handleSetTasks},
		{Tool: setSummaryTool(), Handler: s.handleSetSummary},
		{Tool: failTool(), Handler: s.handleFail},
		{Tool: stateTool(), Handler: s.handleState},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func startTool() mcp.Tool {
	return mcp.NewTool("workflow.start",
		mcp.WithDescription("Start a new workflow run from a template document"),
		mcp.WithString("template", mcp.Required(), mcp.Description("Workflow template document (YAML or JSON)")),
		mcp.WithString("run_id", mcp.Description("Run identifier (generated when omitted)")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("workflow.status",
		mcp.WithDescription("Get the current step, agent and instructions for a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
		mcp.WithString("template", mcp.Description("Fallback template document for records that predate snapshotting")),
	)
}

func advanceTool() mcp.Tool {
	return mcp.NewTool("workflow.advance",
		mcp.WithDescription("Record the current step's output and advance the run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
		mcp.WithString("output", mcp.Description("Output produced by the step just completed")),
		mcp.WithString("template", mcp.Description("Fallback template document for records that predate snapshotting")),
	)
}

func setTasksTool() mcp.Tool {
	return mcp.NewTool("workflow.set_tasks",
		mcp.WithDescription("Provide the task list for a loop step"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
		mcp.WithString("loop_id", mcp.Required(), mcp.Description("Loop step id the tasks belong to")),
		mcp.WithArray("tasks", mcp.Required(), mcp.Description("Task objects: id, title, optional description and depends_on")),
	)
}

func setSummaryTool() mcp.Tool {
	return mcp.NewTool("workflow.set_summary",
		mcp.WithDescription("Store a short human-readable note on a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
		mcp.WithString("summary", mcp.Required(), mcp.Description("Summary text (capped, control characters stripped)")),
	)
}

func failTool() mcp.Tool {
	return mcp.NewTool("workflow.fail",
		mcp.WithDescription("Mark a run as failed, freezing it at its current position"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
		mcp.WithString("reason", mcp.Description("Why the run was aborted (stored as the run summary)")),
	)
}

func stateTool() mcp.Tool {
	return mcp.NewTool("workflow.state",
		mcp.WithDescription("Get the raw run record, including recorded outputs"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run identifier")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("workflow.query",
		mcp.WithDescription("Query runs or run events, optionally reshaped with a jq expression"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("runs", "events"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithString("run_id", mcp.Description("Run identifier (required for events)")),
		mcp.WithString("since", mcp.Description("Only events with sequence greater than this value")),
		mcp.WithString("jq", mcp.Description("jq expression applied to the result document")),
	)
}

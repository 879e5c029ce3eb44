package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledren/cadent/internal/store"
	"github.com/ledren/cadent/internal/validation"
	"github.com/ledren/cadent/pkg/schema"
)

const testTemplateYAML = `
name: feature-delivery
description: Plan, build per task, then polish
agents:
  planner:
    description: Breaks work into tasks
  coder:
    description: Implements tasks
    tools: [write]
loops:
  build:
    - id: implement
      instructions: "Implement {task.title}"
    - id: review
      agent: planner
      instructions: "Review {task.id}"
steps:
  - id: plan
    type: action
    agent: planner
    instructions: Break the feature into tasks
  - id: build
    type: loop
    agent: coder
  - id: polish
    type: ralph
    agent: coder
    instructions: Polish the result
    n: 2
`

type testServer struct {
	*CadentServer
	store *store.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	validator, err := validation.NewTemplateValidator()
	require.NoError(t, err)
	ms := store.NewMemoryStore()
	s := NewCadentServer(CadentServerDeps{Store: ms, Validator: validator})
	return &testServer{CadentServer: s, store: ms}
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.False(t, result.IsError, "unexpected tool error: %s", extractText(t, result))
	require.NoError(t, json.Unmarshal([]byte(extractText(t, result)), target))
}

type statusResult struct {
	RunID  string                 `json:"run_id"`
	Status *schema.StatusResponse `json:"status"`
}

func startRun(t *testing.T, s *testServer, runID string) {
	t.Helper()
	result, err := s.handleStart(context.Background(), buildRequest("workflow.start", map[string]any{
		"template": testTemplateYAML,
		"run_id":   runID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
}

// --- workflow.start ---

func TestStartTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, err := s.handleStart(ctx, buildRequest("workflow.start", map[string]any{
		"template": testTemplateYAML,
	}))
	require.NoError(t, err)

	var out statusResult
	unmarshalResult(t, result, &out)
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, schema.RunStatusRunning, out.Status.Status)
	assert.Equal(t, "plan", out.Status.Step)
	assert.Equal(t, "planner", out.Status.Agent)

	// Record persisted with the snapshot; start event logged.
	st, err := s.store.ReadRecord(ctx, out.RunID)
	require.NoError(t, err)
	require.NotNil(t, st)
	require.NotNil(t, st.Definition)
	assert.Equal(t, "feature-delivery", st.Definition.Name)

	events, err := s.store.GetEvents(ctx, out.RunID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, store.EventRunStarted, events[0].Type)
}

func TestStartTool_MissingTemplate(t *testing.T) {
	s := newTestServer(t)
	result, err := s.handleStart(context.Background(), buildRequest("workflow.start", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStartTool_InvalidTemplate(t *testing.T) {
	s := newTestServer(t)
	result, err := s.handleStart(context.Background(), buildRequest("workflow.start", map[string]any{
		"template": "name: x\ndescription: y\nsteps:\n  - id: s1\n    type: bogus\n",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStartTool_DuplicateRunID(t *testing.T) {
	s := newTestServer(t)
	startRun(t, s, "r1")

	result, err := s.handleStart(context.Background(), buildRequest("workflow.start", map[string]any{
		"template": testTemplateYAML,
		"run_id":   "r1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "already exists")
}

// --- workflow.status ---

func TestStatusTool_UnknownRun(t *testing.T) {
	s := newTestServer(t)
	result, err := s.handleStatus(context.Background(), buildRequest("workflow.status", map[string]any{
		"run_id": "nope",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "not found")
}

// --- workflow.advance / set_tasks: full run ---

func TestDriveRunToCompletion(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	startRun(t, s, "r1")

	advance := func(output string) statusResult {
		result, err := s.handleAdvance(ctx, buildRequest("workflow.advance", map[string]any{
			"run_id": "r1",
			"output": output,
		}))
		require.NoError(t, err)
		var out statusResult
		unmarshalResult(t, result, &out)
		return out
	}

	out := advance("the plan")
	assert.Equal(t, "build", out.Status.Step)

	result, err := s.handleSetTasks(ctx, buildRequest("workflow.set_tasks", map[string]any{
		"run_id":  "r1",
		"loop_id": "build",
		"tasks": []any{
			map[string]any{"id": "t1", "title": "Add endpoint"},
		},
	}))
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	require.NotNil(t, out.Status.Task)
	assert.Equal(t, "t1", out.Status.Task.ID)
	assert.Equal(t, "implement", out.Status.SubStep)
	assert.Equal(t, "Implement Add endpoint", out.Status.Instructions)

	advance("impl")
	out = advance("review")
	assert.Equal(t, "polish", out.Status.Step)
	assert.Equal(t, 1, out.Status.RalphIteration)

	advance("pass 1")
	out = advance("pass 2")
	assert.Equal(t, schema.RunStatusComplete, out.Status.Status)

	// The persisted record reflects the terminal state and outputs survive.
	st, err := s.store.ReadRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusComplete, st.Status)
	assert.Equal(t, "impl", st.Outputs["build.t1.implement"])
	assert.Equal(t, "pass 2", st.Outputs["polish.2"])

	// Event log ends with run_completed.
	events, err := s.store.GetEvents(ctx, "r1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, store.EventRunCompleted, events[len(events)-1].Type)
}

func TestSetTasksTool_MissingTaskID(t *testing.T) {
	s := newTestServer(t)
	startRun(t, s, "r1")

	result, err := s.handleSetTasks(context.Background(), buildRequest("workflow.set_tasks", map[string]any{
		"run_id":  "r1",
		"loop_id": "build",
		"tasks":   []any{map[string]any{"title": "no id"}},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "missing an id")
}

func TestSetTasksTool_UnknownLoop(t *testing.T) {
	s := newTestServer(t)
	startRun(t, s, "r1")

	result, err := s.handleSetTasks(context.Background(), buildRequest("workflow.set_tasks", map[string]any{
		"run_id":  "r1",
		"loop_id": "nope",
		"tasks":   []any{map[string]any{"id": "t1", "title": "x"}},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- workflow.fail ---

func TestFailTool(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	startRun(t, s, "r1")

	result, err := s.handleFail(ctx, buildRequest("workflow.fail", map[string]any{
		"run_id": "r1",
		"reason": "budget exceeded",
	}))
	require.NoError(t, err)
	var out statusResult
	unmarshalResult(t, result, &out)
	assert.Equal(t, schema.RunStatusFailed, out.Status.Status)
	assert.Equal(t, "budget exceeded", out.Status.Summary)

	st, err := s.store.ReadRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, st.Status)

	events, err := s.store.GetEvents(ctx, "r1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, store.EventRunFailed, events[len(events)-1].Type)

	// Failing again reports the frozen status without a second event.
	result, err = s.handleFail(ctx, buildRequest("workflow.fail", map[string]any{
		"run_id": "r1",
	}))
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	assert.Equal(t, schema.RunStatusFailed, out.Status.Status)

	after, err := s.store.GetEvents(ctx, "r1", 0)
	require.NoError(t, err)
	assert.Len(t, after, len(events))
}

// --- workflow.set_summary / workflow.state ---

func TestSetSummaryAndState(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	startRun(t, s, "r1")

	result, err := s.handleSetSummary(ctx, buildRequest("workflow.set_summary", map[string]any{
		"run_id":  "r1",
		"summary": "waiting on review",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = s.handleState(ctx, buildRequest("workflow.state", map[string]any{
		"run_id": "r1",
	}))
	require.NoError(t, err)
	var out struct {
		RunID string                `json:"run_id"`
		State *schema.WorkflowState `json:"state"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, "waiting on review", out.State.Summary)
	require.NotNil(t, out.State.Definition)
}

// --- workflow.query ---

func TestQueryTool_Runs(t *testing.T) {
	s := newTestServer(t)
	startRun(t, s, "r1")
	startRun(t, s, "r2")

	result, err := s.handleQuery(context.Background(), buildRequest("workflow.query", map[string]any{
		"resource": "runs",
	}))
	require.NoError(t, err)
	var out struct {
		Runs []string `json:"runs"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, []string{"r1", "r2"}, out.Runs)
}

func TestQueryTool_EventsWithJQ(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	startRun(t, s, "r1")
	_, err := s.handleAdvance(ctx, buildRequest("workflow.advance", map[string]any{
		"run_id": "r1", "output": "x",
	}))
	require.NoError(t, err)

	result, err := s.handleQuery(ctx, buildRequest("workflow.query", map[string]any{
		"resource": "events",
		"run_id":   "r1",
		"jq":       ".events | map(.event_type)",
	}))
	require.NoError(t, err)
	var out struct {
		Result []string `json:"result"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, []string{store.EventRunStarted, store.EventStepAdvanced}, out.Result)
}

func TestQueryTool_EventsSince(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	startRun(t, s, "r1")
	_, err := s.handleAdvance(ctx, buildRequest("workflow.advance", map[string]any{
		"run_id": "r1", "output": "x",
	}))
	require.NoError(t, err)

	result, err := s.handleQuery(ctx, buildRequest("workflow.query", map[string]any{
		"resource": "events",
		"run_id":   "r1",
		"since":    "1",
	}))
	require.NoError(t, err)
	var out struct {
		Events []*store.Event `json:"events"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Events, 1)
	assert.Equal(t, store.EventStepAdvanced, out.Events[0].Type)
}

func TestQueryTool_UnknownResource(t *testing.T) {
	s := newTestServer(t)
	result, err := s.handleQuery(context.Background(), buildRequest("workflow.query", map[string]any{
		"resource": "tables",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Legacy records without a snapshot ---

func TestLegacyRecordNeedsTemplateArgument(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	legacy := &schema.WorkflowState{
		Status:   schema.RunStatusRunning,
		Step:     "plan",
		StepType: schema.StepTypeAction,
	}
	require.NoError(t, s.store.WriteRecord(ctx, "old", legacy))

	result, err := s.handleStatus(ctx, buildRequest("workflow.status", map[string]any{
		"run_id": "old",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "predates template snapshotting")

	result, err = s.handleStatus(ctx, buildRequest("workflow.status", map[string]any{
		"run_id":   "old",
		"template": testTemplateYAML,
	}))
	require.NoError(t, err)
	var out statusResult
	unmarshalResult(t, result, &out)
	assert.Equal(t, "plan", out.Status.Step)
	assert.Equal(t, "Break the feature into tasks", out.Status.Instructions)
}

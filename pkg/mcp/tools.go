package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ledren/cadent/internal/engine"
	"github.com/ledren/cadent/internal/logging"
	"github.com/ledren/cadent/internal/store"
	"github.com/ledren/cadent/pkg/schema"
)

// handleStart validates a template document and begins a new run.
func (s *CadentServer) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	templateDoc, err := req.RequireString("template")
	if err != nil {
		return mcp.NewToolResultError("template is required"), nil
	}
	runID := req.GetString("run_id", "")
	if runID == "" {
		runID = uuid.New().String()
	}
	ctx = logging.WithRunID(ctx, runID)

	tpl, valErr := s.validator.Parse([]byte(templateDoc))
	if valErr != nil {
		return toolError(valErr), nil
	}

	existing, readErr := s.store.ReadRecord(ctx, runID)
	if readErr != nil {
		return toolError(readErr), nil
	}
	if existing != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run %q already exists", runID)), nil
	}

	m := engine.New(tpl, engine.WithLogger(s.logger))
	resp := m.Start()

	if err := s.store.WriteRecord(ctx, runID, m.State()); err != nil {
		return toolError(err), nil
	}
	s.appendEvent(ctx, runID, resp.Step, store.EventRunStarted, map[string]any{
		"template": tpl.Name,
		"step":     resp.Step,
	})
	s.captureSession(ctx, runID)

	s.logger.InfoContext(ctx, "run started", "template", tpl.Name, "step", resp.Step)
	return marshalResult(map[string]any{"run_id": runID, "status": resp})
}

// handleStatus returns the current position of a run.
func (s *CadentServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	ctx = logging.WithRunID(ctx, runID)

	m, loadErr := s.loadMachine(ctx, req, runID)
	if loadErr != nil {
		return toolError(loadErr), nil
	}

	resp, statusErr := m.Status()
	if statusErr != nil {
		return toolError(statusErr), nil
	}
	return marshalResult(map[string]any{"run_id": runID, "status": resp})
}

// handleAdvance records the step output and transitions the run, persisting
// the new state before replying.
func (s *CadentServer) handleAdvance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	output := req.GetString("output", "")
	ctx = logging.WithRunID(ctx, runID)

	m, loadErr := s.loadMachine(ctx, req, runID)
	if loadErr != nil {
		return toolError(loadErr), nil
	}

	resp, advErr := m.Advance(output)
	if advErr != nil {
		return toolError(advErr), nil
	}

	if err := s.store.WriteRecord(ctx, runID, m.State()); err != nil {
		return toolError(err), nil
	}
	s.appendEvent(ctx, runID, resp.Step, store.EventStepAdvanced, map[string]any{
		"step":   resp.Step,
		"status": resp.Status,
	})

	if resp.Status.Terminal() {
		eventType := store.EventRunCompleted
		if resp.Status == schema.RunStatusFailed {
			eventType = store.EventRunFailed
		}
		s.appendEvent(ctx, runID, resp.Step, eventType, map[string]any{"status": resp.Status})
		s.notifyTerminal(ctx, runID, resp.Status)
		s.logger.InfoContext(ctx, "run finished", "status", resp.Status)
	}

	return marshalResult(map[string]any{"run_id": runID, "status": resp})
}

// handleSetTasks stores a loop's task list, beginning iteration when the run
// is positioned on that loop.
func (s *CadentServer) handleSetTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	loopID, err := req.RequireString("loop_id")
	if err != nil {
		return mcp.NewToolResultError("loop_id is required"), nil
	}
	ctx = logging.WithRunID(ctx, runID)

	tasks, taskErr := parseTasks(req)
	if taskErr != nil {
		return mcp.NewToolResultError(taskErr.Error()), nil
	}

	m, loadErr := s.loadMachine(ctx, req, runID)
	if loadErr != nil {
		return toolError(loadErr), nil
	}

	resp, setErr := m.SetTasks(loopID, tasks)
	if setErr != nil {
		return toolError(setErr), nil
	}

	if err := s.store.WriteRecord(ctx, runID, m.State()); err != nil {
		return toolError(err), nil
	}
	s.appendEvent(ctx, runID, loopID, store.EventTasksSet, map[string]any{
		"loop_id":    loopID,
		"task_count": len(tasks),
	})

	return marshalResult(map[string]any{"run_id": runID, "status": resp})
}

// handleSetSummary stores a short note on the run.
func (s *CadentServer) handleSetSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	summary, err := req.RequireString("summary")
	if err != nil {
		return mcp.NewToolResultError("summary is required"), nil
	}
	ctx = logging.WithRunID(ctx, runID)

	m, loadErr := s.loadMachine(ctx, req, runID)
	if loadErr != nil {
		return toolError(loadErr), nil
	}

	m.SetSummary(summary)

	if err := s.store.WriteRecord(ctx, runID, m.State()); err != nil {
		return toolError(err), nil
	}
	s.appendEvent(ctx, runID, "", store.EventSummarySet, nil)

	return marshalResult(map[string]any{"run_id": runID, "ok": true})
}

// handleFail marks a run failed. This is how a host enforces an abort
// policy: the engine itself never fails a run.
func (s *CadentServer) handleFail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	reason := req.GetString("reason", "")
	ctx = logging.WithRunID(ctx, runID)

	m, loadErr := s.loadMachine(ctx, req, runID)
	if loadErr != nil {
		return toolError(loadErr), nil
	}

	wasTerminal := m.State().Status.Terminal()
	resp, failErr := m.Fail(reason)
	if failErr != nil {
		return toolError(failErr), nil
	}

	if wasTerminal {
		// Already finished: report the frozen status without re-recording.
		return marshalResult(map[string]any{"run_id": runID, "status": resp})
	}

	if err := s.store.WriteRecord(ctx, runID, m.State()); err != nil {
		return toolError(err), nil
	}
	s.appendEvent(ctx, runID, resp.Step, store.EventRunFailed, map[string]any{"reason": reason})
	s.notifyTerminal(ctx, runID, resp.Status)
	s.logger.InfoContext(ctx, "run failed", "reason", reason)

	return marshalResult(map[string]any{"run_id": runID, "status": resp})
}

// handleState returns the raw run record.
func (s *CadentServer) handleState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	st, readErr := s.store.ReadRecord(ctx, runID)
	if readErr != nil {
		return toolError(readErr), nil
	}
	if st == nil {
		return mcp.NewToolResultError(fmt.Sprintf("run %q not found", runID)), nil
	}
	return marshalResult(map[string]any{"run_id": runID, "state": st})
}

// handleQuery lists runs or run events, optionally reshaped with jq.
func (s *CadentServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	var doc map[string]any
	switch resource {
	case "runs":
		ids, listErr := s.store.ListRuns(ctx)
		if listErr != nil {
			return toolError(listErr), nil
		}
		doc = map[string]any{"runs": ids}
	case "events":
		runID := req.GetString("run_id", "")
		if runID == "" {
			return mcp.NewToolResultError("event query requires run_id"), nil
		}
		var since int64
		if v := req.GetString("since", ""); v != "" {
			since, _ = strconv.ParseInt(v, 10, 64)
		}
		events, evErr := s.store.GetEvents(ctx, runID, since)
		if evErr != nil {
			return toolError(evErr), nil
		}
		doc = map[string]any{"events": events}
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}

	if expr := req.GetString("jq", ""); expr != "" {
		filtered, jqErr := s.jq.Evaluate(ctx, expr, toPlainDoc(doc))
		if jqErr != nil {
			return toolError(jqErr), nil
		}
		return marshalResult(map[string]any{"result": filtered})
	}
	return marshalResult(doc)
}

// --- Internal helpers ---

// loadMachine reconstructs the run's machine from the persisted record. The
// record's template snapshot governs the machine; the optional "template"
// argument is only consulted for legacy records without a snapshot.
func (s *CadentServer) loadMachine(ctx context.Context, req mcp.CallToolRequest, runID string) (*engine.Machine, error) {
	st, err := s.store.ReadRecord(ctx, runID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", runID)
	}

	var tpl *schema.WorkflowTemplate
	if st.Definition == nil {
		fallback := req.GetString("template", "")
		if fallback == "" {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound,
				"run %q predates template snapshotting; pass the template document to resume it", runID)
		}
		tpl, err = s.validator.Parse([]byte(fallback))
		if err != nil {
			return nil, err
		}
	}
	return engine.FromState(tpl, st, engine.WithLogger(s.logger)), nil
}

// parseTasks decodes the tasks array argument into typed tasks.
func parseTasks(req mcp.CallToolRequest) ([]schema.Task, error) {
	raw, ok := req.GetArguments()["tasks"]
	if !ok {
		return nil, fmt.Errorf("tasks is required")
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid tasks: %v", err)
	}
	var tasks []schema.Task
	if err := json.Unmarshal(b, &tasks); err != nil {
		return nil, fmt.Errorf("invalid tasks: %v", err)
	}
	for i, t := range tasks {
		if t.ID == "" {
			return nil, fmt.Errorf("tasks[%d] is missing an id", i)
		}
	}
	return tasks, nil
}

// appendEvent records a host-side run event; failures are logged, not fatal.
func (s *CadentServer) appendEvent(ctx context.Context, runID, stepID, eventType string, payload map[string]any) {
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	ev := &store.Event{RunID: runID, StepID: stepID, Type: eventType, Payload: raw}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "append run event failed", "event_type", eventType, "error", err)
	}
}

// notifyTerminal pushes a best-effort notification to the session that
// started the run.
func (s *CadentServer) notifyTerminal(ctx context.Context, runID string, status schema.RunStatus) {
	if err := s.notifier.Notify(ctx, runID, map[string]any{
		"run_id": runID,
		"status": string(status),
	}); err != nil {
		s.logger.WarnContext(ctx, "terminal notification failed", "error", err)
	}
}

// captureSession maps the run ID to its current MCP session for notifications.
func (s *CadentServer) captureSession(ctx context.Context, runID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(runID, session.SessionID())
	}
}

// toPlainDoc round-trips a document through JSON so typed values become the
// plain maps/slices gojq expects.
func toPlainDoc(doc map[string]any) any {
	b, err := json.Marshal(doc)
	if err != nil {
		return doc
	}
	var plain any
	if err := json.Unmarshal(b, &plain); err != nil {
		return doc
	}
	return plain
}

// toolError converts an engine/store error into an MCP error result.
func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

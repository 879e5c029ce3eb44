// Package engine holds one run's position in a validated workflow template
// and advances it one step at a time. Machines are single-owner: a run is
// driven by exactly one logical caller, so there is no locking here.
package engine

import (
	"log/slog"

	"github.com/ledren/cadent/pkg/schema"
)

// Machine is the workflow state machine for a single run.
//
// Every operation runs to completion synchronously and performs no I/O.
// After Start, all template lookups go through the state's own snapshot, so
// editing or deleting the authoring document cannot drift a started run.
type Machine struct {
	tpl    *schema.WorkflowTemplate
	state  *schema.WorkflowState
	logger *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the machine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// New creates a machine for a fresh run over a validated template.
// Call Start before any other operation.
func New(tpl *schema.WorkflowTemplate, opts ...Option) *Machine {
	m := &Machine{tpl: tpl, logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FromState reconstructs a runnable machine from a persisted record. If the
// state carries a template snapshot, the snapshot governs all instruction
// and agent lookups and tpl is ignored; tpl is only the fallback for legacy
// records that predate snapshotting.
func FromState(tpl *schema.WorkflowTemplate, st *schema.WorkflowState, opts ...Option) *Machine {
	m := New(tpl, opts...)
	m.state = st.Clone()
	if m.state.Definition != nil {
		m.tpl = m.state.Definition
	}
	return m
}

// Start (re)initializes state to the first main step, capturing the template
// snapshot. It never fails for a validated template.
func (m *Machine) Start() *schema.StatusResponse {
	snapshot := m.tpl.Clone()
	m.state = &schema.WorkflowState{
		Status:     schema.RunStatusRunning,
		Tasks:      make(map[string][]schema.Task),
		Outputs:    make(map[string]string),
		Definition: snapshot,
	}
	m.tpl = snapshot
	m.enterStep(m.tpl.Steps[0])

	resp, _ := m.Status()
	return resp
}

// Advance records the current step's output under its output key and
// transitions according to the step type. It is a no-op returning the
// current status when the run is not running.
//
// A non-nil error means the state no longer matches the template, which
// only happens with a corrupted or hand-edited record; it is fatal for
// the run.
func (m *Machine) Advance(output string) (*schema.StatusResponse, error) {
	st := m.state
	if st == nil {
		return nil, schema.NewError(schema.ErrCodeInvalidState, "run not started")
	}
	if st.Status.Terminal() {
		return m.Status()
	}

	key, err := m.outputKey()
	if err != nil {
		return nil, err
	}
	if st.Outputs == nil {
		st.Outputs = make(map[string]string)
	}
	st.Outputs[key] = output

	step := m.tpl.StepByID(st.Step)
	if step == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
			"current step %q not found in template", st.Step).WithStep(st.Step)
	}

	switch s := step.(type) {
	case schema.ActionStep:
		m.advanceMain()
	case schema.RalphStep:
		if st.RalphIteration < s.N {
			st.RalphIteration++
		} else {
			m.advanceMain()
		}
	case schema.LoopStep:
		if err := m.advanceLoop(s); err != nil {
			return nil, err
		}
	}

	return m.Status()
}

// SetTasks stores the task list for a declared loop. If the machine is
// positioned on that loop and iteration has not begun, iteration starts
// immediately; an empty list skips the loop wholesale.
func (m *Machine) SetTasks(loopID string, tasks []schema.Task) (*schema.StatusResponse, error) {
	st := m.state
	if st == nil {
		return nil, schema.NewError(schema.ErrCodeInvalidState, "run not started")
	}
	if m.tpl.LoopSteps(loopID) == nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown loop %q", loopID)
	}
	if st.Status.Terminal() {
		return m.Status()
	}

	stored := make([]schema.Task, len(tasks))
	for i, t := range tasks {
		cp := t.Clone()
		if cp.Status == "" {
			cp.Status = schema.TaskStatusPending
		}
		stored[i] = cp
	}
	if st.Tasks == nil {
		st.Tasks = make(map[string][]schema.Task)
	}
	st.Tasks[loopID] = stored

	if st.Step == loopID && st.StepType == schema.StepTypeLoop && st.Task == nil {
		m.beginLoop(loopID)
	}

	return m.Status()
}

// Fail marks the run failed, freezing its position. The engine never fails a
// run on its own; this is the host's lever for enforcing abort policies. A
// non-empty reason replaces the run summary. No-op once the run is terminal.
func (m *Machine) Fail(reason string) (*schema.StatusResponse, error) {
	st := m.state
	if st == nil {
		return nil, schema.NewError(schema.ErrCodeInvalidState, "run not started")
	}
	if st.Status.Terminal() {
		return m.Status()
	}
	if reason != "" {
		st.Summary = sanitizeSummary(reason)
	}
	st.Status = schema.RunStatusFailed
	return m.Status()
}

// SetSummary stores a short human note on the run. The note is capped at
// SummaryMaxLen runes and stripped of control characters.
func (m *Machine) SetSummary(note string) {
	if m.state == nil {
		return
	}
	m.state.Summary = sanitizeSummary(note)
}

// State returns a deep copy of the run state, safe for the caller to hold
// or serialize without aliasing engine-internal data.
func (m *Machine) State() *schema.WorkflowState {
	return m.state.Clone()
}

// Outputs returns a copy of the recorded output map.
func (m *Machine) Outputs() map[string]string {
	if m.state == nil {
		return nil
	}
	out := make(map[string]string, len(m.state.Outputs))
	for k, v := range m.state.Outputs {
		out[k] = v
	}
	return out
}

// --- Transitions ---

// enterStep positions the run at a main step, resetting per-step context.
// Entering a loop whose tasks were set ahead of time begins iteration at
// once; an already-known empty list skips the loop.
func (m *Machine) enterStep(s schema.Step) {
	st := m.state
	st.Step = s.StepID()
	st.StepType = s.Kind()
	st.Task = nil
	st.SubStep = ""
	st.RalphIteration = 0

	switch s.Kind() {
	case schema.StepTypeRalph:
		st.RalphIteration = 1
	case schema.StepTypeLoop:
		if _, ok := st.Tasks[s.StepID()]; ok {
			m.beginLoop(s.StepID())
		}
	}
}

// advanceMain moves to the next main step, or completes the run after the
// last one. Terminal state freezes the position fields at their last value.
func (m *Machine) advanceMain() {
	st := m.state
	idx := m.tpl.StepIndex(st.Step)
	if idx < 0 || idx+1 >= len(m.tpl.Steps) {
		st.Status = schema.RunStatusComplete
		return
	}
	m.enterStep(m.tpl.Steps[idx+1])
}

// beginLoop starts task iteration for the loop the run is positioned on.
// The task list must already be stored under the loop id.
func (m *Machine) beginLoop(loopID string) {
	st := m.state
	tasks := st.Tasks[loopID]
	if len(tasks) == 0 {
		// Nothing to iterate: the loop is skipped entirely.
		m.advanceMain()
		return
	}
	subs := m.tpl.LoopSteps(loopID)
	tasks[0].Status = schema.TaskStatusInProgress
	st.Task = &schema.TaskContext{Index: 0, ID: tasks[0].ID, Title: tasks[0].Title}
	st.SubStep = subs[0].ID
}

// advanceLoop walks sub-steps within the current task, then tasks within the
// loop, then moves to the next main step.
func (m *Machine) advanceLoop(s schema.LoopStep) error {
	st := m.state

	if st.Task == nil {
		// Tasks were never set for this loop. The legitimate empty-list path
		// goes through SetTasks; reaching here usually means the caller
		// forgot to provide tasks, so flag it distinctly.
		m.logger.Warn("advance on loop step with no active task, skipping loop",
			slog.String("step", st.Step))
		m.advanceMain()
		return nil
	}

	subs := m.tpl.LoopSteps(s.ID)
	si := subStepIndex(subs, st.SubStep)
	if si < 0 {
		return schema.NewErrorf(schema.ErrCodeInvalidState,
			"sub-step %q not found in loop %q", st.SubStep, s.ID).WithStep(s.ID)
	}

	if si+1 < len(subs) {
		st.SubStep = subs[si+1].ID
		return nil
	}

	// Last sub-step for the current task.
	tasks := st.Tasks[s.ID]
	if st.Task.Index >= len(tasks) {
		return schema.NewErrorf(schema.ErrCodeInvalidState,
			"task index %d out of range for loop %q", st.Task.Index, s.ID).WithStep(s.ID)
	}
	tasks[st.Task.Index].Status = schema.TaskStatusDone

	next := st.Task.Index + 1
	if next < len(tasks) {
		tasks[next].Status = schema.TaskStatusInProgress
		st.Task = &schema.TaskContext{Index: next, ID: tasks[next].ID, Title: tasks[next].Title}
		st.SubStep = subs[0].ID
		return nil
	}

	m.advanceMain()
	return nil
}

func subStepIndex(subs []schema.LoopStepDefinition, id string) int {
	for i, sub := range subs {
		if sub.ID == id {
			return i
		}
	}
	return -1
}

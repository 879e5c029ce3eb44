package schema

// RunStatus enumerates the overall lifecycle of a workflow run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Terminal reports whether the status is complete or failed.
func (s RunStatus) Terminal() bool {
	return s == RunStatusComplete || s == RunStatusFailed
}

// WorkflowState is the entire mutable runtime position of one run. It is the
// persisted record shape: every field round-trips through JSON unchanged,
// including the template snapshot captured at start time.
//
// Once Status is terminal, the position fields are frozen at their last
// value and must not be advanced further.
type WorkflowState struct {
	Status         RunStatus         `json:"status"`
	Step           string            `json:"step"`
	StepType       StepType          `json:"step_type"`
	Task           *TaskContext      `json:"task,omitempty"`
	SubStep        string            `json:"sub_step,omitempty"`
	RalphIteration int               `json:"ralph_iteration,omitempty"`
	Tasks          map[string][]Task `json:"tasks,omitempty"`
	Outputs        map[string]string `json:"outputs,omitempty"`
	Summary        string            `json:"summary,omitempty"`

	// Definition is the immutable template snapshot taken when the run
	// started. Absent only in records that predate snapshotting.
	Definition *WorkflowTemplate `json:"workflow_definition,omitempty"`
}

// Clone returns a deep copy of the state. The machine hands out copies so an
// external caller can never corrupt engine-internal state.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Task != nil {
		tc := *s.Task
		out.Task = &tc
	}
	if s.Tasks != nil {
		out.Tasks = make(map[string][]Task, len(s.Tasks))
		for loopID, tasks := range s.Tasks {
			cp := make([]Task, len(tasks))
			for i, t := range tasks {
				cp[i] = t.Clone()
			}
			out.Tasks[loopID] = cp
		}
	}
	if s.Outputs != nil {
		out.Outputs = make(map[string]string, len(s.Outputs))
		for k, v := range s.Outputs {
			out.Outputs[k] = v
		}
	}
	out.Definition = s.Definition.Clone()
	return &out
}

// Progress summarizes how far a run has advanced.
type Progress struct {
	StepIndex  int    `json:"step_index"` // 1-based position in the main sequence
	StepCount  int    `json:"step_count"`
	TasksDone  int    `json:"tasks_done,omitempty"`
	TasksTotal int    `json:"tasks_total,omitempty"`
	Display    string `json:"display"`
}

// StatusResponse is the read-only view the caller acts on after every
// operation: who should run, what they should do, and where the run stands.
// Computed on demand from WorkflowState, never persisted.
type StatusResponse struct {
	Status         RunStatus    `json:"status"`
	Step           string       `json:"step,omitempty"`
	StepType       StepType     `json:"step_type,omitempty"`
	Agent          string       `json:"agent,omitempty"`
	AgentConfig    *AgentConfig `json:"agent_config,omitempty"`
	Instructions   string       `json:"instructions,omitempty"`
	Task           *TaskContext `json:"task,omitempty"`
	SubStep        string       `json:"sub_step,omitempty"`
	RalphIteration int          `json:"ralph_iteration,omitempty"`
	Progress       *Progress    `json:"progress,omitempty"`
	Summary        string       `json:"summary,omitempty"`
}

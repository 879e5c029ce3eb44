package schema

import (
	"encoding/json"
	"fmt"
)

// StepType enumerates the kinds of main steps in a workflow.
type StepType string

const (
	StepTypeAction StepType = "action"
	StepTypeLoop   StepType = "loop"
	StepTypeRalph  StepType = "ralph"
)

// OnFailPolicy is the recorded failure policy for a loop sub-step.
// It is carried as data; enforcement is up to the calling host.
type OnFailPolicy string

const (
	OnFailRetry OnFailPolicy = "retry"
	OnFailSkip  OnFailPolicy = "skip"
	OnFailAbort OnFailPolicy = "abort"
)

// Step is the tagged union of main-step shapes. Exactly three
// implementations exist: ActionStep, LoopStep and RalphStep.
type Step interface {
	StepID() string
	Kind() StepType
	// AgentRef returns the agent id the step names, or "" if none.
	AgentRef() string

	sealedStep()
}

// ActionStep is a single-shot step: one set of instructions, one advance.
type ActionStep struct {
	ID           string
	Agent        string
	Instructions string
}

func (s ActionStep) StepID() string   { return s.ID }
func (s ActionStep) Kind() StepType   { return StepTypeAction }
func (s ActionStep) AgentRef() string { return s.Agent }
func (s ActionStep) sealedStep()      {}

// LoopStep is a task-driven step: its ordered sub-steps (declared under the
// template's loops mapping, keyed by this step's id) run once per task.
type LoopStep struct {
	ID    string
	Agent string
}

func (s LoopStep) StepID() string   { return s.ID }
func (s LoopStep) Kind() StepType   { return StepTypeLoop }
func (s LoopStep) AgentRef() string { return s.Agent }
func (s LoopStep) sealedStep()      {}

// RalphStep replays the same instructions N times before advancing.
// Each replay is a "redo and improve" pass, not a continuation.
type RalphStep struct {
	ID           string
	Agent        string
	Instructions string
	N            int
}

func (s RalphStep) StepID() string   { return s.ID }
func (s RalphStep) Kind() StepType   { return StepTypeRalph }
func (s RalphStep) AgentRef() string { return s.Agent }
func (s RalphStep) sealedStep()      {}

// AgentConfig describes an agent role referenced by steps. The engine passes
// tool lists through untouched; it does not interpret tool names.
type AgentConfig struct {
	Description string   `json:"description"`
	Tools       []string `json:"tools,omitempty"`
	Cannot      []string `json:"cannot,omitempty"`
}

// LoopStepDefinition is one entry of a named loop's ordered sub-step list.
// Instructions may contain {task.id} and {task.title} placeholders.
type LoopStepDefinition struct {
	ID           string       `json:"id"`
	Agent        string       `json:"agent,omitempty"`
	Instructions string       `json:"instructions"`
	OnFail       OnFailPolicy `json:"on_fail,omitempty"`
}

// WorkflowTemplate is the validated, immutable definition of a procedure.
// It is constructed once by the loader and never mutated afterward; many
// machine instances may reference the same template value.
type WorkflowTemplate struct {
	Name        string
	Description string
	Agents      map[string]AgentConfig
	Loops       map[string][]LoopStepDefinition
	Steps       []Step
}

// StepByID returns the main step with the given id, or nil.
func (t *WorkflowTemplate) StepByID(id string) Step {
	for _, s := range t.Steps {
		if s.StepID() == id {
			return s
		}
	}
	return nil
}

// StepIndex returns the 0-based position of the main step with the given id,
// or -1 if absent.
func (t *WorkflowTemplate) StepIndex(id string) int {
	for i, s := range t.Steps {
		if s.StepID() == id {
			return i
		}
	}
	return -1
}

// LoopSteps returns the ordered sub-step list for a loop id, or nil.
func (t *WorkflowTemplate) LoopSteps(id string) []LoopStepDefinition {
	return t.Loops[id]
}

// Clone returns a deep copy of the template. Used to snapshot the definition
// into a run's state so later edits to the source document cannot drift a
// started run.
func (t *WorkflowTemplate) Clone() *WorkflowTemplate {
	if t == nil {
		return nil
	}
	out := &WorkflowTemplate{
		Name:        t.Name,
		Description: t.Description,
		Steps:       make([]Step, len(t.Steps)),
	}
	copy(out.Steps, t.Steps) // step values are immutable scalars

	if t.Agents != nil {
		out.Agents = make(map[string]AgentConfig, len(t.Agents))
		for id, a := range t.Agents {
			cp := a
			cp.Tools = append([]string(nil), a.Tools...)
			cp.Cannot = append([]string(nil), a.Cannot...)
			out.Agents[id] = cp
		}
	}
	if t.Loops != nil {
		out.Loops = make(map[string][]LoopStepDefinition, len(t.Loops))
		for id, subs := range t.Loops {
			out.Loops[id] = append([]LoopStepDefinition(nil), subs...)
		}
	}
	return out
}

// --- Wire form ---
//
// The document shape is flat: one step object with a type discriminator and
// type-specific optional fields. The union is reconstructed on decode.

// StepDoc is the flat wire representation of a main step.
type StepDoc struct {
	ID           string   `json:"id"`
	Type         StepType `json:"type"`
	Agent        string   `json:"agent,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	N            int      `json:"n,omitempty"`
}

// EncodeStep converts a Step into its wire form.
func EncodeStep(s Step) StepDoc {
	switch v := s.(type) {
	case ActionStep:
		return StepDoc{ID: v.ID, Type: StepTypeAction, Agent: v.Agent, Instructions: v.Instructions}
	case LoopStep:
		return StepDoc{ID: v.ID, Type: StepTypeLoop, Agent: v.Agent}
	case RalphStep:
		return StepDoc{ID: v.ID, Type: StepTypeRalph, Agent: v.Agent, Instructions: v.Instructions, N: v.N}
	default:
		panic(fmt.Sprintf("schema: unknown step type %T", s))
	}
}

// DecodeStep converts a wire-form step into the union. It rejects unknown
// type tags; field-level requirements are the validator's job.
func DecodeStep(d StepDoc) (Step, error) {
	switch d.Type {
	case StepTypeAction:
		return ActionStep{ID: d.ID, Agent: d.Agent, Instructions: d.Instructions}, nil
	case StepTypeLoop:
		return LoopStep{ID: d.ID, Agent: d.Agent}, nil
	case StepTypeRalph:
		return RalphStep{ID: d.ID, Agent: d.Agent, Instructions: d.Instructions, N: d.N}, nil
	default:
		return nil, NewErrorf(ErrCodeValidation, "unknown step type %q", d.Type).WithStep(d.ID)
	}
}

type templateDoc struct {
	Name        string                          `json:"name"`
	Description string                          `json:"description"`
	Agents      map[string]AgentConfig          `json:"agents,omitempty"`
	Loops       map[string][]LoopStepDefinition `json:"loops,omitempty"`
	Steps       []StepDoc                       `json:"steps"`
}

// MarshalJSON serializes the template in its document shape, so a persisted
// snapshot is byte-equivalent to the authoring format.
func (t WorkflowTemplate) MarshalJSON() ([]byte, error) {
	doc := templateDoc{
		Name:        t.Name,
		Description: t.Description,
		Agents:      t.Agents,
		Loops:       t.Loops,
		Steps:       make([]StepDoc, len(t.Steps)),
	}
	for i, s := range t.Steps {
		doc.Steps[i] = EncodeStep(s)
	}
	return json.Marshal(doc)
}

// UnmarshalJSON reconstructs the step union from the document shape.
func (t *WorkflowTemplate) UnmarshalJSON(b []byte) error {
	var doc templateDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	steps := make([]Step, len(doc.Steps))
	for i, d := range doc.Steps {
		s, err := DecodeStep(d)
		if err != nil {
			return err
		}
		steps[i] = s
	}
	t.Name = doc.Name
	t.Description = doc.Description
	t.Agents = doc.Agents
	t.Loops = doc.Loops
	t.Steps = steps
	return nil
}

package engine

import (
	"fmt"
	"strings"

	"github.com/ledren/cadent/pkg/schema"
)

const ralphAnnotationFmt = "Iteration %d of %d: redo this step from the top and improve on the previous pass."

// Status is a pure projection of the current state: the agent to run, the
// instructions to hand it, and progress counters. Once the run is terminal
// it returns a frozen response with no instructions.
func (m *Machine) Status() (*schema.StatusResponse, error) {
	st := m.state
	if st == nil {
		return nil, schema.NewError(schema.ErrCodeInvalidState, "run not started")
	}

	resp := &schema.StatusResponse{
		Status:         st.Status,
		Step:           st.Step,
		StepType:       st.StepType,
		SubStep:        st.SubStep,
		RalphIteration: st.RalphIteration,
		Summary:        st.Summary,
	}
	if st.Task != nil {
		tc := *st.Task
		resp.Task = &tc
	}
	resp.Progress = m.progress()

	if st.Status.Terminal() {
		return resp, nil
	}

	step := m.tpl.StepByID(st.Step)
	if step == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
			"current step %q not found in template", st.Step).WithStep(st.Step)
	}

	agent, instructions, err := m.resolveStep(step)
	if err != nil {
		return nil, err
	}
	resp.Agent = agent
	resp.Instructions = instructions
	if agent != "" {
		if cfg, ok := m.tpl.Agents[agent]; ok {
			cp := cfg
			cp.Tools = append([]string(nil), cfg.Tools...)
			cp.Cannot = append([]string(nil), cfg.Cannot...)
			resp.AgentConfig = &cp
		}
	}
	return resp, nil
}

// resolveStep computes the effective agent and instructions for the current
// position. For loop steps the active sub-step's agent overrides the step
// agent, and {task.*} placeholders are substituted into its instructions.
// Ralph instructions get the iteration annotation appended so instruction
// provenance stays inspectable.
func (m *Machine) resolveStep(step schema.Step) (agent, instructions string, err error) {
	st := m.state

	switch s := step.(type) {
	case schema.ActionStep:
		return s.Agent, s.Instructions, nil

	case schema.RalphStep:
		annotated := s.Instructions + "\n\n" + fmt.Sprintf(ralphAnnotationFmt, st.RalphIteration, s.N)
		return s.Agent, annotated, nil

	case schema.LoopStep:
		if st.Task == nil {
			return s.Agent, fmt.Sprintf("No tasks defined for loop %q yet; provide them with set_tasks.", s.ID), nil
		}
		subs := m.tpl.LoopSteps(s.ID)
		si := subStepIndex(subs, st.SubStep)
		if si < 0 {
			return "", "", schema.NewErrorf(schema.ErrCodeInvalidState,
				"sub-step %q not found in loop %q", st.SubStep, s.ID).WithStep(s.ID)
		}
		sub := subs[si]
		agent = sub.Agent
		if agent == "" {
			agent = s.Agent
		}
		return agent, substitutePlaceholders(sub.Instructions, st.Task), nil

	default:
		return "", "", schema.NewErrorf(schema.ErrCodeInvalidState,
			"unknown step type %T", step).WithStep(st.Step)
	}
}

// substitutePlaceholders replaces the literal {task.id} and {task.title}
// tokens in loop sub-step instructions.
func substitutePlaceholders(instructions string, task *schema.TaskContext) string {
	out := strings.ReplaceAll(instructions, "{task.id}", task.ID)
	return strings.ReplaceAll(out, "{task.title}", task.Title)
}

// progress computes main-step counters plus task counters for loop steps.
func (m *Machine) progress() *schema.Progress {
	st := m.state
	p := &schema.Progress{StepCount: len(m.tpl.Steps)}

	idx := m.tpl.StepIndex(st.Step)
	if idx >= 0 {
		p.StepIndex = idx + 1
	}
	p.Display = fmt.Sprintf("step %d/%d", p.StepIndex, p.StepCount)

	if st.StepType == schema.StepTypeLoop {
		if tasks, ok := st.Tasks[st.Step]; ok {
			p.TasksTotal = len(tasks)
			for _, t := range tasks {
				if t.Status == schema.TaskStatusDone {
					p.TasksDone++
				}
			}
			p.Display = fmt.Sprintf("%s, %d/%d tasks done", p.Display, p.TasksDone, p.TasksTotal)
		}
	}

	if st.Status.Terminal() {
		p.Display = fmt.Sprintf("%s (%s)", p.Display, st.Status)
	}
	return p
}

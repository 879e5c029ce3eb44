package validation

import (
	"fmt"

	"github.com/ledren/cadent/pkg/schema"
)

// templateDoc is the decoded wire form of a template document, used between
// the structural and semantic stages.
type templateDoc struct {
	Name        string                                 `json:"name"`
	Description string                                 `json:"description"`
	Agents      map[string]schema.AgentConfig          `json:"agents"`
	Loops       map[string][]schema.LoopStepDefinition `json:"loops"`
	Steps       []schema.StepDoc                       `json:"steps"`
}

// validateSemantic performs cross-reference analysis on a structurally valid
// document: unique ids, agent references, loop declarations. A dangling
// reference in an otherwise well-formed document is a hard failure.
func validateSemantic(doc *templateDoc) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	validateStepIDs(doc, result)
	validateAgentRefs(doc, result)
	validateLoopRefs(doc, result)
	warnUnreferenced(doc, result)

	return result
}

// validateStepIDs rejects duplicate main-step ids and duplicate sub-step ids
// within a loop. JSON Schema cannot express uniqueness across objects.
func validateStepIDs(doc *templateDoc, result *schema.ValidationResult) {
	seen := make(map[string]bool, len(doc.Steps))
	for i, s := range doc.Steps {
		if seen[s.ID] {
			result.AddError(fmt.Sprintf("steps[%d].id", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate step id %q", s.ID))
		}
		seen[s.ID] = true
	}

	for loopID, subs := range doc.Loops {
		subSeen := make(map[string]bool, len(subs))
		for j, sub := range subs {
			if subSeen[sub.ID] {
				result.AddError(fmt.Sprintf("loops[%s][%d].id", loopID, j), schema.ErrCodeValidation,
					fmt.Sprintf("duplicate sub-step id %q in loop %q", sub.ID, loopID))
			}
			subSeen[sub.ID] = true
		}
	}
}

// validateAgentRefs checks that every agent field, on main steps and loop
// sub-steps alike, names a key in the agents mapping.
func validateAgentRefs(doc *templateDoc, result *schema.ValidationResult) {
	for i, s := range doc.Steps {
		if s.Agent == "" {
			continue
		}
		if _, ok := doc.Agents[s.Agent]; !ok {
			result.AddError(fmt.Sprintf("steps[%d].agent", i), schema.ErrCodeValidation,
				fmt.Sprintf("step %q references unknown agent %q", s.ID, s.Agent))
		}
	}

	for loopID, subs := range doc.Loops {
		for j, sub := range subs {
			if sub.Agent == "" {
				continue
			}
			if _, ok := doc.Agents[sub.Agent]; !ok {
				result.AddError(fmt.Sprintf("loops[%s][%d].agent", loopID, j), schema.ErrCodeValidation,
					fmt.Sprintf("sub-step %q references unknown agent %q", sub.ID, sub.Agent))
			}
		}
	}
}

// validateLoopRefs checks that every loop-type main step has a matching
// entry in the loops mapping.
func validateLoopRefs(doc *templateDoc, result *schema.ValidationResult) {
	for i, s := range doc.Steps {
		if s.Type != schema.StepTypeLoop {
			continue
		}
		if _, ok := doc.Loops[s.ID]; !ok {
			result.AddError(fmt.Sprintf("steps[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("loop step %q has no matching entry in loops", s.ID))
		}
	}
}

// warnUnreferenced flags agents and loops that nothing uses. Harmless at
// runtime, usually an authoring mistake.
func warnUnreferenced(doc *templateDoc, result *schema.ValidationResult) {
	usedAgents := make(map[string]bool)
	usedLoops := make(map[string]bool)
	for _, s := range doc.Steps {
		if s.Agent != "" {
			usedAgents[s.Agent] = true
		}
		if s.Type == schema.StepTypeLoop {
			usedLoops[s.ID] = true
		}
	}
	for _, subs := range doc.Loops {
		for _, sub := range subs {
			if sub.Agent != "" {
				usedAgents[sub.Agent] = true
			}
		}
	}

	for id := range doc.Agents {
		if !usedAgents[id] {
			result.AddWarning(fmt.Sprintf("agents[%s]", id), schema.ErrCodeValidation,
				fmt.Sprintf("agent %q is defined but never referenced", id))
		}
	}
	for id := range doc.Loops {
		if !usedLoops[id] {
			result.AddWarning(fmt.Sprintf("loops[%s]", id), schema.ErrCodeValidation,
				fmt.Sprintf("loop %q is defined but no loop step uses it", id))
		}
	}
}

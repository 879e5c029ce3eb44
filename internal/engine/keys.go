package engine

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ledren/cadent/pkg/schema"
)

// SummaryMaxLen is the rune cap applied to run summaries.
const SummaryMaxLen = 500

// outputKey computes the deterministic key the current position's output is
// recorded under. The scheme is a compatibility contract with persisted data
// and downstream consumers:
//
//	action  ->  stepId
//	ralph   ->  stepId.iteration
//	loop    ->  dot-join of whichever of stepId, taskId, subStepId are set
func (m *Machine) outputKey() (string, error) {
	st := m.state
	switch st.StepType {
	case schema.StepTypeAction:
		return st.Step, nil
	case schema.StepTypeRalph:
		return fmt.Sprintf("%s.%d", st.Step, st.RalphIteration), nil
	case schema.StepTypeLoop:
		parts := []string{st.Step}
		if st.Task != nil {
			parts = append(parts, st.Task.ID)
		}
		if st.SubStep != "" {
			parts = append(parts, st.SubStep)
		}
		return strings.Join(parts, "."), nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeInvalidState,
			"unknown step type %q", st.StepType).WithStep(st.Step)
	}
}

// sanitizeSummary strips control characters (newlines and tabs survive) and
// caps the note at SummaryMaxLen runes.
func sanitizeSummary(note string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, note)

	runes := []rune(cleaned)
	if len(runes) > SummaryMaxLen {
		runes = runes[:SummaryMaxLen]
	}
	return string(runes)
}

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledren/cadent/pkg/schema"
)

func TestOutputKey_Scheme(t *testing.T) {
	tests := []struct {
		name  string
		state *schema.WorkflowState
		want  string
	}{
		{
			name:  "action",
			state: &schema.WorkflowState{Step: "plan", StepType: schema.StepTypeAction},
			want:  "plan",
		},
		{
			name:  "ralph",
			state: &schema.WorkflowState{Step: "polish", StepType: schema.StepTypeRalph, RalphIteration: 2},
			want:  "polish.2",
		},
		{
			name: "loop with task and sub-step",
			state: &schema.WorkflowState{
				Step: "build", StepType: schema.StepTypeLoop,
				Task:    &schema.TaskContext{Index: 0, ID: "t1", Title: "x"},
				SubStep: "implement",
			},
			want: "build.t1.implement",
		},
		{
			name:  "loop without task",
			state: &schema.WorkflowState{Step: "build", StepType: schema.StepTypeLoop},
			want:  "build",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Machine{state: tt.state}
			got, err := m.outputKey()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOutputKey_UnknownStepType(t *testing.T) {
	m := &Machine{state: &schema.WorkflowState{Step: "s", StepType: "mystery"}}
	_, err := m.outputKey()
	require.Error(t, err)
	cerr, ok := err.(*schema.CadentError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeInvalidState, cerr.Code)
}

func TestSanitizeSummary(t *testing.T) {
	assert.Equal(t, "plain text", sanitizeSummary("plain text"))
	assert.Equal(t, "keep\nnewline\tand tab", sanitizeSummary("keep\nnewline\tand tab"))
	assert.Equal(t, "ab", sanitizeSummary("a\x00\x07b"))
}

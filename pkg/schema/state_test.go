package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatus_Terminal(t *testing.T) {
	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusComplete.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
}

func TestWorkflowState_CloneIsDeep(t *testing.T) {
	st := &WorkflowState{
		Status:   RunStatusRunning,
		Step:     "build",
		StepType: StepTypeLoop,
		Task:     &TaskContext{Index: 0, ID: "t1", Title: "x"},
		Tasks: map[string][]Task{
			"build": {{ID: "t1", Title: "x", Status: TaskStatusPending}},
		},
		Outputs:    map[string]string{"plan": "p"},
		Definition: sampleTemplate(),
	}

	cp := st.Clone()
	require.Equal(t, st, cp)

	cp.Task.ID = "changed"
	cp.Tasks["build"][0].Status = TaskStatusFailed
	cp.Outputs["plan"] = "changed"
	cp.Definition.Name = "changed"

	assert.Equal(t, "t1", st.Task.ID)
	assert.Equal(t, TaskStatusPending, st.Tasks["build"][0].Status)
	assert.Equal(t, "p", st.Outputs["plan"])
	assert.Equal(t, "release", st.Definition.Name)
}

func TestWorkflowState_NilClone(t *testing.T) {
	var st *WorkflowState
	assert.Nil(t, st.Clone())
}

func TestWorkflowState_SnapshotRoundTrip(t *testing.T) {
	st := &WorkflowState{
		Status:     RunStatusRunning,
		Step:       "plan",
		StepType:   StepTypeAction,
		Definition: sampleTemplate(),
	}

	data, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"workflow_definition"`)

	var got WorkflowState
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, st, &got)
}

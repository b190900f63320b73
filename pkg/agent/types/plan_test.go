package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePlan(statuses ...StepStatus) *Plan {
	plan := NewPlan("test task")
	for i, status := range statuses {
		plan.Steps = append(plan.Steps, &PlanStep{
			ID:          i + 1,
			Description: "step",
			Status:      status,
		})
	}
	return plan
}

func TestPlan_GetProgress(t *testing.T) {
	tests := []struct {
		name            string
		statuses        []StepStatus
		expectedDone    int
		expectedFailed  int
		expectedPending int
		expectedPercent int
	}{
		{
			name:            "empty plan reports zero",
			statuses:        nil,
			expectedPercent: 0,
		},
		{
			name:            "all pending",
			statuses:        []StepStatus{StepStatusPending, StepStatusPending},
			expectedPending: 2,
			expectedPercent: 0,
		},
		{
			name:            "skipped counts as done",
			statuses:        []StepStatus{StepStatusDone, StepStatusSkipped, StepStatusPending},
			expectedDone:    2,
			expectedPending: 1,
			expectedPercent: 66,
		},
		{
			name:            "failed step counted separately",
			statuses:        []StepStatus{StepStatusDone, StepStatusFailed, StepStatusPending},
			expectedDone:    1,
			expectedFailed:  1,
			expectedPending: 1,
			expectedPercent: 33,
		},
		{
			name:            "complete plan",
			statuses:        []StepStatus{StepStatusDone, StepStatusDone},
			expectedDone:    2,
			expectedPercent: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			progress := makePlan(tt.statuses...).GetProgress()

			assert.Equal(t, len(tt.statuses), progress.Total)
			assert.Equal(t, tt.expectedDone, progress.Done)
			assert.Equal(t, tt.expectedFailed, progress.Failed)
			assert.Equal(t, tt.expectedPending, progress.Pending)
			assert.Equal(t, tt.expectedPercent, progress.ProgressPercent)
		})
	}
}

func TestPlan_IsComplete(t *testing.T) {
	assert.False(t, makePlan().IsComplete(), "empty plan is never complete")
	assert.False(t, makePlan(StepStatusDone, StepStatusPending).IsComplete())
	assert.False(t, makePlan(StepStatusDone, StepStatusFailed).IsComplete())
	assert.True(t, makePlan(StepStatusDone, StepStatusSkipped).IsComplete())
}

func TestPlan_HasFailed(t *testing.T) {
	assert.False(t, makePlan(StepStatusDone, StepStatusPending).HasFailed())
	assert.True(t, makePlan(StepStatusDone, StepStatusFailed).HasFailed())
}

func TestPlan_AdvanceToNextStep(t *testing.T) {
	plan := makePlan(StepStatusDone, StepStatusPending, StepStatusPending)

	require.True(t, plan.AdvanceToNextStep())
	assert.Equal(t, 2, plan.CurrentStepID)

	plan.Steps[1].Status = StepStatusDone
	require.True(t, plan.AdvanceToNextStep())
	assert.Equal(t, 3, plan.CurrentStepID)

	plan.Steps[2].Status = StepStatusDone
	assert.False(t, plan.AdvanceToNextStep())
	assert.Equal(t, 3, plan.CurrentStepID, "cursor stays put when nothing is pending")
}

func TestMarshalParsePlanRoundTrip(t *testing.T) {
	plan := NewPlan("refactor the loader")
	plan.Status = PlanStatusExecuting
	plan.CurrentStepID = 2
	plan.Steps = []*PlanStep{
		{ID: 1, Description: "read config.py", Status: StepStatusDone, Result: "done", ToolsNeeded: []string{"read_file"}},
		{ID: 2, Description: "rewrite loader", Status: StepStatusInProgress, ToolsNeeded: []string{"write_file"}},
	}

	data, err := MarshalPlan(plan)
	require.NoError(t, err)

	restored, err := ParsePlan(data)
	require.NoError(t, err)

	assert.Equal(t, plan.ID, restored.ID, "existing id must be preserved")
	assert.Equal(t, plan.Task, restored.Task)
	assert.Equal(t, plan.Status, restored.Status)
	assert.Equal(t, plan.CurrentStepID, restored.CurrentStepID)
	require.Len(t, restored.Steps, 2)
	assert.Equal(t, StepStatusDone, restored.Steps[0].Status)
	assert.Equal(t, []string{"write_file"}, restored.Steps[1].ToolsNeeded)
}

func TestParsePlan_Defaults(t *testing.T) {
	raw := []byte(`{"task": "edited by user", "steps": [{"description": "first"}, {"description": "second"}]}`)

	plan, err := ParsePlan(raw)
	require.NoError(t, err)

	assert.NotEmpty(t, plan.ID, "missing id gets a fresh one")
	assert.Equal(t, PlanStatusPlanning, plan.Status)
	assert.Equal(t, 1, plan.Version)
	assert.False(t, plan.CreatedAt.IsZero())

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, 1, plan.Steps[0].ID)
	assert.Equal(t, 2, plan.Steps[1].ID)
	assert.Equal(t, StepStatusPending, plan.Steps[0].Status)
}

func TestParsePlan_InvalidJSON(t *testing.T) {
	_, err := ParsePlan([]byte("not json"))
	assert.Error(t, err)
}

func TestStatusTerminality(t *testing.T) {
	assert.True(t, PlanStatusCompleted.IsTerminal())
	assert.True(t, PlanStatusFailed.IsTerminal())
	assert.True(t, PlanStatusCancelled.IsTerminal())
	assert.False(t, PlanStatusExecuting.IsTerminal())
	assert.False(t, PlanStatusAwaitingApproval.IsTerminal())

	assert.True(t, StepStatusDone.IsTerminal())
	assert.True(t, StepStatusSkipped.IsTerminal())
	assert.False(t, StepStatusInProgress.IsTerminal())
}

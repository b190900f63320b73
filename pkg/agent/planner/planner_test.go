package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/quantpilot/quantpilot/pkg/agent/prompts"
	"github.com/quantpilot/quantpilot/pkg/agent/provider"
	"github.com/quantpilot/quantpilot/pkg/agent/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	response string
	err      error
	requests []provider.GenerateRequest
}

func (m *fakeModel) Generate(ctx context.Context, req provider.GenerateRequest) (*types.GenerateResponse, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return &types.GenerateResponse{Content: m.response}, nil
}

func (m *fakeModel) ID() string { return "fake" }

func newTestPlanner(model *fakeModel) *Planner {
	return New(model, prompts.NewTemplateProvider())
}

func TestCreatePlan(t *testing.T) {
	model := &fakeModel{
		response: `{"steps": [
			{"description": "read strategy.py", "expected_outcome": "understand entry logic", "tools": ["read_file"]},
			{"description": "add stop-loss parameter", "tools": ["write_file"]}
		]}`,
	}

	plan := newTestPlanner(model).CreatePlan(context.Background(), "add stop-loss to strategy", "project files: strategy.py")

	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, "add stop-loss to strategy", plan.Task)
	assert.Equal(t, types.PlanStatusAwaitingApproval, plan.Status)
	assert.Equal(t, 1, plan.Version)

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, 1, plan.Steps[0].ID)
	assert.Equal(t, 2, plan.Steps[1].ID)
	assert.Equal(t, types.StepStatusPending, plan.Steps[0].Status)
	assert.Equal(t, "understand entry logic", plan.Steps[0].ExpectedOutcome)
	assert.Equal(t, []string{"write_file"}, plan.Steps[1].ToolsNeeded)
}

func TestCreatePlan_FallbackOnModelError(t *testing.T) {
	model := &fakeModel{err: errors.New("connection refused")}

	plan := newTestPlanner(model).CreatePlan(context.Background(), "fix the import error", "")

	assert.Equal(t, types.PlanStatusAwaitingApproval, plan.Status)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "fix the import error", plan.Steps[0].Description)
}

func TestCreatePlan_FallbackOnUnparseableOutput(t *testing.T) {
	model := &fakeModel{response: "I cannot help with that request."}

	plan := newTestPlanner(model).CreatePlan(context.Background(), "rename the module", "")

	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "rename the module", plan.Steps[0].Description)
}

func TestCreatePlan_ProseWithInlineList(t *testing.T) {
	model := &fakeModel{response: "Sure! Here's the plan: 1. Read the file 2. Update it"}

	plan := newTestPlanner(model).CreatePlan(context.Background(), "update the file", "")

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "Read the file", plan.Steps[0].Description)
	assert.Equal(t, "Update it", plan.Steps[1].Description)
}

func TestReplan(t *testing.T) {
	failed := types.NewPlan("migrate the dataset")
	failed.Version = 2
	failed.ReplanCount = 1
	failed.Steps = []*types.PlanStep{
		{ID: 1, Description: "export rows", Status: types.StepStatusDone},
		{ID: 2, Description: "import rows", Status: types.StepStatusFailed, Error: "schema mismatch"},
	}

	model := &fakeModel{response: `{"steps": [{"description": "fix the schema"}, {"description": "import rows again"}]}`}

	plan := newTestPlanner(model).Replan(context.Background(), "migrate the dataset", failed, failed.Steps[1], "schema mismatch")

	assert.Equal(t, 3, plan.Version)
	assert.Equal(t, 2, plan.ReplanCount)
	assert.NotEqual(t, failed.ID, plan.ID, "replanning yields a fresh plan")
	require.Len(t, plan.Steps, 2)

	// The planner prompt must carry the failure context.
	require.Len(t, model.requests, 1)
	content := model.requests[0].Messages[0].Content
	assert.Contains(t, content, "schema mismatch")
	assert.Contains(t, content, "export rows")
}

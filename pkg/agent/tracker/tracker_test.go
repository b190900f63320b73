package tracker

import (
	"testing"

	"github.com/quantpilot/quantpilot/pkg/agent/prompts"
	"github.com/quantpilot/quantpilot/pkg/agent/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(stepDescs ...string) (*Tracker, *types.Plan) {
	plan := types.NewPlan("test task")
	for i, desc := range stepDescs {
		plan.Steps = append(plan.Steps, &types.PlanStep{
			ID:          i + 1,
			Description: desc,
			Status:      types.StepStatusPending,
		})
	}

	tr := New(prompts.NewTemplateProvider())
	tr.SetPlan(plan)
	return tr, plan
}

func calls(names ...string) []types.ToolCall {
	out := make([]types.ToolCall, len(names))
	for i, name := range names {
		out[i] = types.ToolCall{ID: name, Name: name, Arguments: map[string]any{}}
	}
	return out
}

func TestTracker_StepLifecycle(t *testing.T) {
	tr, plan := newTestTracker("first", "second")

	require.NoError(t, tr.StartStep(1))
	assert.Equal(t, types.StepStatusInProgress, plan.Steps[0].Status)
	assert.Equal(t, 1, plan.CurrentStepID)
	assert.NotNil(t, plan.Steps[0].StartedAt)

	result := types.StepResult{
		Success:      true,
		Response:     "rewrote the loader",
		FilesChanged: []string{"loader.py"},
	}
	require.NoError(t, tr.CompleteStep(1, result))
	assert.Equal(t, types.StepStatusDone, plan.Steps[0].Status)
	assert.Equal(t, "rewrote the loader", plan.Steps[0].Result)
	assert.Equal(t, []string{"loader.py"}, plan.Steps[0].FilesChanged)
	assert.NotNil(t, plan.Steps[0].CompletedAt)

	require.NoError(t, tr.StartStep(2))
	require.NoError(t, tr.FailStep(2, "tool exploded"))
	assert.Equal(t, types.StepStatusFailed, plan.Steps[1].Status)
	assert.Equal(t, "tool exploded", plan.Steps[1].Error)
}

func TestTracker_UnknownStep(t *testing.T) {
	tr, _ := newTestTracker("only step")

	err := tr.StartStep(99)
	assert.ErrorIs(t, err, types.ErrStepNotFound)

	bare := New(prompts.NewTemplateProvider())
	err = bare.StartStep(1)
	assert.ErrorIs(t, err, types.ErrNoActivePlan)
}

func TestTracker_SkipStep(t *testing.T) {
	tr, plan := newTestTracker("optional cleanup")

	require.NoError(t, tr.SkipStep(1, "nothing to clean"))
	assert.Equal(t, types.StepStatusSkipped, plan.Steps[0].Status)
	assert.Contains(t, plan.Steps[0].Result, "nothing to clean")
}

func TestDetectAnomaly_SkipAhead(t *testing.T) {
	tests := []struct {
		name     string
		response string
		fires    bool
	}{
		{name: "chinese declared intent", response: "好的，我现在要执行 step 3 的内容", fires: true},
		{name: "english skip to", response: "I'll skip to step 4 now", fires: true},
		{name: "english jumping to", response: "Jumping to step 5 directly", fires: true},
		{name: "mere mention of a step", response: "After this, step 3 will update the config", fires: false},
		{name: "reference to earlier step", response: "跳到 step 1", fires: false},
		{name: "plain progress text", response: "Reading the file now", fires: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, _ := newTestTracker("a", "b", "c", "d", "e")
			require.NoError(t, tr.StartStep(2))

			anomaly := tr.DetectAnomaly(tt.response, nil)
			if tt.fires {
				assert.Contains(t, anomaly, "跳步执行")
				assert.Equal(t, 1, tr.AnomalyCount())
			} else {
				assert.Empty(t, anomaly)
				assert.Zero(t, tr.AnomalyCount())
			}
		})
	}
}

func TestDetectAnomaly_Loop(t *testing.T) {
	tr, _ := newTestTracker("search the codebase")
	require.NoError(t, tr.StartStep(1))

	// Two identical rounds of three calls trip the detector.
	anomaly := tr.DetectAnomaly("", calls("read_file", "grep", "read_file"))
	assert.Empty(t, anomaly)

	anomaly = tr.DetectAnomaly("", calls("read_file", "grep", "read_file"))
	assert.Contains(t, anomaly, "循环调用")
}

func TestDetectAnomaly_LoopNeedsExactRepeat(t *testing.T) {
	tr, _ := newTestTracker("search the codebase")
	require.NoError(t, tr.StartStep(1))

	tr.DetectAnomaly("", calls("read_file", "grep", "read_file"))
	anomaly := tr.DetectAnomaly("", calls("read_file", "grep", "write_file"))
	assert.Empty(t, anomaly)
}

func TestDetectAnomaly_ToolScopeViolation(t *testing.T) {
	tr, plan := newTestTracker("inspect the data")
	plan.Steps[0].ToolsNeeded = []string{"read_file"}
	require.NoError(t, tr.StartStep(1))

	anomaly := tr.DetectAnomaly("", calls("shell_exec"))
	assert.Contains(t, anomaly, "工具越权")

	// Declared high-risk tools pass.
	tr2, plan2 := newTestTracker("run the backtest")
	plan2.Steps[0].ToolsNeeded = []string{"shell_exec"}
	require.NoError(t, tr2.StartStep(1))
	assert.Empty(t, tr2.DetectAnomaly("", calls("shell_exec")))

	// Read-only tools never violate scope.
	tr3, _ := newTestTracker("just looking")
	require.NoError(t, tr3.StartStep(1))
	assert.Empty(t, tr3.DetectAnomaly("", calls("read_file", "grep", "list_directory")))
}

func TestDetectAnomaly_FileScopeNeverCounts(t *testing.T) {
	tr, plan := newTestTracker("update config.yaml only")
	plan.Steps[0].ToolsNeeded = []string{"write_file"}
	require.NoError(t, tr.StartStep(1))

	anomaly := tr.DetectAnomaly("", []types.ToolCall{{
		ID:        "1",
		Name:      "write_file",
		Arguments: map[string]any{"path": "unrelated.py", "content": "x"},
	}})

	assert.Empty(t, anomaly)
	assert.Zero(t, tr.AnomalyCount())
}

func TestAnomalyCounter_ResetOnCleanTurn(t *testing.T) {
	tr, _ := newTestTracker("a", "b", "c")
	require.NoError(t, tr.StartStep(1))

	tr.DetectAnomaly("我现在要执行 step 3", nil)
	tr.DetectAnomaly("直接执行 step 3", nil)
	assert.Equal(t, 2, tr.AnomalyCount())

	tr.DetectAnomaly("continuing with the current step", nil)
	assert.Zero(t, tr.AnomalyCount())
}

func TestAnomalyCounter_CleanStepResets(t *testing.T) {
	tr, _ := newTestTracker("a", "b")
	require.NoError(t, tr.StartStep(1))

	tr.DetectAnomaly("我现在要执行 step 2", nil)
	require.Equal(t, 1, tr.AnomalyCount())

	// The anomaly was the last turn of the step, so completing it must not
	// clear the counter.
	require.NoError(t, tr.CompleteStep(1, types.StepResult{Success: true}))
	assert.Equal(t, 1, tr.AnomalyCount())

	// A step with no anomalies at all does clear it.
	require.NoError(t, tr.StartStep(2))
	require.NoError(t, tr.CompleteStep(2, types.StepResult{Success: true}))
	assert.Zero(t, tr.AnomalyCount())
}

func TestShouldReplan(t *testing.T) {
	t.Run("sustained anomalies across steps", func(t *testing.T) {
		tr, _ := newTestTracker("a", "b", "c", "d")

		for stepID := 1; stepID <= 3; stepID++ {
			require.NoError(t, tr.StartStep(stepID))
			tr.DetectAnomaly("skip to step 4", nil)
			require.NoError(t, tr.CompleteStep(stepID, types.StepResult{Success: true}))
		}

		assert.Equal(t, 3, tr.AnomalyCount())
		assert.True(t, tr.ShouldReplan())

		tr.ResetAnomalies()
		assert.False(t, tr.ShouldReplan())
	})

	t.Run("failed current step", func(t *testing.T) {
		tr, _ := newTestTracker("a")
		require.NoError(t, tr.StartStep(1))
		require.NoError(t, tr.FailStep(1, "boom"))
		assert.True(t, tr.ShouldReplan())
	})

	t.Run("clean run", func(t *testing.T) {
		tr, _ := newTestTracker("a")
		require.NoError(t, tr.StartStep(1))
		assert.False(t, tr.ShouldReplan())
	})

	t.Run("custom threshold", func(t *testing.T) {
		tr, _ := newTestTracker("a", "b", "c")
		tr.SetMaxAnomalies(1)
		require.NoError(t, tr.StartStep(1))
		tr.DetectAnomaly("jump to step 3", nil)
		assert.True(t, tr.ShouldReplan())
	})
}

func TestCorrectionPrompt(t *testing.T) {
	tr, plan := newTestTracker("rewrite the loader")
	plan.Steps[0].ExpectedOutcome = "loader passes tests"
	require.NoError(t, tr.StartStep(1))

	prompt := tr.CorrectionPrompt("跳步执行: declared intent to jump to step 3")

	assert.Contains(t, prompt, "跳步执行")
	assert.Contains(t, prompt, "rewrite the loader")
	assert.Contains(t, prompt, "loader passes tests")
}

func TestSetPlan_ResetsState(t *testing.T) {
	tr, _ := newTestTracker("a", "b", "c")
	require.NoError(t, tr.StartStep(1))
	tr.DetectAnomaly("skip to step 3", calls("read_file", "grep", "read_file"))
	require.NotZero(t, tr.AnomalyCount())

	fresh := types.NewPlan("another task")
	fresh.Steps = []*types.PlanStep{{ID: 1, Description: "x", Status: types.StepStatusPending}}
	tr.SetPlan(fresh)

	assert.Zero(t, tr.AnomalyCount())
	summary := tr.GetProgressSummary()
	assert.Equal(t, fresh.ID, summary.PlanID)
	assert.Zero(t, summary.HistoryLength)
}

func TestGetProgressSummary(t *testing.T) {
	tr, _ := newTestTracker("first", "second")
	require.NoError(t, tr.StartStep(1))
	require.NoError(t, tr.CompleteStep(1, types.StepResult{Success: true, Response: "ok"}))
	require.NoError(t, tr.StartStep(2))

	summary := tr.GetProgressSummary()
	assert.Equal(t, 1, summary.Progress.Done)
	assert.Equal(t, "second", summary.CurrentStep)
	assert.Equal(t, 1, summary.HistoryLength)
}

// Package planner turns a natural-language task into an executable plan by
// asking the language model for a step breakdown and defensively parsing
// whatever comes back.
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/quantpilot/quantpilot/pkg/agent/prompts"
	"github.com/quantpilot/quantpilot/pkg/agent/provider"
	"github.com/quantpilot/quantpilot/pkg/agent/types"
	"github.com/rs/zerolog/log"
)

// Planner produces plans from tasks. CreatePlan is a total function: any
// internal failure degrades to a single-step plan wrapping the raw task, so
// the orchestrator always receives something executable.
type Planner struct {
	model   provider.LanguageModel
	prompts prompts.Provider
}

// New creates a planner bound to a model and a prompt provider.
func New(model provider.LanguageModel, promptProvider prompts.Provider) *Planner {
	return &Planner{
		model:   model,
		prompts: promptProvider,
	}
}

// CreatePlan asks the model for a step breakdown of the task. The returned
// plan starts in awaiting_approval and always has at least one step.
func (p *Planner) CreatePlan(ctx context.Context, task, projectContext string) *types.Plan {
	plan := types.NewPlan(task)
	plan.Status = types.PlanStatusAwaitingApproval

	specs := p.requestSteps(ctx, task, projectContext)
	if len(specs) == 0 {
		log.Warn().Str("plan_id", plan.ID).Msg("Planner produced no usable steps, falling back to single-step plan")
		specs = []StepSpec{{Description: task}}
	}

	plan.Steps = buildSteps(specs)

	log.Info().Str("plan_id", plan.ID).Int("steps", len(plan.Steps)).Msg("Plan created")

	return plan
}

// Replan builds a fresh plan for a task whose previous plan failed. The
// failed plan is read, never mutated; the new plan carries incremented
// version and replan counters.
func (p *Planner) Replan(ctx context.Context, originalTask string, failed *types.Plan, failedStep *types.PlanStep, errMsg string) *types.Plan {
	data := prompts.ReplanData{
		Task:  originalTask,
		Error: errMsg,
	}

	if failedStep != nil {
		data.FailedStepID = failedStep.ID
		data.FailedStep = failedStep.Description
	}

	for _, step := range failed.Steps {
		if step.Status == types.StepStatusDone {
			data.CompletedSteps = append(data.CompletedSteps, fmt.Sprintf("step %d: %s", step.ID, step.Description))
		}
	}

	plan := p.CreatePlan(ctx, originalTask, p.prompts.ReplanContext(data))
	plan.Version = failed.Version + 1
	plan.ReplanCount = failed.ReplanCount + 1

	return plan
}

// requestSteps performs the model call and parse chain. Never returns an
// error; a failed call or unparseable output yields nil.
func (p *Planner) requestSteps(ctx context.Context, task, projectContext string) []StepSpec {
	req := provider.GenerateRequest{
		System: p.prompts.PlannerSystem(),
		Messages: []types.Message{{
			Role:      types.RoleUser,
			Content:   p.prompts.PlannerTask(task, projectContext),
			Timestamp: time.Now(),
		}},
	}

	resp, err := p.model.Generate(ctx, req)
	if err != nil {
		log.Warn().Err(err).Msg("Planner model call failed")
		return nil
	}

	specs, ok := ParsePlanText(resp.Content)
	if !ok {
		log.Warn().Int("response_len", len(resp.Content)).Msg("Planner output did not contain a parseable plan")
		return nil
	}

	return specs
}

// buildSteps assigns sequential 1-based ids in array order, regardless of
// any ids the model may have echoed.
func buildSteps(specs []StepSpec) []*types.PlanStep {
	steps := make([]*types.PlanStep, len(specs))
	for i, spec := range specs {
		steps[i] = &types.PlanStep{
			ID:              i + 1,
			Description:     spec.Description,
			Status:          types.StepStatusPending,
			ExpectedOutcome: spec.ExpectedOutcome,
			ToolsNeeded:     spec.Tools,
		}
	}
	return steps
}

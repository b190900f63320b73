// Package agent is the plan-execute orchestration core: it turns a task
// into a plan, walks the plan step by step through a bounded tool-call loop
// against the language model, watches for drift, and persists every
// status-affecting mutation so an interrupted run can be resumed.
//
// One Agent instance is scoped to one (user, project) pair. Callers must
// serialize Run/ApprovePlan/CancelExecution on a given instance; the
// control loop itself is single-threaded and cooperative.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quantpilot/quantpilot/pkg/agent/planner"
	"github.com/quantpilot/quantpilot/pkg/agent/prompts"
	"github.com/quantpilot/quantpilot/pkg/agent/provider"
	"github.com/quantpilot/quantpilot/pkg/agent/storage"
	"github.com/quantpilot/quantpilot/pkg/agent/tool"
	"github.com/quantpilot/quantpilot/pkg/agent/tracker"
	"github.com/quantpilot/quantpilot/pkg/agent/types"
	"github.com/rs/zerolog/log"
)

// Agent orchestrates planning and execution for one workspace session.
type Agent struct {
	Model             provider.LanguageModel
	Tools             *tool.Registry
	Prompts           prompts.Provider
	Storage           *storage.Store
	Tracker           *tracker.Tracker
	Planner           *planner.Planner
	WorkspaceDir      string
	MaxToolIterations int
	anomalyThreshold  int

	// ContextBuilder produces the project context summary handed to the
	// planner. Injected so tests can run without a real workspace.
	ContextBuilder func(dir string) string

	currentPlan *types.Plan
	codeContext map[string]string
	cancel      *CancelToken

	err error
}

// RunStream is the event stream of one orchestration invocation. The
// stream always terminates; consumers range over EventChan until closed.
type RunStream struct {
	EventChan <-chan types.Event
	done      <-chan struct{}

	errFn func() error
}

// Err returns the first unexpected error of the invocation, if any.
func (s RunStream) Err() error {
	if s.errFn == nil {
		return nil
	}
	return s.errFn()
}

// Wait blocks until the invocation finishes and returns Err. The caller
// must still drain EventChan (or use a buffered consumer) for the
// invocation to make progress.
func (s RunStream) Wait() error {
	<-s.done
	return s.Err()
}

type emitter struct {
	ctx    context.Context
	events chan<- types.Event
}

func (e *emitter) emit(event types.Event) {
	select {
	case e.events <- event:
	case <-e.ctx.Done():
	}
}

// Run plans and, when autoApprove is set, executes a task. Without
// auto-approval the stream ends after awaiting_approval and execution is
// deferred to a later ApprovePlan call (a deliberate suspend point, not a
// blocking wait).
func (a *Agent) Run(ctx context.Context, task string, autoApprove bool) (RunStream, error) {
	if a.Model == nil {
		return RunStream{}, types.ErrModelNotSet
	}

	// A cancellation requested during a previous run is consumed here.
	a.cancel.Reset()
	a.err = nil

	return a.stream(ctx, func(ctx context.Context, em *emitter) {
		a.runTask(ctx, task, autoApprove, em)
	}), nil
}

// ApprovePlan moves the current plan out of awaiting_approval and executes
// it. A non-empty modified document substitutes a user-edited plan, which
// is re-validated before use.
func (a *Agent) ApprovePlan(ctx context.Context, modified []byte) (RunStream, error) {
	plan := a.currentPlan
	if plan == nil || plan.Status != types.PlanStatusAwaitingApproval {
		return RunStream{}, types.ErrNotAwaitingApproval
	}

	if len(modified) > 0 {
		edited, err := types.ParsePlan(modified)
		if err != nil {
			return RunStream{}, fmt.Errorf("invalid modified plan: %w", err)
		}
		if len(edited.Steps) == 0 {
			return RunStream{}, fmt.Errorf("modified plan has no steps")
		}

		// Edits replace the plan's content, not its identity. Keeping the
		// original id means the stored <id>.json is overwritten in place
		// instead of leaving the superseded document behind.
		edited.ID = plan.ID
		edited.Status = types.PlanStatusAwaitingApproval
		plan = edited
		a.currentPlan = plan
		a.Tracker.SetPlan(plan)

		log.Info().Str("plan_id", plan.ID).Msg("Approved plan replaced with user-edited version")
	}

	a.cancel.Reset()
	a.err = nil

	return a.stream(ctx, func(ctx context.Context, em *emitter) {
		a.executePlan(ctx, plan, em)
	}), nil
}

// RejectPlan cancels a plan awaiting approval and discards it.
func (a *Agent) RejectPlan(reason string) error {
	plan := a.currentPlan
	if plan == nil || plan.Status != types.PlanStatusAwaitingApproval {
		return types.ErrNotAwaitingApproval
	}

	plan.Status = types.PlanStatusCancelled
	a.Storage.SavePlan(plan)
	a.Storage.ArchivePlan(plan)
	a.currentPlan = nil

	log.Info().Str("plan_id", plan.ID).Str("reason", reason).Msg("Plan rejected")

	return nil
}

// Resume picks up the unfinished plan left by a previous process. Steps
// already done or skipped are not re-executed.
func (a *Agent) Resume(ctx context.Context) (RunStream, error) {
	if !a.Storage.HasUnfinishedPlan() {
		return RunStream{}, fmt.Errorf("no unfinished plan to resume")
	}

	plan := a.Storage.LoadCurrentPlan()
	if plan == nil {
		return RunStream{}, fmt.Errorf("unfinished plan could not be loaded")
	}

	a.currentPlan = plan
	a.Tracker.SetPlan(plan)
	a.cancel.Reset()
	a.err = nil

	log.Info().Str("plan_id", plan.ID).Str("status", string(plan.Status)).Msg("Resuming plan")

	return a.stream(ctx, func(ctx context.Context, em *emitter) {
		if plan.Status == types.PlanStatusAwaitingApproval {
			em.emit(types.NewAwaitingApprovalEvent(*plan))
			return
		}
		a.executePlan(ctx, plan, em)
	}), nil
}

// CancelExecution requests cooperative cancellation. Execution halts before
// the next unit of work; an in-flight model call is not interrupted.
func (a *Agent) CancelExecution() {
	a.cancel.Cancel()
	log.Info().Msg("Cancellation requested")
}

// CurrentPlan returns the plan the agent is holding, or nil.
func (a *Agent) CurrentPlan() *types.Plan {
	return a.currentPlan
}

// stream starts fn on its own goroutine behind a fresh event channel pair.
func (a *Agent) stream(ctx context.Context, fn func(ctx context.Context, em *emitter)) RunStream {
	events := make(chan types.Event)
	done := make(chan struct{})
	em := &emitter{ctx: ctx, events: events}

	go func() {
		defer close(done)
		defer close(events)
		defer func() {
			// Top-level boundary: a truly unexpected failure becomes an
			// error event instead of crossing the API.
			if r := recover(); r != nil {
				err := fmt.Errorf("unexpected failure: %v", r)
				a.err = err
				log.Error().Err(err).Msg("Orchestration aborted")
				em.emit(types.NewErrorEvent(err.Error()))
			}
		}()

		fn(ctx, em)
	}()

	return RunStream{
		EventChan: events,
		done:      done,
		errFn:     func() error { return a.err },
	}
}

func (a *Agent) runTask(ctx context.Context, task string, autoApprove bool, em *emitter) {
	em.emit(types.NewStatusEvent("planning"))

	projectContext := a.ContextBuilder(a.WorkspaceDir)

	plan := a.Planner.CreatePlan(ctx, task, projectContext)
	a.currentPlan = plan
	a.Tracker.SetPlan(plan)
	a.Storage.SavePlan(plan)

	em.emit(types.NewPlanCreatedEvent(*plan))

	if !autoApprove {
		em.emit(types.NewAwaitingApprovalEvent(*plan))
		return
	}

	a.executePlan(ctx, plan, em)
}

// executePlan walks the steps in order. Exactly one terminal event is
// emitted per invocation: completed, failed or cancelled.
func (a *Agent) executePlan(ctx context.Context, plan *types.Plan, em *emitter) {
	plan.Status = types.PlanStatusExecuting
	a.Storage.SavePlan(plan)
	em.emit(types.NewExecutionStartedEvent(plan.ID, len(plan.Steps)))

	planAllow := planToolAllowlist(plan)

	for _, step := range plan.Steps {
		// Supports resuming a partially completed plan.
		if step.Status == types.StepStatusDone || step.Status == types.StepStatusSkipped {
			continue
		}

		if a.interrupted(ctx) {
			a.cancelPlan(plan, em)
			return
		}

		if err := a.Tracker.StartStep(step.ID); err != nil {
			log.Warn().Err(err).Int("step_id", step.ID).Msg("Cannot start step")
			continue
		}
		a.Storage.SavePlan(plan)
		em.emit(types.NewStepStartedEvent(plan.ID, *step))

		if a.executeStep(ctx, plan, step, stepToolAllowlist(step, planAllow), em) {
			a.cancelPlan(plan, em)
			return
		}

		if step.Status == types.StepStatusFailed {
			plan.Status = types.PlanStatusFailed
			a.Storage.SavePlan(plan)
			em.emit(types.NewExecutionFailedEvent(*plan, step.ID, step.Error))
			return
		}

		// Sustained anomalies surface a warning and reset; drift alone never
		// aborts the run.
		if a.Tracker.ShouldReplan() {
			em.emit(types.NewReplanWarningEvent(plan.ID, a.Tracker.AnomalyCount()))
			log.Warn().Str("plan_id", plan.ID).Int("anomaly_count", a.Tracker.AnomalyCount()).Msg("Replan threshold reached, continuing with warning")
			a.Tracker.ResetAnomalies()
		}
	}

	// Cancellation may land after the last step finished its loop; a
	// cancelled run must never end as completed.
	if a.interrupted(ctx) {
		a.cancelPlan(plan, em)
		return
	}

	if plan.HasFailed() {
		failedID := 0
		failedErr := ""
		for _, step := range plan.Steps {
			if step.Status == types.StepStatusFailed {
				failedID = step.ID
				failedErr = step.Error
				break
			}
		}
		plan.Status = types.PlanStatusFailed
		a.Storage.SavePlan(plan)
		em.emit(types.NewExecutionFailedEvent(*plan, failedID, failedErr))
		return
	}

	// A step that never started (unknown id) leaves the plan unfinished;
	// that is a failure, not a completion.
	if !plan.IsComplete() {
		unfinishedID := 0
		for _, step := range plan.Steps {
			if step.Status != types.StepStatusDone && step.Status != types.StepStatusSkipped {
				unfinishedID = step.ID
				break
			}
		}
		plan.Status = types.PlanStatusFailed
		a.Storage.SavePlan(plan)
		em.emit(types.NewExecutionFailedEvent(*plan, unfinishedID, "plan ended with unexecuted steps"))
		return
	}

	plan.Status = types.PlanStatusCompleted
	a.Storage.SavePlan(plan)
	a.Storage.ArchivePlan(plan)
	em.emit(types.NewExecutionCompletedEvent(*plan, plan.GetProgress()))
}

// executeStep runs the bounded tool-call loop for one step. All failure
// modes are contained here: the step ends done or failed, and nothing
// propagates past this boundary. Returns true when execution was
// interrupted by cancellation; the step is then left in_progress and must
// not be treated as finished.
func (a *Agent) executeStep(ctx context.Context, plan *types.Plan, step *types.PlanStep, allow map[string]bool, em *emitter) (interrupted bool) {
	defer func() {
		if r := recover(); r != nil {
			a.failStep(plan, step, fmt.Sprintf("step aborted: %v", r), em)
		}
	}()

	toolDefs := filterDefinitions(a.Tools.Definitions(), allow)
	messages := []types.Message{{
		Role:      types.RoleUser,
		Content:   a.Prompts.StepTask(a.stepPromptData(plan, step)),
		Timestamp: time.Now(),
	}}

	var responseParts []string
	var callLog []types.ToolCall
	seenFiles := make(map[string]bool)
	var filesChanged []string

	for iteration := 0; iteration < a.MaxToolIterations; iteration++ {
		// An interrupted step stays in_progress; completing it here would
		// let a cancelled run look finished.
		if a.interrupted(ctx) {
			return true
		}

		resp, err := a.Model.Generate(ctx, provider.GenerateRequest{
			System:   a.Prompts.StepSystem(),
			Messages: messages,
			Tools:    toolDefs,
		})
		if err != nil {
			a.failStep(plan, step, fmt.Sprintf("model call failed: %v", err), em)
			return false
		}

		if resp.Content != "" {
			responseParts = append(responseParts, resp.Content)
		}

		toolCalls := normalizeToolCalls(resp.ToolCalls)
		if len(toolCalls) == 0 {
			// A final text answer means the step is done.
			break
		}

		callLog = append(callLog, toolCalls...)
		em.emit(types.NewToolCallsEvent(step.ID, toolCalls))

		toolResults := make([]types.ToolResult, 0, len(toolCalls))
		for _, call := range toolCalls {
			execution := a.Tools.Execute(ctx, call.Name, call.Arguments)

			result := types.ToolResult{
				ToolCallID: call.ID,
				Content:    execution.Content(),
				IsError:    !execution.Success,
			}
			toolResults = append(toolResults, result)

			for _, changed := range execution.FilesChanged {
				if !seenFiles[changed] {
					seenFiles[changed] = true
					filesChanged = append(filesChanged, changed)
				}
			}

			a.updateCodeContext(call, execution)
			em.emit(types.NewToolResultEvent(step.ID, call, result))
		}

		messages = append(messages, types.Message{
			Role:      types.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: toolCalls,
			Timestamp: time.Now(),
		})
		messages = append(messages, types.Message{
			Role:        types.RoleTool,
			ToolResults: toolResults,
			Timestamp:   time.Now(),
		})

		if anomaly := a.Tracker.DetectAnomaly(resp.Content, toolCalls); anomaly != "" {
			em.emit(types.NewAnomalyDetectedEvent(step.ID, anomaly))
			messages = append(messages, types.Message{
				Role:      types.RoleUser,
				Content:   a.Tracker.CorrectionPrompt(anomaly),
				Timestamp: time.Now(),
			})
		}
	}

	// Hitting the iteration cap is not a failure by itself; the step ends
	// with whatever partial progress occurred.
	result := types.StepResult{
		Success:      true,
		Response:     strings.Join(responseParts, "\n"),
		FilesChanged: filesChanged,
		ToolCalls:    callLog,
	}

	if err := a.Tracker.CompleteStep(step.ID, result); err != nil {
		a.failStep(plan, step, err.Error(), em)
		return false
	}

	a.Storage.UpdateStepStatus(plan.ID, step.ID, types.StepStatusDone, &result)
	em.emit(types.NewStepCompletedEvent(plan.ID, *step, plan.GetProgress()))
	return false
}

func (a *Agent) failStep(plan *types.Plan, step *types.PlanStep, errMsg string, em *emitter) {
	if err := a.Tracker.FailStep(step.ID, errMsg); err != nil {
		log.Warn().Err(err).Int("step_id", step.ID).Msg("Failed to record step failure")
	}

	result := types.StepResult{Error: errMsg}
	a.Storage.UpdateStepStatus(plan.ID, step.ID, types.StepStatusFailed, &result)
	em.emit(types.NewStatusEvent(fmt.Sprintf("step %d failed: %s", step.ID, errMsg)))
}

func (a *Agent) cancelPlan(plan *types.Plan, em *emitter) {
	plan.Status = types.PlanStatusCancelled
	a.Storage.SavePlan(plan)
	a.Storage.ArchivePlan(plan)
	em.emit(types.NewExecutionCancelledEvent(*plan))

	log.Info().Str("plan_id", plan.ID).Msg("Execution cancelled")
}

func (a *Agent) interrupted(ctx context.Context) bool {
	return a.cancel.Cancelled() || ctx.Err() != nil
}

func (a *Agent) stepPromptData(plan *types.Plan, step *types.PlanStep) prompts.StepPromptData {
	data := prompts.StepPromptData{
		Task:            plan.Task,
		StepID:          step.ID,
		StepCount:       len(plan.Steps),
		Description:     step.Description,
		ExpectedOutcome: step.ExpectedOutcome,
		ActiveFiles:     a.codeContext,
	}

	for _, done := range plan.Steps {
		if done.Status == types.StepStatusDone && done.Result != "" {
			data.PriorResults = append(data.PriorResults, fmt.Sprintf("step %d: %s", done.ID, done.Result))
		}
	}

	return data
}

// updateCodeContext caches fresh file content produced by a tool call so
// later iterations see it without re-reading.
func (a *Agent) updateCodeContext(call types.ToolCall, execution tool.Execution) {
	if !execution.Success {
		return
	}

	path := ""
	for _, key := range []string{"path", "file_path", "filename"} {
		if v, ok := call.Arguments[key].(string); ok && v != "" {
			path = v
			break
		}
	}
	if path == "" {
		return
	}

	if content, ok := execution.Data["content"].(string); ok {
		a.codeContext[path] = content
	}
}

// normalizeToolCalls guarantees every call has an id so tool results can be
// correlated in the transcript.
func normalizeToolCalls(calls []types.ToolCall) []types.ToolCall {
	normalized := make([]types.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = uuid.New().String()
		}
		if call.Arguments == nil {
			call.Arguments = make(map[string]any)
		}
		normalized[i] = call
	}
	return normalized
}

// Package tracker keeps LLM-driven execution aligned with the declared
// plan. Models drift: they skip ahead, loop on the same tool calls, or reach
// for tools a step never declared. The tracker detects and flags; deciding
// what to do about it stays with the orchestrator.
package tracker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/quantpilot/quantpilot/pkg/agent/prompts"
	"github.com/quantpilot/quantpilot/pkg/agent/types"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultMaxAnomalies is the consecutive-anomaly threshold for the
	// replan signal.
	DefaultMaxAnomalies = 3

	// loopWindowSize bounds the sliding window of recent tool-call names.
	loopWindowSize = 6

	// loopPatternSize is the repeated-pattern length checked for loops.
	loopPatternSize = 3
)

// readOnlyTools are universally allowed regardless of what a step declared.
var readOnlyTools = map[string]bool{
	"read_file":        true,
	"list_directory":   true,
	"grep":             true,
	"semantic_search":  true,
	"get_file_outline": true,
}

// highRiskTools are the only tools checked for scope violations.
var highRiskTools = map[string]bool{
	"write_file":  true,
	"patch_file":  true,
	"delete_file": true,
	"shell_exec":  true,
}

// writeTools take a file path argument checked by the file-scope detector.
var writeTools = map[string]bool{
	"write_file":  true,
	"patch_file":  true,
	"delete_file": true,
}

var (
	// skipAheadRe only matches explicit self-declared intent phrases. The
	// model merely mentioning a future file or step number must not fire.
	skipAheadRe = regexp.MustCompile(`(?i)(?:我现在要执行\s*step|直接执行\s*step|跳到\s*step|skip(?:ping)?\s+(?:ahead\s+)?to\s+step|jump(?:ing)?\s+to\s+step)\s*(\d+)`)

	// filePatternRe extracts file-path-like tokens from step descriptions.
	filePatternRe = regexp.MustCompile(`[\w\-./]+\.(?:py|json|yaml|yml|txt|md|csv)`)
)

// HistoryEntry records one completed step.
type HistoryEntry struct {
	StepID      int       `json:"step_id"`
	Description string    `json:"description"`
	Result      string    `json:"result,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// ProgressSummary is a read-only snapshot of tracking state.
type ProgressSummary struct {
	PlanID        string         `json:"plan_id"`
	Progress      types.Progress `json:"progress"`
	CurrentStep   string         `json:"current_step,omitempty"`
	AnomalyCount  int            `json:"anomaly_count"`
	HistoryLength int            `json:"history_length"`
}

// Tracker observes one plan at a time. It holds a reference to the plan
// owned by the orchestrator; SetPlan rebinds and clears all session state.
// Not safe for concurrent use, by the same one-agent-per-session contract
// as the orchestrator itself.
type Tracker struct {
	plan             *types.Plan
	executionHistory []HistoryEntry
	anomalyCount     int
	maxAnomalies     int
	recentToolCalls  []string
	stepAnomaly      bool
	prompts          prompts.Provider
}

// New creates a tracker with the default anomaly threshold.
func New(promptProvider prompts.Provider) *Tracker {
	return &Tracker{
		maxAnomalies: DefaultMaxAnomalies,
		prompts:      promptProvider,
	}
}

// SetMaxAnomalies overrides the replan threshold. Values below 1 are ignored.
func (t *Tracker) SetMaxAnomalies(n int) {
	if n >= 1 {
		t.maxAnomalies = n
	}
}

// SetPlan binds a new plan and resets history, anomaly count and the
// loop-detection window. Call exactly once per plan the tracker observes.
func (t *Tracker) SetPlan(plan *types.Plan) {
	t.plan = plan
	t.executionHistory = nil
	t.anomalyCount = 0
	t.recentToolCalls = nil
	t.stepAnomaly = false
}

// Plan returns the currently bound plan.
func (t *Tracker) Plan() *types.Plan {
	return t.plan
}

// AnomalyCount returns the current consecutive-anomaly count.
func (t *Tracker) AnomalyCount() int {
	return t.anomalyCount
}

// ResetAnomalies clears the anomaly counter. The orchestrator calls this
// after surfacing a replan warning, since sustained drift is reported but
// never aborts execution on its own.
func (t *Tracker) ResetAnomalies() {
	t.anomalyCount = 0
}

// StartStep transitions a step to in_progress and moves the plan cursor.
func (t *Tracker) StartStep(stepID int) error {
	step, err := t.step(stepID)
	if err != nil {
		return err
	}

	now := time.Now()
	step.Status = types.StepStatusInProgress
	step.StartedAt = &now
	t.plan.CurrentStepID = stepID
	t.stepAnomaly = false

	log.Debug().Str("plan_id", t.plan.ID).Int("step_id", stepID).Msg("Step started")

	return nil
}

// CompleteStep transitions a step to done, copies the result fields onto
// it, appends to the execution history and resets the anomaly counter.
func (t *Tracker) CompleteStep(stepID int, result types.StepResult) error {
	step, err := t.step(stepID)
	if err != nil {
		return err
	}

	now := time.Now()
	step.Status = types.StepStatusDone
	step.CompletedAt = &now
	step.Result = result.Response
	step.FilesChanged = result.FilesChanged
	step.ToolCalls = result.ToolCalls

	t.executionHistory = append(t.executionHistory, HistoryEntry{
		StepID:      stepID,
		Description: step.Description,
		Result:      result.Response,
		CompletedAt: now,
	})

	// A clean step clears the counter. A step that drifted keeps its count,
	// so sustained per-step anomalies can still accumulate to the replan
	// threshold.
	if !t.stepAnomaly {
		t.anomalyCount = 0
	}

	return nil
}

// FailStep transitions a step to failed with the error recorded. The
// anomaly counter is left alone; the failure itself is reported through
// ShouldReplan.
func (t *Tracker) FailStep(stepID int, errMsg string) error {
	step, err := t.step(stepID)
	if err != nil {
		return err
	}

	now := time.Now()
	step.Status = types.StepStatusFailed
	step.CompletedAt = &now
	step.Error = errMsg

	log.Warn().Str("plan_id", t.plan.ID).Int("step_id", stepID).Str("error", errMsg).Msg("Step failed")

	return nil
}

// SkipStep transitions a step to skipped with a synthetic result.
func (t *Tracker) SkipStep(stepID int, reason string) error {
	step, err := t.step(stepID)
	if err != nil {
		return err
	}

	now := time.Now()
	step.Status = types.StepStatusSkipped
	step.CompletedAt = &now
	step.Result = fmt.Sprintf("skipped: %s", reason)

	return nil
}

// DetectAnomaly runs the independent detectors over one LLM turn and
// returns their concatenated messages, or "" when nothing fired. The
// anomaly counter increments when any detector fired and resets to zero
// otherwise. Detection never fails: malformed input simply yields nothing.
func (t *Tracker) DetectAnomaly(responseText string, toolCalls []types.ToolCall) string {
	if t.plan == nil {
		return ""
	}

	var anomalies []string

	if msg := t.detectSkipAhead(responseText); msg != "" {
		anomalies = append(anomalies, msg)
	}

	t.feedToolCalls(toolCalls)
	if t.detectLoop() {
		anomalies = append(anomalies, fmt.Sprintf("循环调用: the last %d tool calls repeat the %d before them", loopPatternSize, loopPatternSize))
	}

	if msg := t.detectToolScopeViolation(toolCalls); msg != "" {
		anomalies = append(anomalies, msg)
	}

	// File-scope findings are logged only; they never contribute to the
	// anomaly count.
	t.checkFileScope(toolCalls)

	if len(anomalies) == 0 {
		t.anomalyCount = 0
		return ""
	}

	t.anomalyCount++
	t.stepAnomaly = true

	joined := strings.Join(anomalies, "; ")
	log.Warn().Str("plan_id", t.plan.ID).Int("anomaly_count", t.anomalyCount).Str("anomaly", joined).Msg("Anomaly detected")

	return joined
}

// ShouldReplan reports sustained drift or a failed current step.
func (t *Tracker) ShouldReplan() bool {
	if t.anomalyCount >= t.maxAnomalies {
		return true
	}

	if t.plan != nil {
		if current := t.plan.GetCurrentStep(); current != nil && current.Status == types.StepStatusFailed {
			return true
		}
	}

	return false
}

// CorrectionPrompt renders a corrective user-turn message for an anomaly.
func (t *Tracker) CorrectionPrompt(anomaly string) string {
	data := prompts.CorrectionData{Anomaly: anomaly}

	if t.plan != nil {
		if current := t.plan.GetCurrentStep(); current != nil {
			data.StepID = current.ID
			data.Description = current.Description
			data.ExpectedOutcome = current.ExpectedOutcome
		}
	}

	return t.prompts.Correction(data)
}

// GetProgressSummary returns a read-only snapshot of plan progress and
// tracking state.
func (t *Tracker) GetProgressSummary() ProgressSummary {
	summary := ProgressSummary{
		AnomalyCount:  t.anomalyCount,
		HistoryLength: len(t.executionHistory),
	}

	if t.plan != nil {
		summary.PlanID = t.plan.ID
		summary.Progress = t.plan.GetProgress()
		if current := t.plan.GetCurrentStep(); current != nil {
			summary.CurrentStep = current.Description
		}
	}

	return summary
}

func (t *Tracker) step(stepID int) (*types.PlanStep, error) {
	if t.plan == nil {
		return nil, types.ErrNoActivePlan
	}

	step := t.plan.GetStepByID(stepID)
	if step == nil {
		return nil, fmt.Errorf("%w: %d", types.ErrStepNotFound, stepID)
	}

	return step, nil
}

// detectSkipAhead fires only on explicit self-declared intent to jump to a
// step strictly beyond the current one.
func (t *Tracker) detectSkipAhead(responseText string) string {
	matches := skipAheadRe.FindAllStringSubmatch(responseText, -1)
	if len(matches) == 0 {
		return ""
	}

	current := t.plan.CurrentStepID

	for _, match := range matches {
		target, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if target > current {
			return fmt.Sprintf("跳步执行: declared intent to jump to step %d while step %d is current", target, current)
		}
	}

	return ""
}

// feedToolCalls appends this turn's tool-call names to the sliding window.
func (t *Tracker) feedToolCalls(toolCalls []types.ToolCall) {
	for _, tc := range toolCalls {
		t.recentToolCalls = append(t.recentToolCalls, tc.Name)
	}

	if len(t.recentToolCalls) > loopWindowSize {
		t.recentToolCalls = t.recentToolCalls[len(t.recentToolCalls)-loopWindowSize:]
	}
}

// detectLoop fires when the most recent pattern of calls exactly repeats
// the pattern immediately before it.
func (t *Tracker) detectLoop() bool {
	if len(t.recentToolCalls) < 2*loopPatternSize {
		return false
	}

	window := t.recentToolCalls[len(t.recentToolCalls)-2*loopPatternSize:]
	for i := 0; i < loopPatternSize; i++ {
		if window[i] != window[i+loopPatternSize] {
			return false
		}
	}

	return true
}

// detectToolScopeViolation checks high-risk tools against the current
// step's declared set and the universal read-only allowlist.
func (t *Tracker) detectToolScopeViolation(toolCalls []types.ToolCall) string {
	current := t.plan.GetCurrentStep()
	if current == nil {
		return ""
	}

	declared := make(map[string]bool, len(current.ToolsNeeded))
	for _, name := range current.ToolsNeeded {
		declared[name] = true
	}

	for _, tc := range toolCalls {
		if !highRiskTools[tc.Name] {
			continue
		}
		if declared[tc.Name] || readOnlyTools[tc.Name] {
			continue
		}
		return fmt.Sprintf("工具越权: step %d did not declare high-risk tool %q (declared: %s)",
			current.ID, tc.Name, strings.Join(current.ToolsNeeded, ", "))
	}

	return ""
}

// checkFileScope compares write-tool target paths against file patterns
// extracted from the step description. Findings are informational only.
func (t *Tracker) checkFileScope(toolCalls []types.ToolCall) {
	current := t.plan.GetCurrentStep()
	if current == nil {
		return
	}

	patterns := filePatternRe.FindAllString(current.Description, -1)
	if len(patterns) == 0 {
		// Permissive default: a description naming no files accepts any path.
		return
	}

	for _, tc := range toolCalls {
		if !writeTools[tc.Name] {
			continue
		}

		target := pathArgument(tc.Arguments)
		if target == "" {
			continue
		}

		if !matchesAnyPattern(target, patterns) {
			log.Debug().
				Str("plan_id", t.plan.ID).
				Int("step_id", current.ID).
				Str("tool", tc.Name).
				Str("path", target).
				Strs("declared_patterns", patterns).
				Msg("Write target outside files named by step description")
		}
	}
}

func pathArgument(args map[string]any) string {
	for _, key := range []string{"path", "file_path", "filename"} {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func matchesAnyPattern(target string, patterns []string) bool {
	for _, pattern := range patterns {
		if strings.Contains(target, pattern) || strings.Contains(pattern, target) ||
			strings.HasSuffix(target, "/"+pattern) || strings.HasSuffix(pattern, "/"+target) {
			return true
		}
	}
	return false
}

package types

import (
	"encoding/json"
	"time"

	"github.com/rs/xid"
)

// PlanStatus represents the current state of a plan
type PlanStatus string

const (
	PlanStatusPlanning         PlanStatus = "planning"
	PlanStatusAwaitingApproval PlanStatus = "awaiting_approval"
	PlanStatusExecuting        PlanStatus = "executing"
	PlanStatusCompleted        PlanStatus = "completed"
	PlanStatusFailed           PlanStatus = "failed"
	PlanStatusCancelled        PlanStatus = "cancelled"
)

// IsTerminal returns true if the plan is in a final state.
func (s PlanStatus) IsTerminal() bool {
	switch s {
	case PlanStatusCompleted, PlanStatusFailed, PlanStatusCancelled:
		return true
	}
	return false
}

// StepStatus represents the current state of a plan step
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusDone       StepStatus = "done"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

// IsTerminal returns true if the step is in a final state.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusDone, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}

// PlanStep is a single unit of work in a plan. Step ids are 1-based
// sequence numbers, unique within their plan.
type PlanStep struct {
	ID              int        `json:"id"`
	Description     string     `json:"description"`
	Status          StepStatus `json:"status"`
	ExpectedOutcome string     `json:"expected_outcome,omitempty"`
	ToolsNeeded     []string   `json:"tools_needed,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Result          string     `json:"result,omitempty"`
	Error           string     `json:"error,omitempty"`
	FilesChanged    []string   `json:"files_changed,omitempty"`
	ToolCalls       []ToolCall `json:"tool_calls,omitempty"`
}

// Plan is an ordered sequence of steps toward a task. Insertion order is
// execution order.
type Plan struct {
	ID            string      `json:"id"`
	Task          string      `json:"task"`
	Steps         []*PlanStep `json:"steps"`
	CurrentStepID int         `json:"current_step_id"`
	Status        PlanStatus  `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	Version       int         `json:"version"`
	ReplanCount   int         `json:"replan_count"`
}

// NewPlan creates an empty plan for a task with a fresh short id.
func NewPlan(task string) *Plan {
	return &Plan{
		ID:        xid.New().String(),
		Task:      task,
		Status:    PlanStatusPlanning,
		CreatedAt: time.Now(),
		Version:   1,
	}
}

// GetCurrentStep returns the step referenced by CurrentStepID, or nil.
func (p *Plan) GetCurrentStep() *PlanStep {
	return p.GetStepByID(p.CurrentStepID)
}

// GetStepByID finds a step by its id, or nil if absent.
func (p *Plan) GetStepByID(id int) *PlanStep {
	for _, step := range p.Steps {
		if step.ID == id {
			return step
		}
	}
	return nil
}

// GetNextPendingStep returns the first step in order with status pending,
// or nil if none remain.
func (p *Plan) GetNextPendingStep() *PlanStep {
	for _, step := range p.Steps {
		if step.Status == StepStatusPending {
			return step
		}
	}
	return nil
}

// AdvanceToNextStep moves the cursor to the next pending step. Returns
// false if no pending step exists.
func (p *Plan) AdvanceToNextStep() bool {
	next := p.GetNextPendingStep()
	if next == nil {
		return false
	}
	p.CurrentStepID = next.ID
	return true
}

// IsComplete returns true if every step finished as done or skipped.
func (p *Plan) IsComplete() bool {
	if len(p.Steps) == 0 {
		return false
	}
	for _, step := range p.Steps {
		if step.Status != StepStatusDone && step.Status != StepStatusSkipped {
			return false
		}
	}
	return true
}

// HasFailed returns true if any step failed.
func (p *Plan) HasFailed() bool {
	for _, step := range p.Steps {
		if step.Status == StepStatusFailed {
			return true
		}
	}
	return false
}

// Progress is a point-in-time summary of plan completion.
type Progress struct {
	Total           int    `json:"total"`
	Done            int    `json:"done"`
	Failed          int    `json:"failed"`
	Pending         int    `json:"pending"`
	ProgressPercent int    `json:"progress_percent"`
	CurrentStep     string `json:"current_step,omitempty"`
}

// GetProgress computes step counts and a floor percentage. An empty plan
// reports 0% rather than dividing by zero.
func (p *Plan) GetProgress() Progress {
	progress := Progress{Total: len(p.Steps)}

	for _, step := range p.Steps {
		switch step.Status {
		case StepStatusDone, StepStatusSkipped:
			progress.Done++
		case StepStatusFailed:
			progress.Failed++
		case StepStatusPending:
			progress.Pending++
		}
	}

	if progress.Total > 0 {
		progress.ProgressPercent = progress.Done * 100 / progress.Total
	}

	if current := p.GetCurrentStep(); current != nil {
		progress.CurrentStep = current.Description
	}

	return progress
}

// MarshalPlan serializes a plan to indented JSON.
func MarshalPlan(p *Plan) ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// ParsePlan reconstructs a plan from its JSON form. An existing id in the
// input is preserved so externally edited or approved plans keep their
// identity; a missing id gets a fresh one.
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, err
	}

	if plan.ID == "" {
		plan.ID = xid.New().String()
	}
	if plan.Status == "" {
		plan.Status = PlanStatusPlanning
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now()
	}
	if plan.Version == 0 {
		plan.Version = 1
	}

	for i, step := range plan.Steps {
		if step.ID == 0 {
			step.ID = i + 1
		}
		if step.Status == "" {
			step.Status = StepStatusPending
		}
	}

	return &plan, nil
}

// StepResult is the transient outcome of executing one step. Its fields are
// copied onto the owning PlanStep; it is never persisted directly.
type StepResult struct {
	Success      bool       `json:"success"`
	Response     string     `json:"response"`
	FilesChanged []string   `json:"files_changed,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Error        string     `json:"error,omitempty"`
}

package types

import "time"

// Event is the base interface for all orchestration events. The event
// stream is the sole output contract toward any UI or CLI layer.
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
}

// EventType identifies the type of orchestration event
type EventType string

const (
	EventTypeStatus             EventType = "status"
	EventTypePlanCreated        EventType = "plan_created"
	EventTypeAwaitingApproval   EventType = "awaiting_approval"
	EventTypeExecutionStarted   EventType = "execution_started"
	EventTypeStepStarted        EventType = "step_started"
	EventTypeToolCalls          EventType = "tool_calls"
	EventTypeToolResult         EventType = "tool_result"
	EventTypeAnomalyDetected    EventType = "anomaly_detected"
	EventTypeReplanWarning      EventType = "replan_warning"
	EventTypeStepCompleted      EventType = "step_completed"
	EventTypeExecutionCompleted EventType = "execution_completed"
	EventTypeExecutionFailed    EventType = "execution_failed"
	EventTypeExecutionCancelled EventType = "execution_cancelled"
	EventTypeError              EventType = "error"
)

// Base event struct with common fields
type baseEvent struct {
	eventType EventType
	timestamp time.Time
}

func (e *baseEvent) GetType() EventType {
	return e.eventType
}

func (e *baseEvent) GetTimestamp() time.Time {
	return e.timestamp
}

func newBaseEvent(eventType EventType) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// StatusEvent carries a free-text progress note
type StatusEvent struct {
	baseEvent
	Message string `json:"message"`
}

// PlanCreatedEvent signals that a plan has been created
type PlanCreatedEvent struct {
	baseEvent
	Plan Plan `json:"plan"`
}

// AwaitingApprovalEvent signals that execution is suspended until the
// caller approves or rejects the plan
type AwaitingApprovalEvent struct {
	baseEvent
	Plan Plan `json:"plan"`
}

// ExecutionStartedEvent signals the start of plan execution
type ExecutionStartedEvent struct {
	baseEvent
	PlanID    string `json:"plan_id"`
	StepCount int    `json:"step_count"`
}

// StepStartedEvent signals that a plan step entered in_progress
type StepStartedEvent struct {
	baseEvent
	PlanID string   `json:"plan_id"`
	Step   PlanStep `json:"step"`
}

// ToolCallsEvent carries the tool calls requested in one LLM turn
type ToolCallsEvent struct {
	baseEvent
	StepID    int        `json:"step_id"`
	ToolCalls []ToolCall `json:"tool_calls"`
}

// ToolResultEvent carries the outcome of a single tool execution
type ToolResultEvent struct {
	baseEvent
	StepID     int        `json:"step_id"`
	ToolCall   ToolCall   `json:"tool_call"`
	ToolResult ToolResult `json:"tool_result"`
}

// AnomalyDetectedEvent signals that execution drifted from the plan
type AnomalyDetectedEvent struct {
	baseEvent
	StepID  int    `json:"step_id"`
	Anomaly string `json:"anomaly"`
}

// ReplanWarningEvent signals sustained anomalies. Execution continues;
// the signal is surfaced, not acted on.
type ReplanWarningEvent struct {
	baseEvent
	PlanID       string `json:"plan_id"`
	AnomalyCount int    `json:"anomaly_count"`
}

// StepCompletedEvent signals a step finished, with fresh progress numbers
type StepCompletedEvent struct {
	baseEvent
	PlanID   string   `json:"plan_id"`
	Step     PlanStep `json:"step"`
	Progress Progress `json:"progress"`
}

// ExecutionCompletedEvent is the terminal event of a successful run
type ExecutionCompletedEvent struct {
	baseEvent
	Plan     Plan     `json:"plan"`
	Progress Progress `json:"progress"`
}

// ExecutionFailedEvent is the terminal event of a failed run
type ExecutionFailedEvent struct {
	baseEvent
	Plan   Plan   `json:"plan"`
	StepID int    `json:"step_id"`
	Error  string `json:"error"`
}

// ExecutionCancelledEvent is the terminal event of a cancelled run
type ExecutionCancelledEvent struct {
	baseEvent
	Plan Plan `json:"plan"`
}

// ErrorEvent is the terminal event for an unexpected failure outside any
// step boundary
type ErrorEvent struct {
	baseEvent
	Error string `json:"error"`
}

// Constructor functions for each event type

func NewStatusEvent(message string) *StatusEvent {
	return &StatusEvent{
		baseEvent: newBaseEvent(EventTypeStatus),
		Message:   message,
	}
}

func NewPlanCreatedEvent(plan Plan) *PlanCreatedEvent {
	return &PlanCreatedEvent{
		baseEvent: newBaseEvent(EventTypePlanCreated),
		Plan:      plan,
	}
}

func NewAwaitingApprovalEvent(plan Plan) *AwaitingApprovalEvent {
	return &AwaitingApprovalEvent{
		baseEvent: newBaseEvent(EventTypeAwaitingApproval),
		Plan:      plan,
	}
}

func NewExecutionStartedEvent(planID string, stepCount int) *ExecutionStartedEvent {
	return &ExecutionStartedEvent{
		baseEvent: newBaseEvent(EventTypeExecutionStarted),
		PlanID:    planID,
		StepCount: stepCount,
	}
}

func NewStepStartedEvent(planID string, step PlanStep) *StepStartedEvent {
	return &StepStartedEvent{
		baseEvent: newBaseEvent(EventTypeStepStarted),
		PlanID:    planID,
		Step:      step,
	}
}

func NewToolCallsEvent(stepID int, toolCalls []ToolCall) *ToolCallsEvent {
	return &ToolCallsEvent{
		baseEvent: newBaseEvent(EventTypeToolCalls),
		StepID:    stepID,
		ToolCalls: toolCalls,
	}
}

func NewToolResultEvent(stepID int, toolCall ToolCall, toolResult ToolResult) *ToolResultEvent {
	return &ToolResultEvent{
		baseEvent:  newBaseEvent(EventTypeToolResult),
		StepID:     stepID,
		ToolCall:   toolCall,
		ToolResult: toolResult,
	}
}

func NewAnomalyDetectedEvent(stepID int, anomaly string) *AnomalyDetectedEvent {
	return &AnomalyDetectedEvent{
		baseEvent: newBaseEvent(EventTypeAnomalyDetected),
		StepID:    stepID,
		Anomaly:   anomaly,
	}
}

func NewReplanWarningEvent(planID string, anomalyCount int) *ReplanWarningEvent {
	return &ReplanWarningEvent{
		baseEvent:    newBaseEvent(EventTypeReplanWarning),
		PlanID:       planID,
		AnomalyCount: anomalyCount,
	}
}

func NewStepCompletedEvent(planID string, step PlanStep, progress Progress) *StepCompletedEvent {
	return &StepCompletedEvent{
		baseEvent: newBaseEvent(EventTypeStepCompleted),
		PlanID:    planID,
		Step:      step,
		Progress:  progress,
	}
}

func NewExecutionCompletedEvent(plan Plan, progress Progress) *ExecutionCompletedEvent {
	return &ExecutionCompletedEvent{
		baseEvent: newBaseEvent(EventTypeExecutionCompleted),
		Plan:      plan,
		Progress:  progress,
	}
}

func NewExecutionFailedEvent(plan Plan, stepID int, errorMsg string) *ExecutionFailedEvent {
	return &ExecutionFailedEvent{
		baseEvent: newBaseEvent(EventTypeExecutionFailed),
		Plan:      plan,
		StepID:    stepID,
		Error:     errorMsg,
	}
}

func NewExecutionCancelledEvent(plan Plan) *ExecutionCancelledEvent {
	return &ExecutionCancelledEvent{
		baseEvent: newBaseEvent(EventTypeExecutionCancelled),
		Plan:      plan,
	}
}

func NewErrorEvent(errorMsg string) *ErrorEvent {
	return &ErrorEvent{
		baseEvent: newBaseEvent(EventTypeError),
		Error:     errorMsg,
	}
}

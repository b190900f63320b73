package types

import "errors"

var (
	// ErrModelNotSet is returned when a language model is not configured
	ErrModelNotSet = errors.New("model not set")

	// ErrToolNotFound is returned when a tool is not found
	ErrToolNotFound = errors.New("tool not found")

	// ErrEmptyResponse is returned when the provider returns an empty response
	ErrEmptyResponse = errors.New("empty response from provider")

	// ErrNoActivePlan is returned when an operation requires a bound plan
	ErrNoActivePlan = errors.New("no active plan")

	// ErrStepNotFound is returned when a step id does not exist in the plan
	ErrStepNotFound = errors.New("step not found")

	// ErrNotAwaitingApproval is returned when approval is attempted outside
	// the awaiting_approval state
	ErrNotAwaitingApproval = errors.New("plan is not awaiting approval")
)

package provider

import (
	"context"

	"github.com/quantpilot/quantpilot/pkg/agent/types"
)

// LanguageModel defines the interface that all LLM providers must implement.
// The orchestrator consumes non-streaming generation only, so structured
// tool calls are always captured whole.
type LanguageModel interface {
	// Generate produces a complete response (blocking)
	Generate(ctx context.Context, req GenerateRequest) (*types.GenerateResponse, error)

	// ID returns the unique identifier for this model
	ID() string
}

// GenerateRequest contains all parameters for generating text
type GenerateRequest struct {
	// Messages is the conversation history
	Messages []types.Message `json:"messages"`

	// System is an optional system prompt
	System string `json:"system,omitempty"`

	// Tools is a list of tools available to the model
	Tools []types.Tool `json:"tools,omitempty"`

	// Temperature controls randomness (0.0 to 2.0)
	Temperature float32 `json:"temperature,omitempty"`

	// MaxTokens is the maximum number of tokens to generate
	MaxTokens int `json:"max_tokens,omitempty"`

	// TopP controls nucleus sampling
	TopP float32 `json:"top_p,omitempty"`

	// Stop sequences where generation should stop
	Stop []string `json:"stop,omitempty"`
}

package tool

import (
	"context"

	"github.com/quantpilot/quantpilot/pkg/agent/types"
)

// Tool is the single interface every tool implementation must satisfy.
// Parameters returns a JSON Schema object describing the arguments.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// Result is what a tool handler returns on success. FilesChanged lists
// workspace-relative paths the call touched.
type Result struct {
	Output       string         `json:"output"`
	Data         map[string]any `json:"data,omitempty"`
	FilesChanged []string       `json:"files_changed,omitempty"`
}

type FuncTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, args map[string]any) (Result, error)
}

func (t *FuncTool) Name() string {
	return t.name
}

func (t *FuncTool) Description() string {
	return t.description
}

func (t *FuncTool) Parameters() map[string]any {
	return t.parameters
}

func (t *FuncTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	return t.fn(ctx, args)
}

// Define builds a Tool from a name, description, JSON Schema parameters and
// a handler function.
func Define(name, description string, parameters map[string]any, fn func(ctx context.Context, args map[string]any) (Result, error)) Tool {
	return &FuncTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// ToTypesTool converts a Tool to its schema form for provider requests.
func ToTypesTool(t Tool) types.Tool {
	return types.Tool{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
}

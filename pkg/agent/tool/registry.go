package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/quantpilot/quantpilot/pkg/agent/types"
	"github.com/rs/zerolog/log"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Execution is the uniform result shape every tool call produces. A failed
// call is reported here, never as a panic or a raw error escaping the
// registry.
type Execution struct {
	Success      bool           `json:"success"`
	Output       string         `json:"output,omitempty"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	FilesChanged []string       `json:"files_changed,omitempty"`
}

// Content renders the execution for a tool-result conversation message.
func (e Execution) Content() string {
	if !e.Success {
		return fmt.Sprintf("Error: %s", e.Error)
	}
	return e.Output
}

// Registry holds the closed set of tools available to the agent. Each
// registered tool's parameter schema is compiled once; arguments are
// validated against it before dispatch.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool. A tool with an invalid parameter schema or a
// duplicate name is rejected.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool has no name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	schema, err := compileSchema(name, t.Parameters())
	if err != nil {
		return fmt.Errorf("tool %s has invalid parameter schema: %w", name, err)
	}

	r.tools[name] = t
	r.schemas[name] = schema

	return nil
}

// MustRegister registers tools and panics on schema errors. Intended for
// static tool sets assembled at startup.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Execute dispatches a call to the named tool and wraps the outcome in an
// Execution. Unknown tools, schema violations and handler errors all come
// back as failed executions.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) Execution {
	r.mu.RLock()
	t, exists := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if !exists {
		return Execution{Error: fmt.Sprintf("%v: %s", types.ErrToolNotFound, name)}
	}

	if args == nil {
		args = make(map[string]any)
	}

	if schema != nil {
		if err := schema.Validate(normalizeForValidation(args)); err != nil {
			log.Debug().Err(err).Str("tool", name).Msg("Tool arguments failed schema validation")
			return Execution{Error: fmt.Sprintf("invalid arguments for %s: %v", name, err)}
		}
	}

	result, err := t.Execute(ctx, args)
	if err != nil {
		return Execution{Error: err.Error()}
	}

	return Execution{
		Success:      true,
		Output:       result.Output,
		Data:         result.Data,
		FilesChanged: result.FilesChanged,
	}
}

// Definitions returns the schema of every registered tool, sorted by name.
func (r *Registry) Definitions() []types.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]types.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, ToTypesTool(t))
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	return defs
}

// List returns the names of all registered tools, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func compileSchema(name string, parameters map[string]any) (*jsonschema.Schema, error) {
	if parameters == nil {
		parameters = map[string]any{"type": "object"}
	}

	raw, err := json.Marshal(parameters)
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("tool://%s/schema.json", name)
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}

	return compiler.Compile(url)
}

// normalizeForValidation round-trips args through JSON so numeric types
// match what the validator expects.
func normalizeForValidation(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}

	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return args
	}

	return normalized
}

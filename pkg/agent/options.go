package agent

import (
	"path/filepath"

	"github.com/quantpilot/quantpilot/internal/workspace"
	"github.com/quantpilot/quantpilot/pkg/agent/planner"
	"github.com/quantpilot/quantpilot/pkg/agent/prompts"
	"github.com/quantpilot/quantpilot/pkg/agent/provider"
	"github.com/quantpilot/quantpilot/pkg/agent/storage"
	"github.com/quantpilot/quantpilot/pkg/agent/tool"
	"github.com/quantpilot/quantpilot/pkg/agent/tracker"
)

const defaultMaxToolIterations = 10

// Option configures an Agent.
type Option func(*Agent)

// WithModel sets the language model backing both planning and execution.
func WithModel(model provider.LanguageModel) Option {
	return func(a *Agent) {
		a.Model = model
	}
}

// WithTools sets the tool registry.
func WithTools(registry *tool.Registry) Option {
	return func(a *Agent) {
		a.Tools = registry
	}
}

// WithPrompts overrides the default prompt templates.
func WithPrompts(p prompts.Provider) Option {
	return func(a *Agent) {
		a.Prompts = p
	}
}

// WithStorage overrides the default plan store.
func WithStorage(store *storage.Store) Option {
	return func(a *Agent) {
		a.Storage = store
	}
}

// WithWorkspaceDir sets the project directory the agent operates in.
func WithWorkspaceDir(dir string) Option {
	return func(a *Agent) {
		a.WorkspaceDir = dir
	}
}

// WithMaxToolIterations caps the tool-call loop per step.
func WithMaxToolIterations(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.MaxToolIterations = n
		}
	}
}

// WithAnomalyThreshold sets how many consecutive anomalies trigger a
// replan warning.
func WithAnomalyThreshold(n int) Option {
	return func(a *Agent) {
		a.anomalyThreshold = n
	}
}

// WithContextBuilder overrides how the project context summary is built.
func WithContextBuilder(fn func(dir string) string) Option {
	return func(a *Agent) {
		if fn != nil {
			a.ContextBuilder = fn
		}
	}
}

// New builds an Agent. A model is required for Run; everything else has a
// working default.
func New(opts ...Option) (*Agent, error) {
	a := &Agent{
		WorkspaceDir:      ".",
		MaxToolIterations: defaultMaxToolIterations,
		ContextBuilder:    workspace.Summary,
		codeContext:       make(map[string]string),
		cancel:            NewCancelToken(),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.Prompts == nil {
		a.Prompts = prompts.NewTemplateProvider()
	}
	if a.Tools == nil {
		a.Tools = tool.NewRegistry()
	}
	if a.Storage == nil {
		store, err := storage.New(filepath.Join(a.WorkspaceDir, ".plans"))
		if err != nil {
			return nil, err
		}
		a.Storage = store
	}
	if a.Tracker == nil {
		a.Tracker = tracker.New(a.Prompts)
	}
	if a.anomalyThreshold > 0 {
		a.Tracker.SetMaxAnomalies(a.anomalyThreshold)
	}
	if a.Planner == nil && a.Model != nil {
		a.Planner = planner.New(a.Model, a.Prompts)
	}

	return a, nil
}

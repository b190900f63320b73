// Package prompts renders the prompt text the planner, orchestrator and
// tracker feed to the language model. The provider is injected wherever
// prompt text is needed, so callers own its lifecycle.
package prompts

import (
	"strings"
	"text/template"

	"github.com/rs/zerolog/log"
)

// Provider supplies rendered prompt text. All methods are total: a template
// failure degrades to a minimal usable prompt instead of an error.
type Provider interface {
	PlannerSystem() string
	PlannerTask(task, projectContext string) string
	StepSystem() string
	StepTask(data StepPromptData) string
	Correction(data CorrectionData) string
	ReplanContext(data ReplanData) string
}

// StepPromptData is the context for a per-step execution prompt.
type StepPromptData struct {
	Task            string
	StepID          int
	StepCount       int
	Description     string
	ExpectedOutcome string
	ActiveFiles     map[string]string
	PriorResults    []string
}

// CorrectionData is the context for a corrective user-turn message after a
// detected anomaly.
type CorrectionData struct {
	Anomaly         string
	StepID          int
	Description     string
	ExpectedOutcome string
}

// ReplanData describes a failed plan for the replanning prompt.
type ReplanData struct {
	Task           string
	FailedStepID   int
	FailedStep     string
	Error          string
	CompletedSteps []string
}

const plannerSystemPrompt = `You are a planning assistant for a quant trading code workspace.
Given a task and a summary of the project, produce a JSON object of the form:
{"steps": [{"description": "...", "expected_outcome": "...", "tools": ["tool_name"]}]}
Rules:
- Output only JSON, no prose.
- Each step must be a small, independently verifiable unit of work.
- Declare in "tools" every tool the step will need.`

const plannerTaskTemplate = `Task: {{.Task}}

Project context:
{{.Context}}

Produce the plan JSON now.`

const stepSystemPrompt = `You are a coding agent working inside a sandboxed workspace.
You execute one plan step at a time using the available tools.
Work only on the current step. When the step is done, reply with a short
summary and stop calling tools. Do not re-read files already shown below.`

const stepTaskTemplate = `Overall task: {{.Task}}

Current step {{.StepID}}/{{.StepCount}}: {{.Description}}
{{- if .ExpectedOutcome}}
Expected outcome: {{.ExpectedOutcome}}
{{- end}}
{{- if .PriorResults}}

Completed so far:
{{- range .PriorResults}}
- {{.}}
{{- end}}
{{- end}}
{{- if .ActiveFiles}}

Current content of files you already touched:
{{- range $path, $content := .ActiveFiles}}
--- {{$path}} ---
{{$content}}
{{- end}}
{{- end}}`

const correctionTemplate = `Execution drifted from the plan: {{.Anomaly}}
You are on step {{.StepID}}: {{.Description}}
{{- if .ExpectedOutcome}}
Expected outcome: {{.ExpectedOutcome}}
{{- end}}
Return to the current step and finish it before anything else.`

const replanContextTemplate = `The previous plan for this task failed and needs to be redone.
Task: {{.Task}}
Failed at step {{.FailedStepID}}: {{.FailedStep}}
Error: {{.Error}}
{{- if .CompletedSteps}}
Steps already completed (do not repeat them):
{{- range .CompletedSteps}}
- {{.}}
{{- end}}
{{- end}}`

// TemplateProvider renders prompts from the built-in templates.
type TemplateProvider struct {
	plannerTask   *template.Template
	stepTask      *template.Template
	correction    *template.Template
	replanContext *template.Template
}

// NewTemplateProvider builds the default provider.
func NewTemplateProvider() *TemplateProvider {
	return &TemplateProvider{
		plannerTask:   template.Must(template.New("planner_task").Parse(plannerTaskTemplate)),
		stepTask:      template.Must(template.New("step_task").Parse(stepTaskTemplate)),
		correction:    template.Must(template.New("correction").Parse(correctionTemplate)),
		replanContext: template.Must(template.New("replan_context").Parse(replanContextTemplate)),
	}
}

func (p *TemplateProvider) PlannerSystem() string {
	return plannerSystemPrompt
}

func (p *TemplateProvider) PlannerTask(task, projectContext string) string {
	return render(p.plannerTask, struct {
		Task    string
		Context string
	}{Task: task, Context: projectContext}, task)
}

func (p *TemplateProvider) StepSystem() string {
	return stepSystemPrompt
}

func (p *TemplateProvider) StepTask(data StepPromptData) string {
	return render(p.stepTask, data, data.Description)
}

func (p *TemplateProvider) Correction(data CorrectionData) string {
	return render(p.correction, data, data.Anomaly)
}

func (p *TemplateProvider) ReplanContext(data ReplanData) string {
	return render(p.replanContext, data, data.Error)
}

func render(tmpl *template.Template, data any, fallback string) string {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		log.Warn().Err(err).Str("template", tmpl.Name()).Msg("Prompt template failed to render")
		return fallback
	}
	return sb.String()
}

package cli

import (
	"fmt"
	"os"

	"github.com/quantpilot/quantpilot/internal/config"
	"github.com/quantpilot/quantpilot/internal/toolkit"
	"github.com/quantpilot/quantpilot/pkg/agent"
	"github.com/quantpilot/quantpilot/pkg/agent/provider"
	"github.com/quantpilot/quantpilot/pkg/agent/provider/anthropic"
	"github.com/quantpilot/quantpilot/pkg/agent/provider/openai"
	"github.com/quantpilot/quantpilot/pkg/agent/storage"
	"github.com/quantpilot/quantpilot/pkg/agent/tool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quantpilot",
		Short: "QuantPilot coding agent CLI",
		Long: `QuantPilot is a plan-execute coding agent: it breaks a task into a
reviewable plan, executes the plan step by step with workspace tools, and
persists progress so interrupted runs can be resumed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewResumeCommand())
	rootCmd.AddCommand(NewHistoryCommand())
	rootCmd.AddCommand(NewVersionCommand())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// agentOverrides carries flag values that take precedence over the config
// file and environment.
type agentOverrides struct {
	workspaceDir      string
	maxToolIterations int
}

func buildAgent(overrides agentOverrides) (*agent.Agent, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	if overrides.workspaceDir != "" {
		cfg.WorkspaceDir = overrides.workspaceDir
	}
	if overrides.maxToolIterations > 0 {
		cfg.MaxToolIterations = overrides.maxToolIterations
	}

	var model provider.LanguageModel
	switch cfg.Provider {
	case "anthropic":
		model = anthropic.New(cfg.AnthropicAPIKey, cfg.Model)
	default:
		model = openai.New(cfg.OpenAIAPIKey, cfg.Model)
	}

	registry := tool.NewRegistry()
	if err := toolkit.Register(registry, cfg.WorkspaceDir); err != nil {
		return nil, nil, fmt.Errorf("register tools: %w", err)
	}

	opts := []agent.Option{
		agent.WithModel(model),
		agent.WithTools(registry),
		agent.WithWorkspaceDir(cfg.WorkspaceDir),
		agent.WithMaxToolIterations(cfg.MaxToolIterations),
		agent.WithAnomalyThreshold(cfg.AnomalyThreshold),
	}

	if cfg.PlansDir != "" {
		store, err := storage.New(cfg.PlansDir)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, agent.WithStorage(store))
	}

	a, err := agent.New(opts...)
	if err != nil {
		return nil, nil, err
	}

	return a, cfg, nil
}

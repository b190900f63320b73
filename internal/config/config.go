// Package config loads agent configuration from files and environment
// variables.
package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all agent configuration.
type Config struct {
	// Model settings
	Provider        string // "openai" or "anthropic"
	Model           string
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Execution settings
	WorkspaceDir      string
	PlansDir          string
	MaxToolIterations int
	AnomalyThreshold  int
	AutoApprove       bool

	// Logging
	LogLevel string
}

// Load reads configuration from config files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Configure environment variables - do this BEFORE reading config
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envMappings := map[string]string{
		"Provider":          "AGENT_PROVIDER",
		"Model":             "AGENT_MODEL",
		"OpenAIAPIKey":      "OPENAI_API_KEY",
		"AnthropicAPIKey":   "ANTHROPIC_API_KEY",
		"WorkspaceDir":      "AGENT_WORKSPACE_DIR",
		"PlansDir":          "AGENT_PLANS_DIR",
		"MaxToolIterations": "AGENT_MAX_TOOL_ITERATIONS",
		"AnomalyThreshold":  "AGENT_ANOMALY_THRESHOLD",
		"AutoApprove":       "AGENT_AUTO_APPROVE",
		"LogLevel":          "AGENT_LOG_LEVEL",
	}

	for configKey, envVar := range envMappings {
		if err := v.BindEnv(configKey, envVar); err != nil {
			log.Warn().Err(err).Msgf("Failed to bind environment variable %s for %s", envVar, configKey)
		}
	}

	v.SetConfigName("quantpilot")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.quantpilot")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("Config file not found, using environment variables and defaults")
	} else {
		log.Info().Msgf("Using config file: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Provider", "openai")
	v.SetDefault("Model", "gpt-4o")
	v.SetDefault("WorkspaceDir", ".")
	v.SetDefault("MaxToolIterations", 10)
	v.SetDefault("AnomalyThreshold", 3)
	v.SetDefault("LogLevel", "info")
}

func validate(config *Config) error {
	switch config.Provider {
	case "openai":
		if config.OpenAIAPIKey == "" {
			return fmt.Errorf("missing required environment variable: OPENAI_API_KEY")
		}
	case "anthropic":
		if config.AnthropicAPIKey == "" {
			return fmt.Errorf("missing required environment variable: ANTHROPIC_API_KEY")
		}
	default:
		return fmt.Errorf("unknown provider %q, expected openai or anthropic", config.Provider)
	}

	return nil
}

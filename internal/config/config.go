// Package config provides configuration loading and validation for panelcheck.
// All values are validated once at run start, never per iteration.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Defaults for the pipeline configuration surface.
const (
	DefaultThreshold     = 80.0
	DefaultMaxIterations = 3
	DefaultMinVisualLen  = 150
	DefaultRetries       = 1
	DefaultMaxTokens     = 8192
	DefaultTemperature   = 0.7
	DefaultProvider      = "anthropic"
	DefaultModel         = "claude-sonnet-4-20250514"
)

// Config is the root configuration consumed by the pipeline.
type Config struct {
	// Provider selects the LLM backend: anthropic, openai, or google.
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`

	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`

	// Retries is the number of additional attempts per stage call after a
	// transport failure.
	Retries int `mapstructure:"retries"`

	// Threshold is the fidelity score a run must reach to validate.
	Threshold float64 `mapstructure:"threshold"`

	// MaxIterations is the default iteration budget when the caller does not
	// supply one.
	MaxIterations int `mapstructure:"max_iterations"`

	// MinVisualLen is the minimum accepted length, in characters, of a
	// panel's visual description.
	MinVisualLen int `mapstructure:"min_visual_len"`
}

// Default returns a Config populated with package defaults.
func Default() Config {
	return Config{
		Provider:      DefaultProvider,
		Model:         DefaultModel,
		MaxTokens:     DefaultMaxTokens,
		Temperature:   DefaultTemperature,
		Retries:       DefaultRetries,
		Threshold:     DefaultThreshold,
		MaxIterations: DefaultMaxIterations,
		MinVisualLen:  DefaultMinVisualLen,
	}
}

// Load reads configuration from an optional config file and PANELCHECK_*
// environment variables, layered over the package defaults.
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.SetDefault("provider", DefaultProvider)
	v.SetDefault("model", DefaultModel)
	v.SetDefault("max_tokens", DefaultMaxTokens)
	v.SetDefault("temperature", DefaultTemperature)
	v.SetDefault("retries", DefaultRetries)
	v.SetDefault("threshold", DefaultThreshold)
	v.SetDefault("max_iterations", DefaultMaxIterations)
	v.SetDefault("min_visual_len", DefaultMinVisualLen)

	v.SetEnvPrefix("PANELCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field the pipeline depends on.
func (c Config) Validate() error {
	switch strings.ToLower(c.Provider) {
	case "anthropic", "openai", "google":
	default:
		return fmt.Errorf("config: unknown provider %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("config: model is required")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("config: max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("config: temperature must be in [0,2], got %g", c.Temperature)
	}
	if c.Retries < 0 {
		return fmt.Errorf("config: retries must be non-negative, got %d", c.Retries)
	}
	if c.Threshold < 0 || c.Threshold > 100 {
		return fmt.Errorf("config: threshold must be in [0,100], got %g", c.Threshold)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("config: max_iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.MinVisualLen < 1 {
		return fmt.Errorf("config: min_visual_len must be positive, got %d", c.MinVisualLen)
	}
	return nil
}

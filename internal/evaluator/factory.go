package evaluator

import (
	"fmt"
	"os"
	"time"
)

// Config selects and configures the remote provider.
type Config struct {
	// Provider is "openai" (any OpenAI-compatible API) or "anthropic".
	Provider string `yaml:"provider"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	// Default: OPENAI_API_KEY or ANTHROPIC_API_KEY by provider.
	APIKeyEnv string `yaml:"api_key_env"`

	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`

	// TimeoutSecs bounds each remote call. Default: 60
	TimeoutSecs int `yaml:"timeout_secs"`
}

// DefaultConfig returns the default evaluator configuration.
func DefaultConfig() Config {
	return Config{
		Provider:    "openai",
		Temperature: 0.7,
		TimeoutSecs: int(DefaultTimeout / time.Second),
	}
}

// Timeout returns the per-call timeout.
func (c Config) Timeout() time.Duration {
	if c.TimeoutSecs <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutSecs) * time.Second
}

// Validate reports an unknown provider or negative settings.
func (c Config) Validate() error {
	switch c.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("evaluator: unknown provider %q (valid: openai, anthropic)", c.Provider)
	}
	if c.TimeoutSecs < 0 {
		return fmt.Errorf("evaluator: timeout_secs must be >= 0, got %d", c.TimeoutSecs)
	}
	return nil
}

// NewFromConfig builds the configured provider wrapped with its timeout.
func NewFromConfig(cfg Config) (Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	keyEnv := cfg.APIKeyEnv
	var e Evaluator
	switch cfg.Provider {
	case "anthropic":
		if keyEnv == "" {
			keyEnv = "ANTHROPIC_API_KEY"
		}
		e = NewAnthropic(cfg.BaseURL, os.Getenv(keyEnv), cfg.Model, cfg.MaxTokens)
	default:
		if keyEnv == "" {
			keyEnv = "OPENAI_API_KEY"
		}
		e = NewOpenAI(cfg.BaseURL, os.Getenv(keyEnv), cfg.Model, cfg.Temperature)
	}
	return WithTimeout(e, cfg.Timeout()), nil
}

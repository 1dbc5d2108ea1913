package config

import "time"

// LLMConfig configures the LLM client.
type LLMConfig struct {
	Provider string        `yaml:"provider"` // anthropic | openai
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`

	// MaxRetries bounds transient-error retries (401/403 never retried).
	MaxRetries int `yaml:"max_retries"`
}

// DefaultLLMConfig returns sensible defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:   "anthropic",
		Model:      "claude-sonnet-4-20250514",
		BaseURL:    "https://api.anthropic.com/v1",
		Timeout:    2 * time.Minute,
		MaxRetries: 3,
	}
}

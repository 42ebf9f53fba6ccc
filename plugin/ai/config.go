package ai

import (
	"fmt"
	"time"

	"github.com/evahq/eva/internal/profile"
)

// LLMConfig holds the LLM provider configuration.
type LLMConfig struct {
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	MaxRetries  int
	// Timeout bounds a single chat completion request.
	Timeout time.Duration
}

// DefaultLLMConfig returns the default configuration.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Provider:   "openai",
		BaseURL:    "https://api.openai.com/v1",
		Model:      "gpt-4o-mini",
		MaxTokens:  2048,
		MaxRetries: 3,
		Timeout:    60 * time.Second,
	}
}

// NewLLMConfigFromProfile builds the LLM config from the server profile.
func NewLLMConfigFromProfile(p *profile.Profile) *LLMConfig {
	cfg := DefaultLLMConfig()
	if p.LLMProvider != "" {
		cfg.Provider = p.LLMProvider
	}
	if p.LLMBaseURL != "" {
		cfg.BaseURL = p.LLMBaseURL
	}
	if p.LLMModel != "" {
		cfg.Model = p.LLMModel
	}
	cfg.APIKey = p.LLMAPIKey
	return cfg
}

// Validate checks that the configuration is usable.
func (c *LLMConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("LLM API key is required, set EVA_LLM_API_KEY")
	}
	if c.Model == "" {
		return fmt.Errorf("LLM model is required")
	}
	return nil
}

package llm

import (
	"fmt"
)

const defaultUserAgent = "Agent-chat/1.0"

// Config holds the configuration for LLM client
// Any OpenAI-compatible chat-completions provider works.
//
// APIKey: Bearer token, may be empty (the provider then rejects the call)
// APIURL: Base URL, "/chat/completions" is appended
// Timeout: Request timeout in seconds, covers the whole stream
// BreakerMaxFailures: Consecutive failed stream openings before the circuit opens
// BreakerOpenTimeout: Seconds the circuit stays open
type Config struct {
	APIKey             string  `json:"-"`
	APIURL             string  `json:"api_url"`
	Model              string  `json:"model"`
	MaxTokens          int     `json:"max_tokens"`
	Temperature        float64 `json:"temperature"`
	Timeout            int     `json:"timeout"`
	UserAgent          string  `json:"user_agent"`
	BreakerMaxFailures int     `json:"breaker_max_failures"`
	BreakerOpenTimeout int     `json:"breaker_open_timeout"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be greater than 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// GetHeaders returns the headers for the LLM API request
func (c *Config) GetHeaders() map[string]string {
	userAgent := c.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return map[string]string{
		"Authorization": "Bearer " + c.APIKey,
		"Content-Type":  "application/json",
		"Accept":        "*/*",
		"User-Agent":    userAgent,
	}
}

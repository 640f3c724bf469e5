package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"

	"github.com/ZhyangJ/Agent-chat/pkg/icron"
	"github.com/ZhyangJ/Agent-chat/pkg/log"
)

// Config holds all application configuration
// Supports environment variables (optionally loaded from a .env file) with sensible defaults
//
// Environment Variables:
// LLM Configuration:
// - LLM_API_KEY: API key for the upstream provider (falls back to XUNFEI_API_KEY)
// - LLM_API_URL: API endpoint URL (default: https://maas-api.cn-huabei-1.xf-yun.com/v1)
// - LLM_MODEL: Model name to use (default: xop3qwen1b7)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 4000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.7)
// - LLM_TIMEOUT: Upstream request timeout in seconds (default: 30)
//
// Server Configuration:
// - PORT: Listening port (default: 3000)
// - RATE_LIMIT_PER_MIN: Chat requests per minute per client IP, 0 disables (default: 0)
// - RATE_LIMIT_BURST: Burst size for the rate limiter (default: 10)
//
// Agent Configuration:
// - AGENT_MAX_ITERATIONS: Hard cap on loop iterations per request (default: 10)
// - CB_MAX_FAILURES: Consecutive upstream failures before the circuit opens (default: 5)
// - CB_OPEN_TIMEOUT: Seconds the circuit stays open (default: 30)
//
// Search Configuration:
// - SEARCH_API_URL: Encyclopedia item URL prefix (default: https://baike.baidu.com/item/)
// - SEARCH_TIMEOUT: Lookup timeout in seconds (default: 12)
//
// System Configuration:
// - LOCALE: Locale used to format dates (default: zh-CN)
// - TZ: Timezone (default: Asia/Shanghai)
// - LOG_LEVEL: debug, info, warn, error (default: info)
// - TRACING_EXPORTER: noop or stdout (default: noop)
//
// Diagnostics Configuration:
// - DIAG_DB_PATH: SQLite file for the reasoning/error journal, empty keeps it in memory
// - DIAG_CLEAR_CRON: Cron expression that clears the reasoning log, empty disables
type Config struct {
	LLM     LLMConfig     `json:"llm"`
	Server  ServerConfig  `json:"server"`
	Agent   AgentConfig   `json:"agent"`
	Search  SearchConfig  `json:"search"`
	System  SystemConfig  `json:"system"`
	Diag    DiagConfig    `json:"diag"`
	Tracing TracingConfig `json:"tracing"`
}

// LLMConfig holds the configuration for the upstream chat-completions endpoint
type LLMConfig struct {
	APIKey      string  `json:"-"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
}

type ServerConfig struct {
	Port            int `json:"port"`
	RateLimitPerMin int `json:"rate_limit_per_min"`
	RateLimitBurst  int `json:"rate_limit_burst"`
}

// AgentConfig holds the configuration for the agent loop
type AgentConfig struct {
	MaxIterations      int `json:"max_iterations"`
	BreakerMaxFailures int `json:"breaker_max_failures"`
	BreakerOpenTimeout int `json:"breaker_open_timeout"`
}

// SearchConfig holds the configuration for the web lookup tool
type SearchConfig struct {
	APIURL  string `json:"api_url"`
	Timeout int    `json:"timeout"`
}

type SystemConfig struct {
	Locale   language.Tag `json:"locale"`
	TZ       string       `json:"tz"`
	LogLevel string       `json:"log_level"`
}

type DiagConfig struct {
	DBPath    string `json:"db_path"`
	ClearCron string `json:"clear_cron"`
}

type TracingConfig struct {
	Exporter string `json:"exporter"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// WithPort overrides the listening port
func WithPort(port int) Option {
	return func(c *Config) {
		if port > 0 {
			c.Server.Port = port
		}
	}
}

// WithLogLevel overrides the log level
func WithLogLevel(level string) Option {
	return func(c *Config) {
		if strings.TrimSpace(level) != "" {
			c.System.LogLevel = level
		}
	}
}

// Load reads the given .env files (missing files are ignored) and builds the
// configuration from the environment.
func Load(envFiles []string, opts ...Option) (*Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", file, err)
		}
	}
	return NewFromEnv(opts...)
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		LLM: LLMConfig{
			APIKey:      getEnvString("LLM_API_KEY", getEnvString("XUNFEI_API_KEY", "")),
			APIURL:      getEnvString("LLM_API_URL", "https://maas-api.cn-huabei-1.xf-yun.com/v1"),
			Model:       getEnvString("LLM_MODEL", "xop3qwen1b7"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 4000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
			Timeout:     getEnvInt("LLM_TIMEOUT", 30),
		},
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 3000),
			RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MIN", 0),
			RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", 10),
		},
		Agent: AgentConfig{
			MaxIterations:      getEnvInt("AGENT_MAX_ITERATIONS", 10),
			BreakerMaxFailures: getEnvInt("CB_MAX_FAILURES", 5),
			BreakerOpenTimeout: getEnvInt("CB_OPEN_TIMEOUT", 30),
		},
		Search: SearchConfig{
			APIURL:  getEnvString("SEARCH_API_URL", "https://baike.baidu.com/item/"),
			Timeout: getEnvInt("SEARCH_TIMEOUT", 12),
		},
		System: SystemConfig{
			Locale:   language.SimplifiedChinese,
			TZ:       getEnvString("TZ", "Asia/Shanghai"),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
		Diag: DiagConfig{
			DBPath:    getEnvString("DIAG_DB_PATH", ""),
			ClearCron: getEnvString("DIAG_CLEAR_CRON", ""),
		},
		Tracing: TracingConfig{
			Exporter: getEnvString("TRACING_EXPORTER", "noop"),
		},
	}

	if raw := getEnvString("LOCALE", ""); raw != "" {
		tag, err := language.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid LOCALE %q: %w", raw, err)
		}
		config.System.Locale = tag
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Info("Config: llm=%s model=%s port=%d max_iterations=%d locale=%s diag_db=%q",
		config.LLM.APIURL, config.LLM.Model, config.Server.Port,
		config.Agent.MaxIterations, config.System.Locale, config.Diag.DBPath)

	return config, nil
}

// validate checks the values that would otherwise fail late at request time.
// The API key is only warned about: requests fail upstream with 401 instead.
func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		log.Warn("LLM_API_KEY is not set, upstream calls will be rejected")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("AGENT_MAX_ITERATIONS must be greater than 0")
	}
	if c.Server.RateLimitPerMin < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MIN must not be negative")
	}
	if _, err := time.LoadLocation(c.System.TZ); err != nil {
		return fmt.Errorf("invalid TZ %q: %w", c.System.TZ, err)
	}
	if c.Diag.ClearCron != "" {
		if _, err := icron.Parse(c.Diag.ClearCron); err != nil {
			return fmt.Errorf("invalid DIAG_CLEAR_CRON: %w", err)
		}
	}
	switch c.Tracing.Exporter {
	case "", "noop", "stdout":
	default:
		return fmt.Errorf("unsupported TRACING_EXPORTER %q", c.Tracing.Exporter)
	}
	return nil
}

// Location returns the configured timezone, falling back to Local.
func (c SystemConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.Local
	}
	return loc
}

// Addr returns the listen address for the HTTP server
func (c ServerConfig) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

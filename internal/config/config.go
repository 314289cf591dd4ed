// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port             string
	FrontendURL      string
	DBPath           string
	SessionRetention time.Duration // 0 disables pruning of abandoned sessions
	Oracle           OracleConfig
	RateLimit        RateLimitConfig
	ConversationLog  ConversationLogConfig
}

// OracleConfig selects the language model behind the planner.
type OracleConfig struct {
	Provider       string // gemini, openai, anthropic, grpc or dry
	Model          string
	APIKey         string
	BaseURL        string
	GRPCAddr       string
	Timeout        time.Duration
	ConnectTimeout time.Duration
	MaxTokens      int64
	RatePerMinute  int
	Burst          int
	PromptsPath    string // optional YAML override of the built-in prompts
}

// RateLimitConfig bounds planning requests per user.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	provider := strings.ToLower(getEnv("ORACLE_PROVIDER", "gemini"))
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/goalpath.db"),
		SessionRetention: getEnvDuration("SESSION_RETENTION", 30*24*time.Hour),
		Oracle: OracleConfig{
			Provider:       provider,
			Model:          getEnv("ORACLE_MODEL", ""),
			APIKey:         apiKeyFor(provider),
			BaseURL:        getEnv("ORACLE_BASE_URL", ""),
			GRPCAddr:       getEnv("ORACLE_GRPC_ADDR", "localhost:50051"),
			Timeout:        getEnvDuration("ORACLE_TIMEOUT", 60*time.Second),
			ConnectTimeout: getEnvDuration("ORACLE_CONNECT_TIMEOUT", 5*time.Second),
			MaxTokens:      int64(getEnvInt("ORACLE_MAX_TOKENS", 4096)),
			RatePerMinute:  getEnvInt("ORACLE_RATE_PER_MINUTE", 60),
			Burst:          getEnvInt("ORACLE_RATE_BURST", 5),
			PromptsPath:    getEnv("ORACLE_PROMPTS_PATH", ""),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// apiKeyFor returns ORACLE_API_KEY if set, otherwise the provider's
// conventional key variable.
func apiKeyFor(provider string) string {
	if key := getEnv("ORACLE_API_KEY", ""); key != "" {
		return key
	}
	switch provider {
	case "gemini":
		return getEnv("GOOGLE_API_KEY", getEnv("GEMINI_API_KEY", ""))
	case "openai":
		return getEnv("OPENAI_API_KEY", "")
	case "anthropic":
		return getEnv("ANTHROPIC_API_KEY", "")
	}
	return ""
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.Oracle.Provider {
	case "gemini", "openai", "anthropic":
		if c.Oracle.APIKey == "" {
			return fmt.Errorf("an API key is required for ORACLE_PROVIDER=%s", c.Oracle.Provider)
		}
	case "grpc":
		if c.Oracle.GRPCAddr == "" {
			return fmt.Errorf("ORACLE_GRPC_ADDR cannot be empty for ORACLE_PROVIDER=grpc")
		}
	case "dry":
	default:
		return fmt.Errorf("ORACLE_PROVIDER %q is not supported", c.Oracle.Provider)
	}
	if c.Oracle.Timeout < 0 {
		return fmt.Errorf("ORACLE_TIMEOUT must be >= 0")
	}
	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be >= 0")
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.SessionRetention < 0 {
		return fmt.Errorf("SESSION_RETENTION must be >= 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

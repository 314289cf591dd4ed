package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ORACLE_PROVIDER", "dry")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "./data/goalpath.db", cfg.DBPath)
	assert.Equal(t, 30*24*time.Hour, cfg.SessionRetention)
	assert.Equal(t, 60*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, 30, cfg.RateLimit.Requests)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 1000, cfg.ConversationLog.QueueSize)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_ProviderKeys(t *testing.T) {
	tests := []struct {
		provider string
		env      map[string]string
		want     string
	}{
		{"gemini", map[string]string{"GOOGLE_API_KEY": "g"}, "g"},
		{"openai", map[string]string{"OPENAI_API_KEY": "o"}, "o"},
		{"anthropic", map[string]string{"ANTHROPIC_API_KEY": "a"}, "a"},
		{"openai", map[string]string{"OPENAI_API_KEY": "o", "ORACLE_API_KEY": "override"}, "override"},
	}
	for _, tt := range tests {
		t.Run(tt.provider+"/"+tt.want, func(t *testing.T) {
			t.Setenv("ORACLE_PROVIDER", tt.provider)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Oracle.APIKey)
		})
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ORACLE_PROVIDER", "GRPC")
	t.Setenv("ORACLE_GRPC_ADDR", "oracle:9000")
	t.Setenv("ORACLE_TIMEOUT", "15s")
	t.Setenv("RATE_LIMIT_REQUESTS", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "10s")
	t.Setenv("SESSION_RETENTION", "0")
	t.Setenv("FRONTEND_URL", "https://plan.example.com")
	t.Setenv("CONVERSATION_LOG_ENABLED", "off")
	t.Setenv("CONVERSATION_LOG_QUEUE_SIZE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "grpc", cfg.Oracle.Provider)
	assert.Equal(t, "oracle:9000", cfg.Oracle.GRPCAddr)
	assert.Equal(t, 15*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, 5, cfg.RateLimit.Requests)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)
	assert.Zero(t, cfg.SessionRetention)
	assert.False(t, cfg.ConversationLog.Enabled)
	assert.Equal(t, 1000, cfg.ConversationLog.QueueSize)
	assert.False(t, cfg.IsDevelopment())
}

func TestValidate_Rejects(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:      "8080",
			DBPath:    "x.db",
			Oracle:    OracleConfig{Provider: "dry"},
			RateLimit: RateLimitConfig{Requests: 1, Window: time.Second},
			ConversationLog: ConversationLogConfig{
				Dir: "logs", GlobalPath: "logs/all.ndjson", QueueSize: 1,
			},
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(c *Config){
		"empty port":        func(c *Config) { c.Port = "" },
		"empty db":          func(c *Config) { c.DBPath = "" },
		"unknown provider":  func(c *Config) { c.Oracle.Provider = "eliza" },
		"missing key":       func(c *Config) { c.Oracle.Provider = "openai" },
		"missing grpc addr": func(c *Config) { c.Oracle.Provider = "grpc" },
		"zero window":       func(c *Config) { c.RateLimit.Window = 0 },
		"negative ttl":      func(c *Config) { c.SessionRetention = -time.Second },
		"zero queue":        func(c *Config) { c.ConversationLog.QueueSize = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

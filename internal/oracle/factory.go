package oracle

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Provider names accepted by New.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGRPC      = "grpc"
	ProviderDry       = "dry"
)

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	// Address is the host:port of the oracle service for the grpc provider.
	Address        string
	ConnectTimeout time.Duration
	Timeout        time.Duration
	MaxTokens      int64
	RatePerMinute  int
	Burst          int
	// Prompts overrides the built-in prompt catalogue.
	Prompts *Prompts
}

func (c Config) prompts() *Prompts {
	if c.Prompts != nil {
		return c.Prompts
	}
	return DefaultPrompts()
}

// New builds the configured provider wrapped in rate limiting and a per-call
// deadline.
func New(ctx context.Context, cfg Config) (*Limited, error) {
	var (
		next Oracle
		err  error
	)
	switch cfg.Provider {
	case ProviderGemini, "":
		next, err = NewGemini(ctx, cfg)
	case ProviderOpenAI:
		next, err = NewOpenAI(cfg)
	case ProviderAnthropic:
		next, err = NewAnthropic(cfg)
	case ProviderGRPC:
		next, err = DialRemote(cfg)
	case ProviderDry:
		next = NewScript().Otherwise(Dry)
	default:
		return nil, fmt.Errorf("%w: %s (supported: gemini, openai, anthropic, grpc, dry)", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewLimited(next, cfg.RatePerMinute, cfg.Burst, cfg.Timeout), nil
}

// Close releases the wrapped provider's resources, if it holds any.
func (l *Limited) Close() error {
	if c, ok := l.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

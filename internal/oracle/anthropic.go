package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// Anthropic answers through the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	prompts   *Prompts
}

// NewAnthropic creates an Anthropic oracle. extra options are appended after
// the ones derived from cfg.
func NewAnthropic(cfg Config, extra ...option.RequestOption) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "claude-haiku-4-5-20251001"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, extra...)

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		prompts:   cfg.prompts(),
	}, nil
}

// Generate implements Oracle.
func (a *Anthropic) Generate(ctx context.Context, req Request) (string, error) {
	system, err := a.prompts.Instructions(req)
	if err != nil {
		return "", err
	}

	msgs := conversation(req)
	// The Messages API requires the first message to come from the user.
	if len(msgs) == 0 || msgs[0].fromModel {
		msgs = append([]exchange{{text: "Begin."}}, msgs...)
	}
	params := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		block := anthropic.NewTextBlock(m.text)
		if m.fromModel {
			params = append(params, anthropic.NewAssistantMessage(block))
		} else {
			params = append(params, anthropic.NewUserMessage(block))
		}
	}

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages:  params,
	})
	if err != nil {
		return "", classify(ctx, "anthropic", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: anthropic", ErrEmptyResponse)
	}
	return text, nil
}

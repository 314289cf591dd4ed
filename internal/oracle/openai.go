package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

// OpenAI answers through the OpenAI Responses API.
type OpenAI struct {
	client    openai.Client
	model     string
	maxTokens int64
	prompts   *Prompts
}

// NewOpenAI creates an OpenAI oracle. extra options are appended after the
// ones derived from cfg.
func NewOpenAI(cfg Config, extra ...option.RequestOption) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, extra...)

	return &OpenAI{
		client:    openai.NewClient(opts...),
		model:     model,
		maxTokens: cfg.MaxTokens,
		prompts:   cfg.prompts(),
	}, nil
}

// Generate implements Oracle.
func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	system, err := o.prompts.Instructions(req)
	if err != nil {
		return "", err
	}

	var items responses.ResponseInputParam
	for _, m := range conversation(req) {
		role := responses.EasyInputMessageRoleUser
		if m.fromModel {
			role = responses.EasyInputMessageRoleAssistant
		}
		items = append(items, responses.ResponseInputItemUnionParam{
			OfMessage: &responses.EasyInputMessageParam{
				Role:    role,
				Content: responses.EasyInputMessageContentUnionParam{OfString: openai.String(m.text)},
			},
		})
	}

	params := responses.ResponseNewParams{
		Model:        shared.ResponsesModel(o.model),
		Instructions: openai.String(system),
		Input:        responses.ResponseNewParamsInputUnion{OfInputItemList: items},
	}
	if o.maxTokens > 0 {
		params.MaxOutputTokens = openai.Int(o.maxTokens)
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return "", classify(ctx, "openai", err)
	}

	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		return "", fmt.Errorf("%w: openai", ErrEmptyResponse)
	}
	return text, nil
}

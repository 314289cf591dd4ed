package oracle

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini answers through the Google GenAI API in JSON response mode.
type Gemini struct {
	client  *genai.Client
	model   string
	prompts *Prompts
}

// NewGemini creates a Gemini oracle.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &Gemini{client: client, model: model, prompts: cfg.prompts()}, nil
}

// Generate implements Oracle.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	system, err := g.prompts.Instructions(req)
	if err != nil {
		return "", err
	}

	var contents []*genai.Content
	for _, m := range conversation(req) {
		role := genai.Role(genai.RoleUser)
		if m.fromModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.text, role))
	}
	if len(contents) == 0 {
		contents = append(contents, genai.NewContentFromText("Begin.", genai.RoleUser))
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", classify(ctx, "gemini", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: gemini", ErrEmptyResponse)
	}
	return text, nil
}

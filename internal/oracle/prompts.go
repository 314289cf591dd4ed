package oracle

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/goalpath/internal/domain"
)

//go:embed prompts.yaml
var defaultPrompts []byte

type promptFile struct {
	System string            `yaml:"system"`
	Phases map[string]string `yaml:"phases"`
}

// Prompts renders the system instruction sent with every request.
type Prompts struct {
	system *template.Template
	phases map[domain.PhaseTag]*template.Template
}

type promptData struct {
	Context
	Phase domain.PhaseTag
}

var promptFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	},
}

// DefaultPrompts returns the built-in prompt catalogue.
func DefaultPrompts() *Prompts {
	p, err := ParsePrompts(defaultPrompts)
	if err != nil {
		panic(fmt.Sprintf("built-in prompts: %v", err))
	}
	return p
}

// ParsePrompts parses a YAML catalogue with a system template and one
// template per conversational phase.
func ParsePrompts(data []byte) (*Prompts, error) {
	var file promptFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	if strings.TrimSpace(file.System) == "" {
		return nil, fmt.Errorf("parse prompts: system template is empty")
	}

	system, err := template.New("system").Funcs(promptFuncs).Parse(file.System)
	if err != nil {
		return nil, fmt.Errorf("parse system prompt: %w", err)
	}

	p := &Prompts{system: system, phases: make(map[domain.PhaseTag]*template.Template)}
	for name, body := range file.Phases {
		phase, err := domain.ParsePhaseTag(name)
		if err != nil {
			return nil, fmt.Errorf("parse prompts: %w", err)
		}
		tmpl, err := template.New(name).Funcs(promptFuncs).Parse(body)
		if err != nil {
			return nil, fmt.Errorf("parse %s prompt: %w", name, err)
		}
		p.phases[phase] = tmpl
	}

	for _, phase := range domain.AllPhases() {
		if phase == domain.PhaseGoalCompleted {
			continue
		}
		if _, ok := p.phases[phase]; !ok {
			return nil, fmt.Errorf("parse prompts: missing template for %s", phase)
		}
	}
	return p, nil
}

// Instructions renders the system instruction for req.
func (p *Prompts) Instructions(req Request) (string, error) {
	tmpl, ok := p.phases[req.Phase]
	if !ok {
		return "", fmt.Errorf("no prompt for phase %s", req.Phase)
	}

	data := promptData{Context: req.Context, Phase: req.Phase}
	var b strings.Builder
	if err := p.system.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	b.WriteString("\n")
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", req.Phase, err)
	}
	return b.String(), nil
}

// exchange is one message in provider-neutral form.
type exchange struct {
	fromModel bool
	text      string
}

// conversation flattens the transcript and the new input into the message
// list every chat-style provider sends. Empty input is skipped.
func conversation(req Request) []exchange {
	out := make([]exchange, 0, len(req.Transcript)+1)
	for _, t := range req.Transcript {
		out = append(out, exchange{fromModel: t.Role == domain.RoleModel, text: t.Content})
	}
	if strings.TrimSpace(req.UserInput) != "" {
		out = append(out, exchange{text: req.UserInput})
	}
	return out
}

package agents

import (
	"context"

	"go.uber.org/zap"

	"github.com/opsmesh/opsmesh/internal/a2a"
	"github.com/opsmesh/opsmesh/internal/discovery"
)

// Generator produces text for a system prompt and a user message.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

const assistantSystemPrompt = "You draft short, clear messages for hospital " +
	"patients and staff. Use plain language, never invent medical advice, " +
	"and keep messages under three sentences."

// NewAssistantAgent builds the text generation agent. Other agents call it
// to draft patient-facing wording; it is optional and the mesh degrades to
// templated messages without it.
func NewAssistantAgent(transport a2a.Transport, disc *discovery.Service, gen Generator, opts Options, logger *zap.Logger) *Agent {
	a := New("assistant", "Message Assistant", transport, disc, opts, logger)

	a.Handle(a2a.Capability{
		Name:        a2a.CapGenerateResponse,
		Description: "Draft a short message from a prompt",
		Parameters: []a2a.Parameter{
			{Name: "prompt", Type: "string", Required: true},
		},
		ResultSchema: map[string]string{"text": "string"},
	}, func(ctx context.Context, params map[string]any) (map[string]any, error) {
		prompt, err := param(params, "prompt")
		if err != nil {
			return nil, err
		}
		text, err := gen.Generate(ctx, assistantSystemPrompt, prompt)
		if err != nil {
			return nil, err
		}
		return map[string]any{"text": text}, nil
	})

	return a
}

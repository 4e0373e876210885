package provider

import (
	"context"

	"github.com/steveyegge/gatewayd/internal/gwtypes"
)

// echoProvider returns its input prompt verbatim. It exists for smoke
// testing the queue/dispatcher/webhook path without a real model or network
// access, the same role internal/coop's fake transport plays for exercising
// client retry logic without a live server.
type echoProvider struct {
	name string
	info gwtypes.ModelInfo
}

// NewEchoProvider constructs the always-available "echo" provider.
func NewEchoProvider(name string) Provider {
	return &echoProvider{
		name: name,
		info: gwtypes.ModelInfo{
			Name:              name,
			ProviderKind:      "echo",
			ContextWindow:     1 << 20,
			MaxOutputTokens:   1 << 20,
			SupportsStreaming: true,
			Loaded:            true,
		},
	}
}

func (p *echoProvider) Generate(ctx context.Context, req Request) (*gwtypes.GenerationResult, error) {
	text := req.Prompt
	if text == "" && len(req.Messages) > 0 {
		text = req.Messages[len(req.Messages)-1].Content
	}
	words := len(splitWords(text))
	return &gwtypes.GenerationResult{
		Text:         text,
		FinishReason: gwtypes.FinishStop,
		ModelName:    p.name,
		Usage: gwtypes.Usage{
			PromptTokens:     words,
			CompletionTokens: words,
			TotalTokens:      words * 2,
		},
	}, nil
}

func (p *echoProvider) GenerateStream(ctx context.Context, req Request) (<-chan gwtypes.StreamChunk, error) {
	result, err := p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan gwtypes.StreamChunk, 1)
	go func() {
		defer close(out)
		finish := result.FinishReason
		usage := result.Usage
		out <- gwtypes.StreamChunk{Delta: result.Text, FinishReason: &finish, Usage: &usage}
	}()
	return out, nil
}

func (p *echoProvider) GetModelInfo() gwtypes.ModelInfo { return p.info }

func (p *echoProvider) HealthCheck(ctx context.Context) bool { return true }

func (p *echoProvider) Cleanup() error { return nil }

func splitWords(s string) []string {
	var words []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			if start >= 0 {
				words = append(words, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, s[start:])
	}
	return words
}

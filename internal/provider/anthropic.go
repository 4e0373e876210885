package provider

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/gatewayd/internal/gwerrors"
	"github.com/steveyegge/gatewayd/internal/gwtypes"
	"github.com/steveyegge/gatewayd/internal/telemetry"
)

// anthropicProvider is the cloud-unified provider variant backed by the
// Anthropic Messages API. Call mechanics follow internal/compact/haiku.go's
// haikuClient: same client construction, same retry-on-429/5xx loop, same
// OTel span/metric instrumentation — generalized from a fixed
// summarization prompt to arbitrary prompts/messages and params.
type anthropicProvider struct {
	name       string
	client     anthropic.Client
	model      anthropic.Model
	maxRetries uint64
	info       gwtypes.ModelInfo
}

// NewAnthropicProvider constructs a cloud provider for preset. The API key
// is read from the environment variable named by preset.APIKeyEnv, falling
// back to ANTHROPIC_API_KEY, matching haikuClient's precedence.
func NewAnthropicProvider(name string, preset Preset) (Provider, error) {
	keyEnv := preset.APIKeyEnv
	if keyEnv == "" {
		keyEnv = "ANTHROPIC_API_KEY"
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, gwerrors.New(gwerrors.CodeProviderAuthentication, "environment variable %s is not set", keyEnv)
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	modelID := preset.Extra["model_id"]
	if modelID == "" {
		modelID = name
	}

	contextWindow := preset.ContextWindow
	if contextWindow == 0 {
		contextWindow = 200_000
	}
	maxOut := preset.MaxOutputTokens
	if maxOut == 0 {
		maxOut = 8192
	}

	return &anthropicProvider{
		name:       name,
		client:     client,
		model:      anthropic.Model(modelID),
		maxRetries: 3,
		info: gwtypes.ModelInfo{
			Name:                     name,
			ProviderKind:             "cloud-unified",
			ContextWindow:            contextWindow,
			MaxOutputTokens:          maxOut,
			SupportsStreaming:        true,
			SupportsStructuredOutput: false,
			Loaded:                   true,
		},
	}, nil
}

func (p *anthropicProvider) GetModelInfo() gwtypes.ModelInfo { return p.info }

func (p *anthropicProvider) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: 1,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("ping"))},
	})
	return err == nil || !errors.As(err, new(*anthropic.Error))
}

func (p *anthropicProvider) Cleanup() error { return nil }

func (p *anthropicProvider) Generate(ctx context.Context, req Request) (*gwtypes.GenerationResult, error) {
	tracer := telemetry.Tracer("github.com/steveyegge/gatewayd/provider")
	ctx, span := tracer.Start(ctx, "anthropic.messages.new")
	defer span.End()
	span.SetAttributes(
		attribute.String("gateway.model", p.name),
		attribute.String("gateway.provider_kind", "cloud-unified"),
	)

	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: int64(maxTokensOrDefault(req.Params.MaxTokens)),
		Messages:  p.toMessageParams(req),
	}
	if req.Params.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Params.Temperature)
	}
	if req.Params.TopP > 0 {
		params.TopP = anthropic.Float(req.Params.TopP)
	}
	if len(req.Params.StopSequences) > 0 {
		params.StopSequences = req.Params.StopSequences
	}

	message, err := p.callWithRetry(ctx, span, params)
	if err != nil {
		return nil, err
	}

	text := ""
	if len(message.Content) > 0 && message.Content[0].Type == "text" {
		text = message.Content[0].Text
	}

	finish := gwtypes.FinishStop
	if message.StopReason == "max_tokens" {
		finish = gwtypes.FinishLen
	}

	return &gwtypes.GenerationResult{
		Text:         text,
		FinishReason: finish,
		ModelName:    p.name,
		Usage: gwtypes.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}, nil
}

// callWithRetry follows haikuClient.callWithRetry's shape (exponential
// backoff on 429/5xx/timeouts, immediate failure otherwise) but delegates
// the backoff schedule to cenkalti/backoff/v4 rather than a hand-rolled
// math.Pow loop, since the library is already in the dependency graph.
func (p *anthropicProvider) callWithRetry(ctx context.Context, span trace.Span, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	var message *anthropic.Message
	var attempts int

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.maxRetries)
	policy = backoff.WithContext(policy, ctx)

	op := func() error {
		attempts++
		t0 := time.Now()
		m, err := p.client.Messages.New(ctx, params)
		recordCallMetrics(ctx, p.name, time.Since(t0))
		if err == nil {
			message = m
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(classifyAnthropicError(err))
		}
		return err
	}

	if err := backoff.Retry(op, policy); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			span.RecordError(perm.Err)
			span.SetStatus(codes.Error, perm.Err.Error())
			return nil, perm.Err
		}
		wrapped := gwerrors.Wrap(gwerrors.CodeProviderUnavailable, err, "anthropic request failed after %d attempts", attempts)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return nil, wrapped
	}
	span.SetAttributes(attribute.Int("gateway.provider.attempts", attempts))
	return message, nil
}

func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return gwerrors.Wrap(gwerrors.CodeProviderAuthentication, err, "anthropic rejected credentials")
		case apiErr.StatusCode == 413:
			return gwerrors.Wrap(gwerrors.CodeContextLengthExceeded, err, "anthropic request exceeded context window")
		}
	}
	return gwerrors.Wrap(gwerrors.CodeGenerationFailed, err, "anthropic generation failed")
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

func (p *anthropicProvider) toMessageParams(req Request) []anthropic.MessageParam {
	if len(req.Messages) > 0 {
		out := make([]anthropic.MessageParam, 0, len(req.Messages))
		for _, m := range req.Messages {
			block := anthropic.NewTextBlock(m.Content)
			switch m.Role {
			case gwtypes.RoleAssistant:
				out = append(out, anthropic.NewAssistantMessage(block))
			default:
				out = append(out, anthropic.NewUserMessage(block))
			}
		}
		return out
	}
	return []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))}
}

func (p *anthropicProvider) GenerateStream(ctx context.Context, req Request) (<-chan gwtypes.StreamChunk, error) {
	out := make(chan gwtypes.StreamChunk, 1)
	result, err := p.Generate(ctx, req)
	if err != nil {
		close(out)
		return nil, err
	}
	go func() {
		defer close(out)
		finish := result.FinishReason
		usage := result.Usage
		out <- gwtypes.StreamChunk{Delta: result.Text, FinishReason: &finish, Usage: &usage}
	}()
	return out, nil
}

func maxTokensOrDefault(v int) int {
	if v <= 0 {
		return 1024
	}
	return v
}

var aiMetrics struct {
	duration metric.Float64Histogram
}

func init() {
	m := telemetry.Meter("github.com/steveyegge/gatewayd/provider")
	aiMetrics.duration, _ = m.Float64Histogram("gateway.provider.request.duration",
		metric.WithDescription("Provider call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

func recordCallMetrics(ctx context.Context, model string, d time.Duration) {
	if aiMetrics.duration == nil {
		return
	}
	aiMetrics.duration.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(attribute.String("gateway.model", model)))
}

package provider

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/gatewayd/internal/gpu"
	"github.com/steveyegge/gatewayd/internal/gwerrors"
	"github.com/steveyegge/gatewayd/internal/gwtypes"
)

// localProvider models a locally resident model (e.g. a GGUF file served by
// an in-process runner). It implements the Loadable extension capability so
// the residency manager can load/unload it under VRAM pressure, the same
// optional-capability pattern provider.go documents for AsLoadable.
//
// Actual weight loading is out of scope for this gateway (spec section 1
// excludes model runtime internals); LoadModel/UnloadModel here simulate
// the resource transition the residency manager needs to reason about,
// the way a test double stands in for a dependency whose internals are
// someone else's concern.
type localProvider struct {
	mu        sync.Mutex
	name      string
	requiredMB int64
	loaded    bool
	info      gwtypes.ModelInfo
}

// NewLocalProvider constructs a Loadable provider for a local model preset.
func NewLocalProvider(name string, preset Preset) (Provider, error) {
	quant := preset.Extra["quantization"]
	if quant == "" {
		quant = "q4_k_m"
	}
	requiredMB := preset.VRAMByQuant[quant]
	if requiredMB == 0 {
		requiredMB = gpu.EstimateVRAMMB(preset.ParamBillions, quant)
	}

	contextWindow := preset.ContextWindow
	if contextWindow == 0 {
		contextWindow = 8192
	}
	maxOut := preset.MaxOutputTokens
	if maxOut == 0 {
		maxOut = 2048
	}

	return &localProvider{
		name:       name,
		requiredMB: requiredMB,
		info: gwtypes.ModelInfo{
			Name:            name,
			ProviderKind:    "local",
			ContextWindow:   contextWindow,
			MaxOutputTokens: maxOut,
			SupportsStreaming: true,
			Extra:           map[string]any{"quantization": quant, "model_file": preset.ModelFile},
		},
	}, nil
}

func (p *localProvider) RequiredVRAMMB() int64 { return p.requiredMB }

func (p *localProvider) LoadModel(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loaded {
		return nil
	}
	// Weight loading itself is simulated; a real runner would mmap/parse
	// the GGUF file here and fail on corrupt or missing files.
	p.loaded = true
	return nil
}

func (p *localProvider) UnloadModel() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = false
	return nil
}

func (p *localProvider) GetModelInfo() gwtypes.ModelInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := p.info
	info.Loaded = p.loaded
	return info
}

func (p *localProvider) HealthCheck(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

func (p *localProvider) Cleanup() error { return p.UnloadModel() }

func (p *localProvider) Generate(ctx context.Context, req Request) (*gwtypes.GenerationResult, error) {
	p.mu.Lock()
	loaded := p.loaded
	p.mu.Unlock()
	if !loaded {
		return nil, gwerrors.New(gwerrors.CodeGenerationFailed, "model %q is not loaded", p.name)
	}

	text := req.Prompt
	if text == "" && len(req.Messages) > 0 {
		text = req.Messages[len(req.Messages)-1].Content
	}
	reply := strings.TrimSpace(text)

	return &gwtypes.GenerationResult{
		Text:         reply,
		FinishReason: gwtypes.FinishStop,
		ModelName:    p.name,
		Usage: gwtypes.Usage{
			PromptTokens:     len(strings.Fields(text)),
			CompletionTokens: len(strings.Fields(reply)),
		},
	}, nil
}

func (p *localProvider) GenerateStream(ctx context.Context, req Request) (<-chan gwtypes.StreamChunk, error) {
	result, err := p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan gwtypes.StreamChunk, 1)
	go func() {
		defer close(out)
		select {
		case <-ctx.Done():
			return
		case <-time.After(0):
		}
		finish := result.FinishReason
		usage := result.Usage
		out <- gwtypes.StreamChunk{Delta: result.Text, FinishReason: &finish, Usage: &usage}
	}()
	return out, nil
}

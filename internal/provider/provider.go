// Package provider defines the capability set every model backend must
// fulfill and owns the registry that maps model names to live provider
// instances. Modeled on spec section 9's guidance to treat the source's
// runtime-checkable capability interface as a polymorphic capability set
// with optional extension capabilities, the way internal/coop.Client
// exposes a fixed REST surface that callers probe incrementally.
package provider

import (
	"context"

	"github.com/steveyegge/gatewayd/internal/gwtypes"
)

// Request bundles what a provider needs to run one generation: exactly one
// of Prompt or Messages is populated, per spec section 3.
type Request struct {
	Prompt   string
	Messages []gwtypes.Message
	Params   gwtypes.GenerationParams
}

// Provider is the capability set every backend (cloud-unified, local,
// embedding) must implement.
type Provider interface {
	Generate(ctx context.Context, req Request) (*gwtypes.GenerationResult, error)
	GenerateStream(ctx context.Context, req Request) (<-chan gwtypes.StreamChunk, error)
	GetModelInfo() gwtypes.ModelInfo
	HealthCheck(ctx context.Context) bool
	Cleanup() error
}

// Loadable is an extension capability: local providers that hold resident
// model weights implement this so the registry and residency manager can
// load/unload them explicitly. Absent on cloud providers.
type Loadable interface {
	LoadModel(ctx context.Context) error
	UnloadModel() error
	RequiredVRAMMB() int64
}

// Embedder is an extension capability for embedding-only providers.
// Out of scope per spec section 1 ("the embedding/similarity math"); the
// interface exists so a registered embedding provider can be probed for
// without special-casing its type, per spec section 9's capability-probe
// guidance. AsEmbedder reports ok == false for a provider that doesn't
// implement it.
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float64, error)
}

// AsLoadable probes a provider for the Loadable extension capability.
func AsLoadable(p Provider) (Loadable, bool) {
	l, ok := p.(Loadable)
	return l, ok
}

// AsEmbedder probes a provider for the Embedder extension capability.
func AsEmbedder(p Provider) (Embedder, bool) {
	e, ok := p.(Embedder)
	return e, ok
}

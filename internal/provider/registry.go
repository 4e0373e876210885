package provider

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/steveyegge/gatewayd/internal/gwerrors"
	"github.com/steveyegge/gatewayd/internal/gwtypes"
)

var logger = log.New(os.Stderr, "provider: ", log.LstdFlags)

// Factory constructs a Provider from a resolved preset.
type Factory func(ctx context.Context, preset Preset) (Provider, error)

// Registry owns provider instances and lazily instantiates from the preset
// catalog on lookup miss. Lazy creation holds the mutex only long enough to
// detect absence and swap in the new instance, the concurrency discipline
// internal/registry.SessionRegistry.healthCheckAll follows for its own
// bounded-concurrency fan-out, generalized here to a double-checked-lock
// single-flight creation instead of a semaphore.
type Registry struct {
	mu        sync.Mutex
	providers map[string]Provider
	catalog   *Catalog
	factories map[string]Factory // keyed by preset "kind" (cloud, local, embedding)
	inflight  map[string]chan struct{}
}

// NewRegistry creates a Registry backed by the given preset catalog.
func NewRegistry(catalog *Catalog) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		catalog:   catalog,
		factories: make(map[string]Factory),
		inflight:  make(map[string]chan struct{}),
	}
}

// RegisterFactory binds a preset kind (e.g. "cloud", "local", "embedding")
// to the constructor used for get_or_create misses of that kind.
func (r *Registry) RegisterFactory(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Register adds an explicitly constructed provider. Rejects duplicates.
func (r *Registry) Register(name string, p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		return gwerrors.New(gwerrors.CodeConflict, "provider %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

// Unregister removes a provider and triggers its cleanup.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	p, exists := r.providers[name]
	if exists {
		delete(r.providers, name)
	}
	r.mu.Unlock()

	if !exists {
		return gwerrors.New(gwerrors.CodeNotFound, "provider %q not registered", name)
	}
	if err := p.Cleanup(); err != nil {
		logger.Printf("cleanup failed for %q: %v", name, err)
	}
	return nil
}

// Get returns an already-registered provider, or not-registered.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, exists := r.providers[name]
	if !exists {
		return nil, gwerrors.New(gwerrors.CodeNotFound, "provider %q not registered", name)
	}
	return p, nil
}

// GetOrCreate returns the registered provider, or lazily constructs one
// from the preset catalog. Concurrent callers racing to create the same
// model see a single construction: the first caller wins and later callers
// block on its result rather than double-constructing.
func (r *Registry) GetOrCreate(ctx context.Context, name string) (Provider, error) {
	r.mu.Lock()
	if p, exists := r.providers[name]; exists {
		r.mu.Unlock()
		return p, nil
	}
	if wait, inflight := r.inflight[name]; inflight {
		r.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return r.Get(name)
	}
	done := make(chan struct{})
	r.inflight[name] = done
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inflight, name)
		r.mu.Unlock()
		close(done)
	}()

	preset, ok := r.catalog.Lookup(name)
	if !ok {
		return nil, gwerrors.New(gwerrors.CodeModelNotFound, "model %q is not registered and no preset matches it", name)
	}

	r.mu.Lock()
	factory, ok := r.factories[preset.Kind]
	r.mu.Unlock()
	if !ok {
		return nil, gwerrors.New(gwerrors.CodeModelNotFound, "no factory registered for preset kind %q", preset.Kind)
	}

	p, err := factory(ctx, preset)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.CodeGenerationFailed, err, "constructing provider %q from preset", name)
	}

	if err := r.Register(name, p); err != nil {
		// Another caller won a race despite the inflight gate (e.g. an
		// explicit Register call landed concurrently); prefer the
		// already-registered instance and discard ours.
		_ = p.Cleanup()
		return r.Get(name)
	}
	return p, nil
}

// Resolvable reports whether a model is registered or presentable via a
// preset, without constructing it. Used by submit_task's up-front check.
func (r *Registry) Resolvable(name string) bool {
	r.mu.Lock()
	_, exists := r.providers[name]
	r.mu.Unlock()
	if exists {
		return true
	}
	_, ok := r.catalog.Lookup(name)
	return ok
}

// ListProviders returns the names of all currently registered providers.
func (r *Registry) ListProviders() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// HealthCheckAll runs HealthCheck concurrently across all registered providers.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]bool {
	r.mu.Lock()
	snapshot := make(map[string]Provider, len(r.providers))
	for name, p := range r.providers {
		snapshot[name] = p
	}
	r.mu.Unlock()

	results := make(map[string]bool, len(snapshot))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, p := range snapshot {
		wg.Add(1)
		go func(name string, p Provider) {
			defer wg.Done()
			ok := p.HealthCheck(ctx)
			mu.Lock()
			results[name] = ok
			mu.Unlock()
		}(name, p)
	}
	wg.Wait()
	return results
}

// GetAllModelsInfo returns static metadata for every registered provider.
func (r *Registry) GetAllModelsInfo() map[string]gwtypes.ModelInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]gwtypes.ModelInfo, len(r.providers))
	for name, p := range r.providers {
		out[name] = p.GetModelInfo()
	}
	return out
}

// CleanupAll releases every registered provider's resources, used on
// process shutdown after the dispatcher and fan-out are torn down.
func (r *Registry) CleanupAll() {
	r.mu.Lock()
	snapshot := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		snapshot = append(snapshot, p)
	}
	r.providers = make(map[string]Provider)
	r.mu.Unlock()

	for _, p := range snapshot {
		if err := p.Cleanup(); err != nil {
			logger.Printf("cleanup error during shutdown: %v", err)
		}
	}
}

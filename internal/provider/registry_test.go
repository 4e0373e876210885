package provider

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/gatewayd/internal/gwerrors"
)

func newTestRegistry() *Registry {
	catalog, _ := NewCatalog("")
	catalog.RegisterDefault(Preset{Name: "echo-preset", Kind: "echo"})
	r := NewRegistry(catalog)
	return r
}

func TestRegisterAndGet(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register("echo", NewEchoProvider("echo")))

	p, err := r.Get("echo")
	require.NoError(t, err)
	assert.Equal(t, "echo", p.GetModelInfo().Name)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register("echo", NewEchoProvider("echo")))
	err := r.Register("echo", NewEchoProvider("echo"))
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeConflict, gwerrors.CodeOf(err))
}

func TestGetUnregisteredReturnsNotFound(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Get("nope")
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeNotFound, gwerrors.CodeOf(err))
}

func TestGetOrCreateLazilyConstructsFromFactory(t *testing.T) {
	r := newTestRegistry()
	var calls int32
	r.RegisterFactory("echo", func(ctx context.Context, preset Preset) (Provider, error) {
		atomic.AddInt32(&calls, 1)
		return NewEchoProvider(preset.Name), nil
	})

	p, err := r.GetOrCreate(context.Background(), "echo-preset")
	require.NoError(t, err)
	assert.Equal(t, "echo-preset", p.GetModelInfo().Name)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	p2, err := r.GetOrCreate(context.Background(), "echo-preset")
	require.NoError(t, err)
	assert.Same(t, p, p2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second call should not re-invoke the factory")
}

func TestGetOrCreateUnknownModelReturnsModelNotFound(t *testing.T) {
	r := newTestRegistry()
	_, err := r.GetOrCreate(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeModelNotFound, gwerrors.CodeOf(err))
}

func TestGetOrCreateNoFactoryForKindReturnsModelNotFound(t *testing.T) {
	r := newTestRegistry()
	_, err := r.GetOrCreate(context.Background(), "echo-preset")
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeModelNotFound, gwerrors.CodeOf(err))
}

func TestGetOrCreateConcurrentCallersShareOneConstruction(t *testing.T) {
	r := newTestRegistry()
	var calls int32
	r.RegisterFactory("echo", func(ctx context.Context, preset Preset) (Provider, error) {
		atomic.AddInt32(&calls, 1)
		return NewEchoProvider(preset.Name), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.GetOrCreate(context.Background(), "echo-preset")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResolvable(t *testing.T) {
	r := newTestRegistry()
	assert.True(t, r.Resolvable("echo-preset"))
	assert.False(t, r.Resolvable("nope"))

	require.NoError(t, r.Register("direct", NewEchoProvider("direct")))
	assert.True(t, r.Resolvable("direct"))
}

func TestUnregisterRemovesProvider(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register("echo", NewEchoProvider("echo")))
	require.NoError(t, r.Unregister("echo"))

	_, err := r.Get("echo")
	require.Error(t, err)
}

func TestUnregisterMissingReturnsNotFound(t *testing.T) {
	r := newTestRegistry()
	err := r.Unregister("nope")
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeNotFound, gwerrors.CodeOf(err))
}

func TestHealthCheckAllAggregatesAcrossProviders(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register("echo", NewEchoProvider("echo")))

	results := r.HealthCheckAll(context.Background())
	assert.Equal(t, map[string]bool{"echo": true}, results)
}

func TestCleanupAllClearsRegistry(t *testing.T) {
	r := newTestRegistry()
	require.NoError(t, r.Register("echo", NewEchoProvider("echo")))
	r.CleanupAll()

	assert.Empty(t, r.ListProviders())
}

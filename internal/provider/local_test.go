package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/gatewayd/internal/gwerrors"
)

func TestNewLocalProviderUsesVRAMByQuantWhenPresent(t *testing.T) {
	preset := Preset{
		Name:        "llama-8b",
		ParamBillions: 8,
		VRAMByQuant: map[string]int64{"q4_k_m": 5500},
		Extra:       map[string]string{"quantization": "q4_k_m"},
	}
	p, err := NewLocalProvider("llama-8b", preset)
	require.NoError(t, err)
	loadable, ok := AsLoadable(p)
	require.True(t, ok)
	assert.Equal(t, int64(5500), loadable.RequiredVRAMMB())
}

func TestNewLocalProviderEstimatesWhenNoVRAMTable(t *testing.T) {
	preset := Preset{Name: "llama-8b", ParamBillions: 8}
	p, err := NewLocalProvider("llama-8b", preset)
	require.NoError(t, err)
	loadable, ok := AsLoadable(p)
	require.True(t, ok)
	assert.Greater(t, loadable.RequiredVRAMMB(), int64(0))
}

func TestLocalProviderGenerateFailsUntilLoaded(t *testing.T) {
	p, err := NewLocalProvider("llama-8b", Preset{Name: "llama-8b", ParamBillions: 8})
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, gwerrors.CodeGenerationFailed, gwerrors.CodeOf(err))

	loadable, _ := AsLoadable(p)
	require.NoError(t, loadable.LoadModel(context.Background()))

	result, err := p.Generate(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Text)
}

func TestLocalProviderGetModelInfoReflectsLoadedState(t *testing.T) {
	p, err := NewLocalProvider("llama-8b", Preset{Name: "llama-8b", ParamBillions: 8})
	require.NoError(t, err)

	assert.False(t, p.GetModelInfo().Loaded)

	loadable, _ := AsLoadable(p)
	require.NoError(t, loadable.LoadModel(context.Background()))
	assert.True(t, p.GetModelInfo().Loaded)

	require.NoError(t, loadable.UnloadModel())
	assert.False(t, p.GetModelInfo().Loaded)
}

func TestLocalProviderHealthCheckTracksLoadedState(t *testing.T) {
	p, err := NewLocalProvider("llama-8b", Preset{Name: "llama-8b", ParamBillions: 8})
	require.NoError(t, err)
	assert.False(t, p.HealthCheck(context.Background()))

	loadable, _ := AsLoadable(p)
	require.NoError(t, loadable.LoadModel(context.Background()))
	assert.True(t, p.HealthCheck(context.Background()))
}

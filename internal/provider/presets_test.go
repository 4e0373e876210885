package provider

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePresetsYAML = `
presets:
  - name: claude-3-haiku
    kind: cloud
    provider_kind: anthropic
    context_window: 200000
  - name: llama-8b
    kind: local
    param_billions: 8
    model_file: /models/llama-8b.gguf
`

func writePresetsFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestNewCatalogEmptyPathYieldsUsableCatalog(t *testing.T) {
	c, err := NewCatalog("")
	require.NoError(t, err)
	assert.Empty(t, c.Names())
	_, ok := c.Lookup("anything")
	assert.False(t, ok)
}

func TestNewCatalogMissingFileIsNotAnError(t *testing.T) {
	c, err := NewCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, c.Names())
}

func TestNewCatalogLoadsPresets(t *testing.T) {
	path := writePresetsFile(t, samplePresetsYAML)
	c, err := NewCatalog(path)
	require.NoError(t, err)

	p, ok := c.Lookup("llama-8b")
	require.True(t, ok)
	assert.Equal(t, "local", p.Kind)
	assert.Equal(t, float64(8), p.ParamBillions)

	assert.ElementsMatch(t, []string{"claude-3-haiku", "llama-8b"}, c.Names())
}

func TestCatalogReloadsOnFileChange(t *testing.T) {
	path := writePresetsFile(t, samplePresetsYAML)
	c, err := NewCatalog(path)
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.WriteFile(path, []byte(samplePresetsYAML+"  - name: extra-model\n    kind: cloud\n"), 0o644))
	require.NoError(t, os.Chtimes(path, future, future))

	_, ok := c.Lookup("extra-model")
	assert.True(t, ok)
}

func TestCatalogRegisterDefaultAddsAtRuntime(t *testing.T) {
	c, err := NewCatalog("")
	require.NoError(t, err)

	c.RegisterDefault(Preset{Name: "echo", Kind: "echo"})
	p, ok := c.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", p.Kind)
}

package provider

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Preset is a declarative record describing how to construct a provider.
// The embedding/similarity math and full YAML schema validation are out of
// scope per spec section 1; this is the minimal structural contract the
// registry's get_or_create needs.
type Preset struct {
	Name            string            `yaml:"name"`
	Kind            string            `yaml:"kind"` // "cloud", "local", "embedding"
	ProviderKind    string            `yaml:"provider_kind"`
	BaseURL         string            `yaml:"base_url"`
	APIKeyEnv       string            `yaml:"api_key_env"`
	ModelFile       string            `yaml:"model_file"`
	ParamBillions   float64           `yaml:"param_billions"`
	ContextWindow   int               `yaml:"context_window"`
	MaxOutputTokens int               `yaml:"max_output_tokens"`
	VRAMByQuant     map[string]int64  `yaml:"vram_by_quant_mb"`
	Extra           map[string]string `yaml:"extra"`
}

// catalogFile is the top-level shape of presets.yaml.
type catalogFile struct {
	Presets []Preset `yaml:"presets"`
}

// Catalog is an explicit, passed-by-reference preset catalog (spec section
// 9: "replace global mutable catalogs with explicit catalog objects").
// It re-stats its backing file on lookup miss so presets.yaml can be
// hand-edited while the daemon runs without a restart, without pulling in
// fsnotify for a single low-frequency stat (see SPEC_FULL.md section 4).
type Catalog struct {
	mu       sync.RWMutex
	path     string
	presets  map[string]Preset
	modTime  time.Time
}

// NewCatalog loads presets from path. An absent file yields an empty,
// still-usable catalog (every model must then be explicitly registered).
func NewCatalog(path string) (*Catalog, error) {
	c := &Catalog{path: path, presets: make(map[string]Preset)}
	if path == "" {
		return c, nil
	}
	if err := c.reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) reload() error {
	info, err := os.Stat(c.path)
	if err != nil {
		return err
	}

	c.mu.RLock()
	upToDate := !info.ModTime().After(c.modTime)
	c.mu.RUnlock()
	if upToDate {
		return nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}

	presets := make(map[string]Preset, len(file.Presets))
	for _, p := range file.Presets {
		presets[p.Name] = p
	}

	c.mu.Lock()
	c.presets = presets
	c.modTime = info.ModTime()
	c.mu.Unlock()
	return nil
}

// Lookup resolves name to a preset, re-checking the backing file's mtime
// first so edits take effect without a restart.
func (c *Catalog) Lookup(name string) (Preset, bool) {
	if c.path != "" {
		_ = c.reload()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.presets[name]
	return p, ok
}

// RegisterDefault adds or replaces a preset at runtime (spec section 9:
// registering additional defaults is a method on the catalog, not a global).
func (c *Catalog) RegisterDefault(p Preset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presets[p.Name] = p
}

// Names returns every preset name currently in the catalog.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.presets))
	for name := range c.presets {
		names = append(names, name)
	}
	return names
}

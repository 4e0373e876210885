package gpu

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/steveyegge/gatewayd/internal/gwerrors"
)

var residencyLogger = log.New(os.Stderr, "gpu/residency: ", log.LstdFlags)

// quantCoefficients maps a quantization scheme to GB-per-billion-parameters,
// used to estimate a local model's resident VRAM footprint when a preset
// does not declare one explicitly.
var quantCoefficients = map[string]float64{
	"q4_k_m": 0.5,
	"q5_k_m": 0.6,
	"q8_0":   0.9,
	"fp16":   2.0,
}

// quantFallbackOrder is tried, in order, when a preset's exact quantization
// has no VRAM figure and no coefficient is listed for it.
var quantFallbackOrder = []string{"q4_k_m", "q5_k_m", "q8_0", "fp16"}

// EstimateVRAMMB estimates resident VRAM in MB for a model of paramBillions
// parameters at the given quantization, with a 15% margin for KV cache and
// runtime overhead.
func EstimateVRAMMB(paramBillions float64, quant string) int64 {
	coeff, ok := quantCoefficients[quant]
	if !ok {
		for _, fallback := range quantFallbackOrder {
			if c, ok := quantCoefficients[fallback]; ok {
				coeff = c
				break
			}
		}
	}
	gb := paramBillions * coeff * 1.15
	return int64(gb * 1024)
}

// Resident describes one currently loaded model, as tracked by the
// residency Manager for eviction decisions.
type Resident struct {
	Name       string
	VRAMMB     int64
	LoadedAt   time.Time
	LastUsedAt time.Time
}

// Unloader is the subset of provider.Loadable the residency manager needs,
// kept narrow here so this package does not import provider (which would
// create an import cycle, since provider wires the residency manager in).
type Unloader interface {
	UnloadModel() error
}

// Manager tracks which local models are resident and evicts the
// least-recently-used ones to make room for a new load, mirroring the
// registry's double-checked-lock discipline for avoiding duplicate work
// under concurrent callers.
type Manager struct {
	mu       sync.Mutex
	monitor  *Monitor
	resident map[string]*Resident
	unload   map[string]Unloader
}

// NewManager constructs a residency Manager backed by monitor for VRAM
// budget checks.
func NewManager(monitor *Monitor) *Manager {
	return &Manager{
		monitor:  monitor,
		resident: make(map[string]*Resident),
		unload:   make(map[string]Unloader),
	}
}

// EnsureRoom evicts least-recently-used resident models, oldest first,
// until requiredMB fits in the available VRAM budget or nothing more can
// be evicted. Returns the names evicted.
//
// If the resident set empties before requiredMB fits, this is not an
// error: eviction is a best-effort courtesy to the upcoming load, not an
// admission gate. EnsureRoom logs a warning and returns the evictions made
// so far so the caller proceeds to load/generate anyway. Guard.Acquire does
// not check VRAM either, so insufficient VRAM never fails a task.
func (m *Manager) EnsureRoom(ctx context.Context, requiredMB int64) ([]string, error) {
	var evicted []string
	for {
		available, err := m.monitor.AvailableVRAMMB(ctx)
		if err != nil {
			return evicted, err
		}
		if requiredMB <= available {
			return evicted, nil
		}

		victim := m.oldestResident()
		if victim == nil {
			residencyLogger.Printf("WARN: insufficient VRAM after evicting all residents: need %d MB, %d MB available, proceeding anyway", requiredMB, available)
			return evicted, nil
		}
		if err := m.evict(victim.Name); err != nil {
			return evicted, err
		}
		evicted = append(evicted, victim.Name)
	}
}

// MarkLoaded records a model as resident, consuming vramMB of budget.
func (m *Manager) MarkLoaded(name string, vramMB int64, u Unloader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.resident[name] = &Resident{Name: name, VRAMMB: vramMB, LoadedAt: now, LastUsedAt: now}
	m.unload[name] = u
}

// Touch updates a resident model's last-used time for LRU ordering.
func (m *Manager) Touch(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resident[name]; ok {
		r.LastUsedAt = time.Now()
	}
}

// MarkUnloaded drops a model from residency tracking without invoking its
// unloader, used when the provider has already unloaded itself.
func (m *Manager) MarkUnloaded(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resident, name)
	delete(m.unload, name)
}

// Residents returns a snapshot of currently resident models.
func (m *Manager) Residents() []Resident {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Resident, 0, len(m.resident))
	for _, r := range m.resident {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.Before(out[j].LastUsedAt) })
	return out
}

func (m *Manager) oldestResident() *Resident {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *Resident
	for _, r := range m.resident {
		if oldest == nil || r.LastUsedAt.Before(oldest.LastUsedAt) {
			cp := *r
			oldest = &cp
		}
	}
	return oldest
}

func (m *Manager) evict(name string) error {
	m.mu.Lock()
	u, ok := m.unload[name]
	m.mu.Unlock()
	if !ok {
		return gwerrors.New(gwerrors.CodeNotFound, "resident model %q not tracked", name)
	}
	if err := u.UnloadModel(); err != nil {
		return gwerrors.Wrap(gwerrors.CodeInternal, err, "evicting model %q", name)
	}
	m.MarkUnloaded(name)
	return nil
}

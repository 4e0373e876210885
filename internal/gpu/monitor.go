// Package gpu tracks the single GPU's VRAM budget and enforces exclusive
// access to it. VRAM figures come from shelling out to nvidia-smi rather
// than linking a CUDA/NVML binding: none of the retrieved examples carry an NVML wrapper,
// and internal/git.GetGitDir shows the same exec.Command-and-parse-stdout
// idiom for talking to a CLI tool the repo does not want to vendor a client
// library for.
package gpu

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/gatewayd/internal/gwerrors"
	"github.com/steveyegge/gatewayd/internal/gwtypes"
)

// Monitor queries nvidia-smi for VRAM and utilization figures for a single
// GPU index.
type Monitor struct {
	gpuIndex    int
	reserveMB   int64
	maxUsagePct float64
	cmdTimeout  time.Duration
}

// NewMonitor constructs a Monitor for the given GPU index. reserveMB is
// always treated as unavailable headroom; maxUsagePct caps the fraction of
// total VRAM the gateway is willing to use even when more is physically free.
func NewMonitor(gpuIndex int, reserveMB int64, maxUsagePct float64) *Monitor {
	return &Monitor{
		gpuIndex:    gpuIndex,
		reserveMB:   reserveMB,
		maxUsagePct: maxUsagePct,
		cmdTimeout:  5 * time.Second,
	}
}

// GetVRAMUsage queries current VRAM totals for the configured GPU.
func (m *Monitor) GetVRAMUsage(ctx context.Context) (gwtypes.VRAMUsage, error) {
	out, err := m.query(ctx, "memory.total,memory.used,memory.free")
	if err != nil {
		return gwtypes.VRAMUsage{}, err
	}
	fields := strings.Split(out, ",")
	if len(fields) != 3 {
		return gwtypes.VRAMUsage{}, gwerrors.New(gwerrors.CodeInternal, "unexpected nvidia-smi output: %q", out)
	}
	total, err1 := parseMB(fields[0])
	used, err2 := parseMB(fields[1])
	free, err3 := parseMB(fields[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return gwtypes.VRAMUsage{}, gwerrors.New(gwerrors.CodeInternal, "unparseable nvidia-smi output: %q", out)
	}
	pct := 0.0
	if total > 0 {
		pct = float64(used) / float64(total) * 100
	}
	return gwtypes.VRAMUsage{TotalMB: total, UsedMB: used, FreeMB: free, UsedPercent: pct}, nil
}

// GetGPUInfo returns the fuller telemetry snapshot used for monitor/gpu and
// the event bus's periodic gpu_stats broadcast.
func (m *Monitor) GetGPUInfo(ctx context.Context) (gwtypes.GPUInfo, error) {
	out, err := m.query(ctx, "name,driver_version,utilization.gpu,temperature.gpu,memory.total,memory.used,memory.free")
	if err != nil {
		return gwtypes.GPUInfo{}, err
	}
	fields := strings.Split(out, ",")
	if len(fields) != 7 {
		return gwtypes.GPUInfo{}, gwerrors.New(gwerrors.CodeInternal, "unexpected nvidia-smi output: %q", out)
	}
	util, _ := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
	temp, _ := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64)
	total, _ := parseMB(fields[4])
	used, _ := parseMB(fields[5])
	free, _ := parseMB(fields[6])
	pct := 0.0
	if total > 0 {
		pct = float64(used) / float64(total) * 100
	}
	return gwtypes.GPUInfo{
		Name:        strings.TrimSpace(fields[0]),
		Driver:      strings.TrimSpace(fields[1]),
		Utilization: util,
		Temperature: temp,
		VRAM:        gwtypes.VRAMUsage{TotalMB: total, UsedMB: used, FreeMB: free, UsedPercent: pct},
	}, nil
}

// AvailableVRAMMB returns how much VRAM the gateway may still allocate,
// after subtracting the configured reserve and the max-usage-percent cap.
func (m *Monitor) AvailableVRAMMB(ctx context.Context) (int64, error) {
	usage, err := m.GetVRAMUsage(ctx)
	if err != nil {
		return 0, err
	}
	capMB := int64(float64(usage.TotalMB) * m.maxUsagePct / 100)
	budget := capMB - usage.UsedMB - m.reserveMB
	if budget < 0 {
		return 0, nil
	}
	return budget, nil
}

// CanAllocate reports whether requiredMB more VRAM fits within budget.
func (m *Monitor) CanAllocate(ctx context.Context, requiredMB int64) (bool, error) {
	available, err := m.AvailableVRAMMB(ctx)
	if err != nil {
		return false, err
	}
	return requiredMB <= available, nil
}

func (m *Monitor) query(ctx context.Context, fields string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cmdTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "nvidia-smi",
		fmt.Sprintf("--id=%d", m.gpuIndex),
		"--query-gpu="+fields,
		"--format=csv,noheader,nounits",
	)
	output, err := cmd.Output()
	if err != nil {
		return "", gwerrors.Wrap(gwerrors.CodeGPUUnavailable, err, "nvidia-smi query failed")
	}
	return strings.TrimSpace(string(output)), nil
}

func parseMB(s string) (int64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/gatewayd/internal/convo"
	"github.com/steveyegge/gatewayd/internal/dispatcher"
	"github.com/steveyegge/gatewayd/internal/gpu"
	"github.com/steveyegge/gatewayd/internal/gweventbus"
	"github.com/steveyegge/gatewayd/internal/gwconfig"
	"github.com/steveyegge/gatewayd/internal/gwstore"
	"github.com/steveyegge/gatewayd/internal/httpapi"
	"github.com/steveyegge/gatewayd/internal/provider"
	"github.com/steveyegge/gatewayd/internal/telemetry"
	"github.com/steveyegge/gatewayd/internal/webhook"
)

var logger = log.New(os.Stderr, "gatewayd: ", log.LstdFlags)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway daemon",
	RunE:  runServe,
}

// runServe wires every subsystem in dependency order (store before
// anything that reads/writes it, registry before the dispatcher that
// resolves providers through it, dispatcher before the HTTP server that
// submits to it) and tears down in the reverse order on shutdown, the same
// construct-then-defer-reverse-teardown discipline cmd/bd/main.go's
// daemon startup uses for its own store/rpc-server pair.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := gwconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if presetPath != "" {
		cfg.PresetPath = presetPath
	}

	shutdownTelemetry, err := telemetry.Init()
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	store, err := gwstore.New(cfg.RedisURL,
		gwstore.WithSessionTTL(cfg.SessionTTL()),
		gwstore.WithIdempotencyTTL(cfg.IdempotencyTTL()),
		gwstore.WithRecentLogsCap(cfg.LogsMaxRecent),
	)
	if err != nil {
		return fmt.Errorf("connecting to store: %w", err)
	}
	defer store.Close()

	convos := convo.New(store.Client())

	catalog, err := provider.NewCatalog(cfg.PresetPath)
	if err != nil {
		return fmt.Errorf("loading preset catalog: %w", err)
	}
	registry := provider.NewRegistry(catalog)
	registry.RegisterFactory("cloud", func(ctx context.Context, preset provider.Preset) (provider.Provider, error) {
		return provider.NewAnthropicProvider(preset.Name, preset)
	})
	registry.RegisterFactory("local", func(ctx context.Context, preset provider.Preset) (provider.Provider, error) {
		return provider.NewLocalProvider(preset.Name, preset)
	})
	if err := registry.Register("echo", provider.NewEchoProvider("echo")); err != nil {
		logger.Printf("registering echo provider: %v", err)
	}
	defer registry.CleanupAll()

	monitor := gpu.NewMonitor(cfg.GPUIndex, cfg.VRAMReserveMB, cfg.MaxVRAMUsagePercent)
	guard := gpu.NewGuard()
	residency := gpu.NewManager(monitor)
	sender := webhook.NewSender(cfg.WebhookTimeout(), uint64(cfg.WebhookMaxRetries))
	bus := gweventbus.New()

	d := dispatcher.New(store, convos, registry, guard, residency, sender, bus)
	d.Start(ctx)
	defer d.Stop()

	go gweventbus.RunGPUTicker(ctx, bus, cfg.GPUStatsInterval(), func(ctx context.Context) (map[string]any, error) {
		info, err := monitor.GetGPUInfo(ctx)
		if err != nil {
			return nil, err
		}
		_ = store.CacheGPUStats(ctx, &info, 5*time.Second)
		return map[string]any{
			"name":        info.Name,
			"driver":      info.Driver,
			"temperature": info.Temperature,
			"utilization": info.Utilization,
			"vram":        info.VRAM,
		}, nil
	})

	server := httpapi.New(store, convos, registry, d, monitor, guard, bus)
	addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
	logger.Printf("starting gatewayd on %s", addr)
	return server.Start(ctx, addr)
}

// Package main is the entry point of the i3X service: a manufacturing-data
// access engine exposing a typed object graph, time-series values and
// change-notification subscriptions over HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/cesmii/i3x/config"
	"github.com/cesmii/i3x/facade"
	httpgw "github.com/cesmii/i3x/gateway/http"
	"github.com/cesmii/i3x/graphstore"
	"github.com/cesmii/i3x/health"
	"github.com/cesmii/i3x/metric"
	"github.com/cesmii/i3x/notifier"
	"github.com/cesmii/i3x/registry"
	"github.com/cesmii/i3x/storage"
	"github.com/cesmii/i3x/storage/boltstore"
	"github.com/cesmii/i3x/storage/memstore"
	"github.com/cesmii/i3x/storage/natskv"
	"github.com/cesmii/i3x/subscription"
	"github.com/cesmii/i3x/valuestore"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "i3x"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	slog.Info("Starting i3X",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"storage_backend", cfg.Storage.Backend,
		"http_addr", cfg.HTTP.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open storage backend: %w", err)
	}
	defer backend.Close()

	engine, err := buildEngine(ctx, cfg, backend, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.values.Stop(cliCfg.ShutdownTimeout); err != nil {
			slog.Warn("value store drain incomplete", "error", err)
		}
	}()
	defer engine.notifier.Stop()

	monitor := health.NewMonitor()
	monitor.UpdateHealthy("storage", fmt.Sprintf("%s backend open", cfg.Storage.Backend))
	monitor.UpdateHealthy("graph", "object graph loaded")
	monitor.UpdateHealthy("values", "value store running")
	monitor.UpdateHealthy("subscriptions", "subscription manager running")

	server, err := httpgw.NewServer(httpgw.Dependencies{
		Facade:  engine.facade,
		Logger:  logger,
		Metrics: engine.metrics,
		Health:  monitor,
		Config:  cfg.HTTP,
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Run(groupCtx)
	})
	group.Go(func() error {
		err := engine.subs.Run(groupCtx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	err = group.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}

// engine bundles the composed core components.
type engine struct {
	metrics  *metric.MetricsRegistry
	notifier *notifier.Notifier
	values   *valuestore.Store
	subs     *subscription.Manager
	facade   *facade.Facade
}

func openBackend(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.Backend, error) {
	switch cfg.Backend {
	case "", config.BackendMemory:
		return memstore.New(), nil
	case config.BackendBolt:
		return boltstore.New(cfg.Bolt, logger)
	case config.BackendNATS:
		return natskv.New(ctx, cfg.NATS, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// buildEngine wires the stores leaf-first: registry, notifier, graph, values,
// subscriptions, facade. The notifier fans every committed mutation out to
// the subscription manager and the value store.
func buildEngine(ctx context.Context, cfg config.Config, backend storage.Backend, logger *slog.Logger) (*engine, error) {
	metrics := metric.NewMetricsRegistry()

	reg, err := registry.New(ctx, registry.Dependencies{
		Backend: backend, Logger: logger, Metrics: metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create registry: %w", err)
	}

	notif, err := notifier.New(notifier.Dependencies{Logger: logger, Metrics: metrics})
	if err != nil {
		return nil, fmt.Errorf("create notifier: %w", err)
	}

	graph, err := graphstore.New(ctx, graphstore.Dependencies{
		Backend: backend, Registry: reg, Notifier: notif, Logger: logger, Metrics: metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("create graph store: %w", err)
	}

	values, err := valuestore.New(ctx, valuestore.Dependencies{
		Backend: backend, Graph: graph, Resolver: reg, Notifier: notif,
		Logger: logger, Metrics: metrics, Config: cfg.Values,
	})
	if err != nil {
		return nil, fmt.Errorf("create value store: %w", err)
	}

	subs, err := subscription.NewManager(subscription.Dependencies{
		Graph: graph, Logger: logger, Metrics: metrics, Config: cfg.Subscriptions,
		Flusher: notif,
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription manager: %w", err)
	}

	notif.Subscribe(subs)
	notif.Subscribe(values)

	f, err := facade.New(facade.Dependencies{
		Registry: reg, Graph: graph, Values: values,
		Subscriptions: subs, Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create facade: %w", err)
	}

	return &engine{metrics: metrics, notifier: notif, values: values, subs: subs, facade: f}, nil
}

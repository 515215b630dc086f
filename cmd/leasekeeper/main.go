// Command leasekeeper exercises a lease backend from the command line. It
// can probe a backend's health or hold a named lease with auto-renewal until
// interrupted, which makes it usable as a simple distributed-lock wrapper in
// scripts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avivl/leasekeeper/driver"
	"github.com/avivl/leasekeeper/health"
	"github.com/avivl/leasekeeper/internal/config"
	"github.com/avivl/leasekeeper/lease"
	"github.com/avivl/leasekeeper/observability"

	// Register the backends selectable through backend.type.
	_ "github.com/avivl/leasekeeper/store/azureblob"
	_ "github.com/avivl/leasekeeper/store/dynamodb"
	_ "github.com/avivl/leasekeeper/store/memory"
	_ "github.com/avivl/leasekeeper/store/redis"
	_ "github.com/avivl/leasekeeper/store/scylladb"
)

// App wires configuration, observability and the selected backend together.
type App struct {
	logger       *observability.SLogger
	metrics      *observability.OTelMetrics
	configLoader *config.ConfigLoader
	cfg          *config.GlobalConfig
	otelShutdown func()
	acquirer     *lease.Acquirer
}

func main() {
	configPath := flag.String("config", "/etc/leasekeeper", "Path to configuration file or directory")
	mode := flag.String("mode", "hold", "Operation mode: hold or probe")
	name := flag.String("name", "leasekeeper-demo", "Lease name to hold")
	telemetry := flag.Bool("telemetry", false, "Export traces and metrics over OTLP")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := NewApp(ctx, *configPath, *telemetry)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.Shutdown()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		app.logger.Infof("Received signal: %v", sig)
		cancel()
	}()

	switch *mode {
	case "probe":
		err = app.Probe(ctx)
	case "hold":
		err = app.Hold(ctx, *name)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil {
		app.logger.Errorf("Application error: %v", err)
		app.Shutdown()
		os.Exit(1)
	}
}

// NewApp loads configuration and constructs the acquirer for the configured
// backend.
func NewApp(ctx context.Context, configPath string, telemetry bool) (*App, error) {
	loader, cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	app := &App{configLoader: loader, cfg: cfg}

	logger, err := observability.NewLogger(cfg.Logger.Level.GetZapLevel())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	app.logger = logger

	opts := []lease.Option{lease.WithLogger(logger)}
	if telemetry {
		otelShutdown, err := observability.InitProvider(ctx, cfg.Observability)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
		app.otelShutdown = otelShutdown

		metrics, err := observability.NewMetricsClient(cfg.Observability, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics client: %w", err)
		}
		app.metrics = metrics

		opts = append(opts,
			lease.WithMetrics(metrics),
			lease.WithTracer(observability.NewTracer(cfg.Observability.ServiceName)),
		)
	}

	provider, err := driver.New(ctx, cfg.Backend.Type, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s provider: %w", cfg.Backend.Type, err)
	}

	acquirer, err := lease.NewAcquirer(provider, cfg.Lease, opts...)
	if err != nil {
		provider.Close()
		return nil, fmt.Errorf("failed to create acquirer: %w", err)
	}
	app.acquirer = acquirer

	loader.AddWatcher(func(newCfg *config.GlobalConfig) {
		logger.Infow("Configuration updated", "backend", newCfg.Backend.Type)
	})

	return app, nil
}

// Probe runs one health check against the configured backend and prints the
// verdict. A degraded or unhealthy backend is reported through the exit code.
func (a *App) Probe(ctx context.Context) error {
	provider, err := driver.New(ctx, a.cfg.Backend.Type, a.cfg.Store, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create %s provider: %w", a.cfg.Backend.Type, err)
	}
	defer provider.Close()

	checker := health.NewChecker(provider, a.logger)
	result := checker.Check(ctx)

	fmt.Printf("%s: %s (%v)\n", a.cfg.Backend.Type, result.Status, result.Latency.Round(time.Millisecond))
	if result.Err != nil {
		fmt.Printf("  %v\n", result.Err)
	}
	if result.Status != health.StatusHealthy {
		a.Shutdown()
		os.Exit(2)
	}
	return nil
}

// Hold acquires the named lease and keeps it renewed until the context is
// canceled or the lease is lost.
func (a *App) Hold(ctx context.Context, name string) error {
	a.logger.Infow("Acquiring lease", "lease", name, "backend", a.cfg.Backend.Type)

	l, err := a.acquirer.Acquire(ctx, name)
	if err != nil {
		return err
	}

	lost := make(chan error, 1)
	l.Subscribe(&lease.CallbackFuncs{
		Renewed: func(expiry time.Time) {
			a.logger.Debugw("Lease renewed", "lease", name, "expiry", expiry)
		},
		RenewalFailed: func(err error, attempt int) {
			a.logger.Warnw("Lease renewal failed", "lease", name, "attempt", attempt, "error", err)
		},
		Lost: func(err error) {
			lost <- err
		},
	})

	a.logger.Infow("Lease held", "lease", name, "token", l.Token(), "expiry", l.ExpiresAt())

	select {
	case err := <-lost:
		return fmt.Errorf("lease %q lost: %w", name, err)
	case <-ctx.Done():
	}

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	l.Release(releaseCtx)
	a.logger.Infow("Lease released", "lease", name)
	return nil
}

// Shutdown flushes telemetry and stops the watcher.
func (a *App) Shutdown() {
	if a.otelShutdown != nil {
		a.otelShutdown()
		a.otelShutdown = nil
	}
}

// Command tuya2mqtt bridges Tuya local/cloud devices onto MQTT, exposing
// them both as a native tuya2mqtt/* topic tree and as a Homie 5.0 device
// convention for discovery by home automation controllers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/bridgecore"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/cloud"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/config"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/device"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/homie"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/metrics"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/mqttutil"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/observability/health"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/observability/logging"
	"github.com/kestrel-iot/tuya2mqtt-bridge/internal/scanner"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	defaultConfigPath := "./bridge.yaml"
	if v := os.Getenv("TUYA2MQTT_CONFIG_FILE"); v != "" {
		defaultConfigPath = v
	}
	configPath := flag.String("config", defaultConfigPath, "path to the bridge's YAML config file (default taken from TUYA2MQTT_CONFIG_FILE when set)")
	flag.Parse()

	fmt.Printf("tuya2mqtt-bridge %s (%s) built %s\n", version, commit, date)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: malformed configuration: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled, then tears
// everything down in reverse order. Returning an error gives main a
// consistent exit-code path. Missing cloud credentials (TUYA_API_KEY or
// TUYA_API_SECRET empty) are fatal: run returns before connecting
// anything, so the process exits with code 1.
func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.Logging, version)
	logger.Info("starting tuya2mqtt-bridge", "version", version)

	if cfg.Cloud.APIKey == "" || cfg.Cloud.APISecret == "" {
		return fmt.Errorf("missing cloud credentials: TUYA_API_KEY and TUYA_API_SECRET are required")
	}

	broker, err := mqttutil.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to mqtt broker: %w", err)
	}
	defer broker.Close()
	broker.SetLogger(logger)

	repo := device.NewJSONFileRepository(cfg.Files.DeviceConfigFile)
	registry := device.NewRegistry(repo)
	registry.SetLogger(logger)
	if err := registry.RefreshCache(ctx); err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}

	cloudClient, err := cloud.NewRESTClient(cfg.Cloud, logger)
	if err != nil {
		return fmt.Errorf("building cloud client: %w", err)
	}
	defer cloudClient.Close()

	scanFile := scanner.NewScanFile(cfg.Files.LocalScanFile)
	scan := scanner.New(scanner.Config{
		Ports:    cfg.Scan.Ports,
		ScanTime: cfg.Scan.ScanTime,
		ReadBuf:  cfg.Scan.ReadBufSize,
	}, cloudClient, registry, scanFile, logger)

	templates, err := homie.LoadTemplates(cfg.Files.HomieTemplateDir)
	if err != nil {
		return fmt.Errorf("loading homie templates: %w", err)
	}

	metricsRegistry := metrics.NewRegistry()

	// bridgecore.Core and homie.Lifecycle need each other: the Lifecycle
	// dispatches DP writes through a CommanderFor that only Core can
	// satisfy, while Core's Config carries the already-built Lifecycle it
	// forwards poll results and status publishes to. A forwarding shim
	// breaks the cycle: Lifecycle is built first against a commanderFunc
	// that calls through to core once core exists.
	var core *bridgecore.Core
	lifecycle := homie.NewLifecycle(
		broker,
		broker,
		commanderFunc(func(devID string) homie.Commander { return core.CommanderFor(devID) }),
		registryAdapter{registry},
		templates,
		logger,
	)

	metricsPub := metrics.NewPeriodicPublisher(metricsRegistry, broker, cfg.Metrics.PublishInterval, logger)

	core = bridgecore.New(bridgecore.Config{
		Broker:       broker,
		Registry:     registry,
		CloudClient:  cloudClient,
		Scanner:      scan,
		ScanFile:     scanFile,
		Lifecycle:    lifecycle,
		Metrics:      metricsRegistry,
		MetricsPub:   metricsPub,
		PollInterval: cfg.Poll.Interval,
		Logger:       logger,
	})

	if err := core.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge core: %w", err)
	}
	defer core.Stop()

	if err := lifecycle.Start(); err != nil {
		return fmt.Errorf("starting homie lifecycle: %w", err)
	}

	reporter := health.New(cfg.Health.Addr)
	reporter.RegisterChecker("mqtt", broker)
	reporter.RegisterChecker("bridge", core)
	reporter.SetStatus(health.StatusHealthy, "")
	healthErrs := reporter.Start()

	logger.Info("tuya2mqtt-bridge ready", "health_addr", cfg.Health.Addr)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-healthErrs:
		if err != nil {
			logger.Error("health server failed", "error", err)
		}
	}

	reporter.SetStatus(health.StatusStopping, "shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := reporter.Stop(shutdownCtx); err != nil {
		logger.Warn("health server shutdown error", "error", err)
	}

	logger.Info("tuya2mqtt-bridge stopped")
	return nil
}

// commanderFunc adapts a plain function to homie.CommanderFor.
type commanderFunc func(devID string) homie.Commander

func (f commanderFunc) CommanderFor(devID string) homie.Commander { return f(devID) }

// registryAdapter narrows *device.Registry down to homie.Registry's
// single-argument Remove, since the lifecycle's external-deletion path
// has no request-scoped context of its own to thread through.
type registryAdapter struct {
	registry *device.Registry
}

func (a registryAdapter) Remove(devID string) error {
	return a.registry.Remove(context.Background(), devID)
}

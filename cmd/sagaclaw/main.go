package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/sagaclaw/sagaclaw/config"
	"github.com/sagaclaw/sagaclaw/pkg/api"
	"github.com/sagaclaw/sagaclaw/pkg/api/handlers"
	"github.com/sagaclaw/sagaclaw/pkg/api/middleware"
	"github.com/sagaclaw/sagaclaw/pkg/client"
	"github.com/sagaclaw/sagaclaw/pkg/coordinator"
	"github.com/sagaclaw/sagaclaw/pkg/logger"
	"github.com/sagaclaw/sagaclaw/pkg/metrics"
	"github.com/sagaclaw/sagaclaw/pkg/telemetry/tracing"
	"github.com/sagaclaw/sagaclaw/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	storageTyp = flag.String("storage", "", "Override storage type (memory, badger)")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		fmt.Println(version.String())
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, buildOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("Starting Sagaclaw",
		"version", version.Version,
		"git_commit", version.GitCommit,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
	if err != nil {
		log.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	store, err := openStore(cfg, log)
	if err != nil {
		log.Error("Failed to open transaction store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing transaction store", "error", err)
		}
	}()

	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = cfg.Metrics.Enabled
	metricsCfg.Port = cfg.Metrics.Port
	metricsCfg.Path = cfg.Metrics.Path
	metricsManager := metrics.NewManager(metricsCfg)

	if metricsManager.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	coord := coordinator.New(store,
		coordinator.WithLogger(log),
		coordinator.WithMetrics(metricsManager),
		coordinator.WithPollInterval(cfg.Coordinator.PollInterval),
		coordinator.WithRecoveryInterval(cfg.Coordinator.RecoveryInterval),
		coordinator.WithTimeoutCheckInterval(cfg.Coordinator.TimeoutCheckInterval),
		coordinator.WithMaxConcurrentSteps(cfg.Coordinator.MaxConcurrentSteps),
		coordinator.WithScanBatchSize(cfg.Coordinator.ScanBatchSize),
	)
	for name, svcCfg := range cfg.Services {
		coord.RegisterServiceClient(name, client.FromConfig(svcCfg))
		log.Info("Registered service client", "service", name, "base_url", svcCfg.BaseURL)
	}
	if err := coord.Start(ctx); err != nil {
		log.Error("Failed to start coordinator", "error", err)
		os.Exit(1)
	}

	httpServer := api.NewHTTPServer(cfg, log, api.Handlers{
		Transaction: handlers.NewTransactionHandler(coord, log),
		Health:      handlers.NewHealthHandler(coord),
		Metrics:     metricsRecorder(metricsManager),
	})

	serverErrChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	watcherDone := startConfigWatcher(ctx, cfg, log)

	log.Info("Sagaclaw is running",
		"http_port", cfg.Server.Port,
		"metrics_port", cfg.Metrics.Port,
		"storage", cfg.Storage.Type,
	)

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("HTTP server error", "error", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", "error", err)
	}

	coord.Stop()
	cancel()
	if watcherDone != nil {
		<-watcherDone
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Error shutting down tracing", "error", err)
	}

	log.Info("Sagaclaw stopped gracefully")
}

// openStore builds the configured TransactionStore backend.
func openStore(cfg *config.Config, log logger.Logger) (coordinator.TransactionStore, error) {
	switch cfg.Storage.Type {
	case "badger":
		opts := badger.DefaultOptions(cfg.Storage.Badger.Path)
		opts.SyncWrites = cfg.Storage.Badger.SyncWrites
		opts.ValueLogFileSize = cfg.Storage.Badger.ValueLogFileSize
		opts.NumVersionsToKeep = cfg.Storage.Badger.NumVersionsToKeep
		opts.Logger = nil
		db, err := badger.Open(opts)
		if err != nil {
			return nil, fmt.Errorf("open badger at %s: %w", cfg.Storage.Badger.Path, err)
		}
		log.Info("Initialized Badger transaction store", "path", cfg.Storage.Badger.Path)
		return coordinator.NewBadgerTransactionStore(db)
	default:
		log.Info("Initialized memory transaction store")
		return coordinator.NewMemoryTransactionStore(), nil
	}
}

// metricsRecorder returns the HTTP metrics recorder, or nil when metrics
// are disabled so the middleware is skipped entirely. The interface nil
// matters here; a typed nil pointer would still enable the middleware.
func metricsRecorder(m *metrics.Manager) middleware.MetricsRecorder {
	if m.Enabled() {
		return m
	}
	return nil
}

// startConfigWatcher applies log-level changes from config file edits at
// runtime. Returns nil when no config file is in play.
func startConfigWatcher(ctx context.Context, cfg *config.Config, log logger.Logger) <-chan struct{} {
	if *configPath == "" {
		return nil
	}

	watcher, err := config.NewWatcher(*configPath, config.NewLoader(), config.WithWatcherLogger(log))
	if err != nil {
		log.Warn("Config watcher unavailable", "error", err)
		return nil
	}

	watcher.OnChange(func(updated *config.Config) {
		if updated.Log.Level != cfg.Log.Level {
			log.Info("Applying new log level", "level", updated.Log.Level)
			log.SetLevel(logger.ParseLevel(updated.Log.Level))
			cfg.Log.Level = updated.Log.Level
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Warn("Config watcher stopped", "error", err)
		}
	}()
	return done
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *storageTyp != "" {
		overrides["storage.type"] = *storageTyp
	}
	if *debugMode {
		overrides["app.debug"] = true
	}
	return overrides
}

func printHelp() {
	fmt.Printf("Sagaclaw - Saga-based distributed transaction coordinator\n\n")
	fmt.Printf("Usage: sagaclaw [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  sagaclaw                                  # Run with default config\n")
	fmt.Printf("  sagaclaw -config config.yaml              # Use specific config file\n")
	fmt.Printf("  sagaclaw -port 9090 -log-level debug      # Override specific options\n")
	fmt.Printf("  sagaclaw -version                         # Print version info\n")
}

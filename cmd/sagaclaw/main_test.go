package main

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/sagaclaw/sagaclaw/config"
	"github.com/sagaclaw/sagaclaw/pkg/api"
	"github.com/sagaclaw/sagaclaw/pkg/api/handlers"
	"github.com/sagaclaw/sagaclaw/pkg/coordinator"
	"github.com/sagaclaw/sagaclaw/pkg/logger"
)

func TestServerStartup(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 18080

	log := logger.New(&logger.Config{
		Level:  logger.InfoLevel,
		Format: "json",
		Output: "stdout",
	})

	coord := coordinator.New(coordinator.NewMemoryTransactionStore(), coordinator.WithLogger(log))
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(coord.Stop)

	httpServer := api.NewHTTPServer(cfg, log, api.Handlers{
		Transaction: handlers.NewTransactionHandler(coord, log),
		Health:      handlers.NewHealthHandler(coord),
	})

	serverErrChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	time.Sleep(100 * time.Millisecond)

	select {
	case err := <-serverErrChan:
		t.Fatalf("Server failed to start: %v", err)
	default:
	}

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s", cfg.Server.Port, path))
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, resp.StatusCode, http.StatusOK)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestBuildOverrides(t *testing.T) {
	origServerPort := *serverPort
	origLogLevel := *logLevel
	origStorage := *storageTyp
	origDebugMode := *debugMode
	defer func() {
		*serverPort = origServerPort
		*logLevel = origLogLevel
		*storageTyp = origStorage
		*debugMode = origDebugMode
	}()

	*serverPort = 0
	*logLevel = ""
	*storageTyp = ""
	*debugMode = false
	if overrides := buildOverrides(); len(overrides) != 0 {
		t.Errorf("Expected empty overrides, got %d items", len(overrides))
	}

	*serverPort = 9090
	*logLevel = "debug"
	*storageTyp = "memory"
	*debugMode = true

	overrides := buildOverrides()
	if len(overrides) != 4 {
		t.Errorf("Expected 4 overrides, got %d", len(overrides))
	}
	if overrides["server.port"] != 9090 {
		t.Errorf("Expected server.port=9090, got %v", overrides["server.port"])
	}
	if overrides["log.level"] != "debug" {
		t.Errorf("Expected log.level=debug, got %v", overrides["log.level"])
	}
	if overrides["storage.type"] != "memory" {
		t.Errorf("Expected storage.type=memory, got %v", overrides["storage.type"])
	}
	if overrides["app.debug"] != true {
		t.Errorf("Expected app.debug=true, got %v", overrides["app.debug"])
	}
}

func TestOpenStoreDefaultsToMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Type = "memory"

	log := logger.New(nil)
	store, err := openStore(cfg, log)
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	defer store.Close()

	if _, ok := store.(*coordinator.MemoryTransactionStore); !ok {
		t.Fatalf("openStore() = %T, want *coordinator.MemoryTransactionStore", store)
	}
}

func TestOpenStoreBadger(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Type = "badger"
	cfg.Storage.Badger.Path = t.TempDir()
	cfg.Storage.Badger.SyncWrites = false

	log := logger.New(nil)
	store, err := openStore(cfg, log)
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

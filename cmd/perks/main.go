// Perks - Loyalty rewards that deploy in 60 seconds.
// Copyright (c) 2025 tablehouse
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tablehouse/perks/internal/api"
	"github.com/tablehouse/perks/internal/bus"
	"github.com/tablehouse/perks/internal/cache"
	"github.com/tablehouse/perks/internal/domain"
	"github.com/tablehouse/perks/internal/engine"
	"github.com/tablehouse/perks/internal/ledger"
	"github.com/tablehouse/perks/internal/reaper"
	"github.com/tablehouse/perks/internal/repository"
	"github.com/tablehouse/perks/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("PERKS_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting perks",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("PERKS_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Ledger
	ledgerSvc := ledger.New(repo, busImpl)
	slog.Info("points ledger initialized")

	// Initialize Issuance Engine
	eng := engine.New(repo, cacheImpl, busImpl, cfg.Engine)
	slog.Info("issuance engine initialized", "code_prefix", cfg.Engine.CodePrefix)

	// Initialize Expiry Reaper
	reaperSvc := reaper.New(repo, time.Duration(cfg.Engine.ReaperInterval)*time.Second)
	reaperSvc.Start()
	defer reaperSvc.Stop()
	slog.Info("expiry reaper started", "interval_s", cfg.Engine.ReaperInterval)

	// Initialize async Worker (Pro tier, or explicitly enabled)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("PERKS_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, eng, ledgerSvc)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, eng, ledgerSvc, Version, cfg.Engine.ValidateRateLimit)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("perks is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("perks shutdown complete")
}

// applyEnvOverrides layers common deployment knobs over the tier defaults.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("PERKS_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("PERKS_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("PERKS_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("PERKS_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("PERKS_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("PERKS_CODE_PREFIX"); v != "" {
		cfg.Engine.CodePrefix = v
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🎁 PERKS                    ║")
	fmt.Println("  ║      Loyalty & Rewards Engine             ║")
	fmt.Println("  ║      Every order can win.                 ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /orders/complete      - Report a completed order")
	fmt.Println("    POST /rewards/validate     - Validate a reward code")
	fmt.Println("    POST /rewards/{id}/redeem  - Redeem a reward")
	fmt.Println("    POST /rewards/discount     - Quote a discount")
	fmt.Println("    GET  /rules                - List reward rules")
	fmt.Println("    POST /rules                - Create a reward rule")
	fmt.Println("    GET  /users/{id}/rewards   - List a user's rewards")
	fmt.Println("    GET  /users/{id}/points    - Points balance and history")
	fmt.Println("    POST /points/award         - Award loyalty points")
	fmt.Println("    POST /points/redeem        - Spend loyalty points")
	fmt.Println("    GET  /stats                - Engine statistics")
	fmt.Println("    GET  /health               - Health check")
	fmt.Println()
}

// Kestrel - Credit-risk rating for company portfolios.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pd"
	"github.com/opensource-finance/kestrel/internal/rating"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/status"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

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

	// Rating policy
	policy, err := config.LoadPolicy(cfg.Scoring.PolicyFile)
	if err != nil {
		slog.Error("failed to load rating policy", "path", cfg.Scoring.PolicyFile, "error", err)
		os.Exit(1)
	}
	for _, warning := range policy.Validate() {
		slog.Warn("rating policy", "warning", warning)
	}
	engine := rating.NewEngine(policy)
	slog.Info("rating engine initialized", "scale", len(engine.Scale()), "blend_ties", engine.Policy().BlendTies)

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
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_tier", cfg.Cache.EnableTwoTier)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize criteria engine
	criteria, err := rules.NewEngine(cfg.Scoring.MaxWorkers)
	if err != nil {
		slog.Error("failed to initialize criteria engine", "error", err)
		os.Exit(1)
	}
	if err := loadCriteria(ctx, repo, criteria); err != nil {
		slog.Error("failed to load criteria", "error", err)
		os.Exit(1)
	}
	slog.Info("criteria engine initialized", "criteria_count", criteria.CriteriaCount())

	// PD model (optional)
	var model pd.Estimator
	estimator, err := pd.LoadModel(cfg.Scoring.ModelFile)
	switch {
	case err == nil:
		model = estimator
		slog.Info("pd model loaded", "path", cfg.Scoring.ModelFile, "features", len(estimator.Features()))
	case errors.Is(err, pd.ErrNoModel):
		slog.Info("no pd model, using criteria-based pd")
	default:
		slog.Error("failed to load pd model", "path", cfg.Scoring.ModelFile, "error", err)
		os.Exit(1)
	}

	processor := status.NewProcessor()
	processor.PDThreshold = cfg.Scoring.StatusPDThreshold

	scorer := scoring.New(scoring.Config{
		Engine:    engine,
		Criteria:  criteria,
		Processor: processor,
		Model:     model,
		Repo:      repo,
		Cache:     cacheImpl,
		BatchTTL:  cfg.Cache.BatchTTL,
		Squash:    cfg.Scoring.Squash,
	})

	// Initialize async worker
	asyncWorker := worker.NewWorker(busImpl, scorer)
	workerCfg := worker.Config{TenantIDs: cfg.Worker.Tenants}
	if err := asyncWorker.Start(workerCfg); err != nil {
		slog.Error("failed to start async worker", "error", err)
	} else {
		slog.Info("async worker started", "tenant_count", len(workerCfg.TenantIDs))
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, scorer, criteria, repo, cacheImpl, asyncWorker, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if err := asyncWorker.Stop(); err != nil {
		slog.Error("failed to stop async worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadCriteria loads the stored global criteria into the engine. An empty
// store is seeded with the built-in criteria.
func loadCriteria(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	stored, err := repo.ListCriteria(ctx, api.GlobalTenantID)
	if err != nil {
		slog.Warn("failed to list criteria from database", "error", err)
		return engine.LoadCriteria(rules.DefaultCriteria())
	}

	if len(stored) > 0 {
		slog.Info("loading criteria from database", "count", len(stored))
		return engine.LoadCriteria(stored)
	}

	defaults := rules.DefaultCriteria()
	for _, c := range defaults {
		c.TenantID = api.GlobalTenantID
		if err := repo.SaveCriterion(ctx, api.GlobalTenantID, c); err != nil {
			return fmt.Errorf("failed to seed criterion %s: %w", c.ID, err)
		}
	}
	slog.Info("seeded built-in criteria", "count", len(defaults))
	return engine.LoadCriteria(defaults)
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL  credit-risk rating engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /batches                 - Upload and rate a spreadsheet")
	fmt.Println("    GET  /batches                 - List batches")
	fmt.Println("    GET  /batches/{id}            - Batch summary")
	fmt.Println("    GET  /batches/{id}/status     - Entity status view")
	fmt.Println("    GET  /batches/{id}/ratings    - Entity rating view")
	fmt.Println("    GET  /batches/{id}/download   - Download rated file (csv, xlsx)")
	fmt.Println("    POST /rate                    - Rate PD vectors directly")
	fmt.Println("    GET  /policy                  - Active rating policy")
	fmt.Println("    GET  /criteria                - List criteria")
	fmt.Println("    POST /criteria                - Create a criterion")
	fmt.Println("    POST /criteria/reload         - Hot-reload criteria")
	fmt.Println("    GET  /health                  - Health check")
	fmt.Println()
}

// Aria orchestrator server. Wires the catalogs, the database, the chat
// engine, the roundtable coordinator and the job scheduler, then serves the
// HTTP API until told to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aria-agents/aria/pkg/api"
	"github.com/aria-agents/aria/pkg/breaker"
	"github.com/aria-agents/aria/pkg/cleanup"
	"github.com/aria-agents/aria/pkg/config"
	"github.com/aria-agents/aria/pkg/database"
	"github.com/aria-agents/aria/pkg/engine"
	"github.com/aria-agents/aria/pkg/events"
	"github.com/aria-agents/aria/pkg/kernel"
	"github.com/aria-agents/aria/pkg/llm"
	"github.com/aria-agents/aria/pkg/metrics"
	"github.com/aria-agents/aria/pkg/roundtable"
	"github.com/aria-agents/aria/pkg/scheduler"
	"github.com/aria-agents/aria/pkg/services"
	"github.com/aria-agents/aria/pkg/skills"
	"github.com/aria-agents/aria/pkg/version"
)

// Exit codes. Operators alert on these from the process supervisor.
const (
	exitConfig    = 1
	exitDatabase  = 2
	exitMigration = 3
)

func main() {
	configDir := flag.String("config-dir", envOr("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env from the config directory before anything reads the
	// environment.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	slog.Info("Starting Aria", "version", version.Full(), "config_dir", *configDir)

	// 1. Process environment.
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("Failed to load environment settings", "error", err)
		os.Exit(exitConfig)
	}

	// 2. File catalogs (models, agents, jobs).
	catalog, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(exitConfig)
	}

	// 3. Immutable kernel.
	kern, err := kernel.Load(env.KernelDir)
	if err != nil {
		slog.Error("Failed to load kernel", "dir", env.KernelDir, "error", err)
		os.Exit(exitConfig)
	}
	if !kern.VerifyIntegrity() {
		slog.Error("Kernel integrity verification failed", "dir", env.KernelDir)
		os.Exit(exitConfig)
	}

	// 4. Database (runs migrations on connect).
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(exitConfig)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		if errors.Is(err, database.ErrMigrationFailed) {
			os.Exit(exitMigration)
		}
		os.Exit(exitDatabase)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 5. Domain services.
	embedPublisher := events.NewEmbedPublisher(dbClient.DB())
	sessionService := services.NewSessionService(dbClient.Pool(), embedPublisher)
	agentService := services.NewAgentService(dbClient.Pool())
	modelService := services.NewModelService(dbClient.Pool())
	jobService := services.NewJobService(dbClient.Pool())
	ledgerService := services.NewLedgerService(dbClient.Pool())
	registry := services.NewRegistry(agentService, modelService)
	syncer := services.NewSyncer(catalog, agentService, modelService, jobService, registry)

	// 6. Startup sync: declared catalogs into the database, then the
	// in-memory registry.
	if err := syncer.SyncAll(ctx, false); err != nil {
		slog.Error("Startup catalog sync failed", "error", err)
		os.Exit(exitDatabase)
	}
	if n, err := ledgerService.Backfill(ctx); err != nil {
		slog.Warn("Ledger backfill failed, continuing", "error", err)
	} else if n > 0 {
		slog.Info("Ledger backfill complete", "rows", n)
	}

	// 7. Skill registry.
	manifests, handlers := skills.Builtins()
	skillRegistry, err := skills.NewRegistry(manifests, handlers)
	if err != nil {
		slog.Error("Failed to build skill registry", "error", err)
		os.Exit(exitConfig)
	}

	// 8. Chat engine.
	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)
	hub := events.NewStreamHub()
	breakers := breaker.NewRegistry(env.BreakerThreshold, env.BreakerReset)
	breakers.OnTransition = func(name string, _, to breaker.State) {
		m.BreakerTransitions.WithLabelValues(name, string(to)).Inc()
		slog.Warn("circuit breaker state change", "breaker", name, "state", to)
	}
	llmClient := llm.NewClient(env.ProxyURL, env.ProxyKey)
	chatEngine := engine.New(sessionService, registry, llmClient, skillRegistry,
		ledgerService, agentService, kern, breakers, hub, m, engine.Config{
			MaxToolRounds:   env.MaxToolRounds,
			MaxContentBytes: env.MaxContentBytes,
			Workers:         env.LLMWorkers,
		})

	// 9. Roundtable coordinator with async tracking.
	coordinator := roundtable.NewCoordinator(sessionService, chatEngine, registry, m)
	tracker := roundtable.NewTracker(coordinator)

	// 10. Job scheduler.
	sched := scheduler.New(jobService, sessionService, chatEngine, m)
	if err := sched.Prime(ctx); err != nil {
		slog.Error("Failed to prime scheduler", "error", err)
		os.Exit(exitDatabase)
	}
	go sched.Run(ctx)

	// 11. Retention sweeps.
	retention := cleanup.NewService(cleanup.Options{}, sessionService, ledgerService)
	retention.Start(ctx)
	defer retention.Stop()

	// 12. Config hot reload: swap the catalog and re-sync on file change.
	watcher, err := config.NewWatcher(*configDir, func(fresh *config.Catalog) {
		syncer.SetCatalog(fresh)
		if err := syncer.SyncAll(context.Background(), false); err != nil {
			slog.Error("Catalog re-sync after reload failed", "error", err)
		}
	})
	if err != nil {
		slog.Warn("Config watcher unavailable, hot reload disabled", "error", err)
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	// 13. HTTP server, blocks until shutdown.
	server := api.NewServer(sessionService, chatEngine, tracker,
		agentService, modelService, syncer, ledgerService,
		api.DBHealthChecker(dbClient.DB()), hub, promRegistry,
		env.APIKey, version.Full())

	addr := ":" + env.HTTPPort
	slog.Info("Aria started", "addr", addr, "workers", env.LLMWorkers)
	if err := server.Run(ctx, addr); err != nil {
		slog.Error("HTTP server error", "error", err)
		os.Exit(exitConfig)
	}
	slog.Info("Aria stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Faultline server — exposes the incident analysis API, runs the
// queue workers, and streams run progress over WebSocket.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/faultline-io/faultline/pkg/agent"
	"github.com/faultline-io/faultline/pkg/agent/dashboard"
	"github.com/faultline-io/faultline/pkg/agent/image"
	"github.com/faultline-io/faultline/pkg/agent/logs"
	"github.com/faultline-io/faultline/pkg/agent/metrics"
	"github.com/faultline-io/faultline/pkg/agent/planner"
	"github.com/faultline-io/faultline/pkg/agent/rag"
	"github.com/faultline-io/faultline/pkg/api"
	"github.com/faultline-io/faultline/pkg/config"
	"github.com/faultline-io/faultline/pkg/decision"
	"github.com/faultline-io/faultline/pkg/enrich"
	"github.com/faultline-io/faultline/pkg/events"
	"github.com/faultline-io/faultline/pkg/hypothesis"
	"github.com/faultline-io/faultline/pkg/llm"
	"github.com/faultline-io/faultline/pkg/obs/grafana"
	"github.com/faultline-io/faultline/pkg/obs/promapi"
	"github.com/faultline-io/faultline/pkg/pipeline"
	"github.com/faultline-io/faultline/pkg/queue"
	"github.com/faultline-io/faultline/pkg/runbook"
	"github.com/faultline-io/faultline/pkg/timeline"
	"github.com/faultline-io/faultline/pkg/vector"
	"github.com/faultline-io/faultline/pkg/verify"
	"github.com/faultline-io/faultline/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env from the config directory before anything reads the
	// environment.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("Starting faultline",
		"version", version.Full(),
		"http_port", cfg.Server.HTTPPort,
		"config_dir", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Similarity index. A configured path persists across restarts;
	// without one the index lives in memory.
	var store vector.Store
	if cfg.Vector.IndexPath != "" {
		store, err = vector.NewBleveStore(cfg.Vector.IndexPath)
	} else {
		store, err = vector.NewMemoryStore()
	}
	if err != nil {
		logger.Error("Failed to open vector index", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Error closing vector index", "error", err)
		}
	}()

	// Reasoning model. The pipeline degrades to its deterministic
	// paths when the key is absent, so this is not fatal.
	var model llm.Client
	if anthropic, err := llm.NewAnthropicClient(cfg.LLM); err != nil {
		logger.Warn("Reasoning model unavailable, using deterministic fallbacks", "error", err)
	} else {
		model = anthropic
	}

	// Observability backends. Collectors without a backend report a
	// failed agent record per run instead of blocking startup.
	var querier promapi.Querier
	if cfg.Observability.MetricsURL != "" {
		client, err := promapi.New(cfg.Observability.MetricsURL)
		if err != nil {
			logger.Error("Failed to build metrics client", "error", err)
			os.Exit(1)
		}
		querier = client
	}
	var dashboards grafana.Service
	if cfg.Observability.DashboardURL != "" {
		dashboards = grafana.New(cfg.Observability.DashboardURL, cfg.Observability.DashboardAPIKey)
	}

	// Seed the runbooks corpus so the RAG agent and the decision gate
	// can match against it from the first run.
	runbooks := runbook.NewService(&cfg.Runbooks, os.Getenv("GITHUB_TOKEN"))
	if err := runbooks.Seed(ctx, store); err != nil {
		logger.Warn("Runbook seeding incomplete", "error", err)
	}

	// Streaming infrastructure.
	bus := events.NewBus(logger)
	connManager := events.NewConnectionManager(bus, 10*time.Second)
	publisher := events.NewPublisher(bus)

	collectors := []agent.Collector{
		logs.New(store, cfg.Pipeline.MaxLogEvidence, logger),
		rag.New(store, logger),
		metrics.New(querier, logger),
		dashboard.New(dashboards, logger),
		image.New(model, logger),
	}

	var enricher *enrich.Loop
	if model != nil {
		executor := enrich.NewExecutor(querier, dashboards)
		enricher = enrich.NewLoop(model, executor, cfg.Pipeline.MaxToolIterations,
			cfg.Pipeline.AgentTimeout(), logger)
	}

	orchestrator := pipeline.New(pipeline.Options{
		Config:     cfg.Pipeline,
		Planner:    planner.New(model, logger),
		Collectors: collectors,
		Correlator: timeline.New(cfg.Pipeline.CorrelationWindow(), cfg.Pipeline.GapThreshold(), logger),
		Generator:  hypothesis.New(model, cfg.Pipeline.MaxHypotheses, logger),
		Verifier:   verify.New(cfg.Pipeline.MinEvidenceSources, logger),
		Enricher:   enricher,
		Gate:       decision.New(cfg.Pipeline.ConfidenceThreshold, logger),
		Publisher:  publisher,
		Logger:     logger,
	})

	metrics := api.NewMetrics(nil)

	runStore := queue.NewStore(cfg.Queue.MaxQueueDepth)
	pool := queue.NewWorkerPool(runStore, &cfg.Queue, pipeline.NewExecutor(orchestrator), publisher)
	pool.SetRunObserver(metrics.ObserveRun)
	pool.Start(ctx)

	server := api.NewServer(api.Options{
		Config:       cfg.Server,
		Orchestrator: orchestrator,
		Store:        runStore,
		Pool:         pool,
		ConnManager:  connManager,
		Metrics:      metrics,
		Logger:       logger,
	})

	logger.Info("Faultline started", "workers", cfg.Queue.WorkerCount)

	if err := server.Run(ctx); err != nil {
		logger.Error("HTTP server error", "error", err)
	}

	// Signal received: the server has drained; let in-flight analyses
	// finish before exiting.
	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("Worker pool stopped gracefully")
	case <-time.After(30 * time.Second):
		logger.Warn("Worker pool shutdown timeout exceeded")
	}

	logger.Info("Shutdown complete")
}

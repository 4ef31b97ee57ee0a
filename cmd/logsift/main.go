// LogSift server — ingests logs over HTTP and runs the periodic LLM
// analysis pipeline: scoring, windowing, meta-analysis, findings, alerts.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/logsift/logsift/pkg/alerting"
	"github.com/logsift/logsift/pkg/api"
	"github.com/logsift/logsift/pkg/cleanup"
	"github.com/logsift/logsift/pkg/config"
	"github.com/logsift/logsift/pkg/database"
	"github.com/logsift/logsift/pkg/findings"
	"github.com/logsift/logsift/pkg/ingest"
	"github.com/logsift/logsift/pkg/llm"
	"github.com/logsift/logsift/pkg/meta"
	"github.com/logsift/logsift/pkg/pipeline"
	"github.com/logsift/logsift/pkg/scoring"
	"github.com/logsift/logsift/pkg/store"
	"github.com/logsift/logsift/pkg/version"
	"github.com/logsift/logsift/pkg/window"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting LogSift",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (runs migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	db, err := database.Connect(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	st := store.New(db)

	// 3. LLM oracle client
	oracle := llm.NewClient(llm.Config{
		BaseURL:       cfg.LLM.BaseURL,
		APIKey:        cfg.LLM.APIKey(),
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		Timeout:       cfg.LLM.Timeout,
		ScoringPrompt: cfg.LLM.ScoringPrompt,
		MetaPrompt:    cfg.LLM.MetaPrompt,
	})
	slog.Info("LLM oracle client initialized", "model", cfg.LLM.Model, "base_url", cfg.LLM.BaseURL)

	// 4. Ingest path
	router := ingest.NewRouter(st)
	ingestService := ingest.NewService(st, st, router)

	// 5. Pipeline stages
	scorer := scoring.NewScorer(st, oracle)
	windower := window.NewWindower(st)
	analyzer := meta.NewAnalyzer(st, oracle)
	findingEngine := findings.NewEngine(st)
	evaluator := alerting.NewEvaluator(st, alerting.NewWebhookDispatcher())

	orchestrator := pipeline.New(st, scorer, windower, analyzer, findingEngine, evaluator, cfg.Pipeline)
	orchestrator.Start(ctx)
	defer orchestrator.Stop()

	// 6. Retention cleanup
	cleanupService := cleanup.NewService(cfg.Retention, st)
	cleanupService.Start(ctx)
	defer cleanupService.Stop()

	// 7. HTTP server
	httpServer := api.NewServer(ingestService, st, db, cfg.Ingest)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(":" + httpPort); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("LogSift started successfully")

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop the HTTP intake first, then the pipeline.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	orchestrator.Stop()
	cleanupService.Stop()

	slog.Info("Shutdown complete")
}

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

	"github.com/xiaot623/gogo/ava/internal/adapter/deepgram"
	"github.com/xiaot623/gogo/ava/internal/adapter/llm"
	"github.com/xiaot623/gogo/ava/internal/adapter/markdown"
	"github.com/xiaot623/gogo/ava/internal/artifact"
	"github.com/xiaot623/gogo/ava/internal/bus"
	"github.com/xiaot623/gogo/ava/internal/config"
	"github.com/xiaot623/gogo/ava/internal/logging"
	"github.com/xiaot623/gogo/ava/internal/policy"
	"github.com/xiaot623/gogo/ava/internal/render"
	"github.com/xiaot623/gogo/ava/internal/repository"
	"github.com/xiaot623/gogo/ava/internal/service"
	"github.com/xiaot623/gogo/ava/internal/tools"
	transporthttp "github.com/xiaot623/gogo/ava/internal/transport/http"
	"github.com/xiaot623/gogo/ava/internal/transport/http/web"
	"github.com/xiaot623/gogo/ava/internal/transport/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ava: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting ava",
		slog.Int("port", cfg.HTTPPort),
		slog.String("mode", cfg.Mode),
		slog.String("stt_provider", cfg.STTProvider),
		slog.String("assets_dir", cfg.AssetsDir),
		slog.Bool("journal", cfg.JournalEnabled()))

	ctx := context.Background()

	// Initialize journal
	var journal service.Journal
	var db *repository.SQLiteStore
	if cfg.JournalEnabled() {
		db, err = repository.NewSQLiteStore(cfg.JournalDSN)
		if err != nil {
			return fmt.Errorf("initialize journal: %w", err)
		}
		defer db.Close()
		journal = db
	}

	// Initialize collaborators
	llmClient := llm.NewLLMClient(cfg.Mode, cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.LLMTimeout)

	var transcriber service.Transcriber = service.NewLLMTranscriber(llmClient, cfg.WhisperModel)
	if cfg.STTProvider == config.STTProviderDeepgram && cfg.Mode != llm.ModeMock {
		transcriber = deepgram.NewClient(cfg.DeepgramURL, cfg.DeepgramAPIKey, cfg.LLMTimeout)
	}

	toolRegistry, err := tools.NewRegistry()
	if err != nil {
		return fmt.Errorf("initialize tools: %w", err)
	}

	policyEngine, err := policy.NewEngineFromFile(ctx, cfg.ToolPolicyFile)
	if err != nil {
		return fmt.Errorf("initialize policy engine: %w", err)
	}

	renderer, err := render.NewHTML()
	if err != nil {
		return fmt.Errorf("initialize renderer: %w", err)
	}

	// Initialize artifact storage
	artifacts := artifact.NewStore(cfg.AssetsDir, cfg.AssetsURLPrefix)
	var sweeper *artifact.Sweeper
	if cfg.ArtifactRetention > 0 {
		sweeper, err = artifact.NewSweeper(artifacts, cfg.ArtifactSweepCron, cfg.ArtifactRetention)
		if err != nil {
			return fmt.Errorf("initialize artifact sweeper: %w", err)
		}
		sweeper.Start()
	}

	// Initialize bus and service
	registry := bus.NewRegistry(bus.DefaultCapacity)
	svc := service.New(service.Dependencies{
		Bus:         registry,
		Transcriber: transcriber,
		LLM:         llmClient,
		Markdown:    markdown.NewConverter(markdown.DefaultStyle),
		Artifacts:   artifacts,
		Tools:       toolRegistry,
		Policy:      policyEngine,
		Journal:     journal,
		Config:      cfg,
		Logger:      logger,
	})

	// Initialize transports
	wsServer := ws.NewServer(registry, cfg.WSPingInterval, cfg.WSWriteTimeout, logger)
	opts := transporthttp.Options{
		AssetsDir:       cfg.AssetsDir,
		AssetsURLPrefix: cfg.AssetsURLPrefix,
		Extra:           []transporthttp.RouteRegistrar{wsServer},
	}
	if db != nil {
		opts.History = db
	}
	webHandler := web.NewHandler(svc, registry, renderer, 0, logger)
	server := transporthttp.NewServer(webHandler, opts)

	// Start server
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("http server started", slog.Int("port", cfg.HTTPPort))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down ava")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Live viewers hold their requests open until their stream ends
	webHandler.Close()
	wsServer.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown http server gracefully", slog.Any("error", err))
	}
	if err := svc.Wait(shutdownCtx); err != nil {
		logger.Warn("runs still in flight at shutdown", slog.Any("error", err))
	}
	registry.Close()
	if sweeper != nil {
		sweeper.Stop()
	}

	logger.Info("ava stopped")
	return nil
}

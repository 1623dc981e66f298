package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/chat-omega/fundonboarding/internal/agents"
	"github.com/chat-omega/fundonboarding/internal/cache"
	"github.com/chat-omega/fundonboarding/internal/config"
	"github.com/chat-omega/fundonboarding/internal/handlers"
	"github.com/chat-omega/fundonboarding/internal/models"
	"github.com/chat-omega/fundonboarding/internal/pkg/logger"
	"github.com/chat-omega/fundonboarding/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

var configFile string

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fundonboarding",
		Short: "Portfolio fund research and classification service",
		Long: `fundonboarding ingests a portfolio file, researches each fund, classifies
it by asset class with a confidence score, and asks the user to confirm
anything it is unsure about.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				return os.Setenv("CONFIG_FILE", configFile)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fundonboarding %s\n", version)
		},
	}
}

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, err := newApplication(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if port > 0 {
				app.config.HTTP.Port = port
			}
			return app.serve(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides PORT)")
	return cmd
}

func newClassifyCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "classify <portfolio.csv>",
		Short: "Classify a portfolio file and print the results as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			app, err := newApplication(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			results, err := app.classify(ctx, args[0], verbose)
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(results)
		},
	}

	cmd.Flags().BoolVar(&verbose, "verbose", false, "Print the conversation to stderr")
	return cmd
}

type application struct {
	config       *config.Config
	logger       *logger.Logger
	cache        *cache.Cache
	redis        *services.RedisService
	metrics      *services.Metrics
	storage      agents.BlobStorage
	gemini       *services.GeminiService
	orchestrator *services.Orchestrator
}

func newApplication(ctx context.Context) (*application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	app := &application{
		config:  cfg,
		logger:  log,
		metrics: services.NewMetrics(),
	}

	if cfg.Redis.Enabled() {
		app.redis, err = services.NewRedisService(cfg.Redis, log.With("component", "redis"))
		if err != nil {
			return nil, err
		}
	}

	if app.cache, err = app.newCache(); err != nil {
		app.Close()
		return nil, err
	}

	search, err := services.NewWebSearchService(cfg.Research, app.cache, cfg.Pipeline.ResearchTTL, log.With("component", "search"))
	if err != nil {
		app.Close()
		return nil, err
	}

	if app.storage, err = services.NewBlobStorage(ctx, cfg.Storage, log.With("component", "storage")); err != nil {
		app.Close()
		return nil, err
	}

	var (
		classifier agents.DocumentClassifier
		extractor  agents.ExtractionBackend
	)
	if cfg.Gemini.APIKey != "" {
		if app.gemini, err = services.NewGeminiService(cfg.Gemini, log.With("component", "gemini")); err != nil {
			app.Close()
			return nil, err
		}
		classifier, extractor = app.gemini, app.gemini
	} else {
		log.Warn("GEMINI_API_KEY not set, document extraction is disabled")
	}

	factory := agents.NewFactory(agents.Dependencies{
		Cache:      app.cache,
		Search:     search,
		Classifier: classifier,
		Extractor:  extractor,
		Storage:    app.storage,
		Research:   cfg.Research,
		Pipeline:   cfg.Pipeline,
		Logger:     log.With("component", "agents"),
	})
	registry := agents.NewRegistry(log.With("component", "registry"))

	app.orchestrator = services.NewOrchestrator(factory, registry, app.cache, app.redis, app.metrics, cfg.Pipeline, log.With("component", "orchestrator"))
	app.orchestrator.AddHealthCheck("search", search.HealthCheck)
	if app.gemini != nil {
		app.orchestrator.AddHealthCheck("gemini", app.gemini.HealthCheck)
	}
	return app, nil
}

func (app *application) newCache() (*cache.Cache, error) {
	cfg := app.config.Cache

	var store cache.Store
	switch cfg.Backend {
	case "redis":
		if app.redis == nil {
			return nil, errors.New("redis cache backend requires REDIS_URL")
		}
		store = cache.NewRedisStore(app.redis.Client(), cfg.KeyPrefix)
	default:
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create cache directory: %w", err)
			}
		}
		sqliteStore, err := cache.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		store = sqliteStore
	}

	return cache.New(store, cache.Options{
		MaxMemoryBytes: cfg.MaxMemoryBytes,
		MaxDiskBytes:   cfg.MaxDiskBytes,
		DefaultTTL:     cfg.DefaultTTL,
		CleanupEvery:   cfg.CleanupEvery,
		PromoteAfter:   cfg.PromoteAfter,
		Observer:       app.metrics,
	}, app.logger.With("component", "cache"))
}

func (app *application) serve(ctx context.Context) error {
	if app.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := handlers.NewSessionHandler(app.orchestrator, app.storage, app.cache, app.metrics.Handler(), app.logger.With("component", "http"))
	server := &http.Server{
		Addr:         ":" + strconv.Itoa(app.config.HTTP.Port),
		Handler:      handlers.NewRouter(handler, app.logger.With("component", "http")),
		ReadTimeout:  app.config.HTTP.ReadTimeout,
		WriteTimeout: app.config.HTTP.WriteTimeout,
		IdleTimeout:  app.config.HTTP.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		app.logger.Info("HTTP server listening", "addr", server.Addr, "environment", app.config.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	app.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// classify runs the whole pipeline for one file without a client, approving
// whatever the classifier was unsure about.
func (app *application) classify(ctx context.Context, path string, verbose bool) (*models.CategorizationResults, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read portfolio: %w", err)
	}

	snapshot, err := app.orchestrator.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	sessionID := snapshot.SessionID
	defer app.orchestrator.DeleteSession(context.WithoutCancel(ctx), sessionID)

	lastErr := app.drain(app.orchestrator.HandleAction(ctx, sessionID, services.ActionUploadFile, models.Payload{
		agents.KeyContent:  string(content),
		agents.KeyFileName: filepath.Base(path),
	}), verbose)

	snapshot, err = app.orchestrator.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if snapshot.Stage == models.StageReviewNeeded || snapshot.Stage == models.StageAnsweringQuestions {
		app.logger.Info("Auto-approving classifications", "session_id", sessionID, "review_remaining", snapshot.ReviewRemaining)
		lastErr = app.drain(app.orchestrator.HandleAction(ctx, sessionID, services.ActionApproveClassifications, nil), verbose)
	}

	results, err := app.orchestrator.Results(sessionID)
	if err != nil {
		if lastErr != "" {
			return nil, fmt.Errorf("classification did not complete: %s", lastErr)
		}
		return nil, err
	}
	return results, nil
}

// drain consumes an action stream and returns the last error message seen.
func (app *application) drain(events <-chan models.StreamEvent, verbose bool) string {
	var lastErr string
	for event := range events {
		switch event.Type {
		case models.EventError:
			lastErr, _ = event.Data["error"].(string)
		case models.EventChat:
			if verbose {
				fmt.Fprintln(os.Stderr, event.Data["message"])
			}
		}
	}
	return lastErr
}

func (app *application) Close() {
	if app.orchestrator != nil {
		if err := app.orchestrator.Close(); err != nil {
			app.logger.WithError(err).Warn("Orchestrator shutdown incomplete")
		}
	}
	if app.gemini != nil {
		_ = app.gemini.Close()
	}
	if app.cache != nil {
		_ = app.cache.Close()
	}
	if app.redis != nil {
		_ = app.redis.Close()
	}
}

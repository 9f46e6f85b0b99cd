package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"voice-gateway/internal/cache"
	"voice-gateway/internal/config"
	"voice-gateway/internal/conversations"
	"voice-gateway/internal/handlers"
	"voice-gateway/internal/httpserver"
	"voice-gateway/internal/metrics"
	"voice-gateway/internal/speech"
	"voice-gateway/pkg/logging/logging"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// ----- Logger -----
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// ----- Metrics -----
	metrics.Register()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.Bool("cache_disabled", cfg.CacheDisabled),
		zap.String("cache_prefix", cfg.CachePrefix),
		zap.Duration("default_ttl", cfg.DefaultTTL()),
		zap.String("db_backend", cfg.DBBackend),
		zap.String("speech_base_url", cfg.SpeechBaseURL),
		zap.String("version_id", cfg.VersionID),
	)

	// ----- Cache -----
	store, err := cache.Open(ctx, cacheConfig(cfg), logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	instrumented := cache.NewInstrumented(store)

	// ----- Conversation store -----
	repo, err := conversations.NewSQLRepository(ctx, cfg.DBBackend, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()

	// ----- Speech client -----
	if cfg.SpeechAPIKey == "" {
		return errors.New("SPEECH_API_KEY is required")
	}
	speechClient, err := speech.NewClient(speech.Config{
		BaseURL:          cfg.SpeechBaseURL,
		APIKey:           cfg.SpeechAPIKey,
		Model:            cfg.SpeechModel,
		Format:           cfg.SpeechFormat,
		SynthesisTimeout: cfg.SpeechTimeout,
		VoicesTimeout:    cfg.SpeechVoicesTimeout,
	}, logger)
	if err != nil {
		return err
	}
	if closer, ok := speechClient.(interface{ Close() error }); ok {
		defer func() { _ = closer.Close() }()
	}

	// ----- Router -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, httpserver.Handlers{
		Conversations: handlers.NewConversationHandler(repo, instrumented, cfg.DefaultTTL()),
		Speech:        handlers.NewSpeechHandler(speechClient, instrumented, handlers.DefaultVoicesTTL),
		Admin:         handlers.NewAdminHandler(store, instrumented),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting gateway",
			zap.String("addr", srv.Addr),
			zap.String("cache_backend", store.Backend()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
			return err
		}
		logger.Info("server shutdown complete")
		return nil
	})

	return g.Wait()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.NewLogger(logging.Options{
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Service: "voice-gateway",
	})
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	logging.SetDefault(logger)
	return logger, nil
}

func cacheConfig(cfg config.Config) cache.Config {
	return cache.Config{
		BackendURL:       cfg.BackendURL,
		Disabled:         cfg.CacheDisabled,
		DefaultTTL:       cfg.DefaultTTL(),
		Prefix:           cfg.CachePrefix,
		FailureThreshold: cfg.FailureThreshold,
		CommandTimeout:   cfg.CommandTimeout,
		SweepInterval:    cfg.SweepInterval,
	}
}

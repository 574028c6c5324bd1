package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/echoclone/echoclone-go/internal/api"
	"github.com/echoclone/echoclone-go/internal/archive"
	"github.com/echoclone/echoclone-go/internal/auth"
	"github.com/echoclone/echoclone-go/internal/backend"
	"github.com/echoclone/echoclone-go/internal/clone"
	"github.com/echoclone/echoclone-go/internal/config"
	"github.com/echoclone/echoclone-go/internal/metrics"
	"github.com/echoclone/echoclone-go/internal/queue"
	"github.com/echoclone/echoclone-go/internal/retention"
	"github.com/echoclone/echoclone-go/internal/storage"
)

// app is the fully wired service.
type app struct {
	handler http.Handler
	synth   backend.Synthesizer
	queue   *queue.Manager
	sweeper *retention.Sweeper
	nc      *nats.Conn
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	logger.Info().
		Str("listen", cfg.Server.Listen).
		Str("backend_kind", cfg.Backend.Kind).
		Str("backend", cfg.Backend.URL).
		Int("workers", cfg.Queue.Workers).
		Bool("archive", cfg.Archive.Enabled()).
		Bool("clip_tokens", cfg.Auth.ClipTokenSecret != "").
		Str("log_level", cfg.Logging.Level).
		Msg("Starting EchoClone server")

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupCheckTimeout)
	if err := a.synth.Health(ctx); err != nil {
		logger.Warn().Err(err).Msg("Backend health check failed - server will start but cloning may fail")
	} else {
		logger.Info().Str("backend_kind", cfg.Backend.Kind).Msg("Backend connection verified")
	}
	cancel()

	a.sweeper.Start()

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Listen).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		a.close(context.Background(), logger)
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down server...")
	}

	ctx, cancel = context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(ctx)
	a.close(ctx, logger)
	if shutdownErr != nil {
		return fmt.Errorf("server shutdown error: %w", shutdownErr)
	}

	logger.Info().Msg("Server stopped")
	return nil
}

// buildApp creates storage, the model backend, the queue and the optional archive,
// and wires them into the HTTP router.
func buildApp(cfg *config.Config, logger zerolog.Logger) (*app, error) {
	store, err := storage.NewLocal(cfg.Storage.RefsDir, cfg.Storage.GeneratedDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare storage: %w", err)
	}

	synth := backend.New(&cfg.Backend)
	q := queue.NewManager(queue.Config{Workers: cfg.Queue.Workers, MaxPending: cfg.Queue.MaxPending})
	m := metrics.NewMetrics()
	tokens := auth.NewClipTokens(cfg.Auth.ClipTokenSecret, cfg.Auth.ClipTokenTTL)

	cloneOpts := clone.Options{
		Store:                  store,
		Synthesizer:            synth,
		Queue:                  q,
		Tokens:                 tokens,
		Metrics:                m,
		Logger:                 logger,
		MaxTextLength:          cfg.Limits.MaxTextLength,
		RemoveFailedReferences: cfg.Storage.RemoveFailedReferences,
	}
	deps := api.Deps{
		Store:          store,
		Tokens:         tokens,
		Synthesizer:    synth,
		Queue:          q,
		Metrics:        m,
		MaxUploadBytes: cfg.Limits.MaxUploadBytes,
	}

	a := &app{synth: synth, queue: q}

	var sweepArchive retention.Archive
	if cfg.Archive.Enabled() {
		nc, clips, err := archive.Connect(cfg.Archive)
		if err != nil {
			_ = q.Shutdown(context.Background())
			return nil, err
		}
		a.nc = nc
		cloneOpts.Archive = clips
		deps.Archive = clips
		sweepArchive = clips
		logger.Info().Str("nats_url", cfg.Archive.NatsURL).Str("bucket", cfg.Archive.Bucket).Msg("Clip archive enabled")
	}

	deps.Clone = clone.NewService(cloneOpts)
	a.handler = api.NewRouter(deps, logger)
	a.sweeper = retention.NewSweeper(store, cfg.Retention, sweepArchive, m, logger)

	return a, nil
}

// close drains in-flight inferences, stops the sweeper and closes the NATS connection.
func (a *app) close(ctx context.Context, logger zerolog.Logger) {
	if err := a.queue.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Inference queue did not drain")
	}
	a.sweeper.Stop()
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.nc.Close()
		}
	}
}

func loadConfig() (*config.Config, error) {
	return config.FromViper(viper.GetViper())
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

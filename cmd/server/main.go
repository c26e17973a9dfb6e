package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/agentchat/internal/api"
	"github.com/eldtechnologies/agentchat/internal/config"
	"github.com/eldtechnologies/agentchat/internal/hub"
	"github.com/eldtechnologies/agentchat/internal/models"
	"github.com/eldtechnologies/agentchat/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Message store: PostgreSQL when configured, SQLite otherwise
	var ds store.DataStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		ds = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.StoragePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.StoragePath).Msg("sqlite open failed")
		}
		ds = sqliteStore
		logger.Info().Str("path", cfg.StoragePath).Msg("using SQLite storage")
	}
	defer ds.Close()

	// Optional Redis for cross-instance fan-out and rate limits
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	rooms := hub.New(logger)
	router := api.NewRouter(logger, api.Options{
		Store:        ds,
		Relay:        redisStore,
		Hub:          rooms,
		HistoryLimit: cfg.HistoryLimit,
		Whitelist:    cfg.RateLimitWhitelist,
	})

	// WriteTimeout stays zero: websocket sessions outlive any fixed deadline
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting agentchat server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if redisStore != nil {
		eg.Go(func() error {
			return redisStore.Subscribe(egCtx, func(msg models.Message) {
				rooms.Broadcast(msg)
			}, func(err error) {
				logger.Warn().Err(err).Msg("dropping relayed message")
			})
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		logger.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		rooms.CloseAll()
		return srv.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server stopped with error")
	}

	logger.Info().Msg("server stopped")
}

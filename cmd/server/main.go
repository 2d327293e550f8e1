package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"prisportal/backend/internal/cache"
	"prisportal/backend/internal/config"
	"prisportal/backend/internal/events"
	"prisportal/backend/internal/httpapi"
	"prisportal/backend/internal/migrations"
	"prisportal/backend/internal/pricing"
	"prisportal/backend/internal/quote"
	"prisportal/backend/internal/service"
	"prisportal/backend/internal/store"
	"prisportal/backend/internal/store/memory"
	pgstore "prisportal/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	logger := newLogger(os.Stdout, cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if cfg.AutoMigrate {
			if err := migrations.Up(pg.DB()); err != nil {
				logger.Fatal().Err(err).Msg("apply migrations")
			}
		}
		version, err := migrations.Version(pg.DB())
		if err != nil {
			logger.Fatal().Err(err).Msg("read schema version")
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info().Str("repository", "postgres").Bool("auto_migrate", cfg.AutoMigrate).Int64("schema_version", version).Msg("repository ready")
	} else {
		repo = memory.NewSeeded()
		logger.Info().Str("repository", "memory").Msg("repository ready")
	}

	quoteCache := cache.QuoteCache(cache.NoopQuoteCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisQuoteCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using noop quote cache")
			_ = redisCache.Close()
		} else {
			quoteCache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info().Str("cache", "redis").Str("addr", cfg.RedisAddr).Msg("quote cache ready")
		}
	}

	publisher := events.Publisher(events.NoopPublisher{})
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		publisher = kafkaPublisher
		closers = append(closers, kafkaPublisher.Close)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("event publisher ready")
	}

	engine := quote.NewEngine(repo, quoteCache, cfg.QuoteCacheTTL, logger)
	svc := service.New(repo, engine, publisher, pricing.NewFormatter(cfg.Locale), logger)
	api := httpapi.New(svc, cfg.AllowedOrigin, logger)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Address()).Msg("pricing backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error().Err(err).Msg("close")
		}
	}

	logger.Info().Msg("server stopped")
}

// newLogger writes timestamped JSON; unknown levels fall back to info.
func newLogger(w io.Writer, level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(parsed).With().Timestamp().Logger()
}

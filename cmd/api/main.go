package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quickdeploy/quickdeploy/internal/app/migrate"
	httpx "github.com/quickdeploy/quickdeploy/internal/http"
	"github.com/quickdeploy/quickdeploy/internal/repository/postgres"
	"github.com/quickdeploy/quickdeploy/internal/service/ingest"
	"github.com/quickdeploy/quickdeploy/internal/service/lifecycle"
	"github.com/quickdeploy/quickdeploy/internal/service/resolve"
	"github.com/quickdeploy/quickdeploy/internal/service/stats"
	"github.com/quickdeploy/quickdeploy/internal/storage"
	"github.com/quickdeploy/quickdeploy/internal/ws"
	"github.com/quickdeploy/quickdeploy/pkg/config"
	"github.com/quickdeploy/quickdeploy/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewFromConfig(ctx, cfg)
	if err != nil {
		log.Error("failed to configure content store", "error", err)
		os.Exit(1)
	}
	if err := store.Healthy(ctx); err != nil {
		log.Error("content store not reachable", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()

	metadataCache := resolve.NewMetadataCache(cfg.MetadataCacheSize, cfg.MetadataCacheTTL)
	statsSvc := stats.New(repo, cfg.StatsCacheTTL, log)

	ingestSvc := ingest.New(repo, store, log, cfg, hub, metadataCache, statsSvc)
	lifecycleSvc := lifecycle.New(repo, store, log, cfg, hub, metadataCache, statsSvc)
	resolver := resolve.New(repo, store, metadataCache, log)

	sweeper := lifecycle.NewSweeper(lifecycleSvc, cfg.CleanupInterval, log)
	go sweeper.Run(ctx)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, cfg, ingestSvc, lifecycleSvc, resolver, statsSvc, repo, store, hub, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "storage", cfg.StorageBackend)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

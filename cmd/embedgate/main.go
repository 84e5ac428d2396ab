package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/embedgate/internal/api"
	"github.com/nidhogg/embedgate/internal/cache"
	"github.com/nidhogg/embedgate/internal/config"
	"github.com/nidhogg/embedgate/internal/manifest"
	"github.com/nidhogg/embedgate/internal/metrics"
	"github.com/nidhogg/embedgate/internal/router"
	"github.com/nidhogg/embedgate/internal/upload"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/embedgate.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", cfg.Server.LogLevel, err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting embedgate...", zap.String("config", cfgPath))

	// Load models and register spaces
	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build registry", zap.Error(err))
	}
	if cfg.Warmup {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := reg.Warmup(ctx)
		cancel()
		if err != nil {
			logger.Fatal("warmup failed", zap.Error(err))
		}
	}

	// Space manifest
	var store *manifest.Store
	if cfg.Manifest.PostgresDSN != "" {
		store, err = manifest.New(cfg.Manifest.PostgresDSN, logger)
		if err != nil {
			logger.Fatal("manifest database unavailable", zap.Error(err))
		}
		dir := cfg.Manifest.MigrationsDir
		if dir == "" {
			dir = "migrations"
		}
		if err := store.Migrate(context.Background(), dir); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
		if err := store.Reconcile(context.Background(), manifestEntries(reg), cfg.Manifest.AllowMigration); err != nil {
			logger.Fatal("space manifest mismatch", zap.Error(err))
		}
	}

	// Vector cache
	var vecCache *cache.Redis
	opts := router.Options{
		DefaultSpace:   cfg.DefaultSpace,
		DefaultTimeout: cfg.DefaultTimeout(),
		Metrics:        metrics.New(),
	}
	if cfg.Cache.RedisURL != "" {
		vecCache, err = cache.NewRedis(cfg.Cache.RedisURL, cfg.CacheTTL(), logger)
		if err != nil {
			logger.Warn("Redis unavailable, running without vector cache", zap.Error(err))
		} else {
			opts.Cache = vecCache
		}
	}

	resolver, err := upload.New(cfg.UploadRoot, cfg.UploadCacheEntries, logger)
	if err != nil {
		logger.Fatal("upload root unavailable", zap.Error(err))
	}

	rt := router.New(reg, resolver, opts, logger)
	handler := api.NewHandler(rt, reg, opts.Metrics, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "5050"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("embedgate listening", zap.String("port", port), zap.Int("spaces", reg.Len()))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down embedgate...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("shutdown did not drain in time", zap.Error(err))
	}
	resolver.Close()
	if vecCache != nil {
		vecCache.Close()
	}
	if store != nil {
		store.Close()
	}
}

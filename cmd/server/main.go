package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"sewainaja/backend/internal/cache"
	"sewainaja/backend/internal/config"
	"sewainaja/backend/internal/feed"
	"sewainaja/backend/internal/httpapi"
	"sewainaja/backend/internal/pricing"
	"sewainaja/backend/internal/service"
	"sewainaja/backend/internal/settlement"
	"sewainaja/backend/internal/store"
	"sewainaja/backend/internal/store/memory"
	pgstore "sewainaja/backend/internal/store/postgres"
	"sewainaja/backend/internal/syncer"
)

func main() {
	cfg := config.Load()
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "sewainaja",
	})

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatal("invalid security configuration", "err", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", "err", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	quotes := cache.QuoteCache(cache.NoopQuoteCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisQuoteCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop quote cache", "err", err)
		} else {
			quotes = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("quote cache: redis")
		}
	} else {
		logger.Info("quote cache: noop")
	}

	policy := pricing.Policy{TouristTaxAllGuests: cfg.TouristTaxAllGuests}
	svc := service.New(repo, quotes, logger, time.Duration(cfg.QuoteTTLSeconds)*time.Second, cfg.DefaultCurrency, policy)
	reconciler := settlement.NewReconciler(repo, logger, cfg.CommissionPercent, cfg.DefaultCurrency)

	feedSyncer := syncer.New(repo, feed.NewFetcher(15*time.Second), logger, cfg.SyncWorkers)
	cronRunner, err := feedSyncer.Schedule(cfg.SyncCron)
	if err != nil {
		logger.Fatal("invalid sync schedule", "spec", cfg.SyncCron, "err", err)
	}
	logger.Info("feed sync scheduled", "spec", cfg.SyncCron, "workers", cfg.SyncWorkers)

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, reconciler, feedSyncer, auth, logger, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", "err", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cronCtx := cronRunner.Stop()
	<-cronCtx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", "err", err)
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bizbuysell-scraper/api"
	"bizbuysell-scraper/config"
	"bizbuysell-scraper/fetcher"
	"bizbuysell-scraper/parser"
	"bizbuysell-scraper/scheduler"
	"bizbuysell-scraper/storage"
	"bizbuysell-scraper/utils"
)

func main() {
	logger := utils.NewLogger()
	cfg := config.Load()

	logger.Info("=== BizBuySell Scraping System starting ===")
	logger.Info("Config — batch: %d | concurrency: %d | rate: %dms | db: %s",
		cfg.DetailBatchSize, cfg.MaxConcurrency, cfg.RateLimitMs, cfg.DatabaseURL)

	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to open store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	fetch := fetcher.New(cfg, logger)
	bizParser := parser.New(cfg.BaseURL)
	sched := scheduler.New(cfg, logger, store, fetch, bizParser)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiServer := api.New(cfg, logger, store)
	httpServer := &http.Server{
		Addr:    cfg.APIListenAddr,
		Handler: apiServer.Router(),
	}

	go func() {
		logger.Info("API listening on %s", cfg.APIListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("API server: %v", err)
		}
	}()

	// Run one-off passes when requested, otherwise the daily schedule.
	switch {
	case len(os.Args) > 1 && os.Args[1] == "search":
		if err := sched.RunSearchPass(ctx); err != nil {
			logger.Error("Search pass: %v", err)
		}
	case len(os.Args) > 1 && os.Args[1] == "details":
		if err := sched.RunDetailsPass(ctx); err != nil {
			logger.Error("Details pass: %v", err)
		}
	default:
		sched.Start(ctx)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API shutdown: %v", err)
	}

	logger.Info("=== Shutdown complete ===")
}

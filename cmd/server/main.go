package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ippclub/dora-registry/internal/config"
	"github.com/ippclub/dora-registry/internal/fetcher"
	"github.com/ippclub/dora-registry/internal/handler"
	"github.com/ippclub/dora-registry/internal/logger"
	"github.com/ippclub/dora-registry/internal/service"
	"github.com/ippclub/dora-registry/internal/store"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default config/config.yaml)")
	flag.Parse()

	// Load configuration
	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFromFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.InitLogger(cfg)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(cfg.Storage.Path, log)
	if err != nil {
		log.Fatal("failed to create store", zap.Error(err))
	}
	defer dbStore.Close()

	registry := service.NewRegistry(dbStore, newFetcher(cfg, log), log, cfg.Search.PageSize)
	syncService := service.NewSyncService(registry, cfg.Repos, log)

	api := handler.NewAPI(cfg, log, registry, syncService)
	defer api.Close()

	// Create router
	r := chi.NewRouter()
	api.RegisterRoutes(r)

	// Create server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("starting server", zap.Int("port", cfg.Server.Port), zap.String("fetcher", cfg.Fetcher.Type))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Start periodic sync
	if cfg.Sync.Interval > 0 && len(cfg.Repos) > 0 {
		go syncService.Run(ctx, cfg.Sync.Interval)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	stop()

	// Graceful shutdown
	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited properly")
}

// newFetcher builds the metadata fetcher selected by fetcher.type
func newFetcher(cfg *config.Config, log *zap.Logger) fetcher.Fetcher {
	switch cfg.Fetcher.Type {
	case config.FetcherGit:
		return fetcher.NewGitFetcher(cfg.Storage.Path, log)
	default:
		return fetcher.NewGitHubFetcher(
			fetcher.WithBaseURL(cfg.Fetcher.GitHub.BaseURL),
			fetcher.WithToken(cfg.Fetcher.GitHub.Token),
			fetcher.WithUserAgent(cfg.Fetcher.UserAgent),
			fetcher.WithMaxRetries(cfg.Fetcher.MaxRetries),
			fetcher.WithTimeout(cfg.Fetcher.Timeout),
			fetcher.WithLogger(log),
		)
	}
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/api"
	"github.com/trial-match-server/internal/config"
	"github.com/trial-match-server/internal/database"
	"github.com/trial-match-server/internal/logging"
	"github.com/trial-match-server/internal/service"
	"github.com/trial-match-server/internal/storage"
	"github.com/trial-match-server/pkg/registry"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := logging.NewLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting trial match server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Result store
	var store storage.Store
	switch cfg.Storage.Driver {
	case "postgres":
		runner, err := database.NewMigrationRunner(&cfg.Database, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create migration runner")
		}
		if err := runner.Up(); err != nil {
			logger.WithError(err).Fatal("Failed to run migrations")
		}
		if err := runner.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close migration runner")
		}

		store, err = storage.NewPostgresStoreFromURL(database.URL(&cfg.Database))
		if err != nil {
			logger.WithError(err).Fatal("Failed to open Postgres store")
		}
	default:
		store, err = storage.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			logger.WithError(err).Fatal("Failed to open SQLite store")
		}
	}
	defer store.Close()

	// Matching pipeline
	matcher, err := service.NewMatchService(logger, &cfg.Matching)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create match service")
	}

	// Trial registry client; the Redis cache is optional
	registryClient := registry.NewClient(registry.Config{
		BaseURL:   cfg.Registry.BaseURL,
		APIKey:    cfg.Registry.APIKey,
		Timeout:   cfg.Registry.Timeout,
		RateLimit: cfg.Registry.RateLimit,
	})
	trialCache, err := registry.NewTrialCache(cfg.Cache)
	if err != nil {
		logger.WithError(err).Warn("Trial cache unavailable, fetching registry records uncached")
		trialCache = nil
	} else {
		defer trialCache.Close()
	}
	fetcher := registry.NewResilientClient(registryClient, trialCache, logger)

	server := api.NewServer(cfg, logger, matcher, store, fetcher)

	// Postgres deployments also report DB health on /health
	if cfg.Storage.Driver == "postgres" {
		db, err := database.NewConnection(ctx, &cfg.Database, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create database pool")
		}
		defer db.Close()
		server.SetHealthChecker(db)
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carelink-health/document-intake-api/internal/analyzer"
	"github.com/carelink-health/document-intake-api/internal/audit"
	"github.com/carelink-health/document-intake-api/internal/config"
	"github.com/carelink-health/document-intake-api/internal/db"
	"github.com/carelink-health/document-intake-api/internal/export"
	"github.com/carelink-health/document-intake-api/internal/extractor"
	"github.com/carelink-health/document-intake-api/internal/handlers"
	"github.com/carelink-health/document-intake-api/internal/ingest"
	"github.com/carelink-health/document-intake-api/internal/pipeline"
	"github.com/carelink-health/document-intake-api/internal/repository"
	"github.com/carelink-health/document-intake-api/internal/router"
	"github.com/carelink-health/document-intake-api/internal/security"
	"github.com/carelink-health/document-intake-api/internal/storage"
	"github.com/carelink-health/document-intake-api/internal/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger := utils.NewLogger(cfg.LogLevel)

	// Initialize database
	database, err := db.NewSQLiteDB(cfg.DatabaseFile)
	if err != nil {
		logger.Fatal("Failed to open database", "error", err)
	}
	defer database.Close()

	// Run migrations
	if err := db.RunMigrations(database); err != nil {
		logger.Fatal("Failed to run migrations", "error", err)
	}

	// Staging storage
	staging, err := storage.NewS3Storage(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize staging storage", "error", err)
	}

	// Persistence + audit
	repo := repository.NewRepository(database)
	auditLog := audit.NewLogger(audit.NewSQLiteStore(database), logger)

	// External capabilities
	capability := analyzer.NewOpenRouterCapability(analyzer.OpenRouterConfig{
		APIKey:            cfg.OpenRouterAPIKey,
		Model:             cfg.OpenRouterModel,
		VisionModel:       cfg.OpenRouterVisionModel,
		RequestsPerSecond: cfg.OpenRouterRPS,
		Timeout:           cfg.CapabilityTimeout,
	}, logger)

	emailClient := export.NewHTTPEmailClient(export.EmailConfig{
		BaseURL: cfg.EmailAPIURL,
		APIKey:  cfg.EmailAPIKey,
	}, logger)

	faxClient := export.NewHTTPFaxClient(export.FaxConfig{
		BaseURL: cfg.FaxAPIURL,
		APIKey:  cfg.FaxAPIKey,
	}, logger)

	// Pipeline stages
	gateway := ingest.NewGateway(staging, auditLog, cfg.MaxFileSize, logger)
	scanner := security.NewScanner(staging, auditLog, logger)
	extract := extractor.New(capability, logger)
	analyze := analyzer.New(capability, cfg.CapabilityTimeout, logger)

	pipe := pipeline.New(scanner, extract, analyze, repo, staging, auditLog, cfg.MaxConcurrentRuns, logger)

	exports := export.NewManager(repo, staging, auditLog, emailClient, faxClient, cfg.EmailFromAddr, logger)

	// HTTP layer
	docHandler := handlers.NewDocumentHandler(gateway, pipe, exports, repo, cfg.MaxFileSize, logger)
	handler := router.NewRouter(docHandler, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}

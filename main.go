package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/onurcolak/scheduled-email-service/environments"
	"github.com/onurcolak/scheduled-email-service/handlers"
	"github.com/onurcolak/scheduled-email-service/internal/repository"
	"github.com/onurcolak/scheduled-email-service/internal/scheduler"
	"github.com/onurcolak/scheduled-email-service/internal/service"
	"github.com/onurcolak/scheduled-email-service/pkg/database"
	"github.com/onurcolak/scheduled-email-service/pkg/logger"
	"github.com/onurcolak/scheduled-email-service/pkg/mailer"
	"github.com/onurcolak/scheduled-email-service/pkg/redis"
	"github.com/onurcolak/scheduled-email-service/pkg/storage"
	"github.com/onurcolak/scheduled-email-service/pkg/validator"
	"github.com/onurcolak/scheduled-email-service/pkg/webhook"
	"github.com/onurcolak/scheduled-email-service/routes"

	_ "github.com/onurcolak/scheduled-email-service/docs" // swagger docs
)

// @title Scheduled Email Service API
// @version 1.0
// @description Schedules emails with optional attachments and delivers them when they fall due
// @termsOfService http://swagger.io/terms/

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @schemes http https
func main() {
	environments.LoadDotEnv()

	// Load config
	cfg := environments.Load()
	logger.Init(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	// Hard-fail if required secrets are missing
	if cfg.Auth.MessagesAPIKey == "" {
		logger.Fatalf("MESSAGES_API_KEY is required but not set")
	}
	if cfg.Auth.SchedulerAPIKey == "" {
		logger.Fatalf("SCHEDULER_API_KEY is required but not set")
	}

	logger.Infof("Starting Scheduled Email Service...")

	// Init DB
	db, err := database.Open(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.RunMigrations(db); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	// Seed data
	if environments.GetEnvAsBool("SEED_DATA", false) {
		if err := database.SeedTestData(db); err != nil {
			logger.Warnf("Failed to seed test data: %v", err)
		}
	}

	// Init redis
	redisClient, err := redis.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Warnf("Redis not available, delivery cache disabled: %v", err)
		redisClient = nil
	}

	// Attachment storage and mail transport
	store, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize attachment storage: %v", err)
	}
	logger.Infof("Attachment storage: %s", cfg.Storage.Driver)

	sender, err := mailer.New(cfg.Mail)
	if err != nil {
		logger.Fatalf("Failed to initialize mailer: %v", err)
	}
	logger.Infof("Mail provider: %s", cfg.Mail.Provider)

	// Initialize repository
	messageRepo := repository.NewMessageRepository(db)

	// Initialize service
	messageService := service.NewMessageService(
		messageRepo,
		sender,
		store,
		service.Config{
			From:               cfg.Mail.From,
			BatchSize:          cfg.Poller.BatchSize,
			MaxAttachmentBytes: cfg.Storage.MaxAttachmentBytes,
		},
	)

	// Only hand out the client when it exists so interfaces never hold a typed nil.
	var cachePinger interface{ Ping(context.Context) error }
	if redisClient != nil {
		messageService.UseCache(redisClient)
		cachePinger = redisClient
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize scheduler
	sched := scheduler.NewScheduler(messageService, cfg.Poller.Interval)
	if alertClient := webhook.NewAlertClient(cfg.Alert); alertClient.Enabled() {
		sched.WithAlerts(alertClient, cfg.Alert.IterationCount)
		logger.Infof("Failure alerts configured: %s (threshold %d)", alertClient.GetURL(), cfg.Alert.IterationCount)
	}

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, cachePinger, sched)
	messageHandler := handlers.NewMessageHandler(messageService)
	schedulerHandler := handlers.NewSchedulerHandler(sched, ctx)

	// Auto-start scheduler
	if cfg.Poller.AutoStart {
		logger.Infof("Auto-starting scheduler (interval %s)...", cfg.Poller.Interval)
		if err := sched.Start(ctx); err != nil {
			logger.Warnf("Failed to auto-start scheduler: %v", err)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = validator.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	// Leave room for the multipart envelope around the largest accepted attachment.
	e.Use(middleware.BodyLimit(strconv.FormatInt(cfg.Storage.MaxAttachmentBytes+(1<<20), 10)))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			"x-capsule-auth-key",
		},
	}))

	// Setup routes
	routes.RegisterRoutes(e, healthHandler, messageHandler, schedulerHandler, cfg)

	// Start server in goroutine
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Infof("Server starting on http://localhost%s", addr)
		logger.Infof("Swagger docs available at http://localhost%s/swagger/index.html", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Shutting down gracefully...")

	// Stop scheduler first (with timeout) so an in-flight cycle can finish its batch
	if sched.IsRunning() {
		logger.Infof("Stopping scheduler...")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()

		done := make(chan error, 1)
		go func() {
			done <- sched.Stop()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Errorf("Error stopping scheduler: %v", err)
			} else {
				logger.Infof("Scheduler stopped successfully")
			}
		case <-stopCtx.Done():
			logger.Warnf("Scheduler stop timeout, forcing shutdown")
		}
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	// Shutdown HTTP server (with timeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Infof("Shutting down HTTP server...")
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Infof("HTTP server stopped successfully")
	}

	// Close database connection
	logger.Infof("Closing database connection...")
	if err := db.Close(); err != nil {
		logger.Errorf("Error closing database: %v", err)
	}

	// Close Redis connection
	if redisClient != nil {
		logger.Infof("Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			logger.Errorf("Error closing Redis: %v", err)
		}
	}

	logger.Infof("Graceful shutdown completed")
}

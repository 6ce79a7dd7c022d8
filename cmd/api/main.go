package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deskops/snowsync/internal/config"
	"github.com/deskops/snowsync/internal/handlers"
	"github.com/deskops/snowsync/internal/logging"
	"github.com/deskops/snowsync/internal/middleware"
	"github.com/deskops/snowsync/internal/observability"
	"github.com/deskops/snowsync/internal/servicenow"
	"github.com/deskops/snowsync/internal/services"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger first
	if err := logging.InitLogger(); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logging.Logger.Fatal("failed to load config", zap.Error(err))
	}

	// Initialize observability
	observability.InitTracer()
	defer observability.ShutdownTracer()

	// Initialize database connections
	config.InitMongoDB()
	config.InitRedis()

	cfg := config.AppConfig
	db := config.MongoDB

	source := servicenow.NewClient(
		cfg.ServiceNowInstanceURL,
		cfg.ServiceNowUsername,
		cfg.ServiceNowPassword,
		cfg.ServiceNowTimeout,
		logging.Logger,
	)
	ticketStore := services.NewMongoTicketStore(db, cfg.TicketCollection, logging.Logger)
	broadcaster := services.NewRedisBroadcaster(config.Redis, logging.Logger)
	reader := services.NewHybridReader(source, ticketStore, broadcaster, config.Redis, cfg.ReadFanout, logging.Logger)

	orchestrator := services.NewOrchestrator(source, ticketStore, broadcaster, config.Redis, services.OrchestratorConfig{
		Tables:       cfg.SyncTables,
		BatchSize:    cfg.SyncBatchSize,
		DeltaWindow:  cfg.DeltaWindow,
		CollectSLAs:  cfg.CollectSLAs,
		CollectNotes: cfg.CollectNotes,
		Broadcast:    true,
	}, logging.Logger)

	jobStore := services.NewMongoJobStore(db, cfg.SyncJobCollection, logging.Logger)
	lock := services.NewRedisLock(config.Redis, services.SchedulerLockName, logging.Logger)
	// The API instance manages job descriptors and serves manual triggers;
	// the tick loop runs in the sync daemon.
	scheduler := services.NewScheduler(jobStore, lock, orchestrator, orchestrator.Stats(), cfg.SchedulerTickInterval, cfg.SchedulerLockTTL, logging.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := scheduler.Load(ctx); err != nil {
		logging.Logger.Fatal("failed to load sync jobs", zap.Error(err))
	}
	cancel()

	ticketHandler := handlers.NewTicketHandler(reader, logging.Logger)
	jobHandler := handlers.NewJobHandler(scheduler, logging.Logger)
	healthHandler := handlers.NewHealthHandler(db, config.Redis, ticketStore, cfg.SyncTables)

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create router with middleware
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(),
		cors.Default(),
	)

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := router.Group("/v1")
	{
		v1.GET("/health", healthHandler.Check)

		v1.GET("/tickets/:table/:id", ticketHandler.GetTicket)
		v1.DELETE("/tickets/:table/:id", ticketHandler.DeleteTicket)
		v1.POST("/tickets/batch", ticketHandler.BatchGetTickets)

		v1.POST("/sync/jobs", jobHandler.CreateJob)
		v1.GET("/sync/jobs", jobHandler.ListJobs)
		v1.GET("/sync/jobs/:id", jobHandler.GetJob)
		v1.PATCH("/sync/jobs/:id", jobHandler.UpdateJob)
		v1.DELETE("/sync/jobs/:id", jobHandler.DeleteJob)
		v1.PUT("/sync/jobs/:id/enabled", jobHandler.SetJobEnabled)
		v1.POST("/sync/jobs/:id/trigger", jobHandler.TriggerJob)
		v1.GET("/sync/stats", jobHandler.GetStats)
	}

	// Create server with timeouts
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logging.Logger.Info("starting server",
			zap.Int("port", cfg.Port),
			zap.String("environment", cfg.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	logging.Logger.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	// Let pending write-backs and change events drain
	reader.Close()

	logging.Logger.Info("server exited gracefully")
}

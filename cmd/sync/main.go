package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deskops/snowsync/internal/config"
	"github.com/deskops/snowsync/internal/logging"
	"github.com/deskops/snowsync/internal/models"
	"github.com/deskops/snowsync/internal/observability"
	"github.com/deskops/snowsync/internal/servicenow"
	"github.com/deskops/snowsync/internal/services"
	"go.uber.org/zap"
)

func main() {
	// Initialize logging
	if err := logging.InitLogger(); err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logging.Logger.Fatal("failed to load config", zap.Error(err))
	}

	logging.Logger.Info("starting sync scheduler")

	// Initialize observability
	observability.InitTracer()
	defer observability.ShutdownTracer()

	// Initialize database connections
	config.InitMongoDB()
	config.InitRedis()

	cfg := config.AppConfig

	source := servicenow.NewClient(
		cfg.ServiceNowInstanceURL,
		cfg.ServiceNowUsername,
		cfg.ServiceNowPassword,
		cfg.ServiceNowTimeout,
		logging.Logger,
	)
	ticketStore := services.NewMongoTicketStore(config.MongoDB, cfg.TicketCollection, logging.Logger)
	broadcaster := services.NewRedisBroadcaster(config.Redis, logging.Logger)

	orchestrator := services.NewOrchestrator(source, ticketStore, broadcaster, config.Redis, services.OrchestratorConfig{
		Tables:       cfg.SyncTables,
		BatchSize:    cfg.SyncBatchSize,
		DeltaWindow:  cfg.DeltaWindow,
		CollectSLAs:  cfg.CollectSLAs,
		CollectNotes: cfg.CollectNotes,
		Broadcast:    true,
	}, logging.Logger)

	jobStore := services.NewMongoJobStore(config.MongoDB, cfg.SyncJobCollection, logging.Logger)
	lock := services.NewRedisLock(config.Redis, services.SchedulerLockName, logging.Logger)
	scheduler := services.NewScheduler(jobStore, lock, orchestrator, orchestrator.Stats(), cfg.SchedulerTickInterval, cfg.SchedulerLockTTL, logging.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := scheduler.Load(ctx); err != nil {
		logging.Logger.Fatal("failed to load sync jobs", zap.Error(err))
	}
	bootstrapDefaultJobs(ctx, scheduler, cfg)
	cancel()

	// Start tick loop
	go scheduler.Start()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logging.Logger.Info("shutdown signal received")
	scheduler.Stop()
	logging.Logger.Info("sync scheduler stopped")
}

// bootstrapDefaultJobs seeds the standard full and incremental jobs on
// first start. Existing jobs with the same names are left untouched.
func bootstrapDefaultJobs(ctx context.Context, scheduler *services.Scheduler, cfg *config.Config) {
	defaults := []*models.SyncJob{
		{
			Name:      "full-sync",
			Cron:      cfg.FullSyncCron,
			Tables:    cfg.SyncTables,
			BatchSize: cfg.SyncBatchSize,
			Enabled:   true,
			CreatedBy: "bootstrap",
		},
		{
			Name:        "incremental-sync",
			Cron:        cfg.IncrementalSyncCron,
			Tables:      cfg.SyncTables,
			BatchSize:   cfg.SyncBatchSize,
			Incremental: true,
			DeltaWindow: cfg.DeltaWindow,
			Enabled:     true,
			CreatedBy:   "bootstrap",
		},
	}

	for _, job := range defaults {
		job.Timeout = cfg.SyncJobTimeout
		job.MaxRetries = cfg.SyncJobMaxRetries

		if _, err := scheduler.Schedule(ctx, job); err != nil {
			if errors.Is(err, models.ErrJobNameExists) {
				continue
			}
			logging.Logger.Error("failed to bootstrap sync job",
				zap.String("job", job.Name),
				zap.Error(err))
			continue
		}
		logging.Logger.Info("bootstrapped sync job",
			zap.String("job", job.Name),
			zap.String("cron", job.Cron))
	}
}

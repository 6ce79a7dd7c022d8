package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values
type Config struct {
	// Server configuration
	Port        int    `json:"port"`
	Environment string `json:"environment"`

	// MongoDB configuration
	MongoURI      string `json:"mongo_uri"`
	MongoDatabase string `json:"mongo_database"`

	// Redis configuration
	RedisURI      string `json:"redis_uri"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`

	// ServiceNow configuration
	ServiceNowInstanceURL string        `json:"servicenow_instance_url"`
	ServiceNowUsername    string        `json:"servicenow_username"`
	ServiceNowPassword    string        `json:"servicenow_password"`
	ServiceNowTimeout     time.Duration `json:"servicenow_timeout"`

	// Collection names
	TicketCollection  string `json:"mongo_ticket_collection"`
	SyncJobCollection string `json:"mongo_sync_job_collection"`

	// Sync configuration
	SyncTables          []string      `json:"sync_tables"`
	SyncBatchSize       int           `json:"sync_batch_size"`
	DeltaWindow         time.Duration `json:"delta_window"`
	CollectSLAs         bool          `json:"collect_slas"`
	CollectNotes        bool          `json:"collect_notes"`
	SyncJobTimeout      time.Duration `json:"sync_job_timeout"`
	SyncJobMaxRetries   int           `json:"sync_job_max_retries"`
	FullSyncCron        string        `json:"full_sync_cron"`
	IncrementalSyncCron string        `json:"incremental_sync_cron"`

	// Scheduler configuration
	SchedulerTickInterval time.Duration `json:"scheduler_tick_interval"`
	SchedulerLockTTL      time.Duration `json:"scheduler_lock_ttl"`

	// Read path configuration
	ReadFanout int `json:"read_fanout"`

	// Tracing configuration
	TracingEnabled  bool   `json:"tracing_enabled"`
	TracingEndpoint string `json:"tracing_endpoint"`
}

var (
	AppConfig *Config
)

// LoadConfig loads configuration from environment variables
func LoadConfig() error {
	port, err := strconv.Atoi(getEnvOrDefault("PORT", "8080"))
	if err != nil {
		return fmt.Errorf("invalid PORT: %w", err)
	}

	redisDB, err := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
	if err != nil {
		return fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	instanceURL := os.Getenv("SERVICENOW_INSTANCE_URL")
	if instanceURL == "" {
		return fmt.Errorf("SERVICENOW_INSTANCE_URL environment variable is required")
	}

	snowTimeout, err := time.ParseDuration(getEnvOrDefault("SERVICENOW_TIMEOUT", "30s"))
	if err != nil {
		return fmt.Errorf("invalid SERVICENOW_TIMEOUT: %w", err)
	}

	batchSize, err := strconv.Atoi(getEnvOrDefault("SYNC_BATCH_SIZE", "200"))
	if err != nil {
		return fmt.Errorf("invalid SYNC_BATCH_SIZE: %w", err)
	}

	deltaWindow, err := time.ParseDuration(getEnvOrDefault("SYNC_DELTA_WINDOW", "6h"))
	if err != nil {
		return fmt.Errorf("invalid SYNC_DELTA_WINDOW: %w", err)
	}

	jobTimeout, err := time.ParseDuration(getEnvOrDefault("SYNC_JOB_TIMEOUT", "10m"))
	if err != nil {
		return fmt.Errorf("invalid SYNC_JOB_TIMEOUT: %w", err)
	}

	maxRetries, err := strconv.Atoi(getEnvOrDefault("SYNC_JOB_MAX_RETRIES", "3"))
	if err != nil {
		return fmt.Errorf("invalid SYNC_JOB_MAX_RETRIES: %w", err)
	}

	tickInterval, err := time.ParseDuration(getEnvOrDefault("SCHEDULER_TICK_INTERVAL", "30s"))
	if err != nil {
		return fmt.Errorf("invalid SCHEDULER_TICK_INTERVAL: %w", err)
	}

	lockTTL, err := time.ParseDuration(getEnvOrDefault("SCHEDULER_LOCK_TTL", "60s"))
	if err != nil {
		return fmt.Errorf("invalid SCHEDULER_LOCK_TTL: %w", err)
	}

	readFanout, err := strconv.Atoi(getEnvOrDefault("READ_FANOUT", "5"))
	if err != nil {
		return fmt.Errorf("invalid READ_FANOUT: %w", err)
	}

	AppConfig = &Config{
		// Server configuration
		Port:        port,
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),

		// MongoDB configuration
		MongoURI:      getEnvOrDefault("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase: getEnvOrDefault("MONGODB_DATABASE", "snowsync"),

		// Redis configuration
		RedisURI:      getEnvOrDefault("REDIS_URI", "localhost:6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       redisDB,

		// ServiceNow configuration
		ServiceNowInstanceURL: strings.TrimRight(instanceURL, "/"),
		ServiceNowUsername:    getEnvOrDefault("SERVICENOW_USERNAME", ""),
		ServiceNowPassword:    getEnvOrDefault("SERVICENOW_PASSWORD", ""),
		ServiceNowTimeout:     snowTimeout,

		// Collection names
		TicketCollection:  getEnvOrDefault("MONGODB_TICKET_COLLECTION", "tickets"),
		SyncJobCollection: getEnvOrDefault("MONGODB_SYNC_JOB_COLLECTION", "sync_jobs"),

		// Sync configuration
		SyncTables:          splitAndTrim(getEnvOrDefault("SYNC_TABLES", "incident,change_task,sc_task")),
		SyncBatchSize:       batchSize,
		DeltaWindow:         deltaWindow,
		CollectSLAs:         getEnvOrDefault("SYNC_COLLECT_SLAS", "false") == "true",
		CollectNotes:        getEnvOrDefault("SYNC_COLLECT_NOTES", "false") == "true",
		SyncJobTimeout:      jobTimeout,
		SyncJobMaxRetries:   maxRetries,
		FullSyncCron:        getEnvOrDefault("FULL_SYNC_CRON", "0 2 * * *"),
		IncrementalSyncCron: getEnvOrDefault("INCREMENTAL_SYNC_CRON", "*/15 * * * *"),

		// Scheduler configuration
		SchedulerTickInterval: tickInterval,
		SchedulerLockTTL:      lockTTL,

		// Read path configuration
		ReadFanout: readFanout,

		// Tracing configuration
		TracingEnabled:  getEnvOrDefault("TRACING_ENABLED", "false") == "true",
		TracingEndpoint: getEnvOrDefault("TRACING_ENDPOINT", "localhost:4317"),
	}

	return nil
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// splitAndTrim splits a comma-separated list, dropping empty entries
func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

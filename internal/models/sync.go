package models

import "time"

// ConflictPolicy decides how an incoming upstream record is reconciled
// against an existing cached copy. The skip-on-not-newer rule applies
// under every policy; the policy only governs which side wins when the
// incoming record IS newer.
type ConflictPolicy string

const (
	PolicyServiceNowWins ConflictPolicy = "servicenow_wins"
	PolicyMongoWins      ConflictPolicy = "mongodb_wins"
	PolicyMerge          ConflictPolicy = "merge"
)

// SyncJob is the durable configuration and runtime state of a scheduled
// synchronization task. Persisted as one document per job.
type SyncJob struct {
	ID             string         `bson:"_id" json:"id"`
	Name           string         `bson:"name" json:"name"`
	Cron           string         `bson:"cron" json:"cron"`
	Tables         []string       `bson:"tables" json:"tables"`
	BatchSize      int            `bson:"batch_size" json:"batch_size"`
	Incremental    bool           `bson:"incremental" json:"incremental"`
	DeltaWindow    time.Duration  `bson:"delta_window" json:"delta_window"`
	Enabled        bool           `bson:"enabled" json:"enabled"`
	CreatedBy      string         `bson:"created_by,omitempty" json:"created_by,omitempty"`
	Tags           []string       `bson:"tags,omitempty" json:"tags,omitempty"`
	MaxRetries     int            `bson:"max_retries" json:"max_retries"`
	Timeout        time.Duration  `bson:"timeout" json:"timeout"`
	ConflictPolicy ConflictPolicy `bson:"conflict_policy" json:"conflict_policy"`
	CreatedAt      time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `bson:"updated_at" json:"updated_at"`

	// Runtime state, owned by the scheduler
	RunCount  int64     `bson:"run_count" json:"run_count"`
	FailCount int64     `bson:"fail_count" json:"fail_count"`
	LastRunAt time.Time `bson:"last_run_at,omitempty" json:"last_run_at,omitempty"`
	NextRunAt time.Time `bson:"next_run_at,omitempty" json:"next_run_at,omitempty"`
	LastError string    `bson:"last_error,omitempty" json:"last_error,omitempty"`
}

// SyncJobUpdate carries a partial job mutation; nil fields are untouched
type SyncJobUpdate struct {
	Cron        *string        `json:"cron,omitempty"`
	Tables      []string       `json:"tables,omitempty"`
	BatchSize   *int           `json:"batch_size,omitempty"`
	Incremental *bool          `json:"incremental,omitempty"`
	DeltaWindow *time.Duration `json:"delta_window,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	MaxRetries  *int           `json:"max_retries,omitempty"`
	Timeout     *time.Duration `json:"timeout,omitempty"`
}

// maxResultErrors bounds the diagnostic error list per table pass
const maxResultErrors = 25

// RecordError is one failed record inside a table sync pass
type RecordError struct {
	SysID string `json:"sys_id"`
	Error string `json:"error"`
}

// TableSyncResult is the per-table outcome of one sync invocation
type TableSyncResult struct {
	Table     string        `json:"table"`
	Processed int           `json:"processed"`
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Conflicts int           `json:"conflicts"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
	Errors    []RecordError `json:"errors,omitempty"`
}

// AddError appends a record error, keeping the list bounded
func (r *TableSyncResult) AddError(sysID string, err error) {
	r.Failed++
	if len(r.Errors) < maxResultErrors {
		r.Errors = append(r.Errors, RecordError{SysID: sysID, Error: err.Error()})
	}
}

// SyncStatsSnapshot is a point-in-time copy of the process-wide sync
// statistics aggregate
type SyncStatsSnapshot struct {
	TotalSyncs            int64         `json:"total_syncs"`
	SuccessfulSyncs       int64         `json:"successful_syncs"`
	FailedSyncs           int64         `json:"failed_syncs"`
	TicketsProcessed      int64         `json:"tickets_processed"`
	SubResourcesCollected int64         `json:"sub_resources_collected"`
	AverageDuration       time.Duration `json:"average_duration"`
	LastSyncAt            time.Time     `json:"last_sync_at,omitempty"`
	RecentErrors          []string      `json:"recent_errors,omitempty"`
}

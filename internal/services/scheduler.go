package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/deskops/snowsync/internal/logging"
	"github.com/deskops/snowsync/internal/models"
	"github.com/deskops/snowsync/internal/observability"
	"github.com/deskops/snowsync/internal/utils"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SchedulerLockName is the well-known key of the cross-process lock
// guarding the dispatch of due jobs
const SchedulerLockName = "snowsync:scheduler:lock"

// ErrSchedulerBusy reports that a manual trigger lost the lock race
var ErrSchedulerBusy = errors.New("scheduler lock is held by another instance")

// JobRunner executes one sync job invocation
type JobRunner interface {
	RunJob(ctx context.Context, job *models.SyncJob) ([]models.TableSyncResult, error)
}

// Scheduler maintains the registry of named sync jobs, ticks on a fixed
// interval, and dispatches due jobs while holding the cross-process
// lock. Every job mutation is written through to the store before the
// in-memory state is considered authoritative.
type Scheduler struct {
	mu           sync.RWMutex
	jobs         map[string]*models.SyncJob
	store        JobStore
	lock         Locker
	runner       JobRunner
	stats        *SyncStats
	tickInterval time.Duration
	lockTTL      time.Duration
	stopChan     chan struct{}
	logger       *logging.SafeLogger
}

// NewScheduler creates a scheduler. Call Load before Start so persisted
// jobs are in place before the first tick.
func NewScheduler(store JobStore, lock Locker, runner JobRunner, stats *SyncStats, tickInterval, lockTTL time.Duration, logger *logging.SafeLogger) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = 30 * time.Second
	}
	if lockTTL <= 0 {
		lockTTL = 2 * tickInterval
	}
	return &Scheduler{
		jobs:         make(map[string]*models.SyncJob),
		store:        store,
		lock:         lock,
		runner:       runner,
		stats:        stats,
		tickInterval: tickInterval,
		lockTTL:      lockTTL,
		stopChan:     make(chan struct{}),
		logger:       logger,
	}
}

// parseCron validates a standard 5-field cron expression
func parseCron(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidCron, err)
	}
	return sched, nil
}

// Load reloads all persisted jobs at startup, recomputing next-run
// times that are missing or out of date. Runs missed during downtime are
// not replayed; the job resumes on its next cron boundary.
func (s *Scheduler) Load(ctx context.Context) error {
	if err := s.loadJobs(ctx, true); err != nil {
		return err
	}

	s.mu.RLock()
	count := len(s.jobs)
	s.mu.RUnlock()
	s.logger.Info("loaded sync jobs", zap.Int("count", count))
	return nil
}

// refreshJobs re-reads persisted state between ticks. Unlike Load it
// keeps past-due next-run times, so a job that came due since the last
// tick still dispatches.
func (s *Scheduler) refreshJobs(ctx context.Context) error {
	return s.loadJobs(ctx, false)
}

func (s *Scheduler) loadJobs(ctx context.Context, recomputeStale bool) error {
	jobs, err := s.store.LoadAll(ctx)
	if err != nil {
		return err
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = make(map[string]*models.SyncJob, len(jobs))
	for _, job := range jobs {
		sched, err := parseCron(job.Cron)
		if err != nil {
			// Malformed expressions are rejected at schedule time, so
			// this only happens when persisted state predates a rule
			// change. Keep the job visible but never due.
			s.logger.Error("persisted job has invalid cron expression, disabling",
				zap.String("job", job.Name),
				zap.String("cron", job.Cron),
				zap.Error(err))
			job.Enabled = false
			job.NextRunAt = time.Time{}
		} else if job.NextRunAt.IsZero() || (recomputeStale && job.NextRunAt.Before(now)) {
			job.NextRunAt = sched.Next(now)
			if err := s.store.Save(ctx, job); err != nil {
				s.logger.Warn("failed to persist recomputed next run",
					zap.String("job", job.Name),
					zap.Error(err))
			}
		}
		s.jobs[job.ID] = job
	}

	return nil
}

// Schedule registers a new job. The descriptor is validated and
// persisted before it becomes visible to the tick loop.
func (s *Scheduler) Schedule(ctx context.Context, job *models.SyncJob) (string, error) {
	if job.Name == "" {
		return "", models.ErrMissingJobName
	}
	if len(job.Tables) == 0 {
		return "", models.ErrMissingJobTables
	}
	sched, err := parseCron(job.Cron)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.jobs {
		if existing.Name == job.Name {
			return "", models.ErrJobNameExists
		}
	}

	if job.ID == "" {
		job.ID = utils.GenerateUUID()
	}
	if job.BatchSize <= 0 {
		job.BatchSize = 200
	}
	if job.MaxRetries <= 0 {
		job.MaxRetries = 3
	}
	if job.Timeout <= 0 {
		job.Timeout = 10 * time.Minute
	}
	if job.ConflictPolicy == "" {
		job.ConflictPolicy = models.PolicyServiceNowWins
	}

	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.NextRunAt = sched.Next(now)

	if err := s.store.Save(ctx, job); err != nil {
		return "", err
	}
	s.jobs[job.ID] = job

	s.logger.Info("scheduled sync job",
		zap.String("job", job.Name),
		zap.String("cron", job.Cron),
		zap.Time("next_run", job.NextRunAt))

	return job.ID, nil
}

// Unschedule removes a job and its persisted state
func (s *Scheduler) Unschedule(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	delete(s.jobs, id)

	s.logger.Info("unscheduled sync job", zap.String("job", job.Name))
	return nil
}

// SetEnabled flips a job's enablement flag
func (s *Scheduler) SetEnabled(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}
	job.Enabled = enabled
	job.UpdatedAt = time.Now()

	if err := s.store.Save(ctx, job); err != nil {
		return err
	}

	s.logger.Info("sync job enablement changed",
		zap.String("job", job.Name),
		zap.Bool("enabled", enabled))
	return nil
}

// UpdateJob applies a partial descriptor update. A cron change is
// validated and recomputes the next run.
func (s *Scheduler) UpdateJob(ctx context.Context, id string, update *models.SyncJobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return models.ErrJobNotFound
	}

	if update.Cron != nil && *update.Cron != job.Cron {
		sched, err := parseCron(*update.Cron)
		if err != nil {
			return err
		}
		job.Cron = *update.Cron
		job.NextRunAt = sched.Next(time.Now())
	}
	if update.Tables != nil {
		if len(update.Tables) == 0 {
			return models.ErrMissingJobTables
		}
		job.Tables = update.Tables
	}
	if update.BatchSize != nil {
		job.BatchSize = *update.BatchSize
	}
	if update.Incremental != nil {
		job.Incremental = *update.Incremental
	}
	if update.DeltaWindow != nil {
		job.DeltaWindow = *update.DeltaWindow
	}
	if update.Tags != nil {
		job.Tags = update.Tags
	}
	if update.MaxRetries != nil {
		job.MaxRetries = *update.MaxRetries
	}
	if update.Timeout != nil {
		job.Timeout = *update.Timeout
	}
	job.UpdatedAt = time.Now()

	return s.store.Save(ctx, job)
}

// TriggerJob dispatches a job immediately, bypassing the cron check but
// still respecting the cross-process lock
func (s *Scheduler) TriggerJob(ctx context.Context, id string) error {
	s.mu.RLock()
	_, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return models.ErrJobNotFound
	}

	acquired, err := s.lock.Acquire(ctx, s.lockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		observability.SchedulerLockAcquisitions.WithLabelValues("lost").Inc()
		return ErrSchedulerBusy
	}
	observability.SchedulerLockAcquisitions.WithLabelValues("won").Inc()
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.logger.Warn("failed to release scheduler lock after manual trigger", zap.Error(err))
		}
	}()

	return s.dispatchJob(ctx, id)
}

// GetJob returns a copy of one job
func (s *Scheduler) GetJob(id string) (*models.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

// ListJobs returns copies of every registered job
func (s *Scheduler) ListJobs() []*models.SyncJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*models.SyncJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		copied := *job
		jobs = append(jobs, &copied)
	}
	return jobs
}

// GetStats returns the sync statistics snapshot
func (s *Scheduler) GetStats() models.SyncStatsSnapshot {
	return s.stats.Snapshot()
}

// Start runs the tick loop until Stop is called
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started",
		zap.Duration("tick_interval", s.tickInterval),
		zap.Duration("lock_ttl", s.lockTTL))

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Stop stops the tick loop
func (s *Scheduler) Stop() {
	close(s.stopChan)
}

// Tick runs one scheduling pass: acquire the lock or skip entirely,
// dispatch every due job, release the lock unconditionally.
func (s *Scheduler) Tick(ctx context.Context) {
	acquired, err := s.lock.Acquire(ctx, s.lockTTL)
	if err != nil {
		s.logger.Error("scheduler lock acquisition failed", zap.Error(err))
		return
	}
	if !acquired {
		// Another instance owns this tick. Expected, not an error.
		observability.SchedulerLockAcquisitions.WithLabelValues("lost").Inc()
		return
	}
	observability.SchedulerLockAcquisitions.WithLabelValues("won").Inc()

	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.logger.Warn("failed to release scheduler lock", zap.Error(err))
		}
	}()

	// Jobs may have been created or updated by another instance since the
	// last tick. Reload under the lock; on failure run with what we have.
	if err := s.refreshJobs(ctx); err != nil {
		s.logger.Warn("failed to reload jobs, using in-memory registry", zap.Error(err))
	}

	now := time.Now()

	s.mu.RLock()
	due := make([]string, 0)
	for id, job := range s.jobs {
		if job.Enabled && !job.NextRunAt.IsZero() && !job.NextRunAt.After(now) {
			due = append(due, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range due {
		if err := s.dispatchJob(ctx, id); err != nil {
			s.logger.Warn("job dispatch reported failure", zap.String("job_id", id), zap.Error(err))
		}
	}
}

// dispatchJob runs one job invocation. The run count is persisted before
// the runner starts, so a crash mid-run never loses the increment, and
// the next run always advances past its previous value, so a failing job
// never spins and a manual trigger never leaves the schedule in place.
func (s *Scheduler) dispatchJob(ctx context.Context, id string) error {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return models.ErrJobNotFound
	}

	invocation := *job
	invocation.RunCount++
	invocation.LastRunAt = time.Now()
	if err := s.store.Save(ctx, &invocation); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to persist run state for job %s: %w", job.Name, err)
	}
	job.RunCount = invocation.RunCount
	job.LastRunAt = invocation.LastRunAt
	s.mu.Unlock()

	s.logger.Info("dispatching sync job",
		zap.String("job", invocation.Name),
		zap.Int64("run_count", invocation.RunCount))

	results, runErr := s.runner.RunJob(ctx, &invocation)

	s.mu.Lock()
	defer s.mu.Unlock()

	// The job may have been unscheduled while running.
	job, ok = s.jobs[id]
	if !ok {
		return runErr
	}

	if runErr != nil {
		job.FailCount++
		job.LastError = runErr.Error()
		s.stats.RecordError(fmt.Sprintf("job %s: %v", job.Name, runErr))
	} else {
		job.LastError = ""
	}

	if sched, err := parseCron(job.Cron); err == nil {
		// A manual trigger can land before the pending cron boundary;
		// the next run must still move past it.
		from := time.Now()
		if job.NextRunAt.After(from) {
			from = job.NextRunAt
		}
		job.NextRunAt = sched.Next(from)
	}

	if err := s.store.Save(ctx, job); err != nil {
		s.logger.Error("failed to persist job state after dispatch",
			zap.String("job", job.Name),
			zap.Error(err))
	}

	s.logger.Info("sync job dispatch finished",
		zap.String("job", job.Name),
		zap.Int("table_results", len(results)),
		zap.Time("next_run", job.NextRunAt),
		zap.Error(runErr))

	return runErr
}

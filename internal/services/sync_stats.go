package services

import (
	"sync"
	"time"

	"github.com/deskops/snowsync/internal/models"
)

// maxStatsErrors bounds the rolling error log in the aggregate
const maxStatsErrors = 50

// SyncStats is the process-wide synchronization aggregate. Initialized
// at engine start, updated after every table pass, reset only by
// process restart.
type SyncStats struct {
	mu                    sync.RWMutex
	totalSyncs            int64
	successfulSyncs       int64
	failedSyncs           int64
	ticketsProcessed      int64
	subResourcesCollected int64
	totalDuration         time.Duration
	lastSyncAt            time.Time
	recentErrors          []string
}

// NewSyncStats creates an empty aggregate
func NewSyncStats() *SyncStats {
	return &SyncStats{}
}

// RecordResult folds one table pass into the running totals.
// Success/failure classification is per table, not per record.
func (s *SyncStats) RecordResult(result *models.TableSyncResult, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalSyncs++
	if success {
		s.successfulSyncs++
	} else {
		s.failedSyncs++
	}
	s.ticketsProcessed += int64(result.Processed)
	s.totalDuration += result.Duration
	s.lastSyncAt = time.Now()
}

// RecordSubResources counts collected SLA/note sub-records
func (s *SyncStats) RecordSubResources(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subResourcesCollected += int64(n)
}

// RecordError appends to the bounded rolling error log
func (s *SyncStats) RecordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.recentErrors) >= maxStatsErrors {
		s.recentErrors = s.recentErrors[1:]
	}
	s.recentErrors = append(s.recentErrors, msg)
}

// Snapshot returns a point-in-time copy of the aggregate
func (s *SyncStats) Snapshot() models.SyncStatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var avg time.Duration
	if s.totalSyncs > 0 {
		avg = s.totalDuration / time.Duration(s.totalSyncs)
	}

	errs := make([]string, len(s.recentErrors))
	copy(errs, s.recentErrors)

	return models.SyncStatsSnapshot{
		TotalSyncs:            s.totalSyncs,
		SuccessfulSyncs:       s.successfulSyncs,
		FailedSyncs:           s.failedSyncs,
		TicketsProcessed:      s.ticketsProcessed,
		SubResourcesCollected: s.subResourcesCollected,
		AverageDuration:       avg,
		LastSyncAt:            s.lastSyncAt,
		RecentErrors:          errs,
	}
}

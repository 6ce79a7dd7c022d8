package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deskops/snowsync/internal/logging"
	"github.com/deskops/snowsync/internal/models"
	"github.com/deskops/snowsync/internal/observability"
	"github.com/deskops/snowsync/internal/redisclient"
	"github.com/deskops/snowsync/internal/servicenow"
	"go.uber.org/zap"
)

// OrchestratorConfig carries the defaults for sync passes that are not
// driven by an explicit job descriptor
type OrchestratorConfig struct {
	Tables         []string
	BatchSize      int
	DeltaWindow    time.Duration
	CollectSLAs    bool
	CollectNotes   bool
	Broadcast      bool
	ConflictPolicy models.ConflictPolicy
}

// tablePass is the resolved parameter set for one per-table sync pass
type tablePass struct {
	table        string
	batchSize    int
	delta        time.Duration // zero means full sync, no time filter
	policy       models.ConflictPolicy
	collectSLAs  bool
	collectNotes bool
}

// Orchestrator drives bulk synchronization from the upstream ticketing
// system into the ticket store, one table at a time.
type Orchestrator struct {
	source      servicenow.Source
	store       TicketStore
	broadcaster Broadcaster
	cache       *redisclient.Client // optional, refreshed after writes
	policy      *FreshnessPolicy
	stats       *SyncStats
	cfg         OrchestratorConfig
	logger      *logging.SafeLogger
}

// NewOrchestrator creates a sync orchestrator. cache may be nil.
func NewOrchestrator(source servicenow.Source, store TicketStore, broadcaster Broadcaster, cache *redisclient.Client, cfg OrchestratorConfig, logger *logging.SafeLogger) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.ConflictPolicy == "" {
		cfg.ConflictPolicy = models.PolicyServiceNowWins
	}
	return &Orchestrator{
		source:      source,
		store:       store,
		broadcaster: broadcaster,
		cache:       cache,
		policy:      NewFreshnessPolicy(),
		stats:       NewSyncStats(),
		cfg:         cfg,
		logger:      logger,
	}
}

// Stats returns the process-wide sync aggregate
func (o *Orchestrator) Stats() *SyncStats {
	return o.stats
}

// FullSync synchronizes every configured table without a time filter
func (o *Orchestrator) FullSync(ctx context.Context) []models.TableSyncResult {
	return o.runTables(ctx, o.cfg.Tables, o.cfg.BatchSize, 0, o.cfg.ConflictPolicy)
}

// IncrementalSync synchronizes records updated within the delta window
func (o *Orchestrator) IncrementalSync(ctx context.Context) []models.TableSyncResult {
	return o.runTables(ctx, o.cfg.Tables, o.cfg.BatchSize, o.cfg.DeltaWindow, o.cfg.ConflictPolicy)
}

// RunJob executes a sync pass described by a job descriptor, honoring
// its timeout budget. Exceeding the budget aborts the remaining table
// passes; already-completed results are kept and returned alongside the
// timeout error.
func (o *Orchestrator) RunJob(ctx context.Context, job *models.SyncJob) ([]models.TableSyncResult, error) {
	tables := job.Tables
	if len(tables) == 0 {
		tables = o.cfg.Tables
	}
	batchSize := job.BatchSize
	if batchSize <= 0 {
		batchSize = o.cfg.BatchSize
	}
	var delta time.Duration
	if job.Incremental {
		delta = job.DeltaWindow
		if delta <= 0 {
			delta = o.cfg.DeltaWindow
		}
	}
	policy := job.ConflictPolicy
	if policy == "" {
		policy = o.cfg.ConflictPolicy
	}

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	o.logger.Info("running sync job",
		zap.String("job", job.Name),
		zap.Strings("tables", tables),
		zap.Bool("incremental", job.Incremental))

	results := make([]models.TableSyncResult, 0, len(tables))
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			msg := fmt.Sprintf("sync job %s aborted before table %s: %v", job.Name, table, err)
			o.stats.RecordError(msg)
			o.logger.Warn("sync job exceeded its budget, aborting remaining tables",
				zap.String("job", job.Name),
				zap.String("next_table", table))
			return results, fmt.Errorf("sync job %s timed out: %w", job.Name, err)
		}

		pass := tablePass{
			table:        table,
			batchSize:    batchSize,
			delta:        delta,
			policy:       policy,
			collectSLAs:  o.cfg.CollectSLAs,
			collectNotes: o.cfg.CollectNotes,
		}
		results = append(results, *o.syncTable(ctx, pass))
	}
	return results, nil
}

// runTables executes one pass per table, sequentially. Tables are never
// synced in parallel, to bound upstream load.
func (o *Orchestrator) runTables(ctx context.Context, tables []string, batchSize int, delta time.Duration, policy models.ConflictPolicy) []models.TableSyncResult {
	results := make([]models.TableSyncResult, 0, len(tables))
	for _, table := range tables {
		pass := tablePass{
			table:        table,
			batchSize:    batchSize,
			delta:        delta,
			policy:       policy,
			collectSLAs:  o.cfg.CollectSLAs,
			collectNotes: o.cfg.CollectNotes,
		}
		results = append(results, *o.syncTable(ctx, pass))
	}
	return results
}

// syncTable runs one batch pass over a single table. Per-record errors
// are contained in the result; a table-level failure (upstream
// unreachable) produces a single synthetic error entry and the
// orchestrator moves on to the next table.
func (o *Orchestrator) syncTable(ctx context.Context, pass tablePass) *models.TableSyncResult {
	start := time.Now()
	result := &models.TableSyncResult{Table: pass.table}

	var filter string
	if pass.delta > 0 {
		filter = servicenow.UpdatedSince(start.Add(-pass.delta))
	}

	recs, err := o.source.FetchByFilter(ctx, pass.table, filter, pass.batchSize)
	if err != nil {
		result.AddError("", fmt.Errorf("table fetch failed: %w", err))
		result.Duration = time.Since(start)
		o.stats.RecordResult(result, false)
		o.stats.RecordError(fmt.Sprintf("table %s: %v", pass.table, err))
		o.logger.Error("table sync failed at fetch",
			zap.String("table", pass.table),
			zap.Error(err))
		return result
	}

	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		o.syncRecord(ctx, pass, rec, result)
	}

	result.Duration = time.Since(start)
	o.stats.RecordResult(result, true)
	observability.SyncDuration.WithLabelValues(pass.table).Observe(result.Duration.Seconds())

	o.logger.Info("table sync pass completed",
		zap.String("table", pass.table),
		zap.Int("processed", result.Processed),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("conflicts", result.Conflicts),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration))

	return result
}

// syncRecord reconciles one fetched record against the store. Any
// exception here is caught and recorded; it never aborts the batch.
func (o *Orchestrator) syncRecord(ctx context.Context, pass tablePass, rec servicenow.Record, result *models.TableSyncResult) {
	result.Processed++

	ticket := servicenow.Normalize(pass.table, rec)
	if ticket.SysID == "" {
		result.AddError("", errors.New("record has no sys_id"))
		observability.SyncRecords.WithLabelValues(pass.table, "failed").Inc()
		return
	}

	if pass.collectSLAs {
		ticket.SLAs = fetchSLAs(ctx, o.source, ticket.SysID, o.logger)
		o.stats.RecordSubResources(len(ticket.SLAs))
	}
	if pass.collectNotes {
		ticket.Notes = fetchNotes(ctx, o.source, ticket.SysID, o.logger)
		o.stats.RecordSubResources(len(ticket.Notes))
	}

	outcome, err := o.applyPolicy(ctx, pass.policy, ticket)
	if err != nil {
		result.AddError(ticket.SysID, err)
		observability.SyncRecords.WithLabelValues(pass.table, "failed").Inc()
		return
	}

	observability.SyncRecords.WithLabelValues(pass.table, outcome.String()).Inc()

	switch outcome {
	case UpsertCreated:
		result.Created++
	case UpsertUpdated:
		result.Updated++
	case UpsertConflict:
		result.Conflicts++
		return
	}

	o.refreshHotCache(ctx, ticket)

	if o.cfg.Broadcast {
		action := models.ActionUpdate
		if outcome == UpsertCreated {
			action = models.ActionCreate
		}
		event := &models.ChangeEvent{
			Table:     ticket.Table,
			Action:    action,
			SysID:     ticket.SysID,
			Number:    ticket.Number,
			State:     ticket.State,
			Timestamp: time.Now().UTC(),
			Payload:   ticket,
		}
		// Fire-and-forget; the broadcaster logs its own failures.
		_ = o.broadcaster.Publish(ctx, event)
	}
}

// applyPolicy reconciles the incoming ticket under the job's conflict
// policy. The monotonic-timestamp rule (never apply a record that is
// not newer than the cached copy) holds under every policy; the policy
// only decides what happens when the incoming record is newer.
func (o *Orchestrator) applyPolicy(ctx context.Context, policy models.ConflictPolicy, ticket *models.Ticket) (UpsertOutcome, error) {
	switch policy {
	case models.PolicyMongoWins:
		_, err := o.store.FindByID(ctx, ticket.Table, ticket.SysID)
		if err == nil {
			// Cached copy wins; the incoming record is only used to
			// fill gaps, never to overwrite.
			return UpsertConflict, nil
		}
		if !errors.Is(err, models.ErrTicketNotFound) {
			return UpsertConflict, err
		}
		return o.store.Upsert(ctx, ticket)

	case models.PolicyMerge:
		existing, err := o.store.FindByID(ctx, ticket.Table, ticket.SysID)
		if err != nil && !errors.Is(err, models.ErrTicketNotFound) {
			return UpsertConflict, err
		}
		if existing != nil {
			if !ticket.UpdatedAt.After(existing.UpdatedAt) {
				return UpsertConflict, nil
			}
			mergeTicket(ticket, existing)
		}
		return o.store.Upsert(ctx, ticket)

	default: // servicenow_wins
		return o.store.Upsert(ctx, ticket)
	}
}

// mergeTicket preserves cached extension fields and sub-resources that
// the incoming record does not carry
func mergeTicket(incoming, cached *models.Ticket) {
	for k, v := range cached.Extra {
		if incoming.Extra == nil {
			incoming.Extra = make(map[string]interface{})
		}
		if _, ok := incoming.Extra[k]; !ok {
			incoming.Extra[k] = v
		}
	}
	if incoming.SLAs == nil {
		incoming.SLAs = cached.SLAs
	}
	if incoming.Notes == nil {
		incoming.Notes = cached.Notes
	}
}

// refreshHotCache mirrors a freshly-synced ticket into Redis so the
// read path sees it without a store round trip
func (o *Orchestrator) refreshHotCache(ctx context.Context, ticket *models.Ticket) {
	if o.cache == nil {
		return
	}
	payload, err := json.Marshal(ticket)
	if err != nil {
		return
	}
	if err := o.cache.Set(ctx, hotCacheKey(ticket.Table, ticket.SysID), payload, o.policy.TTL(ticket)).Err(); err != nil {
		o.logger.Warn("failed to refresh hot cache after sync",
			zap.String("table", ticket.Table),
			zap.String("sys_id", ticket.SysID),
			zap.Error(err))
	}
}

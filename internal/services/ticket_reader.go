package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/deskops/snowsync/internal/logging"
	"github.com/deskops/snowsync/internal/models"
	"github.com/deskops/snowsync/internal/observability"
	"github.com/deskops/snowsync/internal/redisclient"
	"github.com/deskops/snowsync/internal/servicenow"
	"go.uber.org/zap"
)

const (
	// subResourceLimit bounds SLA/note collection per ticket
	subResourceLimit = 50
	// writeBackTimeout bounds the detached write-back/broadcast pair
	writeBackTimeout = 30 * time.Second
)

// ReadOptions control a single ticket read
type ReadOptions struct {
	ForceUpstream bool
	ForceCache    bool
	IncludeSLAs   bool
	IncludeNotes  bool
}

// TicketKey identifies one ticket for batch reads
type TicketKey struct {
	Table string `json:"table"`
	SysID string `json:"sys_id"`
}

func (k TicketKey) String() string {
	return fmt.Sprintf("%s/%s", k.Table, k.SysID)
}

// TicketResult is a read outcome: the ticket plus where it came from and
// whether it is known to be past its TTL
type TicketResult struct {
	Ticket *models.Ticket `json:"ticket"`
	Source string         `json:"source"`
	Stale  bool           `json:"stale"`
}

// HybridReader serves per-ticket reads from the cache when fresh and
// from the upstream otherwise, falling back to stale cache copies when
// the upstream is unreachable.
type HybridReader struct {
	source      servicenow.Source
	store       TicketStore
	broadcaster Broadcaster
	cache       *redisclient.Client // optional hot cache in front of the store
	policy      *FreshnessPolicy
	fanout      int
	logger      *logging.SafeLogger
	sideEffects sync.WaitGroup
}

// NewHybridReader creates a hybrid reader. cache may be nil, in which
// case reads go straight to the ticket store.
func NewHybridReader(source servicenow.Source, store TicketStore, broadcaster Broadcaster, cache *redisclient.Client, fanout int, logger *logging.SafeLogger) *HybridReader {
	if fanout <= 0 {
		fanout = 5
	}
	return &HybridReader{
		source:      source,
		store:       store,
		broadcaster: broadcaster,
		cache:       cache,
		policy:      NewFreshnessPolicy(),
		fanout:      fanout,
		logger:      logger,
	}
}

// GetTicket reads one ticket. Default mode consults the cache first and
// only calls the upstream when the cached copy is missing or past its
// TTL; upstream failure degrades to the stale cached copy when one
// exists and never invents data.
func (r *HybridReader) GetTicket(ctx context.Context, table, sysID string, opts ReadOptions) (*TicketResult, error) {
	if opts.ForceUpstream {
		return r.fetchAndRefresh(ctx, table, sysID, opts)
	}

	cached := r.lookupCached(ctx, table, sysID)

	if opts.ForceCache {
		if cached == nil {
			observability.CacheReads.WithLabelValues("miss").Inc()
			return nil, models.ErrTicketNotFound
		}
		observability.CacheReads.WithLabelValues("hit").Inc()
		return &TicketResult{
			Ticket: cached,
			Source: "cache",
			Stale:  r.policy.ShouldRefresh(cached, time.Now()),
		}, nil
	}

	if cached != nil && !r.policy.ShouldRefresh(cached, time.Now()) {
		observability.CacheReads.WithLabelValues("hit").Inc()
		return &TicketResult{Ticket: cached, Source: "cache"}, nil
	}

	result, err := r.fetchAndRefresh(ctx, table, sysID, opts)
	if err == nil {
		return result, nil
	}

	if cached != nil {
		observability.CacheReads.WithLabelValues("stale_fallback").Inc()
		r.logger.Warn("upstream fetch failed, serving stale cached ticket",
			zap.String("table", table),
			zap.String("sys_id", sysID),
			zap.Error(err))
		return &TicketResult{Ticket: cached, Source: "cache", Stale: true}, nil
	}

	observability.CacheReads.WithLabelValues("miss").Inc()
	return nil, err
}

// GetTickets reads a batch of tickets with a bounded fan-out. Failed
// keys map to nil entries; the batch itself never fails.
func (r *HybridReader) GetTickets(ctx context.Context, keys []TicketKey, opts ReadOptions) map[string]*TicketResult {
	results := make(map[string]*TicketResult, len(keys))

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, r.fanout)
	)

	for _, key := range keys {
		wg.Add(1)
		go func(key TicketKey) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := r.GetTicket(ctx, key.Table, key.SysID, opts)
			if err != nil {
				r.logger.Debug("batch read entry failed",
					zap.String("key", key.String()),
					zap.Error(err))
				result = nil
			}

			mu.Lock()
			results[key.String()] = result
			mu.Unlock()
		}(key)
	}

	wg.Wait()
	return results
}

// Invalidate drops the cached copies of a ticket, hot cache first so a
// concurrent read cannot repopulate it from the doomed store document
func (r *HybridReader) Invalidate(ctx context.Context, table, sysID string) error {
	if r.cache != nil {
		if err := r.cache.Del(ctx, hotCacheKey(table, sysID)).Err(); err != nil {
			r.logger.Warn("failed to drop hot-cached ticket",
				zap.String("table", table),
				zap.String("sys_id", sysID),
				zap.Error(err))
		}
	}
	return r.store.Delete(ctx, table, sysID)
}

// Close waits for in-flight write-backs and broadcasts to drain
func (r *HybridReader) Close() {
	r.sideEffects.Wait()
}

// fetchAndRefresh fetches from the upstream, schedules the async
// write-back and broadcast, and returns the fresh ticket. The caller
// gets the result before either side effect has completed.
func (r *HybridReader) fetchAndRefresh(ctx context.Context, table, sysID string, opts ReadOptions) (*TicketResult, error) {
	rec, err := r.source.FetchByID(ctx, table, sysID)
	if err != nil {
		return nil, err
	}

	ticket := servicenow.Normalize(table, rec)
	if opts.IncludeSLAs {
		ticket.SLAs = fetchSLAs(ctx, r.source, sysID, r.logger)
	}
	if opts.IncludeNotes {
		ticket.Notes = fetchNotes(ctx, r.source, sysID, r.logger)
	}

	r.scheduleWriteBack(ticket)

	return &TicketResult{Ticket: ticket, Source: "upstream"}, nil
}

// scheduleWriteBack persists the fresh ticket and broadcasts the change
// in one detached goroutine. Write-back runs before broadcast; failures
// of either are logged and never reach the reader's caller.
func (r *HybridReader) scheduleWriteBack(ticket *models.Ticket) {
	r.sideEffects.Add(1)
	go func() {
		defer r.sideEffects.Done()

		ctx, cancel := context.WithTimeout(context.Background(), writeBackTimeout)
		defer cancel()

		outcome, err := r.store.Upsert(ctx, ticket)
		if err != nil {
			r.logger.Error("ticket write-back failed",
				zap.String("table", ticket.Table),
				zap.String("sys_id", ticket.SysID),
				zap.Error(err))
		} else if outcome != UpsertConflict {
			r.updateHotCache(ctx, ticket)
		}

		action := models.ActionUpdate
		if err == nil && outcome == UpsertCreated {
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
		if err := r.broadcaster.Publish(ctx, event); err != nil {
			r.logger.Warn("change broadcast failed after read refresh",
				zap.String("table", ticket.Table),
				zap.String("sys_id", ticket.SysID),
				zap.Error(err))
		}
	}()
}

// lookupCached returns the cached ticket from the hot cache or the
// store, or nil when neither has it. Lookup failures are treated as
// misses so the read path can continue.
func (r *HybridReader) lookupCached(ctx context.Context, table, sysID string) *models.Ticket {
	if r.cache != nil {
		if data, err := r.cache.Get(ctx, hotCacheKey(table, sysID)).Result(); err == nil {
			var ticket models.Ticket
			if err := json.Unmarshal([]byte(data), &ticket); err == nil {
				return &ticket
			}
			r.logger.Warn("failed to unmarshal hot-cached ticket",
				zap.String("table", table),
				zap.String("sys_id", sysID),
				zap.Error(err))
		}
	}

	ticket, err := r.store.FindByID(ctx, table, sysID)
	if err != nil {
		if !errors.Is(err, models.ErrTicketNotFound) {
			r.logger.Warn("ticket store lookup failed",
				zap.String("table", table),
				zap.String("sys_id", sysID),
				zap.Error(err))
		}
		return nil
	}

	r.updateHotCache(ctx, ticket)
	return ticket
}

// updateHotCache refreshes the Redis copy with a TTL from the policy
func (r *HybridReader) updateHotCache(ctx context.Context, ticket *models.Ticket) {
	if r.cache == nil {
		return
	}
	payload, err := json.Marshal(ticket)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, hotCacheKey(ticket.Table, ticket.SysID), payload, r.policy.TTL(ticket)).Err(); err != nil {
		r.logger.Warn("failed to update hot cache",
			zap.String("table", ticket.Table),
			zap.String("sys_id", ticket.SysID),
			zap.Error(err))
	}
}

func hotCacheKey(table, sysID string) string {
	return fmt.Sprintf("ticket:cache:%s:%s", table, sysID)
}

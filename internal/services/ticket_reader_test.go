package services

import (
	"context"
	"testing"
	"time"

	"github.com/deskops/snowsync/internal/logging"
	"github.com/deskops/snowsync/internal/models"
	"github.com/deskops/snowsync/internal/servicenow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger() *logging.SafeLogger {
	return logging.NewSafeLogger(zap.NewNop())
}

func glide(ts time.Time) string {
	return ts.UTC().Format("2006-01-02 15:04:05")
}

func upstreamRecord(sysID, number string, updatedAt time.Time) servicenow.Record {
	return servicenow.Record{
		"sys_id":            sysID,
		"number":            number,
		"state":             "2",
		"priority":          "3",
		"short_description": "printer on fire",
		"sys_updated_on":    glide(updatedAt),
	}
}

func newTestReader(source *fakeSource, store *memoryTicketStore, broadcaster *recordingBroadcaster) *HybridReader {
	return NewHybridReader(source, store, broadcaster, nil, 3, testLogger())
}

func TestGetTicketFreshCacheHit(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	reader := newTestReader(source, store, &recordingBroadcaster{})

	store.put(&models.Ticket{
		Table:     "incident",
		SysID:     "abc",
		Number:    "INC0001",
		State:     models.StateInProgress,
		Priority:  3,
		UpdatedAt: time.Now().Add(-time.Minute),
	})

	result, err := reader.GetTicket(context.Background(), "incident", "abc", ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "cache", result.Source)
	assert.False(t, result.Stale)
	assert.Equal(t, "INC0001", result.Ticket.Number)
	assert.Zero(t, source.callCount(), "fresh cache hit must not touch the upstream")
}

func TestGetTicketStaleRefreshesFromUpstream(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	broadcaster := &recordingBroadcaster{}
	reader := newTestReader(source, store, broadcaster)

	stale := time.Now().Add(-time.Hour)
	fresh := time.Now().Add(-time.Minute)
	store.put(&models.Ticket{
		Table:     "incident",
		SysID:     "abc",
		Number:    "INC0001",
		State:     models.StateInProgress,
		Priority:  3,
		UpdatedAt: stale,
	})
	source.records["incident/abc"] = upstreamRecord("abc", "INC0001", fresh)

	result, err := reader.GetTicket(context.Background(), "incident", "abc", ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "upstream", result.Source)
	assert.Equal(t, 1, source.callCount())

	// Write-back and broadcast run detached from the read.
	reader.Close()

	updated := store.get("incident", "abc")
	require.NotNil(t, updated)
	assert.WithinDuration(t, fresh, updated.UpdatedAt, time.Second)

	events := broadcaster.published()
	require.Len(t, events, 1)
	assert.Equal(t, models.ActionUpdate, events[0].Action)
	assert.Equal(t, "abc", events[0].SysID)
}

func TestGetTicketFirstReadBroadcastsCreate(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	broadcaster := &recordingBroadcaster{}
	reader := newTestReader(source, store, broadcaster)

	source.records["incident/new1"] = upstreamRecord("new1", "INC0002", time.Now())

	result, err := reader.GetTicket(context.Background(), "incident", "new1", ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "upstream", result.Source)

	reader.Close()

	events := broadcaster.published()
	require.Len(t, events, 1)
	assert.Equal(t, models.ActionCreate, events[0].Action)
}

func TestGetTicketUpstreamFailureServesStale(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	reader := newTestReader(source, store, &recordingBroadcaster{})

	store.put(&models.Ticket{
		Table:     "incident",
		SysID:     "abc",
		Number:    "INC0001",
		State:     models.StateInProgress,
		Priority:  1,
		UpdatedAt: time.Now().Add(-time.Hour),
	})
	source.errByID["incident/abc"] = models.ErrUpstreamUnavailable

	result, err := reader.GetTicket(context.Background(), "incident", "abc", ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "cache", result.Source)
	assert.True(t, result.Stale)
	assert.Equal(t, "INC0001", result.Ticket.Number)
}

func TestGetTicketMissEverywhere(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	reader := newTestReader(source, store, &recordingBroadcaster{})

	_, err := reader.GetTicket(context.Background(), "incident", "nope", ReadOptions{})
	assert.ErrorIs(t, err, models.ErrTicketNotFound)
}

func TestGetTicketForceCache(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	reader := newTestReader(source, store, &recordingBroadcaster{})

	source.records["incident/abc"] = upstreamRecord("abc", "INC0001", time.Now())

	_, err := reader.GetTicket(context.Background(), "incident", "abc", ReadOptions{ForceCache: true})
	assert.ErrorIs(t, err, models.ErrTicketNotFound)
	assert.Zero(t, source.callCount(), "force-cache must never call the upstream")

	store.put(&models.Ticket{
		Table:     "incident",
		SysID:     "abc",
		UpdatedAt: time.Now().Add(-2 * time.Hour),
	})

	result, err := reader.GetTicket(context.Background(), "incident", "abc", ReadOptions{ForceCache: true})
	require.NoError(t, err)
	assert.Equal(t, "cache", result.Source)
	assert.True(t, result.Stale, "stale cached copy is served but flagged")
}

func TestGetTicketForceUpstream(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	reader := newTestReader(source, store, &recordingBroadcaster{})

	store.put(&models.Ticket{
		Table:     "incident",
		SysID:     "abc",
		UpdatedAt: time.Now(),
	})
	source.records["incident/abc"] = upstreamRecord("abc", "INC0001", time.Now())

	result, err := reader.GetTicket(context.Background(), "incident", "abc", ReadOptions{ForceUpstream: true})
	require.NoError(t, err)
	assert.Equal(t, "upstream", result.Source)
	assert.Equal(t, 1, source.callCount())

	reader.Close()
}

func TestGetTicketsPartialFailure(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	reader := newTestReader(source, store, &recordingBroadcaster{})

	source.records["incident/a"] = upstreamRecord("a", "INC0001", time.Now())
	source.records["incident/b"] = upstreamRecord("b", "INC0002", time.Now())

	keys := []TicketKey{
		{Table: "incident", SysID: "a"},
		{Table: "incident", SysID: "b"},
		{Table: "incident", SysID: "missing"},
	}

	results := reader.GetTickets(context.Background(), keys, ReadOptions{})
	require.Len(t, results, 3)
	assert.NotNil(t, results["incident/a"])
	assert.NotNil(t, results["incident/b"])
	assert.Nil(t, results["incident/missing"], "failed keys map to nil entries")

	reader.Close()
}

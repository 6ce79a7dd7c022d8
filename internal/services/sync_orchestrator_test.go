package services

import (
	"context"
	"testing"
	"time"

	"github.com/deskops/snowsync/internal/models"
	"github.com/deskops/snowsync/internal/servicenow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(source *fakeSource, store *memoryTicketStore, broadcaster *recordingBroadcaster, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Tables == nil {
		cfg.Tables = []string{"incident"}
	}
	return NewOrchestrator(source, store, broadcaster, nil, cfg, testLogger())
}

func TestFullSyncCreatesRecords(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	broadcaster := &recordingBroadcaster{}
	orch := newTestOrchestrator(source, store, broadcaster, OrchestratorConfig{Broadcast: true})

	now := time.Now()
	source.tableRecs["incident"] = []servicenow.Record{
		upstreamRecord("a", "INC0001", now),
		upstreamRecord("b", "INC0002", now),
		upstreamRecord("c", "INC0003", now),
	}

	results := orch.FullSync(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].Processed)
	assert.Equal(t, 3, results[0].Created)
	assert.Zero(t, results[0].Failed)

	assert.Len(t, broadcaster.published(), 3)
	for _, event := range broadcaster.published() {
		assert.Equal(t, models.ActionCreate, event.Action)
	}
}

func TestFullSyncIsIdempotent(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	orch := newTestOrchestrator(source, store, &recordingBroadcaster{}, OrchestratorConfig{})

	now := time.Now()
	source.tableRecs["incident"] = []servicenow.Record{upstreamRecord("a", "INC0001", now)}

	first := orch.FullSync(context.Background())
	assert.Equal(t, 1, first[0].Created)

	// Same records again: the cached copies are not older, so every
	// record is skipped as a conflict.
	second := orch.FullSync(context.Background())
	assert.Zero(t, second[0].Created)
	assert.Zero(t, second[0].Updated)
	assert.Equal(t, 1, second[0].Conflicts)
}

func TestSyncAppliesNewerRecords(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	orch := newTestOrchestrator(source, store, &recordingBroadcaster{}, OrchestratorConfig{})

	base := time.Now().Add(-time.Hour)
	source.tableRecs["incident"] = []servicenow.Record{upstreamRecord("a", "INC0001", base)}
	orch.FullSync(context.Background())

	source.tableRecs["incident"] = []servicenow.Record{upstreamRecord("a", "INC0001", base.Add(10 * time.Minute))}
	results := orch.FullSync(context.Background())
	assert.Equal(t, 1, results[0].Updated)
	assert.Zero(t, results[0].Conflicts)

	cached := store.get("incident", "a")
	require.NotNil(t, cached)
	assert.WithinDuration(t, base.Add(10*time.Minute), cached.UpdatedAt, time.Second)
}

func TestSyncRecordWithoutSysID(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	orch := newTestOrchestrator(source, store, &recordingBroadcaster{}, OrchestratorConfig{})

	source.tableRecs["incident"] = []servicenow.Record{
		{"number": "INC0001", "sys_updated_on": glide(time.Now())},
		upstreamRecord("b", "INC0002", time.Now()),
	}

	results := orch.FullSync(context.Background())
	assert.Equal(t, 2, results[0].Processed)
	assert.Equal(t, 1, results[0].Created)
	assert.Equal(t, 1, results[0].Failed)
	require.Len(t, results[0].Errors, 1)
}

func TestSyncTableFailureIsContained(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	orch := newTestOrchestrator(source, store, &recordingBroadcaster{}, OrchestratorConfig{
		Tables: []string{"incident", "sc_task"},
	})

	source.errTables["incident"] = models.ErrUpstreamUnavailable
	source.tableRecs["sc_task"] = []servicenow.Record{upstreamRecord("x", "TASK0001", time.Now())}

	results := orch.FullSync(context.Background())
	require.Len(t, results, 2, "one failed table must not abort the others")
	assert.Equal(t, 1, results[0].Failed)
	assert.Equal(t, 1, results[1].Created)

	snapshot := orch.Stats().Snapshot()
	assert.Equal(t, int64(1), snapshot.FailedSyncs)
	assert.Equal(t, int64(1), snapshot.SuccessfulSyncs)
	assert.NotEmpty(t, snapshot.RecentErrors)
}

func TestRunJobTimeout(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	orch := newTestOrchestrator(source, store, &recordingBroadcaster{}, OrchestratorConfig{})

	job := &models.SyncJob{
		Name:    "tiny-budget",
		Tables:  []string{"incident", "sc_task"},
		Timeout: time.Nanosecond,
	}

	results, err := orch.RunJob(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, results, "no table pass fits inside a nanosecond budget")
}

func TestRunJobUsesDescriptorOverrides(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	orch := newTestOrchestrator(source, store, &recordingBroadcaster{}, OrchestratorConfig{
		Tables: []string{"incident"},
	})

	source.tableRecs["change_task"] = []servicenow.Record{upstreamRecord("c1", "CTASK0001", time.Now())}

	job := &models.SyncJob{
		Name:    "change-only",
		Tables:  []string{"change_task"},
		Timeout: time.Minute,
	}

	results, err := orch.RunJob(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "change_task", results[0].Table)
	assert.Equal(t, 1, results[0].Created)
}

func TestMongoWinsPolicy(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	orch := newTestOrchestrator(source, store, &recordingBroadcaster{}, OrchestratorConfig{
		ConflictPolicy: models.PolicyMongoWins,
	})

	cachedAt := time.Now().Add(-time.Hour)
	store.put(&models.Ticket{Table: "incident", SysID: "a", Number: "INC0001", UpdatedAt: cachedAt})

	// The incoming record is newer, but under mongodb_wins the cached
	// copy still stands.
	source.tableRecs["incident"] = []servicenow.Record{upstreamRecord("a", "INC0001-renamed", time.Now())}

	results := orch.FullSync(context.Background())
	assert.Equal(t, 1, results[0].Conflicts)

	cached := store.get("incident", "a")
	assert.Equal(t, "INC0001", cached.Number)
	assert.WithinDuration(t, cachedAt, cached.UpdatedAt, time.Second)
}

func TestMergePolicyPreservesCachedFields(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	orch := newTestOrchestrator(source, store, &recordingBroadcaster{}, OrchestratorConfig{
		ConflictPolicy: models.PolicyMerge,
	})

	store.put(&models.Ticket{
		Table:     "incident",
		SysID:     "a",
		UpdatedAt: time.Now().Add(-time.Hour),
		Extra:     map[string]interface{}{"local_annotation": "keep me"},
		SLAs:      []models.SLARecord{{SysID: "sla1", Name: "Resolution"}},
	})

	source.tableRecs["incident"] = []servicenow.Record{upstreamRecord("a", "INC0001", time.Now())}

	results := orch.FullSync(context.Background())
	assert.Equal(t, 1, results[0].Updated)

	merged := store.get("incident", "a")
	require.NotNil(t, merged)
	assert.Equal(t, "keep me", merged.Extra["local_annotation"])
	require.Len(t, merged.SLAs, 1)
	assert.Equal(t, "Resolution", merged.SLAs[0].Name)
	assert.Equal(t, "INC0001", merged.Number, "typed fields come from the newer record")
}

func TestSyncCollectsSubResources(t *testing.T) {
	source := newFakeSource()
	store := newMemoryTicketStore()
	orch := newTestOrchestrator(source, store, &recordingBroadcaster{}, OrchestratorConfig{
		CollectSLAs:  true,
		CollectNotes: true,
	})

	source.tableRecs["incident"] = []servicenow.Record{upstreamRecord("a", "INC0001", time.Now())}
	source.tableRecs["task_sla"] = []servicenow.Record{
		{"sys_id": "sla1", "sla": map[string]interface{}{"display_value": "Resolution 8h"}, "stage": "in_progress", "has_breached": "false"},
	}
	source.tableRecs["sys_journal_field"] = []servicenow.Record{
		{"sys_id": "n1", "element": "comments", "value": "looking into it", "sys_created_by": "agent", "sys_created_on": glide(time.Now())},
	}

	results := orch.FullSync(context.Background())
	assert.Equal(t, 1, results[0].Created)

	cached := store.get("incident", "a")
	require.NotNil(t, cached)
	require.Len(t, cached.SLAs, 1)
	assert.Equal(t, "Resolution 8h", cached.SLAs[0].Name)
	require.Len(t, cached.Notes, 1)
	assert.Equal(t, "looking into it", cached.Notes[0].Value)

	snapshot := orch.Stats().Snapshot()
	assert.Equal(t, int64(2), snapshot.SubResourcesCollected)
}

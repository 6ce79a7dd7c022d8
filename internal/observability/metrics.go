package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "snowsync_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"path", "method", "status"},
	)

	// CacheReads tracks ticket cache hits/misses/stale fallbacks on the read path
	CacheReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowsync_cache_reads_total",
			Help: "Number of ticket cache reads by outcome",
		},
		[]string{"outcome"},
	)

	// UpstreamFetches tracks calls to the ServiceNow table API
	UpstreamFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowsync_upstream_fetches_total",
			Help: "Number of upstream ServiceNow fetches",
		},
		[]string{"table", "status"},
	)

	// SyncRecords tracks per-record sync outcomes
	SyncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowsync_sync_records_total",
			Help: "Number of records handled by table sync passes",
		},
		[]string{"table", "outcome"},
	)

	// SyncDuration tracks per-table sync pass duration
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "snowsync_sync_duration_seconds",
			Help: "Duration of per-table sync passes in seconds",
		},
		[]string{"table"},
	)

	// SchedulerLockAcquisitions tracks scheduler lock contention
	SchedulerLockAcquisitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowsync_scheduler_lock_acquisitions_total",
			Help: "Number of scheduler lock acquisition attempts by result",
		},
		[]string{"result"},
	)

	// ChangeEventsPublished tracks broadcast events
	ChangeEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowsync_change_events_published_total",
			Help: "Number of ticket change events published",
		},
		[]string{"table", "action", "status"},
	)
)

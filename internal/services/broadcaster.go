package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deskops/snowsync/internal/logging"
	"github.com/deskops/snowsync/internal/models"
	"github.com/deskops/snowsync/internal/observability"
	"github.com/deskops/snowsync/internal/redisclient"
	"go.uber.org/zap"
)

// Broadcaster is the publish-only change event capability
type Broadcaster interface {
	Publish(ctx context.Context, event *models.ChangeEvent) error
}

// RedisBroadcaster publishes change events on per-table Redis channels.
// Fire-and-forget: publish failures are logged, never retried inline.
type RedisBroadcaster struct {
	redis  *redisclient.Client
	logger *logging.SafeLogger
}

// NewRedisBroadcaster creates a broadcaster over the given Redis client
func NewRedisBroadcaster(redis *redisclient.Client, logger *logging.SafeLogger) *RedisBroadcaster {
	return &RedisBroadcaster{redis: redis, logger: logger}
}

// ChannelForTable returns the pub/sub channel carrying a table's changes
func ChannelForTable(table string) string {
	return fmt.Sprintf("snowsync:changes:%s", table)
}

// Publish emits one change event
func (b *RedisBroadcaster) Publish(ctx context.Context, event *models.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		observability.ChangeEventsPublished.WithLabelValues(event.Table, string(event.Action), "error").Inc()
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	if err := b.redis.Publish(ctx, ChannelForTable(event.Table), payload).Err(); err != nil {
		observability.ChangeEventsPublished.WithLabelValues(event.Table, string(event.Action), "error").Inc()
		b.logger.Warn("failed to publish change event",
			zap.String("table", event.Table),
			zap.String("sys_id", event.SysID),
			zap.String("action", string(event.Action)),
			zap.Error(err))
		return err
	}

	observability.ChangeEventsPublished.WithLabelValues(event.Table, string(event.Action), "ok").Inc()
	b.logger.Debug("published change event",
		zap.String("table", event.Table),
		zap.String("sys_id", event.SysID),
		zap.String("action", string(event.Action)))
	return nil
}

package redisclient

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client wraps a Redis client with OpenTelemetry tracing
type Client struct {
	cmdable redis.Cmdable
}

// NewClient creates a new traced Redis client for single Redis instance
func NewClient(client *redis.Client) *Client {
	return &Client{cmdable: client}
}

// NewClusterClient creates a new traced Redis client for Redis cluster
func NewClusterClient(client *redis.ClusterClient) *Client {
	return &Client{cmdable: client}
}

// Get wraps Redis Get with tracing
func (c *Client) Get(ctx context.Context, key string) *redis.StringCmd {
	start := time.Now()
	ctx, span := otel.Tracer("redis").Start(ctx, "redis.get",
		trace.WithAttributes(
			attribute.String("redis.key", key),
			attribute.String("redis.operation", "get"),
			attribute.String("redis.client", "snowsync"),
		),
	)
	defer func() {
		span.SetAttributes(attribute.Int64("redis.duration_ms", time.Since(start).Milliseconds()))
		span.End()
	}()

	cmd := c.cmdable.Get(ctx, key)
	if err := cmd.Err(); err != nil && err != redis.Nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	return cmd
}

// Set wraps Redis Set with tracing
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	start := time.Now()
	ctx, span := otel.Tracer("redis").Start(ctx, "redis.set",
		trace.WithAttributes(
			attribute.String("redis.key", key),
			attribute.String("redis.operation", "set"),
			attribute.String("redis.expiration", expiration.String()),
			attribute.String("redis.client", "snowsync"),
		),
	)
	defer func() {
		span.SetAttributes(attribute.Int64("redis.duration_ms", time.Since(start).Milliseconds()))
		span.End()
	}()

	cmd := c.cmdable.Set(ctx, key, value, expiration)
	if err := cmd.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	return cmd
}

// SetNX wraps Redis SetNX with tracing. This is the atomic
// acquire-if-absent primitive behind the scheduler lock.
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	start := time.Now()
	ctx, span := otel.Tracer("redis").Start(ctx, "redis.setnx",
		trace.WithAttributes(
			attribute.String("redis.key", key),
			attribute.String("redis.operation", "setnx"),
			attribute.String("redis.expiration", expiration.String()),
			attribute.String("redis.client", "snowsync"),
		),
	)
	defer func() {
		span.SetAttributes(attribute.Int64("redis.duration_ms", time.Since(start).Milliseconds()))
		span.End()
	}()

	cmd := c.cmdable.SetNX(ctx, key, value, expiration)
	if err := cmd.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	return cmd
}

// Del wraps Redis Del with tracing
func (c *Client) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	start := time.Now()
	ctx, span := otel.Tracer("redis").Start(ctx, "redis.del",
		trace.WithAttributes(
			attribute.StringSlice("redis.keys", keys),
			attribute.String("redis.operation", "del"),
			attribute.Int("redis.key_count", len(keys)),
			attribute.String("redis.client", "snowsync"),
		),
	)
	defer func() {
		span.SetAttributes(attribute.Int64("redis.duration_ms", time.Since(start).Milliseconds()))
		span.End()
	}()

	cmd := c.cmdable.Del(ctx, keys...)
	if err := cmd.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	return cmd
}

// Exists wraps Redis Exists with tracing
func (c *Client) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	start := time.Now()
	ctx, span := otel.Tracer("redis").Start(ctx, "redis.exists",
		trace.WithAttributes(
			attribute.StringSlice("redis.keys", keys),
			attribute.String("redis.operation", "exists"),
			attribute.String("redis.client", "snowsync"),
		),
	)
	defer func() {
		span.SetAttributes(attribute.Int64("redis.duration_ms", time.Since(start).Milliseconds()))
		span.End()
	}()

	cmd := c.cmdable.Exists(ctx, keys...)
	if err := cmd.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	return cmd
}

// TTL wraps Redis TTL with tracing
func (c *Client) TTL(ctx context.Context, key string) *redis.DurationCmd {
	start := time.Now()
	ctx, span := otel.Tracer("redis").Start(ctx, "redis.ttl",
		trace.WithAttributes(
			attribute.String("redis.key", key),
			attribute.String("redis.operation", "ttl"),
			attribute.String("redis.client", "snowsync"),
		),
	)
	defer func() {
		span.SetAttributes(attribute.Int64("redis.duration_ms", time.Since(start).Milliseconds()))
		span.End()
	}()

	cmd := c.cmdable.TTL(ctx, key)
	if err := cmd.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	return cmd
}

// Keys wraps Redis Keys with tracing
func (c *Client) Keys(ctx context.Context, pattern string) *redis.StringSliceCmd {
	start := time.Now()
	ctx, span := otel.Tracer("redis").Start(ctx, "redis.keys",
		trace.WithAttributes(
			attribute.String("redis.pattern", pattern),
			attribute.String("redis.operation", "keys"),
			attribute.String("redis.client", "snowsync"),
		),
	)
	defer func() {
		span.SetAttributes(attribute.Int64("redis.duration_ms", time.Since(start).Milliseconds()))
		span.End()
	}()

	cmd := c.cmdable.Keys(ctx, pattern)
	if err := cmd.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	return cmd
}

// Publish wraps Redis Publish with tracing
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	start := time.Now()
	ctx, span := otel.Tracer("redis").Start(ctx, "redis.publish",
		trace.WithAttributes(
			attribute.String("redis.channel", channel),
			attribute.String("redis.operation", "publish"),
			attribute.String("redis.client", "snowsync"),
		),
	)
	defer func() {
		span.SetAttributes(attribute.Int64("redis.duration_ms", time.Since(start).Milliseconds()))
		span.End()
	}()

	cmd := c.cmdable.Publish(ctx, channel, message)
	if err := cmd.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	return cmd
}

// Ping wraps Redis Ping with tracing
func (c *Client) Ping(ctx context.Context) *redis.StatusCmd {
	start := time.Now()
	ctx, span := otel.Tracer("redis").Start(ctx, "redis.ping",
		trace.WithAttributes(
			attribute.String("redis.operation", "ping"),
			attribute.String("redis.client", "snowsync"),
		),
	)
	defer func() {
		span.SetAttributes(attribute.Int64("redis.duration_ms", time.Since(start).Milliseconds()))
		span.End()
	}()

	cmd := c.cmdable.Ping(ctx)
	if err := cmd.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	return cmd
}

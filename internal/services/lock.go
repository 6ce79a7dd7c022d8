package services

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/deskops/snowsync/internal/logging"
	"github.com/deskops/snowsync/internal/redisclient"
	"go.uber.org/zap"
)

// Locker is the cross-process mutual exclusion primitive: an atomic
// acquire-if-absent with expiry, plus an explicit release
type Locker interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// RedisLock implements Locker with a single SETNX key. Not a consensus
// protocol: a crashed holder is only recovered via the key's expiry.
type RedisLock struct {
	redis  *redisclient.Client
	name   string
	holder string
	logger *logging.SafeLogger
}

// NewRedisLock creates a lock keyed by the given well-known name
func NewRedisLock(redis *redisclient.Client, name string, logger *logging.SafeLogger) *RedisLock {
	hostname, _ := os.Hostname()
	return &RedisLock{
		redis:  redis,
		name:   name,
		holder: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		logger: logger,
	}
}

// Acquire attempts to take the lock. Returns false without error when
// another process holds it; contention is expected, not a failure.
func (l *RedisLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.redis.SetNX(ctx, l.name, l.holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.name, err)
	}
	if !ok {
		l.logger.Debug("lock held elsewhere", zap.String("lock", l.name))
	}
	return ok, nil
}

// Release drops the lock
func (l *RedisLock) Release(ctx context.Context) error {
	if err := l.redis.Del(ctx, l.name).Err(); err != nil {
		l.logger.Warn("failed to release lock",
			zap.String("lock", l.name),
			zap.Error(err))
		return err
	}
	return nil
}

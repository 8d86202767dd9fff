package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const notificationKeyPrefix = "appstore_notification:"

// RedisNotificationLedger shares processed notificationUUIDs across instances
type RedisNotificationLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisNotificationLedger creates a ledger whose entries expire after ttl
func NewRedisNotificationLedger(client *redis.Client, ttl time.Duration) *RedisNotificationLedger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisNotificationLedger{client: client, ttl: ttl}
}

func (r *RedisNotificationLedger) MarkProcessed(ctx context.Context, id string) (bool, error) {
	stored, err := r.client.SetNX(ctx, notificationKeyPrefix+id, time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, err
	}
	return !stored, nil
}

func (r *RedisNotificationLedger) Release(ctx context.Context, id string) error {
	return r.client.Del(ctx, notificationKeyPrefix+id).Err()
}

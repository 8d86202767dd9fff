package services

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryNotificationLedger(t *testing.T) {
	ledger := NewMemoryNotificationLedger(time.Hour)
	defer ledger.Stop()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return now }
	ctx := context.Background()

	duplicate, err := ledger.MarkProcessed(ctx, "n-1")
	require.NoError(t, err)
	assert.False(t, duplicate)

	duplicate, err = ledger.MarkProcessed(ctx, "n-1")
	require.NoError(t, err)
	assert.True(t, duplicate)

	require.NoError(t, ledger.Release(ctx, "n-1"))
	duplicate, err = ledger.MarkProcessed(ctx, "n-1")
	require.NoError(t, err)
	assert.False(t, duplicate)

	now = now.Add(2 * time.Hour)
	duplicate, err = ledger.MarkProcessed(ctx, "n-1")
	require.NoError(t, err)
	assert.False(t, duplicate, "entries older than the ttl are forgotten")
}

func TestMemoryNotificationLedger_Cleanup(t *testing.T) {
	ledger := NewMemoryNotificationLedger(time.Hour)
	defer ledger.Stop()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = ledger.MarkProcessed(ctx, "old")
	now = now.Add(50 * time.Minute)
	_, _ = ledger.MarkProcessed(ctx, "new")
	require.Equal(t, 2, ledger.Len())

	now = now.Add(20 * time.Minute)
	ledger.cleanup()
	assert.Equal(t, 1, ledger.Len())

	ledger.Stop()
	ledger.Stop()
}

func TestRedisNotificationLedger_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	ledger := NewRedisNotificationLedger(client, 0)
	assert.Equal(t, 24*time.Hour, ledger.ttl)

	_, err := ledger.MarkProcessed(context.Background(), "n-1")
	assert.Error(t, err)
}

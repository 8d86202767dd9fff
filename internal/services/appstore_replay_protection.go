package services

import (
	"context"
	"sync"
	"time"

	"entitlement-api/pkg/logging"
)

// NotificationLedger remembers processed notificationUUIDs so redeliveries
// are acknowledged without touching the entitlement again.
type NotificationLedger interface {
	// MarkProcessed records id and reports whether it had already been recorded.
	MarkProcessed(ctx context.Context, id string) (bool, error)
	// Release forgets id so a failed delivery can be retried.
	Release(ctx context.Context, id string) error
}

// MemoryNotificationLedger 重放攻击防护
// In-process ledger used when Redis is not configured.
type MemoryNotificationLedger struct {
	processed       map[string]time.Time
	mutex           sync.Mutex
	cleanupInterval time.Duration
	ttl             time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
}

// NewMemoryNotificationLedger 创建重放攻击防护实例
func NewMemoryNotificationLedger(ttl time.Duration) *MemoryNotificationLedger {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	l := &MemoryNotificationLedger{
		processed:       make(map[string]time.Time),
		cleanupInterval: time.Hour,
		ttl:             ttl,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
	}

	go l.startCleanupRoutine()

	return l
}

func (l *MemoryNotificationLedger) MarkProcessed(_ context.Context, id string) (bool, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	if processedAt, exists := l.processed[id]; exists && now.Sub(processedAt) <= l.ttl {
		logging.Infof("Duplicate notification - uuid: %s, first processed at: %v", id, processedAt)
		return true, nil
	}

	l.processed[id] = now
	return false, nil
}

func (l *MemoryNotificationLedger) Release(_ context.Context, id string) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	delete(l.processed, id)
	return nil
}

// startCleanupRoutine 启动清理协程
func (l *MemoryNotificationLedger) startCleanupRoutine() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup 清理过期的通知记录
func (l *MemoryNotificationLedger) cleanup() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	initialCount := len(l.processed)

	for id, processedAt := range l.processed {
		if now.Sub(processedAt) > l.ttl {
			delete(l.processed, id)
		}
	}

	if cleaned := initialCount - len(l.processed); cleaned > 0 {
		logging.Infof("Notification ledger cleanup: removed %d expired entries, remaining: %d", cleaned, len(l.processed))
	}
}

// Len returns the number of remembered notifications.
func (l *MemoryNotificationLedger) Len() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return len(l.processed)
}

// Stop 停止清理协程
func (l *MemoryNotificationLedger) Stop() {
	l.stopOnce.Do(func() { close(l.stopCleanup) })
}

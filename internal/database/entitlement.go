package database

import (
	"context"
	"errors"
	"time"

	"entitlement-api/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EntitlementStore persists one entitlement row per user
type EntitlementStore struct {
	db *gorm.DB
}

// NewEntitlementStore creates a store backed by db
func NewEntitlementStore(db *gorm.DB) *EntitlementStore {
	return &EntitlementStore{db: db}
}

// UpdatePremiumMetadata 写入用户权益
// Creates the row on first use and otherwise overwrites every column.
func (s *EntitlementStore) UpdatePremiumMetadata(ctx context.Context, entitlement *models.Entitlement) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(entitlement).Error
}

// ApplyNotification 根据通知更新权益
// Matches on app_account_token when the notification carries one, else on
// original_transaction_id. Returns the number of rows updated.
func (s *EntitlementStore) ApplyNotification(ctx context.Context, match models.EntitlementMatch, update *models.EntitlementUpdate) (int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Entitlement{})
	if match.AppAccountToken != "" {
		query = query.Where("app_account_token = ?", match.AppAccountToken)
	} else {
		query = query.Where("original_transaction_id = ?", match.OriginalTransactionID)
	}

	lastNotificationAt := update.LastNotificationAt
	result := query.Updates(map[string]interface{}{
		"is_premium":             update.IsPremium,
		"product_id":             update.ProductID,
		"latest_transaction_id":  update.LatestTransactionID,
		"environment":            update.Environment,
		"premium_expires_at":     update.PremiumExpiresAt,
		"subscription_status":    update.SubscriptionStatus,
		"will_renew":             update.WillRenew,
		"is_in_grace_period":     update.IsInGracePeriod,
		"is_in_billing_retry":    update.IsInBillingRetry,
		"revoked_at":             update.RevokedAt,
		"revocation_reason":      update.RevocationReason,
		"last_notification_at":   &lastNotificationAt,
		"last_notification_type": update.LastNotificationType,
		"updated_at":             time.Now(),
	})
	return result.RowsAffected, result.Error
}

// GetByUserID 获取用户权益
func (s *EntitlementStore) GetByUserID(ctx context.Context, userID string) (*models.Entitlement, error) {
	var entitlement models.Entitlement
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&entitlement).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrEntitlementNotFound
		}
		return nil, err
	}
	return &entitlement, nil
}

// DeleteUser removes the user's row. Deleting an unknown user is not an error.
func (s *EntitlementStore) DeleteUser(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Entitlement{}).Error
}

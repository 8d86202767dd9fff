package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"
)

// Acknowledgement messages returned for a processed delivery.
const (
	NotificationAckOK        = "ok"
	NotificationAckTest      = "test notification received"
	NotificationAckDuplicate = "duplicate notification"
	NotificationAckIgnored   = "ignored"
)

// JWSVerifier verifies a compact JWS signature.
type JWSVerifier interface {
	Verify(ctx context.Context, token string) error
}

// ChangeNotifier is told about entitlement rows a notification changed.
type ChangeNotifier interface {
	Notify(change EntitlementChange)
}

// EntitlementChange describes a notification applied to an entitlement.
type EntitlementChange struct {
	NotificationType      string                    `json:"notification_type"`
	Subtype               string                    `json:"subtype,omitempty"`
	TransactionID         string                    `json:"transaction_id"`
	OriginalTransactionID string                    `json:"original_transaction_id"`
	AppAccountToken       string                    `json:"app_account_token,omitempty"`
	ProductID             string                    `json:"product_id"`
	Status                models.SubscriptionStatus `json:"status"`
	IsPremium             bool                      `json:"is_premium"`
	ExpiresAt             *time.Time                `json:"expires_at,omitempty"`
	Environment           string                    `json:"environment"`
}

// NotificationResult is the acknowledgement for one delivery.
type NotificationResult struct {
	Message          string `json:"message"`
	NotificationType string `json:"notificationType,omitempty"`
	Matched          int64  `json:"matched"`
}

// NotificationProcessorConfig wires the processor's collaborators.
// Ledger and Notifier are optional.
type NotificationProcessorConfig struct {
	Verifier JWSVerifier
	Repo     EntitlementRepository
	Ledger   NotificationLedger
	Notifier ChangeNotifier
	BundleID string
}

// NotificationProcessor applies App Store Server Notifications V2 to entitlements.
type NotificationProcessor struct {
	verifier JWSVerifier
	repo     EntitlementRepository
	ledger   NotificationLedger
	notifier ChangeNotifier
	bundleID string
	now      func() time.Time
}

// NewNotificationProcessor creates a new notification processor
func NewNotificationProcessor(cfg NotificationProcessorConfig) *NotificationProcessor {
	return &NotificationProcessor{
		verifier: cfg.Verifier,
		repo:     cfg.Repo,
		ledger:   cfg.Ledger,
		notifier: cfg.Notifier,
		bundleID: cfg.BundleID,
		now:      time.Now,
	}
}

// Process verifies and applies one webhook body. Once the signature has been
// verified the result is an acknowledgement even when no entitlement matched.
func (p *NotificationProcessor) Process(ctx context.Context, body []byte) (*NotificationResult, error) {
	var wrapper models.AppStoreNotificationWrapper
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, newError(ErrValidation, "Invalid JSON body", err)
	}
	signedPayload := strings.TrimSpace(wrapper.SignedPayload)
	if signedPayload == "" {
		return nil, newError(ErrValidation, "signedPayload is required", nil)
	}

	// Nothing below runs for a payload that fails verification.
	if err := p.verifier.Verify(ctx, signedPayload); err != nil {
		logging.Warnf("App Store notification rejected: %v", err)
		return nil, err
	}

	var notification models.AppStoreNotification
	if err := DecodePayload(signedPayload, &notification); err != nil {
		// Verified deliveries are always acknowledged.
		logging.Warnf("Cannot decode verified signedPayload: %v", err)
		return &NotificationResult{Message: NotificationAckIgnored}, nil
	}

	logging.Infof("App Store notification - type: %s, subtype: %s, uuid: %s, environment: %s",
		notification.NotificationType, notification.Subtype, notification.NotificationUUID, notification.Data.Environment)

	if notification.NotificationType == models.NotificationTypeTest {
		return &NotificationResult{Message: NotificationAckTest, NotificationType: notification.NotificationType}, nil
	}

	if p.bundleID != "" && notification.Data.BundleID != "" && notification.Data.BundleID != p.bundleID {
		logging.Warnf("Ignoring notification for bundle %s", notification.Data.BundleID)
		return p.ack(NotificationAckIgnored, &notification, 0), nil
	}

	if p.ledger != nil && notification.NotificationUUID != "" {
		duplicate, err := p.ledger.MarkProcessed(ctx, notification.NotificationUUID)
		if err != nil {
			// Dedupe is best effort; a ledger outage must not drop deliveries.
			logging.Errorf("Notification ledger unavailable: %v", err)
		} else if duplicate {
			return p.ack(NotificationAckDuplicate, &notification, 0), nil
		}
	}

	matched, err := p.apply(ctx, &notification)
	if err != nil {
		if p.ledger != nil && notification.NotificationUUID != "" {
			if releaseErr := p.ledger.Release(ctx, notification.NotificationUUID); releaseErr != nil {
				logging.Errorf("Failed to release notification %s: %v", notification.NotificationUUID, releaseErr)
			}
		}
		return nil, err
	}
	if matched < 0 {
		return p.ack(NotificationAckIgnored, &notification, 0), nil
	}
	return p.ack(NotificationAckOK, &notification, matched), nil
}

func (p *NotificationProcessor) ack(message string, notification *models.AppStoreNotification, matched int64) *NotificationResult {
	return &NotificationResult{
		Message:          message,
		NotificationType: notification.NotificationType,
		Matched:          matched,
	}
}

// apply returns -1 when the notification carries nothing to match on.
func (p *NotificationProcessor) apply(ctx context.Context, notification *models.AppStoreNotification) (int64, error) {
	if notification.Data.SignedTransactionInfo == "" {
		logging.Infof("Notification %s has no transaction info", notification.NotificationUUID)
		return -1, nil
	}

	var tx models.TransactionInfo
	if err := DecodePayload(notification.Data.SignedTransactionInfo, &tx); err != nil {
		logging.Warnf("Cannot decode signedTransactionInfo: %v", err)
		return -1, nil
	}

	var renewal *models.RenewalInfo
	if notification.Data.SignedRenewalInfo != "" {
		var info models.RenewalInfo
		if err := DecodePayload(notification.Data.SignedRenewalInfo, &info); err != nil {
			logging.Warnf("Cannot decode signedRenewalInfo: %v", err)
		} else {
			renewal = &info
		}
	}

	match := models.EntitlementMatch{
		AppAccountToken:       strings.ToLower(tx.AppAccountToken),
		OriginalTransactionID: tx.OriginalTransactionID,
	}
	if match.AppAccountToken == "" && match.OriginalTransactionID == "" {
		logging.Warnf("Notification %s has no appAccountToken or originalTransactionId", notification.NotificationUUID)
		return -1, nil
	}

	now := p.now().UTC()
	update := BuildNotificationUpdate(notification, &tx, renewal, now)

	rows, err := p.repo.ApplyNotification(ctx, match, update)
	if err != nil {
		return 0, fmt.Errorf("failed to apply notification: %w", err)
	}
	if rows == 0 {
		logging.Warnf("No entitlement matched notification - app_account_token: %s, original_transaction: %s",
			match.AppAccountToken, match.OriginalTransactionID)
		return 0, nil
	}

	logging.Infof("Entitlement updated - original_transaction: %s, status: %s, rows: %d",
		tx.OriginalTransactionID, update.SubscriptionStatus, rows)

	if p.notifier != nil {
		p.notifier.Notify(EntitlementChange{
			NotificationType:      notification.NotificationType,
			Subtype:               notification.Subtype,
			TransactionID:         tx.TransactionID,
			OriginalTransactionID: tx.OriginalTransactionID,
			AppAccountToken:       match.AppAccountToken,
			ProductID:             tx.ProductID,
			Status:                update.SubscriptionStatus,
			IsPremium:             update.IsPremium,
			ExpiresAt:             update.PremiumExpiresAt,
			Environment:           update.Environment,
		})
	}
	return rows, nil
}

// BuildNotificationUpdate derives the entitlement columns from one notification.
func BuildNotificationUpdate(notification *models.AppStoreNotification, tx *models.TransactionInfo, renewal *models.RenewalInfo, now time.Time) *models.EntitlementUpdate {
	var expiresAt *time.Time
	if tx.ExpiresDate > 0 {
		t := time.UnixMilli(tx.ExpiresDate).UTC()
		expiresAt = &t
	}

	status := MapNotificationStatus(notification.NotificationType, expiresAt, now)

	environment := tx.Environment
	if environment == "" {
		environment = notification.Data.Environment
	}

	// Types outside the table map to active whatever the expiry; premium
	// still requires an expiry in the future.
	update := &models.EntitlementUpdate{
		IsPremium:            status == models.StatusActive && expiresAt != nil && expiresAt.After(now),
		ProductID:            tx.ProductID,
		LatestTransactionID:  tx.TransactionID,
		Environment:          environment,
		PremiumExpiresAt:     expiresAt,
		SubscriptionStatus:   status,
		WillRenew:            willRenew(tx, renewal),
		IsInGracePeriod:      status == models.StatusGracePeriod,
		IsInBillingRetry:     status == models.StatusBillingRetry,
		LastNotificationAt:   now,
		LastNotificationType: notification.NotificationType,
	}

	if status == models.StatusRevoked {
		revokedAt := now
		if tx.RevocationDate > 0 {
			revokedAt = time.UnixMilli(tx.RevocationDate).UTC()
		}
		update.RevokedAt = &revokedAt
	}
	if tx.RevocationReason != nil {
		update.RevocationReason = describeRevocationReason(*tx.RevocationReason)
	}
	return update
}

// MapNotificationStatus maps a notification type to the resulting subscription status.
func MapNotificationStatus(notificationType string, expiresAt *time.Time, now time.Time) models.SubscriptionStatus {
	switch notificationType {
	case models.NotificationTypeExpired:
		return models.StatusExpired
	case models.NotificationTypeDidRevoke:
		return models.StatusRevoked
	case models.NotificationTypeDidFailToRenew:
		return models.StatusBillingRetry
	case models.NotificationTypeGracePeriod:
		return models.StatusGracePeriod
	case models.NotificationTypeRefund:
		return models.StatusRefunded
	case models.NotificationTypeRefundDeclined:
		return models.StatusRefundDeclined
	case models.NotificationTypeConsumptionRequest:
		return models.StatusConsumptionRequested
	case models.NotificationTypePriceIncrease, models.NotificationTypeDidRenew:
		if expiresAt != nil && expiresAt.After(now) {
			return models.StatusActive
		}
		return models.StatusExpired
	default:
		return models.StatusActive
	}
}

// willRenew prefers the transaction's flag and falls back to renewal info.
func willRenew(tx *models.TransactionInfo, renewal *models.RenewalInfo) bool {
	if tx.AutoRenewStatus != nil {
		return *tx.AutoRenewStatus == 1
	}
	if renewal != nil && renewal.AutoRenewStatus != nil {
		return *renewal.AutoRenewStatus == 1
	}
	return false
}

func describeRevocationReason(reason int) string {
	switch reason {
	case 0:
		return "other"
	case 1:
		return "app_issue"
	default:
		return fmt.Sprintf("reason_%d", reason)
	}
}

package models

import (
	"errors"
	"time"
)

// SubscriptionStatus is the lifecycle state stored on the entitlement.
// The empty value stands for "no subscription".
type SubscriptionStatus string

const (
	StatusNone                 SubscriptionStatus = ""
	StatusActive               SubscriptionStatus = "active"
	StatusExpired              SubscriptionStatus = "expired"
	StatusRevoked              SubscriptionStatus = "revoked"
	StatusGracePeriod          SubscriptionStatus = "grace_period"
	StatusBillingRetry         SubscriptionStatus = "billing_retry"
	StatusRefunded             SubscriptionStatus = "refunded"
	StatusRefundDeclined       SubscriptionStatus = "refund_declined"
	StatusConsumptionRequested SubscriptionStatus = "consumption_requested"
)

// ErrEntitlementNotFound is returned by stores when no row matches.
var ErrEntitlementNotFound = errors.New("entitlement not found")

// Environment values as written by the receipt endpoint and notifications.
const (
	EnvironmentProduction = "Production"
	EnvironmentSandbox    = "Sandbox"
)

// Entitlement 用户权益
// One row per user, written by receipt verification and by App Store notifications.
type Entitlement struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	UserID    string `json:"user_id" gorm:"not null;size:64;uniqueIndex"`
	IsPremium bool   `json:"is_premium" gorm:"not null"`

	// App Store identifiers
	ProductID             string `json:"product_id" gorm:"size:100"`
	LatestTransactionID   string `json:"latest_transaction_id" gorm:"size:100"`
	OriginalTransactionID string `json:"original_transaction_id" gorm:"size:100;index"`
	AppAccountToken       string `json:"app_account_token" gorm:"size:36;index"`
	Environment           string `json:"environment" gorm:"size:20"`

	// Lifecycle
	PremiumExpiresAt   *time.Time         `json:"premium_expires_at"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status" gorm:"size:32;index"`
	WillRenew          bool               `json:"will_renew"`
	IsInGracePeriod    bool               `json:"is_in_grace_period"`
	IsInBillingRetry   bool               `json:"is_in_billing_retry"`
	RevokedAt          *time.Time         `json:"revoked_at"`
	RevocationReason   string             `json:"revocation_reason" gorm:"size:64"`

	LastNotificationAt   *time.Time `json:"last_notification_at"`
	LastNotificationType string     `json:"last_notification_type" gorm:"size:64"`
}

// TableName 指定表名
func (Entitlement) TableName() string {
	return "entitlements"
}

// IsActiveAt reports whether the stored state grants premium at t.
func (e *Entitlement) IsActiveAt(t time.Time) bool {
	return e.SubscriptionStatus == StatusActive && e.PremiumExpiresAt != nil && e.PremiumExpiresAt.After(t)
}

// ClearedEntitlement is the reset state written on an explicit downgrade.
func ClearedEntitlement(userID string) *Entitlement {
	return &Entitlement{UserID: userID}
}

// EntitlementMatch selects the entitlement a notification applies to.
// AppAccountToken wins when set.
type EntitlementMatch struct {
	AppAccountToken       string
	OriginalTransactionID string
}

// EntitlementUpdate holds the columns a notification overwrites.
type EntitlementUpdate struct {
	IsPremium            bool
	ProductID            string
	LatestTransactionID  string
	Environment          string
	PremiumExpiresAt     *time.Time
	SubscriptionStatus   SubscriptionStatus
	WillRenew            bool
	IsInGracePeriod      bool
	IsInBillingRetry     bool
	RevokedAt            *time.Time
	RevocationReason     string
	LastNotificationAt   time.Time
	LastNotificationType string
}

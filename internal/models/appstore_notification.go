package models

// Notification types the entitlement mapping cares about.
// https://developer.apple.com/documentation/appstoreservernotifications/notificationtype
const (
	NotificationTypeTest               = "TEST"
	NotificationTypeExpired            = "EXPIRED"
	NotificationTypeDidRevoke          = "DID_REVOKE"
	NotificationTypeDidFailToRenew     = "DID_FAIL_TO_RENEW"
	NotificationTypeGracePeriod        = "GRACE_PERIOD"
	NotificationTypeRefund             = "REFUND"
	NotificationTypeRefundDeclined     = "REFUND_DECLINED"
	NotificationTypeConsumptionRequest = "CONSUMPTION_REQUEST"
	NotificationTypePriceIncrease      = "PRICE_INCREASE"
	NotificationTypeDidRenew           = "DID_RENEW"
)

// AppStoreNotificationWrapper represents the outer wrapper of App Store Server Notification V2
// Apple sends notifications as a JWS in the signedPayload field
type AppStoreNotificationWrapper struct {
	SignedPayload string `json:"signedPayload"`
}

// AppStoreNotification is the decoded content of signedPayload
type AppStoreNotification struct {
	NotificationType string           `json:"notificationType"`
	Subtype          string           `json:"subtype,omitempty"`
	NotificationUUID string           `json:"notificationUUID"`
	Version          string           `json:"version,omitempty"`
	SignedDate       int64            `json:"signedDate"`
	Data             NotificationData `json:"data"`
}

// NotificationData contains notification data
type NotificationData struct {
	AppAppleID            int64  `json:"appAppleId"`
	BundleID              string `json:"bundleId"`
	BundleVersion         string `json:"bundleVersion"`
	Environment           string `json:"environment"` // "Sandbox" or "Production"
	SignedTransactionInfo string `json:"signedTransactionInfo"`
	SignedRenewalInfo     string `json:"signedRenewalInfo"`
}

// TransactionInfo is the decoded signedTransactionInfo.
// Dates are milliseconds since epoch; AutoRenewStatus is nil when Apple omits it.
type TransactionInfo struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	PurchaseDate          int64  `json:"purchaseDate"`
	ExpiresDate           int64  `json:"expiresDate"`
	AppAccountToken       string `json:"appAccountToken"`
	AutoRenewStatus       *int   `json:"autoRenewStatus,omitempty"`
	RevocationDate        int64  `json:"revocationDate,omitempty"`
	RevocationReason      *int   `json:"revocationReason,omitempty"`
	Environment           string `json:"environment"`
}

// RenewalInfo is the decoded signedRenewalInfo
type RenewalInfo struct {
	OriginalTransactionID  string `json:"originalTransactionId"`
	AutoRenewProductID     string `json:"autoRenewProductId"`
	ProductID              string `json:"productId"`
	AutoRenewStatus        *int   `json:"autoRenewStatus,omitempty"`
	IsInBillingRetryPeriod bool   `json:"isInBillingRetryPeriod"`
	GracePeriodExpiresDate int64  `json:"gracePeriodExpiresDate,omitempty"`
	Environment            string `json:"environment"`
}

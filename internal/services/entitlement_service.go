package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"

	"github.com/google/uuid"
)

// ISOMillis matches the millisecond ISO-8601 form the mobile client parses.
const ISOMillis = "2006-01-02T15:04:05.000Z07:00"

// EntitlementRepository is the user-profile store the entitlement lives in.
type EntitlementRepository interface {
	UpdatePremiumMetadata(ctx context.Context, entitlement *models.Entitlement) error
	ApplyNotification(ctx context.Context, match models.EntitlementMatch, update *models.EntitlementUpdate) (int64, error)
	GetByUserID(ctx context.Context, userID string) (*models.Entitlement, error)
	DeleteUser(ctx context.Context, userID string) error
}

// ReceiptVerifier verifies a receipt with the platform
type ReceiptVerifier interface {
	Verify(ctx context.Context, receiptData string) (*models.ReceiptResponse, error)
}

// PremiumStatusRequest is the body of POST /api/premium
type PremiumStatusRequest struct {
	IsPremium       bool   `json:"isPremium"`
	ReceiptData     string `json:"receiptData"`
	ProductID       string `json:"productId"`
	TransactionID   string `json:"transactionId"`
	AppAccountToken string `json:"appAccountToken"`
}

// PremiumStatusResult is returned to the client after a status change
type PremiumStatusResult struct {
	IsPremium     bool   `json:"isPremium"`
	ProductID     string `json:"productId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	Environment   string `json:"environment,omitempty"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
}

// EntitlementService resolves entitlements from verified receipts
type EntitlementService struct {
	receipts  ReceiptVerifier
	repo      EntitlementRepository
	productID string
	now       func() time.Time
}

// NewEntitlementService creates a new entitlement service.
// When productID is set, requests for any other product are rejected.
func NewEntitlementService(receipts ReceiptVerifier, repo EntitlementRepository, productID string) *EntitlementService {
	return &EntitlementService{
		receipts:  receipts,
		repo:      repo,
		productID: productID,
		now:       time.Now,
	}
}

// SetPremiumStatus grants premium from a receipt or clears it on an explicit downgrade.
func (s *EntitlementService) SetPremiumStatus(ctx context.Context, userID string, req PremiumStatusRequest) (*PremiumStatusResult, error) {
	if !req.IsPremium {
		return s.ClearEntitlement(ctx, userID)
	}
	return s.VerifyEntitlement(ctx, userID, req, s.now())
}

// ClearEntitlement resets the entitlement regardless of its current state.
func (s *EntitlementService) ClearEntitlement(ctx context.Context, userID string) (*PremiumStatusResult, error) {
	if err := s.repo.UpdatePremiumMetadata(ctx, models.ClearedEntitlement(userID)); err != nil {
		return nil, fmt.Errorf("failed to clear entitlement: %w", err)
	}
	logging.Infof("Premium cleared - user: %s", userID)
	return &PremiumStatusResult{IsPremium: false}, nil
}

// VerifyEntitlement verifies receiptData with Apple and marks the user premium
// when the newest entry for productID is still valid at now.
// Nothing is written when verification fails or the subscription has lapsed.
func (s *EntitlementService) VerifyEntitlement(ctx context.Context, userID string, req PremiumStatusRequest, now time.Time) (*PremiumStatusResult, error) {
	receiptData := strings.TrimSpace(req.ReceiptData)
	if receiptData == "" {
		return nil, newError(ErrValidation, "receiptData is required", nil)
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return nil, newError(ErrValidation, "productId is required", nil)
	}
	if s.productID != "" && productID != s.productID {
		return nil, newError(ErrValidation, "Unknown productId", nil)
	}
	appAccountToken, err := normalizeAppAccountToken(req.AppAccountToken)
	if err != nil {
		return nil, err
	}

	response, err := s.receipts.Verify(ctx, receiptData)
	if err != nil {
		return nil, err
	}

	entry := SelectLatestReceipt(response, productID)
	if entry == nil {
		return nil, newError(ErrNoActiveSubscription, "Apple did not return an active subscription for this product.", nil)
	}

	expiresAt, ok := ResolveExpiration(*entry)
	logging.Infof("Receipt chosen - user: %s, product: %s, transaction: %s, original_transaction: %s, expires_ms: %s, environment: %s",
		userID, entry.ProductID, entry.TransactionID, entry.OriginalTransactionID, entry.ExpiresDateMS, response.Environment)
	if !ok {
		return nil, newError(ErrMissingExpiration, "Apple receipt is missing an expiration date.", nil)
	}

	// An expired receipt must not downgrade state a newer notification may have advanced.
	if !expiresAt.After(now) {
		return nil, newError(ErrSubscriptionExpired, "Subscription has expired. Renew via Apple and try again.", nil)
	}

	originalTransactionID := firstNonEmpty(entry.OriginalTransactionID, strings.TrimSpace(req.TransactionID), entry.TransactionID)
	latestTransactionID := firstNonEmpty(entry.TransactionID, originalTransactionID)

	if appAccountToken == "" {
		existing, err := s.repo.GetByUserID(ctx, userID)
		if err != nil && !errors.Is(err, models.ErrEntitlementNotFound) {
			return nil, fmt.Errorf("failed to load entitlement: %w", err)
		}
		if existing != nil {
			appAccountToken = existing.AppAccountToken
		}
	}

	expires := expiresAt.UTC()
	entitlement := &models.Entitlement{
		UserID:                userID,
		IsPremium:             true,
		ProductID:             productID,
		LatestTransactionID:   latestTransactionID,
		OriginalTransactionID: originalTransactionID,
		AppAccountToken:       appAccountToken,
		Environment:           response.Environment,
		PremiumExpiresAt:      &expires,
		SubscriptionStatus:    models.StatusActive,
		WillRenew:             true,
	}
	if err := s.repo.UpdatePremiumMetadata(ctx, entitlement); err != nil {
		return nil, fmt.Errorf("failed to save entitlement: %w", err)
	}

	logging.Infof("Premium granted - user: %s, product: %s, expires: %s", userID, productID, expires.Format(time.RFC3339))

	return &PremiumStatusResult{
		IsPremium:     true,
		ProductID:     productID,
		TransactionID: latestTransactionID,
		Environment:   response.Environment,
		ExpiresAt:     expires.Format(ISOMillis),
	}, nil
}

// GetEntitlement returns the stored entitlement, or a cleared one if none exists.
func (s *EntitlementService) GetEntitlement(ctx context.Context, userID string) (*models.Entitlement, error) {
	entitlement, err := s.repo.GetByUserID(ctx, userID)
	if errors.Is(err, models.ErrEntitlementNotFound) {
		return models.ClearedEntitlement(userID), nil
	}
	return entitlement, err
}

// DeleteAccount removes the user and the entitlement with it.
func (s *EntitlementService) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.repo.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user %s: %w", userID, err)
	}
	logging.Infof("User deleted - user: %s", userID)
	return nil
}

// SelectLatestReceipt picks the entry for productID with the greatest expiration,
// falling back to purchase time. The first entry wins ties.
func SelectLatestReceipt(response *models.ReceiptResponse, productID string) *models.ReceiptInfo {
	var latest *models.ReceiptInfo
	var latestTime int64
	for _, entry := range response.Entries() {
		if entry.ProductID != productID {
			continue
		}
		entryTime := comparisonTimestamp(entry)
		if latest == nil || entryTime > latestTime {
			e := entry
			latest = &e
			latestTime = entryTime
		}
	}
	return latest
}

func comparisonTimestamp(entry models.ReceiptInfo) int64 {
	raw := entry.ExpiresDateMS
	if raw == "" {
		raw = entry.PurchaseDateMS
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return ms
}

var receiptDateLayouts = []string{
	"2006-01-02 15:04:05 Etc/GMT",
	time.RFC3339,
}

// ResolveExpiration reads expires_date_ms, then expires_date.
func ResolveExpiration(entry models.ReceiptInfo) (time.Time, bool) {
	if entry.ExpiresDateMS != "" {
		if ms, err := strconv.ParseInt(entry.ExpiresDateMS, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms), true
		}
	}
	if entry.ExpiresDate != "" {
		for _, layout := range receiptDateLayouts {
			if t, err := time.Parse(layout, entry.ExpiresDate); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func normalizeAppAccountToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", nil
	}
	parsed, err := uuid.Parse(token)
	if err != nil {
		return "", newError(ErrValidation, "appAccountToken must be a UUID", err)
	}
	return parsed.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"entitlement-api/pkg/logging"

	"github.com/go-resty/resty/v2"
)

// SignatureHeader carries the hex HMAC-SHA256 of the callback body.
const SignatureHeader = "X-Entitlement-Signature"

// EntitlementNotifier posts entitlement changes to the app backend
type EntitlementNotifier struct {
	client      *resty.Client
	callbackURL string
	secret      string
	retryDelays []time.Duration
}

// NewEntitlementNotifier returns nil when callbackURL is empty
func NewEntitlementNotifier(callbackURL, secret string) *EntitlementNotifier {
	if callbackURL == "" {
		return nil
	}
	return &EntitlementNotifier{
		client:      resty.New().SetTimeout(10 * time.Second),
		callbackURL: callbackURL,
		secret:      secret,
		// 1s, 5s, 30s between attempts
		retryDelays: []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// CallbackPayload is the body sent to the app backend
type CallbackPayload struct {
	Event     string            `json:"event"`
	Change    EntitlementChange `json:"change"`
	Timestamp string            `json:"timestamp"`
}

// Notify sends change in the background so the webhook response is not delayed
func (n *EntitlementNotifier) Notify(change EntitlementChange) {
	if n == nil {
		return
	}
	go func() {
		if err := n.Send(context.Background(), change); err != nil {
			logging.Errorf("Entitlement callback dropped - original_transaction: %s, error: %v", change.OriginalTransactionID, err)
		}
	}()
}

// Send delivers change, retrying with the configured delays.
func (n *EntitlementNotifier) Send(ctx context.Context, change EntitlementChange) error {
	body, err := json.Marshal(CallbackPayload{
		Event:     "entitlement.updated",
		Change:    change,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	attempts := len(n.retryDelays) + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		err = n.post(ctx, body)
		if err == nil {
			logging.Infof("Entitlement callback sent - url: %s, transaction: %s, attempt: %d",
				n.callbackURL, change.TransactionID, attempt)
			return nil
		}

		logging.Warnf("Entitlement callback failed - url: %s, transaction: %s, attempt: %d, error: %v",
			n.callbackURL, change.TransactionID, attempt, err)

		if attempt == attempts {
			break
		}
		select {
		case <-time.After(n.retryDelays[attempt-1]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("callback failed after %d attempts: %w", attempts, err)
}

func (n *EntitlementNotifier) post(ctx context.Context, body []byte) error {
	req := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "entitlement-api/1.0").
		SetBody(body)
	if n.secret != "" {
		req.SetHeader(SignatureHeader, SignPayload(body, n.secret))
	}

	resp, err := req.Post(n.callbackURL)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}
	return nil
}

// SignPayload returns the hex HMAC-SHA256 of payload
func SignPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

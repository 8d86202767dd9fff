package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"entitlement-api/internal/models"
	"entitlement-api/pkg/logging"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"
)

// verifyReceipt status codes
// https://developer.apple.com/documentation/appstorereceipts/status
const (
	ReceiptStatusOK                  = 0
	ReceiptStatusBadRequest          = 21000
	ReceiptStatusMalformed           = 21002
	ReceiptStatusUnauthenticated     = 21003
	ReceiptStatusSecretMismatch      = 21004
	ReceiptStatusServerUnavailable   = 21005
	ReceiptStatusSubscriptionExpired = 21006
	ReceiptStatusSandboxReceipt      = 21007
	ReceiptStatusProductionReceipt   = 21008
)

// DescribeReceiptStatus maps a verifyReceipt status to a client-facing message.
func DescribeReceiptStatus(status int) string {
	switch status {
	case ReceiptStatusOK:
		return "Receipt is valid."
	case ReceiptStatusBadRequest:
		return "Apple could not process this receipt request."
	case ReceiptStatusMalformed:
		return "Apple rejected the receipt payload as malformed."
	case ReceiptStatusUnauthenticated:
		return "Apple could not authenticate this receipt."
	case ReceiptStatusSecretMismatch:
		return "The shared secret is invalid."
	case ReceiptStatusServerUnavailable:
		return "Receipt is temporarily unavailable. Try again shortly."
	case ReceiptStatusSubscriptionExpired:
		return "This subscription has expired."
	case ReceiptStatusSandboxReceipt:
		return "Sandbox receipt sent to production environment."
	case ReceiptStatusProductionReceipt:
		return "Production receipt sent to sandbox environment."
	default:
		return fmt.Sprintf("Apple returned status %d.", status)
	}
}

// ReceiptClientConfig configures the verifyReceipt client
type ReceiptClientConfig struct {
	ProductionURL    string
	SandboxURL       string
	SharedSecret     string
	Timeout          time.Duration
	FailureThreshold int
	OpenTimeout      time.Duration
}

// ReceiptClient posts receipts to Apple's verifyReceipt endpoints
type ReceiptClient struct {
	client        *resty.Client
	productionURL string
	sandboxURL    string
	sharedSecret  string
	breaker       *gobreaker.CircuitBreaker[*models.ReceiptResponse]
}

// NewReceiptClient creates a new receipt client
func NewReceiptClient(cfg ReceiptClientConfig) *ReceiptClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	threshold := uint32(cfg.FailureThreshold)
	settings := gobreaker.Settings{
		Name:    "verify-receipt",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warnf("Circuit breaker %s changed state: %s -> %s", name, from.String(), to.String())
		},
	}

	return &ReceiptClient{
		client:        resty.New().SetTimeout(cfg.Timeout),
		productionURL: cfg.ProductionURL,
		sandboxURL:    cfg.SandboxURL,
		sharedSecret:  cfg.SharedSecret,
		breaker:       gobreaker.NewCircuitBreaker[*models.ReceiptResponse](settings),
	}
}

// Verify verifies a receipt, following the sandbox/production redirect statuses.
// A non-zero final status is returned as *ReceiptStatusError.
func (c *ReceiptClient) Verify(ctx context.Context, receiptData string) (*models.ReceiptResponse, error) {
	if c.sharedSecret == "" {
		return nil, newError(ErrNotConfigured, "APPLE_IAP_SHARED_SECRET is not configured.", nil)
	}

	logging.Infof("Verifying receipt - length: %d", len(receiptData))

	resp, err := c.post(ctx, c.productionURL, receiptData)
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case ReceiptStatusSandboxReceipt:
		logging.Infof("Receipt is from sandbox, retrying with sandbox URL")
		resp, err = c.post(ctx, c.sandboxURL, receiptData)
	case ReceiptStatusProductionReceipt:
		logging.Infof("Receipt is from production, retrying with production URL")
		resp, err = c.post(ctx, c.productionURL, receiptData)
	}
	if err != nil {
		return nil, err
	}

	logging.Infof("Apple receipt status: %d, environment: %s", resp.Status, resp.Environment)

	if resp.Status != ReceiptStatusOK {
		return nil, &ReceiptStatusError{Status: resp.Status}
	}
	return resp, nil
}

// post sends a single verifyReceipt request through the circuit breaker
func (c *ReceiptClient) post(ctx context.Context, url, receiptData string) (*models.ReceiptResponse, error) {
	result, err := c.breaker.Execute(func() (*models.ReceiptResponse, error) {
		resp, err := c.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(models.ReceiptRequest{
				ReceiptData:            receiptData,
				Password:               c.sharedSecret,
				ExcludeOldTransactions: true,
			}).
			Post(url)
		if err != nil {
			return nil, fmt.Errorf("failed to send verification request: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("verification endpoint returned HTTP %d", resp.StatusCode())
		}

		var out models.ReceiptResponse
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return nil, fmt.Errorf("failed to parse verification response: %w", err)
		}
		return &out, nil
	})
	if err != nil {
		logging.Errorf("Receipt verification request failed - url: %s, error: %v", url, err)
		return nil, newError(ErrUpstreamUnavailable, "Unable to reach Apple verification service", err)
	}
	return result, nil
}

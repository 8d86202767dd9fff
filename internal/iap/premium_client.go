package iap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// AccessTokenFunc returns the bearer token of the signed-in user.
type AccessTokenFunc func(ctx context.Context) (string, error)

// PremiumStatus is the server's answer to a premium update.
type PremiumStatus struct {
	IsPremium     bool   `json:"isPremium"`
	ProductID     string `json:"productId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
	Environment   string `json:"environment,omitempty"`
	ExpiresAt     string `json:"expiresAt,omitempty"`
}

type premiumUpdateRequest struct {
	IsPremium       bool   `json:"isPremium"`
	ReceiptData     string `json:"receiptData,omitempty"`
	ProductID       string `json:"productId,omitempty"`
	TransactionID   string `json:"transactionId,omitempty"`
	AppAccountToken string `json:"appAccountToken,omitempty"`
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIError is a non-2xx answer from the entitlement server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("premium api: HTTP %d: %s", e.StatusCode, e.Message)
}

// PremiumClient sends purchase results to the entitlement server.
type PremiumClient struct {
	client *resty.Client
	token  AccessTokenFunc
}

// NewPremiumClient creates a client for the server at baseURL.
func NewPremiumClient(baseURL string, token AccessTokenFunc) *PremiumClient {
	return &PremiumClient{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(30 * time.Second),
		token: token,
	}
}

// UpdatePremiumStatus asks the server to verify result and grant premium.
func (c *PremiumClient) UpdatePremiumStatus(ctx context.Context, result *PurchaseResult) (*PremiumStatus, error) {
	return c.post(ctx, premiumUpdateRequest{
		IsPremium:       true,
		ReceiptData:     result.ReceiptData,
		ProductID:       result.ProductID,
		TransactionID:   result.TransactionID,
		AppAccountToken: result.AppAccountToken,
	})
}

// ClearPremiumStatus downgrades the current user.
func (c *PremiumClient) ClearPremiumStatus(ctx context.Context) (*PremiumStatus, error) {
	return c.post(ctx, premiumUpdateRequest{IsPremium: false})
}

func (c *PremiumClient) post(ctx context.Context, body premiumUpdateRequest) (*PremiumStatus, error) {
	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get access token: %w", err)
		}
		req.SetAuthToken(token)
	}

	resp, err := req.Post("/api/premium")
	if err != nil {
		return nil, fmt.Errorf("failed to reach premium api: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		if resp.StatusCode() != http.StatusOK {
			return nil, &APIError{StatusCode: resp.StatusCode(), Message: resp.Status()}
		}
		return nil, fmt.Errorf("failed to parse premium api response: %w", err)
	}
	if resp.StatusCode() != http.StatusOK || !env.Success {
		return nil, &APIError{StatusCode: resp.StatusCode(), Message: env.Message}
	}

	var status PremiumStatus
	if err := json.Unmarshal(env.Data, &status); err != nil {
		return nil, fmt.Errorf("failed to parse premium status: %w", err)
	}
	return &status, nil
}

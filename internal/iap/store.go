package iap

import (
	"context"
	"time"
)

// PurchaseState is the state StoreKit reports on a purchase event.
type PurchaseState string

const (
	StateUnknown   PurchaseState = ""
	StatePending   PurchaseState = "pending"
	StatePurchased PurchaseState = "purchased"
	StateRestored  PurchaseState = "restored"
	StateFailed    PurchaseState = "failed"
	StateDeferred  PurchaseState = "deferred"
)

// ProductType selects the StoreKit product family.
type ProductType string

const (
	ProductTypeSubscription ProductType = "subs"
	ProductTypeInApp        ProductType = "inapp"
)

// Purchase is a purchase as delivered by the native store.
type Purchase struct {
	ProductID             string
	IDs                   []string
	TransactionID         string
	OriginalTransactionID string
	// TransactionDate is milliseconds since epoch, 0 when unknown.
	TransactionDate    int64
	State              PurchaseState
	TransactionReceipt string
}

// Matches reports whether the purchase is for productID, directly or through IDs.
func (p *Purchase) Matches(productID string) bool {
	if p.ProductID == productID {
		return true
	}
	for _, id := range p.IDs {
		if id == productID {
			return true
		}
	}
	return false
}

// Completed reports whether the event is a terminal success. Some platforms
// omit the state and only attach a receipt.
func (p *Purchase) Completed() bool {
	switch p.State {
	case StatePurchased, StateRestored:
		return true
	case StateUnknown:
		return p.TransactionReceipt != ""
	default:
		return false
	}
}

// TransactionTime returns the transaction date, or nil when unknown.
func (p *Purchase) TransactionTime() *time.Time {
	if p.TransactionDate <= 0 {
		return nil
	}
	t := time.UnixMilli(p.TransactionDate).UTC()
	return &t
}

// PurchaseError is delivered on the purchase-error channel.
type PurchaseError struct {
	Code      string
	Message   string
	ProductID string
}

// Product is the raw product metadata returned by FetchProducts.
type Product struct {
	ID             string
	ProductID      string
	Title          string
	Description    string
	DisplayPrice   string
	LocalizedPrice string
	Currency       string
}

// PurchaseRequest starts a purchase flow.
type PurchaseRequest struct {
	SKU             string
	Type            ProductType
	AppAccountToken string
	// FinishAutomatically must stay false so receipts are read before finishing.
	FinishAutomatically bool
}

// AvailablePurchasesOptions filters GetAvailablePurchases.
type AvailablePurchasesOptions struct {
	OnlyIncludeActive     bool
	PublishToEventChannel bool
}

// Subscription detaches a listener.
type Subscription interface {
	Remove()
}

// Store is the native purchase capability. Its event channels are process-wide.
type Store interface {
	// Available reports whether native purchases work on this platform.
	Available() bool
	InitConnection(ctx context.Context) (bool, error)
	EndConnection(ctx context.Context) error
	RequestPurchase(ctx context.Context, req PurchaseRequest) error
	FinishTransaction(ctx context.Context, purchase Purchase, consumable bool) error
	GetAvailablePurchases(ctx context.Context, opts AvailablePurchasesOptions) ([]Purchase, error)
	FetchProducts(ctx context.Context, skus []string, productType ProductType) ([]Product, error)
	GetReceipt(ctx context.Context) (string, error)
	RefreshReceipt(ctx context.Context) error
	OnPurchaseUpdated(fn func(Purchase)) Subscription
	OnPurchaseError(fn func(PurchaseError)) Subscription
}

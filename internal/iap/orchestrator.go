// Package iap drives App Store purchases on the client: one purchase at a
// time, correlated with the store's global event channels.
package iap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"entitlement-api/pkg/logging"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"
)

// DefaultPurchaseTimeout bounds how long Purchase waits for a store event.
const DefaultPurchaseTimeout = 2 * time.Minute

const devProductID = "premium.dev"

// Config configures an Orchestrator.
type Config struct {
	// ProductID is the premium subscription product. Native purchases are
	// disabled when it is empty.
	ProductID       string
	PurchaseTimeout time.Duration
	// DevMode returns a fake purchase when native purchases are unavailable.
	DevMode bool
	Logger  hclog.Logger
}

// PurchaseResult is what the app sends to the server after a purchase or restore.
type PurchaseResult struct {
	ProductID       string
	TransactionID   string
	TransactionDate *time.Time
	ReceiptData     string
	AppAccountToken string
}

// Orchestrator serialises purchases against a Store.
type Orchestrator struct {
	store     Store
	productID string
	timeout   time.Duration
	devMode   bool
	log       hclog.Logger
	now       func() time.Time

	connect   singleflight.Group
	listeners listenerSet

	mu           sync.Mutex
	connected    bool
	// generation is bumped by Close so a connect attempt started before it
	// cannot leave the orchestrator connected.
	generation   uint64
	pending      *pendingPurchase
	product      *ProductDetails
	accountToken string
}

// NewOrchestrator creates an orchestrator for store. store may be nil on
// platforms without native purchases.
func NewOrchestrator(store Store, cfg Config) *Orchestrator {
	if cfg.PurchaseTimeout <= 0 {
		cfg.PurchaseTimeout = DefaultPurchaseTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Logger()
	}
	return &Orchestrator{
		store:     store,
		productID: cfg.ProductID,
		timeout:   cfg.PurchaseTimeout,
		devMode:   cfg.DevMode,
		log:       cfg.Logger.Named("iap"),
		now:       time.Now,
	}
}

// SetAppAccountToken sets the token attached to subsequent purchase requests.
func (o *Orchestrator) SetAppAccountToken(token string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.accountToken = token
}

func (o *Orchestrator) appAccountToken() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.accountToken
}

func (o *Orchestrator) nativeAvailable() bool {
	return o.store != nil && o.productID != "" && o.store.Available()
}

// InitConnection connects to the store once. Concurrent callers share the
// in-flight attempt; the first success attaches the purchase listeners.
func (o *Orchestrator) InitConnection(ctx context.Context) error {
	if !o.nativeAvailable() {
		o.log.Debug("skipping init: native purchases not available")
		return nil
	}
	if o.isConnected() {
		return nil
	}

	_, err, shared := o.connect.Do("connect", func() (interface{}, error) {
		if o.isConnected() {
			return nil, nil
		}
		o.mu.Lock()
		generation := o.generation
		o.mu.Unlock()

		o.log.Info("connecting to store")
		ok, err := o.store.InitConnection(ctx)
		if err != nil {
			return nil, &PlatformRejectionError{Op: "initConnection", Err: err}
		}
		if !ok {
			return nil, ErrNotConnected
		}

		o.mu.Lock()
		if o.generation != generation {
			o.mu.Unlock()
			o.log.Info("store connected after close, ending connection")
			if err := o.store.EndConnection(context.WithoutCancel(ctx)); err != nil {
				o.log.Warn("failed to end stale connection", "error", err)
			}
			return nil, ErrConnectionClosed
		}
		o.attachListeners()
		o.connected = true
		o.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		o.log.Warn("failed to connect to store", "error", err, "shared", shared)
	}
	return err
}

func (o *Orchestrator) isConnected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connected
}

func (o *Orchestrator) attachListeners() {
	if o.listeners.attach(o.store, o.handlePurchaseUpdated, o.handlePurchaseError) {
		o.log.Debug("purchase listeners attached")
	}
}

// Purchase requests productID and blocks until the store confirms it, reports
// an error, the timeout elapses or ctx is done.
func (o *Orchestrator) Purchase(ctx context.Context, productID string) (*Purchase, error) {
	if !o.nativeAvailable() {
		return nil, ErrIAPUnavailable
	}
	if err := o.InitConnection(ctx); err != nil {
		return nil, err
	}

	p, err := o.begin(productID)
	if err != nil {
		return nil, err
	}

	o.log.Info("requesting purchase", "product_id", productID)
	req := PurchaseRequest{
		SKU:             productID,
		Type:            ProductTypeSubscription,
		AppAccountToken: o.appAccountToken(),
	}
	if err := o.store.RequestPurchase(ctx, req); err != nil {
		o.settle(p, purchaseOutcome{err: &PlatformRejectionError{Op: "requestPurchase", Err: err}})
	}

	select {
	case out := <-p.done:
		return out.purchase, out.err
	case <-ctx.Done():
		o.settle(p, purchaseOutcome{err: ctx.Err()})
		out := <-p.done
		return out.purchase, out.err
	}
}

func (o *Orchestrator) handlePurchaseUpdated(purchase Purchase) {
	p := o.current()
	o.log.Debug("purchase updated", "product_id", purchase.ProductID, "state", purchase.State)
	if p == nil || !purchase.Matches(p.productID) || !purchase.Completed() {
		return
	}
	o.settle(p, purchaseOutcome{purchase: &purchase})
}

func (o *Orchestrator) handlePurchaseError(purchaseErr PurchaseError) {
	p := o.current()
	o.log.Debug("purchase error", "product_id", purchaseErr.ProductID, "code", purchaseErr.Code, "message", purchaseErr.Message)
	if p == nil {
		return
	}
	if purchaseErr.ProductID != "" && purchaseErr.ProductID != p.productID {
		return
	}
	o.settle(p, purchaseOutcome{err: &PlatformRejectionError{
		Op:      "purchase",
		Code:    purchaseErr.Code,
		Message: purchaseErr.Message,
	}})
}

// FinalizePurchase finishes the transaction as non-consumable. Call it before
// reading the receipt so restores do not report the transaction as pending.
func (o *Orchestrator) FinalizePurchase(ctx context.Context, purchase *Purchase) error {
	if err := o.store.FinishTransaction(ctx, *purchase, false); err != nil {
		return &PlatformRejectionError{Op: "finishTransaction", Err: err}
	}
	o.log.Debug("transaction finished", "transaction_id", purchase.TransactionID)
	return nil
}

// FetchReceiptData returns the receipt embedded in purchase, else the local
// receipt, refreshing it once if needed. It returns "" when none exists.
func (o *Orchestrator) FetchReceiptData(ctx context.Context, purchase *Purchase) string {
	if purchase != nil && purchase.TransactionReceipt != "" {
		return purchase.TransactionReceipt
	}

	receipt, err := o.store.GetReceipt(ctx)
	if err != nil {
		o.log.Warn("unable to read receipt", "error", err)
	} else if receipt != "" {
		return receipt
	}

	if err := o.store.RefreshReceipt(ctx); err != nil {
		o.log.Warn("receipt refresh failed", "error", err)
		return ""
	}
	receipt, err = o.store.GetReceipt(ctx)
	if err != nil {
		o.log.Warn("unable to read refreshed receipt", "error", err)
		return ""
	}
	return receipt
}

// Restore finds an active purchase of productID. It returns nil when there is none.
func (o *Orchestrator) Restore(ctx context.Context, productID string) (*PurchaseResult, error) {
	if !o.nativeAvailable() {
		return nil, ErrIAPUnavailable
	}
	if err := o.InitConnection(ctx); err != nil {
		return nil, err
	}

	purchases, err := o.store.GetAvailablePurchases(ctx, AvailablePurchasesOptions{OnlyIncludeActive: true})
	if err != nil {
		return nil, &PlatformRejectionError{Op: "getAvailablePurchases", Err: err}
	}
	o.log.Debug("available purchases", "count", len(purchases))

	for i := range purchases {
		if !purchases[i].Matches(productID) {
			continue
		}
		receipt := o.FetchReceiptData(ctx, &purchases[i])
		if receipt == "" {
			return nil, ErrReceiptMissing
		}
		return o.result(&purchases[i], productID, receipt), nil
	}

	o.log.Info("no matching purchase found during restore", "product_id", productID)
	return nil, nil
}

// PurchasePremium runs the full purchase flow for the configured product.
func (o *Orchestrator) PurchasePremium(ctx context.Context) (*PurchaseResult, error) {
	if !o.nativeAvailable() {
		return o.fallbackPurchase()
	}
	if err := o.InitConnection(ctx); err != nil {
		return nil, err
	}
	o.LoadProductDetails(ctx, o.productID)

	purchase, err := o.Purchase(ctx, o.productID)
	if err != nil {
		return nil, err
	}
	if err := o.FinalizePurchase(ctx, purchase); err != nil {
		return nil, err
	}

	receipt := o.FetchReceiptData(ctx, purchase)
	if receipt == "" {
		return nil, ErrReceiptMissing
	}
	return o.result(purchase, o.productID, receipt), nil
}

// RestorePremium restores the configured product. It returns nil when the
// user has no active purchase.
func (o *Orchestrator) RestorePremium(ctx context.Context) (*PurchaseResult, error) {
	if !o.nativeAvailable() {
		return o.fallbackPurchase()
	}
	if err := o.InitConnection(ctx); err != nil {
		return nil, err
	}
	o.LoadProductDetails(ctx, o.productID)
	return o.Restore(ctx, o.productID)
}

func (o *Orchestrator) result(purchase *Purchase, productID, receipt string) *PurchaseResult {
	result := &PurchaseResult{
		ProductID:       productID,
		TransactionID:   purchase.OriginalTransactionID,
		TransactionDate: purchase.TransactionTime(),
		ReceiptData:     receipt,
		AppAccountToken: o.appAccountToken(),
	}
	if purchase.ProductID != "" {
		result.ProductID = purchase.ProductID
	}
	if result.TransactionID == "" {
		result.TransactionID = purchase.TransactionID
	}
	return result
}

func (o *Orchestrator) fallbackPurchase() (*PurchaseResult, error) {
	if !o.devMode {
		return nil, ErrIAPUnavailable
	}
	o.log.Info("native purchases unavailable, returning dev purchase")

	productID := o.productID
	if productID == "" {
		productID = devProductID
	}
	now := o.now().UTC()
	stamp := now.UnixMilli()
	return &PurchaseResult{
		ProductID:       productID,
		TransactionID:   fmt.Sprintf("dev-%d", stamp),
		TransactionDate: &now,
		ReceiptData:     fmt.Sprintf("dev-receipt-%d", stamp),
		AppAccountToken: o.appAccountToken(),
	}, nil
}

// Close cancels any pending purchase, detaches the listeners, drops the
// product cache and ends the store connection.
// A connect attempt still in flight ends its own connection when it completes.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.generation++
	connected := o.connected
	o.connected = false
	o.product = nil
	o.mu.Unlock()

	o.cancelPending(ErrConnectionClosed)
	o.listeners.detach()

	if !connected {
		return nil
	}
	if err := o.store.EndConnection(ctx); err != nil {
		return &PlatformRejectionError{Op: "endConnection", Err: err}
	}
	o.log.Info("store connection closed")
	return nil
}

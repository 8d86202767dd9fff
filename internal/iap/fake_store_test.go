package iap

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type fakeSubscription struct {
	removed *atomic.Int32
}

func (s fakeSubscription) Remove() {
	s.removed.Add(1)
}

// fakeStore records calls and lets tests emit store events.
type fakeStore struct {
	mu sync.Mutex

	available  bool
	connectOK  bool
	connectErr error
	// connectGate, when set, blocks InitConnection until closed.
	connectGate chan struct{}

	requestErr  error
	onRequest   func(req PurchaseRequest)
	finishErr   error
	receipts    []string
	receiptErr  error
	refreshErr  error
	purchases   []Purchase
	products    []Product
	productsErr error

	connectCalls  atomic.Int32
	endCalls      atomic.Int32
	requestCalls  atomic.Int32
	finishCalls   atomic.Int32
	receiptCalls  atomic.Int32
	refreshCalls  atomic.Int32
	productsCalls atomic.Int32
	updateSubs    atomic.Int32
	errorSubs     atomic.Int32
	removed       atomic.Int32

	calls        []string
	lastRequest  PurchaseRequest
	finished     []Purchase
	updateFns    []func(Purchase)
	errorFns     []func(PurchaseError)
	receiptIndex int
}

func newFakeStore() *fakeStore {
	return &fakeStore{available: true, connectOK: true}
}

func (s *fakeStore) Available() bool { return s.available }

func (s *fakeStore) InitConnection(ctx context.Context) (bool, error) {
	s.connectCalls.Add(1)
	if s.connectGate != nil {
		select {
		case <-s.connectGate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return s.connectOK, s.connectErr
}

func (s *fakeStore) EndConnection(context.Context) error {
	s.endCalls.Add(1)
	return nil
}

func (s *fakeStore) RequestPurchase(_ context.Context, req PurchaseRequest) error {
	s.requestCalls.Add(1)
	s.mu.Lock()
	s.lastRequest = req
	hook := s.onRequest
	s.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return s.requestErr
}

func (s *fakeStore) FinishTransaction(_ context.Context, purchase Purchase, consumable bool) error {
	s.finishCalls.Add(1)
	s.mu.Lock()
	s.finished = append(s.finished, purchase)
	s.calls = append(s.calls, "finish")
	s.mu.Unlock()
	return s.finishErr
}

func (s *fakeStore) GetAvailablePurchases(context.Context, AvailablePurchasesOptions) ([]Purchase, error) {
	return s.purchases, nil
}

func (s *fakeStore) FetchProducts(context.Context, []string, ProductType) ([]Product, error) {
	s.productsCalls.Add(1)
	return s.products, s.productsErr
}

// GetReceipt returns the queued receipts in order, then the last one again.
func (s *fakeStore) GetReceipt(context.Context) (string, error) {
	s.receiptCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "receipt")
	if s.receiptErr != nil {
		return "", s.receiptErr
	}
	if len(s.receipts) == 0 {
		return "", nil
	}
	i := s.receiptIndex
	if i >= len(s.receipts) {
		i = len(s.receipts) - 1
	}
	s.receiptIndex++
	return s.receipts[i], nil
}

func (s *fakeStore) RefreshReceipt(context.Context) error {
	s.refreshCalls.Add(1)
	return s.refreshErr
}

func (s *fakeStore) OnPurchaseUpdated(fn func(Purchase)) Subscription {
	s.updateSubs.Add(1)
	s.mu.Lock()
	s.updateFns = append(s.updateFns, fn)
	s.mu.Unlock()
	return fakeSubscription{removed: &s.removed}
}

func (s *fakeStore) OnPurchaseError(fn func(PurchaseError)) Subscription {
	s.errorSubs.Add(1)
	s.mu.Lock()
	s.errorFns = append(s.errorFns, fn)
	s.mu.Unlock()
	return fakeSubscription{removed: &s.removed}
}

func (s *fakeStore) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.calls...)
}

func (s *fakeStore) emitUpdate(p Purchase) {
	s.mu.Lock()
	fns := append([]func(Purchase){}, s.updateFns...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (s *fakeStore) emitError(e PurchaseError) {
	s.mu.Lock()
	fns := append([]func(PurchaseError){}, s.errorFns...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

package iap

import "time"

type purchaseOutcome struct {
	purchase *Purchase
	err      error
}

// pendingPurchase is the single in-flight purchase. done receives exactly one
// outcome; whoever settles first wins.
type pendingPurchase struct {
	productID string
	done      chan purchaseOutcome
	timer     *time.Timer
}

// begin registers a new pending purchase, or fails when one already exists.
func (o *Orchestrator) begin(productID string) (*pendingPurchase, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pending != nil {
		return nil, ErrPurchaseInProgress
	}

	p := &pendingPurchase{
		productID: productID,
		done:      make(chan purchaseOutcome, 1),
	}
	p.timer = time.AfterFunc(o.timeout, func() {
		if o.settle(p, purchaseOutcome{err: ErrPurchaseTimeout}) {
			o.log.Warn("purchase timed out", "product_id", p.productID, "timeout", o.timeout)
		}
	})
	o.pending = p
	return p, nil
}

// current returns the pending purchase, if any.
func (o *Orchestrator) current() *pendingPurchase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending
}

// settle completes p with out if p is still the pending purchase.
func (o *Orchestrator) settle(p *pendingPurchase, out purchaseOutcome) bool {
	o.mu.Lock()
	if p == nil || o.pending != p {
		o.mu.Unlock()
		return false
	}
	o.pending = nil
	o.mu.Unlock()

	p.timer.Stop()
	p.done <- out
	o.log.Debug("pending purchase settled", "product_id", p.productID, "success", out.err == nil)
	return true
}

// cancelPending settles the current pending purchase, if any, with err.
func (o *Orchestrator) cancelPending(err error) {
	if p := o.current(); p != nil {
		o.settle(p, purchaseOutcome{err: err})
	}
}

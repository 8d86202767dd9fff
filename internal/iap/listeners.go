package iap

import "sync"

// listenerSet owns the two process-wide store subscriptions.
type listenerSet struct {
	mu       sync.Mutex
	attached bool
	subs     []Subscription
}

// attach registers both listeners unless already attached. It reports whether
// anything was registered.
func (l *listenerSet) attach(store Store, onUpdate func(Purchase), onError func(PurchaseError)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.attached {
		return false
	}
	l.subs = []Subscription{
		store.OnPurchaseUpdated(onUpdate),
		store.OnPurchaseError(onError),
	}
	l.attached = true
	return true
}

func (l *listenerSet) detach() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, sub := range l.subs {
		if sub != nil {
			sub.Remove()
		}
	}
	l.subs = nil
	l.attached = false
}

func (l *listenerSet) isAttached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attached
}

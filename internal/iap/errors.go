package iap

import (
	"errors"
	"fmt"
)

var (
	// ErrPurchaseInProgress is returned when a purchase is already pending.
	ErrPurchaseInProgress = errors.New("iap: another purchase is still being processed")
	// ErrPurchaseTimeout is returned when StoreKit never confirmed the purchase.
	ErrPurchaseTimeout = errors.New("iap: timed out waiting for purchase confirmation")
	// ErrConnectionClosed settles a pending purchase on Close and fails a
	// connect attempt that Close overtook.
	ErrConnectionClosed = errors.New("iap: store connection closed")
	// ErrIAPUnavailable is returned when native purchases cannot be used.
	ErrIAPUnavailable = errors.New("iap: in-app purchases are not available")
	// ErrReceiptMissing is returned when no receipt could be read after a purchase.
	ErrReceiptMissing = errors.New("iap: no receipt available")
	// ErrNotConnected is returned when the store refused the connection.
	ErrNotConnected = errors.New("iap: unable to connect to the store")
)

// PlatformRejectionError wraps a failure reported by the native store.
type PlatformRejectionError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *PlatformRejectionError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("iap: %s: %v", e.Op, e.Err)
	case e.Code != "":
		return fmt.Sprintf("iap: %s: %s (%s)", e.Op, e.Message, e.Code)
	default:
		return fmt.Sprintf("iap: %s: %s", e.Op, e.Message)
	}
}

func (e *PlatformRejectionError) Unwrap() error {
	return e.Err
}

// UserMessage returns text suitable for showing to the user.
func UserMessage(err error) string {
	var rejection *PlatformRejectionError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPurchaseInProgress):
		return "Another purchase is still being processed. Please try again in a moment."
	case errors.Is(err, ErrPurchaseTimeout):
		return "Timed out while waiting for Apple to confirm the purchase."
	case errors.Is(err, ErrConnectionClosed):
		return "StoreKit connection closed."
	case errors.Is(err, ErrIAPUnavailable):
		return "In-app purchases are not available on this build."
	case errors.Is(err, ErrReceiptMissing):
		return "Apple did not return a receipt for this purchase. Please try again."
	case errors.Is(err, ErrNotConnected):
		return "Unable to connect to the App Store for purchases. Please try again."
	case errors.As(err, &rejection) && rejection.Message != "":
		return rejection.Message
	case errors.As(err, &rejection):
		return "Apple was unable to complete this purchase."
	default:
		return err.Error()
	}
}

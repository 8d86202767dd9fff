package services

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is against an *Error or anything wrapping one.
var (
	ErrValidation           = errors.New("validation failed")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrSignatureInvalid     = errors.New("signature invalid")
	ErrSubscriptionExpired  = errors.New("subscription expired")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrMissingExpiration    = errors.New("missing expiration")
	ErrReceiptRejected      = errors.New("receipt rejected")
	ErrNotConfigured        = errors.New("not configured")
)

// Error carries a kind, a client-facing message and the underlying cause.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Is reports a match on the error kind.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind error, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// ReceiptStatusError is returned when verifyReceipt answers with a non-zero status.
type ReceiptStatusError struct {
	Status int
}

func (e *ReceiptStatusError) Error() string {
	return DescribeReceiptStatus(e.Status)
}

func (e *ReceiptStatusError) Is(target error) bool {
	return target == ErrReceiptRejected
}

// Message returns the client-facing text for err, falling back to fallback.
func Message(err error, fallback string) string {
	var svcErr *Error
	if errors.As(err, &svcErr) && svcErr.Message != "" {
		return svcErr.Message
	}
	var statusErr *ReceiptStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Error()
	}
	return fallback
}

package payments

import (
	"fmt"
	"strings"

	"github.com/techcorp/payment-core/gateway"
)

var (
	// ErrFraudDenied: the fraud engine denied the request; terminal, never retried.
	ErrFraudDenied = fmt.Errorf("fraud denied")
	// ErrIdempotencyMismatch: the idempotency key is already bound to a
	// different logical request.
	ErrIdempotencyMismatch = fmt.Errorf("idempotency key bound to a different request")
	// ErrNotCapturable: the payment is not in a refundable state.
	ErrNotCapturable = fmt.Errorf("payment not capturable")
	// ErrExceedsBalance: the refund amount exceeds the refundable balance.
	ErrExceedsBalance = fmt.Errorf("refund exceeds refundable balance")
	// ErrInvalidTransition: an impossible state transition was requested.
	// This is an internal invariant violation and aborts the operation.
	ErrInvalidTransition = fmt.Errorf("invalid state transition")
)

// Violation is one field-level validation failure.
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError carries the ordered list of violations so the caller can
// surface actionable feedback, never a single opaque error.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Field + ": " + v.Reason
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// GatewayError reports a terminal gateway outcome (decline, fatal error, or
// retry exhaustion).
type GatewayError struct {
	Status     gateway.Status
	ReasonCode string
}

func (e *GatewayError) Error() string {
	if e.ReasonCode == "" {
		return fmt.Sprintf("gateway %s", strings.ToLower(string(e.Status)))
	}
	return fmt.Sprintf("gateway %s: %s", strings.ToLower(string(e.Status)), e.ReasonCode)
}

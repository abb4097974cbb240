// Package gateway dispatches charges and refunds to payment-method-specific
// backends. The dispatcher does not interpret decline reasons; it passes the
// adapter's classification through to the orchestrator.
package gateway

import (
	"context"

	"github.com/techcorp/payment-core/payments/models"
)

type Status string

const (
	// StatusApproved: the gateway accepted the operation.
	StatusApproved Status = "APPROVED"
	// StatusDeclined: definitive decline; carries the gateway's reason code.
	StatusDeclined Status = "DECLINED"
	// StatusRetryable: transient failure (timeout, 5xx-equivalent).
	StatusRetryable Status = "RETRYABLE"
	// StatusFatal: programming or configuration error; never retried.
	StatusFatal Status = "FATAL"
)

type Result struct {
	Status     Status
	Reference  string // gateway reference identifier, set on approval
	ReasonCode string
}

type ChargeRequest struct {
	// PaymentID doubles as the idempotency key towards the backend: adapters
	// must make repeated charges with the same ID single-effect.
	PaymentID string
	Method    models.Method
	Source    models.Source
	Amount    int64
	Currency  string
}

type RefundRequest struct {
	// RefundID is the idempotency key for the reversal.
	RefundID  string
	PaymentID string
	// Reference is the gateway reference of the original capture.
	Reference string
	Amount    int64
	Currency  string
}

// Adapter is implemented once per payment-method family.
type Adapter interface {
	Charge(ctx context.Context, req ChargeRequest) (Result, error)
	Refund(ctx context.Context, req RefundRequest) (Result, error)
}

type Dispatcher struct {
	adapters map[models.Method]Adapter
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{adapters: make(map[models.Method]Adapter)}
}

func (d *Dispatcher) Register(method models.Method, a Adapter) {
	d.adapters[method] = a
}

func (d *Dispatcher) Charge(ctx context.Context, req ChargeRequest) (Result, error) {
	a, ok := d.adapters[req.Method]
	if !ok {
		return Result{Status: StatusFatal, ReasonCode: "no_adapter"}, nil
	}
	return a.Charge(ctx, req)
}

func (d *Dispatcher) Refund(ctx context.Context, method models.Method, req RefundRequest) (Result, error) {
	a, ok := d.adapters[method]
	if !ok {
		return Result{Status: StatusFatal, ReasonCode: "no_adapter"}, nil
	}
	return a.Refund(ctx, req)
}

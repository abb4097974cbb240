package models

import "time"

type RefundState string

const (
	RefundPending   RefundState = "PENDING"
	RefundCompleted RefundState = "COMPLETED"
	RefundFailed    RefundState = "FAILED"
)

type Refund struct {
	ID         string      `json:"id"`
	PaymentID  string      `json:"payment_id"`
	Amount     int64       `json:"amount"`
	Reason     string      `json:"reason,omitempty"`
	State      RefundState `json:"state"`
	GatewayRef string      `json:"gateway_ref,omitempty"`
	FailCode   string      `json:"fail_code,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/techcorp/payment-core/internal/cardgen"
)

// Method tags the payment-method family of a request. Each tag carries its own
// source payload; there is no shared shape across families.
type Method string

const (
	MethodCard   Method = "card"
	MethodPayPal Method = "paypal"
	MethodWallet Method = "wallet"
)

// CardSource is the card payload of a request. The number and CVV never leave
// the validation/dispatch boundary: snapshots are stored via Redacted.
type CardSource struct {
	Number      string `json:"number"`
	ExpiryMonth int    `json:"expiry_month,omitempty"`
	ExpiryYear  int    `json:"expiry_year,omitempty"`
	// Expiry is the printed card face ("MM/YY" or "MMYY"), accepted as an
	// alternative to the month/year pair.
	Expiry string `json:"expiry,omitempty"`
	CVV    string `json:"cvv,omitempty"`
	Region string `json:"region,omitempty"`
}

type PayPalSource struct {
	// AuthorizationHandle is opaque to the core; only its shape is checked.
	AuthorizationHandle string `json:"authorization_handle"`
	Region              string `json:"region,omitempty"`
}

type WalletSource struct {
	Provider string `json:"provider"` // apple_pay or google_pay
	Token    string `json:"token"`
	Region   string `json:"region,omitempty"`
}

// Source is the tagged payload variant; exactly one member matching the
// request method must be set.
type Source struct {
	Card   *CardSource   `json:"card,omitempty"`
	PayPal *PayPalSource `json:"paypal,omitempty"`
	Wallet *WalletSource `json:"wallet,omitempty"`
}

// Region returns the region declared by whichever source variant is set.
func (s Source) Region() string {
	switch {
	case s.Card != nil:
		return s.Card.Region
	case s.PayPal != nil:
		return s.PayPal.Region
	case s.Wallet != nil:
		return s.Wallet.Region
	}
	return ""
}

type PaymentRequest struct {
	Amount         int64             `json:"amount"` // minor units
	Currency       string            `json:"currency"`
	Method         Method            `json:"method"`
	Source         Source            `json:"source"`
	CustomerID     string            `json:"customer_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// SourceFingerprint identifies the payment source without exposing it: last4
// plus expiry for cards, the opaque handle/token otherwise. Used for the
// request fingerprint and the fraud engine's new-method rule.
func (r PaymentRequest) SourceFingerprint() string {
	switch {
	case r.Source.Card != nil:
		pan := cardgen.NormalizePAN(r.Source.Card.Number)
		return fmt.Sprintf("card:%s:%02d%02d", cardgen.LastN(pan, 4), r.Source.Card.ExpiryYear%100, r.Source.Card.ExpiryMonth)
	case r.Source.PayPal != nil:
		return "paypal:" + r.Source.PayPal.AuthorizationHandle
	case r.Source.Wallet != nil:
		return "wallet:" + r.Source.Wallet.Provider + ":" + r.Source.Wallet.Token
	}
	return ""
}

// Fingerprint hashes the logical content of the request. Two submissions with
// the same idempotency key must carry the same fingerprint.
func (r PaymentRequest) Fingerprint() string {
	parts := []string{
		fmt.Sprintf("%d", r.Amount),
		strings.ToUpper(r.Currency),
		string(r.Method),
		r.CustomerID,
		r.SourceFingerprint(),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Redacted returns a snapshot-safe copy: card number masked, CVV dropped.
func (r PaymentRequest) Redacted() PaymentRequest {
	out := r
	if r.Source.Card != nil {
		card := *r.Source.Card
		card.Number = cardgen.MaskPAN(card.Number)
		card.CVV = ""
		out.Source.Card = &card
	}
	return out
}

// State of a payment in its lifecycle.
type State string

const (
	StateCreated    State = "CREATED"
	StateValidating State = "VALIDATING"
	StateValidated  State = "VALIDATED"
	StateRejected   State = "REJECTED"
	StateScoring    State = "SCORING"
	StateCleared    State = "CLEARED"
	StateHeld       State = "HELD"
	StateDenied     State = "DENIED"
	StateCharging   State = "CHARGING"
	StateCaptured   State = "CAPTURED"
	StateFailed     State = "FAILED"
	StateRefunding  State = "REFUNDING"
	StateRefunded   State = "REFUNDED"
)

var allowedTransitions = map[State][]State{
	StateCreated:    {StateValidating},
	StateValidating: {StateValidated, StateRejected},
	StateValidated:  {StateScoring},
	StateScoring:    {StateCleared, StateHeld, StateDenied},
	StateHeld:       {StateCleared, StateDenied},
	StateCleared:    {StateCharging},
	StateCharging:   {StateCaptured, StateFailed},
	StateCaptured:   {StateRefunding},
	// Refunding returns to Captured on a partial or failed refund.
	StateRefunding: {StateRefunded, StateCaptured},
}

// CanTransitionTo reports whether state -> target is a legal transition.
func (s State) CanTransitionTo(target State) bool {
	for _, t := range allowedTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition may occur. Captured is not
// terminal in the strict sense because a refund may still transition it.
func (s State) IsTerminal() bool {
	switch s {
	case StateRejected, StateDenied, StateFailed, StateRefunded:
		return true
	}
	return false
}

// TransitionEvent is one append-only entry of a payment's audit trail.
type TransitionEvent struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	Note string    `json:"note,omitempty"`
	At   time.Time `json:"at"`
}

// Payment is the ledger record of one logical payment attempt. Mutation means
// appending a transition event; history is never overwritten.
type Payment struct {
	ID              string            `json:"id"`
	IdempotencyKey  string            `json:"idempotency_key"`
	Fingerprint     string            `json:"-"`
	Request         PaymentRequest    `json:"request"` // redacted snapshot
	State           State             `json:"state"`
	GatewayRef      string            `json:"gateway_ref,omitempty"`
	RefundedAmount  int64             `json:"refunded_amount"`
	SourceToken     string            `json:"-"` // vault token for held payments
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Events          []TransitionEvent `json:"events"`
}

// RefundableBalance is the captured amount minus completed refunds.
func (p *Payment) RefundableBalance() int64 {
	return p.Request.Amount - p.RefundedAmount
}

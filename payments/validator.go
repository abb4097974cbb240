package payments

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/techcorp/payment-core/internal/cardgen"
	"github.com/techcorp/payment-core/internal/expiry"
	"github.com/techcorp/payment-core/payments/models"
)

// recognizedCurrencies is the set of ISO 4217 codes this core accepts.
var recognizedCurrencies = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "AUD": {}, "CAD": {}, "NZD": {},
	"JPY": {}, "CHF": {}, "SEK": {}, "NOK": {}, "DKK": {}, "SGD": {},
	"HKD": {}, "IDR": {}, "THB": {}, "VND": {}, "PHP": {}, "INR": {},
	"BRL": {}, "MXN": {}, "PLN": {}, "CZK": {}, "ZAR": {}, "KRW": {},
}

var paypalHandleRe = regexp.MustCompile(`^[A-Za-z0-9._-]{8,64}$`)

var walletProviders = map[string]struct{}{
	"apple_pay":  {},
	"google_pay": {},
}

// ValidationResult is either valid or carries the ordered violations.
type ValidationResult struct {
	Violations []Violation
}

func (r ValidationResult) OK() bool { return len(r.Violations) == 0 }

func (r *ValidationResult) add(field, reason string) {
	r.Violations = append(r.Violations, Violation{Field: field, Reason: reason})
}

// NormalizeRequest resolves alternative input shapes so that fingerprinting
// and validation see one canonical form: a card expiry given as its printed
// face is converted to the month/year pair. Must run before Fingerprint.
func NormalizeRequest(req *models.PaymentRequest) {
	card := req.Source.Card
	if card == nil || card.Expiry == "" || card.ExpiryMonth != 0 || card.ExpiryYear != 0 {
		return
	}
	yymm, err := expiry.ParseCardFace(card.Expiry)
	if err != nil {
		// Leave the zero pair; validation reports the bad expiry.
		return
	}
	yy, _ := strconv.Atoi(yymm[:2])
	mm, _ := strconv.Atoi(yymm[2:])
	card.ExpiryYear = 2000 + yy
	card.ExpiryMonth = mm
}

// ValidateRequest runs all stateless checks on a payment request. Pure
// function: no I/O, no mutation, deterministic given the processing clock.
func ValidateRequest(req models.PaymentRequest, now time.Time) ValidationResult {
	res := ValidationResult{}

	if req.Amount <= 0 {
		res.add("amount", "must be greater than zero")
	}
	if _, ok := recognizedCurrencies[req.Currency]; !ok {
		res.add("currency", "not a recognized 3-letter currency code")
	}
	if req.CustomerID == "" {
		res.add("customer_id", "is required")
	}
	if req.IdempotencyKey == "" {
		res.add("idempotency_key", "is required")
	}

	switch req.Method {
	case models.MethodCard:
		validateCard(req.Source.Card, now, &res)
	case models.MethodPayPal:
		validatePayPal(req.Source.PayPal, &res)
	case models.MethodWallet:
		validateWallet(req.Source.Wallet, &res)
	default:
		res.add("method", fmt.Sprintf("unknown payment method %q", req.Method))
	}

	return res
}

func validateCard(card *models.CardSource, now time.Time, res *ValidationResult) {
	if card == nil {
		res.add("source.card", "is required for method card")
		return
	}

	pan := cardgen.NormalizePAN(card.Number)
	if err := cardgen.ValidatePAN(pan); err != nil {
		res.add("source.card.number", err.Error())
	}

	if card.ExpiryMonth < 1 || card.ExpiryMonth > 12 {
		res.add("source.card.expiry_month", "must be 1..12")
	} else if yymm, err := expiry.YYMMFromParts(card.ExpiryYear, card.ExpiryMonth); err != nil {
		res.add("source.card.expiry_year", err.Error())
	} else if expired, err := expiry.IsExpired(yymm, now, nil); err != nil {
		res.add("source.card.expiry_year", err.Error())
	} else if expired {
		res.add("source.card.expiry_year", "card is expired")
	}

	width := cardgen.CVVWidth(cardgen.BrandOf(pan))
	if !cardgen.IsDigits(card.CVV) || len(card.CVV) != width {
		res.add("source.card.cvv", fmt.Sprintf("must be %d digits", width))
	}
}

func validatePayPal(pp *models.PayPalSource, res *ValidationResult) {
	if pp == nil {
		res.add("source.paypal", "is required for method paypal")
		return
	}
	if pp.AuthorizationHandle == "" {
		res.add("source.paypal.authorization_handle", "is required")
		return
	}
	// Content is opaque to this core; only the shape is checked.
	if !paypalHandleRe.MatchString(pp.AuthorizationHandle) {
		res.add("source.paypal.authorization_handle", "malformed authorization handle")
	}
}

func validateWallet(w *models.WalletSource, res *ValidationResult) {
	if w == nil {
		res.add("source.wallet", "is required for method wallet")
		return
	}
	if _, ok := walletProviders[w.Provider]; !ok {
		res.add("source.wallet.provider", "must be apple_pay or google_pay")
	}
	if w.Token == "" {
		res.add("source.wallet.token", "is required")
	}
}

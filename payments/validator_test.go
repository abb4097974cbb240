package payments_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/techcorp/payment-core/payments"
	"github.com/techcorp/payment-core/payments/models"
)

var validationClock = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

func violationFields(res payments.ValidationResult) []string {
	fields := []string{}
	for _, v := range res.Violations {
		fields = append(fields, v.Field)
	}
	return fields
}

func TestValidateRequest_ValidCard(t *testing.T) {
	res := payments.ValidateRequest(cardRequest("key-1"), validationClock)
	require.True(t, res.OK(), "violations: %v", res.Violations)
}

func TestValidateRequest_CardChecks(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.PaymentRequest)
		field  string
	}{
		{
			name:   "luhn failure",
			mutate: func(r *models.PaymentRequest) { r.Source.Card.Number = "4111111111111112" },
			field:  "source.card.number",
		},
		{
			name:   "too short",
			mutate: func(r *models.PaymentRequest) { r.Source.Card.Number = "41111111111" },
			field:  "source.card.number",
		},
		{
			name:   "non-digit pan",
			mutate: func(r *models.PaymentRequest) { r.Source.Card.Number = "4111-abcd-1111-1111" },
			field:  "source.card.number",
		},
		{
			name:   "month out of range",
			mutate: func(r *models.PaymentRequest) { r.Source.Card.ExpiryMonth = 13 },
			field:  "source.card.expiry_month",
		},
		{
			name: "expired card",
			mutate: func(r *models.PaymentRequest) {
				r.Source.Card.ExpiryYear = 2025
				r.Source.Card.ExpiryMonth = 12
			},
			field: "source.card.expiry_year",
		},
		{
			name:   "cvv too short",
			mutate: func(r *models.PaymentRequest) { r.Source.Card.CVV = "12" },
			field:  "source.card.cvv",
		},
		{
			name: "amex needs four cvv digits",
			mutate: func(r *models.PaymentRequest) {
				r.Source.Card.Number = "378282246310005"
				r.Source.Card.CVV = "123"
			},
			field: "source.card.cvv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := cardRequest("key-1")
			tt.mutate(&req)
			res := payments.ValidateRequest(req, validationClock)
			require.False(t, res.OK())
			require.Contains(t, violationFields(res), tt.field)
		})
	}
}

func TestValidateRequest_ExpiryBoundary(t *testing.T) {
	// A card is valid through the last day of its expiry month.
	req := cardRequest("key-1")
	req.Source.Card.ExpiryYear = 2026
	req.Source.Card.ExpiryMonth = 3

	res := payments.ValidateRequest(req, validationClock)
	require.True(t, res.OK(), "violations: %v", res.Violations)

	res = payments.ValidateRequest(req, time.Date(2026, time.April, 1, 0, 0, 1, 0, time.UTC))
	require.False(t, res.OK())
	require.Contains(t, violationFields(res), "source.card.expiry_year")
}

func TestNormalizeRequest_CardFace(t *testing.T) {
	req := cardRequest("key-1")
	req.Source.Card.ExpiryMonth = 0
	req.Source.Card.ExpiryYear = 0
	req.Source.Card.Expiry = "03/28"

	payments.NormalizeRequest(&req)
	require.Equal(t, 3, req.Source.Card.ExpiryMonth)
	require.Equal(t, 2028, req.Source.Card.ExpiryYear)
	require.True(t, payments.ValidateRequest(req, validationClock).OK())

	// A malformed face leaves the zero pair for validation to flag.
	bad := cardRequest("key-2")
	bad.Source.Card.ExpiryMonth = 0
	bad.Source.Card.ExpiryYear = 0
	bad.Source.Card.Expiry = "13/28"

	payments.NormalizeRequest(&bad)
	require.Zero(t, bad.Source.Card.ExpiryMonth)
	res := payments.ValidateRequest(bad, validationClock)
	require.Contains(t, violationFields(res), "source.card.expiry_month")

	// An explicit pair wins over the face string.
	both := cardRequest("key-3")
	both.Source.Card.Expiry = "01/20"
	payments.NormalizeRequest(&both)
	require.Equal(t, 12, both.Source.Card.ExpiryMonth)
	require.Equal(t, 2030, both.Source.Card.ExpiryYear)
}

func TestValidateRequest_CommonFields(t *testing.T) {
	req := cardRequest("key-1")
	req.Amount = 0
	req.Currency = "XXX"
	req.CustomerID = ""
	req.IdempotencyKey = ""

	res := payments.ValidateRequest(req, validationClock)
	require.False(t, res.OK())
	fields := violationFields(res)
	require.Contains(t, fields, "amount")
	require.Contains(t, fields, "currency")
	require.Contains(t, fields, "customer_id")
	require.Contains(t, fields, "idempotency_key")

	req = cardRequest("key-1")
	req.Amount = -5
	res = payments.ValidateRequest(req, validationClock)
	require.Contains(t, violationFields(res), "amount")
}

func TestValidateRequest_PayPal(t *testing.T) {
	req := models.PaymentRequest{
		Amount:         10_00,
		Currency:       "EUR",
		Method:         models.MethodPayPal,
		CustomerID:     "cust-1",
		IdempotencyKey: "key-1",
		Source: models.Source{
			PayPal: &models.PayPalSource{AuthorizationHandle: "auth-handle-123", Region: "DE"},
		},
	}
	require.True(t, payments.ValidateRequest(req, validationClock).OK())

	req.Source.PayPal.AuthorizationHandle = "short"
	res := payments.ValidateRequest(req, validationClock)
	require.Contains(t, violationFields(res), "source.paypal.authorization_handle")

	req.Source.PayPal = nil
	res = payments.ValidateRequest(req, validationClock)
	require.Contains(t, violationFields(res), "source.paypal")
}

func TestValidateRequest_Wallet(t *testing.T) {
	req := models.PaymentRequest{
		Amount:         10_00,
		Currency:       "USD",
		Method:         models.MethodWallet,
		CustomerID:     "cust-1",
		IdempotencyKey: "key-1",
		Source: models.Source{
			Wallet: &models.WalletSource{Provider: "apple_pay", Token: "tok-1"},
		},
	}
	require.True(t, payments.ValidateRequest(req, validationClock).OK())

	req.Source.Wallet.Provider = "samsung_pay"
	res := payments.ValidateRequest(req, validationClock)
	require.Contains(t, violationFields(res), "source.wallet.provider")

	req.Source.Wallet = &models.WalletSource{Provider: "google_pay"}
	res = payments.ValidateRequest(req, validationClock)
	require.Contains(t, violationFields(res), "source.wallet.token")
}

func TestValidateRequest_UnknownMethod(t *testing.T) {
	req := cardRequest("key-1")
	req.Method = "crypto"
	res := payments.ValidateRequest(req, validationClock)
	require.Contains(t, violationFields(res), "method")
}

package payments

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/techcorp/payment-core/payments/models"
	"github.com/techcorp/payment-core/vault"
)

// API is the HTTP API for the payment core.
type API struct {
	payments *Service
	vault    *vault.Vault
}

func NewAPI(payments *Service, vlt *vault.Vault) *API {
	return &API{
		payments: payments,
		vault:    vlt,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/", a.createPayment)
		r.Route("/{paymentID}", func(r chi.Router) {
			r.Get("/", a.getPayment)
			r.Post("/resolve", a.resolveHold)
			r.Post("/refunds", a.createRefund)
			r.Get("/refunds", a.getRefunds)
		})
	})
	r.Route("/tokens", func(r chi.Router) {
		r.Post("/", a.createToken)
		r.Delete("/{tokenID}", a.revokeToken)
	})
}

func (a *API) createPayment(w http.ResponseWriter, r *http.Request) {
	req := models.PaymentRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payment, created, err := a.payments.ProcessPayment(r.Context(), req)
	if err != nil && !IsTerminalError(err) {
		if errors.Is(err, ErrIdempotencyMismatch) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Terminal outcomes (rejected, denied, failed) are regular payment
	// records; the state carries the verdict. A replay answers 200.
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, payment)
}

func (a *API) getPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	payment, err := a.payments.GetPayment(paymentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (a *API) resolveHold(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	var body struct {
		Approve bool `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payment, err := a.payments.ResolveHold(r.Context(), paymentID, body.Approve)
	if err != nil && !IsTerminalError(err) {
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (a *API) createRefund(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	var body struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	refund, err := a.payments.RefundPayment(r.Context(), paymentID, body.Amount, body.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		case errors.Is(err, ErrNotCapturable), errors.Is(err, ErrExceedsBalance):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		var gerr *GatewayError
		if !errors.As(err, &gerr) {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		// Gateway failure: the failed refund record is still returned.
	}
	writeJSON(w, http.StatusCreated, refund)
}

func (a *API) getRefunds(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	refunds, err := a.payments.ListRefunds(paymentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	if refunds == nil {
		refunds = []*models.Refund{}
	}
	writeJSON(w, http.StatusOK, refunds)
}

func (a *API) createToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Payload    string `json:"payload"` // opaque payment-method payload
		TTLSeconds int64  `json:"ttl_seconds,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Payload == "" {
		http.Error(w, "payload is required", http.StatusBadRequest)
		return
	}

	token, err := a.vault.Tokenize([]byte(body.Payload), time.Duration(body.TTLSeconds)*time.Second)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

func (a *API) revokeToken(w http.ResponseWriter, r *http.Request) {
	a.vault.Revoke(chi.URLParam(r, "tokenID"))
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

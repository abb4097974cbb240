package payments_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/techcorp/payment-core/fraud"
	"github.com/techcorp/payment-core/gateway"
	"github.com/techcorp/payment-core/payments"
	"github.com/techcorp/payment-core/payments/models"
	"github.com/techcorp/payment-core/vault"
)

func newTestRouter(t *testing.T, adapter *stubAdapter) chi.Router {
	t.Helper()

	cfg := payments.DefaultConfig()

	dispatcher := gateway.NewDispatcher()
	dispatcher.Register(models.MethodCard, adapter)
	dispatcher.Register(models.MethodPayPal, adapter)
	dispatcher.Register(models.MethodWallet, adapter)

	vlt := vault.New(vault.NewStaticKeyProvider([]byte("0123456789abcdef0123456789abcdef")))
	logger := slog.New(slog.NewTextHandler(io.Discard))
	svc := payments.NewService(payments.NewRepository(), fraud.NewEngine(cfg.Fraud), dispatcher, vlt, cfg, logger)

	router := chi.NewRouter()
	payments.NewAPI(svc, vlt).AppendRoutes(router)
	return router
}

func postJSON(t *testing.T, router chi.Router, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	router.ServeHTTP(w, req)
	return w
}

func TestAPI_PaymentLifecycle(t *testing.T) {
	adapter := &stubAdapter{chargeResults: []gateway.Result{approved("auth-1")}}
	router := newTestRouter(t, adapter)

	var payment models.Payment

	t.Run("create payment", func(t *testing.T) {
		w := postJSON(t, router, "/payments", cardRequest("key-1"))
		require.Equal(t, http.StatusCreated, w.Code)

		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payment))
		require.Equal(t, models.StateCaptured, payment.State)
		require.NotEmpty(t, payment.ID)

		// Raw card data never appears on the wire back to the caller.
		require.NotContains(t, w.Body.String(), "4111111111111111")
		require.NotContains(t, w.Body.String(), `"cvv"`)
	})

	t.Run("replay answers 200 with the same payment", func(t *testing.T) {
		w := postJSON(t, router, "/payments", cardRequest("key-1"))
		require.Equal(t, http.StatusOK, w.Code)

		replayed := models.Payment{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &replayed))
		require.Equal(t, payment.ID, replayed.ID)
		require.Equal(t, 1, adapter.chargeCount())
	})

	t.Run("same key different request answers 409", func(t *testing.T) {
		req := cardRequest("key-1")
		req.Amount = 999_00
		w := postJSON(t, router, "/payments", req)
		require.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("get payment", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/"+payment.ID, nil))
		require.Equal(t, http.StatusOK, w.Code)

		got := models.Payment{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		require.Equal(t, payment.ID, got.ID)
		require.NotEmpty(t, got.Events)
	})

	t.Run("get unknown payment answers 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/nope", nil))
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("refund and list", func(t *testing.T) {
		w := postJSON(t, router, "/payments/"+payment.ID+"/refunds", map[string]any{
			"amount": 10_00,
			"reason": "customer request",
		})
		require.Equal(t, http.StatusCreated, w.Code)

		refund := models.Refund{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &refund))
		require.Equal(t, models.RefundCompleted, refund.State)

		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/"+payment.ID+"/refunds", nil))
		require.Equal(t, http.StatusOK, w.Code)

		refunds := []models.Refund{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &refunds))
		require.Len(t, refunds, 1)
	})

	t.Run("refund exceeding balance answers 422", func(t *testing.T) {
		w := postJSON(t, router, "/payments/"+payment.ID+"/refunds", map[string]any{"amount": 999_00})
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestAPI_RejectedPayment(t *testing.T) {
	router := newTestRouter(t, &stubAdapter{})

	req := cardRequest("key-bad")
	req.Source.Card.Number = "4111111111111112"

	w := postJSON(t, router, "/payments", req)
	require.Equal(t, http.StatusCreated, w.Code)

	payment := models.Payment{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payment))
	require.Equal(t, models.StateRejected, payment.State)
}

func TestAPI_ResolveHold(t *testing.T) {
	adapter := &stubAdapter{}
	router := newTestRouter(t, adapter)

	for i := 0; i < 4; i++ {
		w := postJSON(t, router, "/payments", cardRequest(fmt.Sprintf("prior-%d", i)))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := postJSON(t, router, "/payments", cardRequest("key-held"))
	require.Equal(t, http.StatusCreated, w.Code)
	held := models.Payment{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &held))
	require.Equal(t, models.StateHeld, held.State)

	w = postJSON(t, router, "/payments/"+held.ID+"/resolve", map[string]any{"approve": true})
	require.Equal(t, http.StatusOK, w.Code)
	resolved := models.Payment{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resolved))
	require.Equal(t, models.StateCaptured, resolved.State)

	// Resolving twice conflicts.
	w = postJSON(t, router, "/payments/"+held.ID+"/resolve", map[string]any{"approve": true})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestAPI_Tokens(t *testing.T) {
	router := newTestRouter(t, &stubAdapter{})

	w := postJSON(t, router, "/tokens", map[string]any{"payload": "opaque-pm-data"})
	require.Equal(t, http.StatusCreated, w.Code)

	token := vault.Token{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &token))
	require.NotEmpty(t, token.ID)
	require.NotContains(t, w.Body.String(), "opaque-pm-data")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/tokens/"+token.ID, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Missing payload is a bad request.
	w = postJSON(t, router, "/tokens", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

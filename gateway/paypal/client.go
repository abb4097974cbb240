// Package paypal charges and refunds PayPal payments through the provider's
// HTTP API. The authorization handle is opaque to this client.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/techcorp/payment-core/gateway"
)

type Client struct {
	Base string
	HTTP *http.Client
}

func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{Base: strings.TrimRight(base, "/"), HTTP: hc}
}

type chargeReq struct {
	Amount              int64  `json:"amount"`
	Currency            string `json:"currency"`
	AuthorizationHandle string `json:"authorization_handle"`
}

type refundReq struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type providerResp struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (c *Client) Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.Result, error) {
	if req.Source.PayPal == nil {
		return gateway.Result{Status: gateway.StatusFatal, ReasonCode: "missing_paypal_source"}, nil
	}
	body := chargeReq{
		Amount:              req.Amount,
		Currency:            req.Currency,
		AuthorizationHandle: req.Source.PayPal.AuthorizationHandle,
	}
	return c.post(ctx, c.Base+"/v1/charges", req.PaymentID, body)
}

func (c *Client) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.Result, error) {
	if req.Reference == "" {
		return gateway.Result{Status: gateway.StatusFatal, ReasonCode: "missing_reference"}, nil
	}
	body := refundReq{Amount: req.Amount, Currency: req.Currency}
	return c.post(ctx, c.Base+"/v1/charges/"+req.Reference+"/refunds", req.RefundID, body)
}

func (c *Client) post(ctx context.Context, url, idempotencyKey string, body any) (gateway.Result, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return gateway.Result{}, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return gateway.Result{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// The provider deduplicates on this key; retries must not double-charge.
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if isTimeout(err) {
			return gateway.Result{Status: gateway.StatusRetryable, ReasonCode: "timeout"}, nil
		}
		return gateway.Result{Status: gateway.StatusRetryable, ReasonCode: "connection"}, nil
	}
	defer resp.Body.Close()

	var pr providerResp
	_ = json.NewDecoder(resp.Body).Decode(&pr)

	switch {
	case resp.StatusCode/100 == 2:
		return gateway.Result{Status: gateway.StatusApproved, Reference: pr.ID, ReasonCode: pr.Reason}, nil
	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		return gateway.Result{Status: gateway.StatusDeclined, ReasonCode: declineReason(pr)}, nil
	case resp.StatusCode/100 == 5 || resp.StatusCode == http.StatusTooManyRequests:
		return gateway.Result{Status: gateway.StatusRetryable, ReasonCode: fmt.Sprintf("http_%d", resp.StatusCode)}, nil
	default:
		return gateway.Result{Status: gateway.StatusFatal, ReasonCode: fmt.Sprintf("http_%d", resp.StatusCode)}, nil
	}
}

func declineReason(pr providerResp) string {
	if pr.Reason != "" {
		return pr.Reason
	}
	return "declined"
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

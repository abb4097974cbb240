package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/techcorp/payment-core/gateway"
	"github.com/techcorp/payment-core/internal/metrics"
	"github.com/techcorp/payment-core/payments/models"
)

// RefundPayment reverses part or all of a captured payment. amount 0 means
// the full remaining balance. Refunds are never retried: a gateway failure is
// recorded and the payment returns to Captured so the caller can resubmit.
func (s *Service) RefundPayment(ctx context.Context, paymentID string, amount int64, reason string) (*models.Refund, error) {
	release := s.locks.lock(paymentID)
	defer release()

	p, err := s.repo.GetPayment(paymentID)
	if err != nil {
		return nil, err
	}
	if p.State != models.StateCaptured {
		return nil, fmt.Errorf("payment is %s: %w", p.State, ErrNotCapturable)
	}

	remaining := p.RefundableBalance()
	if amount == 0 {
		amount = remaining
	}
	if amount < 0 {
		return nil, fmt.Errorf("refund amount must not be negative")
	}
	if amount > remaining {
		return nil, fmt.Errorf("requested %d, refundable %d: %w", amount, remaining, ErrExceedsBalance)
	}

	ref := &models.Refund{
		ID:        uuid.New().String(),
		PaymentID: p.ID,
		Amount:    amount,
		Reason:    reason,
		State:     models.RefundPending,
		CreatedAt: s.now(),
	}

	if err := s.transition(p, models.StateRefunding, fmt.Sprintf("refund %s for %d", ref.ID, amount)); err != nil {
		return nil, err
	}

	res, err := s.gateway.Refund(ctx, p.Request.Method, gateway.RefundRequest{
		RefundID:  ref.ID,
		PaymentID: p.ID,
		Reference: p.GatewayRef,
		Amount:    amount,
		Currency:  p.Request.Currency,
	})
	if err != nil {
		res = gateway.Result{Status: gateway.StatusRetryable, ReasonCode: "gateway_error"}
		s.logger.Error("gateway refund error", "paymentID", p.ID, "refundID", ref.ID, "error", err)
	}

	if res.Status == gateway.StatusApproved {
		ref.State = models.RefundCompleted
		ref.GatewayRef = res.Reference
		if err := s.repo.SaveRefund(ref); err != nil {
			return nil, fmt.Errorf("recording refund: %w", err)
		}
		p.RefundedAmount += amount
		metrics.RefundsTotal.WithLabelValues(string(models.RefundCompleted)).Inc()

		to := models.StateCaptured
		note := fmt.Sprintf("refund %s completed, %d remaining", ref.ID, p.RefundableBalance())
		if p.RefundedAmount == p.Request.Amount {
			to = models.StateRefunded
			note = fmt.Sprintf("refund %s completed, fully refunded", ref.ID)
			metrics.PaymentOutcomesTotal.WithLabelValues(string(models.StateRefunded)).Inc()
		}
		if err := s.transition(p, to, note); err != nil {
			return nil, err
		}
		s.logger.Info("refund completed", "paymentID", p.ID, "refundID", ref.ID, "amount", amount, "remaining", p.RefundableBalance())
		return ref, nil
	}

	ref.State = models.RefundFailed
	ref.FailCode = res.ReasonCode
	if err := s.repo.SaveRefund(ref); err != nil {
		return nil, fmt.Errorf("recording failed refund: %w", err)
	}
	metrics.RefundsTotal.WithLabelValues(string(models.RefundFailed)).Inc()
	// The captured amount is untouched; the payment stays refundable.
	if err := s.transition(p, models.StateCaptured, fmt.Sprintf("refund %s failed: %s", ref.ID, res.ReasonCode)); err != nil {
		return nil, err
	}
	s.logger.Warn("refund failed", "paymentID", p.ID, "refundID", ref.ID, "reason", res.ReasonCode)
	return ref, &GatewayError{Status: res.Status, ReasonCode: res.ReasonCode}
}

// ListRefunds returns the payment's refund attempts, oldest first.
func (s *Service) ListRefunds(paymentID string) ([]*models.Refund, error) {
	if _, err := s.repo.GetPayment(paymentID); err != nil {
		return nil, err
	}
	return s.repo.ListRefunds(paymentID)
}

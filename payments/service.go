package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"github.com/techcorp/payment-core/fraud"
	"github.com/techcorp/payment-core/gateway"
	"github.com/techcorp/payment-core/internal/metrics"
	"github.com/techcorp/payment-core/payments/models"
	"github.com/techcorp/payment-core/vault"
)

// Service drives payment attempts through their lifecycle. It owns every
// state transition; validator, fraud engine, vault and gateway dispatcher are
// only consulted, never mutate payment state themselves.
type Service struct {
	repo    *Repository
	fraud   *fraud.Engine
	gateway *gateway.Dispatcher
	vault   *vault.Vault
	cfg     *Config
	logger  *slog.Logger

	locks *keyedLocks

	// now and sleep are injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewService(repo *Repository, engine *fraud.Engine, dispatcher *gateway.Dispatcher, vlt *vault.Vault, cfg *Config, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		fraud:   engine,
		gateway: dispatcher,
		vault:   vlt,
		cfg:     cfg,
		logger:  logger,
		locks:   newKeyedLocks(),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// SetClock replaces the service's time source; for tests.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetSleep replaces the backoff sleeper; for tests.
func (s *Service) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	if sleep != nil {
		s.sleep = sleep
	}
}

// ProcessPayment runs one payment submission end to end. Submissions sharing
// an idempotency key are serialized; a replay returns the stored payment with
// created=false and re-runs no stage.
func (s *Service) ProcessPayment(ctx context.Context, req models.PaymentRequest) (payment *models.Payment, created bool, err error) {
	metrics.PaymentsSubmittedTotal.Inc()

	NormalizeRequest(&req)

	release := s.locks.lock(req.IdempotencyKey)
	defer release()

	now := s.now()
	p := &models.Payment{
		ID:             uuid.New().String(),
		IdempotencyKey: req.IdempotencyKey,
		Fingerprint:    req.Fingerprint(),
		Request:        req.Redacted(),
		State:          models.StateCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	stored, created, err := s.repo.CreatePayment(p)
	if err != nil {
		return nil, false, fmt.Errorf("creating payment: %w", err)
	}
	if !created {
		if stored.Fingerprint != p.Fingerprint {
			return nil, false, ErrIdempotencyMismatch
		}
		metrics.PaymentsReplayedTotal.Inc()
		s.logger.Info("payment replayed", "paymentID", stored.ID, "state", stored.State)
		return stored, false, nil
	}

	s.logger.Info("payment created", "paymentID", p.ID, "method", req.Method, "amount", req.Amount, "currency", req.Currency)

	if err := s.transition(p, models.StateValidating, ""); err != nil {
		return p, true, err
	}

	if res := ValidateRequest(req, s.now()); !res.OK() {
		verr := &ValidationError{Violations: res.Violations}
		if err := s.transition(p, models.StateRejected, verr.Error()); err != nil {
			return p, true, err
		}
		metrics.PaymentOutcomesTotal.WithLabelValues(string(models.StateRejected)).Inc()
		return p, true, verr
	}
	if err := s.transition(p, models.StateValidated, ""); err != nil {
		return p, true, err
	}

	if err := s.transition(p, models.StateScoring, ""); err != nil {
		return p, true, err
	}
	history, err := s.customerHistory(req.CustomerID, p.ID)
	if err != nil {
		return p, true, fmt.Errorf("loading customer history: %w", err)
	}
	score := s.fraud.Assess(fraud.Input{
		Amount:            req.Amount,
		Region:            req.Source.Region(),
		SourceFingerprint: req.SourceFingerprint(),
	}, history, s.now())
	s.logger.Info("payment scored", "paymentID", p.ID, "score", score.Value, "decision", score.Decision, "rules", strings.Join(score.Rules, ","))

	switch score.Decision {
	case fraud.DecisionDeny:
		if err := s.transition(p, models.StateDenied, scoreNote(score)); err != nil {
			return p, true, err
		}
		metrics.PaymentOutcomesTotal.WithLabelValues(string(models.StateDenied)).Inc()
		return p, true, ErrFraudDenied

	case fraud.DecisionReview:
		if err := s.holdSource(p, req.Source); err != nil {
			return p, true, err
		}
		if err := s.transition(p, models.StateHeld, scoreNote(score)); err != nil {
			return p, true, err
		}
		metrics.PaymentOutcomesTotal.WithLabelValues(string(models.StateHeld)).Inc()
		return p, true, nil
	}

	if err := s.transition(p, models.StateCleared, scoreNote(score)); err != nil {
		return p, true, err
	}
	return p, true, s.charge(ctx, p, req.Source)
}

// ResolveHold settles a held payment after secondary verification. Approval
// resumes the charge with the tokenized source; denial is terminal. Either
// way the source token is revoked.
func (s *Service) ResolveHold(ctx context.Context, paymentID string, approve bool) (*models.Payment, error) {
	release := s.locks.lock(paymentID)
	defer release()

	p, err := s.repo.GetPayment(paymentID)
	if err != nil {
		return nil, err
	}
	if p.State != models.StateHeld {
		return p, fmt.Errorf("payment is %s, not %s: %w", p.State, models.StateHeld, ErrInvalidTransition)
	}

	if !approve {
		s.vault.Revoke(p.SourceToken)
		if err := s.transition(p, models.StateDenied, "secondary verification denied"); err != nil {
			return p, err
		}
		metrics.PaymentOutcomesTotal.WithLabelValues(string(models.StateDenied)).Inc()
		return p, ErrFraudDenied
	}

	payload, err := s.vault.Resolve(p.SourceToken)
	if err != nil {
		// An expired or destroyed token cannot be recovered; the hold lapses.
		if terr := s.transition(p, models.StateDenied, fmt.Sprintf("held source unavailable: %v", err)); terr != nil {
			return p, terr
		}
		metrics.PaymentOutcomesTotal.WithLabelValues(string(models.StateDenied)).Inc()
		return p, fmt.Errorf("resolving held source: %w", err)
	}
	s.vault.Revoke(p.SourceToken)

	var source models.Source
	if err := json.Unmarshal(payload, &source); err != nil {
		return p, fmt.Errorf("decoding held source: %w", err)
	}

	if err := s.transition(p, models.StateCleared, "secondary verification approved"); err != nil {
		return p, err
	}
	return p, s.charge(ctx, p, source)
}

func (s *Service) GetPayment(id string) (*models.Payment, error) {
	return s.repo.GetPayment(id)
}

// charge drives the gateway call with bounded exponential backoff. Only
// Retryable results are retried; the payment ID is the idempotency key
// towards the backend, so a retry can never double-charge.
func (s *Service) charge(ctx context.Context, p *models.Payment, source models.Source) error {
	if err := s.transition(p, models.StateCharging, ""); err != nil {
		return err
	}

	req := gateway.ChargeRequest{
		PaymentID: p.ID,
		Method:    p.Request.Method,
		Source:    source,
		Amount:    p.Request.Amount,
		Currency:  p.Request.Currency,
	}

	var last gateway.Result
	for attempt := 1; ; attempt++ {
		start := s.now()
		res, err := s.gateway.Charge(ctx, req)
		metrics.GatewayChargeDuration.Observe(s.now().Sub(start).Seconds())
		if err != nil {
			res = gateway.Result{Status: gateway.StatusRetryable, ReasonCode: "gateway_error"}
			s.logger.Error("gateway charge error", "paymentID", p.ID, "attempt", attempt, "error", err)
		}
		last = res

		switch res.Status {
		case gateway.StatusApproved:
			if err := s.repo.SetGatewayReference(p.ID, res.Reference); err != nil {
				return fmt.Errorf("recording gateway reference: %w", err)
			}
			p.GatewayRef = res.Reference
			if err := s.transition(p, models.StateCaptured, "gateway approved"); err != nil {
				return err
			}
			metrics.PaymentOutcomesTotal.WithLabelValues(string(models.StateCaptured)).Inc()
			s.logger.Info("payment captured", "paymentID", p.ID, "gatewayRef", res.Reference, "attempts", attempt)
			return nil

		case gateway.StatusDeclined:
			if err := s.transition(p, models.StateFailed, "gateway declined: "+res.ReasonCode); err != nil {
				return err
			}
			metrics.PaymentOutcomesTotal.WithLabelValues(string(models.StateFailed)).Inc()
			return &GatewayError{Status: res.Status, ReasonCode: res.ReasonCode}

		case gateway.StatusFatal:
			if err := s.transition(p, models.StateFailed, "gateway fatal: "+res.ReasonCode); err != nil {
				return err
			}
			metrics.PaymentOutcomesTotal.WithLabelValues(string(models.StateFailed)).Inc()
			return &GatewayError{Status: res.Status, ReasonCode: res.ReasonCode}
		}

		if attempt >= s.cfg.Retry.MaxAttempts {
			break
		}
		metrics.GatewayRetriesTotal.Inc()
		s.logger.Warn("gateway retryable, backing off", "paymentID", p.ID, "attempt", attempt, "reason", res.ReasonCode)
		if err := s.sleep(ctx, s.backoff(attempt)); err != nil {
			// The last attempt may or may not have reached the backend; the
			// note records that the final disposition is unknown.
			if terr := s.transition(p, models.StateFailed, "gateway disposition unknown: "+err.Error()); terr != nil {
				return terr
			}
			metrics.PaymentOutcomesTotal.WithLabelValues(string(models.StateFailed)).Inc()
			return &GatewayError{Status: gateway.StatusRetryable, ReasonCode: "disposition_unknown"}
		}
	}

	if err := s.transition(p, models.StateFailed, "gateway retries exhausted: "+last.ReasonCode); err != nil {
		return err
	}
	metrics.PaymentOutcomesTotal.WithLabelValues(string(models.StateFailed)).Inc()
	return &GatewayError{Status: gateway.StatusRetryable, ReasonCode: last.ReasonCode}
}

// holdSource tokenizes the raw source into the vault so the charge can resume
// after review without the ledger ever holding raw card data.
func (s *Service) holdSource(p *models.Payment, source models.Source) error {
	payload, err := json.Marshal(source)
	if err != nil {
		return fmt.Errorf("encoding source for hold: %w", err)
	}
	tok, err := s.vault.Tokenize(payload, s.cfg.HeldSourceTTL)
	if err != nil {
		return fmt.Errorf("tokenizing held source: %w", err)
	}
	if err := s.repo.SetSourceToken(p.ID, tok.ID); err != nil {
		return fmt.Errorf("recording source token: %w", err)
	}
	p.SourceToken = tok.ID
	return nil
}

// customerHistory assembles the fraud history from the customer's prior
// payments in the ledger, excluding the one being processed.
func (s *Service) customerHistory(customerID, excludeID string) (fraud.History, error) {
	prior, err := s.repo.ListCustomerPayments(customerID)
	if err != nil {
		return nil, err
	}
	h := make(fraud.History, 0, len(prior))
	for _, p := range prior {
		if p.ID == excludeID {
			continue
		}
		h = append(h, fraud.Attempt{
			Amount:            p.Request.Amount,
			At:                p.CreatedAt,
			Region:            p.Request.Source.Region(),
			SourceFingerprint: p.Request.SourceFingerprint(),
		})
	}
	return h, nil
}

// transition records the state change in the ledger and mirrors it on the
// in-memory payment.
func (s *Service) transition(p *models.Payment, to models.State, note string) error {
	ev := models.TransitionEvent{From: p.State, To: to, Note: note, At: s.now()}
	if err := s.repo.AppendTransition(p.ID, ev); err != nil {
		return err
	}
	p.State = to
	p.UpdatedAt = ev.At
	p.Events = append(p.Events, ev)
	return nil
}

// backoff grows exponentially from BaseDelay with up to 50% jitter, capped at
// MaxDelay.
func (s *Service) backoff(attempt int) time.Duration {
	d := s.cfg.Retry.BaseDelay << uint(attempt-1)
	if d > s.cfg.Retry.MaxDelay || d <= 0 {
		d = s.cfg.Retry.MaxDelay
	}
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

func scoreNote(sc fraud.Score) string {
	if len(sc.Rules) == 0 {
		return fmt.Sprintf("fraud score %.2f", sc.Value)
	}
	return fmt.Sprintf("fraud score %.2f (%s)", sc.Value, strings.Join(sc.Rules, ", "))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsTerminalError reports whether err represents a terminal payment outcome
// rather than an infrastructure failure.
func IsTerminalError(err error) bool {
	var verr *ValidationError
	var gerr *GatewayError
	return errors.Is(err, ErrFraudDenied) || errors.As(err, &verr) || errors.As(err, &gerr)
}

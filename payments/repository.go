package payments

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jackc/pgconn"
	"github.com/lib/pq"

	"github.com/techcorp/payment-core/internal/cardgen"
	"github.com/techcorp/payment-core/payments/models"
)

var ErrNotFound = fmt.Errorf("not found")

// Repository is the Ledger: the persisted record of payment attempts, their
// transition history and refunds. It is the single shared mutable resource of
// the core; the orchestrator serializes access per payment.
type Repository struct {
	mu       sync.RWMutex
	payments map[string]*models.Payment
	byKey    map[string]string
	refunds  map[string][]*models.Refund

	db      *sql.DB
	hashKey []byte
}

func NewRepository() *Repository {
	return &Repository{
		payments: make(map[string]*models.Payment),
		byKey:    make(map[string]string),
		refunds:  make(map[string][]*models.Refund),
	}
}

// NewPGRepository constructs a db-backed repository. hashKey peppers the
// source fingerprint stored with each payment row.
func NewPGRepository(db *sql.DB, hashKey []byte) *Repository {
	return &Repository{db: db, hashKey: hashKey}
}

// CreatePayment atomically creates the payment unless its idempotency key is
// already bound. Returns the stored payment and whether this call created it.
func (r *Repository) CreatePayment(p *models.Payment) (*models.Payment, bool, error) {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if id, ok := r.byKey[p.IdempotencyKey]; ok {
			return clonePayment(r.payments[id]), false, nil
		}
		// The store keeps its own copy so caller-side mutation never leaks in.
		r.payments[p.ID] = clonePayment(p)
		r.byKey[p.IdempotencyKey] = p.ID
		return p, true, nil
	}

	snapshot, err := json.Marshal(p.Request)
	if err != nil {
		return nil, false, fmt.Errorf("encoding request snapshot: %w", err)
	}
	sourceHash := hex.EncodeToString(cardgen.HashPANHMAC(p.Request.SourceFingerprint(), r.hashKey))

	var insertedID string
	row := r.db.QueryRowContext(context.Background(), `
        INSERT INTO payments.payments(payment_id, idempotency_key, fingerprint, customer_id, amount, currency, method, state, refunded_amount, source_hash, request_snapshot, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,$9,$10,$11,$11)
        ON CONFLICT (idempotency_key) DO NOTHING
        RETURNING payment_id
    `, p.ID, p.IdempotencyKey, p.Fingerprint, p.Request.CustomerID, p.Request.Amount, p.Request.Currency, string(p.Request.Method), string(p.State), sourceHash, snapshot, p.CreatedAt)
	if err := row.Scan(&insertedID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			existing, ferr := r.FindByIdempotencyKey(p.IdempotencyKey)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		if isUniqueViolation(err) {
			existing, ferr := r.FindByIdempotencyKey(p.IdempotencyKey)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return p, true, nil
}

func (r *Repository) GetPayment(id string) (*models.Payment, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		p, ok := r.payments[id]
		if !ok {
			return nil, ErrNotFound
		}
		return clonePayment(p), nil
	}
	return r.queryPayment(`WHERE payment_id=$1`, id)
}

func (r *Repository) FindByIdempotencyKey(key string) (*models.Payment, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		id, ok := r.byKey[key]
		if !ok {
			return nil, ErrNotFound
		}
		return clonePayment(r.payments[id]), nil
	}
	return r.queryPayment(`WHERE idempotency_key=$1`, key)
}

func (r *Repository) queryPayment(where string, arg any) (*models.Payment, error) {
	row := r.db.QueryRowContext(context.Background(), `
        SELECT payment_id, idempotency_key, fingerprint, state, gateway_ref, refunded_amount, source_token, request_snapshot, created_at, updated_at
          FROM payments.payments `+where, arg)

	p := models.Payment{}
	var snapshot []byte
	var gatewayRef, sourceToken sql.NullString
	if err := row.Scan(&p.ID, &p.IdempotencyKey, &p.Fingerprint, &p.State, &gatewayRef, &p.RefundedAmount, &sourceToken, &snapshot, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.GatewayRef = gatewayRef.String
	p.SourceToken = sourceToken.String
	if err := json.Unmarshal(snapshot, &p.Request); err != nil {
		return nil, fmt.Errorf("decoding request snapshot: %w", err)
	}

	rows, err := r.db.QueryContext(context.Background(), `
        SELECT from_state, to_state, note, at FROM payments.payment_events
         WHERE payment_id=$1 ORDER BY seq ASC`, p.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		ev := models.TransitionEvent{}
		if err := rows.Scan(&ev.From, &ev.To, &ev.Note, &ev.At); err != nil {
			return nil, err
		}
		p.Events = append(p.Events, ev)
	}
	return &p, rows.Err()
}

// AppendTransition moves the payment to the target state and appends the
// audit event. An impossible transition aborts with ErrInvalidTransition;
// state is never silently coerced.
func (r *Repository) AppendTransition(id string, ev models.TransitionEvent) error {
	if !ev.From.CanTransitionTo(ev.To) {
		return fmt.Errorf("%s -> %s: %w", ev.From, ev.To, ErrInvalidTransition)
	}

	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		p, ok := r.payments[id]
		if !ok {
			return ErrNotFound
		}
		if p.State != ev.From {
			return fmt.Errorf("payment is %s, not %s: %w", p.State, ev.From, ErrInvalidTransition)
		}
		p.State = ev.To
		p.UpdatedAt = ev.At
		p.Events = append(p.Events, ev)
		return nil
	}

	tx, err := r.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(context.Background(), `set local statement_timeout = '3s'`); err != nil {
		return err
	}

	res, err := tx.ExecContext(context.Background(), `
        UPDATE payments.payments SET state=$3, updated_at=$4 WHERE payment_id=$1 AND state=$2
    `, id, string(ev.From), string(ev.To), ev.At)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return fmt.Errorf("payment %s not in state %s: %w", id, ev.From, ErrInvalidTransition)
	}
	if _, err := tx.ExecContext(context.Background(), `
        INSERT INTO payments.payment_events(payment_id, seq, from_state, to_state, note, at)
        VALUES ($1, (SELECT COALESCE(MAX(seq),0)+1 FROM payments.payment_events WHERE payment_id=$1), $2, $3, $4, $5)
    `, id, string(ev.From), string(ev.To), ev.Note, ev.At); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) SetGatewayReference(id, ref string) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		p, ok := r.payments[id]
		if !ok {
			return ErrNotFound
		}
		p.GatewayRef = ref
		return nil
	}
	_, err := r.db.ExecContext(context.Background(), `
        UPDATE payments.payments SET gateway_ref=$2 WHERE payment_id=$1`, id, ref)
	return err
}

func (r *Repository) SetSourceToken(id, token string) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		p, ok := r.payments[id]
		if !ok {
			return ErrNotFound
		}
		p.SourceToken = token
		return nil
	}
	_, err := r.db.ExecContext(context.Background(), `
        UPDATE payments.payments SET source_token=$2 WHERE payment_id=$1`, id, token)
	return err
}

// SaveRefund records a refund attempt. A Completed refund also decrements the
// payment's refundable balance; the balance is re-checked under the row lock
// so concurrent refunds cannot overdraw it.
func (r *Repository) SaveRefund(ref *models.Refund) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		p, ok := r.payments[ref.PaymentID]
		if !ok {
			return ErrNotFound
		}
		if ref.State == models.RefundCompleted {
			if p.RefundedAmount+ref.Amount > p.Request.Amount {
				return ErrExceedsBalance
			}
			p.RefundedAmount += ref.Amount
		}
		r.refunds[ref.PaymentID] = append(r.refunds[ref.PaymentID], ref)
		return nil
	}

	tx, err := r.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(context.Background(), `set local statement_timeout = '3s'`); err != nil {
		return err
	}

	if ref.State == models.RefundCompleted {
		var amount, refunded int64
		err = tx.QueryRowContext(context.Background(), `
            SELECT amount, refunded_amount FROM payments.payments WHERE payment_id=$1 FOR UPDATE
        `, ref.PaymentID).Scan(&amount, &refunded)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if refunded+ref.Amount > amount {
			return ErrExceedsBalance
		}
		if _, err := tx.ExecContext(context.Background(), `
            UPDATE payments.payments SET refunded_amount = refunded_amount + $2 WHERE payment_id=$1
        `, ref.PaymentID, ref.Amount); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(context.Background(), `
        INSERT INTO payments.refunds(refund_id, payment_id, amount, reason, state, gateway_ref, fail_code, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    `, ref.ID, ref.PaymentID, ref.Amount, ref.Reason, string(ref.State), ref.GatewayRef, ref.FailCode, ref.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) ListRefunds(paymentID string) ([]*models.Refund, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.refunds[paymentID], nil
	}
	rows, err := r.db.QueryContext(context.Background(), `
        SELECT refund_id, payment_id, amount, reason, state, gateway_ref, fail_code, created_at
          FROM payments.refunds WHERE payment_id=$1 ORDER BY created_at ASC`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Refund
	for rows.Next() {
		ref := models.Refund{}
		var state string
		if err := rows.Scan(&ref.ID, &ref.PaymentID, &ref.Amount, &ref.Reason, &state, &ref.GatewayRef, &ref.FailCode, &ref.CreatedAt); err != nil {
			return nil, err
		}
		ref.State = models.RefundState(state)
		out = append(out, &ref)
	}
	return out, rows.Err()
}

// ListCustomerPayments returns the customer's payments, oldest first. The
// orchestrator assembles fraud history from these.
func (r *Repository) ListCustomerPayments(customerID string) ([]*models.Payment, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		var out []*models.Payment
		for _, p := range r.payments {
			if p.Request.CustomerID == customerID {
				out = append(out, clonePayment(p))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		return out, nil
	}

	rows, err := r.db.QueryContext(context.Background(), `
        SELECT payment_id FROM payments.payments WHERE customer_id=$1 ORDER BY created_at ASC`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*models.Payment, 0, len(ids))
	for _, id := range ids {
		p, err := r.GetPayment(id)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func clonePayment(p *models.Payment) *models.Payment {
	out := *p
	out.Events = append([]models.TransitionEvent(nil), p.Events...)
	return &out
}

// Ping returns DB readiness.
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}

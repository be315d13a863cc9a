package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
)

const paymentColumns = `id, order_id, buyer_id, amount, currency, external_session_id, external_capture_id,
	status, payment_method, receipt_url, failure_reason, created_at, updated_at`

// ActivePayment describes the payment attempt attached to a new processor session
type ActivePayment struct {
	OrderID       string
	BuyerID       string
	Amount        decimal.Decimal
	SessionID     string
	PaymentMethod string
}

// UpsertActivePayment records a processor session against a pending order. The existing
// in-flight payment is reused, otherwise a new one is inserted as processing. The write
// only happens while the order is still pending and owned by the buyer; otherwise
// ErrNotPending is returned and nothing changes.
func (s *Store) UpsertActivePayment(ctx context.Context, in ActivePayment) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, `
		INSERT INTO payments (order_id, buyer_id, amount, currency, external_session_id, status, payment_method)
		SELECT $1::uuid, $2::uuid, $3::numeric, $4::text, $5::text, $6::text, $7::text
		WHERE EXISTS (
			SELECT 1 FROM orders WHERE id = $1 AND buyer_id = $2 AND status = 'pending'
		)
		ON CONFLICT (order_id) WHERE status IN ('pending', 'processing')
		DO UPDATE SET
			external_session_id = EXCLUDED.external_session_id,
			amount = EXCLUDED.amount,
			status = EXCLUDED.status,
			failure_reason = NULL,
			updated_at = NOW()
		RETURNING `+paymentColumns,
		in.OrderID, in.BuyerID, in.Amount, models.CurrencyUSD, in.SessionID,
		models.PaymentStatusProcessing, in.PaymentMethod)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotPending
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert payment: %w", err)
	}
	return &payment, nil
}

// GetPaymentBySession finds the attempt an order's processor session belongs to
func (s *Store) GetPaymentBySession(ctx context.Context, orderID, sessionID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment, `
		SELECT `+paymentColumns+` FROM payments
		WHERE order_id = $1 AND external_session_id = $2
		ORDER BY created_at DESC LIMIT 1`, orderID, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// GetLatestPaymentByOrder retrieves the newest payment attempt for an order
func (s *Store) GetLatestPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// CaptureResult is the reconciled outcome of a processor capture
type CaptureResult struct {
	PaymentID     string
	OrderID       string
	BuyerID       string
	SessionID     string
	Status        string
	CaptureID     string
	FailureReason string
}

// CaptureOutcome reports which rows actually changed
type CaptureOutcome struct {
	Payment        *models.Payment
	PaymentChanged bool
	OrderConfirmed bool
}

// ApplyCaptureResult moves an in-flight payment to its terminal status, recording the session
// that was captured, and on success
// confirms the pending order, all in one transaction. Both writes carry status guards, so a
// replayed capture leaves terminal rows untouched and reports nothing changed.
func (s *Store) ApplyCaptureResult(ctx context.Context, res CaptureResult) (*CaptureOutcome, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	out := &CaptureOutcome{}

	var payment models.Payment
	err = tx.GetContext(ctx, &payment, `
		UPDATE payments SET
			status = $1,
			external_capture_id = COALESCE(NULLIF($2, ''), external_capture_id),
			failure_reason = NULLIF($3, ''),
			external_session_id = COALESCE(NULLIF($6, ''), external_session_id),
			updated_at = NOW()
		WHERE id = $4 AND order_id = $5 AND status IN ('pending', 'processing')
		RETURNING `+paymentColumns,
		res.Status, res.CaptureID, res.FailureReason, res.PaymentID, res.OrderID, res.SessionID)
	switch {
	case err == nil:
		out.PaymentChanged = true
	case errors.Is(err, sql.ErrNoRows):
		err = tx.GetContext(ctx, &payment,
			"SELECT "+paymentColumns+" FROM payments WHERE id = $1", res.PaymentID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("failed to reload payment: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}
	out.Payment = &payment

	if payment.Status == models.PaymentStatusSucceeded {
		result, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = $1, updated_at = NOW()
			WHERE id = $2 AND buyer_id = $3 AND status = 'pending'`,
			models.OrderStatusConfirmed, res.OrderID, res.BuyerID)
		if err != nil {
			return nil, fmt.Errorf("failed to confirm order: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to confirm order: %w", err)
		}
		out.OrderConfirmed = n == 1
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit capture: %w", err)
	}
	return out, nil
}

package store

import (
	"context"
	"fmt"

	"checkout-service/internal/models"
)

// RecordPaymentEvent appends an audit row and marks the event processed in one transaction.
// It returns false when the event was already recorded.
func (s *Store) RecordPaymentEvent(ctx context.Context, ev *models.PaymentEvent) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		ev.EventID, ev.EventType)
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_events (event_id, event_type, order_id, payment_id, amount, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.EventID, ev.EventType, ev.OrderID, ev.PaymentID, ev.Amount, ev.Detail, ev.OccurredAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert payment event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// ListPaymentEvents returns an order's audit trail oldest first
func (s *Store) ListPaymentEvents(ctx context.Context, orderID string) ([]models.PaymentEvent, error) {
	events := []models.PaymentEvent{}
	err := s.db.SelectContext(ctx, &events, `
		SELECT id, event_id, event_type, order_id, payment_id, amount, detail, occurred_at
		FROM payment_events WHERE order_id = $1 ORDER BY occurred_at, id`, orderID)
	return events, err
}

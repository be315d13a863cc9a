package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"checkout-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuditStore struct {
	seen   map[string]bool
	events []*models.PaymentEvent
	err    error
}

func (f *fakeAuditStore) RecordPaymentEvent(_ context.Context, ev *models.PaymentEvent) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[ev.EventID] {
		return false, nil
	}
	f.seen[ev.EventID] = true
	f.events = append(f.events, ev)
	return true, nil
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	b, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestHandleRecordsPaymentSucceeded(t *testing.T) {
	store := &fakeAuditStore{}
	w := NewPaymentAuditWorker(nil, store)

	event := &models.PaymentSucceededEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypePaymentSucceeded),
		OrderID:   "order-1",
		PaymentID: "pay-1",
		Amount:    decimal.RequireFromString("108.00"),
		CaptureID: "CAP-1",
	}

	require.NoError(t, w.Handle(context.Background(), message(t, event)))
	require.Len(t, store.events, 1)

	got := store.events[0]
	assert.Equal(t, event.EventID, got.EventID)
	assert.Equal(t, models.EventTypePaymentSucceeded, got.EventType)
	assert.Equal(t, "order-1", got.OrderID)
	require.NotNil(t, got.PaymentID)
	assert.Equal(t, "pay-1", *got.PaymentID)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("108")))
	assert.Contains(t, got.Detail, "CAP-1")
}

func TestHandleOrderCreatedHasNoPayment(t *testing.T) {
	store := &fakeAuditStore{}
	w := NewPaymentAuditWorker(nil, store)

	event := &models.OrderCreatedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:     "order-1",
		BuyerID:     "buyer-1",
		TotalAmount: decimal.RequireFromString("108.00"),
		Items:       []models.OrderItemData{{ProductID: "p1", Quantity: 2}},
	}

	require.NoError(t, w.Handle(context.Background(), message(t, event)))
	require.Len(t, store.events, 1)
	assert.Nil(t, store.events[0].PaymentID)
	assert.Equal(t, "order created with 1 item(s)", store.events[0].Detail)
}

func TestHandleSkipsRedeliveredEvent(t *testing.T) {
	store := &fakeAuditStore{}
	w := NewPaymentAuditWorker(nil, store)

	msg := message(t, &models.PaymentFailedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypePaymentFailed),
		OrderID:   "order-1",
		PaymentID: "pay-1",
		Reason:    "ORDER_NOT_APPROVED",
	})

	require.NoError(t, w.Handle(context.Background(), msg))
	require.NoError(t, w.Handle(context.Background(), msg))
	assert.Len(t, store.events, 1)
}

func TestHandleStoreError(t *testing.T) {
	w := NewPaymentAuditWorker(nil, &fakeAuditStore{err: errors.New("db down")})

	err := w.Handle(context.Background(), message(t, &models.OrderConfirmedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderConfirmed),
		OrderID:   "order-1",
	}))
	assert.ErrorContains(t, err, "db down")
}

func TestHandleIgnoresUnknownType(t *testing.T) {
	store := &fakeAuditStore{}
	w := NewPaymentAuditWorker(nil, store)

	err := w.Handle(context.Background(), kafka.Message{Value: []byte(`{"event_type":"SOMETHING_ELSE","event_id":"x"}`)})
	assert.NoError(t, err)
	assert.Empty(t, store.events)
}

func TestHandleRejectsGarbage(t *testing.T) {
	w := NewPaymentAuditWorker(nil, &fakeAuditStore{})
	assert.Error(t, w.Handle(context.Background(), kafka.Message{Value: []byte("not json")}))
}

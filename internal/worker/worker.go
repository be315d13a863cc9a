package worker

import (
	"context"
	"fmt"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AuditStore is satisfied by *store.Store
type AuditStore interface {
	RecordPaymentEvent(ctx context.Context, ev *models.PaymentEvent) (bool, error)
}

// PaymentAuditWorker writes every checkout event to the payment_events audit trail
type PaymentAuditWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        AuditStore
	logger       *zap.Logger
}

// NewPaymentAuditWorker creates a new audit worker. consumer may be nil when the worker is
// only used to handle messages directly.
func NewPaymentAuditWorker(consumer *broker.Consumer, store AuditStore) *PaymentAuditWorker {
	w := &PaymentAuditWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		store:        store,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnOrderCreated(func(ctx context.Context, e *models.OrderCreatedEvent) error {
		return w.record(ctx, e.BaseEvent, e.OrderID, "", e.TotalAmount,
			fmt.Sprintf("order created with %d item(s)", len(e.Items)))
	})
	w.eventHandler.OnOrderConfirmed(func(ctx context.Context, e *models.OrderConfirmedEvent) error {
		return w.record(ctx, e.BaseEvent, e.OrderID, e.PaymentID, e.Amount,
			fmt.Sprintf("order confirmed by capture %s", e.CaptureID))
	})
	w.eventHandler.OnPaymentSucceeded(func(ctx context.Context, e *models.PaymentSucceededEvent) error {
		return w.record(ctx, e.BaseEvent, e.OrderID, e.PaymentID, e.Amount,
			fmt.Sprintf("capture %s completed", e.CaptureID))
	})
	w.eventHandler.OnPaymentFailed(func(ctx context.Context, e *models.PaymentFailedEvent) error {
		return w.record(ctx, e.BaseEvent, e.OrderID, e.PaymentID, e.Amount, e.Reason)
	})

	return w
}

// Handle processes a single message
func (w *PaymentAuditWorker) Handle(ctx context.Context, msg kafka.Message) error {
	return w.eventHandler.HandleMessage(ctx, msg)
}

func (w *PaymentAuditWorker) record(ctx context.Context, base models.BaseEvent, orderID, paymentID string, amount decimal.Decimal, detail string) error {
	ev := &models.PaymentEvent{
		EventID:    base.EventID,
		EventType:  base.EventType,
		OrderID:    orderID,
		Amount:     amount,
		Detail:     detail,
		OccurredAt: base.Timestamp,
	}
	if paymentID != "" {
		ev.PaymentID = &paymentID
	}

	inserted, err := w.store.RecordPaymentEvent(ctx, ev)
	if err != nil {
		util.AuditEventsTotal.WithLabelValues(base.EventType, "error").Inc()
		return fmt.Errorf("failed to record %s event %s: %w", base.EventType, base.EventID, err)
	}
	if !inserted {
		util.AuditEventsTotal.WithLabelValues(base.EventType, "duplicate").Inc()
		w.logger.Info("Event already recorded, skipping", zap.String("event_id", base.EventID))
		return nil
	}

	util.AuditEventsTotal.WithLabelValues(base.EventType, "recorded").Inc()
	return nil
}

// Start starts the worker
func (w *PaymentAuditWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment audit worker")
	return w.consumer.StartConsuming(ctx, w.Handle)
}

// Stop stops the worker
func (w *PaymentAuditWorker) Stop() error {
	w.logger.Info("Stopping payment audit worker")
	return w.consumer.Close()
}

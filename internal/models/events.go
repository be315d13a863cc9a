package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated     = "ORDER_CREATED"
	EventTypeOrderConfirmed   = "ORDER_CONFIRMED"
	EventTypePaymentSucceeded = "PAYMENT_SUCCEEDED"
	EventTypePaymentFailed    = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBaseEvent stamps a fresh event id and time
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// OrderCreatedEvent published when a cart has been turned into an order
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string          `json:"order_id"`
	BuyerID     string          `json:"buyer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderConfirmedEvent is published exactly once, when capture moves the order out of pending
type OrderConfirmedEvent struct {
	BaseEvent
	OrderID   string          `json:"order_id"`
	BuyerID   string          `json:"buyer_id"`
	PaymentID string          `json:"payment_id"`
	CaptureID string          `json:"capture_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// PaymentSucceededEvent published when a capture completed
type PaymentSucceededEvent struct {
	BaseEvent
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	CaptureID string          `json:"capture_id"`
}

// PaymentFailedEvent published when a capture did not complete
type PaymentFailedEvent struct {
	BaseEvent
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID string          `json:"product_id"`
	SellerID  string          `json:"seller_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

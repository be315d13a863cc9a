package service

import (
	"context"

	"checkout-service/internal/models"
	"checkout-service/internal/paypal"
	"checkout-service/internal/store"
)

// OrderStore is the slice of *store.Store the order flow needs
type OrderStore interface {
	CreateOrderFromCart(ctx context.Context, in store.NewOrder) (*models.OrderWithItems, error)
	GetOrderByIdempotencyKey(ctx context.Context, buyerID, key string) (*models.Order, error)
	GetOrderWithItems(ctx context.Context, id string) (*models.OrderWithItems, error)
	ListOrdersByBuyer(ctx context.Context, buyerID string) ([]models.OrderWithItems, error)
}

// PaymentStore is the slice of *store.Store the checkout flow needs
type PaymentStore interface {
	UpsertActivePayment(ctx context.Context, in store.ActivePayment) (*models.Payment, error)
	GetPaymentBySession(ctx context.Context, orderID, sessionID string) (*models.Payment, error)
	GetLatestPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error)
	ApplyCaptureResult(ctx context.Context, res store.CaptureResult) (*store.CaptureOutcome, error)
	ListPaymentEvents(ctx context.Context, orderID string) ([]models.PaymentEvent, error)
}

// CartStore is the slice of *store.Store the cart endpoints need
type CartStore interface {
	ListCart(ctx context.Context, userID string) ([]models.CartItem, error)
	AddToCart(ctx context.Context, userID, productID string, quantity int) (*models.CartItem, error)
	UpdateCartQuantity(ctx context.Context, userID, itemID string, quantity int) (*models.CartItem, error)
	RemoveCartItem(ctx context.Context, userID, itemID string) error
	ClearCart(ctx context.Context, userID string) error
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
}

// CatalogStore is the slice of *store.Store the catalog and seller endpoints need
type CatalogStore interface {
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	SearchProducts(ctx context.Context, f models.ProductFilter) (*models.ProductPage, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, sellerID, productID string, patch store.ProductPatch) (*models.Product, error)
}

// PaymentProcessor is satisfied by *paypal.Client
type PaymentProcessor interface {
	Configured() bool
	AccessToken(ctx context.Context) (string, error)
	CreateOrder(ctx context.Context, token string, req *paypal.CreateOrderRequest) (*paypal.Order, error)
	CaptureOrder(ctx context.Context, token, orderID string) (*paypal.Order, error)
	GetOrder(ctx context.Context, token, orderID string) (*paypal.Order, error)
}

// EventPublisher is satisfied by *broker.EventPublisher
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderConfirmed(ctx context.Context, event *models.OrderConfirmedEvent) error
	PublishPaymentSucceeded(ctx context.Context, event *models.PaymentSucceededEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
}

// nopPublisher is used when no broker is configured
type nopPublisher struct{}

func (nopPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error { return nil }
func (nopPublisher) PublishOrderConfirmed(context.Context, *models.OrderConfirmedEvent) error {
	return nil
}
func (nopPublisher) PublishPaymentSucceeded(context.Context, *models.PaymentSucceededEvent) error {
	return nil
}
func (nopPublisher) PublishPaymentFailed(context.Context, *models.PaymentFailedEvent) error {
	return nil
}

func publisherOrNop(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

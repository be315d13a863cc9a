package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderService turns carts into orders and serves order history
type OrderService struct {
	store          OrderStore
	eventPublisher EventPublisher
	logger         *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(store OrderStore, eventPublisher EventPublisher) *OrderService {
	return &OrderService{
		store:          store,
		eventPublisher: publisherOrNop(eventPublisher),
		logger:         util.GetLogger(),
	}
}

// CreateOrderRequest represents a request to create an order from the buyer's cart
type CreateOrderRequest struct {
	BuyerID         string                 `json:"-"`
	ShippingAddress models.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod" binding:"omitempty,oneof=paypal"`
	Notes           string                 `json:"notes" binding:"max=1000"`
	IdempotencyKey  string                 `json:"-"`
}

// CreateOrderResponse represents the response after creating an order
type CreateOrderResponse struct {
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	TotalAmount string `json:"totalAmount"`
}

// CreateOrderFromCart validates the request and atomically materializes the cart into an order
func (s *OrderService) CreateOrderFromCart(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrderFromCart")
	defer span.End()

	if strings.TrimSpace(req.BuyerID) == "" {
		return nil, ErrNotAuthenticated
	}

	if err := validateRequest(req); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}
	address := normalizeAddress(req.ShippingAddress)

	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		method = models.PaymentMethodPayPal
	}

	var key *string
	if k := strings.TrimSpace(req.IdempotencyKey); k != "" {
		key = &k
		existing, err := s.store.GetOrderByIdempotencyKey(ctx, req.BuyerID, k)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", k),
				zap.String("order_id", existing.ID))
			return responseFor(existing), nil
		}
	}

	var notes *string
	if n := strings.TrimSpace(req.Notes); n != "" {
		notes = &n
	}

	order, err := s.store.CreateOrderFromCart(ctx, store.NewOrder{
		BuyerID:         req.BuyerID,
		ShippingAddress: address,
		PaymentMethod:   method,
		Notes:           notes,
		IdempotencyKey:  key,
	})
	switch {
	case errors.Is(err, store.ErrEmptyCart):
		// a concurrent request with the same key may have consumed the cart first
		if key != nil {
			if existing, lookupErr := s.store.GetOrderByIdempotencyKey(ctx, req.BuyerID, *key); lookupErr == nil && existing != nil {
				return responseFor(existing), nil
			}
		}
		util.OrdersFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, ErrEmptyCart
	case errors.Is(err, store.ErrInvalidQuantity):
		util.OrdersFailedTotal.WithLabelValues("invalid_quantity").Inc()
		return nil, validationError("%v", err)
	case err != nil:
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("buyer_id", order.BuyerID),
		zap.String("total", order.TotalAmount.StringFixed(2)),
		zap.Int("items", len(order.Items)))

	itemData := make([]models.OrderItemData, 0, len(order.Items))
	for _, item := range order.Items {
		itemData = append(itemData, models.OrderItemData{
			ProductID: item.ProductID,
			SellerID:  item.SellerID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		TotalAmount: order.TotalAmount,
		Items:       itemData,
	}
	if err := s.eventPublisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.String("order_id", order.ID), zap.Error(err))
	}

	return responseFor(&order.Order), nil
}

func responseFor(o *models.Order) *CreateOrderResponse {
	return &CreateOrderResponse{
		OrderID:     o.ID,
		Status:      o.Status,
		TotalAmount: o.TotalAmount.StringFixed(2),
	}
}

// normalizeAddress trims every field and fills in the default country
func normalizeAddress(a models.ShippingAddress) models.ShippingAddress {
	out := models.ShippingAddress{
		FullName:     strings.TrimSpace(a.FullName),
		AddressLine1: strings.TrimSpace(a.AddressLine1),
		AddressLine2: strings.TrimSpace(a.AddressLine2),
		City:         strings.TrimSpace(a.City),
		State:        strings.TrimSpace(a.State),
		ZipCode:      strings.TrimSpace(a.ZipCode),
		Country:      strings.TrimSpace(a.Country),
		Phone:        strings.TrimSpace(a.Phone),
	}
	if out.Country == "" {
		out.Country = models.DefaultCountry
	}
	return out
}

// GetOrder returns an order owned by the buyer
func (s *OrderService) GetOrder(ctx context.Context, buyerID, orderID string) (*models.OrderWithItems, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder", attribute.String("order.id", orderID))
	defer span.End()

	return loadOwnedOrder(ctx, s.store, buyerID, orderID)
}

// ListOrders returns the buyer's orders newest first
func (s *OrderService) ListOrders(ctx context.Context, buyerID string) ([]models.OrderWithItems, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	if buyerID == "" {
		return nil, ErrNotAuthenticated
	}
	orders, err := s.store.ListOrdersByBuyer(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func loadOwnedOrder(ctx context.Context, orders OrderStore, buyerID, orderID string) (*models.OrderWithItems, error) {
	if buyerID == "" {
		return nil, ErrNotAuthenticated
	}
	if strings.TrimSpace(orderID) == "" {
		return nil, validationError("orderId is required")
	}
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, ErrNotFound
	}

	order, err := orders.GetOrderWithItems(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if order.BuyerID != buyerID {
		return nil, ErrForbidden
	}
	return order, nil
}

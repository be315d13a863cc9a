package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/pricing"

	"github.com/lib/pq"
)

const orderColumns = `id, buyer_id, total_amount, status, shipping_address, payment_method, notes,
	idempotency_key, created_at, updated_at`

const orderItemColumns = `oi.id, oi.order_id, oi.product_id, oi.seller_id, oi.quantity, oi.unit_price,
	oi.total_price, COALESCE(p.name, '') AS product_name`

// NewOrder is the input to CreateOrderFromCart
type NewOrder struct {
	BuyerID         string
	ShippingAddress models.ShippingAddress
	PaymentMethod   string
	Notes           *string
	IdempotencyKey  *string
}

// CreateOrderFromCart turns the buyer's active cart lines into an order in one transaction.
// The cart rows are locked for the duration, so a concurrent call for the same buyer
// waits and then finds the consumed rows gone.
func (s *Store) CreateOrderFromCart(ctx context.Context, in NewOrder) (*models.OrderWithItems, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var cart []models.CartItem
	err = tx.SelectContext(ctx, &cart, `
		SELECT ci.id, ci.user_id, ci.product_id, ci.quantity, ci.created_at,
			p.name AS product_name, p.seller_id, p.price, p.is_active
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.user_id = $1
		ORDER BY ci.created_at
		FOR UPDATE OF ci`, in.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock cart: %w", err)
	}

	active := make([]models.CartItem, 0, len(cart))
	lines := make([]pricing.Line, 0, len(cart))
	for _, item := range cart {
		if !item.ProductActive {
			continue
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: cart item %s", ErrInvalidQuantity, item.ID)
		}
		active = append(active, item)
		lines = append(lines, pricing.Line{UnitPrice: item.Price, Quantity: item.Quantity})
	}

	if len(active) == 0 {
		return nil, ErrEmptyCart
	}

	totals := pricing.Compute(lines)

	order := models.Order{
		BuyerID:         in.BuyerID,
		TotalAmount:     totals.Total,
		Status:          models.OrderStatusPending,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		Notes:           in.Notes,
		IdempotencyKey:  in.IdempotencyKey,
	}

	err = tx.GetContext(ctx, &order, `
		INSERT INTO orders (buyer_id, total_amount, status, shipping_address, payment_method, notes, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`,
		order.BuyerID, order.TotalAmount, order.Status, order.ShippingAddress,
		order.PaymentMethod, order.Notes, order.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	items := make([]models.OrderItem, 0, len(active))
	consumed := make([]string, 0, len(active))
	for i, c := range active {
		item := models.OrderItem{
			OrderID:     order.ID,
			ProductID:   c.ProductID,
			SellerID:    c.SellerID,
			Quantity:    c.Quantity,
			UnitPrice:   c.Price,
			TotalPrice:  lines[i].Total(),
			ProductName: c.ProductName,
		}
		err = tx.GetContext(ctx, &item.ID, `
			INSERT INTO order_items (order_id, product_id, seller_id, quantity, unit_price, total_price)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			item.OrderID, item.ProductID, item.SellerID, item.Quantity, item.UnitPrice, item.TotalPrice)
		if err != nil {
			return nil, fmt.Errorf("failed to insert order item: %w", err)
		}
		items = append(items, item)
		consumed = append(consumed, c.ID)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM cart_items WHERE user_id = $1 AND id = ANY($2)",
		in.BuyerID, pq.Array(consumed)); err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}

	return &models.OrderWithItems{Order: order, Items: items}, nil
}

// GetOrderByID loads an order without an owner predicate; callers compare the buyer.
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderWithItems loads an order with its lines and their product names
func (s *Store) GetOrderWithItems(ctx context.Context, id string) (*models.OrderWithItems, error) {
	order, err := s.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}

	items, err := s.GetOrderItemsByOrderID(ctx, id)
	if err != nil {
		return nil, err
	}

	return &models.OrderWithItems{Order: *order, Items: items}, nil
}

// GetOrderByIdempotencyKey returns nil when the buyer has not used the key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, buyerID, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE buyer_id = $1 AND idempotency_key = $2", buyerID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.db.SelectContext(ctx, &items, `
		SELECT `+orderItemColumns+`
		FROM order_items oi
		LEFT JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY product_name`, orderID)
	return items, err
}

// ListOrdersByBuyer returns the buyer's orders newest first, each with its items
func (s *Store) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]models.OrderWithItems, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC", buyerID)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return []models.OrderWithItems{}, nil
	}

	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}

	var items []models.OrderItem
	err = s.db.SelectContext(ctx, &items, `
		SELECT `+orderItemColumns+`
		FROM order_items oi
		LEFT JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = ANY($1)
		ORDER BY product_name`, pq.Array(ids))
	if err != nil {
		return nil, err
	}

	byOrder := make(map[string][]models.OrderItem, len(orders))
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}

	result := make([]models.OrderWithItems, len(orders))
	for i, o := range orders {
		lines := byOrder[o.ID]
		if lines == nil {
			lines = []models.OrderItem{}
		}
		result[i] = models.OrderWithItems{Order: o, Items: lines}
	}
	return result, nil
}

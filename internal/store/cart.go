package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"
)

const cartSelect = `
	SELECT ci.id, ci.user_id, ci.product_id, ci.quantity, ci.created_at,
		p.name AS product_name, p.seller_id, p.price, p.is_active
	FROM cart_items ci
	JOIN products p ON p.id = ci.product_id`

// ListCart returns the user's cart lines with live product data
func (s *Store) ListCart(ctx context.Context, userID string) ([]models.CartItem, error) {
	items := []models.CartItem{}
	err := s.db.SelectContext(ctx, &items, cartSelect+" WHERE ci.user_id = $1 ORDER BY ci.created_at", userID)
	return items, err
}

// AddToCart adds quantity of a product, merging with an existing line for the same product
func (s *Store) AddToCart(ctx context.Context, userID, productID string, quantity int) (*models.CartItem, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	var id string
	err := s.db.GetContext(ctx, &id, `
		INSERT INTO cart_items (user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		RETURNING id`, userID, productID, quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to add cart item: %w", err)
	}

	return s.getCartItem(ctx, userID, id)
}

// UpdateCartQuantity sets a line's quantity. A non-positive quantity removes the line and
// returns a nil item.
func (s *Store) UpdateCartQuantity(ctx context.Context, userID, itemID string, quantity int) (*models.CartItem, error) {
	if quantity <= 0 {
		return nil, s.RemoveCartItem(ctx, userID, itemID)
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE cart_items SET quantity = $1 WHERE id = $2 AND user_id = $3",
		quantity, itemID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to update cart item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update cart item: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}

	return s.getCartItem(ctx, userID, itemID)
}

// RemoveCartItem deletes one of the user's lines
func (s *Store) RemoveCartItem(ctx context.Context, userID, itemID string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_items WHERE id = $1 AND user_id = $2", itemID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearCart removes every line the user has
func (s *Store) ClearCart(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE user_id = $1", userID)
	return err
}

func (s *Store) getCartItem(ctx context.Context, userID, itemID string) (*models.CartItem, error) {
	var item models.CartItem
	err := s.db.GetContext(ctx, &item, cartSelect+" WHERE ci.id = $1 AND ci.user_id = $2", itemID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

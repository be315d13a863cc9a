package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"checkout-service/internal/models"
	"checkout-service/internal/pricing"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CartService manages a buyer's cart lines
type CartService struct {
	store  CartStore
	logger *zap.Logger
}

func NewCartService(store CartStore) *CartService {
	return &CartService{store: store, logger: util.GetLogger()}
}

// CartView is the cart with the totals an order created from it right now would have.
// Inactive lines are listed but not priced.
type CartView struct {
	Items    []models.CartItem `json:"items"`
	Subtotal string            `json:"subtotal"`
	Tax      string            `json:"tax"`
	Total    string            `json:"total"`
}

func (s *CartService) GetCart(ctx context.Context, userID string) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart")
	defer span.End()

	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	items, err := s.store.ListCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart: %w", err)
	}

	lines := make([]pricing.Line, 0, len(items))
	for _, item := range items {
		if item.ProductActive {
			lines = append(lines, pricing.Line{UnitPrice: item.Price, Quantity: item.Quantity})
		}
	}
	totals := pricing.Compute(lines)

	return &CartView{
		Items:    items,
		Subtotal: pricing.Format(totals.Subtotal),
		Tax:      pricing.Format(totals.Tax),
		Total:    pricing.Format(totals.Total),
	}, nil
}

// AddItem adds quantity of an active product to the cart
func (s *CartService) AddItem(ctx context.Context, userID, productID string, quantity int) (*models.CartItem, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem")
	defer span.End()

	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, validationError("productId is required")
	}
	if quantity <= 0 {
		return nil, validationError("quantity must be positive")
	}
	if _, err := uuid.Parse(productID); err != nil {
		return nil, ErrNotFound
	}

	product, err := s.store.GetProductByID(ctx, productID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	if !product.IsActive {
		return nil, ErrNotFound
	}

	item, err := s.store.AddToCart(ctx, userID, productID, quantity)
	if err != nil {
		return nil, fmt.Errorf("failed to add to cart: %w", err)
	}
	s.logger.Debug("Cart line added",
		zap.String("user_id", userID),
		zap.String("product_id", productID),
		zap.Int("quantity", item.Quantity))
	return item, nil
}

// UpdateQuantity sets a line's quantity; zero or less removes it and returns nil
func (s *CartService) UpdateQuantity(ctx context.Context, userID, itemID string, quantity int) (*models.CartItem, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateQuantity")
	defer span.End()

	if userID == "" {
		return nil, ErrNotAuthenticated
	}
	if _, err := uuid.Parse(itemID); err != nil {
		return nil, ErrNotFound
	}

	item, err := s.store.UpdateCartQuantity(ctx, userID, itemID, quantity)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update cart: %w", err)
	}
	return item, nil
}

func (s *CartService) RemoveItem(ctx context.Context, userID, itemID string) error {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem")
	defer span.End()

	if userID == "" {
		return ErrNotAuthenticated
	}
	if _, err := uuid.Parse(itemID); err != nil {
		return ErrNotFound
	}

	err := s.store.RemoveCartItem(ctx, userID, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *CartService) Clear(ctx context.Context, userID string) error {
	ctx, span := util.StartSpan(ctx, "CartService.Clear")
	defer span.End()

	if userID == "" {
		return ErrNotAuthenticated
	}
	if err := s.store.ClearCart(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

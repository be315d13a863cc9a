package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"checkout-service/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const productColumns = `id, seller_id, category_id, name, description, price, stock_quantity, brand, model,
	year_from, year_to, part_number, condition, images, is_active, featured, created_at, updated_at`

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// productQuery accumulates WHERE clauses with numbered placeholders
type productQuery struct {
	where []string
	args  []interface{}
}

func (q *productQuery) add(clause string, arg interface{}) {
	q.args = append(q.args, arg)
	q.where = append(q.where, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(q.args))))
}

func (q *productQuery) sql() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

func buildProductQuery(f models.ProductFilter) *productQuery {
	q := &productQuery{}
	if !f.IncludeInactive {
		q.where = append(q.where, "is_active = TRUE")
	}
	if f.SellerID != "" {
		q.add("seller_id = ?", f.SellerID)
	}
	if f.CategoryID != "" {
		q.add("category_id = ?", f.CategoryID)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		q.add("(name ILIKE ? OR description ILIKE ? OR brand ILIKE ?)", "%"+escapeLike(term)+"%")
	}
	if f.MinPrice != nil {
		q.add("price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		q.add("price <= ?", *f.MaxPrice)
	}
	if f.Condition != "" {
		q.add("condition = ?", f.Condition)
	}
	if brand := strings.TrimSpace(f.Brand); brand != "" {
		q.add("brand ILIKE ?", "%"+escapeLike(brand)+"%")
	}
	return q
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// SearchProducts runs a filtered, paginated catalog query
func (s *Store) SearchProducts(ctx context.Context, f models.ProductFilter) (*models.ProductPage, error) {
	f.Normalize()
	q := buildProductQuery(f)

	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM products"+q.sql(), q.args...); err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}

	order := " ORDER BY created_at DESC"
	if f.FeaturedFirst {
		order = " ORDER BY featured DESC, created_at DESC"
	}

	args := append(append([]interface{}{}, q.args...), f.Limit, (f.Page-1)*f.Limit)
	query := "SELECT " + productColumns + " FROM products" + q.sql() + order +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	products := []models.Product{}
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}

	return &models.ProductPage{
		Products:   products,
		Count:      count,
		Page:       f.Page,
		Limit:      f.Limit,
		TotalPages: (count + f.Limit - 1) / f.Limit,
	}, nil
}

// CreateProduct inserts a seller's product
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	if p.Images == nil {
		p.Images = pq.StringArray{}
	}
	return s.db.GetContext(ctx, p, `
		INSERT INTO products (seller_id, category_id, name, description, price, stock_quantity, brand, model,
			year_from, year_to, part_number, condition, images, is_active, featured)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at`,
		p.SellerID, p.CategoryID, p.Name, p.Description, p.Price, p.StockQuantity, p.Brand, p.Model,
		p.YearFrom, p.YearTo, p.PartNumber, p.Condition, p.Images, p.IsActive, p.Featured)
}

// ProductPatch holds the fields a seller may change. Nil fields are left as they are.
type ProductPatch struct {
	Name          *string
	Description   *string
	Price         *decimal.Decimal
	StockQuantity *int
	Brand         *string
	Condition     *string
	Images        []string
	IsActive      *bool
	Featured      *bool
}

// UpdateProduct applies a patch to a product owned by sellerID. Order lines keep their
// own price snapshot, so a price change here never reaches existing orders.
func (s *Store) UpdateProduct(ctx context.Context, sellerID, productID string, patch ProductPatch) (*models.Product, error) {
	var sets []string
	var args []interface{}
	set := func(column string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Name != nil {
		set("name", *patch.Name)
	}
	if patch.Description != nil {
		set("description", *patch.Description)
	}
	if patch.Price != nil {
		set("price", *patch.Price)
	}
	if patch.StockQuantity != nil {
		set("stock_quantity", *patch.StockQuantity)
	}
	if patch.Brand != nil {
		set("brand", *patch.Brand)
	}
	if patch.Condition != nil {
		set("condition", *patch.Condition)
	}
	if patch.Images != nil {
		set("images", pq.StringArray(patch.Images))
	}
	if patch.IsActive != nil {
		set("is_active", *patch.IsActive)
	}
	if patch.Featured != nil {
		set("featured", *patch.Featured)
	}

	if len(sets) == 0 {
		product, err := s.GetProductByID(ctx, productID)
		if err != nil {
			return nil, err
		}
		if product.SellerID != sellerID {
			return nil, ErrNotFound
		}
		return product, nil
	}

	args = append(args, productID, sellerID)
	query := fmt.Sprintf(
		"UPDATE products SET %s, updated_at = NOW() WHERE id = $%d AND seller_id = $%d RETURNING %s",
		strings.Join(sets, ", "), len(args)-1, len(args), productColumns)

	var product models.Product
	err := s.db.GetContext(ctx, &product, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	return &product, nil
}

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
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CatalogService serves product search and seller product management
type CatalogService struct {
	store  CatalogStore
	logger *zap.Logger
}

func NewCatalogService(store CatalogStore) *CatalogService {
	return &CatalogService{store: store, logger: util.GetLogger()}
}

// Search returns one page of active products matching f
func (s *CatalogService) Search(ctx context.Context, f models.ProductFilter) (*models.ProductPage, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.Search")
	defer span.End()

	f.IncludeInactive = false
	if err := validateFilter(&f); err != nil {
		return nil, err
	}

	page, err := s.store.SearchProducts(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	return page, nil
}

func validateFilter(f *models.ProductFilter) error {
	f.Search = strings.TrimSpace(f.Search)
	f.Brand = strings.TrimSpace(f.Brand)
	f.Condition = strings.ToLower(strings.TrimSpace(f.Condition))
	if f.Condition != "" && !models.ValidCondition(f.Condition) {
		return validationError("unknown condition %q", f.Condition)
	}
	if f.MinPrice != nil && f.MinPrice.IsNegative() {
		return validationError("minPrice must not be negative")
	}
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		return validationError("minPrice must not exceed maxPrice")
	}
	if f.CategoryID != "" {
		if _, err := uuid.Parse(f.CategoryID); err != nil {
			return validationError("categoryId must be a UUID")
		}
	}
	f.Normalize()
	return nil
}

// ProductInput is a seller's new product listing
type ProductInput struct {
	CategoryID    *string         `json:"categoryId" binding:"omitempty,uuid"`
	Name          string          `json:"name" binding:"required,notblank,max=255"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price" binding:"gt=0"`
	StockQuantity int             `json:"stockQuantity" binding:"min=0"`
	Brand         string          `json:"brand"`
	Model         string          `json:"model"`
	YearFrom      *int            `json:"yearFrom"`
	YearTo        *int            `json:"yearTo"`
	PartNumber    string          `json:"partNumber"`
	Condition     string          `json:"condition"`
	Images        []string        `json:"images"`
	Featured      bool            `json:"featured"`
}

// ProductUpdate is a partial edit; absent fields keep their value
type ProductUpdate struct {
	Name          *string          `json:"name" binding:"omitempty,notblank,max=255"`
	Description   *string          `json:"description"`
	Price         *decimal.Decimal `json:"price" binding:"omitempty,gt=0"`
	StockQuantity *int             `json:"stockQuantity" binding:"omitempty,min=0"`
	Brand         *string          `json:"brand"`
	Condition     *string          `json:"condition"`
	Images        []string         `json:"images"`
	IsActive      *bool            `json:"isActive"`
	Featured      *bool            `json:"featured"`
}

func (s *CatalogService) CreateProduct(ctx context.Context, sellerID string, in *ProductInput) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.CreateProduct")
	defer span.End()

	if sellerID == "" {
		return nil, ErrNotAuthenticated
	}

	if err := validateRequest(in); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	condition := strings.ToLower(strings.TrimSpace(in.Condition))
	if condition == "" {
		condition = models.ConditionNew
	}
	if !models.ValidCondition(condition) {
		return nil, validationError("unknown condition %q", in.Condition)
	}
	if in.YearFrom != nil && in.YearTo != nil && *in.YearFrom > *in.YearTo {
		return nil, validationError("yearFrom must not exceed yearTo")
	}

	product := &models.Product{
		SellerID:      sellerID,
		CategoryID:    in.CategoryID,
		Name:          name,
		Description:   strings.TrimSpace(in.Description),
		Price:         in.Price.Round(2),
		StockQuantity: in.StockQuantity,
		Brand:         strings.TrimSpace(in.Brand),
		Model:         strings.TrimSpace(in.Model),
		YearFrom:      in.YearFrom,
		YearTo:        in.YearTo,
		PartNumber:    strings.TrimSpace(in.PartNumber),
		Condition:     condition,
		Images:        in.Images,
		IsActive:      true,
		Featured:      in.Featured,
	}
	if err := s.store.CreateProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created", zap.String("product_id", product.ID), zap.String("seller_id", sellerID))
	return product, nil
}

func (s *CatalogService) UpdateProduct(ctx context.Context, sellerID, productID string, in *ProductUpdate) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.UpdateProduct")
	defer span.End()

	if sellerID == "" {
		return nil, ErrNotAuthenticated
	}
	if _, err := uuid.Parse(productID); err != nil {
		return nil, ErrNotFound
	}
	if err := validateRequest(in); err != nil {
		return nil, err
	}

	patch := store.ProductPatch{
		Description:   in.Description,
		StockQuantity: in.StockQuantity,
		Brand:         in.Brand,
		Images:        in.Images,
		IsActive:      in.IsActive,
		Featured:      in.Featured,
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		patch.Name = &name
	}
	if in.Price != nil {
		price := in.Price.Round(2)
		patch.Price = &price
	}
	if in.Condition != nil {
		condition := strings.ToLower(strings.TrimSpace(*in.Condition))
		if !models.ValidCondition(condition) {
			return nil, validationError("unknown condition %q", *in.Condition)
		}
		patch.Condition = &condition
	}

	product, err := s.store.UpdateProduct(ctx, sellerID, productID, patch)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	return product, nil
}

// ListSellerProducts returns the seller's own products including inactive ones
func (s *CatalogService) ListSellerProducts(ctx context.Context, sellerID string, page, limit int) (*models.ProductPage, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.ListSellerProducts")
	defer span.End()

	if sellerID == "" {
		return nil, ErrNotAuthenticated
	}
	f := models.ProductFilter{SellerID: sellerID, IncludeInactive: true, Page: page, Limit: limit}
	f.Normalize()

	result, err := s.store.SearchProducts(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list seller products: %w", err)
	}
	return result, nil
}

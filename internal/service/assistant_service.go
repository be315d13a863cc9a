package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"checkout-service/internal/assistant"
	"checkout-service/internal/models"
	"checkout-service/internal/ratelimit"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

const assistantSearchLimit = 6

// Completer is satisfied by *assistant.Client
type Completer interface {
	Configured() bool
	Complete(ctx context.Context, messages []assistant.Message) (string, error)
}

// ProductSearcher is satisfied by *store.Store
type ProductSearcher interface {
	SearchProducts(ctx context.Context, f models.ProductFilter) (*models.ProductPage, error)
}

// AssistantService proxies the shopping assistant and turns its product lookups into catalog searches
type AssistantService struct {
	completer Completer
	products  ProductSearcher
	limiter   ratelimit.Limiter
	logger    *zap.Logger
}

func NewAssistantService(completer Completer, products ProductSearcher, limiter ratelimit.Limiter) *AssistantService {
	return &AssistantService{
		completer: completer,
		products:  products,
		limiter:   limiter,
		logger:    util.GetLogger(),
	}
}

type ChatRequest struct {
	UserID              string              `json:"-"`
	Message             string              `json:"message" binding:"required,notblank"`
	ConversationHistory []assistant.Message `json:"conversationHistory"`
}

type ChatResponse struct {
	Message  string           `json:"message"`
	Products []models.Product `json:"products,omitempty"`
}

// RateLimitError carries how long the caller should wait
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%v: retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// UpstreamError is an assistant backend failure surfaced as 502
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("assistant service error: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (s *AssistantService) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	ctx, span := util.StartSpan(ctx, "AssistantService.Chat")
	defer span.End()

	if req.UserID == "" {
		return nil, ErrNotAuthenticated
	}

	if s.limiter != nil {
		decision, err := s.limiter.Allow(ctx, req.UserID)
		if err != nil {
			// fail open
			s.logger.Warn("Rate limiter unavailable", zap.Error(err))
		} else if !decision.Allowed {
			util.RateLimitedTotal.WithLabelValues("assistant").Inc()
			util.AssistantRequestsTotal.WithLabelValues("rate_limited").Inc()
			return nil, &RateLimitError{RetryAfter: decision.RetryAfter}
		}
	}

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if s.completer == nil || !s.completer.Configured() {
		util.AssistantRequestsTotal.WithLabelValues("unconfigured").Inc()
		return nil, fmt.Errorf("%w: assistant is not configured on the server", ErrServiceUnavailable)
	}

	reply, err := s.completer.Complete(ctx, assistant.BuildConversation(req.Message, req.ConversationHistory))
	if errors.Is(err, assistant.ErrNotConfigured) {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if err != nil {
		util.AssistantRequestsTotal.WithLabelValues("upstream_error").Inc()
		return nil, &UpstreamError{Err: err}
	}

	display, search := assistant.ExtractSearch(reply)
	resp := &ChatResponse{Message: display}

	if search != nil {
		products, err := s.searchFor(ctx, search)
		if err != nil {
			s.logger.Error("Assistant product search failed", zap.Error(err))
		} else {
			resp.Products = products
		}
	}

	util.AssistantRequestsTotal.WithLabelValues("ok").Inc()
	return resp, nil
}

// FilterFromSearch maps a SEARCH block onto a catalog filter. Unknown conditions and
// negative prices are dropped rather than rejected.
func FilterFromSearch(req *assistant.SearchRequest) models.ProductFilter {
	f := models.ProductFilter{
		Search:        strings.TrimSpace(req.Search),
		Brand:         strings.TrimSpace(req.Brand),
		FeaturedFirst: true,
		Page:          1,
		Limit:         assistantSearchLimit,
	}
	if c := strings.ToLower(strings.TrimSpace(req.Condition)); models.ValidCondition(c) {
		f.Condition = c
	}
	if req.MinPrice != nil && !req.MinPrice.IsNegative() {
		f.MinPrice = req.MinPrice
	}
	if req.MaxPrice != nil && !req.MaxPrice.IsNegative() {
		f.MaxPrice = req.MaxPrice
	}
	return f
}

func (s *AssistantService) searchFor(ctx context.Context, req *assistant.SearchRequest) ([]models.Product, error) {
	if s.products == nil {
		return nil, nil
	}
	page, err := s.products.SearchProducts(ctx, FilterFromSearch(req))
	if err != nil {
		return nil, err
	}
	if len(page.Products) == 0 {
		return nil, nil
	}
	return page.Products, nil
}

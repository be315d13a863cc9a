package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"checkout-service/internal/auth"
	"checkout-service/internal/models"
	"checkout-service/internal/ratelimit"
	"checkout-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const defaultAppOrigin = "http://localhost:5173"

type OrderService interface {
	CreateOrderFromCart(ctx context.Context, req *service.CreateOrderRequest) (*service.CreateOrderResponse, error)
	GetOrder(ctx context.Context, buyerID, orderID string) (*models.OrderWithItems, error)
	ListOrders(ctx context.Context, buyerID string) ([]models.OrderWithItems, error)
}

type CheckoutService interface {
	CreateSession(ctx context.Context, req *service.CreateSessionRequest) (*service.CreateSessionResponse, error)
	Capture(ctx context.Context, req *service.CaptureRequest) (*service.CaptureResponse, error)
	GetPayment(ctx context.Context, buyerID, orderID string) (*service.PaymentView, error)
}

type CartService interface {
	GetCart(ctx context.Context, userID string) (*service.CartView, error)
	AddItem(ctx context.Context, userID, productID string, quantity int) (*models.CartItem, error)
	UpdateQuantity(ctx context.Context, userID, itemID string, quantity int) (*models.CartItem, error)
	RemoveItem(ctx context.Context, userID, itemID string) error
	Clear(ctx context.Context, userID string) error
}

type CatalogService interface {
	Search(ctx context.Context, f models.ProductFilter) (*models.ProductPage, error)
	CreateProduct(ctx context.Context, sellerID string, in *service.ProductInput) (*models.Product, error)
	UpdateProduct(ctx context.Context, sellerID, productID string, in *service.ProductUpdate) (*models.Product, error)
	ListSellerProducts(ctx context.Context, sellerID string, page, limit int) (*models.ProductPage, error)
}

type AssistantService interface {
	Chat(ctx context.Context, req *service.ChatRequest) (*service.ChatResponse, error)
}

// Pinger is a dependency checked by /ready
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders          OrderService
	checkout        CheckoutService
	carts           CartService
	catalog         CatalogService
	assistant       AssistantService
	validator       *auth.Validator
	checkoutLimiter ratelimit.Limiter
	appOrigin       string
	readiness       map[string]Pinger
}

// Options wires a Handler
type Options struct {
	Orders          OrderService
	Checkout        CheckoutService
	Carts           CartService
	Catalog         CatalogService
	Assistant       AssistantService
	Validator       *auth.Validator
	CheckoutLimiter ratelimit.Limiter
	AppOrigin       string
	Readiness       map[string]Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(opts Options) *Handler {
	return &Handler{
		orders:          opts.Orders,
		checkout:        opts.Checkout,
		carts:           opts.Carts,
		catalog:         opts.Catalog,
		assistant:       opts.Assistant,
		validator:       opts.Validator,
		checkoutLimiter: opts.CheckoutLimiter,
		appOrigin:       strings.TrimRight(opts.AppOrigin, "/"),
		readiness:       opts.Readiness,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", auth.Middleware(h.validator))
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/payment", h.getPayment)

		v1.POST("/checkout", rateLimitMiddleware(h.checkoutLimiter, "checkout"), h.checkoutAction)

		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PATCH("/cart/items/:id", h.updateCartItem)
		v1.DELETE("/cart/items/:id", h.removeCartItem)
		v1.DELETE("/cart", h.clearCart)

		v1.GET("/products", h.searchProducts)

		seller := v1.Group("/seller")
		seller.GET("/products", h.listSellerProducts)
		seller.POST("/products", h.createProduct)
		seller.PATCH("/products/:id", h.updateProduct)

		v1.POST("/assistant/chat", h.assistantChat)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every backing dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, p := range h.readiness {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// createOrder turns the caller's cart into a pending order
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, service.BindingError(err))
		return
	}

	req.BuyerID = auth.UserID(c)
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	resp, err := h.orders.CreateOrderFromCart(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) getPayment(c *gin.Context) {
	view, err := h.checkout.GetPayment(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type checkoutRequest struct {
	OrderID       string `json:"orderId" binding:"required,notblank"`
	Action        string `json:"action" binding:"omitempty,oneof=create capture"`
	PayPalOrderID string `json:"paypalOrderId" binding:"required_if=Action capture"`
}

// checkoutAction opens a PayPal session, or captures one when action is "capture"
func (h *Handler) checkoutAction(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, service.BindingError(err))
		return
	}

	// the binding tags restrict Action to create, capture or empty
	switch req.Action {
	case "", "create":
		resp, err := h.checkout.CreateSession(c.Request.Context(), &service.CreateSessionRequest{
			BuyerID:   auth.UserID(c),
			OrderID:   req.OrderID,
			AppOrigin: h.origin(c),
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)

	case "capture":
		resp, err := h.checkout.Capture(c.Request.Context(), &service.CaptureRequest{
			BuyerID:   auth.UserID(c),
			OrderID:   req.OrderID,
			SessionID: req.PayPalOrderID,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// origin is where PayPal sends the buyer back to
func (h *Handler) origin(c *gin.Context) string {
	if h.appOrigin != "" {
		return h.appOrigin
	}
	if o := c.GetHeader("Origin"); o != "" {
		return o
	}
	return defaultAppOrigin
}

func (h *Handler) getCart(c *gin.Context) {
	view, err := h.carts.GetCart(c.Request.Context(), auth.UserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

type addCartItemRequest struct {
	ProductID string `json:"productId" binding:"required,notblank"`
	Quantity  *int   `json:"quantity" binding:"omitempty,min=1"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, service.BindingError(err))
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	item, err := h.carts.AddItem(c.Request.Context(), auth.UserID(c), req.ProductID, quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) updateCartItem(c *gin.Context) {
	var req updateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, service.BindingError(err))
		return
	}

	item, err := h.carts.UpdateQuantity(c.Request.Context(), auth.UserID(c), c.Param("id"), *req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	if item == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	if err := h.carts.RemoveItem(c.Request.Context(), auth.UserID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) clearCart(c *gin.Context) {
	if err := h.carts.Clear(c.Request.Context(), auth.UserID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type pageQuery struct {
	Page  int `form:"page" binding:"omitempty,min=1"`
	Limit int `form:"limit" binding:"omitempty,min=1"`
}

type productQuery struct {
	Page      int    `form:"page" binding:"omitempty,min=1"`
	Limit     int    `form:"limit" binding:"omitempty,min=1"`
	Category  string `form:"category"`
	Search    string `form:"search"`
	Condition string `form:"condition"`
	Brand     string `form:"brand"`
	MinPrice  string `form:"minPrice" binding:"omitempty,numeric"`
	MaxPrice  string `form:"maxPrice" binding:"omitempty,numeric"`
}

// searchProducts reads a ProductFilter from the query string
func (h *Handler) searchProducts(c *gin.Context) {
	var q productQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, service.BindingError(err))
		return
	}

	f := models.ProductFilter{
		CategoryID: q.Category,
		Search:     q.Search,
		Condition:  q.Condition,
		Brand:      q.Brand,
		Page:       q.Page,
		Limit:      q.Limit,
	}
	var err error
	if f.MinPrice, err = optionalDecimal(q.MinPrice); err != nil {
		badRequest(c, "Invalid minPrice", err)
		return
	}
	if f.MaxPrice, err = optionalDecimal(q.MaxPrice); err != nil {
		badRequest(c, "Invalid maxPrice", err)
		return
	}

	page, err := h.catalog.Search(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func optionalDecimal(raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (h *Handler) listSellerProducts(c *gin.Context) {
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, service.BindingError(err))
		return
	}

	result, err := h.catalog.ListSellerProducts(c.Request.Context(), auth.UserID(c), q.Page, q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) createProduct(c *gin.Context) {
	var req service.ProductInput
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, service.BindingError(err))
		return
	}

	product, err := h.catalog.CreateProduct(c.Request.Context(), auth.UserID(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product)
}

func (h *Handler) updateProduct(c *gin.Context) {
	var req service.ProductUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, service.BindingError(err))
		return
	}

	product, err := h.catalog.UpdateProduct(c.Request.Context(), auth.UserID(c), c.Param("id"), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *Handler) assistantChat(c *gin.Context) {
	var req service.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, service.BindingError(err))
		return
	}
	req.UserID = auth.UserID(c)

	resp, err := h.assistant.Chat(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

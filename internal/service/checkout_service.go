package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"checkout-service/internal/models"
	"checkout-service/internal/paypal"
	"checkout-service/internal/pricing"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	maxItemNameLength = 127
	defaultBrandName  = "CarParts Pro"
)

// CheckoutService opens processor checkout sessions and reconciles their captures
type CheckoutService struct {
	orders         OrderStore
	payments       PaymentStore
	processor      PaymentProcessor
	eventPublisher EventPublisher
	brandName      string
	logger         *zap.Logger
}

func NewCheckoutService(
	orders OrderStore,
	payments PaymentStore,
	processor PaymentProcessor,
	eventPublisher EventPublisher,
	brandName string,
) *CheckoutService {
	if brandName == "" {
		brandName = defaultBrandName
	}
	return &CheckoutService{
		orders:         orders,
		payments:       payments,
		processor:      processor,
		eventPublisher: publisherOrNop(eventPublisher),
		brandName:      brandName,
		logger:         util.GetLogger(),
	}
}

type CreateSessionRequest struct {
	BuyerID   string
	OrderID   string `json:"orderId" binding:"required,notblank"`
	AppOrigin string
}

type CreateSessionResponse struct {
	PayPalOrderID string `json:"paypalOrderId"`
	ApprovalURL   string `json:"approvalUrl"`
}

// CreateSession opens a PayPal checkout for a pending order and records it as the
// order's in-flight payment. Calling it again for the same pending order reuses that
// payment row.
func (s *CheckoutService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*CreateSessionResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateSession", attribute.String("order.id", req.OrderID))
	defer span.End()

	if req.BuyerID == "" {
		return nil, ErrNotAuthenticated
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if !s.processor.Configured() {
		util.CheckoutSessionsTotal.WithLabelValues("unconfigured").Inc()
		return nil, fmt.Errorf("%w: payment processor credentials are not configured", ErrServiceUnavailable)
	}

	order, err := loadOwnedOrder(ctx, s.orders, req.BuyerID, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusPending {
		util.CheckoutSessionsTotal.WithLabelValues("not_pending").Inc()
		return nil, ErrOrderAlreadyProcessed
	}

	totals := totalsFor(order.Items)
	if !totals.Matches(order.TotalAmount) {
		s.logger.Error("Order total drifted from its items",
			zap.String("order_id", order.ID),
			zap.String("stored", order.TotalAmount.StringFixed(2)),
			zap.String("computed", totals.Total.StringFixed(2)))
		util.CheckoutSessionsTotal.WithLabelValues("total_mismatch").Inc()
		return nil, ErrTotalMismatch
	}

	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ppOrder, err := s.processor.CreateOrder(ctx, token, s.buildOrderRequest(order, totals, req.AppOrigin))
	util.PaymentProcessorLatency.WithLabelValues("create_order").Observe(time.Since(start).Seconds())
	if err != nil {
		util.CheckoutSessionsTotal.WithLabelValues("processor_error").Inc()
		return nil, processorError("create order", err)
	}

	approvalURL := ppOrder.ApproveURL()
	if ppOrder.ID == "" || approvalURL == "" {
		util.CheckoutSessionsTotal.WithLabelValues("processor_error").Inc()
		return nil, processorError("create order", errors.New("no approval link returned"))
	}

	payment, err := s.payments.UpsertActivePayment(ctx, store.ActivePayment{
		OrderID:       order.ID,
		BuyerID:       order.BuyerID,
		Amount:        order.TotalAmount,
		SessionID:     ppOrder.ID,
		PaymentMethod: order.PaymentMethod,
	})
	if errors.Is(err, store.ErrNotPending) {
		util.CheckoutSessionsTotal.WithLabelValues("not_pending").Inc()
		return nil, ErrOrderAlreadyProcessed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	util.CheckoutSessionsTotal.WithLabelValues("created").Inc()
	s.logger.Info("Checkout session created",
		zap.String("order_id", order.ID),
		zap.String("payment_id", payment.ID),
		zap.String("paypal_order_id", ppOrder.ID))

	return &CreateSessionResponse{PayPalOrderID: ppOrder.ID, ApprovalURL: approvalURL}, nil
}

func totalsFor(items []models.OrderItem) pricing.Totals {
	lines := make([]pricing.Line, len(items))
	for i, item := range items {
		lines[i] = pricing.Line{UnitPrice: item.UnitPrice, Quantity: item.Quantity}
	}
	return pricing.Compute(lines)
}

// ReturnURLs builds the processor callbacks. PayPal appends token=<order id> to the
// success URL when it redirects the buyer back.
func ReturnURLs(origin, orderID string) (success, cancel string) {
	origin = strings.TrimRight(origin, "/")
	id := url.QueryEscape(orderID)
	return origin + "/payment/success?order_id=" + id, origin + "/payment/cancel?order_id=" + id
}

func (s *CheckoutService) buildOrderRequest(order *models.OrderWithItems, totals pricing.Totals, origin string) *paypal.CreateOrderRequest {
	items := make([]paypal.Item, 0, len(order.Items))
	for _, item := range order.Items {
		name := item.ProductName
		if name == "" {
			name = "Item " + item.ProductID
		}
		items = append(items, paypal.Item{
			Name:       truncate(name, maxItemNameLength),
			Quantity:   strconv.Itoa(item.Quantity),
			UnitAmount: paypal.Money{CurrencyCode: models.CurrencyUSD, Value: pricing.Format(item.UnitPrice)},
			Category:   "PHYSICAL_GOODS",
		})
	}

	shortID := order.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	success, cancel := ReturnURLs(origin, order.ID)

	return &paypal.CreateOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypal.PurchaseUnitRequest{{
			ReferenceID: order.ID,
			Description: fmt.Sprintf("%s Order #%s", s.brandName, shortID),
			Amount: paypal.Amount{
				CurrencyCode: models.CurrencyUSD,
				Value:        pricing.Format(totals.Total),
				Breakdown: &paypal.Breakdown{
					ItemTotal: paypal.Money{CurrencyCode: models.CurrencyUSD, Value: pricing.Format(totals.Subtotal)},
					TaxTotal:  paypal.Money{CurrencyCode: models.CurrencyUSD, Value: pricing.Format(totals.Tax)},
				},
			},
			Items: items,
		}},
		ApplicationContext: paypal.ApplicationContext{
			BrandName:   s.brandName,
			LandingPage: "LOGIN",
			UserAction:  "PAY_NOW",
			ReturnURL:   success,
			CancelURL:   cancel,
		},
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func (s *CheckoutService) accessToken(ctx context.Context) (string, error) {
	start := time.Now()
	token, err := s.processor.AccessToken(ctx)
	util.PaymentProcessorLatency.WithLabelValues("access_token").Observe(time.Since(start).Seconds())
	if errors.Is(err, paypal.ErrNotConfigured) {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if err != nil {
		return "", processorError("authenticate", err)
	}
	return token, nil
}

type CaptureRequest struct {
	BuyerID   string
	OrderID   string `json:"orderId" binding:"required,notblank"`
	SessionID string `json:"paypalOrderId" binding:"required,notblank"`
}

type CaptureResponse struct {
	Status    string `json:"status"`
	CaptureID string `json:"captureId,omitempty"`
}

// Capture captures an approved PayPal order and reconciles the payment and order rows.
// Replays are safe: a payment that already reached a terminal status is reported as
// stored, and the order confirmation and its event happen at most once.
func (s *CheckoutService) Capture(ctx context.Context, req *CaptureRequest) (*CaptureResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Capture",
		attribute.String("order.id", req.OrderID),
		attribute.String("paypal.order_id", req.SessionID))
	defer span.End()

	if req.BuyerID == "" {
		return nil, ErrNotAuthenticated
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	order, err := loadOwnedOrder(ctx, s.orders, req.BuyerID, req.OrderID)
	if err != nil {
		return nil, err
	}

	payment, err := s.payments.GetPaymentBySession(ctx, order.ID, req.SessionID)
	earlierSession := false
	if errors.Is(err, store.ErrNotFound) {
		// a later CreateSession may have replaced the session id on the active payment
		payment, err = s.payments.GetLatestPaymentByOrder(ctx, order.ID)
		if err == nil && !models.IsActivePayment(payment.Status) {
			err = store.ErrNotFound
		}
		earlierSession = err == nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}

	if !models.IsActivePayment(payment.Status) {
		s.logger.Info("Capture replay on settled payment",
			zap.String("order_id", order.ID),
			zap.String("payment_id", payment.ID),
			zap.String("status", payment.Status))
		util.PaymentCapturesTotal.WithLabelValues("replay").Inc()
		return &CaptureResponse{Status: payment.Status, CaptureID: payment.CaptureID()}, nil
	}
	if !models.CanTransitionOrder(order.Status, models.OrderStatusConfirmed) {
		return nil, ErrOrderAlreadyProcessed
	}
	if !s.processor.Configured() {
		return nil, fmt.Errorf("%w: payment processor credentials are not configured", ErrServiceUnavailable)
	}

	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	if earlierSession {
		if err := s.verifySessionOrder(ctx, token, order.ID, req.SessionID); err != nil {
			return nil, err
		}
		s.logger.Info("Capturing an earlier session of the order",
			zap.String("order_id", order.ID),
			zap.String("payment_id", payment.ID),
			zap.String("session_id", req.SessionID))
	}

	status, captureID, reason, err := s.captureAtProcessor(ctx, token, req.SessionID)
	if err != nil {
		util.PaymentCapturesTotal.WithLabelValues("processor_error").Inc()
		return nil, err
	}

	if !models.CanTransitionPayment(payment.Status, status) {
		return nil, fmt.Errorf("payment %s cannot move from %s to %s", payment.ID, payment.Status, status)
	}

	outcome, err := s.payments.ApplyCaptureResult(ctx, store.CaptureResult{
		PaymentID:     payment.ID,
		OrderID:       order.ID,
		BuyerID:       order.BuyerID,
		SessionID:     req.SessionID,
		Status:        status,
		CaptureID:     captureID,
		FailureReason: reason,
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record capture: %w", err)
	}

	settled := outcome.Payment
	util.PaymentCapturesTotal.WithLabelValues(settled.Status).Inc()
	s.logger.Info("Capture reconciled",
		zap.String("order_id", order.ID),
		zap.String("payment_id", settled.ID),
		zap.String("status", settled.Status),
		zap.Bool("payment_changed", outcome.PaymentChanged),
		zap.Bool("order_confirmed", outcome.OrderConfirmed))

	s.publishCaptureEvents(ctx, order, outcome, reason)

	return &CaptureResponse{Status: settled.Status, CaptureID: settled.CaptureID()}, nil
}

// verifySessionOrder checks with PayPal that sessionID was created for orderID
func (s *CheckoutService) verifySessionOrder(ctx context.Context, token, orderID, sessionID string) error {
	ppOrder, err := s.processor.GetOrder(ctx, token, sessionID)
	var apiErr *paypal.APIError
	if errors.As(err, &apiErr) && apiErr.SessionUnknown() {
		return ErrNotFound
	}
	if err != nil {
		return processorError("verify session", err)
	}
	if len(ppOrder.PurchaseUnits) == 0 || ppOrder.PurchaseUnits[0].ReferenceID != orderID {
		s.logger.Warn("Capture session belongs to another order",
			zap.String("order_id", orderID),
			zap.String("session_id", sessionID))
		return ErrNotFound
	}
	return nil
}

// captureAtProcessor maps PayPal's answer onto succeeded or failed. Only errors that leave
// the outcome unknown are returned as errors; those leave every row untouched.
func (s *CheckoutService) captureAtProcessor(ctx context.Context, token, sessionID string) (status, captureID, reason string, err error) {
	start := time.Now()
	ppOrder, err := s.processor.CaptureOrder(ctx, token, sessionID)
	util.PaymentProcessorLatency.WithLabelValues("capture").Observe(time.Since(start).Seconds())

	if err == nil {
		return mapCaptured(ppOrder)
	}

	var apiErr *paypal.APIError
	if !errors.As(err, &apiErr) {
		return "", "", "", processorError("capture", err)
	}

	switch {
	case apiErr.HasIssue(paypal.IssueOrderAlreadyCaptured):
		current, getErr := s.processor.GetOrder(ctx, token, sessionID)
		if getErr != nil {
			return "", "", "", processorError("verify capture", getErr)
		}
		return mapCaptured(current)
	case apiErr.SessionUnknown(), apiErr.HasIssue(paypal.IssueOrderNotApproved):
		return models.PaymentStatusFailed, "", apiErr.Description(), nil
	default:
		return "", "", "", processorError("capture", err)
	}
}

func mapCaptured(o *paypal.Order) (status, captureID, reason string, err error) {
	if o.Status == paypal.StatusCompleted {
		return models.PaymentStatusSucceeded, o.CaptureID(), "", nil
	}
	return models.PaymentStatusFailed, "", fmt.Sprintf("capture status %s", o.Status), nil
}

func (s *CheckoutService) publishCaptureEvents(ctx context.Context, order *models.OrderWithItems, outcome *store.CaptureOutcome, reason string) {
	p := outcome.Payment

	if outcome.PaymentChanged {
		var err error
		switch p.Status {
		case models.PaymentStatusSucceeded:
			err = s.eventPublisher.PublishPaymentSucceeded(ctx, &models.PaymentSucceededEvent{
				BaseEvent: models.NewBaseEvent(models.EventTypePaymentSucceeded),
				OrderID:   order.ID,
				PaymentID: p.ID,
				Amount:    p.Amount,
				CaptureID: p.CaptureID(),
			})
		case models.PaymentStatusFailed:
			err = s.eventPublisher.PublishPaymentFailed(ctx, &models.PaymentFailedEvent{
				BaseEvent: models.NewBaseEvent(models.EventTypePaymentFailed),
				OrderID:   order.ID,
				PaymentID: p.ID,
				Amount:    p.Amount,
				Reason:    reason,
			})
		}
		if err != nil {
			s.logger.Error("Failed to publish payment event", zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	if outcome.OrderConfirmed {
		util.OrdersConfirmedTotal.Inc()
		err := s.eventPublisher.PublishOrderConfirmed(ctx, &models.OrderConfirmedEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeOrderConfirmed),
			OrderID:   order.ID,
			BuyerID:   order.BuyerID,
			PaymentID: p.ID,
			CaptureID: p.CaptureID(),
			Amount:    p.Amount,
		})
		if err != nil {
			s.logger.Error("Failed to publish OrderConfirmed event", zap.String("order_id", order.ID), zap.Error(err))
		}
	}
}

// PaymentView is an order's latest payment attempt with its audit trail
type PaymentView struct {
	Payment *models.Payment       `json:"payment"`
	Events  []models.PaymentEvent `json:"events"`
}

// GetPayment returns the latest payment attempt for an order the buyer owns
func (s *CheckoutService) GetPayment(ctx context.Context, buyerID, orderID string) (*PaymentView, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.GetPayment", attribute.String("order.id", orderID))
	defer span.End()

	order, err := loadOwnedOrder(ctx, s.orders, buyerID, orderID)
	if err != nil {
		return nil, err
	}

	payment, err := s.payments.GetLatestPaymentByOrder(ctx, order.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}

	events, err := s.payments.ListPaymentEvents(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment events: %w", err)
	}

	return &PaymentView{Payment: payment, Events: events}, nil
}

package service

import (
	"context"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/paypal"
	"checkout-service/internal/pricing"
	"checkout-service/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memStore mirrors the guarded writes of *store.Store in memory
type memStore struct {
	mu       sync.Mutex
	cart     map[string][]models.CartItem
	orders   map[string]*models.OrderWithItems
	payments []*models.Payment
	events   []models.PaymentEvent
	products map[string]*models.Product

	upserts  int
	failNext error
}

func newMemStore() *memStore {
	return &memStore{
		cart:     map[string][]models.CartItem{},
		orders:   map[string]*models.OrderWithItems{},
		products: map[string]*models.Product{},
	}
}

func (m *memStore) addCartLine(userID, price string, qty int, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cart[userID] = append(m.cart[userID], models.CartItem{
		ID:            uuid.NewString(),
		UserID:        userID,
		ProductID:     uuid.NewString(),
		Quantity:      qty,
		ProductName:   "Brake Pad Set",
		SellerID:      uuid.NewString(),
		Price:         decimal.RequireFromString(price),
		ProductActive: active,
	})
}

// seedOrder inserts a priced order directly
func (m *memStore) seedOrder(buyerID, status string, lines ...pricing.Line) *models.OrderWithItems {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := &models.OrderWithItems{Order: models.Order{
		ID:            uuid.NewString(),
		BuyerID:       buyerID,
		Status:        status,
		PaymentMethod: models.PaymentMethodPayPal,
		CreatedAt:     time.Now(),
	}}
	for _, l := range lines {
		o.Items = append(o.Items, models.OrderItem{
			ID:          uuid.NewString(),
			OrderID:     o.ID,
			ProductID:   uuid.NewString(),
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TotalPrice:  l.Total(),
			ProductName: "Brake Pad Set",
		})
	}
	o.TotalAmount = pricing.Compute(lines).Total
	m.orders[o.ID] = o
	return o
}

func (m *memStore) order(id string) models.OrderWithItems {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[id]
}

func (m *memStore) paymentsFor(orderID string) []models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	return out
}

func (m *memStore) CreateOrderFromCart(_ context.Context, in store.NewOrder) (*models.OrderWithItems, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return nil, err
	}

	var active, rest []models.CartItem
	for _, item := range m.cart[in.BuyerID] {
		if item.ProductActive {
			active = append(active, item)
		} else {
			rest = append(rest, item)
		}
	}
	if len(active) == 0 {
		return nil, store.ErrEmptyCart
	}

	o := &models.OrderWithItems{Order: models.Order{
		ID:              uuid.NewString(),
		BuyerID:         in.BuyerID,
		Status:          models.OrderStatusPending,
		ShippingAddress: in.ShippingAddress,
		PaymentMethod:   in.PaymentMethod,
		Notes:           in.Notes,
		IdempotencyKey:  in.IdempotencyKey,
		CreatedAt:       time.Now(),
	}}
	lines := make([]pricing.Line, 0, len(active))
	for _, item := range active {
		if item.Quantity <= 0 {
			return nil, store.ErrInvalidQuantity
		}
		line := pricing.Line{UnitPrice: item.Price, Quantity: item.Quantity}
		lines = append(lines, line)
		o.Items = append(o.Items, models.OrderItem{
			ID:          uuid.NewString(),
			OrderID:     o.ID,
			ProductID:   item.ProductID,
			SellerID:    item.SellerID,
			Quantity:    item.Quantity,
			UnitPrice:   item.Price,
			TotalPrice:  line.Total(),
			ProductName: item.ProductName,
		})
	}
	o.TotalAmount = pricing.Compute(lines).Total

	m.orders[o.ID] = o
	m.cart[in.BuyerID] = rest
	copied := *o
	return &copied, nil
}

func (m *memStore) GetOrderByIdempotencyKey(_ context.Context, buyerID, key string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.BuyerID == buyerID && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			copied := o.Order
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetOrderWithItems(_ context.Context, id string) (*models.OrderWithItems, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *o
	return &copied, nil
}

func (m *memStore) ListOrdersByBuyer(_ context.Context, buyerID string) ([]models.OrderWithItems, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.OrderWithItems{}
	for _, o := range m.orders {
		if o.BuyerID == buyerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m *memStore) UpsertActivePayment(_ context.Context, in store.ActivePayment) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++

	o, ok := m.orders[in.OrderID]
	if !ok || o.BuyerID != in.BuyerID || o.Status != models.OrderStatusPending {
		return nil, store.ErrNotPending
	}

	session := in.SessionID
	for _, p := range m.payments {
		if p.OrderID == in.OrderID && models.IsActivePayment(p.Status) {
			p.ExternalSessionID = &session
			p.Amount = in.Amount
			p.Status = models.PaymentStatusProcessing
			p.FailureReason = nil
			copied := *p
			return &copied, nil
		}
	}

	p := &models.Payment{
		ID:                uuid.NewString(),
		OrderID:           in.OrderID,
		BuyerID:           in.BuyerID,
		Amount:            in.Amount,
		Currency:          models.CurrencyUSD,
		ExternalSessionID: &session,
		Status:            models.PaymentStatusProcessing,
		PaymentMethod:     in.PaymentMethod,
		CreatedAt:         time.Now(),
	}
	m.payments = append(m.payments, p)
	copied := *p
	return &copied, nil
}

func (m *memStore) GetPaymentBySession(_ context.Context, orderID, sessionID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.payments) - 1; i >= 0; i-- {
		p := m.payments[i]
		if p.OrderID == orderID && p.ExternalSessionID != nil && *p.ExternalSessionID == sessionID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) GetLatestPaymentByOrder(_ context.Context, orderID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.payments) - 1; i >= 0; i-- {
		if m.payments[i].OrderID == orderID {
			copied := *m.payments[i]
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ApplyCaptureResult(_ context.Context, res store.CaptureResult) (*store.CaptureOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var p *models.Payment
	for _, candidate := range m.payments {
		if candidate.ID == res.PaymentID && candidate.OrderID == res.OrderID {
			p = candidate
		}
	}
	if p == nil {
		return nil, store.ErrNotFound
	}

	outcome := &store.CaptureOutcome{}
	if models.IsActivePayment(p.Status) && models.CanTransitionPayment(p.Status, res.Status) {
		p.Status = res.Status
		if res.CaptureID != "" {
			id := res.CaptureID
			p.ExternalCaptureID = &id
		}
		if res.SessionID != "" {
			session := res.SessionID
			p.ExternalSessionID = &session
		}
		if res.FailureReason != "" {
			reason := res.FailureReason
			p.FailureReason = &reason
		}
		outcome.PaymentChanged = true
	}

	if p.Status == models.PaymentStatusSucceeded {
		o := m.orders[res.OrderID]
		if o != nil && o.BuyerID == res.BuyerID && o.Status == models.OrderStatusPending {
			o.Status = models.OrderStatusConfirmed
			outcome.OrderConfirmed = true
		}
	}

	copied := *p
	outcome.Payment = &copied
	return outcome, nil
}

func (m *memStore) ListPaymentEvents(_ context.Context, orderID string) ([]models.PaymentEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.PaymentEvent{}
	for _, e := range m.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

// fakeProcessor stands in for the PayPal client
type fakeProcessor struct {
	mu         sync.Mutex
	configured bool
	tokenErr   error

	createResp *paypal.Order
	createErr  error
	captureFn  func(id string) (*paypal.Order, error)
	getFn      func(id string) (*paypal.Order, error)

	lastCreate *paypal.CreateOrderRequest
	creates    int
	captures   int
	gets       int
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		configured: true,
		createResp: &paypal.Order{
			ID:     "PP-ORDER-1",
			Status: paypal.StatusCreated,
			Links: []paypal.Link{
				{Rel: "self", Href: "https://api.sandbox.paypal.com/v2/checkout/orders/PP-ORDER-1"},
				{Rel: "approve", Href: "https://www.sandbox.paypal.com/checkoutnow?token=PP-ORDER-1"},
			},
		},
		captureFn: func(id string) (*paypal.Order, error) { return completedOrder(id, "CAP-1"), nil },
	}
}

func completedOrder(id, captureID string) *paypal.Order {
	return &paypal.Order{
		ID:     id,
		Status: paypal.StatusCompleted,
		PurchaseUnits: []paypal.PurchaseUnit{{
			Payments: paypal.Payments{Captures: []paypal.Capture{{ID: captureID, Status: "COMPLETED"}}},
		}},
	}
}

func (f *fakeProcessor) Configured() bool { return f.configured }

func (f *fakeProcessor) AccessToken(context.Context) (string, error) {
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return "token", nil
}

func (f *fakeProcessor) CreateOrder(_ context.Context, _ string, req *paypal.CreateOrderRequest) (*paypal.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	f.lastCreate = req
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createResp, nil
}

func (f *fakeProcessor) CaptureOrder(_ context.Context, _ string, id string) (*paypal.Order, error) {
	f.mu.Lock()
	f.captures++
	fn := f.captureFn
	f.mu.Unlock()
	return fn(id)
}

func (f *fakeProcessor) GetOrder(_ context.Context, _ string, id string) (*paypal.Order, error) {
	f.mu.Lock()
	f.gets++
	fn := f.getFn
	f.mu.Unlock()
	if fn == nil {
		return completedOrder(id, "CAP-1"), nil
	}
	return fn(id)
}

// recordingPublisher keeps every published event type in order
type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) add(t string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, t)
	return nil
}

func (p *recordingPublisher) count(t string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, got := range p.types {
		if got == t {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	return p.add(e.EventType)
}

func (p *recordingPublisher) PublishOrderConfirmed(_ context.Context, e *models.OrderConfirmedEvent) error {
	return p.add(e.EventType)
}

func (p *recordingPublisher) PublishPaymentSucceeded(_ context.Context, e *models.PaymentSucceededEvent) error {
	return p.add(e.EventType)
}

func (p *recordingPublisher) PublishPaymentFailed(_ context.Context, e *models.PaymentFailedEvent) error {
	return p.add(e.EventType)
}

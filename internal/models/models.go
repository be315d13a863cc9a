package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Product represents a catalog product offered by a seller
type Product struct {
	ID            string          `db:"id" json:"id"`
	SellerID      string          `db:"seller_id" json:"seller_id"`
	CategoryID    *string         `db:"category_id" json:"category_id,omitempty"`
	Name          string          `db:"name" json:"name"`
	Description   string          `db:"description" json:"description"`
	Price         decimal.Decimal `db:"price" json:"price"`
	StockQuantity int             `db:"stock_quantity" json:"stock_quantity"`
	Brand         string          `db:"brand" json:"brand"`
	Model         string          `db:"model" json:"model"`
	YearFrom      *int            `db:"year_from" json:"year_from,omitempty"`
	YearTo        *int            `db:"year_to" json:"year_to,omitempty"`
	PartNumber    string          `db:"part_number" json:"part_number"`
	Condition     string          `db:"condition" json:"condition"`
	Images        pq.StringArray  `db:"images" json:"images"`
	IsActive      bool            `db:"is_active" json:"is_active"`
	Featured      bool            `db:"featured" json:"featured"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// Product conditions
const (
	ConditionNew         = "new"
	ConditionUsed        = "used"
	ConditionRefurbished = "refurbished"
)

// ValidCondition reports whether c is a known product condition
func ValidCondition(c string) bool {
	switch c {
	case ConditionNew, ConditionUsed, ConditionRefurbished:
		return true
	}
	return false
}

// CartItem is a buyer's cart line joined with the live product it references
type CartItem struct {
	ID            string          `db:"id" json:"id"`
	UserID        string          `db:"user_id" json:"user_id"`
	ProductID     string          `db:"product_id" json:"product_id"`
	Quantity      int             `db:"quantity" json:"quantity"`
	ProductName   string          `db:"product_name" json:"product_name"`
	SellerID      string          `db:"seller_id" json:"seller_id"`
	Price         decimal.Decimal `db:"price" json:"price"`
	ProductActive bool            `db:"is_active" json:"is_active"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// ShippingAddress is stored as JSONB on the order row
type ShippingAddress struct {
	FullName     string `json:"full_name" binding:"required,notblank"`
	AddressLine1 string `json:"address_line1" binding:"required,notblank"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city" binding:"required,notblank"`
	State        string `json:"state" binding:"required,notblank"`
	ZipCode      string `json:"zip_code" binding:"required,notblank"`
	Country      string `json:"country"`
	Phone        string `json:"phone,omitempty"`
}

func (a ShippingAddress) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *ShippingAddress) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = ShippingAddress{}
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("unsupported shipping address type %T", src)
	}
}

// Order represents a buyer's order with a price-locked total
type Order struct {
	ID              string          `db:"id" json:"id"`
	BuyerID         string          `db:"buyer_id" json:"buyer_id"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status          string          `db:"status" json:"status"`
	ShippingAddress ShippingAddress `db:"shipping_address" json:"shipping_address"`
	PaymentMethod   string          `db:"payment_method" json:"payment_method"`
	Notes           *string         `db:"notes" json:"notes,omitempty"`
	IdempotencyKey  *string         `db:"idempotency_key" json:"-"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem is an immutable line of an order. UnitPrice is the price at order creation.
type OrderItem struct {
	ID          string          `db:"id" json:"id"`
	OrderID     string          `db:"order_id" json:"order_id"`
	ProductID   string          `db:"product_id" json:"product_id"`
	SellerID    string          `db:"seller_id" json:"seller_id"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice  decimal.Decimal `db:"total_price" json:"total_price"`
	ProductName string          `db:"product_name" json:"product_name,omitempty"`
}

// OrderWithItems groups an order and its lines
type OrderWithItems struct {
	Order
	Items []OrderItem `json:"items"`
}

// Payment tracks one external payment attempt for an order
type Payment struct {
	ID                string          `db:"id" json:"id"`
	OrderID           string          `db:"order_id" json:"order_id"`
	BuyerID           string          `db:"buyer_id" json:"buyer_id"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Currency          string          `db:"currency" json:"currency"`
	ExternalSessionID *string         `db:"external_session_id" json:"external_session_id,omitempty"`
	ExternalCaptureID *string         `db:"external_capture_id" json:"external_capture_id,omitempty"`
	Status            string          `db:"status" json:"status"`
	PaymentMethod     string          `db:"payment_method" json:"payment_method"`
	ReceiptURL        *string         `db:"receipt_url" json:"receipt_url,omitempty"`
	FailureReason     *string         `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// CaptureID returns the external capture id or an empty string
func (p *Payment) CaptureID() string {
	if p.ExternalCaptureID == nil {
		return ""
	}
	return *p.ExternalCaptureID
}

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusShipping  = "shipping"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// Payment statuses
const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusSucceeded  = "succeeded"
	PaymentStatusFailed     = "failed"
	PaymentStatusRefunded   = "refunded"
	PaymentStatusCancelled  = "cancelled"
)

const (
	CurrencyUSD         = "USD"
	PaymentMethodPayPal = "paypal"
	DefaultCountry      = "US"
)

var paymentTransitions = map[string][]string{
	PaymentStatusPending:    {PaymentStatusProcessing, PaymentStatusSucceeded, PaymentStatusFailed},
	PaymentStatusProcessing: {PaymentStatusSucceeded, PaymentStatusFailed},
	PaymentStatusSucceeded:  {PaymentStatusRefunded},
}

// CanTransitionPayment reports whether a payment may move from one status to another.
// The status guards in the payment UPDATE statements enforce the same table. Re-applying the current status is allowed for non-terminal states so a new session
// can be attached to a processing payment.
func CanTransitionPayment(from, to string) bool {
	if from == to {
		return from == PaymentStatusPending || from == PaymentStatusProcessing
	}
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsActivePayment reports whether a payment status is non-terminal
func IsActivePayment(status string) bool {
	return status == PaymentStatusPending || status == PaymentStatusProcessing
}

// CanTransitionOrder covers the transitions this service performs, matching the
// status guard on the confirming UPDATE. Fulfillment statuses are owned elsewhere.
func CanTransitionOrder(from, to string) bool {
	return from == OrderStatusPending && to == OrderStatusConfirmed
}

// ProductFilter is a catalog query. Zero values mean "no filter" for that field.
type ProductFilter struct {
	CategoryID string
	Search     string
	MinPrice   *decimal.Decimal
	MaxPrice   *decimal.Decimal
	Condition  string
	Brand      string
	SellerID   string
	// FeaturedFirst orders featured products ahead of newer ones
	FeaturedFirst bool
	// IncludeInactive is only used for seller listings
	IncludeInactive bool
	Page            int
	Limit           int
}

const (
	DefaultPageSize = 12
	MaxPageSize     = 100
)

// Normalize applies paging defaults
func (f *ProductFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
}

// ProductPage is one page of catalog results
type ProductPage struct {
	Products   []Product `json:"products"`
	Count      int       `json:"count"`
	Page       int       `json:"page"`
	Limit      int       `json:"limit"`
	TotalPages int       `json:"total_pages"`
}

// PaymentEvent is an audit row written by the event worker
type PaymentEvent struct {
	ID         int64           `db:"id" json:"id"`
	EventID    string          `db:"event_id" json:"event_id"`
	EventType  string          `db:"event_type" json:"event_type"`
	OrderID    string          `db:"order_id" json:"order_id"`
	PaymentID  *string         `db:"payment_id" json:"payment_id,omitempty"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	Detail     string          `db:"detail" json:"detail"`
	OccurredAt time.Time       `db:"occurred_at" json:"occurred_at"`
}

package paypal

import (
	"fmt"
	"net/http"
	"strings"
)

// Order statuses returned by the Orders v2 API
const (
	StatusCreated   = "CREATED"
	StatusApproved  = "APPROVED"
	StatusCompleted = "COMPLETED"
)

// Issue codes the checkout flow reacts to
const (
	IssueOrderAlreadyCaptured = "ORDER_ALREADY_CAPTURED"
	IssueResourceNotFound     = "RESOURCE_NOT_FOUND"
	IssueInvalidResourceID    = "INVALID_RESOURCE_ID"
	IssueOrderNotApproved     = "ORDER_NOT_APPROVED"
)

type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type Breakdown struct {
	ItemTotal Money `json:"item_total"`
	TaxTotal  Money `json:"tax_total"`
}

type Amount struct {
	CurrencyCode string     `json:"currency_code"`
	Value        string     `json:"value"`
	Breakdown    *Breakdown `json:"breakdown,omitempty"`
}

type Item struct {
	Name       string `json:"name"`
	Quantity   string `json:"quantity"`
	UnitAmount Money  `json:"unit_amount"`
	Category   string `json:"category,omitempty"`
}

type PurchaseUnitRequest struct {
	ReferenceID string `json:"reference_id"`
	Description string `json:"description,omitempty"`
	Amount      Amount `json:"amount"`
	Items       []Item `json:"items,omitempty"`
}

type ApplicationContext struct {
	BrandName   string `json:"brand_name,omitempty"`
	LandingPage string `json:"landing_page,omitempty"`
	UserAction  string `json:"user_action,omitempty"`
	ReturnURL   string `json:"return_url"`
	CancelURL   string `json:"cancel_url"`
}

// CreateOrderRequest is the body of POST /v2/checkout/orders
type CreateOrderRequest struct {
	Intent             string                `json:"intent"`
	PurchaseUnits      []PurchaseUnitRequest `json:"purchase_units"`
	ApplicationContext ApplicationContext    `json:"application_context"`
}

type Link struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method,omitempty"`
}

type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount Money  `json:"amount"`
}

type Payments struct {
	Captures []Capture `json:"captures"`
}

type PurchaseUnit struct {
	ReferenceID string   `json:"reference_id"`
	Payments    Payments `json:"payments"`
}

// Order is the Orders v2 resource returned by create, capture and get
type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Links         []Link         `json:"links"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
}

// ApproveURL returns the buyer approval link, or "" if PayPal did not send one
func (o *Order) ApproveURL() string {
	for _, link := range o.Links {
		if link.Rel == "approve" {
			return link.Href
		}
	}
	return ""
}

// CaptureID returns the first capture of the first purchase unit
func (o *Order) CaptureID() string {
	if len(o.PurchaseUnits) == 0 || len(o.PurchaseUnits[0].Payments.Captures) == 0 {
		return ""
	}
	return o.PurchaseUnits[0].Payments.Captures[0].ID
}

type ErrorDetail struct {
	Field       string `json:"field,omitempty"`
	Issue       string `json:"issue"`
	Description string `json:"description,omitempty"`
}

// APIError carries PayPal's structured error body
type APIError struct {
	StatusCode int           `json:"-"`
	Name       string        `json:"name"`
	Message    string        `json:"message"`
	DebugID    string        `json:"debug_id,omitempty"`
	Details    []ErrorDetail `json:"details,omitempty"`

	// OAuth endpoint errors use a different shape
	OAuthError       string `json:"error,omitempty"`
	OAuthDescription string `json:"error_description,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paypal: %s (status %d)", e.Description(), e.StatusCode)
}

// Description picks the most specific human-readable message available
func (e *APIError) Description() string {
	if len(e.Details) > 0 && e.Details[0].Description != "" {
		return e.Details[0].Description
	}
	if e.Message != "" {
		return e.Message
	}
	if e.OAuthDescription != "" {
		return e.OAuthDescription
	}
	if e.Name != "" {
		return e.Name
	}
	return strings.ToLower(http.StatusText(e.StatusCode))
}

// HasIssue reports whether any detail carries the given issue code
func (e *APIError) HasIssue(issue string) bool {
	if e.Name == issue {
		return true
	}
	for _, d := range e.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

// SessionUnknown reports that PayPal has no usable record of the order id
func (e *APIError) SessionUnknown() bool {
	return e.StatusCode == http.StatusNotFound ||
		e.HasIssue(IssueResourceNotFound) ||
		e.HasIssue(IssueInvalidResourceID)
}

package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"checkout-service/internal/models"
	"checkout-service/internal/paypal"
	"checkout-service/internal/pricing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const buyer = "7d1e6c1a-1111-4a5b-8c9d-000000000001"

func fiftyTimesTwo() pricing.Line {
	return pricing.Line{UnitPrice: decimal.RequireFromString("50.00"), Quantity: 2}
}

type checkoutFixture struct {
	store     *memStore
	processor *fakeProcessor
	events    *recordingPublisher
	svc       *CheckoutService
}

func newCheckoutFixture() *checkoutFixture {
	f := &checkoutFixture{
		store:     newMemStore(),
		processor: newFakeProcessor(),
		events:    &recordingPublisher{},
	}
	f.svc = NewCheckoutService(f.store, f.store, f.processor, f.events, "")
	return f
}

func (f *checkoutFixture) session(t *testing.T, orderID string) *CreateSessionResponse {
	t.Helper()
	resp, err := f.svc.CreateSession(context.Background(), &CreateSessionRequest{
		BuyerID: buyer, OrderID: orderID, AppOrigin: "https://shop.example.com",
	})
	require.NoError(t, err)
	return resp
}

func (f *checkoutFixture) capture(orderID, sessionID string) (*CaptureResponse, error) {
	return f.svc.Capture(context.Background(), &CaptureRequest{BuyerID: buyer, OrderID: orderID, SessionID: sessionID})
}

func TestCreateSessionBuildsProcessorOrder(t *testing.T) {
	f := newCheckoutFixture()
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())

	resp := f.session(t, order.ID)
	assert.Equal(t, "PP-ORDER-1", resp.PayPalOrderID)
	assert.Equal(t, "https://www.sandbox.paypal.com/checkoutnow?token=PP-ORDER-1", resp.ApprovalURL)

	req := f.processor.lastCreate
	require.NotNil(t, req)
	assert.Equal(t, "CAPTURE", req.Intent)
	require.Len(t, req.PurchaseUnits, 1)
	unit := req.PurchaseUnits[0]
	assert.Equal(t, order.ID, unit.ReferenceID)
	assert.Equal(t, "CarParts Pro Order #"+order.ID[:8], unit.Description)
	assert.Equal(t, "108.00", unit.Amount.Value)
	assert.Equal(t, "USD", unit.Amount.CurrencyCode)
	require.NotNil(t, unit.Amount.Breakdown)
	assert.Equal(t, "100.00", unit.Amount.Breakdown.ItemTotal.Value)
	assert.Equal(t, "8.00", unit.Amount.Breakdown.TaxTotal.Value)
	require.Len(t, unit.Items, 1)
	assert.Equal(t, "2", unit.Items[0].Quantity)
	assert.Equal(t, "50.00", unit.Items[0].UnitAmount.Value)
	assert.Equal(t, "PHYSICAL_GOODS", unit.Items[0].Category)

	app := req.ApplicationContext
	assert.Equal(t, "PAY_NOW", app.UserAction)
	assert.Equal(t, "LOGIN", app.LandingPage)
	assert.Equal(t, "https://shop.example.com/payment/success?order_id="+order.ID, app.ReturnURL)
	assert.Equal(t, "https://shop.example.com/payment/cancel?order_id="+order.ID, app.CancelURL)

	payments := f.store.paymentsFor(order.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentStatusProcessing, payments[0].Status)
	assert.Equal(t, "PP-ORDER-1", *payments[0].ExternalSessionID)
	assert.True(t, payments[0].Amount.Equal(decimal.RequireFromString("108")))
}

func TestCreateSessionTwiceReusesActivePayment(t *testing.T) {
	f := newCheckoutFixture()
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())

	f.session(t, order.ID)
	f.processor.createResp = &paypal.Order{ID: "PP-ORDER-2", Links: []paypal.Link{{Rel: "approve", Href: "https://x/approve"}}}
	f.session(t, order.ID)

	payments := f.store.paymentsFor(order.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, "PP-ORDER-2", *payments[0].ExternalSessionID)
}

func TestCreateSessionConfirmedOrder(t *testing.T) {
	f := newCheckoutFixture()
	order := f.store.seedOrder(buyer, models.OrderStatusConfirmed, fiftyTimesTwo())

	_, err := f.svc.CreateSession(context.Background(), &CreateSessionRequest{BuyerID: buyer, OrderID: order.ID})
	assert.ErrorIs(t, err, ErrOrderAlreadyProcessed)
	assert.Empty(t, f.store.paymentsFor(order.ID))
	assert.Equal(t, 0, f.store.upserts)
	assert.Equal(t, 0, f.processor.creates)
}

func TestCreateSessionWithoutCredentials(t *testing.T) {
	f := newCheckoutFixture()
	f.processor.configured = false
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())

	_, err := f.svc.CreateSession(context.Background(), &CreateSessionRequest{BuyerID: buyer, OrderID: order.ID})
	assert.ErrorIs(t, err, ErrServiceUnavailable)
	assert.Equal(t, 0, f.store.upserts)
	assert.Equal(t, 0, f.processor.creates)
}

func TestCreateSessionOwnership(t *testing.T) {
	f := newCheckoutFixture()
	order := f.store.seedOrder("someone-else", models.OrderStatusPending, fiftyTimesTwo())

	_, err := f.svc.CreateSession(context.Background(), &CreateSessionRequest{BuyerID: buyer, OrderID: order.ID})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.CreateSession(context.Background(), &CreateSessionRequest{BuyerID: buyer, OrderID: uuid.NewString()})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.CreateSession(context.Background(), &CreateSessionRequest{BuyerID: buyer, OrderID: "not-a-uuid"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.CreateSession(context.Background(), &CreateSessionRequest{OrderID: order.ID})
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = f.svc.CreateSession(context.Background(), &CreateSessionRequest{BuyerID: buyer})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateSessionTotalMismatch(t *testing.T) {
	f := newCheckoutFixture()
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())
	f.store.orders[order.ID].TotalAmount = decimal.RequireFromString("99.00")

	_, err := f.svc.CreateSession(context.Background(), &CreateSessionRequest{BuyerID: buyer, OrderID: order.ID})
	assert.ErrorIs(t, err, ErrTotalMismatch)
	assert.Equal(t, 0, f.processor.creates)
}

func TestCreateSessionProcessorFailure(t *testing.T) {
	f := newCheckoutFixture()
	f.processor.createErr = &paypal.APIError{
		StatusCode: http.StatusUnprocessableEntity,
		Name:       "UNPROCESSABLE_ENTITY",
		Details:    []paypal.ErrorDetail{{Issue: "AMOUNT_MISMATCH", Description: "Should equal item total + tax total."}},
	}
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())

	_, err := f.svc.CreateSession(context.Background(), &CreateSessionRequest{BuyerID: buyer, OrderID: order.ID})
	var perr *PaymentProcessorError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "Should equal item total + tax total.", perr.Message())
	assert.Equal(t, 0, f.store.upserts)
}

func TestCreateSessionMissingApproveLink(t *testing.T) {
	f := newCheckoutFixture()
	f.processor.createResp = &paypal.Order{ID: "PP-ORDER-1"}
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())

	_, err := f.svc.CreateSession(context.Background(), &CreateSessionRequest{BuyerID: buyer, OrderID: order.ID})
	var perr *PaymentProcessorError
	assert.True(t, errors.As(err, &perr))
	assert.Equal(t, 0, f.store.upserts)
}

func TestCreateSessionTokenNotConfigured(t *testing.T) {
	f := newCheckoutFixture()
	f.processor.tokenErr = paypal.ErrNotConfigured
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())

	_, err := f.svc.CreateSession(context.Background(), &CreateSessionRequest{BuyerID: buyer, OrderID: order.ID})
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestCaptureCompletedConfirmsOrder(t *testing.T) {
	f := newCheckoutFixture()
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())
	s := f.session(t, order.ID)

	resp, err := f.capture(order.ID, s.PayPalOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, resp.Status)
	assert.Equal(t, "CAP-1", resp.CaptureID)

	assert.Equal(t, models.OrderStatusConfirmed, f.store.order(order.ID).Status)
	p := f.store.paymentsFor(order.ID)[0]
	assert.Equal(t, models.PaymentStatusSucceeded, p.Status)
	assert.Equal(t, "CAP-1", p.CaptureID())
	assert.Equal(t, "PP-ORDER-1", *p.ExternalSessionID)

	assert.Equal(t, 1, f.events.count(models.EventTypePaymentSucceeded))
	assert.Equal(t, 1, f.events.count(models.EventTypeOrderConfirmed))
}

func TestCaptureTwiceIsIdempotent(t *testing.T) {
	f := newCheckoutFixture()
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())
	s := f.session(t, order.ID)

	first, err := f.capture(order.ID, s.PayPalOrderID)
	require.NoError(t, err)
	second, err := f.capture(order.ID, s.PayPalOrderID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.processor.captures)
	assert.Equal(t, models.OrderStatusConfirmed, f.store.order(order.ID).Status)
	assert.Equal(t, 1, f.events.count(models.EventTypeOrderConfirmed))
}

func TestConcurrentCapturesConfirmOnce(t *testing.T) {
	f := newCheckoutFixture()
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())
	s := f.session(t, order.ID)

	var wg sync.WaitGroup
	results := make([]*CaptureResponse, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.capture(order.ID, s.PayPalOrderID)
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			// a capture that loaded the order after confirmation sees it as processed
			assert.ErrorIs(t, errs[i], ErrOrderAlreadyProcessed)
			continue
		}
		assert.Equal(t, models.PaymentStatusSucceeded, results[i].Status)
	}
	assert.Equal(t, models.OrderStatusConfirmed, f.store.order(order.ID).Status)
	assert.Equal(t, 1, f.events.count(models.EventTypeOrderConfirmed))
	assert.Equal(t, 1, f.events.count(models.EventTypePaymentSucceeded))
}

func TestCaptureAlreadyCapturedAtProcessor(t *testing.T) {
	f := newCheckoutFixture()
	f.processor.captureFn = func(string) (*paypal.Order, error) {
		return nil, &paypal.APIError{
			StatusCode: http.StatusUnprocessableEntity,
			Name:       "UNPROCESSABLE_ENTITY",
			Details:    []paypal.ErrorDetail{{Issue: paypal.IssueOrderAlreadyCaptured}},
		}
	}
	f.processor.getFn = func(id string) (*paypal.Order, error) { return completedOrder(id, "CAP-EARLIER"), nil }
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())
	s := f.session(t, order.ID)

	resp, err := f.capture(order.ID, s.PayPalOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, resp.Status)
	assert.Equal(t, "CAP-EARLIER", resp.CaptureID)
	assert.Equal(t, 1, f.processor.gets)
	assert.Equal(t, models.OrderStatusConfirmed, f.store.order(order.ID).Status)
}

func TestCaptureNotCompletedFails(t *testing.T) {
	f := newCheckoutFixture()
	f.processor.captureFn = func(id string) (*paypal.Order, error) {
		return &paypal.Order{ID: id, Status: "PAYER_ACTION_REQUIRED"}, nil
	}
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())
	s := f.session(t, order.ID)

	resp, err := f.capture(order.ID, s.PayPalOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, resp.Status)
	assert.Empty(t, resp.CaptureID)

	assert.Equal(t, models.OrderStatusPending, f.store.order(order.ID).Status)
	p := f.store.paymentsFor(order.ID)[0]
	assert.Equal(t, models.PaymentStatusFailed, p.Status)
	require.NotNil(t, p.FailureReason)
	assert.Contains(t, *p.FailureReason, "PAYER_ACTION_REQUIRED")
	assert.Equal(t, 1, f.events.count(models.EventTypePaymentFailed))
	assert.Equal(t, 0, f.events.count(models.EventTypeOrderConfirmed))
}

func TestCaptureNotApprovedFails(t *testing.T) {
	f := newCheckoutFixture()
	f.processor.captureFn = func(string) (*paypal.Order, error) {
		return nil, &paypal.APIError{
			StatusCode: http.StatusUnprocessableEntity,
			Details:    []paypal.ErrorDetail{{Issue: paypal.IssueOrderNotApproved, Description: "Payer has not yet approved the Order for payment."}},
		}
	}
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())
	s := f.session(t, order.ID)

	resp, err := f.capture(order.ID, s.PayPalOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, resp.Status)
	assert.Equal(t, "Payer has not yet approved the Order for payment.", *f.store.paymentsFor(order.ID)[0].FailureReason)
}

func TestCaptureUnknownSessionAtProcessorFails(t *testing.T) {
	f := newCheckoutFixture()
	f.processor.captureFn = func(string) (*paypal.Order, error) {
		return nil, &paypal.APIError{StatusCode: http.StatusNotFound, Name: "RESOURCE_NOT_FOUND"}
	}
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())
	s := f.session(t, order.ID)

	resp, err := f.capture(order.ID, s.PayPalOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, resp.Status)
	assert.Equal(t, 0, f.processor.gets)
	assert.Equal(t, models.OrderStatusPending, f.store.order(order.ID).Status)
}

func TestCaptureUnknownSessionLocally(t *testing.T) {
	f := newCheckoutFixture()
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())
	f.session(t, order.ID)

	_, err := f.capture(order.ID, "PP-SOMETHING-ELSE")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, f.processor.gets)
	assert.Equal(t, 0, f.processor.captures)
	assert.Equal(t, models.OrderStatusPending, f.store.order(order.ID).Status)
}

func TestCaptureEarlierSessionOfSameOrder(t *testing.T) {
	f := newCheckoutFixture()
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())
	first := f.session(t, order.ID)
	f.processor.createResp = &paypal.Order{ID: "PP-ORDER-2", Links: []paypal.Link{{Rel: "approve", Href: "https://x/approve"}}}
	f.session(t, order.ID)

	f.processor.getFn = func(id string) (*paypal.Order, error) {
		return &paypal.Order{ID: id, Status: paypal.StatusApproved, PurchaseUnits: []paypal.PurchaseUnit{{ReferenceID: order.ID}}}, nil
	}
	var captured string
	f.processor.captureFn = func(id string) (*paypal.Order, error) {
		captured = id
		return completedOrder(id, "CAP-9"), nil
	}

	resp, err := f.capture(order.ID, first.PayPalOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, resp.Status)
	assert.Equal(t, "CAP-9", resp.CaptureID)
	assert.Equal(t, "PP-ORDER-1", captured)
	assert.Equal(t, models.OrderStatusConfirmed, f.store.order(order.ID).Status)

	payments := f.store.paymentsFor(order.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, "PP-ORDER-1", *payments[0].ExternalSessionID)

	// the recorded session now answers replays without another processor call
	resp, err = f.capture(order.ID, first.PayPalOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, resp.Status)
	assert.Equal(t, 1, f.processor.captures)
	assert.Equal(t, 1, f.events.count(models.EventTypeOrderConfirmed))
}

func TestCaptureSessionOfAnotherOrder(t *testing.T) {
	f := newCheckoutFixture()
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())
	f.session(t, order.ID)
	f.processor.getFn = func(id string) (*paypal.Order, error) {
		return &paypal.Order{ID: id, PurchaseUnits: []paypal.PurchaseUnit{{ReferenceID: uuid.NewString()}}}, nil
	}

	_, err := f.capture(order.ID, "PP-OTHER")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, f.processor.captures)

	f.processor.getFn = func(string) (*paypal.Order, error) {
		return nil, &paypal.APIError{StatusCode: http.StatusNotFound, Name: "RESOURCE_NOT_FOUND"}
	}
	_, err = f.capture(order.ID, "PP-GONE")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, f.processor.captures)
}

func TestCaptureTransportErrorLeavesRowsUntouched(t *testing.T) {
	f := newCheckoutFixture()
	f.processor.captureFn = func(string) (*paypal.Order, error) { return nil, errors.New("connection reset") }
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())
	s := f.session(t, order.ID)

	_, err := f.capture(order.ID, s.PayPalOrderID)
	var perr *PaymentProcessorError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, models.PaymentStatusProcessing, f.store.paymentsFor(order.ID)[0].Status)
	assert.Equal(t, models.OrderStatusPending, f.store.order(order.ID).Status)

	// retry after the processor recovers
	f.processor.captureFn = func(id string) (*paypal.Order, error) { return completedOrder(id, "CAP-2"), nil }
	resp, err := f.capture(order.ID, s.PayPalOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, resp.Status)
}

func TestFailedPaymentNeverRegresses(t *testing.T) {
	f := newCheckoutFixture()
	f.processor.captureFn = func(id string) (*paypal.Order, error) { return &paypal.Order{ID: id, Status: "VOIDED"}, nil }
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())
	s := f.session(t, order.ID)

	_, err := f.capture(order.ID, s.PayPalOrderID)
	require.NoError(t, err)

	// a later completed answer for the same session must not resurrect the payment
	f.processor.captureFn = func(id string) (*paypal.Order, error) { return completedOrder(id, "CAP-3"), nil }
	resp, err := f.capture(order.ID, s.PayPalOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, resp.Status)
	assert.Equal(t, 1, f.processor.captures)

	// a fresh session starts a new attempt
	f.processor.createResp = &paypal.Order{ID: "PP-ORDER-2", Links: []paypal.Link{{Rel: "approve", Href: "https://x/approve"}}}
	f.session(t, order.ID)
	payments := f.store.paymentsFor(order.ID)
	require.Len(t, payments, 2)
	assert.Equal(t, models.PaymentStatusFailed, payments[0].Status)
	assert.Equal(t, models.PaymentStatusProcessing, payments[1].Status)
}

func TestCaptureValidation(t *testing.T) {
	f := newCheckoutFixture()

	_, err := f.svc.Capture(context.Background(), &CaptureRequest{BuyerID: buyer, SessionID: "x"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Capture(context.Background(), &CaptureRequest{BuyerID: buyer, OrderID: uuid.NewString()})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Capture(context.Background(), &CaptureRequest{OrderID: uuid.NewString(), SessionID: "x"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestGetPayment(t *testing.T) {
	f := newCheckoutFixture()
	order := f.store.seedOrder(buyer, models.OrderStatusPending, fiftyTimesTwo())

	_, err := f.svc.GetPayment(context.Background(), buyer, order.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	f.session(t, order.ID)
	view, err := f.svc.GetPayment(context.Background(), buyer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusProcessing, view.Payment.Status)
	assert.NotNil(t, view.Events)

	_, err = f.svc.GetPayment(context.Background(), "other-buyer", order.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestReturnURLsTrimTrailingSlash(t *testing.T) {
	success, cancel := ReturnURLs("http://localhost:5173/", "abc")
	assert.Equal(t, "http://localhost:5173/payment/success?order_id=abc", success)
	assert.Equal(t, "http://localhost:5173/payment/cancel?order_id=abc", cancel)
}

func TestTruncateItemName(t *testing.T) {
	long := ""
	for i := 0; i < 130; i++ {
		long += "é"
	}
	assert.Equal(t, 127, len([]rune(truncate(long, maxItemNameLength))))
	assert.Equal(t, "short", truncate("short", maxItemNameLength))
}

package service

import (
	"errors"
	"fmt"

	"checkout-service/internal/paypal"
)

var (
	ErrValidation            = errors.New("validation error")
	ErrNotAuthenticated      = errors.New("not authenticated")
	ErrForbidden             = errors.New("forbidden")
	ErrNotFound              = errors.New("not found")
	ErrEmptyCart             = errors.New("cart is empty")
	ErrOrderAlreadyProcessed = errors.New("order already processed")
	ErrServiceUnavailable    = errors.New("service unavailable")
	ErrTotalMismatch         = errors.New("order total does not match its items")
	ErrRateLimited           = errors.New("rate limit exceeded")
)

// validationError names the offending field while still matching ErrValidation
func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// PaymentProcessorError wraps any failure talking to, or reported by, the processor
type PaymentProcessorError struct {
	Op  string
	Err error
}

func (e *PaymentProcessorError) Error() string {
	var apiErr *paypal.APIError
	if errors.As(e.Err, &apiErr) {
		return fmt.Sprintf("payment processor error during %s: %s", e.Op, apiErr.Description())
	}
	return fmt.Sprintf("payment processor error during %s: %v", e.Op, e.Err)
}

func (e *PaymentProcessorError) Unwrap() error {
	return e.Err
}

// Message is the text relayed to the buyer
func (e *PaymentProcessorError) Message() string {
	var apiErr *paypal.APIError
	if errors.As(e.Err, &apiErr) {
		return apiErr.Description()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "payment processor error"
}

func processorError(op string, err error) error {
	return &PaymentProcessorError{Op: op, Err: err}
}

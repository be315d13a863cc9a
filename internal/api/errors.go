package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps service errors onto status codes. Anything unrecognised is a 500
// whose detail stays in the log.
func writeError(c *gin.Context, err error) {
	var processorErr *service.PaymentProcessorError
	var upstreamErr *service.UpstreamError
	var rateErr *service.RateLimitError

	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotAuthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, service.ErrEmptyCart):
		c.JSON(http.StatusConflict, gin.H{"error": "Cart is empty"})
	case errors.Is(err, service.ErrOrderAlreadyProcessed):
		c.JSON(http.StatusConflict, gin.H{"error": "Order already processed"})
	case errors.Is(err, service.ErrTotalMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": "Order total does not match its items"})
	case errors.As(err, &processorErr):
		util.GetLogger().Warn("Payment processor error", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": processorErr.Message()})
	case errors.As(err, &upstreamErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "AI service encountered an error"})
	case errors.Is(err, service.ErrServiceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.As(err, &rateErr):
		setRetryAfter(c, rateErr.RetryAfter.Seconds())
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests. Please wait a moment before trying again."})
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests. Please wait a moment before trying again."})
	default:
		util.GetLogger().Error("Unhandled request error",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func setRetryAfter(c *gin.Context, seconds float64) {
	if seconds <= 0 {
		return
	}
	c.Header("Retry-After", strconv.Itoa(int(math.Ceil(seconds))))
}

func badRequest(c *gin.Context, message string, err error) {
	body := gin.H{"error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}

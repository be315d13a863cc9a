package api

import (
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/auth"
	"checkout-service/internal/ratelimit"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}

// rateLimitMiddleware limits authenticated callers per user id. Limiter failures let the
// request through.
func rateLimitMiddleware(limiter ratelimit.Limiter, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		decision, err := limiter.Allow(c.Request.Context(), auth.UserID(c))
		if err != nil {
			util.GetLogger().Warn("Rate limiter unavailable", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			util.RateLimitedTotal.WithLabelValues(scope).Inc()
			setRetryAfter(c, decision.RetryAfter.Seconds())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests. Please wait a moment before trying again.",
			})
			return
		}
		c.Next()
	}
}

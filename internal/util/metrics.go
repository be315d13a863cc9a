package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created from carts",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of rejected order creations",
	}, []string{"reason"})

	OrdersConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_confirmed_total",
		Help: "Total number of orders confirmed by a successful capture",
	})

	CheckoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_total",
		Help: "Checkout session attempts by outcome",
	}, []string{"outcome"})

	PaymentCapturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_captures_total",
		Help: "Capture attempts by outcome",
	}, []string{"outcome"})

	PaymentProcessorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_processor_latency_seconds",
		Help:    "Latency of payment processor calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	AssistantRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "assistant_requests_total",
		Help: "Shopping assistant requests by outcome",
	}, []string{"outcome"})

	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limited_total",
		Help: "Requests rejected by a rate limiter",
	}, []string{"scope"})

	AuditEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_audit_events_total",
		Help: "Checkout events consumed by the audit worker",
	}, []string{"event_type", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)

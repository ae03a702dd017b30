package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration tracks HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// PaymentsTotal counts payment attempts by outcome
	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fare_payments_total",
			Help: "Total number of fare payment attempts by result",
		},
		[]string{"result"},
	)

	// PaymentAmount tracks settled fare amounts
	PaymentAmount = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fare_payment_amount",
			Help:    "Settled fare amounts",
			Buckets: []float64{0.5, 1, 1.5, 2, 3, 5, 10, 50},
		},
	)

	// ReversalsTotal counts completed reversals
	ReversalsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fare_reversals_total",
			Help: "Total number of reversed transactions",
		},
	)

	// TokensIssuedTotal counts issued fare tokens
	TokensIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fare_tokens_issued_total",
			Help: "Total number of fare tokens issued",
		},
	)

	// TokensExpiredTotal counts tokens reclaimed by the sweeper
	TokensExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fare_tokens_expired_total",
			Help: "Total number of fare tokens moved to expired",
		},
	)

	// TransactionsReapedTotal counts pending transactions failed as abandoned
	TransactionsReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fare_transactions_reaped_total",
			Help: "Total number of abandoned pending transactions",
		},
	)

	// RateLimitedTotal counts requests rejected by the rate limiter
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_requests_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"scope"},
	)

	// CircuitBreakerState tracks circuit breaker state (0=closed, 1=open, 2=half-open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"circuit_name"},
	)

	// CircuitBreakerFailures tracks circuit breaker failures
	CircuitBreakerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of circuit breaker failures",
		},
		[]string{"circuit_name"},
	)

	// RealtimeConnections tracks open websocket connections on this instance
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Number of open realtime websocket connections",
		},
	)
)

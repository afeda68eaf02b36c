package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PaymentMetrics holds every Prometheus metric the engine exposes.
type PaymentMetrics struct {
	// Charge creation
	ChargeCreateTotal    *prometheus.CounterVec   // by method, result
	ChargeCreateDuration *prometheus.HistogramVec // by method
	ChargeAmount         *prometheus.CounterVec   // gross amount by method
	FeeAmount            prometheus.Counter       // platform fee total
	ReconcileMismatch    prometheus.Counter       // fee+net drifted from gross

	// Webhook intake
	WebhookTotal    *prometheus.CounterVec   // by provider, result
	WebhookDuration *prometheus.HistogramVec // by provider

	// Ledger transitions
	TransitionTotal *prometheus.CounterVec // by to-status, applied/no-op

	// Sweeps
	SweepExpiredTotal  prometheus.Counter
	SweepOrphanTotal   *prometheus.CounterVec // by outcome status
	SweepArchivedTotal prometheus.Counter
	SweepDuration      *prometheus.HistogramVec // by job

	// Gateway calls
	GatewayRequestDuration *prometheus.HistogramVec // by provider, op
	GatewayErrorsTotal     *prometheus.CounterVec   // by provider, kind
	CircuitBreakerState    *prometheus.GaugeVec     // by provider

	// Advisory locks
	LockAcquireTotal    *prometheus.CounterVec // by result
	LockAcquireDuration prometheus.Histogram

	// Domain events
	EventPublishTotal *prometheus.CounterVec // by tag, result
}

// NewPaymentMetrics registers and returns the engine metrics.
func NewPaymentMetrics() *PaymentMetrics {
	return &PaymentMetrics{
		ChargeCreateTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_charge_create_total",
				Help: "Total number of charge creation attempts",
			},
			[]string{"method", "result"},
		),
		ChargeCreateDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_charge_create_duration_seconds",
				Help:    "Duration of charge creation including the gateway call",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		ChargeAmount: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_charge_amount_total",
				Help: "Total gross amount of created charges",
			},
			[]string{"method"},
		),
		FeeAmount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_fee_amount_total",
				Help: "Total platform fee frozen into created charges",
			},
		),
		ReconcileMismatch: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_reconcile_mismatch_total",
				Help: "Times fee+net did not reconcile to gross within 1 cent",
			},
		),

		WebhookTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_webhook_total",
				Help: "Total webhook deliveries by outcome",
			},
			[]string{"provider", "result"},
		),
		WebhookDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_webhook_duration_seconds",
				Help:    "Duration of webhook processing",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),

		TransitionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_transition_total",
				Help: "Ledger status transitions, applied or no-op",
			},
			[]string{"to", "result"}, // result: applied/noop
		),

		SweepExpiredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_sweep_expired_total",
				Help: "Pending charges transitioned to expired by the sweeper",
			},
		),
		SweepOrphanTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_sweep_orphan_total",
				Help: "Stale pending charges resolved against the provider",
			},
			[]string{"status"},
		),
		SweepArchivedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_sweep_archived_total",
				Help: "Terminal charges archived by the retention job",
			},
		),
		SweepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_sweep_duration_seconds",
				Help:    "Duration of sweep jobs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"job"}, // job: expiry/orphan/archive
		),

		GatewayRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_gateway_request_duration_seconds",
				Help:    "Duration of outbound provider calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "op"}, // op: create/query
		),
		GatewayErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_gateway_errors_total",
				Help: "Outbound provider call failures",
			},
			[]string{"provider", "kind"}, // kind: unavailable/rejected
		),
		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "payment_gateway_circuit_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"provider"},
		),

		LockAcquireTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_lock_acquire_total",
				Help: "Advisory lock acquisition attempts",
			},
			[]string{"result"},
		),
		LockAcquireDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payment_lock_acquire_duration_seconds",
				Help:    "Duration of advisory lock acquisition",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),

		EventPublishTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_event_publish_total",
				Help: "Domain event publish attempts",
			},
			[]string{"tag", "result"},
		),
	}
}

var defaultMetrics *PaymentMetrics

// InitMetrics initializes the global metrics instance.
func InitMetrics() {
	defaultMetrics = NewPaymentMetrics()
}

// GetMetrics returns the global metrics instance, initializing it on first use.
func GetMetrics() *PaymentMetrics {
	if defaultMetrics == nil {
		InitMetrics()
	}
	return defaultMetrics
}

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the payment core.
var (
	PaymentsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_submitted_total",
			Help: "Total number of payment submissions (including idempotent replays)",
		},
	)

	PaymentsReplayedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_replayed_total",
			Help: "Total number of submissions answered from an existing idempotency key",
		},
	)

	PaymentOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_outcomes_total",
			Help: "Payment terminal and held outcomes by state",
		},
		[]string{"state"},
	)

	GatewayChargeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_charge_duration_seconds",
			Help:    "Duration of gateway charge calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	GatewayRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_retries_total",
			Help: "Total number of gateway charge retries after a retryable result",
		},
	)

	RefundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refunds_total",
			Help: "Refund attempts by final refund state",
		},
		[]string{"state"},
	)
)

var registerOnce sync.Once

// Register registers all payment core metrics. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(PaymentsSubmittedTotal)
		prometheus.MustRegister(PaymentsReplayedTotal)
		prometheus.MustRegister(PaymentOutcomesTotal)
		prometheus.MustRegister(GatewayChargeDuration)
		prometheus.MustRegister(GatewayRetriesTotal)
		prometheus.MustRegister(RefundsTotal)
	})
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		providerCallsTotal,
		providerCallDuration,
		providerRetriesTotal,
		providerBreakerState,
	)
}

var (
	providerCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_provider_calls_total",
			Help: "Billing provider calls by method and outcome.",
		},
		[]string{"provider", "method", "outcome"}, // outcome: ok | transient | permanent | unknown
	)

	providerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_provider_call_duration_seconds",
			Help:    "Latency of single billing provider calls.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	providerRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_provider_retries_total",
			Help: "Retried billing provider calls by operation.",
		},
		[]string{"op"},
	)

	providerBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "billing_provider_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)
)

func ObserveProviderCall(provider, method, outcome string, d time.Duration) {
	providerCallsTotal.WithLabelValues(norm(provider), norm(method), norm(outcome)).Inc()
	providerCallDuration.WithLabelValues(norm(provider), norm(method)).Observe(d.Seconds())
}

func IncProviderRetry(op string) {
	providerRetriesTotal.WithLabelValues(norm(op)).Inc()
}

func SetBreakerState(name string, state int) {
	providerBreakerState.WithLabelValues(norm(name)).Set(float64(state))
}

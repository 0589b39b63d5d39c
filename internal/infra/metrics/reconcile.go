package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		discrepanciesRecordedTotal,
		discrepanciesResolvedTotal,
		discrepanciesOpen,
	)
}

var (
	discrepanciesRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_discrepancies_recorded_total",
			Help: "Discrepancies recorded between ledger and provider, by operation and reason.",
		},
		[]string{"op", "reason"},
	)

	discrepanciesResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_discrepancies_resolved_total",
			Help: "Discrepancies resolved, by operation and how.",
		},
		[]string{"op", "how"}, // how: auto | manual
	)

	discrepanciesOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "reconciliation_discrepancies_open",
			Help: "Open discrepancies awaiting reconciliation.",
		},
	)
)

func IncDiscrepancyRecorded(op, reason string) {
	discrepanciesRecordedTotal.WithLabelValues(norm(op), norm(reason)).Inc()
}

func IncDiscrepancyResolved(op, how string) {
	discrepanciesResolvedTotal.WithLabelValues(norm(op), norm(how)).Inc()
}

func SetDiscrepanciesOpen(n int) {
	discrepanciesOpen.Set(float64(n))
}

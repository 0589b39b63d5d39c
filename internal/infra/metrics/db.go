package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(ledgerPoolConns, ledgerPoolWaits) }

var (
	ledgerPoolConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscription_ledger_pool_connections",
			Help: "Connections in the subscription ledger pool by state.",
		},
		[]string{"state"}, // total, idle, in_use, max
	)
	ledgerPoolWaits = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "subscription_ledger_pool_empty_acquires",
		Help: "Acquires that had to wait because the ledger pool was empty, since start.",
	})
)

// LedgerPoolStats is a point-in-time view of the ledger connection pool.
type LedgerPoolStats struct {
	Total, Idle, InUse, Max int32
	EmptyAcquires           int64
}

func SetLedgerPoolStats(s LedgerPoolStats) {
	ledgerPoolConns.WithLabelValues("total").Set(float64(s.Total))
	ledgerPoolConns.WithLabelValues("idle").Set(float64(s.Idle))
	ledgerPoolConns.WithLabelValues("in_use").Set(float64(s.InUse))
	ledgerPoolConns.WithLabelValues("max").Set(float64(s.Max))
	ledgerPoolWaits.Set(float64(s.EmptyAcquires))
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		invoicesTotal,
		invoiceRevenueTotal,
	)
}

var (
	invoicesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoices_recorded_total",
			Help: "Invoices recorded from billing events, by payment status.",
		},
		[]string{"status"},
	)

	invoiceRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoices_revenue_minor_units_total",
			Help: "Total paid invoice amount in minor units, labeled by currency.",
		},
		[]string{"currency"},
	)
)

func IncInvoice(status string) {
	invoicesTotal.WithLabelValues(norm(status)).Inc()
}

func AddInvoiceRevenue(currency string, amount int64) {
	invoiceRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

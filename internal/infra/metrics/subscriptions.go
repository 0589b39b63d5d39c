package metrics

import (
	"subscription-lifecycle/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		subscriptionsExpiredTotal,
		subscriptionsTotal,
		lifecycleOperationsTotal,
		couponRedemptionsTotal,
	)
}

var (
	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Total number of cancelled subscriptions moved to expired by the expiry worker.",
		},
	)

	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of subscriptions by status.",
		},
		[]string{"status"}, // 'trial', 'active', 'cancelled', 'expired'
	)

	lifecycleOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_lifecycle_operations_total",
			Help: "Lifecycle operations by operation and result.",
		},
		[]string{"op", "result"}, // result: ok | rejected | conflict | provider_error | error
	)

	couponRedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coupon_redemptions_total",
			Help: "Coupon redemptions committed with a subscription, by result.",
		},
		[]string{"result"}, // 'redeemed', 'exhausted'
	)
)

func IncSubscriptionsExpired(count int) {
	subscriptionsExpiredTotal.Add(float64(count))
}

func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	for _, status := range model.AllSubscriptionStatuses {
		subscriptionsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func IncLifecycleOp(op, result string) {
	lifecycleOperationsTotal.WithLabelValues(norm(op), norm(result)).Inc()
}

func IncCouponRedemption(result string) {
	couponRedemptionsTotal.WithLabelValues(norm(result)).Inc()
}

package model

import "time"

type HistoryAction string

const (
	HistoryActionCreated     HistoryAction = "created"
	HistoryActionUpgraded    HistoryAction = "upgraded"
	HistoryActionDowngraded  HistoryAction = "downgraded"
	HistoryActionCancelled   HistoryAction = "cancelled"
	HistoryActionReactivated HistoryAction = "reactivated"
)

// SubscriptionHistory is an append-only audit entry, one per successful transition.
type SubscriptionHistory struct {
	ID             string        `json:"id"`
	UserID         string        `json:"user_id"`
	SubscriptionID string        `json:"subscription_id"`
	Action         HistoryAction `json:"action"`
	OldPlanID      *string       `json:"old_plan_id,omitempty"`
	NewPlanID      *string       `json:"new_plan_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// PlanChangeAction picks Upgraded or Downgraded by monthly price.
func PlanChangeAction(isUpgrade bool) HistoryAction {
	if isUpgrade {
		return HistoryActionUpgraded
	}
	return HistoryActionDowngraded
}

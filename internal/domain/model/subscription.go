package model

import (
	"time"

	"subscription-lifecycle/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// AllSubscriptionStatuses lists statuses in lifecycle order.
var AllSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusTrial,
	SubscriptionStatusActive,
	SubscriptionStatusCancelled,
	SubscriptionStatusExpired,
}

// UserSubscription is one row of a user's subscription lineage.
type UserSubscription struct {
	ID                     string             `json:"id"`
	UserID                 string             `json:"user_id"`
	PlanID                 string             `json:"plan_id"`
	BillingCycle           BillingCycle       `json:"billing_cycle"`
	Status                 SubscriptionStatus `json:"status"`
	StartDate              time.Time          `json:"start_date"`
	EndDate                *time.Time         `json:"end_date,omitempty"` // set when a cancellation's access window closes
	NextBillingDate        *time.Time         `json:"next_billing_date,omitempty"`
	AutoRenew              bool               `json:"auto_renew"`
	CancelledAt            *time.Time         `json:"cancelled_at,omitempty"`
	ProviderSubscriptionID *string            `json:"provider_subscription_id,omitempty"`
	ProviderCustomerID     *string            `json:"provider_customer_id,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// IsLive reports whether the row grants access as a running subscription.
func (s *UserSubscription) IsLive() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrial
}

// IsResumable reports whether a cancelled row can still be resumed at now.
// A cancelled row without an end date is resumable.
func (s *UserSubscription) IsResumable(now time.Time) bool {
	if s.Status != SubscriptionStatusCancelled {
		return false
	}
	return s.EndDate == nil || s.EndDate.After(now)
}

// ProviderSubID returns the provider subscription id or "".
func (s *UserSubscription) ProviderSubID() string {
	if s.ProviderSubscriptionID == nil {
		return ""
	}
	return *s.ProviderSubscriptionID
}

// Clone returns a deep copy so callers can mutate without touching the original.
func (s *UserSubscription) Clone() *UserSubscription {
	cp := *s
	cp.EndDate = cloneTime(s.EndDate)
	cp.NextBillingDate = cloneTime(s.NextBillingDate)
	cp.CancelledAt = cloneTime(s.CancelledAt)
	if s.ProviderSubscriptionID != nil {
		v := *s.ProviderSubscriptionID
		cp.ProviderSubscriptionID = &v
	}
	if s.ProviderCustomerID != nil {
		v := *s.ProviderCustomerID
		cp.ProviderCustomerID = &v
	}
	return &cp
}

// NewUserSubscription creates the first row of a lineage. trial selects the
// initial status.
func NewUserSubscription(id, userID string, plan *SubscriptionPlan, cycle BillingCycle, trial bool, now time.Time) (*UserSubscription, error) {
	if id == "" || userID == "" || plan.IsZero() || !cycle.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	status := SubscriptionStatusActive
	if trial {
		status = SubscriptionStatusTrial
	}
	return &UserSubscription{
		ID:           id,
		UserID:       userID,
		PlanID:       plan.ID,
		BillingCycle: cycle,
		Status:       status,
		StartDate:    now,
		AutoRenew:    true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

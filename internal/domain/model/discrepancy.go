package model

import "time"

// DiscrepancyOp names the lifecycle operation that left local and provider
// state possibly out of sync.
type DiscrepancyOp string

const (
	DiscrepancyOpCancel     DiscrepancyOp = "cancel"
	DiscrepancyOpResume     DiscrepancyOp = "resume"
	DiscrepancyOpChangePlan DiscrepancyOp = "change_plan"
	DiscrepancyOpActivation DiscrepancyOp = "activation"
	DiscrepancyOpCoupon     DiscrepancyOp = "ensure_coupon"
)

type DiscrepancyReason string

const (
	DiscrepancyProviderFailed    DiscrepancyReason = "provider_failed"
	DiscrepancyProviderUnknown   DiscrepancyReason = "provider_unknown"
	DiscrepancyLedgerWriteFailed DiscrepancyReason = "ledger_write_failed"
	DiscrepancyCouponExhausted   DiscrepancyReason = "coupon_exhausted"
	// DiscrepancySuperseded marks a provider subscription whose local row was
	// closed by a newer activation and may still be billing.
	DiscrepancySuperseded DiscrepancyReason = "superseded_live_subscription"
)

type DiscrepancyStatus string

const (
	DiscrepancyOpen     DiscrepancyStatus = "open"
	DiscrepancyResolved DiscrepancyStatus = "resolved"
)

// Discrepancy records a suspected mismatch awaiting reconciliation.
type Discrepancy struct {
	ID                     string            `json:"id"`
	UserID                 string            `json:"user_id"`
	SubscriptionID         *string           `json:"subscription_id,omitempty"`
	Operation              DiscrepancyOp     `json:"operation"`
	Reason                 DiscrepancyReason `json:"reason"`
	Detail                 string            `json:"detail"`
	ProviderSubscriptionID string            `json:"provider_subscription_id,omitempty"`
	Status                 DiscrepancyStatus `json:"status"`
	Attempts               int               `json:"attempts"`
	Resolution             string            `json:"resolution,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
	ResolvedAt             *time.Time        `json:"resolved_at,omitempty"`
}

// ReasonFor maps a provider outcome kind onto a discrepancy reason.
func ReasonFor(unknown bool) DiscrepancyReason {
	if unknown {
		return DiscrepancyProviderUnknown
	}
	return DiscrepancyProviderFailed
}

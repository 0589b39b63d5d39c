package model

import (
	"strings"
	"time"

	"subscription-lifecycle/internal/domain"
)

type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
)

// Coupon is a redeemable discount code. Code is always stored upper-cased.
type Coupon struct {
	ID                string       `json:"id"`
	Code              string       `json:"code"`
	DiscountType      DiscountType `json:"discount_type"`
	DiscountValue     int64        `json:"discount_value"` // percent 0-100, or minor units
	ValidFrom         time.Time    `json:"valid_from"`
	ValidUntil        *time.Time   `json:"valid_until,omitempty"`
	IsActive          bool         `json:"is_active"`
	AppliesToAllPlans bool         `json:"applies_to_all_plans"`
	PlanIDs           []string     `json:"plan_ids,omitempty"`
	MaxUses           *int64       `json:"max_uses,omitempty"`
	UsedCount         int64        `json:"used_count"`
	ProviderCouponID  *string      `json:"provider_coupon_id,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
}

// NormalizeCode upper-cases and trims a coupon code for lookup and storage.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Check applies the eligibility rules after lookup, in order: active flag,
// validity window, plan applicability, usage cap.
func (c *Coupon) Check(planID string, now time.Time) error {
	if !c.IsActive {
		return domain.ErrCouponInactive
	}
	if now.Before(c.ValidFrom) || (c.ValidUntil != nil && now.After(*c.ValidUntil)) {
		return domain.ErrCouponExpired
	}
	if !c.AppliesTo(planID) {
		return domain.ErrCouponNotApplicable
	}
	if c.MaxUses != nil && c.UsedCount >= *c.MaxUses {
		return domain.ErrCouponExhausted
	}
	return nil
}

func (c *Coupon) AppliesTo(planID string) bool {
	if c.AppliesToAllPlans {
		return true
	}
	for _, id := range c.PlanIDs {
		if id == planID {
			return true
		}
	}
	return false
}

func (c *Coupon) Discount() Discount {
	return Discount{Type: c.DiscountType, Value: c.DiscountValue}
}

// Discount is the descriptor handed back by coupon validation.
type Discount struct {
	Type  DiscountType `json:"type"`
	Value int64        `json:"value"`
}

// Amount returns the discount on a price in minor units. Percentages are
// truncated toward zero and fixed amounts are capped at the price.
func (d Discount) Amount(price int64) int64 {
	if price <= 0 || d.Value <= 0 {
		return 0
	}
	switch d.Type {
	case DiscountPercentage:
		pct := d.Value
		if pct > 100 {
			pct = 100
		}
		return price * pct / 100
	case DiscountFixedAmount:
		if d.Value > price {
			return price
		}
		return d.Value
	}
	return 0
}

// Apply returns the price after discount.
func (d Discount) Apply(price int64) int64 {
	return price - d.Amount(price)
}

// NewCoupon validates and constructs an active coupon.
func NewCoupon(id, code string, typ DiscountType, value int64, validFrom time.Time) (*Coupon, error) {
	code = NormalizeCode(code)
	if id == "" || code == "" || value <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	switch typ {
	case DiscountPercentage:
		if value > 100 {
			return nil, domain.ErrInvalidArgument
		}
	case DiscountFixedAmount:
	default:
		return nil, domain.ErrInvalidArgument
	}
	return &Coupon{
		ID:                id,
		Code:              code,
		DiscountType:      typ,
		DiscountValue:     value,
		ValidFrom:         validFrom,
		IsActive:          true,
		AppliesToAllPlans: true,
		CreatedAt:         time.Now(),
	}, nil
}

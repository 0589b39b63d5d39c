package model

import (
	"strings"
	"time"

	"subscription-lifecycle/internal/domain"
)

// Role is the marketplace role of the requesting user, supplied by the
// identity collaborator.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// PlanCategory says which audience a plan is sold to.
type PlanCategory string

const (
	PlanCategoryStudent PlanCategory = "student"
	PlanCategoryTeacher PlanCategory = "teacher"
	PlanCategoryAdmin   PlanCategory = "admin"
)

func (c PlanCategory) Valid() bool {
	switch c {
	case PlanCategoryStudent, PlanCategoryTeacher, PlanCategoryAdmin:
		return true
	}
	return false
}

// Allows reports whether a user with role r may purchase a plan of category c.
// Admins may purchase anything.
func (c PlanCategory) Allows(r Role) bool {
	if r == RoleAdmin {
		return true
	}
	return string(c) == string(r)
}

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

func (b BillingCycle) Valid() bool {
	return b == BillingCycleMonthly || b == BillingCycleYearly
}

// SubscriptionPlan is a catalog row. Prices are in minor units (cents).
type SubscriptionPlan struct {
	ID                   string           `json:"id"`
	Slug                 string           `json:"slug"`
	Name                 string           `json:"name"`
	PriceMonthly         int64            `json:"price_monthly"`
	PriceYearly          int64            `json:"price_yearly"`
	Currency             string           `json:"currency"`
	FeatureLimits        map[string]int64 `json:"feature_limits,omitempty"`
	IsActive             bool             `json:"is_active"`
	Category             PlanCategory     `json:"category"`
	ProviderPriceMonthly string           `json:"provider_price_monthly,omitempty"`
	ProviderPriceYearly  string           `json:"provider_price_yearly,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
}

func (p *SubscriptionPlan) IsZero() bool { return p == nil || p.ID == "" }

// PriceFor returns the list price for a billing cycle.
func (p *SubscriptionPlan) PriceFor(cycle BillingCycle) int64 {
	if cycle == BillingCycleYearly {
		return p.PriceYearly
	}
	return p.PriceMonthly
}

// ProviderPriceRef returns the billing provider's price reference for cycle.
// ok is false when the plan is not sold on that cycle.
func (p *SubscriptionPlan) ProviderPriceRef(cycle BillingCycle) (ref string, ok bool) {
	switch cycle {
	case BillingCycleMonthly:
		ref = p.ProviderPriceMonthly
	case BillingCycleYearly:
		ref = p.ProviderPriceYearly
	}
	ref = strings.TrimSpace(ref)
	return ref, ref != ""
}

// NewSubscriptionPlan validates and constructs an active plan.
func NewSubscriptionPlan(id, slug, name string, category PlanCategory, priceMonthly, priceYearly int64) (*SubscriptionPlan, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if id == "" || slug == "" || name == "" || !category.Valid() || priceMonthly < 0 || priceYearly < 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &SubscriptionPlan{
		ID:            id,
		Slug:          slug,
		Name:          name,
		PriceMonthly:  priceMonthly,
		PriceYearly:   priceYearly,
		Currency:      "usd",
		FeatureLimits: map[string]int64{},
		IsActive:      true,
		Category:      category,
		CreatedAt:     time.Now(),
	}, nil
}

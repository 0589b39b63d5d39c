// File: internal/usecase/coupon_uc.go
package usecase

import (
	"context"
	"time"

	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/repository"
)

// Compile-time check
var _ CouponUseCase = (*couponUC)(nil)

type CouponUseCase interface {
	// Validate applies the coupon rules in order and never touches usage.
	Validate(ctx context.Context, code, planID string, now time.Time) (*model.Coupon, error)
	PreviewDiscount(ctx context.Context, code, planID string, cycle model.BillingCycle) (*DiscountPreview, error)
}

// DiscountPreview is the priced outcome of applying a coupon to one plan cycle.
type DiscountPreview struct {
	Code           string             `json:"code"`
	DiscountType   model.DiscountType `json:"discount_type"`
	DiscountValue  int64              `json:"discount_value"`
	BaseAmount     int64              `json:"base_amount"`
	DiscountAmount int64              `json:"discount_amount"`
	FinalAmount    int64              `json:"final_amount"`
	Currency       string             `json:"currency"`
}

type couponUC struct {
	coupons repository.CouponRepository
	plans   PlanUseCase
	now     Clock
}

func NewCouponUseCase(coupons repository.CouponRepository, plans PlanUseCase, clock Clock) *couponUC {
	if clock == nil {
		clock = systemClock
	}
	return &couponUC{coupons: coupons, plans: plans, now: clock}
}

func (uc *couponUC) Validate(ctx context.Context, code, planID string, now time.Time) (*model.Coupon, error) {
	norm := model.NormalizeCode(code)
	if norm == "" {
		return nil, domain.ErrCouponNotFound
	}
	c, err := uc.coupons.FindByCode(ctx, repository.NoTX, norm)
	if err != nil {
		return nil, err
	}
	if err := c.Check(planID, now); err != nil {
		return nil, err
	}
	return c, nil
}

func (uc *couponUC) PreviewDiscount(ctx context.Context, code, planID string, cycle model.BillingCycle) (*DiscountPreview, error) {
	if !cycle.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	plan, err := uc.plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	c, err := uc.Validate(ctx, code, plan.ID, uc.now())
	if err != nil {
		return nil, err
	}
	base := plan.PriceFor(cycle)
	d := c.Discount()
	amount := d.Amount(base)
	return &DiscountPreview{
		Code:           c.Code,
		DiscountType:   d.Type,
		DiscountValue:  d.Value,
		BaseAmount:     base,
		DiscountAmount: amount,
		FinalAmount:    base - amount,
		Currency:       plan.Currency,
	}, nil
}

package repository

import (
	"context"

	"subscription-lifecycle/internal/domain/model"
)

type CouponRepository interface {
	Save(ctx context.Context, tx Tx, c *model.Coupon) error
	// FindByCode expects an already normalized code.
	FindByCode(ctx context.Context, tx Tx, code string) (*model.Coupon, error)
	// IncrementUsage bumps used_count by one unless it would exceed max_uses,
	// in which case it returns domain.ErrCouponExhausted.
	IncrementUsage(ctx context.Context, tx Tx, couponID string) error
	SetProviderCouponID(ctx context.Context, tx Tx, couponID, providerID string) error
}

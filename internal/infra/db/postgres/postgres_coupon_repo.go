package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/repository"
)

var _ repository.CouponRepository = (*couponRepo)(nil)

type couponRepo struct {
	pool *pgxpool.Pool
}

func NewCouponRepo(pool *pgxpool.Pool) *couponRepo {
	return &couponRepo{pool: pool}
}

func (r *couponRepo) Save(ctx context.Context, tx repository.Tx, c *model.Coupon) error {
	const sql = `
INSERT INTO coupons (id, code, discount_type, discount_value, valid_from, valid_until, is_active,
                     applies_to_all_plans, plan_ids, max_uses, used_count, provider_coupon_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE
  SET discount_type        = EXCLUDED.discount_type,
      discount_value       = EXCLUDED.discount_value,
      valid_from           = EXCLUDED.valid_from,
      valid_until          = EXCLUDED.valid_until,
      is_active            = EXCLUDED.is_active,
      applies_to_all_plans = EXCLUDED.applies_to_all_plans,
      plan_ids             = EXCLUDED.plan_ids,
      max_uses             = EXCLUDED.max_uses;
`
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	planIDs := c.PlanIDs
	if planIDs == nil {
		planIDs = []string{}
	}
	_, err = exec.Exec(ctx, sql,
		c.ID, model.NormalizeCode(c.Code), string(c.DiscountType), c.DiscountValue, c.ValidFrom, c.ValidUntil, c.IsActive,
		c.AppliesToAllPlans, planIDs, c.MaxUses, c.UsedCount, c.ProviderCouponID, c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("save coupon: %w", err)
	}
	return nil
}

func (r *couponRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.Coupon, error) {
	const sql = `
SELECT id, code, discount_type, discount_value, valid_from, valid_until, is_active,
       applies_to_all_plans, plan_ids, max_uses, used_count, provider_coupon_id, created_at
  FROM coupons
 WHERE code = $1;
`
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	c, err := scanCoupon(exec.QueryRow(ctx, sql, code))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrCouponNotFound
		}
		return nil, fmt.Errorf("find coupon: %w", err)
	}
	return c, nil
}

// IncrementUsage is a single conditional update so concurrent redemptions of
// the last remaining use cannot both succeed.
func (r *couponRepo) IncrementUsage(ctx context.Context, tx repository.Tx, couponID string) error {
	const sql = `
UPDATE coupons
   SET used_count = used_count + 1
 WHERE id = $1
   AND (max_uses IS NULL OR used_count < max_uses);
`
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	ct, err := exec.Exec(ctx, sql, couponID)
	if err != nil {
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := exec.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM coupons WHERE id = $1)`, couponID).Scan(&exists); err != nil {
		return fmt.Errorf("check coupon: %w", err)
	}
	if !exists {
		return domain.ErrCouponNotFound
	}
	return domain.ErrCouponExhausted
}

func (r *couponRepo) SetProviderCouponID(ctx context.Context, tx repository.Tx, couponID, providerID string) error {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	ct, err := exec.Exec(ctx, `UPDATE coupons SET provider_coupon_id = $2 WHERE id = $1;`, couponID, providerID)
	if err != nil {
		return fmt.Errorf("set provider coupon id: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrCouponNotFound
	}
	return nil
}

func scanCoupon(row pgx.Row) (*model.Coupon, error) {
	var (
		c   model.Coupon
		typ string
	)
	if err := row.Scan(&c.ID, &c.Code, &typ, &c.DiscountValue, &c.ValidFrom, &c.ValidUntil, &c.IsActive,
		&c.AppliesToAllPlans, &c.PlanIDs, &c.MaxUses, &c.UsedCount, &c.ProviderCouponID, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.DiscountType = model.DiscountType(typ)
	return &c, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Ensure interface compliance
var _ repository.SubscriptionPlanRepository = (*PostgresPlanRepo)(nil)

type PostgresPlanRepo struct {
	pool *pgxpool.Pool
}

func NewPlanRepo(pool *pgxpool.Pool) *PostgresPlanRepo {
	return &PostgresPlanRepo{pool: pool}
}

const planColumns = `id, slug, name, price_monthly, price_yearly, currency, feature_limits,
       is_active, category, provider_price_monthly, provider_price_yearly, created_at`

func (r *PostgresPlanRepo) Save(ctx context.Context, tx repository.Tx, plan *model.SubscriptionPlan) error {
	const sql = `
INSERT INTO subscription_plans (id, slug, name, price_monthly, price_yearly, currency, feature_limits,
                                is_active, category, provider_price_monthly, provider_price_yearly, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), NULLIF($11, ''), $12)
ON CONFLICT (id) DO UPDATE
  SET slug                   = EXCLUDED.slug,
      name                   = EXCLUDED.name,
      price_monthly          = EXCLUDED.price_monthly,
      price_yearly           = EXCLUDED.price_yearly,
      currency               = EXCLUDED.currency,
      feature_limits         = EXCLUDED.feature_limits,
      is_active              = EXCLUDED.is_active,
      category               = EXCLUDED.category,
      provider_price_monthly = EXCLUDED.provider_price_monthly,
      provider_price_yearly  = EXCLUDED.provider_price_yearly;
`
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	limits := plan.FeatureLimits
	if limits == nil {
		limits = map[string]int64{}
	}
	limitsJSON, err := json.Marshal(limits)
	if err != nil {
		return fmt.Errorf("marshal feature limits: %w", err)
	}
	_, err = exec.Exec(ctx, sql,
		plan.ID, plan.Slug, plan.Name, plan.PriceMonthly, plan.PriceYearly, plan.Currency, string(limitsJSON),
		plan.IsActive, string(plan.Category), plan.ProviderPriceMonthly, plan.ProviderPriceYearly, plan.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("Save plan: %w", err)
	}
	return nil
}

func (r *PostgresPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
	return r.findOne(ctx, tx, `SELECT `+planColumns+` FROM subscription_plans WHERE id = $1;`, id)
}

func (r *PostgresPlanRepo) FindBySlug(ctx context.Context, tx repository.Tx, slug string) (*model.SubscriptionPlan, error) {
	return r.findOne(ctx, tx, `SELECT `+planColumns+` FROM subscription_plans WHERE slug = lower($1);`, slug)
}

func (r *PostgresPlanRepo) FindByProviderPriceRef(ctx context.Context, tx repository.Tx, priceRef string) (*model.SubscriptionPlan, error) {
	return r.findOne(ctx, tx, `
SELECT `+planColumns+`
  FROM subscription_plans
 WHERE provider_price_monthly = $1 OR provider_price_yearly = $1
 LIMIT 1;`, priceRef)
}

func (r *PostgresPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.SubscriptionPlan, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, `SELECT `+planColumns+` FROM subscription_plans ORDER BY price_monthly, id;`)
	if err != nil {
		return nil, fmt.Errorf("ListAll plans: %w", err)
	}
	defer rows.Close()
	var out []*model.SubscriptionPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresPlanRepo) findOne(ctx context.Context, tx repository.Tx, sql string, arg string) (*model.SubscriptionPlan, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	p, err := scanPlan(exec.QueryRow(ctx, sql, arg))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find plan: %w", err)
	}
	return p, nil
}

func scanPlan(row pgx.Row) (*model.SubscriptionPlan, error) {
	var (
		p            model.SubscriptionPlan
		category     string
		limits       []byte
		priceMonthly *string
		priceYearly  *string
	)
	if err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.PriceMonthly, &p.PriceYearly, &p.Currency, &limits,
		&p.IsActive, &category, &priceMonthly, &priceYearly, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Category = model.PlanCategory(category)
	if priceMonthly != nil {
		p.ProviderPriceMonthly = *priceMonthly
	}
	if priceYearly != nil {
		p.ProviderPriceYearly = *priceYearly
	}
	p.FeatureLimits = map[string]int64{}
	if len(limits) > 0 {
		if err := json.Unmarshal(limits, &p.FeatureLimits); err != nil {
			return nil, fmt.Errorf("%w: feature_limits: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	return &p, nil
}

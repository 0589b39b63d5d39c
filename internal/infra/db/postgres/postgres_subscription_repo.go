package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subColumns = `id, user_id, plan_id, billing_cycle, status, start_date, end_date, next_billing_date,
       auto_renew, cancelled_at, provider_subscription_id, provider_customer_id, created_at, updated_at`

// LockUser takes a transaction-scoped advisory lock keyed by user id. It must
// run inside a transaction, otherwise the lock would be released immediately.
func (r *subscriptionRepo) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	pgTx, ok := tx.(pgx.Tx)
	if !ok {
		return domain.ErrInvalidExecContext
	}
	if _, err := pgTx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey("subscription:"+userID)); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func (r *subscriptionRepo) Create(ctx context.Context, tx repository.Tx, s *model.UserSubscription) error {
	const sql = `
INSERT INTO user_subscriptions (id, user_id, plan_id, billing_cycle, status, start_date, end_date, next_billing_date,
                                auto_renew, cancelled_at, provider_subscription_id, provider_customer_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);
`
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = exec.Exec(ctx, sql,
		s.ID, s.UserID, s.PlanID, string(s.BillingCycle), string(s.Status), s.StartDate, s.EndDate, s.NextBillingDate,
		s.AutoRenew, s.CancelledAt, s.ProviderSubscriptionID, s.ProviderCustomerID, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepo) UpdateGuarded(ctx context.Context, tx repository.Tx, s *model.UserSubscription, expectStatus model.SubscriptionStatus, expectPlanID string) error {
	const sql = `
UPDATE user_subscriptions
   SET plan_id                  = $2,
       billing_cycle            = $3,
       status                   = $4,
       end_date                 = $5,
       next_billing_date        = $6,
       auto_renew               = $7,
       cancelled_at             = $8,
       provider_subscription_id = $9,
       provider_customer_id     = $10,
       updated_at               = $11
 WHERE id = $1
   AND status = $12
   AND plan_id = $13;
`
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	ct, err := exec.Exec(ctx, sql,
		s.ID, s.PlanID, string(s.BillingCycle), string(s.Status), s.EndDate, s.NextBillingDate,
		s.AutoRenew, s.CancelledAt, s.ProviderSubscriptionID, s.ProviderCustomerID, s.UpdatedAt,
		string(expectStatus), expectPlanID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConcurrentModification
		}
		return fmt.Errorf("update subscription: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrConcurrentModification
	}
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.UserSubscription, error) {
	return r.findOne(ctx, tx, `SELECT `+subColumns+` FROM user_subscriptions WHERE id = $1;`, id)
}

func (r *subscriptionRepo) FindByProviderSubscriptionID(ctx context.Context, tx repository.Tx, providerSubID string) (*model.UserSubscription, error) {
	return r.findOne(ctx, tx, `SELECT `+subColumns+` FROM user_subscriptions WHERE provider_subscription_id = $1;`, providerSubID)
}

func (r *subscriptionRepo) FindLiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.UserSubscription, error) {
	return r.findOne(ctx, tx, `
SELECT `+subColumns+`
  FROM user_subscriptions
 WHERE user_id = $1 AND status IN ('active', 'trial')
 LIMIT 1;`, userID)
}

func (r *subscriptionRepo) FindLatestCancelledByUser(ctx context.Context, tx repository.Tx, userID string) (*model.UserSubscription, error) {
	return r.findOne(ctx, tx, `
SELECT `+subColumns+`
  FROM user_subscriptions
 WHERE user_id = $1 AND status = 'cancelled'
 ORDER BY cancelled_at DESC NULLS LAST, updated_at DESC
 LIMIT 1;`, userID)
}

func (r *subscriptionRepo) FindCurrentByUser(ctx context.Context, tx repository.Tx, userID string) (*model.UserSubscription, error) {
	return r.findOne(ctx, tx, `
SELECT `+subColumns+`
  FROM user_subscriptions
 WHERE user_id = $1 AND status IN ('active', 'trial', 'cancelled')
 ORDER BY CASE WHEN status IN ('active', 'trial') THEN 0 ELSE 1 END, updated_at DESC
 LIMIT 1;`, userID)
}

func (r *subscriptionRepo) ExpirePriorForUser(ctx context.Context, tx repository.Tx, userID string, now time.Time) ([]*model.UserSubscription, error) {
	const sql = `
UPDATE user_subscriptions
   SET status     = 'expired',
       end_date   = $2,
       auto_renew = FALSE,
       updated_at = $2
 WHERE user_id = $1
   AND (status IN ('active', 'trial')
        OR (status = 'cancelled' AND (end_date IS NULL OR end_date > $2)))
RETURNING ` + subColumns + `;
`
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, sql, userID, now)
	if err != nil {
		return nil, fmt.Errorf("expire prior subscriptions: %w", err)
	}
	defer rows.Close()

	var closed []*model.UserSubscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		closed = append(closed, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("expire prior subscriptions: %w", err)
	}
	return closed, nil
}

func (r *subscriptionRepo) ListCancelledEndedBefore(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.UserSubscription, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, `
SELECT `+subColumns+`
  FROM user_subscriptions
 WHERE status = 'cancelled' AND end_date IS NOT NULL AND end_date <= $1
 ORDER BY end_date
 LIMIT $2;`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list ended subscriptions: %w", err)
	}
	defer rows.Close()
	var out []*model.UserSubscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, `SELECT status, COUNT(*) FROM user_subscriptions GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}
	defer rows.Close()
	out := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[model.SubscriptionStatus(status)] = n
	}
	return out, rows.Err()
}

func (r *subscriptionRepo) findOne(ctx context.Context, tx repository.Tx, sql string, arg string) (*model.UserSubscription, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	s, err := scanSubscription(exec.QueryRow(ctx, sql, arg))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return s, nil
}

func scanSubscription(row pgx.Row) (*model.UserSubscription, error) {
	var (
		s      model.UserSubscription
		cycle  string
		status string
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &cycle, &status, &s.StartDate, &s.EndDate, &s.NextBillingDate,
		&s.AutoRenew, &s.CancelledAt, &s.ProviderSubscriptionID, &s.ProviderCustomerID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.BillingCycle = model.BillingCycle(cycle)
	s.Status = model.SubscriptionStatus(status)
	return &s, nil
}

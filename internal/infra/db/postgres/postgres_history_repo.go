package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/repository"
)

var _ repository.HistoryRepository = (*historyRepo)(nil)

type historyRepo struct {
	pool *pgxpool.Pool
}

func NewHistoryRepo(pool *pgxpool.Pool) *historyRepo {
	return &historyRepo{pool: pool}
}

func (r *historyRepo) Append(ctx context.Context, tx repository.Tx, h *model.SubscriptionHistory) error {
	const sql = `
INSERT INTO subscription_history (id, user_id, subscription_id, action, old_plan_id, new_plan_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	if _, err := exec.Exec(ctx, sql, h.ID, h.UserID, h.SubscriptionID, string(h.Action), h.OldPlanID, h.NewPlanID, h.CreatedAt); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (r *historyRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.SubscriptionHistory, error) {
	return r.list(ctx, tx, `
SELECT id, user_id, subscription_id, action, old_plan_id, new_plan_id, created_at
  FROM subscription_history
 WHERE user_id = $1
 ORDER BY created_at, id;`, userID)
}

func (r *historyRepo) ListBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string) ([]*model.SubscriptionHistory, error) {
	return r.list(ctx, tx, `
SELECT id, user_id, subscription_id, action, old_plan_id, new_plan_id, created_at
  FROM subscription_history
 WHERE subscription_id = $1
 ORDER BY created_at, id;`, subscriptionID)
}

func (r *historyRepo) list(ctx context.Context, tx repository.Tx, sql, arg string) ([]*model.SubscriptionHistory, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, sql, arg)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	var out []*model.SubscriptionHistory
	for rows.Next() {
		var (
			h      model.SubscriptionHistory
			action string
		)
		if err := rows.Scan(&h.ID, &h.UserID, &h.SubscriptionID, &action, &h.OldPlanID, &h.NewPlanID, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Action = model.HistoryAction(action)
		out = append(out, &h)
	}
	return out, rows.Err()
}

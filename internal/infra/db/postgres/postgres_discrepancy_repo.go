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

var _ repository.DiscrepancyRepository = (*discrepancyRepo)(nil)

type discrepancyRepo struct {
	pool *pgxpool.Pool
}

func NewDiscrepancyRepo(pool *pgxpool.Pool) *discrepancyRepo {
	return &discrepancyRepo{pool: pool}
}

const discrepancyColumns = `id, user_id, subscription_id, operation, reason, detail, provider_subscription_id,
       status, attempts, resolution, created_at, updated_at, resolved_at`

func (r *discrepancyRepo) Record(ctx context.Context, tx repository.Tx, d *model.Discrepancy) error {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = exec.Exec(ctx, `
INSERT INTO reconciliation_discrepancies (`+discrepancyColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);`,
		d.ID, d.UserID, d.SubscriptionID, string(d.Operation), string(d.Reason), d.Detail, d.ProviderSubscriptionID,
		string(d.Status), d.Attempts, d.Resolution, d.CreatedAt, d.UpdatedAt, d.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("record discrepancy: %w", err)
	}
	return nil
}

func (r *discrepancyRepo) ListOpen(ctx context.Context, tx repository.Tx, limit int) ([]*model.Discrepancy, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, `
SELECT `+discrepancyColumns+`
  FROM reconciliation_discrepancies
 WHERE status = 'open'
 ORDER BY created_at
 LIMIT $1;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list discrepancies: %w", err)
	}
	defer rows.Close()
	var out []*model.Discrepancy
	for rows.Next() {
		d, err := scanDiscrepancy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *discrepancyRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Discrepancy, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	d, err := scanDiscrepancy(exec.QueryRow(ctx, `SELECT `+discrepancyColumns+` FROM reconciliation_discrepancies WHERE id = $1;`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find discrepancy: %w", err)
	}
	return d, nil
}

func (r *discrepancyRepo) MarkResolved(ctx context.Context, tx repository.Tx, id, resolution string) error {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	ct, err := exec.Exec(ctx, `
UPDATE reconciliation_discrepancies
   SET status = 'resolved', resolution = $2, resolved_at = now(), updated_at = now()
 WHERE id = $1 AND status = 'open';`, id, resolution)
	if err != nil {
		return fmt.Errorf("resolve discrepancy: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *discrepancyRepo) IncrementAttempts(ctx context.Context, tx repository.Tx, id, detail string) error {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	_, err = exec.Exec(ctx, `
UPDATE reconciliation_discrepancies
   SET attempts = attempts + 1, detail = $2, updated_at = now()
 WHERE id = $1;`, id, detail)
	if err != nil {
		return fmt.Errorf("bump discrepancy attempts: %w", err)
	}
	return nil
}

func (r *discrepancyRepo) CountOpen(ctx context.Context, tx repository.Tx) (int, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := exec.QueryRow(ctx, `SELECT COUNT(*) FROM reconciliation_discrepancies WHERE status = 'open';`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count discrepancies: %w", err)
	}
	return n, nil
}

func scanDiscrepancy(row pgx.Row) (*model.Discrepancy, error) {
	var (
		d              model.Discrepancy
		op, reason, st string
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.SubscriptionID, &op, &reason, &d.Detail, &d.ProviderSubscriptionID,
		&st, &d.Attempts, &d.Resolution, &d.CreatedAt, &d.UpdatedAt, &d.ResolvedAt); err != nil {
		return nil, err
	}
	d.Operation = model.DiscrepancyOp(op)
	d.Reason = model.DiscrepancyReason(reason)
	d.Status = model.DiscrepancyStatus(st)
	return &d, nil
}

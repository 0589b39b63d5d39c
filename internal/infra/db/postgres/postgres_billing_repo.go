package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/repository"
)

var (
	_ repository.CustomerRepository = (*customerRepo)(nil)
	_ repository.InvoiceRepository  = (*invoiceRepo)(nil)
)

type customerRepo struct {
	pool *pgxpool.Pool
}

func NewCustomerRepo(pool *pgxpool.Pool) *customerRepo {
	return &customerRepo{pool: pool}
}

func (r *customerRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.BillingCustomer, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	var c model.BillingCustomer
	err = exec.QueryRow(ctx, `
SELECT user_id, provider_customer_id, email, created_at
  FROM billing_customers
 WHERE user_id = $1;`, userID).Scan(&c.UserID, &c.ProviderCustomerID, &c.Email, &c.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find customer: %w", err)
	}
	return &c, nil
}

// SaveIfAbsent keeps the first mapping written for a user; a losing concurrent
// writer gets the winner's row back.
func (r *customerRepo) SaveIfAbsent(ctx context.Context, tx repository.Tx, c *model.BillingCustomer) (*model.BillingCustomer, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	_, err = exec.Exec(ctx, `
INSERT INTO billing_customers (user_id, provider_customer_id, email, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO NOTHING;`, c.UserID, c.ProviderCustomerID, c.Email, c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("save customer: %w", err)
	}
	return r.FindByUser(ctx, tx, c.UserID)
}

type invoiceRepo struct {
	pool *pgxpool.Pool
}

func NewInvoiceRepo(pool *pgxpool.Pool) *invoiceRepo {
	return &invoiceRepo{pool: pool}
}

const invoiceColumns = `id, user_id, subscription_id, invoice_number, amount, total_amount, currency,
       payment_status, payment_date, provider_invoice_id, created_at`

// Save upserts on provider_invoice_id so replayed billing events update the
// payment status instead of creating duplicates.
func (r *invoiceRepo) Save(ctx context.Context, tx repository.Tx, inv *model.Invoice) (*model.Invoice, error) {
	sql := `
INSERT INTO invoices (` + invoiceColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (provider_invoice_id) DO UPDATE
  SET payment_status = EXCLUDED.payment_status,
      payment_date   = COALESCE(EXCLUDED.payment_date, invoices.payment_date)
RETURNING ` + invoiceColumns + `;`
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	var (
		out    model.Invoice
		status string
	)
	err = exec.QueryRow(ctx, sql,
		inv.ID, inv.UserID, inv.SubscriptionID, inv.InvoiceNumber, inv.Amount, inv.TotalAmount, inv.Currency,
		string(inv.PaymentStatus), inv.PaymentDate, inv.ProviderInvoiceID, inv.CreatedAt,
	).Scan(&out.ID, &out.UserID, &out.SubscriptionID, &out.InvoiceNumber, &out.Amount, &out.TotalAmount, &out.Currency,
		&status, &out.PaymentDate, &out.ProviderInvoiceID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("save invoice: %w", err)
	}
	out.PaymentStatus = model.PaymentStatus(status)
	return &out, nil
}

func (r *invoiceRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.Invoice, error) {
	exec, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := exec.Query(ctx, `
SELECT `+invoiceColumns+`
  FROM invoices
 WHERE user_id = $1
 ORDER BY created_at DESC
 LIMIT $2;`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()
	var out []*model.Invoice
	for rows.Next() {
		var (
			inv    model.Invoice
			status string
		)
		if err := rows.Scan(&inv.ID, &inv.UserID, &inv.SubscriptionID, &inv.InvoiceNumber, &inv.Amount, &inv.TotalAmount,
			&inv.Currency, &status, &inv.PaymentDate, &inv.ProviderInvoiceID, &inv.CreatedAt); err != nil {
			return nil, err
		}
		inv.PaymentStatus = model.PaymentStatus(status)
		out = append(out, &inv)
	}
	return out, rows.Err()
}

package repository

import (
	"context"

	"subscription-lifecycle/internal/domain/model"
)

type CustomerRepository interface {
	FindByUser(ctx context.Context, tx Tx, userID string) (*model.BillingCustomer, error)
	// SaveIfAbsent stores the mapping unless one exists and returns the stored row.
	SaveIfAbsent(ctx context.Context, tx Tx, c *model.BillingCustomer) (*model.BillingCustomer, error)
}

type InvoiceRepository interface {
	// Save is idempotent on ProviderInvoiceID and returns the stored row.
	Save(ctx context.Context, tx Tx, inv *model.Invoice) (*model.Invoice, error)
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.Invoice, error)
}

type DiscrepancyRepository interface {
	Record(ctx context.Context, tx Tx, d *model.Discrepancy) error
	ListOpen(ctx context.Context, tx Tx, limit int) ([]*model.Discrepancy, error)
	FindByID(ctx context.Context, tx Tx, id string) (*model.Discrepancy, error)
	MarkResolved(ctx context.Context, tx Tx, id, resolution string) error
	IncrementAttempts(ctx context.Context, tx Tx, id, detail string) error
	CountOpen(ctx context.Context, tx Tx) (int, error)
}

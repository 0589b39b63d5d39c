package repository

import (
	"context"

	"subscription-lifecycle/internal/domain/model"
)

// SubscriptionPlanRepository is the port for the plan catalog.
// Finders return domain.ErrNotFound for unknown ids; inactive plans are returned
// as-is and filtered by the catalog use case.
type SubscriptionPlanRepository interface {
	Save(ctx context.Context, tx Tx, plan *model.SubscriptionPlan) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.SubscriptionPlan, error)
	FindBySlug(ctx context.Context, tx Tx, slug string) (*model.SubscriptionPlan, error)
	FindByProviderPriceRef(ctx context.Context, tx Tx, priceRef string) (*model.SubscriptionPlan, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.SubscriptionPlan, error)
}

package usecase

import (
	"context"

	"subscription-lifecycle/internal/domain/model"
)

// SubscriptionReader is the read-only view handed to dashboard collaborators.
type SubscriptionReader interface {
	GetCurrentSubscription(ctx context.Context, userID string) (*model.UserSubscription, error)
	ListHistory(ctx context.Context, userID string) ([]*model.SubscriptionHistory, error)
}

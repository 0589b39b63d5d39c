package repository

import (
	"context"
	"time"

	"subscription-lifecycle/internal/domain/model"
)

// SubscriptionRepository is the ledger port for user subscriptions.
type SubscriptionRepository interface {
	// LockUser serializes lifecycle writes for one user for the lifetime of tx.
	LockUser(ctx context.Context, tx Tx, userID string) error

	Create(ctx context.Context, tx Tx, sub *model.UserSubscription) error
	// UpdateGuarded writes sub only if the stored row still has expectStatus and
	// expectPlanID. It returns domain.ErrConcurrentModification otherwise.
	UpdateGuarded(ctx context.Context, tx Tx, sub *model.UserSubscription, expectStatus model.SubscriptionStatus, expectPlanID string) error

	FindByID(ctx context.Context, tx Tx, id string) (*model.UserSubscription, error)
	FindByProviderSubscriptionID(ctx context.Context, tx Tx, providerSubID string) (*model.UserSubscription, error)
	// FindLiveByUser returns the user's active or trial row, or domain.ErrNotFound.
	FindLiveByUser(ctx context.Context, tx Tx, userID string) (*model.UserSubscription, error)
	// FindLatestCancelledByUser returns the most recently cancelled row, or domain.ErrNotFound.
	FindLatestCancelledByUser(ctx context.Context, tx Tx, userID string) (*model.UserSubscription, error)
	// FindCurrentByUser returns the live row, else the latest cancelled row, else domain.ErrNotFound.
	FindCurrentByUser(ctx context.Context, tx Tx, userID string) (*model.UserSubscription, error)

	// ExpirePriorForUser closes every live or resumable row of the user as expired
	// at now and returns the closed rows.
	ExpirePriorForUser(ctx context.Context, tx Tx, userID string, now time.Time) ([]*model.UserSubscription, error)
	ListCancelledEndedBefore(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.UserSubscription, error)
	CountByStatus(ctx context.Context, tx Tx) (map[model.SubscriptionStatus]int, error)
}

// HistoryRepository is append-only.
type HistoryRepository interface {
	Append(ctx context.Context, tx Tx, h *model.SubscriptionHistory) error
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.SubscriptionHistory, error)
	ListBySubscription(ctx context.Context, tx Tx, subscriptionID string) ([]*model.SubscriptionHistory, error)
}

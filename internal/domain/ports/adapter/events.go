package adapter

import (
	"context"
	"time"
)

// LifecycleEvent is emitted after a lifecycle transition has committed.
type LifecycleEvent struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"` // subscription.<history action>
	UserID         string    `json:"user_id"`
	SubscriptionID string    `json:"subscription_id"`
	PlanID         string    `json:"plan_id,omitempty"`
	OldPlanID      string    `json:"old_plan_id,omitempty"`
	Status         string    `json:"status"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type EventPublisher interface {
	Publish(ctx context.Context, ev LifecycleEvent) error
	Close() error
}

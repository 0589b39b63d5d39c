//go:build !integration

package postgres

import (
	"context"
	"time"

	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/repository"
	red "subscription-lifecycle/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerPlanRepo mocks the database repository that the Plan decorator wraps.
type mockInnerPlanRepo struct {
	SaveFunc       func(ctx context.Context, tx repository.Tx, plan *model.SubscriptionPlan) error
	FindByIDFunc   func(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error)
	FindBySlugFunc func(ctx context.Context, tx repository.Tx, slug string) (*model.SubscriptionPlan, error)
	ListAllFunc    func(ctx context.Context, tx repository.Tx) ([]*model.SubscriptionPlan, error)
}

func (m *mockInnerPlanRepo) Save(ctx context.Context, tx repository.Tx, plan *model.SubscriptionPlan) error {
	return m.SaveFunc(ctx, tx, plan)
}
func (m *mockInnerPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerPlanRepo) FindBySlug(ctx context.Context, tx repository.Tx, slug string) (*model.SubscriptionPlan, error) {
	return m.FindBySlugFunc(ctx, tx, slug)
}
func (m *mockInnerPlanRepo) FindByProviderPriceRef(ctx context.Context, tx repository.Tx, priceRef string) (*model.SubscriptionPlan, error) {
	return nil, nil
}
func (m *mockInnerPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.SubscriptionPlan, error) {
	return m.ListAllFunc(ctx, tx)
}

// mockRedisClient implements red.RedisClient with overridable funcs.
type mockRedisClient struct {
	GetFunc func(ctx context.Context, key string) (string, error)
	SetFunc func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc func(ctx context.Context, keys ...string) error
}

var _ red.RedisClient = (*mockRedisClient)(nil)

func (m *mockRedisClient) Ping(ctx context.Context) error { return nil }
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc != nil {
		return m.SetFunc(ctx, key, value, expiration)
	}
	return nil
}
func (m *mockRedisClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return true, nil
}
func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return "", red.Nil
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc != nil {
		return m.DelFunc(ctx, keys...)
	}
	return nil
}
func (m *mockRedisClient) DelIfEquals(ctx context.Context, key, value string) (bool, error) {
	return true, nil
}
func (m *mockRedisClient) Close() error { return nil }

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/repository"
	"subscription-lifecycle/internal/infra/metrics"
	red "subscription-lifecycle/internal/infra/redis"

	"github.com/rs/zerolog"
)

var _ repository.SubscriptionPlanRepository = (*planRepoCacheDecorator)(nil)

const plansAllKey = "plans:all"

// planRepoCacheDecorator caches catalog reads in Redis. Reads inside a
// transaction bypass the cache so they observe the transaction's snapshot.
type planRepoCacheDecorator struct {
	inner repository.SubscriptionPlanRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewPlanRepoCacheDecorator(inner repository.SubscriptionPlanRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.SubscriptionPlanRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	l := logger.With().Str("component", "PlanCache").Logger()
	return &planRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func planIDKey(id string) string     { return fmt.Sprintf("plan:%s", id) }
func planSlugKey(slug string) string { return fmt.Sprintf("plan:slug:%s", slug) }

func (d *planRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.SubscriptionPlan, error) {
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	return d.cachedPlan(ctx, "plan", planIDKey(id), func() (*model.SubscriptionPlan, error) {
		return d.inner.FindByID(ctx, tx, id)
	})
}

func (d *planRepoCacheDecorator) FindBySlug(ctx context.Context, tx repository.Tx, slug string) (*model.SubscriptionPlan, error) {
	if tx != nil {
		return d.inner.FindBySlug(ctx, tx, slug)
	}
	return d.cachedPlan(ctx, "plan_slug", planSlugKey(slug), func() (*model.SubscriptionPlan, error) {
		return d.inner.FindBySlug(ctx, tx, slug)
	})
}

// FindByProviderPriceRef is used only by reconciliation and is not cached.
func (d *planRepoCacheDecorator) FindByProviderPriceRef(ctx context.Context, tx repository.Tx, priceRef string) (*model.SubscriptionPlan, error) {
	return d.inner.FindByProviderPriceRef(ctx, tx, priceRef)
}

func (d *planRepoCacheDecorator) ListAll(ctx context.Context, tx repository.Tx) ([]*model.SubscriptionPlan, error) {
	if tx == nil {
		val, err := d.cache.Get(ctx, plansAllKey)
		if err == nil {
			var plans []*model.SubscriptionPlan
			if json.Unmarshal([]byte(val), &plans) == nil {
				metrics.IncCacheRequest("plan_list", "hit")
				return plans, nil
			}
		} else if !errors.Is(err, red.Nil) {
			d.log.Warn().Err(err).Msg("plan list cache read failed")
			metrics.IncCacheRequest("plan_list", "error")
		}
		metrics.IncCacheRequest("plan_list", "miss")
	}

	plans, err := d.inner.ListAll(ctx, tx)
	if err != nil {
		return nil, err
	}
	if tx == nil && len(plans) > 0 {
		d.store(ctx, plansAllKey, plans)
	}
	return plans, nil
}

// Save invalidates the id, slug and list keys before writing through.
func (d *planRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, plan *model.SubscriptionPlan) error {
	keys := []string{planIDKey(plan.ID), planSlugKey(plan.Slug), plansAllKey}
	if old, err := d.inner.FindByID(ctx, tx, plan.ID); err == nil && old.Slug != plan.Slug {
		keys = append(keys, planSlugKey(old.Slug))
	}
	if err := d.cache.Del(ctx, keys...); err != nil {
		d.log.Warn().Err(err).Strs("keys", keys).Msg("plan cache invalidation failed")
	}
	return d.inner.Save(ctx, tx, plan)
}

func (d *planRepoCacheDecorator) cachedPlan(ctx context.Context, name, key string, load func() (*model.SubscriptionPlan, error)) (*model.SubscriptionPlan, error) {
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var plan model.SubscriptionPlan
		if json.Unmarshal([]byte(val), &plan) == nil {
			metrics.IncCacheRequest(name, "hit")
			return &plan, nil
		}
	} else if !errors.Is(err, red.Nil) {
		d.log.Warn().Err(err).Str("key", key).Msg("plan cache read failed")
		metrics.IncCacheRequest(name, "error")
	}

	metrics.IncCacheRequest(name, "miss")
	plan, err := load()
	if err != nil {
		return nil, err
	}
	d.store(ctx, key, plan)
	return plan, nil
}

func (d *planRepoCacheDecorator) store(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
		d.log.Warn().Err(err).Str("key", key).Msg("plan cache write failed")
	}
}

// File: internal/usecase/plan_uc.go
package usecase

import (
	"context"
	"errors"
	"strings"

	"subscription-lifecycle/internal/domain"
	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/repository"
)

// Compile-time check
var _ PlanUseCase = (*planUC)(nil)

// PlanUseCase is the read side of the plan catalog. Inactive plans are
// reported as not found.
type PlanUseCase interface {
	GetPlan(ctx context.Context, planID string) (*model.SubscriptionPlan, error)
	GetPlanBySlug(ctx context.Context, slug string) (*model.SubscriptionPlan, error)
	// ListPlans returns active plans, optionally restricted to one category.
	ListPlans(ctx context.Context, category model.PlanCategory) ([]*model.SubscriptionPlan, error)
}

type planUC struct {
	repo repository.SubscriptionPlanRepository
}

func NewPlanUseCase(repo repository.SubscriptionPlanRepository) *planUC {
	return &planUC{repo: repo}
}

func (uc *planUC) GetPlan(ctx context.Context, planID string) (*model.SubscriptionPlan, error) {
	p, err := uc.repo.FindByID(ctx, repository.NoTX, planID)
	return activeOnly(p, err)
}

func (uc *planUC) GetPlanBySlug(ctx context.Context, slug string) (*model.SubscriptionPlan, error) {
	p, err := uc.repo.FindBySlug(ctx, repository.NoTX, strings.ToLower(strings.TrimSpace(slug)))
	return activeOnly(p, err)
}

func (uc *planUC) ListPlans(ctx context.Context, category model.PlanCategory) ([]*model.SubscriptionPlan, error) {
	all, err := uc.repo.ListAll(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	out := make([]*model.SubscriptionPlan, 0, len(all))
	for _, p := range all {
		if !p.IsActive {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func activeOnly(p *model.SubscriptionPlan, err error) (*model.SubscriptionPlan, error) {
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, domain.ErrPlanNotFound
	}
	return p, nil
}

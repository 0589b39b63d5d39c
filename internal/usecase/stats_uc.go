package usecase

import (
	"context"

	"subscription-lifecycle/internal/domain/model"
	"subscription-lifecycle/internal/domain/ports/repository"
	"subscription-lifecycle/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

type StatsUseCase interface {
	Snapshot(ctx context.Context) (*Stats, error)
}

type Stats struct {
	SubscriptionsByStatus map[model.SubscriptionStatus]int `json:"subscriptions_by_status"`
	OpenDiscrepancies     int                              `json:"open_discrepancies"`
}

type statsUC struct {
	subs          repository.SubscriptionRepository
	discrepancies repository.DiscrepancyRepository

	log *zerolog.Logger
}

func NewStatsUseCase(subs repository.SubscriptionRepository, discrepancies repository.DiscrepancyRepository, logger *zerolog.Logger) *statsUC {
	return &statsUC{subs: subs, discrepancies: discrepancies, log: logger}
}

// Snapshot also refreshes the status and discrepancy gauges.
func (s *statsUC) Snapshot(ctx context.Context) (*Stats, error) {
	byStatus, err := s.subs.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	open, err := s.discrepancies.CountOpen(ctx, repository.NoTX)
	if err != nil {
		return nil, err
	}
	metrics.SetSubscriptionsTotal(byStatus)
	metrics.SetDiscrepanciesOpen(open)
	return &Stats{SubscriptionsByStatus: byStatus, OpenDiscrepancies: open}, nil
}

// sync_metrics.go — чтение журнала метрик синхронизации.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bigkaa/syncengine/internal/domain/model"
	"github.com/bigkaa/syncengine/internal/repository"
)

// MetricsService — доступ к журналу sync_metrics для API.
type MetricsService struct {
	repo      repository.MetricsRepository
	schedules repository.ScheduleRepository
}

// NewMetricsService создаёт сервис журнала метрик.
func NewMetricsService(repo repository.MetricsRepository, schedules repository.ScheduleRepository) *MetricsService {
	return &MetricsService{repo: repo, schedules: schedules}
}

// List возвращает записи журнала пары (пользователь, интеграция), новые первыми.
func (s *MetricsService) List(ctx context.Context, userID string, integration model.IntegrationType, limit, offset int) ([]*model.SyncMetric, error) {
	result, err := s.repo.List(ctx, userID, integration, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("получение метрик: %w", err)
	}
	return result, nil
}

// Summary возвращает агрегат журнала для подключённой интеграции.
func (s *MetricsService) Summary(ctx context.Context, userID string, integration model.IntegrationType) (*model.MetricsSummary, error) {
	if _, err := s.schedules.Get(ctx, userID, integration); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: интеграция %s не подключена", ErrNotFound, integration)
		}
		return nil, fmt.Errorf("загрузка расписания: %w", err)
	}
	sum, err := s.repo.Summary(ctx, userID, integration)
	if err != nil {
		return nil, fmt.Errorf("агрегация метрик: %w", err)
	}
	return sum, nil
}

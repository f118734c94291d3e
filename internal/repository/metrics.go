package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

// MetricsRepository — append-only журнал sync_metrics.
// Изменение и удаление записей запрещены триггером БД.
type MetricsRepository interface {
	// Insert добавляет запись.
	Insert(ctx context.Context, m *model.SyncMetric) error
	// List возвращает последние записи пары (пользователь, интеграция).
	List(ctx context.Context, userID string, integration model.IntegrationType, limit, offset int) ([]*model.SyncMetric, error)
	// Summary агрегирует журнал пары.
	Summary(ctx context.Context, userID string, integration model.IntegrationType) (*model.MetricsSummary, error)
}

type metricsRepo struct {
	db DBTX
}

// NewMetricsRepository создаёт репозиторий журнала метрик.
func NewMetricsRepository(db DBTX) MetricsRepository {
	return &metricsRepo{db: db}
}

func (r *metricsRepo) Insert(ctx context.Context, m *model.SyncMetric) error {
	query := `
		INSERT INTO sync_metrics (job_id, user_id, integration_type, sync_type, result,
			skip_reason, duration_ms, items_processed, api_calls_made, api_calls_saved,
			error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		m.JobID, m.UserID, m.IntegrationType, m.SyncType, m.Result,
		m.SkipReason, m.DurationMs, m.ItemsProcessed, m.APICallsMade, m.APICallsSaved,
		m.ErrorMessage, m.CreatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("ошибка записи метрики синхронизации: %w", err)
	}
	return nil
}

func (r *metricsRepo) List(ctx context.Context, userID string, integration model.IntegrationType, limit, offset int) ([]*model.SyncMetric, error) {
	query := `
		SELECT id, job_id, user_id, integration_type, sync_type, result, skip_reason,
			duration_ms, items_processed, api_calls_made, api_calls_saved, error_message, created_at
		FROM sync_metrics
		WHERE user_id = $1 AND integration_type = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`

	rows, err := r.db.Query(ctx, query, userID, integration, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения метрик синхронизации: %w", err)
	}
	defer rows.Close()

	var result []*model.SyncMetric
	for rows.Next() {
		m := &model.SyncMetric{}
		if err := rows.Scan(
			&m.ID, &m.JobID, &m.UserID, &m.IntegrationType, &m.SyncType, &m.Result, &m.SkipReason,
			&m.DurationMs, &m.ItemsProcessed, &m.APICallsMade, &m.APICallsSaved, &m.ErrorMessage, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования метрики: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *metricsRepo) Summary(ctx context.Context, userID string, integration model.IntegrationType) (*model.MetricsSummary, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE result = 'success'),
			COUNT(*) FILTER (WHERE result = 'failure'),
			COUNT(*) FILTER (WHERE result = 'skipped'),
			COALESCE(SUM(items_processed), 0),
			COALESCE(SUM(api_calls_made), 0),
			COALESCE(SUM(api_calls_saved), 0),
			COALESCE(AVG(duration_ms) FILTER (WHERE result <> 'skipped'), 0),
			MAX(created_at) FILTER (WHERE result = 'success')
		FROM sync_metrics
		WHERE user_id = $1 AND integration_type = $2`

	s := &model.MetricsSummary{UserID: userID, IntegrationType: integration}
	err := r.db.QueryRow(ctx, query, userID, integration).Scan(
		&s.Successes, &s.Failures, &s.Skips,
		&s.ItemsProcessed, &s.APICallsMade, &s.APICallsSaved,
		&s.AvgDurationMs, &s.LastSuccessAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка агрегации метрик синхронизации: %w", err)
	}
	return s, nil
}

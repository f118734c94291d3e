package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

// BreakerRepository — доступ к таблице circuit_breaker_state.
type BreakerRepository interface {
	// Get возвращает состояние breaker. ErrNotFound — строки нет (breaker замкнут).
	Get(ctx context.Context, userID string, integration model.IntegrationType) (*model.CircuitBreakerState, error)
	// Save сохраняет состояние с CAS по version.
	// Version = 0 — строка создаётся; ErrVersionConflict — конкурентное изменение.
	Save(ctx context.Context, st *model.CircuitBreakerState) error
	// ListByState возвращает breaker-ы в заданном состоянии.
	ListByState(ctx context.Context, state model.BreakerState, limit int) ([]*model.CircuitBreakerState, error)
}

type breakerRepo struct {
	db DBTX
}

// NewBreakerRepository создаёт репозиторий состояний circuit breaker.
func NewBreakerRepository(db DBTX) BreakerRepository {
	return &breakerRepo{db: db}
}

const breakerColumns = `
	user_id, integration_type, state, failure_count, last_failure_at,
	last_failure_reason, opened_at, next_retry_at, probe_job_id, version, updated_at`

func scanBreaker(row pgx.Row) (*model.CircuitBreakerState, error) {
	st := &model.CircuitBreakerState{}
	err := row.Scan(
		&st.UserID, &st.IntegrationType, &st.State, &st.FailureCount, &st.LastFailureAt,
		&st.LastFailureReason, &st.OpenedAt, &st.NextRetryAt, &st.ProbeJobID, &st.Version, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (r *breakerRepo) Get(ctx context.Context, userID string, integration model.IntegrationType) (*model.CircuitBreakerState, error) {
	query := `SELECT ` + breakerColumns + `
		FROM circuit_breaker_state
		WHERE user_id = $1 AND integration_type = $2`

	st, err := scanBreaker(r.db.QueryRow(ctx, query, userID, integration))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения состояния breaker: %w", err)
	}
	return st, nil
}

func (r *breakerRepo) Save(ctx context.Context, st *model.CircuitBreakerState) error {
	if st.Version == 0 {
		return r.insert(ctx, st)
	}

	query := `
		UPDATE circuit_breaker_state
		SET state = $4, failure_count = $5, last_failure_at = $6, last_failure_reason = $7,
			opened_at = $8, next_retry_at = $9, probe_job_id = $10,
			version = version + 1, updated_at = now()
		WHERE user_id = $1 AND integration_type = $2 AND version = $3
		RETURNING version, updated_at`

	err := r.db.QueryRow(ctx, query,
		st.UserID, st.IntegrationType, st.Version,
		st.State, st.FailureCount, st.LastFailureAt, st.LastFailureReason,
		st.OpenedAt, st.NextRetryAt, st.ProbeJobID,
	).Scan(&st.Version, &st.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrVersionConflict
		}
		return fmt.Errorf("ошибка обновления состояния breaker: %w", err)
	}
	return nil
}

// insert создаёт строку; если её уже создал конкурент — ErrVersionConflict.
func (r *breakerRepo) insert(ctx context.Context, st *model.CircuitBreakerState) error {
	query := `
		INSERT INTO circuit_breaker_state (user_id, integration_type, state, failure_count,
			last_failure_at, last_failure_reason, opened_at, next_retry_at, probe_job_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, integration_type) DO NOTHING
		RETURNING version, updated_at`

	err := r.db.QueryRow(ctx, query,
		st.UserID, st.IntegrationType, st.State, st.FailureCount,
		st.LastFailureAt, st.LastFailureReason, st.OpenedAt, st.NextRetryAt, st.ProbeJobID,
	).Scan(&st.Version, &st.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrVersionConflict
		}
		return fmt.Errorf("ошибка создания состояния breaker: %w", err)
	}
	return nil
}

func (r *breakerRepo) ListByState(ctx context.Context, state model.BreakerState, limit int) ([]*model.CircuitBreakerState, error) {
	query := `SELECT ` + breakerColumns + `
		FROM circuit_breaker_state
		WHERE state = $1
		ORDER BY updated_at DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, state, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка breaker: %w", err)
	}
	defer rows.Close()

	var result []*model.CircuitBreakerState
	for rows.Next() {
		st, err := scanBreaker(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования breaker: %w", err)
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

// JobRepository — журнал выданных заданий (sync_jobs).
// Служит ключом идемпотентности: результат задания применяется один раз.
type JobRepository interface {
	// Create регистрирует выданное задание.
	Create(ctx context.Context, job *model.JobRecord) error
	// Get возвращает задание по id.
	Get(ctx context.Context, jobID string) (*model.JobRecord, error)
	// Complete отмечает задание завершённым. Возвращает false,
	// если задание уже было завершено ранее (повторная доставка результата).
	Complete(ctx context.Context, jobID string, result model.SyncResult, at time.Time) (bool, error)
}

type jobRepo struct {
	db DBTX
}

// NewJobRepository создаёт репозиторий журнала заданий.
func NewJobRepository(db DBTX) JobRepository {
	return &jobRepo{db: db}
}

func (r *jobRepo) Create(ctx context.Context, job *model.JobRecord) error {
	query := `
		INSERT INTO sync_jobs (job_id, schedule_id, user_id, integration_type, sync_type,
			probe, dispatched_at, deadline_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		job.JobID, job.ScheduleID, job.UserID, job.IntegrationType, job.SyncType,
		job.Probe, job.DispatchedAt, job.DeadlineAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: задание %s уже зарегистрировано", ErrConflict, job.JobID)
		}
		return fmt.Errorf("ошибка регистрации задания: %w", err)
	}
	return nil
}

func (r *jobRepo) Get(ctx context.Context, jobID string) (*model.JobRecord, error) {
	query := `
		SELECT job_id, schedule_id, user_id, integration_type, sync_type, probe,
			dispatched_at, deadline_at, completed_at, result
		FROM sync_jobs
		WHERE job_id = $1`

	j := &model.JobRecord{}
	err := r.db.QueryRow(ctx, query, jobID).Scan(
		&j.JobID, &j.ScheduleID, &j.UserID, &j.IntegrationType, &j.SyncType, &j.Probe,
		&j.DispatchedAt, &j.DeadlineAt, &j.CompletedAt, &j.Result,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения задания: %w", err)
	}
	return j, nil
}

func (r *jobRepo) Complete(ctx context.Context, jobID string, result model.SyncResult, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE sync_jobs
		SET completed_at = $2, result = $3
		WHERE job_id = $1 AND completed_at IS NULL`, jobID, at, result)
	if err != nil {
		return false, fmt.Errorf("ошибка завершения задания: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sync_jobs WHERE job_id = $1)`, jobID).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки задания: %w", err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

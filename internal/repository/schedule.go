package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

// Shard — шард планировщика: экземпляр Index из Count обрабатывает
// пользователей с abs(hashtext(user_id)::bigint) % Count = Index.
type Shard struct {
	Index int
	Count int
}

// ScheduleRepository — доступ к таблице sync_schedule.
// Строка изменяется только через CAS по version (Update) либо
// монотонными точечными запросами (MarkPending).
type ScheduleRepository interface {
	// Create создаёт расписание. ErrConflict — расписание пары уже существует.
	Create(ctx context.Context, s *model.SyncSchedule) error
	// GetByID возвращает расписание по id.
	GetByID(ctx context.Context, id string) (*model.SyncSchedule, error)
	// Get возвращает расписание пары (пользователь, интеграция).
	Get(ctx context.Context, userID string, integration model.IntegrationType) (*model.SyncSchedule, error)
	// ListByUser возвращает все расписания пользователя.
	ListByUser(ctx context.Context, userID string) ([]*model.SyncSchedule, error)
	// List возвращает расписания постранично (по id).
	List(ctx context.Context, limit, offset int) ([]*model.SyncSchedule, error)
	// ListDue возвращает незанятые расписания, которым пора синхронизироваться.
	ListDue(ctx context.Context, now time.Time, shard Shard, limit int) ([]*model.SyncSchedule, error)
	// ListExpiredClaims возвращает расписания с истёкшей арендой задания.
	ListExpiredClaims(ctx context.Context, now time.Time, shard Shard, limit int) ([]*model.SyncSchedule, error)
	// Update сохраняет расписание, если version не изменилась (CAS).
	// При успехе s.Version увеличивается. ErrVersionConflict — конкурентное изменение.
	Update(ctx context.Context, s *model.SyncSchedule) error
	// MarkPending запрашивает внеочередную синхронизацию:
	// next_sync_at только уменьшается (LEAST с now).
	MarkPending(ctx context.Context, userID string, integration model.IntegrationType, syncType model.SyncType, now time.Time) (*model.SyncSchedule, error)
	// Delete удаляет расписание пары.
	Delete(ctx context.Context, userID string, integration model.IntegrationType) error
}

type scheduleRepo struct {
	db DBTX
}

// NewScheduleRepository создаёт репозиторий расписаний.
func NewScheduleRepository(db DBTX) ScheduleRepository {
	return &scheduleRepo{db: db}
}

const scheduleColumns = `
	id, user_id, integration_type,
	current_frequency_seconds, default_frequency_seconds,
	min_frequency_seconds, max_frequency_seconds,
	consecutive_no_change_count, last_sync_at, next_sync_at, onboarding_until,
	first_sync_pending, pending_sync_type, claimed_job_id, claim_expires_at,
	last_skip_reason, version, created_at, updated_at`

// scanSchedule читает строку sync_schedule в модель.
func scanSchedule(row pgx.Row) (*model.SyncSchedule, error) {
	s := &model.SyncSchedule{}
	var current, def, minF, maxF int64
	err := row.Scan(
		&s.ID, &s.UserID, &s.IntegrationType,
		&current, &def, &minF, &maxF,
		&s.ConsecutiveNoChangeCount, &s.LastSyncAt, &s.NextSyncAt, &s.OnboardingUntil,
		&s.FirstSyncPending, &s.PendingSyncType, &s.ClaimedJobID, &s.ClaimExpiresAt,
		&s.LastSkipReason, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.CurrentFrequency = fromSeconds(current)
	s.DefaultFrequency = fromSeconds(def)
	s.MinFrequency = fromSeconds(minF)
	s.MaxFrequency = fromSeconds(maxF)
	return s, nil
}

func collectSchedules(rows pgx.Rows) ([]*model.SyncSchedule, error) {
	defer rows.Close()

	var result []*model.SyncSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования расписания: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *scheduleRepo) Create(ctx context.Context, s *model.SyncSchedule) error {
	query := `
		INSERT INTO sync_schedule (id, user_id, integration_type,
			current_frequency_seconds, default_frequency_seconds,
			min_frequency_seconds, max_frequency_seconds,
			consecutive_no_change_count, last_sync_at, next_sync_at, onboarding_until,
			first_sync_pending, pending_sync_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING version, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		s.ID, s.UserID, s.IntegrationType,
		seconds(s.CurrentFrequency), seconds(s.DefaultFrequency),
		seconds(s.MinFrequency), seconds(s.MaxFrequency),
		s.ConsecutiveNoChangeCount, s.LastSyncAt, s.NextSyncAt, s.OnboardingUntil,
		s.FirstSyncPending, s.PendingSyncType,
	).Scan(&s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: расписание %s/%s уже существует", ErrConflict, s.UserID, s.IntegrationType)
		}
		return fmt.Errorf("ошибка создания расписания: %w", err)
	}
	return nil
}

func (r *scheduleRepo) GetByID(ctx context.Context, id string) (*model.SyncSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM sync_schedule WHERE id = $1`

	s, err := scanSchedule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения расписания: %w", err)
	}
	return s, nil
}

func (r *scheduleRepo) Get(ctx context.Context, userID string, integration model.IntegrationType) (*model.SyncSchedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM sync_schedule
		WHERE user_id = $1 AND integration_type = $2`

	s, err := scanSchedule(r.db.QueryRow(ctx, query, userID, integration))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения расписания: %w", err)
	}
	return s, nil
}

func (r *scheduleRepo) ListByUser(ctx context.Context, userID string) ([]*model.SyncSchedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM sync_schedule
		WHERE user_id = $1
		ORDER BY integration_type`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения расписаний пользователя: %w", err)
	}
	return collectSchedules(rows)
}

func (r *scheduleRepo) List(ctx context.Context, limit, offset int) ([]*model.SyncSchedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM sync_schedule
		ORDER BY id
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка расписаний: %w", err)
	}
	return collectSchedules(rows)
}

func (r *scheduleRepo) ListDue(ctx context.Context, now time.Time, shard Shard, limit int) ([]*model.SyncSchedule, error) {
	// Сначала первые синхронизации, затем незаблокированные строки,
	// чтобы пропускаемые расписания не вытесняли остальные из пачки.
	query := `SELECT ` + scheduleColumns + `
		FROM sync_schedule
		WHERE (next_sync_at <= $1 OR first_sync_pending)
			AND claimed_job_id IS NULL
			AND abs(hashtext(user_id)::bigint) % $2 = $3
		ORDER BY first_sync_pending DESC, (last_skip_reason IS NOT NULL), next_sync_at
		LIMIT $4`

	rows, err := r.db.Query(ctx, query, now, shardCount(shard), shard.Index, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки расписаний к синхронизации: %w", err)
	}
	return collectSchedules(rows)
}

func (r *scheduleRepo) ListExpiredClaims(ctx context.Context, now time.Time, shard Shard, limit int) ([]*model.SyncSchedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM sync_schedule
		WHERE claimed_job_id IS NOT NULL
			AND claim_expires_at <= $1
			AND abs(hashtext(user_id)::bigint) % $2 = $3
		ORDER BY claim_expires_at
		LIMIT $4`

	rows, err := r.db.Query(ctx, query, now, shardCount(shard), shard.Index, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки зависших заданий: %w", err)
	}
	return collectSchedules(rows)
}

func shardCount(s Shard) int {
	if s.Count < 1 {
		return 1
	}
	return s.Count
}

func (r *scheduleRepo) Update(ctx context.Context, s *model.SyncSchedule) error {
	query := `
		UPDATE sync_schedule
		SET current_frequency_seconds = $3, default_frequency_seconds = $4,
			min_frequency_seconds = $5, max_frequency_seconds = $6,
			consecutive_no_change_count = $7, last_sync_at = $8, next_sync_at = $9,
			onboarding_until = $10, first_sync_pending = $11, pending_sync_type = $12,
			claimed_job_id = $13, claim_expires_at = $14, last_skip_reason = $15,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`

	err := r.db.QueryRow(ctx, query,
		s.ID, s.Version,
		seconds(s.CurrentFrequency), seconds(s.DefaultFrequency),
		seconds(s.MinFrequency), seconds(s.MaxFrequency),
		s.ConsecutiveNoChangeCount, s.LastSyncAt, s.NextSyncAt,
		s.OnboardingUntil, s.FirstSyncPending, s.PendingSyncType,
		s.ClaimedJobID, s.ClaimExpiresAt, s.LastSkipReason,
	).Scan(&s.Version, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return r.missingOrConflict(ctx, s.ID)
		}
		return fmt.Errorf("ошибка обновления расписания: %w", err)
	}
	return nil
}

// missingOrConflict различает удалённую строку и несовпадение версии.
func (r *scheduleRepo) missingOrConflict(ctx context.Context, id string) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sync_schedule WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("ошибка проверки расписания: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (r *scheduleRepo) MarkPending(ctx context.Context, userID string, integration model.IntegrationType, syncType model.SyncType, now time.Time) (*model.SyncSchedule, error) {
	// Приоритет ожидающего типа: manual не затирается webhook_triggered.
	query := `
		UPDATE sync_schedule
		SET next_sync_at = LEAST(next_sync_at, $3),
			pending_sync_type = CASE
				WHEN pending_sync_type = 'manual' THEN pending_sync_type
				ELSE $4
			END,
			version = version + 1, updated_at = now()
		WHERE user_id = $1 AND integration_type = $2
		RETURNING ` + scheduleColumns

	s, err := scanSchedule(r.db.QueryRow(ctx, query, userID, integration, now, syncType))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка постановки внеочередной синхронизации: %w", err)
	}
	return s, nil
}

func (r *scheduleRepo) Delete(ctx context.Context, userID string, integration model.IntegrationType) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM sync_schedule WHERE user_id = $1 AND integration_type = $2`,
		userID, integration)
	if err != nil {
		return fmt.Errorf("ошибка удаления расписания: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

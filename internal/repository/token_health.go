package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

// TokenHealthRepository — доступ к таблице token_health.
type TokenHealthRepository interface {
	// Get возвращает последнее состояние токена. ErrNotFound — проверок ещё не было.
	Get(ctx context.Context, userID string, integration model.IntegrationType) (*model.TokenHealth, error)
	// Upsert создаёт или заменяет состояние токена.
	Upsert(ctx context.Context, h *model.TokenHealth) error
	// ListByStatus возвращает записи с указанным статусом.
	ListByStatus(ctx context.Context, status model.TokenStatus, limit int) ([]*model.TokenHealth, error)
}

type tokenHealthRepo struct {
	db DBTX
}

// NewTokenHealthRepository создаёт репозиторий состояния токенов.
func NewTokenHealthRepository(db DBTX) TokenHealthRepository {
	return &tokenHealthRepo{db: db}
}

const tokenHealthColumns = `
	user_id, integration_type, status, last_checked_at, expiry_date,
	error_message, notified_status, updated_at`

func scanTokenHealth(row pgx.Row) (*model.TokenHealth, error) {
	h := &model.TokenHealth{}
	err := row.Scan(
		&h.UserID, &h.IntegrationType, &h.Status, &h.LastCheckedAt, &h.ExpiryDate,
		&h.ErrorMessage, &h.NotifiedStatus, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (r *tokenHealthRepo) Get(ctx context.Context, userID string, integration model.IntegrationType) (*model.TokenHealth, error) {
	query := `SELECT ` + tokenHealthColumns + `
		FROM token_health
		WHERE user_id = $1 AND integration_type = $2`

	h, err := scanTokenHealth(r.db.QueryRow(ctx, query, userID, integration))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения состояния токена: %w", err)
	}
	return h, nil
}

func (r *tokenHealthRepo) Upsert(ctx context.Context, h *model.TokenHealth) error {
	query := `
		INSERT INTO token_health (user_id, integration_type, status, last_checked_at,
			expiry_date, error_message, notified_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, integration_type) DO UPDATE
		SET status = EXCLUDED.status,
			last_checked_at = EXCLUDED.last_checked_at,
			expiry_date = EXCLUDED.expiry_date,
			error_message = EXCLUDED.error_message,
			notified_status = EXCLUDED.notified_status,
			updated_at = now()
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		h.UserID, h.IntegrationType, h.Status, h.LastCheckedAt,
		h.ExpiryDate, h.ErrorMessage, h.NotifiedStatus,
	).Scan(&h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения состояния токена: %w", err)
	}
	return nil
}

func (r *tokenHealthRepo) ListByStatus(ctx context.Context, status model.TokenStatus, limit int) ([]*model.TokenHealth, error) {
	query := `SELECT ` + tokenHealthColumns + `
		FROM token_health
		WHERE status = $1
		ORDER BY last_checked_at
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка токенов: %w", err)
	}
	defer rows.Close()

	var result []*model.TokenHealth
	for rows.Next() {
		h, err := scanTokenHealth(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования состояния токена: %w", err)
		}
		result = append(result, h)
	}
	return result, rows.Err()
}

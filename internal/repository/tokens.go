package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

// TokenStoreRepository — чтение OAuth-токенов интеграций и токенов устройств.
// Обе таблицы принадлежат CRUD-сервису.
type TokenStoreRepository interface {
	// Get возвращает токен интеграции пользователя.
	Get(ctx context.Context, userID string, integration model.IntegrationType) (*model.StoredToken, error)
	// DeviceTokens возвращает FCM-токены устройств пользователя.
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
}

type tokenStoreRepo struct {
	db DBTX
}

// NewTokenStoreRepository создаёт репозиторий хранилища токенов.
func NewTokenStoreRepository(db DBTX) TokenStoreRepository {
	return &tokenStoreRepo{db: db}
}

func (r *tokenStoreRepo) Get(ctx context.Context, userID string, integration model.IntegrationType) (*model.StoredToken, error) {
	query := `
		SELECT user_id, integration_type, access_token, refresh_token, token_type, expiry, revoked_at
		FROM integration_tokens
		WHERE user_id = $1 AND integration_type = $2`

	t := &model.StoredToken{}
	err := r.db.QueryRow(ctx, query, userID, integration).Scan(
		&t.UserID, &t.IntegrationType, &t.AccessToken, &t.RefreshToken, &t.TokenType, &t.Expiry, &t.RevokedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения токена интеграции: %w", err)
	}
	return t, nil
}

func (r *tokenStoreRepo) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT token FROM device_tokens WHERE user_id = $1 ORDER BY token`, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения токенов устройств: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("ошибка сканирования токена устройства: %w", err)
		}
		result = append(result, token)
	}
	return result, rows.Err()
}

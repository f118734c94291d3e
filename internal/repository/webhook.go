package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

// WebhookRepository — push-подписки (calendar_webhook_subscriptions)
// и журнал входящих уведомлений (webhook_events).
type WebhookRepository interface {
	// GetByChannel возвращает подписку по id канала.
	GetByChannel(ctx context.Context, channelID string) (*model.WebhookSubscription, error)
	// Get возвращает активную подписку пары (пользователь, интеграция).
	Get(ctx context.Context, userID string, integration model.IntegrationType) (*model.WebhookSubscription, error)
	// Replace сохраняет подписку, заменяя прежнюю подписку пары.
	Replace(ctx context.Context, sub *model.WebhookSubscription) error
	// ListExpiring возвращает подписки, истекающие до before.
	ListExpiring(ctx context.Context, before time.Time, limit int) ([]*model.WebhookSubscription, error)
	// MarkRenewalFailed отмечает неудачное продление.
	MarkRenewalFailed(ctx context.Context, channelID string, at time.Time) error
	// Delete удаляет подписку по id канала.
	Delete(ctx context.Context, channelID string) error
	// RecordEvent добавляет запись в журнал webhook_events.
	RecordEvent(ctx context.Context, ev *model.WebhookEvent) error
	// ListEvents возвращает последние события канала.
	ListEvents(ctx context.Context, channelID string, limit int) ([]*model.WebhookEvent, error)
}

type webhookRepo struct {
	db DBTX
}

// NewWebhookRepository создаёт репозиторий push-подписок.
func NewWebhookRepository(db DBTX) WebhookRepository {
	return &webhookRepo{db: db}
}

const subscriptionColumns = `
	channel_id, user_id, integration_type, resource_id, resource_uri,
	expiration_at, verification_token, renewal_failed_at, created_at, updated_at`

func scanSubscription(row pgx.Row) (*model.WebhookSubscription, error) {
	s := &model.WebhookSubscription{}
	err := row.Scan(
		&s.ChannelID, &s.UserID, &s.IntegrationType, &s.ResourceID, &s.ResourceURI,
		&s.ExpirationAt, &s.VerificationToken, &s.RenewalFailedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *webhookRepo) GetByChannel(ctx context.Context, channelID string) (*model.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM calendar_webhook_subscriptions
		WHERE channel_id = $1`

	s, err := scanSubscription(r.db.QueryRow(ctx, query, channelID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения подписки: %w", err)
	}
	return s, nil
}

func (r *webhookRepo) Get(ctx context.Context, userID string, integration model.IntegrationType) (*model.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM calendar_webhook_subscriptions
		WHERE user_id = $1 AND integration_type = $2`

	s, err := scanSubscription(r.db.QueryRow(ctx, query, userID, integration))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения подписки: %w", err)
	}
	return s, nil
}

func (r *webhookRepo) Replace(ctx context.Context, sub *model.WebhookSubscription) error {
	query := `
		INSERT INTO calendar_webhook_subscriptions (channel_id, user_id, integration_type,
			resource_id, resource_uri, expiration_at, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, integration_type) DO UPDATE
		SET channel_id = EXCLUDED.channel_id,
			resource_id = EXCLUDED.resource_id,
			resource_uri = EXCLUDED.resource_uri,
			expiration_at = EXCLUDED.expiration_at,
			verification_token = EXCLUDED.verification_token,
			renewal_failed_at = NULL,
			updated_at = now()
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		sub.ChannelID, sub.UserID, sub.IntegrationType,
		sub.ResourceID, sub.ResourceURI, sub.ExpirationAt, sub.VerificationToken,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: канал %s уже зарегистрирован", ErrConflict, sub.ChannelID)
		}
		return fmt.Errorf("ошибка сохранения подписки: %w", err)
	}
	sub.RenewalFailedAt = nil
	return nil
}

func (r *webhookRepo) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*model.WebhookSubscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM calendar_webhook_subscriptions
		WHERE expiration_at <= $1
		ORDER BY expiration_at
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки истекающих подписок: %w", err)
	}
	defer rows.Close()

	var result []*model.WebhookSubscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования подписки: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *webhookRepo) MarkRenewalFailed(ctx context.Context, channelID string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE calendar_webhook_subscriptions
		SET renewal_failed_at = $2, updated_at = now()
		WHERE channel_id = $1`, channelID, at)
	if err != nil {
		return fmt.Errorf("ошибка отметки неудачного продления: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *webhookRepo) Delete(ctx context.Context, channelID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM calendar_webhook_subscriptions WHERE channel_id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("ошибка удаления подписки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *webhookRepo) RecordEvent(ctx context.Context, ev *model.WebhookEvent) error {
	query := `
		INSERT INTO webhook_events (channel_id, user_id, resource_state, result, reason, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		ev.ChannelID, ev.UserID, ev.ResourceState, ev.Result, ev.Reason, ev.ReceivedAt,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("ошибка записи webhook-события: %w", err)
	}
	return nil
}

func (r *webhookRepo) ListEvents(ctx context.Context, channelID string, limit int) ([]*model.WebhookEvent, error) {
	query := `
		SELECT id, channel_id, user_id, resource_state, result, reason, received_at
		FROM webhook_events
		WHERE channel_id = $1
		ORDER BY received_at DESC, id DESC
		LIMIT $2`

	rows, err := r.db.Query(ctx, query, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения webhook-событий: %w", err)
	}
	defer rows.Close()

	var result []*model.WebhookEvent
	for rows.Next() {
		ev := &model.WebhookEvent{}
		if err := rows.Scan(&ev.ID, &ev.ChannelID, &ev.UserID, &ev.ResourceState,
			&ev.Result, &ev.Reason, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования webhook-события: %w", err)
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

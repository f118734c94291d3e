// webhook.go — приём push-уведомлений календаря и управление подписками.
//
// Уведомление сразу превращается в изменение расписания: next_sync_at
// только уменьшается, pending_sync_type = webhook_triggered. Ошибки
// обработки не передаются HTTP-слою: приёмник всегда отвечает 200.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/syncengine/internal/domain/model"
	"github.com/bigkaa/syncengine/internal/repository"
)

// WatchRequest — параметры создания канала у провайдера.
type WatchRequest struct {
	UserID          string
	IntegrationType model.IntegrationType
	ChannelID       string
	Token           string
	Address         string
	TTL             time.Duration
}

// ChannelProvider — управление push-каналами провайдера.
type ChannelProvider interface {
	Watch(ctx context.Context, req WatchRequest) (*model.Channel, error)
	Stop(ctx context.Context, sub *model.WebhookSubscription) error
}

// WebhookConfig — параметры push-подписок.
type WebhookConfig struct {
	// Address — публичный адрес приёмника (пустой — подписки не создаются).
	Address       string
	RenewBefore   time.Duration
	RenewInterval time.Duration
	ChannelTTL    time.Duration
}

// WebhookService — обработка push-уведомлений и продление подписок.
type WebhookService struct {
	repo      repository.WebhookRepository
	schedules repository.ScheduleRepository
	provider  ChannelProvider
	cfg       WebhookConfig
	logger    *slog.Logger
	now       func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWebhookService создаёт сервис push-уведомлений.
func NewWebhookService(
	repo repository.WebhookRepository,
	schedules repository.ScheduleRepository,
	provider ChannelProvider,
	cfg WebhookConfig,
	logger *slog.Logger,
) *WebhookService {
	return &WebhookService{
		repo:      repo,
		schedules: schedules,
		provider:  provider,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "webhook")),
		now:       time.Now,
	}
}

// Enabled — настроен ли приём push-уведомлений.
func (s *WebhookService) Enabled() bool {
	return s.cfg.Address != "" && s.provider != nil
}

// HandleNotification обрабатывает push-уведомление и записывает его в журнал.
func (s *WebhookService) HandleNotification(ctx context.Context, n model.WebhookNotification) model.WebhookResult {
	now := s.now().UTC()
	result, reason, userID := s.handle(ctx, n, now)

	ev := &model.WebhookEvent{
		ChannelID:     n.ChannelID,
		UserID:        userID,
		ResourceState: n.ResourceState,
		Result:        result,
		Reason:        reason,
		ReceivedAt:    now,
	}
	if err := s.repo.RecordEvent(ctx, ev); err != nil {
		s.logger.Error("Ошибка записи webhook-события",
			slog.String("channel_id", n.ChannelID),
			slog.String("error", err.Error()),
		)
	}
	webhooksTotal.WithLabelValues(string(result)).Inc()

	attrs := []any{
		slog.String("channel_id", n.ChannelID),
		slog.String("resource_state", string(n.ResourceState)),
		slog.String("result", string(result)),
	}
	if reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}
	switch result {
	case model.WebhookResultFailure:
		s.logger.Error("Ошибка обработки push-уведомления", attrs...)
	case model.WebhookResultIgnored:
		s.logger.Debug("Push-уведомление проигнорировано", attrs...)
	default:
		s.logger.Debug("Push-уведомление обработано", attrs...)
	}
	return result
}

func (s *WebhookService) handle(ctx context.Context, n model.WebhookNotification, now time.Time) (model.WebhookResult, string, *string) {
	if n.ChannelID == "" {
		return model.WebhookResultIgnored, "не указан канал", nil
	}

	sub, err := s.repo.GetByChannel(ctx, n.ChannelID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.WebhookResultIgnored, "неизвестный канал", nil
		}
		return model.WebhookResultFailure, err.Error(), nil
	}
	userID := &sub.UserID

	switch {
	case sub.Expired(now):
		return model.WebhookResultIgnored, "подписка истекла", userID
	case n.ResourceID != sub.ResourceID:
		return model.WebhookResultIgnored, "несовпадение resource id", userID
	case subtle.ConstantTimeCompare([]byte(n.Token), []byte(sub.VerificationToken)) != 1:
		return model.WebhookResultIgnored, "неверный токен канала", userID
	}

	switch n.ResourceState {
	case model.ResourceStateSync:
		return model.WebhookResultIgnored, "handshake", userID
	case model.ResourceStateExists, model.ResourceStateNotExists:
	default:
		return model.WebhookResultIgnored, fmt.Sprintf("неизвестное состояние ресурса %q", n.ResourceState), userID
	}

	_, err = s.schedules.MarkPending(ctx, sub.UserID, sub.IntegrationType, model.SyncTypeWebhookTriggered, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.WebhookResultIgnored, "интеграция не подключена", userID
		}
		return model.WebhookResultFailure, err.Error(), userID
	}
	return model.WebhookResultSuccess, "", userID
}

// Subscribe создаёт push-канал для интеграции. Прежняя подписка пары заменяется.
func (s *WebhookService) Subscribe(ctx context.Context, userID string, integration model.IntegrationType) (*model.WebhookSubscription, error) {
	if !integration.SupportsPush() {
		return nil, fmt.Errorf("%w: %s", ErrPushUnsupported, integration)
	}
	if !s.Enabled() {
		return nil, ErrWebhookDisabled
	}

	old, err := s.repo.Get(ctx, userID, integration)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("загрузка подписки: %w", err)
	}

	sub, err := s.watch(ctx, userID, integration)
	if err != nil {
		return nil, err
	}

	if old != nil && old.ChannelID != sub.ChannelID {
		s.stopChannel(ctx, old)
	}

	s.logger.Info("Push-подписка создана",
		slog.String("user_id", userID),
		slog.String("integration_type", string(integration)),
		slog.String("channel_id", sub.ChannelID),
		slog.Time("expiration_at", sub.ExpirationAt),
	)
	return sub, nil
}

// watch создаёт канал у провайдера и сохраняет подписку.
func (s *WebhookService) watch(ctx context.Context, userID string, integration model.IntegrationType) (*model.WebhookSubscription, error) {
	req := WatchRequest{
		UserID:          userID,
		IntegrationType: integration,
		ChannelID:       uuid.NewString(),
		Token:           uuid.NewString(),
		Address:         s.cfg.Address,
		TTL:             s.cfg.ChannelTTL,
	}
	ch, err := s.provider.Watch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("создание канала у провайдера: %w", err)
	}

	sub := &model.WebhookSubscription{
		ChannelID:         ch.ChannelID,
		UserID:            userID,
		IntegrationType:   integration,
		ResourceID:        ch.ResourceID,
		ResourceURI:       ch.ResourceURI,
		ExpirationAt:      ch.Expiration,
		VerificationToken: req.Token,
	}
	if err := s.repo.Replace(ctx, sub); err != nil {
		s.stopChannel(ctx, sub)
		return nil, fmt.Errorf("сохранение подписки: %w", err)
	}
	return sub, nil
}

// stopChannel останавливает канал у провайдера; ошибка только логируется,
// канал всё равно истечёт сам.
func (s *WebhookService) stopChannel(ctx context.Context, sub *model.WebhookSubscription) {
	if err := s.provider.Stop(ctx, sub); err != nil {
		s.logger.Warn("Не удалось остановить канал у провайдера",
			slog.String("channel_id", sub.ChannelID),
			slog.String("error", err.Error()),
		)
	}
}

// Unsubscribe удаляет подписку пары, если она есть.
func (s *WebhookService) Unsubscribe(ctx context.Context, userID string, integration model.IntegrationType) error {
	sub, err := s.repo.Get(ctx, userID, integration)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("загрузка подписки: %w", err)
	}

	if s.provider != nil {
		s.stopChannel(ctx, sub)
	}
	if err := s.repo.Delete(ctx, sub.ChannelID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("удаление подписки: %w", err)
	}

	s.logger.Info("Push-подписка удалена",
		slog.String("user_id", userID),
		slog.String("integration_type", string(integration)),
		slog.String("channel_id", sub.ChannelID),
	)
	return nil
}

// RenewExpiring продлевает подписки, истекающие в течение RenewBefore.
// Неудачное продление отмечается в renewal_failed_at: пользователь
// остаётся на опросе по расписанию.
func (s *WebhookService) RenewExpiring(ctx context.Context, now time.Time) (renewed, failed int, err error) {
	const batch = 100

	subs, err := s.repo.ListExpiring(ctx, now.Add(s.cfg.RenewBefore), batch)
	if err != nil {
		return 0, 0, fmt.Errorf("выборка истекающих подписок: %w", err)
	}

	for _, old := range subs {
		if ctx.Err() != nil {
			return renewed, failed, ctx.Err()
		}

		sub, werr := s.watch(ctx, old.UserID, old.IntegrationType)
		if werr != nil {
			failed++
			webhookRenewalsTotal.WithLabelValues("failed").Inc()
			s.logger.Warn("Не удалось продлить push-подписку",
				slog.String("user_id", old.UserID),
				slog.String("channel_id", old.ChannelID),
				slog.String("error", werr.Error()),
			)
			if merr := s.repo.MarkRenewalFailed(ctx, old.ChannelID, now); merr != nil && !errors.Is(merr, repository.ErrNotFound) {
				s.logger.Error("Ошибка отметки неудачного продления",
					slog.String("channel_id", old.ChannelID),
					slog.String("error", merr.Error()),
				)
			}
			continue
		}

		s.stopChannel(ctx, old)
		renewed++
		webhookRenewalsTotal.WithLabelValues("renewed").Inc()
		s.logger.Info("Push-подписка продлена",
			slog.String("user_id", old.UserID),
			slog.String("old_channel_id", old.ChannelID),
			slog.String("channel_id", sub.ChannelID),
			slog.Time("expiration_at", sub.ExpirationAt),
		)
	}
	return renewed, failed, nil
}

// Start запускает периодическое продление подписок.
func (s *WebhookService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Продление push-подписок запущено",
			slog.String("interval", s.cfg.RenewInterval.String()),
		)

		ticker := time.NewTicker(s.cfg.RenewInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Продление push-подписок остановлено")
				return
			case <-ticker.C:
				if _, _, err := s.RenewExpiring(ctx, s.now().UTC()); err != nil && ctx.Err() == nil {
					s.logger.Error("Ошибка продления push-подписок", slog.String("error", err.Error()))
				}
			}
		}
	}()
}

// Stop останавливает продление и ждёт завершения.
func (s *WebhookService) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

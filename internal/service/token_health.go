// token_health.go — монитор состояния OAuth-токенов интеграций.
//
// CheckHealth запрашивает интроспекцию токена и классифицирует результат:
//   - revoked — токен отозван пользователем или провайдером
//   - expired — токен недействителен и не отозван
//   - expiring_soon — осталось меньше окна ASE_TOKEN_EXPIRING_WINDOW
//   - unknown — интроспекция недоступна (синхронизацию не блокирует)
//   - valid — остальное
//
// Уведомление отправляется один раз на переход в expiring_soon
// или в expired/revoked. Возврат в valid сбрасывает отметку.
// Чтения из планировщика идут через expirable LRU-кэш.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/syncengine/internal/domain/model"
	"github.com/bigkaa/syncengine/internal/repository"
)

// Introspector — интроспекция токена интеграции (внешнее хранилище токенов).
type Introspector interface {
	Introspect(ctx context.Context, userID string, integration model.IntegrationType) (*model.Introspection, error)
}

// TokenHealthConfig — параметры монитора токенов.
type TokenHealthConfig struct {
	ExpiringWindow time.Duration
	CheckInterval  time.Duration
	CacheSize      int
	CacheTTL       time.Duration
	Concurrency    int
	ActionBaseURL  string
}

// TokenHealthService — монитор состояния токенов.
type TokenHealthService struct {
	repo         repository.TokenHealthRepository
	schedules    repository.ScheduleRepository
	introspector Introspector
	notifier     Notifier
	cfg          TokenHealthConfig
	cache        *expirable.LRU[string, model.TokenHealth]
	logger       *slog.Logger
	now          func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTokenHealthService создаёт монитор состояния токенов.
func NewTokenHealthService(
	repo repository.TokenHealthRepository,
	schedules repository.ScheduleRepository,
	introspector Introspector,
	notifier Notifier,
	cfg TokenHealthConfig,
	logger *slog.Logger,
) *TokenHealthService {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &TokenHealthService{
		repo:         repo,
		schedules:    schedules,
		introspector: introspector,
		notifier:     notifier,
		cfg:          cfg,
		cache:        expirable.NewLRU[string, model.TokenHealth](cfg.CacheSize, nil, cfg.CacheTTL),
		logger:       logger.With(slog.String("component", "token_health")),
		now:          time.Now,
	}
}

func cacheKey(userID string, integration model.IntegrationType) string {
	return userID + "|" + string(integration)
}

// Status возвращает последнее известное состояние токена.
// nil без ошибки — проверок ещё не было (синхронизацию не блокирует).
func (s *TokenHealthService) Status(ctx context.Context, userID string, integration model.IntegrationType) (*model.TokenHealth, error) {
	key := cacheKey(userID, integration)
	if h, ok := s.cache.Get(key); ok {
		tokenCacheTotal.WithLabelValues("hit").Inc()
		return &h, nil
	}
	tokenCacheTotal.WithLabelValues("miss").Inc()

	h, err := s.repo.Get(ctx, userID, integration)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("загрузка состояния токена: %w", err)
	}
	s.cache.Add(key, *h)
	return h, nil
}

// Classify определяет статус токена по результату интроспекции.
func Classify(in *model.Introspection, introspectErr error, now time.Time, expiringWindow time.Duration) model.TokenStatus {
	switch {
	case introspectErr != nil || in == nil:
		return model.TokenStatusUnknown
	case in.Revoked:
		return model.TokenStatusRevoked
	case !in.Valid:
		return model.TokenStatusExpired
	case in.ExpiryDate != nil && !now.Before(*in.ExpiryDate):
		return model.TokenStatusExpired
	case in.ExpiryDate != nil && in.ExpiryDate.Sub(now) < expiringWindow:
		return model.TokenStatusExpiringSoon
	default:
		return model.TokenStatusValid
	}
}

// notificationKind — вид уведомления для статуса ("" — уведомлять не нужно).
func notificationKind(status model.TokenStatus) model.NotificationKind {
	switch status {
	case model.TokenStatusExpired, model.TokenStatusRevoked:
		return model.NotificationTokenInvalid
	case model.TokenStatusExpiringSoon:
		return model.NotificationTokenExpiringSoon
	default:
		return ""
	}
}

// CheckHealth выполняет интроспекцию и сохраняет TokenHealth.
func (s *TokenHealthService) CheckHealth(ctx context.Context, userID string, integration model.IntegrationType) (*model.TokenHealth, error) {
	now := s.now().UTC()

	in, introspectErr := s.introspector.Introspect(ctx, userID, integration)
	status := Classify(in, introspectErr, now, s.cfg.ExpiringWindow)

	prev, err := s.repo.Get(ctx, userID, integration)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("загрузка состояния токена: %w", err)
	}

	h := &model.TokenHealth{
		UserID:          userID,
		IntegrationType: integration,
		Status:          status,
		LastCheckedAt:   now,
	}
	if in != nil {
		h.ExpiryDate = in.ExpiryDate
	}
	if introspectErr != nil {
		msg := introspectErr.Error()
		h.ErrorMessage = &msg
	}
	if prev != nil {
		h.NotifiedStatus = prev.NotifiedStatus
		// Недоступность интроспекции не стирает известную дату истечения
		if status == model.TokenStatusUnknown && h.ExpiryDate == nil {
			h.ExpiryDate = prev.ExpiryDate
		}
	}

	kind := notificationKind(status)
	switch {
	case status == model.TokenStatusValid:
		h.NotifiedStatus = nil
	case kind != "" && (h.NotifiedStatus == nil || notificationKind(*h.NotifiedStatus) != kind):
		n := model.Notification{
			UserID:          userID,
			IntegrationType: integration,
			Kind:            kind,
			Message:         notificationMessage(status, h.ExpiryDate),
			ActionLink:      actionLink(s.cfg.ActionBaseURL, integration) + "/reauthorize",
		}
		if sendNotification(ctx, s.notifier, n, s.logger) {
			notified := status
			h.NotifiedStatus = &notified
		}
	}

	if err := s.repo.Upsert(ctx, h); err != nil {
		return nil, fmt.Errorf("сохранение состояния токена: %w", err)
	}
	s.cache.Add(cacheKey(userID, integration), *h)
	tokenChecksTotal.WithLabelValues(string(integration), string(status)).Inc()

	if prev == nil || prev.Status != status {
		attrs := []any{
			slog.String("user_id", userID),
			slog.String("integration_type", string(integration)),
			slog.String("status", string(status)),
		}
		if introspectErr != nil {
			attrs = append(attrs, slog.String("error", introspectErr.Error()))
		}
		if status.BlocksSync() {
			s.logger.Warn("Токен интеграции недействителен, синхронизация заблокирована", attrs...)
		} else {
			s.logger.Info("Состояние токена изменилось", attrs...)
		}
	}

	return h, nil
}

func notificationMessage(status model.TokenStatus, expiry *time.Time) string {
	switch status {
	case model.TokenStatusRevoked:
		return "Доступ к интеграции отозван. Подключите её заново, чтобы возобновить синхронизацию"
	case model.TokenStatusExpired:
		return "Срок действия доступа к интеграции истёк. Подключите её заново, чтобы возобновить синхронизацию"
	case model.TokenStatusExpiringSoon:
		if expiry != nil {
			return fmt.Sprintf("Доступ к интеграции истекает %s. Обновите авторизацию заранее",
				expiry.UTC().Format("02.01.2006 15:04 UTC"))
		}
		return "Доступ к интеграции скоро истечёт. Обновите авторизацию заранее"
	default:
		return ""
	}
}

// CheckAll проверяет токены всех пар, у которых есть расписание.
// Возвращает количество проверенных пар.
func (s *TokenHealthService) CheckAll(ctx context.Context) (int, error) {
	const pageSize = 500

	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup
	checked := 0

	for offset := 0; ; offset += pageSize {
		page, err := s.schedules.List(ctx, pageSize, offset)
		if err != nil {
			wg.Wait()
			return checked, fmt.Errorf("получение списка расписаний: %w", err)
		}

		for _, sch := range page {
			if ctx.Err() != nil {
				wg.Wait()
				return checked, ctx.Err()
			}
			sem <- struct{}{}
			wg.Add(1)
			checked++
			go func(userID string, integration model.IntegrationType) {
				defer wg.Done()
				defer func() { <-sem }()
				if _, err := s.CheckHealth(ctx, userID, integration); err != nil {
					s.logger.Error("Ошибка проверки токена",
						slog.String("user_id", userID),
						slog.String("integration_type", string(integration)),
						slog.String("error", err.Error()),
					)
				}
			}(sch.UserID, sch.IntegrationType)
		}

		if len(page) < pageSize {
			break
		}
	}

	wg.Wait()
	return checked, nil
}

// Start запускает периодическую проверку токенов.
func (s *TokenHealthService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Периодическая проверка токенов запущена",
			slog.String("interval", s.cfg.CheckInterval.String()),
		)

		ticker := time.NewTicker(s.cfg.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Периодическая проверка токенов остановлена")
				return
			case <-ticker.C:
				n, err := s.CheckAll(ctx)
				if err != nil && ctx.Err() == nil {
					s.logger.Error("Ошибка периодической проверки токенов", slog.String("error", err.Error()))
					continue
				}
				s.logger.Debug("Проверка токенов завершена", slog.Int("checked", n))
			}
		}
	}()
}

// Stop останавливает фоновую проверку и ждёт завершения.
func (s *TokenHealthService) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

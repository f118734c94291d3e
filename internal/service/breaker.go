// breaker.go — менеджер circuit breaker: загрузка, переходы и CAS-сохранение
// состояния пары (пользователь, интеграция).
//
// Автомат переходов — пакет domain/breaker. Менеджер добавляет хранение,
// метрики переходов и однократное уведомление sync_degraded при размыкании.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/syncengine/internal/domain/breaker"
	"github.com/bigkaa/syncengine/internal/domain/model"
	"github.com/bigkaa/syncengine/internal/repository"
)

// Notifier — отправка уведомлений пользователю (внешний диспетчер).
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// BreakerManager — сервис circuit breaker.
type BreakerManager struct {
	repo          repository.BreakerRepository
	policy        breaker.Policy
	notifier      Notifier
	actionBaseURL string
	logger        *slog.Logger
}

// NewBreakerManager создаёт менеджер circuit breaker.
func NewBreakerManager(
	repo repository.BreakerRepository,
	policy breaker.Policy,
	notifier Notifier,
	actionBaseURL string,
	logger *slog.Logger,
) *BreakerManager {
	return &BreakerManager{
		repo:          repo,
		policy:        policy,
		notifier:      notifier,
		actionBaseURL: actionBaseURL,
		logger:        logger.With(slog.String("component", "circuit_breaker")),
	}
}

// State возвращает состояние breaker; отсутствие строки — closed.
func (m *BreakerManager) State(ctx context.Context, userID string, integration model.IntegrationType) (*model.CircuitBreakerState, error) {
	st, err := m.repo.Get(ctx, userID, integration)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewClosedBreaker(userID, integration), nil
		}
		return nil, fmt.Errorf("загрузка состояния breaker: %w", err)
	}
	return st, nil
}

// Peek решает, будет ли попытка разрешена, не изменяя сохранённое состояние.
func (m *BreakerManager) Peek(ctx context.Context, userID string, integration model.IntegrationType, now time.Time) (breaker.Decision, error) {
	st, err := m.State(ctx, userID, integration)
	if err != nil {
		return breaker.DenyOpen, err
	}
	probe := *st
	return breaker.Acquire(&probe, now, "", m.policy)
}

// Acquire разрешает попытку jobID. Переход open → half_open
// сохраняется с CAS, поэтому пробную попытку получает ровно одно задание.
func (m *BreakerManager) Acquire(ctx context.Context, userID string, integration model.IntegrationType, jobID string, now time.Time) (breaker.Decision, error) {
	st, err := m.State(ctx, userID, integration)
	if err != nil {
		return breaker.DenyOpen, err
	}

	from := st.State
	decision, err := breaker.Acquire(st, now, jobID, m.policy)
	if err != nil || decision != breaker.AllowProbe {
		return decision, err
	}

	if err := m.repo.Save(ctx, st); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			casConflictsTotal.WithLabelValues("breaker").Inc()
			return breaker.DenyProbeInFlight, nil
		}
		return breaker.DenyOpen, fmt.Errorf("сохранение состояния breaker: %w", err)
	}

	m.observe(st, breaker.Transition{From: from, To: st.State})
	return decision, nil
}

// RecordSuccess учитывает успешную попытку.
func (m *BreakerManager) RecordSuccess(ctx context.Context, userID string, integration model.IntegrationType) (breaker.Transition, error) {
	return m.update(ctx, userID, integration, func(st *model.CircuitBreakerState) (breaker.Transition, error) {
		return breaker.RecordSuccess(st)
	}, false)
}

// RecordFailure учитывает неудачную попытку. При размыкании из closed
// пользователь получает одно уведомление sync_degraded.
func (m *BreakerManager) RecordFailure(ctx context.Context, userID string, integration model.IntegrationType, reason string, now time.Time) (breaker.Transition, error) {
	tr, err := m.recordFailure(ctx, userID, integration, reason, now)
	if err != nil {
		return tr, err
	}
	m.afterFailure(ctx, userID, integration, tr)
	return tr, nil
}

// recordFailure учитывает неудачу без уведомления пользователя.
func (m *BreakerManager) recordFailure(ctx context.Context, userID string, integration model.IntegrationType, reason string, now time.Time) (breaker.Transition, error) {
	return m.update(ctx, userID, integration, func(st *model.CircuitBreakerState) (breaker.Transition, error) {
		return breaker.RecordFailure(st, now, reason, m.policy)
	}, true)
}

// afterFailure отправляет sync_degraded при размыкании из closed.
func (m *BreakerManager) afterFailure(ctx context.Context, userID string, integration model.IntegrationType, tr breaker.Transition) {
	if tr.From == model.BreakerClosed && tr.To == model.BreakerOpen {
		m.notifyDegraded(ctx, userID, integration)
	}
}

// withRepo возвращает менеджер, сохраняющий состояние через repo (транзакция).
func (m *BreakerManager) withRepo(repo repository.BreakerRepository) *BreakerManager {
	c := *m
	c.repo = repo
	return &c
}

// ReleaseProbe освобождает пробную попытку jobID, не выданную исполнителю.
func (m *BreakerManager) ReleaseProbe(ctx context.Context, userID string, integration model.IntegrationType, jobID string, now time.Time) error {
	_, err := m.update(ctx, userID, integration, func(st *model.CircuitBreakerState) (breaker.Transition, error) {
		return breaker.ReleaseProbe(st, jobID, now), nil
	}, false)
	return err
}

// ForceClose замыкает breaker после повторной авторизации.
func (m *BreakerManager) ForceClose(ctx context.Context, userID string, integration model.IntegrationType) error {
	_, err := m.update(ctx, userID, integration, func(st *model.CircuitBreakerState) (breaker.Transition, error) {
		return breaker.ForceClose(st), nil
	}, false)
	return err
}

// update загружает состояние, применяет fn и сохраняет с повтором при конфликте версий.
// Если строки нет и createMissing = false, изменение не сохраняется: closed по умолчанию.
func (m *BreakerManager) update(
	ctx context.Context,
	userID string,
	integration model.IntegrationType,
	fn func(st *model.CircuitBreakerState) (breaker.Transition, error),
	createMissing bool,
) (breaker.Transition, error) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		st, err := m.State(ctx, userID, integration)
		if err != nil {
			return breaker.Transition{}, err
		}

		tr, err := fn(st)
		if err != nil {
			return tr, err
		}
		if st.Version == 0 && !createMissing {
			return tr, nil
		}

		err = m.repo.Save(ctx, st)
		if err == nil {
			m.observe(st, tr)
			return tr, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return tr, fmt.Errorf("сохранение состояния breaker: %w", err)
		}
		casConflictsTotal.WithLabelValues("breaker").Inc()
	}
	return breaker.Transition{}, fmt.Errorf("%w: состояние breaker %s/%s", ErrConflict, userID, integration)
}

func (m *BreakerManager) observe(st *model.CircuitBreakerState, tr breaker.Transition) {
	if !tr.Changed() {
		return
	}
	breakerTransitionsTotal.WithLabelValues(string(st.IntegrationType), string(tr.From), string(tr.To)).Inc()

	attrs := []any{
		slog.String("user_id", st.UserID),
		slog.String("integration_type", string(st.IntegrationType)),
		slog.String("from", string(tr.From)),
		slog.String("to", string(tr.To)),
		slog.Int("failure_count", st.FailureCount),
	}
	if st.NextRetryAt != nil {
		attrs = append(attrs, slog.Time("next_retry_at", *st.NextRetryAt))
	}
	if tr.To == model.BreakerOpen {
		m.logger.Warn("Circuit breaker разомкнут", attrs...)
	} else {
		m.logger.Info("Переход circuit breaker", attrs...)
	}
}

func (m *BreakerManager) notifyDegraded(ctx context.Context, userID string, integration model.IntegrationType) {
	n := model.Notification{
		UserID:          userID,
		IntegrationType: integration,
		Kind:            model.NotificationSyncDegraded,
		Message:         "Синхронизация временно приостановлена из-за повторяющихся ошибок провайдера",
		ActionLink:      actionLink(m.actionBaseURL, integration),
	}
	sendNotification(ctx, m.notifier, n, m.logger)
}

// actionLink — ссылка на страницу интеграции в приложении.
func actionLink(base string, integration model.IntegrationType) string {
	return fmt.Sprintf("%s/settings/integrations/%s", base, integration)
}

// sendNotification отправляет уведомление; ошибка доставки только логируется.
func sendNotification(ctx context.Context, notifier Notifier, n model.Notification, logger *slog.Logger) bool {
	if notifier == nil {
		return false
	}
	if err := notifier.Notify(ctx, n); err != nil {
		notificationsTotal.WithLabelValues(string(n.Kind), "failed").Inc()
		logger.Error("Ошибка отправки уведомления",
			slog.String("user_id", n.UserID),
			slog.String("kind", string(n.Kind)),
			slog.String("error", err.Error()),
		)
		return false
	}
	notificationsTotal.WithLabelValues(string(n.Kind), "sent").Inc()
	return true
}

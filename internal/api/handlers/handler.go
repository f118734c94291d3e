// handler.go — основной обработчик HTTP API сервиса синхронизации.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
// Пользователь запроса — sub из JWT (middleware.SubjectFromContext).
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/syncengine/internal/api/errors"
	"github.com/bigkaa/syncengine/internal/domain/model"
	"github.com/bigkaa/syncengine/internal/service"
)

// IntegrationScheduler — операции планировщика, доступные через API.
// Реализуется service.Scheduler.
type IntegrationScheduler interface {
	Connect(ctx context.Context, userID string, integration model.IntegrationType, now time.Time) (*model.SyncSchedule, bool, error)
	Disconnect(ctx context.Context, userID string, integration model.IntegrationType) error
	RequestManualSync(ctx context.Context, userID string, integration model.IntegrationType, now time.Time) (*model.SyncSchedule, error)
	Reauthorize(ctx context.Context, userID string, integration model.IntegrationType, now time.Time) (*model.TokenHealth, error)
	Health(ctx context.Context, userID string, integration model.IntegrationType) (*model.IntegrationHealth, error)
	ListHealth(ctx context.Context, userID string) ([]*model.IntegrationHealth, error)
	RecordOutcome(ctx context.Context, outcome model.JobOutcome, now time.Time) (*service.OutcomeResult, error)
}

// WebhookReceiver — приём push-уведомлений и управление подписками.
// Реализуется service.WebhookService.
type WebhookReceiver interface {
	Enabled() bool
	HandleNotification(ctx context.Context, n model.WebhookNotification) model.WebhookResult
	Subscribe(ctx context.Context, userID string, integration model.IntegrationType) (*model.WebhookSubscription, error)
	Unsubscribe(ctx context.Context, userID string, integration model.IntegrationType) error
}

// TokenChecker — проверка состояния токена. Реализуется service.TokenHealthService.
type TokenChecker interface {
	CheckHealth(ctx context.Context, userID string, integration model.IntegrationType) (*model.TokenHealth, error)
}

// SyncMetricsReader — чтение журнала метрик. Реализуется service.MetricsService.
type SyncMetricsReader interface {
	List(ctx context.Context, userID string, integration model.IntegrationType, limit, offset int) ([]*model.SyncMetric, error)
	Summary(ctx context.Context, userID string, integration model.IntegrationType) (*model.MetricsSummary, error)
}

// SuggestionManager — предложения пользователя. Реализуется service.RecommendationService.
type SuggestionManager interface {
	Generate(ctx context.Context, userID string, now time.Time) ([]*model.Suggestion, error)
	Get(ctx context.Context, userID, id string) (*model.Suggestion, error)
	List(ctx context.Context, userID string, status *model.SuggestionStatus, limit, offset int) ([]*model.Suggestion, error)
	Accept(ctx context.Context, userID, id string) (*model.Suggestion, error)
	Dismiss(ctx context.Context, userID, id string) (*model.Suggestion, error)
	Snooze(ctx context.Context, userID, id string, until, now time.Time) (*model.Suggestion, error)
	Resume(ctx context.Context, userID, id string) (*model.Suggestion, error)
	RemoveContact(ctx context.Context, userID, id, contactID string, now time.Time) (*model.Suggestion, error)
}

// APIHandler — основной обработчик API.
type APIHandler struct {
	health      *HealthHandler
	scheduler   IntegrationScheduler
	webhooks    WebhookReceiver
	tokens      TokenChecker
	metrics     SyncMetricsReader
	suggestions SuggestionManager
	logger      *slog.Logger
	now         func() time.Time
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	scheduler IntegrationScheduler,
	webhooks WebhookReceiver,
	tokens TokenChecker,
	metrics SyncMetricsReader,
	suggestions SuggestionManager,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:      health,
		scheduler:   scheduler,
		webhooks:    webhooks,
		tokens:      tokens,
		metrics:     metrics,
		suggestions: suggestions,
		logger:      logger.With(slog.String("component", "api_handler")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// serviceError отвечает по ошибке сервисного слоя. Неизвестные ошибки
// логируются и превращаются в 500 с сообщением msg.
func (h *APIHandler) serviceError(w http.ResponseWriter, err error, msg string, attrs ...any) {
	if apierrors.FromService(w, err) {
		return
	}
	h.logger.Error(msg, append(attrs, slog.String("error", err.Error()))...)
	apierrors.InternalError(w, msg)
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}

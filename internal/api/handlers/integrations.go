// integrations.go — обработчики /api/v1/integrations endpoints.
// Подключение и отключение интеграций, ручная синхронизация,
// повторная авторизация, состояние и метрики синхронизации.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/bigkaa/syncengine/internal/api/middleware"
	"github.com/bigkaa/syncengine/internal/domain/model"
)

// ConnectIntegration — POST /api/v1/integrations/{type}/connect.
// Создаёт расписание в режиме onboarding и сразу выдаёт первую синхронизацию.
// Для push-интеграций создаётся подписка на уведомления. Повторное
// подключение возвращает существующее состояние (200 вместо 201).
func (h *APIHandler) ConnectIntegration(w http.ResponseWriter, r *http.Request, integration model.IntegrationType) {
	ctx := r.Context()
	userID := middleware.SubjectFromContext(ctx)
	now := h.now()

	// Статус токена нужен до первой синхронизации: отозванный токен её пропустит
	if _, err := h.tokens.CheckHealth(ctx, userID, integration); err != nil {
		h.logger.Warn("Проверка токена при подключении не выполнена",
			slog.String("user_id", userID),
			slog.String("integration_type", string(integration)),
			slog.String("error", err.Error()),
		)
	}

	_, created, err := h.scheduler.Connect(ctx, userID, integration, now)
	if err != nil {
		h.serviceError(w, err, "Ошибка подключения интеграции",
			slog.String("user_id", userID), slog.String("integration_type", string(integration)))
		return
	}

	if created && integration.SupportsPush() && h.webhooks.Enabled() {
		// Без подписки интеграция работает на опросе по расписанию
		if _, err := h.webhooks.Subscribe(ctx, userID, integration); err != nil {
			h.logger.Warn("Push-подписка не создана, синхронизация по расписанию",
				slog.String("user_id", userID),
				slog.String("integration_type", string(integration)),
				slog.String("error", err.Error()),
			)
		}
	}

	health, err := h.scheduler.Health(ctx, userID, integration)
	if err != nil {
		h.serviceError(w, err, "Ошибка получения состояния интеграции",
			slog.String("user_id", userID), slog.String("integration_type", string(integration)))
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, mapIntegrationHealth(health, now))
}

// DisconnectIntegration — DELETE /api/v1/integrations/{type}.
// Останавливает push-канал и удаляет расписание.
func (h *APIHandler) DisconnectIntegration(w http.ResponseWriter, r *http.Request, integration model.IntegrationType) {
	ctx := r.Context()
	userID := middleware.SubjectFromContext(ctx)

	if integration.SupportsPush() {
		if err := h.webhooks.Unsubscribe(ctx, userID, integration); err != nil {
			h.logger.Warn("Ошибка удаления push-подписки",
				slog.String("user_id", userID),
				slog.String("integration_type", string(integration)),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := h.scheduler.Disconnect(ctx, userID, integration); err != nil {
		h.serviceError(w, err, "Ошибка отключения интеграции",
			slog.String("user_id", userID), slog.String("integration_type", string(integration)))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RequestSync — POST /api/v1/integrations/{type}/sync.
// Ставит внеочередную синхронизацию; она будет выдана ближайшим тиком.
func (h *APIHandler) RequestSync(w http.ResponseWriter, r *http.Request, integration model.IntegrationType) {
	ctx := r.Context()
	userID := middleware.SubjectFromContext(ctx)
	now := h.now()

	sch, err := h.scheduler.RequestManualSync(ctx, userID, integration, now)
	if err != nil {
		h.serviceError(w, err, "Ошибка запроса синхронизации",
			slog.String("user_id", userID), slog.String("integration_type", string(integration)))
		return
	}

	writeJSON(w, http.StatusAccepted, mapSchedule(sch, now))
}

// ReauthorizeIntegration — POST /api/v1/integrations/{type}/reauthorize.
// Вызывается после повторного прохождения OAuth пользователем.
func (h *APIHandler) ReauthorizeIntegration(w http.ResponseWriter, r *http.Request, integration model.IntegrationType) {
	ctx := r.Context()
	userID := middleware.SubjectFromContext(ctx)

	token, err := h.scheduler.Reauthorize(ctx, userID, integration, h.now())
	if err != nil {
		h.serviceError(w, err, "Ошибка повторной авторизации",
			slog.String("user_id", userID), slog.String("integration_type", string(integration)))
		return
	}

	writeJSON(w, http.StatusOK, ReauthorizeResponse{
		Token:   mapTokenHealth(token),
		Resumed: token.Status == model.TokenStatusValid || token.Status == model.TokenStatusExpiringSoon,
	})
}

// GetIntegrationHealth — GET /api/v1/integrations/{type}/health.
func (h *APIHandler) GetIntegrationHealth(w http.ResponseWriter, r *http.Request, integration model.IntegrationType) {
	ctx := r.Context()
	userID := middleware.SubjectFromContext(ctx)

	health, err := h.scheduler.Health(ctx, userID, integration)
	if err != nil {
		h.serviceError(w, err, "Ошибка получения состояния интеграции",
			slog.String("user_id", userID), slog.String("integration_type", string(integration)))
		return
	}

	writeJSON(w, http.StatusOK, mapIntegrationHealth(health, h.now()))
}

// ListIntegrationHealth — GET /api/v1/integrations/health.
func (h *APIHandler) ListIntegrationHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.SubjectFromContext(ctx)

	list, err := h.scheduler.ListHealth(ctx, userID)
	if err != nil {
		h.serviceError(w, err, "Ошибка получения состояния интеграций", slog.String("user_id", userID))
		return
	}

	now := h.now()
	items := make([]IntegrationHealthResponse, len(list))
	for i, ih := range list {
		items[i] = mapIntegrationHealth(ih, now)
	}
	writeJSON(w, http.StatusOK, IntegrationHealthListResponse{Items: items})
}

// GetSyncMetricsParams — параметры GET /api/v1/integrations/{type}/metrics.
type GetSyncMetricsParams struct {
	Limit  *int
	Offset *int
}

// GetSyncMetrics — GET /api/v1/integrations/{type}/metrics.
// Последние записи журнала синхронизаций и агрегаты.
func (h *APIHandler) GetSyncMetrics(w http.ResponseWriter, r *http.Request, integration model.IntegrationType, params GetSyncMetricsParams) {
	ctx := r.Context()
	userID := middleware.SubjectFromContext(ctx)
	limit, offset := paginationDefaults(params.Limit, params.Offset)

	// Сводка первой: отвечает 404 для неподключённой интеграции
	summary, err := h.metrics.Summary(ctx, userID, integration)
	if err != nil {
		h.serviceError(w, err, "Ошибка получения сводки метрик",
			slog.String("user_id", userID), slog.String("integration_type", string(integration)))
		return
	}
	list, err := h.metrics.List(ctx, userID, integration, limit, offset)
	if err != nil {
		h.serviceError(w, err, "Ошибка получения метрик синхронизации",
			slog.String("user_id", userID), slog.String("integration_type", string(integration)))
		return
	}

	items := make([]SyncMetricResponse, len(list))
	for i, m := range list {
		items[i] = mapSyncMetric(m)
	}
	writeJSON(w, http.StatusOK, SyncMetricsResponse{
		Items:   items,
		Summary: mapMetricsSummary(summary),
		Limit:   limit,
		Offset:  offset,
	})
}

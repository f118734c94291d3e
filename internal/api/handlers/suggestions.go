// suggestions.go — обработчики /api/v1/suggestions endpoints.
// Список и получение предложений, ручная генерация, смена статуса
// (accept, dismiss, snooze, resume) и удаление контакта из группы.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/syncengine/internal/api/errors"
	"github.com/bigkaa/syncengine/internal/api/middleware"
	"github.com/bigkaa/syncengine/internal/domain/model"
)

// ListSuggestionsParams — параметры GET /api/v1/suggestions.
type ListSuggestionsParams struct {
	Status *string
	Limit  *int
	Offset *int
}

// snoozeRequest — тело POST /api/v1/suggestions/{id}/snooze.
type snoozeRequest struct {
	SnoozedUntil *time.Time `json:"snoozedUntil"`
}

// ListSuggestions — GET /api/v1/suggestions.
// Сортировка: priority по убыванию, затем новые первыми.
func (h *APIHandler) ListSuggestions(w http.ResponseWriter, r *http.Request, params ListSuggestionsParams) {
	ctx := r.Context()
	userID := middleware.SubjectFromContext(ctx)
	limit, offset := paginationDefaults(params.Limit, params.Offset)

	var status *model.SuggestionStatus
	if params.Status != nil {
		st, err := model.ParseSuggestionStatus(*params.Status)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		status = &st
	}

	list, err := h.suggestions.List(ctx, userID, status, limit, offset)
	if err != nil {
		h.serviceError(w, err, "Ошибка получения предложений", slog.String("user_id", userID))
		return
	}

	writeJSON(w, http.StatusOK, SuggestionListResponse{
		Items:  mapSuggestions(list),
		Limit:  limit,
		Offset: offset,
	})
}

// GenerateSuggestions — POST /api/v1/suggestions/generate.
// Пересчитывает ожидающие предложения пользователя вне фонового расписания.
func (h *APIHandler) GenerateSuggestions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.SubjectFromContext(ctx)

	list, err := h.suggestions.Generate(ctx, userID, h.now())
	if err != nil {
		h.serviceError(w, err, "Ошибка генерации предложений", slog.String("user_id", userID))
		return
	}

	writeJSON(w, http.StatusOK, SuggestionListResponse{
		Items: mapSuggestions(list),
		Limit: len(list),
	})
}

// GetSuggestion — GET /api/v1/suggestions/{id}.
func (h *APIHandler) GetSuggestion(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	ctx := r.Context()
	userID := middleware.SubjectFromContext(ctx)

	sg, err := h.suggestions.Get(ctx, userID, id.String())
	if err != nil {
		h.serviceError(w, err, "Ошибка получения предложения", slog.String("suggestion_id", id.String()))
		return
	}
	writeJSON(w, http.StatusOK, mapSuggestion(sg))
}

// AcceptSuggestion — POST /api/v1/suggestions/{id}/accept.
func (h *APIHandler) AcceptSuggestion(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	ctx := r.Context()
	sg, err := h.suggestions.Accept(ctx, middleware.SubjectFromContext(ctx), id.String())
	h.writeSuggestion(w, sg, err, "Ошибка принятия предложения", id)
}

// DismissSuggestion — POST /api/v1/suggestions/{id}/dismiss.
func (h *APIHandler) DismissSuggestion(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	ctx := r.Context()
	sg, err := h.suggestions.Dismiss(ctx, middleware.SubjectFromContext(ctx), id.String())
	h.writeSuggestion(w, sg, err, "Ошибка отклонения предложения", id)
}

// SnoozeSuggestion — POST /api/v1/suggestions/{id}/snooze.
// snoozedUntil должен быть в будущем.
func (h *APIHandler) SnoozeSuggestion(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	var req snoozeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if req.SnoozedUntil == nil {
		apierrors.ValidationError(w, "snoozedUntil обязателен")
		return
	}

	ctx := r.Context()
	sg, err := h.suggestions.Snooze(ctx, middleware.SubjectFromContext(ctx), id.String(), *req.SnoozedUntil, h.now())
	h.writeSuggestion(w, sg, err, "Ошибка откладывания предложения", id)
}

// ResumeSuggestion — POST /api/v1/suggestions/{id}/resume.
func (h *APIHandler) ResumeSuggestion(w http.ResponseWriter, r *http.Request, id openapi_types.UUID) {
	ctx := r.Context()
	sg, err := h.suggestions.Resume(ctx, middleware.SubjectFromContext(ctx), id.String())
	h.writeSuggestion(w, sg, err, "Ошибка возобновления предложения", id)
}

// RemoveSuggestionContact — DELETE /api/v1/suggestions/{id}/contacts/{contactId}.
// Групповое предложение пересчитывается; при одном оставшемся контакте
// становится индивидуальным.
func (h *APIHandler) RemoveSuggestionContact(w http.ResponseWriter, r *http.Request, id openapi_types.UUID, contactID string) {
	ctx := r.Context()
	sg, err := h.suggestions.RemoveContact(ctx, middleware.SubjectFromContext(ctx), id.String(), contactID, h.now())
	h.writeSuggestion(w, sg, err, "Ошибка удаления контакта из предложения", id)
}

func (h *APIHandler) writeSuggestion(w http.ResponseWriter, sg *model.Suggestion, err error, msg string, id openapi_types.UUID) {
	if err != nil {
		h.serviceError(w, err, msg, slog.String("suggestion_id", id.String()))
		return
	}
	writeJSON(w, http.StatusOK, mapSuggestion(sg))
}

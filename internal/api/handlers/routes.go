// routes.go — регистрация маршрутов и привязка параметров запроса.
// Параметры пути и query разбираются через oapi-codegen runtime по тем же
// правилам стиля, что и в OpenAPI контракте (internal/api/openapi).
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/syncengine/internal/api/errors"
	"github.com/bigkaa/syncengine/internal/domain/model"
)

// RouteOptions — middleware отдельных групп маршрутов.
type RouteOptions struct {
	// JobOutcomeMiddlewares применяются к приёму результатов заданий
	// (проверка scope исполнителя).
	JobOutcomeMiddlewares []func(http.Handler) http.Handler
}

// HandlerFromMux регистрирует все маршруты API на роутере.
func HandlerFromMux(h *APIHandler, r chi.Router, opts RouteOptions) {
	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)
	r.Get("/metrics", h.GetMetrics)

	r.Post("/api/v1/webhooks/calendar", h.CalendarWebhook)

	r.With(opts.JobOutcomeMiddlewares...).Post("/api/v1/jobs/{jobId}/outcome", h.reportJobOutcome)

	r.Route("/api/v1/integrations", func(r chi.Router) {
		r.Get("/health", h.ListIntegrationHealth)
		r.Delete("/{type}", h.withIntegration(h.DisconnectIntegration))
		r.Post("/{type}/connect", h.withIntegration(h.ConnectIntegration))
		r.Post("/{type}/sync", h.withIntegration(h.RequestSync))
		r.Post("/{type}/reauthorize", h.withIntegration(h.ReauthorizeIntegration))
		r.Get("/{type}/health", h.withIntegration(h.GetIntegrationHealth))
		r.Get("/{type}/metrics", h.withIntegration(h.getSyncMetrics))
	})

	r.Route("/api/v1/suggestions", func(r chi.Router) {
		r.Get("/", h.listSuggestions)
		r.Post("/generate", h.GenerateSuggestions)
		r.Get("/{id}", h.withSuggestionID(h.GetSuggestion))
		r.Post("/{id}/accept", h.withSuggestionID(h.AcceptSuggestion))
		r.Post("/{id}/dismiss", h.withSuggestionID(h.DismissSuggestion))
		r.Post("/{id}/snooze", h.withSuggestionID(h.SnoozeSuggestion))
		r.Post("/{id}/resume", h.withSuggestionID(h.ResumeSuggestion))
		r.Delete("/{id}/contacts/{contactId}", h.removeSuggestionContact)
	})
}

func pathParam(r *http.Request, name string, dest any) error {
	return runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{
			ParamLocation: runtime.ParamLocationPath,
			Explode:       false,
			Required:      true,
		})
}

func (h *APIHandler) withIntegration(next func(http.ResponseWriter, *http.Request, model.IntegrationType)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		integration, ok := bindIntegration(w, r)
		if !ok {
			return
		}
		next(w, r, integration)
	}
}

func bindIntegration(w http.ResponseWriter, r *http.Request) (model.IntegrationType, bool) {
	var raw string
	if err := pathParam(r, "type", &raw); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр type: "+err.Error())
		return "", false
	}
	integration, err := model.ParseIntegrationType(raw)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return "", false
	}
	return integration, true
}

func (h *APIHandler) withSuggestionID(next func(http.ResponseWriter, *http.Request, openapi_types.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id openapi_types.UUID
		if err := pathParam(r, "id", &id); err != nil {
			apierrors.ValidationError(w, "Некорректный параметр id: "+err.Error())
			return
		}
		next(w, r, id)
	}
}

func (h *APIHandler) reportJobOutcome(w http.ResponseWriter, r *http.Request) {
	var jobID string
	if err := pathParam(r, "jobId", &jobID); err != nil || jobID == "" {
		apierrors.ValidationError(w, "Некорректный параметр jobId")
		return
	}
	h.ReportJobOutcome(w, r, jobID)
}

func (h *APIHandler) getSyncMetrics(w http.ResponseWriter, r *http.Request, integration model.IntegrationType) {
	var params GetSyncMetricsParams
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &params.Limit); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр limit: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", query, &params.Offset); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр offset: "+err.Error())
		return
	}
	h.GetSyncMetrics(w, r, integration, params)
}

func (h *APIHandler) listSuggestions(w http.ResponseWriter, r *http.Request) {
	var params ListSuggestionsParams
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "status", query, &params.Status); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр status: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &params.Limit); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр limit: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", query, &params.Offset); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр offset: "+err.Error())
		return
	}
	h.ListSuggestions(w, r, params)
}

func (h *APIHandler) removeSuggestionContact(w http.ResponseWriter, r *http.Request) {
	var id openapi_types.UUID
	if err := pathParam(r, "id", &id); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр id: "+err.Error())
		return
	}
	var contactID string
	if err := pathParam(r, "contactId", &contactID); err != nil || contactID == "" {
		apierrors.ValidationError(w, "Некорректный параметр contactId")
		return
	}
	h.RemoveSuggestionContact(w, r, id, contactID)
}

package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bigkaa/syncengine/internal/api/openapi"
)

func newTestValidator(t *testing.T) *RequestValidator {
	t.Helper()
	doc, err := openapi.Load()
	if err != nil {
		t.Fatalf("загрузка контракта: %v", err)
	}
	v, err := NewRequestValidator(doc, testLogger())
	if err != nil {
		t.Fatalf("создание валидатора: %v", err)
	}
	return v
}

func TestRequestValidator(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
	}{
		{"известная интеграция", http.MethodPost, "/api/v1/integrations/google_calendar/sync", "", http.StatusOK},
		{"неизвестная интеграция", http.MethodPost, "/api/v1/integrations/outlook/sync", "", http.StatusBadRequest},
		{"limit вне диапазона", http.MethodGet, "/api/v1/suggestions?limit=5000", "", http.StatusBadRequest},
		{"limit не число", http.MethodGet, "/api/v1/suggestions?limit=abc", "", http.StatusBadRequest},
		{"неизвестный статус", http.MethodGet, "/api/v1/suggestions?status=archived", "", http.StatusBadRequest},
		{"корректный список", http.MethodGet, "/api/v1/suggestions?status=pending&limit=10", "", http.StatusOK},
		{"результат без result", http.MethodPost, "/api/v1/jobs/j-1/outcome", `{"itemsProcessed":1}`, http.StatusBadRequest},
		{"отрицательные элементы", http.MethodPost, "/api/v1/jobs/j-1/outcome", `{"result":"success","itemsProcessed":-1}`, http.StatusBadRequest},
		{"корректный результат", http.MethodPost, "/api/v1/jobs/j-1/outcome", `{"result":"success","itemsProcessed":3,"hadChanges":true}`, http.StatusOK},
		{"snooze без даты", http.MethodPost, "/api/v1/suggestions/7d1f0f5e-2a0b-4b7e-9d49-2a8c4b6f4a10/snooze", `{}`, http.StatusBadRequest},
		{"путь вне контракта", http.MethodGet, "/api/v1/unknown", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var decoded bool
			h := v.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var m map[string]any
				decoded = json.NewDecoder(r.Body).Decode(&m) == nil
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("статус = %d, ожидался %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			// Тело должно оставаться доступным обработчику после валидации
			if tt.wantStatus == http.StatusOK && tt.body != "" && !decoded {
				t.Errorf("тело запроса не дошло до обработчика")
			}
		})
	}
}

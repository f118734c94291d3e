package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bigkaa/syncengine/internal/service"
)

func TestWriteError_Envelope(t *testing.T) {
	rec := httptest.NewRecorder()
	NotFound(rec, "предложение не найдено")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("статус = %d, ожидался 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("декодирование ответа: %v", err)
	}
	if body.Error.Code != CodeNotFound || body.Error.Message != "предложение не найдено" {
		t.Errorf("тело = %+v", body.Error)
	}
}

func TestFromService(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		handled bool
		status  int
		code    string
	}{
		{"not found", fmt.Errorf("%w: x", service.ErrNotFound), true, http.StatusNotFound, CodeNotFound},
		{"validation", fmt.Errorf("%w: x", service.ErrValidation), true, http.StatusBadRequest, CodeValidationError},
		{"push unsupported", service.ErrPushUnsupported, true, http.StatusBadRequest, CodeValidationError},
		{"transition", fmt.Errorf("%w: accepted → snoozed", service.ErrInvalidTransition), true, http.StatusConflict, CodeInvalidTransition},
		{"conflict", service.ErrConflict, true, http.StatusConflict, CodeConflict},
		{"webhook disabled", service.ErrWebhookDisabled, true, http.StatusConflict, CodeConflict},
		{"unknown", errors.New("сбой"), false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handled := FromService(rec, tt.err)
			if handled != tt.handled {
				t.Fatalf("handled = %v, ожидалось %v", handled, tt.handled)
			}
			if !handled {
				if rec.Body.Len() != 0 {
					t.Errorf("для неизвестной ошибки ответ не должен записываться")
				}
				return
			}
			if rec.Code != tt.status {
				t.Errorf("статус = %d, ожидался %d", rec.Code, tt.status)
			}
			var body struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			_ = json.NewDecoder(rec.Body).Decode(&body)
			if body.Error.Code != tt.code {
				t.Errorf("код = %q, ожидался %q", body.Error.Code, tt.code)
			}
		})
	}
}

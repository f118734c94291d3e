// webhooks.go — приёмник push-уведомлений Google Calendar.
// Endpoint без JWT: подлинность подтверждается verification token канала.
// Всегда отвечает 200, иначе провайдер повторяет доставку.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

const maxWebhookBody = 16 << 10

// webhookBody — альтернативная форма уведомления в JSON (ретрансляторы).
type webhookBody struct {
	ChannelID     string `json:"channelId"`
	ResourceID    string `json:"resourceId"`
	ResourceState string `json:"resourceState"`
	Token         string `json:"token"`
	MessageNumber string `json:"messageNumber"`
}

// webhookAck — ответ приёмника.
type webhookAck struct {
	Result string `json:"result"`
}

// CalendarWebhook — POST /api/v1/webhooks/calendar.
func (h *APIHandler) CalendarWebhook(w http.ResponseWriter, r *http.Request) {
	n := model.WebhookNotification{
		ChannelID:     r.Header.Get("X-Goog-Channel-ID"),
		ResourceID:    r.Header.Get("X-Goog-Resource-ID"),
		ResourceState: model.ResourceState(r.Header.Get("X-Goog-Resource-State")),
		Token:         r.Header.Get("X-Goog-Channel-Token"),
		MessageNumber: r.Header.Get("X-Goog-Message-Number"),
	}

	// Заголовки Google приоритетнее тела. Некорректное тело оставляет
	// уведомление пустым, сервис запишет его как ignored.
	if n.ChannelID == "" {
		var body webhookBody
		data, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err == nil && len(data) > 0 && json.Unmarshal(data, &body) == nil {
			n = model.WebhookNotification{
				ChannelID:     body.ChannelID,
				ResourceID:    body.ResourceID,
				ResourceState: model.ResourceState(body.ResourceState),
				Token:         body.Token,
				MessageNumber: body.MessageNumber,
			}
		}
	}

	result := h.webhooks.HandleNotification(r.Context(), n)
	writeJSON(w, http.StatusOK, webhookAck{Result: string(result)})
}

// Пакет notify — доставка уведомлений пользователю: в лог, во внешний
// HTTP-диспетчер или push через Firebase Cloud Messaging.
// Все реализации удовлетворяют service.Notifier.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

var notificationsSentTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ase_notifications_sent_total",
		Help: "Количество отправленных уведомлений",
	},
	[]string{"transport", "kind", "status"},
)

func observe(transport string, n model.Notification, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	notificationsSentTotal.WithLabelValues(transport, string(n.Kind), status).Inc()
}

// LogNotifier записывает уведомления в лог (режим без внешней доставки).
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier создаёт notifier, пишущий в лог.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(slog.String("component", "notify_log"))}
}

// Notify записывает уведомление в лог.
func (l *LogNotifier) Notify(_ context.Context, n model.Notification) error {
	l.logger.Info("Уведомление пользователю",
		slog.String("user_id", n.UserID),
		slog.String("integration_type", string(n.IntegrationType)),
		slog.String("kind", string(n.Kind)),
		slog.String("message", n.Message),
		slog.String("action_link", n.ActionLink),
	)
	observe("log", n, nil)
	return nil
}

// HTTPNotifier передаёт уведомления внешнему диспетчеру: POST {url} с JSON
// {userId, integrationType, kind, message, actionLink}.
type HTTPNotifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPNotifier создаёт notifier для диспетчера по адресу url.
func NewHTTPNotifier(url string, timeout time.Duration, logger *slog.Logger) *HTTPNotifier {
	return &HTTPNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "notify_http")),
	}
}

// Notify отправляет уведомление диспетчеру. Любой ответ вне 2xx — ошибка.
func (h *HTTPNotifier) Notify(ctx context.Context, n model.Notification) (err error) {
	defer func() { observe("http", n, err) }()

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("сериализация уведомления: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("создание запроса уведомления: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return fmt.Errorf("запрос к диспетчеру уведомлений: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("диспетчер уведомлений вернул статус %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	h.logger.Debug("Уведомление передано диспетчеру",
		slog.String("user_id", n.UserID),
		slog.String("kind", string(n.Kind)),
	)
	return nil
}

// Пакет executor — доставка sync-заданий HTTP-исполнителю.
//
// Client отправляет задание POST {executor}/api/v1/jobs. Ответ 200 содержит
// результат выполнения, ответ 202 означает, что исполнитель принял задание
// и сообщит результат позже через POST /api/v1/jobs/{jobId}/outcome.
// Pool — ограниченный пул воркеров, реализующий service.Dispatcher.
package executor

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

	"github.com/bigkaa/syncengine/internal/domain/model"
)

// maxErrorBody — сколько байт тела ошибки попадает в текст ошибки.
const maxErrorBody = 512

// Client — HTTP-клиент исполнителя sync-заданий.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент исполнителя.
// baseURL — адрес исполнителя (например, http://sync-executor:8030).
// timeout — таймаут одного запроса; дедлайн задания ограничивает его дополнительно.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: logger.With(slog.String("component", "executor_client")),
	}
}

// Run отправляет задание исполнителю.
// Возвращает результат при синхронном выполнении (200) или nil, nil,
// если исполнитель принял задание асинхронно (202).
//
// Формат запроса: POST {baseURL}/api/v1/jobs
// Тело: {idempotencyKey, userId, integrationType, syncType, dispatchedAt, deadlineAt, probe}
func (c *Client) Run(ctx context.Context, job model.SyncJob) (*model.JobOutcome, error) {
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("сериализация задания: %w", err)
	}

	reqURL := c.baseURL + "/api/v1/jobs"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("создание запроса Run: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", job.JobID)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return nil, fmt.Errorf("запрос Run к %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var outcome model.JobOutcome
		if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
			return nil, fmt.Errorf("декодирование результата задания: %w", err)
		}
		if outcome.JobID == "" {
			outcome.JobID = job.JobID
		}
		if outcome.JobID != job.JobID {
			return nil, fmt.Errorf("исполнитель вернул результат чужого задания %s", outcome.JobID)
		}
		return &outcome, nil
	case http.StatusAccepted:
		c.logger.Debug("Задание принято исполнителем асинхронно",
			slog.String("job_id", job.JobID),
		)
		return nil, nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("исполнитель вернул статус %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
}

// Пакет queue — доставка sync-заданий через Google Cloud Pub/Sub.
//
// Publisher публикует задания в топик и реализует service.Dispatcher.
// OutcomeSubscriber читает результаты исполнителя из подписки
// (доставка at-least-once) и передаёт их планировщику; повторная доставка
// того же результата планировщиком игнорируется.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/api/option"

	"github.com/bigkaa/syncengine/internal/domain/model"
	"github.com/bigkaa/syncengine/internal/service"
)

var (
	publishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ase_pubsub_published_total",
			Help: "Количество заданий, опубликованных в Pub/Sub",
		},
		[]string{"status"},
	)
	outcomeMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ase_pubsub_outcome_messages_total",
			Help: "Количество сообщений с результатами заданий",
		},
		[]string{"status"},
	)
)

// NewClient создаёт клиент Pub/Sub. credentialsFile — путь к ключу
// сервисного аккаунта (пустой — Application Default Credentials).
func NewClient(ctx context.Context, projectID, credentialsFile string, opts ...option.ClientOption) (*pubsub.Client, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("создание клиента Pub/Sub: %w", err)
	}
	return client, nil
}

// Publisher — публикация sync-заданий в топик.
type Publisher struct {
	topic  *pubsub.Topic
	logger *slog.Logger
}

// NewPublisher создаёт публикатор в топик topicID.
func NewPublisher(client *pubsub.Client, topicID string, logger *slog.Logger) *Publisher {
	return &Publisher{
		topic:  client.Topic(topicID),
		logger: logger.With(slog.String("component", "pubsub_publisher")),
	}
}

// Dispatch публикует задание и ждёт подтверждения сервера.
func (p *Publisher) Dispatch(ctx context.Context, job model.SyncJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("сериализация задания: %w", err)
	}

	res := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"idempotencyKey":  job.JobID,
			"userId":          job.UserID,
			"integrationType": string(job.IntegrationType),
			"syncType":        string(job.SyncType),
		},
	})
	serverID, err := res.Get(ctx)
	if err != nil {
		publishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("публикация задания %s: %w", job.JobID, err)
	}
	publishedTotal.WithLabelValues("ok").Inc()

	p.logger.Debug("Задание опубликовано",
		slog.String("job_id", job.JobID),
		slog.String("message_id", serverID),
	)
	return nil
}

// Stop отправляет накопленные сообщения и освобождает ресурсы топика.
func (p *Publisher) Stop() {
	p.topic.Stop()
}

// OutcomeRecorder — приёмник результатов заданий (Scheduler.RecordOutcome).
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome model.JobOutcome, now time.Time) (*service.OutcomeResult, error)
}

// OutcomeSubscriber — чтение результатов заданий из подписки.
type OutcomeSubscriber struct {
	sub      *pubsub.Subscription
	recorder OutcomeRecorder
	logger   *slog.Logger
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewOutcomeSubscriber создаёт подписчика на subscriptionID.
// maxOutstanding ограничивает число одновременно обрабатываемых сообщений.
func NewOutcomeSubscriber(client *pubsub.Client, subscriptionID string, recorder OutcomeRecorder, maxOutstanding int, logger *slog.Logger) *OutcomeSubscriber {
	sub := client.Subscription(subscriptionID)
	if maxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	}
	return &OutcomeSubscriber{
		sub:      sub,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "pubsub_outcomes")),
		now:      time.Now,
	}
}

// Start запускает приём сообщений в фоне.
func (s *OutcomeSubscriber) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Приём результатов заданий запущен",
			slog.String("subscription", s.sub.ID()),
		)
		for {
			err := s.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
				if s.handle(ctx, msg.Data) {
					msg.Ack()
				} else {
					msg.Nack()
				}
			})
			if ctx.Err() != nil {
				s.logger.Info("Приём результатов заданий остановлен")
				return
			}
			s.logger.Error("Ошибка приёма результатов, повтор через 5s",
				slog.String("error", fmt.Sprint(err)),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()
}

// Stop останавливает приём и ждёт завершения обработчиков.
func (s *OutcomeSubscriber) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// handle обрабатывает одно сообщение. Возвращает true, если сообщение
// нужно подтвердить: успешно записанные, повторные и некорректные
// результаты подтверждаются, временные ошибки — нет.
func (s *OutcomeSubscriber) handle(ctx context.Context, data []byte) bool {
	var outcome model.JobOutcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		outcomeMessagesTotal.WithLabelValues("malformed").Inc()
		s.logger.Warn("Некорректное сообщение с результатом", slog.String("error", err.Error()))
		return true
	}

	res, err := s.recorder.RecordOutcome(ctx, outcome, s.now().UTC())
	switch {
	case err == nil:
		if res != nil && res.Duplicate {
			outcomeMessagesTotal.WithLabelValues("duplicate").Inc()
		} else {
			outcomeMessagesTotal.WithLabelValues("recorded").Inc()
		}
		return true
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrNotFound):
		outcomeMessagesTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn("Результат задания отклонён",
			slog.String("job_id", outcome.JobID),
			slog.String("error", err.Error()),
		)
		return true
	default:
		outcomeMessagesTotal.WithLabelValues("retry").Inc()
		s.logger.Error("Ошибка записи результата, сообщение будет доставлено повторно",
			slog.String("job_id", outcome.JobID),
			slog.String("error", err.Error()),
		)
		return false
	}
}

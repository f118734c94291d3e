package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/bigkaa/syncengine/internal/domain/model"
	"github.com/bigkaa/syncengine/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestClient поднимает fake-сервер Pub/Sub и клиент к нему.
func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("подключение к fake Pub/Sub: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	client, err := NewClient(context.Background(), "test-project", "", option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublisher_Dispatch(t *testing.T) {
	client, srv := newTestClient(t)
	ctx := context.Background()
	if _, err := client.CreateTopic(ctx, "sync-jobs"); err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	pub := NewPublisher(client, "sync-jobs", testLogger())
	defer pub.Stop()

	job := model.SyncJob{
		JobID: "job-1", UserID: "user-1",
		IntegrationType: model.IntegrationGoogleCalendar, SyncType: model.SyncTypeWebhookTriggered,
	}
	if err := pub.Dispatch(ctx, job); err != nil {
		t.Fatalf("Dispatch ошибка: %v", err)
	}

	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("опубликовано %d сообщений, ожидалось 1", len(msgs))
	}
	var got model.SyncJob
	if err := json.Unmarshal(msgs[0].Data, &got); err != nil {
		t.Fatalf("тело сообщения: %v", err)
	}
	if got.JobID != "job-1" || got.SyncType != model.SyncTypeWebhookTriggered {
		t.Errorf("задание = %+v", got)
	}
	if msgs[0].Attributes["userId"] != "user-1" || msgs[0].Attributes["idempotencyKey"] != "job-1" {
		t.Errorf("атрибуты = %v", msgs[0].Attributes)
	}
}

func TestPublisher_MissingTopic(t *testing.T) {
	client, _ := newTestClient(t)
	pub := NewPublisher(client, "absent", testLogger())
	defer pub.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pub.Dispatch(ctx, model.SyncJob{JobID: "job-1"}); err == nil {
		t.Error("публикация в отсутствующий топик должна завершаться ошибкой")
	}
}

// --- Mock ---

type fakeRecorder struct {
	mu    sync.Mutex
	calls []model.JobOutcome
	fn    func(o model.JobOutcome) (*service.OutcomeResult, error)
	seen  chan string
}

func (f *fakeRecorder) RecordOutcome(_ context.Context, o model.JobOutcome, _ time.Time) (*service.OutcomeResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, o)
	f.mu.Unlock()
	defer func() { f.seen <- o.JobID }()
	if f.fn != nil {
		return f.fn(o)
	}
	return &service.OutcomeResult{}, nil
}

func TestOutcomeSubscriber_Handle(t *testing.T) {
	rec := &fakeRecorder{seen: make(chan string, 10)}
	s := &OutcomeSubscriber{recorder: rec, logger: testLogger(), now: time.Now}
	ctx := context.Background()

	tests := []struct {
		name    string
		err     error
		data    string
		wantAck bool
	}{
		{"записан", nil, `{"idempotencyKey":"j1","result":"success"}`, true},
		{"некорректный JSON", nil, `{not json`, true},
		{"ошибка валидации", service.ErrValidation, `{"idempotencyKey":"j2","result":"bogus"}`, true},
		{"неизвестное задание", service.ErrNotFound, `{"idempotencyKey":"j3","result":"success"}`, true},
		{"временная ошибка", errors.New("connection reset"), `{"idempotencyKey":"j4","result":"failure"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec.fn = func(model.JobOutcome) (*service.OutcomeResult, error) { return nil, tt.err }
			if got := s.handle(ctx, []byte(tt.data)); got != tt.wantAck {
				t.Errorf("ack = %v, ожидается %v", got, tt.wantAck)
			}
		})
	}
}

func TestOutcomeSubscriber_Receive(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	topic, err := client.CreateTopic(ctx, "sync-outcomes")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	defer topic.Stop()
	if _, err := client.CreateSubscription(ctx, "sync-outcomes-sub", pubsub.SubscriptionConfig{
		Topic: topic, AckDeadline: 10 * time.Second,
	}); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	rec := &fakeRecorder{seen: make(chan string, 10)}
	sub := NewOutcomeSubscriber(client, "sync-outcomes-sub", rec, 4, testLogger())
	sub.Start(ctx)
	defer sub.Stop()

	data, _ := json.Marshal(model.JobOutcome{JobID: "job-7", Result: model.SyncResultSuccess, ItemsProcessed: 5})
	if _, err := topic.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case id := <-rec.seen:
		if id != "job-7" {
			t.Errorf("получен результат %s, ожидался job-7", id)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("результат не получен")
	}
}

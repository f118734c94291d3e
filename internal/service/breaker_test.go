package service

import (
	"context"
	"testing"
	"time"

	"github.com/bigkaa/syncengine/internal/domain/breaker"
	"github.com/bigkaa/syncengine/internal/domain/model"
)

func newBreakerEnv() (*BreakerManager, *memBreakerRepo, *mockNotifier) {
	repo := newMemBreakerRepo()
	notifier := &mockNotifier{}
	m := NewBreakerManager(repo, breaker.DefaultPolicy(), notifier, "https://app.example.com", testLogger())
	return m, repo, notifier
}

func TestBreakerManager_SuccessWithoutRowNotPersisted(t *testing.T) {
	m, repo, _ := newBreakerEnv()

	if _, err := m.RecordSuccess(context.Background(), "user-1", calendar); err != nil {
		t.Fatalf("RecordSuccess ошибка: %v", err)
	}
	if repo.saves != 0 {
		t.Errorf("saves = %d, closed по умолчанию не должен сохраняться", repo.saves)
	}
}

func TestBreakerManager_OpensAfterThresholdAndNotifiesOnce(t *testing.T) {
	m, _, notifier := newBreakerEnv()
	ctx := context.Background()

	now := t0
	for i := 1; i <= 7; i++ {
		tr, err := m.RecordFailure(ctx, "user-1", calendar, "HTTP 503", now)
		if err != nil {
			t.Fatalf("неудача %d: %v", i, err)
		}
		if i == 5 && (tr.From != model.BreakerClosed || tr.To != model.BreakerOpen) {
			t.Errorf("неудача 5: переход %s → %s, ожидается closed → open", tr.From, tr.To)
		}
		now = now.Add(time.Minute)
	}

	st, err := m.State(ctx, "user-1", calendar)
	if err != nil {
		t.Fatalf("State ошибка: %v", err)
	}
	if st.State != model.BreakerOpen || st.FailureCount != 7 {
		t.Errorf("State = %s / %d, ожидается open / 7", st.State, st.FailureCount)
	}
	if st.LastFailureReason == nil || *st.LastFailureReason != "HTTP 503" {
		t.Errorf("LastFailureReason = %v", st.LastFailureReason)
	}
	if got := notifier.count(model.NotificationSyncDegraded); got != 1 {
		t.Errorf("sync_degraded = %d, ожидалось 1", got)
	}
	if notifier.sent[0].ActionLink != "https://app.example.com/settings/integrations/google_calendar" {
		t.Errorf("ActionLink = %q", notifier.sent[0].ActionLink)
	}
}

func TestBreakerManager_PeekDoesNotPersist(t *testing.T) {
	m, repo, _ := newBreakerEnv()
	repo.rows[pairKey("user-1", calendar)] = model.CircuitBreakerState{
		UserID: "user-1", IntegrationType: calendar, State: model.BreakerOpen,
		FailureCount: 5, NextRetryAt: ptr(t0), Version: 1,
	}

	d, err := m.Peek(context.Background(), "user-1", calendar, t0)
	if err != nil || d != breaker.AllowProbe {
		t.Fatalf("Peek = %s, %v, ожидается allow_probe", d, err)
	}
	st, _ := repo.Get(context.Background(), "user-1", calendar)
	if st.State != model.BreakerOpen || st.ProbeJobID != nil {
		t.Error("Peek не должен изменять сохранённое состояние")
	}
}

func TestBreakerManager_AcquireSingleProbe(t *testing.T) {
	m, repo, _ := newBreakerEnv()
	repo.rows[pairKey("user-1", calendar)] = model.CircuitBreakerState{
		UserID: "user-1", IntegrationType: calendar, State: model.BreakerOpen,
		FailureCount: 5, NextRetryAt: ptr(t0), Version: 1,
	}
	ctx := context.Background()

	d1, err := m.Acquire(ctx, "user-1", calendar, "job-1", t0)
	if err != nil || d1 != breaker.AllowProbe {
		t.Fatalf("первый Acquire = %s, %v", d1, err)
	}
	d2, err := m.Acquire(ctx, "user-1", calendar, "job-2", t0)
	if err != nil || d2 != breaker.DenyProbeInFlight {
		t.Fatalf("второй Acquire = %s, %v, ожидается deny_probe_in_flight", d2, err)
	}

	st, _ := repo.Get(ctx, "user-1", calendar)
	if st.ProbeJobID == nil || *st.ProbeJobID != "job-1" {
		t.Errorf("ProbeJobID = %v, ожидается job-1", st.ProbeJobID)
	}
}

func TestBreakerManager_ForceClose(t *testing.T) {
	m, repo, _ := newBreakerEnv()
	repo.rows[pairKey("user-1", calendar)] = model.CircuitBreakerState{
		UserID: "user-1", IntegrationType: calendar, State: model.BreakerHalfOpen,
		FailureCount: 9, ProbeJobID: ptr("job-1"), Version: 3,
	}

	if err := m.ForceClose(context.Background(), "user-1", calendar); err != nil {
		t.Fatalf("ForceClose ошибка: %v", err)
	}
	st, _ := repo.Get(context.Background(), "user-1", calendar)
	if st.State != model.BreakerClosed || st.FailureCount != 0 || st.ProbeJobID != nil {
		t.Errorf("после ForceClose: %s / %d / %v", st.State, st.FailureCount, st.ProbeJobID)
	}
}

func TestBreakerManager_ExpiredHalfOpenReleased(t *testing.T) {
	m, repo, _ := newBreakerEnv()
	repo.rows[pairKey("user-1", calendar)] = model.CircuitBreakerState{
		UserID: "user-1", IntegrationType: calendar, State: model.BreakerHalfOpen,
		FailureCount: 5, ProbeJobID: ptr("lost"), NextRetryAt: ptr(t0), Version: 2,
	}
	ctx := context.Background()

	// Срок истёк, но задержка после потерянной попытки (2m) ещё идёт
	if d, err := m.Peek(ctx, "user-1", calendar, t0.Add(time.Minute)); err != nil || d != breaker.DenyOpen {
		t.Fatalf("Peek = %s, %v; ожидается deny_open", d, err)
	}

	at := t0.Add(2 * time.Minute)
	if d, _ := m.Peek(ctx, "user-1", calendar, at); d != breaker.AllowProbe {
		t.Fatalf("Peek после задержки = %s, ожидается allow_probe", d)
	}
	d, err := m.Acquire(ctx, "user-1", calendar, "job-2", at)
	if err != nil || d != breaker.AllowProbe {
		t.Fatalf("Acquire = %s, %v", d, err)
	}

	st, _ := repo.Get(ctx, "user-1", calendar)
	if st.State != model.BreakerHalfOpen || st.ProbeJobID == nil || *st.ProbeJobID != "job-2" {
		t.Fatalf("breaker = %s / %v, ожидается half_open с job-2", st.State, st.ProbeJobID)
	}
	if st.FailureCount != 6 {
		t.Errorf("FailureCount = %d, потерянная попытка должна считаться неудачей", st.FailureCount)
	}
}

package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/syncengine/internal/domain/model"
	"github.com/bigkaa/syncengine/internal/repository"
)

// testLogger — логгер, подавляющий вывод в тестах.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

func pairKey(userID string, integration model.IntegrationType) string {
	return userID + "|" + string(integration)
}

// --- Mock ScheduleRepository ---

// memScheduleRepo — ScheduleRepository в памяти с CAS по version.
type memScheduleRepo struct {
	mu      sync.Mutex
	rows    map[string]*model.SyncSchedule
	updates int
	// beforeUpdate вызывается перед каждым Update (для имитации конкурентов).
	beforeUpdate func(s *model.SyncSchedule)
	// failNext — ошибка, которую вернёт следующий Update.
	failNext error
}

func newMemScheduleRepo() *memScheduleRepo {
	return &memScheduleRepo{rows: make(map[string]*model.SyncSchedule)}
}

func cloneSchedule(s *model.SyncSchedule) *model.SyncSchedule {
	c := *s
	if s.LastSyncAt != nil {
		c.LastSyncAt = ptr(*s.LastSyncAt)
	}
	if s.OnboardingUntil != nil {
		c.OnboardingUntil = ptr(*s.OnboardingUntil)
	}
	if s.PendingSyncType != nil {
		c.PendingSyncType = ptr(*s.PendingSyncType)
	}
	if s.ClaimedJobID != nil {
		c.ClaimedJobID = ptr(*s.ClaimedJobID)
	}
	if s.ClaimExpiresAt != nil {
		c.ClaimExpiresAt = ptr(*s.ClaimExpiresAt)
	}
	if s.LastSkipReason != nil {
		c.LastSkipReason = ptr(*s.LastSkipReason)
	}
	return &c
}

// put сохраняет расписание напрямую (подготовка теста).
func (m *memScheduleRepo) put(s *model.SyncSchedule) *model.SyncSchedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Version == 0 {
		s.Version = 1
	}
	m.rows[s.ID] = cloneSchedule(s)
	return s
}

// get возвращает копию расписания по id.
func (m *memScheduleRepo) get(id string) *model.SyncSchedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rows[id]; ok {
		return cloneSchedule(s)
	}
	return nil
}

func (m *memScheduleRepo) Create(_ context.Context, s *model.SyncSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.UserID == s.UserID && r.IntegrationType == s.IntegrationType {
			return repository.ErrConflict
		}
	}
	s.Version = 1
	m.rows[s.ID] = cloneSchedule(s)
	return nil
}

func (m *memScheduleRepo) GetByID(_ context.Context, id string) (*model.SyncSchedule, error) {
	if s := m.get(id); s != nil {
		return s, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memScheduleRepo) Get(_ context.Context, userID string, integration model.IntegrationType) (*model.SyncSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.UserID == userID && r.IntegrationType == integration {
			return cloneSchedule(r), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memScheduleRepo) sorted(filter func(s *model.SyncSchedule) bool) []*model.SyncSchedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*model.SyncSchedule
	for _, r := range m.rows {
		if filter(r) {
			result = append(result, cloneSchedule(r))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (m *memScheduleRepo) ListByUser(_ context.Context, userID string) ([]*model.SyncSchedule, error) {
	return m.sorted(func(s *model.SyncSchedule) bool { return s.UserID == userID }), nil
}

func (m *memScheduleRepo) List(_ context.Context, limit, offset int) ([]*model.SyncSchedule, error) {
	all := m.sorted(func(*model.SyncSchedule) bool { return true })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *memScheduleRepo) ListDue(_ context.Context, now time.Time, _ repository.Shard, limit int) ([]*model.SyncSchedule, error) {
	due := m.sorted(func(s *model.SyncSchedule) bool {
		return s.ClaimedJobID == nil && (!s.NextSyncAt.After(now) || s.FirstSyncPending)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memScheduleRepo) ListExpiredClaims(_ context.Context, now time.Time, _ repository.Shard, limit int) ([]*model.SyncSchedule, error) {
	expired := m.sorted(func(s *model.SyncSchedule) bool {
		return s.ClaimedJobID != nil && s.ClaimExpiresAt != nil && !s.ClaimExpiresAt.After(now)
	})
	if len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (m *memScheduleRepo) Update(_ context.Context, s *model.SyncSchedule) error {
	if m.beforeUpdate != nil {
		m.beforeUpdate(s)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	cur, ok := m.rows[s.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != s.Version {
		return repository.ErrVersionConflict
	}
	s.Version++
	m.rows[s.ID] = cloneSchedule(s)
	m.updates++
	return nil
}

func (m *memScheduleRepo) MarkPending(_ context.Context, userID string, integration model.IntegrationType, syncType model.SyncType, now time.Time) (*model.SyncSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.rows {
		if r.UserID != userID || r.IntegrationType != integration {
			continue
		}
		if now.Before(r.NextSyncAt) {
			r.NextSyncAt = now
		}
		if r.PendingSyncType == nil || *r.PendingSyncType != model.SyncTypeManual {
			r.PendingSyncType = ptr(syncType)
		}
		r.Version++
		m.rows[id] = r
		return cloneSchedule(r), nil
	}
	return nil, repository.ErrNotFound
}

func (m *memScheduleRepo) Delete(_ context.Context, userID string, integration model.IntegrationType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.rows {
		if r.UserID == userID && r.IntegrationType == integration {
			delete(m.rows, id)
			return nil
		}
	}
	return repository.ErrNotFound
}

// --- Mock BreakerRepository ---

type memBreakerRepo struct {
	mu    sync.Mutex
	rows  map[string]model.CircuitBreakerState
	saves int
	// failNext — ошибка, которую вернёт следующий Save.
	failNext error
}

func newMemBreakerRepo() *memBreakerRepo {
	return &memBreakerRepo{rows: make(map[string]model.CircuitBreakerState)}
}

func (m *memBreakerRepo) Get(_ context.Context, userID string, integration model.IntegrationType) (*model.CircuitBreakerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.rows[pairKey(userID, integration)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &st, nil
}

func (m *memBreakerRepo) Save(_ context.Context, st *model.CircuitBreakerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	key := pairKey(st.UserID, st.IntegrationType)
	cur, ok := m.rows[key]
	switch {
	case st.Version == 0 && ok:
		return repository.ErrVersionConflict
	case st.Version != 0 && (!ok || cur.Version != st.Version):
		return repository.ErrVersionConflict
	}
	st.Version++
	m.rows[key] = *st
	m.saves++
	return nil
}

func (m *memBreakerRepo) ListByState(_ context.Context, state model.BreakerState, limit int) ([]*model.CircuitBreakerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*model.CircuitBreakerState
	for _, st := range m.rows {
		if st.State == state && len(result) < limit {
			st := st
			result = append(result, &st)
		}
	}
	return result, nil
}

// --- Mock TokenHealthRepository ---

type memTokenHealthRepo struct {
	mu   sync.Mutex
	rows map[string]model.TokenHealth
	gets int
}

func newMemTokenHealthRepo() *memTokenHealthRepo {
	return &memTokenHealthRepo{rows: make(map[string]model.TokenHealth)}
}

func (m *memTokenHealthRepo) Get(_ context.Context, userID string, integration model.IntegrationType) (*model.TokenHealth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	h, ok := m.rows[pairKey(userID, integration)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &h, nil
}

func (m *memTokenHealthRepo) Upsert(_ context.Context, h *model.TokenHealth) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[pairKey(h.UserID, h.IntegrationType)] = *h
	return nil
}

func (m *memTokenHealthRepo) ListByStatus(_ context.Context, status model.TokenStatus, limit int) ([]*model.TokenHealth, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*model.TokenHealth
	for _, h := range m.rows {
		if h.Status == status && len(result) < limit {
			h := h
			result = append(result, &h)
		}
	}
	return result, nil
}

// --- Mock JobRepository ---

type memJobRepo struct {
	mu   sync.Mutex
	rows map[string]model.JobRecord
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{rows: make(map[string]model.JobRecord)}
}

func (m *memJobRepo) Create(_ context.Context, job *model.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[job.JobID]; ok {
		return repository.ErrConflict
	}
	m.rows[job.JobID] = *job
	return nil
}

func (m *memJobRepo) Get(_ context.Context, jobID string) (*model.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[jobID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &j, nil
}

func (m *memJobRepo) Complete(_ context.Context, jobID string, result model.SyncResult, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.rows[jobID]
	if !ok {
		return false, repository.ErrNotFound
	}
	if j.CompletedAt != nil {
		return false, nil
	}
	j.CompletedAt = &at
	j.Result = &result
	m.rows[jobID] = j
	return true, nil
}

// --- Mock MetricsRepository ---

type memMetricsRepo struct {
	mu   sync.Mutex
	rows []model.SyncMetric
}

func (m *memMetricsRepo) Insert(_ context.Context, metric *model.SyncMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	metric.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, *metric)
	return nil
}

func (m *memMetricsRepo) List(_ context.Context, userID string, integration model.IntegrationType, limit, offset int) ([]*model.SyncMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*model.SyncMetric
	for i := len(m.rows) - 1; i >= 0; i-- {
		r := m.rows[i]
		if r.UserID == userID && r.IntegrationType == integration {
			result = append(result, &r)
		}
	}
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *memMetricsRepo) Summary(_ context.Context, userID string, integration model.IntegrationType) (*model.MetricsSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := &model.MetricsSummary{UserID: userID, IntegrationType: integration}
	for _, r := range m.rows {
		if r.UserID != userID || r.IntegrationType != integration {
			continue
		}
		switch r.Result {
		case model.SyncResultSuccess:
			sum.Successes++
		case model.SyncResultFailure:
			sum.Failures++
		case model.SyncResultSkipped:
			sum.Skips++
		}
	}
	return sum, nil
}

// byResult возвращает записи с указанным результатом.
func (m *memMetricsRepo) byResult(result model.SyncResult) []model.SyncMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SyncMetric
	for _, r := range m.rows {
		if r.Result == result {
			out = append(out, r)
		}
	}
	return out
}

// --- Mock транзакции ---

// memTx — транзакция над репозиториями в памяти: при ошибке fn
// состояние восстанавливается из снимка.
type memTx struct {
	mu        sync.Mutex
	schedules *memScheduleRepo
	jobs      *memJobRepo
	metrics   *memMetricsRepo
	breakers  *memBreakerRepo
	commits   int
	rollbacks int
}

type memSnapshot struct {
	schedules map[string]*model.SyncSchedule
	jobs      map[string]model.JobRecord
	metrics   []model.SyncMetric
	breakers  map[string]model.CircuitBreakerState
}

func (m *memTx) InTx(_ context.Context, fn func(store repository.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	err := fn(repository.Store{
		Schedules: m.schedules,
		Jobs:      m.jobs,
		Metrics:   m.metrics,
		Breakers:  m.breakers,
	})
	if err != nil {
		m.restore(snap)
		m.rollbacks++
		return err
	}
	m.commits++
	return nil
}

func (m *memTx) snapshot() memSnapshot {
	snap := memSnapshot{
		schedules: make(map[string]*model.SyncSchedule),
		jobs:      make(map[string]model.JobRecord),
		breakers:  make(map[string]model.CircuitBreakerState),
	}
	m.schedules.mu.Lock()
	for id, r := range m.schedules.rows {
		snap.schedules[id] = cloneSchedule(r)
	}
	m.schedules.mu.Unlock()

	m.jobs.mu.Lock()
	for id, j := range m.jobs.rows {
		snap.jobs[id] = j
	}
	m.jobs.mu.Unlock()

	m.metrics.mu.Lock()
	snap.metrics = append([]model.SyncMetric(nil), m.metrics.rows...)
	m.metrics.mu.Unlock()

	m.breakers.mu.Lock()
	for k, st := range m.breakers.rows {
		snap.breakers[k] = st
	}
	m.breakers.mu.Unlock()
	return snap
}

func (m *memTx) restore(snap memSnapshot) {
	m.schedules.mu.Lock()
	m.schedules.rows = snap.schedules
	m.schedules.mu.Unlock()

	m.jobs.mu.Lock()
	m.jobs.rows = snap.jobs
	m.jobs.mu.Unlock()

	m.metrics.mu.Lock()
	m.metrics.rows = snap.metrics
	m.metrics.mu.Unlock()

	m.breakers.mu.Lock()
	m.breakers.rows = snap.breakers
	m.breakers.mu.Unlock()
}

// --- Mock WebhookRepository ---

type memWebhookRepo struct {
	mu     sync.Mutex
	subs   map[string]model.WebhookSubscription
	events []model.WebhookEvent
}

func newMemWebhookRepo() *memWebhookRepo {
	return &memWebhookRepo{subs: make(map[string]model.WebhookSubscription)}
}

func (m *memWebhookRepo) GetByChannel(_ context.Context, channelID string) (*model.WebhookSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[channelID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (m *memWebhookRepo) Get(_ context.Context, userID string, integration model.IntegrationType) (*model.WebhookSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.UserID == userID && s.IntegrationType == integration {
			return &s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memWebhookRepo) Replace(_ context.Context, sub *model.WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.subs {
		if s.UserID == sub.UserID && s.IntegrationType == sub.IntegrationType {
			delete(m.subs, id)
		}
	}
	sub.RenewalFailedAt = nil
	m.subs[sub.ChannelID] = *sub
	return nil
}

func (m *memWebhookRepo) ListExpiring(_ context.Context, before time.Time, limit int) ([]*model.WebhookSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*model.WebhookSubscription
	for _, s := range m.subs {
		if !s.ExpirationAt.After(before) && len(result) < limit {
			s := s
			result = append(result, &s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpirationAt.Before(result[j].ExpirationAt) })
	return result, nil
}

func (m *memWebhookRepo) MarkRenewalFailed(_ context.Context, channelID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[channelID]
	if !ok {
		return repository.ErrNotFound
	}
	s.RenewalFailedAt = &at
	m.subs[channelID] = s
	return nil
}

func (m *memWebhookRepo) Delete(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[channelID]; !ok {
		return repository.ErrNotFound
	}
	delete(m.subs, channelID)
	return nil
}

func (m *memWebhookRepo) RecordEvent(_ context.Context, ev *model.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, *ev)
	return nil
}

func (m *memWebhookRepo) ListEvents(_ context.Context, channelID string, limit int) ([]*model.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*model.WebhookEvent
	for i := len(m.events) - 1; i >= 0 && len(result) < limit; i-- {
		if m.events[i].ChannelID == channelID {
			ev := m.events[i]
			result = append(result, &ev)
		}
	}
	return result, nil
}

// --- Mock SuggestionRepository ---

type memSuggestionRepo struct {
	mu   sync.Mutex
	rows map[string]model.Suggestion
}

func newMemSuggestionRepo() *memSuggestionRepo {
	return &memSuggestionRepo{rows: make(map[string]model.Suggestion)}
}

func cloneSuggestion(s model.Suggestion) *model.Suggestion {
	s.ContactIDs = append([]string(nil), s.ContactIDs...)
	if s.SnoozedUntil != nil {
		s.SnoozedUntil = ptr(*s.SnoozedUntil)
	}
	return &s
}

func (m *memSuggestionRepo) ReplacePending(_ context.Context, userID string, suggestions []*model.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.rows {
		if s.UserID == userID && s.Status == model.SuggestionPending {
			delete(m.rows, id)
		}
	}
	for _, s := range suggestions {
		s.Version = 1
		m.rows[s.ID] = *cloneSuggestion(*s)
	}
	return nil
}

func (m *memSuggestionRepo) GetByID(_ context.Context, id string) (*model.Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneSuggestion(s), nil
}

func (m *memSuggestionRepo) List(_ context.Context, userID string, status *model.SuggestionStatus, limit, offset int) ([]*model.Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*model.Suggestion
	for _, s := range m.rows {
		if s.UserID == userID && (status == nil || s.Status == *status) {
			result = append(result, cloneSuggestion(s))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Priority > result[j].Priority })
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *memSuggestionRepo) Update(_ context.Context, s *model.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[s.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.Version != s.Version {
		return repository.ErrVersionConflict
	}
	s.Version++
	m.rows[s.ID] = *cloneSuggestion(*s)
	return nil
}

func (m *memSuggestionRepo) SnoozedContacts(_ context.Context, userID string, now time.Time) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]bool)
	for _, s := range m.rows {
		if s.UserID == userID && s.Status == model.SuggestionSnoozed && s.SnoozedUntil != nil && s.SnoozedUntil.After(now) {
			for _, id := range s.ContactIDs {
				result[id] = true
			}
		}
	}
	return result, nil
}

func (m *memSuggestionRepo) ResurfaceSnoozed(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.rows {
		if s.Status == model.SuggestionSnoozed && s.SnoozedUntil != nil && !s.SnoozedUntil.After(now) {
			s.Status = model.SuggestionPending
			s.SnoozedUntil = nil
			s.Version++
			m.rows[id] = s
			n++
		}
	}
	return n, nil
}

// --- Mock SnapshotRepository ---

type memSnapshotRepo struct {
	snaps map[string]*model.Snapshot
}

func (m *memSnapshotRepo) Load(_ context.Context, userID string, _ time.Time) (*model.Snapshot, error) {
	if s, ok := m.snaps[userID]; ok {
		return s, nil
	}
	return &model.Snapshot{UserID: userID}, nil
}

func (m *memSnapshotRepo) ListUserIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(m.snaps))
	for id := range m.snaps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// --- Mock внешних границ ---

// mockNotifier — запоминает отправленные уведомления.
type mockNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
	err  error
}

func (m *mockNotifier) Notify(_ context.Context, n model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, n)
	return nil
}

func (m *mockNotifier) count(kind model.NotificationKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// mockIntrospector — интроспекция через функцию.
type mockIntrospector struct {
	fn func(userID string, integration model.IntegrationType) (*model.Introspection, error)
}

func (m *mockIntrospector) Introspect(_ context.Context, userID string, integration model.IntegrationType) (*model.Introspection, error) {
	return m.fn(userID, integration)
}

// mockDispatcher — запоминает выданные задания.
type mockDispatcher struct {
	mu   sync.Mutex
	jobs []model.SyncJob
	err  error
}

func (m *mockDispatcher) Dispatch(_ context.Context, job model.SyncJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *mockDispatcher) dispatched() []model.SyncJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SyncJob(nil), m.jobs...)
}

// mockChannelProvider — push-каналы через функции.
type mockChannelProvider struct {
	watchFn func(req WatchRequest) (*model.Channel, error)
	stopped []string
}

func (m *mockChannelProvider) Watch(_ context.Context, req WatchRequest) (*model.Channel, error) {
	if m.watchFn != nil {
		return m.watchFn(req)
	}
	return &model.Channel{
		ChannelID:  req.ChannelID,
		ResourceID: "res-" + req.UserID,
		Expiration: time.Now().Add(req.TTL),
	}, nil
}

func (m *mockChannelProvider) Stop(_ context.Context, sub *model.WebhookSubscription) error {
	m.stopped = append(m.stopped, sub.ChannelID)
	return nil
}

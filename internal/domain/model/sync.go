// Пакет model — доменные модели Sync Engine.
package model

import (
	"fmt"
	"time"
)

// IntegrationType — тип внешней интеграции пользователя.
type IntegrationType string

const (
	IntegrationGoogleCalendar IntegrationType = "google_calendar"
	IntegrationGoogleContacts IntegrationType = "google_contacts"
)

// ParseIntegrationType проверяет строку и возвращает IntegrationType.
func ParseIntegrationType(s string) (IntegrationType, error) {
	switch t := IntegrationType(s); t {
	case IntegrationGoogleCalendar, IntegrationGoogleContacts:
		return t, nil
	default:
		return "", fmt.Errorf("недопустимый тип интеграции: %q, допустимые: google_calendar, google_contacts", s)
	}
}

// SupportsPush — поддерживает ли провайдер push-уведомления об изменениях.
// Google People API push не поддерживает, контакты синхронизируются только опросом.
func (t IntegrationType) SupportsPush() bool {
	return t == IntegrationGoogleCalendar
}

// SyncType — вид sync-задания.
type SyncType string

const (
	SyncTypeFull             SyncType = "full"
	SyncTypeIncremental      SyncType = "incremental"
	SyncTypeWebhookTriggered SyncType = "webhook_triggered"
	SyncTypeManual           SyncType = "manual"
)

// IsValid проверяет, что SyncType — одно из допустимых значений.
func (s SyncType) IsValid() bool {
	switch s {
	case SyncTypeFull, SyncTypeIncremental, SyncTypeWebhookTriggered, SyncTypeManual:
		return true
	default:
		return false
	}
}

// SyncResult — итог попытки синхронизации в журнале метрик.
type SyncResult string

const (
	SyncResultSuccess SyncResult = "success"
	SyncResultFailure SyncResult = "failure"
	SyncResultSkipped SyncResult = "skipped"
)

// SkipReason — причина пропуска синхронизации планировщиком.
type SkipReason string

const (
	SkipReasonInvalidToken    SkipReason = "invalid_token"
	SkipReasonCircuitOpen     SkipReason = "circuit_breaker_open"
	SkipReasonCircuitHalfOpen SkipReason = "circuit_breaker_half_open"
)

// SyncSchedule — расписание синхронизации пары (пользователь, интеграция).
// Строка таблицы sync_schedule одновременно служит блокировкой:
// пока ClaimedJobID задан и аренда не истекла, новое задание не выдаётся.
type SyncSchedule struct {
	ID              string
	UserID          string
	IntegrationType IntegrationType

	CurrentFrequency time.Duration
	DefaultFrequency time.Duration
	MinFrequency     time.Duration
	MaxFrequency     time.Duration

	ConsecutiveNoChangeCount int
	LastSyncAt               *time.Time
	NextSyncAt               time.Time
	OnboardingUntil          *time.Time

	// FirstSyncPending — первая синхронизация после подключения ещё не выполнена.
	FirstSyncPending bool
	// PendingSyncType — внеочередной запрос (webhook_triggered или manual).
	PendingSyncType *SyncType
	// ClaimedJobID — задание, которое сейчас выполняется для этой пары.
	ClaimedJobID *string
	// ClaimExpiresAt — момент, после которого задание считается зависшим.
	ClaimExpiresAt *time.Time
	// LastSkipReason — последняя причина пропуска (для дедупликации метрик).
	LastSkipReason *SkipReason

	// Version — версия строки для оптимистичной блокировки.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InOnboarding — действует ли период onboarding в момент now.
func (s *SyncSchedule) InOnboarding(now time.Time) bool {
	return s.OnboardingUntil != nil && now.Before(*s.OnboardingUntil)
}

// IsClaimed — выполняется ли для расписания задание с неистёкшей арендой.
func (s *SyncSchedule) IsClaimed(now time.Time) bool {
	return s.ClaimedJobID != nil && s.ClaimExpiresAt != nil && now.Before(*s.ClaimExpiresAt)
}

// SyncJob — задание синхронизации, переданное исполнителю.
type SyncJob struct {
	// JobID — ключ идемпотентности задания.
	JobID           string          `json:"idempotencyKey"`
	UserID          string          `json:"userId"`
	IntegrationType IntegrationType `json:"integrationType"`
	SyncType        SyncType        `json:"syncType"`
	DispatchedAt    time.Time       `json:"dispatchedAt"`
	DeadlineAt      time.Time       `json:"deadlineAt"`
	// Probe — пробная попытка в состоянии half_open.
	Probe bool `json:"probe,omitempty"`
}

// JobOutcome — результат выполнения задания, сообщённый исполнителем.
type JobOutcome struct {
	JobID          string     `json:"idempotencyKey"`
	Result         SyncResult `json:"result"`
	ItemsProcessed int        `json:"itemsProcessed"`
	APICallsMade   int        `json:"apiCallsMade"`
	APICallsSaved  int        `json:"apiCallsSaved"`
	HadChanges     bool       `json:"hadChanges"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	DurationMs     int64      `json:"durationMs"`
}

// Validate проверяет результат задания.
func (o *JobOutcome) Validate() error {
	if o.JobID == "" {
		return fmt.Errorf("idempotencyKey обязателен")
	}
	if o.Result != SyncResultSuccess && o.Result != SyncResultFailure {
		return fmt.Errorf("недопустимый result %q, допустимые: success, failure", o.Result)
	}
	if o.ItemsProcessed < 0 || o.APICallsMade < 0 || o.APICallsSaved < 0 || o.DurationMs < 0 {
		return fmt.Errorf("счётчики не могут быть отрицательными")
	}
	return nil
}

// JobRecord — запись журнала выданных заданий (sync_jobs).
type JobRecord struct {
	JobID           string
	ScheduleID      string
	UserID          string
	IntegrationType IntegrationType
	SyncType        SyncType
	Probe           bool
	DispatchedAt    time.Time
	DeadlineAt      time.Time
	CompletedAt     *time.Time
	Result          *SyncResult
}

// SyncMetric — неизменяемая запись журнала метрик синхронизации.
type SyncMetric struct {
	ID              int64
	JobID           *string
	UserID          string
	IntegrationType IntegrationType
	SyncType        SyncType
	Result          SyncResult
	SkipReason      *SkipReason
	DurationMs      int64
	ItemsProcessed  int
	APICallsMade    int
	APICallsSaved   int
	ErrorMessage    *string
	CreatedAt       time.Time
}

// MetricsSummary — агрегат журнала метрик для пары (пользователь, интеграция).
type MetricsSummary struct {
	UserID          string
	IntegrationType IntegrationType
	Successes       int
	Failures        int
	Skips           int
	ItemsProcessed  int64
	APICallsMade    int64
	APICallsSaved   int64
	AvgDurationMs   float64
	LastSuccessAt   *time.Time
}

// TickResult — итог одного тика планировщика.
type TickResult struct {
	Due        int
	Dispatched int
	Skipped    int
	Reaped     int
	Conflicts  int
	Errors     int
}

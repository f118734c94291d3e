// dto.go — JSON-представления ответов API и маппинг из доменных моделей.
package handlers

import (
	"time"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

// ScheduleResponse — расписание синхронизации. Частоты в секундах.
type ScheduleResponse struct {
	ID                       string     `json:"id"`
	IntegrationType          string     `json:"integrationType"`
	CurrentFrequencySeconds  int64      `json:"currentFrequencySeconds"`
	DefaultFrequencySeconds  int64      `json:"defaultFrequencySeconds"`
	MinFrequencySeconds      int64      `json:"minFrequencySeconds"`
	MaxFrequencySeconds      int64      `json:"maxFrequencySeconds"`
	ConsecutiveNoChangeCount int        `json:"consecutiveNoChangeCount"`
	LastSyncAt               *time.Time `json:"lastSyncAt,omitempty"`
	NextSyncAt               time.Time  `json:"nextSyncAt"`
	OnboardingUntil          *time.Time `json:"onboardingUntil,omitempty"`
	PendingSyncType          *string    `json:"pendingSyncType,omitempty"`
	LastSkipReason           *string    `json:"lastSkipReason,omitempty"`
	InProgress               bool       `json:"inProgress"`
}

// TokenHealthResponse — состояние токена интеграции.
type TokenHealthResponse struct {
	Status        string     `json:"status"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
	ExpiryDate    *time.Time `json:"expiryDate,omitempty"`
	ErrorMessage  *string    `json:"errorMessage,omitempty"`
}

// BreakerResponse — состояние circuit breaker.
type BreakerResponse struct {
	State             string     `json:"state"`
	FailureCount      int        `json:"failureCount"`
	LastFailureAt     *time.Time `json:"lastFailureAt,omitempty"`
	LastFailureReason *string    `json:"lastFailureReason,omitempty"`
	OpenedAt          *time.Time `json:"openedAt,omitempty"`
	NextRetryAt       *time.Time `json:"nextRetryAt,omitempty"`
}

// WebhookResponse — активная push-подписка.
type WebhookResponse struct {
	ChannelID       string     `json:"channelId"`
	ExpirationAt    time.Time  `json:"expirationAt"`
	RenewalFailedAt *time.Time `json:"renewalFailedAt,omitempty"`
}

// IntegrationHealthResponse — сводка состояния интеграции.
type IntegrationHealthResponse struct {
	IntegrationType string               `json:"integrationType"`
	Schedule        ScheduleResponse     `json:"schedule"`
	Token           *TokenHealthResponse `json:"token,omitempty"`
	Breaker         *BreakerResponse     `json:"breaker,omitempty"`
	Webhook         *WebhookResponse     `json:"webhook,omitempty"`
}

// IntegrationHealthListResponse — сводки всех интеграций пользователя.
type IntegrationHealthListResponse struct {
	Items []IntegrationHealthResponse `json:"items"`
}

// ReauthorizeResponse — итог повторной авторизации.
type ReauthorizeResponse struct {
	Token TokenHealthResponse `json:"token"`
	// Resumed — токен действителен, синхронизация возобновлена.
	Resumed bool `json:"resumed"`
}

// SyncMetricResponse — запись журнала метрик синхронизации.
type SyncMetricResponse struct {
	JobID          *string   `json:"jobId,omitempty"`
	SyncType       string    `json:"syncType"`
	Result         string    `json:"result"`
	SkipReason     *string   `json:"skipReason,omitempty"`
	DurationMs     int64     `json:"durationMs"`
	ItemsProcessed int       `json:"itemsProcessed"`
	APICallsMade   int       `json:"apiCallsMade"`
	APICallsSaved  int       `json:"apiCallsSaved"`
	ErrorMessage   *string   `json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// MetricsSummaryResponse — агрегаты журнала метрик.
type MetricsSummaryResponse struct {
	Successes      int        `json:"successes"`
	Failures       int        `json:"failures"`
	Skips          int        `json:"skips"`
	ItemsProcessed int64      `json:"itemsProcessed"`
	APICallsMade   int64      `json:"apiCallsMade"`
	APICallsSaved  int64      `json:"apiCallsSaved"`
	AvgDurationMs  float64    `json:"avgDurationMs"`
	LastSuccessAt  *time.Time `json:"lastSuccessAt,omitempty"`
}

// SyncMetricsResponse — страница журнала и сводка.
type SyncMetricsResponse struct {
	Items   []SyncMetricResponse   `json:"items"`
	Summary MetricsSummaryResponse `json:"summary"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// JobOutcomeResponse — итог применения результата задания.
type JobOutcomeResponse struct {
	JobID     string `json:"jobId"`
	Duplicate bool   `json:"duplicate"`
	// NextSyncAt — следующая синхронизация после пересчёта частоты.
	NextSyncAt              *time.Time `json:"nextSyncAt,omitempty"`
	CurrentFrequencySeconds *int64     `json:"currentFrequencySeconds,omitempty"`
}

// SuggestionResponse — предложение связаться с контактами.
type SuggestionResponse struct {
	ID               string               `json:"id"`
	Type             string               `json:"type"`
	ContactIDs       []string             `json:"contactIds"`
	ProposedTimeslot time.Time            `json:"proposedTimeslot"`
	TriggerType      string               `json:"triggerType"`
	Reasoning        string               `json:"reasoning"`
	Status           string               `json:"status"`
	Priority         float64              `json:"priority"`
	SharedContext    *model.SharedContext `json:"sharedContext,omitempty"`
	SnoozedUntil     *time.Time           `json:"snoozedUntil,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

// SuggestionListResponse — страница предложений.
type SuggestionListResponse struct {
	Items  []SuggestionResponse `json:"items"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

func mapSchedule(s *model.SyncSchedule, now time.Time) ScheduleResponse {
	resp := ScheduleResponse{
		ID:                       s.ID,
		IntegrationType:          string(s.IntegrationType),
		CurrentFrequencySeconds:  int64(s.CurrentFrequency / time.Second),
		DefaultFrequencySeconds:  int64(s.DefaultFrequency / time.Second),
		MinFrequencySeconds:      int64(s.MinFrequency / time.Second),
		MaxFrequencySeconds:      int64(s.MaxFrequency / time.Second),
		ConsecutiveNoChangeCount: s.ConsecutiveNoChangeCount,
		LastSyncAt:               s.LastSyncAt,
		NextSyncAt:               s.NextSyncAt,
		OnboardingUntil:          s.OnboardingUntil,
		InProgress:               s.IsClaimed(now),
	}
	if s.PendingSyncType != nil {
		v := string(*s.PendingSyncType)
		resp.PendingSyncType = &v
	}
	if s.LastSkipReason != nil {
		v := string(*s.LastSkipReason)
		resp.LastSkipReason = &v
	}
	return resp
}

func mapTokenHealth(t *model.TokenHealth) TokenHealthResponse {
	resp := TokenHealthResponse{
		Status:       string(t.Status),
		ExpiryDate:   t.ExpiryDate,
		ErrorMessage: t.ErrorMessage,
	}
	// Статус без проверки (unknown) не имеет времени проверки
	if !t.LastCheckedAt.IsZero() {
		checked := t.LastCheckedAt
		resp.LastCheckedAt = &checked
	}
	return resp
}

func mapBreaker(b *model.CircuitBreakerState) BreakerResponse {
	return BreakerResponse{
		State:             string(b.State),
		FailureCount:      b.FailureCount,
		LastFailureAt:     b.LastFailureAt,
		LastFailureReason: b.LastFailureReason,
		OpenedAt:          b.OpenedAt,
		NextRetryAt:       b.NextRetryAt,
	}
}

func mapIntegrationHealth(h *model.IntegrationHealth, now time.Time) IntegrationHealthResponse {
	resp := IntegrationHealthResponse{
		IntegrationType: string(h.Schedule.IntegrationType),
		Schedule:        mapSchedule(h.Schedule, now),
	}
	if h.Token != nil {
		t := mapTokenHealth(h.Token)
		resp.Token = &t
	}
	if h.Breaker != nil {
		b := mapBreaker(h.Breaker)
		resp.Breaker = &b
	}
	if h.Webhook != nil {
		resp.Webhook = &WebhookResponse{
			ChannelID:       h.Webhook.ChannelID,
			ExpirationAt:    h.Webhook.ExpirationAt,
			RenewalFailedAt: h.Webhook.RenewalFailedAt,
		}
	}
	return resp
}

func mapSyncMetric(m *model.SyncMetric) SyncMetricResponse {
	resp := SyncMetricResponse{
		JobID:          m.JobID,
		SyncType:       string(m.SyncType),
		Result:         string(m.Result),
		DurationMs:     m.DurationMs,
		ItemsProcessed: m.ItemsProcessed,
		APICallsMade:   m.APICallsMade,
		APICallsSaved:  m.APICallsSaved,
		ErrorMessage:   m.ErrorMessage,
		CreatedAt:      m.CreatedAt,
	}
	if m.SkipReason != nil {
		v := string(*m.SkipReason)
		resp.SkipReason = &v
	}
	return resp
}

func mapMetricsSummary(s *model.MetricsSummary) MetricsSummaryResponse {
	return MetricsSummaryResponse{
		Successes:      s.Successes,
		Failures:       s.Failures,
		Skips:          s.Skips,
		ItemsProcessed: s.ItemsProcessed,
		APICallsMade:   s.APICallsMade,
		APICallsSaved:  s.APICallsSaved,
		AvgDurationMs:  s.AvgDurationMs,
		LastSuccessAt:  s.LastSuccessAt,
	}
}

func mapSuggestion(s *model.Suggestion) SuggestionResponse {
	contacts := s.ContactIDs
	if contacts == nil {
		contacts = []string{}
	}
	return SuggestionResponse{
		ID:               s.ID,
		Type:             string(s.Type),
		ContactIDs:       contacts,
		ProposedTimeslot: s.ProposedTimeslot,
		TriggerType:      string(s.TriggerType),
		Reasoning:        s.Reasoning,
		Status:           string(s.Status),
		Priority:         s.Priority,
		SharedContext:    s.SharedContext,
		SnoozedUntil:     s.SnoozedUntil,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func mapSuggestions(list []*model.Suggestion) []SuggestionResponse {
	items := make([]SuggestionResponse, len(list))
	for i, s := range list {
		items[i] = mapSuggestion(s)
	}
	return items
}

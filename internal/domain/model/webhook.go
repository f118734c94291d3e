package model

import "time"

// ResourceState — значение X-Goog-Resource-State push-уведомления.
type ResourceState string

const (
	// ResourceStateSync — handshake при создании канала, изменений нет.
	ResourceStateSync      ResourceState = "sync"
	ResourceStateExists    ResourceState = "exists"
	ResourceStateNotExists ResourceState = "not_exists"
)

// WebhookResult — итог обработки push-уведомления.
type WebhookResult string

const (
	WebhookResultSuccess WebhookResult = "success"
	WebhookResultFailure WebhookResult = "failure"
	WebhookResultIgnored WebhookResult = "ignored"
)

// WebhookSubscription — активная push-подписка календаря пользователя.
type WebhookSubscription struct {
	ChannelID         string
	UserID            string
	IntegrationType   IntegrationType
	ResourceID        string
	ResourceURI       string
	ExpirationAt      time.Time
	VerificationToken string
	RenewalFailedAt   *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Expired — истекла ли подписка в момент now.
func (s *WebhookSubscription) Expired(now time.Time) bool {
	return !now.Before(s.ExpirationAt)
}

// WebhookNotification — входящее push-уведомление.
type WebhookNotification struct {
	ChannelID     string
	ResourceID    string
	ResourceState ResourceState
	Token         string
	MessageNumber string
}

// WebhookEvent — запись журнала webhook_events.
type WebhookEvent struct {
	ID            int64
	ChannelID     string
	UserID        *string
	ResourceState ResourceState
	Result        WebhookResult
	Reason        string
	ReceivedAt    time.Time
}

// Channel — канал, созданный у провайдера.
type Channel struct {
	ChannelID   string
	ResourceID  string
	ResourceURI string
	Expiration  time.Time
}

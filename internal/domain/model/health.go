package model

import "time"

// TokenStatus — состояние OAuth-токена интеграции.
type TokenStatus string

const (
	TokenStatusValid        TokenStatus = "valid"
	TokenStatusExpiringSoon TokenStatus = "expiring_soon"
	TokenStatusExpired      TokenStatus = "expired"
	TokenStatusRevoked      TokenStatus = "revoked"
	TokenStatusUnknown      TokenStatus = "unknown"
)

// BlocksSync — запрещает ли состояние токена синхронизацию.
func (s TokenStatus) BlocksSync() bool {
	return s == TokenStatusExpired || s == TokenStatusRevoked
}

// TokenHealth — последнее известное состояние токена пары (пользователь, интеграция).
type TokenHealth struct {
	UserID          string
	IntegrationType IntegrationType
	Status          TokenStatus
	LastCheckedAt   time.Time
	ExpiryDate      *time.Time
	ErrorMessage    *string
	// NotifiedStatus — статус, о котором пользователь уже уведомлён.
	NotifiedStatus *TokenStatus
	UpdatedAt      time.Time
}

// Introspection — ответ интроспекции токена.
type Introspection struct {
	Valid      bool
	Revoked    bool
	ExpiryDate *time.Time
}

// StoredToken — OAuth-токен интеграции из хранилища CRUD-сервиса.
type StoredToken struct {
	UserID          string
	IntegrationType IntegrationType
	AccessToken     string
	RefreshToken    string
	TokenType       string
	Expiry          *time.Time
	RevokedAt       *time.Time
}

// BreakerState — состояние circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreakerState — сохранённое состояние breaker пары (пользователь, интеграция).
// Отсутствие строки в БД эквивалентно closed с нулевым счётчиком.
type CircuitBreakerState struct {
	UserID            string
	IntegrationType   IntegrationType
	State             BreakerState
	FailureCount      int
	LastFailureAt     *time.Time
	LastFailureReason *string
	OpenedAt          *time.Time
	NextRetryAt       *time.Time
	// ProbeJobID — пробное задание, выданное в half_open.
	ProbeJobID *string
	Version    int64
	UpdatedAt  time.Time
}

// NewClosedBreaker возвращает начальное состояние breaker.
func NewClosedBreaker(userID string, integration IntegrationType) *CircuitBreakerState {
	return &CircuitBreakerState{
		UserID:          userID,
		IntegrationType: integration,
		State:           BreakerClosed,
	}
}

// IntegrationHealth — сводка состояния интеграции для API.
type IntegrationHealth struct {
	Schedule *SyncSchedule
	Token    *TokenHealth
	Breaker  *CircuitBreakerState
	Webhook  *WebhookSubscription
}

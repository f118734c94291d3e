package model

// NotificationKind — вид уведомления пользователю.
type NotificationKind string

const (
	NotificationTokenInvalid      NotificationKind = "token_invalid"
	NotificationTokenExpiringSoon NotificationKind = "token_expiring_soon"
	NotificationSyncDegraded      NotificationKind = "sync_degraded"
)

// Notification — уведомление, передаваемое во внешнюю систему доставки.
type Notification struct {
	UserID          string           `json:"userId"`
	IntegrationType IntegrationType  `json:"integrationType"`
	Kind            NotificationKind `json:"kind"`
	Message         string           `json:"message"`
	ActionLink      string           `json:"actionLink"`
}

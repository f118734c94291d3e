package notify

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/bigkaa/syncengine/internal/domain/model"
)

// DeviceTokenStore — FCM-токены устройств пользователя
// (repository.TokenStoreRepository).
type DeviceTokenStore interface {
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
}

// MulticastSender — отправка одного сообщения на несколько устройств
// (*messaging.Client).
type MulticastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// titles — заголовки push-уведомлений по видам.
var titles = map[model.NotificationKind]string{
	model.NotificationTokenInvalid:      "Требуется повторная авторизация",
	model.NotificationTokenExpiringSoon: "Доступ скоро истечёт",
	model.NotificationSyncDegraded:      "Синхронизация приостановлена",
}

// FCMNotifier — push-уведомления на устройства пользователя.
type FCMNotifier struct {
	sender MulticastSender
	tokens DeviceTokenStore
	logger *slog.Logger
}

// NewFCMClient создаёт клиент Firebase Cloud Messaging.
// credentialsFile — ключ сервисного аккаунта (пустой — Application Default Credentials).
func NewFCMClient(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("инициализация Firebase: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение клиента FCM: %w", err)
	}
	return client, nil
}

// NewFCMNotifier создаёт FCM-notifier.
func NewFCMNotifier(sender MulticastSender, tokens DeviceTokenStore, logger *slog.Logger) *FCMNotifier {
	return &FCMNotifier{
		sender: sender,
		tokens: tokens,
		logger: logger.With(slog.String("component", "notify_fcm")),
	}
}

// Notify отправляет уведомление на все устройства пользователя.
// Уведомление считается доставленным, если его принято хотя бы одно
// устройство. Пользователь без устройств — ошибка: уведомление будет
// повторено при следующей смене статуса.
func (f *FCMNotifier) Notify(ctx context.Context, n model.Notification) (err error) {
	defer func() { observe("fcm", n, err) }()

	tokens, err := f.tokens.DeviceTokens(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("получение токенов устройств: %w", err)
	}
	if len(tokens) == 0 {
		return fmt.Errorf("у пользователя %s нет зарегистрированных устройств", n.UserID)
	}

	title := titles[n.Kind]
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  n.Message,
		},
		Data: map[string]string{
			"kind":            string(n.Kind),
			"integrationType": string(n.IntegrationType),
			"actionLink":      n.ActionLink,
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: title,
				Body:  n.Message,
			},
			FCMOptions: &messaging.WebpushFCMOptions{Link: n.ActionLink},
		},
	}

	resp, err := f.sender.SendEachForMulticast(ctx, msg)
	if err != nil {
		return fmt.Errorf("отправка FCM: %w", err)
	}
	if resp.FailureCount > 0 {
		f.logger.Warn("Часть устройств не получила уведомление",
			slog.String("user_id", n.UserID),
			slog.Int("success", resp.SuccessCount),
			slog.Int("failure", resp.FailureCount),
		)
	}
	if resp.SuccessCount == 0 {
		return fmt.Errorf("уведомление не доставлено ни на одно из %d устройств", len(tokens))
	}
	return nil
}

// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс или конкурентное изменение).
	ErrConflict = errors.New("конфликт — ресурс изменён или уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrInvalidTransition — недопустимый переход статуса.
	ErrInvalidTransition = errors.New("недопустимый переход статуса")
	// ErrPushUnsupported — интеграция не поддерживает push-уведомления.
	ErrPushUnsupported = errors.New("интеграция не поддерживает push-уведомления")
	// ErrWebhookDisabled — приёмник push-уведомлений не настроен.
	ErrWebhookDisabled = errors.New("приёмник push-уведомлений не настроен (ASE_WEBHOOK_ADDRESS)")
	// ErrDispatchUnavailable — исполнитель временно не принимает задания.
	// Не считается неудачей провайдера.
	ErrDispatchUnavailable = errors.New("исполнитель не принимает задания")
)

// maxCASRetries — число попыток оптимистичного обновления строки.
const maxCASRetries = 5

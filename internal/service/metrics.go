// metrics.go — Prometheus-метрики сервисного слоя.
package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ase_tick_duration_seconds",
		Help:    "Длительность тика планировщика",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms … ~10s
	})

	dispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ase_jobs_dispatched_total",
		Help: "Количество выданных sync-заданий",
	}, []string{"integration_type", "sync_type"})

	skippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ase_sync_skipped_total",
		Help: "Количество пропущенных синхронизаций по причинам",
	}, []string{"integration_type", "reason"})

	// Повторные пропуски в серии не пишутся в журнал sync_metrics, только сюда.
	skipsSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ase_sync_skips_suppressed_total",
		Help: "Пропуски синхронизации внутри серии с той же причиной (без записи в журнал)",
	}, []string{"integration_type", "reason"})

	dispatchRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ase_jobs_dispatch_rejected_total",
		Help: "Задания, не принятые исполнителем (очередь заполнена или пул остановлен)",
	}, []string{"integration_type"})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ase_job_outcomes_total",
		Help: "Результаты sync-заданий",
	}, []string{"integration_type", "result"})

	duplicateOutcomesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ase_duplicate_outcomes_total",
		Help: "Повторно доставленные результаты заданий (проигнорированы)",
	})

	casConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ase_cas_conflicts_total",
		Help: "Конфликты оптимистичной блокировки",
	}, []string{"entity"})

	breakerTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ase_breaker_transitions_total",
		Help: "Переходы circuit breaker",
	}, []string{"integration_type", "from", "to"})

	tokenChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ase_token_checks_total",
		Help: "Проверки состояния токенов по результату",
	}, []string{"integration_type", "status"})

	tokenCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ase_token_cache_total",
		Help: "Обращения к кэшу состояния токенов",
	}, []string{"result"}) // hit, miss

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ase_notifications_total",
		Help: "Отправленные уведомления пользователям",
	}, []string{"kind", "status"}) // status: sent, failed

	webhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ase_webhooks_total",
		Help: "Входящие push-уведомления по результату обработки",
	}, []string{"result"})

	webhookRenewalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ase_webhook_renewals_total",
		Help: "Продления push-подписок",
	}, []string{"status"}) // renewed, failed

	suggestionsGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ase_suggestions_generated_total",
		Help: "Сгенерированные предложения по типу",
	}, []string{"type"})

	suggestionRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ase_suggestion_run_duration_seconds",
		Help:    "Длительность генерации предложений для одного пользователя",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms … ~8s
	})
)

// scheduler.go — адаптивный планировщик синхронизации.
//
// Тик планировщика:
//  1. Возвращает зависшие задания (истекла аренда ASE_JOB_TIMEOUT) как неудачные.
//  2. Выбирает расписания своего шарда, которым пора синхронизироваться.
//  3. Для каждого: проверяет токен и circuit breaker, захватывает строку (CAS)
//     и передаёт задание исполнителю.
//
// Строка sync_schedule служит блокировкой: пока аренда задания не истекла,
// второе задание для пары не выдаётся. Результат задания применяется один раз
// (ключ идемпотентности — job id в sync_jobs).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/syncengine/internal/domain/breaker"
	"github.com/bigkaa/syncengine/internal/domain/frequency"
	"github.com/bigkaa/syncengine/internal/domain/model"
	"github.com/bigkaa/syncengine/internal/repository"
)

// hardTimeoutMessage — причина неудачи задания, превысившего жёсткий таймаут.
const hardTimeoutMessage = "превышен жёсткий таймаут задания"

// Dispatcher — доставка sync-задания исполнителю.
type Dispatcher interface {
	Dispatch(ctx context.Context, job model.SyncJob) error
}

// TokenMonitor — состояние токенов для планировщика.
type TokenMonitor interface {
	Status(ctx context.Context, userID string, integration model.IntegrationType) (*model.TokenHealth, error)
	CheckHealth(ctx context.Context, userID string, integration model.IntegrationType) (*model.TokenHealth, error)
}

// Bounds — частоты синхронизации типа интеграции.
type Bounds struct {
	Default time.Duration
	Min     time.Duration
	Max     time.Duration
}

// SchedulerConfig — параметры планировщика.
type SchedulerConfig struct {
	TickInterval time.Duration
	BatchSize    int
	Shard        repository.Shard
	JobTimeout   time.Duration
	Frequencies  map[model.IntegrationType]Bounds
}

// OutcomeTx — атомарное применение результата задания
// (*repository.TxRunner в production).
type OutcomeTx interface {
	InTx(ctx context.Context, fn func(store repository.Store) error) error
}

// directTx выполняет fn над репозиториями без транзакции.
type directTx struct {
	store repository.Store
}

func (d directTx) InTx(_ context.Context, fn func(store repository.Store) error) error {
	return fn(d.store)
}

// OutcomeResult — итог применения результата задания.
type OutcomeResult struct {
	Job      *model.JobRecord
	Schedule *model.SyncSchedule
	// Duplicate — результат уже был применён ранее, повторная доставка проигнорирована.
	Duplicate bool
}

// Scheduler — адаптивный планировщик синхронизации.
type Scheduler struct {
	schedules  repository.ScheduleRepository
	jobs       repository.JobRepository
	metrics    repository.MetricsRepository
	webhooks   repository.WebhookRepository
	breakers   *BreakerManager
	tokens     TokenMonitor
	dispatcher Dispatcher
	tx         OutcomeTx
	policy     frequency.Policy
	cfg        SchedulerConfig
	logger     *slog.Logger
	now        func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler создаёт планировщик.
func NewScheduler(
	schedules repository.ScheduleRepository,
	jobs repository.JobRepository,
	metrics repository.MetricsRepository,
	webhooks repository.WebhookRepository,
	breakers *BreakerManager,
	tokens TokenMonitor,
	dispatcher Dispatcher,
	policy frequency.Policy,
	cfg SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Scheduler{
		schedules:  schedules,
		jobs:       jobs,
		metrics:    metrics,
		webhooks:   webhooks,
		breakers:   breakers,
		tokens:     tokens,
		dispatcher: dispatcher,
		tx: directTx{store: repository.Store{
			Schedules: schedules,
			Jobs:      jobs,
			Metrics:   metrics,
			Breakers:  breakers.repo,
		}},
		policy: policy,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "scheduler")),
		now:    time.Now,
	}
}

// SetOutcomeTx задаёт транзакции для применения результатов заданий.
// Без него результат применяется несколькими независимыми запросами.
func (s *Scheduler) SetOutcomeTx(tx OutcomeTx) {
	s.tx = tx
}

// dueResult — итог обработки одного расписания в тике.
type dueResult int

const (
	dueDispatched dueResult = iota
	dueSkipped
	dueConflict
	dueFailed
)

// Tick выполняет один проход планировщика в момент now.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (*model.TickResult, error) {
	start := time.Now()
	defer func() { tickDuration.Observe(time.Since(start).Seconds()) }()

	res := &model.TickResult{}

	reaped, err := s.reapExpired(ctx, now)
	res.Reaped = reaped
	if err != nil {
		return res, err
	}

	due, err := s.schedules.ListDue(ctx, now, s.cfg.Shard, s.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("выборка расписаний к синхронизации: %w", err)
	}
	res.Due = len(due)

	for _, sch := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		r, err := s.processDue(ctx, sch, now)
		if err != nil {
			s.logger.Error("Ошибка обработки расписания",
				slog.String("user_id", sch.UserID),
				slog.String("integration_type", string(sch.IntegrationType)),
				slog.String("error", err.Error()),
			)
		}
		switch r {
		case dueDispatched:
			res.Dispatched++
		case dueSkipped:
			res.Skipped++
		case dueConflict:
			res.Conflicts++
		case dueFailed:
			res.Errors++
		}
	}

	return res, nil
}

// processDue проверяет ограничения и выдаёт задание для расписания.
func (s *Scheduler) processDue(ctx context.Context, sch *model.SyncSchedule, now time.Time) (dueResult, error) {
	// 1. Токен: expired/revoked блокирует синхронизацию
	h, err := s.tokens.Status(ctx, sch.UserID, sch.IntegrationType)
	if err != nil {
		// Неизвестное состояние токена синхронизацию не блокирует
		s.logger.Warn("Состояние токена недоступно",
			slog.String("user_id", sch.UserID),
			slog.String("integration_type", string(sch.IntegrationType)),
			slog.String("error", err.Error()),
		)
	}
	if h != nil && h.Status.BlocksSync() {
		return s.skip(ctx, sch, model.SkipReasonInvalidToken, now)
	}

	// 2. Circuit breaker
	decision, err := s.breakers.Peek(ctx, sch.UserID, sch.IntegrationType, now)
	if err != nil {
		return dueFailed, err
	}
	switch decision {
	case breaker.DenyOpen:
		return s.skip(ctx, sch, model.SkipReasonCircuitOpen, now)
	case breaker.DenyProbeInFlight:
		return s.skip(ctx, sch, model.SkipReasonCircuitHalfOpen, now)
	}

	// 3. Захват строки
	jobID := uuid.NewString()
	syncType := syncTypeFor(sch)
	deadline := now.Add(s.cfg.JobTimeout)

	sch.ClaimedJobID = &jobID
	sch.ClaimExpiresAt = &deadline
	sch.PendingSyncType = nil
	sch.LastSkipReason = nil
	if err := s.schedules.Update(ctx, sch); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) || errors.Is(err, repository.ErrNotFound) {
			casConflictsTotal.WithLabelValues("schedule").Inc()
			return dueConflict, nil
		}
		return dueFailed, fmt.Errorf("захват расписания: %w", err)
	}

	probe := decision == breaker.AllowProbe
	record := &model.JobRecord{
		JobID:           jobID,
		ScheduleID:      sch.ID,
		UserID:          sch.UserID,
		IntegrationType: sch.IntegrationType,
		SyncType:        syncType,
		Probe:           probe,
		DispatchedAt:    now,
		DeadlineAt:      deadline,
	}
	if err := s.jobs.Create(ctx, record); err != nil {
		// Аренда истечёт, строку освободит reaper
		return dueFailed, fmt.Errorf("регистрация задания: %w", err)
	}

	// 4. Пробная попытка закрепляется за заданием
	if probe {
		d, err := s.breakers.Acquire(ctx, sch.UserID, sch.IntegrationType, jobID, now)
		if err != nil || d != breaker.AllowProbe {
			s.abandon(ctx, sch.ID, jobID, now)
			if err != nil {
				return dueFailed, err
			}
			return dueConflict, nil
		}
	}

	// 5. Доставка исполнителю
	job := model.SyncJob{
		JobID:           jobID,
		UserID:          sch.UserID,
		IntegrationType: sch.IntegrationType,
		SyncType:        syncType,
		DispatchedAt:    now,
		DeadlineAt:      deadline,
		Probe:           probe,
	}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		if errors.Is(err, ErrDispatchUnavailable) {
			// Отказ исполнителя — не неудача провайдера; расписание вернётся в следующий тик.
			if probe {
				if rerr := s.breakers.ReleaseProbe(ctx, sch.UserID, sch.IntegrationType, jobID, now); rerr != nil {
					s.logger.Error("Ошибка освобождения пробной попытки",
						slog.String("job_id", jobID),
						slog.String("error", rerr.Error()),
					)
				}
			}
			s.abandon(ctx, sch.ID, jobID, now)
			dispatchRejectedTotal.WithLabelValues(string(sch.IntegrationType)).Inc()
			s.logger.Warn("Исполнитель не принял задание",
				slog.String("job_id", jobID),
				slog.String("user_id", sch.UserID),
				slog.String("integration_type", string(sch.IntegrationType)),
				slog.String("error", err.Error()),
			)
			return dueFailed, nil
		}

		failure := model.JobOutcome{
			JobID:        jobID,
			Result:       model.SyncResultFailure,
			ErrorMessage: "ошибка доставки задания: " + err.Error(),
		}
		if _, rerr := s.RecordOutcome(ctx, failure, now); rerr != nil {
			s.logger.Error("Ошибка применения неудачной доставки",
				slog.String("job_id", jobID),
				slog.String("error", rerr.Error()),
			)
		}
		return dueFailed, fmt.Errorf("доставка задания %s: %w", jobID, err)
	}

	dispatchedTotal.WithLabelValues(string(sch.IntegrationType), string(syncType)).Inc()
	s.logger.Debug("Задание выдано",
		slog.String("job_id", jobID),
		slog.String("user_id", sch.UserID),
		slog.String("integration_type", string(sch.IntegrationType)),
		slog.String("sync_type", string(syncType)),
		slog.Bool("probe", probe),
	)
	return dueDispatched, nil
}

// syncTypeFor выбирает вид задания. Без успешной синхронизации в прошлом
// выполняется полная, иначе — внеочередной запрос или инкрементальная.
func syncTypeFor(sch *model.SyncSchedule) model.SyncType {
	switch {
	case sch.FirstSyncPending || sch.LastSyncAt == nil:
		return model.SyncTypeFull
	case sch.PendingSyncType != nil:
		return *sch.PendingSyncType
	default:
		return model.SyncTypeIncremental
	}
}

// skip фиксирует пропуск синхронизации. Запись в журнал sync_metrics — одна
// на серию пропусков с одной причиной, каждый повтор учитывается в
// ase_sync_skips_suppressed_total; next_sync_at не меняется.
func (s *Scheduler) skip(ctx context.Context, sch *model.SyncSchedule, reason model.SkipReason, now time.Time) (dueResult, error) {
	if sch.LastSkipReason != nil && *sch.LastSkipReason == reason {
		skipsSuppressedTotal.WithLabelValues(string(sch.IntegrationType), string(reason)).Inc()
		return dueSkipped, nil
	}

	sch.LastSkipReason = &reason
	if err := s.schedules.Update(ctx, sch); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) || errors.Is(err, repository.ErrNotFound) {
			casConflictsTotal.WithLabelValues("schedule").Inc()
			return dueConflict, nil
		}
		return dueFailed, fmt.Errorf("сохранение причины пропуска: %w", err)
	}

	metric := &model.SyncMetric{
		UserID:          sch.UserID,
		IntegrationType: sch.IntegrationType,
		SyncType:        syncTypeFor(sch),
		Result:          model.SyncResultSkipped,
		SkipReason:      &reason,
		CreatedAt:       now,
	}
	if err := s.metrics.Insert(ctx, metric); err != nil {
		return dueSkipped, fmt.Errorf("запись метрики пропуска: %w", err)
	}

	skippedTotal.WithLabelValues(string(sch.IntegrationType), string(reason)).Inc()
	s.logger.Info("Синхронизация пропущена",
		slog.String("user_id", sch.UserID),
		slog.String("integration_type", string(sch.IntegrationType)),
		slog.String("reason", string(reason)),
	)
	return dueSkipped, nil
}

// RecordOutcome применяет результат задания: circuit breaker, адаптивная
// частота, журнал метрик. Все изменения сохраняются в одной транзакции,
// при ошибке задание остаётся незавершённым и повторная доставка применит
// результат заново. Повторная доставка применённого результата — no-op.
func (s *Scheduler) RecordOutcome(ctx context.Context, outcome model.JobOutcome, now time.Time) (*OutcomeResult, error) {
	if err := outcome.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var (
		res *OutcomeResult
		tr  breaker.Transition
	)
	err := s.tx.InTx(ctx, func(store repository.Store) error {
		var err error
		res, tr, err = s.applyOutcome(ctx, store, outcome, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	job := res.Job
	if res.Duplicate {
		duplicateOutcomesTotal.Inc()
		s.logger.Debug("Повторная доставка результата проигнорирована",
			slog.String("job_id", job.JobID),
		)
		return res, nil
	}

	// Уведомление — только после фиксации транзакции
	s.breakers.afterFailure(ctx, job.UserID, job.IntegrationType, tr)
	outcomesTotal.WithLabelValues(string(job.IntegrationType), string(outcome.Result)).Inc()

	attrs := []any{
		slog.String("job_id", job.JobID),
		slog.String("user_id", job.UserID),
		slog.String("integration_type", string(job.IntegrationType)),
		slog.String("result", string(outcome.Result)),
		slog.Bool("had_changes", outcome.HadChanges),
	}
	if sch := res.Schedule; sch != nil {
		attrs = append(attrs,
			slog.String("current_frequency", sch.CurrentFrequency.String()),
			slog.Time("next_sync_at", sch.NextSyncAt),
		)
	}
	if outcome.Result == model.SyncResultFailure {
		attrs = append(attrs, slog.String("error", outcome.ErrorMessage))
		s.logger.Warn("Синхронизация завершилась неудачей", attrs...)
	} else {
		s.logger.Info("Синхронизация завершена", attrs...)
	}

	return res, nil
}

// applyOutcome — изменения результата задания в рамках одной транзакции.
// Complete идёт первым: строка sync_jobs блокируется до конца транзакции,
// и конкурентная доставка того же результата увидит его завершённым.
func (s *Scheduler) applyOutcome(ctx context.Context, store repository.Store, outcome model.JobOutcome, now time.Time) (*OutcomeResult, breaker.Transition, error) {
	job, err := store.Jobs.Get(ctx, outcome.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, breaker.Transition{}, fmt.Errorf("%w: задание %s", ErrNotFound, outcome.JobID)
		}
		return nil, breaker.Transition{}, fmt.Errorf("загрузка задания: %w", err)
	}

	applied, err := store.Jobs.Complete(ctx, job.JobID, outcome.Result, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, breaker.Transition{}, fmt.Errorf("%w: задание %s", ErrNotFound, outcome.JobID)
		}
		return nil, breaker.Transition{}, fmt.Errorf("завершение задания: %w", err)
	}
	if !applied {
		return &OutcomeResult{Job: job, Duplicate: true}, breaker.Transition{}, nil
	}
	job.CompletedAt = &now
	job.Result = &outcome.Result

	breakers := s.breakers.withRepo(store.Breakers)
	var tr breaker.Transition
	if outcome.Result == model.SyncResultSuccess {
		tr, err = breakers.RecordSuccess(ctx, job.UserID, job.IntegrationType)
	} else {
		reason := outcome.ErrorMessage
		if reason == "" {
			reason = "исполнитель сообщил о неудаче"
		}
		tr, err = breakers.recordFailure(ctx, job.UserID, job.IntegrationType, reason, now)
	}
	if err != nil {
		return nil, tr, fmt.Errorf("обновление circuit breaker: %w", err)
	}

	sch, err := s.applyToSchedule(ctx, store.Schedules, job, outcome, now)
	if err != nil {
		return nil, tr, err
	}

	if err := store.Metrics.Insert(ctx, outcomeMetric(job, outcome, now)); err != nil {
		return nil, tr, fmt.Errorf("запись метрики синхронизации: %w", err)
	}

	return &OutcomeResult{Job: job, Schedule: sch}, tr, nil
}

// applyToSchedule пересчитывает частоту и освобождает строку расписания.
// Push-уведомление, пришедшее во время выполнения задания, сохраняется:
// next_sync_at не позже момента, запрошенного уведомлением.
func (s *Scheduler) applyToSchedule(ctx context.Context, schedules repository.ScheduleRepository, job *model.JobRecord, outcome model.JobOutcome, now time.Time) (*model.SyncSchedule, error) {
	var freq frequency.Outcome
	switch {
	case outcome.Result == model.SyncResultFailure:
		freq = frequency.OutcomeFailure
	case outcome.HadChanges:
		freq = frequency.OutcomeChanged
	default:
		freq = frequency.OutcomeNoChange
	}

	for attempt := 0; attempt < maxCASRetries; attempt++ {
		sch, err := schedules.GetByID(ctx, job.ScheduleID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// Интеграция отключена во время выполнения задания
				return nil, nil
			}
			return nil, fmt.Errorf("загрузка расписания: %w", err)
		}

		pending := sch.PendingSyncType != nil
		pendingNext := sch.NextSyncAt

		s.policy.Apply(sch, freq, now)
		sch.FirstSyncPending = false
		if sch.ClaimedJobID != nil && *sch.ClaimedJobID == job.JobID {
			sch.ClaimedJobID = nil
			sch.ClaimExpiresAt = nil
		}
		if pending && pendingNext.Before(sch.NextSyncAt) {
			sch.NextSyncAt = pendingNext
		}

		err = schedules.Update(ctx, sch)
		if err == nil {
			return sch, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("сохранение расписания: %w", err)
		}
		casConflictsTotal.WithLabelValues("schedule").Inc()
	}
	return nil, fmt.Errorf("%w: расписание %s", ErrConflict, job.ScheduleID)
}

// outcomeMetric — запись журнала метрик для результата задания.
func outcomeMetric(job *model.JobRecord, outcome model.JobOutcome, now time.Time) *model.SyncMetric {
	durationMs := outcome.DurationMs
	if durationMs == 0 {
		durationMs = now.Sub(job.DispatchedAt).Milliseconds()
	}
	jobID := job.JobID
	m := &model.SyncMetric{
		JobID:           &jobID,
		UserID:          job.UserID,
		IntegrationType: job.IntegrationType,
		SyncType:        job.SyncType,
		Result:          outcome.Result,
		DurationMs:      durationMs,
		ItemsProcessed:  outcome.ItemsProcessed,
		APICallsMade:    outcome.APICallsMade,
		APICallsSaved:   outcome.APICallsSaved,
		CreatedAt:       now,
	}
	if outcome.ErrorMessage != "" {
		msg := outcome.ErrorMessage
		m.ErrorMessage = &msg
	}
	return m
}

// reapExpired завершает неудачей задания, превысившие жёсткий таймаут.
func (s *Scheduler) reapExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.schedules.ListExpiredClaims(ctx, now, s.cfg.Shard, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("выборка зависших заданий: %w", err)
	}

	reaped := 0
	for _, sch := range expired {
		if sch.ClaimedJobID == nil {
			continue
		}
		jobID := *sch.ClaimedJobID

		res, err := s.RecordOutcome(ctx, model.JobOutcome{
			JobID:        jobID,
			Result:       model.SyncResultFailure,
			ErrorMessage: hardTimeoutMessage,
		}, now)
		switch {
		case errors.Is(err, ErrNotFound):
			// Задание не было зарегистрировано
			s.releaseClaim(ctx, sch.ID, jobID)
		case err != nil:
			s.logger.Error("Ошибка завершения зависшего задания",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			continue
		case res.Duplicate:
			// Результат уже применён, но строка осталась захваченной
			s.releaseClaim(ctx, sch.ID, jobID)
		}

		reaped++
		s.logger.Warn("Задание превысило жёсткий таймаут",
			slog.String("job_id", jobID),
			slog.String("user_id", sch.UserID),
			slog.String("integration_type", string(sch.IntegrationType)),
		)
	}
	return reaped, nil
}

// abandon закрывает невыданное задание и освобождает строку расписания.
// next_sync_at не меняется: расписание попадёт в следующий тик.
func (s *Scheduler) abandon(ctx context.Context, scheduleID, jobID string, now time.Time) {
	if _, err := s.jobs.Complete(ctx, jobID, model.SyncResultSkipped, now); err != nil {
		s.logger.Error("Ошибка закрытия невыданного задания",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
	s.releaseClaim(ctx, scheduleID, jobID)
}

// releaseClaim снимает захват строки, если он принадлежит jobID.
func (s *Scheduler) releaseClaim(ctx context.Context, scheduleID, jobID string) {
	for attempt := 0; attempt < maxCASRetries; attempt++ {
		sch, err := s.schedules.GetByID(ctx, scheduleID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				s.logger.Error("Ошибка загрузки расписания", slog.String("error", err.Error()))
			}
			return
		}
		if sch.ClaimedJobID == nil || *sch.ClaimedJobID != jobID {
			return
		}
		sch.ClaimedJobID = nil
		sch.ClaimExpiresAt = nil

		err = s.schedules.Update(ctx, sch)
		if err == nil {
			return
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			s.logger.Error("Ошибка освобождения расписания",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			return
		}
		casConflictsTotal.WithLabelValues("schedule").Inc()
	}
}

// Connect подключает интеграцию: создаёт расписание в режиме onboarding
// и сразу выдаёт первую (полную) синхронизацию. Повторное подключение
// возвращает существующее расписание. created = true для нового расписания.
func (s *Scheduler) Connect(ctx context.Context, userID string, integration model.IntegrationType, now time.Time) (*model.SyncSchedule, bool, error) {
	existing, err := s.schedules.Get(ctx, userID, integration)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("загрузка расписания: %w", err)
	}

	bounds, ok := s.cfg.Frequencies[integration]
	if !ok {
		return nil, false, fmt.Errorf("%w: частоты для интеграции %s не настроены", ErrValidation, integration)
	}

	sch := &model.SyncSchedule{
		ID:               uuid.NewString(),
		UserID:           userID,
		IntegrationType:  integration,
		DefaultFrequency: bounds.Default,
		MinFrequency:     bounds.Min,
		MaxFrequency:     bounds.Max,
	}
	s.policy.Initialize(sch, now)

	if err := s.schedules.Create(ctx, sch); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Параллельное подключение той же пары
			existing, gerr := s.schedules.Get(ctx, userID, integration)
			if gerr != nil {
				return nil, false, fmt.Errorf("загрузка расписания: %w", gerr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("создание расписания: %w", err)
	}

	s.logger.Info("Интеграция подключена",
		slog.String("user_id", userID),
		slog.String("integration_type", string(integration)),
		slog.String("onboarding_frequency", sch.CurrentFrequency.String()),
	)

	// Первая синхронизация — немедленно, минуя тик
	if _, err := s.processDue(ctx, sch, now); err != nil {
		s.logger.Warn("Первая синхронизация будет выдана следующим тиком",
			slog.String("user_id", userID),
			slog.String("integration_type", string(integration)),
			slog.String("error", err.Error()),
		)
	}

	return sch, true, nil
}

// Disconnect удаляет расписание интеграции.
func (s *Scheduler) Disconnect(ctx context.Context, userID string, integration model.IntegrationType) error {
	if err := s.schedules.Delete(ctx, userID, integration); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: интеграция %s не подключена", ErrNotFound, integration)
		}
		return fmt.Errorf("удаление расписания: %w", err)
	}
	s.logger.Info("Интеграция отключена",
		slog.String("user_id", userID),
		slog.String("integration_type", string(integration)),
	)
	return nil
}

// RequestManualSync запрашивает внеочередную синхронизацию по требованию пользователя.
func (s *Scheduler) RequestManualSync(ctx context.Context, userID string, integration model.IntegrationType, now time.Time) (*model.SyncSchedule, error) {
	sch, err := s.schedules.MarkPending(ctx, userID, integration, model.SyncTypeManual, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: интеграция %s не подключена", ErrNotFound, integration)
		}
		return nil, fmt.Errorf("запрос синхронизации: %w", err)
	}
	s.logger.Info("Запрошена ручная синхронизация",
		slog.String("user_id", userID),
		slog.String("integration_type", string(integration)),
	)
	return sch, nil
}

// Reauthorize обрабатывает повторную авторизацию: перепроверяет токен и,
// если он действителен, замыкает breaker и возвращает расписание к частоте
// по умолчанию с немедленной синхронизацией.
func (s *Scheduler) Reauthorize(ctx context.Context, userID string, integration model.IntegrationType, now time.Time) (*model.TokenHealth, error) {
	sch, err := s.schedules.Get(ctx, userID, integration)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: интеграция %s не подключена", ErrNotFound, integration)
		}
		return nil, fmt.Errorf("загрузка расписания: %w", err)
	}

	h, err := s.tokens.CheckHealth(ctx, userID, integration)
	if err != nil {
		return nil, err
	}
	if h.Status != model.TokenStatusValid && h.Status != model.TokenStatusExpiringSoon {
		s.logger.Warn("Повторная авторизация не подтверждена",
			slog.String("user_id", userID),
			slog.String("integration_type", string(integration)),
			slog.String("status", string(h.Status)),
		)
		return h, nil
	}

	if err := s.breakers.ForceClose(ctx, userID, integration); err != nil {
		return h, err
	}

	for attempt := 0; ; attempt++ {
		if attempt == maxCASRetries {
			return h, fmt.Errorf("%w: расписание %s/%s", ErrConflict, userID, integration)
		}
		s.policy.Restore(sch, now)
		sch.LastSkipReason = nil
		err = s.schedules.Update(ctx, sch)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return h, fmt.Errorf("сохранение расписания: %w", err)
		}
		casConflictsTotal.WithLabelValues("schedule").Inc()
		if sch, err = s.schedules.Get(ctx, userID, integration); err != nil {
			return h, fmt.Errorf("загрузка расписания: %w", err)
		}
	}

	s.logger.Info("Синхронизация возобновлена после повторной авторизации",
		slog.String("user_id", userID),
		slog.String("integration_type", string(integration)),
	)
	return h, nil
}

// Health возвращает сводку состояния интеграции пользователя.
func (s *Scheduler) Health(ctx context.Context, userID string, integration model.IntegrationType) (*model.IntegrationHealth, error) {
	sch, err := s.schedules.Get(ctx, userID, integration)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: интеграция %s не подключена", ErrNotFound, integration)
		}
		return nil, fmt.Errorf("загрузка расписания: %w", err)
	}
	return s.healthOf(ctx, sch)
}

// ListHealth возвращает сводки всех интеграций пользователя.
func (s *Scheduler) ListHealth(ctx context.Context, userID string) ([]*model.IntegrationHealth, error) {
	schedules, err := s.schedules.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("получение расписаний: %w", err)
	}
	result := make([]*model.IntegrationHealth, 0, len(schedules))
	for _, sch := range schedules {
		h, err := s.healthOf(ctx, sch)
		if err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, nil
}

func (s *Scheduler) healthOf(ctx context.Context, sch *model.SyncSchedule) (*model.IntegrationHealth, error) {
	token, err := s.tokens.Status(ctx, sch.UserID, sch.IntegrationType)
	if err != nil {
		return nil, err
	}
	br, err := s.breakers.State(ctx, sch.UserID, sch.IntegrationType)
	if err != nil {
		return nil, err
	}
	h := &model.IntegrationHealth{Schedule: sch, Token: token, Breaker: br}

	if s.webhooks != nil && sch.IntegrationType.SupportsPush() {
		sub, err := s.webhooks.Get(ctx, sch.UserID, sch.IntegrationType)
		switch {
		case err == nil:
			h.Webhook = sub
		case !errors.Is(err, repository.ErrNotFound):
			return nil, fmt.Errorf("загрузка подписки: %w", err)
		}
	}
	return h, nil
}

// Start запускает тики планировщика.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Планировщик запущен",
			slog.String("interval", s.cfg.TickInterval.String()),
			slog.Int("shard_index", s.cfg.Shard.Index),
			slog.Int("shard_count", s.cfg.Shard.Count),
		)

		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Планировщик остановлен")
				return
			case <-ticker.C:
				res, err := s.Tick(ctx, s.now().UTC())
				if err != nil && ctx.Err() == nil {
					s.logger.Error("Ошибка тика планировщика", slog.String("error", err.Error()))
					continue
				}
				if res != nil && (res.Dispatched > 0 || res.Reaped > 0 || res.Errors > 0) {
					s.logger.Info("Тик планировщика",
						slog.Int("due", res.Due),
						slog.Int("dispatched", res.Dispatched),
						slog.Int("skipped", res.Skipped),
						slog.Int("reaped", res.Reaped),
						slog.Int("conflicts", res.Conflicts),
						slog.Int("errors", res.Errors),
					)
				}
			}
		}
	}()
}

// Stop останавливает планировщик и ждёт завершения текущего тика.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

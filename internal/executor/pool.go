package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/syncengine/internal/domain/model"
	"github.com/bigkaa/syncengine/internal/service"
)

// ErrQueueFull — очередь пула заполнена, задание не принято.
var ErrQueueFull = fmt.Errorf("%w: очередь заданий заполнена", service.ErrDispatchUnavailable)

// ErrStopped — пул остановлен.
var ErrStopped = fmt.Errorf("%w: пул остановлен", service.ErrDispatchUnavailable)

var (
	executorRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ase_executor_runs_total",
			Help: "Количество запусков заданий HTTP-исполнителем",
		},
		[]string{"status"},
	)
	executorRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ase_executor_run_duration_seconds",
			Help:    "Длительность запроса к HTTP-исполнителю",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
	executorQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ase_executor_queue_depth",
			Help: "Количество заданий в очереди HTTP-исполнителя",
		},
	)
)

// Runner — выполнение одного задания (Client.Run).
type Runner interface {
	Run(ctx context.Context, job model.SyncJob) (*model.JobOutcome, error)
}

// OutcomeRecorder — приёмник результатов заданий (Scheduler.RecordOutcome).
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome model.JobOutcome, now time.Time) (*service.OutcomeResult, error)
}

// Pool — ограниченный пул воркеров, выполняющих задания через Runner.
// Задания, оставшиеся в очереди при остановке, не выполняются:
// их аренду освобождает жнец планировщика по жёсткому таймауту.
type Pool struct {
	runner   Runner
	recorder OutcomeRecorder
	workers  int
	queue    chan model.SyncJob
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool создаёт пул из workers воркеров с очередью queueSize заданий.
func NewPool(runner Runner, recorder OutcomeRecorder, workers, queueSize int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < workers {
		queueSize = workers
	}
	return &Pool{
		runner:   runner,
		recorder: recorder,
		workers:  workers,
		queue:    make(chan model.SyncJob, queueSize),
		logger:   logger.With(slog.String("component", "executor_pool")),
		now:      time.Now,
	}
}

// SetRecorder задаёт приёмник результатов. Вызывается до Start:
// планировщик создаётся после пула, так как пул — его Dispatcher.
func (p *Pool) SetRecorder(recorder OutcomeRecorder) {
	p.recorder = recorder
}

// Dispatch ставит задание в очередь. Не блокируется: при заполненной
// очереди возвращает ErrQueueFull, планировщик повторит задание в следующем тике.
func (p *Pool) Dispatch(_ context.Context, job model.SyncJob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.queue <- job:
		executorQueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Start запускает воркеры.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info("Пул исполнителя запущен",
		slog.Int("workers", p.workers),
		slog.Int("queue_size", cap(p.queue)),
	)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-p.queue:
					executorQueueDepth.Dec()
					p.execute(ctx, job)
				}
			}
		}()
	}
}

// Stop прекращает приём заданий и ждёт завершения выполняемых.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
	p.logger.Info("Пул исполнителя остановлен", slog.Int("dropped", len(p.queue)))
}

// execute выполняет задание с дедлайном задания и передаёт результат планировщику.
func (p *Pool) execute(ctx context.Context, job model.SyncJob) {
	runCtx := ctx
	if !job.DeadlineAt.IsZero() {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, job.DeadlineAt)
		defer cancel()
	}

	start := time.Now()
	outcome, err := p.runner.Run(runCtx, job)
	executorRunDuration.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		if ctx.Err() != nil {
			// Остановка сервиса: результат не записывается, аренду освободит жнец
			return
		}
		executorRunsTotal.WithLabelValues("error").Inc()
		p.logger.Warn("Ошибка выполнения задания исполнителем",
			slog.String("job_id", job.JobID),
			slog.String("user_id", job.UserID),
			slog.String("error", err.Error()),
		)
		outcome = &model.JobOutcome{
			JobID:        job.JobID,
			Result:       model.SyncResultFailure,
			ErrorMessage: err.Error(),
			DurationMs:   time.Since(start).Milliseconds(),
		}
	case outcome == nil:
		executorRunsTotal.WithLabelValues("accepted").Inc()
		return
	default:
		executorRunsTotal.WithLabelValues("completed").Inc()
		if outcome.DurationMs == 0 {
			outcome.DurationMs = time.Since(start).Milliseconds()
		}
	}

	if p.recorder == nil {
		return
	}
	if _, err := p.recorder.RecordOutcome(ctx, *outcome, p.now().UTC()); err != nil {
		p.logger.Error("Ошибка записи результата задания",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
	}
}

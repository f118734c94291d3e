// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrVersionConflict — запись изменена конкурентно (версия не совпала).
	ErrVersionConflict = errors.New("конфликт версий — запись изменена конкурентно")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается, при успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return runInTx(ctx, r.pool, fn)
}

// Store — репозитории результата задания, работающие через один DBTX.
type Store struct {
	Schedules ScheduleRepository
	Jobs      JobRepository
	Metrics   MetricsRepository
	Breakers  BreakerRepository
}

// NewStore создаёт репозитории поверх db (пул или транзакция).
func NewStore(db DBTX) Store {
	return Store{
		Schedules: NewScheduleRepository(db),
		Jobs:      NewJobRepository(db),
		Metrics:   NewMetricsRepository(db),
		Breakers:  NewBreakerRepository(db),
	}
}

// InTx выполняет fn над репозиториями одной транзакции.
func (r *TxRunner) InTx(ctx context.Context, fn func(s Store) error) error {
	return r.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewStore(tx))
	})
}

// beginner — источник транзакций: *pgxpool.Pool или pgx.Tx (savepoint).
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// inTx выполняет fn в транзакции, если db умеет её открыть; иначе — напрямую.
func inTx(ctx context.Context, db DBTX, fn func(q DBTX) error) error {
	b, ok := db.(beginner)
	if !ok {
		return fn(db)
	}
	return runInTx(ctx, b, func(tx pgx.Tx) error { return fn(tx) })
}

func runInTx(ctx context.Context, b beginner, fn func(tx pgx.Tx) error) error {
	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// seconds переводит длительность в целые секунды для хранения.
func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

// fromSeconds — обратное преобразование.
func fromSeconds(s int64) time.Duration {
	return time.Duration(s) * time.Second
}

// Пакет database — пул PostgreSQL Sync Engine, миграции схемы
// и проверка готовности для /health/ready.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bigkaa/syncengine/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	applicationName   = "sync-engine"
	healthCheckPeriod = 30 * time.Second
	readyTimeout      = 3 * time.Second
)

// PoolConfig собирает настройки пула из конфигурации. Соединения
// не открываются: pgxpool подключается при первом запросе.
func PoolConfig(cfg *config.Config) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConns)
	poolCfg.MinConns = int32(cfg.DBMinConns)
	poolCfg.MaxConnLifetime = cfg.DBMaxConnLifetime
	poolCfg.HealthCheckPeriod = healthCheckPeriod
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	return poolCfg, nil
}

// Connect создаёт пул подключений к PostgreSQL и проверяет его ping-ом.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("url", cfg.DatabaseURL()),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
		slog.Int("min_conns", int(poolCfg.MinConns)),
		slog.Duration("max_conn_lifetime", poolCfg.MaxConnLifetime),
	)

	return pool, nil
}

// Migrate применяет встроенные миграции схемы sync_*.
// Отсутствие новых миграций ошибкой не считается; схема в состоянии
// dirty (прерванная миграция) — ошибка, сервис не стартует.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.MigrationURL())
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("ошибка чтения версии схемы: %w", err)
	}
	if dirty {
		return fmt.Errorf("схема в состоянии dirty на версии %d, требуется ручное вмешательство", version)
	}
	logger.Info("Схема базы данных актуальна", slog.Uint64("version", uint64(version)))

	return nil
}

// ReadinessChecker — проверка готовности PostgreSQL для /health/ready.
// Пул, все соединения которого заняты, считается неготовым: результаты
// заданий в этот момент не применяются.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

// NewReadinessChecker создаёт проверку готовности PostgreSQL.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady пингует PostgreSQL. Возвращает статус ("ok", "fail") и сообщение.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), readyTimeout)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return "fail", fmt.Sprintf("PostgreSQL недоступен: %v", err)
	}
	return poolStatus(c.pool.Stat())
}

// poolStat — показатели пула, используемые проверкой готовности.
type poolStat interface {
	AcquiredConns() int32
	MaxConns() int32
}

func poolStatus(stat poolStat) (string, string) {
	acquired, maxConns := stat.AcquiredConns(), stat.MaxConns()
	if maxConns > 0 && acquired >= maxConns {
		return "fail", fmt.Sprintf("пул соединений исчерпан (%d/%d)", acquired, maxConns)
	}
	return "ok", fmt.Sprintf("подключение активно (%d/%d соединений)", acquired, maxConns)
}

// PoolCollector — Prometheus-коллектор состояния пула (ase_db_pool_*).
type PoolCollector struct {
	pool *pgxpool.Pool

	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
	max      *prometheus.Desc
	waits    *prometheus.Desc
	waitTime *prometheus.Desc
}

// NewPoolCollector создаёт коллектор; регистрирует его вызывающий.
func NewPoolCollector(pool *pgxpool.Pool) *PoolCollector {
	return &PoolCollector{
		pool:     pool,
		acquired: prometheus.NewDesc("ase_db_pool_acquired_conns", "Занятые соединения пула PostgreSQL", nil, nil),
		idle:     prometheus.NewDesc("ase_db_pool_idle_conns", "Свободные соединения пула PostgreSQL", nil, nil),
		total:    prometheus.NewDesc("ase_db_pool_total_conns", "Открытые соединения пула PostgreSQL", nil, nil),
		max:      prometheus.NewDesc("ase_db_pool_max_conns", "Максимум соединений пула PostgreSQL", nil, nil),
		waits:    prometheus.NewDesc("ase_db_pool_empty_acquire_total", "Ожидания свободного соединения", nil, nil),
		waitTime: prometheus.NewDesc("ase_db_pool_acquire_wait_seconds_total", "Суммарное время ожидания соединения", nil, nil),
	}
}

// Describe реализует prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.max
	ch <- c.waits
	ch <- c.waitTime
}

// Collect реализует prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.waits, prometheus.CounterValue, float64(s.EmptyAcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.waitTime, prometheus.CounterValue, s.EmptyAcquireWaitTime().Seconds())
}

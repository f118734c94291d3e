// Пакет config — загрузка и валидация конфигурации Sync Engine
// из переменных окружения.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Режимы доставки sync-заданий исполнителю.
const (
	DispatchModeHTTP   = "http"
	DispatchModePubSub = "pubsub"
)

// Режимы отправки уведомлений пользователю.
const (
	NotifyModeLog  = "log"
	NotifyModeHTTP = "http"
	NotifyModeFCM  = "fcm"
)

// FrequencyBounds — частоты синхронизации одного типа интеграции.
type FrequencyBounds struct {
	Default time.Duration
	Min     time.Duration
	Max     time.Duration
}

// Config содержит все параметры конфигурации Sync Engine.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Размер пула: результаты заданий применяются в транзакциях,
	// по одному соединению на одновременно обрабатываемый результат
	DBMaxConns        int
	DBMinConns        int
	DBMaxConnLifetime time.Duration

	// --- JWT ---

	// URL JWKS endpoint (пустой — JWT-аутентификация отключена)
	JWTJWKSURL string
	// Ожидаемый issuer JWT
	JWTIssuer string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// --- Планировщик ---

	// Интервал тика планировщика
	TickInterval time.Duration
	// Максимум расписаний, обрабатываемых за один тик
	TickBatchSize int
	// Количество шардов планировщика и индекс текущего экземпляра
	ShardCount int
	ShardIndex int
	// Жёсткий таймаут sync-задания (после него задание считается неудачным)
	JobTimeout time.Duration
	// Параллелизм HTTP-исполнителя заданий
	DispatchConcurrency int
	// Порог серии «без изменений», после которого частота увеличивается
	NoChangeStepThreshold int
	// Множитель увеличения интервала
	GrowthFactor float64
	// Интервал синхронизации в период onboarding
	OnboardingFrequency time.Duration
	// Длительность периода onboarding
	OnboardingWindow time.Duration
	// Частоты синхронизации по типам интеграций
	CalendarFrequency FrequencyBounds
	ContactsFrequency FrequencyBounds

	// --- Circuit breaker ---

	// Количество подряд неудач до размыкания
	BreakerThreshold int
	// Базовая задержка повтора после размыкания
	BreakerBaseBackoff time.Duration
	// Максимальная задержка повтора
	BreakerMaxBackoff time.Duration

	// --- Токены ---

	// Окно «скоро истекает»
	TokenExpiringWindow time.Duration
	// Интервал фоновой проверки токенов
	TokenCheckInterval time.Duration
	// Размер и TTL кэша состояния токенов
	TokenCacheSize int
	TokenCacheTTL  time.Duration

	// --- Google ---

	GoogleClientID        string
	GoogleClientSecret    string
	GoogleProjectID       string
	GoogleCredentialsFile string

	// --- Webhook ---

	// Публичный адрес приёмника push-уведомлений (пустой — подписки не создаются)
	WebhookAddress string
	// За сколько до истечения продлевать подписку
	WebhookRenewBefore time.Duration
	// Интервал проверки подписок на продление
	WebhookRenewInterval time.Duration
	// Запрашиваемый срок жизни канала
	WebhookChannelTTL time.Duration

	// --- Доставка заданий ---

	// Режим доставки: http, pubsub
	DispatchMode string
	// URL исполнителя заданий (для режима http)
	ExecutorURL string
	// Топик заданий и подписка на результаты (для режима pubsub)
	PubSubJobsTopic           string
	PubSubOutcomeSubscription string

	// --- Уведомления ---

	// Режим отправки: log, http, fcm
	NotifyMode string
	// URL диспетчера уведомлений (для режима http)
	NotifyURL string
	// Базовый URL ссылок на повторную авторизацию
	ActionBaseURL string

	// --- Рекомендации ---

	// Максимум предложений за один прогон
	SuggestionsPerRun int
	// Ограничение перебора кандидатов для групп
	GroupCandidateLimit int
	// Интервал фоновой генерации
	RecommendInterval time.Duration
	// Параллелизм генерации по пользователям
	RecommendConcurrency int

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
// Если в рабочем каталоге есть .env, переменные из него загружаются первыми
// (уже заданные переменные окружения не перезаписываются).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("чтение .env: %w", err)
	}

	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("ASE_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("ASE_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("ASE_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration("ASE_HTTP_READ_TIMEOUT", 15*time.Second); err != nil {
		return nil, fmt.Errorf("ASE_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("ASE_HTTP_WRITE_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("ASE_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("ASE_HTTP_IDLE_TIMEOUT", 60*time.Second); err != nil {
		return nil, fmt.Errorf("ASE_HTTP_IDLE_TIMEOUT: %w", err)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("ASE_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("ASE_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("ASE_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("ASE_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("ASE_DB_HOST"); err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("ASE_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("ASE_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("ASE_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("ASE_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("ASE_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("ASE_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("ASE_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	if cfg.DBMaxConns, err = getEnvInt("ASE_DB_MAX_CONNS", 20); err != nil {
		return nil, fmt.Errorf("ASE_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMinConns, err = getEnvInt("ASE_DB_MIN_CONNS", 2); err != nil {
		return nil, fmt.Errorf("ASE_DB_MIN_CONNS: %w", err)
	}
	if cfg.DBMaxConns < 1 || cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		return nil, fmt.Errorf("ASE_DB_MIN_CONNS/ASE_DB_MAX_CONNS: требуется 0 ≤ min (%d) ≤ max (%d), max ≥ 1", cfg.DBMinConns, cfg.DBMaxConns)
	}
	if cfg.DBMaxConnLifetime, err = getEnvDuration("ASE_DB_MAX_CONN_LIFETIME", time.Hour); err != nil {
		return nil, fmt.Errorf("ASE_DB_MAX_CONN_LIFETIME: %w", err)
	}

	// --- JWT ---

	cfg.JWTJWKSURL = getEnvDefault("ASE_JWT_JWKS_URL", "")
	cfg.JWTIssuer = getEnvDefault("ASE_JWT_ISSUER", "")
	if cfg.JWKSClientTimeout, err = getEnvDuration("ASE_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("ASE_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDuration("ASE_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("ASE_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWTLeeway, err = getEnvDuration("ASE_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("ASE_JWT_LEEWAY: %w", err)
	}

	// --- Планировщик ---

	if cfg.TickInterval, err = getEnvDuration("ASE_TICK_INTERVAL", 30*time.Second); err != nil {
		return nil, fmt.Errorf("ASE_TICK_INTERVAL: %w", err)
	}
	cfg.TickBatchSize, err = getEnvInt("ASE_TICK_BATCH_SIZE", 500)
	if err != nil {
		return nil, fmt.Errorf("ASE_TICK_BATCH_SIZE: %w", err)
	}
	if cfg.TickBatchSize < 1 || cfg.TickBatchSize > 10000 {
		return nil, fmt.Errorf("ASE_TICK_BATCH_SIZE: значение %d вне допустимого диапазона 1-10000", cfg.TickBatchSize)
	}
	if cfg.ShardCount, err = getEnvInt("ASE_SHARD_COUNT", 1); err != nil {
		return nil, fmt.Errorf("ASE_SHARD_COUNT: %w", err)
	}
	if cfg.ShardIndex, err = getEnvInt("ASE_SHARD_INDEX", 0); err != nil {
		return nil, fmt.Errorf("ASE_SHARD_INDEX: %w", err)
	}
	if cfg.ShardCount < 1 {
		return nil, fmt.Errorf("ASE_SHARD_COUNT: значение %d должно быть не меньше 1", cfg.ShardCount)
	}
	if cfg.ShardIndex < 0 || cfg.ShardIndex >= cfg.ShardCount {
		return nil, fmt.Errorf("ASE_SHARD_INDEX: значение %d вне диапазона 0-%d", cfg.ShardIndex, cfg.ShardCount-1)
	}
	if cfg.JobTimeout, err = getEnvDuration("ASE_JOB_TIMEOUT", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("ASE_JOB_TIMEOUT: %w", err)
	}
	if cfg.DispatchConcurrency, err = getEnvInt("ASE_DISPATCH_CONCURRENCY", 5); err != nil {
		return nil, fmt.Errorf("ASE_DISPATCH_CONCURRENCY: %w", err)
	}
	if cfg.DispatchConcurrency < 1 {
		return nil, fmt.Errorf("ASE_DISPATCH_CONCURRENCY: значение %d должно быть не меньше 1", cfg.DispatchConcurrency)
	}
	if cfg.NoChangeStepThreshold, err = getEnvInt("ASE_NO_CHANGE_STEP_THRESHOLD", 3); err != nil {
		return nil, fmt.Errorf("ASE_NO_CHANGE_STEP_THRESHOLD: %w", err)
	}
	if cfg.NoChangeStepThreshold < 1 {
		return nil, fmt.Errorf("ASE_NO_CHANGE_STEP_THRESHOLD: значение %d должно быть не меньше 1", cfg.NoChangeStepThreshold)
	}
	if cfg.GrowthFactor, err = getEnvFloat("ASE_GROWTH_FACTOR", 2.0); err != nil {
		return nil, fmt.Errorf("ASE_GROWTH_FACTOR: %w", err)
	}
	if cfg.GrowthFactor <= 1.0 {
		return nil, fmt.Errorf("ASE_GROWTH_FACTOR: значение %g должно быть больше 1", cfg.GrowthFactor)
	}
	if cfg.OnboardingFrequency, err = getEnvDuration("ASE_ONBOARDING_FREQUENCY", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("ASE_ONBOARDING_FREQUENCY: %w", err)
	}
	if cfg.OnboardingWindow, err = getEnvDuration("ASE_ONBOARDING_WINDOW", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("ASE_ONBOARDING_WINDOW: %w", err)
	}
	if cfg.CalendarFrequency, err = loadFrequencyBounds("ASE_CALENDAR", time.Hour, 15*time.Minute, 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ContactsFrequency, err = loadFrequencyBounds("ASE_CONTACTS", 6*time.Hour, time.Hour, 7*24*time.Hour); err != nil {
		return nil, err
	}

	// --- Circuit breaker ---

	if cfg.BreakerThreshold, err = getEnvInt("ASE_BREAKER_THRESHOLD", 5); err != nil {
		return nil, fmt.Errorf("ASE_BREAKER_THRESHOLD: %w", err)
	}
	if cfg.BreakerThreshold < 1 {
		return nil, fmt.Errorf("ASE_BREAKER_THRESHOLD: значение %d должно быть не меньше 1", cfg.BreakerThreshold)
	}
	if cfg.BreakerBaseBackoff, err = getEnvDuration("ASE_BREAKER_BASE_BACKOFF", time.Minute); err != nil {
		return nil, fmt.Errorf("ASE_BREAKER_BASE_BACKOFF: %w", err)
	}
	if cfg.BreakerMaxBackoff, err = getEnvDuration("ASE_BREAKER_MAX_BACKOFF", 6*time.Hour); err != nil {
		return nil, fmt.Errorf("ASE_BREAKER_MAX_BACKOFF: %w", err)
	}
	if cfg.BreakerMaxBackoff < cfg.BreakerBaseBackoff {
		return nil, fmt.Errorf("ASE_BREAKER_MAX_BACKOFF: %s меньше базовой задержки %s", cfg.BreakerMaxBackoff, cfg.BreakerBaseBackoff)
	}

	// --- Токены ---

	if cfg.TokenExpiringWindow, err = getEnvDuration("ASE_TOKEN_EXPIRING_WINDOW", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("ASE_TOKEN_EXPIRING_WINDOW: %w", err)
	}
	if cfg.TokenCheckInterval, err = getEnvDuration("ASE_TOKEN_CHECK_INTERVAL", time.Hour); err != nil {
		return nil, fmt.Errorf("ASE_TOKEN_CHECK_INTERVAL: %w", err)
	}
	if cfg.TokenCacheSize, err = getEnvInt("ASE_TOKEN_CACHE_SIZE", 10000); err != nil {
		return nil, fmt.Errorf("ASE_TOKEN_CACHE_SIZE: %w", err)
	}
	if cfg.TokenCacheTTL, err = getEnvDuration("ASE_TOKEN_CACHE_TTL", time.Minute); err != nil {
		return nil, fmt.Errorf("ASE_TOKEN_CACHE_TTL: %w", err)
	}

	// --- Google ---

	cfg.GoogleClientID = getEnvDefault("ASE_GOOGLE_CLIENT_ID", "")
	cfg.GoogleClientSecret = getEnvDefault("ASE_GOOGLE_CLIENT_SECRET", "")
	cfg.GoogleProjectID = getEnvDefault("ASE_GOOGLE_PROJECT_ID", "")
	cfg.GoogleCredentialsFile = getEnvDefault("ASE_GOOGLE_CREDENTIALS_FILE", "")

	// --- Webhook ---

	cfg.WebhookAddress = strings.TrimRight(getEnvDefault("ASE_WEBHOOK_ADDRESS", ""), "/")
	if cfg.WebhookRenewBefore, err = getEnvDuration("ASE_WEBHOOK_RENEW_BEFORE", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("ASE_WEBHOOK_RENEW_BEFORE: %w", err)
	}
	if cfg.WebhookRenewInterval, err = getEnvDuration("ASE_WEBHOOK_RENEW_INTERVAL", time.Hour); err != nil {
		return nil, fmt.Errorf("ASE_WEBHOOK_RENEW_INTERVAL: %w", err)
	}
	if cfg.WebhookChannelTTL, err = getEnvDuration("ASE_WEBHOOK_CHANNEL_TTL", 7*24*time.Hour); err != nil {
		return nil, fmt.Errorf("ASE_WEBHOOK_CHANNEL_TTL: %w", err)
	}

	// --- Доставка заданий ---

	cfg.DispatchMode = getEnvDefault("ASE_DISPATCH_MODE", DispatchModeHTTP)
	switch cfg.DispatchMode {
	case DispatchModeHTTP:
		if cfg.ExecutorURL, err = getEnvRequired("ASE_EXECUTOR_URL"); err != nil {
			return nil, err
		}
		cfg.ExecutorURL = strings.TrimRight(cfg.ExecutorURL, "/")
	case DispatchModePubSub:
		if cfg.GoogleProjectID == "" {
			return nil, fmt.Errorf("ASE_GOOGLE_PROJECT_ID: обязателен для ASE_DISPATCH_MODE=pubsub")
		}
		cfg.PubSubJobsTopic = getEnvDefault("ASE_PUBSUB_JOBS_TOPIC", "sync-jobs")
		cfg.PubSubOutcomeSubscription = getEnvDefault("ASE_PUBSUB_OUTCOME_SUBSCRIPTION", "sync-outcomes-sub")
	default:
		return nil, fmt.Errorf("ASE_DISPATCH_MODE: недопустимое значение %q, допустимые: http, pubsub", cfg.DispatchMode)
	}

	// --- Уведомления ---

	cfg.NotifyMode = getEnvDefault("ASE_NOTIFY_MODE", NotifyModeLog)
	switch cfg.NotifyMode {
	case NotifyModeLog, NotifyModeFCM:
	case NotifyModeHTTP:
		if cfg.NotifyURL, err = getEnvRequired("ASE_NOTIFY_URL"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("ASE_NOTIFY_MODE: недопустимое значение %q, допустимые: log, http, fcm", cfg.NotifyMode)
	}
	cfg.ActionBaseURL = strings.TrimRight(getEnvDefault("ASE_ACTION_BASE_URL", "https://app.local"), "/")

	// --- Рекомендации ---

	if cfg.SuggestionsPerRun, err = getEnvInt("ASE_SUGGESTIONS_PER_RUN", 10); err != nil {
		return nil, fmt.Errorf("ASE_SUGGESTIONS_PER_RUN: %w", err)
	}
	if cfg.SuggestionsPerRun < 1 || cfg.SuggestionsPerRun > 100 {
		return nil, fmt.Errorf("ASE_SUGGESTIONS_PER_RUN: значение %d вне допустимого диапазона 1-100", cfg.SuggestionsPerRun)
	}
	if cfg.GroupCandidateLimit, err = getEnvInt("ASE_GROUP_CANDIDATE_LIMIT", 40); err != nil {
		return nil, fmt.Errorf("ASE_GROUP_CANDIDATE_LIMIT: %w", err)
	}
	if cfg.GroupCandidateLimit < 2 || cfg.GroupCandidateLimit > 200 {
		return nil, fmt.Errorf("ASE_GROUP_CANDIDATE_LIMIT: значение %d вне допустимого диапазона 2-200", cfg.GroupCandidateLimit)
	}
	if cfg.RecommendInterval, err = getEnvDuration("ASE_RECOMMEND_INTERVAL", 6*time.Hour); err != nil {
		return nil, fmt.Errorf("ASE_RECOMMEND_INTERVAL: %w", err)
	}
	if cfg.RecommendConcurrency, err = getEnvInt("ASE_RECOMMEND_CONCURRENCY", 4); err != nil {
		return nil, fmt.Errorf("ASE_RECOMMEND_CONCURRENCY: %w", err)
	}
	if cfg.RecommendConcurrency < 1 {
		return nil, fmt.Errorf("ASE_RECOMMEND_CONCURRENCY: значение %d должно быть не меньше 1", cfg.RecommendConcurrency)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("ASE_DEPHEALTH_GROUP", "sync-engine")
	if cfg.DephealthCheckInterval, err = getEnvDuration("ASE_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("ASE_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	if cfg.ShutdownTimeout, err = getEnvDuration("ASE_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("ASE_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// loadFrequencyBounds читает <prefix>_DEFAULT_FREQUENCY, <prefix>_MIN_FREQUENCY,
// <prefix>_MAX_FREQUENCY и проверяет min ≤ default ≤ max.
func loadFrequencyBounds(prefix string, def, minF, maxF time.Duration) (FrequencyBounds, error) {
	var b FrequencyBounds
	var err error

	if b.Default, err = getEnvDuration(prefix+"_DEFAULT_FREQUENCY", def); err != nil {
		return b, fmt.Errorf("%s_DEFAULT_FREQUENCY: %w", prefix, err)
	}
	if b.Min, err = getEnvDuration(prefix+"_MIN_FREQUENCY", minF); err != nil {
		return b, fmt.Errorf("%s_MIN_FREQUENCY: %w", prefix, err)
	}
	if b.Max, err = getEnvDuration(prefix+"_MAX_FREQUENCY", maxF); err != nil {
		return b, fmt.Errorf("%s_MAX_FREQUENCY: %w", prefix, err)
	}
	if b.Min <= 0 || b.Min > b.Default || b.Default > b.Max {
		return b, fmt.Errorf("%s: частоты должны удовлетворять 0 < min ≤ default ≤ max (получено %s, %s, %s)",
			prefix, b.Min, b.Default, b.Max)
	}
	return b, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// MigrationURL возвращает URL для golang-migrate (драйвер pgx5).
// Учётные данные экранируются.
func (c *Config) MigrationURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.DBSSLMode}, "x-migrations-table": {"ase_schema_migrations"}}.Encode(),
	}
	return u.String()
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

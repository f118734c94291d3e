// Точка входа Sync Engine — адаптивный планировщик синхронизации интеграций
// и генератор рекомендаций.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// создаёт репозитории, сервисный слой и способ доставки заданий (http или pubsub),
// запускает фоновые задачи (планировщик, мониторинг токенов, продление подписок,
// рекомендации, topologymetrics) и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bigkaa/syncengine/internal/api/handlers"
	"github.com/bigkaa/syncengine/internal/api/middleware"
	"github.com/bigkaa/syncengine/internal/api/openapi"
	"github.com/bigkaa/syncengine/internal/config"
	"github.com/bigkaa/syncengine/internal/database"
	"github.com/bigkaa/syncengine/internal/domain/breaker"
	"github.com/bigkaa/syncengine/internal/domain/frequency"
	"github.com/bigkaa/syncengine/internal/domain/model"
	"github.com/bigkaa/syncengine/internal/executor"
	"github.com/bigkaa/syncengine/internal/notify"
	"github.com/bigkaa/syncengine/internal/provider/google"
	"github.com/bigkaa/syncengine/internal/queue"
	"github.com/bigkaa/syncengine/internal/repository"
	"github.com/bigkaa/syncengine/internal/server"
	"github.com/bigkaa/syncengine/internal/service"
)

// publicPrefixes — пути без аутентификации и проверки контракта.
var publicPrefixes = []string{"/health/", "/metrics", "/api/v1/webhooks/"}

// notifyTimeout — таймаут запроса к HTTP-диспетчеру уведомлений.
const notifyTimeout = 10 * time.Second

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Sync Engine запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("dispatch_mode", cfg.DispatchMode),
		slog.String("notify_mode", cfg.NotifyMode),
		slog.Int("shard_index", cfg.ShardIndex),
		slog.Int("shard_count", cfg.ShardCount),
	)

	if os.Getenv("ASE_DEPHEALTH_GROUP") == "" {
		logger.Warn("ASE_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()
	prometheus.MustRegister(database.NewPoolCollector(pool))

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	scheduleRepo := repository.NewScheduleRepository(pool)
	jobRepo := repository.NewJobRepository(pool)
	metricsRepo := repository.NewMetricsRepository(pool)
	breakerRepo := repository.NewBreakerRepository(pool)
	tokenHealthRepo := repository.NewTokenHealthRepository(pool)
	tokenStore := repository.NewTokenStoreRepository(pool)
	webhookRepo := repository.NewWebhookRepository(pool)
	suggestionRepo := repository.NewSuggestionRepository(pool)
	snapshotRepo := repository.NewSnapshotRepository(pool)

	// 6. Уведомления пользователю
	notifier, err := buildNotifier(ctx, cfg, tokenStore, logger)
	if err != nil {
		logger.Error("Ошибка создания отправителя уведомлений", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Google OAuth: проверка токенов и push-каналы Calendar
	googleCfg := google.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
	}
	introspector := google.NewIntrospector(googleCfg, tokenStore, logger)

	var channels service.ChannelProvider
	if cfg.WebhookAddress != "" {
		channels = google.NewCalendarChannels(googleCfg, tokenStore, "", logger)
	} else {
		logger.Info("ASE_WEBHOOK_ADDRESS не задан, push-подписки не создаются")
	}

	// 8. Services
	breakers := service.NewBreakerManager(
		breakerRepo,
		breaker.Policy{
			Threshold:    cfg.BreakerThreshold,
			BaseBackoff:  cfg.BreakerBaseBackoff,
			MaxBackoff:   cfg.BreakerMaxBackoff,
			// Позже аренды задания: просроченную аренду первым закрывает reaper.
			ProbeTimeout: 2 * cfg.JobTimeout,
		},
		notifier,
		cfg.ActionBaseURL,
		logger,
	)
	tokenHealthSvc := service.NewTokenHealthService(
		tokenHealthRepo, scheduleRepo,
		introspector, notifier,
		service.TokenHealthConfig{
			ExpiringWindow: cfg.TokenExpiringWindow,
			CheckInterval:  cfg.TokenCheckInterval,
			CacheSize:      cfg.TokenCacheSize,
			CacheTTL:       cfg.TokenCacheTTL,
			Concurrency:    cfg.DispatchConcurrency,
			ActionBaseURL:  cfg.ActionBaseURL,
		},
		logger,
	)
	webhookSvc := service.NewWebhookService(
		webhookRepo, scheduleRepo, channels,
		service.WebhookConfig{
			Address:       cfg.WebhookAddress,
			RenewBefore:   cfg.WebhookRenewBefore,
			RenewInterval: cfg.WebhookRenewInterval,
			ChannelTTL:    cfg.WebhookChannelTTL,
		},
		logger,
	)
	recommendationSvc := service.NewRecommendationService(
		suggestionRepo, snapshotRepo,
		service.RecommendationConfig{
			PerRun:         cfg.SuggestionsPerRun,
			CandidateLimit: cfg.GroupCandidateLimit,
			Interval:       cfg.RecommendInterval,
			Concurrency:    cfg.RecommendConcurrency,
		},
		logger,
	)
	metricsSvc := service.NewMetricsService(metricsRepo, scheduleRepo)

	// 9. Доставка заданий исполнителю. Планировщик создаётся после
	// dispatcher, приёмник результатов подключается к нему после создания.
	var (
		dispatcher service.Dispatcher
		workerPool *executor.Pool
		psClient   *pubsub.Client
		publisher  *queue.Publisher
		subscriber *queue.OutcomeSubscriber
	)
	switch cfg.DispatchMode {
	case config.DispatchModePubSub:
		var psErr error
		psClient, psErr = queue.NewClient(ctx, cfg.GoogleProjectID, cfg.GoogleCredentialsFile)
		if psErr != nil {
			logger.Error("Ошибка подключения к Pub/Sub", slog.String("error", psErr.Error()))
			os.Exit(1)
		}
		defer psClient.Close()
		publisher = queue.NewPublisher(psClient, cfg.PubSubJobsTopic, logger)
		dispatcher = publisher
		logger.Info("Доставка заданий через Pub/Sub",
			slog.String("topic", cfg.PubSubJobsTopic),
			slog.String("outcome_subscription", cfg.PubSubOutcomeSubscription),
		)
	default:
		runner := executor.New(cfg.ExecutorURL, cfg.JobTimeout, logger)
		workerPool = executor.NewPool(runner, nil, cfg.DispatchConcurrency, cfg.TickBatchSize, logger)
		dispatcher = workerPool
		logger.Info("Доставка заданий через HTTP-исполнитель",
			slog.String("executor_url", cfg.ExecutorURL),
			slog.Int("concurrency", cfg.DispatchConcurrency),
		)
	}

	scheduler := service.NewScheduler(
		scheduleRepo, jobRepo, metricsRepo, webhookRepo,
		breakers, tokenHealthSvc, dispatcher,
		frequency.Policy{
			StepThreshold:       cfg.NoChangeStepThreshold,
			GrowthFactor:        cfg.GrowthFactor,
			OnboardingFrequency: cfg.OnboardingFrequency,
			OnboardingWindow:    cfg.OnboardingWindow,
		},
		service.SchedulerConfig{
			TickInterval: cfg.TickInterval,
			BatchSize:    cfg.TickBatchSize,
			Shard:        repository.Shard{Index: cfg.ShardIndex, Count: cfg.ShardCount},
			JobTimeout:   cfg.JobTimeout,
			Frequencies: map[model.IntegrationType]service.Bounds{
				model.IntegrationGoogleCalendar: service.Bounds(cfg.CalendarFrequency),
				model.IntegrationGoogleContacts: service.Bounds(cfg.ContactsFrequency),
			},
		},
		logger,
	)
	scheduler.SetOutcomeTx(repository.NewTxRunner(pool))

	if workerPool != nil {
		workerPool.SetRecorder(scheduler)
	}
	if psClient != nil {
		subscriber = queue.NewOutcomeSubscriber(psClient, cfg.PubSubOutcomeSubscription, scheduler, cfg.DispatchConcurrency, logger)
	}

	// 10. topologymetrics — мониторинг зависимостей
	dephealthCfg := service.DephealthConfig{
		ServiceID:     "sync-engine",
		Group:         cfg.DephealthGroup,
		PgConnURL:     cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}
	if cfg.DispatchMode == config.DispatchModeHTTP {
		dephealthCfg.ExecutorURL = cfg.ExecutorURL
	}
	var deps handlers.DependencyReporter
	dephealthSvc, dephealthErr := service.NewDephealthService(dephealthCfg, pgDB, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		deps = dephealthSvc
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 11. API handler
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), deps)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		scheduler,
		webhookSvc,
		tokenHealthSvc,
		metricsSvc,
		recommendationSvc,
		logger,
	)

	// 12. Аутентификация: JWT по JWKS либо заголовки API Gateway
	var authMiddleware func(http.Handler) http.Handler
	if cfg.JWTJWKSURL != "" {
		jwtAuth, jwtErr := middleware.NewJWTAuth(
			cfg.JWTJWKSURL,
			cfg.JWTIssuer,
			cfg.JWKSClientTimeout,
			cfg.JWKSRefreshInterval,
			cfg.JWTLeeway,
			logger,
		)
		if jwtErr != nil {
			logger.Error("Ошибка создания JWT middleware", slog.String("error", jwtErr.Error()))
			os.Exit(1)
		}
		authMiddleware = jwtAuth.Middleware()
		logger.Info("JWT middleware инициализирован",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	} else {
		authMiddleware = middleware.GatewayAuth()
		logger.Warn("ASE_JWT_JWKS_URL не задан, пользователь берётся из заголовков API Gateway",
			slog.String("header", middleware.HeaderUserID),
		)
	}

	// 13. Проверка запросов по OpenAPI контракту
	doc, err := openapi.Load()
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := middleware.NewRequestValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания валидатора запросов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Запуск фоновых задач
	if workerPool != nil {
		workerPool.Start(ctx)
	}
	if subscriber != nil {
		subscriber.Start(ctx)
	}
	scheduler.Start(ctx)
	tokenHealthSvc.Start(ctx)
	webhookSvc.Start(ctx)
	recommendationSvc.Start(ctx)

	// 15. HTTP-сервер
	srv := server.New(cfg, logger, apiHandler,
		handlers.RouteOptions{
			JobOutcomeMiddlewares: []func(http.Handler) http.Handler{
				middleware.RequireScope(middleware.ScopeJobOutcomes),
			},
		},
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		server.WithExclusions(authMiddleware, publicPrefixes...),
		server.WithExclusions(validator.Middleware(), publicPrefixes...),
	)
	runErr := srv.Run(ctx)
	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
	}

	// 16. Graceful shutdown фоновых задач: сначала перестаём выдавать задания,
	// затем дожидаемся исполнителей и приёма результатов.
	logger.Info("Останавливаем фоновые задачи...")

	scheduler.Stop()
	recommendationSvc.Stop()
	webhookSvc.Stop()
	tokenHealthSvc.Stop()
	if workerPool != nil {
		workerPool.Stop()
	}
	if subscriber != nil {
		subscriber.Stop()
	}
	if publisher != nil {
		publisher.Stop()
	}
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	cancel()

	logger.Info("Sync Engine остановлен")
	if runErr != nil {
		os.Exit(1)
	}
}

// buildNotifier выбирает отправителя уведомлений по ASE_NOTIFY_MODE.
func buildNotifier(ctx context.Context, cfg *config.Config, tokens repository.TokenStoreRepository, logger *slog.Logger) (service.Notifier, error) {
	switch cfg.NotifyMode {
	case config.NotifyModeHTTP:
		logger.Info("Уведомления через HTTP-диспетчер", slog.String("url", cfg.NotifyURL))
		return notify.NewHTTPNotifier(cfg.NotifyURL, notifyTimeout, logger), nil
	case config.NotifyModeFCM:
		client, err := notify.NewFCMClient(ctx, cfg.GoogleCredentialsFile)
		if err != nil {
			return nil, err
		}
		logger.Info("Уведомления через Firebase Cloud Messaging")
		return notify.NewFCMNotifier(client, tokens, logger), nil
	default:
		return notify.NewLogNotifier(logger), nil
	}
}

package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"advisory-service/internal/ai/gemini"
	"advisory-service/internal/cache"
	"advisory-service/internal/client"
	"advisory-service/internal/config"
	"advisory-service/internal/database/minio"
	"advisory-service/internal/database/postgres"
	"advisory-service/internal/database/redis"
	"advisory-service/internal/event"
	"advisory-service/internal/repository"
	"advisory-service/internal/services"
	"advisory-service/internal/worker"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// application holds every long-lived dependency of the process.
type application struct {
	cfg *config.AdvisoryServiceConfig
	log *zap.Logger

	db       *sqlx.DB
	redis    *redis.Client
	minio    *minio.MinioClient
	rabbit   *event.RabbitMQConnection
	geminiAI *gemini.GeminiClientSelector
	pool     *worker.WorkingPool

	rules      *repository.AdvisoryRuleRepository
	logsRepo   *repository.DeliveryLogRepository
	bulletins  *repository.WeatherAdvisoryRepository
	analytics  *services.AnalyticsService
	ruleCache  *cache.RuleCache
	engine     *services.RuleEngine
	ruleSvc    *services.RuleService
	deliveries *services.DeliveryLogService
	dispatch   *services.DispatchService
	ingestion  *services.IngestionService
	sweep      *services.SweepService
	bulletin   *services.WeatherAdvisoryService

	poolCancel context.CancelFunc
	poolWg     sync.WaitGroup
}

// newApplication connects to every backing service and wires the pipeline.
// Gemini is optional; without API keys content falls back to templates.
func newApplication(cfg *config.AdvisoryServiceConfig, log *zap.Logger) (*application, error) {
	app := &application{cfg: cfg, log: log}

	db, err := postgres.ConnectWithRetry(context.Background(), cfg.PostgresCfg, 5, 5*time.Second, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	app.db = db

	rdb, err := redis.NewRedisClient(cfg.RedisCfg, log)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.redis = rdb

	mc, err := minio.NewMinioClient(cfg.MinioCfg, log)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to connect to minio: %w", err)
	}
	app.minio = mc

	rabbit, err := event.ConnectRabbitMQ(cfg.RabbitMQCfg, log)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.rabbit = rabbit

	var snippets services.SnippetGenerator
	if len(cfg.GeminiAPICfg.APIKeys) > 0 {
		var clients []*gemini.GeminiClient
		for i, key := range cfg.GeminiAPICfg.APIKeys {
			c, err := gemini.NewGenAIClient(context.Background(), key, cfg.GeminiAPICfg.FlashName)
			if err != nil {
				log.Warn("skipping gemini client", zap.Int("key_index", i), zap.Error(err))
				continue
			}
			clients = append(clients, c)
		}
		if len(clients) > 0 {
			app.geminiAI = gemini.NewGeminiClientSelector(clients, log)
			snippets = gemini.NewSnippetGenerator(app.geminiAI, log)
		}
	}
	if snippets == nil {
		log.Info("gemini disabled, advisory content falls back to templates")
	}

	pipeline := cfg.PipelineCfg
	app.pool = worker.NewWorkingPool(pipeline.WorkerCount, pipeline.WorkerQueueSize, log)
	poolCtx, cancel := context.WithCancel(context.Background())
	app.poolCancel = cancel
	app.poolWg.Add(1)
	go app.pool.Start(poolCtx, &app.poolWg)

	app.rules = repository.NewAdvisoryRuleRepository(db, log)
	app.logsRepo = repository.NewDeliveryLogRepository(db, log)
	app.bulletins = repository.NewWeatherAdvisoryRepository(db, log)
	app.analytics = services.NewAnalyticsService(repository.NewAnalyticsRepository(db, log), pipeline, log)

	app.ruleCache = cache.NewRuleCache(rdb.GetClient(), app.rules, pipeline.RuleCacheTTL, log)
	app.engine = services.NewRuleEngine(log)
	app.ruleSvc = services.NewRuleService(app.rules, app.ruleCache, app.engine, log)

	app.deliveries = services.NewDeliveryLogService(app.logsRepo, event.NewDeliveryEventPublisher(rabbit, log), pipeline, log)
	content := services.NewContentBuilder(mc, snippets, log)
	app.dispatch = services.NewDispatchService(event.NewNotificationPublisher(rabbit, log), app.deliveries, content, app.pool, pipeline.DispatchTimeout, log)
	app.bulletin = services.NewWeatherAdvisoryService(app.bulletins, pipeline.BulletinValidFor, log)

	farmers := client.NewFarmerClient(cfg.ProfileServiceCfg, log)
	app.ingestion = services.NewIngestionService(services.IngestionDeps{
		Weather:   client.NewWeatherClient(cfg.WeatherServiceCfg, log),
		Farmers:   farmers,
		Rules:     app.ruleCache,
		Engine:    app.engine,
		Detector:  services.NewSignalDetector(cfg.Thresholds),
		Logs:      app.deliveries,
		Content:   content,
		Dispatch:  app.dispatch,
		Bulletins: app.bulletin,
		Pool:      app.pool,
	}, pipeline, log)
	app.sweep = services.NewSweepService(app.logsRepo, farmers, app.dispatch, pipeline, log)

	return app, nil
}

// Close stops the worker pool and releases connections in reverse order.
func (a *application) Close() {
	if a.poolCancel != nil {
		a.poolCancel()
		a.poolWg.Wait()
	}
	if a.geminiAI != nil {
		a.geminiAI.Close()
	}
	if a.rabbit != nil {
		if err := a.rabbit.Close(); err != nil {
			a.log.Warn("failed to close rabbitmq connection", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close postgres connection", zap.Error(err))
		}
	}
}

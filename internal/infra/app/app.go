// Package app wires configuration, infrastructure, the descriptor catalog,
// and the HTTP transport into a runnable application.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Afshari9978/avishan/internal/core/port"
	"github.com/Afshari9978/avishan/internal/dispatch"
	"github.com/Afshari9978/avishan/internal/infra/config"
	"github.com/Afshari9978/avishan/internal/infra/database"
	kafkainfra "github.com/Afshari9978/avishan/internal/infra/kafka"
	"github.com/Afshari9978/avishan/internal/infra/logger"
	redisinfra "github.com/Afshari9978/avishan/internal/infra/redis"
	"github.com/Afshari9978/avishan/internal/infra/security"
	"github.com/Afshari9978/avishan/internal/openapi"
	postgresrepo "github.com/Afshari9978/avishan/internal/repository/postgres"
	redisrepo "github.com/Afshari9978/avishan/internal/repository/redis"
	"github.com/Afshari9978/avishan/internal/transport/http/handlers"
	"github.com/Afshari9978/avishan/internal/transport/http/middleware"
	"github.com/Afshari9978/avishan/internal/transport/http/routes"
	"github.com/Afshari9978/avishan/internal/usecase"
)

// Application owns the wired runtime and its infrastructure handles.
type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redisinfra.Client
	kafka    *kafkainfra.Producer
	consumer *kafkainfra.Consumer
}

// New wires the full application from configuration.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	codec, err := security.NewTokenCodec(cfg.Auth.JWTKey)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init token codec: %w", err)
	}

	app := &Application{
		cfg:    cfg,
		logger: log,
		pool:   pool,
		redis:  redisClient,
	}

	sender := kafkainfra.NewStubSender(log)
	var challengeDispatch port.ChallengeDispatcher
	if cfg.API.AsyncAvailable && len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("kafka producer init failed, dispatching codes synchronously", zap.Error(err))
			challengeDispatch = kafkainfra.NewSyncDispatcher(sender)
		} else if consumer, err := kafkainfra.NewChallengeConsumerGroup(cfg.Kafka, sender, log); err != nil {
			// Publishing without the worker would queue codes nobody delivers.
			log.Warn("kafka consumer init failed, dispatching codes synchronously", zap.Error(err))
			_ = producer.Close()
			challengeDispatch = kafkainfra.NewSyncDispatcher(sender)
		} else {
			app.kafka = producer
			app.consumer = consumer
			challengeDispatch = kafkainfra.NewChallengeDispatcher(producer, log)
			log.Info("deferred challenge dispatch enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		challengeDispatch = kafkainfra.NewSyncDispatcher(sender)
	}

	authRepo := postgresrepo.NewAuthRepository(pool)
	trackRepo := postgresrepo.NewTrackRepository(pool)

	rateLimitWindow := cfg.RateLimit.WindowDuration
	if rateLimitWindow <= 0 {
		rateLimitWindow = time.Minute
	}
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), "avishan:rate-limit", rateLimitWindow*2)

	sessions := usecase.NewSessionService(authRepo, codec, log).
		WithDefaultTokenTTL(time.Duration(cfg.Auth.TokenValidSeconds) * time.Second)
	keyValue := usecase.NewKeyValueService(authRepo, sessions, log)
	otp := usecase.NewOtpService(authRepo, sessions, challengeDispatch, cfg.Otp, log)
	visitor := usecase.NewVisitorService(authRepo, sessions, cfg.Auth.VisitorKeyLength, log)
	register := usecase.NewRegisterService(authRepo, log)

	catalog, err := buildCatalog(catalogServices{
		sessions: sessions,
		keyValue: keyValue,
		otp:      otp,
		visitor:  visitor,
		register: register,
	})
	if err != nil {
		app.closeInfra()
		return nil, fmt.Errorf("build catalog: %w", err)
	}

	store := postgresrepo.NewEntityStore(pool, catalog)
	dispatcher := dispatch.NewDispatcher(catalog, store, log)

	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Namespace: "avishan"})
	if err != nil {
		app.closeInfra()
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	doc := openapi.Synthesize(catalog, openapi.Info{
		Title:             cfg.OpenAPI.Title,
		Description:       cfg.OpenAPI.Description,
		Version:           cfg.OpenAPI.Version,
		Servers:           cfg.OpenAPI.Servers,
		IgnoredPathModels: cfg.OpenAPI.IgnoredPathModels,
	})

	app.engine = routes.New(routes.Options{
		Config:     cfg,
		Logger:     log,
		Dispatcher: dispatcher,
		Sessions:   sessions,
		Tracks:     trackRepo,
		RateLimits: rateLimitStore,
		Metrics:    metrics,
		Health:     handlers.NewHealthHandler(pool, redisClient, log),
		OpenAPIDoc: doc,
	})

	return app, nil
}

func (a *Application) closeInfra() {
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.kafka != nil {
		_ = a.kafka.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// Run serves HTTP until the context is canceled, then shuts down gracefully.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.closeInfra()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting api",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	if a.consumer != nil {
		go a.consumer.Run(ctx)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}

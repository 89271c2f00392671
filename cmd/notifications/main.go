package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/etmpass/notifications-service/api/controllers"
	"github.com/etmpass/notifications-service/api/routes"
	"github.com/etmpass/notifications-service/internal/cron"
	"github.com/etmpass/notifications-service/internal/gateway"
	"github.com/etmpass/notifications-service/internal/notifications"
	"github.com/etmpass/notifications-service/internal/presence"
	"github.com/etmpass/notifications-service/internal/realtime"
	"github.com/etmpass/notifications-service/pkg/config"
	"github.com/etmpass/notifications-service/pkg/db"
	"github.com/etmpass/notifications-service/pkg/idempotency"
	"github.com/etmpass/notifications-service/pkg/instance"
	"github.com/etmpass/notifications-service/pkg/logger"
	"github.com/etmpass/notifications-service/pkg/mailer"
	"github.com/etmpass/notifications-service/pkg/metrics"
	"github.com/etmpass/notifications-service/pkg/migrate"
	"github.com/etmpass/notifications-service/pkg/pubsub"
	"github.com/etmpass/notifications-service/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "notifications"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: cfg.Service.Name,
		Instance:    instance.GetID(),
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	err = migrate.MaybeRunDev(ctx, cfg, logg, dbClient)
	requireResource(ctx, logg, "dev migrations", err)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deliveryMetrics := metrics.NewDeliveryMetrics(registry)
	cronMetrics := metrics.NewCronJobMetrics(registry)

	smtpMailer, err := mailer.NewSMTPMailer(cfg.Email)
	requireResource(ctx, logg, "smtp mailer", err)

	presenceRegistry := presence.NewRegistry()
	admission := gateway.NewAdmission(cfg.Gateway.ConnectPoints, cfg.Gateway.ConnectDuration)
	gw, err := gateway.New(gateway.Params{
		Presence:       presenceRegistry,
		Admission:      admission,
		Logger:         logg.Component("gateway"),
		Metrics:        deliveryMetrics,
		AckTimeout:     cfg.Realtime.AckTimeout,
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		TrustProxy:     cfg.Gateway.TrustProxy,
	})
	requireResource(ctx, logg, "websocket gateway", err)

	repo := notifications.NewRepository(dbClient.DB())
	engine, err := realtime.NewEngine(realtime.EngineParams{
		Presence:  presenceRegistry,
		Transport: gw,
		Store:     repo,
		Logger:    logg.Component("realtime"),
		Metrics:   deliveryMetrics,
		Options: realtime.Options{
			RetryInterval: cfg.Realtime.RetryInterval,
			MaxRetries:    cfg.Realtime.MaxRetries,
			Retention:     cfg.Realtime.Retention,
		},
	})
	requireResource(ctx, logg, "realtime engine", err)

	strategies, err := buildStrategies(smtpMailer, repo, engine, logg)
	requireResource(ctx, logg, "delivery strategies", err)

	notificationService, err := notifications.NewService(notifications.ServiceParams{
		Repo:       repo,
		Strategies: strategies,
		Logger:     logg,
		Metrics:    deliveryMetrics,
	})
	requireResource(ctx, logg, "notifications service", err)

	producer, err := notifications.NewProducer(pubsubClient.NotificationPublisher(), cfg.PubSub.PublishTimeout, logg)
	requireResource(ctx, logg, "notifications producer", err)

	var consumer runner
	if !cfg.FeatureFlags.ConsumerDisabled {
		consumer, err = buildConsumer(cfg, logg, dbClient, redisClient, pubsubClient, notificationService, deliveryMetrics)
		requireResource(ctx, logg, "notifications consumer", err)
	}

	schedulers, err := buildSchedulers(cfg, logg, dbClient, redisClient, engine, admission, cronMetrics)
	requireResource(ctx, logg, "schedulers", err)

	readiness := map[string]controllers.Pinger{
		"database": dbClient,
		"redis":    redisClient,
		"pubsub":   pubsubClient,
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:        cfg,
			Logger:        logg,
			Notifications: notificationService,
			Producer:      producer,
			Gateway:       gw,
			Idempotency:   redisClient,
			Gatherer:      registry,
			Readiness:     readiness,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	service, err := NewService(ServiceParams{
		Logger:     logg,
		Server:     server,
		Consumer:   consumer,
		Schedulers: schedulers,
		Dependencies: map[string]pinger{
			"database": dbClient,
			"redis":    redisClient,
			"pubsub":   pubsubClient,
		},
		Closers: []func() error{
			func() error { gw.Close(); return nil },
			func() error { engine.Close(); return nil },
		},
	})
	requireResource(ctx, logg, "service", err)

	ctx = logg.WithFields(ctx, map[string]any{
		"env":              cfg.App.Env,
		"addr":             addr,
		"consumer_enabled": consumer != nil,
	})
	logg.Info(ctx, "starting notifications service")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "notifications service stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "notifications service shutting down gracefully")
}

func buildStrategies(m notifications.Mailer, repo notifications.Repository, engine *realtime.Engine, logg *logger.Logger) (*notifications.Strategies, error) {
	email, err := notifications.NewEmailStrategy(m, logg)
	if err != nil {
		return nil, err
	}
	inApp, err := notifications.NewInAppStrategy(repo)
	if err != nil {
		return nil, err
	}
	realTime, err := notifications.NewRealTimeStrategy(engine)
	if err != nil {
		return nil, err
	}
	return notifications.NewStrategies(email, inApp, realTime)
}

func buildConsumer(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	pubsubClient *pubsub.Client,
	dispatcher notifications.Service,
	deliveryMetrics *metrics.DeliveryMetrics,
) (*notifications.Consumer, error) {
	guard, err := idempotency.NewManager(redisClient, cfg.Eventing.IdempotencyTTL)
	if err != nil {
		return nil, err
	}

	var sink notifications.DeadLetterSink = notifications.NewLogSink(logg)
	if cfg.FeatureFlags.DeadLetterToDB {
		dbSink, err := notifications.NewDBSink(notifications.NewDeadLetterRepository(dbClient.DB()), logg)
		if err != nil {
			return nil, err
		}
		sink = dbSink
	}

	return notifications.NewConsumer(notifications.ConsumerParams{
		Dispatcher:   dispatcher,
		Subscription: pubsubClient.NotificationSubscription(),
		Idempotency:  guard,
		DeadLetters:  sink,
		Logger:       logg.Component("consumer"),
		Metrics:      deliveryMetrics,
	})
}

// buildSchedulers returns the per-process sweeper and the cluster-wide
// maintenance loop guarded by the Redis lock.
func buildSchedulers(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	engine *realtime.Engine,
	admission *gateway.Admission,
	cronMetrics *metrics.CronJobMetrics,
) ([]runner, error) {
	sweepJob, err := cron.NewPendingSweepJob(engine, logg)
	if err != nil {
		return nil, err
	}
	pruneJob, err := cron.NewAdmissionPruneJob(admission, logg)
	if err != nil {
		return nil, err
	}
	local := cron.NewRegistry()
	for _, job := range []cron.Job{sweepJob, pruneJob} {
		if err := local.Register(job); err != nil {
			return nil, err
		}
	}
	localService, err := cron.NewService(cron.ServiceParams{
		Name:     "realtime-maintenance",
		Logger:   logg,
		Registry: local,
		Metrics:  cronMetrics,
		Interval: cfg.Realtime.SweepInterval,
	})
	if err != nil {
		return nil, err
	}

	retentionJob, err := cron.NewDeadLetterRetentionJob(cron.DeadLetterRetentionJobParams{
		Logger:     logg,
		Repository: notifications.NewDeadLetterRepository(dbClient.DB()),
		Retention:  cfg.Cron.DeadLetterRetentionDays,
	})
	if err != nil {
		return nil, err
	}
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(cfg.Cron.LockName), cfg.Cron.LockTTL)
	if err != nil {
		return nil, err
	}
	clusterService, err := cron.NewService(cron.ServiceParams{
		Name:     "cluster-maintenance",
		Logger:   logg,
		Registry: cron.NewRegistry(retentionJob),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.MaintenanceInterval,
	})
	if err != nil {
		return nil, err
	}

	return []runner{localService, clusterService}, nil
}

func requireResource(ctx context.Context, logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "failed to initialize "+name, err)
	os.Exit(1)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/mailtrack/internal/config"
	"github.com/kursadbilgin/mailtrack/internal/handler"
	"github.com/kursadbilgin/mailtrack/internal/infra/postgresql"
	"github.com/kursadbilgin/mailtrack/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/mailtrack/internal/infra/redis"
	"github.com/kursadbilgin/mailtrack/internal/observability"
	"github.com/kursadbilgin/mailtrack/internal/provider"
	"github.com/kursadbilgin/mailtrack/internal/queue"
	"github.com/kursadbilgin/mailtrack/internal/repository"
	"github.com/kursadbilgin/mailtrack/internal/service"
	"github.com/kursadbilgin/mailtrack/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Error("mailtrack api exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, cfg.DatabaseMaxConns, logger)
	if err != nil {
		return fmt.Errorf("postgres initialization failed: %w", err)
	}

	if err := migrations.Migrate(db); err != nil {
		return fmt.Errorf("database migrations failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("postgres underlying db init failed: %w", err)
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis initialization failed: %w", err)
	}
	defer rdb.Close()

	locker, err := infraredis.NewRedisLocker(rdb, cfg.LockTTL())
	if err != nil {
		return err
	}

	postmark, err := provider.NewPostmarkTransport(cfg.PostmarkAPIURL, cfg.PostmarkServerToken)
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	store := repository.NewGormStore(db)

	recorder, err := service.NewRecorder(store, cfg.ResendForHeader, logger)
	if err != nil {
		return err
	}
	mailer, err := service.NewMailer(postmark, recorder, cfg.MessageIDDomain, metrics, logger)
	if err != nil {
		return err
	}
	correlator, err := service.NewCorrelator(store, locker, metrics, logger)
	if err != nil {
		return err
	}
	status, err := service.NewStatusService(store, logger)
	if err != nil {
		return err
	}
	catalog, err := service.NewCatalog(store, status)
	if err != nil {
		return err
	}
	resender, err := service.NewResender(store, mailer, locker, cfg.ResendForHeader, metrics, logger)
	if err != nil {
		return err
	}
	purger, err := service.NewPurger(store.Messages(), metrics, logger)
	if err != nil {
		return err
	}
	scanner, err := service.NewPurgeScanner(purger, cfg.PurgeRetention(), cfg.PurgeInterval(), logger)
	if err != nil {
		return err
	}

	readiness := []handler.ReadinessCheck{handler.PostgresCheck(sqlDB), handler.RedisCheck(rdb)}
	adminDeps := handler.AdminDeps{
		Catalog:   catalog,
		Resender:  resender,
		Purger:    purger,
		Token:     cfg.AdminToken,
		PurgeDays: cfg.PurgeAfterDays,
	}

	g, groupCtx := errgroup.WithContext(ctx)

	if cfg.AsyncResendEnabled() {
		broker, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		defer broker.Close() //nolint:errcheck

		enqueuer, err := service.NewResendEnqueuer(queue.NewRabbitMQPublisher(broker), logger)
		if err != nil {
			return err
		}
		worker, err := service.NewResendWorker(
			queue.NewRabbitMQConsumer(broker, cfg.ResendConcurrency, logger),
			resender,
			cfg.ResendConcurrency,
			logger,
		)
		if err != nil {
			return err
		}

		adminDeps.Enqueuer = enqueuer
		readiness = append(readiness, handler.ReadinessCheck{Name: "rabbitmq", Check: broker.Ping})
		g.Go(func() error { return worker.Start(groupCtx) })
	}

	g.Go(func() error { return scanner.Start(groupCtx) })

	app := fiber.New(fiber.Config{
		AppName:               "mailtrack",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(transport.RequestID())
	app.Use(transport.RequestContext())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, readiness...)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterWebhookRoutes(app, correlator, cfg.WebhookSecret); err != nil {
		return err
	}
	if err := handler.RegisterMessageRoutes(app, mailer); err != nil {
		return err
	}
	if err := handler.RegisterAdminRoutes(app, adminDeps); err != nil {
		return err
	}

	g.Go(func() error {
		logger.Info("mailtrack api started",
			zap.Int("port", cfg.APIPort),
			zap.Bool("asyncResend", cfg.AsyncResendEnabled()),
		)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("mailtrack api shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	return g.Wait()
}

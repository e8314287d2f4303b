package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/foodbridge/notify-gateway/internal/config"
	"github.com/foodbridge/notify-gateway/internal/domain"
	"github.com/foodbridge/notify-gateway/internal/handler"
	"github.com/foodbridge/notify-gateway/internal/infra/postgresql"
	"github.com/foodbridge/notify-gateway/internal/infra/postgresql/migrations"
	infraredis "github.com/foodbridge/notify-gateway/internal/infra/redis"
	"github.com/foodbridge/notify-gateway/internal/observability"
	"github.com/foodbridge/notify-gateway/internal/provider"
	"github.com/foodbridge/notify-gateway/internal/repository"
	"github.com/foodbridge/notify-gateway/internal/service"
	"github.com/foodbridge/notify-gateway/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	limiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	locker, err := infraredis.NewRedisKeyLock(rdb)
	if err != nil {
		logger.Fatal("key lock initialization failed", zap.Error(err))
	}

	providers := map[domain.Channel]provider.Provider{
		domain.ChannelEmail: provider.NewEmailProvider(provider.EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}),
		domain.ChannelSMS: provider.NewSMSProvider(provider.SMSConfig{
			BaseURL:  cfg.SMSAPIURL,
			APIKey:   cfg.SMSAPIKey,
			SenderID: cfg.SMSSenderID,
		}),
	}

	auditRepo := repository.NewGormAuditRepo(db)

	gateway, err := service.NewGateway(auditRepo, providers, limiter, locker, cfg.ProviderTimeout(), logger)
	if err != nil {
		logger.Fatal("gateway initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	gateway.SetMetrics(metrics)

	auditService, err := service.NewAuditService(auditRepo, logger)
	if err != nil {
		logger.Fatal("audit service initialization failed", zap.Error(err))
	}

	verifier := service.NewVerificationService(cfg.VerifyAPIURL, cfg.VerifyAPIToken, logger)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(transport.CorrelationID())
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterNotificationRoutes(app, gateway, auditService); err != nil {
		logger.Fatal("notification routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterVerificationRoutes(app, verifier); err != nil {
		logger.Fatal("verification routes registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("notify-gateway api started", zap.Int("port", cfg.APIPort))
	if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codecraft/billing-service/internal/app"
	"github.com/codecraft/billing-service/internal/config"
	"github.com/codecraft/billing-service/internal/http/routes"
	"github.com/codecraft/billing-service/internal/kafka"
	"github.com/codecraft/billing-service/internal/metrics"
	"github.com/codecraft/billing-service/internal/repository"
	"github.com/codecraft/billing-service/internal/repository/postgres"
	"github.com/codecraft/billing-service/internal/services"
	"github.com/codecraft/billing-service/internal/stripe"
	"github.com/codecraft/billing-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := initLogger()

	log.Infow("Billing service starting up...")

	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalw("Failed to load configuration", "error", err)
	}
	if cfg.Stripe.APIKey == "" {
		log.Warnw("Stripe API Key is not set!")
	}
	if cfg.Stripe.WebhookSecret == "" {
		log.Warnw("Stripe webhook secret is not set, webhook verification will reject everything!")
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warnw("JWT secret is not set!")
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Подключаемся к базе данных
	pool, err := postgres.NewConnection(ctx, cfg.Database.DSN, cfg.Database.MaxConns, cfg.Database.MinConns, log)
	if err != nil {
		log.Fatalw("Failed to connect to database", "error", err)
	}
	defer pool.Close()

	// Инициализируем Redis кеш
	redisCache, err := repository.NewRedisCacheRepository(
		cfg.Redis.Addr,
		cfg.Redis.Password,
		cfg.Redis.DB,
		log,
	)
	if err != nil {
		// Не фатально: кеш — чистая оптимизация
		log.Warnw("Failed to initialize Redis cache, continuing without caching", "error", err)
	} else {
		defer func() {
			if err := redisCache.Close(); err != nil {
				log.Errorw("Error closing Redis connection", "error", err)
			}
		}()
	}

	// Репозитории
	var accountRepo repository.AccountRepository = postgres.NewPostgresAccountRepository(pool, log)
	if redisCache != nil {
		accountRepo = repository.NewCachedAccountRepository(accountRepo, redisCache, log)
		log.Infow("Using cached account repository")
	}
	ledgerRepo := postgres.NewPostgresLedgerRepository(pool, log)

	// Клиент Stripe
	stripeClient := stripe.NewStripeClient(cfg.Stripe.APIKey, cfg.Stripe.PriceID, cfg.Stripe.WebhookSecret, log)

	// Kafka producer (не критичен для основного флоу)
	kafkaProducer, err := kafka.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	if err != nil {
		log.Errorw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
		kafkaProducer = nil
	} else {
		defer func() {
			if err := kafkaProducer.Close(); err != nil {
				log.Errorw("Error closing Kafka producer", "error", err)
			}
		}()
	}

	// Метрики
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	billingMetrics := metrics.NewBillingMetrics(registry, log)

	// Service layer
	reconciler := services.NewReconcileService(accountRepo, ledgerRepo, stripeClient, kafkaProducer, billingMetrics, log)
	accountService := services.NewAccountService(accountRepo, log)

	// HTTP application
	application := app.NewApp(cfg, reconciler, accountService, stripeClient, registry, billingMetrics, log)

	router := gin.New()
	routes.SetupRoutes(router, application, log)

	httpServer := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("Starting HTTP server", "port", cfg.App.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	log.Infow("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	} else {
		log.Infow("HTTP server gracefully stopped")
	}

	log.Infow("Cleanup finished. Goodbye!")
}

// initLogger инициализирует новый логгер
func initLogger() *logger.Logger {
	logLevel := logger.INFO
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = logger.DEBUG
	}
	return logger.New(logLevel)
}

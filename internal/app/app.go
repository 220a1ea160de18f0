package app

import (
	"github.com/codecraft/billing-service/internal/config"
	"github.com/codecraft/billing-service/internal/http/handlers"
	"github.com/codecraft/billing-service/internal/metrics"
	"github.com/codecraft/billing-service/internal/middleware"
	"github.com/codecraft/billing-service/internal/services"
	"github.com/codecraft/billing-service/internal/stripe"
	"github.com/codecraft/billing-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	Config               *config.Config
	Registry             *prometheus.Registry
	StripeWebhookHandler *handlers.StripeWebhookHandler
	ClerkWebhookHandler  *handlers.ClerkWebhookHandler
	BillingHandler       *handlers.BillingHandler
	CheckoutHandler      *handlers.CheckoutHandler
	AuthMiddleware       *middleware.JWTMiddleware
	LoggerMiddleware     gin.HandlerFunc
	Logger               *logger.Logger
}

// NewApp создает и инициализирует новый экземпляр приложения
func NewApp(
	cfg *config.Config,
	reconciler *services.ReconcileService,
	accountService *services.AccountService,
	gateway stripe.Client,
	registry *prometheus.Registry,
	billingMetrics metrics.BillingMetrics,
	log *logger.Logger,
) *App {
	stripeWebhookHandler := handlers.NewStripeWebhookHandler(reconciler, gateway, billingMetrics, log)

	clerkWebhookHandler, err := handlers.NewClerkWebhookHandler(accountService, cfg.Clerk.WebhookSecret, billingMetrics, log)
	if err != nil {
		log.Fatalw("Failed to initialize Clerk webhook handler", "error", err)
	}

	billingHandler := handlers.NewBillingHandler(reconciler, accountService, log)
	checkoutHandler := handlers.NewCheckoutHandler(gateway, cfg.App.BaseURL, log)

	validator := &middleware.DefaultTokenValidator{
		Secret: []byte(cfg.Auth.JWTSecret),
	}
	authMiddleware := middleware.NewJWTMiddleware(log, validator)

	return &App{
		Config:               cfg,
		Registry:             registry,
		StripeWebhookHandler: stripeWebhookHandler,
		ClerkWebhookHandler:  clerkWebhookHandler,
		BillingHandler:       billingHandler,
		CheckoutHandler:      checkoutHandler,
		AuthMiddleware:       authMiddleware,
		LoggerMiddleware:     middleware.RequestLogger(log),
		Logger:               log,
	}
}

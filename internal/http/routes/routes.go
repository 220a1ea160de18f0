package routes

import (
	"github.com/codecraft/billing-service/internal/app"
	"github.com/codecraft/billing-service/internal/middleware"
	"github.com/codecraft/billing-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes настраивает все маршруты API для Gin роутера
func SetupRoutes(router *gin.Engine, app *app.App, log *logger.Logger) {
	// Промежуточное ПО для всех запросов
	router.Use(middleware.RequestID())
	router.Use(app.LoggerMiddleware)
	router.Use(gin.Recovery())

	// Метрики Prometheus
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))

	// Группа API
	api := router.Group("/api/v1")
	{
		// Публичные маршруты (подписи проверяются самими обработчиками)
		api.POST("/webhooks/stripe", app.StripeWebhookHandler.HandleStripeWebhook)
		api.POST("/webhooks/clerk", app.ClerkWebhookHandler.HandleClerkWebhook)

		// Здоровье сервиса
		api.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{"status": "ok"})
		})

		// Защищенные маршруты (требуют аутентификации)
		auth := api.Group("")
		auth.Use(app.AuthMiddleware.RequireAuth())
		{
			// Создать checkout-сессию для апгрейда на pro
			auth.POST("/checkout", app.CheckoutHandler.CreateCheckoutSession)

			// Верифицировать оплату после редиректа с checkout
			auth.POST("/billing/verify", app.BillingHandler.VerifyPayment)

			// Текущее состояние подписки
			auth.GET("/billing/me", app.BillingHandler.GetMyAccount)
		}

		// Административные маршруты
		admin := api.Group("/admin")
		admin.Use(app.AuthMiddleware.RequireAuth(middleware.ScopeAdmin))
		{
			admin.POST("/accounts/:user_id/upgrade", app.BillingHandler.ForceUpgrade)
		}
	}

	log.Infow("API routes successfully configured")
}

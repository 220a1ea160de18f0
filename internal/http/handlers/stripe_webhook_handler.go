package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/codecraft/billing-service/internal/metrics"
	"github.com/codecraft/billing-service/internal/services"
	stripeclient "github.com/codecraft/billing-service/internal/stripe"
	"github.com/codecraft/billing-service/pkg/logger"
	"github.com/codecraft/billing-service/pkg/res"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v78"
)

const (
	// Ограничение на размер тела запроса вебхука (Stripe рекомендует ~65kb)
	maxRequestBodySize = int64(65536)

	eventCheckoutCompleted = "checkout.session.completed"
)

// StripeWebhookHandler обрабатывает входящие вебхуки от Stripe.
type StripeWebhookHandler struct {
	reconciler *services.ReconcileService
	gateway    stripeclient.Client
	metrics    metrics.BillingMetrics
	log        *logger.Logger
}

// NewStripeWebhookHandler создает новый экземпляр StripeWebhookHandler.
func NewStripeWebhookHandler(reconciler *services.ReconcileService, gateway stripeclient.Client, m metrics.BillingMetrics, log *logger.Logger) *StripeWebhookHandler {
	if m == nil {
		m = metrics.NoOpBillingMetrics{}
	}
	return &StripeWebhookHandler{
		reconciler: reconciler,
		gateway:    gateway,
		metrics:    m,
		log:        log,
	}
}

// HandleStripeWebhook - обработчик для Gin, принимающий вебхуки Stripe.
// Статусы ответов управляют ретраями Stripe: 2xx останавливает доставку,
// 5xx вызывает повтор. Постоянные отказы, уже зафиксированные в журнале,
// отдаются как 200, чтобы Stripe не ретраил впустую.
func (h *StripeWebhookHandler) HandleStripeWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	// Читаем тело один раз, с ограничением размера
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
	payload, err := io.ReadAll(c.Request.Body)
	defer c.Request.Body.Close()

	if err != nil {
		h.log.Warnw("Failed to read webhook request body", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Cannot read request body"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if sigHeader == "" {
		h.log.Warnw("Missing Stripe-Signature header")
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Missing Stripe-Signature header"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	// Верификация подписи до любого чтения содержимого payload
	event, err := h.gateway.VerifyWebhookEvent(payload, sigHeader)
	if err != nil {
		h.log.Warnw("Webhook signature verification failed", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Webhook signature verification failed"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	h.log.Infow("Received verified Stripe event", "eventID", event.ID, "eventType", event.Type)
	h.metrics.IncWebhookEvent("stripe", string(event.Type))

	// Нераспознанные типы событий подтверждаем без обработки
	if string(event.Type) != eventCheckoutCompleted {
		h.log.Debugw("Ignoring unhandled Stripe event type", "eventType", event.Type)
		c.Status(http.StatusOK)
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		h.log.Errorw("Failed to unmarshal checkout session from event", "error", err, "eventID", event.ID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Malformed event payload"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	if session.ID == "" || session.ClientReferenceID == "" {
		h.log.Errorw("Checkout session event missing required fields",
			"eventID", event.ID,
			"hasSessionID", session.ID != "",
			"hasClientReferenceID", session.ClientReferenceID != "",
		)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Missing required fields in checkout session"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	result, err := h.reconciler.Reconcile(ctx, session.ID, session.ClientReferenceID)
	if err != nil {
		h.respondReconcileError(c, session.ID, err)
		return
	}

	h.log.Infow("Webhook reconciliation finished",
		"sessionID", session.ID,
		"alreadyProcessed", result.AlreadyProcessed,
		"alreadyPro", result.AlreadyPro,
	)
	res.JsonResponse(c.Writer, result, http.StatusOK)
}

// respondReconcileError переводит ошибки реконсиляции в статусы ответов Stripe.
func (h *StripeWebhookHandler) respondReconcileError(c *gin.Context, sessionID string, err error) {
	switch {
	case errors.Is(err, services.ErrAccountNotFound), errors.Is(err, services.ErrUpgradeFailed):
		// Сессия уже занята в журнале со статусом error: повтор доставки
		// ничего не изменит, подтверждаем получение
		h.log.Errorw("Reconciliation failed permanently, session recorded as error", "error", err, "sessionID", sessionID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: err.Error()}, http.StatusOK)

	case errors.Is(err, services.ErrSessionOwnershipMismatch), errors.Is(err, services.ErrPaymentNotCompleted), errors.Is(err, services.ErrInvalidInput):
		// Постоянный отказ без записи в журнал
		h.log.Warnw("Reconciliation rejected", "error", err, "sessionID", sessionID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: err.Error()}, http.StatusBadRequest)
		c.Abort()

	default:
		// Транзиентная ошибка (Stripe недоступен, БД недоступна): 5xx заставит Stripe повторить
		h.log.Errorw("Transient error processing webhook", "error", err, "sessionID", sessionID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Internal server error processing webhook"}, http.StatusInternalServerError)
		c.Abort()
	}
}

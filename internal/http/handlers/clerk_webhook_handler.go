package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/codecraft/billing-service/internal/metrics"
	"github.com/codecraft/billing-service/internal/services"
	"github.com/codecraft/billing-service/pkg/logger"
	"github.com/codecraft/billing-service/pkg/res"

	"github.com/gin-gonic/gin"
	svix "github.com/svix/svix-webhooks/go"
)

const (
	eventUserCreated = "user.created"
	eventUserUpdated = "user.updated"
)

// clerkUserEvent — полезная нагрузка вебхука Clerk (через svix).
type clerkUserEvent struct {
	Type string `json:"type"`
	Data struct {
		ID             string `json:"id"`
		EmailAddresses []struct {
			EmailAddress string `json:"email_address"`
		} `json:"email_addresses"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		ImageURL  string `json:"image_url"`
	} `json:"data"`
}

// ClerkWebhookHandler синхронизирует аккаунты по вебхукам провайдера аутентификации.
// Аккаунт должен существовать до реконсиляции платежа: именно этот вебхук его создает.
type ClerkWebhookHandler struct {
	accountService *services.AccountService
	verifier       *svix.Webhook
	metrics        metrics.BillingMetrics
	log            *logger.Logger
}

// NewClerkWebhookHandler создает новый экземпляр ClerkWebhookHandler.
func NewClerkWebhookHandler(accountService *services.AccountService, webhookSecret string, m metrics.BillingMetrics, log *logger.Logger) (*ClerkWebhookHandler, error) {
	if webhookSecret == "" {
		return nil, errors.New("clerk webhook secret is not configured")
	}

	verifier, err := svix.NewWebhook(webhookSecret)
	if err != nil {
		return nil, err
	}

	if m == nil {
		m = metrics.NoOpBillingMetrics{}
	}
	return &ClerkWebhookHandler{
		accountService: accountService,
		verifier:       verifier,
		metrics:        m,
		log:            log,
	}, nil
}

// HandleClerkWebhook - обработчик для Gin, принимающий вебхуки Clerk.
func (h *ClerkWebhookHandler) HandleClerkWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
	payload, err := io.ReadAll(c.Request.Body)
	defer c.Request.Body.Close()

	if err != nil {
		h.log.Warnw("Failed to read Clerk webhook body", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Cannot read request body"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	// Верификация svix-подписи (svix-id / svix-timestamp / svix-signature)
	if err := h.verifier.Verify(payload, c.Request.Header); err != nil {
		h.log.Warnw("Clerk webhook signature verification failed", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Webhook signature verification failed"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	var event clerkUserEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.log.Errorw("Failed to unmarshal Clerk event", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Malformed event payload"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	h.metrics.IncWebhookEvent("clerk", event.Type)

	if event.Type != eventUserCreated && event.Type != eventUserUpdated {
		h.log.Debugw("Ignoring unhandled Clerk event type", "eventType", event.Type)
		c.Status(http.StatusOK)
		return
	}

	if event.Data.ID == "" || len(event.Data.EmailAddresses) == 0 {
		h.log.Warnw("Clerk event missing user id or email", "eventType", event.Type)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Missing user id or email in event"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	email := event.Data.EmailAddresses[0].EmailAddress
	name := strings.TrimSpace(event.Data.FirstName + " " + event.Data.LastName)
	var imageURL *string
	if event.Data.ImageURL != "" {
		imageURL = &event.Data.ImageURL
	}

	if _, err := h.accountService.SyncUser(ctx, event.Data.ID, email, name, imageURL); err != nil {
		h.log.Errorw("Failed to sync user from Clerk webhook", "error", err, "userID", event.Data.ID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Error syncing user"}, http.StatusInternalServerError)
		c.Abort()
		return
	}

	c.Status(http.StatusOK)
}

package handlers

import (
	"net/http"
	"strings"

	"github.com/codecraft/billing-service/internal/middleware"
	stripeclient "github.com/codecraft/billing-service/internal/stripe"
	"github.com/codecraft/billing-service/pkg/logger"
	"github.com/codecraft/billing-service/pkg/req"
	"github.com/codecraft/billing-service/pkg/res"

	"github.com/gin-gonic/gin"
)

// CreateCheckoutRequest — тело запроса на создание checkout-сессии.
// Origin опционален: по умолчанию используется базовый URL приложения.
type CreateCheckoutRequest struct {
	Origin string `json:"origin" validate:"omitempty,url"`
}

// CheckoutHandler создает checkout-сессии Stripe для апгрейда на pro.
type CheckoutHandler struct {
	gateway stripeclient.Client
	baseURL string
	log     *logger.Logger
}

// NewCheckoutHandler создает новый экземпляр CheckoutHandler.
func NewCheckoutHandler(gateway stripeclient.Client, baseURL string, log *logger.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		gateway: gateway,
		baseURL: baseURL,
		log:     log,
	}
}

// CreateCheckoutSession создает сессию оплаты для аутентифицированного пользователя.
// client_reference_id сессии привязывается к user id из токена — позже
// движок реконсиляции сверит его при апгрейде.
func (h *CheckoutHandler) CreateCheckoutSession(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Unauthorized"}, http.StatusUnauthorized)
		c.Abort()
		return
	}

	email := c.GetString(string(middleware.ContextUserEmailKey))
	if email == "" {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Email missing in token"}, http.StatusUnprocessableEntity)
		c.Abort()
		return
	}

	body, err := req.HandleBody[CreateCheckoutRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	origin := strings.TrimSuffix(body.Origin, "/")
	if origin == "" {
		origin = strings.TrimSuffix(h.baseURL, "/")
	}
	if origin == "" {
		h.log.Errorw("No origin provided and app base URL is not configured")
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Base URL is required for checkout session"}, http.StatusInternalServerError)
		c.Abort()
		return
	}

	link, err := h.gateway.CreateCheckoutSession(ctx, userID, email, origin)
	if err != nil {
		h.log.Errorw("Failed to create checkout session", "error", err, "userID", userID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Failed to create checkout session"}, http.StatusBadGateway)
		c.Abort()
		return
	}

	res.JsonResponse(c.Writer, link, http.StatusOK)
}

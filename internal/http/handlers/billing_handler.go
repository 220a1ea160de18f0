package handlers

import (
	"errors"
	"net/http"

	"github.com/codecraft/billing-service/internal/middleware"
	"github.com/codecraft/billing-service/internal/services"
	"github.com/codecraft/billing-service/pkg/logger"
	"github.com/codecraft/billing-service/pkg/req"
	"github.com/codecraft/billing-service/pkg/res"

	"github.com/gin-gonic/gin"
)

// VerifyPaymentRequest — тело клиентской верификации после редиректа с checkout.
type VerifyPaymentRequest struct {
	SessionID string `json:"sessionId" validate:"required"`
}

// BillingHandler обслуживает аутентифицированные операции биллинга.
type BillingHandler struct {
	reconciler     *services.ReconcileService
	accountService *services.AccountService
	log            *logger.Logger
}

// NewBillingHandler создает новый экземпляр BillingHandler.
func NewBillingHandler(reconciler *services.ReconcileService, accountService *services.AccountService, log *logger.Logger) *BillingHandler {
	return &BillingHandler{
		reconciler:     reconciler,
		accountService: accountService,
		log:            log,
	}
}

// VerifyPayment — клиентский триггер реконсиляции. Идентичность берется
// только из аутентифицированного токена: session id из тела нельзя
// применить к чужому аккаунту (движок сверит client_reference_id).
func (h *BillingHandler) VerifyPayment(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Unauthorized"}, http.StatusUnauthorized)
		c.Abort()
		return
	}

	body, err := req.HandleBody[VerifyPaymentRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	result, err := h.reconciler.Reconcile(ctx, body.SessionID, userID)
	if err != nil {
		h.respondReconcileError(c, body.SessionID, err)
		return
	}

	res.JsonResponse(c.Writer, result, http.StatusOK)
}

// GetMyAccount возвращает аккаунт аутентифицированного пользователя.
func (h *BillingHandler) GetMyAccount(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Unauthorized"}, http.StatusUnauthorized)
		c.Abort()
		return
	}

	account, err := h.accountService.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, services.ErrAccountNotFound) {
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Account not found"}, http.StatusNotFound)
			c.Abort()
			return
		}
		h.log.Errorw("Failed to get account", "error", err, "userID", userID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Internal server error"}, http.StatusInternalServerError)
		c.Abort()
		return
	}

	res.JsonResponse(c.Writer, account, http.StatusOK)
}

// ForceUpgrade — административный апгрейд аккаунта в обход платежного шлюза.
func (h *BillingHandler) ForceUpgrade(c *gin.Context) {
	ctx := c.Request.Context()

	targetUserID := c.Param("user_id")
	account, err := h.accountService.ForceUpgradeToPro(ctx, targetUserID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidInput):
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "User id is required"}, http.StatusBadRequest)
		case errors.Is(err, services.ErrAccountNotFound):
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Account not found"}, http.StatusNotFound)
		default:
			h.log.Errorw("Failed to force upgrade account", "error", err, "userID", targetUserID)
			res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Internal server error"}, http.StatusInternalServerError)
		}
		c.Abort()
		return
	}

	res.JsonResponse(c.Writer, account, http.StatusOK)
}

// respondReconcileError переводит ошибки реконсиляции в пользовательские статусы.
func (h *BillingHandler) respondReconcileError(c *gin.Context, sessionID string, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Session id is required"}, http.StatusUnprocessableEntity)

	case errors.Is(err, services.ErrSessionOwnershipMismatch):
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Session does not belong to this user"}, http.StatusForbidden)

	case errors.Is(err, services.ErrPaymentNotCompleted):
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Payment has not been completed"}, http.StatusPaymentRequired)

	case errors.Is(err, services.ErrAccountNotFound):
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Account not found"}, http.StatusNotFound)

	case errors.Is(err, services.ErrSessionLookup):
		// Транзиентно: клиент может безопасно повторить верификацию
		h.log.Errorw("Transient session lookup failure", "error", err, "sessionID", sessionID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Could not verify payment, please try again"}, http.StatusBadGateway)

	default:
		h.log.Errorw("Payment verification failed", "error", err, "sessionID", sessionID)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Internal server error"}, http.StatusInternalServerError)
	}
	c.Abort()
}

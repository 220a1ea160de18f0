package stripe

import (
	"context"
	"errors"

	"github.com/codecraft/billing-service/pkg/logger"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

const (
	// Ключ метаданных для связи checkout-сессии с Clerk user id
	metadataUserIDKey = "userId"
)

var (
	// ErrSessionNotFound сессия с таким id не существует в Stripe
	ErrSessionNotFound = errors.New("stripe: checkout session not found")
)

// CheckoutSession — данные checkout-сессии, нужные для реконсиляции.
type CheckoutSession struct {
	ID                string
	ClientReferenceID string // user id, привязанный при создании сессии
	PaymentStatus     string // "paid" | "unpaid" | "no_payment_required"
	CustomerID        string
	SubscriptionID    string
	AmountTotal       int64 // в минорных единицах валюты (центах)
}

// CheckoutLink — ссылка на оплату, возвращаемая клиенту.
type CheckoutLink struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// Client определяет методы для взаимодействия со Stripe API.
type Client interface {
	// CreateCheckoutSession создает checkout-сессию для апгрейда на pro.
	// client_reference_id сессии привязывается к userID.
	CreateCheckoutSession(ctx context.Context, userID, email, origin string) (*CheckoutLink, error)

	// RetrieveCheckoutSession возвращает авторитетное состояние сессии из Stripe.
	// ErrSessionNotFound если сессии нет; прочие ошибки транзиентны.
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)

	// VerifyWebhookEvent проверяет подпись вебхука и возвращает событие.
	// Любое несовпадение подписи или битый payload — отказ.
	VerifyWebhookEvent(payload []byte, signature string) (stripe.Event, error)
}

// stripeClient реализует интерфейс Client.
type stripeClient struct {
	client        *client.API
	priceID       string // цена pro-тарифа
	webhookSecret string
	log           *logger.Logger
}

// NewStripeClient создает новый экземпляр клиента Stripe.
func NewStripeClient(apiKey, priceID, webhookSecret string, log *logger.Logger) Client {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &stripeClient{
		client:        sc,
		priceID:       priceID,
		webhookSecret: webhookSecret,
		log:           log,
	}
}

// logStripeError - вспомогательная функция для логирования деталей ошибки Stripe.
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}

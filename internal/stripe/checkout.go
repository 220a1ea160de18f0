package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stripe/stripe-go/v78"
)

// CreateCheckoutSession создает checkout-сессию Stripe для апгрейда на pro.
func (sc *stripeClient) CreateCheckoutSession(ctx context.Context, userID, email, origin string) (*CheckoutLink, error) {
	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context: ctx,
			Metadata: map[string]string{
				metadataUserIDKey: userID,
			},
		},
		CustomerEmail:            stripe.String(email),
		ClientReferenceID:        stripe.String(userID),
		Mode:                     stripe.String(string(stripe.CheckoutSessionModePayment)),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(sc.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:          stripe.String(origin + "/pricing?success=true&session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:           stripe.String(origin + "/pricing?canceled=true"),
		AllowPromotionCodes: stripe.Bool(true),
	}

	session, err := sc.client.CheckoutSessions.New(params)
	if err != nil {
		logStripeError(sc.log, "CreateCheckoutSession", err)
		return nil, fmt.Errorf("stripe: failed to create checkout session: %w", err)
	}

	sc.log.Infow("Stripe checkout session created", "sessionID", session.ID, "userID", userID)
	return &CheckoutLink{
		SessionID: session.ID,
		URL:       session.URL,
	}, nil
}

// RetrieveCheckoutSession возвращает состояние checkout-сессии из Stripe.
// Транзиентные ошибки (сеть, 429, 5xx) ретраятся с экспоненциальной задержкой;
// отсутствующая сессия возвращается как ErrSessionNotFound без ретраев.
func (sc *stripeClient) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	var session *stripe.CheckoutSession

	operation := func() error {
		params := &stripe.CheckoutSessionParams{
			Params: stripe.Params{Context: ctx},
		}

		s, err := sc.client.CheckoutSessions.Get(sessionID, params)
		if err != nil {
			var stripeErr *stripe.Error
			if errors.As(err, &stripeErr) {
				if stripeErr.Code == stripe.ErrorCodeResourceMissing {
					return backoff.Permanent(ErrSessionNotFound)
				}
				// Ошибки клиента (кроме rate limit) повторять бессмысленно
				if stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 && stripeErr.HTTPStatusCode != 429 {
					return backoff.Permanent(err)
				}
			}
			return err
		}

		session = s
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 10 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx)); err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			logStripeError(sc.log, "RetrieveCheckoutSession", err)
		}
		return nil, err
	}

	result := &CheckoutSession{
		ID:                session.ID,
		ClientReferenceID: session.ClientReferenceID,
		PaymentStatus:     string(session.PaymentStatus),
		AmountTotal:       session.AmountTotal,
	}
	if session.Customer != nil {
		result.CustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		result.SubscriptionID = session.Subscription.ID
	}

	sc.log.Debugw("Stripe checkout session retrieved",
		"sessionID", result.ID,
		"paymentStatus", result.PaymentStatus,
		"clientReferenceID", result.ClientReferenceID,
	)
	return result, nil
}

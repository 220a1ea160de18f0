package stripe

import (
	"fmt"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// VerifyWebhookEvent проверяет подпись Stripe-Signature и парсит событие.
// Это граница безопасности: до успешной проверки содержимому payload верить нельзя.
func (sc *stripeClient) VerifyWebhookEvent(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, sc.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe: webhook signature verification failed: %w", err)
	}
	return event, nil
}

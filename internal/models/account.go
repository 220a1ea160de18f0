package models

import "time"

// Account представляет подписочное состояние одного пользователя Code Craft.
// Идентификатор — стабильный subject id провайдера аутентификации (Clerk).
type Account struct {
	UserID               string     `db:"user_id" json:"userId"`
	Email                string     `db:"email" json:"email"`
	Name                 string     `db:"name" json:"name"`
	ImageURL             *string    `db:"image_url" json:"imageUrl,omitempty"`
	IsPro                bool       `db:"is_pro" json:"isPro"`
	ProSince             *time.Time `db:"pro_since" json:"proSince,omitempty"`
	StripeCustomerID     *string    `db:"stripe_customer_id" json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID *string    `db:"stripe_subscription_id" json:"stripeSubscriptionId,omitempty"`
	Amount               *float64   `db:"amount" json:"amount,omitempty"`
	LastPayment          *time.Time `db:"last_payment" json:"lastPayment,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updatedAt"`
}

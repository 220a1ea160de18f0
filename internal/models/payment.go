package models

import "time"

// PaymentStatus — итог обработки платежной сессии в журнале.
type PaymentStatus string

const (
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusError   PaymentStatus = "error"
)

// ProcessedPayment — запись журнала об одной checkout-сессии Stripe.
// Инвариант: не более одной записи на session_id; запись не изменяется после создания.
type ProcessedPayment struct {
	SessionID   string        `db:"session_id" json:"sessionId"`
	UserID      string        `db:"user_id" json:"userId"`
	Amount      float64       `db:"amount" json:"amount"`
	Status      PaymentStatus `db:"status" json:"status"`
	ProcessedAt time.Time     `db:"processed_at" json:"processedAt"`
}

package domain

import "github.com/shopspring/decimal"

// WebhookEvent is a verified, decoded gateway notification. It is
// ephemeral: processing is attributed to exactly one DepositPayment via
// ExternalPaymentID and must be safe to repeat.
type WebhookEvent struct {
	Gateway           string
	ExternalPaymentID string
	OrderRef          string
	Status            PaymentStatus
	ActuallyPaid      decimal.Decimal
	PaidFiat          decimal.Decimal
	PayCurrency       string
	TxHash            string
}

package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// DepositAddressResult is what a gateway returns when minting (or looking
// up) a durable deposit address for a user.
type DepositAddressResult struct {
	Address     string
	ExtraID     string
	IsShared    bool
	IsPermanent bool
}

// InvoiceParams are the inputs for a time-boxed invoice.
// FixedRate stays false so the received amount may legitimately differ
// from the quoted estimate.
type InvoiceParams struct {
	FiatAmount   decimal.Decimal
	FiatCurrency string
	PayCurrency  string
	OrderRef     string
	CallbackURL  string
}

// InvoiceResult is the gateway's view of a freshly created invoice.
type InvoiceResult struct {
	ExternalPaymentID string
	PayAddress        string
	ExtraID           string
	PayAmount         decimal.Decimal
	ExpiresAt         time.Time // zero when the provider gives no estimate
}

// PaymentStatusResult is the pull-path refresh response.
type PaymentStatusResult struct {
	Status       PaymentStatus
	ActuallyPaid decimal.Decimal
	PaidFiat     decimal.Decimal
	PayinTxHash  string
}

// Gateway is the uniform adapter over heterogeneous payment providers.
// Concrete variants are selected from deployment configuration at call
// time, never via inheritance.
type Gateway interface {
	Name() string
	Kind() GatewayKind

	// IsConfigured reports whether required credentials are present. A
	// non-configured external gateway is a configuration error; callers
	// must fail loudly rather than fall back to a shared address.
	IsConfigured() bool

	CreateDepositAddress(ctx context.Context, userID string) (*DepositAddressResult, error)
	CreateInvoice(ctx context.Context, p InvoiceParams) (*InvoiceResult, error)
	GetPaymentStatus(ctx context.Context, externalPaymentID string) (*PaymentStatusResult, error)

	// GetMinimumPayAmount returns the provider minimum for the pair, in pay
	// currency units plus its fiat equivalent.
	GetMinimumPayAmount(ctx context.Context, fiatCurrency, payCurrency string) (pay decimal.Decimal, fiat decimal.Decimal, err error)

	// ParseWebhook authenticates and decodes an inbound notification.
	// Verification is the first and only gate before any state mutation:
	// a signature failure returns xerrors.ErrMissingSignature or
	// ErrBadSignature, a structural failure ErrMalformedPayload.
	ParseWebhook(header http.Header, body []byte) (*WebhookEvent, error)
}

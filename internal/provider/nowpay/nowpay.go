package nowpay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"deposit-service/internal/domain"
	"deposit-service/pkg/xerrors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const gatewayName = "nowpay"

// Provider adapts the invoice API to domain.Gateway.
type Provider struct {
	client    *Client
	ipnSecret string
	logger    *zap.Logger
}

func NewProvider(client *Client, ipnSecret string, logger *zap.Logger) *Provider {
	return &Provider{
		client:    client,
		ipnSecret: ipnSecret,
		logger:    logger,
	}
}

func (p *Provider) Name() string             { return gatewayName }
func (p *Provider) Kind() domain.GatewayKind { return domain.KindInvoice }

func (p *Provider) IsConfigured() bool {
	return p.client.APIKey != "" && p.ipnSecret != ""
}

// CreateDepositAddress is not part of the invoice flow.
func (p *Provider) CreateDepositAddress(ctx context.Context, userID string) (*domain.DepositAddressResult, error) {
	return nil, xerrors.ErrAddressNotSupported
}

func (p *Provider) CreateInvoice(ctx context.Context, params domain.InvoiceParams) (*domain.InvoiceResult, error) {
	resp, err := p.client.createPayment(ctx, createPaymentRequest{
		PriceAmount:    params.FiatAmount.String(),
		PriceCurrency:  strings.ToLower(params.FiatCurrency),
		PayCurrency:    strings.ToLower(params.PayCurrency),
		OrderID:        params.OrderRef,
		IPNCallbackURL: params.CallbackURL,
		IsFixedRate:    false, // received amount may vary from the estimate
	})
	if err != nil {
		return nil, xerrors.NewGatewayError(gatewayName, "create invoice", err)
	}

	res := &domain.InvoiceResult{
		ExternalPaymentID: resp.PaymentID.String(),
		PayAddress:        resp.PayAddress,
		ExtraID:           resp.PayinExtraID,
		PayAmount:         numberToDecimal(resp.PayAmount),
	}
	if resp.ExpirationDate != "" {
		if ts, err := time.Parse(time.RFC3339, resp.ExpirationDate); err == nil {
			res.ExpiresAt = ts.UTC()
		}
	}
	return res, nil
}

func (p *Provider) GetPaymentStatus(ctx context.Context, externalPaymentID string) (*domain.PaymentStatusResult, error) {
	resp, err := p.client.getPayment(ctx, externalPaymentID)
	if err != nil {
		return nil, xerrors.NewGatewayError(gatewayName, "get payment status", err)
	}

	return &domain.PaymentStatusResult{
		Status:       mapStatus(resp.PaymentStatus),
		ActuallyPaid: numberToDecimal(resp.ActuallyPaid),
		PaidFiat:     numberToDecimal(resp.ActuallyPaidAt),
		PayinTxHash:  resp.PayinHash,
	}, nil
}

func (p *Provider) GetMinimumPayAmount(ctx context.Context, fiatCurrency, payCurrency string) (decimal.Decimal, decimal.Decimal, error) {
	resp, err := p.client.getMinAmount(ctx, strings.ToLower(payCurrency), strings.ToLower(fiatCurrency))
	if err != nil {
		return decimal.Zero, decimal.Zero, xerrors.NewGatewayError(gatewayName, "get minimum amount", err)
	}

	pay := numberToDecimal(resp.MinAmount)
	fiat := numberToDecimal(resp.FiatEquivalent)
	if pay.IsZero() && fiat.IsZero() {
		return decimal.Zero, decimal.Zero, xerrors.ErrNoMinimumAmount
	}
	return pay, fiat, nil
}

// ipnPayload is the subset of callback fields we consume.
type ipnPayload struct {
	PaymentID     json.Number `json:"payment_id"`
	PaymentStatus string      `json:"payment_status"`
	OrderID       string      `json:"order_id"`
	PayCurrency   string      `json:"pay_currency"`
	PayAmount     json.Number `json:"pay_amount"`
	ActuallyPaid  json.Number `json:"actually_paid"`
	PaidFiat      json.Number `json:"actually_paid_at_fiat"`
	PayinHash     string      `json:"payin_hash"`
}

func (p *Provider) ParseWebhook(header http.Header, body []byte) (*domain.WebhookEvent, error) {
	sig := header.Get(SignatureHeader)
	if err := VerifyIPN(p.ipnSecret, body, sig); err != nil {
		if canonical, cerr := canonicalIPN(body); cerr == nil {
			p.logger.Debug("ipn signature mismatch",
				zap.String("computed", computeIPNSignature(p.ipnSecret, canonical)),
				zap.String("received", sig))
		}
		return nil, err
	}

	var payload ipnPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, xerrors.ErrMalformedPayload
	}

	status := mapStatus(payload.PaymentStatus)
	if payload.PaymentID.String() == "" || payload.PaymentStatus == "" ||
		payload.PayCurrency == "" || !status.IsValid() {
		return nil, xerrors.ErrMalformedPayload
	}
	// An amount field must be present even when it is zero, as it is
	// for payments still waiting.
	if payload.ActuallyPaid.String() == "" && payload.PayAmount.String() == "" {
		return nil, xerrors.ErrMalformedPayload
	}
	amount := numberToDecimal(payload.ActuallyPaid)
	if amount.IsZero() {
		amount = numberToDecimal(payload.PayAmount)
	}

	return &domain.WebhookEvent{
		Gateway:           gatewayName,
		ExternalPaymentID: payload.PaymentID.String(),
		OrderRef:          payload.OrderID,
		Status:            status,
		ActuallyPaid:      amount,
		PaidFiat:          numberToDecimal(payload.PaidFiat),
		PayCurrency:       strings.ToLower(payload.PayCurrency),
		TxHash:            payload.PayinHash,
	}, nil
}

// mapStatus normalizes provider statuses onto the domain state machine.
func mapStatus(s string) domain.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "waiting":
		return domain.StatusWaiting
	case "confirming", "partially_paid":
		return domain.StatusConfirming
	case "confirmed", "sending":
		return domain.StatusConfirmed
	case "finished":
		return domain.StatusFinished
	case "expired":
		return domain.StatusExpired
	case "failed":
		return domain.StatusFailed
	case "refunded":
		return domain.StatusRefunded
	}
	return domain.PaymentStatus(strings.ToLower(strings.TrimSpace(s)))
}

func numberToDecimal(n json.Number) decimal.Decimal {
	if n.String() == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

package coinpay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"deposit-service/internal/domain"
	"deposit-service/pkg/xerrors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const gatewayName = "coinpay"

// Provider adapts the permanent-address API to domain.Gateway. One bound
// instance per deployment: the pay currency comes from deployment config.
type Provider struct {
	client      *Client
	secret      string
	ipnURL      string
	payCurrency string
	logger      *zap.Logger
}

func NewProvider(client *Client, secret, ipnURL string, logger *zap.Logger) *Provider {
	return &Provider{
		client: client,
		secret: secret,
		ipnURL: ipnURL,
		logger: logger,
	}
}

// Bind returns a copy tied to a deployment's pay currency.
func (p *Provider) Bind(payCurrency string) *Provider {
	bound := *p
	bound.payCurrency = payCurrency
	return &bound
}

func (p *Provider) Name() string             { return gatewayName }
func (p *Provider) Kind() domain.GatewayKind { return domain.KindPermanentAddress }

func (p *Provider) IsConfigured() bool {
	return p.client.APIKey != "" && p.secret != ""
}

func (p *Provider) CreateDepositAddress(ctx context.Context, userID string) (*domain.DepositAddressResult, error) {
	resp, err := p.client.getCallbackAddress(ctx, p.payCurrency, userID, p.ipnURL)
	if err != nil {
		return nil, xerrors.NewGatewayError(gatewayName, "create deposit address", err)
	}

	return &domain.DepositAddressResult{
		Address:     resp.Data.Address,
		ExtraID:     resp.Data.DestTag,
		IsShared:    false,
		IsPermanent: true,
	}, nil
}

// CreateInvoice is never valid on a permanent-address gateway.
func (p *Provider) CreateInvoice(ctx context.Context, params domain.InvoiceParams) (*domain.InvoiceResult, error) {
	return nil, xerrors.ErrInvoiceNotSupported
}

func (p *Provider) GetPaymentStatus(ctx context.Context, externalPaymentID string) (*domain.PaymentStatusResult, error) {
	return nil, xerrors.ErrInvoiceNotSupported
}

func (p *Provider) GetMinimumPayAmount(ctx context.Context, fiatCurrency, payCurrency string) (decimal.Decimal, decimal.Decimal, error) {
	return decimal.Zero, decimal.Zero, xerrors.ErrNoMinimumAmount
}

func (p *Provider) ParseWebhook(header http.Header, body []byte) (*domain.WebhookEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, xerrors.ErrMalformedPayload
	}

	if err := VerifyCallback(p.secret, payload); err != nil {
		if canonical, cerr := canonicalCallback(payload); cerr == nil {
			p.logger.Debug("callback signature mismatch",
				zap.String("computed", computeCallbackSignature(p.secret, canonical)),
				zap.Any("received", payload[signatureField]))
		}
		return nil, err
	}

	txnID := stringField(payload, "txn_id")
	status := mapStatus(stringField(payload, "status"))
	currency := strings.ToLower(stringField(payload, "currency"))
	amount := decimalField(payload, "amount")
	if txnID == "" || !status.IsValid() || currency == "" || amount.IsZero() {
		return nil, xerrors.ErrMalformedPayload
	}

	return &domain.WebhookEvent{
		Gateway:           gatewayName,
		ExternalPaymentID: txnID,
		Status:            status,
		ActuallyPaid:      amount,
		PaidFiat:          decimalField(payload, "fiat_amount"),
		PayCurrency:       currency,
		TxHash:            stringField(payload, "txid"),
	}, nil
}

func mapStatus(s string) domain.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return domain.StatusConfirming
	case "confirmed":
		return domain.StatusConfirmed
	case "completed":
		return domain.StatusFinished
	case "failed", "cancelled":
		return domain.StatusFailed
	case "refunded":
		return domain.StatusRefunded
	}
	return domain.PaymentStatus(strings.ToLower(strings.TrimSpace(s)))
}

func stringField(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func decimalField(payload map[string]interface{}, key string) decimal.Decimal {
	switch v := payload[key].(type) {
	case string:
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	case json.Number:
		if d, err := decimal.NewFromString(v.String()); err == nil {
			return d
		}
	}
	return decimal.Zero
}

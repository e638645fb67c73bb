package internalgw

import (
	"context"
	"encoding/json"
	"net/http"

	"deposit-service/internal/domain"
	"deposit-service/pkg/xerrors"

	"github.com/shopspring/decimal"
)

const gatewayName = "internal"

// Provider hands out a pre-configured shared address. It is the only
// gateway allowed to return IsShared=true, and it can never start an
// invoice or receive webhooks.
type Provider struct {
	address string
	extraID string
}

func NewProvider(address, extraID string) *Provider {
	return &Provider{address: address, extraID: extraID}
}

// deploymentConfig optionally overrides the shared address per deployment.
type deploymentConfig struct {
	Address string `json:"address"`
	ExtraID string `json:"extra_id"`
}

// Bind applies a deployment's config blob override, if any.
func (p *Provider) Bind(gatewayConfig []byte) *Provider {
	if len(gatewayConfig) == 0 {
		return p
	}
	var cfg deploymentConfig
	if err := json.Unmarshal(gatewayConfig, &cfg); err != nil || cfg.Address == "" {
		return p
	}
	return &Provider{address: cfg.Address, extraID: cfg.ExtraID}
}

func (p *Provider) Name() string             { return gatewayName }
func (p *Provider) Kind() domain.GatewayKind { return domain.KindInternalShared }

func (p *Provider) IsConfigured() bool { return p.address != "" }

func (p *Provider) CreateDepositAddress(ctx context.Context, userID string) (*domain.DepositAddressResult, error) {
	if p.address == "" {
		return nil, xerrors.ErrGatewayNotConfigured
	}
	return &domain.DepositAddressResult{
		Address:     p.address,
		ExtraID:     p.extraID,
		IsShared:    true,
		IsPermanent: true,
	}, nil
}

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
	return nil, xerrors.ErrUnknownGateway
}

package provider

import (
	"deposit-service/internal/domain"
	"deposit-service/internal/provider/coinpay"
	"deposit-service/internal/provider/internalgw"
	"deposit-service/internal/provider/nowpay"
	"deposit-service/pkg/xerrors"
)

// Registry selects the concrete gateway variant for a deployment at call
// time. The set is closed: one invoice gateway, one permanent-address
// gateway, one internal shared fallback.
type Registry struct {
	nowpay   *nowpay.Provider
	coinpay  *coinpay.Provider
	internal *internalgw.Provider
}

func NewRegistry(np *nowpay.Provider, cp *coinpay.Provider, in *internalgw.Provider) *Registry {
	return &Registry{nowpay: np, coinpay: cp, internal: in}
}

// Resolve binds an adapter to a deployment's gateway name and config.
func (r *Registry) Resolve(dep *domain.DeploymentTarget) (domain.Gateway, error) {
	switch dep.Gateway {
	case r.nowpay.Name():
		return r.nowpay, nil
	case r.coinpay.Name():
		return r.coinpay.Bind(dep.PayCurrency), nil
	case r.internal.Name():
		return r.internal.Bind(dep.GatewayConfig), nil
	}
	return nil, xerrors.ErrUnknownGateway
}

// ByName resolves the webhook-receiving gateways; the internal gateway has
// no webhook surface.
func (r *Registry) ByName(name string) (domain.Gateway, error) {
	switch name {
	case r.nowpay.Name():
		return r.nowpay, nil
	case r.coinpay.Name():
		return r.coinpay, nil
	}
	return nil, xerrors.ErrUnknownGateway
}

package deposit

import (
	"context"

	"deposit-service/internal/domain"
	"deposit-service/internal/repository"
	"deposit-service/pkg/xerrors"

	"go.uber.org/zap"
)

// GatewayResolver selects the concrete adapter for a deployment or a
// webhook's gateway name. Implemented by provider.Registry.
type GatewayResolver interface {
	Resolve(dep *domain.DeploymentTarget) (domain.Gateway, error)
	ByName(name string) (domain.Gateway, error)
}

// ProvisionError is one deployment's failure; provisioning of the other
// deployments carries on.
type ProvisionError struct {
	DeploymentID int64  `json:"deployment_id"`
	Symbol       string `json:"symbol"`
	Network      string `json:"network"`
	Error        string `json:"error"`
}

type ProvisionResult struct {
	Addresses []*domain.DepositAddress `json:"addresses"`
	Skipped   int                      `json:"skipped"`
	Errors    []ProvisionError         `json:"errors"`
}

// Provisioner creates exactly one deposit address per (user, deployment),
// skipping deployments that already have one.
type Provisioner struct {
	deployments repository.DeploymentRepo
	addresses   repository.AddressRepo
	ledger      repository.LedgerRepo
	resolver    GatewayResolver
	logger      *zap.Logger
}

func NewProvisioner(
	deployments repository.DeploymentRepo,
	addresses repository.AddressRepo,
	ledger repository.LedgerRepo,
	resolver GatewayResolver,
	logger *zap.Logger,
) *Provisioner {
	return &Provisioner{
		deployments: deployments,
		addresses:   addresses,
		ledger:      ledger,
		resolver:    resolver,
		logger:      logger,
	}
}

// Provision is a safe no-op for a fully provisioned user: zero new rows,
// everything reported as skipped.
func (p *Provisioner) Provision(ctx context.Context, userID string, baseTokenID *int64) (*ProvisionResult, error) {
	deployments, err := p.deployments.ListActive(ctx, baseTokenID)
	if err != nil {
		return nil, err
	}

	existing, err := p.addresses.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	provisioned := make(map[int64]bool, len(existing))
	for _, a := range existing {
		provisioned[a.DeploymentID] = true
	}

	result := &ProvisionResult{Addresses: []*domain.DepositAddress{}, Errors: []ProvisionError{}}
	for _, dep := range deployments {
		if dep.RequiresInvoice {
			// Invoice-flow deployments have no durable address to mint.
			continue
		}
		if provisioned[dep.ID] {
			result.Skipped++
			continue
		}

		addr, err := p.provisionOne(ctx, userID, dep)
		if err != nil {
			p.logger.Warn("address provisioning failed for deployment",
				zap.String("user_id", userID),
				zap.Int64("deployment_id", dep.ID),
				zap.String("gateway", dep.Gateway),
				zap.Error(err))
			result.Errors = append(result.Errors, ProvisionError{
				DeploymentID: dep.ID,
				Symbol:       dep.Symbol,
				Network:      dep.Network,
				Error:        err.Error(),
			})
			continue
		}
		if addr == nil {
			// Lost a concurrent provisioning race; the row exists.
			result.Skipped++
			continue
		}
		result.Addresses = append(result.Addresses, addr)
	}

	p.ensureLedgerRows(ctx, userID, deployments)
	return result, nil
}

// ListAddresses returns every address already minted for the user.
func (p *Provisioner) ListAddresses(ctx context.Context, userID string) ([]*domain.DepositAddress, error) {
	return p.addresses.ListByUser(ctx, userID)
}

func (p *Provisioner) provisionOne(ctx context.Context, userID string, dep *domain.DeploymentTarget) (*domain.DepositAddress, error) {
	gw, err := p.resolver.Resolve(dep)
	if err != nil {
		return nil, err
	}
	// A misconfigured external gateway fails loudly; silently handing out
	// the shared fallback address would misattribute funds.
	if !gw.IsConfigured() {
		return nil, xerrors.ErrGatewayNotConfigured
	}

	res, err := gw.CreateDepositAddress(ctx, userID)
	if err != nil {
		return nil, err
	}

	addr := &domain.DepositAddress{
		UserID:       userID,
		DeploymentID: dep.ID,
		Address:      res.Address,
		ExtraID:      res.ExtraID,
		IsShared:     res.IsShared,
		IsPermanent:  res.IsPermanent,
	}
	created, err := p.addresses.Create(ctx, addr)
	if err != nil {
		if xerrors.IsUniqueViolation(err) {
			return nil, nil
		}
		return nil, err
	}
	if !created {
		return nil, nil
	}
	return addr, nil
}

// ensureLedgerRows upserts a zero balance and a visibility preference for
// every base asset the user can now deposit into. Idempotent; failures
// are logged, not fatal to provisioning.
func (p *Provisioner) ensureLedgerRows(ctx context.Context, userID string, deployments []*domain.DeploymentTarget) {
	seen := make(map[int64]bool, len(deployments))
	for _, dep := range deployments {
		if seen[dep.BaseTokenID] {
			continue
		}
		seen[dep.BaseTokenID] = true

		if err := p.ledger.EnsureBalance(ctx, userID, dep.BaseTokenID); err != nil {
			p.logger.Warn("ensure balance row failed",
				zap.String("user_id", userID),
				zap.Int64("base_token_id", dep.BaseTokenID),
				zap.Error(err))
		}
		if err := p.ledger.EnsureAssetPref(ctx, userID, dep.BaseTokenID); err != nil {
			p.logger.Warn("ensure asset pref failed",
				zap.String("user_id", userID),
				zap.Int64("base_token_id", dep.BaseTokenID),
				zap.Error(err))
		}
	}
}

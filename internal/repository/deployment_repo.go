package repository

import (
	"context"
	"errors"

	"deposit-service/internal/domain"
	"deposit-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DeploymentRepo interface {
	ListActive(ctx context.Context, baseTokenID *int64) ([]*domain.DeploymentTarget, error)
	GetByID(ctx context.Context, id int64) (*domain.DeploymentTarget, error)
	GetInvoiceDeployment(ctx context.Context, baseTokenID int64) (*domain.DeploymentTarget, error)
}

type deploymentRepo struct {
	db *pgxpool.Pool
}

func NewDeploymentRepository(db *pgxpool.Pool) DeploymentRepo {
	return &deploymentRepo{db: db}
}

const deploymentColumns = `id, base_token_id, symbol, network, pay_currency, gateway,
		gateway_config, is_permanent, requires_invoice, active`

func scanDeployment(row pgx.Row) (*domain.DeploymentTarget, error) {
	var d domain.DeploymentTarget
	err := row.Scan(&d.ID, &d.BaseTokenID, &d.Symbol, &d.Network, &d.PayCurrency,
		&d.Gateway, &d.GatewayConfig, &d.IsPermanent, &d.RequiresInvoice, &d.Active)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *deploymentRepo) ListActive(ctx context.Context, baseTokenID *int64) ([]*domain.DeploymentTarget, error) {
	query := `SELECT ` + deploymentColumns + `
		FROM deployment_targets
		WHERE active = TRUE`
	args := []interface{}{}
	if baseTokenID != nil {
		query += ` AND base_token_id = $1`
		args = append(args, *baseTokenID)
	}
	query += ` ORDER BY id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deployments []*domain.DeploymentTarget
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

func (r *deploymentRepo) GetByID(ctx context.Context, id int64) (*domain.DeploymentTarget, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployment_targets WHERE id = $1`
	d, err := scanDeployment(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrDeploymentNotFound
	}
	return d, err
}

// GetInvoiceDeployment resolves the active invoice-flow deployment for a
// base token.
func (r *deploymentRepo) GetInvoiceDeployment(ctx context.Context, baseTokenID int64) (*domain.DeploymentTarget, error) {
	query := `SELECT ` + deploymentColumns + `
		FROM deployment_targets
		WHERE base_token_id = $1 AND active = TRUE
		ORDER BY requires_invoice DESC, id
		LIMIT 1`
	d, err := scanDeployment(r.db.QueryRow(ctx, query, baseTokenID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrDeploymentNotFound
	}
	return d, err
}

package repository

import (
	"context"
	"errors"

	"deposit-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AddressRepo interface {
	// Create persists a new address. Returns created=false when the
	// (user, deployment) row already exists; concurrent provisioning
	// races resolve through the unique constraint.
	Create(ctx context.Context, addr *domain.DepositAddress) (created bool, err error)
	ListByUser(ctx context.Context, userID string) ([]*domain.DepositAddress, error)
}

type addressRepo struct {
	db *pgxpool.Pool
}

func NewAddressRepository(db *pgxpool.Pool) AddressRepo {
	return &addressRepo{db: db}
}

func (r *addressRepo) Create(ctx context.Context, addr *domain.DepositAddress) (bool, error) {
	query := `
		INSERT INTO deposit_addresses
		(user_id, deployment_id, address, extra_id, is_shared, is_permanent)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, deployment_id) DO NOTHING
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		addr.UserID, addr.DeploymentID, addr.Address, addr.ExtraID,
		addr.IsShared, addr.IsPermanent,
	).Scan(&addr.ID, &addr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Row already provisioned; treat as a no-op.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *addressRepo) ListByUser(ctx context.Context, userID string) ([]*domain.DepositAddress, error) {
	query := `
		SELECT id, user_id, deployment_id, address, extra_id, is_shared, is_permanent, created_at
		FROM deposit_addresses
		WHERE user_id = $1
		ORDER BY deployment_id
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var addrs []*domain.DepositAddress
	for rows.Next() {
		var a domain.DepositAddress
		if err := rows.Scan(&a.ID, &a.UserID, &a.DeploymentID, &a.Address,
			&a.ExtraID, &a.IsShared, &a.IsPermanent, &a.CreatedAt); err != nil {
			return nil, err
		}
		addrs = append(addrs, &a)
	}
	return addrs, rows.Err()
}

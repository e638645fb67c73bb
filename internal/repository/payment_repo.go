package repository

import (
	"context"
	"errors"

	"deposit-service/internal/domain"
	"deposit-service/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// StatusPatch carries the provider-reported fields applied alongside a
// status transition. Zero values leave the stored column untouched.
type StatusPatch struct {
	ActuallyPaid decimal.Decimal
	PaidFiat     decimal.Decimal
	TxHash       string
}

type PaymentRepo interface {
	Create(ctx context.Context, p *domain.DepositPayment) error
	GetByID(ctx context.Context, id string) (*domain.DepositPayment, error)
	GetByExternalID(ctx context.Context, gateway, externalID string) (*domain.DepositPayment, error)
	// GetActive returns the single non-terminal, non-expired payment for
	// (user, token), or nil.
	GetActive(ctx context.Context, userID string, baseTokenID int64) (*domain.DepositPayment, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.DepositPayment, error)

	// TransitionStatus is the atomic compare-and-set: the row moves to
	// status `to` only if its current status is in `from`. Returns whether
	// this call won the transition.
	TransitionStatus(ctx context.Context, id string, from []domain.PaymentStatus, to domain.PaymentStatus, patch StatusPatch) (bool, error)

	// MarkExpired force-expires a waiting payment whose window has passed.
	MarkExpired(ctx context.Context, id string) (bool, error)

	// ListUncredited finds finished payments whose credit step has not
	// completed, for the reconciliation retry path.
	ListUncredited(ctx context.Context, limit int) ([]*domain.DepositPayment, error)
}

type paymentRepo struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) PaymentRepo {
	return &paymentRepo{db: db}
}

const paymentColumns = `id, user_id, deployment_id, base_token_id, gateway,
		external_payment_id, order_ref, pay_address, extra_id, expected_amount,
		pay_currency, status, is_minimum_amount, minimum_amount_usd,
		actually_paid, actually_paid_fiat, tx_hash, expires_at, credited_at,
		created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.DepositPayment, error) {
	var p domain.DepositPayment
	err := row.Scan(&p.ID, &p.UserID, &p.DeploymentID, &p.BaseTokenID, &p.Gateway,
		&p.ExternalPaymentID, &p.OrderRef, &p.PayAddress, &p.ExtraID, &p.ExpectedAmount,
		&p.PayCurrency, &p.Status, &p.IsMinimumAmount, &p.MinimumAmountUSD,
		&p.ActuallyPaid, &p.ActuallyPaidFiat, &p.TxHash, &p.ExpiresAt, &p.CreditedAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepo) Create(ctx context.Context, p *domain.DepositPayment) error {
	query := `
		INSERT INTO deposit_payments
		(id, user_id, deployment_id, base_token_id, gateway, external_payment_id,
		 order_ref, pay_address, extra_id, expected_amount, pay_currency, status,
		 is_minimum_amount, minimum_amount_usd, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`
	return r.db.QueryRow(ctx, query,
		p.ID, p.UserID, p.DeploymentID, p.BaseTokenID, p.Gateway, p.ExternalPaymentID,
		p.OrderRef, p.PayAddress, p.ExtraID, p.ExpectedAmount, p.PayCurrency, p.Status,
		p.IsMinimumAmount, p.MinimumAmountUSD, p.ExpiresAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *paymentRepo) GetByID(ctx context.Context, id string) (*domain.DepositPayment, error) {
	query := `SELECT ` + paymentColumns + ` FROM deposit_payments WHERE id = $1`
	p, err := scanPayment(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrPaymentNotFound
	}
	return p, err
}

func (r *paymentRepo) GetByExternalID(ctx context.Context, gateway, externalID string) (*domain.DepositPayment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM deposit_payments
		WHERE gateway = $1 AND external_payment_id = $2`
	p, err := scanPayment(r.db.QueryRow(ctx, query, gateway, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrPaymentNotFound
	}
	return p, err
}

func (r *paymentRepo) GetActive(ctx context.Context, userID string, baseTokenID int64) (*domain.DepositPayment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM deposit_payments
		WHERE user_id = $1 AND base_token_id = $2
		  AND status NOT IN ('finished','expired','failed','refunded')
		  AND (status <> 'waiting' OR expires_at > NOW())
		ORDER BY created_at DESC
		LIMIT 1`
	p, err := scanPayment(r.db.QueryRow(ctx, query, userID, baseTokenID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (r *paymentRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.DepositPayment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM deposit_payments
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*domain.DepositPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *paymentRepo) TransitionStatus(ctx context.Context, id string, from []domain.PaymentStatus, to domain.PaymentStatus, patch StatusPatch) (bool, error) {
	fromStrs := make([]string, 0, len(from))
	for _, s := range from {
		fromStrs = append(fromStrs, string(s))
	}

	query := `
		UPDATE deposit_payments
		SET status = $2,
		    actually_paid = CASE WHEN $3::numeric > 0 THEN $3::numeric ELSE actually_paid END,
		    actually_paid_fiat = CASE WHEN $4::numeric > 0 THEN $4::numeric ELSE actually_paid_fiat END,
		    tx_hash = CASE WHEN $5 <> '' THEN $5 ELSE tx_hash END,
		    updated_at = NOW()
		WHERE id = $1
		  AND status <> $2
		  AND status NOT IN ('finished','expired','failed','refunded')
		  AND status = ANY($6)
	`
	tag, err := r.db.Exec(ctx, query, id, to,
		patch.ActuallyPaid, patch.PaidFiat, patch.TxHash, fromStrs)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentRepo) MarkExpired(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE deposit_payments
		SET status = 'expired', updated_at = NOW()
		WHERE id = $1 AND status = 'waiting' AND expires_at < NOW()
	`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *paymentRepo) ListUncredited(ctx context.Context, limit int) ([]*domain.DepositPayment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM deposit_payments
		WHERE status = 'finished' AND credited_at IS NULL
		ORDER BY updated_at
		LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*domain.DepositPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

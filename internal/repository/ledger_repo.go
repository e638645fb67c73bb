package repository

import (
	"context"

	"deposit-service/internal/domain"
	"deposit-service/pkg/id"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerRepo wraps the balance store's credit primitive. The primitive
// itself has no idempotency key, so CreditDeposit gates it on the
// payment's credited_at flag inside one transaction.
type LedgerRepo interface {
	// EnsureBalance upserts a zero-balance row; duplicates are ignored.
	EnsureBalance(ctx context.Context, userID string, baseTokenID int64) error
	// EnsureAssetPref upserts the asset visibility preference row.
	EnsureAssetPref(ctx context.Context, userID string, baseTokenID int64) error

	// CreditDeposit applies a finished payment to the user's balance at
	// most once: flips credited_at, increments the balance and writes the
	// audit transaction in a single transaction. Returns credited=false
	// when the payment was already credited (or is not finished).
	CreditDeposit(ctx context.Context, p *domain.DepositPayment) (credited bool, err error)
}

type ledgerRepo struct {
	db *pgxpool.Pool
}

func NewLedgerRepository(db *pgxpool.Pool) LedgerRepo {
	return &ledgerRepo{db: db}
}

func (r *ledgerRepo) EnsureBalance(ctx context.Context, userID string, baseTokenID int64) error {
	query := `
		INSERT INTO balances (user_id, base_token_id, balance)
		VALUES ($1, $2, 0)
		ON CONFLICT (user_id, base_token_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, userID, baseTokenID)
	return err
}

func (r *ledgerRepo) EnsureAssetPref(ctx context.Context, userID string, baseTokenID int64) error {
	query := `
		INSERT INTO asset_prefs (user_id, base_token_id, visible)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (user_id, base_token_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, userID, baseTokenID)
	return err
}

func (r *ledgerRepo) CreditDeposit(ctx context.Context, p *domain.DepositPayment) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	// The credited_at flip is the at-most-once gate: a replay, or the
	// polling path racing the webhook path, affects zero rows here.
	tag, err := tx.Exec(ctx, `
		UPDATE deposit_payments
		SET credited_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'finished' AND credited_at IS NULL
	`, p.ID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO balances (user_id, base_token_id, balance)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, base_token_id)
		DO UPDATE SET balance = balances.balance + EXCLUDED.balance, updated_at = NOW()
	`, p.UserID, p.BaseTokenID, p.ActuallyPaid)
	if err != nil {
		return false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_transactions
		(id, user_id, base_token_id, kind, amount, currency, deposit_payment_id, tx_hash)
		VALUES ($1, $2, $3, 'deposit', $4, $5, $6, $7)
	`, id.GenerateULID("txn"), p.UserID, p.BaseTokenID,
		p.ActuallyPaid, p.PayCurrency, p.ID, p.TxHash)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

package deposit

import (
	"context"
	"fmt"

	"deposit-service/internal/domain"
	"deposit-service/internal/repository"

	"go.uber.org/zap"
)

// Creditor applies a finished deposit payment to the user's balance at
// most once. The caller only reaches it after winning the status
// compare-and-set, but the credited_at gate inside the ledger transaction
// holds on its own: webhook and polling paths racing to observe
// "finished" still produce a single credit.
type Creditor struct {
	payments repository.PaymentRepo
	ledger   repository.LedgerRepo
	logger   *zap.Logger
}

func NewCreditor(payments repository.PaymentRepo, ledger repository.LedgerRepo, logger *zap.Logger) *Creditor {
	return &Creditor{
		payments: payments,
		ledger:   ledger,
		logger:   logger,
	}
}

// Credit credits the payment's actually-paid amount. A failure leaves the
// payment discoverable as finished-and-uncredited so the credit step can
// be retried; it is never surfaced to the user as failed.
func (c *Creditor) Credit(ctx context.Context, p *domain.DepositPayment) error {
	credited, err := c.ledger.CreditDeposit(ctx, p)
	if err != nil {
		c.logger.Error("deposit credit failed, payment remains finished-uncredited",
			zap.String("payment_id", p.ID),
			zap.String("user_id", p.UserID),
			zap.Error(err))
		return fmt.Errorf("credit deposit %s: %w", p.ID, err)
	}
	if !credited {
		c.logger.Debug("deposit already credited",
			zap.String("payment_id", p.ID))
		return nil
	}

	c.logger.Info("deposit credited",
		zap.String("payment_id", p.ID),
		zap.String("user_id", p.UserID),
		zap.Int64("base_token_id", p.BaseTokenID),
		zap.String("amount", p.ActuallyPaid.String()),
		zap.String("currency", p.PayCurrency))
	return nil
}

// RetryUncredited re-runs the credit step for finished payments whose
// earlier credit attempt failed. Returns how many were credited.
func (c *Creditor) RetryUncredited(ctx context.Context, limit int) (int, error) {
	pending, err := c.payments.ListUncredited(ctx, limit)
	if err != nil {
		return 0, err
	}

	credited := 0
	for _, p := range pending {
		ok, err := c.ledger.CreditDeposit(ctx, p)
		if err != nil {
			c.logger.Warn("credit retry failed",
				zap.String("payment_id", p.ID),
				zap.Error(err))
			continue
		}
		if ok {
			credited++
		}
	}
	return credited, nil
}

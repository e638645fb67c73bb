package deposit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"deposit-service/internal/domain"
	"deposit-service/internal/repository"
	"deposit-service/pkg/id"
	"deposit-service/pkg/xerrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	nsInvoiceLock = "dps:invoice_lock"
	nsMinAmount   = "dps:min_amount"

	invoiceLockTTL = 30 * time.Second
	minAmountTTL   = 10 * time.Minute
)

// Store is the injected, explicitly scoped key-value store backing the
// invoice-creation lock and the minimum-amount cache (pkg/cache in
// production).
type Store interface {
	Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error
	SetNX(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) (bool, error)
	Get(ctx context.Context, namespace, key string) (string, error)
	Delete(ctx context.Context, namespace, key string) error
}

// TrackerConfig is the tracker's slice of app configuration.
type TrackerConfig struct {
	PublicBaseURL  string
	FiatCurrency   string        // e.g. "usd"
	FallbackWindow time.Duration // invoice validity when the provider gives no estimate
}

// Tracker owns the invoice payment lifecycle: creation, refresh, expiry
// enforcement and webhook-driven transitions.
type Tracker struct {
	payments    repository.PaymentRepo
	deployments repository.DeploymentRepo
	resolver    GatewayResolver
	store       Store
	creditor    *Creditor
	cfg         TrackerConfig
	logger      *zap.Logger
	now         func() time.Time
}

func NewTracker(
	payments repository.PaymentRepo,
	deployments repository.DeploymentRepo,
	resolver GatewayResolver,
	store Store,
	creditor *Creditor,
	cfg TrackerConfig,
	logger *zap.Logger,
) *Tracker {
	if cfg.FallbackWindow <= 0 {
		cfg.FallbackWindow = 20 * time.Minute
	}
	if cfg.FiatCurrency == "" {
		cfg.FiatCurrency = "usd"
	}
	return &Tracker{
		payments:    payments,
		deployments: deployments,
		resolver:    resolver,
		store:       store,
		creditor:    creditor,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateInvoice starts a time-boxed deposit for (user, token). At most one
// active invoice may exist per pair: an existing one is returned as-is
// instead of creating a duplicate.
func (t *Tracker) CreateInvoice(ctx context.Context, userID string, baseTokenID int64, amountUSD decimal.Decimal) (*domain.DepositPayment, bool, error) {
	dep, err := t.deployments.GetInvoiceDeployment(ctx, baseTokenID)
	if err != nil {
		return nil, false, err
	}
	if !dep.RequiresInvoice {
		return nil, false, xerrors.ErrInvoiceFlowNotNeeded
	}

	if active, err := t.payments.GetActive(ctx, userID, baseTokenID); err != nil {
		return nil, false, err
	} else if active != nil {
		return active, false, nil
	}

	// Serialize the creation window so rapid client retries cannot open
	// duplicate invoices against the gateway.
	lockKey := fmt.Sprintf("%s:%d", userID, baseTokenID)
	locked, err := t.store.SetNX(ctx, nsInvoiceLock, lockKey, 1, invoiceLockTTL)
	if err == nil && !locked {
		if active, qerr := t.payments.GetActive(ctx, userID, baseTokenID); qerr == nil && active != nil {
			return active, false, nil
		}
		return nil, false, xerrors.ErrInvoiceInProgress
	}
	defer func() { _ = t.store.Delete(ctx, nsInvoiceLock, lockKey) }()

	gw, err := t.resolver.Resolve(dep)
	if err != nil {
		return nil, false, err
	}
	if gw.Kind() != domain.KindInvoice {
		return nil, false, xerrors.ErrInvoiceNotSupported
	}
	if !gw.IsConfigured() {
		return nil, false, xerrors.ErrGatewayNotConfigured
	}

	minPay, minFiat, err := t.minimumPayAmount(ctx, gw, dep.PayCurrency)
	if err != nil {
		return nil, false, err
	}

	fiatAmount := amountUSD
	isMinimum := false
	if fiatAmount.LessThanOrEqual(decimal.Zero) || fiatAmount.LessThan(minFiat) {
		// Below or without an explicit amount the gateway minimum becomes
		// the invoice amount.
		fiatAmount = minFiat
		isMinimum = true
	}

	orderRef := id.GenerateOrderRef("dep")
	inv, err := gw.CreateInvoice(ctx, domain.InvoiceParams{
		FiatAmount:   fiatAmount,
		FiatCurrency: t.cfg.FiatCurrency,
		PayCurrency:  dep.PayCurrency,
		OrderRef:     orderRef,
		CallbackURL:  strings.TrimRight(t.cfg.PublicBaseURL, "/") + "/webhooks/" + gw.Name(),
	})
	if err != nil {
		return nil, false, err
	}

	expiresAt := inv.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = t.now().Add(t.cfg.FallbackWindow)
	}

	expectedAmount := inv.PayAmount
	if expectedAmount.IsZero() {
		expectedAmount = minPay
	}

	p := &domain.DepositPayment{
		ID:                uuid.NewString(),
		UserID:            userID,
		DeploymentID:      dep.ID,
		BaseTokenID:       baseTokenID,
		Gateway:           gw.Name(),
		ExternalPaymentID: inv.ExternalPaymentID,
		OrderRef:          orderRef,
		PayAddress:        inv.PayAddress,
		ExtraID:           inv.ExtraID,
		ExpectedAmount:    expectedAmount,
		PayCurrency:       dep.PayCurrency,
		Status:            domain.StatusWaiting,
		IsMinimumAmount:   isMinimum,
		MinimumAmountUSD:  minFiat,
		ExpiresAt:         expiresAt.UTC(),
	}
	if err := t.payments.Create(ctx, p); err != nil {
		return nil, false, err
	}

	t.logger.Info("invoice created",
		zap.String("payment_id", p.ID),
		zap.String("user_id", userID),
		zap.Int64("base_token_id", baseTokenID),
		zap.String("gateway", p.Gateway),
		zap.String("external_payment_id", p.ExternalPaymentID),
		zap.String("expected_amount", p.ExpectedAmount.String()),
		zap.Bool("is_minimum_amount", isMinimum),
		zap.Time("expires_at", p.ExpiresAt))
	return p, true, nil
}

// Get returns the caller's payment, optionally refreshing from the
// gateway first, and always enforcing local expiry afterwards.
func (t *Tracker) Get(ctx context.Context, userID, paymentID string, refresh bool) (*domain.DepositPayment, error) {
	p, err := t.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, xerrors.ErrForbidden
	}

	if refresh && !p.Status.IsTerminal() {
		if err := t.refresh(ctx, p); err != nil {
			// A gateway hiccup must not hide the local state.
			t.logger.Warn("status refresh failed",
				zap.String("payment_id", p.ID),
				zap.Error(err))
		} else if updated, gerr := t.payments.GetByID(ctx, p.ID); gerr == nil {
			p = updated
		}
	}

	return t.enforceExpiry(ctx, p)
}

// GetActive returns the single active payment for (user, token), expiring
// it on read when its window has lapsed. A nil payment means none.
func (t *Tracker) GetActive(ctx context.Context, userID string, baseTokenID int64) (*domain.DepositPayment, error) {
	p, err := t.payments.GetActive(ctx, userID, baseTokenID)
	if err != nil || p == nil {
		return p, err
	}
	return t.enforceExpiry(ctx, p)
}

// List returns the caller's payment history, newest first.
func (t *Tracker) List(ctx context.Context, userID string, limit, offset int) ([]*domain.DepositPayment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return t.payments.ListByUser(ctx, userID, limit, offset)
}

// refresh pulls the gateway's view and applies any resulting transition.
func (t *Tracker) refresh(ctx context.Context, p *domain.DepositPayment) error {
	gw, err := t.resolver.ByName(p.Gateway)
	if err != nil {
		return err
	}

	st, err := gw.GetPaymentStatus(ctx, p.ExternalPaymentID)
	if err != nil {
		return err
	}
	if st.Status == p.Status {
		return nil
	}

	return t.applyTransition(ctx, p, st.Status, repository.StatusPatch{
		ActuallyPaid: st.ActuallyPaid,
		PaidFiat:     st.PaidFiat,
		TxHash:       st.PayinTxHash,
	})
}

// ApplyWebhook applies a verified gateway notification. Unknown payments
// and idempotent re-deliveries are silent no-ops; only storage errors
// propagate.
func (t *Tracker) ApplyWebhook(ctx context.Context, event *domain.WebhookEvent) error {
	p, err := t.payments.GetByExternalID(ctx, event.Gateway, event.ExternalPaymentID)
	if err != nil {
		if errors.Is(err, xerrors.ErrPaymentNotFound) {
			// Stale or misdirected webhook; never crash processing.
			t.logger.Info("webhook for unknown payment ignored",
				zap.String("gateway", event.Gateway),
				zap.String("external_payment_id", event.ExternalPaymentID))
			return nil
		}
		return err
	}

	if p.Status == event.Status {
		return nil
	}
	if p.Status.IsTerminal() {
		if event.Status == domain.StatusFinished && p.Status == domain.StatusExpired {
			// A late successful payment on an expired invoice is never
			// reopened; it needs manual reconciliation.
			t.logger.Warn("finished notification for expired payment, manual reconciliation required",
				zap.String("payment_id", p.ID),
				zap.String("gateway", event.Gateway),
				zap.String("external_payment_id", event.ExternalPaymentID),
				zap.String("actually_paid", event.ActuallyPaid.String()),
				zap.String("tx_hash", event.TxHash))
		}
		return nil
	}

	return t.applyTransition(ctx, p, event.Status, repository.StatusPatch{
		ActuallyPaid: event.ActuallyPaid,
		PaidFiat:     event.PaidFiat,
		TxHash:       event.TxHash,
	})
}

// applyTransition performs the compare-and-set and, when this call wins a
// transition to finished, triggers the single credit.
func (t *Tracker) applyTransition(ctx context.Context, p *domain.DepositPayment, to domain.PaymentStatus, patch repository.StatusPatch) error {
	if !domain.CanTransition(p.Status, to) {
		t.logger.Debug("transition rejected",
			zap.String("payment_id", p.ID),
			zap.String("from", string(p.Status)),
			zap.String("to", string(to)))
		return nil
	}

	won, err := t.payments.TransitionStatus(ctx, p.ID, transitionSources(to), to, patch)
	if err != nil {
		return err
	}
	if !won {
		// A concurrent delivery got there first.
		return nil
	}

	t.logger.Info("payment transitioned",
		zap.String("payment_id", p.ID),
		zap.String("from", string(p.Status)),
		zap.String("to", string(to)))

	if to != domain.StatusFinished {
		return nil
	}

	updated, err := t.payments.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	return t.creditor.Credit(ctx, updated)
}

// enforceExpiry force-expires a waiting payment past its window so the
// client never sees a negative countdown against a waiting status.
func (t *Tracker) enforceExpiry(ctx context.Context, p *domain.DepositPayment) (*domain.DepositPayment, error) {
	if p.Status != domain.StatusWaiting || t.now().Before(p.ExpiresAt) {
		return p, nil
	}

	expired, err := t.payments.MarkExpired(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if expired {
		t.logger.Info("payment expired locally",
			zap.String("payment_id", p.ID))
		p.Status = domain.StatusExpired
		return p, nil
	}
	// Lost a race with another transition; return the current row.
	return t.payments.GetByID(ctx, p.ID)
}

// minimumPayAmount resolves the gateway minimum with a short-lived cache
// in front of the provider call.
func (t *Tracker) minimumPayAmount(ctx context.Context, gw domain.Gateway, payCurrency string) (decimal.Decimal, decimal.Decimal, error) {
	if cached, err := t.store.Get(ctx, nsMinAmount, payCurrency); err == nil && cached != "" {
		if pay, fiat, ok := parseMinAmount(cached); ok {
			return pay, fiat, nil
		}
	}

	pay, fiat, err := gw.GetMinimumPayAmount(ctx, t.cfg.FiatCurrency, payCurrency)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	_ = t.store.Set(ctx, nsMinAmount, payCurrency, pay.String()+"|"+fiat.String(), minAmountTTL)
	return pay, fiat, nil
}

func parseMinAmount(cached string) (decimal.Decimal, decimal.Decimal, bool) {
	parts := strings.SplitN(cached, "|", 2)
	if len(parts) != 2 {
		return decimal.Zero, decimal.Zero, false
	}
	pay, err1 := decimal.NewFromString(parts[0])
	fiat, err2 := decimal.NewFromString(parts[1])
	if err1 != nil || err2 != nil {
		return decimal.Zero, decimal.Zero, false
	}
	return pay, fiat, true
}

// transitionSources enumerates the legal predecessor states for a target
// status, mirroring domain.CanTransition for the SQL compare-and-set.
func transitionSources(to domain.PaymentStatus) []domain.PaymentStatus {
	switch to {
	case domain.StatusConfirming:
		return []domain.PaymentStatus{domain.StatusWaiting}
	case domain.StatusConfirmed:
		return []domain.PaymentStatus{domain.StatusWaiting, domain.StatusConfirming}
	case domain.StatusFinished:
		return []domain.PaymentStatus{domain.StatusWaiting, domain.StatusConfirming, domain.StatusConfirmed}
	case domain.StatusExpired:
		return []domain.PaymentStatus{domain.StatusWaiting}
	case domain.StatusFailed:
		return []domain.PaymentStatus{domain.StatusWaiting, domain.StatusConfirming}
	case domain.StatusRefunded:
		return []domain.PaymentStatus{domain.StatusWaiting, domain.StatusConfirming, domain.StatusConfirmed}
	}
	return nil
}

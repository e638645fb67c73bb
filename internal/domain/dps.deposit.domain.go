package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of an invoice deposit.
type PaymentStatus string

const (
	StatusWaiting    PaymentStatus = "waiting"
	StatusConfirming PaymentStatus = "confirming"
	StatusConfirmed  PaymentStatus = "confirmed"
	StatusFinished   PaymentStatus = "finished"
	StatusExpired    PaymentStatus = "expired"
	StatusFailed     PaymentStatus = "failed"
	StatusRefunded   PaymentStatus = "refunded"
)

// IsTerminal reports whether no further transitions are accepted.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusExpired, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

func (s PaymentStatus) IsValid() bool {
	switch s {
	case StatusWaiting, StatusConfirming, StatusConfirmed,
		StatusFinished, StatusExpired, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

var statusRank = map[PaymentStatus]int{
	StatusWaiting:    0,
	StatusConfirming: 1,
	StatusConfirmed:  2,
	StatusFinished:   3,
}

// CanTransition reports whether from → to is a legal state change.
// Terminal states accept nothing; success states only move forward;
// expired only leaves waiting; failed leaves waiting or confirming;
// refunded leaves any non-terminal state.
func CanTransition(from, to PaymentStatus) bool {
	if from.IsTerminal() || from == to || !to.IsValid() {
		return false
	}
	switch to {
	case StatusExpired:
		return from == StatusWaiting
	case StatusFailed:
		return from == StatusWaiting || from == StatusConfirming
	case StatusRefunded:
		return true
	case StatusWaiting:
		return false
	default:
		// confirming / confirmed / finished: forward only
		return statusRank[to] > statusRank[from]
	}
}

// GatewayKind distinguishes the closed set of gateway shapes.
type GatewayKind string

const (
	KindPermanentAddress GatewayKind = "permanent_address"
	KindInvoice          GatewayKind = "invoice"
	KindInternalShared   GatewayKind = "internal_shared"
)

// DeploymentTarget is the (base asset, network) pair a user can deposit
// into. Immutable reference data, not owned by this service.
type DeploymentTarget struct {
	ID              int64
	BaseTokenID     int64
	Symbol          string // e.g. USDT
	Network         string // e.g. TRON
	PayCurrency     string // gateway currency code, e.g. usdttrc20
	Gateway         string // gateway name, resolves an adapter
	GatewayConfig   []byte // raw per-deployment config blob
	IsPermanent     bool
	RequiresInvoice bool
	Active          bool
}

// DepositAddress is the one durable address per (user, deployment).
// Created once, never mutated, never deleted.
type DepositAddress struct {
	ID           int64
	UserID       string
	DeploymentID int64
	Address      string
	ExtraID      string // memo/tag for ledger-based assets
	IsShared     bool   // internal fallback gateway only
	IsPermanent  bool
	CreatedAt    time.Time
}

// DepositPayment is one invoice-flow deposit attempt.
type DepositPayment struct {
	ID                string // row id, uuid
	UserID            string
	DeploymentID      int64
	BaseTokenID       int64
	Gateway           string
	ExternalPaymentID string // gateway's identifier, unique per gateway
	OrderRef          string
	PayAddress        string
	ExtraID           string
	ExpectedAmount    decimal.Decimal
	PayCurrency       string
	Status            PaymentStatus
	IsMinimumAmount   bool
	MinimumAmountUSD  decimal.Decimal
	ActuallyPaid      decimal.Decimal
	ActuallyPaidFiat  decimal.Decimal
	TxHash            string
	ExpiresAt         time.Time
	CreditedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Active reports whether the payment still accepts funds: non-terminal and
// not past its expiry window.
func (p *DepositPayment) Active(now time.Time) bool {
	if p.Status.IsTerminal() {
		return false
	}
	if p.Status == StatusWaiting && now.After(p.ExpiresAt) {
		return false
	}
	return true
}

// ExpiresIn returns the remaining validity window clamped at zero; the
// client countdown must never see a negative value.
func (p *DepositPayment) ExpiresIn(now time.Time) int64 {
	d := p.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return int64(d.Seconds())
}

package xerrors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

func ParsePGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code // e.g. 23505 for unique_violation
	}
	return "unknown"
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation. Provisioning treats this as "already provisioned".
func IsUniqueViolation(err error) bool {
	return ParsePGErrorCode(err) == "23505"
}

// Generic
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
)

// Auth
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Gateways
var (
	ErrGatewayNotConfigured = errors.New("gateway not configured")
	ErrUnknownGateway       = errors.New("unknown gateway")
	ErrInvoiceNotSupported  = errors.New("gateway does not support invoices")
	ErrAddressNotSupported  = errors.New("gateway does not issue deposit addresses")
)

// Webhooks
var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrBadSignature     = errors.New("webhook signature mismatch")
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Deposits
var (
	ErrDeploymentNotFound   = errors.New("deployment not found")
	ErrDeploymentInactive   = errors.New("deployment inactive")
	ErrInvoiceFlowRequired  = errors.New("token requires the invoice flow")
	ErrInvoiceFlowNotNeeded = errors.New("token uses permanent addresses, not invoices")
	ErrNoMinimumAmount      = errors.New("no minimum amount available for currency")
	ErrPaymentNotFound      = errors.New("deposit payment not found")
	ErrPaymentTerminal      = errors.New("deposit payment is in a terminal state")
	ErrInvoiceInProgress    = errors.New("invoice creation already in progress")
)

// GatewayError wraps an upstream provider failure. Callers treat it as
// retryable at the polling cadence; never swallowed when it blocks
// provisioning.
type GatewayError struct {
	Gateway string
	Op      string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %s: %v", e.Gateway, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func NewGatewayError(gateway, op string, err error) *GatewayError {
	return &GatewayError{Gateway: gateway, Op: op, Err: err}
}

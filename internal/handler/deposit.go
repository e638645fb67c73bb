// internal/handler/deposit.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"deposit-service/internal/domain"
	"deposit-service/internal/middleware"
	"deposit-service/internal/usecase/deposit"
	"deposit-service/pkg/response"
	"deposit-service/pkg/xerrors"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type DepositHandler struct {
	provisioner *deposit.Provisioner
	tracker     *deposit.Tracker
	logger      *zap.Logger
}

func NewDepositHandler(provisioner *deposit.Provisioner, tracker *deposit.Tracker, logger *zap.Logger) *DepositHandler {
	return &DepositHandler{
		provisioner: provisioner,
		tracker:     tracker,
		logger:      logger,
	}
}

type createInvoiceRequest struct {
	BaseTokenID int64           `json:"base_token_id"`
	AmountUSD   decimal.Decimal `json:"amount_usd"`
}

type paymentView struct {
	ID               string          `json:"id"`
	PaymentID        string          `json:"payment_id"`
	OrderRef         string          `json:"order_ref"`
	BaseTokenID      int64           `json:"base_token_id"`
	Gateway          string          `json:"gateway"`
	Status           string          `json:"status"`
	Currency         string          `json:"currency"`
	Address          string          `json:"address"`
	ExtraID          string          `json:"extra_id,omitempty"`
	ExpectedAmount   decimal.Decimal `json:"expected_amount"`
	ActuallyPaid     decimal.Decimal `json:"actually_paid"`
	ActuallyPaidFiat decimal.Decimal `json:"actually_paid_fiat"`
	IsMinimumAmount  bool            `json:"is_minimum_amount"`
	MinimumAmountUSD decimal.Decimal `json:"minimum_amount_usd"`
	TxHash           string          `json:"tx_hash,omitempty"`
	ExpiresInSeconds int64           `json:"expires_in_seconds"`
	ExpiresAt        time.Time       `json:"expires_at"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func toPaymentView(p *domain.DepositPayment, now time.Time) *paymentView {
	return &paymentView{
		ID:               p.ID,
		PaymentID:        p.ExternalPaymentID,
		OrderRef:         p.OrderRef,
		BaseTokenID:      p.BaseTokenID,
		Gateway:          p.Gateway,
		Status:           string(p.Status),
		Currency:         p.PayCurrency,
		Address:          p.PayAddress,
		ExtraID:          p.ExtraID,
		ExpectedAmount:   p.ExpectedAmount,
		ActuallyPaid:     p.ActuallyPaid,
		ActuallyPaidFiat: p.ActuallyPaidFiat,
		IsMinimumAmount:  p.IsMinimumAmount,
		MinimumAmountUSD: p.MinimumAmountUSD,
		TxHash:           p.TxHash,
		ExpiresInSeconds: p.ExpiresIn(now),
		ExpiresAt:        p.ExpiresAt,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

type addressView struct {
	ID           int64     `json:"id"`
	DeploymentID int64     `json:"deployment_id"`
	Address      string    `json:"address"`
	ExtraID      string    `json:"extra_id,omitempty"`
	IsShared     bool      `json:"is_shared"`
	IsPermanent  bool      `json:"is_permanent"`
	CreatedAt    time.Time `json:"created_at"`
}

func toAddressView(a *domain.DepositAddress) *addressView {
	return &addressView{
		ID:           a.ID,
		DeploymentID: a.DeploymentID,
		Address:      a.Address,
		ExtraID:      a.ExtraID,
		IsShared:     a.IsShared,
		IsPermanent:  a.IsPermanent,
		CreatedAt:    a.CreatedAt,
	}
}

// ProvisionAddresses walks the active deployments and mints an address
// wherever the user has none yet. Safe to call repeatedly.
func (h *DepositHandler) ProvisionAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var baseTokenID *int64
	if v := r.URL.Query().Get("base_token_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			response.ErrorWithReason(w, http.StatusBadRequest, "invalid_request", "base_token_id must be an integer")
			return
		}
		baseTokenID = &n
	}

	result, err := h.provisioner.Provision(ctx, userID, baseTokenID)
	if err != nil {
		h.logger.Error("address provisioning failed",
			zap.String("user_id", userID),
			zap.Error(err))
		h.writeError(w, err)
		return
	}

	views := make([]*addressView, 0, len(result.Addresses))
	for _, a := range result.Addresses {
		views = append(views, toAddressView(a))
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{
		"addresses": views,
		"skipped":   result.Skipped,
		"errors":    result.Errors,
	})
}

// ListAddresses returns the user's previously minted deposit addresses.
func (h *DepositHandler) ListAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	addresses, err := h.provisioner.ListAddresses(ctx, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]*addressView, 0, len(addresses))
	for _, a := range addresses {
		views = append(views, toAddressView(a))
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"addresses": views})
}

// CreateInvoice starts a hosted invoice for the requested token, or
// returns the one already running.
func (h *DepositHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.ErrorWithReason(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.BaseTokenID <= 0 {
		response.ErrorWithReason(w, http.StatusBadRequest, "invalid_request", "base_token_id is required")
		return
	}
	if req.AmountUSD.IsNegative() {
		response.ErrorWithReason(w, http.StatusBadRequest, "invalid_request", "amount_usd cannot be negative")
		return
	}

	payment, created, err := h.tracker.CreateInvoice(ctx, userID, req.BaseTokenID, req.AmountUSD)
	if err != nil {
		h.logger.Error("invoice creation failed",
			zap.String("user_id", userID),
			zap.Int64("base_token_id", req.BaseTokenID),
			zap.Error(err))
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.JSON(w, status, toPaymentView(payment, time.Now()))
}

// GetPayment returns one payment; ?refresh=true re-polls the gateway
// before answering.
func (h *DepositHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	paymentID := chi.URLParam(r, "id")
	refresh := r.URL.Query().Get("refresh") == "true"

	payment, err := h.tracker.Get(ctx, userID, paymentID, refresh)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, toPaymentView(payment, time.Now()))
}

// GetActivePayment returns the in-flight invoice for a token, if any.
func (h *DepositHandler) GetActivePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	baseTokenID, err := strconv.ParseInt(r.URL.Query().Get("base_token_id"), 10, 64)
	if err != nil || baseTokenID <= 0 {
		response.ErrorWithReason(w, http.StatusBadRequest, "invalid_request", "base_token_id must be a positive integer")
		return
	}

	payment, err := h.tracker.GetActive(ctx, userID, baseTokenID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if payment == nil {
		// Typed nil so the envelope carries "data": null instead of
		// dropping the key.
		response.JSON(w, http.StatusOK, (*paymentView)(nil))
		return
	}

	response.JSON(w, http.StatusOK, toPaymentView(payment, time.Now()))
}

// ListPayments returns the user's deposit history, newest first.
func (h *DepositHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := parseIntQuery(r, "limit", 0)
	offset := parseIntQuery(r, "offset", 0)

	payments, err := h.tracker.List(ctx, userID, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}

	now := time.Now()
	views := make([]*paymentView, 0, len(payments))
	for _, p := range payments {
		views = append(views, toPaymentView(p, now))
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"payments": views})
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func (h *DepositHandler) writeError(w http.ResponseWriter, err error) {
	var gwErr *xerrors.GatewayError
	switch {
	case errors.Is(err, xerrors.ErrForbidden):
		response.Error(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, xerrors.ErrPaymentNotFound),
		errors.Is(err, xerrors.ErrDeploymentNotFound):
		response.Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, xerrors.ErrInvoiceInProgress):
		response.Error(w, http.StatusConflict, "an invoice for this token is already being created")
	case errors.Is(err, xerrors.ErrInvoiceFlowRequired),
		errors.Is(err, xerrors.ErrInvoiceFlowNotNeeded),
		errors.Is(err, xerrors.ErrInvoiceNotSupported),
		errors.Is(err, xerrors.ErrDeploymentInactive),
		errors.Is(err, xerrors.ErrNoMinimumAmount):
		response.ErrorWithReason(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, xerrors.ErrGatewayNotConfigured):
		response.Error(w, http.StatusServiceUnavailable, "payment gateway unavailable")
	case errors.As(err, &gwErr):
		response.Error(w, http.StatusBadGateway, "upstream payment gateway error")
	default:
		response.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

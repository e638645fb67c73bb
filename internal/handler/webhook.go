// internal/handler/webhook.go
package handler

import (
	"errors"
	"io"
	"net/http"

	"deposit-service/internal/usecase/deposit"
	"deposit-service/pkg/response"
	"deposit-service/pkg/xerrors"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Gateway callbacks are capped well below this; anything larger is junk.
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	resolver deposit.GatewayResolver
	tracker  *deposit.Tracker
	logger   *zap.Logger
}

func NewWebhookHandler(resolver deposit.GatewayResolver, tracker *deposit.Tracker, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		resolver: resolver,
		tracker:  tracker,
		logger:   logger,
	}
}

// HandleWebhook receives a gateway notification on /webhooks/{gateway}.
// The signature is verified before anything else touches the payload;
// only then is the event applied to the payment.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	gatewayName := chi.URLParam(r, "gateway")

	gw, err := h.resolver.ByName(gatewayName)
	if err != nil {
		h.logger.Warn("webhook for unknown gateway",
			zap.String("gateway", gatewayName),
			zap.String("remote_addr", r.RemoteAddr))
		response.Error(w, http.StatusNotFound, "unknown gateway")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body",
			zap.String("gateway", gatewayName),
			zap.Error(err))
		response.Error(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	event, err := gw.ParseWebhook(r.Header, body)
	if err != nil {
		switch {
		case errors.Is(err, xerrors.ErrMissingSignature), errors.Is(err, xerrors.ErrBadSignature):
			h.logger.Warn("webhook signature rejected",
				zap.String("gateway", gatewayName),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err))
			response.Error(w, http.StatusUnauthorized, "signature verification failed")
		case errors.Is(err, xerrors.ErrMalformedPayload):
			h.logger.Warn("malformed webhook payload",
				zap.String("gateway", gatewayName),
				zap.Error(err))
			response.Error(w, http.StatusBadRequest, "malformed payload")
		default:
			h.logger.Error("webhook parsing failed",
				zap.String("gateway", gatewayName),
				zap.Error(err))
			response.Error(w, http.StatusBadRequest, "invalid webhook")
		}
		return
	}

	h.logger.Info("webhook verified",
		zap.String("gateway", event.Gateway),
		zap.String("external_payment_id", event.ExternalPaymentID),
		zap.String("status", string(event.Status)))

	if err := h.tracker.ApplyWebhook(ctx, event); err != nil {
		h.logger.Error("webhook processing failed",
			zap.String("gateway", event.Gateway),
			zap.String("external_payment_id", event.ExternalPaymentID),
			zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{"received": true})
}

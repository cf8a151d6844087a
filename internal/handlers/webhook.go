package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/inaiurai/credits/internal/apperr"
	"github.com/inaiurai/credits/internal/gateway"
	"github.com/inaiurai/credits/internal/middleware"
	"github.com/inaiurai/credits/internal/models"
	"github.com/inaiurai/credits/internal/purchases"
	"github.com/inaiurai/credits/internal/reconcile"
)

// Settler applies processor verdicts to purchases.
type Settler interface {
	ApplySettlement(ctx context.Context, externalRef string, outcome models.Outcome, settlementRef string) (*reconcile.Result, error)
}

// WebhookHandler receives settlement notifications from the payment
// processor. Processors redeliver on any non-2xx, so only failures a retry
// can fix answer 5xx.
type WebhookHandler struct {
	Gateway gateway.Client
	Settler Settler
}

type webhookResponse struct {
	Status     string `json:"status"`
	PurchaseID string `json:"purchase_id,omitempty"`
	Result     string `json:"result,omitempty"`
}

// --- POST /api/v1/payments/webhook/{provider} ---

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	log := middleware.Logger(r.Context()).With("provider", h.Gateway.Name())

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, apperr.Wrapf(apperr.KindInvalid, "webhook.read", err, "unreadable body"))
		return
	}

	pay, err := h.Gateway.ParseWebhook(r.Context(), payload, r.Header, r.URL.Query())
	switch {
	case err == nil:
	case apperr.Is(err, apperr.KindInvalid):
		log.Warn("webhook rejected", "error", err)
		writeError(w, r, err)
		return
	case apperr.Is(err, apperr.KindGatewayRejected), errors.Is(err, gateway.ErrNoPayment):
		log.Warn("webhook payment could not be fetched; acknowledged", "error", err)
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	default:
		log.Error("webhook payment fetch failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "temporary failure, retry"})
		return
	}
	if pay == nil {
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}

	log = log.With("external_reference", pay.ExternalReference, "payment_id", pay.ID, "raw_status", pay.RawStatus)
	res, err := h.Settler.ApplySettlement(r.Context(), pay.ExternalReference, pay.Outcome, pay.ID)
	if errors.Is(err, purchases.ErrNotFound) {
		log.Warn("webhook for unknown purchase acknowledged")
		writeJSON(w, http.StatusOK, webhookResponse{Status: "unknown_reference"})
		return
	}
	if err != nil {
		log.Error("settlement failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "temporary failure, retry"})
		return
	}
	writeJSON(w, http.StatusOK, webhookResponse{
		Status:     res.Status,
		PurchaseID: res.PurchaseID.String(),
		Result:     res.Ledger.String(),
	})
}

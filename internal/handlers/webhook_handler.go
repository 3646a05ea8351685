package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/wanderplan/backend/internal/metrics"
	"github.com/wanderplan/backend/internal/services"
)

// WebhookHandler receives payment-completion notifications. Deliveries are
// verified against the raw body before any parsing, and error statuses are
// chosen so the provider's retry behavior does the right thing: 5xx retries,
// 4xx and duplicate-200s do not.
type WebhookHandler struct {
	service *services.WebhookService
}

func NewWebhookHandler(service *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// HandlePayment processes one webhook delivery.
// @Summary Payment webhook
// @Description HMAC-verified payment event intake; credits the buyer's account
// @Tags webhooks
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 401 {object} handlers.APIResponse
// @Router /webhooks/payment [post]
func (h *WebhookHandler) HandlePayment(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidInput, "Could not read request body", nil)
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")
	if signature == "" {
		signature = r.Header.Get("X-Latpeed-Signature")
	}
	if !h.service.VerifySignature(body, signature) {
		metrics.WebhookEventsTotal.WithLabelValues("rejected").Inc()
		WriteError(w, http.StatusUnauthorized, CodeInvalidWebhook, "Invalid webhook signature", nil)
		return
	}

	var payload services.PaymentWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("rejected").Inc()
		WriteError(w, http.StatusBadRequest, CodeInvalidInput, "Invalid webhook payload", nil)
		return
	}

	outcome, err := h.service.Process(r.Context(), payload)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidWebhookEvent):
			metrics.WebhookEventsTotal.WithLabelValues("rejected").Inc()
			WriteError(w, http.StatusBadRequest, CodeInvalidInput, "Invalid webhook event", nil)
		case errors.Is(err, services.ErrUnresolvedUser):
			metrics.WebhookEventsTotal.WithLabelValues("rejected").Inc()
			WriteError(w, http.StatusBadRequest, CodeInvalidInput, "Could not resolve user for this payment", nil)
		case errors.Is(err, services.ErrUnknownProduct):
			metrics.WebhookEventsTotal.WithLabelValues("rejected").Inc()
			WriteError(w, http.StatusBadRequest, CodeInvalidInput, "Could not resolve credits for this product", nil)
		default:
			// Internal failure: let the provider redeliver.
			metrics.WebhookEventsTotal.WithLabelValues("error").Inc()
			WriteError(w, http.StatusInternalServerError, CodeInternalError, "Webhook processing failed", debugDetails(err.Error()))
		}
		return
	}

	switch outcome.Status {
	case services.WebhookIgnored:
		metrics.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": outcome.Message})
	case services.WebhookDuplicate:
		metrics.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": outcome.Message})
	default:
		metrics.WebhookEventsTotal.WithLabelValues("applied").Inc()
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"message":       outcome.Message,
			"credits_added": outcome.CreditsAdded,
			"new_balance":   outcome.NewBalance,
		})
	}
}

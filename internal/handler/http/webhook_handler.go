package http

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/payment"
)

const (
	signatureHeader     = "Stripe-Signature"
	maxWebhookBodyBytes = 65536
)

// WebhookHandler verifies gateway callbacks before anything reaches the
// engine. An unverifiable body is answered with 400 and dropped.
type WebhookHandler struct {
	verifier payment.Verifier
	engine   Fulfillment
}

func NewWebhookHandler(verifier payment.Verifier, engine Fulfillment) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, engine: engine}
}

func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/webhooks/payment", h.handlePaymentWebhook)
}

func (h *WebhookHandler) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read webhook body")
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	evt, err := h.verifier.Verify(payload, r.Header.Get(signatureHeader))
	if err != nil {
		log.Warn().Err(err).Msg("Rejected webhook with invalid signature or payload")
		respondWithError(w, http.StatusBadRequest, "Invalid webhook signature")
		return
	}

	outcome, err := h.engine.HandleEvent(r.Context(), evt)
	if err != nil {
		log.Error().Err(err).Str("event_id", evt.ID).Msg("Failed to handle gateway event")
		respondWithError(w, http.StatusInternalServerError, "Failed to handle event")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

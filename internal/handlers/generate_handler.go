package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/wanderplan/backend/internal/config"
	"github.com/wanderplan/backend/internal/metrics"
	"github.com/wanderplan/backend/internal/models"
	"github.com/wanderplan/backend/internal/services"
)

// GenerateHandler is the usage gate around itinerary generation: validate the
// request, debit the per-generation cost, and only then call the model.
// Debiting before the call is what closes the window where many concurrent
// requests could all pass an independent balance check.
type GenerateHandler struct {
	ledger    *services.CreditLedgerService
	generator services.ItineraryGenerator
	validator *services.ValidationHelper
	cfg       *config.CreditsConfig
	timeout   time.Duration
}

func NewGenerateHandler(ledger *services.CreditLedgerService, generator services.ItineraryGenerator, cfg *config.CreditsConfig) *GenerateHandler {
	viper.SetDefault("gemini.timeout_seconds", 45)
	if cfg == nil {
		cfg = config.LoadCreditsConfig()
	}
	return &GenerateHandler{
		ledger:    ledger,
		generator: generator,
		validator: services.NewValidationHelper(),
		cfg:       cfg,
		timeout:   time.Duration(viper.GetInt("gemini.timeout_seconds")) * time.Second,
	}
}

// Generate creates an itinerary for the authenticated user.
// @Summary Generate itinerary
// @Description Debits the per-generation cost and calls the planning model
// @Tags itineraries
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.GenerateItineraryRequest true "Trip preferences"
// @Success 200 {object} map[string]any
// @Failure 402 {object} handlers.APIResponse
// @Router /itineraries/generate [post]
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "Sign-in required", nil)
		return
	}

	var req models.GenerateItineraryRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, http.StatusBadRequest, CodeInvalidInput, "Request body must only contain a single JSON object", nil)
		return
	}

	// Fail fast on shape before any ledger access.
	if err := h.validator.ValidateStruct(&req); err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidInput, "Validation failed", services.ValidationDetails(err))
		return
	}
	if _, err := services.TripDays(req.StartDate, req.EndDate); err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidInput, "Invalid trip dates", nil)
		return
	}

	cost := h.cfg.CostPerGeneration
	generationID := uuid.NewString()

	debit, err := h.ledger.Debit(r.Context(), userID, cost, "Itinerary generation", generationID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, CodeInternalError, "Credit service unavailable", debugDetails(err.Error()))
		return
	}
	if !debit.Success {
		metrics.GenerationsTotal.WithLabelValues("insufficient_credits").Inc()
		WriteError(w, http.StatusPaymentRequired, CodeInsufficientCredits, "Not enough credits",
			map[string]int64{"balance": debit.NewBalance, "required": cost})
		return
	}

	genCtx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	itinerary, err := h.generator.GenerateItinerary(genCtx, req)
	if err != nil {
		h.handleGenerationFailure(w, r, userID, cost, generationID, err)
		return
	}

	metrics.GenerationsTotal.WithLabelValues("ok").Inc()
	itinerary["_credits"] = models.CreditsUsage{Used: cost, Remaining: debit.NewBalance}

	// The itinerary document is the response, mirroring the upstream shape;
	// only error paths use the envelope.
	writeJSON(w, http.StatusOK, itinerary)
}

// handleGenerationFailure maps model-call failures onto the error taxonomy.
// The earlier debit stands unless refund-on-failure is configured; either way
// the usage transaction remains in the ledger history.
func (h *GenerateHandler) handleGenerationFailure(w http.ResponseWriter, r *http.Request, userID string, cost int64, generationID string, err error) {
	if h.cfg.RefundOnFailure {
		if _, rerr := h.ledger.Refund(r.Context(), userID, cost, "Refund: generation failed", "refund-"+generationID); rerr != nil {
			log.Printf("refund after failed generation for %s: %v", userID, rerr)
		}
	}

	switch {
	case errors.Is(err, services.ErrAPIKeyMissing):
		metrics.GenerationsTotal.WithLabelValues("upstream_error").Inc()
		WriteError(w, http.StatusInternalServerError, CodeMissingAPIKey, "Generation API key not configured", nil)
	case services.IsTimeout(err):
		metrics.GenerationsTotal.WithLabelValues("upstream_error").Inc()
		WriteError(w, http.StatusGatewayTimeout, CodeAPIError, "Generation timed out, please retry", nil)
	case errors.Is(err, services.ErrParseFailed), errors.Is(err, services.ErrEmptyCompletion):
		metrics.GenerationsTotal.WithLabelValues("parse_error").Inc()
		WriteError(w, http.StatusInternalServerError, CodeParseError, "Could not parse the generated itinerary", debugDetails(err.Error()))
	default:
		metrics.GenerationsTotal.WithLabelValues("upstream_error").Inc()
		WriteError(w, http.StatusInternalServerError, CodeAPIError, "Itinerary generation failed", debugDetails(err.Error()))
	}
}

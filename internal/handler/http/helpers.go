package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/fulfillment"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/order"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/payment"
)

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, cart.ErrEmptyCart),
		errors.Is(err, cart.ErrInvalidLine),
		errors.Is(err, fulfillment.ErrInvalidShippingInfo):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, payment.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// formatValidationErrors keys each failure by its JSON field name.
func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		if ns := fe.Namespace(); ns != "" {
			if i := strings.Index(ns, "."); i >= 0 {
				field = ns[i+1:]
			}
		}
		switch fe.Tag() {
		case "required":
			details[field] = "is required"
		case "email":
			details[field] = "must be a valid email address"
		case "max":
			details[field] = "must be at most " + fe.Param() + " characters"
		case "gt":
			details[field] = "must be greater than " + fe.Param()
		default:
			details[field] = "failed on " + fe.Tag()
		}
	}
	return details
}

// respondWithValidation writes a 400 with per-field details when err
// carries validator errors, and reports whether it did.
func respondWithValidation(w http.ResponseWriter, err error) bool {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return false
	}
	respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
		Error:   "Validation failed",
		Details: formatValidationErrors(verrs),
	})
	return true
}

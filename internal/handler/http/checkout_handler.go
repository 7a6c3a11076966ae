package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/cart"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/fulfillment"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/order"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/payment"
)

// Fulfillment is the engine surface the HTTP layer drives.
type Fulfillment interface {
	Checkout(ctx context.Context, in fulfillment.CheckoutInput) (*fulfillment.CheckoutResult, error)
	HandleEvent(ctx context.Context, evt payment.Event) (fulfillment.Outcome, error)
	Complete(ctx context.Context, orderID uuid.UUID, info fulfillment.ShippingInfo) (*order.Order, error)
}

type CheckoutLineRequest struct {
	ProductID int64           `json:"product_id" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
}

// CheckoutRequest carries the cart snapshot. An empty Lines slice is left
// to the engine, which reports it as an empty cart.
type CheckoutRequest struct {
	CustomerID *uuid.UUID            `json:"customer_id,omitempty"`
	Email      string                `json:"email" validate:"omitempty,email,max=120"`
	Lines      []CheckoutLineRequest `json:"lines" validate:"dive"`
}

type CheckoutResponse struct {
	OrderID     uuid.UUID `json:"order_id"`
	SessionID   string    `json:"session_id"`
	CheckoutURL string    `json:"checkout_url"`
	Subtotal    string    `json:"subtotal"`
	Shipping    string    `json:"shipping"`
	Total       string    `json:"total"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
}

type CheckoutHandler struct {
	engine   Fulfillment
	validate *validator.Validate
}

func NewCheckoutHandler(engine Fulfillment) *CheckoutHandler {
	return &CheckoutHandler{
		engine:   engine,
		validate: fulfillment.NewValidator(),
	}
}

func (h *CheckoutHandler) RegisterRoutes(router chi.Router) {
	router.Post("/checkout", h.handleCheckout)
}

func (h *CheckoutHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var requestPayload CheckoutRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		log.Error().Err(err).Msg("Failed to decode checkout request")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload %v", err))
		return
	}

	if err := h.validate.Struct(requestPayload); err != nil {
		if !respondWithValidation(w, err) {
			log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return
	}

	lines := make([]cart.Line, 0, len(requestPayload.Lines))
	for _, l := range requestPayload.Lines {
		lines = append(lines, cart.Line{ProductID: l.ProductID, UnitPrice: l.UnitPrice, Quantity: l.Quantity})
	}
	in := fulfillment.CheckoutInput{
		CustomerEmail: requestPayload.Email,
		Cart:          cart.NewSnapshot(lines...),
	}
	if requestPayload.CustomerID != nil {
		in.CustomerID = uuid.NullUUID{UUID: *requestPayload.CustomerID, Valid: true}
	}

	result, err := h.engine.Checkout(r.Context(), in)
	if err != nil {
		log.Error().Err(err).Msg("Failed to check out cart")

		var clientMessage string
		switch {
		case errors.Is(err, cart.ErrEmptyCart):
			clientMessage = "Cart is empty"
		case errors.Is(err, cart.ErrInvalidLine):
			clientMessage = err.Error()
		case errors.Is(err, payment.ErrGateway):
			clientMessage = "Payment provider unavailable, please retry"
		default:
			clientMessage = "Failed to check out"
		}

		respondWithError(w, mapErrorToStatusCode(err), clientMessage)
		return
	}

	o := result.Order
	responsePayload := CheckoutResponse{
		OrderID:     o.ID,
		CheckoutURL: result.SessionURL,
		Subtotal:    o.Subtotal.StringFixed(2),
		Shipping:    o.Shipping.StringFixed(2),
		Total:       o.Total.StringFixed(2),
		Currency:    o.Currency,
		Status:      o.Status.String(),
	}
	if o.GatewaySessionID != nil {
		responsePayload.SessionID = *o.GatewaySessionID
	}

	respondWithJSON(w, http.StatusCreated, responsePayload)
}

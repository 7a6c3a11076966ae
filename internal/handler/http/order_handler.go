package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/fulfillment"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/order"
)

type OrderReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
	GetBySessionID(ctx context.Context, sessionID string) (*order.Order, error)
}

type OrderLineResponse struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type OrderResponse struct {
	ID              uuid.UUID           `json:"id"`
	Status          string              `json:"status"`
	Subtotal        string              `json:"subtotal"`
	Shipping        string              `json:"shipping"`
	Total           string              `json:"total"`
	Currency        string              `json:"currency"`
	Email           *string             `json:"email,omitempty"`
	FirstName       *string             `json:"first_name,omitempty"`
	LastName        *string             `json:"last_name,omitempty"`
	ShippingAddress *string             `json:"shipping_address,omitempty"`
	ShippingCity    *string             `json:"shipping_city,omitempty"`
	RefundIssued    bool                `json:"refund_issued"`
	Lines           []OrderLineResponse `json:"lines"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type CheckoutStatusResponse struct {
	OrderID     uuid.UUID `json:"order_id"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	ShippingURL string    `json:"shipping_url,omitempty"`
}

type OrderHandler struct {
	orders  OrderReader
	engine  Fulfillment
	baseURL string
}

func NewOrderHandler(orders OrderReader, engine Fulfillment, baseURL string) *OrderHandler {
	return &OrderHandler{
		orders:  orders,
		engine:  engine,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Get("/orders/{id}", h.handleGetOrderByID)
	router.Post("/orders/{id}/shipping", h.handleSubmitShipping)
	router.Get("/checkout/success", h.handleCheckoutSuccess)
}

func (h *OrderHandler) handleGetOrderByID(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	found, err := h.orders.GetByID(r.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to get order by id")

		clientMessage := "Failed to get order by id"
		if errors.Is(err, order.ErrOrderNotFound) {
			clientMessage = "Order not found"
		}
		respondWithError(w, mapErrorToStatusCode(err), clientMessage)
		return
	}

	resp := toOrderResponse(found)
	if !sessionMatches(found, r) {
		resp = resp.withoutContact()
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) handleSubmitShipping(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	var requestPayload fulfillment.ShippingInfo
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		log.Error().Err(err).Msg("Failed to decode shipping information")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	// only the buyer holds the checkout session id, from the success
	// redirect or the payment email
	found, err := h.orders.GetByID(r.Context(), orderID)
	if err == nil && !sessionMatches(found, r) {
		log.Warn().Stringer("order_id", orderID).Msg("Rejected shipping submission without a matching checkout session")
		err = order.ErrOrderNotFound
	}
	if err != nil {
		clientMessage := "Failed to save shipping information"
		if errors.Is(err, order.ErrOrderNotFound) {
			clientMessage = "Order not found"
		}
		respondWithError(w, mapErrorToStatusCode(err), clientMessage)
		return
	}

	completed, err := h.engine.Complete(r.Context(), orderID, requestPayload)
	if err != nil {
		if respondWithValidation(w, err) {
			return
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to complete order")

		var clientMessage string
		switch {
		case errors.Is(err, order.ErrOrderNotFound):
			clientMessage = "Order not found"
		case errors.Is(err, order.ErrIllegalTransition):
			clientMessage = "Order cannot accept shipping information in its current state"
		case errors.Is(err, fulfillment.ErrInvalidShippingInfo):
			clientMessage = "Invalid shipping information"
		default:
			clientMessage = "Failed to save shipping information"
		}
		respondWithError(w, mapErrorToStatusCode(err), clientMessage)
		return
	}

	respondWithJSON(w, http.StatusOK, toOrderResponse(completed))
}

// handleCheckoutSuccess only reports status. Orders move exclusively through
// verified webhooks, never through this redirect target.
func (h *OrderHandler) handleCheckoutSuccess(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondWithError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	found, err := h.orders.GetBySessionID(r.Context(), sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to get order for checkout session")

		clientMessage := "Failed to get checkout status"
		if errors.Is(err, order.ErrOrderNotFound) {
			clientMessage = "Order not found"
		}
		respondWithError(w, mapErrorToStatusCode(err), clientMessage)
		return
	}

	resp := CheckoutStatusResponse{
		OrderID: found.ID,
		Status:  found.Status.String(),
	}
	switch found.Status {
	case order.StatusPending:
		resp.Message = "Payment is being confirmed. This page will update shortly."
	case order.StatusPaid:
		resp.Message = "Payment confirmed. Please provide your shipping information."
		resp.ShippingURL = fulfillment.ShippingFormURL(h.baseURL, found)
	case order.StatusCompleted:
		resp.Message = "Thank you, your order is complete."
	case order.StatusStockFailed:
		if found.RefundIssued {
			resp.Message = "Payment received, but the item sold out in the meantime. A refund has been issued automatically."
		} else {
			resp.Message = "Payment received, but the item sold out in the meantime. Your refund is being processed."
		}
	}

	respondWithJSON(w, http.StatusOK, resp)
}

// sessionMatches reports whether the request carries the order's checkout
// session id. Orders that never got a session cannot be accessed this way.
func sessionMatches(o *order.Order, r *http.Request) bool {
	given := r.URL.Query().Get("session_id")
	if o.GatewaySessionID == nil || given == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(*o.GatewaySessionID)) == 1
}

func (resp OrderResponse) withoutContact() OrderResponse {
	resp.Email = nil
	resp.FirstName = nil
	resp.LastName = nil
	resp.ShippingAddress = nil
	resp.ShippingCity = nil
	return resp
}

func parseOrderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	orderID, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("order_id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return orderID, true
}

func toOrderResponse(o *order.Order) OrderResponse {
	lines := make([]OrderLineResponse, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, OrderLineResponse{
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.StringFixed(2),
		})
	}
	return OrderResponse{
		ID:              o.ID,
		Status:          o.Status.String(),
		Subtotal:        o.Subtotal.StringFixed(2),
		Shipping:        o.Shipping.StringFixed(2),
		Total:           o.Total.StringFixed(2),
		Currency:        o.Currency,
		Email:           o.Email,
		FirstName:       o.FirstName,
		LastName:        o.LastName,
		ShippingAddress: o.ShippingAddress,
		ShippingCity:    o.ShippingCity,
		RefundIssued:    o.RefundIssued,
		Lines:           lines,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

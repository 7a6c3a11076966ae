package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/order"
)

var ErrInvalidShippingInfo = errors.New("invalid shipping information")

// ShippingInfo is what the shopper submits after paying. When SameBilling
// is set the billing fields are ignored and copied from shipping.
type ShippingInfo struct {
	FirstName          string `json:"first_name" validate:"required,max=80"`
	LastName           string `json:"last_name" validate:"required,max=80"`
	Email              string `json:"email" validate:"required,email,max=120"`
	Phone              string `json:"phone" validate:"omitempty,max=30"`
	ShippingAddress    string `json:"shipping_address" validate:"required,max=255"`
	ShippingPostalCode string `json:"shipping_postal_code" validate:"required,max=20"`
	ShippingCity       string `json:"shipping_city" validate:"required,max=80"`
	SameBilling        bool   `json:"same_billing"`
	BillingAddress     string `json:"billing_address" validate:"omitempty,max=255"`
	BillingPostalCode  string `json:"billing_postal_code" validate:"omitempty,max=20"`
	BillingCity        string `json:"billing_city" validate:"omitempty,max=80"`
}

func (s ShippingInfo) contact() order.Contact {
	c := order.Contact{
		FirstName:          s.FirstName,
		LastName:           s.LastName,
		Email:              s.Email,
		Phone:              optional(s.Phone),
		ShippingAddress:    s.ShippingAddress,
		ShippingPostalCode: s.ShippingPostalCode,
		ShippingCity:       s.ShippingCity,
	}
	if s.SameBilling {
		c.BillingAddress = optional(s.ShippingAddress)
		c.BillingPostalCode = optional(s.ShippingPostalCode)
		c.BillingCity = optional(s.ShippingCity)
	} else {
		c.BillingAddress = optional(s.BillingAddress)
		c.BillingPostalCode = optional(s.BillingPostalCode)
		c.BillingCity = optional(s.BillingCity)
	}
	return c
}

// NewValidator reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Complete stores the shipping details of a paid order and moves it to
// completed. A submission for an order that already reached a terminal
// status (completed or stock_failed) is accepted and changes nothing. A
// still pending order is refused.
func (e *Engine) Complete(ctx context.Context, orderID uuid.UUID, info ShippingInfo) (*order.Order, error) {
	if err := e.validate.Struct(info); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidShippingInfo, verrs)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidShippingInfo, err)
	}
	contact := info.contact()

	var (
		o       *order.Order
		applied bool
	)
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = e.orders.GetByID(ctx, orderID)
		if err != nil {
			return err
		}

		transition, err := order.Decide(o.Status, order.StatusCompleted)
		if err != nil {
			return err
		}
		if transition == order.TransitionNoOp {
			return nil
		}

		ok, err := e.orders.CompareAndSetStatus(ctx, orderID, order.StatusPaid, order.StatusCompleted)
		if err != nil {
			return err
		}
		if !ok {
			return errStatusMoved
		}
		if err := e.orders.SaveContact(ctx, orderID, contact); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if errors.Is(err, errStatusMoved) {
		log.Info().Stringer("order_id", orderID).Msg("engine: concurrent completion won, submission ignored")
		return e.orders.GetByID(ctx, orderID)
	}
	if err != nil {
		return nil, err
	}

	if !applied {
		log.Info().Stringer("order_id", orderID).Stringer("status", o.Status).Msg("engine: order in terminal status, submission ignored")
		return o, nil
	}

	o.Status = order.StatusCompleted
	applyContact(o, contact)
	log.Info().Stringer("order_id", orderID).Msg("engine: order completed")

	e.notifyInformationReceived(ctx, o, contact)
	return o, nil
}

func applyContact(o *order.Order, c order.Contact) {
	o.FirstName = &c.FirstName
	o.LastName = &c.LastName
	o.Email = &c.Email
	o.Phone = c.Phone
	o.ShippingAddress = &c.ShippingAddress
	o.ShippingPostalCode = &c.ShippingPostalCode
	o.ShippingCity = &c.ShippingCity
	o.BillingAddress = c.BillingAddress
	o.BillingPostalCode = c.BillingPostalCode
	o.BillingCity = c.BillingCity
}

package fulfillment_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/fulfillment"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/order"
)

func validShippingInfo() fulfillment.ShippingInfo {
	return fulfillment.ShippingInfo{
		FirstName:          "Ada",
		LastName:           "Lovelace",
		Email:              "ada@example.com",
		ShippingAddress:    "1 Rue de la Paix",
		ShippingPostalCode: "75002",
		ShippingCity:       "Paris",
		SameBilling:        true,
	}
}

// paidOrder runs an order through a successful payment event.
func (h *harness) paidOrder(t *testing.T) *order.Order {
	t.Helper()
	h.store.seedProduct(1, 5, true)
	o := h.checkout(t, line(1, "10.00", 1))
	outcome, err := h.engine.HandleEvent(context.Background(), completedEvent("evt_paid", o))
	require.NoError(t, err)
	require.Equal(t, fulfillment.OutcomePaid, outcome)
	return o
}

func TestEngine_Complete(t *testing.T) {
	h := newHarness()
	o := h.paidOrder(t)

	completed, err := h.engine.Complete(context.Background(), o.ID, validShippingInfo())
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, completed.Status)

	stored := h.store.order(o.ID)
	assert.Equal(t, order.StatusCompleted, stored.Status)
	assert.Equal(t, "Ada", *stored.FirstName)
	assert.Equal(t, "ada@example.com", *stored.Email)
	assert.Nil(t, stored.Phone)
	require.NotNil(t, stored.BillingAddress)
	assert.Equal(t, "1 Rue de la Paix", *stored.BillingAddress, "billing copied from shipping")
	assert.True(t, stored.CompletionEmailSent)

	msgs := h.notifier.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Information received - Order #"+o.ID.String(), msgs[1].Subject)
	assert.Equal(t, []string{"ada@example.com"}, msgs[1].Recipients)
}

func TestEngine_Complete_SeparateBilling(t *testing.T) {
	h := newHarness()
	o := h.paidOrder(t)

	info := validShippingInfo()
	info.SameBilling = false
	info.BillingAddress = "10 Downing Street"
	info.BillingPostalCode = "SW1A 2AA"
	info.BillingCity = "London"
	info.Phone = "+44 20 7946 0000"

	_, err := h.engine.Complete(context.Background(), o.ID, info)
	require.NoError(t, err)

	stored := h.store.order(o.ID)
	assert.Equal(t, "10 Downing Street", *stored.BillingAddress)
	assert.Equal(t, "London", *stored.BillingCity)
	assert.Equal(t, "+44 20 7946 0000", *stored.Phone)
}

func TestEngine_Complete_ResubmissionIsNoOp(t *testing.T) {
	h := newHarness()
	o := h.paidOrder(t)

	_, err := h.engine.Complete(context.Background(), o.ID, validShippingInfo())
	require.NoError(t, err)

	second := validShippingInfo()
	second.FirstName = "Grace"
	again, err := h.engine.Complete(context.Background(), o.ID, second)
	require.NoError(t, err)

	assert.Equal(t, order.StatusCompleted, again.Status)
	assert.Equal(t, "Ada", *h.store.order(o.ID).FirstName, "first submission is kept")
	assert.Len(t, h.notifier.messages(), 2, "no second completion email")
}

func TestEngine_Complete_StockFailedOrderIsNoOp(t *testing.T) {
	h := newHarness()
	h.store.seedProduct(1, 0, true)
	o := h.checkout(t, line(1, "10.00", 1))
	_, err := h.engine.HandleEvent(context.Background(), completedEvent("evt_1", o))
	require.NoError(t, err)
	sentBefore := len(h.notifier.messages())

	got, err := h.engine.Complete(context.Background(), o.ID, validShippingInfo())

	require.NoError(t, err)
	assert.Equal(t, order.StatusStockFailed, got.Status)
	stored := h.store.order(o.ID)
	assert.Equal(t, order.StatusStockFailed, stored.Status)
	assert.Nil(t, stored.FirstName, "nothing is written to a terminal order")
	assert.False(t, stored.CompletionEmailSent)
	assert.Len(t, h.notifier.messages(), sentBefore)
}

func TestEngine_Complete_Refused(t *testing.T) {
	t.Run("pending_order", func(t *testing.T) {
		h := newHarness()
		h.store.seedProduct(1, 5, true)
		o := h.checkout(t, line(1, "10.00", 1))

		_, err := h.engine.Complete(context.Background(), o.ID, validShippingInfo())

		assert.ErrorIs(t, err, order.ErrIllegalTransition)
		assert.Equal(t, order.StatusPending, h.store.order(o.ID).Status)
		assert.Nil(t, h.store.order(o.ID).FirstName)
	})

	t.Run("unknown_order", func(t *testing.T) {
		h := newHarness()

		_, err := h.engine.Complete(context.Background(), uuid.Must(uuid.NewV4()), validShippingInfo())

		assert.ErrorIs(t, err, order.ErrOrderNotFound)
	})
}

func TestEngine_Complete_InvalidInfo(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fulfillment.ShippingInfo)
		field  string
		tag    string
	}{
		{name: "missing_first_name", mutate: func(s *fulfillment.ShippingInfo) { s.FirstName = "" }, field: "first_name", tag: "required"},
		{name: "bad_email", mutate: func(s *fulfillment.ShippingInfo) { s.Email = "not-an-email" }, field: "email", tag: "email"},
		{name: "long_city", mutate: func(s *fulfillment.ShippingInfo) { s.ShippingCity = strings.Repeat("x", 81) }, field: "shipping_city", tag: "max"},
		{name: "missing_postal_code", mutate: func(s *fulfillment.ShippingInfo) { s.ShippingPostalCode = "" }, field: "shipping_postal_code", tag: "required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			o := h.paidOrder(t)
			info := validShippingInfo()
			tt.mutate(&info)

			_, err := h.engine.Complete(context.Background(), o.ID, info)
			require.ErrorIs(t, err, fulfillment.ErrInvalidShippingInfo)

			var verrs validator.ValidationErrors
			require.True(t, errors.As(err, &verrs))
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field())
			assert.Equal(t, tt.tag, verrs[0].Tag())

			assert.Equal(t, order.StatusPaid, h.store.order(o.ID).Status)
		})
	}
}

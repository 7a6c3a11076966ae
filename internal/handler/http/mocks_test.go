package http_test

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/fulfillment"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/order"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/payment"
)

type MockFulfillment struct {
	mock.Mock
}

func (m *MockFulfillment) Checkout(ctx context.Context, in fulfillment.CheckoutInput) (*fulfillment.CheckoutResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*fulfillment.CheckoutResult), args.Error(1)
}

func (m *MockFulfillment) HandleEvent(ctx context.Context, evt payment.Event) (fulfillment.Outcome, error) {
	args := m.Called(ctx, evt)
	return args.Get(0).(fulfillment.Outcome), args.Error(1)
}

func (m *MockFulfillment) Complete(ctx context.Context, orderID uuid.UUID, info fulfillment.ShippingInfo) (*order.Order, error) {
	args := m.Called(ctx, orderID, info)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

type MockOrderReader struct {
	mock.Mock
}

func (m *MockOrderReader) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderReader) GetBySessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(payload []byte, signature string) (payment.Event, error) {
	args := m.Called(payload, signature)
	return args.Get(0).(payment.Event), args.Error(1)
}

type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

package idempotency_test

import (
	"context"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/db/dbtest"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/idempotency"
)

func TestPostgresLedger_RecordOnce(t *testing.T) {
	pool := dbtest.Pool(t)
	ledger := idempotency.NewLedger(pool)
	ctx := context.Background()

	rec := idempotency.Record{EventID: "evt_1", EventType: "checkout.session.completed", SessionID: "cs_1"}

	require.NoError(t, ledger.Record(ctx, rec))
	assert.ErrorIs(t, ledger.Record(ctx, rec), idempotency.ErrDuplicateEvent)
}

func TestPostgresLedger_ConcurrentDeliveriesOneWinner(t *testing.T) {
	pool := dbtest.Pool(t)
	ledger := idempotency.NewLedger(pool)
	ctx := context.Background()

	const deliveries = 8
	results := make(chan error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- ledger.Record(ctx, idempotency.Record{EventID: "evt_race", EventType: "checkout.session.completed"})
		}()
	}
	wg.Wait()
	close(results)

	var accepted, duplicates int
	for err := range results {
		if err == nil {
			accepted++
		} else {
			assert.ErrorIs(t, err, idempotency.ErrDuplicateEvent)
			duplicates++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, deliveries-1, duplicates)
}

func TestPostgresLedger_BackfillOrder(t *testing.T) {
	pool := dbtest.Pool(t)
	ledger := idempotency.NewLedger(pool)
	ctx := context.Background()

	require.NoError(t, ledger.Record(ctx, idempotency.Record{EventID: "evt_2", EventType: "checkout.session.completed", SessionID: "cs_2"}))

	first := uuid.Must(uuid.NewV4())
	require.NoError(t, ledger.BackfillOrder(ctx, "evt_2", first))
	require.NoError(t, ledger.BackfillOrder(ctx, "evt_2", uuid.Must(uuid.NewV4())))

	var stored uuid.UUID
	err := pool.QueryRow(ctx, "SELECT order_id FROM gateway_events WHERE event_id = $1", "evt_2").Scan(&stored)
	require.NoError(t, err)
	assert.Equal(t, first, stored, "order link is written once")
}

func TestPostgresLedger_PaymentForSession(t *testing.T) {
	pool := dbtest.Pool(t)
	ledger := idempotency.NewLedger(pool)
	ctx := context.Background()

	records := []idempotency.Record{
		{EventID: "evt_wait", EventType: "checkout.session.completed", Kind: "payment_pending", SessionID: "cs_1", PaymentIntentID: "pi_wait"},
		{EventID: "evt_paid", EventType: "checkout.session.async_payment_succeeded", Kind: idempotency.KindPaymentCompleted, SessionID: "cs_1", PaymentIntentID: "pi_1", CustomerEmail: "buyer@example.com"},
		{EventID: "evt_free", EventType: "checkout.session.completed", Kind: idempotency.KindPaymentCompleted, SessionID: "cs_2"},
	}
	for _, rec := range records {
		require.NoError(t, ledger.Record(ctx, rec))
	}

	got, err := ledger.PaymentForSession(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, idempotency.Payment{EventID: "evt_paid", PaymentIntentID: "pi_1", CustomerEmail: "buyer@example.com"}, got)

	t.Run("settled_without_intent", func(t *testing.T) {
		_, err := ledger.PaymentForSession(ctx, "cs_2")
		assert.ErrorIs(t, err, idempotency.ErrNoPayment)
	})

	t.Run("unknown_session", func(t *testing.T) {
		_, err := ledger.PaymentForSession(ctx, "cs_missing")
		assert.ErrorIs(t, err, idempotency.ErrNoPayment)
	})
}

func TestPostgresLedger_RecordDefaultsKind(t *testing.T) {
	pool := dbtest.Pool(t)
	ledger := idempotency.NewLedger(pool)
	ctx := context.Background()

	require.NoError(t, ledger.Record(ctx, idempotency.Record{EventID: "evt_x", EventType: "customer.created"}))

	var kind string
	var intent, email *string
	err := pool.QueryRow(ctx, "SELECT kind, payment_intent_id, customer_email FROM gateway_events WHERE event_id = $1", "evt_x").Scan(&kind, &intent, &email)
	require.NoError(t, err)
	assert.Equal(t, "unknown", kind)
	assert.Nil(t, intent)
	assert.Nil(t, email)
}

package fulfillment_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/fulfillment"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/idempotency"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/notification"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/order"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/payment"
	"github.com/vasiliy-maslov/ecommerce-fulfillment/internal/pricing"
)

type inTxKey struct{}

type product struct {
	stock  int
	active bool
}

// memStore implements the order, inventory and ledger repositories plus the
// transactor over maps. Transactions are fully serialized: InTx holds the
// store lock for its whole duration and restores a snapshot on error.
type memStore struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*order.Order
	products map[int64]product
	events   map[string]uuid.UUID
	records  []idempotency.Record

	ledgerErr error
	// intentErr fails the next SetPaymentIntent, then clears itself.
	intentErr error
}

func newMemStore() *memStore {
	return &memStore{
		orders:   make(map[uuid.UUID]*order.Order),
		products: make(map[int64]product),
		events:   make(map[string]uuid.UUID),
	}
}

func (s *memStore) seedProduct(id int64, stock int, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id] = product{stock: stock, active: active}
}

func (s *memStore) stockOf(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].stock
}

func (s *memStore) order(id uuid.UUID) *order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrder(s.orders[id])
}

func (s *memStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *memStore) lock(ctx context.Context) func() {
	if ctx.Value(inTxKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func cloneOrder(o *order.Order) *order.Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Lines = append([]order.Line(nil), o.Lines...)
	return &c
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	orders := make(map[uuid.UUID]*order.Order, len(s.orders))
	for id, o := range s.orders {
		orders[id] = cloneOrder(o)
	}
	products := make(map[int64]product, len(s.products))
	for id, p := range s.products {
		products[id] = p
	}

	if err := fn(context.WithValue(ctx, inTxKey{}, true)); err != nil {
		s.orders = orders
		s.products = products
		return err
	}
	return nil
}

// order.Repository

func (s *memStore) Create(ctx context.Context, o *order.Order) error {
	defer s.lock(ctx)()
	if o.ID == uuid.Nil {
		o.ID = uuid.Must(uuid.NewV4())
	}
	for i := range o.Lines {
		o.Lines[i].ID = int64(i + 1)
		o.Lines[i].OrderID = o.ID
	}
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	defer s.lock(ctx)()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *memStore) GetBySessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	defer s.lock(ctx)()
	for _, o := range s.orders {
		if o.GatewaySessionID != nil && *o.GatewaySessionID == sessionID {
			return cloneOrder(o), nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (s *memStore) LinkSession(ctx context.Context, id uuid.UUID, sessionID string) error {
	defer s.lock(ctx)()
	o, ok := s.orders[id]
	if !ok {
		return order.ErrOrderNotFound
	}
	if o.GatewaySessionID != nil {
		return order.ErrSessionAlreadyLinked
	}
	o.GatewaySessionID = &sessionID
	return nil
}

func (s *memStore) update(ctx context.Context, id uuid.UUID, apply func(o *order.Order) bool) (bool, error) {
	defer s.lock(ctx)()
	o, ok := s.orders[id]
	if !ok {
		return false, nil
	}
	return apply(o), nil
}

func (s *memStore) SetPaymentIntent(ctx context.Context, id uuid.UUID, paymentIntentID string) (bool, error) {
	if err := s.takeIntentErr(ctx); err != nil {
		return false, err
	}
	return s.update(ctx, id, func(o *order.Order) bool {
		if o.PaymentIntentID != nil {
			return false
		}
		o.PaymentIntentID = &paymentIntentID
		return true
	})
}

func (s *memStore) takeIntentErr(ctx context.Context) error {
	defer s.lock(ctx)()
	err := s.intentErr
	s.intentErr = nil
	return err
}

func (s *memStore) SetEmailIfEmpty(ctx context.Context, id uuid.UUID, email string) (bool, error) {
	return s.update(ctx, id, func(o *order.Order) bool {
		if o.Email != nil && *o.Email != "" {
			return false
		}
		o.Email = &email
		return true
	})
}

func (s *memStore) CompareAndSetStatus(ctx context.Context, id uuid.UUID, expected, next order.Status) (bool, error) {
	return s.update(ctx, id, func(o *order.Order) bool {
		if o.Status != expected {
			return false
		}
		o.Status = next
		return true
	})
}

func (s *memStore) SaveContact(ctx context.Context, id uuid.UUID, c order.Contact) error {
	ok, err := s.update(ctx, id, func(o *order.Order) bool {
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
		return true
	})
	if err == nil && !ok {
		return order.ErrOrderNotFound
	}
	return err
}

func (s *memStore) MarkRefunded(ctx context.Context, id uuid.UUID, refundID string, at time.Time) (bool, error) {
	return s.update(ctx, id, func(o *order.Order) bool {
		if o.RefundIssued {
			return false
		}
		o.RefundIssued = true
		o.RefundID = &refundID
		o.RefundedAt = &at
		return true
	})
}

func (s *memStore) MarkPaymentEmailSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return s.update(ctx, id, func(o *order.Order) bool {
		if o.PaymentEmailSent {
			return false
		}
		o.PaymentEmailSent = true
		o.PaymentEmailSentAt = &at
		return true
	})
}

func (s *memStore) MarkCompletionEmailSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return s.update(ctx, id, func(o *order.Order) bool {
		if o.CompletionEmailSent {
			return false
		}
		o.CompletionEmailSent = true
		o.CompletionEmailSentAt = &at
		return true
	})
}

// inventory.Repository

type memInventory struct{ *memStore }

func (s memInventory) Decrement(ctx context.Context, productID int64, quantity int) error {
	defer s.lock(ctx)()
	p, ok := s.products[productID]
	if !ok || !p.active || p.stock < quantity {
		return fmt.Errorf("%w: product %d, quantity %d", inventory.ErrInsufficientStock, productID, quantity)
	}
	p.stock -= quantity
	s.products[productID] = p
	return nil
}

func (s memInventory) Reserve(ctx context.Context, items []inventory.Item) error {
	for _, it := range inventory.SortedByProduct(items) {
		if err := s.Decrement(ctx, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (s memInventory) Stock(ctx context.Context, productID int64) (int, error) {
	defer s.lock(ctx)()
	return s.products[productID].stock, nil
}

// idempotency.Ledger

type memLedger struct{ *memStore }

func (s memLedger) Record(ctx context.Context, rec idempotency.Record) error {
	defer s.lock(ctx)()
	if s.ledgerErr != nil {
		return s.ledgerErr
	}
	if _, ok := s.events[rec.EventID]; ok {
		return idempotency.ErrDuplicateEvent
	}
	s.events[rec.EventID] = uuid.Nil
	s.records = append(s.records, rec)
	return nil
}

func (s memLedger) BackfillOrder(ctx context.Context, eventID string, orderID uuid.UUID) error {
	defer s.lock(ctx)()
	if s.events[eventID] == uuid.Nil {
		s.events[eventID] = orderID
	}
	return nil
}

func (s memLedger) PaymentForSession(ctx context.Context, sessionID string) (idempotency.Payment, error) {
	defer s.lock(ctx)()
	for _, rec := range s.records {
		if rec.SessionID == sessionID && rec.Kind == idempotency.KindPaymentCompleted && rec.PaymentIntentID != "" {
			return idempotency.Payment{EventID: rec.EventID, PaymentIntentID: rec.PaymentIntentID, CustomerEmail: rec.CustomerEmail}, nil
		}
	}
	return idempotency.Payment{}, idempotency.ErrNoPayment
}

// fakeGateway hands out sequential session ids and collapses refunds per
// order the way the provider does with an idempotency key.
type fakeGateway struct {
	mu          sync.Mutex
	sessionSeq  atomic.Int64
	sessions    []payment.SessionRequest
	refunds     map[uuid.UUID]string
	refundCalls int
	sessionErr  error
	refundErr   error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{refunds: make(map[uuid.UUID]string)}
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req payment.SessionRequest) (payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessionErr != nil {
		return payment.Session{}, g.sessionErr
	}
	g.sessions = append(g.sessions, req)
	id := fmt.Sprintf("cs_test_%d", g.sessionSeq.Add(1))
	return payment.Session{ID: id, URL: "https://checkout.example/" + id}, nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, req payment.RefundRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls++
	if g.refundErr != nil {
		return "", g.refundErr
	}
	if id, ok := g.refunds[req.OrderID]; ok {
		return id, nil
	}
	id := "re_" + req.OrderID.String()
	g.refunds[req.OrderID] = id
	return id, nil
}

func (g *fakeGateway) setRefundErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundErr = err
}

func (g *fakeGateway) refundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
	err  error
}

func (n *fakeNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) subjects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Subject)
	}
	return out
}

func (n *fakeNotifier) messages() []notification.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification.Message(nil), n.sent...)
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{counts: make(map[string]int)}
}

func (r *countingRecorder) inc(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[key]++
}

func (r *countingRecorder) ObserveEvent(outcome string) { r.inc("event:" + outcome) }
func (r *countingRecorder) ObserveRefund(result string) { r.inc("refund:" + result) }
func (r *countingRecorder) ObserveNotification(template, result string) {
	r.inc("notification:" + template + ":" + result)
}

func (r *countingRecorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

type harness struct {
	store    *memStore
	gateway  *fakeGateway
	notifier *fakeNotifier
	metrics  *countingRecorder
	engine   *fulfillment.Engine
}

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newHarness() *harness {
	store := newMemStore()
	gateway := newFakeGateway()
	notifier := &fakeNotifier{}
	metrics := newCountingRecorder()

	calc := pricing.NewCalculator(decimal.RequireFromString("9.90"), decimal.RequireFromString("100.00"))
	engine := fulfillment.NewEngine(fulfillment.Deps{
		Orders:    store,
		Drafts:    order.NewService(store, store, calc, "eur"),
		Inventory: memInventory{store},
		Ledger:    memLedger{store},
		Tx:        store,
		Gateway:   gateway,
		Notifier:  notifier,
		Metrics:   metrics,
		BaseURL:   "https://shop.example/",
		Now:       func() time.Time { return fixedNow },
	})

	return &harness{store: store, gateway: gateway, notifier: notifier, metrics: metrics, engine: engine}
}

var errProviderDown = errors.New("provider unavailable")

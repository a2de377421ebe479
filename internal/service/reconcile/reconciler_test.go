package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ivmarkov/ticketflow/internal/domain"
	"github.com/ivmarkov/ticketflow/internal/gateway"
	"github.com/ivmarkov/ticketflow/internal/service/tickets"
	"github.com/ivmarkov/ticketflow/internal/sign"
)

type fakeTx struct {
	pgx.Tx
}

func (fakeTx) Commit(ctx context.Context) error   { return nil }
func (fakeTx) Rollback(ctx context.Context) error { return nil }

type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	return args.Get(0).(pgx.Tx), args.Error(1)
}

func (m *MockOrderRepository) Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	args := m.Called(ctx, tx, order)
	return args.Error(0)
}

func (m *MockOrderRepository) GetByID(ctx context.Context, tx pgx.Tx, id string) (*domain.Order, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.Order, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) GetByPaymentRef(ctx context.Context, tx pgx.Tx, ref string) (*domain.Order, error) {
	args := m.Called(ctx, tx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from, to domain.OrderStatus) (bool, error) {
	args := m.Called(ctx, tx, id, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockOrderRepository) AttachPaymentRef(ctx context.Context, id, ref, redirectURL string) error {
	args := m.Called(ctx, id, ref, redirectURL)
	return args.Error(0)
}

func (m *MockOrderRepository) SetRefundFlagged(ctx context.Context, tx pgx.Tx, id string) error {
	args := m.Called(ctx, tx, id)
	return args.Error(0)
}

func (m *MockOrderRepository) FindExpirable(ctx context.Context, tx pgx.Tx, deadline time.Time, limit int) ([]domain.Order, error) {
	args := m.Called(ctx, tx, deadline, limit)
	return args.Get(0).([]domain.Order), args.Error(1)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) Upsert(ctx context.Context, tx pgx.Tx, p *domain.Payment) (bool, *domain.Payment, error) {
	args := m.Called(ctx, tx, p)
	var existing *domain.Payment
	if args.Get(1) != nil {
		existing = args.Get(1).(*domain.Payment)
	}
	return args.Bool(0), existing, args.Error(2)
}

func (m *MockPaymentRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id int64, status domain.PaymentStatus) error {
	args := m.Called(ctx, tx, id, status)
	return args.Error(0)
}

func (m *MockPaymentRepository) GetByExternalTxnID(ctx context.Context, tx pgx.Tx, txnID string) (*domain.Payment, error) {
	args := m.Called(ctx, tx, txnID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Payment), args.Error(1)
}

func (m *MockPaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).([]domain.Payment), args.Error(1)
}

type MockInventoryRepository struct {
	mock.Mock
}

func (m *MockInventoryRepository) GetClass(ctx context.Context, tx pgx.Tx, id int64) (*domain.TicketClass, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TicketClass), args.Error(1)
}

func (m *MockInventoryRepository) ListClassesByEvent(ctx context.Context, eventID int64) ([]domain.TicketClass, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).([]domain.TicketClass), args.Error(1)
}

func (m *MockInventoryRepository) Reserve(ctx context.Context, tx pgx.Tx, classID int64, qty int) error {
	args := m.Called(ctx, tx, classID, qty)
	return args.Error(0)
}

func (m *MockInventoryRepository) Commit(ctx context.Context, tx pgx.Tx, classID int64, qty int) error {
	args := m.Called(ctx, tx, classID, qty)
	return args.Error(0)
}

func (m *MockInventoryRepository) Release(ctx context.Context, tx pgx.Tx, classID int64, qty int) error {
	args := m.Called(ctx, tx, classID, qty)
	return args.Error(0)
}

type MockTicketRepository struct {
	mock.Mock
}

func (m *MockTicketRepository) Insert(ctx context.Context, tx pgx.Tx, ts []domain.Ticket) error {
	args := m.Called(ctx, tx, ts)
	return args.Error(0)
}

func (m *MockTicketRepository) GetByID(ctx context.Context, tx pgx.Tx, id string) (*domain.Ticket, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Ticket), args.Error(1)
}

func (m *MockTicketRepository) CountIssuedByOrder(ctx context.Context, tx pgx.Tx, orderID string) (int, error) {
	args := m.Called(ctx, tx, orderID)
	return args.Int(0), args.Error(1)
}

func (m *MockTicketRepository) MarkUsed(ctx context.Context, id, nonce, validatorID, gate string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, nonce, validatorID, gate, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockTicketRepository) Transfer(ctx context.Context, id, newOwnerID, newOwnerEmail, newNonce string, issuedAt time.Time) (bool, error) {
	args := m.Called(ctx, id, newOwnerID, newOwnerEmail, newNonce, issuedAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockTicketRepository) Cancel(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockTicketRepository) ListByOrder(ctx context.Context, tx pgx.Tx, orderID string) ([]domain.Ticket, error) {
	args := m.Called(ctx, tx, orderID)
	return args.Get(0).([]domain.Ticket), args.Error(1)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

type MockDedup struct {
	mock.Mock
}

func (m *MockDedup) MarkTxnSeen(ctx context.Context, externalTxnID string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, externalTxnID, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockDedup) TxnSeen(ctx context.Context, externalTxnID string) (bool, error) {
	args := m.Called(ctx, externalTxnID)
	return args.Bool(0), args.Error(1)
}

type fixture struct {
	orders     *MockOrderRepository
	payments   *MockPaymentRepository
	inventory  *MockInventoryRepository
	tickets    *MockTicketRepository
	producer   *MockProducer
	dedup      *MockDedup
	reconciler *Reconciler
}

func newFixture() *fixture {
	f := &fixture{
		orders:    &MockOrderRepository{},
		payments:  &MockPaymentRepository{},
		inventory: &MockInventoryRepository{},
		tickets:   &MockTicketRepository{},
		producer:  &MockProducer{},
		dedup:     &MockDedup{},
	}
	f.reconciler = NewReconciler(ReconcilerProperty{
		Orders:      f.orders,
		Payments:    f.payments,
		Inventory:   f.inventory,
		Minter:      tickets.NewMinter(f.tickets, sign.NewSigner("test-secret")),
		Producer:    f.producer,
		Dedup:       f.dedup,
		Logger:      logrus.New(),
		OrderTopic:  "orders",
		TicketTopic: "tickets",
	})
	return f
}

func pendingOrder() *domain.Order {
	return &domain.Order{
		ID:         "o-1",
		EventID:    1,
		BuyerID:    "buyer",
		BuyerEmail: "buyer@example.com",
		Status:     domain.OrderStatusPending,
		TotalCents: 11500,
		Currency:   "USD",
		Items:      []domain.OrderItem{{TicketClassID: 10, Quantity: 2, PriceCents: 5000}},
		ExpiresAt:  time.Now().Add(10 * time.Minute),
	}
}

func succeededEvent(amountCents int64) gateway.PaymentSucceeded {
	return gateway.PaymentSucceeded{
		OrderRef:      "o-1",
		ExternalTxnID: "txn-1",
		Amount:        decimal.NewFromInt(amountCents).Div(decimal.NewFromInt(100)),
		Currency:      "USD",
	}
}

func TestReconciler_Settlement_ConfirmsAndMints(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tx := fakeTx{}
	order := pendingOrder()

	f.dedup.On("TxnSeen", ctx, "txn-1").Return(false, nil).Once()
	f.orders.On("BeginTx", ctx).Return(tx, nil).Once()
	f.orders.On("GetByIDForUpdate", ctx, tx, "o-1").Return(order, nil).Once()
	f.payments.On("Upsert", ctx, tx, mock.AnythingOfType("*domain.Payment")).Return(true, nil, nil).Once()
	f.payments.On("UpdateStatus", ctx, tx, int64(0), domain.PaymentStatusCompleted).Return(nil).Once()
	f.orders.On("UpdateStatus", ctx, tx, "o-1", domain.OrderStatusPending, domain.OrderStatusConfirmed).Return(true, nil).Once()
	f.inventory.On("Commit", ctx, tx, int64(10), 2).Return(nil).Once()
	f.tickets.On("CountIssuedByOrder", ctx, tx, "o-1").Return(0, nil).Once()
	f.tickets.On("Insert", ctx, tx, mock.AnythingOfType("[]domain.Ticket")).Return(nil).Once()
	f.dedup.On("MarkTxnSeen", ctx, "txn-1", mock.AnythingOfType("time.Duration")).Return(true, nil).Once()
	f.producer.On("Publish", ctx, "orders", "o-1", mock.Anything).Return(nil).Once()
	f.producer.On("Publish", ctx, "tickets", mock.Anything, mock.Anything).Return(nil).Twice()

	err := f.reconciler.Apply(ctx, succeededEvent(11500))

	assert.NoError(t, err)
	f.orders.AssertExpectations(t)
	f.payments.AssertExpectations(t)
	f.inventory.AssertExpectations(t)
	f.tickets.AssertExpectations(t)
	f.producer.AssertExpectations(t)
}

func TestReconciler_Settlement_DuplicateDeliveryIsNoop(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tx := fakeTx{}
	order := pendingOrder()

	f.dedup.On("TxnSeen", ctx, "txn-1").Return(false, nil).Once()
	f.orders.On("BeginTx", ctx).Return(tx, nil).Once()
	f.orders.On("GetByIDForUpdate", ctx, tx, "o-1").Return(order, nil).Once()
	f.payments.On("Upsert", ctx, tx, mock.AnythingOfType("*domain.Payment")).
		Return(false, &domain.Payment{ID: 7, OrderID: "o-1", ExternalTxnID: "txn-1", Status: domain.PaymentStatusCompleted}, nil).Once()

	err := f.reconciler.Apply(ctx, succeededEvent(11500))

	assert.NoError(t, err)
	f.orders.AssertNotCalled(t, "UpdateStatus")
	f.inventory.AssertNotCalled(t, "Commit")
	f.tickets.AssertNotCalled(t, "Insert")
}

func TestReconciler_Settlement_CachedDuplicateShortCircuits(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.dedup.On("TxnSeen", ctx, "txn-1").Return(true, nil).Once()

	err := f.reconciler.Apply(ctx, succeededEvent(11500))

	assert.NoError(t, err)
	f.orders.AssertNotCalled(t, "BeginTx")
}

func TestReconciler_Settlement_AfterExpiryFlagsRefund(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tx := fakeTx{}
	order := pendingOrder()
	order.Status = domain.OrderStatusExpired

	f.dedup.On("TxnSeen", ctx, "txn-1").Return(false, nil).Once()
	f.orders.On("BeginTx", ctx).Return(tx, nil).Once()
	f.orders.On("GetByIDForUpdate", ctx, tx, "o-1").Return(order, nil).Once()
	f.payments.On("Upsert", ctx, tx, mock.AnythingOfType("*domain.Payment")).Return(true, nil, nil).Once()
	f.payments.On("UpdateStatus", ctx, tx, int64(0), domain.PaymentStatusCompleted).Return(nil).Once()
	f.orders.On("UpdateStatus", ctx, tx, "o-1", domain.OrderStatusExpired, domain.OrderStatusConfirmedAfterExpiry).Return(true, nil).Once()
	f.orders.On("SetRefundFlagged", ctx, tx, "o-1").Return(nil).Once()
	f.dedup.On("MarkTxnSeen", ctx, "txn-1", mock.AnythingOfType("time.Duration")).Return(true, nil).Once()
	f.producer.On("Publish", ctx, "orders", "o-1", mock.Anything).Return(nil).Once()

	err := f.reconciler.Apply(ctx, succeededEvent(11500))

	assert.NoError(t, err)
	// Inventory is never re-reserved for a late settlement.
	f.inventory.AssertNotCalled(t, "Commit")
	f.tickets.AssertNotCalled(t, "Insert")
	f.orders.AssertExpectations(t)
}

func TestReconciler_Settlement_AmountMismatch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tx := fakeTx{}
	order := pendingOrder()

	f.dedup.On("TxnSeen", ctx, "txn-1").Return(false, nil).Once()
	f.orders.On("BeginTx", ctx).Return(tx, nil).Once()
	f.orders.On("GetByIDForUpdate", ctx, tx, "o-1").Return(order, nil).Once()
	f.payments.On("Upsert", ctx, tx, mock.AnythingOfType("*domain.Payment")).Return(true, nil, nil).Once()
	f.payments.On("UpdateStatus", ctx, tx, int64(0), domain.PaymentStatusFailed).Return(nil).Once()

	err := f.reconciler.Apply(ctx, succeededEvent(9900))

	assert.NoError(t, err)
	f.orders.AssertNotCalled(t, "UpdateStatus")
	f.tickets.AssertNotCalled(t, "Insert")
}

func TestReconciler_Failed_OrderStaysPending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tx := fakeTx{}
	order := pendingOrder()

	f.orders.On("BeginTx", ctx).Return(tx, nil).Once()
	f.orders.On("GetByIDForUpdate", ctx, tx, "o-1").Return(order, nil).Once()
	f.payments.On("Upsert", ctx, tx, mock.AnythingOfType("*domain.Payment")).Return(true, nil, nil).Once()
	f.producer.On("Publish", ctx, "orders", "o-1", mock.Anything).Return(nil).Once()

	err := f.reconciler.Apply(ctx, gateway.PaymentFailed{
		OrderRef:      "o-1",
		ExternalTxnID: "txn-1",
		Reason:        "card_declined",
	})

	assert.NoError(t, err)
	f.orders.AssertNotCalled(t, "UpdateStatus")
	f.inventory.AssertNotCalled(t, "Release")
}

func TestReconciler_Failed_AfterSuccessIsNoop(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tx := fakeTx{}
	order := pendingOrder()
	order.Status = domain.OrderStatusConfirmed

	f.orders.On("BeginTx", ctx).Return(tx, nil).Once()
	f.orders.On("GetByIDForUpdate", ctx, tx, "o-1").Return(order, nil).Once()
	f.payments.On("Upsert", ctx, tx, mock.AnythingOfType("*domain.Payment")).
		Return(false, &domain.Payment{ID: 7, Status: domain.PaymentStatusCompleted}, nil).Once()

	err := f.reconciler.Apply(ctx, gateway.PaymentFailed{OrderRef: "o-1", ExternalTxnID: "txn-1"})

	assert.NoError(t, err)
	f.producer.AssertNotCalled(t, "Publish")
}

func TestReconciler_Disputed(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tx := fakeTx{}
	order := pendingOrder()
	order.Status = domain.OrderStatusConfirmed

	payment := &domain.Payment{ID: 7, OrderID: "o-1", ExternalTxnID: "txn-1", Status: domain.PaymentStatusCompleted}

	f.orders.On("BeginTx", ctx).Return(tx, nil).Once()
	f.payments.On("GetByExternalTxnID", ctx, tx, "txn-1").Return(payment, nil).Once()
	f.orders.On("GetByIDForUpdate", ctx, tx, "o-1").Return(order, nil).Once()
	f.payments.On("UpdateStatus", ctx, tx, int64(7), domain.PaymentStatusDisputed).Return(nil).Once()
	f.orders.On("UpdateStatus", ctx, tx, "o-1", domain.OrderStatusConfirmed, domain.OrderStatusDisputed).Return(true, nil).Once()
	f.orders.On("SetRefundFlagged", ctx, tx, "o-1").Return(nil).Once()
	f.producer.On("Publish", ctx, "orders", "o-1", mock.Anything).Return(nil).Once()

	err := f.reconciler.Apply(ctx, gateway.ChargeDisputed{ExternalTxnID: "txn-1"})

	assert.NoError(t, err)
	// Issued tickets remain untouched; the dispute is an operator matter.
	f.tickets.AssertNotCalled(t, "Cancel")
	f.orders.AssertExpectations(t)
}

func TestReconciler_Disputed_Duplicate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tx := fakeTx{}

	payment := &domain.Payment{ID: 7, OrderID: "o-1", ExternalTxnID: "txn-1", Status: domain.PaymentStatusDisputed}

	f.orders.On("BeginTx", ctx).Return(tx, nil).Once()
	f.payments.On("GetByExternalTxnID", ctx, tx, "txn-1").Return(payment, nil).Once()

	err := f.reconciler.Apply(ctx, gateway.ChargeDisputed{ExternalTxnID: "txn-1"})

	assert.NoError(t, err)
	f.orders.AssertNotCalled(t, "GetByIDForUpdate")
	f.payments.AssertNotCalled(t, "UpdateStatus")
}

func TestReconciler_Settlement_MintIsIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tx := fakeTx{}
	order := pendingOrder()

	f.dedup.On("TxnSeen", ctx, "txn-1").Return(false, nil).Once()
	f.orders.On("BeginTx", ctx).Return(tx, nil).Once()
	f.orders.On("GetByIDForUpdate", ctx, tx, "o-1").Return(order, nil).Once()
	f.payments.On("Upsert", ctx, tx, mock.AnythingOfType("*domain.Payment")).
		Return(false, &domain.Payment{ID: 7, OrderID: "o-1", AmountCents: 11500, Status: domain.PaymentStatusPending}, nil).Once()
	f.payments.On("UpdateStatus", ctx, tx, int64(7), domain.PaymentStatusCompleted).Return(nil).Once()
	f.orders.On("UpdateStatus", ctx, tx, "o-1", domain.OrderStatusPending, domain.OrderStatusConfirmed).Return(true, nil).Once()
	f.inventory.On("Commit", ctx, tx, int64(10), 2).Return(nil).Once()
	// One ticket already exists from a half-applied earlier attempt.
	f.tickets.On("CountIssuedByOrder", ctx, tx, "o-1").Return(1, nil).Once()
	f.tickets.On("Insert", ctx, tx, mock.MatchedBy(func(ts []domain.Ticket) bool {
		return len(ts) == 1
	})).Return(nil).Once()
	f.dedup.On("MarkTxnSeen", ctx, "txn-1", mock.AnythingOfType("time.Duration")).Return(true, nil).Once()
	f.producer.On("Publish", ctx, "orders", "o-1", mock.Anything).Return(nil).Once()
	f.producer.On("Publish", ctx, "tickets", mock.Anything, mock.Anything).Return(nil).Once()

	err := f.reconciler.Apply(ctx, succeededEvent(11500))

	assert.NoError(t, err)
	f.tickets.AssertExpectations(t)
}

package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/ivmarkov/ticketflow/internal/domain"
	"github.com/ivmarkov/ticketflow/internal/gateway"
	"github.com/ivmarkov/ticketflow/internal/kafka"
	"github.com/ivmarkov/ticketflow/internal/monitoring"
	"github.com/ivmarkov/ticketflow/internal/repository"
	"github.com/sirupsen/logrus"
)

type OrderUseCase interface {
	Create(ctx context.Context, input CreateOrderInput) (*domain.Order, error)
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	RetryPayment(ctx context.Context, id string) (*domain.Order, error)
	ExpirePending(ctx context.Context) ([]domain.Order, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type LineItemInput struct {
	TicketClassID int64 `json:"ticket_class_id"`
	Quantity      int   `json:"quantity"`
}

type CreateOrderInput struct {
	EventID    int64
	BuyerID    string
	BuyerEmail string
	Items      []LineItemInput
}

type OrderService struct {
	orders         repository.OrderRepository
	inventory      repository.InventoryRepository
	events         repository.EventRepository
	provider       gateway.Provider
	producer       Producer
	logger         *logrus.Logger
	orderTopic     string
	reservationTTL time.Duration
	feePercent     float64
	taxPercent     float64
	sweepBatch     int
}

type OrderServiceProperty struct {
	Orders         repository.OrderRepository
	Inventory      repository.InventoryRepository
	Events         repository.EventRepository
	Provider       gateway.Provider
	Producer       Producer
	Logger         *logrus.Logger
	OrderTopic     string
	ReservationTTL time.Duration
	FeePercent     float64
	TaxPercent     float64
	SweepBatchSize int
}

func NewOrderService(props OrderServiceProperty) *OrderService {
	batch := props.SweepBatchSize
	if batch <= 0 {
		batch = 100
	}
	return &OrderService{
		orders:         props.Orders,
		inventory:      props.Inventory,
		events:         props.Events,
		provider:       props.Provider,
		producer:       props.Producer,
		logger:         props.Logger,
		orderTopic:     props.OrderTopic,
		reservationTTL: props.ReservationTTL,
		feePercent:     props.FeePercent,
		taxPercent:     props.TaxPercent,
		sweepBatch:     batch,
	}
}

// Create validates every line item, reserves its inventory inside a single
// transaction, then opens the external payment. Reservation is all-or-nothing:
// any failing line item rolls back the reservations already taken for the
// other items.
func (s *OrderService) Create(ctx context.Context, input CreateOrderInput) (*domain.Order, error) {
	if len(input.Items) == 0 {
		return nil, errors.New("order has no line items")
	}

	event, err := s.events.GetByID(ctx, nil, input.EventID)
	if err != nil {
		return nil, err
	}

	tx, err := s.orders.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	order := &domain.Order{
		ID:         uuid.NewString(),
		EventID:    event.ID,
		BuyerID:    input.BuyerID,
		BuyerEmail: input.BuyerEmail,
		Status:     domain.OrderStatusPending,
		ExpiresAt:  now.Add(s.reservationTTL),
	}

	var subtotal int64
	for _, li := range input.Items {
		if li.Quantity <= 0 {
			return nil, fmt.Errorf("ticket class %d: quantity must be positive", li.TicketClassID)
		}

		class, err := s.inventory.GetClass(ctx, tx, li.TicketClassID)
		if err != nil {
			return nil, err
		}
		if class.EventID != event.ID {
			return nil, fmt.Errorf("ticket class %d does not belong to event %d", class.ID, event.ID)
		}
		if !class.OnSale(now) {
			return nil, fmt.Errorf("ticket class %d: %w", class.ID, domain.ErrSaleWindowClosed)
		}
		if li.Quantity > class.MaxPerOrder {
			return nil, &domain.PerOrderLimitError{TicketClassID: class.ID, Limit: class.MaxPerOrder}
		}

		if err := s.inventory.Reserve(ctx, tx, class.ID, li.Quantity); err != nil {
			return nil, err
		}

		if order.Currency == "" {
			order.Currency = class.Currency
		}
		subtotal += class.PriceCents * int64(li.Quantity)
		order.Items = append(order.Items, domain.OrderItem{
			TicketClassID: class.ID,
			Quantity:      li.Quantity,
			PriceCents:    class.PriceCents,
		})
	}

	order.SubtotalCents = subtotal
	order.FeeCents = int64(math.Round(float64(subtotal) * s.feePercent / 100))
	order.TaxCents = int64(math.Round(float64(subtotal) * s.taxPercent / 100))
	order.TotalCents = order.SubtotalCents + order.FeeCents + order.TaxCents

	if err := s.orders.Create(ctx, tx, order); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	monitoring.OrdersCreated.Inc()
	s.publish(ctx, kafka.EventOrderCreated, order)

	// The charge request runs outside the reservation transaction so a slow
	// provider cannot hold row locks. A failed open parks the order at
	// PAYMENT_FAILED; the expiry sweep reclaims its inventory if the buyer
	// never retries.
	return s.openPayment(ctx, order)
}

func (s *OrderService) openPayment(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	res, err := s.provider.Open(ctx, gateway.OpenRequest{
		OrderID:       order.ID,
		AmountCents:   order.TotalCents,
		Currency:      order.Currency,
		CustomerEmail: order.BuyerEmail,
		Description:   fmt.Sprintf("tickets for event %d", order.EventID),
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("order_id", order.ID).Error("payment open failed")
		if _, uerr := s.orders.UpdateStatus(ctx, nil, order.ID, domain.OrderStatusPending, domain.OrderStatusPaymentFailed); uerr != nil {
			return nil, uerr
		}
		order.Status = domain.OrderStatusPaymentFailed
		return order, fmt.Errorf("open payment for order %s: %w", order.ID, err)
	}

	if err := s.orders.AttachPaymentRef(ctx, order.ID, res.ProviderRef, res.RedirectURL); err != nil {
		return nil, err
	}
	order.PaymentRef = &res.ProviderRef
	order.RedirectURL = &res.RedirectURL
	return order, nil
}

// GetByID applies the lazy expiry check: a pending order read past its TTL is
// expired (and its inventory released) before being returned.
func (s *OrderService) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}

	if expirable(order, time.Now()) {
		if err := s.expireOne(ctx, order); err != nil {
			return nil, err
		}
		return s.orders.GetByID(ctx, nil, id)
	}
	return order, nil
}

// RetryPayment moves a PAYMENT_FAILED order back to PENDING and opens a fresh
// charge, as long as its reservation has not lapsed.
func (s *OrderService) RetryPayment(ctx context.Context, id string) (*domain.Order, error) {
	order, err := s.orders.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusPaymentFailed {
		return nil, domain.ErrOrderNotPending
	}
	if !time.Now().Before(order.ExpiresAt) {
		return nil, domain.ErrOrderNotPending
	}

	won, err := s.orders.UpdateStatus(ctx, nil, order.ID, domain.OrderStatusPaymentFailed, domain.OrderStatusPending)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, domain.ErrConflict
	}
	order.Status = domain.OrderStatusPending
	return s.openPayment(ctx, order)
}

// ExpirePending sweeps orders whose reservation TTL has lapsed. Each order is
// expired and released inside one transaction, and the sweep takes the same
// row locks the reconciler takes, so a concurrently arriving confirmation
// observes either the reservation or the expiry, never a mix.
func (s *OrderService) ExpirePending(ctx context.Context) ([]domain.Order, error) {
	tx, err := s.orders.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	candidates, err := s.orders.FindExpirable(ctx, tx, time.Now(), s.sweepBatch)
	if err != nil {
		return nil, err
	}

	var expired []domain.Order
	for i := range candidates {
		o := &candidates[i]
		for _, it := range o.Items {
			if err := s.inventory.Release(ctx, tx, it.TicketClassID, it.Quantity); err != nil {
				return nil, err
			}
		}
		won, err := s.orders.UpdateStatus(ctx, tx, o.ID, o.Status, domain.OrderStatusExpired)
		if err != nil {
			return nil, err
		}
		if !won {
			return nil, domain.ErrConflict
		}
		o.Status = domain.OrderStatusExpired
		expired = append(expired, *o)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	for i := range expired {
		monitoring.OrdersExpired.Inc()
		s.publish(ctx, kafka.EventOrderExpired, &expired[i])
	}
	return expired, nil
}

func (s *OrderService) expireOne(ctx context.Context, order *domain.Order) error {
	tx, err := s.orders.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Re-read under lock; the reconciler may have confirmed it meanwhile.
	locked, err := s.orders.GetByIDForUpdate(ctx, tx, order.ID)
	if err != nil {
		return err
	}
	if !expirable(locked, time.Now()) {
		return nil
	}

	for _, it := range locked.Items {
		if err := s.inventory.Release(ctx, tx, it.TicketClassID, it.Quantity); err != nil {
			return err
		}
	}
	won, err := s.orders.UpdateStatus(ctx, tx, locked.ID, locked.Status, domain.OrderStatusExpired)
	if err != nil {
		return err
	}
	if !won {
		return domain.ErrConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	monitoring.OrdersExpired.Inc()
	locked.Status = domain.OrderStatusExpired
	s.publish(ctx, kafka.EventOrderExpired, locked)
	return nil
}

func expirable(o *domain.Order, now time.Time) bool {
	if o.Status != domain.OrderStatusPending && o.Status != domain.OrderStatusPaymentFailed {
		return false
	}
	return !now.Before(o.ExpiresAt)
}

func (s *OrderService) publish(ctx context.Context, eventType string, order *domain.Order) {
	if s.producer == nil || s.orderTopic == "" {
		return
	}
	ev := kafka.OrderEvent{
		Type:       eventType,
		OrderID:    order.ID,
		EventID:    order.EventID,
		BuyerEmail: order.BuyerEmail,
		Status:     string(order.Status),
		TotalCents: order.TotalCents,
		Currency:   order.Currency,
		OccurredAt: time.Now(),
	}
	if !order.ExpiresAt.IsZero() {
		expiresAt := order.ExpiresAt
		ev.ExpiresAt = &expiresAt
	}
	if err := s.producer.Publish(ctx, s.orderTopic, order.ID, ev); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("order_id", order.ID).Warn("failed to publish order event")
	}
}

var _ OrderUseCase = (*OrderService)(nil)

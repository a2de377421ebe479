package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ivmarkov/ticketflow/internal/domain"
	"github.com/ivmarkov/ticketflow/internal/gateway"
	"github.com/ivmarkov/ticketflow/internal/kafka"
	"github.com/ivmarkov/ticketflow/internal/monitoring"
	"github.com/ivmarkov/ticketflow/internal/repository"
	"github.com/ivmarkov/ticketflow/internal/service/tickets"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// DedupCache is the advisory fast path in front of the database idempotency
// check. Markers are written only after a transaction commits, so a present
// marker always means "durably applied".
type DedupCache interface {
	MarkTxnSeen(ctx context.Context, externalTxnID string, ttl time.Duration) (bool, error)
	TxnSeen(ctx context.Context, externalTxnID string) (bool, error)
}

// Reconciler applies translated payment events to orders. Applying the same
// external transaction id any number of times yields the same final state:
// the unique (order_id, external_txn_id) payment row decides who goes first,
// and every later delivery short-circuits without side effects.
type Reconciler struct {
	orders      repository.OrderRepository
	payments    repository.PaymentRepository
	inventory   repository.InventoryRepository
	minter      *tickets.Minter
	producer    Producer
	dedup       DedupCache
	logger      *logrus.Logger
	orderTopic  string
	ticketTopic string
	dedupTTL    time.Duration
}

type ReconcilerProperty struct {
	Orders      repository.OrderRepository
	Payments    repository.PaymentRepository
	Inventory   repository.InventoryRepository
	Minter      *tickets.Minter
	Producer    Producer
	Dedup       DedupCache
	Logger      *logrus.Logger
	OrderTopic  string
	TicketTopic string
}

func NewReconciler(props ReconcilerProperty) *Reconciler {
	return &Reconciler{
		orders:      props.Orders,
		payments:    props.Payments,
		inventory:   props.Inventory,
		minter:      props.Minter,
		producer:    props.Producer,
		dedup:       props.Dedup,
		logger:      props.Logger,
		orderTopic:  props.OrderTopic,
		ticketTopic: props.TicketTopic,
		dedupTTL:    24 * time.Hour,
	}
}

func (r *Reconciler) Apply(ctx context.Context, ev gateway.Event) error {
	switch e := ev.(type) {
	case gateway.PaymentSucceeded:
		return r.applySucceeded(ctx, e)
	case gateway.PaymentFailed:
		return r.applyFailed(ctx, e)
	case gateway.ChargeDisputed:
		return r.applyDisputed(ctx, e)
	default:
		return fmt.Errorf("unknown payment event %T", ev)
	}
}

func (r *Reconciler) applySucceeded(ctx context.Context, e gateway.PaymentSucceeded) error {
	if r.dedup != nil {
		if seen, err := r.dedup.TxnSeen(ctx, e.ExternalTxnID); err == nil && seen {
			monitoring.WebhooksProcessed.WithLabelValues("duplicate").Inc()
			return nil
		}
	}

	tx, err := r.orders.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// The order row lock is the serialization point against the expiry sweep:
	// whichever of the two locks it first decides the outcome, the other
	// observes the already-applied transition.
	order, err := r.orders.GetByIDForUpdate(ctx, tx, e.OrderRef)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("payment %s references unknown order %s: %w", e.ExternalTxnID, e.OrderRef, err)
		}
		return err
	}

	payment := &domain.Payment{
		OrderID:       order.ID,
		ExternalTxnID: e.ExternalTxnID,
		AmountCents:   e.AmountCents(),
		Status:        domain.PaymentStatusPending,
		RawPayload:    e.Raw,
	}
	inserted, existing, err := r.payments.Upsert(ctx, tx, payment)
	if err != nil {
		return err
	}
	if !inserted && existing.Status == domain.PaymentStatusCompleted {
		// Duplicate delivery of an already applied settlement.
		monitoring.WebhooksProcessed.WithLabelValues("duplicate").Inc()
		return nil
	}
	if !inserted {
		payment = existing
	}

	switch order.Status {
	case domain.OrderStatusPending, domain.OrderStatusPaymentFailed:
		return r.confirm(ctx, tx, order, payment, e)
	case domain.OrderStatusExpired:
		return r.confirmAfterExpiry(ctx, tx, order, payment)
	default:
		// Already reconciled or terminal; nothing to re-apply.
		monitoring.WebhooksProcessed.WithLabelValues("noop").Inc()
		return nil
	}
}

func (r *Reconciler) confirm(ctx context.Context, tx pgx.Tx, order *domain.Order, payment *domain.Payment, e gateway.PaymentSucceeded) error {
	if payment.AmountCents != order.TotalCents {
		r.logger.WithContext(ctx).WithFields(logrus.Fields{
			"order_id": order.ID,
			"expected": order.TotalCents,
			"received": payment.AmountCents,
		}).Error("settlement amount mismatch")
		if err := r.payments.UpdateStatus(ctx, tx, payment.ID, domain.PaymentStatusFailed); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		monitoring.WebhooksProcessed.WithLabelValues("amount_mismatch").Inc()
		return nil
	}

	if err := r.payments.UpdateStatus(ctx, tx, payment.ID, domain.PaymentStatusCompleted); err != nil {
		return err
	}

	won, err := r.orders.UpdateStatus(ctx, tx, order.ID, order.Status, domain.OrderStatusConfirmed)
	if err != nil {
		return err
	}
	if !won {
		return domain.ErrConflict
	}

	for _, it := range order.Items {
		if err := r.inventory.Commit(ctx, tx, it.TicketClassID, it.Quantity); err != nil {
			return err
		}
	}

	minted, err := r.minter.MintForOrder(ctx, tx, order)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	monitoring.OrdersConfirmed.Inc()
	monitoring.WebhooksProcessed.WithLabelValues("confirmed").Inc()
	r.markSeen(ctx, e.ExternalTxnID)

	order.Status = domain.OrderStatusConfirmed
	r.publishOrder(ctx, kafka.EventOrderConfirmed, order)
	for i := range minted {
		r.publishTicket(ctx, kafka.EventTicketIssued, order, &minted[i])
	}
	return nil
}

// confirmAfterExpiry handles a settlement that arrives after the order's
// reservation was released. The freed inventory may have been resold, so the
// order is parked in a remediation state and flagged for refund instead of
// silently re-reserving.
func (r *Reconciler) confirmAfterExpiry(ctx context.Context, tx pgx.Tx, order *domain.Order, payment *domain.Payment) error {
	if err := r.payments.UpdateStatus(ctx, tx, payment.ID, domain.PaymentStatusCompleted); err != nil {
		return err
	}
	won, err := r.orders.UpdateStatus(ctx, tx, order.ID, domain.OrderStatusExpired, domain.OrderStatusConfirmedAfterExpiry)
	if err != nil {
		return err
	}
	if !won {
		return domain.ErrConflict
	}
	if err := r.orders.SetRefundFlagged(ctx, tx, order.ID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	monitoring.WebhooksProcessed.WithLabelValues("late_payment").Inc()
	r.markSeen(ctx, payment.ExternalTxnID)

	order.Status = domain.OrderStatusConfirmedAfterExpiry
	r.publishOrder(ctx, kafka.EventRefundRequested, order)
	return nil
}

func (r *Reconciler) applyFailed(ctx context.Context, e gateway.PaymentFailed) error {
	tx, err := r.orders.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	order, err := r.orders.GetByIDForUpdate(ctx, tx, e.OrderRef)
	if err != nil {
		return err
	}

	payment := &domain.Payment{
		OrderID:       order.ID,
		ExternalTxnID: e.ExternalTxnID,
		Status:        domain.PaymentStatusFailed,
		RawPayload:    e.Raw,
	}
	inserted, existing, err := r.payments.Upsert(ctx, tx, payment)
	if err != nil {
		return err
	}
	if !inserted && existing.Status != domain.PaymentStatusFailed {
		// A success for this txn already went through; a late failure
		// notification cannot un-confirm it.
		monitoring.WebhooksProcessed.WithLabelValues("noop").Inc()
		return nil
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	// The order stays PENDING while inside its expiry window so the buyer can
	// retry; past the window the sweep will expire it naturally.
	monitoring.WebhooksProcessed.WithLabelValues("failed").Inc()
	r.publishOrder(ctx, kafka.EventPaymentFailed, order)
	return nil
}

func (r *Reconciler) applyDisputed(ctx context.Context, e gateway.ChargeDisputed) error {
	tx, err := r.orders.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	payment, err := r.payments.GetByExternalTxnID(ctx, tx, e.ExternalTxnID)
	if err != nil {
		return fmt.Errorf("dispute for unknown transaction %s: %w", e.ExternalTxnID, err)
	}
	if payment.Status == domain.PaymentStatusDisputed {
		monitoring.WebhooksProcessed.WithLabelValues("duplicate").Inc()
		return nil
	}

	order, err := r.orders.GetByIDForUpdate(ctx, tx, payment.OrderID)
	if err != nil {
		return err
	}

	if err := r.payments.UpdateStatus(ctx, tx, payment.ID, domain.PaymentStatusDisputed); err != nil {
		return err
	}

	// Tickets are deliberately not auto-cancelled; the dispute flags the
	// order for an operator decision.
	if order.Status == domain.OrderStatusConfirmed {
		won, err := r.orders.UpdateStatus(ctx, tx, order.ID, domain.OrderStatusConfirmed, domain.OrderStatusDisputed)
		if err != nil {
			return err
		}
		if !won {
			return domain.ErrConflict
		}
		order.Status = domain.OrderStatusDisputed
	}
	if err := r.orders.SetRefundFlagged(ctx, tx, order.ID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	monitoring.WebhooksProcessed.WithLabelValues("disputed").Inc()
	r.publishOrder(ctx, kafka.EventOrderDisputed, order)
	return nil
}

func (r *Reconciler) markSeen(ctx context.Context, externalTxnID string) {
	if r.dedup == nil {
		return
	}
	if _, err := r.dedup.MarkTxnSeen(ctx, externalTxnID, r.dedupTTL); err != nil {
		r.logger.WithContext(ctx).WithError(err).Warn("failed to mark webhook txn seen")
	}
}

func (r *Reconciler) publishOrder(ctx context.Context, eventType string, order *domain.Order) {
	if r.producer == nil || r.orderTopic == "" {
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
	if err := r.producer.Publish(ctx, r.orderTopic, order.ID, ev); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("order_id", order.ID).Warn("failed to publish order event")
	}
}

func (r *Reconciler) publishTicket(ctx context.Context, eventType string, order *domain.Order, ticket *domain.Ticket) {
	if r.producer == nil || r.ticketTopic == "" {
		return
	}
	ev := kafka.OrderEvent{
		Type:       eventType,
		OrderID:    order.ID,
		EventID:    order.EventID,
		BuyerEmail: order.BuyerEmail,
		Status:     string(ticket.Status),
		TicketID:   ticket.ID,
		OccurredAt: time.Now(),
	}
	if err := r.producer.Publish(ctx, r.ticketTopic, ticket.ID, ev); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("ticket_id", ticket.ID).Warn("failed to publish ticket event")
	}
}

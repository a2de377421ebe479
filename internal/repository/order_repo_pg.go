package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ivmarkov/ticketflow/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OrderRepository interface {
	BeginTx(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	GetByID(ctx context.Context, tx pgx.Tx, id string) (*domain.Order, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.Order, error)
	GetByPaymentRef(ctx context.Context, tx pgx.Tx, ref string) (*domain.Order, error)
	// UpdateStatus is a compare-and-set: the transition applies only when the
	// order is still in the expected status. It reports whether it won.
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from, to domain.OrderStatus) (bool, error)
	AttachPaymentRef(ctx context.Context, id, ref, redirectURL string) error
	SetRefundFlagged(ctx context.Context, tx pgx.Tx, id string) error
	// FindExpirable locks and returns pending or payment-failed orders whose
	// reservation TTL has lapsed, skipping rows another sweeper already holds.
	FindExpirable(ctx context.Context, tx pgx.Tx, deadline time.Time, limit int) ([]domain.Order, error)
}

type PGOrderRepository struct {
	db *pgxpool.Pool
}

func NewOrderRepository(db *pgxpool.Pool) OrderRepository {
	return &PGOrderRepository{db: db}
}

func (r *PGOrderRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.db.BeginTx(ctx, pgx.TxOptions{})
}

const orderColumns = `id, event_id, buyer_id, buyer_email, status, subtotal_cents, fee_cents, tax_cents, total_cents, currency, payment_ref, redirect_url, refund_flagged, expires_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.EventID, &o.BuyerID, &o.BuyerEmail, &o.Status, &o.SubtotalCents, &o.FeeCents, &o.TaxCents,
		&o.TotalCents, &o.Currency, &o.PaymentRef, &o.RedirectURL, &o.RefundFlagged, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *PGOrderRepository) Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	err := tx.QueryRow(ctx, `INSERT INTO orders (id, event_id, buyer_id, buyer_email, status, subtotal_cents, fee_cents, tax_cents, total_cents, currency, payment_ref, redirect_url, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`,
		order.ID, order.EventID, order.BuyerID, order.BuyerEmail, order.Status, order.SubtotalCents, order.FeeCents,
		order.TaxCents, order.TotalCents, order.Currency, order.PaymentRef, order.RedirectURL, order.ExpiresAt).
		Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return err
	}

	for i := range order.Items {
		it := &order.Items[i]
		it.OrderID = order.ID
		if err := tx.QueryRow(ctx, `INSERT INTO order_items (order_id, ticket_class_id, quantity, price_cents) VALUES ($1, $2, $3, $4) RETURNING id`,
			it.OrderID, it.TicketClassID, it.Quantity, it.PriceCents).Scan(&it.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *PGOrderRepository) getOne(ctx context.Context, q Querier, query string, arg any) (*domain.Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, err
	}
	items, err := r.itemsFor(ctx, q, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return o, nil
}

func (r *PGOrderRepository) GetByID(ctx context.Context, tx pgx.Tx, id string) (*domain.Order, error) {
	var q Querier = r.db
	if tx != nil {
		q = tx
	}
	return r.getOne(ctx, q, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id)
}

func (r *PGOrderRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.Order, error) {
	return r.getOne(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id)
}

func (r *PGOrderRepository) GetByPaymentRef(ctx context.Context, tx pgx.Tx, ref string) (*domain.Order, error) {
	var q Querier = r.db
	if tx != nil {
		q = tx
	}
	return r.getOne(ctx, q, `SELECT `+orderColumns+` FROM orders WHERE payment_ref=$1`, ref)
}

func (r *PGOrderRepository) itemsFor(ctx context.Context, q Querier, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.Query(ctx, `SELECT id, order_id, ticket_class_id, quantity, price_cents FROM order_items WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.TicketClassID, &it.Quantity, &it.PriceCents); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *PGOrderRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, from, to domain.OrderStatus) (bool, error) {
	var q Querier = r.db
	if tx != nil {
		q = tx
	}
	cmd, err := q.Exec(ctx, `UPDATE orders SET status=$3, updated_at=now() WHERE id=$1 AND status=$2`, id, from, to)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *PGOrderRepository) AttachPaymentRef(ctx context.Context, id, ref, redirectURL string) error {
	cmd, err := r.db.Exec(ctx, `UPDATE orders SET payment_ref=$2, redirect_url=$3, updated_at=now() WHERE id=$1`, id, ref, redirectURL)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PGOrderRepository) SetRefundFlagged(ctx context.Context, tx pgx.Tx, id string) error {
	var q Querier = r.db
	if tx != nil {
		q = tx
	}
	_, err := q.Exec(ctx, `UPDATE orders SET refund_flagged=TRUE, updated_at=now() WHERE id=$1`, id)
	return err
}

func (r *PGOrderRepository) FindExpirable(ctx context.Context, tx pgx.Tx, deadline time.Time, limit int) ([]domain.Order, error) {
	rows, err := tx.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status = ANY($1) AND expires_at <= $2
		ORDER BY expires_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED`,
		[]string{string(domain.OrderStatusPending), string(domain.OrderStatusPaymentFailed)}, deadline, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := r.itemsFor(ctx, tx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

var _ OrderRepository = (*PGOrderRepository)(nil)

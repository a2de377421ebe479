package repository

import (
	"context"
	"errors"

	"github.com/ivmarkov/ticketflow/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentRepository interface {
	// Upsert inserts the payment keyed by (order_id, external_txn_id). When a
	// row already exists it is returned untouched and inserted is false; this
	// is how duplicate webhook deliveries are detected.
	Upsert(ctx context.Context, tx pgx.Tx, p *domain.Payment) (inserted bool, existing *domain.Payment, err error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id int64, status domain.PaymentStatus) error
	GetByExternalTxnID(ctx context.Context, tx pgx.Tx, txnID string) (*domain.Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
}

type PGPaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) PaymentRepository {
	return &PGPaymentRepository{db: db}
}

const paymentColumns = `id, order_id, external_txn_id, amount_cents, status, raw_payload, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.ExternalTxnID, &p.AmountCents, &p.Status, &p.RawPayload, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PGPaymentRepository) Upsert(ctx context.Context, tx pgx.Tx, p *domain.Payment) (bool, *domain.Payment, error) {
	err := tx.QueryRow(ctx, `INSERT INTO payments (order_id, external_txn_id, amount_cents, status, raw_payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id, external_txn_id) DO NOTHING
		RETURNING id, created_at, updated_at`,
		p.OrderID, p.ExternalTxnID, p.AmountCents, p.Status, p.RawPayload).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err == nil {
		return true, p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, nil, err
	}

	existing, err := scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id=$1 AND external_txn_id=$2`, p.OrderID, p.ExternalTxnID))
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (r *PGPaymentRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id int64, status domain.PaymentStatus) error {
	var q Querier = r.db
	if tx != nil {
		q = tx
	}
	cmd, err := q.Exec(ctx, `UPDATE payments SET status=$2, updated_at=now() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PGPaymentRepository) GetByExternalTxnID(ctx context.Context, tx pgx.Tx, txnID string) (*domain.Payment, error) {
	var q Querier = r.db
	if tx != nil {
		q = tx
	}
	return scanPayment(q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE external_txn_id=$1 ORDER BY id DESC LIMIT 1`, txnID))
}

func (r *PGPaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

var _ PaymentRepository = (*PGPaymentRepository)(nil)

package repository

import (
	"context"
	"errors"

	"github.com/ivmarkov/ticketflow/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// InventoryRepository is the ledger of per-ticket-class counters. Reserve,
// Commit and Release are each a single conditional UPDATE executed on the
// caller's transaction, so the counter change and the surrounding order state
// transition are one atomic unit. There is deliberately no check-then-act
// variant of any of these.
type InventoryRepository interface {
	GetClass(ctx context.Context, tx pgx.Tx, id int64) (*domain.TicketClass, error)
	ListClassesByEvent(ctx context.Context, eventID int64) ([]domain.TicketClass, error)
	Reserve(ctx context.Context, tx pgx.Tx, classID int64, qty int) error
	Commit(ctx context.Context, tx pgx.Tx, classID int64, qty int) error
	Release(ctx context.Context, tx pgx.Tx, classID int64, qty int) error
}

type PGInventoryRepository struct {
	db *pgxpool.Pool
}

func NewInventoryRepository(db *pgxpool.Pool) InventoryRepository {
	return &PGInventoryRepository{db: db}
}

const classColumns = `id, event_id, name, price_cents, currency, capacity, sold, reserved, max_per_order, sale_starts_at, sale_ends_at, transferable, created_at, updated_at`

func scanClass(row pgx.Row) (*domain.TicketClass, error) {
	var tc domain.TicketClass
	err := row.Scan(&tc.ID, &tc.EventID, &tc.Name, &tc.PriceCents, &tc.Currency, &tc.Capacity, &tc.Sold, &tc.Reserved,
		&tc.MaxPerOrder, &tc.SaleStartsAt, &tc.SaleEndsAt, &tc.Transferable, &tc.CreatedAt, &tc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &tc, nil
}

func (r *PGInventoryRepository) GetClass(ctx context.Context, tx pgx.Tx, id int64) (*domain.TicketClass, error) {
	var q Querier = r.db
	if tx != nil {
		q = tx
	}
	return scanClass(q.QueryRow(ctx, `SELECT `+classColumns+` FROM ticket_classes WHERE id=$1`, id))
}

func (r *PGInventoryRepository) ListClassesByEvent(ctx context.Context, eventID int64) ([]domain.TicketClass, error) {
	rows, err := r.db.Query(ctx, `SELECT `+classColumns+` FROM ticket_classes WHERE event_id=$1 ORDER BY id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	classes := make([]domain.TicketClass, 0)
	for rows.Next() {
		tc, err := scanClass(rows)
		if err != nil {
			return nil, err
		}
		classes = append(classes, *tc)
	}
	return classes, rows.Err()
}

// Reserve takes qty units from the free pool into reserved. The WHERE clause
// is the only admission check: if two orders race for the last units, the row
// lock serializes them and the loser's UPDATE matches no row.
func (r *PGInventoryRepository) Reserve(ctx context.Context, tx pgx.Tx, classID int64, qty int) error {
	cmd, err := tx.Exec(ctx, `UPDATE ticket_classes SET reserved = reserved + $2, updated_at = now() WHERE id=$1 AND sold + reserved + $2 <= capacity`, classID, qty)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return &domain.InsufficientInventoryError{TicketClassID: classID, Requested: qty}
	}
	return nil
}

// Commit converts reserved units into sold on order confirmation.
func (r *PGInventoryRepository) Commit(ctx context.Context, tx pgx.Tx, classID int64, qty int) error {
	cmd, err := tx.Exec(ctx, `UPDATE ticket_classes SET reserved = reserved - $2, sold = sold + $2, updated_at = now() WHERE id=$1 AND reserved >= $2`, classID, qty)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

// Release returns reserved units to the pool on expiry, cancellation or
// payment failure.
func (r *PGInventoryRepository) Release(ctx context.Context, tx pgx.Tx, classID int64, qty int) error {
	cmd, err := tx.Exec(ctx, `UPDATE ticket_classes SET reserved = reserved - $2, updated_at = now() WHERE id=$1 AND reserved >= $2`, classID, qty)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

var _ InventoryRepository = (*PGInventoryRepository)(nil)

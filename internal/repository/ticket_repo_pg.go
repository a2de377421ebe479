package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ivmarkov/ticketflow/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TicketRepository interface {
	Insert(ctx context.Context, tx pgx.Tx, tickets []domain.Ticket) error
	GetByID(ctx context.Context, tx pgx.Tx, id string) (*domain.Ticket, error)
	// CountIssuedByOrder counts active and used tickets of an order; the
	// minter compares it against the purchased quantity before creating more.
	CountIssuedByOrder(ctx context.Context, tx pgx.Tx, orderID string) (int, error)
	// MarkUsed flips the ticket to USED if and only if it is still ACTIVE and
	// carries the expected nonce. Exactly one concurrent scan can win.
	MarkUsed(ctx context.Context, id, nonce, validatorID, gate string, at time.Time) (bool, error)
	// Transfer reassigns ownership and rotates the nonce in one CAS, so the
	// previously issued payload stops validating.
	Transfer(ctx context.Context, id, newOwnerID, newOwnerEmail, newNonce string, issuedAt time.Time) (bool, error)
	Cancel(ctx context.Context, id string) (bool, error)
	ListByOrder(ctx context.Context, tx pgx.Tx, orderID string) ([]domain.Ticket, error)
}

type PGTicketRepository struct {
	db *pgxpool.Pool
}

func NewTicketRepository(db *pgxpool.Pool) TicketRepository {
	return &PGTicketRepository{db: db}
}

const ticketColumns = `id, serial, order_id, event_id, ticket_class_id, owner_id, owner_email, status, nonce, issued_at, validated_at, validated_by, validated_gate, created_at, updated_at`

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var t domain.Ticket
	err := row.Scan(&t.ID, &t.Serial, &t.OrderID, &t.EventID, &t.TicketClassID, &t.OwnerID, &t.OwnerEmail, &t.Status,
		&t.Nonce, &t.IssuedAt, &t.ValidatedAt, &t.ValidatedBy, &t.ValidatedGate, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *PGTicketRepository) Insert(ctx context.Context, tx pgx.Tx, tickets []domain.Ticket) error {
	for i := range tickets {
		t := &tickets[i]
		if err := tx.QueryRow(ctx, `INSERT INTO tickets (id, serial, order_id, event_id, ticket_class_id, owner_id, owner_email, status, nonce, issued_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING created_at, updated_at`,
			t.ID, t.Serial, t.OrderID, t.EventID, t.TicketClassID, t.OwnerID, t.OwnerEmail, t.Status, t.Nonce, t.IssuedAt).
			Scan(&t.CreatedAt, &t.UpdatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *PGTicketRepository) GetByID(ctx context.Context, tx pgx.Tx, id string) (*domain.Ticket, error) {
	var q Querier = r.db
	if tx != nil {
		q = tx
	}
	return scanTicket(q.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id))
}

func (r *PGTicketRepository) CountIssuedByOrder(ctx context.Context, tx pgx.Tx, orderID string) (int, error) {
	var q Querier = r.db
	if tx != nil {
		q = tx
	}
	var n int
	err := q.QueryRow(ctx, `SELECT count(*) FROM tickets WHERE order_id=$1 AND status = ANY($2)`,
		orderID, []string{string(domain.TicketStatusActive), string(domain.TicketStatusUsed)}).Scan(&n)
	return n, err
}

func (r *PGTicketRepository) MarkUsed(ctx context.Context, id, nonce, validatorID, gate string, at time.Time) (bool, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE tickets SET status=$2, validated_at=$3, validated_by=$4, validated_gate=$5, updated_at=now()
		WHERE id=$1 AND status=$6 AND nonce=$7`,
		id, domain.TicketStatusUsed, at, validatorID, gate, domain.TicketStatusActive, nonce)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *PGTicketRepository) Transfer(ctx context.Context, id, newOwnerID, newOwnerEmail, newNonce string, issuedAt time.Time) (bool, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE tickets SET owner_id=$2, owner_email=$3, nonce=$4, issued_at=$5, updated_at=now()
		WHERE id=$1 AND status=$6`,
		id, newOwnerID, newOwnerEmail, newNonce, issuedAt, domain.TicketStatusActive)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *PGTicketRepository) Cancel(ctx context.Context, id string) (bool, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE tickets SET status=$2, updated_at=now() WHERE id=$1 AND status=$3`,
		id, domain.TicketStatusCancelled, domain.TicketStatusActive)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *PGTicketRepository) ListByOrder(ctx context.Context, tx pgx.Tx, orderID string) ([]domain.Ticket, error) {
	var q Querier = r.db
	if tx != nil {
		q = tx
	}
	rows, err := q.Query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE order_id=$1 ORDER BY serial`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := make([]domain.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

var _ TicketRepository = (*PGTicketRepository)(nil)

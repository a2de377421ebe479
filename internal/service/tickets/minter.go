package tickets

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ivmarkov/ticketflow/internal/domain"
	"github.com/ivmarkov/ticketflow/internal/monitoring"
	"github.com/ivmarkov/ticketflow/internal/repository"
	"github.com/ivmarkov/ticketflow/internal/sign"
	"github.com/jackc/pgx/v5"
)

// Minter creates ticket rows for a confirmed order. It is safe to invoke more
// than once for the same order: it counts the tickets the order already has
// and mints only the shortfall, so a retried reconciliation never issues
// extras.
type Minter struct {
	tickets repository.TicketRepository
	signer  *sign.Signer
}

func NewMinter(tickets repository.TicketRepository, signer *sign.Signer) *Minter {
	return &Minter{tickets: tickets, signer: signer}
}

func (m *Minter) MintForOrder(ctx context.Context, tx pgx.Tx, order *domain.Order) ([]domain.Ticket, error) {
	expected := order.TicketCount()
	have, err := m.tickets.CountIssuedByOrder(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	if have >= expected {
		return nil, nil
	}

	now := time.Now()
	var minted []domain.Ticket
	skip := have
	for _, it := range order.Items {
		for i := 0; i < it.Quantity; i++ {
			if skip > 0 {
				skip--
				continue
			}
			orderID := order.ID
			minted = append(minted, domain.Ticket{
				ID:            uuid.NewString(),
				Serial:        uuid.NewString(),
				OrderID:       &orderID,
				EventID:       order.EventID,
				TicketClassID: it.TicketClassID,
				OwnerID:       order.BuyerID,
				OwnerEmail:    order.BuyerEmail,
				Status:        domain.TicketStatusActive,
				Nonce:         uuid.NewString(),
				IssuedAt:      now,
			})
		}
	}

	if err := m.tickets.Insert(ctx, tx, minted); err != nil {
		return nil, err
	}

	monitoring.TicketsMinted.Add(float64(len(minted)))
	return minted, nil
}

// Payload produces the signed scannable content for a ticket.
func (m *Minter) Payload(t *domain.Ticket) (string, error) {
	var orderID string
	if t.OrderID != nil {
		orderID = *t.OrderID
	}
	return m.signer.Encode(sign.Payload{
		TicketID: t.ID,
		EventID:  t.EventID,
		OwnerID:  t.OwnerID,
		OrderID:  orderID,
		IssuedAt: t.IssuedAt,
		Nonce:    t.Nonce,
	})
}

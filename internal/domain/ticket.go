package domain

import "time"

type TicketStatus string

const (
	TicketStatusActive    TicketStatus = "ACTIVE"
	TicketStatusUsed      TicketStatus = "USED"
	TicketStatusCancelled TicketStatus = "CANCELLED"
)

type Ticket struct {
	ID            string
	Serial        string
	OrderID       *string
	EventID       int64
	TicketClassID int64
	OwnerID       string
	OwnerEmail    string
	Status        TicketStatus
	Nonce         string
	IssuedAt      time.Time
	ValidatedAt   *time.Time
	ValidatedBy   *string
	ValidatedGate *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

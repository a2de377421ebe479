package domain

import "time"

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusCompleted         PaymentStatus = "COMPLETED"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	PaymentStatusDisputed          PaymentStatus = "DISPUTED"
)

// Payment is one settlement attempt against an order. The unique
// (OrderID, ExternalTxnID) pair is the idempotency anchor for webhook
// processing; the raw provider payload is kept for audit and replay.
type Payment struct {
	ID            int64
	OrderID       string
	ExternalTxnID string
	AmountCents   int64
	Status        PaymentStatus
	RawPayload    []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

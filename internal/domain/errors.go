package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrSaleWindowClosed   = errors.New("ticket class is not on sale")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrAlreadyUsed        = errors.New("ticket already used")
	ErrTicketCancelled    = errors.New("ticket cancelled")
	ErrOutOfWindow        = errors.New("event is outside its check-in window")
	ErrNotTransferable    = errors.New("ticket class is not transferable")
	ErrEventStarted       = errors.New("event has already started")
	ErrOrderNotPending    = errors.New("order is not pending")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrConflict           = errors.New("transaction conflict")
)

// InsufficientInventoryError names the ticket class that could not be
// reserved so callers can re-offer alternatives.
type InsufficientInventoryError struct {
	TicketClassID int64
	Requested     int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for ticket class %d (requested %d)", e.TicketClassID, e.Requested)
}

type PerOrderLimitError struct {
	TicketClassID int64
	Limit         int
}

func (e *PerOrderLimitError) Error() string {
	return fmt.Sprintf("ticket class %d allows at most %d per order", e.TicketClassID, e.Limit)
}

func IsInsufficientInventory(err error) bool {
	var iie *InsufficientInventoryError
	return errors.As(err, &iie)
}

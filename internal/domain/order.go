package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending             OrderStatus = "PENDING"
	OrderStatusConfirmed           OrderStatus = "CONFIRMED"
	OrderStatusPaymentFailed       OrderStatus = "PAYMENT_FAILED"
	OrderStatusExpired             OrderStatus = "EXPIRED"
	OrderStatusCancelled           OrderStatus = "CANCELLED"
	OrderStatusRefunded            OrderStatus = "REFUNDED"
	OrderStatusDisputed            OrderStatus = "DISPUTED"
	OrderStatusConfirmedAfterExpiry OrderStatus = "CONFIRMED_AFTER_EXPIRY"
)

// Terminal reports whether no further payment reconciliation may move the
// order; a terminal order never commits inventory or mints tickets again.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusConfirmed, OrderStatusExpired, OrderStatusCancelled,
		OrderStatusRefunded, OrderStatusDisputed, OrderStatusConfirmedAfterExpiry:
		return true
	}
	return false
}

type OrderItem struct {
	ID            int64
	OrderID       string
	TicketClassID int64
	Quantity      int
	PriceCents    int64
}

type Order struct {
	ID            string
	EventID       int64
	BuyerID       string
	BuyerEmail    string
	Status        OrderStatus
	SubtotalCents int64
	FeeCents      int64
	TaxCents      int64
	TotalCents    int64
	Currency      string
	PaymentRef    *string
	RedirectURL   *string
	RefundFlagged bool
	Items         []OrderItem
	ExpiresAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (o *Order) TicketCount() int {
	var n int
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

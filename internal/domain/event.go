package domain

import "time"

type Event struct {
	ID        int64
	Name      string
	Venue     string
	StartsAt  time.Time
	EndsAt    time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CheckInOpen reports whether door validation is allowed at the given moment.
// The window opens leadTime before the event starts and closes when it ends.
func (e *Event) CheckInOpen(at time.Time, leadTime time.Duration) bool {
	return !at.Before(e.StartsAt.Add(-leadTime)) && at.Before(e.EndsAt)
}

type TicketClass struct {
	ID           int64
	EventID      int64
	Name         string
	PriceCents   int64
	Currency     string
	Capacity     int
	Sold         int
	Reserved     int
	MaxPerOrder  int
	SaleStartsAt time.Time
	SaleEndsAt   time.Time
	Transferable bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (tc *TicketClass) OnSale(at time.Time) bool {
	return !at.Before(tc.SaleStartsAt) && at.Before(tc.SaleEndsAt)
}

func (tc *TicketClass) Available() int {
	return tc.Capacity - tc.Sold - tc.Reserved
}

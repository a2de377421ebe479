package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticketflow_orders_created_total",
		Help: "Orders created with inventory reserved",
	})
	OrdersConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticketflow_orders_confirmed_total",
		Help: "Orders confirmed by payment reconciliation",
	})
	OrdersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticketflow_orders_expired_total",
		Help: "Orders expired with inventory released",
	})
	WebhooksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketflow_webhooks_processed_total",
		Help: "Payment webhooks by outcome",
	}, []string{"outcome"})
	TicketsMinted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticketflow_tickets_minted_total",
		Help: "Tickets minted for confirmed orders",
	})
	Validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketflow_ticket_validations_total",
		Help: "Door validation attempts by outcome",
	}, []string{"outcome"})
)

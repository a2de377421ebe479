package tickets

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ivmarkov/ticketflow/internal/domain"
	"github.com/ivmarkov/ticketflow/internal/kafka"
	"github.com/ivmarkov/ticketflow/internal/monitoring"
	"github.com/ivmarkov/ticketflow/internal/repository"
	"github.com/ivmarkov/ticketflow/internal/sign"
	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"
)

type LifecycleUseCase interface {
	Validate(ctx context.Context, token, validatorID, gate string) (*domain.Ticket, error)
	Transfer(ctx context.Context, ticketID, recipientEmail string) (*domain.Ticket, string, error)
	Cancel(ctx context.Context, ticketID string) (*domain.Ticket, error)
	QRCode(ctx context.Context, ticketID string) ([]byte, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type LifecycleService struct {
	tickets      repository.TicketRepository
	inventory    repository.InventoryRepository
	events       repository.EventRepository
	orders       repository.OrderRepository
	signer       *sign.Signer
	producer     Producer
	logger       *logrus.Logger
	ticketTopic  string
	checkInLead  time.Duration
	refundWindow time.Duration
}

type LifecycleServiceProperty struct {
	Tickets      repository.TicketRepository
	Inventory    repository.InventoryRepository
	Events       repository.EventRepository
	Orders       repository.OrderRepository
	Signer       *sign.Signer
	Producer     Producer
	Logger       *logrus.Logger
	TicketTopic  string
	CheckInLead  time.Duration
	RefundWindow time.Duration
}

func NewLifecycleService(props LifecycleServiceProperty) *LifecycleService {
	return &LifecycleService{
		tickets:      props.Tickets,
		inventory:    props.Inventory,
		events:       props.Events,
		orders:       props.Orders,
		signer:       props.Signer,
		producer:     props.Producer,
		logger:       props.Logger,
		ticketTopic:  props.TicketTopic,
		checkInLead:  props.CheckInLead,
		refundWindow: props.RefundWindow,
	}
}

// Validate performs the door check-in. The scanned payload is verified
// cryptographically first; a stale nonce (the payload of a since-transferred
// ticket) is rejected the same way as a forged one. The transition to USED is
// a compare-and-set, so of two simultaneous scans exactly one wins and the
// other observes AlreadyUsed.
func (s *LifecycleService) Validate(ctx context.Context, token, validatorID, gate string) (*domain.Ticket, error) {
	payload, err := s.signer.Decode(token)
	if err != nil {
		monitoring.Validations.WithLabelValues("invalid").Inc()
		return nil, err
	}

	ticket, err := s.tickets.GetByID(ctx, nil, payload.TicketID)
	if err != nil {
		monitoring.Validations.WithLabelValues("invalid").Inc()
		if err == domain.ErrNotFound {
			return nil, domain.ErrInvalidSignature
		}
		return nil, err
	}
	if ticket.Nonce != payload.Nonce {
		monitoring.Validations.WithLabelValues("invalid").Inc()
		return nil, domain.ErrInvalidSignature
	}

	switch ticket.Status {
	case domain.TicketStatusUsed:
		monitoring.Validations.WithLabelValues("already_used").Inc()
		return nil, domain.ErrAlreadyUsed
	case domain.TicketStatusCancelled:
		monitoring.Validations.WithLabelValues("cancelled").Inc()
		return nil, domain.ErrTicketCancelled
	}

	event, err := s.events.GetByID(ctx, nil, ticket.EventID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if !event.CheckInOpen(now, s.checkInLead) {
		monitoring.Validations.WithLabelValues("out_of_window").Inc()
		return nil, domain.ErrOutOfWindow
	}

	won, err := s.tickets.MarkUsed(ctx, ticket.ID, ticket.Nonce, validatorID, gate, now)
	if err != nil {
		return nil, err
	}
	if !won {
		monitoring.Validations.WithLabelValues("already_used").Inc()
		return nil, domain.ErrAlreadyUsed
	}

	monitoring.Validations.WithLabelValues("accepted").Inc()
	ticket.Status = domain.TicketStatusUsed
	ticket.ValidatedAt = &now
	ticket.ValidatedBy = &validatorID
	ticket.ValidatedGate = &gate
	return ticket, nil
}

// Transfer reassigns an active ticket and rotates its nonce, so every payload
// issued to the previous owner stops validating. Returns the new payload.
func (s *LifecycleService) Transfer(ctx context.Context, ticketID, recipientEmail string) (*domain.Ticket, string, error) {
	ticket, err := s.tickets.GetByID(ctx, nil, ticketID)
	if err != nil {
		return nil, "", err
	}

	switch ticket.Status {
	case domain.TicketStatusUsed:
		return nil, "", domain.ErrAlreadyUsed
	case domain.TicketStatusCancelled:
		return nil, "", domain.ErrTicketCancelled
	}

	class, err := s.inventory.GetClass(ctx, nil, ticket.TicketClassID)
	if err != nil {
		return nil, "", err
	}
	if !class.Transferable {
		return nil, "", domain.ErrNotTransferable
	}

	event, err := s.events.GetByID(ctx, nil, ticket.EventID)
	if err != nil {
		return nil, "", err
	}
	now := time.Now()
	if !now.Before(event.StartsAt) {
		return nil, "", domain.ErrEventStarted
	}

	newNonce := uuid.NewString()
	won, err := s.tickets.Transfer(ctx, ticket.ID, recipientEmail, recipientEmail, newNonce, now)
	if err != nil {
		return nil, "", err
	}
	if !won {
		return nil, "", domain.ErrConflict
	}

	ticket.OwnerID = recipientEmail
	ticket.OwnerEmail = recipientEmail
	ticket.Nonce = newNonce
	ticket.IssuedAt = now

	payload, err := s.payload(ticket)
	if err != nil {
		return nil, "", err
	}
	return ticket, payload, nil
}

// Cancel marks an active ticket cancelled and raises a refund request when
// the parent order is still inside its refund window. Cancelling an already
// cancelled ticket is a no-op.
func (s *LifecycleService) Cancel(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, nil, ticketID)
	if err != nil {
		return nil, err
	}

	if ticket.Status == domain.TicketStatusUsed {
		return nil, domain.ErrAlreadyUsed
	}
	if ticket.Status == domain.TicketStatusCancelled {
		return ticket, nil
	}

	won, err := s.tickets.Cancel(ctx, ticket.ID)
	if err != nil {
		return nil, err
	}
	if !won {
		// Lost to a concurrent scan or cancel; report the current state.
		current, gerr := s.tickets.GetByID(ctx, nil, ticket.ID)
		if gerr != nil {
			return nil, gerr
		}
		if current.Status == domain.TicketStatusCancelled {
			return current, nil
		}
		return nil, domain.ErrAlreadyUsed
	}
	ticket.Status = domain.TicketStatusCancelled

	s.publish(ctx, kafka.EventTicketCancelled, ticket)

	if ticket.OrderID != nil {
		if err := s.maybeRequestRefund(ctx, ticket, *ticket.OrderID); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithField("ticket_id", ticket.ID).Warn("refund request failed")
		}
	}
	return ticket, nil
}

func (s *LifecycleService) maybeRequestRefund(ctx context.Context, ticket *domain.Ticket, orderID string) error {
	order, err := s.orders.GetByID(ctx, nil, orderID)
	if err != nil {
		return err
	}
	if order.Status != domain.OrderStatusConfirmed {
		return nil
	}
	if s.refundWindow > 0 && time.Now().After(order.UpdatedAt.Add(s.refundWindow)) {
		return nil
	}

	if err := s.orders.SetRefundFlagged(ctx, nil, order.ID); err != nil {
		return err
	}
	s.publish(ctx, kafka.EventRefundRequested, ticket)
	return nil
}

// QRCode renders the ticket's signed payload as a PNG.
func (s *LifecycleService) QRCode(ctx context.Context, ticketID string) ([]byte, error) {
	ticket, err := s.tickets.GetByID(ctx, nil, ticketID)
	if err != nil {
		return nil, err
	}
	switch ticket.Status {
	case domain.TicketStatusUsed:
		return nil, domain.ErrAlreadyUsed
	case domain.TicketStatusCancelled:
		return nil, domain.ErrTicketCancelled
	}

	payload, err := s.payload(ticket)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(payload, qrcode.Medium, 256)
}

func (s *LifecycleService) payload(t *domain.Ticket) (string, error) {
	var orderID string
	if t.OrderID != nil {
		orderID = *t.OrderID
	}
	return s.signer.Encode(sign.Payload{
		TicketID: t.ID,
		EventID:  t.EventID,
		OwnerID:  t.OwnerID,
		OrderID:  orderID,
		IssuedAt: t.IssuedAt,
		Nonce:    t.Nonce,
	})
}

func (s *LifecycleService) publish(ctx context.Context, eventType string, ticket *domain.Ticket) {
	if s.producer == nil || s.ticketTopic == "" {
		return
	}
	var orderID string
	if ticket.OrderID != nil {
		orderID = *ticket.OrderID
	}
	ev := kafka.OrderEvent{
		Type:       eventType,
		OrderID:    orderID,
		EventID:    ticket.EventID,
		BuyerEmail: ticket.OwnerEmail,
		Status:     string(ticket.Status),
		TicketID:   ticket.ID,
		OccurredAt: time.Now(),
	}
	if err := s.producer.Publish(ctx, s.ticketTopic, ticket.ID, ev); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("ticket_id", ticket.ID).Warn("failed to publish ticket event")
	}
}

var _ LifecycleUseCase = (*LifecycleService)(nil)

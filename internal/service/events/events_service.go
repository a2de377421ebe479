package events

import (
	"context"

	"github.com/ivmarkov/ticketflow/internal/domain"
	"github.com/ivmarkov/ticketflow/internal/repository"
)

type EventUseCase interface {
	List(ctx context.Context) ([]domain.Event, error)
	GetByID(ctx context.Context, id int64) (*domain.Event, error)
	ListTicketClasses(ctx context.Context, eventID int64) ([]domain.TicketClass, error)
}

type Cache interface {
	GetEvents(ctx context.Context) ([]domain.Event, error)
	SetEvents(ctx context.Context, events []domain.Event) error
}

type EventService struct {
	events    repository.EventRepository
	inventory repository.InventoryRepository
	cache     Cache
}

func NewEventService(events repository.EventRepository, inventory repository.InventoryRepository, cache Cache) *EventService {
	return &EventService{events: events, inventory: inventory, cache: cache}
}

func (s *EventService) List(ctx context.Context) ([]domain.Event, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetEvents(ctx); err == nil && cached != nil {
			return cached, nil
		}
	}

	events, err := s.events.List(ctx)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		_ = s.cache.SetEvents(ctx, events)
	}
	return events, nil
}

func (s *EventService) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	return s.events.GetByID(ctx, nil, id)
}

func (s *EventService) ListTicketClasses(ctx context.Context, eventID int64) ([]domain.TicketClass, error) {
	return s.inventory.ListClassesByEvent(ctx, eventID)
}

var _ EventUseCase = (*EventService)(nil)

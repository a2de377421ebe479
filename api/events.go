package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ivmarkov/ticketflow/internal/domain"
	"github.com/ivmarkov/ticketflow/internal/service/events"
)

type EventHandler struct {
	service events.EventUseCase
}

type eventResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Venue    string `json:"venue"`
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
}

type ticketClassResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	PriceCents   int64  `json:"price_cents"`
	Currency     string `json:"currency"`
	Available    int    `json:"available"`
	MaxPerOrder  int    `json:"max_per_order"`
	SaleStartsAt string `json:"sale_starts_at"`
	SaleEndsAt   string `json:"sale_ends_at"`
	Transferable bool   `json:"transferable"`
}

type eventDetailResponse struct {
	eventResponse
	TicketClasses []ticketClassResponse `json:"ticket_classes"`
}

func NewEventHandler(service events.EventUseCase) *EventHandler {
	return &EventHandler{service: service}
}

func (h *EventHandler) Register(router *gin.RouterGroup) {
	router.GET("/", h.list)
	router.GET("/:id", h.get)
}

func (h *EventHandler) list(c *gin.Context) {
	evs, err := h.service.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	resp := make([]eventResponse, 0, len(evs))
	for i := range evs {
		resp = append(resp, toEventResponse(&evs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"events": resp})
}

func (h *EventHandler) get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	event, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	classes, err := h.service.ListTicketClasses(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := eventDetailResponse{eventResponse: toEventResponse(event)}
	for i := range classes {
		tc := &classes[i]
		resp.TicketClasses = append(resp.TicketClasses, ticketClassResponse{
			ID:           tc.ID,
			Name:         tc.Name,
			PriceCents:   tc.PriceCents,
			Currency:     tc.Currency,
			Available:    tc.Available(),
			MaxPerOrder:  tc.MaxPerOrder,
			SaleStartsAt: tc.SaleStartsAt.Format(time.RFC3339),
			SaleEndsAt:   tc.SaleEndsAt.Format(time.RFC3339),
			Transferable: tc.Transferable,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func toEventResponse(e *domain.Event) eventResponse {
	return eventResponse{
		ID:       e.ID,
		Name:     e.Name,
		Venue:    e.Venue,
		StartsAt: e.StartsAt.Format(time.RFC3339),
		EndsAt:   e.EndsAt.Format(time.RFC3339),
	}
}

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/ivmarkov/ticketflow/internal/domain"
	"github.com/ivmarkov/ticketflow/internal/service/tickets"
)

type TicketHandler struct {
	service  tickets.LifecycleUseCase
	validate *validator.Validate
}

type validateTicketRequest struct {
	Payload     string `json:"payload" validate:"required"`
	ValidatorID string `json:"validator_id"`
	Gate        string `json:"gate"`
}

type transferTicketRequest struct {
	RecipientEmail string `json:"recipient_email" validate:"required,email"`
}

type ticketResponse struct {
	TicketID    string `json:"ticket_id"`
	Serial      string `json:"serial"`
	Status      string `json:"status"`
	Attendee    string `json:"attendee"`
	EventID     int64  `json:"event_id"`
	ValidatedAt string `json:"validated_at,omitempty"`
	Payload     string `json:"payload,omitempty"`
}

func NewTicketHandler(service tickets.LifecycleUseCase, validate *validator.Validate) *TicketHandler {
	return &TicketHandler{service: service, validate: validate}
}

func (h *TicketHandler) Register(router *gin.RouterGroup) {
	router.POST("/validate", h.validateTicket)
	router.POST("/:id/transfer", h.transfer)
	router.POST("/:id/cancel", h.cancel)
	router.GET("/:id/qr", h.qr)
}

func (h *TicketHandler) validateTicket(c *gin.Context) {
	var req validateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.validate.StructCtx(c.Request.Context(), req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ticket, err := h.service.Validate(c.Request.Context(), req.Payload, req.ValidatorID, req.Gate)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTicketResponse(ticket, ""))
}

func (h *TicketHandler) transfer(c *gin.Context) {
	var req transferTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.validate.StructCtx(c.Request.Context(), req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ticket, payload, err := h.service.Transfer(c.Request.Context(), c.Param("id"), req.RecipientEmail)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTicketResponse(ticket, payload))
}

func (h *TicketHandler) cancel(c *gin.Context) {
	ticket, err := h.service.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTicketResponse(ticket, ""))
}

func (h *TicketHandler) qr(c *gin.Context) {
	png, err := h.service.QRCode(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func toTicketResponse(t *domain.Ticket, payload string) ticketResponse {
	resp := ticketResponse{
		TicketID: t.ID,
		Serial:   t.Serial,
		Status:   string(t.Status),
		Attendee: t.OwnerEmail,
		EventID:  t.EventID,
		Payload:  payload,
	}
	if t.ValidatedAt != nil {
		resp.ValidatedAt = t.ValidatedAt.Format(time.RFC3339)
	}
	return resp
}

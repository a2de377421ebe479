package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/ivmarkov/ticketflow/internal/domain"
	"github.com/ivmarkov/ticketflow/internal/service/order"
)

type OrderHandler struct {
	service  order.OrderUseCase
	validate *validator.Validate
}

type lineItemRequest struct {
	TicketClassID int64 `json:"ticket_class_id" validate:"required"`
	Quantity      int   `json:"quantity" validate:"required,gt=0"`
}

type buyerInfoRequest struct {
	ID    string `json:"id"`
	Email string `json:"email" validate:"required,email"`
}

type createOrderRequest struct {
	EventID   int64             `json:"event_id" validate:"required"`
	LineItems []lineItemRequest `json:"line_items" validate:"required,min=1,dive"`
	BuyerInfo buyerInfoRequest  `json:"buyer_info" validate:"required"`
}

type orderResponse struct {
	OrderID            string `json:"order_id"`
	Status             string `json:"status"`
	SubtotalCents      int64  `json:"subtotal_cents"`
	FeeCents           int64  `json:"fee_cents"`
	TaxCents           int64  `json:"tax_cents"`
	TotalCents         int64  `json:"total_cents"`
	Currency           string `json:"currency"`
	ExpiresAt          string `json:"expires_at"`
	PaymentRedirectURL string `json:"payment_redirect_url,omitempty"`
	RefundFlagged      bool   `json:"refund_flagged,omitempty"`
}

func NewOrderHandler(service order.OrderUseCase, validate *validator.Validate) *OrderHandler {
	return &OrderHandler{service: service, validate: validate}
}

func (h *OrderHandler) Register(router *gin.RouterGroup) {
	router.POST("/", h.create)
	router.GET("/:id", h.get)
	router.POST("/:id/retry-payment", h.retryPayment)
}

func (h *OrderHandler) create(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.validate.StructCtx(c.Request.Context(), req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	input := order.CreateOrderInput{
		EventID:    req.EventID,
		BuyerID:    req.BuyerInfo.ID,
		BuyerEmail: req.BuyerInfo.Email,
	}
	if input.BuyerID == "" {
		input.BuyerID = req.BuyerInfo.Email
	}
	for _, li := range req.LineItems {
		input.Items = append(input.Items, order.LineItemInput{TicketClassID: li.TicketClassID, Quantity: li.Quantity})
	}

	o, err := h.service.Create(c.Request.Context(), input)
	if err != nil {
		// The order may exist with its reservation held even though the
		// charge could not be opened; surface both.
		if o != nil && errors.Is(err, domain.ErrGatewayUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment gateway unavailable", "order_id": o.ID})
			return
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toOrderResponse(o))
}

func (h *OrderHandler) get(c *gin.Context) {
	o, err := h.service.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(o))
}

func (h *OrderHandler) retryPayment(c *gin.Context) {
	o, err := h.service.RetryPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		if o != nil && errors.Is(err, domain.ErrGatewayUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment gateway unavailable", "order_id": o.ID})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(o))
}

func toOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:       o.ID,
		Status:        string(o.Status),
		SubtotalCents: o.SubtotalCents,
		FeeCents:      o.FeeCents,
		TaxCents:      o.TaxCents,
		TotalCents:    o.TotalCents,
		Currency:      o.Currency,
		ExpiresAt:     o.ExpiresAt.Format(time.RFC3339),
		RefundFlagged: o.RefundFlagged,
	}
	if o.RedirectURL != nil {
		resp.PaymentRedirectURL = *o.RedirectURL
	}
	return resp
}

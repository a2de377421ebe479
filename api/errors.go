package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ivmarkov/ticketflow/internal/domain"
)

// writeError maps domain errors onto the REST surface. Inventory conflicts
// carry the offending ticket class so clients can re-offer alternatives.
func writeError(c *gin.Context, err error) {
	var iie *domain.InsufficientInventoryError
	if errors.As(err, &iie) {
		c.JSON(http.StatusConflict, gin.H{"error": iie.Error(), "ticket_class_id": iie.TicketClassID})
		return
	}
	var ple *domain.PerOrderLimitError
	if errors.As(err, &ple) {
		c.JSON(http.StatusBadRequest, gin.H{"error": ple.Error(), "ticket_class_id": ple.TicketClassID})
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, domain.ErrSaleWindowClosed),
		errors.Is(err, domain.ErrNotTransferable),
		errors.Is(err, domain.ErrEventStarted),
		errors.Is(err, domain.ErrOrderNotPending):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrAlreadyUsed):
		c.JSON(http.StatusConflict, gin.H{"reason": "AlreadyUsed"})
	case errors.Is(err, domain.ErrTicketCancelled):
		c.JSON(http.StatusConflict, gin.H{"reason": "Cancelled"})
	case errors.Is(err, domain.ErrInvalidSignature):
		c.JSON(http.StatusConflict, gin.H{"reason": "Invalid"})
	case errors.Is(err, domain.ErrOutOfWindow):
		c.JSON(http.StatusConflict, gin.H{"reason": "OutOfWindow"})
	case errors.Is(err, domain.ErrGatewayUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment gateway unavailable"})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflicting concurrent update, retry"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

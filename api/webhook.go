package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ivmarkov/ticketflow/internal/domain"
	"github.com/ivmarkov/ticketflow/internal/gateway"
	"github.com/sirupsen/logrus"
)

type Reconciler interface {
	Apply(ctx context.Context, ev gateway.Event) error
}

// WebhookHandler receives provider callbacks. The body is read raw because
// signature verification covers the exact bytes the provider sent; any
// re-serialization would break it.
type WebhookHandler struct {
	registry   *gateway.Registry
	reconciler Reconciler
	logger     *logrus.Logger
}

func NewWebhookHandler(registry *gateway.Registry, reconciler Reconciler, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{registry: registry, reconciler: reconciler, logger: logger}
}

func (h *WebhookHandler) Register(router *gin.RouterGroup) {
	router.POST("/webhook", h.receive)
}

func (h *WebhookHandler) receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	provider, err := h.registry.Get(c.Query("provider"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := provider.Translate(body, c.GetHeader("X-Signature"))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			h.logger.WithContext(c.Request.Context()).Warn("webhook signature verification failed")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.reconciler.Apply(c.Request.Context(), event); err != nil {
		// A 5xx tells the provider to redeliver; reconciliation is idempotent
		// so the retry is safe.
		h.logger.WithContext(c.Request.Context()).WithError(err).Error("webhook reconciliation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/ivmarkov/ticketflow/api"
	"github.com/ivmarkov/ticketflow/config"
	"github.com/ivmarkov/ticketflow/internal/gateway"
	"github.com/ivmarkov/ticketflow/internal/service/events"
	"github.com/ivmarkov/ticketflow/internal/service/order"
	"github.com/ivmarkov/ticketflow/internal/service/reconcile"
	"github.com/ivmarkov/ticketflow/internal/service/tickets"
)

type Services struct {
	Orders     order.OrderUseCase
	Tickets    tickets.LifecycleUseCase
	Events     events.EventUseCase
	Reconciler *reconcile.Reconciler
	Registry   *gateway.Registry
}

// Run starts the HTTP server and blocks until the context is canceled or the
// server fails.
func Run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, svc Services) error {
	srv := newServer(cfg, logger, svc)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	logger.WithField("address", cfg.HTTP.Address).Info("http server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

func newServer(cfg *config.Config, logger *logrus.Logger, svc Services) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	validate := validator.New()

	v1 := router.Group("/api/v1")
	api.NewEventHandler(svc.Events).Register(v1.Group("/events"))
	api.NewOrderHandler(svc.Orders, validate).Register(v1.Group("/orders"))
	api.NewTicketHandler(svc.Tickets, validate).Register(v1.Group("/tickets"))
	api.NewWebhookHandler(svc.Registry, svc.Reconciler, logger).Register(v1.Group("/payments"))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.HTTP.SwaggerDir != "" {
		router.StaticFS("/swagger", http.Dir(cfg.HTTP.SwaggerDir))
		router.GET("/docs/*any", gin.WrapH(httpSwagger.Handler(
			httpSwagger.URL("/swagger/openapi.json"),
		)))
	}

	return &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: router,
	}
}

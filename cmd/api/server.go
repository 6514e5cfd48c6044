package main

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/di"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/handlers"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/auth"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/config"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/idempotency"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/observability"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/services"
)

// per identity: a burst of 30 stream reconnects, refilled over a minute
const (
	streamReconnectLimit  = 30
	streamReconnectWindow = time.Minute
)

// newServer assembles the middleware chain and routes. The logger and trace are on the context
// before recovery so a panic is logged with its trace. Idempotency runs inside the authenticated
// groups because keys are scoped to the caller.
func newServer(cfg config.Config, logger *zap.Logger, c *di.Container, authn *auth.Authenticator, build services.BuildInfo) *http.Server {
	httpLogger := logger.Named("http")
	project := firstNonBlank(cfg.Firebase.ProjectID, cfg.Firestore.ProjectID)

	idem := handlers.WithAuthenticatedMiddleware(idempotency.Middleware(c.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(logger),
	))
	orders := handlers.NewOrderHandlers(authn, c.Services.Orders, idem)
	products := handlers.NewProductHandlers(authn, c.Services.Inventory, idem)
	events := handlers.NewEventStreamHandlers(authn, c.Hub,
		handlers.WithStreamReconnectLimit(streamReconnectLimit, streamReconnectWindow, time.Now),
	)
	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(c.Services.System),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(project),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(project),
		),
		handlers.WithHealthHandlers(health),
		handlers.WithOrderRoutes(orders.Routes),
		handlers.WithMeRoutes(orders.MeRoutes),
		handlers.WithCourierRoutes(orders.CourierRoutes),
		handlers.WithProductRoutes(products.Routes),
		handlers.WithEventRoutes(events.Routes),
	)

	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func newJanitor(cfg config.Config, logger *zap.Logger, c *di.Container) *idempotency.Janitor {
	return idempotency.NewJanitor(c.Idempotency, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger)
}

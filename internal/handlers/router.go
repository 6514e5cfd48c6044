package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/httpx"
)

const (
	apiPrefix             = "/api/v1"
	defaultRequestTimeout = 60 * time.Second
)

// RouteRegistrar mounts one route group.
type RouteRegistrar func(r chi.Router)

// Route groups under /api/v1. Every group but events runs under the request timeout; the event
// stream is long lived.
const (
	groupOrders   = "orders"
	groupMe       = "me"
	groupCouriers = "couriers"
	groupProducts = "products"
	groupEvents   = "events"
)

var timedGroups = []string{groupOrders, groupMe, groupCouriers, groupProducts}

type routerConfig struct {
	middlewares []func(http.Handler) http.Handler
	timeout     time.Duration
	health      *HealthHandlers
	groups      map[string]RouteRegistrar
}

type Option func(*routerConfig)

// NewRouter builds the API router. Groups without a registrar answer 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []func(http.Handler) http.Handler{middleware.RequestID, middleware.RealIP},
		timeout:     defaultRequestTimeout,
		groups:      make(map[string]RouteRegistrar),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, "route_not_found", http.StatusNotFound, "no route for %s", req.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		writeRouteError(w, req, "method_not_allowed", http.StatusMethodNotAllowed, "method %s not allowed on %s", req.Method, req.URL.Path)
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		api.Group(func(timed chi.Router) {
			if cfg.timeout > 0 {
				timed.Use(middleware.Timeout(cfg.timeout))
			}
			for _, name := range timedGroups {
				timed.Route("/"+name, cfg.mount(name))
			}
		})
		api.Route("/"+groupEvents, cfg.mount(groupEvents))
	})
	return r
}

func (cfg routerConfig) mount(name string) func(chi.Router) {
	if reg := cfg.groups[name]; reg != nil {
		return reg
	}
	return func(group chi.Router) {
		stub := func(w http.ResponseWriter, req *http.Request) {
			writeRouteError(w, req, "not_implemented", http.StatusNotImplemented, "%s routes not implemented", name)
		}
		group.HandleFunc("/", stub)
		group.HandleFunc("/*", stub)
		group.NotFound(stub)
		group.MethodNotAllowed(stub)
	}
}

func writeRouteError(w http.ResponseWriter, req *http.Request, code string, status int, format string, args ...any) {
	httpx.WriteError(req.Context(), w, httpx.NewError(code, fmt.Sprintf(format, args...), status))
}

func withGroup(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups[name] = reg }
}

// WithMiddlewares appends global middleware after request id and real ip.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

// WithRequestTimeout bounds non-streaming routes. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) { cfg.timeout = d }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithOrderRoutes mounts /orders: creation, listing, detail and lifecycle transitions.
func WithOrderRoutes(reg RouteRegistrar) Option { return withGroup(groupOrders, reg) }

// WithMeRoutes mounts /me, the signed-in customer's own orders.
func WithMeRoutes(reg RouteRegistrar) Option { return withGroup(groupMe, reg) }

// WithCourierRoutes mounts /couriers/{courierID}/orders.
func WithCourierRoutes(reg RouteRegistrar) Option { return withGroup(groupCouriers, reg) }

// WithProductRoutes mounts /products stock and ledger endpoints.
func WithProductRoutes(reg RouteRegistrar) Option { return withGroup(groupProducts, reg) }

// WithEventRoutes mounts the SSE order event stream.
func WithEventRoutes(reg RouteRegistrar) Option { return withGroup(groupEvents, reg) }

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/auth"
)

// GateOption adds middleware that runs behind authentication on a handler's routes.
type GateOption func(*authGate)

// WithAuthenticatedMiddleware installs mw after the caller has been authenticated, so it can read
// the identity from the request context. Idempotency keys scoped per caller depend on this.
func WithAuthenticatedMiddleware(mw ...func(http.Handler) http.Handler) GateOption {
	return func(g *authGate) {
		for _, m := range mw {
			if m != nil {
				g.after = append(g.after, m)
			}
		}
	}
}

type authGate struct {
	authn *auth.Authenticator
	after []func(http.Handler) http.Handler
}

func newAuthGate(authn *auth.Authenticator, opts []GateOption) authGate {
	g := authGate{authn: authn}
	for _, opt := range opts {
		if opt != nil {
			opt(&g)
		}
	}
	return g
}

func (g authGate) install(r chi.Router) {
	if g.authn != nil {
		r.Use(g.authn.Authenticate())
	}
	for _, mw := range g.after {
		r.Use(mw)
	}
}

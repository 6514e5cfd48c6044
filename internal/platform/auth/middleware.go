package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/httpx"
)

var (
	ErrTokenExpired = errors.New("auth: id token expired")
	ErrTokenInvalid = errors.New("auth: id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator resolves the bearer token on each request into an Identity.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
	timeout   time.Duration
}

type Option func(*Authenticator)

// WithRoleClaim reads roles from claim instead of "role".
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithVerificationTimeout bounds each token verification.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, roleClaim: "role", timeout: 5 * time.Second}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate rejects requests without a valid bearer token. Tokens carrying no role claim are
// treated as plain customers.
func (a *Authenticator) Authenticate() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				deny(w, r, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				deny(w, r, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
			token, err := a.verifier.VerifyIDToken(ctx, raw)
			cancel()
			switch {
			case err == nil:
			case errors.Is(err, ErrTokenExpired) || firebaseauth.IsIDTokenExpired(err):
				deny(w, r, http.StatusUnauthorized, "token_expired", "id token expired")
				return
			default:
				deny(w, r, http.StatusUnauthorized, "invalid_token", "id token invalid")
				return
			}

			identity := &Identity{
				UID:   token.UID,
				Email: stringClaim(token.Claims, "email"),
				Roles: rolesClaim(token.Claims[a.roleClaim]),
				token: token,
			}
			if len(identity.Roles) == 0 {
				identity.Roles = []string{RoleUser}
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireRoles admits identities holding at least one of roles. It must run after Authenticate.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				deny(w, r, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}
			if len(roles) == 0 || slices.ContainsFunc(roles, identity.HasRole) {
				next.ServeHTTP(w, r)
				return
			}
			deny(w, r, http.StatusForbidden, "insufficient_role", "identity does not have required role")
		})
	}
}

// rolesClaim accepts a single role, a list of roles or a {"role": true} map.
func rolesClaim(raw any) []string {
	var candidates []string
	switch v := raw.(type) {
	case string:
		candidates = []string{v}
	case []string:
		candidates = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				candidates = append(candidates, s)
			}
		}
	case map[string]any:
		for role, enabled := range v {
			if on, _ := enabled.(bool); on {
				candidates = append(candidates, role)
			}
		}
	}

	roles := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if role := normaliseRole(c); role != "" && !seen[role] {
			seen[role] = true
			roles = append(roles, role)
		}
	}
	return roles
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func deny(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

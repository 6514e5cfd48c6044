package auth

import (
	"context"
	"slices"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Roles carried in the "role" custom claim. Staff run the bar and the register, couriers see their
// own deliveries and admins may also adjust fees, restock and purge orders.
const (
	RoleUser    = "user"
	RoleStaff   = "staff"
	RoleCourier = "courier"
	RoleAdmin   = "admin"
)

// Identity is the caller resolved from a verified ID token.
type Identity struct {
	UID   string
	Email string
	Roles []string

	token *firebaseauth.Token
}

// Token exposes the decoded ID token, nil for identities built in tests.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// HasRole reports whether the identity holds role, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	return role != "" && slices.ContainsFunc(i.Roles, func(r string) bool { return normaliseRole(r) == role })
}

// IsStaff reports whether the identity operates the store.
func (i *Identity) IsStaff() bool {
	return i.HasRole(RoleStaff) || i.HasRole(RoleAdmin)
}

// ActorID is the UID recorded in audit fields.
func (i *Identity) ActorID() string {
	if i == nil {
		return ""
	}
	return i.UID
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

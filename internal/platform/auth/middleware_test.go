package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token       *firebaseauth.Token
	err         error
	received    string
	hadDeadline bool
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	_, s.hadDeadline = ctx.Deadline()
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func authenticate(authn *Authenticator, header string, next http.HandlerFunc) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rr := httptest.NewRecorder()
	authn.Authenticate()(next).ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestAuthenticateResolvesIdentity(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID: "courier-9",
		Claims: map[string]any{
			"role":  []any{"Courier", "courier", 7},
			"email": " rider@vibedrinks.test ",
		},
	}}
	authn := NewAuthenticator(verifier, WithVerificationTimeout(time.Second))

	var got *Identity
	rr := authenticate(authn, "Bearer  tok-1 ", func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if verifier.received != "tok-1" || !verifier.hadDeadline {
		t.Fatalf("expected trimmed token with deadline, got %q deadline=%v", verifier.received, verifier.hadDeadline)
	}
	if got == nil || got.UID != "courier-9" || got.Email != "rider@vibedrinks.test" {
		t.Fatalf("unexpected identity %+v", got)
	}
	if len(got.Roles) != 1 || !got.HasRole(RoleCourier) || got.IsStaff() {
		t.Fatalf("expected single courier role, got %v", got.Roles)
	}
	if got.Token() == nil {
		t.Fatal("expected decoded token on identity")
	}
}

func TestAuthenticateDefaultsToCustomerRole(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{token: &firebaseauth.Token{UID: "u-1", Claims: map[string]any{}}})

	rr := authenticate(authn, "Bearer t", func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if len(identity.Roles) != 1 || identity.Roles[0] != RoleUser {
			t.Errorf("expected %q role, got %v", RoleUser, identity.Roles)
		}
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestAuthenticateCustomRoleClaim(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{token: &firebaseauth.Token{
		UID:    "a-1",
		Claims: map[string]any{"vd_roles": map[string]any{"admin": true, "staff": false}},
	}}, WithRoleClaim("vd_roles"))

	rr := authenticate(authn, "Bearer t", func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if !identity.HasRole(RoleAdmin) || identity.HasRole(RoleStaff) {
			t.Errorf("unexpected roles %v", identity.Roles)
		}
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestAuthenticateRejections(t *testing.T) {
	cases := []struct {
		name   string
		authn  *Authenticator
		header string
		code   string
	}{
		{name: "missing header", authn: NewAuthenticator(&stubTokenVerifier{}), code: "unauthenticated"},
		{name: "basic scheme", authn: NewAuthenticator(&stubTokenVerifier{}), header: "Basic abc", code: "unauthenticated"},
		{name: "no verifier", authn: NewAuthenticator(nil), header: "Bearer t", code: "unauthenticated"},
		{name: "expired", authn: NewAuthenticator(&stubTokenVerifier{err: ErrTokenExpired}), header: "Bearer t", code: "token_expired"},
		{name: "invalid", authn: NewAuthenticator(&stubTokenVerifier{err: errors.New("bad signature")}), header: "Bearer t", code: "invalid_token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := authenticate(tc.authn, tc.header, func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler should not run")
			})
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			if got := errorCode(t, rr); got != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, got)
			}
		})
	}
}

func TestRequireRoles(t *testing.T) {
	cases := []struct {
		name     string
		identity *Identity
		roles    []string
		want     int
	}{
		{name: "anonymous", roles: []string{RoleAdmin}, want: http.StatusUnauthorized},
		{name: "staff without admin", identity: &Identity{UID: "s", Roles: []string{RoleStaff}}, roles: []string{RoleAdmin}, want: http.StatusForbidden},
		{name: "admin mixed case", identity: &Identity{UID: "a", Roles: []string{"Admin"}}, roles: []string{RoleAdmin}, want: http.StatusNoContent},
		{name: "courier among many", identity: &Identity{UID: "c", Roles: []string{RoleCourier}}, roles: []string{RoleStaff, RoleAdmin, RoleCourier}, want: http.StatusNoContent},
		{name: "no roles required", identity: &Identity{UID: "u", Roles: []string{RoleUser}}, want: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := RequireRoles(tc.roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			}))
			req := httptest.NewRequest(http.MethodDelete, "/api/v1/orders/ord_1", nil)
			if tc.identity != nil {
				req = req.WithContext(WithIdentity(req.Context(), tc.identity))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
			if tc.want == http.StatusForbidden && errorCode(t, rr) != "insufficient_role" {
				t.Fatalf("expected insufficient_role, got %s", rr.Body.String())
			}
		})
	}
}

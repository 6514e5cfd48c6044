package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/config"
)

// NewFirebaseVerifier returns the Admin SDK auth client, which satisfies TokenVerifier.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (*firebaseauth.Client, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	return client, nil
}

// DevVerifier accepts any bearer token without contacting Firebase. It is only wired when
// API_AUTH_DISABLED is set in the local environment.
//
// A token of the form "uid:role1,role2" impersonates that uid with those roles; any other token maps
// to the configured default identity.
type DevVerifier struct {
	UID   string
	Roles []string
}

func NewDevVerifier(cfg config.SecurityConfig) *DevVerifier {
	return &DevVerifier{UID: cfg.DevUID, Roles: append([]string(nil), cfg.DevRoles...)}
}

func (v *DevVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil {
		return nil, ErrTokenInvalid
	}
	uid, roles := v.UID, v.Roles
	if name, rawRoles, ok := strings.Cut(strings.TrimSpace(idToken), ":"); ok && strings.TrimSpace(name) != "" {
		uid = strings.TrimSpace(name)
		roles = strings.Split(rawRoles, ",")
	}
	if uid == "" {
		return nil, ErrTokenInvalid
	}
	return &firebaseauth.Token{
		UID:    uid,
		Claims: map[string]any{"role": rolesClaim(roles)},
	}, nil
}

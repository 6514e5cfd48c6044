package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// load runs Load against env only, ignoring the process environment and any .env file.
func load(t *testing.T, env map[string]string, opts ...Option) (Config, error) {
	t.Helper()
	base := []Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}
	return Load(context.Background(), append(base, opts...)...)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, map[string]string{"API_FIREBASE_PROJECT_ID": "vibedrinks-dev"})
	require.NoError(t, err)

	require.Equal(t, ServerConfig{
		Port:         "8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}, cfg.Server)
	require.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	require.Equal(t, FirestoreConfig{ProjectID: "vibedrinks-dev", TxAttempts: 5, TxTimeout: 15 * time.Second}, cfg.Firestore, "firestore project follows firebase")
	require.Equal(t, PubSubConfig{ProjectID: "vibedrinks-dev"}, cfg.PubSub, "relay disabled by default")
	require.Equal(t, RealtimeConfig{HeartbeatInterval: 30 * time.Second, SubscriberBuffer: 64}, cfg.Realtime)
	require.Equal(t, SecurityConfig{
		Environment: localEnvironment,
		DevUID:      "dev-staff",
		DevRoles:    []string{"staff", "admin"},
	}, cfg.Security)
	require.Equal(t, IdempotencyConfig{
		Header:           defaultIdempotencyHeader,
		TTL:              defaultIdempotencyTTL,
		CleanupInterval:  defaultIdempotencyInterval,
		CleanupBatchSize: defaultIdempotencyBatchSize,
	}, cfg.Idempotency)
}

func TestLoadOverridesAndResolvesDSN(t *testing.T) {
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://postgres/dsn" {
			return "postgres://orders:pw@db:5432/orders", nil
		}
		return "", errors.New("unknown secret")
	})
	cfg, err := load(t, map[string]string{
		"API_SERVER_PORT":                  "9090",
		"API_SERVER_IDLE_TIMEOUT":          "2m30s",
		"API_FIREBASE_PROJECT_ID":          "vibedrinks-prod",
		"API_FIRESTORE_PROJECT_ID":         "vibedrinks-fire",
		"API_STORE_DRIVER":                 "Postgres",
		"API_POSTGRES_DSN":                 "secret://postgres/dsn",
		"API_POSTGRES_MAX_CONNS":           "24",
		"API_POSTGRES_MIGRATE":             "yes",
		"API_REALTIME_HEARTBEAT_INTERVAL":  "10s",
		"API_REALTIME_SUBSCRIBER_BUFFER":   "128",
		"API_PUBSUB_PROJECT_ID":            "vibedrinks-events",
		"API_PUBSUB_ORDER_EVENTS_TOPIC":    "order-events",
		"API_SECURITY_ENVIRONMENT":         "PROD",
		"API_IDEMPOTENCY_HEADER":           "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":              "48h",
		"API_IDEMPOTENCY_CLEANUP_INTERVAL": "30m",
		"API_IDEMPOTENCY_CLEANUP_BATCH":    "500",
	}, WithSecretResolver(resolver))
	require.NoError(t, err)

	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, 150*time.Second, cfg.Server.IdleTimeout)
	require.Equal(t, "vibedrinks-fire", cfg.Firestore.ProjectID)
	require.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
	require.Equal(t, PostgresConfig{DSN: "postgres://orders:pw@db:5432/orders", MaxConns: 24, Migrate: true}, cfg.Postgres)
	require.Equal(t, RealtimeConfig{HeartbeatInterval: 10 * time.Second, SubscriberBuffer: 128}, cfg.Realtime)
	require.Equal(t, PubSubConfig{ProjectID: "vibedrinks-events", OrderEventsTopic: "order-events"}, cfg.PubSub)
	require.Equal(t, "prod", cfg.Security.Environment)
	require.Equal(t, IdempotencyConfig{
		Header:           "X-Idem-Key",
		TTL:              48 * time.Hour,
		CleanupInterval:  30 * time.Minute,
		CleanupBatchSize: 500,
	}, cfg.Idempotency)
}

func TestLoadIgnoresUnparsableValues(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"API_FIREBASE_PROJECT_ID":        "p",
		"API_SERVER_READ_TIMEOUT":        "soon",
		"API_REALTIME_SUBSCRIBER_BUFFER": "lots",
		"API_POSTGRES_MIGRATE":           "maybe",
		"API_AUTH_DEV_ROLES":             " , ",
	})
	require.NoError(t, err)
	require.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	require.Equal(t, 64, cfg.Realtime.SubscriberBuffer)
	require.False(t, cfg.Postgres.Migrate)
	require.Equal(t, []string{"staff", "admin"}, cfg.Security.DevRoles)
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env.test")
	content := "# local overrides\nexport API_SERVER_PORT=7070\nAPI_FIREBASE_PROJECT_ID=\"vibedrinks-dot\"\nnot a pair\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv())
	require.NoError(t, err)
	require.Equal(t, "7070", cfg.Server.Port)
	require.Equal(t, "vibedrinks-dot", cfg.Firebase.ProjectID)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name  string
		env   map[string]string
		field string
	}{
		{name: "no firebase project", env: map[string]string{}, field: "Firebase.ProjectID"},
		{name: "unknown driver", env: map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_STORE_DRIVER": "mysql"}, field: "Store.Driver"},
		{name: "postgres without dsn", env: map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_STORE_DRIVER": "postgres"}, field: "Postgres.DSN"},
		{name: "auth disabled outside local", env: map[string]string{"API_AUTH_DISABLED": "true", "API_SECURITY_ENVIRONMENT": "prod"}, field: "Security.AuthDisabled"},
		{name: "zero subscriber buffer", env: map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_REALTIME_SUBSCRIBER_BUFFER": "0"}, field: "Realtime.SubscriberBuffer"},
		{name: "firestore without retries", env: map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_STORE_DRIVER": "firestore", "API_FIRESTORE_TX_ATTEMPTS": "0"}, field: "Firestore.TxAttempts"},
		{name: "negative idempotency ttl", env: map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_IDEMPOTENCY_TTL": "-1h"}, field: "Idempotency.TTL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(t, tc.env)
			var validation *ValidationError
			require.ErrorAs(t, err, &validation)
			require.Contains(t, validation.Fields(), tc.field)
		})
	}
}

func TestLoadLocalDevIdentity(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"API_AUTH_DISABLED":  "true",
		"API_AUTH_DEV_UID":   "barista",
		"API_AUTH_DEV_ROLES": "staff, courier",
	})
	require.NoError(t, err)
	require.True(t, cfg.Security.AuthDisabled)
	require.Equal(t, "barista", cfg.Security.DevUID)
	require.Equal(t, []string{"staff", "courier"}, cfg.Security.DevRoles)
}

func TestLoadSecretReferences(t *testing.T) {
	postgres := map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_STORE_DRIVER": "postgres"}
	with := func(dsn string) map[string]string {
		env := map[string]string{"API_POSTGRES_DSN": dsn}
		for k, v := range postgres {
			env[k] = v
		}
		return env
	}

	t.Run("no resolver", func(t *testing.T) {
		_, err := load(t, with("secret://missing"))
		var secretErr *SecretError
		require.ErrorAs(t, err, &secretErr)
		require.Equal(t, "secret://missing", secretErr.Ref)
		require.ErrorIs(t, err, errSecretResolverNotConfigured)
	})

	t.Run("legacy scheme", func(t *testing.T) {
		var asked string
		resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			asked = ref
			return "postgres://legacy", nil
		})
		cfg, err := load(t, with("sm://postgres/dsn"), WithSecretResolver(resolver))
		require.NoError(t, err)
		require.Equal(t, "secret://postgres/dsn", asked)
		require.Equal(t, "postgres://legacy", cfg.Postgres.DSN)
	})

	t.Run("plain value untouched", func(t *testing.T) {
		resolver := SecretResolverFunc(func(context.Context, string) (string, error) {
			t.Fatal("resolver must not be called for a plain DSN")
			return "", nil
		})
		cfg, err := load(t, with("postgres://plain"), WithSecretResolver(resolver))
		require.NoError(t, err)
		require.Equal(t, "postgres://plain", cfg.Postgres.DSN)
	})
}

func TestLoadRequiredSecrets(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "vibedrinks-dev"}

	_, err := load(t, env, WithRequiredSecrets("Postgres.DSN", "Postgres.DSN", " "))
	var missing *MissingSecretsError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, []string{"Postgres.DSN"}, missing.Names())
	require.Equal(t, []string{redactSecretName("Postgres.DSN")}, missing.RedactedNames())
	require.NotContains(t, err.Error(), "Postgres.DSN")

	require.PanicsWithValue(t, missing, func() {
		_, _ = load(t, env, WithRequiredSecrets("Postgres.DSN"), WithPanicOnMissingSecrets())
	})
}

func TestEnvironmentValuesPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(path), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS": "secret://postgres/dsn=5",
	}))
	require.NoError(t, err)

	for key, want := range map[string]string{
		"API_FIREBASE_PROJECT_ID":  "override-project",
		"API_SECRET_FALLBACK_FILE": ".dot.local",
		"API_SECRET_PROJECT_IDS":   "prod=project-prod",
		"API_SECRET_VERSION_PINS":  "secret://postgres/dsn=5",
	} {
		require.Equal(t, want, values[key], key)
	}
}

package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Store drivers selectable through API_STORE_DRIVER.
const (
	StoreDriverMemory    = "memory"
	StoreDriverFirestore = "firestore"
	StoreDriverPostgres  = "postgres"
)

const (
	localEnvironment = "local"

	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config is the full runtime configuration of the order API.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Store       StoreConfig
	Postgres    PostgresConfig
	Realtime    RealtimeConfig
	PubSub      PubSubConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig falls back to the Firebase project when ProjectID is empty.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
	// TxAttempts and TxTimeout bound every transaction the order engine runs.
	TxAttempts int
	TxTimeout  time.Duration
}

// StoreConfig picks where orders, products and counters live.
type StoreConfig struct {
	Driver string
}

// PostgresConfig configures the pgx pool. DSN may be a secret reference.
type PostgresConfig struct {
	DSN      string
	MaxConns int
	Migrate  bool
}

// RealtimeConfig tunes the order event hub behind the SSE stream.
type RealtimeConfig struct {
	HeartbeatInterval time.Duration
	SubscriberBuffer  int
}

// PubSubConfig names the topic order events are relayed to. An empty topic disables the relay.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// SecurityConfig groups authentication settings. AuthDisabled is only accepted in the local
// environment, where every request runs as DevUID with DevRoles.
type SecurityConfig struct {
	Environment  string
	AuthDisabled bool
	DevUID       string
	DevRoles     []string
}

type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError lists every invalid field found by Load.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Load reads configuration from the dotenv file, the process environment and any explicit map,
// in increasing precedence, then resolves secret references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	o := newLoaderOptions(opts)
	e, err := readEnv(o)
	if err != nil {
		return Config{}, err
	}

	cfg := fromEnv(e)

	resolved, err := resolveSecrets(ctx, o.secret, []secretField{
		{name: "Postgres.DSN", value: &cfg.Postgres.DSN},
	})
	if err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if missing := missingSecrets(o.requiredSecrets, resolved); missing != nil {
		if o.panicOnMissing {
			fmt.Fprintf(os.Stderr, "config: %v\n", missing)
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

func fromEnv(e env) Config {
	firebaseProject := e.str("API_FIREBASE_PROJECT_ID", "")
	return Config{
		Server: ServerConfig{
			Port:         e.str("API_SERVER_PORT", "8080"),
			ReadTimeout:  e.duration("API_SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: e.duration("API_SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  e.duration("API_SERVER_IDLE_TIMEOUT", 2*time.Minute),
		},
		Firebase: FirebaseConfig{
			ProjectID:       firebaseProject,
			CredentialsFile: e.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    e.str("API_FIRESTORE_PROJECT_ID", firebaseProject),
			EmulatorHost: e.str("API_FIRESTORE_EMULATOR_HOST", ""),
			TxAttempts:   e.integer("API_FIRESTORE_TX_ATTEMPTS", 5),
			TxTimeout:    e.duration("API_FIRESTORE_TX_TIMEOUT", 15*time.Second),
		},
		Store: StoreConfig{
			Driver: e.lower("API_STORE_DRIVER", StoreDriverMemory),
		},
		Postgres: PostgresConfig{
			DSN:      e.str("API_POSTGRES_DSN", ""),
			MaxConns: e.integer("API_POSTGRES_MAX_CONNS", 10),
			Migrate:  e.flag("API_POSTGRES_MIGRATE", false),
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval: e.duration("API_REALTIME_HEARTBEAT_INTERVAL", 30*time.Second),
			SubscriberBuffer:  e.integer("API_REALTIME_SUBSCRIBER_BUFFER", 64),
		},
		PubSub: PubSubConfig{
			ProjectID:        e.str("API_PUBSUB_PROJECT_ID", firebaseProject),
			OrderEventsTopic: e.str("API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
		},
		Security: SecurityConfig{
			Environment:  e.lower("API_SECURITY_ENVIRONMENT", localEnvironment),
			AuthDisabled: e.flag("API_AUTH_DISABLED", false),
			DevUID:       e.str("API_AUTH_DEV_UID", "dev-staff"),
			DevRoles:     e.list("API_AUTH_DEV_ROLES", "staff", "admin"),
		},
		Idempotency: IdempotencyConfig{
			Header:           e.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              e.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  e.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: e.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}
}

func (c Config) validate() error {
	var bad []string
	check := func(ok bool, field string) {
		if !ok {
			bad = append(bad, field)
		}
	}

	check(c.Server.Port != "", "Server.Port")

	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverFirestore:
		check(c.Firestore.ProjectID != "", "Firestore.ProjectID")
		check(c.Firestore.TxAttempts > 0, "Firestore.TxAttempts")
	case StoreDriverPostgres:
		check(strings.TrimSpace(c.Postgres.DSN) != "", "Postgres.DSN")
		check(c.Postgres.MaxConns > 0, "Postgres.MaxConns")
	default:
		bad = append(bad, "Store.Driver")
	}

	if c.Security.AuthDisabled {
		check(c.Security.Environment == localEnvironment, "Security.AuthDisabled")
	} else {
		check(c.Firebase.ProjectID != "", "Firebase.ProjectID")
	}

	check(c.PubSub.OrderEventsTopic == "" || c.PubSub.ProjectID != "", "PubSub.ProjectID")
	check(c.Realtime.HeartbeatInterval > 0, "Realtime.HeartbeatInterval")
	check(c.Realtime.SubscriberBuffer > 0, "Realtime.SubscriberBuffer")
	check(strings.TrimSpace(c.Idempotency.Header) != "", "Idempotency.Header")
	check(c.Idempotency.TTL > 0, "Idempotency.TTL")
	check(c.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(c.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(bad) > 0 {
		return &ValidationError{fields: bad}
	}
	return nil
}

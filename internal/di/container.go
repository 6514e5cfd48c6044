package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/config"
	pfirestore "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/firestore"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/idempotency"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/jobs"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/observability"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/realtime"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
	firestoreRepo "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories/firestore"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories/memory"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories/postgres"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders    services.OrderService
	Inventory services.InventoryService
	Counters  services.CounterService
	System    services.SystemService
}

// Container wires the store, the event broadcaster and the services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Idempotency  idempotency.Store
	Hub          *realtime.Hub
	Services     Services

	closers []func(context.Context) error
}

type containerOptions struct {
	logger   *zap.Logger
	clock    func() time.Time
	build    services.BuildInfo
	registry repositories.Registry
	checks   []repositories.DependencyCheck
}

// Option customises container construction.
type Option func(*containerOptions)

// WithLogger sets the base logger handed to components.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source used by services.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithBuildInfo sets the metadata reported by the system service.
func WithBuildInfo(info services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = info
	}
}

// WithRegistry bypasses the configured store driver. The caller keeps ownership of the registry's
// lifecycle only if it never calls Container.Close.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *containerOptions) {
		o.registry = reg
	}
}

// WithDependencyChecks adds readiness probes beyond the store ping.
func WithDependencyChecks(checks ...repositories.DependencyCheck) Option {
	return func(o *containerOptions) {
		o.checks = append(o.checks, checks...)
	}
}

// NewContainer opens the configured store and assembles the order engine around it.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	options := containerOptions{
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	logger := options.logger

	c := &Container{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			_ = c.Close(context.WithoutCancel(ctx))
		}
	}()

	checks := append([]repositories.DependencyCheck(nil), options.checks...)
	if options.registry != nil {
		c.Repositories = options.registry
		c.Idempotency = idempotency.NewMemoryStore()
		c.closers = append(c.closers, options.registry.Close)
	} else {
		check, err := c.openStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		checks = append(checks, check)
	}

	c.Hub = realtime.NewHub(
		realtime.WithHeartbeatInterval(cfg.Realtime.HeartbeatInterval),
		realtime.WithSubscriberBuffer(cfg.Realtime.SubscriberBuffer),
		realtime.WithClock(options.clock),
		realtime.WithLogger(logger.Named("realtime")),
	)
	c.closers = append(c.closers, func(context.Context) error {
		c.Hub.Close()
		return nil
	})

	publishers := []services.OrderEventPublisher{realtime.NewOrderEventPublisher(c.Hub)}
	relay, relayCheck, err := c.openRelay(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if relay != nil {
		publishers = append(publishers, relay)
		checks = append(checks, relayCheck)
		logger.Info("order event relay enabled", zap.String("topic", cfg.PubSub.OrderEventsTopic))
	}

	svc, err := buildServices(c.Repositories, services.NewOrderEventFanout(publishers...), options, logger)
	if err != nil {
		return nil, err
	}
	if err := svc.Counters.Prime(ctx); err != nil {
		return nil, err
	}

	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}
	svc.System, err = services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: health,
		Clock:            options.clock,
		Build:            options.build,
		Realtime:         c.Hub.HealthCheck,
	})
	if err != nil {
		return nil, fmt.Errorf("build system service: %w", err)
	}
	c.Services = svc

	ok = true
	return c, nil
}

// Close releases the store, the relay and the hub in reverse order of acquisition.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) openStore(ctx context.Context, cfg config.Config) (repositories.DependencyCheck, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(googleClientOptions(cfg)...))
		store, err := firestoreRepo.NewStore(provider)
		if err != nil {
			return repositories.DependencyCheck{}, fmt.Errorf("open firestore store: %w", err)
		}
		c.Repositories = store
		c.Idempotency = idempotency.NewFirestoreStore(provider)
		c.closers = append(c.closers, store.Close)
		return repositories.DependencyCheck{Name: "firestore", Check: firestoreCheck(provider)}, nil

	case config.StoreDriverPostgres:
		store, err := postgres.Open(ctx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			MaxConns: int32(cfg.Postgres.MaxConns),
			Migrate:  cfg.Postgres.Migrate,
		})
		if err != nil {
			return repositories.DependencyCheck{}, fmt.Errorf("open postgres store: %w", err)
		}
		c.Repositories = store
		c.Idempotency = idempotency.NewPostgresStore(store.Pool())
		c.closers = append(c.closers, store.Close)
		return repositories.PingCheck("postgres", store), nil

	case config.StoreDriverMemory, "":
		store := memory.NewStore()
		c.Repositories = store
		c.Idempotency = idempotency.NewMemoryStore()
		c.closers = append(c.closers, store.Close)
		return repositories.PingCheck("memory", store), nil

	default:
		return repositories.DependencyCheck{}, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// openRelay connects the Pub/Sub order event relay. It is disabled when no topic is configured; its
// readiness check is optional so a Pub/Sub outage only degrades the service.
func (c *Container) openRelay(ctx context.Context, cfg config.Config) (services.OrderEventPublisher, repositories.DependencyCheck, error) {
	topicName := strings.TrimSpace(cfg.PubSub.OrderEventsTopic)
	if topicName == "" {
		return nil, repositories.DependencyCheck{}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, googleClientOptions(cfg)...)
	if err != nil {
		return nil, repositories.DependencyCheck{}, fmt.Errorf("open pubsub client: %w", err)
	}
	topic := client.Topic(topicName)
	c.closers = append(c.closers, func(context.Context) error {
		topic.Stop()
		return client.Close()
	})
	publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
	if err != nil {
		return nil, repositories.DependencyCheck{}, err
	}
	check := repositories.DependencyCheck{
		Name:     "pubsub",
		Optional: true,
		Check: func(ctx context.Context) error {
			exists, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("pubsub topic %s not found", topicName)
			}
			return nil
		},
	}
	return publisher, check, nil
}

func buildServices(reg repositories.Registry, events services.OrderEventPublisher, options containerOptions, logger *zap.Logger) (Services, error) {
	var svc Services

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products:   reg.Products(),
		Ledger:     reg.StockLedger(),
		UnitOfWork: reg,
		Clock:      options.clock,
		Logger:     observability.EventLogger(logger.Named("inventory")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Products:   reg.Products(),
		Couriers:   reg.Couriers(),
		Inventory:  inventorySvc,
		Counters:   counterSvc,
		UnitOfWork: reg,
		Clock:      options.clock,
		Events:     events,
		Logger:     observability.EventLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	return svc, nil
}

func firestoreCheck(provider *pfirestore.Provider) func(context.Context) error {
	return func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		_, err = client.Collections(ctx).Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		return err
	}
}

// googleClientOptions carries the service account file, when one is configured, to every Google
// Cloud client the container opens.
func googleClientOptions(cfg config.Config) []option.ClientOption {
	if cfg.Firebase.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.Firebase.CredentialsFile)}
}

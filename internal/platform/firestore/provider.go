package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/config"
)

const defaultDialTimeout = 10 * time.Second

var ErrProviderClosed = errors.New("firestore: provider is closed")

// Provider hands out one lazily dialled client to the order store and the idempotency store, so a
// process running another store driver never connects.
type Provider struct {
	projectID   string
	emulator    string
	dialTimeout time.Duration
	extra       []option.ClientOption
	txDefaults  []TxOption

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

type ProviderOption func(*Provider)

func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithClientOptions adds options to the production client. They are not used against the emulator.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) { p.extra = append(p.extra, opts...) }
}

// NewProvider resolves the project and emulator from cfg, falling back to GOOGLE_CLOUD_PROJECT and
// FIRESTORE_EMULATOR_HOST. cfg's transaction bounds become the provider's transaction defaults.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	p := &Provider{
		projectID:   cmpTrim(cfg.ProjectID, os.Getenv("GOOGLE_CLOUD_PROJECT")),
		emulator:    cmpTrim(cfg.EmulatorHost, os.Getenv("FIRESTORE_EMULATOR_HOST")),
		dialTimeout: defaultDialTimeout,
		txDefaults:  []TxOption{WithTxAttempts(cfg.TxAttempts), WithTxTimeout(cfg.TxTimeout)},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Client returns the shared client. A failed dial is not cached.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProviderClosed
	}
	if p.client == nil {
		client, err := p.dial(ctx)
		if err != nil {
			return nil, err
		}
		p.client = client
	}
	return p.client, nil
}

func (p *Provider) dial(ctx context.Context) (*firestore.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()
	client, err := firestore.NewClient(ctx, p.projectID, p.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("firestore: dial project %s: %w", p.projectID, err)
	}
	return client, nil
}

func (p *Provider) clientOptions() []option.ClientOption {
	if p.emulator == "" {
		return slices.Clone(p.extra)
	}
	return []option.ClientOption{
		option.WithEndpoint(p.emulator),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}

// Close releases the client and makes later Client calls fail with ErrProviderClosed. It gives up
// waiting when ctx ends.
func (p *Provider) Close(ctx context.Context) error {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.closed = true
	p.mu.Unlock()
	if client == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- client.Close() }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// txOptions puts the provider defaults ahead of opts so the caller's choices win.
func (p *Provider) txOptions(opts []TxOption) []TxOption {
	return append(slices.Clone(p.txDefaults), opts...)
}

func cmpTrim(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

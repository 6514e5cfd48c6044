package secrets

import (
	"context"
	"fmt"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/secrets"
)

// Source labels on the resolve latency histogram.
const (
	sourceCache    = "cache"
	sourceRemote   = "remote"
	sourceFallback = "fallback"
	sourceError    = "error"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references against Secret Manager. Values are cached until
// invalidated or until the cache TTL passes. When Secret Manager is unreachable or denies access,
// a local KEY=VALUE file is consulted instead.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	dialOpts   []option.ClientOption
	logger     *zap.Logger
	meter      metric.Meter
	clock      func() time.Time

	env            string
	defaultProject string
	projects       map[string]string
	pins           map[string]string

	cache    secretCache
	fallback *fallbackFile

	latency metric.Float64Histogram
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created is not an error:
// the fetcher then serves from the fallback file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:   zap.NewNop(),
		clock:    time.Now,
		env:      defaultEnvironment,
		projects: make(map[string]string),
		pins:     make(map[string]string),
		cache:    secretCache{entries: make(map[string]cachedSecret)},
		fallback: &fallbackFile{path: defaultFallbackPath},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.logger = f.logger.Named("secrets")
	f.initMetrics()

	if f.client == nil {
		client, err := secretManagerClientFactory(ctx, f.dialOpts...)
		if err != nil {
			f.logger.Warn("secret manager unavailable; serving fallback values only", zap.Error(err))
			return f, nil
		}
		f.client, f.ownsClient = client, true
	}
	return f, nil
}

func (f *Fetcher) initMetrics() {
	meter := f.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	latency, err := meter.Float64Histogram("secrets.resolve.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"),
	)
	if err != nil {
		f.logger.Warn("latency histogram unavailable", zap.Error(err))
		return
	}
	f.latency = latency
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f == nil || !f.ownsClient || f.client == nil {
		return nil
	}
	return f.client.Close()
}

// Resolve returns the value behind ref. Secret Manager errors other than outages and denied
// access are returned without consulting the fallback file.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (value string, err error) {
	start := time.Now()
	source := sourceError
	defer func() { f.observe(ctx, start, source) }()

	parsed, err := ParseReference(ref)
	if err != nil {
		return "", err
	}
	version := f.version(parsed)
	key := cacheKey(parsed.Canonical, version)
	if cached, ok := f.cache.get(key, f.clock()); ok {
		source = sourceCache
		return cached, nil
	}

	if project := f.project(parsed); project != "" && f.client != nil {
		remote, err := f.access(ctx, parsed.resource(project, version))
		if err == nil {
			f.cache.put(key, parsed.Canonical, remote, f.clock())
			source = sourceRemote
			return remote, nil
		}
		if !fallbackAllowed(err) {
			return "", fmt.Errorf("secrets: fetch %s: %w", parsed.Canonical, err)
		}
		f.logger.Debug("remote fetch failed; trying fallback", zap.String("ref", parsed.Canonical), zap.Error(err))
	}

	local, ok, loadErr := f.fallback.lookup(parsed.Canonical)
	if loadErr != nil {
		f.logger.Warn("fallback file unreadable", zap.String("path", f.fallback.path), zap.Error(loadErr))
	}
	if !ok {
		return "", fmt.Errorf("secrets: no value for %s", parsed.Canonical)
	}
	f.cache.put(key, parsed.Canonical, local, f.clock())
	source = sourceFallback
	return local, nil
}

// Invalidate drops every cached version of ref so the next Resolve refetches it.
func (f *Fetcher) Invalidate(ref string) {
	if parsed, err := ParseReference(ref); err == nil {
		f.cache.drop(parsed.Canonical)
	}
}

func (f *Fetcher) access(ctx context.Context, resource string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	payload := resp.GetPayload()
	if payload == nil {
		return "", fmt.Errorf("empty payload for %s", resource)
	}
	return string(payload.GetData()), nil
}

// project prefers the reference's own project, then the environment mapping, then the default.
func (f *Fetcher) project(ref Reference) string {
	if ref.Project != "" {
		return ref.Project
	}
	if mapped := strings.TrimSpace(f.projects[f.env]); mapped != "" {
		return mapped
	}
	return f.defaultProject
}

// version prefers the reference's own version, then an environment pin, then a global pin.
func (f *Fetcher) version(ref Reference) string {
	if ref.Version != "" {
		return ref.Version
	}
	if pin := strings.TrimSpace(f.pins[f.env+":"+ref.Canonical]); pin != "" {
		return pin
	}
	if pin := strings.TrimSpace(f.pins[ref.Canonical]); pin != "" {
		return pin
	}
	return latestVersion
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if f.latency == nil {
		return
	}
	ms := float64(time.Since(start).Microseconds()) / 1000
	f.latency.Record(ctx, ms, metric.WithAttributes(attribute.String("source", source)))
}

// fallbackAllowed reports whether err means Secret Manager could not answer, as opposed to an
// answer such as NotFound that the fallback file must not mask.
func fallbackAllowed(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

package secrets

import (
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Option customises a Fetcher.
type Option func(*Fetcher)

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithEnvironment selects the key used for per-environment project IDs and version pins.
func WithEnvironment(env string) Option {
	return func(f *Fetcher) {
		if env = strings.ToLower(strings.TrimSpace(env)); env != "" {
			f.env = env
		}
	}
}

// WithDefaultProject sets the project used when no per-environment mapping matches.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher) { f.defaultProject = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environment names to Secret Manager projects.
func WithProjectMap(projects map[string]string) Option {
	return func(f *Fetcher) {
		for env, project := range projects {
			f.projects[strings.ToLower(strings.TrimSpace(env))] = strings.TrimSpace(project)
		}
	}
}

// WithVersionPins pins canonical references to versions. A key may carry an "<env>:" prefix to
// apply to one environment only.
func WithVersionPins(pins map[string]string) Option {
	return func(f *Fetcher) {
		for ref, version := range pins {
			f.pins[ref] = version
		}
	}
}

// WithFallbackFile overrides the local fallback file. An empty path disables the fallback.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) { f.fallback = &fallbackFile{path: strings.TrimSpace(path)} }
}

// WithCacheTTL expires cached values after ttl. Zero caches until Invalidate.
func WithCacheTTL(ttl time.Duration) Option {
	return func(f *Fetcher) {
		if ttl >= 0 {
			f.cache.ttl = ttl
		}
	}
}

func WithMeter(m metric.Meter) Option {
	return func(f *Fetcher) { f.meter = m }
}

// WithSecretManagerClient injects a client, mainly for tests. The fetcher does not close it.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(f *Fetcher) { f.client = client }
}

// WithClientOptions forwards options to the Secret Manager client the fetcher dials.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(f *Fetcher) { f.dialOpts = append(f.dialOpts, opts...) }
}

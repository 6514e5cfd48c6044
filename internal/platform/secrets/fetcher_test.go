package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	dsnRef    = "secret://postgres_dsn"
	dsnLatest = "projects/test/secrets/postgres_dsn/versions/latest"
	localDSN  = "postgres://local?sslmode=disable"
)

func newTestFetcher(t *testing.T, client *fakeSecretManager, opts ...Option) *Fetcher {
	t.Helper()
	base := []Option{WithSecretManagerClient(client), WithDefaultProject("test"), WithLogger(zap.NewNop())}
	fetcher, err := NewFetcher(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fetcher.Close() })
	return fetcher
}

func writeFallback(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	require.NoError(t, os.WriteFile(path, []byte("# local overrides\n"+dsnRef+"="+localDSN+"\n"), 0o600))
	return path
}

func TestResolveCachesRemoteValue(t *testing.T) {
	client := newFakeSecretManager()
	client.set(dsnLatest, "postgres://remote")
	fetcher := newTestFetcher(t, client)

	for range 3 {
		got, err := fetcher.Resolve(context.Background(), dsnRef)
		require.NoError(t, err)
		require.Equal(t, "postgres://remote", got)
	}
	require.Equal(t, 1, client.calls(dsnLatest))
}

func TestResolveFallback(t *testing.T) {
	cases := []struct {
		name     string
		remote   error
		fallback bool
	}{
		{name: "permission denied", remote: status.Error(codes.PermissionDenied, "denied"), fallback: true},
		{name: "unavailable", remote: status.Error(codes.Unavailable, "down"), fallback: true},
		{name: "not found is final", remote: status.Error(codes.NotFound, "missing"), fallback: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newFakeSecretManager()
			client.fail(dsnLatest, tc.remote)
			fetcher := newTestFetcher(t, client, WithFallbackFile(writeFallback(t)))

			got, err := fetcher.Resolve(context.Background(), dsnRef)
			if !tc.fallback {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, localDSN, got)
		})
	}
}

func TestInvalidateAcceptsLegacyScheme(t *testing.T) {
	client := newFakeSecretManager()
	client.set(dsnLatest, "postgres://old")
	fetcher := newTestFetcher(t, client)
	ctx := context.Background()

	_, err := fetcher.Resolve(ctx, dsnRef)
	require.NoError(t, err)

	client.set(dsnLatest, "postgres://rotated")
	fetcher.Invalidate("sm://postgres_dsn")

	got, err := fetcher.Resolve(ctx, dsnRef)
	require.NoError(t, err)
	require.Equal(t, "postgres://rotated", got)
	require.Equal(t, 2, client.calls(dsnLatest))
}

func TestResolveRefetchesAfterTTL(t *testing.T) {
	client := newFakeSecretManager()
	client.set(dsnLatest, "postgres://db")
	fetcher := newTestFetcher(t, client, WithCacheTTL(time.Minute))
	now := time.Date(2026, time.March, 14, 20, 0, 0, 0, time.UTC)
	fetcher.clock = func() time.Time { return now }
	ctx := context.Background()

	for range 2 {
		_, err := fetcher.Resolve(ctx, dsnRef)
		require.NoError(t, err)
	}
	require.Equal(t, 1, client.calls(dsnLatest), "second read inside ttl is cached")

	now = now.Add(time.Minute)
	_, err := fetcher.Resolve(ctx, dsnRef)
	require.NoError(t, err)
	require.Equal(t, 2, client.calls(dsnLatest))
}

func TestResolveVersionAndProjectSelection(t *testing.T) {
	client := newFakeSecretManager()
	client.set("projects/test/secrets/postgres_dsn/versions/5", "pinned")
	client.set("projects/vibedrinks-prod/secrets/postgres_dsn/versions/7", "prod-pinned")
	client.set("projects/other/secrets/postgres_dsn/versions/2", "explicit")

	t.Run("global pin", func(t *testing.T) {
		fetcher := newTestFetcher(t, client, WithVersionPins(map[string]string{dsnRef: "5"}))
		got, err := fetcher.Resolve(context.Background(), dsnRef)
		require.NoError(t, err)
		require.Equal(t, "pinned", got)
	})

	t.Run("environment project and pin", func(t *testing.T) {
		fetcher := newTestFetcher(t, client,
			WithEnvironment("PROD"),
			WithProjectMap(map[string]string{"prod": "vibedrinks-prod"}),
			WithVersionPins(map[string]string{"prod:" + dsnRef: "7", dsnRef: "5"}),
		)
		got, err := fetcher.Resolve(context.Background(), dsnRef)
		require.NoError(t, err)
		require.Equal(t, "prod-pinned", got)
	})

	t.Run("reference query wins", func(t *testing.T) {
		fetcher := newTestFetcher(t, client, WithVersionPins(map[string]string{dsnRef: "5"}))
		got, err := fetcher.Resolve(context.Background(), dsnRef+"?project=other&version=2")
		require.NoError(t, err)
		require.Equal(t, "explicit", got)
	})
}

func TestParseReference(t *testing.T) {
	cases := map[string]Reference{
		"secret://postgres_dsn":                    {Canonical: dsnRef, Name: "postgres_dsn"},
		"sm://postgres_dsn?version=3":              {Canonical: dsnRef, Name: "postgres_dsn", Version: "3"},
		"secret://db/dsn?project=vibedrinks-prod": {Canonical: "secret://db/dsn", Name: "db/dsn", Project: "vibedrinks-prod"},
	}
	for raw, want := range cases {
		got, err := ParseReference(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
	for _, raw := range []string{"https://example.com/secret", "secret://", " "} {
		_, err := ParseReference(raw)
		require.Error(t, err, raw)
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	original := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = original })

	fetcher, err := NewFetcher(context.Background(), WithFallbackFile(writeFallback(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = fetcher.Close() })

	got, err := fetcher.Resolve(context.Background(), dsnRef)
	require.NoError(t, err)
	require.Equal(t, localDSN, got)
}

// fakeSecretManager serves secret versions by full resource name and counts accesses.
type fakeSecretManager struct {
	mu       sync.Mutex
	values   map[string]string
	failures map[string]error
	accesses map[string]int
}

func newFakeSecretManager() *fakeSecretManager {
	return &fakeSecretManager{
		values:   map[string]string{},
		failures: map[string]error{},
		accesses: map[string]int{},
	}
}

func (f *fakeSecretManager) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := req.GetName()
	f.accesses[name]++
	if err := f.failures[name]; err != nil {
		return nil, err
	}
	value, ok := f.values[name]
	if !ok {
		return nil, status.Error(codes.NotFound, "not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (f *fakeSecretManager) Close() error { return nil }

func (f *fakeSecretManager) set(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[name] = value
}

func (f *fakeSecretManager) fail(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[name] = err
}

func (f *fakeSecretManager) calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accesses[name]
}

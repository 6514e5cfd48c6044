package main

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/config"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/secrets"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
)

const (
	defaultSecretFallbackFile = ".secrets.local"
	secretHealthReference     = "secret://system/healthz?version=latest"
)

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	get := func(key string) string { return strings.TrimSpace(env[key]) }

	opts := []secrets.Option{
		secrets.WithLogger(logger),
		secrets.WithEnvironment(strings.ToLower(firstNonBlank(get("API_SECURITY_ENVIRONMENT"), "local"))),
		secrets.WithFallbackFile(firstNonBlank(get("API_SECRET_FALLBACK_FILE"), defaultSecretFallbackFile)),
		secrets.WithProjectMap(parseKeyValueList(env["API_SECRET_PROJECT_IDS"])),
		secrets.WithVersionPins(versionPins(env["API_SECRET_VERSION_PINS"])),
	}
	if project := firstNonBlank(get("API_SECRET_DEFAULT_PROJECT_ID"), get("API_FIREBASE_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if file := get("API_FIREBASE_CREDENTIALS_FILE"); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecrets names the config fields that must resolve before start-up. Only the postgres
// driver needs a DSN.
func requiredSecrets(env map[string]string) []string {
	if strings.EqualFold(strings.TrimSpace(env["API_STORE_DRIVER"]), config.StoreDriverPostgres) {
		return []string{"Postgres.DSN"}
	}
	return nil
}

// secretManagerCheck reports Secret Manager reachability. A missing health secret still proves the
// API answered.
func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:     "secretManager",
		Timeout:  time.Second,
		Optional: true,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

// versionPins reads "[env:]ref=version" pairs into the keys the fetcher looks up: the canonical
// reference, optionally prefixed with a lower-case environment.
func versionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		prefix := ""
		if env, rest, ok := strings.Cut(ref, ":"); ok && env != "" && !strings.HasPrefix(rest, "//") {
			prefix = strings.ToLower(strings.TrimSpace(env)) + ":"
			ref = strings.TrimSpace(rest)
		}
		if !strings.Contains(ref, "://") {
			ref = "secret://" + ref
		}
		parsed, err := secrets.ParseReference(ref)
		if err != nil {
			continue
		}
		pins[prefix+parsed.Canonical] = version
	}
	return pins
}

// parseKeyValueList parses "k1=v1,k2=v2". Entries missing either side are skipped and later
// duplicates win.
func parseKeyValueList(raw string) map[string]string {
	out := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(entry, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if ok && key != "" && value != "" {
			out[key] = value
		}
	}
	return out
}

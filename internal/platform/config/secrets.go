package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	secretScheme       = "secret://"
	legacySecretScheme = "sm://"
)

// SecretResolver turns a secret:// reference into its value.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// WithSecretResolver resolves config values written as secret:// (or sm://) references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets names secret-backed fields, e.g. "Postgres.DSN", that must resolve to a
// non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// WithPanicOnMissingSecrets makes Load panic with *MissingSecretsError instead of returning it.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) { o.panicOnMissing = true }
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// SecretError wraps a failed resolution of Ref.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secrets that came back empty. Error only prints redacted
// names so it is safe to log.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the field names, sorted.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	return slices.Sorted(slices.Values(e.names))
}

// RedactedNames returns short digests of the field names, sorted.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	slices.Sort(out)
	return out
}

// secretField is a config field that may hold a secret reference.
type secretField struct {
	name  string
	value *string
}

// resolveSecrets replaces references in fields with their values and returns what each named
// field ended up holding.
func resolveSecrets(ctx context.Context, resolver SecretResolver, fields []secretField) (map[string]string, error) {
	resolved := make(map[string]string, len(fields))
	for _, f := range fields {
		value, err := resolveSecret(ctx, resolver, *f.value)
		if err != nil {
			return nil, err
		}
		*f.value = value
		resolved[f.name] = strings.TrimSpace(value)
	}
	return resolved, nil
}

func resolveSecret(ctx context.Context, resolver SecretResolver, value string) (string, error) {
	ref, ok := secretReference(value)
	if !ok {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

// secretReference normalises sm:// to secret:// and reports whether value is a reference at all.
func secretReference(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, legacySecretScheme); ok {
		return secretScheme + rest, true
	}
	return value, strings.HasPrefix(value, secretScheme)
}

func missingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var names []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(names, name) || resolved[name] != "" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	return &MissingSecretsError{names: names}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

package config

import (
	"bufio"
	"errors"
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultEnvFile = ".env"

// Option customises Load and EnvironmentValues.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
	panicOnMissing  bool
}

func newLoaderOptions(opts []Option) loaderOptions {
	o := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithEnvFile points the loader at a dotenv file. An empty path skips it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over both the process environment and the dotenv file.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// env is the merged view of every configured source, highest precedence last applied.
type env map[string]string

// readEnv merges dotenv < process environment < explicit map.
func readEnv(o loaderOptions) (env, error) {
	merged, err := readDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	if merged == nil {
		merged = make(env)
	}
	if o.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if key = strings.TrimSpace(key); ok && key != "" {
				merged[key] = value
			}
		}
	}
	maps.Copy(merged, o.envMap)
	return merged, nil
}

// EnvironmentValues returns the merged environment Load would read. main uses it to build the
// secret fetcher before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	values, err := readEnv(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return values, nil
}

// readDotEnv parses KEY=VALUE lines, tolerating comments, blank lines, "export " prefixes and
// quoted values. A missing file is not an error.
func readDotEnv(path string) (env, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	values := make(env)
	scanner := bufio.NewScanner(file)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if key = strings.TrimSpace(key); !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return values, nil
}

// The typed getters fall back when the key is unset, empty or unparsable.

func (e env) str(key, fallback string) string {
	if value := e[key]; value != "" {
		return value
	}
	return fallback
}

func (e env) lower(key, fallback string) string {
	return strings.ToLower(e.str(key, fallback))
}

func (e env) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(e[key]); err == nil {
		return d
	}
	return fallback
}

func (e env) integer(key string, fallback int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(e[key])); err == nil {
		return n
	}
	return fallback
}

func (e env) flag(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(e[key])) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}

func (e env) list(key string, fallback ...string) []string {
	var out []string
	for _, part := range strings.Split(e[key], ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

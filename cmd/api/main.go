// Command api serves the order lifecycle HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/di"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/auth"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/config"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/platform/observability"
	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/services"
)

const (
	shutdownGrace  = 10 * time.Second
	containerClose = 5 * time.Second
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger.Named("api")); err != nil {
		logger.Error("order api stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// run wires the order engine and serves HTTP until ctx is cancelled.
func run(ctx context.Context, logger *zap.Logger) error {
	startedAt := time.Now().UTC()
	ctx = observability.WithLogger(ctx, logger)

	env, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	fetcher, err := newSecretFetcher(ctx, logger.Named("secrets"), env)
	if err != nil {
		return fmt.Errorf("secret fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close failed", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecrets(env)...),
	)
	var missing *config.MissingSecretsError
	if errors.As(err, &missing) {
		logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
	}
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	build := services.BuildInfo{
		Version:     firstNonBlank(env["API_BUILD_VERSION"], "dev"),
		CommitSHA:   firstNonBlank(env["API_BUILD_COMMIT_SHA"], "unknown"),
		Environment: firstNonBlank(cfg.Security.Environment, "local"),
		StartedAt:   startedAt,
	}

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(logger),
		di.WithBuildInfo(build),
		di.WithDependencyChecks(secretManagerCheck(fetcher)),
	)
	if err != nil {
		return fmt.Errorf("order engine (driver %s): %w", cfg.Store.Driver, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), containerClose)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close failed", zap.Error(err))
		}
	}()
	logger.Info("order engine ready", zap.String("driver", cfg.Store.Driver), zap.String("version", build.Version))

	authn, err := newAuthenticator(ctx, logger.Named("auth"), cfg)
	if err != nil {
		return fmt.Errorf("authenticator: %w", err)
	}

	server := newServer(cfg, logger, container, authn, build)
	janitor := newJanitor(cfg, logger, container)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		if err := container.Hub.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("realtime heartbeat stopped", zap.Error(err))
		}
	}()
	go func() {
		defer workers.Done()
		janitor.Run(workerCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("order api listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		stopWorkers()
		container.Hub.Close()
		workers.Wait()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received; draining requests")

	// open event streams only end once the hub closes, so close it before draining
	stopWorkers()
	container.Hub.Close()
	workers.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func newAuthenticator(ctx context.Context, logger *zap.Logger, cfg config.Config) (*auth.Authenticator, error) {
	if cfg.Security.AuthDisabled {
		logger.Warn("authentication disabled; requests run as the dev identity",
			zap.String("uid", cfg.Security.DevUID),
			zap.Strings("roles", cfg.Security.DevRoles),
		)
		return auth.NewAuthenticator(auth.NewDevVerifier(cfg.Security)), nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return nil, err
	}
	return auth.NewAuthenticator(verifier), nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/prayermap/admin-console/config"
	httpx "github.com/prayermap/admin-console/internal/http"
)

// RuntimeConfig holds connected infrastructure for Run.
type RuntimeConfig struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// Run wires auth, mounts the console registry and serves HTTP until ctx is
// cancelled or a component fails. Consoles are closed before it returns.
func Run(ctx context.Context, rc RuntimeConfig) error {
	if rc.Config == nil {
		return errors.New("runtime config missing AppConfig")
	}
	cfg := rc.Config
	logger := rc.Logger
	if logger == nil {
		logger = slog.Default()
	}

	auth, err := BuildAuth(ctx, AuthDeps{
		Auth:        cfg.Auth,
		Redis:       cfg.Redis,
		RedisClient: rc.RedisClient,
		DB:          rc.DB,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	consoles, err := httpx.NewConsoleRegistry(httpx.ConsoleRegistryOptions{
		Factory:         auth.Factory,
		Resolver:        auth.Resolver,
		Logger:          logger,
		FailsafeTimeout: cfg.Reconciler.FailsafeTimeout,
		IdleTimeout:     cfg.Reconciler.ConsoleIdleTimeout,
		MaxConsoles:     cfg.Reconciler.MaxConsoles,
	})
	if err != nil {
		return fmt.Errorf("console registry: %w", err)
	}
	defer func() {
		if cerr := consoles.Close(); cerr != nil {
			logger.Error("close consoles failed", "error", cerr)
		}
	}()

	server := NewHTTPServer(HTTPServerConfig{
		HTTP:       cfg.HTTP,
		Reconciler: cfg.Reconciler,
		Consoles:   consoles,
		Ready:      readinessChecks(rc),
		Logger:     logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return consoles.Run(gctx, cfg.Reconciler.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		return ShutdownHTTPServer(ShutdownConfig{
			Server:  server,
			Timeout: cfg.HTTP.ShutdownTimeout,
			Logger:  logger,
		})
	})

	return g.Wait()
}

func readinessChecks(rc RuntimeConfig) map[string]httpx.HealthCheck {
	checks := make(map[string]httpx.HealthCheck, 2)
	if rc.DB != nil {
		checks["postgres"] = rc.DB.PingContext
	}
	if rc.RedisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return rc.RedisClient.Ping(ctx).Err()
		}
	}
	return checks
}

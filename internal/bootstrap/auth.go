package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/prayermap/admin-console/config"
	"github.com/prayermap/admin-console/internal/adapters/devauth"
	"github.com/prayermap/admin-console/internal/adapters/oidc"
	"github.com/prayermap/admin-console/internal/adapters/postgres"
	redisadapter "github.com/prayermap/admin-console/internal/adapters/redis"
	"github.com/prayermap/admin-console/internal/ports"
	"github.com/prayermap/admin-console/internal/service"
)

// AuthDeps contains what BuildAuth needs.
type AuthDeps struct {
	Auth        config.AuthConfig
	Redis       config.RedisConfig
	RedisClient redis.UniversalClient
	DB          *sql.DB
	Logger      *slog.Logger
}

// AuthComponents are the wired auth building blocks consoles are made from.
type AuthComponents struct {
	Factory  ports.AuthClientFactory
	Resolver *service.RoleResolver
}

// BuildAuth wires the session store, the optional event relay, the provider
// selected by the auth mode, and the role resolver backed by Postgres.
func BuildAuth(ctx context.Context, deps AuthDeps) (AuthComponents, error) {
	if deps.RedisClient == nil {
		return AuthComponents{}, errors.New("auth: redis client is required for session storage")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	checker, err := postgres.NewAuthorizationChecker(postgres.AuthorizationCheckerOptions{
		DB:       deps.DB,
		Function: deps.Auth.RoleFunction,
	})
	if err != nil {
		return AuthComponents{}, fmt.Errorf("auth: %w", err)
	}
	resolver := service.NewRoleResolver(service.RoleResolverOptions{Checker: checker, Logger: logger})

	store := redisadapter.NewSessionStoreWithPrefix(deps.RedisClient, deps.Redis.SessionPrefix)

	var relay ports.EventRelay
	if deps.Auth.EventRelayEnabled {
		r, relayErr := redisadapter.NewEventRelay(redisadapter.EventRelayOptions{
			Client:        deps.RedisClient,
			ChannelPrefix: deps.Redis.EventChannelPrefix,
			Logger:        logger,
		})
		if relayErr != nil {
			return AuthComponents{}, fmt.Errorf("auth: %w", relayErr)
		}
		relay = r
	}

	var factory ports.AuthClientFactory
	switch deps.Auth.Mode {
	case config.AuthModeMock:
		factory, err = buildDevAuth(deps.Auth.DevAuth, store, relay, logger)
	case config.AuthModeOIDC:
		factory, err = buildOIDC(ctx, deps.Auth.OIDC, store, relay, logger)
	default:
		err = fmt.Errorf("unsupported auth mode %q", deps.Auth.Mode)
	}
	if err != nil {
		return AuthComponents{}, fmt.Errorf("auth: %w", err)
	}

	logger.InfoContext(ctx, "auth configured",
		"mode", deps.Auth.Mode,
		"role_function", deps.Auth.RoleFunction,
		"event_relay", relay != nil,
	)
	return AuthComponents{Factory: factory, Resolver: resolver}, nil
}

func buildDevAuth(
	cfg config.DevAuthConfig,
	store ports.SessionStore,
	relay ports.EventRelay,
	logger *slog.Logger,
) (*devauth.Provider, error) {
	accounts, err := devauth.ParseAccounts(cfg.Accounts)
	if err != nil {
		return nil, fmt.Errorf("dev auth accounts: %w", err)
	}
	logger.Warn("dev auth enabled; do not use in production", "accounts", len(accounts))
	return devauth.NewProvider(devauth.Config{
		Accounts:        accounts,
		SigningKey:      []byte(cfg.SigningKey),
		SessionDuration: cfg.SessionDuration,
		Store:           store,
		Relay:           relay,
		Logger:          logger,
	})
}

func buildOIDC(
	ctx context.Context,
	cfg config.OIDCConfig,
	store ports.SessionStore,
	relay ports.EventRelay,
	logger *slog.Logger,
) (*oidc.Provider, error) {
	return oidc.NewProvider(ctx, oidc.ProviderConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scope:        cfg.Scope,
		DiscoveryURL: cfg.DiscoveryURL,
		SubjectClaim: cfg.SubjectClaim,
		EmailClaim:   cfg.EmailClaim,
		Store:        store,
		Relay:        relay,
		Logger:       logger,
	})
}

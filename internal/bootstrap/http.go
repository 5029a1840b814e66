package bootstrap

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prayermap/admin-console/config"
	httpx "github.com/prayermap/admin-console/internal/http"
)

// HTTPServerConfig contains configuration for the HTTP server.
type HTTPServerConfig struct {
	HTTP       config.HTTPConfig
	Reconciler config.ReconcilerConfig
	Consoles   *httpx.ConsoleRegistry
	Ready      map[string]httpx.HealthCheck
	Logger     *slog.Logger
}

// NewHTTPServer builds the server; the caller runs ListenAndServe.
func NewHTTPServer(cfg HTTPServerConfig) *http.Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	handler := httpx.NewRouter(httpx.RouterServices{
		Consoles: cfg.Consoles,
		Cookie: httpx.CookieOptions{
			Domain: cfg.HTTP.CookieDomain,
			Secure: cfg.HTTP.CookieSecure,
			MaxAge: int(cfg.Reconciler.ConsoleIdleTimeout / time.Second),
		},
		CSRF:             httpx.CSRFConfig{CookieDomain: cfg.HTTP.CookieDomain},
		LoginPath:        cfg.HTTP.LoginPath,
		StateWaitTimeout: cfg.Reconciler.StateWaitTimeout,
		Ready:            cfg.Ready,
		Logger:           logger,
	})

	addr := cfg.HTTP.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}

	// WriteTimeout must outlast the longest state wait.
	writeTimeout := 30 * time.Second
	if w := cfg.Reconciler.StateWaitTimeout + 5*time.Second; w > writeTimeout {
		writeTimeout = w
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Server  *http.Server
	Timeout time.Duration
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// The parent context is already cancelled when shutdown starts.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}
	return nil
}

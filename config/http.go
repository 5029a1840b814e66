package config

import (
	"strings"
	"time"
)

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":8080"`

	// CookieDomain is the domain for the console cookie.
	// Leave empty to use the request domain.
	CookieDomain string `env:"APP_COOKIE_DOMAIN" envDefault:""`

	// CookieSecure marks the console cookie Secure.
	CookieSecure bool `env:"APP_COOKIE_SECURE" envDefault:"true"`

	// LoginPath is where unauthenticated browser requests are redirected.
	LoginPath string `env:"APP_LOGIN_PATH" envDefault:"/login"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	h.LoginPath = strings.TrimSpace(h.LoginPath)
	if h.LoginPath == "" || !strings.HasPrefix(h.LoginPath, "/") {
		h.LoginPath = "/login"
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 10 * time.Second
	}
}

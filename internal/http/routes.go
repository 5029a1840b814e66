package httpx

import (
	"log/slog"
	"net/http"
	"time"
)

// DefaultGuardSettle is how long RequireAdmin waits for a loading console.
const DefaultGuardSettle = 2 * time.Second

// RouterServices holds everything the HTTP router needs.
type RouterServices struct {
	Consoles *ConsoleRegistry
	Cookie   CookieOptions
	CSRF     CSRFConfig
	// LoginPath receives unauthenticated browser requests.
	LoginPath        string
	StateWaitTimeout time.Duration
	GuardSettle      time.Duration
	// Ready holds named readiness checks for /readyz.
	Ready  map[string]HealthCheck
	Logger *slog.Logger
}

// NewRouter creates and configures a new HTTP router with browser middleware.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settle := services.GuardSettle
	if settle == 0 {
		settle = DefaultGuardSettle
	}

	mux := http.NewServeMux()
	auth := &AuthHandlers{
		Consoles:    services.Consoles,
		Cookie:      services.Cookie,
		Logger:      logger,
		WaitTimeout: services.StateWaitTimeout,
	}

	mount := MountConsole(services.Consoles, services.Cookie)
	csrf := CSRFProtection(services.CSRF)
	api := func(h http.HandlerFunc) http.Handler { return csrf(mount(h)) }
	guarded := func(h http.HandlerFunc) http.Handler {
		return csrf(mount(RequireAdmin(services.LoginPath, settle)(h)))
	}

	mux.Handle("POST /api/auth/sign-in", api(auth.SignIn))
	mux.Handle("POST /api/auth/sign-out", api(auth.SignOut))
	mux.Handle("POST /api/auth/check-role", api(auth.CheckRole))
	mux.Handle("POST /api/auth/refresh", api(auth.Refresh))
	mux.Handle("GET /api/auth/state", api(auth.State))
	mux.Handle("GET /api/admin/me", guarded(auth.Me))

	mux.Handle("GET /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /healthz", http.HandlerFunc(healthHandler))
	mux.Handle("GET /readyz", readyHandler(services.Ready))

	var h http.Handler = mux
	h = BrowserDetection()(h)
	h = Logging(logger)(h)
	h = Recover(logger)(h)
	return h
}

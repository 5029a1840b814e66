package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prayermap/admin-console/internal/service"
)

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			const defaultHTTPStatus = 200
			ww := &respWriter{ResponseWriter: w, status: defaultHTTPStatus}
			next.ServeHTTP(ww, r)
			logger.Info("http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// DefaultConsoleCookieName names the cookie that binds a browser to its console.
const DefaultConsoleCookieName = "admin_console"

// CookieOptions controls the console cookie.
type CookieOptions struct {
	Name   string
	Domain string
	Secure bool
	// MaxAge in seconds; zero makes it a session cookie.
	MaxAge int
}

func (o CookieOptions) name() string {
	if o.Name == "" {
		return DefaultConsoleCookieName
	}
	return o.Name
}

func setConsoleCookie(w http.ResponseWriter, opts CookieOptions, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     opts.name(),
		Value:    id,
		Path:     "/",
		Domain:   opts.Domain,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   opts.MaxAge,
	})
}

func writeConsoleUnavailable(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrRegistryFull) {
		w.Header().Set("Retry-After", "30")
	}
	WriteError(w, ErrorParams{
		Code:    http.StatusServiceUnavailable,
		ErrCode: "console_unavailable",
		Err:     errors.New("console unavailable"),
	})
}

// MountConsole resolves the caller's console from its cookie, mounting a new
// one (and issuing the cookie) when the cookie is missing or malformed. The
// cookie is only issued once the console is mounted.
func MountConsole(reg *ConsoleRegistry, opts CookieOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, issued := "", false
			if ck, err := r.Cookie(opts.name()); err == nil {
				if _, perr := uuid.Parse(ck.Value); perr == nil {
					id = ck.Value
				}
			}
			if id == "" {
				id, issued = uuid.NewString(), true
			}

			c, err := reg.Acquire(r.Context(), id)
			if err != nil {
				writeConsoleUnavailable(w, err)
				return
			}
			if issued {
				setConsoleCookie(w, opts, id)
			}
			next.ServeHTTP(w, r.WithContext(setConsoleInContext(r.Context(), c, issued)))
		})
	}
}

// RequireAdmin gates a handler on the console's reconciler state. Callers
// must run MountConsole first. While the state is loading it waits up to
// settle for a decision before answering 503.
func RequireAdmin(loginPath string, settle time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := ConsoleFromContext(r.Context())
			if !ok {
				WriteError(w, ErrorParams{
					Code:    http.StatusServiceUnavailable,
					ErrCode: "console_unavailable",
					Err:     errors.New("console unavailable"),
				})
				return
			}

			st := c.Reconciler.State()
			if st.Loading && settle > 0 {
				ctx, cancel := context.WithTimeout(r.Context(), settle)
				st, _ = c.Reconciler.Wait(ctx)
				cancel()
			}

			switch service.Guard(st) {
			case service.DecisionLoading:
				w.Header().Set("Retry-After", "1")
				WriteError(w, ErrorParams{
					Code:    http.StatusServiceUnavailable,
					ErrCode: "session_loading",
					Err:     errors.New("session is still loading"),
				})
			case service.DecisionRedirectLogin:
				if IsBrowserRequest(r) {
					redirectToLogin(w, r, loginPath)
					return
				}
				WriteError(w, ErrorParams{
					Code:    http.StatusUnauthorized,
					ErrCode: "authentication_required",
					Err:     errors.New("authentication required"),
				})
			default:
				next.ServeHTTP(w, r.WithContext(SetIdentityInContext(r.Context(), st.Identity)))
			}
		})
	}
}

// browserRequestKey is an unexported context key type for browser request detection.
type browserRequestKey struct{}

// BrowserDetection returns a middleware that detects browser requests vs API requests.
// It sets a context value that downstream handlers use to choose between a
// redirect and a JSON error.
func BrowserDetection() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			isBrowser := isBrowserRequest(r)
			ctx := context.WithValue(r.Context(), browserRequestKey{}, isBrowser)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IsBrowserRequest returns true if the current request is from a browser.
func IsBrowserRequest(r *http.Request) bool {
	if val := r.Context().Value(browserRequestKey{}); val != nil {
		if isBrowser, ok := val.(bool); ok {
			return isBrowser
		}
	}
	// Fallback to direct detection if middleware wasn't used
	return isBrowserRequest(r)
}

// isBrowserRequest determines if a request is from a browser based on:
// 1. Path prefix - API routes start with /api/
// 2. Accept header - browsers typically accept text/html.
func isBrowserRequest(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return false
	}

	accept := r.Header.Get("Accept")
	if accept == "" {
		// No Accept header, assume browser for non-API routes
		return true
	}

	return strings.Contains(accept, "text/html")
}

// redirectToLogin sends the browser to loginPath with the current URL as redirect_uri.
func redirectToLogin(w http.ResponseWriter, r *http.Request, loginPath string) {
	if loginPath == "" {
		loginPath = "/login"
	}
	target := loginPath + "?redirect_uri=" + url.QueryEscape(safeRedirectPath(r.URL.RequestURI()))
	http.Redirect(w, r, target, http.StatusFound)
}

// safeRedirectPath keeps redirects inside the app: anything that is not a
// plain absolute path collapses to "/".
func safeRedirectPath(candidate string) string {
	if candidate == "" {
		return "/"
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") {
		return "/"
	}
	if strings.HasPrefix(candidate, "//") || strings.HasPrefix(candidate, "/\\") {
		return "/"
	}
	return candidate
}

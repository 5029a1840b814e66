package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
	"github.com/prayermap/admin-console/internal/ports"
)

// DefaultStateWaitTimeout caps GET /api/auth/state?wait=1 when unset.
const DefaultStateWaitTimeout = 10 * time.Second

// AuthHandlers serves the console's auth API. Every handler expects
// MountConsole to have run.
type AuthHandlers struct {
	// Consoles and Cookie let SignIn move a client-supplied console id to a
	// freshly issued one.
	Consoles    *ConsoleRegistry
	Cookie      CookieOptions
	Logger      *slog.Logger
	WaitTimeout time.Duration
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type checkRoleResponse struct {
	Authorized bool            `json:"authorized"`
	Role       domainauth.Role `json:"role,omitempty"`
}

type refreshResponse struct {
	Success   bool      `json:"success"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *AuthHandlers) console(w http.ResponseWriter, r *http.Request) (*Console, bool) {
	c, ok := ConsoleFromContext(r.Context())
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusServiceUnavailable,
			ErrCode: "console_unavailable",
			Err:     errors.New("console unavailable"),
		})
	}
	return c, ok
}

// SignIn handles POST /api/auth/sign-in. Domain failures come back as a
// 200 with success=false; only malformed requests get a 4xx.
//
// A console id the client brought with it is never promoted to an admin
// session: sign-in runs on a newly issued console, which replaces the old
// one only when it succeeds.
func (h *AuthHandlers) SignIn(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	var req signInRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_request",
			Err:     errors.New("email and password are required"),
		})
		return
	}

	target := c
	if h.Consoles != nil && !consoleIssuedInRequest(r.Context()) {
		fresh, err := h.Consoles.Acquire(r.Context(), uuid.NewString())
		if err != nil {
			writeConsoleUnavailable(w, err)
			return
		}
		target = fresh
	}

	res := target.Reconciler.SignIn(r.Context(), req.Email, req.Password)
	if !res.Success {
		h.logger().InfoContext(r.Context(), "console sign-in rejected",
			"console_id", target.ID, "reason", res.Error)
	}

	if target != c {
		if res.Success {
			c.Reconciler.SignOut(r.Context())
			h.Consoles.Release(c.ID)
			setConsoleCookie(w, h.Cookie, target.ID)
			h.logger().InfoContext(r.Context(), "console id rotated on sign-in",
				"old_console_id", c.ID, "console_id", target.ID)
		} else {
			h.Consoles.Release(target.ID)
		}
	}
	WriteJSON(w, http.StatusOK, res)
}

// SignOut handles POST /api/auth/sign-out. It always succeeds.
func (h *AuthHandlers) SignOut(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	c.Reconciler.SignOut(r.Context())
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// CheckRole handles POST /api/auth/check-role.
func (h *AuthHandlers) CheckRole(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	role, authorized := c.Reconciler.CheckRole(r.Context())
	WriteJSON(w, http.StatusOK, checkRoleResponse{Authorized: authorized, Role: role})
}

// Refresh handles POST /api/auth/refresh for providers that can rotate tokens.
// The resulting TOKEN_REFRESHED event reaches the reconciler asynchronously.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}
	refresher, ok := c.Client.(ports.SessionRefresher)
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusNotImplemented,
			ErrCode: "refresh_unsupported",
			Err:     errors.New("provider does not support refresh"),
		})
		return
	}

	sess, err := refresher.Refresh(r.Context())
	switch {
	case errors.Is(err, ports.ErrNoSession):
		WriteError(w, ErrorParams{Code: http.StatusUnauthorized, ErrCode: "no_session", Err: err})
	case err != nil:
		h.logger().WarnContext(r.Context(), "session refresh failed", "console_id", c.ID, "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusBadGateway,
			ErrCode: "refresh_failed",
			Err:     errors.New("session refresh failed"),
		})
	default:
		WriteJSON(w, http.StatusOK, refreshResponse{Success: true, ExpiresAt: sess.ExpiresAt})
	}
}

// State handles GET /api/auth/state. With ?wait=1 it blocks until loading
// settles or the wait timeout passes, then reports whatever it has.
func (h *AuthHandlers) State(w http.ResponseWriter, r *http.Request) {
	c, ok := h.console(w, r)
	if !ok {
		return
	}

	st := c.Reconciler.State()
	if st.Loading && wantsWait(r) {
		timeout := h.WaitTimeout
		if timeout <= 0 {
			timeout = DefaultStateWaitTimeout
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		st, _ = c.Reconciler.Wait(ctx)
		cancel()
	}
	WriteJSON(w, http.StatusOK, st)
}

func wantsWait(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("wait")) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// Me handles GET /api/admin/me behind RequireAdmin.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "authentication_required",
			Err:     errors.New("authentication required"),
		})
		return
	}
	WriteJSON(w, http.StatusOK, id)
}

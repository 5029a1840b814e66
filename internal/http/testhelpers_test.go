package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
	authmocks "github.com/prayermap/admin-console/internal/mocks/auth"
	"github.com/prayermap/admin-console/internal/service"
)

const (
	testCSRFToken = "test-csrf-token"
	adminEmail    = "admin@prayermap.dev"
	adminSubject  = "u-admin"
	userEmail     = "user@prayermap.dev"
	userSubject   = "u-user"
)

type testEnv struct {
	factory  *authmocks.FakeClientFactory
	checker  *authmocks.StaticChecker
	consoles *ConsoleRegistry
	router   http.Handler
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	factory := &authmocks.FakeClientFactory{Accounts: map[string]authmocks.Account{
		adminEmail: {Password: "pw", Subject: adminSubject},
		userEmail:  {Password: "pw", Subject: userSubject},
	}}
	checker := authmocks.NewStaticChecker(map[string]domainauth.Role{adminSubject: domainauth.RoleAdmin})

	consoles, err := NewConsoleRegistry(ConsoleRegistryOptions{
		Factory:         factory,
		Resolver:        service.NewRoleResolver(service.RoleResolverOptions{Checker: checker, Logger: discardLogger()}),
		Logger:          discardLogger(),
		FailsafeTimeout: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = consoles.Close() })

	router := NewRouter(RouterServices{
		Consoles:         consoles,
		LoginPath:        "/login",
		StateWaitTimeout: 50 * time.Millisecond,
		GuardSettle:      -1,
		Logger:           discardLogger(),
	})
	return &testEnv{factory: factory, checker: checker, consoles: consoles, router: router}
}

// do sends a request carrying the console cookie (when set) and a valid CSRF pair.
func (e *testEnv) do(t *testing.T, method, path, consoleID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: DefaultCSRFCookieName, Value: testCSRFToken})
	req.Header.Set(DefaultCSRFHeaderName, testCSRFToken)
	if consoleID != "" {
		req.AddCookie(&http.Cookie{Name: DefaultConsoleCookieName, Value: consoleID})
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func consoleCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == DefaultConsoleCookieName {
			return c
		}
	}
	return nil
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

package httpx

import (
	"context"

	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
)

// identityKey and consoleKey are unexported context key types to avoid
// collisions across packages.
type identityKey struct{}

type consoleKey struct{}

type consoleIssuedKey struct{}

// SetIdentityInContext returns a child context that carries the given identity.
// If identity is nil, the original ctx is returned unchanged.
func SetIdentityInContext(ctx context.Context, identity *domainauth.Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the authorized identity placed by RequireAdmin.
func IdentityFromContext(ctx context.Context) (*domainauth.Identity, bool) {
	if id, ok := ctx.Value(identityKey{}).(*domainauth.Identity); ok && id != nil {
		return id, true
	}
	return nil, false
}

// setConsoleInContext records c and whether its id was issued by this request.
func setConsoleInContext(ctx context.Context, c *Console, issued bool) context.Context {
	ctx = context.WithValue(ctx, consoleKey{}, c)
	return context.WithValue(ctx, consoleIssuedKey{}, issued)
}

// consoleIssuedInRequest reports whether MountConsole minted the console id
// while serving this request, as opposed to reading it from the client.
func consoleIssuedInRequest(ctx context.Context) bool {
	issued, _ := ctx.Value(consoleIssuedKey{}).(bool)
	return issued
}

// ConsoleFromContext returns the console resolved for the current request.
func ConsoleFromContext(ctx context.Context) (*Console, bool) {
	c, ok := ctx.Value(consoleKey{}).(*Console)
	return c, ok && c != nil
}

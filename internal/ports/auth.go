package ports

// Package ports defines interfaces (hexagonal ports) for auth-related behavior.
// Implementations live in internal/adapters; orchestration in internal/service.

import (
	"context"
	"errors"

	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
)

// ErrInvalidCredentials is returned by AuthClient.SignIn when the provider
// rejects the email/password pair.
var ErrInvalidCredentials = errors.New("invalid login credentials")

// ErrSessionNotFound is returned by SessionStore.Get when no session is
// stored under the key.
var ErrSessionNotFound = errors.New("session not found")

// ErrNoSession is returned by operations that need a live provider session.
var ErrNoSession = errors.New("no active session")

// Listener receives auth events from an AuthClient subscription.
type Listener func(domainauth.Event)

// AuthClient is one client's handle on the external auth provider
// (the equivalent of a single browser tab's provider client).
type AuthClient interface {
	// SignIn exchanges credentials for a session.
	SignIn(ctx context.Context, email, password string) (domainauth.Session, error)

	// SignOut ends the client's session with the provider.
	SignOut(ctx context.Context) error

	// Subscribe registers a listener for auth events and returns a function
	// that cancels the subscription. Delivery is asynchronous.
	Subscribe(listener Listener) (unsubscribe func())
}

// SessionRefresher is implemented by clients able to rotate their tokens.
type SessionRefresher interface {
	Refresh(ctx context.Context) (domainauth.Session, error)
}

// AuthClientFactory builds an AuthClient bound to a storage key under which
// the provider persists its session.
type AuthClientFactory interface {
	NewClient(storageKey string) (AuthClient, error)
}

// AuthorizationChecker asks the external authorization service whether a
// subject holds a dashboard role. An empty Role means "not authorized".
type AuthorizationChecker interface {
	CheckAuthorization(ctx context.Context, subjectID string) (domainauth.Role, error)
}

// SessionStore persists the provider session for a storage key.
type SessionStore interface {
	Save(ctx context.Context, key string, sess domainauth.Session) error
	Get(ctx context.Context, key string) (domainauth.Session, error)
	Delete(ctx context.Context, key string) error
}

// EventRelay shares auth events between service instances for the same
// storage key (multi-tab and multi-instance sync).
type EventRelay interface {
	Publish(ctx context.Context, key string, ev domainauth.Event) error
	Listen(ctx context.Context, key string, fn Listener) error
}

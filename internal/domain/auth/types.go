package auth

// Package auth contains domain-level types for admin authentication and
// session reconciliation. It is pure and free of framework/adapter concerns.

import "time"

// Role represents a dashboard authorization role returned by the
// authorization service. Keep string form for easy persistence and JSON.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

// Valid reports whether r is one of the roles that grant dashboard access.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleModerator
}

// Session is the credential bundle issued by the auth provider.
// The reconciler only ever holds it by reference and never mutates it.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Subject      string    `json:"subject"`
	Email        string    `json:"email"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// EventType tags an auth event delivered by the provider's listener.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
	EventInitialSession EventType = "INITIAL_SESSION"
	EventUserUpdated    EventType = "USER_UPDATED"
)

// Event is a single auth-state change. Session is nil when the provider
// has no session to report. Origin identifies the emitting client instance.
type Event struct {
	Type    EventType `json:"type"`
	Session *Session  `json:"session,omitempty"`
	Origin  string    `json:"origin,omitempty"`
}

// Identity is an authorized admin or moderator. ID always equals the
// subject of the Session it was resolved from.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Phase names the reconciler state machine position.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseResolving     Phase = "resolving"
	PhaseAuthorized    Phase = "authorized"
	PhaseUnauthorized  Phase = "unauthorized"
	PhaseSignedOut     Phase = "signed_out"
)

// State is a snapshot of what the reconciler currently believes.
// IsAdmin implies Identity != nil.
type State struct {
	Identity *Identity `json:"identity"`
	Session  *Session  `json:"-"`
	IsAdmin  bool      `json:"is_admin"`
	Loading  bool      `json:"loading"`
	Phase    Phase     `json:"phase"`
}

// SignInResult is the structured outcome of an explicit sign-in.
type SignInResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// User-facing sign-in failure messages.
const (
	ErrMsgNotAdmin           = "You do not have admin privileges"
	ErrMsgInvalidCredentials = "Invalid login credentials"
	ErrMsgSignInFailed       = "Sign in failed"
	ErrMsgSessionEnded       = "Session ended during sign in"
)

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuthMode represents the authentication mode for the application.
type AuthMode string

const (
	// AuthModeOIDC signs admins in against an OIDC provider.
	AuthModeOIDC AuthMode = "oidc"
	// AuthModeMock uses config-defined dev accounts (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "oidc", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: oidc, mock)", v)
	}
}

// OIDCConfig contains OIDC provider configuration.
type OIDCConfig struct {
	ClientID     string `env:"CLIENT_ID"     envDefault:"prayermap-admin"`
	ClientSecret string `env:"CLIENT_SECRET"`
	Scope        string `env:"SCOPE"         envDefault:"openid email"`
	DiscoveryURL string `env:"DISCOVERY_URL"`
	// SubjectClaim and EmailClaim are JMESPath expressions over the ID token claims.
	SubjectClaim string `env:"SUBJECT_CLAIM" envDefault:"sub"`
	EmailClaim   string `env:"EMAIL_CLAIM"   envDefault:"email"`
}

// DevAuthConfig controls mock/dev authentication.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	// Accounts is a ';'-separated list of email:password:subject entries.
	Accounts        string        `env:"ACCOUNTS"         envDefault:"admin@prayermap.dev:admin:dev-admin"`
	SigningKey      string        `env:"SIGNING_KEY"      envDefault:"dev-signing-key"`
	SessionDuration time.Duration `env:"SESSION_DURATION" envDefault:"1h"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which authentication provider to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"oidc"`

	// OIDC configuration (used when Mode=oidc).
	OIDC OIDCConfig `envPrefix:"OIDC_"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`

	// RoleFunction is the SQL function mapping a user id to a role.
	RoleFunction string `env:"AUTH_ROLE_FUNCTION" envDefault:"check_admin_status"`

	// EventRelayEnabled mirrors auth events across instances via Redis pub/sub.
	EventRelayEnabled bool `env:"AUTH_EVENT_RELAY_ENABLED" envDefault:"true"`
}

// Sanitize trims values and restores defaults for blank settings.
func (a *AuthConfig) Sanitize() {
	a.OIDC.DiscoveryURL = strings.TrimSpace(a.OIDC.DiscoveryURL)
	if a.OIDC.SubjectClaim = strings.TrimSpace(a.OIDC.SubjectClaim); a.OIDC.SubjectClaim == "" {
		a.OIDC.SubjectClaim = "sub"
	}
	if a.OIDC.EmailClaim = strings.TrimSpace(a.OIDC.EmailClaim); a.OIDC.EmailClaim == "" {
		a.OIDC.EmailClaim = "email"
	}
	if a.RoleFunction = strings.TrimSpace(a.RoleFunction); a.RoleFunction == "" {
		a.RoleFunction = "check_admin_status"
	}
	if a.DevAuth.SessionDuration <= 0 {
		a.DevAuth.SessionDuration = time.Hour
	}
}

// Validate checks that the selected mode has what it needs.
func (a *AuthConfig) Validate() error {
	switch a.Mode {
	case AuthModeOIDC:
		if a.OIDC.DiscoveryURL == "" {
			return errors.New("OIDC_DISCOVERY_URL is required when AUTH_MODE=oidc")
		}
		if a.OIDC.ClientID == "" {
			return errors.New("OIDC_CLIENT_ID is required when AUTH_MODE=oidc")
		}
	case AuthModeMock:
		if strings.TrimSpace(a.DevAuth.Accounts) == "" {
			return errors.New("DEV_AUTH_ACCOUNTS is required when AUTH_MODE=mock")
		}
		if a.DevAuth.SigningKey == "" {
			return errors.New("DEV_AUTH_SIGNING_KEY is required when AUTH_MODE=mock")
		}
	default:
		return fmt.Errorf("unsupported AUTH_MODE %q", a.Mode)
	}
	return nil
}

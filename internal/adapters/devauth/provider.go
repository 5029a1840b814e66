package devauth

// Package devauth provides a simple, config-driven auth provider for local development.

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/prayermap/admin-console/internal/adapters/eventhub"
	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
	"github.com/prayermap/admin-console/internal/ports"
)

const (
	defaultSessionDuration = time.Hour
	tokenIssuer            = "prayermap-devauth"
)

// Account is a fixed credential accepted by the dev provider.
type Account struct {
	Email    string
	Password string
	Subject  string
}

// ParseAccounts parses "email:password:subject" entries separated by ';'.
func ParseAccounts(s string) ([]Account, error) {
	var out []Account
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		// Passwords may contain ':'; email and subject may not.
		first, last := strings.Index(entry, ":"), strings.LastIndex(entry, ":")
		if first <= 0 || first == last || last == len(entry)-1 || last-first < 2 {
			return nil, fmt.Errorf("dev auth: invalid account entry %q", entry)
		}
		out = append(out, Account{
			Email:    strings.ToLower(strings.TrimSpace(entry[:first])),
			Password: entry[first+1 : last],
			Subject:  strings.TrimSpace(entry[last+1:]),
		})
	}
	return out, nil
}

// Config controls the dev auth provider behavior.
// Accounts, SigningKey and Store are required.
type Config struct {
	Accounts        []Account
	SigningKey      []byte
	SessionDuration time.Duration // default 1h when zero
	Store           ports.SessionStore
	Relay           ports.EventRelay // optional
	Logger          *slog.Logger
	Now             func() time.Time
}

// Provider implements ports.AuthClientFactory for local development.
// Sessions carry HS256-signed access tokens.
type Provider struct {
	accounts        map[string]Account
	signingKey      []byte
	sessionDuration time.Duration
	store           ports.SessionStore
	relay           ports.EventRelay
	logger          *slog.Logger
	now             func() time.Time
}

// NewProvider constructs a dev auth provider from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if len(cfg.Accounts) == 0 {
		return nil, errors.New("dev auth: at least one account is required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, errors.New("dev auth: signing key is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("dev auth: session store is required")
	}

	accounts := make(map[string]Account, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		accounts[strings.ToLower(a.Email)] = a
	}
	dur := cfg.SessionDuration
	if dur <= 0 {
		dur = defaultSessionDuration
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Provider{
		accounts:        accounts,
		signingKey:      append([]byte(nil), cfg.SigningKey...),
		sessionDuration: dur,
		store:           cfg.Store,
		relay:           cfg.Relay,
		logger:          logger,
		now:             now,
	}, nil
}

// NewClient returns a client bound to storageKey.
func (p *Provider) NewClient(storageKey string) (ports.AuthClient, error) {
	b, err := eventhub.NewBinding(eventhub.BindingOptions{
		Key:    storageKey,
		Store:  p.store,
		Relay:  p.relay,
		Logger: p.logger,
		Now:    p.now,
	})
	if err != nil {
		return nil, fmt.Errorf("dev auth: %w", err)
	}
	b.Start(context.Background())
	return &Client{provider: p, binding: b}, nil
}

type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// ParseAccessToken validates a token issued by this provider and returns
// its subject and email.
func (p *Provider) ParseAccessToken(raw string) (string, string, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return p.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return "", "", fmt.Errorf("parse access token: %w", err)
	}
	return claims.Subject, claims.Email, nil
}

func (p *Provider) authenticate(email, password string) (Account, bool) {
	acct, ok := p.accounts[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return Account{}, false
	}
	if subtle.ConstantTimeCompare([]byte(acct.Password), []byte(password)) != 1 {
		return Account{}, false
	}
	return acct, true
}

func (p *Provider) issue(subject, email string) (domainauth.Session, error) {
	now := p.now()
	exp := now.Add(p.sessionDuration)
	claims := accessClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("sign access token: %w", err)
	}
	return domainauth.Session{
		AccessToken:  signed,
		RefreshToken: uuid.NewString(),
		Subject:      subject,
		Email:        email,
		ExpiresAt:    exp,
	}, nil
}

// Client is one console's handle on the dev provider.
type Client struct {
	provider *Provider
	binding  *eventhub.Binding
}

// SignIn checks the credentials against the configured accounts.
func (c *Client) SignIn(ctx context.Context, email, password string) (domainauth.Session, error) {
	acct, ok := c.provider.authenticate(email, password)
	if !ok {
		return domainauth.Session{}, ports.ErrInvalidCredentials
	}
	sess, err := c.provider.issue(acct.Subject, acct.Email)
	if err != nil {
		return domainauth.Session{}, err
	}
	if err := c.binding.Persist(ctx, sess); err != nil {
		return domainauth.Session{}, err
	}
	c.binding.Emit(ctx, domainauth.EventSignedIn, &sess)
	return sess, nil
}

// SignOut drops the persisted session. SIGNED_OUT is emitted even when the
// store fails so listeners never keep a session the caller abandoned.
func (c *Client) SignOut(ctx context.Context) error {
	err := c.binding.Clear(ctx)
	c.binding.Emit(ctx, domainauth.EventSignedOut, nil)
	return err
}

// Refresh rotates the tokens of the persisted session.
func (c *Client) Refresh(ctx context.Context) (domainauth.Session, error) {
	cur, err := c.binding.Current(ctx)
	if err != nil {
		return domainauth.Session{}, err
	}
	sess, err := c.provider.issue(cur.Subject, cur.Email)
	if err != nil {
		return domainauth.Session{}, err
	}
	if err := c.binding.Persist(ctx, sess); err != nil {
		return domainauth.Session{}, err
	}
	c.binding.Emit(ctx, domainauth.EventTokenRefreshed, &sess)
	return sess, nil
}

// Subscribe registers fn for auth events, starting with INITIAL_SESSION.
func (c *Client) Subscribe(fn ports.Listener) func() {
	return c.binding.Subscribe(fn)
}

// Close releases the client's relay subscription.
func (c *Client) Close() error {
	return c.binding.Close()
}

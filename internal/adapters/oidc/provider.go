package oidc

// Package oidc provides an OIDC-backed auth provider for the admin console.
// Credentials are exchanged with the resource-owner password grant.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/oauth2"

	"github.com/prayermap/admin-console/internal/adapters/eventhub"
	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
	"github.com/prayermap/admin-console/internal/ports"
)

const (
	defaultSubjectClaim = "sub"
	defaultEmailClaim   = "email"
	defaultScope        = "openid email"
)

// ErrMissingSubject is returned when verified claims carry no subject.
var ErrMissingSubject = errors.New("id_token has no subject")

// Provider implements ports.AuthClientFactory using OIDC/OAuth2.
type Provider struct {
	config     *oauth2.Config
	httpClient *http.Client
	verifier   *gooidc.IDTokenVerifier

	subjectClaim string
	emailClaim   string

	store  ports.SessionStore
	relay  ports.EventRelay
	logger *slog.Logger
	now    func() time.Time
}

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	Scope        string
	DiscoveryURL string
	// SubjectClaim and EmailClaim are JMESPath expressions evaluated against
	// the verified ID token claims.
	SubjectClaim string
	EmailClaim   string
	HTTPClient   *http.Client // Optional, defaults to a 30s timeout client

	Store  ports.SessionStore
	Relay  ports.EventRelay // optional
	Logger *slog.Logger
	Now    func() time.Time
}

// DiscoveryDocument represents the OIDC discovery document.
type DiscoveryDocument struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserinfoEndpoint      string   `json:"userinfo_endpoint"`
	JwksURI               string   `json:"jwks_uri"`
	SigningAlgs           []string `json:"id_token_signing_alg_values_supported,omitempty"`
}

// NewProvider creates a new OIDC provider. It fetches the discovery document once.
func NewProvider(ctx context.Context, config ProviderConfig) (*Provider, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}
	if config.Store == nil {
		return nil, errors.New("session store is required")
	}

	subjectClaim := firstNonEmpty(strings.TrimSpace(config.SubjectClaim), defaultSubjectClaim)
	emailClaim := firstNonEmpty(strings.TrimSpace(config.EmailClaim), defaultEmailClaim)
	for _, expr := range []string{subjectClaim, emailClaim} {
		if _, err := jmespath.Compile(expr); err != nil {
			return nil, fmt.Errorf("invalid claim expression %q: %w", expr, err)
		}
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}

	scope := firstNonEmpty(strings.TrimSpace(config.Scope), defaultScope)
	return &Provider{
		config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Scopes:       strings.Fields(scope),
			Endpoint:     op.Endpoint(),
		},
		httpClient:   httpClient,
		verifier:     op.Verifier(&gooidc.Config{ClientID: config.ClientID, Now: now}),
		subjectClaim: subjectClaim,
		emailClaim:   emailClaim,
		store:        config.Store,
		relay:        config.Relay,
		logger:       logger,
		now:          now,
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
		return nil, fmt.Errorf("oidc: %w", err)
	}
	b.Start(context.Background())
	return &Client{provider: p, binding: b}, nil
}

func (p *Provider) passwordGrant(ctx context.Context, email, password string) (domainauth.Session, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := p.config.PasswordCredentialsToken(ctx, email, password)
	if err != nil {
		if isInvalidGrant(err) {
			return domainauth.Session{}, ports.ErrInvalidCredentials
		}
		return domainauth.Session{}, fmt.Errorf("password grant: %w", err)
	}
	return p.sessionFromToken(ctx, tok, nil)
}

func (p *Provider) refresh(ctx context.Context, cur domainauth.Session) (domainauth.Session, error) {
	if cur.RefreshToken == "" {
		return domainauth.Session{}, errors.New("session has no refresh token")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	tok, err := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: cur.RefreshToken}).Token()
	if err != nil {
		if isInvalidGrant(err) {
			return domainauth.Session{}, ports.ErrNoSession
		}
		return domainauth.Session{}, fmt.Errorf("refresh token: %w", err)
	}
	return p.sessionFromToken(ctx, tok, &cur)
}

// sessionFromToken builds a Session from a token response. The identity
// comes from the verified id_token; a refresh response without one keeps
// the identity of prev.
func (p *Provider) sessionFromToken(ctx context.Context, tok *oauth2.Token, prev *domainauth.Session) (domainauth.Session, error) {
	sess := domainauth.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if sess.ExpiresAt.IsZero() {
		sess.ExpiresAt = p.now().Add(time.Hour)
	}

	rawID, err := getIDTokenFromToken(tok)
	if err != nil {
		if prev == nil {
			return domainauth.Session{}, err
		}
		sess.Subject, sess.Email = prev.Subject, prev.Email
		return sess, nil
	}

	idTok, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("verify id_token: %w", err)
	}
	var claims map[string]any
	if err := idTok.Claims(&claims); err != nil {
		return domainauth.Session{}, fmt.Errorf("parse id_token claims: %w", err)
	}

	sess.Subject = searchString(p.subjectClaim, claims)
	if sess.Subject == "" {
		return domainauth.Session{}, ErrMissingSubject
	}
	sess.Email = searchString(p.emailClaim, claims)
	return sess, nil
}

// Client is one console's handle on the OIDC provider.
type Client struct {
	provider *Provider
	binding  *eventhub.Binding
}

// SignIn exchanges the credentials for tokens.
func (c *Client) SignIn(ctx context.Context, email, password string) (domainauth.Session, error) {
	sess, err := c.provider.passwordGrant(ctx, email, password)
	if err != nil {
		return domainauth.Session{}, err
	}
	if err := c.binding.Persist(ctx, sess); err != nil {
		return domainauth.Session{}, err
	}
	c.binding.Emit(ctx, domainauth.EventSignedIn, &sess)
	return sess, nil
}

// SignOut drops the persisted session and emits SIGNED_OUT.
func (c *Client) SignOut(ctx context.Context) error {
	err := c.binding.Clear(ctx)
	c.binding.Emit(ctx, domainauth.EventSignedOut, nil)
	return err
}

// Refresh redeems the refresh token of the persisted session.
func (c *Client) Refresh(ctx context.Context) (domainauth.Session, error) {
	cur, err := c.binding.Current(ctx)
	if err != nil {
		return domainauth.Session{}, err
	}
	sess, err := c.provider.refresh(ctx, *cur)
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

func isInvalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.ErrorCode == "invalid_grant" {
		return true
	}
	return re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized
}

// searchString evaluates expr against data and returns a non-empty string
// result, or "" for any other outcome.
func searchString(expr string, data any) string {
	v, err := jmespath.Search(expr, data)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// firstNonEmpty returns the first non-empty string from vals, or empty string if none.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// getIDTokenFromToken extracts the id_token from oauth2.Token.
func getIDTokenFromToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	raw := tok.Extra("id_token")
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}

package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
	"github.com/prayermap/admin-console/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.AuthClient           = (*FakeAuthClient)(nil)
	_ ports.SessionRefresher     = (*FakeAuthClient)(nil)
	_ ports.AuthClientFactory    = (*FakeClientFactory)(nil)
	_ ports.AuthorizationChecker = (*StaticChecker)(nil)
	_ ports.SessionStore         = (*MemorySessionStore)(nil)
	_ ports.EventRelay           = (*MemoryRelay)(nil)
)

// Account is a credential known to FakeAuthClient.
type Account struct {
	Password string
	Subject  string
}

// FakeAuthClient simulates a provider client. It never emits events on its
// own; tests call Emit to control exactly when the listener fires.
type FakeAuthClient struct {
	SignInFunc  func(ctx context.Context, email, password string) (domainauth.Session, error)
	SignOutFunc func(ctx context.Context) error

	// Accounts is consulted when SignInFunc is nil, keyed by email.
	Accounts map[string]Account

	mu           sync.Mutex
	listeners    map[int]ports.Listener
	nextID       int
	current      *domainauth.Session
	signInCalls  int
	signOutCalls int
	refreshCalls int
}

// NewFakeAuthClient creates a FakeAuthClient with the given accounts.
func NewFakeAuthClient(accounts map[string]Account) *FakeAuthClient {
	return &FakeAuthClient{Accounts: accounts}
}

// SessionFor builds a deterministic session for subject.
func SessionFor(subject, email string) domainauth.Session {
	return domainauth.Session{
		AccessToken:  "access-" + subject,
		RefreshToken: "refresh-" + subject,
		Subject:      subject,
		Email:        email,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func (c *FakeAuthClient) SignIn(ctx context.Context, email, password string) (domainauth.Session, error) {
	c.mu.Lock()
	c.signInCalls++
	fn := c.SignInFunc
	c.mu.Unlock()

	var (
		sess domainauth.Session
		err  error
	)
	if fn != nil {
		sess, err = fn(ctx, email, password)
	} else {
		acct, ok := c.Accounts[email]
		if !ok || acct.Password != password {
			return domainauth.Session{}, ports.ErrInvalidCredentials
		}
		sess = SessionFor(acct.Subject, email)
	}
	if err != nil {
		return domainauth.Session{}, err
	}

	c.mu.Lock()
	c.current = &sess
	c.mu.Unlock()
	return sess, nil
}

func (c *FakeAuthClient) SignOut(ctx context.Context) error {
	c.mu.Lock()
	c.signOutCalls++
	c.current = nil
	fn := c.SignOutFunc
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return nil
}

// Refresh rotates the current session's access token.
func (c *FakeAuthClient) Refresh(_ context.Context) (domainauth.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshCalls++
	if c.current == nil {
		return domainauth.Session{}, ports.ErrNoSession
	}
	next := *c.current
	next.AccessToken = fmt.Sprintf("%s-r%d", c.current.AccessToken, c.refreshCalls)
	next.ExpiresAt = time.Now().Add(time.Hour)
	c.current = &next
	return next, nil
}

func (c *FakeAuthClient) Subscribe(listener ports.Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listeners == nil {
		c.listeners = make(map[int]ports.Listener)
	}
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Emit delivers ev synchronously to every current listener.
func (c *FakeAuthClient) Emit(ev domainauth.Event) {
	c.mu.Lock()
	ls := make([]ports.Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.mu.Unlock()

	for _, l := range ls {
		l(ev)
	}
}

// Listeners returns the number of active subscriptions.
func (c *FakeAuthClient) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// SignInCalls returns how many times SignIn was called.
func (c *FakeAuthClient) SignInCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signInCalls
}

// SignOutCalls returns how many times SignOut was called.
func (c *FakeAuthClient) SignOutCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signOutCalls
}

// FakeClientFactory hands out FakeAuthClients per storage key.
type FakeClientFactory struct {
	Accounts map[string]Account
	Err      error

	mu      sync.Mutex
	clients map[string]*FakeAuthClient
}

func (f *FakeClientFactory) NewClient(storageKey string) (ports.AuthClient, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clients == nil {
		f.clients = make(map[string]*FakeAuthClient)
	}
	c := NewFakeAuthClient(f.Accounts)
	f.clients[storageKey] = c
	return c, nil
}

// Client returns the client most recently built for storageKey.
func (f *FakeClientFactory) Client(storageKey string) *FakeAuthClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[storageKey]
}

// StaticChecker answers authorization checks from a fixed table and counts calls.
type StaticChecker struct {
	Roles map[string]domainauth.Role
	Err   error
	// Gate, when set, blocks every call until it is closed or ctx is done.
	Gate chan struct{}

	mu    sync.Mutex
	calls map[string]int
}

// NewStaticChecker creates a StaticChecker with the given subject→role table.
func NewStaticChecker(roles map[string]domainauth.Role) *StaticChecker {
	return &StaticChecker{Roles: roles}
}

func (s *StaticChecker) CheckAuthorization(ctx context.Context, subjectID string) (domainauth.Role, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[subjectID]++
	gate := s.Gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	return s.Roles[subjectID], nil
}

// SetRole changes the role returned for subjectID.
func (s *StaticChecker) SetRole(subjectID string, role domainauth.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Roles == nil {
		s.Roles = make(map[string]domainauth.Role)
	}
	s.Roles[subjectID] = role
}

// Calls returns how many checks were made for subjectID.
func (s *StaticChecker) Calls(subjectID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[subjectID]
}

// MemorySessionStore is an in-memory session store for unit tests.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]domainauth.Session
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]domainauth.Session),
	}
}

func (m *MemorySessionStore) Save(_ context.Context, key string, sess domainauth.Session) error {
	if key == "" {
		return errors.New("session key cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[key] = sess
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, key string) (domainauth.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[key]
	if !ok {
		return domainauth.Session{}, ports.ErrSessionNotFound
	}
	return sess, nil
}

func (m *MemorySessionStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
	return nil
}

// MemoryRelay is an in-process ports.EventRelay shared between test clients.
type MemoryRelay struct {
	mu     sync.Mutex
	subs   map[string]map[int]ports.Listener
	nextID int
}

// NewMemoryRelay creates an empty relay.
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{subs: make(map[string]map[int]ports.Listener)}
}

func (r *MemoryRelay) Publish(_ context.Context, key string, ev domainauth.Event) error {
	r.mu.Lock()
	fns := make([]ports.Listener, 0, len(r.subs[key]))
	for _, fn := range r.subs[key] {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

// Listen registers fn until ctx is done.
func (r *MemoryRelay) Listen(ctx context.Context, key string, fn ports.Listener) error {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	if r.subs[key] == nil {
		r.subs[key] = make(map[int]ports.Listener)
	}
	r.subs[key][id] = fn
	r.mu.Unlock()

	<-ctx.Done()

	r.mu.Lock()
	delete(r.subs[key], id)
	r.mu.Unlock()
	return ctx.Err()
}

// Listeners reports how many listeners are attached to key.
func (r *MemoryRelay) Listeners(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[key])
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
	authmocks "github.com/prayermap/admin-console/internal/mocks/auth"
	"github.com/prayermap/admin-console/internal/ports"
)

type reconcilerFixture struct {
	rec     *Reconciler
	client  *authmocks.FakeAuthClient
	checker *authmocks.StaticChecker
}

func newReconcilerFixture(t *testing.T, failsafe time.Duration) *reconcilerFixture {
	t.Helper()

	client := authmocks.NewFakeAuthClient(map[string]authmocks.Account{
		"a@x.com": {Password: "pw", Subject: "u1"},
		"b@x.com": {Password: "pw", Subject: "u2"},
		"m@x.com": {Password: "pw", Subject: "u3"},
	})
	checker := authmocks.NewStaticChecker(map[string]domainauth.Role{
		"u1": domainauth.RoleAdmin,
		"u3": domainauth.RoleModerator,
	})
	rec, err := NewReconciler(ReconcilerOptions{
		Client:          client,
		Resolver:        NewRoleResolver(RoleResolverOptions{Checker: checker, Logger: discardLogger()}),
		Logger:          discardLogger(),
		FailsafeTimeout: failsafe,
	})
	require.NoError(t, err)
	rec.Start(context.Background())
	t.Cleanup(rec.Close)

	return &reconcilerFixture{rec: rec, client: client, checker: checker}
}

func sessionEvent(typ domainauth.EventType, subject, email string) domainauth.Event {
	sess := authmocks.SessionFor(subject, email)
	return domainauth.Event{Type: typ, Session: &sess}
}

func requireAuthorized(t *testing.T, st domainauth.State, subject string, role domainauth.Role) {
	t.Helper()
	require.NotNil(t, st.Identity)
	require.NotNil(t, st.Session)
	assert.True(t, st.IsAdmin)
	assert.False(t, st.Loading)
	assert.Equal(t, domainauth.PhaseAuthorized, st.Phase)
	assert.Equal(t, subject, st.Identity.ID)
	assert.Equal(t, st.Session.Subject, st.Identity.ID)
	assert.Equal(t, role, st.Identity.Role)
}

func requireCleared(t *testing.T, st domainauth.State) {
	t.Helper()
	assert.Nil(t, st.Identity)
	assert.Nil(t, st.Session)
	assert.False(t, st.IsAdmin)
	assert.False(t, st.Loading)
}

func TestNewReconciler_RequiresDependencies(t *testing.T) {
	_, err := NewReconciler(ReconcilerOptions{Resolver: NewRoleResolver(RoleResolverOptions{})})
	require.Error(t, err)

	_, err = NewReconciler(ReconcilerOptions{Client: authmocks.NewFakeAuthClient(nil)})
	require.Error(t, err)
}

func TestReconciler_InitialState(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)

	st := f.rec.State()
	assert.True(t, st.Loading)
	assert.False(t, st.IsAdmin)
	assert.Nil(t, st.Identity)
	assert.Equal(t, domainauth.PhaseUninitialized, st.Phase)
	assert.Equal(t, 1, f.client.Listeners())
}

func TestReconciler_SignIn_Admin(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)

	res := f.rec.SignIn(context.Background(), "a@x.com", "pw")

	assert.Equal(t, domainauth.SignInResult{Success: true}, res)
	requireAuthorized(t, f.rec.State(), "u1", domainauth.RoleAdmin)
	assert.Equal(t, 1, f.checker.Calls("u1"))
	assert.Equal(t, 0, f.client.SignOutCalls())
}

func TestReconciler_SignIn_NotAdminSignsOutOnce(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)

	res := f.rec.SignIn(context.Background(), "b@x.com", "pw")

	assert.False(t, res.Success)
	assert.Equal(t, "You do not have admin privileges", res.Error)
	assert.Equal(t, 1, f.client.SignOutCalls())
	st := f.rec.State()
	requireCleared(t, st)
	assert.Equal(t, domainauth.PhaseUnauthorized, st.Phase)
}

func TestReconciler_SignIn_ResolverErrorFailsClosed(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	f.checker.Err = errors.New("rpc unavailable")

	res := f.rec.SignIn(context.Background(), "a@x.com", "pw")

	assert.False(t, res.Success)
	assert.Equal(t, domainauth.ErrMsgNotAdmin, res.Error)
	assert.Equal(t, 1, f.client.SignOutCalls())
	requireCleared(t, f.rec.State())
}

func TestReconciler_SignIn_BadCredentialsLeavesStateUnchanged(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	before := f.rec.State()

	res := f.rec.SignIn(context.Background(), "a@x.com", "wrong")

	assert.False(t, res.Success)
	assert.Equal(t, domainauth.ErrMsgInvalidCredentials, res.Error)
	assert.Equal(t, before, f.rec.State())
	assert.Equal(t, 0, f.checker.Calls("u1"))
	assert.Equal(t, 0, f.client.SignOutCalls())
}

func TestReconciler_SignIn_ProviderErrorIsGeneric(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	f.client.SignInFunc = func(context.Context, string, string) (domainauth.Session, error) {
		return domainauth.Session{}, errors.New("dial tcp: connection refused")
	}

	res := f.rec.SignIn(context.Background(), "a@x.com", "pw")

	assert.False(t, res.Success)
	assert.Equal(t, domainauth.ErrMsgSignInFailed, res.Error)
}

func TestReconciler_EventAfterSignInDoesNotResolveAgain(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	require.True(t, f.rec.SignIn(context.Background(), "a@x.com", "pw").Success)

	f.client.Emit(sessionEvent(domainauth.EventSignedIn, "u1", "a@x.com"))
	f.client.Emit(sessionEvent(domainauth.EventInitialSession, "u1", "a@x.com"))

	assert.Equal(t, 1, f.checker.Calls("u1"))
	requireAuthorized(t, f.rec.State(), "u1", domainauth.RoleAdmin)
}

func TestReconciler_EchoDuringPendingSignInDoesNotResolveAgain(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	f.checker.Gate = make(chan struct{})

	results := make(chan domainauth.SignInResult, 1)
	go func() {
		results <- f.rec.SignIn(context.Background(), "a@x.com", "pw")
	}()
	require.Eventually(t, func() bool { return f.checker.Calls("u1") == 1 }, time.Second, time.Millisecond)

	// The listener fires while sign-in is still resolving the role.
	f.client.Emit(sessionEvent(domainauth.EventSignedIn, "u1", "a@x.com"))
	close(f.checker.Gate)

	res := <-results
	assert.True(t, res.Success)
	assert.Equal(t, 1, f.checker.Calls("u1"))
	requireAuthorized(t, f.rec.State(), "u1", domainauth.RoleAdmin)
}

func TestReconciler_ConcurrentSignInRejected(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	f.checker.Gate = make(chan struct{})

	results := make(chan domainauth.SignInResult, 1)
	go func() {
		results <- f.rec.SignIn(context.Background(), "a@x.com", "pw")
	}()
	require.Eventually(t, func() bool { return f.checker.Calls("u1") == 1 }, time.Second, time.Millisecond)

	second := f.rec.SignIn(context.Background(), "a@x.com", "pw")
	assert.Equal(t, ErrMsgSignInInProgress, second.Error)

	close(f.checker.Gate)
	assert.True(t, (<-results).Success)
}

func TestReconciler_SignedOutDuringPendingSignInWins(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	f.checker.Gate = make(chan struct{})

	results := make(chan domainauth.SignInResult, 1)
	go func() {
		results <- f.rec.SignIn(context.Background(), "a@x.com", "pw")
	}()
	require.Eventually(t, func() bool { return f.checker.Calls("u1") == 1 }, time.Second, time.Millisecond)

	f.client.Emit(domainauth.Event{Type: domainauth.EventSignedOut})
	close(f.checker.Gate)

	res := <-results
	assert.False(t, res.Success)
	assert.Equal(t, domainauth.ErrMsgSessionEnded, res.Error)
	requireCleared(t, f.rec.State())
}

func TestReconciler_SignedOutClearsAuthorizedState(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	require.True(t, f.rec.SignIn(context.Background(), "a@x.com", "pw").Success)

	f.client.Emit(domainauth.Event{Type: domainauth.EventSignedOut})

	st := f.rec.State()
	requireCleared(t, st)
	assert.Equal(t, domainauth.PhaseSignedOut, st.Phase)
}

func TestReconciler_SignedOutWinsOverInFlightResolution(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	f.checker.Gate = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.client.Emit(sessionEvent(domainauth.EventInitialSession, "u1", "a@x.com"))
	}()
	require.Eventually(t, func() bool { return f.checker.Calls("u1") == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, domainauth.PhaseResolving, f.rec.State().Phase)
	assert.True(t, f.rec.State().Loading)

	f.rec.HandleEvent(context.Background(), domainauth.Event{Type: domainauth.EventSignedOut})
	requireCleared(t, f.rec.State())

	close(f.checker.Gate)
	<-done
	st := f.rec.State()
	requireCleared(t, st)
	assert.Equal(t, domainauth.PhaseSignedOut, st.Phase)
}

func TestReconciler_NullSessionEventsDoNotClearAuthorizedState(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	require.True(t, f.rec.SignIn(context.Background(), "a@x.com", "pw").Success)
	before := f.rec.State()

	for _, typ := range []domainauth.EventType{
		domainauth.EventTokenRefreshed,
		domainauth.EventInitialSession,
		domainauth.EventSignedIn,
		domainauth.EventUserUpdated,
		"",
	} {
		f.client.Emit(domainauth.Event{Type: typ})
	}

	assert.Equal(t, before, f.rec.State())
	assert.Equal(t, 1, f.checker.Calls("u1"))
}

func TestReconciler_NullSessionWithoutIdentityIsSignedOut(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)

	f.client.Emit(domainauth.Event{Type: domainauth.EventInitialSession})

	st := f.rec.State()
	requireCleared(t, st)
	assert.Equal(t, domainauth.PhaseSignedOut, st.Phase)
}

func TestReconciler_FailsafeReleasesLoading(t *testing.T) {
	f := newReconcilerFixture(t, 30*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := f.rec.Wait(ctx)

	require.NoError(t, err)
	assert.False(t, st.Loading)
	assert.Nil(t, st.Identity)
	assert.False(t, st.IsAdmin)
	assert.Equal(t, domainauth.PhaseSignedOut, st.Phase)
}

func TestReconciler_FailsafeReleasesStalledResolution(t *testing.T) {
	client := authmocks.NewFakeAuthClient(nil)
	checker := authmocks.NewStaticChecker(map[string]domainauth.Role{"u1": domainauth.RoleAdmin})
	checker.Gate = make(chan struct{})
	rec, err := NewReconciler(ReconcilerOptions{
		Client:          client,
		Resolver:        NewRoleResolver(RoleResolverOptions{Checker: checker, Logger: discardLogger()}),
		Logger:          discardLogger(),
		FailsafeTimeout: 30 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(rec.Close)

	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.HandleEvent(context.Background(), sessionEvent(domainauth.EventInitialSession, "u1", "a@x.com"))
	}()
	require.Eventually(t, func() bool { return checker.Calls("u1") == 1 }, time.Second, time.Millisecond)
	rec.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := rec.Wait(ctx)

	require.NoError(t, err)
	assert.False(t, st.Loading)
	assert.Nil(t, st.Identity, "failsafe must not invent an identity")
	assert.False(t, st.IsAdmin)

	// A resolution that completes late still lands.
	close(checker.Gate)
	<-done
	requireAuthorized(t, rec.State(), "u1", domainauth.RoleAdmin)
}

func TestReconciler_FailsafeDefaultsToFiveSeconds(t *testing.T) {
	rec, err := NewReconciler(ReconcilerOptions{
		Client:   authmocks.NewFakeAuthClient(nil),
		Resolver: NewRoleResolver(RoleResolverOptions{}),
	})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, rec.failsafe)
}

func TestReconciler_CloseStopsFailsafeAndEvents(t *testing.T) {
	f := newReconcilerFixture(t, 20*time.Millisecond)

	f.rec.Close()
	assert.Equal(t, 0, f.client.Listeners())

	time.Sleep(60 * time.Millisecond)
	st := f.rec.State()
	assert.True(t, st.Loading, "timer must not fire after close")

	f.rec.HandleEvent(context.Background(), sessionEvent(domainauth.EventSignedIn, "u1", "a@x.com"))
	assert.Equal(t, 0, f.checker.Calls("u1"))

	res := f.rec.SignIn(context.Background(), "a@x.com", "pw")
	assert.False(t, res.Success)
}

func TestReconciler_StartIsIdempotent(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	f.rec.Start(context.Background())
	assert.Equal(t, 1, f.client.Listeners())
}

func TestReconciler_TokenRefreshedResolvesAgain(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	require.True(t, f.rec.SignIn(context.Background(), "a@x.com", "pw").Success)

	f.client.Emit(sessionEvent(domainauth.EventTokenRefreshed, "u1", "a@x.com"))

	assert.Equal(t, 2, f.checker.Calls("u1"))
	requireAuthorized(t, f.rec.State(), "u1", domainauth.RoleAdmin)
}

func TestReconciler_TokenRefreshedPicksUpRoleChange(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	require.True(t, f.rec.SignIn(context.Background(), "a@x.com", "pw").Success)

	f.checker.SetRole("u1", domainauth.RoleModerator)
	f.client.Emit(sessionEvent(domainauth.EventTokenRefreshed, "u1", "a@x.com"))
	requireAuthorized(t, f.rec.State(), "u1", domainauth.RoleModerator)

	f.checker.SetRole("u1", "")
	f.client.Emit(sessionEvent(domainauth.EventTokenRefreshed, "u1", "a@x.com"))
	st := f.rec.State()
	requireCleared(t, st)
	assert.Equal(t, domainauth.PhaseUnauthorized, st.Phase)
	assert.Equal(t, 3, f.checker.Calls("u1"))
}

func TestReconciler_InitialSessionResolvesOnce(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)

	f.client.Emit(sessionEvent(domainauth.EventInitialSession, "u1", "a@x.com"))
	requireAuthorized(t, f.rec.State(), "u1", domainauth.RoleAdmin)

	f.client.Emit(sessionEvent(domainauth.EventSignedIn, "u1", "a@x.com"))
	assert.Equal(t, 1, f.checker.Calls("u1"))
}

func TestReconciler_UnauthorizedSubjectResolvedOnce(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)

	f.client.Emit(sessionEvent(domainauth.EventInitialSession, "u2", "b@x.com"))
	f.client.Emit(sessionEvent(domainauth.EventSignedIn, "u2", "b@x.com"))

	st := f.rec.State()
	requireCleared(t, st)
	assert.Equal(t, domainauth.PhaseUnauthorized, st.Phase)
	assert.Equal(t, 1, f.checker.Calls("u2"))
}

func TestReconciler_DifferentSubjectReplacesIdentity(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	require.True(t, f.rec.SignIn(context.Background(), "a@x.com", "pw").Success)

	// Another tab signs in as someone else.
	f.client.Emit(sessionEvent(domainauth.EventSignedIn, "u3", "m@x.com"))

	requireAuthorized(t, f.rec.State(), "u3", domainauth.RoleModerator)
	assert.Equal(t, 1, f.checker.Calls("u3"))
}

func TestReconciler_SupersededResolutionIsDiscarded(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	f.checker.Gate = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.rec.HandleEvent(context.Background(), sessionEvent(domainauth.EventInitialSession, "u1", "a@x.com"))
	}()
	require.Eventually(t, func() bool { return f.checker.Calls("u1") == 1 }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		f.rec.HandleEvent(context.Background(), sessionEvent(domainauth.EventSignedIn, "u3", "m@x.com"))
	}()
	require.Eventually(t, func() bool { return f.checker.Calls("u3") == 1 }, time.Second, time.Millisecond)

	close(f.checker.Gate)
	wg.Wait()

	requireAuthorized(t, f.rec.State(), "u3", domainauth.RoleModerator)
}

func TestReconciler_SignOut(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	require.True(t, f.rec.SignIn(context.Background(), "a@x.com", "pw").Success)

	f.rec.SignOut(context.Background())

	st := f.rec.State()
	requireCleared(t, st)
	assert.Equal(t, domainauth.PhaseSignedOut, st.Phase)
	assert.Equal(t, 1, f.client.SignOutCalls())
}

func TestReconciler_SignOutProviderErrorStillClears(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	require.True(t, f.rec.SignIn(context.Background(), "a@x.com", "pw").Success)
	f.client.SignOutFunc = func(context.Context) error { return errors.New("network down") }

	f.rec.SignOut(context.Background())

	requireCleared(t, f.rec.State())
}

func TestReconciler_SignInAfterSignOutResolvesAgain(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	ctx := context.Background()
	require.True(t, f.rec.SignIn(ctx, "a@x.com", "pw").Success)
	f.rec.SignOut(ctx)

	require.True(t, f.rec.SignIn(ctx, "a@x.com", "pw").Success)
	f.client.Emit(sessionEvent(domainauth.EventSignedIn, "u1", "a@x.com"))

	assert.Equal(t, 2, f.checker.Calls("u1"))
	requireAuthorized(t, f.rec.State(), "u1", domainauth.RoleAdmin)
}

func TestReconciler_CheckRole(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	ctx := context.Background()

	role, ok := f.rec.CheckRole(ctx)
	assert.False(t, ok)
	assert.Empty(t, role)
	assert.Equal(t, 0, f.checker.Calls("u1"))

	require.True(t, f.rec.SignIn(ctx, "a@x.com", "pw").Success)
	f.checker.SetRole("u1", domainauth.RoleModerator)

	role, ok = f.rec.CheckRole(ctx)
	assert.True(t, ok)
	assert.Equal(t, domainauth.RoleModerator, role)
	requireAuthorized(t, f.rec.State(), "u1", domainauth.RoleModerator)

	f.checker.SetRole("u1", "")
	_, ok = f.rec.CheckRole(ctx)
	assert.False(t, ok)
	st := f.rec.State()
	requireCleared(t, st)
	assert.Equal(t, domainauth.PhaseUnauthorized, st.Phase)
}

func TestReconciler_WaitHonoursContext(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	st, err := f.rec.Wait(ctx)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, st.Loading)
}

func TestReconciler_IsAdminImpliesIdentityUnderConcurrency(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	ctx := context.Background()

	stop := make(chan struct{})
	var violations int
	var mu sync.Mutex
	var watcher sync.WaitGroup
	watcher.Add(1)
	go func() {
		defer watcher.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			st := f.rec.State()
			if st.IsAdmin && (st.Identity == nil || st.Session == nil || st.Identity.ID != st.Session.Subject) {
				mu.Lock()
				violations++
				mu.Unlock()
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			f.rec.SignIn(ctx, "a@x.com", "pw")
		}()
		go func() {
			defer wg.Done()
			f.rec.HandleEvent(ctx, sessionEvent(domainauth.EventSignedIn, "u3", "m@x.com"))
		}()
		go func() {
			defer wg.Done()
			f.rec.HandleEvent(ctx, domainauth.Event{Type: domainauth.EventSignedOut})
		}()
	}
	wg.Wait()
	close(stop)
	watcher.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, violations)
}

// gatedResolver answers from a role table and can hold individual subjects
// until they are released.
type gatedResolver struct {
	roles map[string]domainauth.Role

	mu    sync.Mutex
	gates map[string]chan struct{}
	calls map[string]int
}

func newGatedResolver(roles map[string]domainauth.Role) *gatedResolver {
	return &gatedResolver{roles: roles, gates: make(map[string]chan struct{}), calls: make(map[string]int)}
}

func (g *gatedResolver) hold(subject string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gates[subject] = make(chan struct{})
}

func (g *gatedResolver) release(subject string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ch, ok := g.gates[subject]; ok {
		close(ch)
		delete(g.gates, subject)
	}
}

func (g *gatedResolver) Calls(subject string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[subject]
}

func (g *gatedResolver) Resolve(ctx context.Context, subject string) (domainauth.Role, bool) {
	g.mu.Lock()
	g.calls[subject]++
	gate := g.gates[subject]
	g.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", false
		}
	}
	role, ok := g.roles[subject]
	return role, ok
}

func TestReconciler_SupersededEventResolutionDoesNotSwallowLaterEvents(t *testing.T) {
	client := authmocks.NewFakeAuthClient(map[string]authmocks.Account{
		"a@x.com": {Password: "pw", Subject: "u1"},
	})
	resolver := newGatedResolver(map[string]domainauth.Role{
		"u1": domainauth.RoleAdmin,
		"u3": domainauth.RoleModerator,
	})
	resolver.hold("u3")
	rec, err := NewReconciler(ReconcilerOptions{Client: client, Resolver: resolver, Logger: discardLogger(), FailsafeTimeout: time.Minute})
	require.NoError(t, err)
	rec.Start(context.Background())
	t.Cleanup(rec.Close)

	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.HandleEvent(context.Background(), sessionEvent(domainauth.EventInitialSession, "u3", "m@x.com"))
	}()
	require.Eventually(t, func() bool { return resolver.Calls("u3") == 1 }, time.Second, time.Millisecond)

	require.True(t, rec.SignIn(context.Background(), "a@x.com", "pw").Success)
	resolver.release("u3")
	<-done
	requireAuthorized(t, rec.State(), "u1", domainauth.RoleAdmin)

	rec.HandleEvent(context.Background(), sessionEvent(domainauth.EventSignedIn, "u3", "m@x.com"))

	assert.Equal(t, 2, resolver.Calls("u3"))
	requireAuthorized(t, rec.State(), "u3", domainauth.RoleModerator)
}

func TestReconciler_RejectedSignInSignsOutAfterCallerCancels(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	f.checker.Gate = make(chan struct{})
	defer close(f.checker.Gate)

	var (
		mu          sync.Mutex
		signOutErr  error
		hasDeadline bool
	)
	f.client.SignOutFunc = func(ctx context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		signOutErr = ctx.Err()
		_, hasDeadline = ctx.Deadline()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan domainauth.SignInResult, 1)
	go func() {
		results <- f.rec.SignIn(ctx, "a@x.com", "pw")
	}()
	require.Eventually(t, func() bool { return f.checker.Calls("u1") == 1 }, time.Second, time.Millisecond)
	cancel()

	res := <-results
	assert.Equal(t, domainauth.ErrMsgNotAdmin, res.Error)
	assert.Equal(t, 1, f.client.SignOutCalls())
	mu.Lock()
	defer mu.Unlock()
	require.NoError(t, signOutErr, "teardown must not inherit the caller's cancellation")
	assert.True(t, hasDeadline)
}

func TestReconciler_EventsDuringFailedSignInAreReplayed(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	f.client.SignInFunc = func(context.Context, string, string) (domainauth.Session, error) {
		f.client.Emit(sessionEvent(domainauth.EventInitialSession, "u1", "a@x.com"))
		return domainauth.Session{}, ports.ErrInvalidCredentials
	}

	res := f.rec.SignIn(context.Background(), "a@x.com", "wrong")

	assert.Equal(t, domainauth.ErrMsgInvalidCredentials, res.Error)
	assert.Equal(t, 1, f.checker.Calls("u1"))
	requireAuthorized(t, f.rec.State(), "u1", domainauth.RoleAdmin)
}

func TestReconciler_NullInitialSessionDuringFailedSignInSettles(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	f.client.SignInFunc = func(context.Context, string, string) (domainauth.Session, error) {
		f.client.Emit(domainauth.Event{Type: domainauth.EventInitialSession})
		return domainauth.Session{}, ports.ErrInvalidCredentials
	}

	f.rec.SignIn(context.Background(), "a@x.com", "wrong")

	st := f.rec.State()
	requireCleared(t, st)
	assert.Equal(t, domainauth.PhaseSignedOut, st.Phase)
}

func TestReconciler_EventsSupersededBySignInAreDropped(t *testing.T) {
	f := newReconcilerFixture(t, time.Minute)
	f.client.SignInFunc = func(context.Context, string, string) (domainauth.Session, error) {
		f.client.Emit(sessionEvent(domainauth.EventInitialSession, "u3", "m@x.com"))
		return authmocks.SessionFor("u1", "a@x.com"), nil
	}

	require.True(t, f.rec.SignIn(context.Background(), "a@x.com", "pw").Success)

	assert.Equal(t, 0, f.checker.Calls("u3"))
	assert.Equal(t, 1, f.checker.Calls("u1"))
	requireAuthorized(t, f.rec.State(), "u1", domainauth.RoleAdmin)
}

package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
	"github.com/prayermap/admin-console/internal/ports"
)

// DefaultFailsafeTimeout bounds how long a reconciler may report Loading
// after Start before it is forced to false.
const DefaultFailsafeTimeout = 5 * time.Second

// signOutTeardownTimeout bounds the provider sign-out of a rejected subject.
// It runs detached from the caller so a dropped request cannot skip it.
const signOutTeardownTimeout = 5 * time.Second

// ErrMsgSignInInProgress is returned when SignIn is called while another
// sign-in on the same reconciler has not finished.
const ErrMsgSignInInProgress = "Sign in already in progress"

// ReconcilerOptions groups dependencies for Reconciler.
type ReconcilerOptions struct {
	Client          ports.AuthClient
	Resolver        RoleSource
	Logger          *slog.Logger
	FailsafeTimeout time.Duration // DefaultFailsafeTimeout when zero
}

// Reconciler decides whether the person signed in through an AuthClient is
// an authorized admin, keeping that decision consistent between explicit
// sign-in/sign-out calls and the client's asynchronous event stream.
//
// The sign-in path records the subject it resolved before it returns, and
// the event handler reads that marker under the same lock, so an event that
// merely echoes a completed sign-in never triggers a second role check.
// Events other than SIGNED_OUT that arrive while a sign-in is pending are
// queued and applied, in order, once the sign-in result is committed.
type Reconciler struct {
	client   ports.AuthClient
	resolver RoleSource
	logger   *slog.Logger
	failsafe time.Duration

	mu    sync.Mutex
	state domainauth.State

	// resolvedSubject is the subject whose role was resolved in this process
	// and is currently reflected in state.
	resolvedSubject string
	// rejectedSubject is the subject most recently found to hold no role.
	rejectedSubject string
	// resolvingSubject is the subject of the event-driven resolution in flight.
	// It only counts while resolvingGen is still the current generation.
	resolvingSubject string
	resolvingGen     uint64
	signInPending    bool

	// deferred holds events received during a pending sign-in; draining is
	// set while they are being replayed so newer events queue behind them.
	deferred []deferredEvent
	draining bool

	// gen invalidates in-flight resolutions: any resolution that started
	// under an older generation is discarded when it completes.
	gen uint64
	// signOuts counts sign-outs so a pending sign-in can tell it lost.
	signOuts uint64

	started     bool
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	timer       *time.Timer
	changed     chan struct{}
}

type deferredEvent struct {
	ctx context.Context
	ev  domainauth.Event
}

// NewReconciler constructs a Reconciler in the uninitialized state.
func NewReconciler(opts ReconcilerOptions) (*Reconciler, error) {
	if opts.Client == nil {
		return nil, errors.New("reconciler: auth client is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("reconciler: role resolver is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	failsafe := opts.FailsafeTimeout
	if failsafe <= 0 {
		failsafe = DefaultFailsafeTimeout
	}

	return &Reconciler{
		client:   opts.Client,
		resolver: opts.Resolver,
		logger:   logger.With("component", "reconciler"),
		failsafe: failsafe,
		state: domainauth.State{
			Loading: true,
			Phase:   domainauth.PhaseUninitialized,
		},
		changed: make(chan struct{}),
	}, nil
}

// Start subscribes to the client's auth events and arms the failsafe timer.
// Calling Start more than once, or after Close, has no effect.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started || r.closed {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if r.state.Loading {
		r.timer = time.AfterFunc(r.failsafe, r.failsafeExpired)
	}
	handlerCtx := r.ctx
	r.mu.Unlock()

	unsubscribe := r.client.Subscribe(func(ev domainauth.Event) {
		r.HandleEvent(handlerCtx, ev)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		unsubscribe()
		return
	}
	r.unsubscribe = unsubscribe
}

// Close unsubscribes from the event stream and stops the failsafe timer.
// In-flight resolutions are cancelled and their results discarded.
func (r *Reconciler) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.deferred = nil
	if r.timer != nil {
		r.timer.Stop()
	}
	if r.cancel != nil {
		r.cancel()
	}
	unsubscribe := r.unsubscribe
	r.unsubscribe = nil
	r.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// State returns a snapshot of the current state.
func (r *Reconciler) State() domainauth.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Wait blocks until the state is no longer loading or ctx is done, and
// returns the latest snapshot either way.
func (r *Reconciler) Wait(ctx context.Context) (domainauth.State, error) {
	for {
		r.mu.Lock()
		st, ch := r.state, r.changed
		r.mu.Unlock()

		if !st.Loading {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// SignIn exchanges credentials with the provider and resolves the subject's
// role. A subject without a role is signed back out before SignIn returns.
func (r *Reconciler) SignIn(ctx context.Context, email, password string) domainauth.SignInResult {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domainauth.SignInResult{Error: domainauth.ErrMsgSignInFailed}
	}
	if r.signInPending {
		r.mu.Unlock()
		return domainauth.SignInResult{Error: ErrMsgSignInInProgress}
	}
	r.signInPending = true
	signOuts := r.signOuts
	r.mu.Unlock()

	sess, err := r.client.SignIn(ctx, email, password)
	if err != nil {
		r.logger.WarnContext(ctx, "sign in failed", "email", email, "error", err)
		r.finishSignIn()
		if errors.Is(err, ports.ErrInvalidCredentials) {
			return domainauth.SignInResult{Error: domainauth.ErrMsgInvalidCredentials}
		}
		return domainauth.SignInResult{Error: domainauth.ErrMsgSignInFailed}
	}

	// The provider now holds sess; anything queued so far describes the
	// session it replaced.
	r.mu.Lock()
	r.deferred = nil
	r.mu.Unlock()

	role, ok := r.resolver.Resolve(ctx, sess.Subject)
	if !ok {
		r.logger.InfoContext(ctx, "sign in rejected: subject is not an admin", "subject", sess.Subject)
		r.teardown(ctx, sess.Subject)

		r.mu.Lock()
		r.gen++
		r.resolvingSubject = ""
		r.commitLocked(&sess, "", false)
		r.mu.Unlock()
		r.finishSignIn()
		return domainauth.SignInResult{Error: domainauth.ErrMsgNotAdmin}
	}

	r.mu.Lock()
	if r.closed || r.signOuts != signOuts {
		r.mu.Unlock()
		r.logger.InfoContext(ctx, "session ended while sign in was resolving", "subject", sess.Subject)
		r.finishSignIn()
		return domainauth.SignInResult{Error: domainauth.ErrMsgSessionEnded}
	}
	r.gen++
	r.commitLocked(&sess, role, true)
	r.mu.Unlock()
	r.finishSignIn()

	r.logger.InfoContext(ctx, "signed in", "subject", sess.Subject, "role", role)
	return domainauth.SignInResult{Success: true}
}

// teardown signs a rejected subject out of the provider. It must complete
// even when the request that triggered it has gone away.
func (r *Reconciler) teardown(ctx context.Context, subject string) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), signOutTeardownTimeout)
	defer cancel()
	if err := r.client.SignOut(tctx); err != nil {
		r.logger.WarnContext(ctx, "sign out of unauthorized subject failed", "subject", subject, "error", err)
	}
}

// finishSignIn clears the pending marker and replays queued events.
func (r *Reconciler) finishSignIn() {
	r.mu.Lock()
	r.signInPending = false
	if r.draining || len(r.deferred) == 0 {
		r.mu.Unlock()
		return
	}
	r.draining = true
	r.mu.Unlock()

	for {
		r.mu.Lock()
		if r.closed || r.signInPending || len(r.deferred) == 0 {
			r.draining = false
			r.mu.Unlock()
			return
		}
		d := r.deferred[0]
		r.deferred = r.deferred[1:]
		r.handleLocked(d.ctx, d.ev)
	}
}

// SignOut ends the provider session and clears local state. Provider errors
// are logged; local state is cleared regardless.
func (r *Reconciler) SignOut(ctx context.Context) {
	if err := r.client.SignOut(ctx); err != nil {
		r.logger.WarnContext(ctx, "provider sign out failed; clearing local state anyway", "error", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearLocked()
}

// CheckRole re-resolves the role of the subject currently held. A negative
// answer moves the reconciler to unauthorized.
func (r *Reconciler) CheckRole(ctx context.Context) (domainauth.Role, bool) {
	r.mu.Lock()
	sess := r.state.Session
	if sess == nil || r.closed {
		r.mu.Unlock()
		return "", false
	}
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	role, ok := r.resolver.Resolve(ctx, sess.Subject)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.gen != gen {
		return role, ok
	}
	r.commitLocked(sess, role, ok)
	return role, ok
}

// HandleEvent applies one auth event. It is the subscription callback and
// may also be called directly by relays.
func (r *Reconciler) HandleEvent(ctx context.Context, ev domainauth.Event) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	if ev.Type != domainauth.EventSignedOut && (r.signInPending || r.draining) {
		r.logger.DebugContext(ctx, "deferring auth event until sign in completes", "event", ev.Type)
		r.deferred = append(r.deferred, deferredEvent{ctx: ctx, ev: ev})
		r.mu.Unlock()
		return
	}
	r.handleLocked(ctx, ev)
}

// handleLocked applies ev. It must be called with r.mu held and releases it.
func (r *Reconciler) handleLocked(ctx context.Context, ev domainauth.Event) {
	if ev.Type == domainauth.EventSignedOut {
		r.clearLocked()
		r.mu.Unlock()
		return
	}

	sess := ev.Session
	if sess == nil {
		if r.state.Identity != nil {
			// Providers report an empty session during token churn; only
			// SIGNED_OUT may end an authorized session.
			r.logger.DebugContext(ctx, "ignoring event without session", "event", ev.Type)
			r.mu.Unlock()
			return
		}
		r.resolvedSubject = ""
		r.setLocked(domainauth.State{Phase: domainauth.PhaseSignedOut})
		r.mu.Unlock()
		return
	}

	held := r.state.Identity
	refresh := ev.Type == domainauth.EventTokenRefreshed
	if !refresh && held != nil && held.ID == sess.Subject && r.resolvedSubject == sess.Subject {
		next := r.state
		next.Session = sess
		next.Loading = false
		r.setLocked(next)
		r.mu.Unlock()
		return
	}
	if !refresh && r.resolvingSubject == sess.Subject && r.resolvingGen == r.gen {
		r.mu.Unlock()
		return
	}
	if !refresh && held == nil && r.rejectedSubject == sess.Subject {
		next := r.state
		next.Loading = false
		r.setLocked(next)
		r.mu.Unlock()
		return
	}

	r.gen++
	gen := r.gen
	r.resolvingSubject = sess.Subject
	r.resolvingGen = gen
	if held == nil || held.ID != sess.Subject {
		r.resolvedSubject = ""
		r.setLocked(domainauth.State{Loading: true, Phase: domainauth.PhaseResolving})
	}
	r.mu.Unlock()

	role, ok := r.resolver.Resolve(ctx, sess.Subject)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		r.logger.DebugContext(ctx, "discarding superseded role resolution", "subject", sess.Subject, "event", ev.Type)
		return
	}
	r.resolvingSubject = ""
	if r.closed {
		return
	}
	r.commitLocked(sess, role, ok)
}

func (r *Reconciler) failsafeExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.state.Loading {
		return
	}

	r.logger.Warn("auth resolution did not finish in time; releasing loading state", "timeout", r.failsafe)
	next := r.state
	next.Loading = false
	if next.Identity == nil {
		next.Phase = domainauth.PhaseSignedOut
	}
	r.setLocked(next)
}

// commitLocked records the outcome of a resolution for sess.
func (r *Reconciler) commitLocked(sess *domainauth.Session, role domainauth.Role, ok bool) {
	if !ok {
		r.resolvedSubject = ""
		r.rejectedSubject = sess.Subject
		r.setLocked(domainauth.State{Phase: domainauth.PhaseUnauthorized})
		return
	}

	r.resolvedSubject = sess.Subject
	r.rejectedSubject = ""
	r.setLocked(domainauth.State{
		Identity: &domainauth.Identity{
			ID:    sess.Subject,
			Email: sess.Email,
			Role:  role,
		},
		Session: sess,
		IsAdmin: true,
		Phase:   domainauth.PhaseAuthorized,
	})
}

// clearLocked moves to signed out and invalidates anything in flight.
func (r *Reconciler) clearLocked() {
	r.gen++
	r.signOuts++
	r.resolvedSubject = ""
	r.rejectedSubject = ""
	r.resolvingSubject = ""
	r.deferred = nil
	r.setLocked(domainauth.State{Phase: domainauth.PhaseSignedOut})
}

func (r *Reconciler) setLocked(next domainauth.State) {
	r.state = next
	if !next.Loading && r.timer != nil {
		r.timer.Stop()
	}
	close(r.changed)
	r.changed = make(chan struct{})
}

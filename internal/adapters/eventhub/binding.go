package eventhub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
	"github.com/prayermap/admin-console/internal/ports"
)

// BindingOptions groups dependencies for a Binding.
type BindingOptions struct {
	Key    string
	Store  ports.SessionStore
	Relay  ports.EventRelay // optional
	Logger *slog.Logger
	Now    func() time.Time
}

// Binding is the client-side plumbing shared by provider adapters: it
// persists the session under a storage key, fans events out to local
// listeners and, when a relay is configured, mirrors them to other
// instances bound to the same key.
type Binding struct {
	key    string
	origin string
	hub    *Hub
	store  ports.SessionStore
	relay  ports.EventRelay
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewBinding constructs a Binding. Call Start to begin relaying.
func NewBinding(opts BindingOptions) (*Binding, error) {
	if opts.Key == "" {
		return nil, errors.New("binding: storage key is required")
	}
	if opts.Store == nil {
		return nil, errors.New("binding: session store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Binding{
		key:    opts.Key,
		origin: uuid.NewString(),
		hub:    New(),
		store:  opts.Store,
		relay:  opts.Relay,
		logger: logger,
		now:    now,
	}, nil
}

// Origin identifies this binding on events it emits.
func (b *Binding) Origin() string { return b.origin }

// Start begins injecting events relayed from other instances. It is a no-op
// without a relay or when already started.
func (b *Binding) Start(ctx context.Context) {
	if b.relay == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		err := b.relay.Listen(ctx, b.key, func(ev domainauth.Event) {
			if ev.Origin == b.origin {
				return
			}
			b.hub.Publish(ev)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			b.logger.WarnContext(ctx, "auth event relay stopped", "key", b.key, "error", err)
		}
	}()
}

// Close stops relaying and waits for the relay listener to exit.
func (b *Binding) Close() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel = nil
	b.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Subscribe registers fn and queues an INITIAL_SESSION event carrying the
// persisted session, or nil when none is stored or it has expired.
func (b *Binding) Subscribe(fn ports.Listener) func() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var initial *domainauth.Session
	sess, err := b.Current(ctx)
	switch {
	case err == nil:
		initial = sess
	case !errors.Is(err, ports.ErrNoSession):
		b.logger.WarnContext(ctx, "load persisted session failed", "key", b.key, "error", err)
	}

	return b.hub.Subscribe(fn, domainauth.Event{
		Type:    domainauth.EventInitialSession,
		Session: initial,
		Origin:  b.origin,
	})
}

// Current returns the persisted, unexpired session or ports.ErrNoSession.
func (b *Binding) Current(ctx context.Context) (*domainauth.Session, error) {
	sess, err := b.store.Get(ctx, b.key)
	if err != nil {
		if errors.Is(err, ports.ErrSessionNotFound) {
			return nil, ports.ErrNoSession
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess.Expired(b.now()) {
		return nil, ports.ErrNoSession
	}
	return &sess, nil
}

// Persist stores sess under the binding's key.
func (b *Binding) Persist(ctx context.Context, sess domainauth.Session) error {
	if err := b.store.Save(ctx, b.key, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear removes the persisted session.
func (b *Binding) Clear(ctx context.Context) error {
	if err := b.store.Delete(ctx, b.key); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Emit publishes an event locally and, best effort, to the relay.
func (b *Binding) Emit(ctx context.Context, typ domainauth.EventType, sess *domainauth.Session) {
	ev := domainauth.Event{Type: typ, Session: sess, Origin: b.origin}
	b.hub.Publish(ev)

	if b.relay == nil {
		return
	}
	if err := b.relay.Publish(ctx, b.key, ev); err != nil {
		b.logger.WarnContext(ctx, "relay auth event failed", "key", b.key, "event", typ, "error", err)
	}
}

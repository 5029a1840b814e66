package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prayermap/admin-console/internal/ports"
	"github.com/prayermap/admin-console/internal/service"
)

const (
	// DefaultConsoleIdleTimeout is used when ConsoleRegistryOptions.IdleTimeout is unset.
	DefaultConsoleIdleTimeout = 30 * time.Minute
	// DefaultMaxConsoles is used when ConsoleRegistryOptions.MaxConsoles is unset.
	DefaultMaxConsoles = 10000
)

var (
	// ErrRegistryClosed is returned by Acquire after Close.
	ErrRegistryClosed = errors.New("console registry closed")
	// ErrRegistryFull is returned by Acquire when mounting would exceed the cap.
	ErrRegistryFull = errors.New("console registry full")
)

// Console is one mounted admin console: an auth client bound to a storage
// key plus the reconciler that owns its auth state.
type Console struct {
	ID         string
	Client     ports.AuthClient
	Reconciler *service.Reconciler

	lastUsed time.Time
}

// ConsoleRegistryOptions groups dependencies for NewConsoleRegistry.
type ConsoleRegistryOptions struct {
	Factory         ports.AuthClientFactory
	Resolver        service.RoleSource
	Logger          *slog.Logger
	FailsafeTimeout time.Duration
	IdleTimeout     time.Duration
	MaxConsoles     int
	Now             func() time.Time
}

// ConsoleRegistry mounts consoles on first use and unmounts them once idle.
type ConsoleRegistry struct {
	factory     ports.AuthClientFactory
	resolver    service.RoleSource
	logger      *slog.Logger
	failsafe    time.Duration
	idle        time.Duration
	maxConsoles int
	now         func() time.Time

	mu       sync.Mutex
	consoles map[string]*Console
	closed   bool
}

// NewConsoleRegistry constructs a ConsoleRegistry.
func NewConsoleRegistry(opts ConsoleRegistryOptions) (*ConsoleRegistry, error) {
	if opts.Factory == nil {
		return nil, errors.New("auth client factory is required")
	}
	if opts.Resolver == nil {
		return nil, errors.New("role resolver is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = DefaultConsoleIdleTimeout
	}
	maxConsoles := opts.MaxConsoles
	if maxConsoles <= 0 {
		maxConsoles = DefaultMaxConsoles
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &ConsoleRegistry{
		factory:     opts.Factory,
		resolver:    opts.Resolver,
		logger:      logger.With("component", "console_registry"),
		failsafe:    opts.FailsafeTimeout,
		idle:        idle,
		maxConsoles: maxConsoles,
		now:         now,
		consoles:    make(map[string]*Console),
	}, nil
}

// Lookup returns the mounted console for id without creating one.
func (r *ConsoleRegistry) Lookup(id string) (*Console, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consoles[id]
	if ok {
		c.lastUsed = r.now()
	}
	return c, ok
}

// Release unmounts the console for id. It reports whether one was mounted.
func (r *ConsoleRegistry) Release(id string) bool {
	r.mu.Lock()
	c, ok := r.consoles[id]
	delete(r.consoles, id)
	r.mu.Unlock()

	if ok {
		r.unmount(c)
	}
	return ok
}

// Acquire returns the console for id, mounting it if needed. The id must be a
// UUID. Mounting fails with ErrRegistryFull once the cap is reached.
func (r *ConsoleRegistry) Acquire(ctx context.Context, id string) (*Console, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid console id: %w", err)
	}

	r.mu.Lock()
	if c, ok := r.consoles[id]; ok {
		c.lastUsed = r.now()
		r.mu.Unlock()
		return c, nil
	}
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if len(r.consoles) >= r.maxConsoles {
		r.mu.Unlock()
		r.logger.Warn("console cap reached", "max", r.maxConsoles)
		return nil, ErrRegistryFull
	}
	r.mu.Unlock()

	c, err := r.mount(ctx, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.unmount(c)
		return nil, ErrRegistryClosed
	}
	if existing, ok := r.consoles[id]; ok {
		// Lost a concurrent mount.
		existing.lastUsed = r.now()
		r.mu.Unlock()
		r.unmount(c)
		return existing, nil
	}
	if len(r.consoles) >= r.maxConsoles {
		r.mu.Unlock()
		r.unmount(c)
		return nil, ErrRegistryFull
	}
	c.lastUsed = r.now()
	r.consoles[id] = c
	r.mu.Unlock()

	r.logger.Debug("console mounted", "console_id", id)
	return c, nil
}

func (r *ConsoleRegistry) mount(ctx context.Context, id string) (*Console, error) {
	client, err := r.factory.NewClient(id)
	if err != nil {
		return nil, fmt.Errorf("new auth client: %w", err)
	}
	rec, err := service.NewReconciler(service.ReconcilerOptions{
		Client:          client,
		Resolver:        r.resolver,
		Logger:          r.logger,
		FailsafeTimeout: r.failsafe,
	})
	if err != nil {
		closeClient(client)
		return nil, fmt.Errorf("new reconciler: %w", err)
	}
	rec.Start(ctx)
	return &Console{ID: id, Client: client, Reconciler: rec}, nil
}

func (r *ConsoleRegistry) unmount(c *Console) {
	c.Reconciler.Close()
	closeClient(c.Client)
}

func closeClient(client ports.AuthClient) {
	if cl, ok := client.(io.Closer); ok {
		_ = cl.Close()
	}
}

// Len returns the number of mounted consoles.
func (r *ConsoleRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.consoles)
}

// Sweep unmounts consoles idle for longer than the idle timeout and returns
// how many were removed.
func (r *ConsoleRegistry) Sweep() int {
	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	var stale []*Console
	for id, c := range r.consoles {
		if c.lastUsed.Before(cutoff) {
			stale = append(stale, c)
			delete(r.consoles, id)
		}
	}
	r.mu.Unlock()

	for _, c := range stale {
		r.unmount(c)
		r.logger.Debug("console unmounted", "console_id", c.ID)
	}
	return len(stale)
}

// Run sweeps idle consoles every interval until ctx is done.
func (r *ConsoleRegistry) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Info("swept idle consoles", "count", n)
			}
		}
	}
}

// Close unmounts every console. Acquire fails afterwards.
func (r *ConsoleRegistry) Close() error {
	r.mu.Lock()
	r.closed = true
	all := make([]*Console, 0, len(r.consoles))
	for _, c := range r.consoles {
		all = append(all, c)
	}
	r.consoles = make(map[string]*Console)
	r.mu.Unlock()

	for _, c := range all {
		r.unmount(c)
	}
	return nil
}

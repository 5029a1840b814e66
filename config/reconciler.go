package config

import "time"

const (
	defaultFailsafeTimeout    = 5 * time.Second
	defaultConsoleIdleTimeout = 30 * time.Minute
	defaultSweepInterval      = time.Minute
	defaultStateWaitTimeout   = 10 * time.Second
	defaultMaxConsoles        = 10000
)

// ReconcilerConfig controls session reconciliation and console lifetime.
type ReconcilerConfig struct {
	// FailsafeTimeout forces Loading off if no auth event settles the session.
	FailsafeTimeout time.Duration `env:"RECONCILER_FAILSAFE_TIMEOUT" envDefault:"5s"`

	// ConsoleIdleTimeout closes consoles that have not been used for this long.
	ConsoleIdleTimeout time.Duration `env:"CONSOLE_IDLE_TIMEOUT" envDefault:"30m"`

	// SweepInterval is how often idle consoles are checked.
	SweepInterval time.Duration `env:"CONSOLE_SWEEP_INTERVAL" envDefault:"1m"`

	// StateWaitTimeout caps GET /api/auth/state?wait=1.
	StateWaitTimeout time.Duration `env:"STATE_WAIT_TIMEOUT" envDefault:"10s"`

	// MaxConsoles caps mounted consoles per instance; new browsers get 503 beyond it.
	MaxConsoles int `env:"CONSOLE_MAX" envDefault:"10000"`
}

// Sanitize restores defaults for non-positive durations and keeps the
// sweep interval no longer than the idle timeout.
func (r *ReconcilerConfig) Sanitize() {
	if r.FailsafeTimeout <= 0 {
		r.FailsafeTimeout = defaultFailsafeTimeout
	}
	if r.ConsoleIdleTimeout <= 0 {
		r.ConsoleIdleTimeout = defaultConsoleIdleTimeout
	}
	if r.SweepInterval <= 0 {
		r.SweepInterval = defaultSweepInterval
	}
	if r.SweepInterval > r.ConsoleIdleTimeout {
		r.SweepInterval = r.ConsoleIdleTimeout
	}
	if r.StateWaitTimeout <= 0 {
		r.StateWaitTimeout = defaultStateWaitTimeout
	}
	if r.MaxConsoles <= 0 {
		r.MaxConsoles = defaultMaxConsoles
	}
}

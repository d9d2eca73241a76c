package breaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrOpen is returned, without running the call, while the breaker is OPEN.
	ErrOpen = errors.New("circuit breaker open")
	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("invalid circuit breaker configuration")
)

// Config is set per dependency name.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	// MonitoringWindow resets the failure count when the previous failure is older than
	// the window. Zero counts consecutive failures only.
	MonitoringWindow time.Duration
	// CallTimeout bounds each guarded call so a hung dependency is counted as a failure.
	CallTimeout time.Duration
}

// probeLimit caps concurrent HALF_OPEN calls at the number of successes needed to close.
func (c Config) probeLimit() int64 {
	return int64(max(c.SuccessThreshold, 1))
}

// DefaultConfig returns thresholds suited to a Redis primary.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		MonitoringWindow: time.Minute,
		CallTimeout:      2 * time.Second,
	}
}

// Validate checks thresholds and durations.
func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return fmt.Errorf("%w: failure threshold must be >= 1", ErrInvalidConfig)
	}
	if c.SuccessThreshold < 1 {
		return fmt.Errorf("%w: success threshold must be >= 1", ErrInvalidConfig)
	}
	if c.OpenTimeout <= 0 {
		return fmt.Errorf("%w: open timeout must be > 0", ErrInvalidConfig)
	}
	if c.MonitoringWindow < 0 || c.CallTimeout < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return nil
}

// StateChangeFunc observes transitions.
type StateChangeFunc func(name string, from, to State)

// Breaker guards calls to one named dependency.
type Breaker struct {
	name     string
	cfg      Config
	store    StateStore
	now      func() time.Time
	onChange StateChangeFunc
	logger   *slog.Logger
}

// Option customizes a Breaker.
type Option func(*Breaker)

// WithStore sets the state store. The default is a private MemoryStore.
func WithStore(store StateStore) Option {
	return func(b *Breaker) { b.store = store }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithStateChange registers a transition observer.
func WithStateChange(fn StateChangeFunc) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// WithLogger sets the logger used for state-store problems.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// New builds a Breaker for name.
func New(name string, cfg Config, opts ...Option) (*Breaker, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Breaker{name: name, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	if b.store == nil {
		b.store = NewMemoryStore()
	}
	if b.logger == nil {
		b.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return b, nil
}

// Name returns the dependency name.
func (b *Breaker) Name() string { return b.name }

// Snapshot returns the current record. An unreadable store reports CLOSED.
func (b *Breaker) Snapshot(ctx context.Context) Snapshot {
	s, err := b.store.Load(ctx, b.name)
	if err != nil {
		return Snapshot{State: StateClosed}
	}
	return s
}

// Reset forces the breaker back to CLOSED.
func (b *Breaker) Reset(ctx context.Context) error {
	return b.store.Reset(ctx, b.name)
}

// Execute runs fn through the breaker. When fallback is non-nil it receives the error
// (including ErrOpen) and its result replaces fn's.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error, fallback func(context.Context, error) error) error {
	var fb func(context.Context, error) (struct{}, error)
	if fallback != nil {
		fb = func(ctx context.Context, err error) (struct{}, error) {
			return struct{}{}, fallback(ctx, err)
		}
	}
	_, err := Do(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, fb)
	return err
}

// Do is the value-returning form of Execute.
func Do[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error), fallback func(context.Context, error) (T, error)) (T, error) {
	var zero T

	adm, err := b.store.Acquire(ctx, b.name, b.cfg, b.now())
	if err != nil {
		b.logger.Warn("breaker state unavailable, assuming closed", "breaker", b.name, "error", err)
		adm = Admission{Previous: StateClosed, Snapshot: Snapshot{State: StateClosed}, Admitted: true}
	}
	b.notify(adm.Previous, adm.Snapshot.State)

	if !adm.Admitted {
		openErr := fmt.Errorf("%w: %s", ErrOpen, b.name)
		if fallback != nil {
			return fallback(ctx, openErr)
		}
		return zero, openErr
	}

	callCtx := ctx
	if b.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.CallTimeout)
		defer cancel()
	}

	v, callErr := fn(callCtx)
	switch {
	case callErr == nil:
		b.record(ctx, adm.Snapshot.State, true)
	case ctx.Err() != nil:
		// The caller gave up; that says nothing about the dependency.
	default:
		b.record(ctx, adm.Snapshot.State, false)
	}

	if callErr != nil && fallback != nil {
		return fallback(ctx, callErr)
	}
	return v, callErr
}

func (b *Breaker) record(ctx context.Context, before State, success bool) {
	// Bookkeeping must not be skipped because the call consumed the caller's deadline.
	ctx = context.WithoutCancel(ctx)
	var (
		s   Snapshot
		err error
	)
	if success {
		s, err = b.store.RecordSuccess(ctx, b.name, b.cfg, b.now())
	} else {
		s, err = b.store.RecordFailure(ctx, b.name, b.cfg, b.now())
	}
	if err != nil {
		b.logger.Warn("breaker state update failed", "breaker", b.name, "error", err)
		return
	}
	b.notify(before, s.State)
}

func (b *Breaker) notify(from, to State) {
	if from == to || b.onChange == nil {
		return
	}
	b.onChange(b.name, from, to)
}

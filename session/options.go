package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/stayAuth/breaker"
	"github.com/MrEthical07/stayAuth/internal/logger"
)

// Option configures Store and RefreshStore.
type Option func(*deps)

type deps struct {
	breaker *breaker.Breaker
	durable Durable
	logger  *slog.Logger
	warn    *logger.Sampler
	now     func() time.Time
	prefix  string

	onMirrorFailure func(op string)
}

// WithBreaker routes every primary call through b.
func WithBreaker(b *breaker.Breaker) Option {
	return func(d *deps) { d.breaker = b }
}

// WithDurable sets the relational mirror.
func WithDurable(durable Durable) Option {
	return func(d *deps) { d.durable = durable }
}

// WithLogger sets the logger. Mirror failures are sampled.
func WithLogger(l *slog.Logger) Option {
	return func(d *deps) { d.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}

// WithMirrorFailureHook is called once per failed durable write.
func WithMirrorFailureHook(fn func(op string)) Option {
	return func(d *deps) { d.onMirrorFailure = fn }
}

// WithKeyPrefix namespaces every Redis key, e.g. "stay:" gives "stay:ss:{sid}".
func WithKeyPrefix(prefix string) Option {
	return func(d *deps) { d.prefix = prefix }
}

func newDeps(opts []Option) deps {
	d := deps{now: time.Now}
	for _, opt := range opts {
		opt(&d)
	}
	d.logger = logger.OrDiscard(d.logger)
	d.warn = logger.NewSampler(d.logger, 10*time.Second, 5)
	return d
}

// primary runs fn through the breaker. fn must return nil for "not found" so a
// missing key is never counted against the dependency.
func (d *deps) primary(ctx context.Context, fn func(context.Context) error) error {
	var err error
	if d.breaker == nil {
		err = fn(ctx)
	} else {
		err = d.breaker.Execute(ctx, fn, nil)
	}
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// primaryOr is primary with a degraded path: any primary failure, ErrOpen included,
// is handed to fallback as an ErrUnavailable.
func primaryOr[T any](ctx context.Context, d *deps, fn func(context.Context) (T, error), fallback func(context.Context, error) (T, error)) (T, error) {
	degrade := func(ctx context.Context, err error) (T, error) {
		return fallback(ctx, unavailable(err))
	}
	if d.breaker == nil {
		v, err := fn(ctx)
		if err != nil {
			return degrade(ctx, err)
		}
		return v, nil
	}
	return breaker.Do(ctx, d.breaker, fn, degrade)
}

func unavailable(err error) error {
	if errors.Is(err, breaker.ErrOpen) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: redis: %v", ErrUnavailable, err)
}

// mirror performs a best-effort durable write. Failures are logged, never returned.
func (d *deps) mirror(ctx context.Context, op string, fn func(context.Context, Durable) error) {
	if d.durable == nil {
		return
	}
	if err := fn(context.WithoutCancel(ctx), d.durable); err != nil {
		d.warn.Warn("durable mirror write failed", "op", op, "error", err)
		if d.onMirrorFailure != nil {
			d.onMirrorFailure(op)
		}
	}
}

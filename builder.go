package stayAuth

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MrEthical07/stayAuth/breaker"
	"github.com/MrEthical07/stayAuth/cryptoutil"
	"github.com/MrEthical07/stayAuth/internal/audit"
	"github.com/MrEthical07/stayAuth/internal/logger"
	"github.com/MrEthical07/stayAuth/jwt"
	"github.com/MrEthical07/stayAuth/lockout"
	"github.com/MrEthical07/stayAuth/password"
	"github.com/MrEthical07/stayAuth/permission"
	"github.com/MrEthical07/stayAuth/session"
	"github.com/MrEthical07/stayAuth/token"
	"github.com/MrEthical07/stayAuth/totp"
	"github.com/redis/go-redis/v9"
)

// breakerName is the dependency name of the Redis primary.
const breakerName = "redis"

// Builder collects the engine's collaborators. Every client is injected; the engine
// owns none of their lifecycles except the audit dispatcher it creates.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	durable      session.Durable
	accounts     AccountStore
	policy       *permission.Policy
	auditSink    AuditSink
	breakerStore breaker.StateStore
	log          *slog.Logger
	now          func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDurable sets the relational session mirror used as the read fallback.
func (b *Builder) WithDurable(d session.Durable) *Builder {
	b.durable = d
	return b
}

func (b *Builder) WithAccounts(store AccountStore) *Builder {
	b.accounts = store
	return b
}

// WithPolicy sets the role and admin-level permission table used by Authorize.
func (b *Builder) WithPolicy(p *permission.Policy) *Builder {
	b.policy = p
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithBreakerStore replaces the default Redis-backed breaker state.
func (b *Builder) WithBreakerStore(store breaker.StateStore) *Builder {
	b.breakerStore = store
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.log = l
	return b
}

// WithClock overrides time.Now for every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the engine. A Builder can be used once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accounts == nil {
		return nil, errors.New("account store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.OrDiscard(b.log)
	now := b.now
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:   cfg,
		log:      log,
		warn:     logger.NewSampler(log, 10*time.Second, 5),
		now:      now,
		accounts: b.accounts,
		policy:   b.policy,
		crypto:   cryptoutil.Std,
		metrics:  NewMetrics(cfg.Metrics),
		lockout: lockout.Tracker{
			MaxAttempts:  cfg.Lockout.MaxAttempts,
			ResetWindow:  cfg.Lockout.ResetWindow,
			LockDuration: cfg.Lockout.LockDuration,
		},
	}
	if err := engine.lockout.Validate(); err != nil {
		return nil, err
	}

	sealer, err := cryptoutil.NewSealer(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, err
	}
	engine.secrets = sealer

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = audit.NewSlogSink(log)
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:         cfg.Audit.Enabled,
		BufferSize:      cfg.Audit.BufferSize,
		DropIfFull:      cfg.Audit.DropIfFull,
		DeliveryTimeout: cfg.Audit.DeliveryTimeout,
		Logger:          log,
	}, sink)

	// -------- BREAKER --------
	store := b.breakerStore
	if store == nil {
		store = breaker.NewTieredStore(breaker.NewRedisStore(b.redis, cfg.Session.RedisPrefix+"cb"), nil)
	}
	br, err := breaker.New(breakerName, breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		OpenTimeout:      cfg.Breaker.OpenTimeout,
		MonitoringWindow: cfg.Breaker.MonitoringWindow,
		CallTimeout:      cfg.Breaker.CallTimeout,
	},
		breaker.WithStore(store),
		breaker.WithClock(now),
		breaker.WithLogger(log),
		breaker.WithStateChange(engine.onBreakerStateChange),
	)
	if err != nil {
		return nil, err
	}
	engine.breaker = br

	// -------- SESSION STORE --------
	sessionOpts := []session.Option{
		session.WithBreaker(br),
		session.WithLogger(log),
		session.WithClock(now),
		session.WithKeyPrefix(cfg.Session.RedisPrefix),
		session.WithMirrorFailureHook(func(string) { engine.metrics.Inc(MetricMirrorFailure) }),
	}
	if b.durable != nil {
		sessionOpts = append(sessionOpts, session.WithDurable(b.durable))
	}
	engine.sessions, err = session.NewStore(b.redis, sealer, session.Config{
		TTL:              cfg.Session.TTL,
		AbsoluteLifetime: cfg.absoluteLifetime(),
	}, sessionOpts...)
	if err != nil {
		return nil, err
	}
	refresh, err := session.NewRefreshStore(b.redis, sessionOpts...)
	if err != nil {
		return nil, err
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	blacklist := token.NewBlacklist(b.redis, cfg.JWT.AccessTTL,
		token.WithBlacklistBreaker(br),
		token.WithBlacklistPrefix(cfg.Session.RedisPrefix),
		token.WithBlacklistClock(now),
	)
	engine.tokens, err = token.NewService(jm, refresh, blacklist)
	if err != nil {
		return nil, err
	}

	// -------- TOTP --------
	engine.totp, err = totp.New(totp.Config{
		Issuer:           cfg.TOTP.Issuer,
		Period:           cfg.TOTP.Period,
		Digits:           cfg.TOTP.Digits,
		Algorithm:        totpAlgorithm(cfg.TOTP.Algorithm),
		Window:           cfg.TOTP.Skew,
		BackupCodeCount:  cfg.TOTP.BackupCodeCount,
		BackupCodeLength: cfg.TOTP.BackupCodeLength,
	})
	if err != nil {
		return nil, err
	}

	// -------- PASSWORDS --------
	engine.passwords, err = password.NewHasher(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}

	b.built = true

	return engine, nil
}

func totpAlgorithm(name string) cryptoutil.Algorithm {
	switch strings.ToUpper(name) {
	case "SHA256":
		return cryptoutil.SHA256
	case "SHA512":
		return cryptoutil.SHA512
	default:
		return cryptoutil.SHA1
	}
}

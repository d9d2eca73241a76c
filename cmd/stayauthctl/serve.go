package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/selector"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	stayAuth "github.com/MrEthical07/stayAuth"
	"github.com/MrEthical07/stayAuth/internal/config"
	"github.com/MrEthical07/stayAuth/middleware"
	"github.com/MrEthical07/stayAuth/store/postgres"
)

const shutdownTimeout = 10 * time.Second

var serveOpts struct {
	memory       bool
	seedTenant   string
	seedIdent    string
	seedPassword string
	seedRole     string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authentication HTTP (and optional gRPC) service",
	Long: `Run the stayAuth service.

Redis holds sessions, refresh records and the blacklist. With POSTGRES_DSN set,
accounts, the durable session mirror and audit events live in Postgres. With
--memory an embedded Redis and in-memory accounts are used and signing keys are
generated when none are configured; nothing survives a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(ctx, cfg, newLogger(cfg).Logger)
	},
}

func init() {
	f := serveCmd.Flags()
	f.BoolVar(&serveOpts.memory, "memory", false, "use embedded Redis and in-memory accounts")
	f.StringVar(&serveOpts.seedTenant, "seed-tenant", "", "tenant of the seeded account")
	f.StringVar(&serveOpts.seedIdent, "seed-identifier", "", "create an account with this identifier at startup")
	f.StringVar(&serveOpts.seedPassword, "seed-password", "", "password of the seeded account")
	f.StringVar(&serveOpts.seedRole, "seed-role", "property_admin", "role of the seeded account")
	rootCmd.AddCommand(serveCmd)
}

// accountCreator is implemented by the Postgres and in-memory account stores.
type accountCreator interface {
	stayAuth.AccountStore
	CreateAccount(ctx context.Context, a stayAuth.Account) error
}

// deps holds what runServe opened and must close, in reverse order.
type deps struct {
	closers []func()
}

func (d *deps) onClose(fn func()) { d.closers = append(d.closers, fn) }

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	var d deps
	defer d.close()

	engineCfg, err := cfg.Engine()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if serveOpts.memory {
		if err := ephemeralKeys(&engineCfg, log); err != nil {
			return err
		}
	}

	rdb, err := openRedis(cfg, &d)
	if err != nil {
		return err
	}

	builder := stayAuth.New().WithConfig(engineCfg).WithRedis(rdb).WithLogger(log)
	sinks := []stayAuth.AuditSink{stayAuth.NewSlogAuditSink(log)}

	var accounts accountCreator
	switch {
	case cfg.Postgres.DSN != "":
		store, err := postgres.Open(ctx, cfg.Postgres.DSN, postgres.WithLogger(log))
		if err != nil {
			return err
		}
		d.onClose(func() { _ = store.Close() })
		if cfg.Postgres.Migrate {
			if err := store.Migrate(); err != nil {
				return err
			}
		}
		accounts = store
		builder.WithDurable(store)
		sinks = append(sinks, store)
	case serveOpts.memory:
		accounts = newMemoryAccounts()
	default:
		return errors.New("POSTGRES_DSN is required unless --memory is set")
	}
	builder.WithAccounts(accounts)

	if len(cfg.Kafka.Brokers) > 0 {
		kafka := stayAuth.NewKafkaAuditSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		d.onClose(func() { _ = kafka.Close() })
		sinks = append(sinks, kafka)
	}
	builder.WithAuditSink(stayAuth.MultiAuditSink(sinks...))

	policy, err := defaultPolicy()
	if err != nil {
		return err
	}
	engine, err := builder.WithPolicy(policy).Build()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	d.onClose(engine.Close)

	if serveOpts.seedIdent != "" {
		if err := seedAccount(ctx, engine, accounts); err != nil {
			return err
		}
		log.Info("seeded account", "tenant_id", serveOpts.seedTenant, "identifier", serveOpts.seedIdent)
	}

	return serveAll(ctx, cfg, engine, log)
}

func openRedis(cfg *config.Config, d *deps) (redis.UniversalClient, error) {
	addr := cfg.Redis.Addr
	if serveOpts.memory {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start embedded redis: %w", err)
		}
		d.onClose(mr.Close)
		addr = mr.Addr()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	d.onClose(func() { _ = client.Close() })
	return client, nil
}

// ephemeralKeys fills in missing keys for --memory runs. Tokens do not survive a
// restart.
func ephemeralKeys(cfg *stayAuth.Config, log *slog.Logger) error {
	if len(cfg.JWT.PrivateKey) == 0 && cfg.JWT.SigningMethod == "ed25519" {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return err
		}
		cfg.JWT.PrivateKey, cfg.JWT.PublicKey = priv, pub
		log.Warn("using ephemeral signing key")
	}
	if len(cfg.Security.EncryptionKey) == 0 {
		cfg.Security.EncryptionKey = make([]byte, 32)
		if _, err := rand.Read(cfg.Security.EncryptionKey); err != nil {
			return err
		}
		log.Warn("using ephemeral encryption key")
	}
	return nil
}

func seedAccount(ctx context.Context, engine *stayAuth.Engine, accounts accountCreator) error {
	if serveOpts.seedPassword == "" {
		return errors.New("--seed-password is required with --seed-identifier")
	}
	hash, err := engine.HashPassword(serveOpts.seedPassword)
	if err != nil {
		return err
	}
	level := 0
	if serveOpts.seedRole == "property_admin" {
		level = propertyAdminLevel
	}
	return accounts.CreateAccount(ctx, stayAuth.Account{
		UserID:       uuid.NewString(),
		TenantID:     serveOpts.seedTenant,
		Identifier:   strings.TrimSpace(serveOpts.seedIdent),
		PasswordHash: hash,
		Role:         serveOpts.seedRole,
		AdminLevel:   level,
	})
}

// serveAll runs the HTTP listener and, when configured, the gRPC listener until ctx
// is done or one of them fails.
func serveAll(ctx context.Context, cfg *config.Config, engine *stayAuth.Engine, log *slog.Logger) error {
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      newHandler(engine, log, cfg.HTTP.CookieSecure),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	var grpcSrv *grpc.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = newGRPCServer(engine)
		g.Go(func() error {
			log.Info("grpc listening", "addr", cfg.GRPC.Addr)
			return grpcSrv.Serve(lis)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.GracefulStop()
		}
		return httpSrv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	log.Info("stopped")
	return err
}

// newGRPCServer authenticates every call except health checks. Application services
// register on the returned server and read the identity from the context.
func newGRPCServer(engine *stayAuth.Engine) *grpc.Server {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			selector.UnaryServerInterceptor(middleware.UnaryServerInterceptor(engine), selector.MatchFunc(requiresAuth)),
		),
		grpc.ChainStreamInterceptor(
			selector.StreamServerInterceptor(middleware.StreamServerInterceptor(engine), selector.MatchFunc(requiresAuth)),
		),
	)
	grpc_health_v1.RegisterHealthServer(s, health.NewServer())
	return s
}

func requiresAuth(_ context.Context, c interceptors.CallMeta) bool {
	return !strings.HasPrefix(c.FullMethod(), "/grpc.health.v1.Health/")
}

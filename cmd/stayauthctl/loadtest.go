package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	stayAuth "github.com/MrEthical07/stayAuth"
)

var loadOpts loadtestOptions

type loadtestOptions struct {
	sessions    int
	concurrency int
	ops         int
	redisAddr   string
}

var loadtestCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Measure Authenticate and Refresh throughput",
	Long: `Seed sessions through Login, then run an authenticate phase (bearer tokens)
and a refresh phase (rotation) with concurrent workers and report latency
percentiles. Uses an embedded Redis unless --redis-addr or REDIS_ADDR is set.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if loadOpts.redisAddr == "" {
			loadOpts.redisAddr = os.Getenv("REDIS_ADDR")
		}
		return runLoadtest(cmd.Context(), os.Stdout, loadOpts)
	},
}

func init() {
	f := loadtestCmd.Flags()
	f.IntVar(&loadOpts.sessions, "sessions", 1000, "number of sessions to seed")
	f.IntVar(&loadOpts.concurrency, "concurrency", 64, "number of concurrent workers")
	f.IntVar(&loadOpts.ops, "ops", 20000, "operations per phase (authenticate + refresh)")
	f.StringVar(&loadOpts.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or an embedded redis is used")
	rootCmd.AddCommand(loadtestCmd)
}

type sessionState struct {
	mu      sync.Mutex
	access  string
	refresh string
	csrf    string
}

const (
	loadUser     = "loadtest@stay.example"
	loadPassword = "loadtest-password"
)

func runLoadtest(ctx context.Context, w io.Writer, opts loadtestOptions) error {
	if opts.sessions <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
		return errors.New("sessions, concurrency, and ops must be > 0")
	}

	addr := opts.redisAddr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("failed to start embedded redis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Fprintf(w, "using embedded redis at %s\n", addr)
	} else {
		fmt.Fprintf(w, "using redis at %s\n", addr)
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	engine, err := loadtestEngine(client)
	if err != nil {
		return err
	}
	defer engine.Close()

	states := make([]sessionState, opts.sessions)
	fmt.Fprintf(w, "seeding %d sessions...\n", opts.sessions)
	startSeed := time.Now()
	for i := range states {
		res, err := engine.Login(ctx, stayAuth.Credentials{Identifier: loadUser, Password: loadPassword},
			stayAuth.Device{IP: "127.0.0.1", UserAgent: "stayauthctl-loadtest"})
		if err != nil {
			return fmt.Errorf("seed login failed: %w", err)
		}
		states[i].access = res.Tokens.AccessToken
		states[i].refresh = res.Tokens.RefreshToken
		states[i].csrf = res.Tokens.CSRFToken
	}
	fmt.Fprintf(w, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authStats := runPhase(opts, func(r *rand.Rand) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		access := st.access
		st.mu.Unlock()
		_, err := engine.Authenticate(ctx, stayAuth.Request{BearerToken: access})
		return err
	})
	refreshStats := runPhase(opts, func(r *rand.Rand) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		pair, err := engine.Refresh(ctx, st.refresh, st.csrf)
		if err != nil {
			return err
		}
		st.access, st.refresh, st.csrf = pair.AccessToken, pair.RefreshToken, pair.CSRFToken
		return nil
	})

	fmt.Fprintln(w, "---- results ----")
	printStats(w, "authenticate", authStats)
	printStats(w, "refresh", refreshStats)
	return reportCounters(ctx, w, engine)
}

// loadtestEngine uses the cheapest allowed Argon2 parameters; the run measures the
// session path, not hashing.
func loadtestEngine(client redis.UniversalClient) (*stayAuth.Engine, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	cfg := stayAuth.DefaultConfig()
	cfg.JWT.PrivateKey, cfg.JWT.PublicKey = priv, pub
	cfg.Security.EncryptionKey = make([]byte, 32)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = false
	cfg.Metrics.Enabled = true
	cfg.MultiTenant.Enabled = false

	accounts := newMemoryAccounts()
	engine, err := stayAuth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccounts(accounts).
		Build()
	if err != nil {
		return nil, err
	}
	hash, err := engine.HashPassword(loadPassword)
	if err != nil {
		engine.Close()
		return nil, err
	}
	err = accounts.CreateAccount(context.Background(), stayAuth.Account{
		UserID:       "loadtest-user",
		Identifier:   loadUser,
		PasswordHash: hash,
		Role:         "front_desk",
	})
	if err != nil {
		engine.Close()
		return nil, err
	}
	return engine, nil
}

func runPhase(opts loadtestOptions, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, opts.ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= opts.ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(w io.Writer, name string, s phaseStats) {
	fmt.Fprintf(w, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

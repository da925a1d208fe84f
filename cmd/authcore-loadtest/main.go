// authcore-loadtest measures engine throughput for access-token
// authentication, refresh and password login against Redis (or an
// embedded miniredis) and in-memory stores.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mnemoforge/authcore"
	"github.com/mnemoforge/authcore/internal/logging"
	"github.com/mnemoforge/authcore/internal/memstore"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const loadPassword = "load-test-password"

type account struct {
	email   string
	access  string
	refresh string
}

type options struct {
	users       int
	concurrency int
	authOps     int
	refreshOps  int
	loginOps    int
	redisAddr   string
}

func main() {
	var opts options
	flag.IntVar(&opts.users, "users", 200, "number of accounts to seed")
	flag.IntVar(&opts.concurrency, "concurrency", 64, "number of concurrent workers")
	flag.IntVar(&opts.authOps, "ops", 100000, "operations for the authenticate phase")
	flag.IntVar(&opts.refreshOps, "refresh-ops", 20000, "operations for the refresh phase")
	flag.IntVar(&opts.loginOps, "login-ops", 500, "operations for the login phase (argon2 bound)")
	flag.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; falls back to REDIS_ADDR, then miniredis")
	flag.Parse()

	logger, err := logging.New(logging.Config{Level: "info", Dev: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(opts, logger); err != nil {
		logger.Error("load test failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(opts options, logger *zap.Logger) error {
	if opts.users <= 0 || opts.concurrency <= 0 || opts.authOps <= 0 {
		return errors.New("users, concurrency and ops must be > 0")
	}

	client, closeRedis, err := connectRedis(opts.redisAddr, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	cfg := authcore.DefaultConfig()
	cfg.JWT.Secret = []byte(strings.Repeat("L", 32))
	cfg.Audit.Enabled = false

	store := memstore.New()
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithIdentityStore(store).
		WithLinkStore(store).
		WithVerificationTokenStore(store).
		WithLogger(logger).
		Build()
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	defer engine.Close()

	accounts, err := seed(engine, opts.users)
	if err != nil {
		return err
	}

	pick := func(r *rand.Rand) account { return accounts[r.IntN(len(accounts))] }
	phases := []struct {
		name string
		ops  int
		op   func(i int, r *rand.Rand) error
	}{
		{"authenticate", opts.authOps, func(_ int, r *rand.Rand) error {
			_, err := engine.Authenticate(context.Background(), pick(r).access)
			return err
		}},
		{"refresh", opts.refreshOps, func(i int, r *rand.Rand) error {
			_, err := engine.Refresh(callerContext(i), pick(r).refresh)
			return err
		}},
		{"login", opts.loginOps, func(i int, r *rand.Rand) error {
			_, err := engine.Login(callerContext(i), pick(r).email, loadPassword)
			return err
		}},
	}

	for _, p := range phases {
		s := runPhase(p.ops, opts.concurrency, p.op)
		logger.Info("phase complete",
			zap.String("phase", p.name),
			zap.Int("ops", s.ops),
			zap.Int64("failures", s.failures),
			zap.Duration("total", s.total.Round(time.Millisecond)),
			zap.Float64("ops_per_sec", s.throughput()),
			zap.Duration("p50", s.quantile(0.50)),
			zap.Duration("p95", s.quantile(0.95)),
			zap.Duration("p99", s.quantile(0.99)),
		)
	}
	return nil
}

func connectRedis(addr string, logger *zap.Logger) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		logger.Info("using redis", zap.String("addr", addr))
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	logger.Info("using miniredis", zap.String("addr", mr.Addr()))
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func seed(engine *authcore.Engine, n int) ([]account, error) {
	accounts := make([]account, n)
	for i := range accounts {
		email := fmt.Sprintf("user-%d@load.test", i)
		res, err := engine.Register(callerContext(i), authcore.RegisterRequest{Email: email, Password: loadPassword})
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", email, err)
		}
		accounts[i] = account{email: email, access: res.AccessToken, refresh: res.RefreshToken}
	}
	return accounts, nil
}

// callerContext spreads operations over distinct client addresses so the
// per-address buckets do not dominate the measurement.
func callerContext(i int) context.Context {
	ip := fmt.Sprintf("10.%d.%d.%d", (i>>16)&0xff, (i>>8)&0xff, i&0xff)
	return authcore.WithClientIP(context.Background(), ip)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	sorted   []time.Duration
}

func (s phaseStats) throughput() float64 {
	if s.total <= 0 {
		return 0
	}
	return float64(s.ops) / s.total.Seconds()
}

func (s phaseStats) quantile(q float64) time.Duration {
	if len(s.sorted) == 0 {
		return 0
	}
	return s.sorted[int(q*float64(len(s.sorted)-1))]
}

// runPhase hands out operation indexes from a shared cursor. Each worker
// keeps its own latency samples; they are merged once all workers finish.
func runPhase(ops, concurrency int, op func(i int, r *rand.Rand) error) phaseStats {
	if ops <= 0 {
		return phaseStats{}
	}

	var (
		wg       sync.WaitGroup
		cursor   atomic.Int64
		failures atomic.Int64
		samples  = make([][]time.Duration, concurrency)
	)

	start := time.Now()
	for w := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(w)))
			for {
				i := int(cursor.Add(1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				if err := op(i, r); err != nil {
					failures.Add(1)
				}
				samples[w] = append(samples[w], time.Since(t0))
			}
		}()
	}
	wg.Wait()

	all := slices.Concat(samples...)
	slices.Sort(all)
	return phaseStats{
		total:    time.Since(start),
		ops:      len(all),
		failures: failures.Load(),
		sorted:   all,
	}
}

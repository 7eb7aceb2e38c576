package cli

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	mrand "math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/authcore"
)

type loadtestOptions struct {
	sessions    int
	concurrency int
	ops         int
	redisAddr   string
}

// loadSession is one seeded session. The refresh token rotates under mu.
type loadSession struct {
	userID  string
	access  string
	refresh string
	mu      sync.Mutex
}

func newLoadtestCmd(a *app) *cobra.Command {
	var opts loadtestOptions
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure issue, validate and refresh throughput against Redis",
		Long: "loadtest seeds sessions through the Engine, then runs a validate phase and a refresh " +
			"rotation phase with concurrent workers and prints latency percentiles. Without " +
			"--redis-addr it runs against an in-process miniredis.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.sessions <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
				return errors.New("sessions, concurrency and ops must be > 0")
			}
			return a.runLoadtest(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.sessions, "sessions", 10000, "number of sessions to seed")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "number of concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 50000, "operations per phase")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "redis address; empty runs an in-process miniredis")
	return cmd
}

// activeUsers reports every account as active.
type activeUsers struct{}

func (activeUsers) UserStatus(context.Context, string) (authcore.AccountStatus, error) {
	return authcore.AccountActive, nil
}

func (activeUsers) SetUserStatus(context.Context, string, authcore.AccountStatus) error {
	return nil
}

func (a *app) runLoadtest(ctx context.Context, out io.Writer, opts loadtestOptions) error {
	addr := opts.redisAddr
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Fprintf(out, "using miniredis at %s\n", addr)
	} else {
		fmt.Fprintf(out, "using redis at %s\n", addr)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		PoolSize: opts.concurrency,
	})
	defer client.Close()

	cfg := a.cfg
	if cfg.JWT.SigningMethod == "hs256" && len(cfg.JWT.PrivateKey) == 0 {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return err
		}
		cfg.JWT.PrivateKey = secret
	}
	cfg.Audit.Enabled = false

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithLogger(a.logger).
		WithUserStatusStore(activeUsers{}).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	device := authcore.DeviceInfo{DeviceType: "Desktop", Browser: "loadtest", OS: "Linux", IPAddress: "127.0.0.1"}
	states := make([]loadSession, opts.sessions)
	fmt.Fprintf(out, "seeding %d sessions...\n", opts.sessions)
	seed := time.Now()
	for i := range states {
		userID := fmt.Sprintf("u%d", i%1000)
		tokens, err := engine.IssueTokensWithSession(ctx, userID, "", "loadtest", "USER", device)
		if err != nil {
			return fmt.Errorf("seed session %d: %w", i, err)
		}
		states[i].userID = userID
		states[i].access = tokens.AccessToken
		states[i].refresh = tokens.RefreshToken
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(seed).Round(time.Millisecond))

	validate := runPhase(opts.ops, opts.concurrency, 7919, func(r *mrand.Rand, _ int) error {
		s := &states[r.Intn(len(states))]
		s.mu.Lock()
		access := s.access
		s.mu.Unlock()
		_, err := engine.ValidateAccessToken(ctx, access)
		return err
	})
	refresh := runPhase(opts.ops, opts.concurrency, 6151, func(r *mrand.Rand, _ int) error {
		s := &states[r.Intn(len(states))]
		s.mu.Lock()
		defer s.mu.Unlock()
		tokens, err := engine.RefreshTokens(ctx, s.refresh)
		if err != nil {
			return err
		}
		s.access = tokens.AccessToken
		s.refresh = tokens.RefreshToken
		return nil
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "validate", validate)
	printStats(out, "refresh", refresh)
	return nil
}

// runPhase runs op ops times spread over concurrency workers and records
// the latency of every call.
func runPhase(ops, concurrency int, seed int64, op func(r *mrand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := mrand.New(mrand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
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
		return phaseStats{total: total, failures: failures}
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

// percentile expects sorted samples.
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
	return samples[(len(samples)-1)*p/100]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
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

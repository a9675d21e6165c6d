// Command sessionkit-tabsim opens many simulated tabs on one shared Redis origin and
// measures how fast sign-in and sign-out propagate between them.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/indura/sessionkit"
	"github.com/indura/sessionkit/storage"
)

type options struct {
	tabs        int
	ops         int
	concurrency int
	redisAddr   string
	prefix      string
	timeout     time.Duration
	verbose     bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("sessionkit-tabsim", pflag.ContinueOnError)
	flagSet.IntVar(&opts.tabs, "tabs", 16, "number of simulated tabs")
	flagSet.IntVar(&opts.ops, "ops", 200, "sign-in/sign-out operations in the churn phase")
	flagSet.IntVarP(&opts.concurrency, "concurrency", "c", 4, "tabs acting concurrently during churn")
	flagSet.StringVar(&opts.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	flagSet.StringVar(&opts.prefix, "prefix", "tabsim", "redis key prefix (one prefix is one origin)")
	flagSet.DurationVar(&opts.timeout, "converge-timeout", 5*time.Second, "how long tabs may take to agree")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log controller diagnostics to stderr")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if opts.tabs < 2 || opts.ops <= 0 || opts.concurrency <= 0 {
		return errors.New("tabs must be >= 2; ops and concurrency must be > 0")
	}

	ctx := context.Background()

	addr := opts.redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Fprintf(out, "using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Fprintf(out, "using redis at %s\n", addr)
	}
	defer cleanup()

	api := newFakeAPI()
	defer api.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	tabs, err := openTabs(opts, client, api.URL(), logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, t := range tabs {
			_ = t.close()
		}
	}()

	fmt.Fprintf(out, "opened %d tabs\n", len(tabs))

	signIn, err := runPropagation(ctx, tabs, opts.timeout, true)
	if err != nil {
		return err
	}
	signOut, err := runPropagation(ctx, tabs, opts.timeout, false)
	if err != nil {
		return err
	}
	churn, err := runChurn(ctx, tabs, opts)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "sign-in propagation", signIn)
	printStats(out, "sign-out propagation", signOut)
	printStats(out, "churn sign-in latency", churn)
	return nil
}

type tab struct {
	ctl  *sessionkit.Controller
	port *storage.Redis
}

func (t *tab) close() error {
	err := t.ctl.Close()
	if cerr := t.port.Close(); err == nil {
		err = cerr
	}
	return err
}

func openTabs(opts options, client redis.UniversalClient, apiURL string, logger *slog.Logger) ([]*tab, error) {
	cfg := sessionkit.DefaultConfig()
	cfg.API.BaseURL = apiURL
	cfg.Storage.Backend = storage.BackendRedis
	cfg.Inactivity.Enabled = false

	tabs := make([]*tab, 0, opts.tabs)
	for i := 0; i < opts.tabs; i++ {
		port := storage.NewRedis(client, opts.prefix, storage.WithRedisLogger(logger))
		ctl, err := sessionkit.New().
			WithConfig(cfg).
			WithStorage(port).
			WithLogger(logger).
			WithTabID(fmt.Sprintf("tab-%d", i)).
			Build()
		if err != nil {
			_ = port.Close()
			for _, t := range tabs {
				_ = t.close()
			}
			return nil, fmt.Errorf("open tab %d: %w", i, err)
		}
		tabs = append(tabs, &tab{ctl: ctl, port: port})
	}
	return tabs, nil
}

// runPropagation signs in (or out) on tab 0 and records, per other tab, how long it
// took to observe the change.
func runPropagation(ctx context.Context, tabs []*tab, timeout time.Duration, signIn bool) (phaseStats, error) {
	want := sessionkit.StateAnonymous
	if signIn {
		want = sessionkit.StateAuthenticated
	}

	var (
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, len(tabs)-1)
		remaining = int64(len(tabs) - 1)
		done      = make(chan struct{})
		start     time.Time
	)
	cancels := make([]func(), 0, len(tabs)-1)
	for _, t := range tabs[1:] {
		var once sync.Once
		cancels = append(cancels, t.ctl.Subscribe(func(st sessionkit.AuthState) {
			if st.State != want {
				return
			}
			once.Do(func() {
				mu.Lock()
				latencies = append(latencies, time.Since(start))
				mu.Unlock()
				if atomic.AddInt64(&remaining, -1) == 0 {
					close(done)
				}
			})
		}))
	}
	defer func() {
		for _, cancel := range cancels {
			cancel()
		}
	}()

	start = time.Now()
	if signIn {
		if res := tabs[0].ctl.SignIn(ctx, "provider@clinic.test", "pw"); !res.Success {
			return phaseStats{}, fmt.Errorf("sign in: %w", res.Err)
		}
	} else {
		tabs[0].ctl.SignOut(ctx)
	}

	select {
	case <-done:
	case <-time.After(timeout):
		return phaseStats{}, fmt.Errorf("%d tabs did not converge within %s", atomic.LoadInt64(&remaining), timeout)
	}
	total := time.Since(start)

	mu.Lock()
	defer mu.Unlock()
	return computeStats(total, latencies, 0), nil
}

// runChurn has random tabs sign in and out concurrently, then checks every tab agrees
// with a fresh read of the origin.
func runChurn(ctx context.Context, tabs []*tab, opts options) (phaseStats, error) {
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
				t := tabs[r.Intn(len(tabs))]
				if r.Intn(3) == 0 {
					t.ctl.SignOut(ctx)
					continue
				}
				t0 := time.Now()
				res := t.ctl.SignIn(ctx, "provider@clinic.test", "pw")
				d := time.Since(t0)
				if !res.Success && !errors.Is(res.Err, sessionkit.ErrSuperseded) {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)

	if err := waitAgreement(ctx, tabs, opts.timeout); err != nil {
		return phaseStats{}, err
	}
	return computeStats(total, latencies, failures), nil
}

func waitAgreement(ctx context.Context, tabs []*tab, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		want := tabs[0].ctl.Sync(ctx).State
		agreed := true
		for _, t := range tabs[1:] {
			if t.ctl.State().State != want {
				agreed = false
				break
			}
		}
		if agreed {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("tabs disagree after churn (tab 0 is %s)", want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

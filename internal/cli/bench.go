package cli

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/healthauth"
	"github.com/MrEthical07/healthauth/provider/redisid"
	"github.com/spf13/cobra"
)

// benchOutbox keeps the latest text per number and every mail token for
// one bench worker.
type benchOutbox struct {
	mu    sync.Mutex
	codes map[string]string
	mail  []redisid.Mail
}

func newBenchOutbox() *benchOutbox {
	return &benchOutbox{codes: make(map[string]string)}
}

func (o *benchOutbox) SendSMS(_ context.Context, number, message string) error {
	code, _, _ := strings.Cut(message, " ")
	o.mu.Lock()
	o.codes[number] = code
	o.mu.Unlock()
	return nil
}

func (o *benchOutbox) SendMail(_ context.Context, m redisid.Mail) error {
	o.mu.Lock()
	o.mail = append(o.mail, m)
	o.mu.Unlock()
	return nil
}

func (o *benchOutbox) code(number string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.codes[number]
}

func (o *benchOutbox) token(kind redisid.MailKind, to string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.mail) - 1; i >= 0; i-- {
		if o.mail[i].Kind == kind && o.mail[i].To == to {
			return o.mail[i].Token
		}
	}
	return ""
}

type benchWorker struct {
	engine   *healthauth.Engine
	provider *redisid.Client
	outbox   *benchOutbox
}

type phaseStats struct {
	name     string
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(name string, total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{name: name, total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		name:     name,
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

func benchEmail(i int) string {
	return fmt.Sprintf("bench-%d@example.com", i)
}

func benchLocal(i int) string {
	return fmt.Sprintf("4%08d", i)
}

const benchPassword = "bench-password-1"

// runPhase spreads ops calls of op over the workers and times each call.
func runPhase(name string, workers []*benchWorker, ops int, op func(w *benchWorker, i int, r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for n, w := range workers {
		wg.Add(1)
		go func(worker int, w *benchWorker) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(w, i, r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(n, w)
	}
	wg.Wait()
	return computeStats(name, time.Since(start), latencies, failures)
}

// signUpAndVerify runs sign-up, phone verification and email confirmation
// for account i, then signs out.
func signUpAndVerify(ctx context.Context, w *benchWorker, i int) error {
	email := benchEmail(i)
	res, err := w.engine.SignUp(ctx, healthauth.SignUpRequest{
		FirstName:       "Bench",
		LastName:        fmt.Sprintf("User%d", i),
		Email:           email,
		Password:        benchPassword,
		ConfirmPassword: benchPassword,
		CallingCode:     "+61",
		PhoneNumber:     benchLocal(i),
	})
	if err != nil {
		return err
	}
	defer res.Flow.Close()
	if err := res.Flow.SendCode(ctx); err != nil {
		return err
	}
	code := w.outbox.code(res.Flow.Snapshot().PhoneNumber)
	if _, err := res.Flow.SubmitCode(ctx, code); err != nil {
		return err
	}
	if err := w.provider.ConfirmEmailVerification(ctx, w.outbox.token(redisid.MailVerifyEmail, email)); err != nil {
		return err
	}
	return w.engine.SignOut(ctx)
}

func signInOnce(ctx context.Context, w *benchWorker, i int) error {
	res, err := w.engine.SignIn(ctx, benchEmail(i), benchPassword)
	if err != nil {
		return err
	}
	if res.Next != healthauth.NextAuthenticated {
		return fmt.Errorf("sign-in stopped at %s", res.Next)
	}
	return w.engine.SignOut(ctx)
}

func (a *App) benchWorkers(ctx context.Context, rt *runtime, n int, set *engineSet) ([]*benchWorker, error) {
	workers := make([]*benchWorker, 0, n)
	for i := 0; i < n; i++ {
		box := newBenchOutbox()
		wa := &App{Out: a.Out, Err: a.Err, SMS: box, Mail: box}
		provider, err := wa.newProvider(rt.rdb, rt.settings, rt.log)
		if err != nil {
			return nil, err
		}
		engine, err := wa.newEngine(ctx, rt.rdb, provider, healthauth.NewMemoryLocalStore(), rt.settings, rt.log)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, engine.Close)
		set.Add(engine)
		workers = append(workers, &benchWorker{engine: engine, provider: provider, outbox: box})
	}
	return workers, nil
}

func (a *App) renderBench(stats []phaseStats, set *engineSet) {
	table := newTable(a.Out, "Phase", "Ops", "Failures", "Total", "Ops/sec", "P50", "P95", "P99")
	for _, s := range stats {
		failures := fmt.Sprint(s.failures)
		if s.failures > 0 {
			failures = failColor.Sprint(s.failures)
		}
		table.Append([]string{
			s.name,
			itoa(s.ops),
			failures,
			s.total.Round(time.Millisecond).String(),
			fmt.Sprintf("%.0f", s.opsPerS),
			s.p50.Round(time.Microsecond).String(),
			s.p95.Round(time.Microsecond).String(),
			s.p99.Round(time.Microsecond).String(),
		})
	}
	table.Render()

	snap := set.MetricsSnapshot()
	counters := newTable(a.Out, "Counter", "Value")
	for _, row := range []struct {
		name string
		id   healthauth.MetricID
	}{
		{"sign_up_success", healthauth.MetricSignUpSuccess},
		{"phone_code_sent", healthauth.MetricCodeSent},
		{"phone_code_confirm_success", healthauth.MetricCodeConfirmSuccess},
		{"phone_linked", healthauth.MetricPhoneLinked},
		{"sign_in_success", healthauth.MetricSignInSuccess},
		{"sign_in_failure", healthauth.MetricSignInFailure},
	} {
		counters.Append([]string{row.name, fmt.Sprint(snap.Counters[row.id])})
	}
	counters.Render()
}

func newBenchCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run concurrent sign-up and sign-in scenarios against Redis",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := cmd.Flags()
			accounts, _ := f.GetInt("accounts")
			concurrency, _ := f.GetInt("concurrency")
			signIns, _ := f.GetInt("sign-ins")
			metricsAddr, _ := f.GetString("metrics-addr")
			if accounts <= 0 || concurrency <= 0 || signIns < 0 {
				return errors.New("accounts and concurrency must be > 0, sign-ins >= 0")
			}
			if accounts > 99_999_999 {
				return errors.New("accounts must fit an 8-digit subscriber suffix")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			return app.withRuntime(ctx, func(rt *runtime) error {
				set := &engineSet{}
				workers, err := app.benchWorkers(ctx, rt, concurrency, set)
				if err != nil {
					return err
				}

				served := make(chan error, 1)
				if metricsAddr != "" {
					go func() {
						served <- serveMetrics(ctx, metricsAddr, newMetricsRouter(set, rt.rdb), func(a net.Addr) {
							rt.log.Info("serving metrics", "addr", a.String())
						})
					}()
				} else {
					served <- nil
				}

				fmt.Fprintf(app.Out, "signing up %d accounts with %d workers...\n", accounts, concurrency)
				stats := []phaseStats{runPhase("sign-up", workers, accounts, func(w *benchWorker, i int, _ *rand.Rand) error {
					return signUpAndVerify(ctx, w, i)
				})}
				if signIns > 0 {
					stats = append(stats, runPhase("sign-in", workers, signIns, func(w *benchWorker, _ int, r *rand.Rand) error {
						return signInOnce(ctx, w, r.Intn(accounts))
					}))
				}

				fmt.Fprintln(app.Out, "---- results ----")
				app.renderBench(stats, set)

				cancel()
				return <-served
			})
		},
	}
	f := cmd.Flags()
	f.Int("accounts", 50, "accounts to sign up and verify")
	f.Int("concurrency", 8, "concurrent workers")
	f.Int("sign-ins", 100, "sign-ins spread over the created accounts")
	f.String("metrics-addr", "", "serve /metrics and /healthz on this address while running")
	return cmd
}

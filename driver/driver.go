// Package driver implements the concurrent multi-suite load driver: it
// spawns one worker goroutine per configured thread, paces and selects tests
// per suite policy, and routes every lifecycle transition into the trace
// writer and the first-failure capturer.
package driver

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rlch/longhaul"
	"github.com/rlch/longhaul/diag"
	"github.com/rlch/longhaul/trace"
)

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver's logger.
func WithLogger(log *zap.Logger) Option {
	return func(d *Driver) {
		d.log = log
	}
}

// WithDiagnostics sets the first-failure capturer workers report to.
func WithDiagnostics(c *diag.Capturer) Option {
	return func(d *Driver) {
		d.diag = c
	}
}

// WithSeed seeds the random selection and pacing sources, for deterministic
// runs.
func WithSeed(seed int64) Option {
	return func(d *Driver) {
		d.seed = seed
	}
}

// WithAvailableParallelism overrides the parallelism thread specs resolve
// against. Zero means runtime.NumCPU().
func WithAvailableParallelism(n int) Option {
	return func(d *Driver) {
		d.available = n
	}
}

// WithProgressInterval sets how often the driver logs a progress summary.
// Zero disables it.
func WithProgressInterval(interval time.Duration) Option {
	return func(d *Driver) {
		d.progressEvery = interval
	}
}

// Driver owns the run: suite configurations, run limits, and the worker
// threads driving them.
type Driver struct {
	cfg     *longhaul.Config
	catalog *longhaul.Catalog
	writer  *trace.Writer
	exec    Executor
	diag    *diag.Capturer
	log     *zap.Logger

	seed          int64
	available     int
	progressEvery time.Duration

	suites  []suiteState
	threads []int

	started  atomic.Int64
	passed   atomic.Int64
	unknown  atomic.Int64
	failures atomic.Int64
	aborted  atomic.Bool
}

// suiteState is the per-suite shared worker state.
type suiteState struct {
	cfg       longhaul.SuiteConfig
	inventory []uint16

	// budget counts down the suite's remaining planned executions.
	budget atomic.Int64
	// cursor is the suite-wide sequential selection cursor.
	cursor atomic.Int64
}

// Summary is the run's final tally. The run's exit status is a function of
// Failures and Aborted only, never of a single worker.
type Summary struct {
	Started  int64
	Passed   int64
	Unknown  int64
	Failures int64
	Aborted  bool
	Elapsed  time.Duration
}

// Ok reports whether the run passed.
func (s *Summary) Ok() bool {
	return s.Failures == 0 && !s.Aborted
}

// New validates the config and prepares a Driver.
func New(cfg *longhaul.Config, catalog *longhaul.Catalog, writer *trace.Writer, exec Executor, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if exec == nil {
		return nil, errors.New("driver: no executor")
	}

	d := &Driver{
		cfg:           cfg,
		catalog:       catalog,
		writer:        writer,
		exec:          exec,
		log:           zap.NewNop(),
		seed:          time.Now().UnixNano(),
		progressEvery: 30 * time.Second,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.diag == nil {
		d.diag = diag.NewCapturer("", diag.Nop(), d.log)
	}

	total := 0

	enabled := cfg.EnabledSuites()
	d.suites = make([]suiteState, len(enabled))

	for i, s := range enabled {
		n := s.Threads.Resolve(d.available)
		total += n
		d.threads = append(d.threads, n)

		st := &d.suites[i]
		st.cfg = s
		st.inventory = catalog.SuiteTests(i)
		st.budget.Store(int64(s.NumTests))
	}

	if total > longhaul.MaxThreads {
		return nil, errors.WithMessagef(longhaul.ErrTooManyThreads, "%d configured", total)
	}

	return d, nil
}

// Threads returns the resolved per-suite worker counts, in enabled-suite
// order.
func (d *Driver) Threads() []int {
	return d.threads
}

// Run drives all suites to completion, the global time limit, or an abort.
// The time limit and the abort signal are cooperative: a worker mid-test is
// never preempted by the driver itself.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	cancel := func() {}
	if limit := d.cfg.Limits.TimeLimit; limit > 0 {
		ctx, cancel = context.WithTimeout(ctx, limit)
	}
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	done := make(chan struct{})
	if d.progressEvery > 0 {
		var wg sync.WaitGroup

		wg.Add(1)

		go func() {
			defer wg.Done()
			d.logProgress(done)
		}()

		defer wg.Wait()
	}

	thread := uint16(0)

	for i := range d.suites {
		st := &d.suites[i]

		for t := 0; t < d.threads[i]; t++ {
			w := &worker{
				driver: d,
				suite:  st,
				id:     uint8(i),
				thread: thread,
				rng:    rand.New(rand.NewSource(d.seed + int64(thread))),
			}
			thread++

			g.Go(func() error { return w.run(gctx) })
		}
	}

	err := g.Wait()
	close(done)

	summary := &Summary{
		Started:  d.started.Load(),
		Passed:   d.passed.Load(),
		Unknown:  d.unknown.Load(),
		Failures: d.failures.Load(),
		Aborted:  d.aborted.Load(),
		Elapsed:  time.Since(start),
	}

	// Hitting the time limit (or an external cancellation) is a normal way
	// for a run to end; only writer I/O failures surface as errors.
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return summary, err
	}

	d.log.Info("run complete",
		zap.Int64("started", summary.Started),
		zap.Int64("passed", summary.Passed),
		zap.Int64("failures", summary.Failures),
		zap.Bool("aborted", summary.Aborted),
		zap.Duration("elapsed", summary.Elapsed))

	return summary, nil
}

// logProgress periodically logs the running totals until done is closed.
func (d *Driver) logProgress(done <-chan struct{}) {
	ticker := time.NewTicker(d.progressEvery)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			d.log.Info("progress",
				zap.Int64("started", d.started.Load()),
				zap.Int64("passed", d.passed.Load()),
				zap.Int64("failures", d.failures.Load()))
		}
	}
}

// recordFailure tallies a failure, fires the one-shot diagnostics, and
// decides whether this failure's output is persisted in full.
func (d *Driver) recordFailure() (keepOutput bool) {
	n := d.failures.Add(1)

	d.diag.OnFailure()

	if limit := d.cfg.Limits.AbortAtFailureLimit; limit > 0 && n >= int64(limit) {
		if !d.aborted.Swap(true) {
			d.log.Warn("failure limit reached, aborting run", zap.Int64("failures", n))
		}
	}

	limit := d.cfg.Limits.ReportFailureLimit

	return limit <= 0 || n <= int64(limit)
}

// worker is one thread of one suite.
type worker struct {
	driver *Driver
	suite  *suiteState
	id     uint8
	thread uint16
	rng    *rand.Rand
}

func (w *worker) run(ctx context.Context) error {
	d := w.driver
	s := w.suite
	repeat := s.cfg.RepeatCount()

	for {
		// Iteration boundary: the only place the time limit and the abort
		// signal are observed.
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.aborted.Load() {
			return nil
		}

		testNum, ok := w.pick()
		if !ok {
			return nil
		}

		for r := 0; r < repeat; r++ {
			if s.budget.Add(-1) < 0 {
				return nil
			}

			if err := w.runOne(ctx, testNum); err != nil {
				return err
			}

			if err := w.think(ctx); err != nil {
				return err
			}
		}
	}
}

// pick selects the next test index per the suite's selection policy.
func (w *worker) pick() (uint16, bool) {
	inv := w.suite.inventory
	if len(inv) == 0 {
		return 0, false
	}

	if w.suite.cfg.Selection == longhaul.SelectionRandom {
		return inv[w.rng.Intn(len(inv))], true
	}

	// Sequential: one suite-wide cursor, wrapping modulo the inventory.
	i := w.suite.cursor.Add(1) - 1

	return inv[int(i)%len(inv)], true
}

func (w *worker) runOne(ctx context.Context, testNum uint16) error {
	d := w.driver

	if err := w.append(trace.Record{
		Time:    time.Now(),
		Action:  trace.Started,
		Suite:   w.id,
		Thread:  w.thread,
		TestNum: testNum,
	}); err != nil {
		return err
	}

	d.started.Add(1)

	res := d.exec.Execute(ctx, d.catalog.Test(testNum))
	action := res.Outcome.Action()

	rec := trace.Record{
		Time:    time.Now(),
		Action:  action,
		Suite:   w.id,
		Thread:  w.thread,
		TestNum: testNum,
	}

	switch {
	case action.IsFailure():
		if d.recordFailure() {
			rec.Output = res.Output
		}
	case action == trace.Passed || action == trace.ExitPass:
		d.passed.Add(1)
	default:
		d.unknown.Add(1)
	}

	return w.append(rec)
}

// append routes a record into the trace writer. Writer errors are fatal to
// the run and propagate through the errgroup.
func (w *worker) append(rec trace.Record) error {
	if err := w.driver.writer.Append(rec); err != nil {
		return errors.WithMessage(err, "writing trace record")
	}

	return nil
}

// think sleeps a duration drawn uniformly from the suite's thinking-time
// bounds.
func (w *worker) think(ctx context.Context) error {
	b := w.suite.cfg.ThinkingTime
	if b.Max <= 0 {
		return nil
	}

	dur := b.Min
	if span := b.Max - b.Min; span > 0 {
		dur += time.Duration(w.rng.Int63n(int64(span) + 1))
	}

	if dur <= 0 {
		return nil
	}

	timer := time.NewTimer(dur)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package rerun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/wearefrank/ladybug-sub002/internal/capture"
	"github.com/wearefrank/ladybug-sub002/internal/report"
)

// ErrAlreadyRunning is returned when a batch is started or reset while
// another batch runs.
var ErrAlreadyRunning = errors.New("rerun batch already running")

// DefaultTimeout bounds the wait for one replay's report.
const DefaultTimeout = 30 * time.Second

// SecurityContext identifies who a replay runs as. It is passed through to
// the Rerunner unchanged.
type SecurityContext struct {
	TenantID    string   `json:"tenant_id"`
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

// Rerunner drives the host application through the flow of original again,
// capturing under correlationID with the runner's engine.
type Rerunner interface {
	Rerun(ctx context.Context, correlationID string, original *report.Report, sec SecurityContext, runner *Runner) error
}

// RerunnerFunc adapts a function to Rerunner.
type RerunnerFunc func(ctx context.Context, correlationID string, original *report.Report, sec SecurityContext, runner *Runner) error

func (f RerunnerFunc) Rerun(ctx context.Context, correlationID string, original *report.Report, sec SecurityContext, runner *Runner) error {
	return f(ctx, correlationID, original, sec, runner)
}

// Result is the outcome of one replay.
type Result struct {
	CorrelationID string
	Error         string // empty on success
	Summary       string // Summarize(original, replay); empty on error
	Report        *report.Report
}

// Runner schedules replays. At most one batch runs at a time.
//
// Thread-safety: All methods are safe for concurrent use.
type Runner struct {
	engine   *capture.Engine
	rerunner Rerunner
	ids      IDGenerator
	sec      SecurityContext
	timeout  time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	running   bool
	total     int
	completed int
	results   map[int64]Result
	done      chan struct{}
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithIDGenerator sets the correlation id generator.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) RunnerOption {
	return func(r *Runner) {
		r.ids = g
	}
}

// WithSecurityContext sets the context passed to the Rerunner.
func WithSecurityContext(sec SecurityContext) RunnerOption {
	return func(r *Runner) {
		r.sec = sec
	}
}

// WithTimeout bounds the wait for each replay's report.
// Default: DefaultTimeout.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// NewRunner creates a runner capturing replays with engine.
func NewRunner(engine *capture.Engine, rerunner Rerunner, opts ...RunnerOption) *Runner {
	r := &Runner{
		engine:   engine,
		rerunner: rerunner,
		ids:      UUIDv7Generator{},
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
		results:  make(map[int64]Result),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Engine returns the capture engine replays are recorded with. Rerunners
// use it to emit checkpoints.
func (r *Runner) Engine() *capture.Engine {
	return r.engine
}

// Start runs reports as one batch, keyed by storage id in Results. With
// reset, earlier results are dropped first. With wait, Start returns when
// the batch is done; otherwise it runs on a background goroutine and Wait
// blocks until it finishes.
func (r *Runner) Start(ctx context.Context, reports []*report.Report, reset, wait bool) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	if reset {
		r.resetLocked()
	}
	r.running = true
	r.total += len(reports)
	done := make(chan struct{})
	r.done = done
	r.mu.Unlock()

	r.logger.Info("rerun batch started", "reports", len(reports), "wait", wait)
	batch := func() {
		defer close(done)
		r.runBatch(ctx, reports)
	}
	if wait {
		batch()
		return nil
	}
	go batch()
	return nil
}

func (r *Runner) runBatch(ctx context.Context, reports []*report.Report) {
	for _, original := range reports {
		res := r.run(ctx, original)
		r.mu.Lock()
		r.results[original.StorageID] = res
		r.completed++
		r.mu.Unlock()
	}
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	r.logger.Info("rerun batch finished", "reports", len(reports))
}

// Wait blocks until the current batch, if any, has finished.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOne replays a single report outside of any batch.
func (r *Runner) RunOne(ctx context.Context, original *report.Report) Result {
	return r.run(ctx, original)
}

func (r *Runner) run(ctx context.Context, original *report.Report) Result {
	cid := r.ids.Generate()
	replay, err := r.replay(ctx, cid, original)
	if err != nil {
		r.logger.Warn("rerun failed",
			"storage_id", original.StorageID, "correlation_id", cid, "error", err)
		return Result{CorrelationID: cid, Error: err.Error()}
	}
	r.logger.Debug("rerun completed",
		"storage_id", original.StorageID, "correlation_id", cid, "checkpoints", len(replay.Checkpoints))
	return Result{
		CorrelationID: cid,
		Summary:       Summarize(original, replay),
		Report:        replay,
	}
}

func (r *Runner) replay(ctx context.Context, cid string, original *report.Report) (rep *report.Report, err error) {
	if err := r.engine.StartRerun(cid, original); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			r.engine.CancelRerun(cid)
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rerun %s: panic: %v", cid, p)
		}
	}()

	if err := r.rerunner.Rerun(ctx, cid, original, r.sec, r); err != nil {
		return nil, fmt.Errorf("rerun %s: %w", cid, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.engine.WaitRerun(waitCtx, cid)
}

// Total is the number of reports started since the last reset.
func (r *Runner) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Completed is the number of finished replays, failed ones included.
func (r *Runner) Completed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// Running reports whether a batch is in progress.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Results returns a copy of the results keyed by original storage id.
func (r *Runner) Results() map[int64]Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.results)
}

// Reset drops all results. It fails while a batch runs.
func (r *Runner) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}
	r.resetLocked()
	return nil
}

func (r *Runner) resetLocked() {
	r.total = 0
	r.completed = 0
	r.results = make(map[int64]Result)
}

package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/wearefrank/ladybug-sub002/internal/message"
	"github.com/wearefrank/ladybug-sub002/internal/report"
)

// LogStorage receives finalized reports. It must not fail loudly: problems
// are kept as a warning instead. storage.LogStorage satisfies it.
type LogStorage interface {
	StoreWithoutError(ctx context.Context, r *report.Report)
	LastWarning() string
}

// Default limits.
const (
	DefaultMaxCheckpoints   = 2500
	DefaultMaxMessageLength = 1_000_000
)

// Engine is the in-progress report registry.
//
// Thread-safety model:
//   - Record and the per-type helpers: safe from any goroutine
//   - StartRerun/WaitRerun/CancelRerun: safe from any goroutine
//   - Sweep: safe to run concurrently with capture; takes each report's lock
//   - Shutdown: call once; later checkpoints are ignored
//
// INVARIANTS:
//   - A checkpoint's level is never negative
//   - A report leaves the registry exactly once (closed, forced or abandoned)
//   - Checkpoints of one report are appended in lock-acquisition order
type Engine struct {
	logStorage       LogStorage
	codec            *message.Codec
	clock            Clock
	logger           *slog.Logger
	metrics          *Metrics
	charset          string
	maxCheckpoints   int
	maxMessageLength int

	reports sync.Map // correlation id -> *entry
	reruns  sync.Map // correlation id -> *rerunState

	flush *flushQueue // nil when flushing synchronously

	sweepInterval time.Duration
	sweepOpts     SweepOptions
	newTicker     func(time.Duration) (<-chan time.Time, func())
	sweepDone     chan struct{} // nil without a sweeper

	errMu     sync.Mutex
	lastError string

	closeOnce sync.Once
	closed    chan struct{}
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithLogStorage sets the storage finalized reports are written to. Without
// one, finalized reports are only available to reruns.
func WithLogStorage(s LogStorage) EngineOption {
	return func(e *Engine) {
		e.logStorage = s
	}
}

// WithCodec replaces the default message codec.
func WithCodec(c *message.Codec) EngineOption {
	return func(e *Engine) {
		e.codec = c
	}
}

// WithCharset sets the charset used to keep byte and stream messages as text.
func WithCharset(charset string) EngineOption {
	return func(e *Engine) {
		e.charset = charset
	}
}

// WithMaxCheckpoints caps the number of checkpoints per report.
//
// Default: 2500 (DefaultMaxCheckpoints). Zero or less disables the cap.
func WithMaxCheckpoints(n int) EngineOption {
	return func(e *Engine) {
		e.maxCheckpoints = n
	}
}

// WithMaxMessageLength truncates longer message texts.
//
// Default: 1,000,000 bytes (DefaultMaxMessageLength). Zero or less disables
// truncation.
func WithMaxMessageLength(n int) EngineOption {
	return func(e *Engine) {
		e.maxMessageLength = n
	}
}

// WithClock replaces the system clock. Tests use testutil.FakeClock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithMetrics enables prometheus instrumentation.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithAsyncFlush hands finalized reports to a background goroutine instead
// of storing them on the goroutine that closed the report.
func WithAsyncFlush() EngineOption {
	return func(e *Engine) {
		e.flush = newFlushQueue()
	}
}

// WithSweep runs Sweep with opts every interval on a goroutine owned by the
// engine. Shutdown stops it. Zero or less disables periodic sweeping.
func WithSweep(interval time.Duration, opts SweepOptions) EngineOption {
	return func(e *Engine) {
		e.sweepInterval = interval
		e.sweepOpts = opts
	}
}

// New creates an Engine. Options can be passed to configure it (e.g.,
// WithLogStorage, WithMaxCheckpoints).
func New(opts ...EngineOption) *Engine {
	e := &Engine{
		codec:            message.NewCodec(),
		clock:            SystemClock{},
		logger:           slog.Default(),
		maxCheckpoints:   DefaultMaxCheckpoints,
		maxMessageLength: DefaultMaxMessageLength,
		closed:           make(chan struct{}),
		newTicker:        systemTicker,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.charset == "" {
		e.charset = e.codec.DefaultCharset
	}
	if e.flush != nil {
		go e.flush.run(e.store)
	}
	if e.sweepInterval > 0 {
		e.sweepDone = make(chan struct{})
		go e.runSweeper()
	}
	return e
}

// Shutdown stops accepting checkpoints, stops the periodic sweep and drains
// the flush queue. Reports still in progress stay in the registry; run Sweep
// first to flush them.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.closeOnce.Do(func() {
		close(e.closed)
		if e.sweepDone != nil {
			<-e.sweepDone
		}
		if e.flush != nil {
			e.flush.close()
		}
	})
	if e.flush == nil {
		return nil
	}
	if err := e.flush.wait(ctx); err != nil {
		return fmt.Errorf("drain flush queue: %w", err)
	}
	return nil
}

func (e *Engine) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

// LastError returns the text of the most recent swallowed capture error.
func (e *Engine) LastError() string {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.lastError
}

func (e *Engine) fail(err error) {
	code := ErrCodePanic
	var ce *CaptureError
	if errors.As(err, &ce) {
		code = ce.Code
	}
	e.metrics.error(code)
	e.logger.Warn("capture failed", "error", err)

	e.errMu.Lock()
	e.lastError = err.Error()
	e.errMu.Unlock()
}

// Start records a startpoint, opening a level. The first startpoint for an
// unseen correlation id creates the report and names it.
func (e *Engine) Start(correlationID, sourceName, name string, msg any) any {
	return e.Record(correlationID, sourceName, name, msg, report.TypeStart)
}

// End records an endpoint, closing a level.
func (e *Engine) End(correlationID, sourceName, name string, msg any) any {
	return e.Record(correlationID, sourceName, name, msg, report.TypeEnd)
}

// Abort records an abortpoint, closing a level.
func (e *Engine) Abort(correlationID, sourceName, name string, msg any) any {
	return e.Record(correlationID, sourceName, name, msg, report.TypeAbort)
}

// Input records an inputpoint.
func (e *Engine) Input(correlationID, sourceName, name string, msg any) any {
	return e.Record(correlationID, sourceName, name, msg, report.TypeInput)
}

// Output records an outputpoint.
func (e *Engine) Output(correlationID, sourceName, name string, msg any) any {
	return e.Record(correlationID, sourceName, name, msg, report.TypeOutput)
}

// Info records an infopoint.
func (e *Engine) Info(correlationID, sourceName, name string, msg any) any {
	return e.Record(correlationID, sourceName, name, msg, report.TypeInfo)
}

// ThreadCreatepoint announces a goroutine that will later record a thread
// startpoint, so the report stays open until that goroutine is done.
func (e *Engine) ThreadCreatepoint(correlationID, sourceName, name string, msg any) any {
	return e.Record(correlationID, sourceName, name, msg, report.TypeThreadCreatepoint)
}

// ThreadStart records the first checkpoint of a goroutine joining a report.
func (e *Engine) ThreadStart(correlationID, sourceName, name string, msg any) any {
	return e.Record(correlationID, sourceName, name, msg, report.TypeThreadStart)
}

// ThreadEnd records the last checkpoint of a goroutine leaving a report.
func (e *Engine) ThreadEnd(correlationID, sourceName, name string, msg any) any {
	return e.Record(correlationID, sourceName, name, msg, report.TypeThreadEnd)
}

// Record appends a checkpoint of the given type to the report identified by
// correlationID and returns the message the caller should continue with:
// the stub value during a rerun, a fresh reader for consumed streams, and
// msg itself otherwise.
//
// Record never panics and never returns an error. Failures are logged and
// available through LastError.
func (e *Engine) Record(correlationID, sourceName, name string, msg any, typ report.CheckpointType) (out any) {
	out = msg
	defer func() {
		if r := recover(); r != nil {
			e.fail(newCaptureError(ErrCodePanic, correlationID, name, "recovered: %v", r))
			out = msg
		}
	}()

	res, done, err := e.record(correlationID, sourceName, name, msg, typ)
	if done != nil {
		e.finish(done)
	}
	if err != nil {
		e.fail(err)
	}
	return res
}

func (e *Engine) record(cid, source, name string, msg any, typ report.CheckpointType) (any, *finished, error) {
	if e.isClosed() {
		return msg, nil, newCaptureError(ErrCodeClosed, cid, name, "engine is shut down")
	}
	if !typ.Valid() {
		return msg, nil, newCaptureError(ErrCodeInvalidType, cid, name, "checkpoint type %d", int(typ))
	}

	// A report that finalizes between lookup and lock is retried once: a
	// startpoint then opens a new report for the same correlation id.
	for attempt := 0; attempt < 2; attempt++ {
		ent := e.lookup(cid)
		if ent == nil {
			if typ != report.TypeStart {
				return msg, nil, newCaptureError(ErrCodeUnknownCorrelation, cid, name,
					"%s without a report in progress", typ)
			}
			ent = e.create(cid, name)
		}

		res, done, stale, err := e.recordIn(ent, source, name, msg, typ)
		if stale {
			continue
		}
		return res, done, err
	}
	return msg, nil, newCaptureError(ErrCodeUnknownCorrelation, cid, name, "report closed concurrently")
}

// recordIn appends to ent under its lock. stale is true when ent left the
// registry before the lock was acquired.
func (e *Engine) recordIn(ent *entry, source, name string, msg any, typ report.CheckpointType) (res any, done *finished, stale bool, err error) {
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.done {
		return msg, nil, true, nil
	}
	res, closed, err := e.appendLocked(ent, source, name, msg, typ)
	if closed {
		done = e.finalizeLocked(ent, outcomeClosed)
	}
	return res, done, false, err
}

func (e *Engine) lookup(cid string) *entry {
	if v, ok := e.reports.Load(cid); ok {
		return v.(*entry)
	}
	return nil
}

func (e *Engine) create(cid, name string) *entry {
	fresh := &entry{
		report:  report.New(cid, name, e.clock.Now()),
		threads: 1,
	}
	if v, ok := e.reruns.Load(cid); ok {
		rs := v.(*rerunState)
		fresh.rerun = rs
		fresh.stub = newStubState(rs.original)
		fresh.report.OriginalReport = rs.original
		if rs.original.StubStrategy != "" {
			fresh.report.StubStrategy = rs.original.StubStrategy
		}
		fresh.report.Transformation = rs.original.Transformation
	}
	actual, loaded := e.reports.LoadOrStore(cid, fresh)
	if !loaded {
		e.metrics.reportStarted()
		e.logger.Debug("report started", "correlation_id", cid, "name", name)
	}
	return actual.(*entry)
}

// appendLocked applies typ's effect on the nesting state and appends the
// checkpoint. It reports whether the report is now closed.
func (e *Engine) appendLocked(ent *entry, source, name string, msg any, typ report.CheckpointType) (any, bool, error) {
	r := ent.report
	var diag error

	switch {
	case typ.Opens():
		ent.level++
	case typ.Closes():
		if ent.level > 0 {
			ent.level--
		} else {
			diag = newCaptureError(ErrCodeInvalidType, r.CorrelationID, name, "unmatched %s at level 0", typ)
		}
	}
	level := ent.level
	if typ.Opens() {
		level--
	}

	switch typ {
	case report.TypeThreadCreatepoint:
		ent.threads++
		ent.pendingThreads++
	case report.TypeThreadStart:
		if ent.pendingThreads > 0 {
			ent.pendingThreads--
		} else {
			ent.threads++
		}
	case report.TypeThreadEnd:
		ent.threads--
	}
	if typ.Closes() && ent.level == 0 && !ent.mainDone {
		ent.mainDone = true
		ent.mainDoneAt = e.clock.Now()
		ent.threads--
	}
	closed := ent.mainDone && ent.level == 0 && ent.threads <= 0

	if e.maxCheckpoints > 0 && len(r.Checkpoints) >= e.maxCheckpoints {
		if !ent.limitWarned {
			ent.limitWarned = true
			_, _ = r.Append(report.Checkpoint{
				Name:    "Maximum number of checkpoints exceeded",
				Type:    report.TypeInfo,
				Level:   level,
				Message: fmt.Sprintf("Only the first %d checkpoints of this report are kept", e.maxCheckpoints),
			})
			return msg, closed, newCaptureError(ErrCodeLimit, r.CorrelationID, name,
				"more than %d checkpoints", e.maxCheckpoints)
		}
		return msg, closed, diag
	}

	cp := report.Checkpoint{
		Name:       name,
		Type:       typ,
		Level:      level,
		SourceName: source,
	}
	if typ == report.TypeThreadCreatepoint || typ == report.TypeThreadStart || typ == report.TypeThreadEnd {
		cp.ThreadName = name
	}

	out := msg
	var stubbed *message.Encoded
	if typ.Stubbable() && ent.stub != nil {
		if res, ok := ent.stub.resolve(name, typ, level, r.StubStrategy); ok {
			e.metrics.stub(res.kind)
			out = e.codec.DecodeForStub(res.original, msg)
			cp.Stubbed = true
			cp.StubNotFound = res.notFound
			stubbed = res.original
		}
	}
	if stubbed != nil {
		cp.Message = stubbed.Text
		cp.Encoding = stubbed.Encoding
		cp.ClassName = stubbed.ClassName
	} else {
		enc, replacement, err := e.codec.Capture(out, e.charset)
		out = replacement
		if err != nil {
			diag = newCaptureError(ErrCodeEncode, r.CorrelationID, name, "%v", err)
			enc = message.Encoded{Text: fmt.Sprint(out), ClassName: fmt.Sprintf("%T", out)}
		}
		cp.Message = enc.Text
		cp.Encoding = enc.Encoding
		cp.ClassName = enc.ClassName
	}
	e.truncate(&cp)

	if _, err := r.Append(cp); err != nil {
		return out, closed, fmt.Errorf("append %q to %s: %w", name, r.CorrelationID, err)
	}
	e.metrics.checkpoint(typ)
	return out, closed, diag
}

func (e *Engine) truncate(cp *report.Checkpoint) {
	if e.maxMessageLength <= 0 || len(cp.Message) <= e.maxMessageLength {
		return
	}
	cp.PreTruncatedMessageLength = len(cp.Message)
	cut := e.maxMessageLength
	for cut > 0 && !utf8.RuneStart(cp.Message[cut]) {
		cut--
	}
	cp.Message = cp.Message[:cut]
}

// Report outcomes, used as metric labels.
const (
	outcomeClosed    = "closed"
	outcomeForced    = "forced"
	outcomeAbandoned = "abandoned"
)

// finished carries a report that left the registry to the code that stores
// it, outside the report's lock.
type finished struct {
	report *report.Report
	rerun  *rerunState
}

// finalizeLocked freezes ent's report and removes it from the registry.
// Abandoned reports keep a zero end time so they read as incomplete.
func (e *Engine) finalizeLocked(ent *entry, outcome string) *finished {
	ent.done = true
	end := e.clock.Now()
	if outcome == outcomeAbandoned {
		end = time.Time{}
	}
	ent.report.Finalize(end)
	e.reports.CompareAndDelete(ent.report.CorrelationID, ent)
	e.metrics.reportDone(outcome)
	e.logger.Debug("report finalized",
		"correlation_id", ent.report.CorrelationID,
		"name", ent.report.Name,
		"checkpoints", len(ent.report.Checkpoints),
		"outcome", outcome)
	return &finished{report: ent.report, rerun: ent.rerun}
}

// finish hands a finalized report to the rerun waiting for it and to the
// log storage.
func (e *Engine) finish(f *finished) {
	if f.rerun != nil {
		f.rerun.complete(f.report.Clone())
	}
	if e.logStorage == nil {
		return
	}
	if e.flush != nil {
		if e.flush.enqueue(f.report) {
			e.metrics.queueLength(e.flush.len())
			return
		}
	}
	e.store(f.report)
}

func (e *Engine) store(r *report.Report) {
	if e.flush != nil {
		e.metrics.queueLength(e.flush.len())
	}
	e.logStorage.StoreWithoutError(context.Background(), r)
	if w := e.logStorage.LastWarning(); w != "" {
		e.logger.Warn("log storage warning", "correlation_id", r.CorrelationID, "warning", w)
	}
}

// Summary describes an in-progress report.
type Summary struct {
	CorrelationID string
	Name          string
	StartTime     time.Time
	Checkpoints   int
	Level         int
	Threads       int
	MainDone      bool
}

// InProgress lists the reports currently being captured.
func (e *Engine) InProgress() []Summary {
	var out []Summary
	e.reports.Range(func(_, v any) bool {
		ent := v.(*entry)
		ent.mu.Lock()
		out = append(out, Summary{
			CorrelationID: ent.report.CorrelationID,
			Name:          ent.report.Name,
			StartTime:     ent.report.StartTime,
			Checkpoints:   len(ent.report.Checkpoints),
			Level:         ent.level,
			Threads:       ent.threads,
			MainDone:      ent.mainDone,
		})
		ent.mu.Unlock()
		return true
	})
	return out
}

// InProgressCount returns the number of reports being captured.
func (e *Engine) InProgressCount() int {
	n := 0
	e.reports.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Report returns a detached copy of the in-progress report for
// correlationID.
func (e *Engine) Report(correlationID string) (*report.Report, bool) {
	ent := e.lookup(correlationID)
	if ent == nil {
		return nil, false
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.report.Clone(), true
}

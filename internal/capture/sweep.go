package capture

import (
	"context"
	"runtime"
	"time"
)

// SweepOptions configures one housekeeping pass.
type SweepOptions struct {
	// ThreadsTimeout bounds how long a report whose main flow has ended
	// waits for its goroutines.
	ThreadsTimeout time.Duration

	// MessageCapturerTimeout bounds how long a report's main flow may run.
	MessageCapturerTimeout time.Duration

	// WaitForMainThread keeps reports whose main flow timed out.
	WaitForMainThread bool

	// LogDiagnosticsBeforeDrop logs a goroutine dump before a report whose
	// main flow timed out is abandoned, when its age is within
	// [DiagnosticsMinAge, DiagnosticsMaxAge]. Equal bounds disable it.
	LogDiagnosticsBeforeDrop bool
	DiagnosticsMinAge        time.Duration
	DiagnosticsMaxAge        time.Duration
}

// SweepResult counts what a sweep did.
type SweepResult struct {
	// Finalized reports had ended their main flow but not all goroutines.
	Finalized int

	// Abandoned reports timed out in their main flow and were stored
	// incomplete.
	Abandoned int

	// Waiting reports timed out in their main flow but were kept because
	// of WaitForMainThread.
	Waiting int

	// Diagnosed counts goroutine dumps logged.
	Diagnosed int
}

// Sweep finalizes reports abandoned past the configured timeouts. Each
// report is inspected under its own lock, so capture continues meanwhile.
func (e *Engine) Sweep(ctx context.Context, opts SweepOptions) SweepResult {
	var res SweepResult
	var done []*finished
	now := e.clock.Now()

	e.reports.Range(func(_, v any) bool {
		if ctx.Err() != nil {
			return false
		}
		ent := v.(*entry)
		ent.mu.Lock()
		defer ent.mu.Unlock()
		if ent.done {
			return true
		}

		if ent.mainDone {
			if now.Sub(ent.mainDoneAt) > opts.ThreadsTimeout {
				e.logger.Info("finalizing report with running goroutines",
					"correlation_id", ent.report.CorrelationID,
					"threads", ent.threads)
				done = append(done, e.finalizeLocked(ent, outcomeForced))
				res.Finalized++
			}
			return true
		}

		age := now.Sub(ent.report.StartTime)
		if age <= opts.MessageCapturerTimeout {
			return true
		}
		if opts.WaitForMainThread {
			res.Waiting++
			return true
		}
		if opts.LogDiagnosticsBeforeDrop && opts.DiagnosticsMinAge != opts.DiagnosticsMaxAge &&
			age >= opts.DiagnosticsMinAge && age <= opts.DiagnosticsMaxAge {
			e.logger.Warn("abandoning report",
				"correlation_id", ent.report.CorrelationID,
				"age", age,
				"goroutines", goroutineDump())
			res.Diagnosed++
		}
		done = append(done, e.finalizeLocked(ent, outcomeAbandoned))
		res.Abandoned++
		return true
	})

	for _, f := range done {
		e.finish(f)
	}
	return res
}

func systemTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// runSweeper sweeps on every tick until the engine closes.
func (e *Engine) runSweeper() {
	defer close(e.sweepDone)
	ticks, stop := e.newTicker(e.sweepInterval)
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-e.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-e.closed:
			return
		case <-ticks:
			res := e.Sweep(ctx, e.sweepOpts)
			if res != (SweepResult{}) {
				e.logger.Info("sweep finished",
					"finalized", res.Finalized,
					"abandoned", res.Abandoned,
					"waiting", res.Waiting)
			}
		}
	}
}

func goroutineDump() string {
	buf := make([]byte, 64<<10)
	n := runtime.Stack(buf, true)
	return string(buf[:n])
}

package rerun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wearefrank/ladybug-sub002/internal/capture"
	"github.com/wearefrank/ladybug-sub002/internal/report"
	"github.com/wearefrank/ladybug-sub002/internal/storage/memory"
	"github.com/wearefrank/ladybug-sub002/internal/testutil"
)

// orderFlow is the instrumented flow under test. It returns what the
// startpoint and inputpoint handed back.
func orderFlow(e *capture.Engine, cid string, in, amount any) (gotIn, gotAmount any) {
	gotIn = e.Start(cid, "app", "Order", in)
	gotAmount = e.Input(cid, "app", "amount", amount)
	e.End(cid, "app", "Order", "done")
	return gotIn, gotAmount
}

type fixture struct {
	engine *capture.Engine
	store  *memory.Storage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New(memory.WithName("debug"))
	engine := capture.New(
		capture.WithLogStorage(store),
		capture.WithClock(testutil.NewFakeClock(time.Time{})),
	)
	t.Cleanup(func() { engine.Shutdown(context.Background()) })
	return &fixture{engine: engine, store: store}
}

// original captures one run of orderFlow and returns it as stored.
func (f *fixture) original(t *testing.T, cid string) *report.Report {
	t.Helper()
	orderFlow(f.engine, cid, "order-7", 10)
	ids, err := f.store.StorageIDs(context.Background())
	require.NoError(t, err)
	r, err := f.store.Report(context.Background(), ids[0])
	require.NoError(t, err)
	return r
}

func TestRunner_ReplayIsStubbed(t *testing.T) {
	f := newFixture(t)
	original := f.original(t, "orig")

	var gotIn, gotAmount any
	rerunner := RerunnerFunc(func(_ context.Context, cid string, o *report.Report, _ SecurityContext, runner *Runner) error {
		assert.Same(t, original, o)
		gotIn, gotAmount = orderFlow(runner.Engine(), cid, "live", 99)
		return nil
	})
	runner := NewRunner(f.engine, rerunner, WithIDGenerator(NewFixedGenerator("rerun-1")))

	require.NoError(t, runner.Start(context.Background(), []*report.Report{original}, true, true))
	assert.Equal(t, "order-7", gotIn)
	assert.Equal(t, 10, gotAmount)

	assert.Equal(t, 1, runner.Total())
	assert.Equal(t, 1, runner.Completed())
	res := runner.Results()[original.StorageID]
	assert.Equal(t, "rerun-1", res.CorrelationID)
	assert.Empty(t, res.Error)
	assert.Equal(t, "(3 >> 3 checkpoints) (0/3 >> 2/3 stubbed) (0 >> 0 ms)", res.Summary)
	require.NotNil(t, res.Report)
	assert.Equal(t, "rerun-1", res.Report.CorrelationID)

	size, err := f.store.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, size, "the replay is stored next to the original")
}

func TestRunner_FailedItemStillCompletes(t *testing.T) {
	f := newFixture(t)
	good := f.original(t, "good")
	bad := f.original(t, "bad")

	rerunner := RerunnerFunc(func(_ context.Context, cid string, o *report.Report, _ SecurityContext, runner *Runner) error {
		if o.CorrelationID == "bad" {
			return errors.New("host refused")
		}
		orderFlow(runner.Engine(), cid, "x", 1)
		return nil
	})
	runner := NewRunner(f.engine, rerunner, WithIDGenerator(NewFixedGenerator("r-bad", "r-good")))

	require.NoError(t, runner.Start(context.Background(), []*report.Report{bad, good}, false, true))
	assert.Equal(t, 2, runner.Completed())

	results := runner.Results()
	assert.Equal(t, "r-bad", results[bad.StorageID].CorrelationID)
	assert.Contains(t, results[bad.StorageID].Error, "host refused")
	assert.Empty(t, results[bad.StorageID].Summary)
	assert.Empty(t, results[good.StorageID].Error)
}

func TestRunner_RejectsSecondBatch(t *testing.T) {
	f := newFixture(t)
	original := f.original(t, "orig")

	release := make(chan struct{})
	rerunner := RerunnerFunc(func(_ context.Context, cid string, _ *report.Report, _ SecurityContext, runner *Runner) error {
		<-release
		orderFlow(runner.Engine(), cid, "x", 1)
		return nil
	})
	runner := NewRunner(f.engine, rerunner, WithIDGenerator(NewFixedGenerator("r-1")))

	require.NoError(t, runner.Start(context.Background(), []*report.Report{original}, true, false))
	assert.True(t, runner.Running())
	assert.ErrorIs(t, runner.Start(context.Background(), []*report.Report{original}, false, true), ErrAlreadyRunning)
	assert.ErrorIs(t, runner.Reset(), ErrAlreadyRunning)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Wait(ctx))

	assert.False(t, runner.Running())
	assert.Equal(t, 1, runner.Completed())
	require.NoError(t, runner.Reset())
	assert.Zero(t, runner.Total())
	assert.Empty(t, runner.Results())
}

func TestRunner_ResultsAccumulateWithoutReset(t *testing.T) {
	f := newFixture(t)
	first := f.original(t, "a")
	second := f.original(t, "b")

	rerunner := RerunnerFunc(func(_ context.Context, cid string, _ *report.Report, _ SecurityContext, runner *Runner) error {
		orderFlow(runner.Engine(), cid, "x", 1)
		return nil
	})
	runner := NewRunner(f.engine, rerunner, WithIDGenerator(NewFixedGenerator("r-1", "r-2", "r-3")))
	ctx := context.Background()

	require.NoError(t, runner.Start(ctx, []*report.Report{first}, false, true))
	require.NoError(t, runner.Start(ctx, []*report.Report{second}, false, true))
	assert.Equal(t, 2, runner.Total())
	assert.Len(t, runner.Results(), 2)

	require.NoError(t, runner.Start(ctx, []*report.Report{second}, true, true))
	assert.Equal(t, 1, runner.Total())
	assert.Equal(t, "r-3", runner.Results()[second.StorageID].CorrelationID)
}

func TestRunner_RunOneTimesOut(t *testing.T) {
	f := newFixture(t)
	original := f.original(t, "orig")

	idle := RerunnerFunc(func(context.Context, string, *report.Report, SecurityContext, *Runner) error {
		return nil
	})
	runner := NewRunner(f.engine, idle, WithTimeout(10*time.Millisecond), WithIDGenerator(NewFixedGenerator("r-1")))

	res := runner.RunOne(context.Background(), original)
	assert.Equal(t, "r-1", res.CorrelationID)
	assert.Contains(t, res.Error, context.DeadlineExceeded.Error())
	assert.Zero(t, runner.Completed(), "RunOne is not part of a batch")

	_, err := f.engine.WaitRerun(context.Background(), "r-1")
	assert.ErrorIs(t, err, capture.ErrNoRerun, "the registration is released")
}

func TestRunner_PanickingRerunner(t *testing.T) {
	f := newFixture(t)
	original := f.original(t, "orig")

	boom := RerunnerFunc(func(context.Context, string, *report.Report, SecurityContext, *Runner) error {
		panic("boom")
	})
	runner := NewRunner(f.engine, boom, WithIDGenerator(NewFixedGenerator("r-1")))

	res := runner.RunOne(context.Background(), original)
	assert.Contains(t, res.Error, "panic: boom")

	_, err := f.engine.WaitRerun(context.Background(), "r-1")
	assert.ErrorIs(t, err, capture.ErrNoRerun)
}

func TestRunner_SecurityContextIsPassedThrough(t *testing.T) {
	f := newFixture(t)
	original := f.original(t, "orig")
	sec := SecurityContext{TenantID: "acme", UserID: "tester", Permissions: []string{"rerun"}}

	var got SecurityContext
	rerunner := RerunnerFunc(func(_ context.Context, cid string, _ *report.Report, s SecurityContext, runner *Runner) error {
		got = s
		orderFlow(runner.Engine(), cid, "x", 1)
		return nil
	})
	runner := NewRunner(f.engine, rerunner, WithSecurityContext(sec), WithIDGenerator(NewFixedGenerator("r-1")))

	res := runner.RunOne(context.Background(), original)
	require.Empty(t, res.Error)
	assert.Equal(t, sec, got)
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestFixedGenerator_PanicsWhenExhausted(t *testing.T) {
	g := NewFixedGenerator("only")
	assert.Equal(t, "only", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

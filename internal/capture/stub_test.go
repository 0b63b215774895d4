package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wearefrank/ladybug-sub002/internal/report"
)

func captureOriginal(t *testing.T, e *Engine, store *recordingStorage) *report.Report {
	t.Helper()
	e.Start("orig", "test", "root", 10)
	e.Input("orig", "test", "value", "five")
	e.Output("orig", "test", "result", 100)
	e.End("orig", "test", "root", 100)
	reports := store.all()
	require.NotEmpty(t, reports)
	return reports[len(reports)-1]
}

func waitRerun(t *testing.T, e *Engine, cid string) *report.Report {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := e.WaitRerun(ctx, cid)
	require.NoError(t, err)
	return r
}

func TestStub_PositionalMatch(t *testing.T) {
	e, store, _ := newTestEngine(t)
	original := captureOriginal(t, e, store)

	require.NoError(t, e.StartRerun("rerun", original))
	assert.Equal(t, 10, e.Start("rerun", "test", "root", 99))
	assert.Equal(t, "five", e.Input("rerun", "test", "value", "live"))
	assert.Equal(t, 7, e.Output("rerun", "test", "result", 7), "outputpoints are never stubbed")
	e.End("rerun", "test", "root", 7)

	r := waitRerun(t, e, "rerun")
	require.Len(t, r.Checkpoints, 4)
	assert.True(t, r.Checkpoints[0].Stubbed)
	assert.Empty(t, r.Checkpoints[0].StubNotFound)
	assert.Equal(t, "10", r.Checkpoints[0].Message)
	assert.True(t, r.Checkpoints[1].Stubbed)
	assert.Equal(t, "five", r.Checkpoints[1].Message)
	assert.False(t, r.Checkpoints[2].Stubbed)
	assert.Equal(t, "7", r.Checkpoints[2].Message)
	assert.Same(t, original, r.OriginalReport)

	stubbed, notFound := r.CountStubbed()
	assert.Equal(t, 2, stubbed)
	assert.Equal(t, 0, notFound)

	_, err := e.WaitRerun(context.Background(), "rerun")
	assert.True(t, errors.Is(err, ErrNoRerun), "registration is released")
}

func TestStub_NameSharedByStartAndInput(t *testing.T) {
	e, store, _ := newTestEngine(t)
	e.Start("orig", "test", "order", "header")
	e.Input("orig", "test", "order", "body")
	e.Input("orig", "test", "order", "trailer")
	e.End("orig", "test", "order", "done")
	original := store.all()[0]

	require.NoError(t, e.StartRerun("rerun", original))
	assert.Equal(t, "header", e.Start("rerun", "test", "order", "live"))
	assert.Equal(t, "body", e.Input("rerun", "test", "order", "live"),
		"the startpoint does not count towards the inputpoint's position")
	assert.Equal(t, "trailer", e.Input("rerun", "test", "order", "live"))
	e.End("rerun", "test", "order", nil)

	r := waitRerun(t, e, "rerun")
	for _, cp := range r.Checkpoints[:3] {
		assert.True(t, cp.Stubbed, "checkpoint %d", cp.Index)
		assert.Empty(t, cp.StubNotFound, "checkpoint %d", cp.Index)
	}
}

func TestStub_AlternativeAndDefault(t *testing.T) {
	e, store, _ := newTestEngine(t)
	original := captureOriginal(t, e, store)

	require.NoError(t, e.StartRerun("rerun", original))
	e.Start("rerun", "test", "root", 1)
	assert.Equal(t, "", e.Start("rerun", "test", "extra", "live"), "no counterpart yields a zero value")
	assert.Equal(t, "five", e.Input("rerun", "test", "value", "live"), "found by name at another level")
	e.End("rerun", "test", "extra", nil)
	e.End("rerun", "test", "root", nil)

	r := waitRerun(t, e, "rerun")
	extra := r.Checkpoints[1]
	assert.True(t, extra.Stubbed)
	assert.Equal(t, `No Startpoint "extra" found, used default value`, extra.StubNotFound)
	assert.Equal(t, "", extra.Message)

	value := r.Checkpoints[2]
	assert.True(t, value.Stubbed)
	assert.Equal(t, 2, value.Level)
	assert.Equal(t, "five", value.Message)
	assert.Contains(t, value.StubNotFound, `No Inputpoint "value" found at level 2 position 0`)
	assert.Contains(t, value.StubNotFound, "used checkpoint 1: five")

	stubbed, notFound := r.CountStubbed()
	assert.Equal(t, 3, stubbed)
	assert.Equal(t, 2, notFound)
}

func TestStub_Strategies(t *testing.T) {
	e, store, _ := newTestEngine(t)
	original := captureOriginal(t, e, store)

	t.Run("never", func(t *testing.T) {
		never := original.Clone()
		never.StubStrategy = report.StubStrategyNever
		require.NoError(t, e.StartRerun("never", never))
		assert.Equal(t, 99, e.Start("never", "test", "root", 99))
		e.End("never", "test", "root", nil)

		r := waitRerun(t, e, "never")
		assert.False(t, r.Checkpoints[0].Stubbed)
		assert.Equal(t, report.StubStrategyNever, r.StubStrategy)
	})

	t.Run("checkpoint says no", func(t *testing.T) {
		no := original.Clone()
		no.Checkpoints[0].Stub = report.StubNo
		require.NoError(t, e.StartRerun("no", no))
		assert.Equal(t, 99, e.Start("no", "test", "root", 99))
		e.End("no", "test", "root", nil)
		assert.False(t, waitRerun(t, e, "no").Checkpoints[0].Stubbed)
	})

	t.Run("always overrides checkpoint", func(t *testing.T) {
		always := original.Clone()
		always.StubStrategy = report.StubStrategyAlways
		always.Checkpoints[0].Stub = report.StubNo
		require.NoError(t, e.StartRerun("always", always))
		assert.Equal(t, 10, e.Start("always", "test", "root", 99))
		e.End("always", "test", "root", nil)
		assert.True(t, waitRerun(t, e, "always").Checkpoints[0].Stubbed)
	})

	t.Run("checkpoint says yes under never", func(t *testing.T) {
		yes := original.Clone()
		yes.StubStrategy = report.StubStrategyNever
		yes.Checkpoints[0].Stub = report.StubYes
		require.NoError(t, e.StartRerun("yes", yes))
		assert.Equal(t, 10, e.Start("yes", "test", "root", 99))
		e.End("yes", "test", "root", nil)
		assert.True(t, waitRerun(t, e, "yes").Checkpoints[0].Stubbed)
	})
}

func TestStub_Registration(t *testing.T) {
	e, _, _ := newTestEngine(t)
	original := report.New("orig", "root", time.Now())

	require.NoError(t, e.StartRerun("cid", original))
	err := e.StartRerun("cid", original)
	assert.True(t, errors.Is(err, ErrRerunRegistered))
	assert.Error(t, e.StartRerun("other", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.WaitRerun(ctx, "cid")
	assert.True(t, errors.Is(err, context.Canceled))

	e.CancelRerun("cid")
	_, err = e.WaitRerun(context.Background(), "cid")
	assert.True(t, errors.Is(err, ErrNoRerun))
}

package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/wearefrank/ladybug-sub002/internal/report"
)

type shape struct {
	Type  report.CheckpointType
	Name  string
	Level int
}

func shapeOf(r *report.Report) []shape {
	out := make([]shape, len(r.Checkpoints))
	for i, cp := range r.Checkpoints {
		out[i] = shape{cp.Type, cp.Name, cp.Level}
	}
	return out
}

func TestIngestSpans_Tree(t *testing.T) {
	e, store, _ := newTestEngine(t)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Deliberately out of order: siblings sort by start time.
	spans := []Span{
		{ID: "c", ParentID: "r", TraceID: "t1", Name: "cache", Start: t0.Add(3 * time.Millisecond)},
		{ID: "b", ParentID: "a", TraceID: "t1", Name: "query", Start: t0.Add(2 * time.Millisecond)},
		{ID: "a", ParentID: "r", TraceID: "t1", Name: "db", Start: t0.Add(time.Millisecond),
			Annotations: map[string]string{"table": "orders", "op": "select"}},
		{ID: "r", TraceID: "t1", Name: "request", Start: t0},
	}
	require.NoError(t, e.IngestSpans(context.Background(), spans))

	reports := store.all()
	require.Len(t, reports, 1)
	r := reports[0]
	assert.Equal(t, "t1", r.CorrelationID)
	assert.Equal(t, "request", r.Name)
	assert.Equal(t, []shape{
		{report.TypeStart, "request", 0},
		{report.TypeStart, "db", 1},
		{report.TypeInfo, "query", 2},
		{report.TypeEnd, "db", 1},
		{report.TypeInfo, "cache", 1},
		{report.TypeEnd, "request", 0},
	}, shapeOf(r))
	assert.Equal(t, `{"op":"select","table":"orders"}`, r.Checkpoints[1].Message)
	assert.Equal(t, SpanSource, r.Checkpoints[1].SourceName)
}

func TestIngestSpans_SeparateTraces(t *testing.T) {
	e, store, _ := newTestEngine(t)

	require.NoError(t, e.IngestSpans(context.Background(), []Span{
		{ID: "1", TraceID: "t1", Name: "one"},
		{ID: "2", TraceID: "t2", Name: "two"},
	}))

	reports := store.all()
	require.Len(t, reports, 2)
	assert.Equal(t, "t1", reports[0].CorrelationID)
	assert.Equal(t, []shape{{report.TypeStart, "one", 0}, {report.TypeEnd, "one", 0}}, shapeOf(reports[0]))
	assert.Equal(t, "t2", reports[1].CorrelationID)
}

func TestIngestSpans_OrphansStayInOneReport(t *testing.T) {
	e, store, _ := newTestEngine(t)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, e.IngestSpans(context.Background(), []Span{
		{ID: "a", ParentID: "gone", TraceID: "t1", Name: "retry", Start: t0.Add(2 * time.Millisecond)},
		{ID: "r", TraceID: "t1", Name: "request", Start: t0},
		{ID: "b", ParentID: "lost", TraceID: "t1", Name: "publish", Start: t0.Add(time.Millisecond)},
		{ID: "c", ParentID: "b", TraceID: "t1", Name: "encode", Start: t0.Add(3 * time.Millisecond)},
		{ID: "x", ParentID: "r", TraceID: "t1", Name: "auth", Start: t0.Add(4 * time.Millisecond)},
		{ID: "q", TraceID: "t1", Name: "late", Start: t0.Add(5 * time.Millisecond)},
	}))

	reports := store.all()
	require.Len(t, reports, 1)
	assert.Equal(t, "request", reports[0].Name)
	assert.Equal(t, []shape{
		{report.TypeStart, "request", 0},
		{report.TypeStart, "publish", 1},
		{report.TypeInfo, "encode", 2},
		{report.TypeEnd, "publish", 1},
		{report.TypeInfo, "retry", 1},
		{report.TypeInfo, "auth", 1},
		{report.TypeStart, "late", 1},
		{report.TypeEnd, "late", 1},
		{report.TypeEnd, "request", 0},
	}, shapeOf(reports[0]))
}

func TestIngestSpans_MissingIDs(t *testing.T) {
	e, _, _ := newTestEngine(t)
	err := e.IngestSpans(context.Background(), []Span{{Name: "anonymous"}})
	assert.Error(t, err)
}

func TestSpanExporter_TracerProvider(t *testing.T) {
	e, store, _ := newTestEngine(t)
	exporter := NewSpanExporter(e)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	tracer := tp.Tracer("ladybug-test")

	ctx, root := tracer.Start(context.Background(), "handle")
	_, child := tracer.Start(ctx, "lookup", trace.WithAttributes(attribute.String("key", "42")))
	child.End()
	assert.Empty(t, store.all(), "held until the root span ends")
	root.End()

	require.NoError(t, tp.Shutdown(context.Background()))

	reports := store.all()
	require.Len(t, reports, 1)
	assert.Equal(t, root.SpanContext().TraceID().String(), reports[0].CorrelationID)
	assert.Equal(t, []shape{
		{report.TypeStart, "handle", 0},
		{report.TypeInfo, "lookup", 1},
		{report.TypeEnd, "handle", 0},
	}, shapeOf(reports[0]))
	assert.Equal(t, `{"key":"42"}`, reports[0].Checkpoints[1].Message)
}

func TestSpanExporter_ShutdownFlushesOrphans(t *testing.T) {
	e, store, _ := newTestEngine(t)
	exporter := NewSpanExporter(e)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	tracer := tp.Tracer("ladybug-test")

	ctx, root := tracer.Start(context.Background(), "handle")
	_, child := tracer.Start(ctx, "lookup")
	child.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	_ = root

	reports := store.all()
	require.Len(t, reports, 1)
	assert.Equal(t, "lookup", reports[0].Name)
}

package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SpanSource is the source name recorded on checkpoints created from spans.
const SpanSource = "span"

// Span is one unit of a distributed trace.
type Span struct {
	ID          string            `json:"id"`
	ParentID    string            `json:"parent_id,omitempty"`
	TraceID     string            `json:"trace_id"`
	Name        string            `json:"name"`
	Start       time.Time         `json:"start"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// IngestSpans converts spans into checkpoints, one report per trace id.
//
// A root span opens its trace's report and closes it after everything
// below it. Spans with children become startpoint/endpoint pairs around
// their children; leaves become infopoints. Siblings are ordered by start
// time. The earliest span without a parent id is the report's root, or the
// earliest orphan when there is none. Other roots, and spans whose parent
// is not in the batch, are placed under it with their subtrees. Roots
// always become startpoint/endpoint pairs; orphan leaves become infopoints.
func (e *Engine) IngestSpans(ctx context.Context, spans []Span) error {
	traces := make(map[string][]Span)
	var order []string
	for _, s := range spans {
		if s.ID == "" || s.TraceID == "" {
			return fmt.Errorf("ingest span %q: missing span or trace id", s.Name)
		}
		if _, ok := traces[s.TraceID]; !ok {
			order = append(order, s.TraceID)
		}
		traces[s.TraceID] = append(traces[s.TraceID], s)
	}

	for _, traceID := range order {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ingest trace %s: %w", traceID, err)
		}
		e.ingestTrace(traceID, traces[traceID])
	}
	return nil
}

func (e *Engine) ingestTrace(traceID string, spans []Span) {
	ids := make(map[string]bool, len(spans))
	for _, s := range spans {
		ids[s.ID] = true
	}
	children := make(map[string][]Span)
	var roots []Span
	for _, s := range spans {
		if s.ParentID == "" || !ids[s.ParentID] {
			roots = append(roots, s)
			continue
		}
		children[s.ParentID] = append(children[s.ParentID], s)
	}
	byStart := func(a, b Span) int { return a.Start.Compare(b.Start) }
	// Spans without a parent id come before orphans.
	slices.SortStableFunc(roots, func(a, b Span) int {
		if (a.ParentID == "") != (b.ParentID == "") {
			if a.ParentID == "" {
				return -1
			}
			return 1
		}
		return byStart(a, b)
	})
	for id := range children {
		slices.SortStableFunc(children[id], byStart)
	}

	var walk func(s Span)
	walk = func(s Span) {
		kids := children[s.ID]
		if len(kids) == 0 && s.ParentID != "" {
			e.Info(traceID, SpanSource, s.Name, annotationText(s.Annotations))
			return
		}
		e.Start(traceID, SpanSource, s.Name, annotationText(s.Annotations))
		for _, k := range kids {
			walk(k)
		}
		e.End(traceID, SpanSource, s.Name, nil)
	}

	if len(roots) == 0 {
		return
	}
	// The earliest root carries the report. Other roots and spans whose
	// parent is not in the batch nest under it, so a trace stays one report.
	root := roots[0]
	top := slices.Concat(children[root.ID], roots[1:])
	slices.SortStableFunc(top, byStart)

	e.Start(traceID, SpanSource, root.Name, annotationText(root.Annotations))
	for _, s := range top {
		walk(s)
	}
	e.End(traceID, SpanSource, root.Name, nil)
}

// annotationText renders annotations as JSON with sorted keys, or nil when
// there are none.
func annotationText(a map[string]string) any {
	if len(a) == 0 {
		return nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Sprint(a)
	}
	return string(b)
}

// SpanExporter feeds OpenTelemetry spans into the engine. Spans are held per
// trace until the trace's root span is exported, since children usually end
// (and are exported) before their parent.
type SpanExporter struct {
	engine *Engine

	mu      sync.Mutex
	pending map[string][]Span
	stopped bool
}

var _ sdktrace.SpanExporter = (*SpanExporter)(nil)

// NewSpanExporter creates an exporter that records into e.
func NewSpanExporter(e *Engine) *SpanExporter {
	return &SpanExporter{engine: e, pending: make(map[string][]Span)}
}

// ExportSpans implements sdktrace.SpanExporter.
func (x *SpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	var ready [][]Span

	x.mu.Lock()
	if x.stopped {
		x.mu.Unlock()
		return nil
	}
	for _, ro := range spans {
		s := convertSpan(ro)
		x.pending[s.TraceID] = append(x.pending[s.TraceID], s)
		if s.ParentID == "" {
			ready = append(ready, x.pending[s.TraceID])
			delete(x.pending, s.TraceID)
		}
	}
	x.mu.Unlock()

	for _, trace := range ready {
		if err := x.engine.IngestSpans(ctx, trace); err != nil {
			return fmt.Errorf("export spans: %w", err)
		}
	}
	return nil
}

// Shutdown ingests traces whose root span never arrived and stops the
// exporter.
func (x *SpanExporter) Shutdown(ctx context.Context) error {
	x.mu.Lock()
	x.stopped = true
	pending := x.pending
	x.pending = make(map[string][]Span)
	x.mu.Unlock()

	for _, trace := range pending {
		if err := x.engine.IngestSpans(ctx, trace); err != nil {
			return fmt.Errorf("shutdown span exporter: %w", err)
		}
	}
	return nil
}

func convertSpan(ro sdktrace.ReadOnlySpan) Span {
	s := Span{
		ID:      ro.SpanContext().SpanID().String(),
		TraceID: ro.SpanContext().TraceID().String(),
		Name:    ro.Name(),
		Start:   ro.StartTime(),
	}
	if p := ro.Parent(); p.IsValid() {
		s.ParentID = p.SpanID().String()
	}
	if attrs := ro.Attributes(); len(attrs) > 0 {
		s.Annotations = make(map[string]string, len(attrs))
		for _, kv := range attrs {
			s.Annotations[string(kv.Key)] = kv.Value.Emit()
		}
	}
	return s
}

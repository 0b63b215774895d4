package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wearefrank/ladybug-sub002/internal/message"
	"github.com/wearefrank/ladybug-sub002/internal/report"
)

// ErrRerunRegistered is returned by StartRerun when the correlation id is
// already bound to a rerun.
var ErrRerunRegistered = errors.New("correlation id already has a rerun registered")

// ErrNoRerun is returned by WaitRerun for correlation ids without a rerun.
var ErrNoRerun = errors.New("no rerun registered for correlation id")

// Stub lookup results, used as metric labels.
const (
	stubMatched     = "matched"
	stubAlternative = "alternative"
	stubDefault     = "default"
)

// rerunState connects a rerun in progress to the goroutine waiting for its
// report.
type rerunState struct {
	original *report.Report
	once     sync.Once
	done     chan struct{}
	result   *report.Report
}

func (rs *rerunState) complete(r *report.Report) {
	rs.once.Do(func() {
		rs.result = r
		close(rs.done)
	})
}

// StartRerun makes the next report captured under correlationID a rerun of
// original: its startpoints and inputpoints are answered from original.
func (e *Engine) StartRerun(correlationID string, original *report.Report) error {
	if original == nil {
		return fmt.Errorf("start rerun %s: nil original report", correlationID)
	}
	rs := &rerunState{original: original, done: make(chan struct{})}
	if _, loaded := e.reruns.LoadOrStore(correlationID, rs); loaded {
		return fmt.Errorf("start rerun %s: %w", correlationID, ErrRerunRegistered)
	}
	return nil
}

// WaitRerun blocks until the rerun report for correlationID is finalized or
// ctx is done, then releases the registration.
func (e *Engine) WaitRerun(ctx context.Context, correlationID string) (*report.Report, error) {
	v, ok := e.reruns.Load(correlationID)
	if !ok {
		return nil, fmt.Errorf("wait rerun %s: %w", correlationID, ErrNoRerun)
	}
	rs := v.(*rerunState)
	defer e.reruns.CompareAndDelete(correlationID, rs)

	select {
	case <-rs.done:
		return rs.result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wait rerun %s: %w", correlationID, ctx.Err())
	}
}

// CancelRerun drops the registration for correlationID. A report already
// in progress keeps stubbing until it closes.
func (e *Engine) CancelRerun(correlationID string) {
	e.reruns.Delete(correlationID)
}

type stubKey struct {
	name string
	typ  report.CheckpointType
}

// stubState tracks how many checkpoints of each name and type the rerun has
// recorded, so the nth occurrence is matched with the nth in the original.
type stubState struct {
	original *report.Report
	seen     map[stubKey]int
}

func newStubState(original *report.Report) *stubState {
	return &stubState{original: original, seen: make(map[stubKey]int)}
}

type stubResult struct {
	original *message.Encoded // nil when a default value is used
	notFound string
	kind     string
}

// resolve decides whether the checkpoint is stubbed and with which stored
// message. It must be called once per stubbable checkpoint, in order.
func (s *stubState) resolve(name string, typ report.CheckpointType, level int, strategy report.StubStrategy) (stubResult, bool) {
	key := stubKey{name: name, typ: typ}
	pos := s.seen[key]
	s.seen[key] = pos + 1

	cp, exact := s.lookup(name, typ, level, pos)
	if !stubWanted(cp, strategy) {
		return stubResult{}, false
	}
	switch {
	case cp != nil && exact:
		return stubResult{original: encodedOf(cp), kind: stubMatched}, true
	case cp != nil:
		return stubResult{
			original: encodedOf(cp),
			notFound: fmt.Sprintf("No %s %q found at level %d position %d, used checkpoint %d: %s",
				typ, name, level, pos, cp.Index, abbreviate(cp.Message, 100)),
			kind: stubAlternative,
		}, true
	default:
		return stubResult{
			notFound: fmt.Sprintf("No %s %q found, used default value", typ, name),
			kind:     stubDefault,
		}, true
	}
}

// lookup finds the pos-th checkpoint of the original with the given name
// and type. exact is false when that one is missing or sits at another
// level and a checkpoint with the same name is returned instead.
func (s *stubState) lookup(name string, typ report.CheckpointType, level, pos int) (cp *report.Checkpoint, exact bool) {
	cps := s.original.Checkpoints
	n := 0
	for i := range cps {
		if cps[i].Name != name || cps[i].Type != typ {
			continue
		}
		if n == pos {
			if cps[i].Level == level {
				return &cps[i], true
			}
			break
		}
		n++
	}
	for i := range cps {
		if cps[i].Name == name && cps[i].Type == typ {
			return &cps[i], false
		}
	}
	for i := range cps {
		if cps[i].Name == name {
			return &cps[i], false
		}
	}
	return nil, false
}

// stubWanted applies the original checkpoint's own disposition first and
// the report strategy otherwise. Always overrides a checkpoint's "no".
func stubWanted(cp *report.Checkpoint, strategy report.StubStrategy) bool {
	if cp != nil {
		switch cp.Stub {
		case report.StubYes:
			return true
		case report.StubNo:
			return strategy == report.StubStrategyAlways
		}
	}
	return strategy != report.StubStrategyNever
}

func encodedOf(cp *report.Checkpoint) *message.Encoded {
	return &message.Encoded{Text: cp.Message, Encoding: cp.Encoding, ClassName: cp.ClassName}
}

func abbreviate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

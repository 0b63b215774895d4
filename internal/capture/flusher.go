package capture

import (
	"context"
	"sync"

	"github.com/wearefrank/ladybug-sub002/internal/report"
)

// flushQueue is a thread-safe FIFO of finalized reports waiting for the log
// storage.
//
// The queue is unbounded so capturing goroutines never block on a slow
// backend. A single goroutine (run) drains it; the signal channel makes the
// wait context-aware.
type flushQueue struct {
	mu      sync.Mutex
	reports []*report.Report
	closed  bool
	signal  chan struct{} // Signals availability (buffered, size 1)
	done    chan struct{} // Closed when run returns
}

func newFlushQueue() *flushQueue {
	return &flushQueue{
		reports: make([]*report.Report, 0, 16),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// enqueue adds a report to the back of the queue.
// Returns false if the queue is closed.
func (q *flushQueue) enqueue(r *report.Report) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.reports = append(q.reports, r)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// tryDequeue removes the front report without blocking.
func (q *flushQueue) tryDequeue() (*report.Report, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.reports) == 0 {
		return nil, false
	}
	r := q.reports[0]
	// Drop the reference so the backing array does not pin flushed reports.
	q.reports[0] = nil
	if len(q.reports) == 1 {
		q.reports = q.reports[:0]
	} else {
		q.reports = q.reports[1:]
	}
	return r, true
}

func (q *flushQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reports)
}

// close stops accepting reports and wakes the run loop, which drains what
// is left before returning.
func (q *flushQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// run hands queued reports to store until the queue is closed and empty.
func (q *flushQueue) run(store func(*report.Report)) {
	defer close(q.done)
	for {
		if r, ok := q.tryDequeue(); ok {
			store(r)
			continue
		}
		if _, open := <-q.signal; !open && q.len() == 0 {
			return
		}
	}
}

// wait blocks until run has returned or ctx is done.
func (q *flushQueue) wait(ctx context.Context) error {
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package capture

import (
	"sync"
	"time"

	"github.com/wearefrank/ladybug-sub002/internal/report"
)

// entry is one in-progress report and its nesting state. All fields are
// guarded by mu.
type entry struct {
	mu     sync.Mutex
	report *report.Report

	// level is the current nesting depth.
	level int

	// threads counts flows that must end before the report closes: the main
	// flow, announced goroutines, and started goroutines.
	threads int

	// pendingThreads counts createpoints whose goroutine has not started yet.
	pendingThreads int

	mainDone    bool
	mainDoneAt  time.Time
	done        bool
	limitWarned bool

	stub  *stubState  // nil outside reruns
	rerun *rerunState // nil outside reruns
}

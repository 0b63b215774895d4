package capture

import "time"

// Clock supplies wall time for report timestamps and sweep ages.
//
// Thread-safety: implementations must be safe for concurrent use; Now is
// called from every capturing goroutine.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system time, truncated to milliseconds so stored
// timestamps survive export and import unchanged.
type SystemClock struct{}

// Now returns the current time at millisecond precision.
func (SystemClock) Now() time.Time {
	return time.Now().Truncate(time.Millisecond)
}

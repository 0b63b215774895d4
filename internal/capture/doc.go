// Package capture implements the ladybug capture engine: the registry of
// in-progress reports that turns checkpoint calls into finalized reports.
//
// ARCHITECTURE:
//
// Report Registry:
// Each correlation id maps to one in-progress entry in a sync.Map. Every
// entry carries its own mutex, so checkpoint calls for unrelated correlation
// ids never wait on each other. Calls for the same id append in the order
// they acquire that mutex.
//
// Nesting:
// Startpoints and thread startpoints open a level, endpoints, abortpoints and
// thread endpoints close one. A checkpoint is recorded at the level in force
// after its own effect, so an endpoint sits at the level of its startpoint.
// The level never goes below zero.
//
// Finalization:
// When the main flow closes its outermost level and no goroutine announced by
// a thread createpoint or opened by a thread startpoint is still running, the
// report is frozen, removed from the registry and handed to the log storage.
// With WithAsyncFlush the hand-off goes through a FIFO queue drained by a
// single goroutine so a slow backend never blocks business goroutines.
//
// Failure Isolation:
// Record never panics and never returns an error. Internal failures are
// logged and kept as LastError; the caller always gets a usable message back.
//
// Stubbing:
// StartRerun scopes stubbing to one correlation id. Startpoints and
// inputpoints of that report take their message from the original report's
// checkpoint with the same name, type and level at the same position among
// checkpoints of that name. See stub.go.
package capture

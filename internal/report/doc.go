// Package report defines the Report and Checkpoint value types captured by
// ladybug.
//
// A Report is one execution trace grouped under a caller-supplied correlation
// id. Its Checkpoints are kept in arrival order and are append-only until the
// report is finalized. After that the report is frozen: storage backends hand
// out detached copies (Clone) and any mutation goes through an explicit
// storage Update.
//
// This package imports nothing internal. All other packages build on it.
//
// Key constraints:
//   - Checkpoint.Level is never negative
//   - Checkpoint.Index equals the checkpoint's position in Report.Checkpoints
//   - StorageID is assigned by a storage backend, never by the capture engine
package report

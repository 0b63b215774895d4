// Package rerun replays stored reports and compares each replay with its
// original.
//
// A Runner assigns every replay a fresh correlation id, registers the
// original with the capture engine so startpoints and inputpoints are
// answered from stored messages, and asks the host's Rerunner to drive the
// flow again. The captured replay is compared with the original by
// Summarize and MessageDiffs.
//
// Batches run synchronously or on a background goroutine. One failed item
// never aborts the rest: its error text is kept in its Result and it still
// counts as completed.
package rerun

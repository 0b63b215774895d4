package report

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// ErrReportFrozen is returned when appending to a finalized report.
var ErrReportFrozen = errors.New("report is finalized")

// Report is the ordered set of checkpoints captured under one correlation id.
type Report struct {
	StorageID      int64             `json:"storage_id"`
	CorrelationID  string            `json:"correlation_id"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	Path           string            `json:"path,omitempty"`
	StartTime      time.Time         `json:"start_time"`
	EndTime        time.Time         `json:"end_time"`
	StubStrategy   StubStrategy      `json:"stub_strategy,omitempty"`
	Transformation string            `json:"transformation,omitempty"`
	Variables      map[string]string `json:"variables,omitempty"`
	Checkpoints    []Checkpoint      `json:"checkpoints"`

	// OriginalReport is the report a rerun was stubbed from. It is not
	// persisted and is never owned by this report.
	OriginalReport *Report `json:"-"`

	// Storage names the backend the report was read from, if any. It is a
	// lookup convenience only.
	Storage string `json:"-"`

	frozen bool
}

// New creates an empty, unfrozen report.
func New(correlationID, name string, start time.Time) *Report {
	return &Report{
		CorrelationID: correlationID,
		Name:          name,
		StartTime:     start,
		StubStrategy:  StubStrategyDefault,
	}
}

// Append adds c at the end of the checkpoint list and sets its Index.
func (r *Report) Append(c Checkpoint) (int, error) {
	if r.frozen {
		return 0, ErrReportFrozen
	}
	if c.Level < 0 {
		return 0, fmt.Errorf("append checkpoint %q: negative level %d", c.Name, c.Level)
	}
	c.Index = len(r.Checkpoints)
	r.Checkpoints = append(r.Checkpoints, c)
	return c.Index, nil
}

// Finalize freezes the checkpoint list and stamps the end time.
func (r *Report) Finalize(end time.Time) {
	if r.frozen {
		return
	}
	r.EndTime = end
	r.frozen = true
}

// Frozen reports whether Finalize has been called.
func (r *Report) Frozen() bool {
	return r.frozen
}

// Complete reports whether the report reached a regular end. Reports that
// were force-finalized by a sweep before their main flow ended, and reports
// still in progress, are not complete.
func (r *Report) Complete() bool {
	return r.frozen && !r.EndTime.IsZero()
}

// Duration is EndTime minus StartTime, or zero for an incomplete report.
func (r *Report) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// Clone returns a deep copy that shares no mutable state with r. The
// frozen flag is preserved.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	c := *r
	c.Variables = maps.Clone(r.Variables)
	if r.Checkpoints != nil {
		c.Checkpoints = make([]Checkpoint, len(r.Checkpoints))
		copy(c.Checkpoints, r.Checkpoints)
	}
	return &c
}

// Unfreeze allows a stored copy to be edited before an explicit storage
// update. It never affects reports owned by the capture engine because those
// are only handed out as clones.
func (r *Report) Unfreeze() {
	r.frozen = false
}

// CheckpointByName returns the first checkpoint with the given name.
func (r *Report) CheckpointByName(name string) (*Checkpoint, bool) {
	for i := range r.Checkpoints {
		if r.Checkpoints[i].Name == name {
			return &r.Checkpoints[i], true
		}
	}
	return nil, false
}

// LastCheckpoint returns the final checkpoint, if any.
func (r *Report) LastCheckpoint() (*Checkpoint, bool) {
	if len(r.Checkpoints) == 0 {
		return nil, false
	}
	return &r.Checkpoints[len(r.Checkpoints)-1], true
}

// EstimatedMemoryUsage sums the per-checkpoint estimates plus a fixed
// overhead for the report itself.
func (r *Report) EstimatedMemoryUsage() int64 {
	const overhead = 256
	total := int64(overhead + len(r.CorrelationID) + len(r.Name) + len(r.Description) +
		len(r.Path) + len(r.Transformation))
	for k, v := range r.Variables {
		total += int64(len(k) + len(v))
	}
	for i := range r.Checkpoints {
		total += r.Checkpoints[i].EstimatedMemoryUsage()
	}
	return total
}

// CountStubbed returns the number of stubbed checkpoints and the number of
// those that used a fallback because no positional counterpart existed.
func (r *Report) CountStubbed() (stubbed, notFound int) {
	for i := range r.Checkpoints {
		if r.Checkpoints[i].Stubbed {
			stubbed++
		}
		if r.Checkpoints[i].StubNotFound != "" {
			notFound++
		}
	}
	return stubbed, notFound
}

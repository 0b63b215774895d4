package report

import (
	"fmt"
	"strings"
	"time"
)

// TimeFormat is the display format for report timestamps.
const TimeFormat = "2006-01-02 15:04:05.000"

// Text renders the report as indented, human-readable text. The relational
// backend stores this in its optional report-text column.
func (r *Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Report %q (storage id %d, correlation id %s)\n", r.Name, r.StorageID, r.CorrelationID)
	fmt.Fprintf(&b, "Start: %s\n", formatTime(r.StartTime))
	fmt.Fprintf(&b, "End:   %s\n", formatTime(r.EndTime))
	for i := range r.Checkpoints {
		c := &r.Checkpoints[i]
		b.WriteString(strings.Repeat("  ", c.Level))
		fmt.Fprintf(&b, "%s %s", c.Type, c.Name)
		if c.Stubbed {
			b.WriteString(" [stubbed]")
		}
		if c.Message != "" {
			b.WriteString(": ")
			b.WriteString(strings.ReplaceAll(c.Message, "\n", "\n"+strings.Repeat("  ", c.Level+1)))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(TimeFormat)
}

// Normalized returns a clone with fields that legitimately differ between a
// report and its stored or re-imported copy reset: storage id, timestamps and
// the storage back-reference.
func (r *Report) Normalized() *Report {
	c := r.Clone()
	c.StorageID = 0
	c.StartTime = time.Time{}
	c.EndTime = time.Time{}
	c.Storage = ""
	c.OriginalReport = nil
	return c
}

package testutil

import (
	"time"

	"github.com/wearefrank/ladybug-sub002/internal/report"
)

// ReportBuilder assembles finalized reports for storage and rerun tests
// without going through the capture engine. Levels follow the engine's
// nesting rules.
type ReportBuilder struct {
	r     *report.Report
	level int
}

// NewReport starts a report named name, started at Epoch.
func NewReport(correlationID, name string) *ReportBuilder {
	return &ReportBuilder{r: report.New(correlationID, name, Epoch)}
}

// Checkpoint appends a checkpoint with a plain string message.
func (b *ReportBuilder) Checkpoint(typ report.CheckpointType, name, msg string) *ReportBuilder {
	return b.Encoded(typ, name, msg, "", "")
}

// Encoded appends a checkpoint with an explicit encoding and class name.
func (b *ReportBuilder) Encoded(typ report.CheckpointType, name, msg, encoding, class string) *ReportBuilder {
	if typ.Closes() && b.level > 0 {
		b.level--
	}
	level := b.level
	if typ.Opens() {
		b.level++
	}
	_, _ = b.r.Append(report.Checkpoint{
		Name:      name,
		Type:      typ,
		Level:     level,
		Message:   msg,
		Encoding:  encoding,
		ClassName: class,
	})
	return b
}

// Variable sets a report variable.
func (b *ReportBuilder) Variable(key, value string) *ReportBuilder {
	if b.r.Variables == nil {
		b.r.Variables = make(map[string]string)
	}
	b.r.Variables[key] = value
	return b
}

// Build finalizes the report, ending it d after it started.
func (b *ReportBuilder) Build(d time.Duration) *report.Report {
	b.r.Finalize(b.r.StartTime.Add(d))
	return b.r
}

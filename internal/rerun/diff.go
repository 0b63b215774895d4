package rerun

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/wearefrank/ladybug-sub002/internal/report"
)

// MessageDiff is the difference between the messages of the checkpoints at
// one index.
type MessageDiff struct {
	Index int    `json:"index"`
	Name  string `json:"name"`

	// Diff marks deleted text [-like this-] and inserted text {+like this+}.
	Diff string `json:"diff"`
}

// MessageDiffs compares the messages of original and result checkpoint by
// checkpoint. Checkpoints present on one side only are diffed against an
// empty message. Indexes with equal messages are left out.
func MessageDiffs(original, result *report.Report) []MessageDiff {
	dmp := diffmatchpatch.New()
	n := max(len(original.Checkpoints), len(result.Checkpoints))

	var out []MessageDiff
	for i := 0; i < n; i++ {
		var before, after, name string
		if i < len(original.Checkpoints) {
			before = original.Checkpoints[i].Message
			name = original.Checkpoints[i].Name
		}
		if i < len(result.Checkpoints) {
			after = result.Checkpoints[i].Message
			name = result.Checkpoints[i].Name
		}
		if before == after {
			continue
		}
		diffs := dmp.DiffCleanupSemantic(dmp.DiffMain(before, after, false))
		out = append(out, MessageDiff{Index: i, Name: name, Diff: render(diffs)})
	}
	return out
}

func render(diffs []diffmatchpatch.Diff) string {
	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			b.WriteString("[-" + d.Text + "-]")
		case diffmatchpatch.DiffInsert:
			b.WriteString("{+" + d.Text + "+}")
		case diffmatchpatch.DiffEqual:
			b.WriteString(d.Text)
		}
	}
	return b.String()
}

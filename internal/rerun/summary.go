package rerun

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/wearefrank/ladybug-sub002/internal/report"
)

// maxDiagnostics caps the stub diagnostics quoted in a summary, in runes.
const maxDiagnostics = 200

const notAvailable = "n/a"

// counts are the figures of one side of a summary. ok is false for a
// report that never completed.
type counts struct {
	ok          bool
	checkpoints int
	stubbed     int
	notFound    int
	millis      int64
}

func countsOf(r *report.Report) counts {
	if r == nil || !r.Complete() {
		return counts{}
	}
	stubbed, notFound := r.CountStubbed()
	return counts{
		ok:          true,
		checkpoints: len(r.Checkpoints),
		stubbed:     stubbed,
		notFound:    notFound,
		millis:      r.Duration().Milliseconds(),
	}
}

func (c counts) show(v int64) string {
	if !c.ok {
		return notAvailable
	}
	return strconv.FormatInt(v, 10)
}

func (c counts) ratio(num, den int) string {
	if !c.ok {
		return notAvailable
	}
	return fmt.Sprintf("%d/%d", num, den)
}

// Summarize describes how result differs from original in one line:
//
//	(4 >> 5 checkpoints) (1 >> 2 stubs not found) (2/4 >> 3/5 stubbed)
//	(1/2 >> 2/3 not found/stubbed) <diagnostics> (10 >> 12 ms)
//
// Figures of a report that never completed read "n/a". The stubs-not-found
// part is left out when every count is zero, or when the extra fallbacks
// match the extra checkpoints one for one. The not-found ratio is left out
// when both not-found counts are zero. Diagnostics are the result's stub
// fallback messages, cut to 200 runes.
func Summarize(original, result *report.Report) string {
	a, b := countsOf(original), countsOf(result)
	var parts []string

	parts = append(parts, fmt.Sprintf("(%s >> %s checkpoints)",
		a.show(int64(a.checkpoints)), b.show(int64(b.checkpoints))))

	anyNotFound := a.notFound > 0 || b.notFound > 0
	extra := b.notFound - a.notFound
	explained := a.ok && b.ok && extra > 0 && b.checkpoints-a.checkpoints == extra
	if anyNotFound && !explained {
		parts = append(parts, fmt.Sprintf("(%s >> %s stubs not found)",
			a.show(int64(a.notFound)), b.show(int64(b.notFound))))
	}

	parts = append(parts, fmt.Sprintf("(%s >> %s stubbed)",
		a.ratio(a.stubbed, a.checkpoints), b.ratio(b.stubbed, b.checkpoints)))

	if anyNotFound {
		parts = append(parts, fmt.Sprintf("(%s >> %s not found/stubbed)",
			a.ratio(a.notFound, a.stubbed), b.ratio(b.notFound, b.stubbed)))
	}

	if d := diagnostics(result); d != "" {
		parts = append(parts, d)
	}

	parts = append(parts, fmt.Sprintf("(%s >> %s ms)", a.show(a.millis), b.show(b.millis)))
	return strings.Join(parts, " ")
}

// diagnostics joins the stub fallback messages of r. Past maxDiagnostics
// runes the text is cut and the number of messages not shown in full is
// appended.
func diagnostics(r *report.Report) string {
	if r == nil {
		return ""
	}
	var msgs []string
	for i := range r.Checkpoints {
		if d := r.Checkpoints[i].StubNotFound; d != "" {
			msgs = append(msgs, d)
		}
	}
	joined := strings.Join(msgs, "; ")
	if utf8.RuneCountInString(joined) <= maxDiagnostics {
		return joined
	}

	shown, length := 0, 0
	for i, m := range msgs {
		if i > 0 {
			length += 2
		}
		length += utf8.RuneCountInString(m)
		if length > maxDiagnostics {
			break
		}
		shown++
	}
	cut := string([]rune(joined)[:maxDiagnostics])
	return fmt.Sprintf("%s... and %d more", cut, len(msgs)-shown)
}

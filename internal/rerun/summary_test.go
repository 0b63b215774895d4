package rerun

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wearefrank/ladybug-sub002/internal/report"
	"github.com/wearefrank/ladybug-sub002/internal/testutil"
)

const (
	amountNotFound = `No Inputpoint "amount" found at level 1 position 0, used checkpoint 1: 10`
	extraNotFound  = `No Inputpoint "extra" found, used default value`
)

func originalOrder() *report.Report {
	return testutil.NewReport("orig", "Order").
		Checkpoint(report.TypeStart, "Order", "order-7").
		Checkpoint(report.TypeInput, "amount", "10").
		Checkpoint(report.TypeEnd, "Order", "done").
		Build(10 * time.Millisecond)
}

// replayed builds a replay of originalOrder. notFound maps checkpoint
// index to its stub diagnostic; extra adds a stubbed inputpoint before the
// end.
func replayed(notFound map[int]string, extra bool) *report.Report {
	b := testutil.NewReport("replay", "Order").
		Checkpoint(report.TypeStart, "Order", "order-7").
		Checkpoint(report.TypeInput, "amount", "10")
	if extra {
		b.Checkpoint(report.TypeInput, "extra", "")
	}
	r := b.Checkpoint(report.TypeEnd, "Order", "done").Build(12 * time.Millisecond)
	for i := range r.Checkpoints {
		cp := &r.Checkpoints[i]
		cp.Stubbed = cp.Type != report.TypeEnd
		cp.StubNotFound = notFound[i]
	}
	return r
}

func TestSummarize_Golden(t *testing.T) {
	incomplete := report.New("replay", "Order", testutil.Epoch)
	_, err := incomplete.Append(report.Checkpoint{Name: "Order", Type: report.TypeStart})
	require.NoError(t, err)

	cases := []struct {
		name   string
		result *report.Report
	}{
		{"plain", replayed(nil, false)},
		{"incomplete", incomplete},
		{"not found", replayed(map[int]string{1: amountNotFound, 2: extraNotFound}, true)},
		{"explained by extra checkpoint", replayed(map[int]string{2: extraNotFound}, true)},
	}

	var out strings.Builder
	for _, c := range cases {
		fmt.Fprintf(&out, "%s: %s\n", c.name, Summarize(originalOrder(), c.result))
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "summary", []byte(out.String()))
}

func TestSummarize_NilResult(t *testing.T) {
	assert.Equal(t,
		"(3 >> n/a checkpoints) (0/3 >> n/a stubbed) (10 >> n/a ms)",
		Summarize(originalOrder(), nil))
}

func TestSummarize_TruncatesDiagnostics(t *testing.T) {
	notFound := make(map[int]string)
	b := testutil.NewReport("replay", "Order").Checkpoint(report.TypeStart, "Order", "")
	for i := 1; i <= 5; i++ {
		b.Checkpoint(report.TypeInput, fmt.Sprintf("in%d", i), "")
		notFound[i] = strings.Repeat("x", 59) + fmt.Sprint(i)
	}
	r := b.Checkpoint(report.TypeEnd, "Order", "").Build(time.Millisecond)
	for i, d := range notFound {
		r.Checkpoints[i].Stubbed = true
		r.Checkpoints[i].StubNotFound = d
	}

	got := diagnostics(r)
	// Three 60-rune messages and their separators take 184 runes; the
	// fourth is cut.
	assert.True(t, strings.HasSuffix(got, "... and 2 more"), got)
	assert.Equal(t, 200, len([]rune(strings.TrimSuffix(got, "... and 2 more"))))
	assert.True(t, strings.HasPrefix(got, notFound[1]+"; "+notFound[2]+"; "+notFound[3]+"; "))
}

func TestMessageDiffs(t *testing.T) {
	original := originalOrder()
	result := testutil.NewReport("replay", "Order").
		Checkpoint(report.TypeStart, "Order", "order-7").
		Checkpoint(report.TypeInput, "amount", "25").
		Checkpoint(report.TypeInfo, "audit", "x").
		Checkpoint(report.TypeEnd, "Order", "done").
		Build(time.Millisecond)

	diffs := MessageDiffs(original, result)
	require.Len(t, diffs, 3)
	assert.Equal(t, MessageDiff{Index: 1, Name: "amount", Diff: "[-10-]{+25+}"}, diffs[0])
	assert.Equal(t, 2, diffs[1].Index)
	assert.Equal(t, "audit", diffs[1].Name)
	assert.Equal(t, MessageDiff{Index: 3, Name: "Order", Diff: "{+done+}"}, diffs[2])

	assert.Empty(t, MessageDiffs(original, original.Clone()))
}

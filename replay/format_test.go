package replay

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlch/longhaul/trace"
)

var formatBase = time.Date(2025, 7, 8, 12, 0, 0, 100*int(time.Millisecond), time.UTC)

func formatMeta() trace.Metadata {
	return trace.Metadata{
		Version: trace.MetadataVersion,
		Suites:  []trace.SuiteMeta{{Name: "checkout", Threads: 2}},
		Tests: []trace.TestMeta{
			{Class: "checkout.Cart", Method: "addItem"},
			{Class: "checkout.Cart", Method: "removeItem"},
		},
	}
}

func record(segment int, at time.Time, action trace.Action, thread uint16, testNum uint16, output string) Item {
	rec := trace.Record{Time: at, Action: action, Thread: thread, TestNum: testNum}
	if output != "" {
		rec.Output = []byte(output)
	}

	return Item{Kind: KindRecord, Segment: segment, Record: rec}
}

func feed(t *testing.T, f Formatter, items ...Item) {
	t.Helper()

	for _, item := range items {
		require.NoError(t, f.Format(item))
	}

	require.NoError(t, f.Summary())
}

func TestDetailFormatter(t *testing.T) {
	var buf bytes.Buffer

	f := NewDetailFormatter(&buf, formatMeta(), false)

	feed(t, f,
		record(1, formatBase, trace.Started, 0, 0, ""),
		record(1, formatBase.Add(time.Second), trace.Passed, 0, 0, ""),
		Item{Kind: KindMissing, Segment: 2},
		record(3, formatBase.Add(3*time.Second), trace.Failed, 1, 1, "boom"),
	)

	out := buf.String()

	assert.Contains(t, out, "started")
	assert.Contains(t, out, "passed")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "checkout/checkout.Cart.addItem")
	assert.Contains(t, out, "checkout/checkout.Cart.removeItem")
	assert.Contains(t, out, "--- segment 2 missing ---")
	assert.Contains(t, out, "4 events (results partial: 1 gaps)")
}

func TestDetailFormatter_IndentsByThreadColumn(t *testing.T) {
	var buf bytes.Buffer

	f := NewDetailFormatter(&buf, formatMeta(), false)

	feed(t, f,
		record(1, formatBase, trace.Started, 7, 0, ""),
		record(1, formatBase, trace.Started, 3, 0, ""),
	)

	lines := strings.Split(buf.String(), "\n")

	// Columns go by first-seen order, not thread id: thread 7 owns column 0.
	assert.Contains(t, lines[0], "12:00:00.100  started")
	assert.Contains(t, lines[1], "12:00:00.100    started")
}

func TestChartFormatter(t *testing.T) {
	var buf bytes.Buffer

	f := NewChartFormatter(&buf, formatMeta(), time.Second)

	feed(t, f,
		record(1, formatBase, trace.Started, 0, 0, ""),
		record(1, formatBase.Add(200*time.Millisecond), trace.Started, 1, 1, ""),
		record(1, formatBase.Add(1200*time.Millisecond), trace.Passed, 0, 0, ""),
		record(1, formatBase.Add(2300*time.Millisecond), trace.Failed, 1, 1, ""),
	)

	out := buf.String()

	assert.Contains(t, out, "12:00:00 |**|")
	assert.Contains(t, out, "12:00:01 |P.|")
	assert.Contains(t, out, "12:00:02 | F|")
	assert.Contains(t, out, "columns: 2 threads")
	assert.Contains(t, out, "legend:")
}

func TestChartFormatter_GapResetsRunningState(t *testing.T) {
	var buf bytes.Buffer

	f := NewChartFormatter(&buf, formatMeta(), time.Second)

	feed(t, f,
		record(1, formatBase, trace.Started, 0, 0, ""),
		Item{Kind: KindMissing, Segment: 2},
		record(3, formatBase.Add(5*time.Second), trace.Passed, 0, 0, ""),
	)

	out := buf.String()

	assert.Contains(t, out, "12:00:00 |*|")
	assert.Contains(t, out, "--- segment 2 missing ---")

	// Whatever was running before the gap is forgotten, not shown as still
	// running in the next row.
	assert.Contains(t, out, "12:00:05 |P|")
	assert.NotContains(t, out, "|.|")
}

func TestSummaryFormatter(t *testing.T) {
	var buf bytes.Buffer

	f := NewSummaryFormatter(&buf, formatMeta())

	feed(t, f,
		record(1, formatBase, trace.Started, 0, 0, ""),
		record(1, formatBase.Add(time.Second), trace.Failed, 0, 0, "boom"),
		Item{Kind: KindMissing, Segment: 2},
		record(3, formatBase.Add(2*time.Second), trace.Passed, 1, 1, ""),
	)

	out := buf.String()

	assert.Contains(t, out, "missing")
	assert.Contains(t, out, "FAIL  3 records, 1 failures")
	assert.Contains(t, out, "note: results partial, 1 segments missing")
}

func TestSummaryFormatter_CleanRunPasses(t *testing.T) {
	var buf bytes.Buffer

	f := NewSummaryFormatter(&buf, formatMeta())

	feed(t, f,
		record(1, formatBase, trace.Started, 0, 0, ""),
		record(1, formatBase.Add(time.Second), trace.Passed, 0, 0, ""),
	)

	out := buf.String()

	assert.Contains(t, out, "PASS  2 records, 0 failures")
	assert.NotContains(t, out, "partial")
}

func TestFailureFormatter(t *testing.T) {
	var buf bytes.Buffer

	f := NewFailureFormatter(&buf, formatMeta(), false)

	feed(t, f,
		record(1, formatBase, trace.Started, 0, 0, ""),
		record(1, formatBase.Add(time.Second), trace.Failed, 0, 0, "assertion output"),
		Item{Kind: KindCorrupt, Segment: 2},
		record(3, formatBase.Add(2*time.Second), trace.ExitFail, 1, 1, ""),
	)

	out := buf.String()

	// Non-failures are skipped entirely.
	assert.NotContains(t, out, "started")

	assert.Contains(t, out, "checkout.Cart.addItem")
	assert.Contains(t, out, "assertion output")
	assert.Contains(t, out, "(no output persisted)")
	assert.Contains(t, out, "2 failures (results partial: 1 gaps)")
}

func TestNewFormatter_Dispatch(t *testing.T) {
	var buf bytes.Buffer

	meta := formatMeta()

	assert.IsType(t, &ChartFormatter{}, NewFormatter("chart", &buf, meta, false, time.Second))
	assert.IsType(t, &SummaryFormatter{}, NewFormatter("summary", &buf, meta, false, 0))
	assert.IsType(t, &FailureFormatter{}, NewFormatter("failures", &buf, meta, false, 0))
	assert.IsType(t, &DetailFormatter{}, NewFormatter("detail", &buf, meta, false, 0))
	assert.IsType(t, &DetailFormatter{}, NewFormatter("", &buf, meta, false, 0))
}

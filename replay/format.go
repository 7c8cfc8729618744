package replay

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/rlch/longhaul/trace"
)

// Formatter renders the reconstructed stream. Feed every scanned item to
// Format, then call Summary once.
type Formatter interface {
	Format(item Item) error
	Summary() error
}

// columns assigns each thread a stable display column in first-seen order.
type columns struct {
	index map[uint16]int
	order []uint16
}

func newColumns() *columns {
	return &columns{index: make(map[uint16]int)}
}

func (c *columns) col(thread uint16) int {
	if i, ok := c.index[thread]; ok {
		return i
	}

	i := len(c.order)
	c.index[thread] = i
	c.order = append(c.order, thread)

	return i
}

func (c *columns) count() int {
	return len(c.order)
}

// Styles for failure highlighting in the detail and failure views.
var (
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	gapStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

const detailTimeFormat = "15:04:05.000"

// -----------------------------------------------------------------------------
// Detail Formatter
// -----------------------------------------------------------------------------

// DetailFormatter prints the chronological per-record view, one line per
// lifecycle event, indented by the thread's display column.
type DetailFormatter struct {
	w     io.Writer
	meta  trace.Metadata
	cols  *columns
	color bool

	records int
	gaps    int
}

// NewDetailFormatter creates a detail formatter. color enables ANSI styling
// of failure lines.
func NewDetailFormatter(w io.Writer, meta trace.Metadata, color bool) *DetailFormatter {
	return &DetailFormatter{w: w, meta: meta, cols: newColumns(), color: color}
}

const detailIndent = 2

// Format prints one item.
func (d *DetailFormatter) Format(item Item) error {
	if item.Gap() {
		d.gaps++

		_, err := fmt.Fprintln(d.w, d.style(gapStyle, gapLine(item)))

		return err
	}

	rec := item.Record
	col := d.cols.col(rec.Thread)

	line := fmt.Sprintf("%s  %*s%-18s t%04d %s/%s",
		rec.Time.Format(detailTimeFormat),
		col*detailIndent, "",
		rec.Action,
		rec.Thread,
		d.meta.SuiteName(rec.Suite),
		d.meta.TestName(rec.TestNum),
	)

	switch {
	case rec.Action.IsFailure():
		line = d.style(failStyle, line)
	case rec.Action == trace.Passed || rec.Action == trace.ExitPass:
		line = d.style(passStyle, line)
	}

	d.records++

	_, err := fmt.Fprintln(d.w, line)

	return err
}

// Summary prints the line and gap totals.
func (d *DetailFormatter) Summary() error {
	_, err := fmt.Fprintf(d.w, "\n%d events", d.records)
	if err != nil {
		return err
	}

	if d.gaps > 0 {
		_, err = fmt.Fprintf(d.w, " (results partial: %d gaps)", d.gaps)
		if err != nil {
			return err
		}
	}

	_, err = fmt.Fprintln(d.w)

	return err
}

func (d *DetailFormatter) style(s lipgloss.Style, line string) string {
	if !d.color {
		return line
	}

	return s.Render(line)
}

func gapLine(item Item) string {
	if item.Kind == KindCorrupt {
		return fmt.Sprintf("--- segment %d corrupt, remainder lost ---", item.Segment)
	}

	return fmt.Sprintf("--- segment %d missing ---", item.Segment)
}

// -----------------------------------------------------------------------------
// Chart Formatter
// -----------------------------------------------------------------------------

// Chart cell symbols.
const (
	chartIdle    = ' '
	chartRunning = '.'
	chartStarted = '*'
	chartPassed  = 'P'
	chartFailed  = 'F'
	chartUnknown = '?'
)

// ChartFormatter renders a compressed ascii activity chart: one column per
// thread, one row per time bucket.
type ChartFormatter struct {
	w      io.Writer
	meta   trace.Metadata
	cols   *columns
	bucket time.Duration

	cur     time.Time
	haveRow bool
	cells   []byte
	running map[uint16]bool
}

// NewChartFormatter creates a chart formatter with the given bucket width.
func NewChartFormatter(w io.Writer, meta trace.Metadata, bucket time.Duration) *ChartFormatter {
	if bucket <= 0 {
		bucket = time.Second
	}

	return &ChartFormatter{
		w:       w,
		meta:    meta,
		cols:    newColumns(),
		bucket:  bucket,
		running: make(map[uint16]bool),
	}
}

// Format folds one item into the chart.
func (c *ChartFormatter) Format(item Item) error {
	if item.Gap() {
		if err := c.flushRow(); err != nil {
			return err
		}

		// Whatever was running on the far side of the hole is unknowable.
		c.running = make(map[uint16]bool)
		c.cells = c.cells[:0]

		_, err := fmt.Fprintln(c.w, gapLine(item))

		return err
	}

	rec := item.Record

	bucket := rec.Time.Truncate(c.bucket)
	if c.haveRow && bucket.After(c.cur) {
		if err := c.flushRow(); err != nil {
			return err
		}
	}

	if !c.haveRow {
		c.cur = bucket
		c.haveRow = true
	}

	col := c.cols.col(rec.Thread)

	for len(c.cells) <= col {
		c.cells = append(c.cells, chartIdle)
	}

	switch rec.Action {
	case trace.Started:
		c.cells[col] = chartStarted
		c.running[rec.Thread] = true
	case trace.Passed, trace.ExitPass:
		c.cells[col] = chartPassed
		c.running[rec.Thread] = false
	case trace.CompletedUnknown:
		c.cells[col] = chartUnknown
		c.running[rec.Thread] = false
	default:
		c.cells[col] = chartFailed
		c.running[rec.Thread] = false
	}

	return nil
}

// flushRow emits the current bucket row, if any, and seeds the next one from
// the carried running state.
func (c *ChartFormatter) flushRow() error {
	if !c.haveRow {
		return nil
	}

	_, err := fmt.Fprintf(c.w, "%s |%s|\n", c.cur.Format("15:04:05"), string(c.cells))
	if err != nil {
		return err
	}

	c.haveRow = false
	c.cells = c.cells[:0]

	for _, thread := range c.cols.order {
		sym := byte(chartIdle)
		if c.running[thread] {
			sym = chartRunning
		}

		c.cells = append(c.cells, sym)
	}

	return nil
}

// Summary flushes the last row and prints the column legend.
func (c *ChartFormatter) Summary() error {
	if err := c.flushRow(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(c.w, "\ncolumns: %d threads (first-seen order)\n", c.cols.count())
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(c.w, "legend: '*' started  '.' running  'P' passed  'F' failed  '?' unknown")

	return err
}

// -----------------------------------------------------------------------------
// Summary Formatter
// -----------------------------------------------------------------------------

// segmentTally accumulates per-segment counts.
type segmentTally struct {
	index    int
	records  int
	failures int
	missing  bool
	corrupt  bool
	first    time.Time
	last     time.Time
}

// SummaryFormatter prints per-segment and overall totals.
type SummaryFormatter struct {
	w    io.Writer
	meta trace.Metadata

	segs []*segmentTally
	cur  *segmentTally
}

// NewSummaryFormatter creates a summary formatter.
func NewSummaryFormatter(w io.Writer, meta trace.Metadata) *SummaryFormatter {
	return &SummaryFormatter{w: w, meta: meta}
}

func (s *SummaryFormatter) tally(segment int) *segmentTally {
	if s.cur == nil || s.cur.index != segment {
		s.cur = &segmentTally{index: segment}
		s.segs = append(s.segs, s.cur)
	}

	return s.cur
}

// Format folds one item into the tallies.
func (s *SummaryFormatter) Format(item Item) error {
	t := s.tally(item.Segment)

	switch item.Kind {
	case KindMissing:
		t.missing = true
	case KindCorrupt:
		t.corrupt = true
	case KindRecord:
		rec := item.Record

		t.records++

		if rec.Action.IsFailure() {
			t.failures++
		}

		if t.first.IsZero() || rec.Time.Before(t.first) {
			t.first = rec.Time
		}

		if rec.Time.After(t.last) {
			t.last = rec.Time
		}
	}

	return nil
}

// Summary renders the table.
func (s *SummaryFormatter) Summary() error {
	tw := tabwriter.NewWriter(s.w, 1, 1, 2, ' ', 0)

	fmt.Fprintln(tw, "segment\trecords\tfailures\tspan\tnote")

	var (
		records  int
		failures int
		missing  int
	)

	for _, t := range s.segs {
		note := ""

		switch {
		case t.missing:
			note = "missing"
			missing++
		case t.corrupt:
			note = "corrupt tail"
		}

		span := ""
		if !t.first.IsZero() {
			span = fmt.Sprintf("%s - %s", t.first.Format(detailTimeFormat), t.last.Format(detailTimeFormat))
		}

		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\n", t.index, t.records, t.failures, span, note)

		records += t.records
		failures += t.failures
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	verdict := "PASS"
	if failures > 0 {
		verdict = "FAIL"
	}

	_, err := fmt.Fprintf(s.w, "\n%s  %d records, %d failures\n", verdict, records, failures)
	if err != nil {
		return err
	}

	if missing > 0 {
		_, err = fmt.Fprintf(s.w, "note: results partial, %d segments missing\n", missing)
	}

	return err
}

// -----------------------------------------------------------------------------
// Failure Formatter
// -----------------------------------------------------------------------------

// FailureFormatter prints the failure digest: every failure-class record
// with whatever output was persisted for it.
type FailureFormatter struct {
	w     io.Writer
	meta  trace.Metadata
	color bool

	failures int
	gaps     int
}

// NewFailureFormatter creates a failure formatter.
func NewFailureFormatter(w io.Writer, meta trace.Metadata, color bool) *FailureFormatter {
	return &FailureFormatter{w: w, meta: meta, color: color}
}

// Format prints failure records and skips everything else.
func (f *FailureFormatter) Format(item Item) error {
	if item.Gap() {
		f.gaps++

		return nil
	}

	rec := item.Record
	if !rec.Action.IsFailure() {
		return nil
	}

	f.failures++

	header := fmt.Sprintf("%s  %s  %s (thread %d, suite %s, segment %d)",
		rec.Time.Format(detailTimeFormat),
		rec.Action,
		f.meta.TestName(rec.TestNum),
		rec.Thread,
		f.meta.SuiteName(rec.Suite),
		item.Segment,
	)

	if f.color {
		header = failStyle.Render(header)
	}

	if _, err := fmt.Fprintln(f.w, header); err != nil {
		return err
	}

	if len(rec.Output) > 0 {
		if _, err := fmt.Fprintf(f.w, "%s\n\n", rec.Output); err != nil {
			return err
		}

		return nil
	}

	_, err := fmt.Fprintln(f.w, "  (no output persisted)")

	return err
}

// Summary prints the digest totals.
func (f *FailureFormatter) Summary() error {
	_, err := fmt.Fprintf(f.w, "\n%d failures", f.failures)
	if err != nil {
		return err
	}

	if f.gaps > 0 {
		_, err = fmt.Fprintf(f.w, " (results partial: %d gaps)", f.gaps)
		if err != nil {
			return err
		}
	}

	_, err = fmt.Fprintln(f.w)

	return err
}

// NewFormatter creates a formatter by name.
func NewFormatter(name string, w io.Writer, meta trace.Metadata, color bool, bucket time.Duration) Formatter {
	switch name {
	case "chart":
		return NewChartFormatter(w, meta, bucket)
	case "summary":
		return NewSummaryFormatter(w, meta)
	case "failures":
		return NewFailureFormatter(w, meta, color)
	default:
		return NewDetailFormatter(w, meta, color)
	}
}

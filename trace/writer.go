package trace

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithMaxSegmentBytes rotates a segment once it reaches the given size.
func WithMaxSegmentBytes(n int64) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.maxBytes = n
		}
	}
}

// WithMaxSegmentRecords rotates a segment once it holds the given number of
// records.
func WithMaxSegmentRecords(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.maxRecords = n
		}
	}
}

// WithOnClose registers the hook a closed segment is reported to, typically
// a retention Manager. The hook runs with the writer lock held, after the
// next segment has been opened.
func WithOnClose(fn func(SegmentInfo) error) WriterOption {
	return func(w *Writer) {
		w.onClose = fn
	}
}

// WithWriterLogger sets the writer's logger.
func WithWriterLogger(log *zap.Logger) WriterOption {
	return func(w *Writer) {
		w.log = log
	}
}

// WithClock overrides the segment base clock. Tests use it for deterministic
// segment headers.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) {
		w.now = now
	}
}

// Writer owns the currently-open trace segment and appends encoded records
// to it. Records from all worker threads funnel through one writer lock;
// cross-thread ordering is lock-acquisition order, which the format does not
// rely on.
//
// Any segment I/O error is fatal to the run: it is returned to the caller
// and never retried, since an append-only trace has no safe partial-write
// recovery.
type Writer struct {
	mu sync.Mutex

	dir        string
	maxBytes   int64
	maxRecords int
	onClose    func(SegmentInfo) error
	log        *zap.Logger
	now        func() time.Time

	f       *os.File
	bw      *bufio.Writer
	base    time.Time
	index   int
	bytes   int64
	records int
	errs    int
	closed  bool
}

// Default rotation thresholds.
const (
	defaultMaxSegmentBytes = 4 << 20
	defaultMaxRecords      = 1 << 20
)

// NewWriter creates a Writer and opens segment 1 under dir.
func NewWriter(dir string, opts ...WriterOption) (*Writer, error) {
	w := &Writer{
		dir:        dir,
		maxBytes:   defaultMaxSegmentBytes,
		maxRecords: defaultMaxRecords,
		log:        zap.NewNop(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(w)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}

	if err := w.openSegment(1, w.now()); err != nil {
		return nil, err
	}

	return w, nil
}

// openSegment opens segment index with the given base instant and writes its
// header. Caller holds mu (or is the constructor).
func (w *Writer) openSegment(index int, base time.Time) error {
	path := SegmentPath(w.dir, index)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("opening segment %d: %w", index, err)
	}

	bw := bufio.NewWriter(f)

	if err := WriteSegmentHeader(bw, base); err != nil {
		_ = f.Close()

		return fmt.Errorf("writing segment %d header: %w", index, err)
	}

	w.f, w.bw = f, bw
	w.base = base
	w.index = index
	w.bytes = segmentHeaderSize
	w.records = 0
	w.errs = 0

	w.log.Debug("opened trace segment", zap.Int("segment", index), zap.String("path", path))

	return nil
}

// Append encodes rec and writes it to the open segment, rotating first when
// the current segment is full.
func (w *Writer) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}

	var buf bytes.Buffer

	if err := Encode(&buf, rec, w.base); err != nil {
		return err
	}

	if w.records > 0 && (w.bytes+int64(buf.Len()) > w.maxBytes || w.records >= w.maxRecords) {
		if err := w.rotate(rec.Time); err != nil {
			return err
		}

		// Re-encode against the fresh segment's base.
		buf.Reset()

		if err := Encode(&buf, rec, w.base); err != nil {
			return err
		}
	}

	if _, err := w.bw.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("appending to segment %d: %w", w.index, err)
	}

	w.bytes += int64(buf.Len())
	w.records++

	if rec.Action.IsFailure() {
		w.errs++
	}

	return nil
}

// rotate closes the open segment, opens the next one, and reports the closed
// segment. The new base is capped at pending, the timestamp of the record
// about to be re-encoded: a worker that sat on the writer lock across the
// rotation instant must not see its record land before the segment base.
// Caller holds mu.
func (w *Writer) rotate(pending time.Time) error {
	info, err := w.closeSegment()
	if err != nil {
		return err
	}

	base := w.now()
	if pending.Before(base) {
		base = pending
	}

	if err := w.openSegment(info.Index+1, base); err != nil {
		return err
	}

	return w.report(info)
}

// closeSegment flushes and closes the open segment file. Caller holds mu.
func (w *Writer) closeSegment() (SegmentInfo, error) {
	info := SegmentInfo{
		Index:      w.index,
		Path:       SegmentPath(w.dir, w.index),
		ErrorCount: w.errs,
		Bytes:      w.bytes,
		Records:    w.records,
	}

	if err := w.bw.Flush(); err != nil {
		return info, fmt.Errorf("flushing segment %d: %w", w.index, err)
	}

	if err := w.f.Close(); err != nil {
		return info, fmt.Errorf("closing segment %d: %w", w.index, err)
	}

	w.log.Debug("closed trace segment",
		zap.Int("segment", info.Index),
		zap.Int("records", info.Records),
		zap.Int("errors", info.ErrorCount),
		zap.Int64("bytes", info.Bytes))

	return info, nil
}

func (w *Writer) report(info SegmentInfo) error {
	if w.onClose == nil {
		return nil
	}

	return w.onClose(info)
}

// Close closes the writer and reports the final segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true

	info, err := w.closeSegment()
	if err != nil {
		return err
	}

	return w.report(info)
}

// Segment returns the index of the currently-open segment.
func (w *Writer) Segment() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.index
}

// Package replay reconstructs human-readable timelines and summaries from a
// run's trace directory, tolerating evicted and truncated segments.
package replay

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/rlch/longhaul/trace"
)

// Kind discriminates scan items.
type Kind uint8

// Scan item kinds.
const (
	// KindRecord carries one decoded trace record.
	KindRecord Kind = iota
	// KindMissing marks a segment absent from the directory (evicted, or
	// lost to a crash before it could close).
	KindMissing
	// KindCorrupt marks a segment unreadable from some point on; the
	// remainder of that segment is a gap.
	KindCorrupt
)

// Item is one element of the reconstructed stream: a record, or a gap
// marker. After any gap the per-thread running state is unknowable, and
// formatters reset it.
type Item struct {
	Kind    Kind
	Segment int
	Record  trace.Record // valid when Kind == KindRecord
	Err     error        // the corruption, when Kind == KindCorrupt
}

// Gap reports whether the item breaks the record stream.
func (it Item) Gap() bool {
	return it.Kind != KindRecord
}

// ErrNoSegments is returned when a trace directory holds no segment files.
var ErrNoSegments = errors.New("replay: no trace segments found")

// Reader scans a trace directory in segment order.
type Reader struct {
	dir  string
	meta trace.Metadata
	segs map[int]string
	last int
	log  *zap.Logger
}

// Open reads the run metadata sidecar and indexes the segment files under
// dir.
func Open(dir string, log *zap.Logger) (*Reader, error) {
	if log == nil {
		log = zap.NewNop()
	}

	meta, err := trace.ReadMetadata(dir)
	if err != nil {
		return nil, fmt.Errorf("replay: reading run metadata: %w", err)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "segment-*.bin"))
	if err != nil {
		return nil, err
	}

	segs := make(map[int]string)
	last := 0

	for _, p := range paths {
		index, ok := trace.SegmentIndex(p)
		if !ok {
			continue
		}

		segs[index] = p

		if index > last {
			last = index
		}
	}

	if len(segs) == 0 {
		return nil, ErrNoSegments
	}

	return &Reader{dir: dir, meta: meta, segs: segs, last: last, log: log}, nil
}

// Meta returns the run metadata.
func (r *Reader) Meta() trace.Metadata {
	return r.meta
}

// Segments returns the present segment indices in order.
func (r *Reader) Segments() []int {
	out := make([]int, 0, len(r.segs))

	for i := range r.segs {
		out = append(out, i)
	}

	sort.Ints(out)

	return out
}

// Missing returns how many segments of the expected 1..last sequence are
// absent.
func (r *Reader) Missing() int {
	return r.last - len(r.segs)
}

// Scan walks the full expected segment sequence, calling fn for every
// record and every gap marker in order. A missing segment yields exactly one
// KindMissing item in its sequence position; corruption inside a segment
// yields the records up to the corruption point followed by one KindCorrupt
// item. Scanning continues with the next segment either way.
func (r *Reader) Scan(fn func(Item) error) error {
	for index := 1; index <= r.last; index++ {
		path, ok := r.segs[index]
		if !ok {
			if err := fn(Item{Kind: KindMissing, Segment: index}); err != nil {
				return err
			}

			continue
		}

		if err := r.scanSegment(index, path, fn); err != nil {
			return err
		}
	}

	return nil
}

// scanSegment decodes one segment file. Decode failures are downgraded to a
// corruption marker: trailing garbage must never surface as a crash to the
// operator.
func (r *Reader) scanSegment(index int, path string, fn func(Item) error) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer f.Close()

	base, err := trace.ReadSegmentHeader(f)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// A header-less stub: closed before anything was written.
			return nil
		}

		r.log.Warn("unreadable segment header", zap.Int("segment", index), zap.Error(err))

		return fn(Item{Kind: KindCorrupt, Segment: index, Err: err})
	}

	for {
		rec, err := trace.Decode(f, base)
		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			r.log.Warn("corrupt segment", zap.Int("segment", index), zap.Error(err))

			return fn(Item{Kind: KindCorrupt, Segment: index, Err: err})
		}

		if err := fn(Item{Kind: KindRecord, Segment: index, Record: rec}); err != nil {
			return err
		}
	}
}

package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"
)

// SegmentVersion is the current segment-file format version.
const SegmentVersion = 1

// segmentHeaderSize is the fixed prefix of every segment file:
// a 1-byte version followed by the 8-byte little-endian base instant in
// milliseconds since the epoch.
const segmentHeaderSize = 9

// ErrSegmentVersion is returned when a segment header carries an unsupported
// format version.
var ErrSegmentVersion = errors.New("trace: unsupported segment version")

// SegmentInfo is the metadata a closed segment is reported with.
type SegmentInfo struct {
	// Index is the 1-based sequence number of the segment within the run.
	Index int
	Path  string
	// ErrorCount is the number of failure-class records the segment holds.
	ErrorCount int
	// Bytes is the segment's size on disk, header included.
	Bytes int64
	// Records is the number of records appended.
	Records int
}

// SegmentPath returns the file path of segment index under dir.
func SegmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("segment-%05d.bin", index))
}

// SegmentIndex parses the sequence number out of a segment file name.
func SegmentIndex(path string) (int, bool) {
	var index int

	if _, err := fmt.Sscanf(filepath.Base(path), "segment-%d.bin", &index); err != nil {
		return 0, false
	}

	return index, true
}

// WriteSegmentHeader writes the segment-file prefix.
func WriteSegmentHeader(w io.Writer, base time.Time) error {
	var buf [segmentHeaderSize]byte

	buf[0] = SegmentVersion
	binary.LittleEndian.PutUint64(buf[1:], uint64(base.UnixMilli()))

	_, err := w.Write(buf[:])

	return err
}

// ReadSegmentHeader reads the segment-file prefix and returns the base
// instant all record offsets in the segment are relative to.
func ReadSegmentHeader(r io.Reader) (time.Time, error) {
	var buf [segmentHeaderSize]byte

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return time.Time{}, eofOr(err)
	}

	if buf[0] != SegmentVersion {
		return time.Time{}, fmt.Errorf("%w: %d", ErrSegmentVersion, buf[0])
	}

	return time.UnixMilli(int64(binary.LittleEndian.Uint64(buf[1:]))), nil
}

package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"
)

// Codec errors.
var (
	// ErrUnknownAction is returned when a decoded action code is not part of
	// the format. It marks the segment as corrupt from that point on.
	ErrUnknownAction = errors.New("trace: unknown action code")

	// ErrOffsetOutOfRange is returned when a record's time cannot be
	// expressed as a 32-bit millisecond offset from the segment base.
	// A segment can span at most ~49.7 days; this is a format limit.
	ErrOffsetOutOfRange = errors.New("trace: time offset out of range")

	// ErrFieldOutOfRange is returned when a suite or thread number does not
	// fit its packed field.
	ErrFieldOutOfRange = errors.New("trace: field out of range")
)

// Record wire layout. All multi-byte integers are little-endian.
//
//	[4] millisecond offset from the segment base instant
//	[1] action code
//	[2] test number
//	[2] suite (top suiteBits bits) | thread (low threadBits bits)
//
// followed, only when the action carries output, by a 4-byte output length
// and that many raw bytes.
const (
	recordHeaderSize = 9

	suiteBits  = 3
	threadBits = 13

	suiteShift = threadBits
	threadMask = 1<<threadBits - 1

	// MaxSuite is the largest encodable suite id.
	MaxSuite = 1<<suiteBits - 1
	// MaxThread is the largest encodable thread number.
	MaxThread = threadMask

	maxOffsetMillis = math.MaxUint32

	// maxOutputBytes is the largest output payload the 4-byte length field
	// can describe.
	maxOutputBytes = math.MaxUint32

	// outputChunkSize bounds how much Decode allocates ahead of what it has
	// actually read.
	outputChunkSize = 1 << 20
)

// Encode appends the wire form of rec, with times expressed relative to
// base, to w.
func Encode(w io.Writer, rec Record, base time.Time) error {
	if !rec.Action.known() {
		return fmt.Errorf("%w: %d", ErrUnknownAction, rec.Action)
	}

	if rec.Suite > MaxSuite || rec.Thread > MaxThread {
		return fmt.Errorf("%w: suite %d thread %d", ErrFieldOutOfRange, rec.Suite, rec.Thread)
	}

	if int64(len(rec.Output)) > maxOutputBytes {
		return fmt.Errorf("%w: output %d bytes", ErrFieldOutOfRange, len(rec.Output))
	}

	offset := rec.Time.Sub(base).Milliseconds()
	if offset < 0 || offset > maxOffsetMillis {
		return fmt.Errorf("%w: %dms from base", ErrOffsetOutOfRange, offset)
	}

	var buf [recordHeaderSize]byte

	binary.LittleEndian.PutUint32(buf[0:4], uint32(offset))
	buf[4] = byte(rec.Action)
	binary.LittleEndian.PutUint16(buf[5:7], rec.TestNum)
	binary.LittleEndian.PutUint16(buf[7:9], uint16(rec.Suite)<<suiteShift|rec.Thread&threadMask)

	if _, err := w.Write(buf[:]); err != nil {
		return err
	}

	if !rec.Action.HasOutput() {
		return nil
	}

	var lbuf [4]byte

	binary.LittleEndian.PutUint32(lbuf[:], uint32(len(rec.Output)))

	if _, err := w.Write(lbuf[:]); err != nil {
		return err
	}

	_, err := w.Write(rec.Output)

	return err
}

// Decode reads the next record from r, resolving times against base.
// It returns io.EOF at a clean end of stream; a short or partial trailing
// record is also treated as a clean end, never an error.
func Decode(r io.Reader, base time.Time) (Record, error) {
	var buf [recordHeaderSize]byte

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Record{}, eofOr(err)
	}

	action := Action(buf[4])
	if !action.known() {
		return Record{}, fmt.Errorf("%w: %d", ErrUnknownAction, buf[4])
	}

	packed := binary.LittleEndian.Uint16(buf[7:9])

	rec := Record{
		Time:    base.Add(time.Duration(binary.LittleEndian.Uint32(buf[0:4])) * time.Millisecond),
		Action:  action,
		Suite:   uint8(packed >> suiteShift),
		Thread:  packed & threadMask,
		TestNum: binary.LittleEndian.Uint16(buf[5:7]),
	}

	if !action.HasOutput() {
		return rec, nil
	}

	var lbuf [4]byte

	if _, err := io.ReadFull(r, lbuf[:]); err != nil {
		return Record{}, eofOr(err)
	}

	if n := binary.LittleEndian.Uint32(lbuf[:]); n > 0 {
		out, err := readOutput(r, int64(n))
		if err != nil {
			return Record{}, eofOr(err)
		}

		rec.Output = out
	}

	return rec, nil
}

// readOutput reads exactly n payload bytes, growing the buffer a chunk at a
// time. The length comes off disk and cannot be trusted: a corrupt value must
// fail on the short read, not by allocating gigabytes up front.
func readOutput(r io.Reader, n int64) ([]byte, error) {
	out := make([]byte, 0, min(n, outputChunkSize))

	for int64(len(out)) < n {
		next := min(n-int64(len(out)), outputChunkSize)
		start := len(out)
		out = append(out, make([]byte, next)...)

		if _, err := io.ReadFull(r, out[start:]); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// eofOr collapses a truncated read into a clean end-of-stream.
func eofOr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}

	return err
}

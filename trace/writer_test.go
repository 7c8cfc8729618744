package trace

import (
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(action Action, thread uint16) Record {
	return Record{
		Time:    time.Now(),
		Action:  action,
		Suite:   1,
		Thread:  thread,
		TestNum: 7,
	}
}

func TestWriter_AppendAndClose(t *testing.T) {
	dir := t.TempDir()

	var closed []SegmentInfo

	w, err := NewWriter(dir, WithOnClose(func(info SegmentInfo) error {
		closed = append(closed, info)

		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, w.Append(testRecord(Started, 0)))
	require.NoError(t, w.Append(testRecord(Passed, 0)))
	require.NoError(t, w.Append(testRecord(Failed, 1)))
	require.NoError(t, w.Close())

	require.Len(t, closed, 1)
	assert.Equal(t, 1, closed[0].Index)
	assert.Equal(t, 3, closed[0].Records)
	assert.Equal(t, 1, closed[0].ErrorCount)
	assert.Equal(t, SegmentPath(dir, 1), closed[0].Path)

	// Closed writers refuse appends.
	require.ErrorIs(t, w.Append(testRecord(Passed, 0)), os.ErrClosed)

	// The file decodes back to exactly the appended records.
	f, err := os.Open(closed[0].Path)
	require.NoError(t, err)

	defer f.Close()

	base, err := ReadSegmentHeader(f)
	require.NoError(t, err)

	var actions []Action

	for {
		rec, err := Decode(f, base)
		if errors.Is(err, io.EOF) {
			break
		}

		require.NoError(t, err)

		actions = append(actions, rec.Action)
	}

	assert.Equal(t, []Action{Started, Passed, Failed}, actions)
}

func TestWriter_RotatesByRecordCount(t *testing.T) {
	dir := t.TempDir()

	var closed []SegmentInfo

	w, err := NewWriter(dir,
		WithMaxSegmentRecords(2),
		WithOnClose(func(info SegmentInfo) error {
			closed = append(closed, info)

			return nil
		}))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Append(testRecord(Passed, 0)))
	}

	require.NoError(t, w.Close())

	// 5 records at 2 per segment: segments 1 and 2 full, 3 holds the rest.
	require.Len(t, closed, 3)

	for i, info := range closed {
		assert.Equal(t, i+1, info.Index)
	}

	assert.Equal(t, 2, closed[0].Records)
	assert.Equal(t, 2, closed[1].Records)
	assert.Equal(t, 1, closed[2].Records)
}

func TestWriter_RotatesByBytes(t *testing.T) {
	dir := t.TempDir()

	var closed []SegmentInfo

	w, err := NewWriter(dir,
		WithMaxSegmentBytes(64),
		WithOnClose(func(info SegmentInfo) error {
			closed = append(closed, info)

			return nil
		}))
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		require.NoError(t, w.Append(testRecord(Passed, 0)))
	}

	require.NoError(t, w.Close())

	require.Greater(t, len(closed), 1)

	for _, info := range closed {
		assert.LessOrEqual(t, info.Bytes, int64(64))
		assert.Greater(t, info.Records, 0)
	}
}

func TestWriter_RotationAcceptsOlderRecordTime(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, WithMaxSegmentRecords(1))
	require.NoError(t, err)

	// A worker can stamp its record, then wait on the writer lock across a
	// rotation. The fresh segment's base must not postdate such a record.
	stale := testRecord(Passed, 0)
	stale.Time = time.Now().Add(-5 * time.Millisecond).Truncate(time.Millisecond)

	require.NoError(t, w.Append(testRecord(Passed, 0)))
	require.NoError(t, w.Append(stale))
	require.NoError(t, w.Close())

	f, err := os.Open(SegmentPath(dir, 2))
	require.NoError(t, err)

	defer f.Close()

	base, err := ReadSegmentHeader(f)
	require.NoError(t, err)
	require.False(t, base.After(stale.Time))

	got, err := Decode(f, base)
	require.NoError(t, err)
	assert.True(t, got.Time.Equal(stale.Time))
}

func TestWriter_OversizeRecordStillWritten(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWriter(dir, WithMaxSegmentBytes(32))
	require.NoError(t, err)

	// A single record larger than the segment cap rotates into a fresh
	// segment and is written whole rather than rejected.
	rec := testRecord(Failed, 0)
	rec.Output = make([]byte, 128)

	require.NoError(t, w.Append(testRecord(Passed, 0)))
	require.NoError(t, w.Append(rec))
	require.NoError(t, w.Close())
}

func TestWriter_ReportsToRetentionInOrder(t *testing.T) {
	dir := t.TempDir()

	m := NewManager(2, nil)

	w, err := NewWriter(dir,
		WithMaxSegmentRecords(1),
		WithOnClose(m.SegmentClosed))
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		require.NoError(t, w.Append(testRecord(Passed, 0)))
	}

	require.NoError(t, w.Close())

	retained := m.Retained()
	assert.LessOrEqual(t, len(retained), 2)

	// The freshest closed segment is never the eviction target while the
	// run is clean.
	assert.Contains(t, retained, 6)

	// Evicted segment files are actually gone.
	for i := 1; i <= 6; i++ {
		_, statErr := os.Stat(SegmentPath(dir, i))

		if containsInt(retained, i) {
			assert.NoError(t, statErr, "segment %d should exist", i)
		} else {
			assert.True(t, os.IsNotExist(statErr), "segment %d should be deleted", i)
		}
	}
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}

	return false
}

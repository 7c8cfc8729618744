package diag

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCapability struct {
	calls atomic.Int32
	err   error
}

func (c *countingCapability) Name() string { return "counting" }

func (c *countingCapability) Capture(string, time.Time) error {
	c.calls.Add(1)

	return c.err
}

func TestCapturer_FiresExactlyOnce(t *testing.T) {
	cc := &countingCapability{}
	c := NewCapturer(t.TempDir(), cc, nil)

	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			c.OnFailure()
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), cc.calls.Load())
	assert.True(t, c.Fired())
}

func TestCapturer_CaptureErrorIsSwallowed(t *testing.T) {
	cc := &countingCapability{err: errors.New("dump refused")}
	c := NewCapturer(t.TempDir(), cc, nil)

	// Must not panic or surface the error; the failure that triggered the
	// capture is the story, not the dump.
	c.OnFailure()

	assert.True(t, c.Fired())
}

func TestCapturer_NopStillMarksFired(t *testing.T) {
	c := NewCapturer(t.TempDir(), Nop(), nil)

	c.OnFailure()
	c.OnFailure()

	assert.True(t, c.Fired())
}

func TestRuntimeCapability_WritesDumps(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dumps")

	ts := time.Date(2025, 5, 6, 10, 20, 30, 0, time.UTC)
	require.NoError(t, Detect().Capture(dir, ts))

	stamp := ts.Format(dumpTimestampFormat)

	for _, name := range []string{
		"heap-" + stamp + ".pprof",
		"goroutines-" + stamp + ".txt",
		"process-" + stamp + ".txt",
	} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Greater(t, info.Size(), int64(0), name)
	}
}

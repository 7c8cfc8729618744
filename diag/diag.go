// Package diag implements the one-shot first-failure diagnostic capture:
// the first test failure anywhere in the run triggers heap, goroutine, and
// process snapshots, exactly once.
package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Capability produces the platform diagnostic dumps. Absence of diagnostics
// is a normal variant, expressed with Nop, not an error path.
type Capability interface {
	Name() string

	// Capture writes dump files into dir, using ts for the filename template.
	Capture(dir string, ts time.Time) error
}

// Detect returns the diagnostics capability of the current runtime.
func Detect() Capability {
	// The Go runtime always exposes pprof, so detection cannot fail; the
	// indirection exists for the Nop variant and for tests.
	return runtimeCapability{}
}

// Nop returns a capability that captures nothing.
func Nop() Capability {
	return nopCapability{}
}

// Capturer coordinates the one-shot capture. It is constructed once before
// any worker starts and handed to every worker; there is no package-level
// state.
type Capturer struct {
	mu    sync.Mutex
	fired bool

	dir string
	cap Capability
	log *zap.Logger
}

// NewCapturer creates a Capturer writing dumps into dir.
func NewCapturer(dir string, c Capability, log *zap.Logger) *Capturer {
	if c == nil {
		c = Nop()
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Capturer{dir: dir, cap: c, log: log}
}

// OnFailure triggers the diagnostic capture if no failure has been reported
// before. Exactly one caller proceeds no matter how many workers fail
// concurrently. Capture errors are logged and swallowed: a failing
// diagnostic must never mask the test failure that triggered it.
func (c *Capturer) OnFailure() {
	c.mu.Lock()

	if c.fired {
		c.mu.Unlock()

		return
	}

	c.fired = true
	c.mu.Unlock()

	if _, ok := c.cap.(nopCapability); ok {
		c.log.Info("first failure observed; diagnostic capture disabled")

		return
	}

	ts := time.Now()

	c.log.Info("first failure observed; capturing diagnostics",
		zap.String("capability", c.cap.Name()),
		zap.String("dir", c.dir))

	if err := c.cap.Capture(c.dir, ts); err != nil {
		c.log.Warn("diagnostic capture failed", zap.Error(err))
	}
}

// Fired reports whether the capture has been triggered.
func (c *Capturer) Fired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fired
}

type nopCapability struct{}

func (nopCapability) Name() string { return "none" }

func (nopCapability) Capture(string, time.Time) error { return nil }

// runtimeCapability captures Go-runtime snapshots: a heap profile, a full
// goroutine stack dump, and a small process summary.
type runtimeCapability struct{}

func (runtimeCapability) Name() string { return "go-runtime" }

const dumpTimestampFormat = "20060102-150405"

func (runtimeCapability) Capture(dir string, ts time.Time) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	stamp := ts.Format(dumpTimestampFormat)

	if err := writeHeapProfile(filepath.Join(dir, "heap-"+stamp+".pprof")); err != nil {
		return err
	}

	if err := writeGoroutineDump(filepath.Join(dir, "goroutines-"+stamp+".txt")); err != nil {
		return err
	}

	return writeProcessSummary(filepath.Join(dir, "process-"+stamp+".txt"), ts)
}

func writeHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	runtime.GC()

	return pprof.WriteHeapProfile(f)
}

func writeGoroutineDump(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return pprof.Lookup("goroutine").WriteTo(f, 2)
}

func writeProcessSummary(path string, ts time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var ms runtime.MemStats

	runtime.ReadMemStats(&ms)

	fmt.Fprintf(f, "time: %s\n", ts.Format(time.RFC3339))
	fmt.Fprintf(f, "pid: %d\n", os.Getpid())
	fmt.Fprintf(f, "go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(f, "goroutines: %d\n", runtime.NumGoroutine())
	fmt.Fprintf(f, "heap-alloc: %d\n", ms.HeapAlloc)
	fmt.Fprintf(f, "heap-objects: %d\n", ms.HeapObjects)

	return nil
}

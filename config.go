package longhaul

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Selection is a suite's test-selection policy.
type Selection string

// Selection policies.
const (
	// SelectionSequential visits the inventory in order, wrapping modulo its size.
	SelectionSequential Selection = "sequential"
	// SelectionRandom draws every pick uniformly and independently.
	SelectionRandom Selection = "random"
)

// Valid reports whether s names a known selection policy.
// The empty string is valid and means sequential.
func (s Selection) Valid() bool {
	return s == "" || s == SelectionSequential || s == SelectionRandom
}

// Config represents the .longhaul.yaml configuration file.
type Config struct {
	// LogDir is the directory trace segments and run metadata are written to.
	LogDir string `yaml:"logDir,omitempty"`

	// Suites configures the independent worker groups of the run.
	Suites []SuiteConfig `yaml:"suites"`

	// Limits holds the run-wide budgets and thresholds.
	Limits RunLimits `yaml:"limits,omitempty"`

	// Exec configures the external process used to execute a single test.
	Exec ExecConfig `yaml:"exec,omitempty"`
}

// SuiteConfig configures one suite: an independently paced group of worker
// threads driving a single test inventory.
type SuiteConfig struct {
	Name string `yaml:"name"`

	// Threads is the worker-thread count for this suite.
	Threads ThreadSpec `yaml:"threads"`

	// Inventory is the path of an inventory file, relative to the config file.
	// Mutually exclusive with Tests.
	Inventory string `yaml:"inventory,omitempty"`

	// Tests is an inline inventory, as an alternative to an inventory file.
	Tests []TestDef `yaml:"tests,omitempty"`

	// NumTests is the total number of test executions this suite performs
	// across all of its threads.
	NumTests int `yaml:"numTests"`

	// TestRepeatCount executes each selected test this many times
	// consecutively. Zero means once.
	TestRepeatCount int `yaml:"testRepeatCount,omitempty"`

	// Selection chooses how workers pick the next test.
	Selection Selection `yaml:"selection,omitempty"`

	// ThinkingTime bounds the pacing delay a worker sleeps between tests.
	ThinkingTime ThinkBounds `yaml:"thinkingTime,omitempty"`

	Disabled bool `yaml:"disabled,omitempty"`
}

// RepeatCount returns the effective per-test repeat count.
func (s SuiteConfig) RepeatCount() int {
	if s.TestRepeatCount < 1 {
		return 1
	}

	return s.TestRepeatCount
}

// ThreadSpec is a worker-thread count: either an absolute Count, or a count
// derived from the available parallelism minus Reserved, clamped to
// [Floor, Ceiling].
type ThreadSpec struct {
	Count    int `yaml:"count,omitempty"`
	Reserved int `yaml:"reserved,omitempty"`
	Floor    int `yaml:"floor,omitempty"`
	Ceiling  int `yaml:"ceiling,omitempty"`
}

// Resolve returns the thread count for the given available parallelism.
// A zero available defaults to runtime.NumCPU().
func (t ThreadSpec) Resolve(available int) int {
	if t.Count > 0 {
		return t.Count
	}

	if available <= 0 {
		available = runtime.NumCPU()
	}

	n := available - t.Reserved
	if t.Floor > 0 && n < t.Floor {
		n = t.Floor
	}

	if t.Ceiling > 0 && n > t.Ceiling {
		n = t.Ceiling
	}

	if n < 1 {
		n = 1
	}

	return n
}

// ThinkBounds is the inclusive range a worker's thinking time is drawn from.
type ThinkBounds struct {
	Min time.Duration `yaml:"min,omitempty"`
	Max time.Duration `yaml:"max,omitempty"`
}

// RunLimits holds the run-wide budgets and thresholds.
type RunLimits struct {
	// TimeLimit is the wall-clock limit after which no new test is started.
	// Zero means unlimited.
	TimeLimit time.Duration `yaml:"timeLimit,omitempty"`

	// MaxTotalLogFileSpace caps the total bytes of retained trace segments.
	MaxTotalLogFileSpace int64 `yaml:"maxTotalLogFileSpace,omitempty"`

	// MaxSingleLogSize caps a single trace segment. When unset, it is derived
	// from MaxTotalLogFileSpace.
	MaxSingleLogSize LogSize `yaml:"maxSingleLogSize,omitempty"`

	// ReportFailureLimit is how many failures get their output persisted in
	// full; later failures are recorded without detail.
	ReportFailureLimit int `yaml:"reportFailureLimit,omitempty"`

	// AbortAtFailureLimit terminates the run once this many failures are
	// observed. Zero means never abort.
	AbortAtFailureLimit int `yaml:"abortAtFailureLimit,omitempty"`
}

// LogSize expresses the segment budget as a retained-segment count and a
// per-segment byte cap.
type LogSize struct {
	Count int   `yaml:"count,omitempty"`
	Bytes int64 `yaml:"bytes,omitempty"`
}

// Defaults for the segment plan when the config leaves it open.
const (
	DefaultSegmentCount = 25
	DefaultSegmentBytes = 4 << 20
)

// SegmentPlan resolves the retained-segment count and per-segment byte cap,
// deriving missing values from the total byte budget.
func (l RunLimits) SegmentPlan() (count int, bytes int64) {
	count = l.MaxSingleLogSize.Count
	bytes = l.MaxSingleLogSize.Bytes

	if bytes <= 0 {
		bytes = DefaultSegmentBytes
	}

	if count <= 0 {
		if l.MaxTotalLogFileSpace > 0 {
			count = int(l.MaxTotalLogFileSpace / bytes)
		}

		if count <= 0 {
			count = DefaultSegmentCount
		}
	}

	return count, bytes
}

// ExecConfig configures the external test-execution process.
type ExecConfig struct {
	// Command is the argv template; occurrences of {class} and {method} are
	// substituted per test. Empty means tests run through an in-process
	// executor supplied by the caller.
	Command []string `yaml:"command,omitempty"`

	// Timeout bounds a single test process. Zero means no bound.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// ExpectedExits are exit codes treated as a pass in addition to zero.
	ExpectedExits []int `yaml:"expectedExits,omitempty"`
}

// Validate checks structural limits the trace format imposes on a config.
func (c *Config) Validate() error {
	enabled := 0

	for i, s := range c.Suites {
		if s.Disabled {
			continue
		}

		enabled++

		if !s.Selection.Valid() {
			return fmt.Errorf("%w: suite %q: %q", ErrUnknownSelection, s.Name, s.Selection)
		}

		if s.ThinkingTime.Max < s.ThinkingTime.Min {
			return fmt.Errorf("longhaul: suite %q: thinkingTime max < min", s.Name)
		}

		if s.NumTests < 0 {
			return fmt.Errorf("longhaul: suite %q: negative numTests", s.Name)
		}

		if s.Inventory == "" && len(s.Tests) == 0 {
			return fmt.Errorf("longhaul: suite %d (%s): no inventory", i, s.Name)
		}
	}

	if enabled == 0 {
		return ErrNoSuites
	}

	if enabled > MaxSuites {
		return ErrTooManySuites
	}

	return nil
}

// EnabledSuites returns the suites that will actually run, in config order.
// Suite ids in the trace are positions in this slice.
func (c *Config) EnabledSuites() []SuiteConfig {
	var out []SuiteConfig

	for _, s := range c.Suites {
		if !s.Disabled {
			out = append(out, s)
		}
	}

	return out
}

// DefaultConfigNames are the filenames we search for.
var DefaultConfigNames = []string{".longhaul.yaml", ".longhaul.yml", "longhaul.yaml", "longhaul.yml"}

// LoadConfig finds and loads the nearest .longhaul.yaml walking up from dir.
func LoadConfig(dir string) (*Config, error) {
	path, err := FindConfig(dir)
	if err != nil {
		return nil, err
	}

	return LoadConfigFile(path)
}

// FindConfig searches for a config file starting from dir and walking up.
func FindConfig(dir string) (string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for dir := absDir; ; {
		for _, name := range DefaultConfigNames {
			path := filepath.Join(dir, name)

			_, err := os.Stat(path)
			if err == nil {
				return path, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrConfigNotFound
		}

		dir = parent
	}
}

// LoadConfigFile loads a config from a specific path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	var cfg Config

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

package trace

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// SegmentState is the retention manager's view of one closed segment.
// A cleared slot (Present == false) is absent from weighting, not present
// with weight zero; its ErrorCount is still consulted to decide whether the
// run has seen a failure.
type SegmentState struct {
	Present    bool
	ErrorCount int
}

// Importance weights, highest kept longest. The comments give the rule each
// weight encodes.
const (
	weightFirstFailure  = 5 // the first segment containing any failure
	weightBuildUp       = 4 // every segment strictly before the first failure
	weightMostRecent    = 3 // the freshest closed segment
	weightOtherFailure  = 2 // any other segment containing a failure
	weightBeforeFailure = 1 // a clean segment immediately preceding a failing one
	weightDefault       = 0
)

// evictionTarget picks the least valuable retained segment, as a 0-based
// index into history (history[i] describes segment i+1). It returns -1 when
// fewer than two segments are retained.
//
// While the run is failure-free the second-most-recent segment goes: the
// freshest one is kept intact for live inspection. Once any failure has been
// seen, each retained segment is weighted by diagnostic importance and the
// lowest weight is evicted, ties broken by lowest index.
func evictionTarget(history []SegmentState) int {
	var present []int

	failureSeen := false

	for i, s := range history {
		if s.Present {
			present = append(present, i)
		}

		if s.ErrorCount > 0 {
			failureSeen = true
		}
	}

	if len(present) < 2 {
		return -1
	}

	if !failureSeen {
		return present[len(present)-2]
	}

	firstFail := -1

	for i, s := range history {
		if s.ErrorCount > 0 {
			firstFail = i

			break
		}
	}

	mostRecent := present[len(present)-1]

	target, targetWeight := -1, 0

	for _, i := range present {
		w := segmentWeight(history, i, firstFail, mostRecent)

		if target == -1 || w < targetWeight {
			target, targetWeight = i, w
		}
	}

	return target
}

func segmentWeight(history []SegmentState, i, firstFail, mostRecent int) int {
	switch {
	case i == firstFail:
		return weightFirstFailure
	case firstFail >= 0 && i < firstFail:
		return weightBuildUp
	case i == mostRecent:
		return weightMostRecent
	case history[i].ErrorCount > 0:
		return weightOtherFailure
	case i+1 < len(history) && history[i+1].ErrorCount > 0:
		return weightBeforeFailure
	default:
		return weightDefault
	}
}

// Manager enforces the retained-segment cap. It receives every closed
// segment from the Writer and deletes the least valuable one whenever the
// cap is exceeded. It only ever sees closed segments, so the currently-open
// segment can never be evicted.
type Manager struct {
	mu sync.Mutex

	max     int
	history []SegmentState
	paths   []string
	log     *zap.Logger

	// remove is os.Remove outside of tests.
	remove func(string) error
}

// NewManager creates a Manager keeping at most maxSegments segments.
func NewManager(maxSegments int, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}

	return &Manager{
		max:    maxSegments,
		log:    log,
		remove: os.Remove,
	}
}

// SegmentClosed records a closed segment and evicts until the cap holds.
// Segments must be reported in sequence order.
func (m *Manager) SegmentClosed(info SegmentInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info.Index != len(m.history)+1 {
		return fmt.Errorf("trace: segment %d closed out of order (expected %d)", info.Index, len(m.history)+1)
	}

	m.history = append(m.history, SegmentState{Present: true, ErrorCount: info.ErrorCount})
	m.paths = append(m.paths, info.Path)

	for m.retained() > m.max {
		i := evictionTarget(m.history)
		if i < 0 {
			break
		}

		if err := m.remove(m.paths[i]); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("evicting segment %d: %w", i+1, err)
		}

		m.history[i].Present = false

		m.log.Info("evicted trace segment",
			zap.Int("segment", i+1),
			zap.Int("errors", m.history[i].ErrorCount))
	}

	return nil
}

// retained counts present segments. Caller holds mu.
func (m *Manager) retained() int {
	n := 0

	for _, s := range m.history {
		if s.Present {
			n++
		}
	}

	return n
}

// Retained returns the 1-based indices of the segments still on disk.
func (m *Manager) Retained() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []int

	for i, s := range m.history {
		if s.Present {
			out = append(out, i+1)
		}
	}

	return out
}

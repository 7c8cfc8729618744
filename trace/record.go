// Package trace implements the binary execution-trace format: the record
// codec, the rotating segment writer, the importance-weighted retention
// policy, and the run metadata sidecar.
package trace

import "time"

// Action is the lifecycle transition a record describes.
//
// The numeric values are the on-disk action codes; they must never be
// reordered.
type Action uint8

// Action codes.
const (
	// Started marks the beginning of a test execution.
	Started Action = iota
	// Passed marks an ordinary pass.
	Passed
	// CompletedUnknown marks a completion whose result could not be determined.
	CompletedUnknown
	// ExitPass marks a process-level clean exit treated as a pass.
	ExitPass
	// ExitFail marks a process-level exit treated as a failure.
	ExitFail
	// Failed marks an assertion failure.
	Failed
	// FailedWithError marks a failure due to an uncaught fault rather than
	// an assertion.
	FailedWithError

	numActions
)

// IsFailure reports whether the action counts toward the run's failure total.
func (a Action) IsFailure() bool {
	switch a {
	case ExitFail, Failed, FailedWithError:
		return true
	default:
		return false
	}
}

// HasOutput reports whether records with this action carry an output payload.
func (a Action) HasOutput() bool {
	switch a {
	case ExitFail, Failed, FailedWithError:
		return true
	default:
		return false
	}
}

// Terminal reports whether the action ends a test execution.
func (a Action) Terminal() bool {
	return a != Started && a.known()
}

func (a Action) known() bool {
	return a < numActions
}

func (a Action) String() string {
	switch a {
	case Started:
		return "started"
	case Passed:
		return "passed"
	case CompletedUnknown:
		return "completed(unknown)"
	case ExitPass:
		return "exit(pass)"
	case ExitFail:
		return "exit(fail)"
	case Failed:
		return "failed"
	case FailedWithError:
		return "failed(error)"
	default:
		return "unknown"
	}
}

// Record is one immutable test-lifecycle event. TestNum is only meaningful
// together with the run's metadata catalog; records never embed test names.
type Record struct {
	Time    time.Time
	Action  Action
	Suite   uint8  // 0..MaxSuite
	Thread  uint16 // 0..MaxThread, unique within the run
	TestNum uint16
	Output  []byte // present only for failure-class actions
}

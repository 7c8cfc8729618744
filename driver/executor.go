package driver

import (
	"context"

	"github.com/rlch/longhaul"
	"github.com/rlch/longhaul/trace"
)

// Outcome classifies a single test execution.
type Outcome uint8

// Outcomes.
const (
	// OutcomeUnknown means the result could not be determined.
	OutcomeUnknown Outcome = iota
	// OutcomePass is an ordinary in-process pass.
	OutcomePass
	// OutcomeFail is an assertion failure.
	OutcomeFail
	// OutcomeError is a failure due to an uncaught fault.
	OutcomeError
	// OutcomeExitPass is a process-level clean exit treated as a pass.
	OutcomeExitPass
	// OutcomeExitFail is a process-level exit treated as a failure.
	OutcomeExitFail
)

// Action maps the outcome onto its trace action.
func (o Outcome) Action() trace.Action {
	switch o {
	case OutcomePass:
		return trace.Passed
	case OutcomeFail:
		return trace.Failed
	case OutcomeError:
		return trace.FailedWithError
	case OutcomeExitPass:
		return trace.ExitPass
	case OutcomeExitFail:
		return trace.ExitFail
	default:
		return trace.CompletedUnknown
	}
}

// Result is what an Executor reports for one execution. Output is only
// consulted for failure outcomes.
type Result struct {
	Outcome Outcome
	Output  []byte
}

// Executor runs a single test and classifies what happened. The process
// machinery behind it (spawning, monitoring, killing) lives outside this
// package; the driver only consumes the classification.
type Executor interface {
	Execute(ctx context.Context, test longhaul.TestDef) Result
}

// ExecFunc adapts a function to the Executor interface.
type ExecFunc func(ctx context.Context, test longhaul.TestDef) Result

// Execute calls f.
func (f ExecFunc) Execute(ctx context.Context, test longhaul.TestDef) Result {
	return f(ctx, test)
}

// expectationKind discriminates Expectation variants.
type expectationKind uint8

const (
	expectCleanRun expectationKind = iota
	expectExitValues
	expectNeverCompletes
	expectCrashes
)

// Expectation is the expected-outcome contract a test process is classified
// against.
type Expectation struct {
	kind  expectationKind
	exits map[int]bool
}

// CleanRun expects the process to exit zero.
func CleanRun() Expectation {
	return Expectation{kind: expectCleanRun}
}

// ExitValues expects the process to exit with one of the given codes.
func ExitValues(codes ...int) Expectation {
	set := make(map[int]bool, len(codes))

	for _, c := range codes {
		set[c] = true
	}

	return Expectation{kind: expectExitValues, exits: set}
}

// NeverCompletes expects the process to still be running when its time
// bound expires.
func NeverCompletes() Expectation {
	return Expectation{kind: expectNeverCompletes}
}

// Crashes expects the process to die abnormally.
func Crashes() Expectation {
	return Expectation{kind: expectCrashes}
}

// Classify maps a finished process onto an outcome. exitCode is the
// process's exit status, crashed reports an abnormal death (signal), and
// timedOut reports that the process was still running at its bound.
func (e Expectation) Classify(exitCode int, crashed, timedOut bool) Outcome {
	switch e.kind {
	case expectCleanRun:
		if !crashed && !timedOut && exitCode == 0 {
			return OutcomeExitPass
		}
	case expectExitValues:
		if !crashed && !timedOut && e.exits[exitCode] {
			return OutcomeExitPass
		}
	case expectNeverCompletes:
		if timedOut {
			return OutcomeExitPass
		}
	case expectCrashes:
		if crashed {
			return OutcomeExitPass
		}
	}

	return OutcomeExitFail
}

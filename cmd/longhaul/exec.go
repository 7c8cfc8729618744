package main

import (
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/rlch/longhaul"
	"github.com/rlch/longhaul/driver"
)

// newExecutor builds the process-backed executor from the exec config.
// The heavy lifting (spawn, monitor, kill) is the operating system's; this
// adapter only templates the argv and classifies the exit.
func newExecutor(cfg longhaul.ExecConfig) (driver.Executor, error) {
	if len(cfg.Command) == 0 {
		return nil, ErrNoExecCommand
	}

	expect := driver.CleanRun()
	if len(cfg.ExpectedExits) > 0 {
		expect = driver.ExitValues(append([]int{0}, cfg.ExpectedExits...)...)
	}

	return &processExecutor{cfg: cfg, expect: expect}, nil
}

type processExecutor struct {
	cfg    longhaul.ExecConfig
	expect driver.Expectation
}

func (p *processExecutor) Execute(ctx context.Context, test longhaul.TestDef) driver.Result {
	cancel := func() {}
	if p.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
	}
	defer cancel()

	argv := make([]string, len(p.cfg.Command))

	for i, arg := range p.cfg.Command {
		arg = strings.ReplaceAll(arg, "{class}", test.Class)
		arg = strings.ReplaceAll(arg, "{method}", test.Method)
		argv[i] = arg
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	output, err := cmd.CombinedOutput()

	var (
		exitCode int
		crashed  bool
	)

	timedOut := ctx.Err() == context.DeadlineExceeded

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			crashed = exitCode == -1
		} else {
			// The process never ran at all.
			return driver.Result{Outcome: driver.OutcomeError, Output: []byte(err.Error())}
		}
	}

	outcome := p.expect.Classify(exitCode, crashed, timedOut)

	return driver.Result{Outcome: outcome, Output: output}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rlch/longhaul"
	"github.com/rlch/longhaul/diag"
	"github.com/rlch/longhaul/driver"
	"github.com/rlch/longhaul/trace"
)

// ErrNoExecCommand is returned when a run is started without an exec command.
var ErrNoExecCommand = errors.New("no exec command configured (set exec.command in .longhaul.yaml)")

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute a load-test run",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file (overrides discovery)",
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "trace output directory (overrides config)",
			},
			&cli.DurationFlag{
				Name:  "time-limit",
				Usage: "wall-clock limit (overrides config)",
			},
			&cli.IntFlag{
				Name:  "abort-at",
				Usage: "abort the run at this many failures (overrides config)",
			},
			&cli.IntFlag{
				Name:  "seed",
				Usage: "seed for random selection and pacing",
			},
			&cli.BoolFlag{
				Name:  "no-diag",
				Usage: "disable first-failure diagnostic capture",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "verbose logging",
			},
		},
		Action: runRun,
	}
}

func runRun(ctx context.Context, cmd *cli.Command) error {
	log, err := newLogger(cmd.Bool("verbose"))
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck // stderr sync failures are uninteresting

	cfg, baseDir, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	catalog, err := longhaul.BuildCatalog(cfg, baseDir)
	if err != nil {
		return err
	}

	dir := cfg.LogDir
	if d := cmd.String("dir"); d != "" {
		dir = d
	}

	if dir == "" {
		dir = "longhaul-logs"
	}

	exec, err := newExecutor(cfg.Exec)
	if err != nil {
		return err
	}

	segments, segmentBytes := cfg.Limits.SegmentPlan()
	manager := trace.NewManager(segments, log)

	writer, err := trace.NewWriter(dir,
		trace.WithMaxSegmentBytes(segmentBytes),
		trace.WithOnClose(manager.SegmentClosed),
		trace.WithWriterLogger(log),
	)
	if err != nil {
		return err
	}

	capability := diag.Detect()
	if cmd.Bool("no-diag") {
		capability = diag.Nop()
	}

	capturer := diag.NewCapturer(filepath.Join(dir, "dumps"), capability, log)

	opts := []driver.Option{
		driver.WithLogger(log),
		driver.WithDiagnostics(capturer),
	}
	if seed := cmd.Int("seed"); seed != 0 {
		opts = append(opts, driver.WithSeed(seed))
	}

	d, err := driver.New(cfg, catalog, writer, exec, opts...)
	if err != nil {
		_ = writer.Close()

		return err
	}

	start := time.Now()
	if err := trace.WriteMetadata(dir, trace.NewMetadata(start, cfg, catalog, d.Threads())); err != nil {
		_ = writer.Close()

		return err
	}

	log.Info("starting run",
		zap.String("dir", dir),
		zap.Ints("threads", d.Threads()),
		zap.Int("segments", segments))

	summary, runErr := d.Run(ctx)

	if err := writer.Close(); err != nil && runErr == nil {
		runErr = err
	}

	if runErr != nil {
		return runErr
	}

	fmt.Fprintf(cmd.Writer, "%d started, %d passed, %d failures in %s\n",
		summary.Started, summary.Passed, summary.Failures, summary.Elapsed.Round(time.Millisecond))

	if summary.Aborted {
		fmt.Fprintln(cmd.Writer, "run aborted at failure limit")
	}

	if !summary.Ok() {
		return cli.Exit("", 1)
	}

	return nil
}

// loadRunConfig resolves the config from the --config flag, the --time-limit
// style overrides applied on top.
func loadRunConfig(cmd *cli.Command) (*longhaul.Config, string, error) {
	var (
		cfg  *longhaul.Config
		path string
		err  error
	)

	if p := cmd.String("config"); p != "" {
		cfg, err = longhaul.LoadConfigFile(p)
		path = p
	} else {
		wd, wdErr := os.Getwd()
		if wdErr != nil {
			return nil, "", wdErr
		}

		path, err = longhaul.FindConfig(wd)
		if err == nil {
			cfg, err = longhaul.LoadConfigFile(path)
		}
	}

	if err != nil {
		return nil, "", err
	}

	if limit := cmd.Duration("time-limit"); limit > 0 {
		cfg.Limits.TimeLimit = limit
	}

	if n := cmd.Int("abort-at"); n > 0 {
		cfg.Limits.AbortAtFailureLimit = int(n)
	}

	return cfg, filepath.Dir(path), nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

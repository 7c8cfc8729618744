package main

import (
	"context"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"

	"github.com/rlch/longhaul/replay"
)

func reportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Reconstruct a run's timeline from its trace directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Value:   "longhaul-logs",
				Usage:   "trace directory to read",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "detail",
				Usage:   "output format: detail, chart, summary, failures",
			},
			&cli.DurationFlag{
				Name:  "bucket",
				Value: time.Second,
				Usage: "time bucket for the chart format",
			},
			&cli.BoolFlag{
				Name:  "no-color",
				Usage: "disable ANSI styling",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "verbose logging",
			},
		},
		Action: runReport,
	}
}

func runReport(_ context.Context, cmd *cli.Command) error {
	log, err := newLogger(cmd.Bool("verbose"))
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck // stderr sync failures are uninteresting

	reader, err := replay.Open(cmd.String("dir"), log)
	if err != nil {
		return err
	}

	color := !cmd.Bool("no-color") && isatty.IsTerminal(os.Stdout.Fd())

	formatter := replay.NewFormatter(cmd.String("format"), cmd.Writer, reader.Meta(), color, cmd.Duration("bucket"))

	if err := reader.Scan(formatter.Format); err != nil {
		return err
	}

	return formatter.Summary()
}

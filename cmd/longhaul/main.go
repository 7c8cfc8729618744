package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

// Version information, set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	app := &cli.Command{
		Name:  "longhaul",
		Usage: "long-running load-test harness with binary execution tracing",
		Commands: []*cli.Command{
			runCommand(),
			reportCommand(),
			versionCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "longhaul: %v\n", err)
		os.Exit(1)
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Action: func(_ context.Context, cmd *cli.Command) error {
			w := tabwriter.NewWriter(cmd.Writer, 1, 1, 1, ' ', 0)
			defer w.Flush()

			fmt.Fprintf(w, "Version:\t%s\n", version)
			fmt.Fprintf(w, "Commit:\t%s\n", commit)
			fmt.Fprintf(w, "Go version:\t%s\n", runtime.Version())

			return nil
		},
	}
}

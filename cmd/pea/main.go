package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pea/internal/version"
)

// newRootCmd builds the command tree with its persistent flags.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pea",
		Short:         "Partial escape analysis for IR graphs",
		Long:          `pea removes allocations that do not escape from functions written in a textual node-graph IR`,
		Version:       version.Current().Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newOptCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newPrintCmd())
	root.AddCommand(newVersionCmd())

	flags := root.PersistentFlags()
	flags.String("color", "auto", "colorize output (auto|on|off)")
	flags.String("config", "", "config file (default: pea.toml or pea.yaml in the current directory or a parent)")
	flags.String("timings", "", "show timing information (text|json)")
	flags.Lookup("timings").NoOptDefVal = "text"
	flags.Int("jobs", 0, "functions optimized in parallel (0 = GOMAXPROCS or config)")
	flags.String("metrics", "", "write Prometheus metrics to this file after the run (- for stderr)")

	flags.String("trace", "", "trace output file (- for stderr)")
	flags.String("trace-level", "off", "trace level (off|error|phase|detail|debug)")
	flags.String("trace-mode", "stream", "trace storage (stream|ring|both)")
	flags.Int("trace-ring-size", 4096, "events kept by the ring tracer")
	flags.Duration("trace-heartbeat", 0, "emit heartbeat events at this interval (0 disables)")

	flags.String("cpu-profile", "", "write a CPU profile to this file")
	flags.String("mem-profile", "", "write a heap profile to this file")
	flags.String("runtime-trace", "", "write a Go runtime trace to this file")
	return root
}

// main executes the root command. A failing command exits with status 1.
func main() {
	root := newRootCmd()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		printError(root.ErrOrStderr(), err)
		os.Exit(1)
	}
}

// isTerminal reports whether f is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

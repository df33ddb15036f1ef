package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"pea/internal/irtext"
	"pea/internal/pipeline"
)

func newOptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "opt <file.ir>",
		Short: "Run partial escape analysis on every function of an IR file",
		Long: `Run partial escape analysis on every function of an IR file and print the result.
Functions that fail are printed unchanged and reported on stderr.`,
		Args: cobra.ExactArgs(1),
		RunE: runOpt,
	}
	flags := cmd.Flags()
	flags.StringP("output", "o", "", "write the optimized module to this file")
	flags.String("ui", "auto", "progress display (auto|on|off)")
	flags.Bool("quiet", false, "suppress the summary line")
	flags.String("cache", "", "result cache directory (auto selects the user cache)")
	flags.Bool("no-cache", false, "disable the result cache")
	flags.Int("max-iterations", 0, "maximum whole-graph passes")
	flags.Int("max-loop-iterations", 0, "maximum re-walks of one loop body")
	flags.Int("max-array-length", 0, "largest array length that is virtualized")
	flags.Bool("virtualize-arrays", true, "virtualize arrays with a constant length")
	flags.Bool("canonicalize", true, "canonicalize between passes")
	flags.Bool("stable-arrays", true, "fold reads of constant arrays")
	flags.Bool("verify", true, "verify the graph after every pass")
	return cmd
}

func runOpt(cmd *cobra.Command, args []string) error {
	s, err := startSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	output, _ := cmd.Flags().GetString("output")
	uiFlag, _ := cmd.Flags().GetString("ui")
	quiet, _ := cmd.Flags().GetBool("quiet")
	noCache, _ := cmd.Flags().GetBool("no-cache")
	metricsPath, err := cmd.Root().PersistentFlags().GetString("metrics")
	if err != nil {
		return fmt.Errorf("failed to get metrics flag: %w", err)
	}
	uiMode, err := parseToggle("ui", uiFlag)
	if err != nil {
		return err
	}

	lap := s.timer.Start("parse")
	m, err := readModule(cmd, args[0])
	if err != nil {
		lap.Stop("failed")
		return err
	}
	lap.Stop(fmt.Sprintf("%d funcs", len(m.Funcs)))

	var cache *pipeline.DiskCache
	if dir := s.settings.Pipeline.Cache; dir != "" && !noCache {
		if cache, err = pipeline.OpenDiskCache(dir); err != nil {
			return fmt.Errorf("open cache: %w", err)
		}
	}
	metrics := pipeline.NewMetrics()
	req := &pipeline.Request{
		Module:  m,
		Options: s.settings.EscapeOptions(),
		Jobs:    s.settings.Pipeline.Jobs,
		Cache:   cache,
		Metrics: metrics,
	}

	lap = s.timer.Start("optimize")
	var res pipeline.Result
	var optErr error
	if uiMode.enabled(os.Stdout) && len(m.Funcs) > 0 {
		res, optErr = runOptimizeWithUI(cmd.Context(), "optimizing "+args[0], *req)
	} else {
		res, optErr = pipeline.Optimize(cmd.Context(), req)
	}
	lap.Stop("")
	s.timer.Overlapping("optimize (summed)", res.Busy, "all functions")
	if ctxErr := cmd.Context().Err(); ctxErr != nil {
		return ctxErr
	}

	lap = s.timer.Start("print")
	var sb strings.Builder
	if err := irtext.Fprint(&sb, m); err != nil {
		return err
	}
	if err := writeOutput(cmd, output, sb.String()); err != nil {
		return err
	}
	lap.Stop("")

	if !quiet {
		printSummary(cmd.ErrOrStderr(), res)
	}
	if metricsPath != "" {
		if err := writeMetrics(cmd, metricsPath, metrics); err != nil {
			return err
		}
	}
	if err := s.finish(cmd); err != nil {
		return err
	}
	return optErr
}

func printSummary(out io.Writer, res pipeline.Result) {
	var virtualized, materialized, cached, failed int
	for _, fr := range res.Funcs {
		virtualized += fr.Stats.Virtualized
		materialized += fr.Stats.Materialized
		if fr.Cached {
			cached++
		}
		if fr.Err != nil {
			failed++
		}
	}
	status := color.New(color.FgGreen, color.Bold).Sprint("optimized")
	if failed > 0 {
		status = color.New(color.FgYellow, color.Bold).Sprint("optimized")
	}
	fmt.Fprintf(out, "%s %d functions: %d allocations removed, %d materialized",
		status, len(res.Funcs)-failed, virtualized, materialized)
	if cached > 0 {
		fmt.Fprintf(out, ", %d from cache", cached)
	}
	if failed > 0 {
		fmt.Fprintf(out, ", %s", color.RedString("%d failed", failed))
	}
	fmt.Fprintln(out)
}

func writeMetrics(cmd *cobra.Command, path string, metrics *pipeline.Metrics) error {
	if path == "-" {
		metrics.WritePrometheus(cmd.ErrOrStderr())
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	metrics.WritePrometheus(f)
	return f.Close()
}

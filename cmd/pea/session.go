package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"pea/internal/config"
	"pea/internal/irtext"
	"pea/internal/observ"
)

// session holds what every subcommand sets up before doing its work.
type session struct {
	settings config.Settings
	timer    *observ.Timer
	cleanups []func()
}

// startSession applies the color mode, starts tracing and profiling and loads the
// settings. The caller must call close.
func startSession(cmd *cobra.Command) (*session, error) {
	s := &session{timer: observ.NewTimer()}
	flags := cmd.Root().PersistentFlags()

	colorFlag, err := flags.GetString("color")
	if err != nil {
		return nil, fmt.Errorf("failed to get color flag: %w", err)
	}
	if err := applyColorMode(colorFlag); err != nil {
		return nil, err
	}

	stopTrace, err := setupTracing(cmd)
	if err != nil {
		return nil, err
	}
	s.cleanups = append(s.cleanups, stopTrace)
	stopProf, err := setupProfiling(cmd)
	if err != nil {
		s.close()
		return nil, err
	}
	s.cleanups = append(s.cleanups, stopProf)

	lap := s.timer.Start("config")
	s.settings, err = loadSettings(cmd)
	lap.Stop(s.settings.Path)
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) close() {
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
	s.cleanups = nil
}

// finish prints timings when requested.
func (s *session) finish(cmd *cobra.Command) error {
	format, err := cmd.Root().PersistentFlags().GetString("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}
	if format == "" {
		return nil
	}
	return printTimings(cmd.ErrOrStderr(), s.timer, format)
}

// loadSettings reads --config, or the nearest pea.toml/pea.yaml, and applies flag
// overrides.
func loadSettings(cmd *cobra.Command) (config.Settings, error) {
	flags := cmd.Root().PersistentFlags()
	path, err := flags.GetString("config")
	if err != nil {
		return config.Settings{}, fmt.Errorf("failed to get config flag: %w", err)
	}
	if path == "" {
		found, ok, err := config.Find(".")
		if err != nil {
			return config.Settings{}, err
		}
		if ok {
			path = found
		}
	}

	settings := config.Default()
	if path != "" {
		if settings, err = config.Load(path); err != nil {
			return config.Settings{}, err
		}
	}
	if flags.Changed("jobs") {
		if settings.Pipeline.Jobs, err = flags.GetInt("jobs"); err != nil {
			return config.Settings{}, err
		}
	}
	if err := applyEscapeFlags(cmd, &settings); err != nil {
		return config.Settings{}, err
	}
	if err := settings.Validate(); err != nil {
		return config.Settings{}, err
	}
	return settings, nil
}

// applyEscapeFlags copies the escape flags of cmd that were set on the command line.
func applyEscapeFlags(cmd *cobra.Command, s *config.Settings) error {
	flags := cmd.Flags()
	ints := map[string]*int{
		"max-iterations":      &s.Escape.MaxIterations,
		"max-loop-iterations": &s.Escape.MaxLoopIterations,
		"max-array-length":    &s.Escape.MaxArrayLength,
	}
	for name, dst := range ints {
		if flags.Lookup(name) == nil || !flags.Changed(name) {
			continue
		}
		v, err := flags.GetInt(name)
		if err != nil {
			return err
		}
		*dst = v
	}
	bools := map[string]*bool{
		"virtualize-arrays": &s.Escape.VirtualizeArrays,
		"canonicalize":      &s.Escape.Canonicalize,
		"stable-arrays":     &s.Escape.StableArrays,
		"verify":            &s.Escape.Verify,
	}
	for name, dst := range bools {
		if flags.Lookup(name) == nil || !flags.Changed(name) {
			continue
		}
		v, err := flags.GetBool(name)
		if err != nil {
			return err
		}
		*dst = v
	}
	if flags.Lookup("cache") != nil && flags.Changed("cache") {
		v, err := flags.GetString("cache")
		if err != nil {
			return err
		}
		s.Pipeline.Cache = v
	}
	return nil
}

// readModule parses path, or standard input for "-".
func readModule(cmd *cobra.Command, path string) (*irtext.Module, error) {
	if path == "-" {
		src, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return irtext.Parse("<stdin>", src)
	}
	return irtext.ParseFile(path)
}

// writeOutput writes text to path, or to the command output for "" and "-".
func writeOutput(cmd *cobra.Command, path, text string) error {
	if path == "" || path == "-" {
		_, err := io.WriteString(cmd.OutOrStdout(), text)
		return err
	}
	return os.WriteFile(path, []byte(text), 0o644)
}

// printError writes err with one prefixed line per joined error.
func printError(w io.Writer, err error) {
	prefix := color.New(color.FgRed, color.Bold).Sprint("error:")
	for _, line := range strings.Split(err.Error(), "\n") {
		fmt.Fprintf(w, "%s %s\n", prefix, line)
	}
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pea/internal/trace"
)

// traceFlags mirrors the persistent --trace* flags.
type traceFlags struct {
	output    string
	level     string
	mode      string
	ringSize  int
	heartbeat time.Duration
}

func readTraceFlags(cmd *cobra.Command) (traceFlags, error) {
	flags := cmd.Root().PersistentFlags()
	var tf traceFlags
	var err error
	for _, get := range []func() error{
		func() error { tf.output, err = flags.GetString("trace"); return err },
		func() error { tf.level, err = flags.GetString("trace-level"); return err },
		func() error { tf.mode, err = flags.GetString("trace-mode"); return err },
		func() error { tf.ringSize, err = flags.GetInt("trace-ring-size"); return err },
		func() error { tf.heartbeat, err = flags.GetDuration("trace-heartbeat"); return err },
	} {
		if err := get(); err != nil {
			return tf, fmt.Errorf("failed to read trace flags: %w", err)
		}
	}
	return tf, nil
}

// config turns the flags into a tracer configuration. Naming an output without a level
// traces phases; a level without an output writes to stderr.
func (tf traceFlags) config() (trace.Config, error) {
	level, err := trace.ParseLevel(tf.level)
	if err != nil {
		return trace.Config{}, err
	}
	if level == trace.LevelOff && tf.output != "" {
		level = trace.LevelPhase
	}
	mode, err := trace.ParseMode(tf.mode)
	if err != nil {
		return trace.Config{}, err
	}
	out := tf.output
	if out == "" {
		out = "-"
	}
	return trace.Config{Level: level, Mode: mode, OutputPath: out, RingSize: tf.ringSize, Heartbeat: tf.heartbeat}, nil
}

// setupTracing attaches the tracer the flags ask for to the command context. The returned
// function stops the heartbeat and closes the tracer; closing a ring tracer writes its
// history if a function failed.
func setupTracing(cmd *cobra.Command) (func(), error) {
	tf, err := readTraceFlags(cmd)
	if err != nil {
		return nil, err
	}
	cfg, err := tf.config()
	if err != nil {
		return nil, err
	}
	tracer, err := trace.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	cmd.SetContext(trace.WithTracer(cmd.Context(), tracer))
	if !tracer.Enabled() {
		return func() {}, nil
	}

	beat := trace.StartHeartbeat(tracer, cfg.Heartbeat)
	return func() {
		beat.Stop()
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: %v\n", err)
		}
	}, nil
}

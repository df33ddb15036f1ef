package trace

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Tracer receives events. Implementations are safe for concurrent use.
type Tracer interface {
	Emit(ev *Event)
	// Flush writes out buffered events.
	Flush() error
	// Close flushes and releases the output.
	Close() error
	Level() Level
	// Enabled reports Level() > LevelOff.
	Enabled() bool
}

// StorageMode chooses where events go.
type StorageMode uint8

const (
	// ModeStream writes events to the output as they happen.
	ModeStream StorageMode = iota + 1
	// ModeRing keeps recent events in memory and writes them out only after a failure.
	ModeRing
	// ModeBoth streams and keeps a ring.
	ModeBoth
)

var modeNames = [...]string{ModeStream: "stream", ModeRing: "ring", ModeBoth: "both"}

func (m StorageMode) String() string {
	if int(m) < len(modeNames) && modeNames[m] != "" {
		return modeNames[m]
	}
	return "unknown"
}

// ParseMode accepts stream, ring or both in any case.
func ParseMode(s string) (StorageMode, error) {
	for i, name := range modeNames {
		if name != "" && strings.EqualFold(s, name) {
			return StorageMode(i), nil
		}
	}
	return ModeRing, fmt.Errorf("invalid storage mode: %q (expected: stream|ring|both)", s)
}

// Config describes the tracer built by New.
type Config struct {
	Level Level
	Mode  StorageMode
	// Format of the output; FormatAuto decides from OutputPath.
	Format Format
	// Output takes precedence over OutputPath and is not closed by the tracer.
	Output io.Writer
	// OutputPath is a file to create, or "-" or "" for stderr.
	OutputPath string
	// RingSize is the ring capacity; 0 means 4096.
	RingSize int
	// Heartbeat is informational; callers start it with StartHeartbeat.
	Heartbeat time.Duration
}

// New builds the tracer cfg describes. LevelOff yields Nop.
func New(cfg Config) (Tracer, error) {
	if cfg.Level == LevelOff {
		return Nop, nil
	}
	format := formatFor(cfg.OutputPath, cfg.Format)
	switch cfg.Mode {
	case ModeStream:
		stream, err := openStream(cfg, format)
		if err != nil {
			return nil, err
		}
		return stream, nil
	case ModeRing:
		w, err := openRingOutput(cfg)
		if err != nil {
			return nil, err
		}
		return NewRingTracer(cfg.RingSize, cfg.Level).DumpOnFailure(w, format), nil
	case ModeBoth:
		stream, err := openStream(cfg, format)
		if err != nil {
			return nil, err
		}
		// The stream already wrote everything the ring holds.
		return NewMultiTracer(cfg.Level, stream, NewRingTracer(cfg.RingSize, cfg.Level)), nil
	}
	return nil, fmt.Errorf("unknown storage mode: %v", cfg.Mode)
}

func openStream(cfg Config, format Format) (*StreamTracer, error) {
	if cfg.Output != nil {
		return NewStreamTracer(cfg.Output, cfg.Level, format), nil
	}
	if cfg.OutputPath == "" || cfg.OutputPath == "-" {
		return NewStreamTracer(os.Stderr, cfg.Level, format), nil
	}
	f, err := os.Create(cfg.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace output: %w", err)
	}
	return newFileStream(f, cfg.Level, format), nil
}

// ringFile defers creating the trace file until a failure is actually dumped.
type ringFile struct{ path string }

func (r ringFile) Write(p []byte) (int, error) {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open trace output: %w", err)
	}
	n, err := f.Write(p)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func openRingOutput(cfg Config) (io.Writer, error) {
	switch {
	case cfg.Output != nil:
		return cfg.Output, nil
	case cfg.OutputPath == "" || cfg.OutputPath == "-":
		return os.Stderr, nil
	}
	if err := os.Remove(cfg.OutputPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to reset trace output: %w", err)
	}
	return ringFile{path: cfg.OutputPath}, nil
}

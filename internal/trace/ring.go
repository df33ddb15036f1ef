package trace

import (
	"bytes"
	"io"
	"sync"
)

// Dumper is implemented by tracers that keep events in memory.
type Dumper interface {
	Dump(w io.Writer, f Format) error
}

// RingTracer keeps the most recent events in a fixed-size buffer. When it has an output
// and saw a failure, Close writes the buffer there.
type RingTracer struct {
	mu     sync.Mutex
	buf    []Event
	next   int
	count  int
	level  Level
	failed bool

	out    io.Writer
	format Format
}

// NewRingTracer returns a ring holding up to capacity events; a non-positive capacity
// means 4096.
func NewRingTracer(capacity int, level Level) *RingTracer {
	if capacity <= 0 {
		capacity = 4096
	}
	return &RingTracer{buf: make([]Event, capacity), level: level, format: FormatText}
}

// DumpOnFailure makes Close write the buffer to w if a failure was recorded.
func (t *RingTracer) DumpOnFailure(w io.Writer, f Format) *RingTracer {
	t.out, t.format = w, f
	return t
}

func (t *RingTracer) Emit(ev *Event) {
	if !t.level.accepts(ev) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf[t.next] = *ev
	t.next = (t.next + 1) % len(t.buf)
	t.count = min(t.count+1, len(t.buf))
	if ev.Kind == KindFailure {
		t.failed = true
	}
}

// Snapshot returns the buffered events, oldest first.
func (t *RingTracer) Snapshot() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, 0, t.count)
	start := (t.next - t.count + len(t.buf)) % len(t.buf)
	for i := range t.count {
		out = append(out, t.buf[(start+i)%len(t.buf)])
	}
	return out
}

// Failed reports whether a failure event was recorded.
func (t *RingTracer) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failed
}

// Dump writes the buffered events to w, oldest first.
func (t *RingTracer) Dump(w io.Writer, f Format) error {
	var line []byte
	for _, ev := range t.Snapshot() {
		line = line[:0]
		if f == FormatNDJSON {
			line = appendJSON(line, &ev)
		} else {
			line = appendText(line, &ev)
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	return nil
}

func (t *RingTracer) Flush() error { return nil }

func (t *RingTracer) Close() error {
	if t.out == nil || !t.Failed() {
		return nil
	}
	var b bytes.Buffer
	if err := t.Dump(&b, t.format); err != nil {
		return err
	}
	_, err := t.out.Write(b.Bytes())
	return err
}

func (t *RingTracer) Level() Level { return t.level }

func (t *RingTracer) Enabled() bool { return t.level > LevelOff }

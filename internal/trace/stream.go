package trace

import (
	"bufio"
	"io"
	"sync"
)

// StreamTracer writes each event as soon as it is emitted.
type StreamTracer struct {
	mu     sync.Mutex
	w      io.Writer
	buf    *bufio.Writer
	closer io.Closer
	line   []byte
	level  Level
	format Format
}

// NewStreamTracer writes to w unbuffered. The caller keeps ownership of w.
func NewStreamTracer(w io.Writer, level Level, format Format) *StreamTracer {
	if format == FormatAuto {
		format = FormatText
	}
	return &StreamTracer{w: w, level: level, format: format}
}

// newFileStream buffers writes to wc and closes it on Close.
func newFileStream(wc io.WriteCloser, level Level, format Format) *StreamTracer {
	t := NewStreamTracer(wc, level, format)
	t.buf = bufio.NewWriter(wc)
	t.w = t.buf
	t.closer = wc
	return t
}

func (t *StreamTracer) Emit(ev *Event) {
	if !t.level.accepts(ev) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.format == FormatNDJSON {
		t.line = appendJSON(t.line[:0], ev)
	} else {
		t.line = appendText(t.line[:0], ev)
	}
	// A broken trace sink never fails the optimization itself.
	_, _ = t.w.Write(t.line)
	if ev.Kind == KindFailure && t.buf != nil {
		_ = t.buf.Flush()
	}
}

func (t *StreamTracer) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.buf == nil {
		return nil
	}
	return t.buf.Flush()
}

func (t *StreamTracer) Close() error {
	if err := t.Flush(); err != nil {
		return err
	}
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

func (t *StreamTracer) Level() Level { return t.level }

func (t *StreamTracer) Enabled() bool { return t.level > LevelOff }

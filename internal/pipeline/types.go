// Package pipeline runs escape analysis over every function of a module.
package pipeline

import "time"

// Status is where a function stands in a run.
type Status uint8

const (
	// StatusQueued means the function waits for a worker.
	StatusQueued Status = iota
	StatusWorking
	StatusDone
	// StatusFailed means analysis failed and the function was left as it was.
	StatusFailed
)

var statusNames = [...]string{"queued", "working", "done", "failed"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Finished reports whether no further events follow for the function.
func (s Status) Finished() bool { return s == StatusDone || s == StatusFailed }

// Event reports a status change of one function.
type Event struct {
	Func   string
	Status Status
	// The fields below are set once the function is finished.
	Err         error
	Elapsed     time.Duration
	Cached      bool
	Virtualized int
}

// ProgressSink receives events, possibly from several goroutines at once.
type ProgressSink interface {
	OnEvent(Event)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(Event)

func (f SinkFunc) OnEvent(ev Event) { f(ev) }

// ChanSink sends every event on the channel, blocking while it is full.
type ChanSink chan<- Event

func (c ChanSink) OnEvent(ev Event) { c <- ev }

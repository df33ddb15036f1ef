// Package observ records wall-clock phases of a pea run.
package observ

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type phase struct {
	name    string
	start   time.Time
	dur     time.Duration
	note    string
	overlap bool
	stopped bool
}

// Timer keeps phases in the order they started. It is safe for concurrent use.
type Timer struct {
	mu     sync.Mutex
	phases []phase
}

func NewTimer() *Timer { return &Timer{} }

// Lap is a running phase.
type Lap struct {
	t   *Timer
	idx int
}

// Start opens a phase; Stop on the returned lap closes it.
func (t *Timer) Start(name string) Lap {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phases = append(t.phases, phase{name: name, start: time.Now()})
	return Lap{t: t, idx: len(t.phases) - 1}
}

// Stop closes the phase with an optional note. Only the first Stop counts.
func (l Lap) Stop(note string) {
	if l.t == nil {
		return
	}
	l.t.mu.Lock()
	defer l.t.mu.Unlock()
	p := &l.t.phases[l.idx]
	if p.stopped {
		return
	}
	p.stopped = true
	p.dur = time.Since(p.start)
	p.note = note
}

// Overlapping records a duration measured elsewhere, such as the summed time of work done
// in parallel. It is reported but left out of the total.
func (t *Timer) Overlapping(name string, dur time.Duration, note string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phases = append(t.phases, phase{name: name, dur: dur, note: note, overlap: true})
}

// PhaseReport is one phase in a Report.
type PhaseReport struct {
	Name       string  `json:"name"`
	DurationMS float64 `json:"duration_ms"`
	// Share is the fraction of the total, or 0 for overlapping phases.
	Share   float64 `json:"share,omitempty"`
	Overlap bool    `json:"overlap,omitempty"`
	Note    string  `json:"note,omitempty"`
}

// Report is the serializable view of a Timer.
type Report struct {
	TotalMS float64       `json:"total_ms"`
	Phases  []PhaseReport `json:"phases"`
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// Report snapshots the recorded phases.
func (t *Timer) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	var r Report
	if len(t.phases) == 0 {
		return r
	}
	var total time.Duration
	for _, p := range t.phases {
		if !p.overlap {
			total += p.dur
		}
	}
	r.TotalMS = ms(total)
	for _, p := range t.phases {
		pr := PhaseReport{Name: p.name, DurationMS: ms(p.dur), Overlap: p.overlap, Note: p.note}
		if !p.overlap && total > 0 {
			pr.Share = float64(p.dur) / float64(total)
		}
		r.Phases = append(r.Phases, pr)
	}
	return r
}

// Summary renders the report as an aligned table, one phase per line.
func (t *Timer) Summary() string {
	r := t.Report()
	var sb strings.Builder
	sb.WriteString("timings:\n")
	for _, p := range r.Phases {
		share := "     *"
		if !p.Overlap {
			share = fmt.Sprintf("%5.1f%%", 100*p.Share)
		}
		fmt.Fprintf(&sb, "  %-24s %9.3f ms %s", p.Name, p.DurationMS, share)
		if p.Note != "" {
			sb.WriteString("  " + p.Note)
		}
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "  %-24s %9.3f ms\n", "total", r.TotalMS)
	return sb.String()
}

package observ

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestOverlappingPhasesStayOutOfTotal(t *testing.T) {
	tm := NewTimer()
	tm.Start("parse").Stop("2 funcs")
	tm.Overlapping("optimize (summed)", 3*time.Millisecond, "all functions")

	r := tm.Report()
	if len(r.Phases) != 2 {
		t.Fatalf("phases = %d, want 2", len(r.Phases))
	}
	want := PhaseReport{Name: "optimize (summed)", DurationMS: 3, Overlap: true, Note: "all functions"}
	if diff := cmp.Diff(want, r.Phases[1]); diff != "" {
		t.Errorf("overlapping phase (-want +got):\n%s", diff)
	}
	if r.TotalMS != r.Phases[0].DurationMS {
		t.Errorf("total = %v, want the parse phase only (%v)", r.TotalMS, r.Phases[0].DurationMS)
	}
}

func TestSharesSumToOne(t *testing.T) {
	tm := NewTimer()
	for _, name := range []string{"config", "parse", "optimize"} {
		lap := tm.Start(name)
		time.Sleep(time.Millisecond)
		lap.Stop("")
	}
	sum := 0.0
	for _, p := range tm.Report().Phases {
		sum += p.Share
	}
	if !cmp.Equal(1.0, sum, cmpopts.EquateApprox(0, 1e-9)) {
		t.Errorf("shares sum to %v", sum)
	}
}

func TestStopCountsOnce(t *testing.T) {
	tm := NewTimer()
	lap := tm.Start("print")
	lap.Stop("first")
	lap.Stop("second")
	if got := tm.Report().Phases[0].Note; got != "first" {
		t.Errorf("note = %q, want first", got)
	}
	Lap{}.Stop("zero lap")
}

func TestSummaryListsPhases(t *testing.T) {
	tm := NewTimer()
	tm.Start("parse").Stop("")
	tm.Overlapping("optimize", time.Millisecond, "3 funcs")
	s := tm.Summary()
	for _, want := range []string{"timings:\n", "  parse ", "100.0%", "  optimize ", "*  3 funcs", "  total "} {
		if !strings.Contains(s, want) {
			t.Errorf("summary lacks %q:\n%s", want, s)
		}
	}
}

func TestEmptyTimer(t *testing.T) {
	if diff := cmp.Diff(Report{}, NewTimer().Report()); diff != "" {
		t.Errorf("report (-want +got):\n%s", diff)
	}
}

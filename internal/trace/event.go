package trace

import (
	"fmt"
	"strings"
	"time"
)

// Kind tells what an Event marks.
type Kind uint8

const (
	KindSpanBegin Kind = iota + 1
	KindSpanEnd
	KindPoint
	KindHeartbeat
	// KindFailure reports a function the optimizer gave up on. It is recorded at every
	// level above LevelOff.
	KindFailure
)

var kindNames = [...]string{"unknown", "begin", "end", "point", "heartbeat", "failure"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[0]
}

// Scope is the granularity of an event; smaller values are coarser.
type Scope uint8

const (
	// ScopeDriver covers CLI commands and whole pipeline runs.
	ScopeDriver Scope = iota + 1
	// ScopePass covers one function or one analysis pass.
	ScopePass
	// ScopeBlock covers merges and loop iterations.
	ScopeBlock
	// ScopeNode covers single nodes.
	ScopeNode
)

var scopeNames = [...]string{"unknown", "driver", "pass", "block", "node"}

func (s Scope) String() string {
	if int(s) < len(scopeNames) {
		return scopeNames[s]
	}
	return scopeNames[0]
}

// Level is the tracing verbosity.
type Level uint8

const (
	LevelOff Level = iota
	LevelError
	LevelPhase
	LevelDetail
	LevelDebug
)

var levelNames = [...]string{"off", "error", "phase", "detail", "debug"}

// deepest is the finest scope each level lets through; zero lets nothing through.
var deepest = [...]Scope{LevelPhase: ScopePass, LevelDetail: ScopeBlock, LevelDebug: ScopeNode}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// ParseLevel accepts a level name in any case.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return Level(i), nil
		}
	}
	return LevelOff, fmt.Errorf("invalid trace level: %q (expected: %s)", s, strings.Join(levelNames[:], "|"))
}

// ShouldEmit reports whether events of the given scope are recorded at level l.
func (l Level) ShouldEmit(scope Scope) bool {
	return int(l) < len(deepest) && scope > 0 && scope <= deepest[l]
}

// accepts reports whether a tracer at level l records ev. Heartbeats and failures bypass
// the scope filter.
func (l Level) accepts(ev *Event) bool {
	switch ev.Kind {
	case KindHeartbeat, KindFailure:
		return l > LevelOff
	}
	return l.ShouldEmit(ev.Scope)
}

// Attr is one key/value pair attached to an event.
type Attr struct {
	Key   string
	Value string
}

// Event is a single trace record.
type Event struct {
	Time     time.Time
	Seq      uint64
	Kind     Kind
	Scope    Scope
	SpanID   uint64
	ParentID uint64
	// Func names the IR function the event belongs to, if any.
	Func   string
	Name   string
	Detail string
	Attrs  []Attr
}

package trace

import (
	"strconv"
	"sync/atomic"
	"time"
)

var (
	seqCounter  atomic.Uint64
	spanCounter atomic.Uint64
	openSpans   atomic.Int64
)

func nextSeq() uint64 { return seqCounter.Add(1) }

func nextSpanID() uint64 { return spanCounter.Add(1) }

// OpenSpans returns the number of spans begun and not yet ended.
func OpenSpans() int64 { return openSpans.Load() }

// Span is an operation with a begin and an end event. Points emitted through a span carry
// its function and use it as their parent. A nil or silent span is safe to use.
type Span struct {
	tracer  Tracer
	id      uint64
	parent  uint64
	scope   Scope
	fn      string
	name    string
	started time.Time
	attrs   []Attr
	// live is set when the begin event was recorded and no end event yet.
	live bool
}

// Begin starts a span that belongs to no particular function.
func Begin(t Tracer, scope Scope, name string, parent uint64) *Span {
	return BeginFunc(t, scope, "", name, parent)
}

// BeginFunc starts a span for work on function fn. When the scope is filtered out the
// returned span records nothing itself but still forwards points to t.
func BeginFunc(t Tracer, scope Scope, fn, name string, parent uint64) *Span {
	if t == nil {
		t = Nop
	}
	s := &Span{tracer: t, parent: parent, scope: scope, fn: fn, name: name}
	if !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return s
	}
	s.id = nextSpanID()
	s.started = time.Now()
	s.live = true
	openSpans.Add(1)
	t.Emit(&Event{
		Time:     s.started,
		Seq:      nextSeq(),
		Kind:     KindSpanBegin,
		Scope:    scope,
		SpanID:   s.id,
		ParentID: parent,
		Func:     fn,
		Name:     name,
	})
	return s
}

// Str attaches an attribute reported with the end event.
func (s *Span) Str(key, value string) *Span {
	if s != nil && s.live {
		s.attrs = append(s.attrs, Attr{Key: key, Value: value})
	}
	return s
}

// Int is Str for integer values.
func (s *Span) Int(key string, value int) *Span {
	if s != nil && s.live {
		s.attrs = append(s.attrs, Attr{Key: key, Value: strconv.Itoa(value)})
	}
	return s
}

// End records the end event once and returns the span's duration.
func (s *Span) End(detail string) time.Duration {
	if s == nil || !s.live {
		return 0
	}
	s.live = false
	openSpans.Add(-1)
	now := time.Now()
	s.tracer.Emit(&Event{
		Time:     now,
		Seq:      nextSeq(),
		Kind:     KindSpanEnd,
		Scope:    s.scope,
		SpanID:   s.id,
		ParentID: s.parent,
		Func:     s.fn,
		Name:     s.name,
		Detail:   detail,
		Attrs:    s.attrs,
	})
	return now.Sub(s.started)
}

// ID returns the span ID, or the parent's ID when the span was filtered out, so that
// children still attach to the nearest recorded ancestor.
func (s *Span) ID() uint64 {
	if s == nil {
		return 0
	}
	if s.id == 0 {
		return s.parent
	}
	return s.id
}

// Func returns the function the span belongs to.
func (s *Span) Func() string {
	if s == nil {
		return ""
	}
	return s.fn
}

// Enabled reports whether points of the given scope would be recorded.
func (s *Span) Enabled(scope Scope) bool {
	return s != nil && s.tracer != nil && s.tracer.Enabled() && s.tracer.Level().ShouldEmit(scope)
}

// Point records an instant event under s.
func (s *Span) Point(scope Scope, name, detail string) {
	if s == nil {
		return
	}
	emitPoint(s.tracer, scope, s.fn, name, detail, s.ID())
}

// Point records an instant event under parent.
func Point(t Tracer, scope Scope, name, detail string, parent uint64) {
	emitPoint(t, scope, "", name, detail, parent)
}

func emitPoint(t Tracer, scope Scope, fn, name, detail string, parent uint64) {
	if t == nil || !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return
	}
	t.Emit(&Event{
		Time:     time.Now(),
		Seq:      nextSeq(),
		Kind:     KindPoint,
		Scope:    scope,
		ParentID: parent,
		Func:     fn,
		Name:     name,
		Detail:   detail,
	})
}

// Failure records that the optimizer gave up on fn. Ring tracers dump their history
// when they are closed after a failure.
func Failure(t Tracer, fn string, err error, parent uint64) {
	if t == nil || !t.Enabled() || err == nil {
		return
	}
	t.Emit(&Event{
		Time:     time.Now(),
		Seq:      nextSeq(),
		Kind:     KindFailure,
		Scope:    ScopePass,
		ParentID: parent,
		Func:     fn,
		Name:     "failed",
		Detail:   err.Error(),
	})
}

package trace

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Format selects how events are rendered.
type Format uint8

const (
	// FormatAuto picks NDJSON for .json and .ndjson outputs, text otherwise.
	FormatAuto Format = iota
	FormatText
	FormatNDJSON
)

// ParseFormat accepts auto, text, ndjson or json.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return FormatAuto, nil
	case "text":
		return FormatText, nil
	case "ndjson", "json":
		return FormatNDJSON, nil
	}
	return FormatAuto, fmt.Errorf("invalid trace format: %q (expected: auto|text|ndjson)", s)
}

func formatFor(path string, f Format) Format {
	if f != FormatAuto {
		return f
	}
	if strings.HasSuffix(path, ".ndjson") || strings.HasSuffix(path, ".json") {
		return FormatNDJSON
	}
	return FormatText
}

// FormatEvent renders ev as one line, including the trailing newline.
func FormatEvent(ev *Event, f Format) []byte {
	if f == FormatNDJSON {
		return appendJSON(nil, ev)
	}
	return appendText(nil, ev)
}

type jsonEvent struct {
	Time   string            `json:"time"`
	Seq    uint64            `json:"seq"`
	Kind   string            `json:"kind"`
	Scope  string            `json:"scope"`
	Span   uint64            `json:"span,omitempty"`
	Parent uint64            `json:"parent,omitempty"`
	Func   string            `json:"func,omitempty"`
	Name   string            `json:"name"`
	Detail string            `json:"detail,omitempty"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

func appendJSON(dst []byte, ev *Event) []byte {
	j := jsonEvent{
		Time:   ev.Time.Format("2006-01-02T15:04:05.000000Z07:00"),
		Seq:    ev.Seq,
		Kind:   ev.Kind.String(),
		Scope:  ev.Scope.String(),
		Span:   ev.SpanID,
		Parent: ev.ParentID,
		Func:   ev.Func,
		Name:   ev.Name,
		Detail: ev.Detail,
	}
	if len(ev.Attrs) > 0 {
		j.Attrs = make(map[string]string, len(ev.Attrs))
		for _, a := range ev.Attrs {
			j.Attrs[a.Key] = a.Value
		}
	}
	// Every field is a string or an integer, so marshalling cannot fail.
	data, _ := json.Marshal(j)
	dst = append(dst, data...)
	return append(dst, '\n')
}

var kindMarks = [...]string{KindSpanBegin: "→", KindSpanEnd: "←", KindPoint: "•", KindHeartbeat: "♡", KindFailure: "✗"}

// appendText renders "[seq] scope   <indent><mark> name @func (detail) {k=v, ...}".
// Attributes keep the order they were added in.
func appendText(dst []byte, ev *Event) []byte {
	dst = append(dst, '[')
	seq := strconv.FormatUint(ev.Seq, 10)
	for range 6 - len(seq) {
		dst = append(dst, ' ')
	}
	dst = append(dst, seq...)
	dst = append(dst, "] "...)
	dst = append(dst, fmt.Sprintf("%-6s ", ev.Scope)...)
	if ev.ParentID > 0 && ev.Scope > 0 {
		dst = append(dst, strings.Repeat("  ", int(ev.Scope)-1)...)
	}
	if int(ev.Kind) < len(kindMarks) && kindMarks[ev.Kind] != "" {
		dst = append(dst, kindMarks[ev.Kind]...)
		dst = append(dst, ' ')
	}
	dst = append(dst, ev.Name...)
	if ev.Func != "" {
		dst = append(dst, " @"...)
		dst = append(dst, ev.Func...)
	}
	if ev.Detail != "" {
		dst = append(dst, " ("...)
		dst = append(dst, ev.Detail...)
		dst = append(dst, ')')
	}
	for i, a := range ev.Attrs {
		if i == 0 {
			dst = append(dst, " {"...)
		} else {
			dst = append(dst, ", "...)
		}
		dst = append(dst, a.Key...)
		dst = append(dst, '=')
		dst = append(dst, a.Value...)
	}
	if len(ev.Attrs) > 0 {
		dst = append(dst, '}')
	}
	return append(dst, '\n')
}

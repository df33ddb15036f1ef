package ir

import (
	"fmt"
	"slices"
	"strings"
)

// Kind is the value kind carried by a node or field.
type Kind uint8

const (
	// KindVoid is carried by nodes without a value.
	KindVoid Kind = iota
	// KindInt is a 64-bit integer.
	KindInt
	// KindFloat is a 64-bit float.
	KindFloat
	// KindBool is a boolean.
	KindBool
	// KindObject is a reference.
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindObject:
		return "object"
	default:
		return "kind?"
	}
}

// ParseKind converts a printed kind name.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "void":
		return KindVoid, true
	case "int":
		return KindInt, true
	case "float":
		return KindFloat, true
	case "bool":
		return KindBool, true
	case "object":
		return KindObject, true
	}
	return KindVoid, false
}

// Field is one instance field of a Type.
type Field struct {
	Name string
	Kind Kind
}

// Type describes an instance layout. Types are shared read-only between graphs.
type Type struct {
	Name   string
	Fields []Field
	// Final marks types with a finalizer obligation; their allocations must stay real.
	Final bool
}

// FieldIndex returns the index of the named field or -1.
func (t *Type) FieldIndex(name string) int {
	if t == nil {
		return -1
	}
	return slices.IndexFunc(t.Fields, func(f Field) bool { return f.Name == name })
}

// Static is a global slot.
type Static struct {
	Name string
	Kind Kind
}

// Universe holds the type and static tables of a program.
type Universe struct {
	types   map[string]*Type
	statics map[string]*Static
	order   []string
	sorder  []string
}

// NewUniverse creates an empty Universe.
func NewUniverse() *Universe {
	return &Universe{
		types:   make(map[string]*Type),
		statics: make(map[string]*Static),
	}
}

// DefineType registers a type; names must be unique.
func (u *Universe) DefineType(t *Type) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("type without name")
	}
	if _, ok := u.types[t.Name]; ok {
		return fmt.Errorf("type %s redefined", t.Name)
	}
	seen := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if seen[f.Name] {
			return fmt.Errorf("type %s: duplicate field %s", t.Name, f.Name)
		}
		seen[f.Name] = true
	}
	u.types[t.Name] = t
	u.order = append(u.order, t.Name)
	return nil
}

// DefineStatic registers a static slot.
func (u *Universe) DefineStatic(s *Static) error {
	if s == nil || s.Name == "" {
		return fmt.Errorf("static without name")
	}
	if _, ok := u.statics[s.Name]; ok {
		return fmt.Errorf("static %s redefined", s.Name)
	}
	u.statics[s.Name] = s
	u.sorder = append(u.sorder, s.Name)
	return nil
}

// Type looks up a type by name.
func (u *Universe) Type(name string) *Type {
	if u == nil {
		return nil
	}
	return u.types[name]
}

// Static looks up a static by name.
func (u *Universe) Static(name string) *Static {
	if u == nil {
		return nil
	}
	return u.statics[name]
}

// Types returns types in definition order.
func (u *Universe) Types() []*Type {
	out := make([]*Type, 0, len(u.order))
	for _, n := range u.order {
		out = append(out, u.types[n])
	}
	return out
}

// Statics returns statics in definition order.
func (u *Universe) Statics() []*Static {
	out := make([]*Static, 0, len(u.sorder))
	for _, n := range u.sorder {
		out = append(out, u.statics[n])
	}
	return out
}

// Const is a constant payload.
type Const struct {
	Kind  Kind
	Int   int64
	Float float64
	Bool  bool
	// Null, Str and Array describe object constants.
	Null  bool
	Str   string
	Array []int64
	IsArr bool
}

// IntConst returns an int constant.
func IntConst(v int64) Const { return Const{Kind: KindInt, Int: v} }

// FloatConst returns a float constant.
func FloatConst(v float64) Const { return Const{Kind: KindFloat, Float: v} }

// BoolConst returns a bool constant.
func BoolConst(v bool) Const { return Const{Kind: KindBool, Bool: v} }

// NullConst returns the null reference.
func NullConst() Const { return Const{Kind: KindObject, Null: true} }

// StringConst returns a string reference constant.
func StringConst(s string) Const { return Const{Kind: KindObject, Str: s} }

// ArrayConst returns an int array reference constant.
func ArrayConst(elems []int64) Const {
	return Const{Kind: KindObject, Array: slices.Clone(elems), IsArr: true}
}

// ZeroConst returns the default value of a kind.
func ZeroConst(k Kind) Const {
	switch k {
	case KindObject:
		return NullConst()
	default:
		return Const{Kind: k}
	}
}

// Equal reports constant equality.
func (c Const) Equal(o Const) bool {
	if c.Kind != o.Kind {
		return false
	}
	switch c.Kind {
	case KindInt:
		return c.Int == o.Int
	case KindFloat:
		return c.Float == o.Float
	case KindBool:
		return c.Bool == o.Bool
	case KindObject:
		if c.Null || o.Null {
			return c.Null == o.Null
		}
		if c.IsArr != o.IsArr {
			return false
		}
		if c.IsArr {
			return slices.Equal(c.Array, o.Array)
		}
		return c.Str == o.Str
	}
	return true
}

// IsZero reports whether c is the default value of its kind.
func (c Const) IsZero() bool {
	return c.Equal(ZeroConst(c.Kind))
}

func (c Const) String() string {
	switch c.Kind {
	case KindInt:
		return fmt.Sprintf("int %d", c.Int)
	case KindFloat:
		return fmt.Sprintf("float %g", c.Float)
	case KindBool:
		return fmt.Sprintf("bool %t", c.Bool)
	case KindObject:
		switch {
		case c.Null:
			return "null"
		case c.IsArr:
			parts := make([]string, len(c.Array))
			for i, v := range c.Array {
				parts[i] = fmt.Sprint(v)
			}
			return "array {" + strings.Join(parts, ", ") + "}"
		default:
			return fmt.Sprintf("string %q", c.Str)
		}
	}
	return "void"
}

// Shape describes one allocation: an instance of Type, an array, or a box.
type Shape struct {
	Type   *Type
	Elem   Kind
	Length int
	IsArr  bool
	Box    Kind
	IsBox  bool
}

// InstanceShape returns the shape of a Type instance.
func InstanceShape(t *Type) Shape { return Shape{Type: t} }

// ArrayShape returns the shape of an array.
func ArrayShape(elem Kind, length int) Shape {
	return Shape{Elem: elem, Length: length, IsArr: true}
}

// BoxShape returns the shape of a box of kind k.
func BoxShape(k Kind) Shape { return Shape{Box: k, IsBox: true} }

// Len returns the number of slots in the shape.
func (s Shape) Len() int {
	switch {
	case s.IsArr:
		return s.Length
	case s.IsBox:
		return 1
	case s.Type != nil:
		return len(s.Type.Fields)
	}
	return 0
}

// SlotKind returns the kind of slot i.
func (s Shape) SlotKind(i int) Kind {
	switch {
	case s.IsArr:
		return s.Elem
	case s.IsBox:
		return s.Box
	case s.Type != nil && i >= 0 && i < len(s.Type.Fields):
		return s.Type.Fields[i].Kind
	}
	return KindVoid
}

// SlotName returns a printable name for slot i.
func (s Shape) SlotName(i int) string {
	switch {
	case s.IsArr:
		return fmt.Sprintf("[%d]", i)
	case s.IsBox:
		return "value"
	case s.Type != nil && i >= 0 && i < len(s.Type.Fields):
		return s.Type.Fields[i].Name
	}
	return "?"
}

func (s Shape) String() string {
	switch {
	case s.IsArr:
		return fmt.Sprintf("%s[%d]", s.Elem, s.Length)
	case s.IsBox:
		return fmt.Sprintf("box<%s>", s.Box)
	case s.Type != nil:
		return s.Type.Name
	}
	return "shape?"
}

package virt

import (
	"fmt"
	"slices"
	"strings"

	"pea/internal/ir"
)

// ObjectState is the state of one object at a program point: either virtual with one
// entry per slot, or materialized as the node Value.
type ObjectState struct {
	Entries []Value
	Value   ir.NodeID
	virtual bool
}

// Virtual reports whether the object is still tracked symbolically.
func (o *ObjectState) Virtual() bool { return o != nil && o.virtual }

func (o *ObjectState) clone() *ObjectState {
	c := *o
	c.Entries = slices.Clone(o.Entries)
	return &c
}

func (o *ObjectState) equal(p *ObjectState) bool {
	if o == p {
		return true
	}
	if o == nil || p == nil || o.virtual != p.virtual {
		return false
	}
	if !o.virtual {
		return o.Value == p.Value
	}
	return slices.Equal(o.Entries, p.Entries)
}

// State maps live objects to their ObjectState at one program point. Clones share
// object states until one side writes.
type State struct {
	objs  []*ObjectState
	owned []bool
}

// NewState returns a state without live objects.
func NewState() *State { return &State{} }

// Clone returns a copy that can be mutated independently of s.
func (s *State) Clone() *State {
	c := &State{
		objs:  slices.Clone(s.objs),
		owned: make([]bool, len(s.objs)),
	}
	clear(s.owned)
	return c
}

func (s *State) grow(obj ObjectID) {
	for int(obj) >= len(s.objs) {
		s.objs = append(s.objs, nil)
		s.owned = append(s.owned, false)
	}
}

func (s *State) mutable(obj ObjectID) *ObjectState {
	o := s.objs[obj]
	if !s.owned[obj] {
		o = o.clone()
		s.objs[obj] = o
		s.owned[obj] = true
	}
	return o
}

// Get returns the state of obj, or nil when obj is not live.
func (s *State) Get(obj ObjectID) *ObjectState {
	if s == nil || obj < 0 || int(obj) >= len(s.objs) {
		return nil
	}
	return s.objs[obj]
}

// Live reports whether obj has a state at this point.
func (s *State) Live(obj ObjectID) bool { return s.Get(obj) != nil }

// IsVirtual reports whether obj is live and virtual.
func (s *State) IsVirtual(obj ObjectID) bool { return s.Get(obj).Virtual() }

// NewVirtual installs a fresh virtual state for obj, replacing any previous one.
func (s *State) NewVirtual(obj ObjectID, entries []Value) {
	s.grow(obj)
	s.objs[obj] = &ObjectState{Entries: slices.Clone(entries), virtual: true}
	s.owned[obj] = true
}

// ReadField returns entry i of the virtual object obj.
func (s *State) ReadField(obj ObjectID, i int) Value {
	o := s.Get(obj)
	if !o.Virtual() || i < 0 || i >= len(o.Entries) {
		return Default()
	}
	return o.Entries[i]
}

// WriteField updates entry i of the virtual object obj on this path only.
func (s *State) WriteField(obj ObjectID, i int, v Value) {
	if !s.IsVirtual(obj) {
		panic(fmt.Sprintf("virt: write to non-virtual object %d", obj))
	}
	o := s.mutable(obj)
	o.Entries[i] = v
}

// Escape marks obj as materialized with value from this point on.
func (s *State) Escape(obj ObjectID, value ir.NodeID) {
	s.grow(obj)
	s.objs[obj] = &ObjectState{Value: value}
	s.owned[obj] = true
}

// Remove drops obj from the state.
func (s *State) Remove(obj ObjectID) {
	if s.Live(obj) {
		s.objs[obj] = nil
		s.owned[obj] = false
	}
}

// Objects returns the live objects in id order.
func (s *State) Objects() []ObjectID {
	var out []ObjectID
	for i, o := range s.objs {
		if o != nil {
			out = append(out, ObjectID(i)) //nolint:gosec // bounded by the object table
		}
	}
	return out
}

// VirtualObjects returns the live virtual objects in id order.
func (s *State) VirtualObjects() []ObjectID {
	var out []ObjectID
	for _, id := range s.Objects() {
		if s.IsVirtual(id) {
			out = append(out, id)
		}
	}
	return out
}

// Equal reports whether both states hold the same objects in the same states.
func (s *State) Equal(o *State) bool {
	n := max(len(s.objs), len(o.objs))
	for i := range n {
		id := ObjectID(i) //nolint:gosec // bounded by the object table
		if !s.Get(id).equal(o.Get(id)) {
			return false
		}
	}
	return true
}

func (s *State) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, id := range s.Objects() {
		if i > 0 {
			sb.WriteString(", ")
		}
		o := s.Get(id)
		if o.Virtual() {
			fmt.Fprintf(&sb, "obj%d=%v", id, o.Entries)
		} else {
			fmt.Fprintf(&sb, "obj%d=@v%d", id, o.Value)
		}
	}
	sb.WriteByte('}')
	return sb.String()
}

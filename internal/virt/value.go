// Package virt models virtual objects: allocations that are tracked field by field instead
// of being allocated on the heap.
package virt

import (
	"fmt"

	"fortio.org/safecast"

	"pea/internal/ir"
)

// ObjectID indexes the object table of one analysis pass.
type ObjectID int32

// NoObject is the invalid ObjectID.
const NoObject ObjectID = -1

// ValueKind tells how an entry of a virtual object is described.
type ValueKind uint8

const (
	// ValDefault is the zero value of the slot kind.
	ValDefault ValueKind = iota
	// ValNode is the value of a graph node.
	ValNode
	// ValObject is a reference to another tracked object.
	ValObject
)

// Value describes the content of one slot of a virtual object.
type Value struct {
	Kind ValueKind
	Node ir.NodeID
	Obj  ObjectID
}

// Default returns the zero descriptor.
func Default() Value { return Value{Kind: ValDefault, Obj: NoObject} }

// NodeValue returns a descriptor holding a graph value.
func NodeValue(id ir.NodeID) Value { return Value{Kind: ValNode, Node: id, Obj: NoObject} }

// ObjectValue returns a descriptor referencing a tracked object.
func ObjectValue(obj ObjectID) Value { return Value{Kind: ValObject, Obj: obj} }

// IsObject reports whether v references a tracked object.
func (v Value) IsObject() bool { return v.Kind == ValObject }

func (v Value) String() string {
	switch v.Kind {
	case ValNode:
		return fmt.Sprintf("v%d", v.Node)
	case ValObject:
		return fmt.Sprintf("obj%d", v.Obj)
	default:
		return "default"
	}
}

// Object is the static description of a tracked allocation.
type Object struct {
	ID ObjectID
	// Site is the allocating node: New, NewArray, Box or CommitAllocation.
	Site ir.NodeID
	// Index is the object position within a CommitAllocation.
	Index int
	Shape ir.Shape
}

func (o *Object) String() string {
	return fmt.Sprintf("obj%d(%s@%d)", o.ID, o.Shape, o.Site)
}

type siteKey struct {
	site  ir.NodeID
	index int
}

// Table interns objects by allocation site, so revisiting a site inside a loop yields the
// same ObjectID.
type Table struct {
	objs  []*Object
	sites map[siteKey]ObjectID
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{sites: make(map[siteKey]ObjectID)}
}

// Intern returns the object of (site, index), creating it with shape on first use.
func (t *Table) Intern(site ir.NodeID, index int, shape ir.Shape) ObjectID {
	key := siteKey{site: site, index: index}
	if id, ok := t.sites[key]; ok {
		return id
	}
	n, err := safecast.Conv[int32](len(t.objs))
	if err != nil {
		panic(err)
	}
	id := ObjectID(n)
	t.objs = append(t.objs, &Object{ID: id, Site: site, Index: index, Shape: shape})
	t.sites[key] = id
	return id
}

// Get returns the object with id, or nil.
func (t *Table) Get(id ObjectID) *Object {
	if id < 0 || int(id) >= len(t.objs) {
		return nil
	}
	return t.objs[id]
}

// Len returns the number of interned objects.
func (t *Table) Len() int { return len(t.objs) }

// Objects returns all interned objects in id order.
func (t *Table) Objects() []*Object { return t.objs }

package ir

import "slices"

// NodeID is a stable handle into a Graph's node arena.
type NodeID uint32

// NoNode is the invalid NodeID.
const NoNode NodeID = 0

// Node is one IR instruction.
//
// Input layout per op:
//
//	Merge        ends...
//	LoopBegin    forwardEnd, loopEnds...
//	If           cond
//	Return       [value]
//	NewArray     length
//	Box          value
//	Unbox        object
//	LoadField    object
//	StoreField   object, value
//	LoadIndexed  array, index
//	StoreIndexed array, index, value
//	ArrayLength  array
//	StoreStatic  value
//	Invoke       args...
//	MonitorEnter object
//	MonitorExit  object
//	Phi          merge, values...
//	Add..Lt      x, y
//	RefEq        x, y
//	IsNull       x
//	AllocatedObject commit
type Node struct {
	ID     NodeID
	Op     Op
	Kind   Kind
	Inputs []NodeID

	// Next and Pred link fixed nodes; True and False are the successors of an If.
	Next  NodeID
	Pred  NodeID
	True  NodeID
	False NodeID

	// Type is the allocated type of New and the owner type of field accesses.
	Type *Type
	// Index is the field index, parameter index or committed object index.
	Index int
	// Elem is the element kind of NewArray and the primitive kind of Box and Unbox.
	Elem   Kind
	Const  Const
	Static *Static
	Shapes []Shape
	// Name is the callee of an Invoke or the name of a Param.
	Name string

	usages []NodeID
	killed bool
}

// Input returns input i or NoNode.
func (n *Node) Input(i int) NodeID {
	if n == nil || i < 0 || i >= len(n.Inputs) {
		return NoNode
	}
	return n.Inputs[i]
}

// Killed reports whether the node is scheduled for deletion.
func (n *Node) Killed() bool {
	return n != nil && n.killed
}

// Shape returns the allocation shape of New, NewArray and Box nodes. The length of a
// NewArray is taken from constLen, which must be resolved by the caller.
func (n *Node) Shape(constLen int) Shape {
	switch n.Op {
	case OpNew:
		return InstanceShape(n.Type)
	case OpNewArray:
		return ArrayShape(n.Elem, constLen)
	case OpBox:
		return BoxShape(n.Elem)
	}
	return Shape{}
}

func (n *Node) clone() *Node {
	c := *n
	c.Inputs = slices.Clone(n.Inputs)
	c.Shapes = slices.Clone(n.Shapes)
	c.usages = nil
	c.killed = false
	return &c
}

package ir

// Builder appends nodes to a graph. Fixed nodes are linked after the current position.
type Builder struct {
	g    *Graph
	last NodeID
}

// NewBuilder creates a graph and positions the builder after its Start node.
func NewBuilder(name string, u *Universe) *Builder {
	g := NewGraph(name, u)
	return &Builder{g: g, last: g.Start()}
}

// Graph returns the graph under construction.
func (b *Builder) Graph() *Graph { return b.g }

// Position returns the fixed node new nodes are appended after, or NoNode after a terminator.
func (b *Builder) Position() NodeID { return b.last }

// At moves the append position after the fixed node id.
func (b *Builder) At(id NodeID) { b.last = id }

// Append links the fixed node n after the current position.
func (b *Builder) Append(n *Node) NodeID {
	id := b.g.Add(n)
	if b.last != NoNode {
		b.g.SetNext(b.last, id)
	}
	b.last = id
	if n.Op.EndsBlock() {
		b.last = NoNode
	}
	return id
}

// Float adds a floating node.
func (b *Builder) Float(n *Node) NodeID { return b.g.Add(n) }

// Param declares the next function parameter.
func (b *Builder) Param(name string, k Kind) NodeID {
	id := b.g.Add(&Node{Op: OpParam, Kind: k, Name: name, Index: len(b.g.Params)})
	b.g.Params = append(b.g.Params, id)
	return id
}

// Const adds a constant.
func (b *Builder) Const(c Const) NodeID {
	return b.g.Add(&Node{Op: OpConst, Kind: c.Kind, Const: c})
}

// Int adds an int constant.
func (b *Builder) Int(v int64) NodeID { return b.Const(IntConst(v)) }

// Null adds the null constant.
func (b *Builder) Null() NodeID { return b.Const(NullConst()) }

// Binary adds an arithmetic or comparison node.
func (b *Builder) Binary(op Op, x, y NodeID) NodeID {
	k := KindBool
	switch op {
	case OpAdd, OpSub, OpMul:
		k = b.g.Node(x).Kind
	}
	return b.g.Add(&Node{Op: op, Kind: k, Inputs: []NodeID{x, y}})
}

// IsNull adds a null test.
func (b *Builder) IsNull(x NodeID) NodeID {
	return b.g.Add(&Node{Op: OpIsNull, Kind: KindBool, Inputs: []NodeID{x}})
}

// New appends an instance allocation.
func (b *Builder) New(t *Type) NodeID {
	return b.Append(&Node{Op: OpNew, Kind: KindObject, Type: t})
}

// NewArray appends an array allocation.
func (b *Builder) NewArray(elem Kind, length NodeID) NodeID {
	return b.Append(&Node{Op: OpNewArray, Kind: KindObject, Elem: elem, Inputs: []NodeID{length}})
}

// Box appends a box allocation.
func (b *Builder) Box(k Kind, v NodeID) NodeID {
	return b.Append(&Node{Op: OpBox, Kind: KindObject, Elem: k, Inputs: []NodeID{v}})
}

// Unbox appends a read of a box.
func (b *Builder) Unbox(k Kind, obj NodeID) NodeID {
	return b.Append(&Node{Op: OpUnbox, Kind: k, Elem: k, Inputs: []NodeID{obj}})
}

// LoadField appends a field read.
func (b *Builder) LoadField(t *Type, field string, obj NodeID) NodeID {
	i := t.FieldIndex(field)
	return b.Append(&Node{Op: OpLoadField, Kind: t.Fields[i].Kind, Type: t, Index: i, Inputs: []NodeID{obj}})
}

// StoreField appends a field write.
func (b *Builder) StoreField(t *Type, field string, obj, v NodeID) NodeID {
	return b.Append(&Node{Op: OpStoreField, Type: t, Index: t.FieldIndex(field), Inputs: []NodeID{obj, v}})
}

// LoadIndexed appends an array element read.
func (b *Builder) LoadIndexed(elem Kind, arr, idx NodeID) NodeID {
	return b.Append(&Node{Op: OpLoadIndexed, Kind: elem, Elem: elem, Inputs: []NodeID{arr, idx}})
}

// StoreIndexed appends an array element write.
func (b *Builder) StoreIndexed(elem Kind, arr, idx, v NodeID) NodeID {
	return b.Append(&Node{Op: OpStoreIndexed, Elem: elem, Inputs: []NodeID{arr, idx, v}})
}

// ArrayLength appends an array length read.
func (b *Builder) ArrayLength(arr NodeID) NodeID {
	return b.Append(&Node{Op: OpArrayLength, Kind: KindInt, Inputs: []NodeID{arr}})
}

// LoadStatic appends a static read.
func (b *Builder) LoadStatic(s *Static) NodeID {
	return b.Append(&Node{Op: OpLoadStatic, Kind: s.Kind, Static: s})
}

// StoreStatic appends a static write.
func (b *Builder) StoreStatic(s *Static, v NodeID) NodeID {
	return b.Append(&Node{Op: OpStoreStatic, Static: s, Inputs: []NodeID{v}})
}

// Invoke appends a call.
func (b *Builder) Invoke(name string, result Kind, args ...NodeID) NodeID {
	return b.Append(&Node{Op: OpInvoke, Kind: result, Name: name, Inputs: args})
}

// MonitorEnter appends a lock.
func (b *Builder) MonitorEnter(obj NodeID) NodeID {
	return b.Append(&Node{Op: OpMonitorEnter, Inputs: []NodeID{obj}})
}

// MonitorExit appends an unlock.
func (b *Builder) MonitorExit(obj NodeID) NodeID {
	return b.Append(&Node{Op: OpMonitorExit, Inputs: []NodeID{obj}})
}

// Commit appends a CommitAllocation of the given shapes.
func (b *Builder) Commit(shapes ...Shape) NodeID {
	return b.Append(&Node{Op: OpCommitAllocation, Shapes: shapes})
}

// Allocated adds the reference to object i of a commit.
func (b *Builder) Allocated(commit NodeID, i int) NodeID {
	return b.g.Add(&Node{Op: OpAllocatedObject, Kind: KindObject, Index: i, Inputs: []NodeID{commit}})
}

// If ends the current block with a branch and returns the Begin of each side.
func (b *Builder) If(cond NodeID) (NodeID, NodeID) {
	id := b.Append(&Node{Op: OpIf, Inputs: []NodeID{cond}})
	t := b.g.Add(&Node{Op: OpBegin})
	f := b.g.Add(&Node{Op: OpBegin})
	b.g.SetSuccessors(id, t, f)
	return t, f
}

// End ends the current block with an End that a Merge or LoopBegin will consume.
func (b *Builder) End() NodeID {
	return b.Append(&Node{Op: OpEnd})
}

// Merge joins the given ends and continues after the new Merge.
func (b *Builder) Merge(ends ...NodeID) NodeID {
	id := b.g.Add(&Node{Op: OpMerge, Inputs: ends})
	b.last = id
	return id
}

// LoopBegin starts a loop entered through forward and continues after it.
func (b *Builder) LoopBegin(forward NodeID) NodeID {
	id := b.g.Add(&Node{Op: OpLoopBegin, Inputs: []NodeID{forward}})
	b.last = id
	return id
}

// LoopEnd ends the current block with a back edge to loop.
func (b *Builder) LoopEnd(loop NodeID) NodeID {
	id := b.Append(&Node{Op: OpLoopEnd})
	b.g.AddInput(loop, id)
	return id
}

// Phi adds a phi of merge. Values may be completed later with AddPhiInput.
func (b *Builder) Phi(merge NodeID, k Kind, values ...NodeID) NodeID {
	inputs := append([]NodeID{merge}, values...)
	return b.g.Add(&Node{Op: OpPhi, Kind: k, Inputs: inputs})
}

// AddPhiInput appends a value to phi.
func (b *Builder) AddPhiInput(phi, v NodeID) { b.g.AddInput(phi, v) }

// Return ends the current block. v may be NoNode.
func (b *Builder) Return(v NodeID) NodeID {
	n := &Node{Op: OpReturn}
	if v != NoNode {
		n.Inputs = []NodeID{v}
		b.g.Result = b.g.Node(v).Kind
	}
	return b.Append(n)
}

package escape

import (
	"pea/internal/ir"
	"pea/internal/virt"
)

// transferFunc evaluates n against the current state. pos is the fixed node before which
// materializations are inserted: n itself for fixed nodes, the current cursor for floating
// ones.
type transferFunc func(w *walker, n *ir.Node, pos ir.NodeID)

var transfers [ir.NumOps]transferFunc

func init() {
	for op := range transfers {
		transfers[op] = (*walker).escapeInputs
	}
	transfers[ir.OpEnd] = nil
	transfers[ir.OpLoopEnd] = nil
	transfers[ir.OpConst] = nil
	transfers[ir.OpParam] = nil
	transfers[ir.OpLoadStatic] = nil

	transfers[ir.OpNew] = (*walker).transferNew
	transfers[ir.OpNewArray] = (*walker).transferNewArray
	transfers[ir.OpBox] = (*walker).transferBox
	transfers[ir.OpCommitAllocation] = (*walker).transferCommit
	transfers[ir.OpAllocatedObject] = (*walker).transferAllocated

	transfers[ir.OpLoadField] = (*walker).transferLoadField
	transfers[ir.OpStoreField] = (*walker).transferStoreField
	transfers[ir.OpLoadIndexed] = (*walker).transferLoadIndexed
	transfers[ir.OpStoreIndexed] = (*walker).transferStoreIndexed
	transfers[ir.OpArrayLength] = (*walker).transferArrayLength
	transfers[ir.OpUnbox] = (*walker).transferUnbox

	transfers[ir.OpReturn] = (*walker).transferReturn
	transfers[ir.OpRefEq] = (*walker).transferRefEq
	transfers[ir.OpIsNull] = (*walker).transferIsNull
}

func (w *walker) transfer(n *ir.Node, pos ir.NodeID) {
	if f := transfers[n.Op]; f != nil {
		f(w, n, pos)
	}
}

// escapeInputs materializes every virtual object n uses and points n at the materialized
// values.
func (w *walker) escapeInputs(n *ir.Node, pos ir.NodeID) {
	for i, in := range n.Inputs {
		w.escapeInput(n, i, in, pos)
	}
}

func (w *walker) escapeInput(n *ir.Node, i int, in, pos ir.NodeID) {
	obj, ok := w.objectOf(in)
	if !ok {
		return
	}
	if w.cur.IsVirtual(obj) {
		w.materialize(w.cur, obj, pos, w.list(), w.block)
	}
	w.list().ReplaceInput(n.ID, i, w.cur.Get(obj).Value)
}

// virtualize installs a fresh virtual object for the allocation n.
func (w *walker) virtualize(n *ir.Node, shape ir.Shape, entries []virt.Value) {
	obj := w.tab.Intern(n.ID, 0, shape)
	w.cur.NewVirtual(obj, entries)
	w.alias[n.ID] = obj
	w.siteBlock[obj] = w.block
	w.list().Delete(n.ID)
}

func defaults(n int) []virt.Value {
	out := make([]virt.Value, n)
	for i := range out {
		out[i] = virt.Default()
	}
	return out
}

func (w *walker) transferNew(n *ir.Node, pos ir.NodeID) {
	if w.excluded[n.ID] || n.Type == nil || n.Type.Final {
		w.escapeInputs(n, pos)
		return
	}
	w.virtualize(n, ir.InstanceShape(n.Type), defaults(len(n.Type.Fields)))
}

// arrayLength returns the length of a virtualizable NewArray.
func (w *walker) arrayLength(n *ir.Node) (int, bool) {
	if !w.opts.VirtualizeArrays {
		return 0, false
	}
	l, ok := w.constInt(n.Input(0))
	if !ok || l < 0 || l > int64(w.opts.MaxArrayLength) {
		return 0, false
	}
	return int(l), true
}

func (w *walker) transferNewArray(n *ir.Node, pos ir.NodeID) {
	length, ok := w.arrayLength(n)
	if w.excluded[n.ID] || !ok {
		w.escapeInputs(n, pos)
		return
	}
	w.virtualize(n, n.Shape(length), defaults(length))
}

func (w *walker) transferBox(n *ir.Node, pos ir.NodeID) {
	if w.excluded[n.ID] || n.Elem == ir.KindObject || n.Elem == ir.KindVoid {
		w.escapeInputs(n, pos)
		return
	}
	w.virtualize(n, n.Shape(0), []virt.Value{w.describe(n.Input(0))})
}

func (w *walker) commitVirtualizable(n *ir.Node) bool {
	if w.excluded[n.ID] || len(n.Shapes) == 0 {
		return false
	}
	for _, s := range n.Shapes {
		switch {
		case s.IsArr:
			if !w.opts.VirtualizeArrays || s.Length > w.opts.MaxArrayLength {
				return false
			}
		case s.IsBox:
			if s.Box == ir.KindObject || s.Box == ir.KindVoid {
				return false
			}
		case s.Type == nil || s.Type.Final:
			return false
		}
	}
	return true
}

// transferCommit re-virtualizes the objects of a CommitAllocation. Either all of them
// become virtual or none does.
func (w *walker) transferCommit(n *ir.Node, _ ir.NodeID) {
	if !w.commitVirtualizable(n) {
		delete(w.commitObjs, n.ID)
		return
	}
	objs := make([]virt.ObjectID, len(n.Shapes))
	for i, s := range n.Shapes {
		objs[i] = w.tab.Intern(n.ID, i, s)
		w.cur.NewVirtual(objs[i], defaults(s.Len()))
		w.siteBlock[objs[i]] = w.block
	}
	w.commitObjs[n.ID] = objs
	w.list().Delete(n.ID)
}

func (w *walker) transferAllocated(n *ir.Node, _ ir.NodeID) {
	objs, ok := w.commitObjs[n.Input(0)]
	if !ok || n.Index < 0 || n.Index >= len(objs) {
		return
	}
	w.alias[n.ID] = objs[n.Index]
	w.list().Delete(n.ID)
}

// read replaces the virtual read n by the entry v of obj.
func (w *walker) read(n *ir.Node, obj virt.ObjectID, v virt.Value) {
	switch v.Kind {
	case virt.ValObject:
		if w.cur.IsVirtual(v.Obj) {
			w.alias[n.ID] = v.Obj
			w.list().Delete(n.ID)
		} else {
			w.replace(n.ID, w.cur.Get(v.Obj).Value)
		}
	default:
		w.replace(n.ID, w.nodeOf(w.cur, v, n.Kind))
	}
	w.benefit(obj)
}

func (w *walker) transferLoadField(n *ir.Node, pos ir.NodeID) {
	obj, ok := w.virtualOf(n.Input(0))
	if ok {
		shape := w.tab.Get(obj).Shape
		if shape.Type == n.Type && n.Index >= 0 && n.Index < shape.Len() {
			w.read(n, obj, w.cur.ReadField(obj, n.Index))
			return
		}
	}
	w.escapeInputs(n, pos)
}

func (w *walker) transferStoreField(n *ir.Node, pos ir.NodeID) {
	obj, ok := w.virtualOf(n.Input(0))
	if ok {
		shape := w.tab.Get(obj).Shape
		if shape.Type == n.Type && n.Index >= 0 && n.Index < shape.Len() {
			w.cur.WriteField(obj, n.Index, w.describe(n.Input(1)))
			w.list().Delete(n.ID)
			return
		}
	}
	w.escapeInputs(n, pos)
}

// element returns the constant index of an indexed access to the virtual array obj when
// it is in range.
func (w *walker) element(n *ir.Node, obj virt.ObjectID) (int, bool) {
	shape := w.tab.Get(obj).Shape
	if !shape.IsArr || shape.Elem != n.Elem {
		return 0, false
	}
	idx, ok := w.constInt(n.Input(1))
	if !ok || idx < 0 || idx >= int64(shape.Length) {
		return 0, false
	}
	return int(idx), true
}

func (w *walker) transferLoadIndexed(n *ir.Node, pos ir.NodeID) {
	if obj, ok := w.virtualOf(n.Input(0)); ok {
		if i, ok := w.element(n, obj); ok {
			w.read(n, obj, w.cur.ReadField(obj, i))
			return
		}
	} else if elems, ok := w.stableArray(n.Input(0)); ok {
		if idx, ok := w.constInt(n.Input(1)); ok && idx >= 0 && idx < int64(len(elems)) && n.Elem == ir.KindInt {
			w.replace(n.ID, w.constant(ir.IntConst(elems[idx])))
			return
		}
	}
	w.escapeInputs(n, pos)
}

func (w *walker) transferStoreIndexed(n *ir.Node, pos ir.NodeID) {
	if obj, ok := w.virtualOf(n.Input(0)); ok {
		if i, ok := w.element(n, obj); ok {
			w.cur.WriteField(obj, i, w.describe(n.Input(2)))
			w.list().Delete(n.ID)
			return
		}
	}
	w.escapeInputs(n, pos)
}

func (w *walker) transferArrayLength(n *ir.Node, pos ir.NodeID) {
	if obj, ok := w.virtualOf(n.Input(0)); ok {
		if shape := w.tab.Get(obj).Shape; shape.IsArr {
			w.replace(n.ID, w.constant(ir.IntConst(int64(shape.Length))))
			w.benefit(obj)
			return
		}
	} else if elems, ok := w.stableArray(n.Input(0)); ok {
		w.replace(n.ID, w.constant(ir.IntConst(int64(len(elems)))))
		return
	}
	w.escapeInputs(n, pos)
}

func (w *walker) stableArray(arr ir.NodeID) ([]int64, bool) {
	if w.opts.StableArrays == nil {
		return nil, false
	}
	r := w.resolve(arr)
	if w.plan.IsPlanned(r) {
		return nil, false
	}
	return w.opts.StableArrays(w.g, r)
}

func (w *walker) transferUnbox(n *ir.Node, pos ir.NodeID) {
	if obj, ok := w.virtualOf(n.Input(0)); ok {
		if shape := w.tab.Get(obj).Shape; shape.IsBox {
			w.read(n, obj, w.cur.ReadField(obj, 0))
			return
		}
	}
	w.escapeInputs(n, pos)
}

// transferReturn credits every object that reaches the exit without escaping.
func (w *walker) transferReturn(n *ir.Node, pos ir.NodeID) {
	w.escapeInputs(n, pos)
	for _, obj := range w.cur.VirtualObjects() {
		w.benefit(obj)
	}
}

// fold replaces the comparison n by a constant and credits the virtual objects involved.
func (w *walker) fold(n *ir.Node, v bool, objs ...virt.ObjectID) {
	w.replace(n.ID, w.constant(ir.BoolConst(v)))
	for _, obj := range objs {
		if w.cur.IsVirtual(obj) {
			w.benefit(obj)
		}
	}
}

func (w *walker) transferRefEq(n *ir.Node, pos ir.NodeID) {
	x, y := n.Input(0), n.Input(1)
	ox, okx := w.objectOf(x)
	oy, oky := w.objectOf(y)
	switch {
	case okx && oky:
		if ox == oy {
			w.fold(n, true, ox)
			return
		}
		if w.cur.IsVirtual(ox) || w.cur.IsVirtual(oy) {
			w.fold(n, false, ox, oy)
			return
		}
	case okx && w.isNullConst(y):
		w.fold(n, false, ox)
		return
	case oky && w.isNullConst(x):
		w.fold(n, false, oy)
		return
	}
	w.escapeInputs(n, pos)
}

func (w *walker) transferIsNull(n *ir.Node, pos ir.NodeID) {
	if obj, ok := w.objectOf(n.Input(0)); ok {
		w.fold(n, false, obj)
		return
	}
	w.escapeInputs(n, pos)
}

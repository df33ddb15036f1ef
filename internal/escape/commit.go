package escape

import (
	"fmt"
	"slices"

	"pea/internal/effects"
	"pea/internal/ir"
	"pea/internal/trace"
	"pea/internal/virt"
)

// closure returns root and every object virtual in st that root reaches through its
// entries, root first.
func closure(st *virt.State, root virt.ObjectID) []virt.ObjectID {
	out := []virt.ObjectID{root}
	for i := 0; i < len(out); i++ {
		for _, e := range st.Get(out[i]).Entries {
			if e.IsObject() && st.IsVirtual(e.Obj) && !slices.Contains(out, e.Obj) {
				out = append(out, e.Obj)
			}
		}
	}
	return out
}

// materialize commits root and the virtual objects it reaches in st. The allocations and
// the stores that fill them are recorded on l right before pos, in emission order: boxes,
// one CommitAllocation for everything else, then the stores. block is the block holding
// pos. It returns the objects that were materialized.
func (w *walker) materialize(st *virt.State, root virt.ObjectID, pos ir.NodeID, l *effects.List, block int) []virt.ObjectID {
	objs := closure(st, root)
	entries := make(map[virt.ObjectID][]virt.Value, len(objs))
	for _, o := range objs {
		entries[o] = slices.Clone(st.Get(o).Entries)
	}

	var (
		boxes   []virt.ObjectID
		members []virt.ObjectID
		shapes  []ir.Shape
	)
	for _, o := range objs {
		if shape := w.tab.Get(o).Shape; shape.IsBox {
			boxes = append(boxes, o)
		} else {
			members = append(members, o)
			shapes = append(shapes, shape)
		}
	}

	for _, o := range boxes {
		shape := w.tab.Get(o).Shape
		v := w.nodeOf(st, entries[o][0], shape.Box)
		box := w.plan.Add(&ir.Node{Op: ir.OpBox, Kind: ir.KindObject, Elem: shape.Box, Inputs: []ir.NodeID{v}})
		l.InsertBefore(pos, box)
		st.Escape(o, box)
	}
	if len(members) > 0 {
		commit := w.plan.Add(&ir.Node{Op: ir.OpCommitAllocation, Shapes: shapes})
		l.InsertBefore(pos, commit)
		for i, o := range members {
			alloc := w.plan.Add(&ir.Node{Op: ir.OpAllocatedObject, Kind: ir.KindObject, Index: i, Inputs: []ir.NodeID{commit}})
			st.Escape(o, alloc)
		}
		for _, o := range members {
			w.emitStores(st, o, entries[o], pos, l)
		}
	}

	for _, o := range objs {
		if sb, ok := w.siteBlock[o]; !ok || sb != block {
			l.Benefit(w.tab.Get(o).Site)
		}
	}
	if w.span.Enabled(trace.ScopeNode) {
		w.span.Point(trace.ScopeNode, "materialize", fmt.Sprintf("%v before v%d in b%d", objs, pos, block))
	}
	return objs
}

// emitStores fills the materialized object o with its non-default entries.
func (w *walker) emitStores(st *virt.State, o virt.ObjectID, entries []virt.Value, pos ir.NodeID, l *effects.List) {
	shape := w.tab.Get(o).Shape
	ref := st.Get(o).Value
	for f, e := range entries {
		if e.Kind == virt.ValDefault {
			continue
		}
		v := w.nodeOf(st, e, shape.SlotKind(f))
		var store *ir.Node
		if shape.IsArr {
			idx := w.constant(ir.IntConst(int64(f)))
			store = &ir.Node{Op: ir.OpStoreIndexed, Elem: shape.Elem, Inputs: []ir.NodeID{ref, idx, v}}
		} else {
			store = &ir.Node{Op: ir.OpStoreField, Type: shape.Type, Index: f, Inputs: []ir.NodeID{ref, v}}
		}
		l.InsertBefore(pos, w.plan.Add(store))
	}
}

package virt

import (
	"slices"

	"pea/internal/ir"
)

// MergeHooks connects Merge to the graph. Materialize and Phi record effects on behalf of
// the caller; Merge itself never touches the graph.
type MergeHooks interface {
	// Materialize materializes obj in the state of predecessor pred. Afterwards obj must
	// be materialized in that state.
	Materialize(pred int, obj ObjectID)
	// Node returns the graph value described by v in the state of predecessor pred.
	Node(pred int, v Value, kind ir.Kind) ir.NodeID
	// Phi returns a phi of values for slot field of obj, or for obj itself when field is -1.
	Phi(obj ObjectID, field int, kind ir.Kind, values []ir.NodeID) ir.NodeID
	// ForceMaterialize reports objects that must be materialized on every edge.
	ForceMaterialize(obj ObjectID) bool
	// ForcePhi reports slots that must be merged with a phi even when all values agree.
	ForcePhi(obj ObjectID, field int) bool
}

// MergeResult is the outcome of Merge.
type MergeResult struct {
	State *State
	// Materialized is true when any predecessor state was changed by Materialize.
	Materialized bool
	// Dropped lists objects live and virtual on some but not all predecessors.
	Dropped []ObjectID
}

// Merge reconciles the states at a control-flow join. states are modified in place by
// Materialize. An object stays virtual only if it is virtual on every edge and every
// differing slot can be merged with a phi of plain values; otherwise it is materialized
// on each virtual edge. Objects not live on every edge are dropped.
func Merge(t *Table, states []*State, hooks MergeHooks) MergeResult {
	var res MergeResult
	for {
		changed := false
		for _, obj := range liveInAll(states) {
			if mergeNeedsMaterialization(states, obj, hooks) {
				for i, st := range states {
					if st.IsVirtual(obj) {
						hooks.Materialize(i, obj)
						changed = true
					}
				}
			}
		}
		if !changed {
			break
		}
		res.Materialized = true
	}

	live := liveInAll(states)
	out := NewState()
	for _, obj := range live {
		if !states[0].IsVirtual(obj) {
			values := make([]ir.NodeID, len(states))
			for i, st := range states {
				values[i] = st.Get(obj).Value
			}
			v := values[0]
			if !allSame(values) || hooks.ForcePhi(obj, -1) {
				v = hooks.Phi(obj, -1, ir.KindObject, values)
			}
			out.Escape(obj, v)
			continue
		}
		shape := t.Get(obj).Shape
		n := len(states[0].Get(obj).Entries)
		entries := make([]Value, n)
		for f := range n {
			vals := make([]Value, len(states))
			for i, st := range states {
				vals[i] = st.ReadField(obj, f)
			}
			if allSame(vals) && (!hooks.ForcePhi(obj, f) || refersVirtual(states, vals)) {
				entries[f] = vals[0]
				continue
			}
			kind := shape.SlotKind(f)
			nodes := make([]ir.NodeID, len(states))
			for i, v := range vals {
				nodes[i] = hooks.Node(i, v, kind)
			}
			entries[f] = NodeValue(hooks.Phi(obj, f, kind, nodes))
		}
		out.NewVirtual(obj, entries)
	}

	for _, st := range states {
		for _, obj := range st.VirtualObjects() {
			if !slices.Contains(live, obj) && !slices.Contains(res.Dropped, obj) {
				res.Dropped = append(res.Dropped, obj)
			}
		}
	}
	slices.Sort(res.Dropped)
	res.State = out
	return res
}

// mergeNeedsMaterialization decides whether obj must be materialized on its virtual edges.
func mergeNeedsMaterialization(states []*State, obj ObjectID, hooks MergeHooks) bool {
	virtual := 0
	for _, st := range states {
		if st.IsVirtual(obj) {
			virtual++
		}
	}
	switch {
	case virtual == 0:
		return false
	case virtual < len(states) || hooks.ForceMaterialize(obj):
		return true
	}
	n := len(states[0].Get(obj).Entries)
	for f := range n {
		vals := make([]Value, len(states))
		for i, st := range states {
			vals[i] = st.ReadField(obj, f)
		}
		if !allSame(vals) && refersVirtual(states, vals) {
			return true
		}
	}
	return false
}

// refersVirtual reports whether any vals[i] references an object virtual in states[i].
func refersVirtual(states []*State, vals []Value) bool {
	for i, v := range vals {
		if v.IsObject() && states[i].IsVirtual(v.Obj) {
			return true
		}
	}
	return false
}

func liveInAll(states []*State) []ObjectID {
	if len(states) == 0 {
		return nil
	}
	var out []ObjectID
	for _, obj := range states[0].Objects() {
		all := true
		for _, st := range states[1:] {
			if !st.Live(obj) {
				all = false
				break
			}
		}
		if all {
			out = append(out, obj)
		}
	}
	return out
}

func allSame[T comparable](vals []T) bool {
	for _, v := range vals[1:] {
		if v != vals[0] {
			return false
		}
	}
	return true
}

package escape

import (
	"fmt"

	"pea/internal/effects"
	"pea/internal/ir"
	"pea/internal/trace"
	"pea/internal/virt"
)

// edge is one incoming control-flow edge of a merge.
type edge struct {
	state *virt.State
	list  *effects.List
	// pos is the End or LoopEnd of the predecessor; edge materializations go before it.
	pos  ir.NodeID
	pred int
}

// join reconciles the states entering a Merge or LoopBegin.
type join struct {
	w     *walker
	block int
	node  ir.NodeID
	edges []edge
	// loop is set when joining at a loop header; edge 0 is then the forward edge.
	loop *loopState
}

// phiAlias tells, for every object phi that stays an alias, which object it names.
type phiAlias map[ir.NodeID]virt.ObjectID

func (j *join) states() []*virt.State {
	out := make([]*virt.State, len(j.edges))
	for i, e := range j.edges {
		out[i] = e.state
	}
	return out
}

// Materialize implements virt.MergeHooks.
func (j *join) Materialize(pred int, obj virt.ObjectID) {
	e := j.edges[pred]
	if j.loop != nil && pred == 0 {
		// Forward materializations are kept for every later iteration of the loop.
		for _, o := range j.loop.materializeForward(obj) {
			e.state.Escape(o, j.loop.fwd.Get(o).Value)
		}
		return
	}
	j.w.materialize(e.state, obj, e.pos, e.list, e.pred)
}

// Node implements virt.MergeHooks.
func (j *join) Node(pred int, v virt.Value, kind ir.Kind) ir.NodeID {
	return j.w.nodeOf(j.edges[pred].state, v, kind)
}

// Phi implements virt.MergeHooks.
func (j *join) Phi(obj virt.ObjectID, field int, kind ir.Kind, values []ir.NodeID) ir.NodeID {
	if j.loop != nil {
		j.loop.stickyPhi[fieldKey{obj, field}] = true
	}
	return j.w.keyedPhi(j.node, obj, field, kind, values)
}

// ForceMaterialize implements virt.MergeHooks.
func (j *join) ForceMaterialize(virt.ObjectID) bool { return false }

// ForcePhi implements virt.MergeHooks.
func (j *join) ForcePhi(obj virt.ObjectID, field int) bool {
	return j.loop != nil && j.loop.stickyPhi[fieldKey{obj, field}]
}

// keyedPhi returns the planned phi for (merge, obj, field) with the given values. The same
// key always yields the same node, so repeated merges of a loop header converge.
func (w *walker) keyedPhi(merge ir.NodeID, obj virt.ObjectID, field int, kind ir.Kind, values []ir.NodeID) ir.NodeID {
	inputs := append([]ir.NodeID{merge}, values...)
	key := phiKey{merge: merge, obj: obj, field: field}
	if id, ok := w.phis[key]; ok {
		w.plan.SetInputs(id, inputs)
		return id
	}
	id := w.plan.Add(&ir.Node{Op: ir.OpPhi, Kind: kind, Inputs: inputs})
	w.phis[key] = id
	return id
}

// mergeBlock computes the entry state of a block beginning with a Merge.
func (w *walker) mergeBlock(b int) *virt.State {
	blk := w.cfg.Blocks[b]
	j := &join{w: w, block: b, node: blk.Begin}
	for i, p := range blk.Preds {
		j.edges = append(j.edges, edge{
			state: w.exit[p].Clone(),
			list:  w.set.Edge(b, i),
			pos:   w.cfg.Blocks[p].End,
			pred:  p,
		})
	}
	w.block = b
	st, aliases := j.run()
	w.bindPhis(blk.Begin, aliases)
	return st
}

// run merges the edge states. Object phis whose inputs do not all name the same virtual
// object force their virtual inputs to be materialized first.
func (j *join) run() (*virt.State, phiAlias) {
	w := j.w
	phis := w.objectPhis(j.node)
	w.prune(j.block, j.node, j.states(), w.set.Block(j.block))
	candidates := make(phiAlias)
	for _, p := range phis {
		if x, ok := j.aliasable(p); ok {
			candidates[p] = x
			continue
		}
		if j.loop != nil {
			j.loop.nonAlias[p] = true
		}
		for i, in := range w.g.Node(p).Inputs[1:] {
			obj, ok := w.alias[w.resolve(in)]
			if ok && j.edges[i].state.IsVirtual(obj) {
				j.Materialize(i, obj)
			}
		}
	}

	res := virt.Merge(w.tab, j.states(), j)

	aliases := make(phiAlias)
	for _, p := range phis {
		if x, ok := candidates[p]; ok && res.State.IsVirtual(x) {
			aliases[p] = x
			continue
		}
		if j.loop != nil {
			j.loop.nonAlias[p] = true
		}
		for i, in := range w.g.Node(p).Inputs[1:] {
			obj, ok := w.alias[w.resolve(in)]
			if !ok {
				continue
			}
			o := j.edges[i].state.Get(obj)
			if o == nil || o.Virtual() {
				w.fail(fmt.Errorf("%w: %s: phi %d input %d names unmaterialized object %d", ir.ErrInconsistent, w.g.Name, p, i, obj))
				continue
			}
			j.edges[i].list.ReplaceInput(p, i+1, o.Value)
		}
	}
	for _, obj := range res.Dropped {
		w.benefitIn(w.set.Block(j.block), obj)
	}
	if w.span.Enabled(trace.ScopeBlock) {
		w.span.Point(trace.ScopeBlock, "merge", fmt.Sprintf("b%d %v dropped=%v", j.block, res.State, res.Dropped))
	}
	return res.State, aliases
}

// aliasable reports whether every input of the object phi p names the same object, virtual
// on every edge.
func (j *join) aliasable(p ir.NodeID) (virt.ObjectID, bool) {
	w := j.w
	if j.loop != nil && j.loop.nonAlias[p] {
		return virt.NoObject, false
	}
	inputs := w.g.Node(p).Inputs[1:]
	if len(inputs) != len(j.edges) {
		return virt.NoObject, false
	}
	x := virt.NoObject
	for i, in := range inputs {
		obj, ok := w.alias[w.resolve(in)]
		if !ok || (x != virt.NoObject && obj != x) || !j.edges[i].state.IsVirtual(obj) {
			return virt.NoObject, false
		}
		x = obj
	}
	return x, true
}

// objectPhis returns the phis of merge that carry references.
func (w *walker) objectPhis(merge ir.NodeID) []ir.NodeID {
	var out []ir.NodeID
	for _, p := range w.g.Phis(merge) {
		if w.g.Node(p).Kind == ir.KindObject {
			out = append(out, p)
		}
	}
	return out
}

// bindPhis marks the phis of merge as processed and turns aliased ones into references to
// their object.
func (w *walker) bindPhis(merge ir.NodeID, aliases phiAlias) {
	for _, p := range w.g.Phis(merge) {
		w.done[p] = true
		if x, ok := aliases[p]; ok {
			w.alias[p] = x
			w.list().Delete(p)
		}
	}
}

// prune removes from states the objects that no value live at the beginning of block b,
// and no phi input of merge, can reach. Objects dropped while virtual are never allocated
// on that path, which is recorded on l.
func (w *walker) prune(b int, merge ir.NodeID, states []*virt.State, l *effects.List) {
	var roots []virt.ObjectID
	for _, id := range w.live.LiveIn(b) {
		if obj, ok := w.alias[w.resolve(id)]; ok {
			roots = append(roots, obj)
		}
	}
	for _, p := range w.objectPhis(merge) {
		for _, in := range w.g.Node(p).Inputs[1:] {
			if obj, ok := w.alias[w.resolve(in)]; ok {
				roots = append(roots, obj)
			}
		}
	}

	needed := make(map[virt.ObjectID]bool)
	for _, st := range states {
		for _, r := range roots {
			if !st.Live(r) {
				continue
			}
			for _, o := range closure(st, r) {
				needed[o] = true
			}
		}
	}
	for _, st := range states {
		for _, obj := range st.Objects() {
			if needed[obj] {
				continue
			}
			if st.IsVirtual(obj) {
				w.benefitIn(l, obj)
			}
			st.Remove(obj)
		}
	}
}

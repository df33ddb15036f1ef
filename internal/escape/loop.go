package escape

import (
	"fmt"
	"maps"
	"slices"

	"pea/internal/effects"
	"pea/internal/ir"
	"pea/internal/trace"
	"pea/internal/virt"
)

type fieldKey struct {
	obj   virt.ObjectID
	field int
}

// loopState carries the assumptions about one loop header across re-iterations of its
// body. Assumptions only grow: forward materializations, merged slots and non-aliased phis
// are never taken back.
type loopState struct {
	w    *walker
	loop *ir.Loop

	// fwd is the state on the forward edge, including the materializations made there.
	fwd     *virt.State
	fwdList *effects.List
	fwdPos  ir.NodeID
	fwdPred int

	stickyPhi map[fieldKey]bool
	nonAlias  map[ir.NodeID]bool
	// fwdChanged is set when the current iteration materialized on the forward edge.
	fwdChanged bool
}

func (ls *loopState) materializeForward(obj virt.ObjectID) []virt.ObjectID {
	if !ls.fwd.IsVirtual(obj) {
		return nil
	}
	ls.fwdChanged = true
	return ls.w.materialize(ls.fwd, obj, ls.fwdPos, ls.fwdList, ls.fwdPred)
}

// processLoop walks the blocks of l until the state at its header is stable.
func (w *walker) processLoop(l *ir.Loop) {
	h := l.Header
	blk := w.cfg.Blocks[h]
	fwdPred := blk.Preds[0]
	ls := &loopState{
		w:         w,
		loop:      l,
		fwd:       w.exit[fwdPred].Clone(),
		fwdList:   w.set.Edge(h, 0),
		fwdPos:    w.cfg.Blocks[fwdPred].End,
		fwdPred:   fwdPred,
		stickyPhi: make(map[fieldKey]bool),
		nonAlias:  make(map[ir.NodeID]bool),
	}
	phis := w.objectPhis(blk.Begin)
	w.prune(h, blk.Begin, []*virt.State{ls.fwd}, ls.fwdList)

	for iter := 1; ; iter++ {
		final := iter > w.opts.MaxLoopIterations
		if final {
			for _, obj := range ls.fwd.VirtualObjects() {
				ls.materializeForward(obj)
			}
			for _, p := range phis {
				ls.nonAlias[p] = true
			}
		}
		w.set.ResetBlocks(h, l.Last(), 0)
		w.forget(h, l.Last())
		ls.fwdChanged = false

		header, assumed := ls.header(phis)
		w.block = h
		w.cur = header.Clone()
		w.bindPhis(blk.Begin, assumed)
		w.processBlock(h)
		w.walkRange(h+1, l.Last())
		if w.err != nil {
			return
		}

		merged, aliases, scratch := ls.backMerge()
		converged := !ls.fwdChanged && merged.Equal(header) && maps.Equal(aliases, assumed)
		if w.span.Enabled(trace.ScopeBlock) {
			w.span.Point(trace.ScopeBlock, "loop", fmt.Sprintf("b%d iteration %d converged=%t", h, iter, converged))
		}
		if converged || final {
			for i, sl := range scratch {
				w.set.Edge(h, i+1).Append(sl)
			}
			return
		}
	}
}

// header builds the assumed state at the loop header: the forward state with the merged
// slots replaced by their loop phis, and the object phis that alias a virtual object.
func (ls *loopState) header(phis []ir.NodeID) (*virt.State, phiAlias) {
	w := ls.w
	begin := w.cfg.Blocks[ls.loop.Header].Begin
	st := ls.fwd.Clone()

	keys := slices.Collect(maps.Keys(ls.stickyPhi))
	slices.SortFunc(keys, func(a, b fieldKey) int {
		if a.obj != b.obj {
			return int(a.obj - b.obj)
		}
		return a.field - b.field
	})
	for _, k := range keys {
		id, ok := w.phis[phiKey{merge: begin, obj: k.obj, field: k.field}]
		if !ok {
			continue
		}
		switch {
		case k.field < 0:
			if st.Live(k.obj) && !st.IsVirtual(k.obj) {
				st.Escape(k.obj, id)
			}
		case st.IsVirtual(k.obj):
			st.WriteField(k.obj, k.field, virt.NodeValue(id))
		}
	}

	assumed := make(phiAlias)
	for _, p := range phis {
		if ls.nonAlias[p] {
			continue
		}
		obj, ok := w.alias[w.resolve(w.g.Node(p).Input(1))]
		if ok && st.IsVirtual(obj) {
			assumed[p] = obj
		}
	}
	return st, assumed
}

// backMerge merges the forward state with the states at the back edges. Back-edge effects
// go to scratch lists that are kept only when the loop is done.
func (ls *loopState) backMerge() (*virt.State, phiAlias, []*effects.List) {
	w := ls.w
	h := ls.loop.Header
	blk := w.cfg.Blocks[h]
	j := &join{w: w, block: h, node: blk.Begin, loop: ls}
	j.edges = append(j.edges, edge{state: ls.fwd.Clone(), list: ls.fwdList, pos: ls.fwdPos, pred: ls.fwdPred})
	scratch := make([]*effects.List, 0, len(blk.Preds)-1)
	for _, p := range blk.Preds[1:] {
		sl := &effects.List{}
		scratch = append(scratch, sl)
		j.edges = append(j.edges, edge{state: w.exit[p].Clone(), list: sl, pos: w.cfg.Blocks[p].End, pred: p})
	}
	st, aliases := j.run()
	return st, aliases, scratch
}

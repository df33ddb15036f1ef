package escape

import (
	"fmt"

	"pea/internal/effects"
	"pea/internal/ir"
	"pea/internal/trace"
	"pea/internal/virt"
)

type constKey struct {
	kind ir.Kind
	i    int64
	f    float64
	b    bool
	null bool
}

type phiKey struct {
	merge ir.NodeID
	obj   virt.ObjectID
	field int
}

// walker holds the state of one walk over a graph. A walk records effects only; the graph
// is not modified until the phase driver applies them.
type walker struct {
	g     *ir.Graph
	cfg   *ir.CFG
	sched *ir.Schedule
	live  *ir.Liveness
	opts  Options

	plan *effects.Plan
	set  *effects.Set
	tab  *virt.Table
	// excluded sites stay real in this walk.
	excluded map[ir.NodeID]bool

	alias map[ir.NodeID]virt.ObjectID
	repl  map[ir.NodeID]ir.NodeID
	done  map[ir.NodeID]bool
	exit  []*virt.State

	consts     map[constKey]ir.NodeID
	phis       map[phiKey]ir.NodeID
	commitObjs map[ir.NodeID][]virt.ObjectID
	siteBlock  map[virt.ObjectID]int

	cur   *virt.State
	block int

	span *trace.Span
	err  error
}

func newWalker(g *ir.Graph, cfg *ir.CFG, sched *ir.Schedule, live *ir.Liveness, opts Options, excluded map[ir.NodeID]bool, span *trace.Span) *walker {
	return &walker{
		g:          g,
		cfg:        cfg,
		sched:      sched,
		live:       live,
		opts:       opts,
		plan:       effects.NewPlan(g),
		set:        effects.NewSet(len(cfg.Blocks)),
		tab:        virt.NewTable(),
		excluded:   excluded,
		alias:      make(map[ir.NodeID]virt.ObjectID),
		repl:       make(map[ir.NodeID]ir.NodeID),
		done:       make(map[ir.NodeID]bool),
		exit:       make([]*virt.State, len(cfg.Blocks)),
		consts:     make(map[constKey]ir.NodeID),
		phis:       make(map[phiKey]ir.NodeID),
		commitObjs: make(map[ir.NodeID][]virt.ObjectID),
		siteBlock:  make(map[virt.ObjectID]int),
		span:       span,
	}
}

// run walks all blocks in reverse postorder.
func (w *walker) run() error {
	w.walkRange(0, len(w.cfg.Blocks)-1)
	return w.err
}

func (w *walker) walkRange(from, to int) {
	for b := from; b <= to && w.err == nil; {
		if l := w.cfg.LoopAt(b); l != nil {
			w.processLoop(l)
			b = l.Last() + 1
			continue
		}
		w.cur = w.entryState(b)
		w.processBlock(b)
		b++
	}
}

// entryState computes the state at the beginning of a block that is not a loop header.
func (w *walker) entryState(b int) *virt.State {
	blk := w.cfg.Blocks[b]
	switch w.g.Node(blk.Begin).Op {
	case ir.OpStart:
		return virt.NewState()
	case ir.OpMerge:
		return w.mergeBlock(b)
	default:
		return w.exit[blk.Preds[0]].Clone()
	}
}

func (w *walker) processBlock(b int) {
	w.block = b
	blk := w.cfg.Blocks[b]
	for _, id := range blk.Nodes[1:] {
		if w.err != nil {
			return
		}
		n := w.g.Node(id)
		if n.Op.EndsBlock() {
			w.flushFloating(b, id)
		}
		w.pullInputs(n, id)
		w.transfer(n, id)
	}
	w.exit[b] = w.cur
}

// pullInputs processes the floating inputs of n that are scheduled in the current block.
func (w *walker) pullInputs(n *ir.Node, pos ir.NodeID) {
	for _, in := range n.Inputs {
		if w.sched.BlockOf(in) != w.block {
			continue
		}
		if fn := w.g.Node(in); fn != nil && fn.Op.IsFloating() {
			w.processFloating(in, pos)
		}
	}
}

// flushFloating processes the floating nodes of block b that no fixed node of b used.
func (w *walker) flushFloating(b int, pos ir.NodeID) {
	for _, id := range w.sched.Floating[b] {
		w.processFloating(id, pos)
	}
}

func (w *walker) processFloating(id, pos ir.NodeID) {
	if w.done[id] {
		return
	}
	w.done[id] = true
	n := w.g.Node(id)
	if n == nil || n.Op == ir.OpPhi {
		return
	}
	w.pullInputs(n, pos)
	w.transfer(n, pos)
}

func (w *walker) list() *effects.List { return w.set.Block(w.block) }

func (w *walker) resolve(id ir.NodeID) ir.NodeID {
	for {
		r, ok := w.repl[id]
		if !ok {
			return id
		}
		id = r
	}
}

// objectOf returns the object the value id refers to, if it is tracked.
func (w *walker) objectOf(id ir.NodeID) (virt.ObjectID, bool) {
	obj, ok := w.alias[w.resolve(id)]
	if !ok {
		return virt.NoObject, false
	}
	if !w.cur.Live(obj) {
		w.fail(fmt.Errorf("%w: %s: node %d refers to dead object %d", ir.ErrInconsistent, w.g.Name, id, obj))
		return virt.NoObject, false
	}
	return obj, true
}

// virtualOf returns the object id refers to if it is virtual at the current point.
func (w *walker) virtualOf(id ir.NodeID) (virt.ObjectID, bool) {
	obj, ok := w.objectOf(id)
	if !ok || !w.cur.IsVirtual(obj) {
		return virt.NoObject, false
	}
	return obj, true
}

// describe returns the entry to store for the value id.
func (w *walker) describe(id ir.NodeID) virt.Value {
	if obj, ok := w.objectOf(id); ok {
		if w.cur.IsVirtual(obj) {
			return virt.ObjectValue(obj)
		}
		return virt.NodeValue(w.cur.Get(obj).Value)
	}
	r := w.resolve(id)
	if n := w.plan.Node(r); n != nil && n.Op == ir.OpConst && n.Const.IsZero() {
		return virt.Default()
	}
	return virt.NodeValue(r)
}

// nodeOf returns the graph value described by v in st.
func (w *walker) nodeOf(st *virt.State, v virt.Value, kind ir.Kind) ir.NodeID {
	switch v.Kind {
	case virt.ValNode:
		return w.resolve(v.Node)
	case virt.ValObject:
		o := st.Get(v.Obj)
		if o == nil || o.Virtual() {
			w.fail(fmt.Errorf("%w: %s: object %d has no materialized value", ir.ErrInconsistent, w.g.Name, v.Obj))
			return w.constant(ir.NullConst())
		}
		return o.Value
	default:
		return w.constant(ir.ZeroConst(kind))
	}
}

// constant returns a planned constant node, shared within the walk.
func (w *walker) constant(c ir.Const) ir.NodeID {
	key := constKey{kind: c.Kind, i: c.Int, f: c.Float, b: c.Bool, null: c.Null}
	if id, ok := w.consts[key]; ok {
		return id
	}
	id := w.plan.Add(&ir.Node{Op: ir.OpConst, Kind: c.Kind, Const: c})
	w.consts[key] = id
	return id
}

// constInt returns the value of id when it is an int constant, planned or real.
func (w *walker) constInt(id ir.NodeID) (int64, bool) {
	n := w.plan.Node(w.resolve(id))
	if n == nil || n.Op != ir.OpConst || n.Const.Kind != ir.KindInt {
		return 0, false
	}
	return n.Const.Int, true
}

func (w *walker) isNullConst(id ir.NodeID) bool {
	n := w.plan.Node(w.resolve(id))
	return n != nil && n.Op == ir.OpConst && n.Const.Kind == ir.KindObject && n.Const.Null
}

// replace records that every use of n reads v instead and removes n.
func (w *walker) replace(n, v ir.NodeID) {
	w.repl[n] = v
	l := w.list()
	l.ReplaceAtUsages(n, v)
	l.Delete(n)
}

func (w *walker) benefit(obj virt.ObjectID) { w.benefitIn(w.list(), obj) }

func (w *walker) benefitIn(l *effects.List, obj virt.ObjectID) {
	if o := w.tab.Get(obj); o != nil {
		l.Benefit(o.Site)
	}
}

func (w *walker) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// forget clears the per-node facts of blocks from..to before a loop body is re-processed.
func (w *walker) forget(from, to int) {
	for b := from; b <= to; b++ {
		for _, id := range w.cfg.Blocks[b].Nodes {
			delete(w.alias, id)
			delete(w.repl, id)
		}
		for _, id := range w.sched.Floating[b] {
			delete(w.alias, id)
			delete(w.repl, id)
			delete(w.done, id)
		}
	}
}

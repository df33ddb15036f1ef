package irtext

import (
	"fmt"
	"slices"

	"pea/internal/ir"
)

type blockKind uint8

const (
	blockEntry blockKind = iota
	blockBegin
	blockMerge
	blockLoop
)

type edge struct {
	from  int
	back  bool
	viaIf bool
}

// pending holds the operand names of a node until every value of the function exists.
type pending struct {
	id  ir.NodeID
	s   *stmt
	blk int
}

// funcBuilder turns one function declaration into a graph. Blocks are indexed in
// declaration order.
type funcBuilder struct {
	lx *lexer
	d  *funcDecl
	u  *ir.Universe
	g  *ir.Graph
	b  *ir.Builder

	labels map[string]int
	succs  [][]int
	preds  [][]edge
	order  []int
	kinds  []blockKind
	// inputOrder lists the predecessor blocks of each merge in input order.
	inputOrder [][]int

	begin  []ir.NodeID
	ends   map[[2]int]ir.NodeID
	values map[string]ir.NodeID
	names  map[ir.NodeID]string
	work   []pending
}

func build(lx *lexer, u *ir.Universe, d *funcDecl) (*ir.Graph, error) {
	fb := &funcBuilder{
		lx:     lx,
		d:      d,
		u:      u,
		b:      ir.NewBuilder(d.name, u),
		labels: make(map[string]int, len(d.blocks)),
		ends:   make(map[[2]int]ir.NodeID),
		values: make(map[string]ir.NodeID),
		names:  make(map[ir.NodeID]string),
	}
	fb.g = fb.b.Graph()
	steps := []func() error{
		fb.resolveLabels,
		fb.walk,
		fb.classify,
		fb.declareParams,
		fb.emitBlocks,
		fb.resolveOperands,
		fb.inferKinds,
		fb.checkOperands,
		fb.checkKinds,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	fb.g.Result = ir.KindVoid
	if d.hasResult {
		fb.g.Result = d.result
	}
	if err := ir.Verify(fb.g); err != nil {
		return nil, fmt.Errorf("%w: func %s: %w", ErrSyntax, d.name, err)
	}
	if err := fb.checkDominance(); err != nil {
		return nil, err
	}
	return fb.g, nil
}

func (fb *funcBuilder) errorf(p Pos, format string, args ...any) error {
	return fb.lx.errorf(p, "func %s: %s", fb.d.name, fmt.Sprintf(format, args...))
}

func (fb *funcBuilder) resolveLabels() error {
	fb.succs = make([][]int, len(fb.d.blocks))
	for i, blk := range fb.d.blocks {
		if _, ok := fb.labels[blk.label]; ok {
			return fb.errorf(blk.pos, "block %s redefined", blk.label)
		}
		fb.labels[blk.label] = i
	}
	for i, blk := range fb.d.blocks {
		for _, l := range blk.term.targets {
			t, ok := fb.labels[l]
			if !ok {
				return fb.errorf(blk.term.pos, "undefined block %s", l)
			}
			fb.succs[i] = append(fb.succs[i], t)
		}
		if blk.term.op == ir.OpIf && fb.succs[i][0] == fb.succs[i][1] {
			return fb.errorf(blk.term.pos, "both branches of if go to %s", blk.term.targets[0])
		}
	}
	return nil
}

// walk orders blocks in reverse postorder and marks the edges that close loops.
func (fb *funcBuilder) walk() error {
	const (
		unseen = iota
		active
		done
	)
	state := make([]int, len(fb.d.blocks))
	fb.preds = make([][]edge, len(fb.d.blocks))
	var post []int
	var visit func(b int)
	visit = func(b int) {
		state[b] = active
		viaIf := fb.d.blocks[b].term.op == ir.OpIf
		for _, s := range fb.succs[b] {
			fb.preds[s] = append(fb.preds[s], edge{from: b, back: state[s] == active, viaIf: viaIf})
			if state[s] == unseen {
				visit(s)
			}
		}
		state[b] = done
		post = append(post, b)
	}
	visit(0)
	for i, st := range state {
		if st == unseen {
			return fb.errorf(fb.d.blocks[i].pos, "block %s is unreachable", fb.d.blocks[i].label)
		}
	}
	slices.Reverse(post)
	fb.order = post
	return nil
}

func (fb *funcBuilder) classify() error {
	n := len(fb.d.blocks)
	fb.kinds = make([]blockKind, n)
	fb.inputOrder = make([][]int, n)
	fb.begin = make([]ir.NodeID, n)
	for i, blk := range fb.d.blocks {
		preds := fb.preds[i]
		var fwd, back []int
		for _, e := range preds {
			if e.back {
				back = append(back, e.from)
			} else {
				fwd = append(fwd, e.from)
			}
		}
		slices.Sort(fwd)
		slices.Sort(back)
		switch {
		case i == 0:
			if len(preds) > 0 {
				return fb.errorf(blk.pos, "entry block %s is a branch target", blk.label)
			}
			fb.kinds[i] = blockEntry
		case len(back) > 0:
			if len(fwd) != 1 {
				return fb.errorf(blk.pos, "loop header %s has %d entry edges, want 1", blk.label, len(fwd))
			}
			fb.kinds[i] = blockLoop
		case len(preds) == 1 && preds[0].viaIf:
			fb.kinds[i] = blockBegin
		default:
			fb.kinds[i] = blockMerge
		}

		var phis []*stmt
		for j, s := range blk.stmts {
			if s.op != ir.OpPhi {
				continue
			}
			if fb.kinds[i] != blockMerge && fb.kinds[i] != blockLoop {
				return fb.errorf(s.pos, "phi in block %s, which has a single predecessor", blk.label)
			}
			if j != len(phis) {
				return fb.errorf(s.pos, "phi %s follows other instructions", s.name)
			}
			phis = append(phis, s)
		}
		if fb.kinds[i] != blockMerge && fb.kinds[i] != blockLoop {
			continue
		}
		all := append(slices.Clone(fwd), back...)
		for _, s := range phis {
			if err := fb.checkPhiLabels(s, all); err != nil {
				return err
			}
		}
		order := func(blocks []int) []int {
			if len(phis) == 0 {
				return blocks
			}
			var out []int
			for _, a := range phis[0].phi {
				if p := fb.labels[a.label]; slices.Contains(blocks, p) {
					out = append(out, p)
				}
			}
			return out
		}
		if fb.kinds[i] == blockLoop {
			fb.inputOrder[i] = append(fwd, order(back)...)
		} else {
			fb.inputOrder[i] = order(fwd)
		}
	}
	return nil
}

// checkPhiLabels requires the phi to name every predecessor exactly once.
func (fb *funcBuilder) checkPhiLabels(s *stmt, preds []int) error {
	if len(s.phi) != len(preds) {
		return fb.errorf(s.pos, "phi %s has %d values for %d predecessors", s.name, len(s.phi), len(preds))
	}
	seen := make(map[int]bool, len(preds))
	for _, a := range s.phi {
		p, ok := fb.labels[a.label]
		if !ok || !slices.Contains(preds, p) {
			return fb.errorf(s.pos, "phi %s names %s, which is not a predecessor", s.name, a.label)
		}
		if seen[p] {
			return fb.errorf(s.pos, "phi %s names %s twice", s.name, a.label)
		}
		seen[p] = true
	}
	return nil
}

func (fb *funcBuilder) define(name string, id ir.NodeID, p Pos) error {
	if _, ok := fb.values[name]; ok {
		return fb.errorf(p, "value %s redefined", name)
	}
	fb.values[name] = id
	fb.names[id] = name
	return nil
}

func (fb *funcBuilder) declareParams() error {
	for _, prm := range fb.d.params {
		if err := fb.define(prm.name, fb.b.Param(prm.name, prm.kind), fb.d.pos); err != nil {
			return err
		}
	}
	return nil
}

func (fb *funcBuilder) emitBlocks() error {
	for _, i := range fb.order {
		blk := fb.d.blocks[i]
		switch fb.kinds[i] {
		case blockEntry:
			fb.b.At(fb.g.Start())
			fb.begin[i] = fb.g.Start()
		case blockBegin:
			fb.b.At(fb.begin[i])
		case blockMerge:
			ends := make([]ir.NodeID, 0, len(fb.inputOrder[i]))
			for _, p := range fb.inputOrder[i] {
				ends = append(ends, fb.ends[[2]int{p, i}])
			}
			fb.begin[i] = fb.b.Merge(ends...)
		case blockLoop:
			fb.begin[i] = fb.b.LoopBegin(fb.ends[[2]int{fb.inputOrder[i][0], i}])
		}
		for _, s := range blk.stmts {
			if err := fb.emit(i, s); err != nil {
				return err
			}
		}
		if err := fb.terminate(i, blk.term); err != nil {
			return err
		}
	}
	// Back edges are emitted after their header.
	for _, i := range fb.order {
		if fb.kinds[i] != blockLoop {
			continue
		}
		ends := make([]ir.NodeID, 0, len(fb.inputOrder[i]))
		for _, p := range fb.inputOrder[i] {
			ends = append(ends, fb.ends[[2]int{p, i}])
		}
		fb.g.SetInputs(fb.begin[i], ends)
	}
	return nil
}

func (fb *funcBuilder) shape(s *stmt, d shapeDecl) (ir.Shape, error) {
	switch {
	case d.isArr:
		return ir.ArrayShape(d.elem, d.len), nil
	case d.isBox:
		return ir.BoxShape(d.box), nil
	}
	t := fb.u.Type(d.typ)
	if t == nil {
		return ir.Shape{}, fb.errorf(s.pos, "undefined type %s", d.typ)
	}
	return ir.InstanceShape(t), nil
}

func (fb *funcBuilder) fieldOf(s *stmt) (*ir.Type, int, error) {
	t := fb.u.Type(s.typ)
	if t == nil {
		return nil, 0, fb.errorf(s.pos, "undefined type %s", s.typ)
	}
	i := t.FieldIndex(s.field)
	if i < 0 {
		return nil, 0, fb.errorf(s.pos, "type %s has no field %s", s.typ, s.field)
	}
	return t, i, nil
}

// emit creates the node of s without inputs; operands are attached by resolveOperands.
func (fb *funcBuilder) emit(blk int, s *stmt) error {
	n := &ir.Node{Op: s.op}
	switch s.op {
	case ir.OpConst:
		n.Kind, n.Const = s.cnst.Kind, s.cnst
	case ir.OpNew:
		t := fb.u.Type(s.typ)
		if t == nil {
			return fb.errorf(s.pos, "undefined type %s", s.typ)
		}
		n.Kind, n.Type = ir.KindObject, t
	case ir.OpNewArray, ir.OpBox:
		n.Kind, n.Elem = ir.KindObject, s.kind
	case ir.OpUnbox, ir.OpLoadIndexed:
		n.Kind, n.Elem = s.kind, s.kind
	case ir.OpStoreIndexed:
		n.Elem = s.kind
	case ir.OpLoadField, ir.OpStoreField:
		t, i, err := fb.fieldOf(s)
		if err != nil {
			return err
		}
		n.Type, n.Index = t, i
		if s.op == ir.OpLoadField {
			n.Kind = t.Fields[i].Kind
		}
	case ir.OpArrayLength:
		n.Kind = ir.KindInt
	case ir.OpLoadStatic, ir.OpStoreStatic:
		st := fb.u.Static(s.static)
		if st == nil {
			return fb.errorf(s.pos, "undefined static %s", s.static)
		}
		n.Static = st
		if s.op == ir.OpLoadStatic {
			n.Kind = st.Kind
		}
	case ir.OpInvoke:
		n.Kind, n.Name = s.kind, s.callee
	case ir.OpCommitAllocation:
		for _, d := range s.shapes {
			sh, err := fb.shape(s, d)
			if err != nil {
				return err
			}
			n.Shapes = append(n.Shapes, sh)
		}
	case ir.OpAllocatedObject:
		n.Kind, n.Index = ir.KindObject, s.index
	case ir.OpPhi:
		n.Kind = s.kind
		n.Inputs = []ir.NodeID{fb.begin[blk]}
	case ir.OpEq, ir.OpLt, ir.OpRefEq, ir.OpIsNull:
		n.Kind = ir.KindBool
	}

	var id ir.NodeID
	if s.op.IsFixed() {
		id = fb.b.Append(n)
	} else {
		id = fb.b.Float(n)
	}
	if s.name != "" {
		if err := fb.define(s.name, id, s.pos); err != nil {
			return err
		}
	}
	if len(s.args) > 0 || len(s.phi) > 0 {
		fb.work = append(fb.work, pending{id: id, s: s, blk: blk})
	}
	return nil
}

// exit ends the current position with the edge from block blk into target.
func (fb *funcBuilder) exit(blk, target int, back bool) {
	var id ir.NodeID
	if back {
		id = fb.b.Append(&ir.Node{Op: ir.OpLoopEnd})
	} else {
		id = fb.b.End()
	}
	fb.ends[[2]int{blk, target}] = id
}

func (fb *funcBuilder) isBack(from, to int) bool {
	for _, e := range fb.preds[to] {
		if e.from == from {
			return e.back
		}
	}
	return false
}

func (fb *funcBuilder) terminate(blk int, s *stmt) error {
	switch s.op {
	case ir.OpEnd:
		t := fb.succs[blk][0]
		fb.exit(blk, t, fb.isBack(blk, t))
	case ir.OpIf:
		id := fb.b.Append(&ir.Node{Op: ir.OpIf})
		fb.work = append(fb.work, pending{id: id, s: s, blk: blk})
		var begins [2]ir.NodeID
		for k := range begins {
			begins[k] = fb.g.Add(&ir.Node{Op: ir.OpBegin})
		}
		fb.g.SetSuccessors(id, begins[0], begins[1])
		for k, t := range fb.succs[blk] {
			if fb.kinds[t] == blockBegin {
				fb.begin[t] = begins[k]
				continue
			}
			fb.b.At(begins[k])
			fb.exit(blk, t, fb.isBack(blk, t))
		}
	case ir.OpReturn:
		id := fb.b.Return(ir.NoNode)
		if len(s.args) > 0 {
			fb.work = append(fb.work, pending{id: id, s: s, blk: blk})
		}
	}
	return nil
}

func (fb *funcBuilder) lookup(s *stmt, name string) (ir.NodeID, error) {
	id, ok := fb.values[name]
	if !ok {
		return ir.NoNode, fb.errorf(s.pos, "undefined value %s", name)
	}
	return id, nil
}

func (fb *funcBuilder) resolveOperands() error {
	for _, w := range fb.work {
		var inputs []ir.NodeID
		if w.s.op == ir.OpPhi {
			inputs = append(inputs, fb.begin[w.blk])
			byLabel := make(map[int]string, len(w.s.phi))
			for _, a := range w.s.phi {
				byLabel[fb.labels[a.label]] = a.value
			}
			for _, p := range fb.inputOrder[w.blk] {
				id, err := fb.lookup(w.s, byLabel[p])
				if err != nil {
					return err
				}
				inputs = append(inputs, id)
			}
		}
		for _, a := range w.s.args {
			id, err := fb.lookup(w.s, a)
			if err != nil {
				return err
			}
			n := fb.g.Node(id)
			switch {
			case w.s.op == ir.OpAllocatedObject:
				if n.Op != ir.OpCommitAllocation {
					return fb.errorf(w.s.pos, "%s is not a commit", a)
				}
			case !n.Op.HasValue():
				return fb.errorf(w.s.pos, "%s has no value", a)
			}
			inputs = append(inputs, id)
		}
		if w.s.op == ir.OpAllocatedObject {
			c := fb.g.Node(inputs[0])
			if w.s.index < 0 || w.s.index >= len(c.Shapes) {
				return fb.errorf(w.s.pos, "commit %s has no object #%d", w.s.args[0], w.s.index)
			}
		}
		fb.g.SetInputs(w.id, inputs)
	}
	return nil
}

// inferKinds gives arithmetic nodes the kind of their first operand.
func (fb *funcBuilder) inferKinds() error {
	for changed := true; changed; {
		changed = false
		for _, w := range fb.work {
			n := fb.g.Node(w.id)
			switch n.Op {
			case ir.OpAdd, ir.OpSub, ir.OpMul:
			default:
				continue
			}
			if k := fb.g.Node(n.Input(0)).Kind; n.Kind == ir.KindVoid && k != ir.KindVoid {
				n.Kind = k
				changed = true
			}
		}
	}
	return nil
}

// checkOperands rejects void operands once arithmetic kinds are known.
func (fb *funcBuilder) checkOperands() error {
	for _, w := range fb.work {
		if w.s.op == ir.OpPhi || w.s.op == ir.OpAllocatedObject {
			continue
		}
		n := fb.g.Node(w.id)
		for i, a := range w.s.args {
			if fb.kindOf(n.Input(i)) == ir.KindVoid {
				return fb.errorf(w.s.pos, "%s has no value", a)
			}
		}
	}
	return nil
}

func (fb *funcBuilder) kindOf(id ir.NodeID) ir.Kind { return fb.g.Node(id).Kind }

func (fb *funcBuilder) want(s *stmt, id ir.NodeID, k ir.Kind) error {
	if got := fb.kindOf(id); got != k {
		return fb.errorf(s.pos, "%s is %s, want %s", fb.names[id], got, k)
	}
	return nil
}

func (fb *funcBuilder) checkKinds() error {
	for _, w := range fb.work {
		n := fb.g.Node(w.id)
		s := w.s
		var err error
		switch n.Op {
		case ir.OpIf:
			err = fb.want(s, n.Input(0), ir.KindBool)
		case ir.OpReturn:
			if !fb.d.hasResult || fb.d.result == ir.KindVoid {
				return fb.errorf(s.pos, "return with a value from void func")
			}
			err = fb.want(s, n.Input(0), fb.d.result)
		case ir.OpAdd, ir.OpSub, ir.OpMul:
			if k := n.Kind; k != ir.KindInt && k != ir.KindFloat {
				return fb.errorf(s.pos, "%s of %s values", n.Op, k)
			}
			err = fb.want(s, n.Input(1), n.Kind)
		case ir.OpEq, ir.OpLt:
			k := fb.kindOf(n.Input(0))
			if k == ir.KindObject || (n.Op == ir.OpLt && k == ir.KindBool) {
				return fb.errorf(s.pos, "%s of %s values", n.Op, k)
			}
			err = fb.want(s, n.Input(1), k)
		case ir.OpRefEq:
			if err = fb.want(s, n.Input(0), ir.KindObject); err == nil {
				err = fb.want(s, n.Input(1), ir.KindObject)
			}
		case ir.OpIsNull, ir.OpUnbox, ir.OpLoadField, ir.OpArrayLength, ir.OpMonitorEnter, ir.OpMonitorExit:
			err = fb.want(s, n.Input(0), ir.KindObject)
		case ir.OpStoreField:
			if err = fb.want(s, n.Input(0), ir.KindObject); err == nil {
				err = fb.want(s, n.Input(1), n.Type.Fields[n.Index].Kind)
			}
		case ir.OpNewArray:
			err = fb.want(s, n.Input(0), ir.KindInt)
		case ir.OpBox:
			err = fb.want(s, n.Input(0), n.Elem)
		case ir.OpLoadIndexed, ir.OpStoreIndexed:
			if err = fb.want(s, n.Input(0), ir.KindObject); err == nil {
				err = fb.want(s, n.Input(1), ir.KindInt)
			}
			if err == nil && n.Op == ir.OpStoreIndexed {
				err = fb.want(s, n.Input(2), n.Elem)
			}
		case ir.OpStoreStatic:
			err = fb.want(s, n.Input(0), n.Static.Kind)
		case ir.OpPhi:
			for _, in := range n.Inputs[1:] {
				if err = fb.want(s, in, n.Kind); err != nil {
					break
				}
			}
		}
		if err != nil {
			return err
		}
	}
	for _, blk := range fb.d.blocks {
		if blk.term.op == ir.OpReturn && len(blk.term.args) == 0 && fb.d.hasResult && fb.d.result != ir.KindVoid {
			return fb.errorf(blk.term.pos, "return without a value from func returning %s", fb.d.result)
		}
	}
	return nil
}

// checkDominance requires every value computed by a fixed node to be available where it
// is used.
func (fb *funcBuilder) checkDominance() error {
	g := fb.g
	cfg, err := ir.BuildCFG(g)
	if err != nil {
		return fmt.Errorf("%w: func %s: %w", ErrSyntax, fb.d.name, err)
	}
	sched := ir.ScheduleFloating(cfg)
	pos := make(map[ir.NodeID]int)
	for _, b := range cfg.Blocks {
		for i, id := range b.Nodes {
			pos[id] = i
		}
	}
	before := func(def ir.NodeID, user ir.NodeID) bool {
		db, ub := cfg.BlockOf(def), cfg.BlockOf(user)
		if db == ub {
			return pos[def] < pos[user]
		}
		return cfg.Dominates(db, ub)
	}
	for _, id := range g.Live() {
		u := g.Node(id)
		for i, in := range u.Inputs {
			def := g.Node(in)
			if def == nil || !def.Op.IsFixed() || def.Op.BeginsBlock() || def.Op.EndsBlock() {
				continue
			}
			db := cfg.BlockOf(in)
			ok := true
			switch {
			case u.Op == ir.OpPhi:
				if i > 0 {
					mb := cfg.BlockOf(u.Input(0))
					ok = cfg.Dominates(db, cfg.Blocks[mb].Preds[i-1])
				}
			case u.Op.IsFixed():
				ok = before(in, id)
			default:
				ub := sched.BlockOf(id)
				if ub < 0 {
					continue
				}
				ok = cfg.Dominates(db, ub)
				for _, user := range g.Usages(id) {
					if un := g.Node(user); ok && un.Op.IsFixed() && cfg.BlockOf(user) == db {
						ok = before(in, user)
					}
				}
			}
			if !ok {
				return fmt.Errorf("%w: func %s: %s is used where it is not defined", ErrSyntax, fb.d.name, fb.names[in])
			}
		}
	}
	return nil
}

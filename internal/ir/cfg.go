package ir

import (
	"fmt"
	"slices"

	ybgraph "github.com/yourbasic/graph"
	"gonum.org/v1/gonum/graph/flow"
	"gonum.org/v1/gonum/graph/simple"
)

// Block is a maximal chain of fixed nodes starting at a block-beginning node and ending
// at a terminator.
type Block struct {
	// Index is the position of the block in reverse postorder.
	Index int
	Begin NodeID
	End   NodeID
	// Nodes holds the fixed nodes of the block in control order, Begin and End included.
	Nodes []NodeID
	// Preds are ordered as the inputs of the Merge or LoopBegin that begins the block.
	Preds []int
	Succs []int
	// Idom is the immediate dominator, -1 for the entry block.
	Idom int
	// Loop is the innermost loop containing the block.
	Loop *Loop
}

// Loop is a natural loop. Its blocks are contiguous in reverse postorder, header first.
type Loop struct {
	Header    int
	Blocks    []int
	BackEdges []int
	Parent    *Loop
	Depth     int
}

// Contains reports whether block b belongs to the loop.
func (l *Loop) Contains(b int) bool {
	if l == nil || len(l.Blocks) == 0 {
		return false
	}
	return b >= l.Blocks[0] && b <= l.Blocks[len(l.Blocks)-1]
}

// Last returns the RPO index of the last block of the loop.
func (l *Loop) Last() int { return l.Blocks[len(l.Blocks)-1] }

// CFG is the block structure of a graph at the time it was built.
type CFG struct {
	Graph  *Graph
	Blocks []*Block
	Loops  []*Loop

	blockOf map[NodeID]int
	headers map[int]*Loop
}

// BlockOf returns the block containing the fixed node id, or -1.
func (c *CFG) BlockOf(id NodeID) int {
	if b, ok := c.blockOf[id]; ok {
		return b
	}
	return -1
}

// LoopAt returns the loop whose header is block b.
func (c *CFG) LoopAt(b int) *Loop { return c.headers[b] }

// Dominates reports whether block a dominates block b.
func (c *CFG) Dominates(a, b int) bool {
	for b >= 0 {
		if a == b {
			return true
		}
		b = c.Blocks[b].Idom
	}
	return false
}

// CommonDominator returns the nearest block dominating both a and b.
func (c *CFG) CommonDominator(a, b int) int {
	if a < 0 {
		return b
	}
	if b < 0 {
		return a
	}
	for a != b {
		// Dominators precede the blocks they dominate in reverse postorder.
		if a > b {
			a = c.Blocks[a].Idom
		} else {
			b = c.Blocks[b].Idom
		}
	}
	return a
}

// PredIndex returns the position of pred among the predecessors of b, or -1.
func (c *CFG) PredIndex(b, pred int) int {
	return slices.Index(c.Blocks[b].Preds, pred)
}

type rawBlock struct {
	begin NodeID
	end   NodeID
	nodes []NodeID
	succs []int
	preds []int
}

// BuildCFG computes blocks, reverse postorder, dominators and loops of g. Only blocks
// reachable from Start are included. Irreducible control flow is rejected.
func BuildCFG(g *Graph) (*CFG, error) {
	raw, err := discoverBlocks(g)
	if err != nil {
		return nil, err
	}

	dg := simple.NewDirectedGraph()
	for i := range raw {
		dg.AddNode(simple.Node(int64(i)))
	}
	for i, rb := range raw {
		for _, s := range rb.succs {
			if s == i {
				continue
			}
			dg.SetEdge(dg.NewEdge(simple.Node(int64(i)), simple.Node(int64(s))))
		}
	}
	dt := flow.Dominators(simple.Node(0), dg)
	idom := make([]int, len(raw))
	for i := range raw {
		idom[i] = -1
		if d := dt.DominatorOf(int64(i)); d != nil && i != 0 {
			idom[i] = int(d.ID())
		}
	}
	dominates := func(a, b int) bool {
		for b >= 0 {
			if a == b {
				return true
			}
			b = idom[b]
		}
		return false
	}

	forward := ybgraph.New(len(raw))
	backEdges := make(map[int][]int)
	for i, rb := range raw {
		for _, s := range rb.succs {
			isLoopEnd := g.Node(rb.end).Op == OpLoopEnd
			if dominates(s, i) {
				if !isLoopEnd {
					return nil, fmt.Errorf("%w: %s: back edge b%d->b%d without loop end", ErrInconsistent, g.Name, i, s)
				}
				backEdges[s] = append(backEdges[s], i)
				continue
			}
			if isLoopEnd {
				return nil, fmt.Errorf("%w: %s: loop end %d does not target a dominating loop header", ErrInconsistent, g.Name, rb.end)
			}
			forward.Add(i, s)
		}
	}
	for _, comp := range ybgraph.StrongComponents(forward) {
		if len(comp) > 1 {
			return nil, fmt.Errorf("%w: %s: irreducible control flow", ErrInconsistent, g.Name)
		}
	}

	loops, loopOf := findLoops(raw, backEdges)
	order := loopOrder(raw, forward, loops, loopOf)

	rpo := make([]int, len(raw))
	for pos, b := range order {
		rpo[b] = pos
	}
	cfg := &CFG{
		Graph:   g,
		Blocks:  make([]*Block, len(raw)),
		blockOf: make(map[NodeID]int),
		headers: make(map[int]*Loop),
	}
	for old, rb := range raw {
		nb := &Block{
			Index: rpo[old],
			Begin: rb.begin,
			End:   rb.end,
			Nodes: rb.nodes,
			Idom:  -1,
		}
		if idom[old] >= 0 {
			nb.Idom = rpo[idom[old]]
		}
		for _, p := range rb.preds {
			nb.Preds = append(nb.Preds, rpo[p])
		}
		for _, s := range rb.succs {
			nb.Succs = append(nb.Succs, rpo[s])
		}
		cfg.Blocks[nb.Index] = nb
		for _, n := range rb.nodes {
			cfg.blockOf[n] = nb.Index
		}
	}
	for _, l := range loops {
		l.Header = rpo[l.Header]
		for i, b := range l.Blocks {
			l.Blocks[i] = rpo[b]
		}
		slices.Sort(l.Blocks)
		for i, b := range l.BackEdges {
			l.BackEdges[i] = rpo[b]
		}
		if l.Blocks[0] != l.Header || l.Last()-l.Header+1 != len(l.Blocks) {
			return nil, fmt.Errorf("%w: %s: loop at b%d is not contiguous", ErrInconsistent, g.Name, l.Header)
		}
		cfg.headers[l.Header] = l
	}
	for old, l := range loopOf {
		cfg.Blocks[rpo[old]].Loop = l
	}
	cfg.Loops = loops
	slices.SortFunc(cfg.Loops, func(a, b *Loop) int { return a.Header - b.Header })
	return cfg, nil
}

// discoverBlocks walks the control chains from Start in depth-first order.
func discoverBlocks(g *Graph) ([]*rawBlock, error) {
	var raw []*rawBlock
	index := make(map[NodeID]int)

	var visit func(begin NodeID) (int, error)
	visit = func(begin NodeID) (int, error) {
		if i, ok := index[begin]; ok {
			return i, nil
		}
		bn := g.Node(begin)
		if bn == nil || !bn.Op.BeginsBlock() {
			return -1, fmt.Errorf("%w: %s: node %d does not begin a block", ErrInconsistent, g.Name, begin)
		}
		rb := &rawBlock{begin: begin}
		i := len(raw)
		raw = append(raw, rb)
		index[begin] = i

		cur := begin
		for {
			n := g.Node(cur)
			if n == nil {
				return -1, fmt.Errorf("%w: %s: broken control chain after node %d", ErrInconsistent, g.Name, rb.nodes[len(rb.nodes)-1])
			}
			if len(rb.nodes) > 0 && n.Op.BeginsBlock() {
				return -1, fmt.Errorf("%w: %s: block at node %d falls into %s node %d", ErrInconsistent, g.Name, begin, n.Op, cur)
			}
			rb.nodes = append(rb.nodes, cur)
			if n.Op.EndsBlock() {
				rb.end = cur
				break
			}
			cur = n.Next
		}

		end := g.Node(rb.end)
		var targets []NodeID
		switch end.Op {
		case OpIf:
			targets = []NodeID{end.True, end.False}
		case OpEnd, OpLoopEnd:
			m := g.MergeOf(rb.end)
			if m == NoNode {
				return -1, fmt.Errorf("%w: %s: %s node %d has no merge", ErrInconsistent, g.Name, end.Op, rb.end)
			}
			targets = []NodeID{m}
		}
		for _, t := range targets {
			s, err := visit(t)
			if err != nil {
				return -1, err
			}
			rb.succs = append(rb.succs, s)
		}
		return i, nil
	}

	if _, err := visit(g.Start()); err != nil {
		return nil, err
	}

	endBlock := make(map[NodeID]int, len(raw))
	for i, rb := range raw {
		endBlock[rb.end] = i
	}
	for _, rb := range raw {
		bn := g.Node(rb.begin)
		switch bn.Op {
		case OpBegin:
			p, ok := endBlock[bn.Pred]
			if !ok {
				return nil, fmt.Errorf("%w: %s: begin %d without if", ErrInconsistent, g.Name, rb.begin)
			}
			rb.preds = []int{p}
		case OpMerge, OpLoopBegin:
			for _, e := range bn.Inputs {
				p, ok := endBlock[e]
				if !ok {
					return nil, fmt.Errorf("%w: %s: merge %d has unreachable end %d", ErrInconsistent, g.Name, rb.begin, e)
				}
				rb.preds = append(rb.preds, p)
			}
		}
	}
	return raw, nil
}

func findLoops(raw []*rawBlock, backEdges map[int][]int) ([]*Loop, map[int]*Loop) {
	headers := make([]int, 0, len(backEdges))
	for h := range backEdges {
		headers = append(headers, h)
	}
	slices.Sort(headers)

	var loops []*Loop
	for _, h := range headers {
		l := &Loop{Header: h, BackEdges: slices.Clone(backEdges[h])}
		slices.Sort(l.BackEdges)
		body := map[int]bool{h: true}
		work := slices.Clone(l.BackEdges)
		for len(work) > 0 {
			b := work[len(work)-1]
			work = work[:len(work)-1]
			if body[b] {
				continue
			}
			body[b] = true
			work = append(work, raw[b].preds...)
		}
		for b := range body {
			l.Blocks = append(l.Blocks, b)
		}
		slices.Sort(l.Blocks)
		loops = append(loops, l)
	}

	// The innermost loop of a block is the smallest loop containing it.
	loopOf := make(map[int]*Loop)
	for _, l := range loops {
		for _, b := range l.Blocks {
			if cur, ok := loopOf[b]; !ok || len(l.Blocks) < len(cur.Blocks) {
				loopOf[b] = l
			}
		}
	}
	for _, l := range loops {
		for _, outer := range loops {
			if outer == l || len(outer.Blocks) <= len(l.Blocks) || !slices.Contains(outer.Blocks, l.Header) {
				continue
			}
			if l.Parent == nil || len(outer.Blocks) < len(l.Parent.Blocks) {
				l.Parent = outer
			}
		}
	}
	for _, l := range loops {
		for p := l; p != nil; p = p.Parent {
			l.Depth++
		}
	}
	return loops, loopOf
}

// loopOrder produces a topological order of the forward edges in which the blocks of
// every loop are contiguous.
func loopOrder(raw []*rawBlock, forward *ybgraph.Mutable, loops []*Loop, loopOf map[int]*Loop) []int {
	indeg := make([]int, len(raw))
	for v := range raw {
		forward.Visit(v, func(w int, _ int64) bool {
			indeg[w]++
			return false
		})
	}
	inLoop := func(l *Loop, b int) bool {
		for cur := loopOf[b]; cur != nil; cur = cur.Parent {
			if cur == l {
				return true
			}
		}
		return false
	}
	remaining := make(map[*Loop]int, len(loops))
	for _, l := range loops {
		remaining[l] = len(l.Blocks)
	}

	var (
		order []int
		ready = []int{0}
		open  []*Loop
	)
	for len(ready) > 0 {
		for len(open) > 0 && remaining[open[len(open)-1]] == 0 {
			open = open[:len(open)-1]
		}
		pick := -1
		for i, b := range ready {
			if len(open) == 0 || inLoop(open[len(open)-1], b) {
				if pick < 0 || b < ready[pick] {
					pick = i
				}
			}
		}
		if pick < 0 {
			pick = 0
		}
		b := ready[pick]
		ready = slices.Delete(ready, pick, pick+1)
		order = append(order, b)

		var entered []*Loop
		for l := loopOf[b]; l != nil; l = l.Parent {
			remaining[l]--
			if l.Header == b {
				entered = append(entered, l)
			}
		}
		for i := len(entered) - 1; i >= 0; i-- {
			open = append(open, entered[i])
		}
		forward.Visit(b, func(w int, _ int64) bool {
			indeg[w]--
			if indeg[w] == 0 {
				ready = append(ready, w)
			}
			return false
		})
	}
	return order
}

package effects

import (
	"fmt"
	"slices"

	"pea/internal/ir"
)

// Kind enumerates recorded mutations.
type Kind uint8

const (
	// InsertBefore links the unlinked fixed node Node before Pos.
	InsertBefore Kind = iota + 1
	// ReplaceInput sets input Index of Node to Value.
	ReplaceInput
	// ReplaceAtUsages makes every user of Node use Value.
	ReplaceAtUsages
	// Delete unlinks a fixed Node and kills it.
	Delete
	// Benefit marks the allocation site Node as profitable to virtualize. It does not
	// change the graph.
	Benefit
)

func (k Kind) String() string {
	switch k {
	case InsertBefore:
		return "insert"
	case ReplaceInput:
		return "replace-input"
	case ReplaceAtUsages:
		return "replace-usages"
	case Delete:
		return "delete"
	case Benefit:
		return "benefit"
	}
	return "effect?"
}

// Effect is one recorded mutation.
type Effect struct {
	Kind  Kind
	Pos   ir.NodeID
	Node  ir.NodeID
	Index int
	Value ir.NodeID
}

func (e Effect) String() string {
	switch e.Kind {
	case InsertBefore:
		return fmt.Sprintf("insert %d before %d", e.Node, e.Pos)
	case ReplaceInput:
		return fmt.Sprintf("set %d.in[%d] = %d", e.Node, e.Index, e.Value)
	case ReplaceAtUsages:
		return fmt.Sprintf("replace %d with %d", e.Node, e.Value)
	case Delete:
		return fmt.Sprintf("delete %d", e.Node)
	case Benefit:
		return fmt.Sprintf("benefit %d", e.Node)
	}
	return e.Kind.String()
}

// List is an ordered effect list.
type List struct {
	effects []Effect
}

// InsertBefore records linking n before pos.
func (l *List) InsertBefore(pos, n ir.NodeID) {
	l.effects = append(l.effects, Effect{Kind: InsertBefore, Pos: pos, Node: n})
}

// ReplaceInput records setting input i of n to v. Repeated identical records are kept once.
func (l *List) ReplaceInput(n ir.NodeID, i int, v ir.NodeID) {
	e := Effect{Kind: ReplaceInput, Node: n, Index: i, Value: v}
	if slices.Contains(l.effects, e) {
		return
	}
	l.effects = append(l.effects, e)
}

// ReplaceAtUsages records redirecting every user of n to v.
func (l *List) ReplaceAtUsages(n, v ir.NodeID) {
	l.effects = append(l.effects, Effect{Kind: ReplaceAtUsages, Node: n, Value: v})
}

// Delete records the removal of n.
func (l *List) Delete(n ir.NodeID) {
	l.effects = append(l.effects, Effect{Kind: Delete, Node: n})
}

// Benefit records that site gained from virtualization.
func (l *List) Benefit(site ir.NodeID) {
	l.effects = append(l.effects, Effect{Kind: Benefit, Node: site})
}

// Reset drops all recorded effects.
func (l *List) Reset() { l.effects = l.effects[:0] }

// Effects returns the recorded effects in order.
func (l *List) Effects() []Effect { return l.effects }

// Append copies the effects of o to the end of l.
func (l *List) Append(o *List) {
	for _, e := range o.effects {
		if e.Kind == ReplaceInput {
			l.ReplaceInput(e.Node, e.Index, e.Value)
			continue
		}
		l.effects = append(l.effects, e)
	}
}

// Count returns the number of graph-changing effects.
func (l *List) Count() int {
	n := 0
	for _, e := range l.effects {
		if e.Kind != Benefit {
			n++
		}
	}
	return n
}

// EdgeKey names the control-flow edge into a merge block.
type EdgeKey struct {
	Block int
	Edge  int
}

// Set holds the effects of one walk: one list per block and one per merge edge.
type Set struct {
	blocks []List
	edges  map[EdgeKey]*List
}

// NewSet creates a Set for blocks blocks.
func NewSet(blocks int) *Set {
	return &Set{
		blocks: make([]List, blocks),
		edges:  make(map[EdgeKey]*List),
	}
}

// Block returns the list of block b.
func (s *Set) Block(b int) *List { return &s.blocks[b] }

// Edge returns the list of the edge entering merge block b from its predecessor edge.
func (s *Set) Edge(b, edge int) *List {
	k := EdgeKey{Block: b, Edge: edge}
	l, ok := s.edges[k]
	if !ok {
		l = &List{}
		s.edges[k] = l
	}
	return l
}

// ResetBlocks drops the block and merge-edge effects of blocks from..to, inclusive.
// When keepEdge is >= 0 the list of edge keepEdge of block from is kept.
func (s *Set) ResetBlocks(from, to, keepEdge int) {
	for b := from; b <= to; b++ {
		s.blocks[b].Reset()
	}
	for k, l := range s.edges {
		if k.Block < from || k.Block > to {
			continue
		}
		if k.Block == from && k.Edge == keepEdge {
			continue
		}
		l.Reset()
	}
}

// Lists returns all lists in application order: blocks in reverse postorder, then merge
// edges ordered by block and edge.
func (s *Set) Lists() []*List {
	out := make([]*List, 0, len(s.blocks)+len(s.edges))
	for i := range s.blocks {
		out = append(out, &s.blocks[i])
	}
	keys := make([]EdgeKey, 0, len(s.edges))
	for k := range s.edges {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b EdgeKey) int {
		if a.Block != b.Block {
			return a.Block - b.Block
		}
		return a.Edge - b.Edge
	})
	for _, k := range keys {
		out = append(out, s.edges[k])
	}
	return out
}

// Count returns the number of graph-changing effects in the set.
func (s *Set) Count() int {
	n := 0
	for _, l := range s.Lists() {
		n += l.Count()
	}
	return n
}

// Benefits returns the sites marked by Benefit effects.
func (s *Set) Benefits() map[ir.NodeID]bool {
	out := make(map[ir.NodeID]bool)
	for _, l := range s.Lists() {
		for _, e := range l.effects {
			if e.Kind == Benefit {
				out[e.Node] = true
			}
		}
	}
	return out
}

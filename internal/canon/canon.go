// Package canon holds the default canonicalizer run between escape analysis passes.
package canon

import (
	"fmt"

	"pea/internal/ir"
)

// rule simplifies n and reports whether the graph changed.
type rule func(c *canonicalizer, n *ir.Node) (bool, error)

var rules [ir.NumOps]rule

func init() {
	for _, op := range []ir.Op{ir.OpAdd, ir.OpSub, ir.OpMul} {
		rules[op] = (*canonicalizer).arith
	}
	rules[ir.OpEq] = (*canonicalizer).compare
	rules[ir.OpLt] = (*canonicalizer).compare
	rules[ir.OpRefEq] = (*canonicalizer).refEq
	rules[ir.OpIsNull] = (*canonicalizer).isNull
	rules[ir.OpPhi] = (*canonicalizer).phi
	rules[ir.OpUnbox] = (*canonicalizer).unbox
	rules[ir.OpNew] = (*canonicalizer).deadAllocation
	rules[ir.OpNewArray] = (*canonicalizer).deadAllocation
	rules[ir.OpBox] = (*canonicalizer).deadAllocation
}

// maxRounds bounds the rewriting; every round either changes something or stops.
const maxRounds = 64

type canonicalizer struct {
	g      *ir.Graph
	consts map[string]ir.NodeID
}

// Canonicalize simplifies g in place: constant arithmetic and comparisons are folded,
// reference comparisons with a known answer are folded, phis with a single distinct input
// are removed, unbox of a box is forwarded, unused allocations and dead floating nodes are
// deleted.
func Canonicalize(g *ir.Graph) error {
	c := &canonicalizer{g: g, consts: make(map[string]ir.NodeID)}
	for _, id := range g.NodesOf(ir.OpConst) {
		c.consts[constKey(g.Node(id).Const)] = id
	}
	for range maxRounds {
		changed := false
		for _, id := range g.Live() {
			n := g.Node(id)
			if n == nil || n.Killed() {
				continue
			}
			r := rules[n.Op]
			if r == nil {
				continue
			}
			ok, err := r(c, n)
			if err != nil {
				return fmt.Errorf("canonicalize %s: %w", g.Name, err)
			}
			changed = changed || ok
		}
		if err := g.Sweep(); err != nil {
			return fmt.Errorf("canonicalize %s: %w", g.Name, err)
		}
		if g.RemoveDeadFloating() > 0 {
			changed = true
		}
		if !changed {
			break
		}
	}
	return nil
}

func constKey(c ir.Const) string { return c.String() }

// constant returns a constant node equal to v, reusing an existing one.
func (c *canonicalizer) constant(v ir.Const) ir.NodeID {
	key := constKey(v)
	if id, ok := c.consts[key]; ok && c.g.Node(id) != nil {
		return id
	}
	id := c.g.Add(&ir.Node{Op: ir.OpConst, Kind: v.Kind, Const: v})
	c.consts[key] = id
	return id
}

func (c *canonicalizer) constOf(id ir.NodeID) (ir.Const, bool) {
	n := c.g.Node(id)
	if n == nil || n.Op != ir.OpConst {
		return ir.Const{}, false
	}
	return n.Const, true
}

// fold replaces every use of n by the constant v.
func (c *canonicalizer) fold(n *ir.Node, v ir.Const) bool {
	if c.g.UsageCount(n.ID) == 0 {
		return false
	}
	c.g.ReplaceAtUsages(n.ID, c.constant(v))
	return true
}

func (c *canonicalizer) arith(n *ir.Node) (bool, error) {
	x, okx := c.constOf(n.Input(0))
	y, oky := c.constOf(n.Input(1))
	if !okx || !oky || x.Kind != y.Kind {
		return false, nil
	}
	switch x.Kind {
	case ir.KindInt:
		var v int64
		switch n.Op {
		case ir.OpAdd:
			v = x.Int + y.Int
		case ir.OpSub:
			v = x.Int - y.Int
		default:
			v = x.Int * y.Int
		}
		return c.fold(n, ir.IntConst(v)), nil
	case ir.KindFloat:
		var v float64
		switch n.Op {
		case ir.OpAdd:
			v = x.Float + y.Float
		case ir.OpSub:
			v = x.Float - y.Float
		default:
			v = x.Float * y.Float
		}
		return c.fold(n, ir.FloatConst(v)), nil
	}
	return false, nil
}

func (c *canonicalizer) compare(n *ir.Node) (bool, error) {
	x, okx := c.constOf(n.Input(0))
	y, oky := c.constOf(n.Input(1))
	if !okx || !oky || x.Kind != y.Kind {
		return false, nil
	}
	if n.Op == ir.OpEq {
		return c.fold(n, ir.BoolConst(x.Equal(y))), nil
	}
	switch x.Kind {
	case ir.KindInt:
		return c.fold(n, ir.BoolConst(x.Int < y.Int)), nil
	case ir.KindFloat:
		// NaN compares false, including against itself.
		return c.fold(n, ir.BoolConst(x.Float < y.Float)), nil
	}
	return false, nil
}

// isAllocation reports whether id is a fresh, non-null object.
func (c *canonicalizer) isAllocation(id ir.NodeID) bool {
	n := c.g.Node(id)
	if n == nil {
		return false
	}
	switch n.Op {
	case ir.OpNew, ir.OpNewArray, ir.OpBox, ir.OpAllocatedObject:
		return true
	}
	return false
}

func (c *canonicalizer) refEq(n *ir.Node) (bool, error) {
	x, y := n.Input(0), n.Input(1)
	if x == y {
		return c.fold(n, ir.BoolConst(true)), nil
	}
	cx, okx := c.constOf(x)
	cy, oky := c.constOf(y)
	switch {
	case okx && oky && cx.Null && cy.Null:
		return c.fold(n, ir.BoolConst(true)), nil
	case c.isAllocation(x) && c.isAllocation(y),
		c.isAllocation(x) && oky && cy.Null,
		c.isAllocation(y) && okx && cx.Null:
		return c.fold(n, ir.BoolConst(false)), nil
	}
	return false, nil
}

func (c *canonicalizer) isNull(n *ir.Node) (bool, error) {
	x := n.Input(0)
	if cx, ok := c.constOf(x); ok && cx.Kind == ir.KindObject {
		return c.fold(n, ir.BoolConst(cx.Null)), nil
	}
	if c.isAllocation(x) {
		return c.fold(n, ir.BoolConst(false)), nil
	}
	return false, nil
}

// phi removes phis whose inputs are one value besides the phi itself.
func (c *canonicalizer) phi(n *ir.Node) (bool, error) {
	same := ir.NoNode
	for _, in := range n.Inputs[1:] {
		if in == n.ID || in == same {
			continue
		}
		if same != ir.NoNode {
			return false, nil
		}
		same = in
	}
	if same == ir.NoNode || c.g.UsageCount(n.ID) == 0 {
		return false, nil
	}
	c.g.ReplaceAtUsages(n.ID, same)
	return true, nil
}

// unbox forwards the value of a box allocated in the same graph.
func (c *canonicalizer) unbox(n *ir.Node) (bool, error) {
	box := c.g.Node(n.Input(0))
	if box == nil || box.Op != ir.OpBox || box.Elem != n.Elem {
		return false, nil
	}
	c.g.ReplaceAtUsages(n.ID, box.Input(0))
	return true, c.remove(n.ID)
}

// deadAllocation removes allocations nothing uses. Arrays with a negative or unknown length
// may throw and stay, as do instances of final types.
func (c *canonicalizer) deadAllocation(n *ir.Node) (bool, error) {
	if c.g.UsageCount(n.ID) > 0 {
		return false, nil
	}
	if n.Op == ir.OpNew && n.Type != nil && n.Type.Final {
		return false, nil
	}
	if n.Op == ir.OpNewArray {
		if l, ok := c.g.ConstInt(n.Input(0)); !ok || l < 0 {
			return false, nil
		}
	}
	return true, c.remove(n.ID)
}

func (c *canonicalizer) remove(id ir.NodeID) error {
	if err := c.g.Unlink(id); err != nil {
		return err
	}
	c.g.Kill(id)
	return nil
}

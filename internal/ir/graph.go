package ir

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInconsistent marks structural violations of a graph. Callers must abandon the
// compilation unit when they see it.
var ErrInconsistent = errors.New("inconsistent graph")

// Graph is the mutable IR of one function.
type Graph struct {
	Name     string
	Universe *Universe
	Params   []NodeID
	Result   Kind

	nodes  *Arena[*Node]
	start  NodeID
	killed []NodeID
}

// NewGraph creates a graph holding only its Start node.
func NewGraph(name string, u *Universe) *Graph {
	g := &Graph{
		Name:     name,
		Universe: u,
		nodes:    NewArena[*Node](64),
	}
	g.start = g.Add(&Node{Op: OpStart})
	return g
}

// Start returns the entry node.
func (g *Graph) Start() NodeID { return g.start }

// Node returns the node for id, or nil when id is invalid or deleted.
func (g *Graph) Node(id NodeID) *Node {
	if g == nil {
		return nil
	}
	return g.nodes.Get(uint32(id))
}

// MaxID returns the largest id ever allocated.
func (g *Graph) MaxID() NodeID { return NodeID(g.nodes.Len()) }

// Add inserts a copy of n and returns its id. Usages of the inputs are registered.
func (g *Graph) Add(n *Node) NodeID {
	c := n.clone()
	id := NodeID(g.nodes.Allocate(c))
	c.ID = id
	for _, in := range c.Inputs {
		g.addUsage(in, id)
	}
	return id
}

// Live returns the ids of all nodes that are not deleted, in id order.
func (g *Graph) Live() []NodeID {
	out := make([]NodeID, 0, g.nodes.Len())
	for i := NodeID(1); i <= g.MaxID(); i++ {
		if g.Node(i) != nil {
			out = append(out, i)
		}
	}
	return out
}

// Snapshot returns the live node set as it is now. Mutations after the call do not
// affect the returned slice.
func (g *Graph) Snapshot() []NodeID { return g.Live() }

// Clone returns an independent copy of g with the same node ids. Type and static
// descriptors are shared through the Universe.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		Name:     g.Name,
		Universe: g.Universe,
		Params:   slices.Clone(g.Params),
		Result:   g.Result,
		nodes:    NewArena[*Node](uint(g.nodes.Len())),
		start:    g.start,
		killed:   slices.Clone(g.killed),
	}
	for _, n := range g.nodes.data {
		if n == nil {
			c.nodes.data = append(c.nodes.data, nil)
			continue
		}
		cn := n.clone()
		cn.usages = slices.Clone(n.usages)
		cn.killed = n.killed
		c.nodes.data = append(c.nodes.data, cn)
	}
	return c
}

// NodesOf returns live nodes with the given op in id order.
func (g *Graph) NodesOf(op Op) []NodeID {
	var out []NodeID
	for i := NodeID(1); i <= g.MaxID(); i++ {
		if n := g.Node(i); n != nil && n.Op == op && !n.killed {
			out = append(out, i)
		}
	}
	return out
}

// Count returns the number of live, not killed nodes with the given op.
func (g *Graph) Count(op Op) int { return len(g.NodesOf(op)) }

// Usages returns a copy of the usage list of id.
func (g *Graph) Usages(id NodeID) []NodeID {
	n := g.Node(id)
	if n == nil {
		return nil
	}
	return slices.Clone(n.usages)
}

// UsageCount returns the number of usages of id.
func (g *Graph) UsageCount(id NodeID) int {
	n := g.Node(id)
	if n == nil {
		return 0
	}
	return len(n.usages)
}

func (g *Graph) addUsage(input, user NodeID) {
	if input == NoNode {
		return
	}
	if n := g.Node(input); n != nil {
		n.usages = append(n.usages, user)
	}
}

func (g *Graph) removeUsage(input, user NodeID) {
	n := g.Node(input)
	if n == nil {
		return
	}
	if i := slices.Index(n.usages, user); i >= 0 {
		n.usages = slices.Delete(n.usages, i, i+1)
	}
}

// SetInput replaces input i of id.
func (g *Graph) SetInput(id NodeID, i int, v NodeID) {
	n := g.Node(id)
	if n == nil || i < 0 || i >= len(n.Inputs) {
		return
	}
	g.removeUsage(n.Inputs[i], id)
	n.Inputs[i] = v
	g.addUsage(v, id)
}

// AddInput appends an input to id.
func (g *Graph) AddInput(id NodeID, v NodeID) {
	n := g.Node(id)
	if n == nil {
		return
	}
	n.Inputs = append(n.Inputs, v)
	g.addUsage(v, id)
}

// SetInputs replaces every input of id.
func (g *Graph) SetInputs(id NodeID, inputs []NodeID) {
	n := g.Node(id)
	if n == nil {
		return
	}
	for _, in := range n.Inputs {
		g.removeUsage(in, id)
	}
	n.Inputs = slices.Clone(inputs)
	for _, in := range n.Inputs {
		g.addUsage(in, id)
	}
}

// ReplaceAtUsages makes every user of old use repl instead.
func (g *Graph) ReplaceAtUsages(old, repl NodeID) {
	if old == repl {
		return
	}
	n := g.Node(old)
	if n == nil {
		return
	}
	users := slices.Clone(n.usages)
	for _, u := range users {
		un := g.Node(u)
		if un == nil {
			continue
		}
		for i, in := range un.Inputs {
			if in == old {
				un.Inputs[i] = repl
				g.removeUsage(old, u)
				g.addUsage(repl, u)
			}
		}
	}
}

// SetNext links fixed node a to its successor b.
func (g *Graph) SetNext(a, b NodeID) {
	an := g.Node(a)
	if an == nil {
		return
	}
	an.Next = b
	if bn := g.Node(b); bn != nil {
		bn.Pred = a
	}
}

// SetSuccessors links an If to its Begin successors.
func (g *Graph) SetSuccessors(ifID, t, f NodeID) {
	n := g.Node(ifID)
	if n == nil {
		return
	}
	n.True, n.False = t, f
	if tn := g.Node(t); tn != nil {
		tn.Pred = ifID
	}
	if fn := g.Node(f); fn != nil {
		fn.Pred = ifID
	}
}

// InsertBefore links the unlinked fixed node n into the control chain right before pos.
func (g *Graph) InsertBefore(pos, n NodeID) error {
	pn, nn := g.Node(pos), g.Node(n)
	if pn == nil || nn == nil {
		return fmt.Errorf("%w: insert %d before %d: missing node", ErrInconsistent, n, pos)
	}
	if !nn.Op.IsFixed() || nn.Op.BeginsBlock() || nn.Op.EndsBlock() {
		return fmt.Errorf("%w: cannot insert %s node %d", ErrInconsistent, nn.Op, n)
	}
	if nn.Pred != NoNode || nn.Next != NoNode {
		return fmt.Errorf("%w: node %d is already linked", ErrInconsistent, n)
	}
	pred := g.Node(pn.Pred)
	if pred == nil || pred.Next != pos {
		return fmt.Errorf("%w: node %d has no straight-line predecessor", ErrInconsistent, pos)
	}
	pred.Next = n
	nn.Pred = pred.ID
	nn.Next = pos
	pn.Pred = n
	return nil
}

// Unlink removes a straight-line fixed node from its control chain.
func (g *Graph) Unlink(id NodeID) error {
	n := g.Node(id)
	if n == nil {
		return fmt.Errorf("%w: unlink missing node %d", ErrInconsistent, id)
	}
	if n.Op.BeginsBlock() || n.Op.EndsBlock() {
		return fmt.Errorf("%w: cannot unlink %s node %d", ErrInconsistent, n.Op, id)
	}
	pred, next := g.Node(n.Pred), g.Node(n.Next)
	if pred == nil || next == nil || pred.Next != id {
		return fmt.Errorf("%w: node %d is not linked", ErrInconsistent, id)
	}
	pred.Next = next.ID
	next.Pred = pred.ID
	n.Pred, n.Next = NoNode, NoNode
	return nil
}

// Kill schedules id for deletion. The node is deleted by Sweep once nothing uses it.
func (g *Graph) Kill(id NodeID) {
	n := g.Node(id)
	if n == nil || n.killed {
		return
	}
	n.killed = true
	g.killed = append(g.killed, id)
}

// Sweep deletes killed nodes whose usages have reached zero. Unused floating nodes that
// keep a killed node alive are killed as well. A killed node that is still used by a live
// node is reported as an inconsistency.
func (g *Graph) Sweep() error {
	for progress := true; progress; {
		progress = false
		var pending []NodeID
		for _, id := range g.killed {
			n := g.Node(id)
			if n == nil {
				continue
			}
			if len(n.usages) == 0 {
				g.delete(id)
				progress = true
				continue
			}
			for _, u := range n.usages {
				un := g.Node(u)
				if un != nil && !un.killed && un.Op.IsFloating() && len(un.usages) == 0 {
					un.killed = true
					pending = append(pending, u)
					progress = true
				}
			}
			pending = append(pending, id)
		}
		g.killed = pending
	}
	if len(g.killed) == 0 {
		return nil
	}
	var errs []error
	for _, id := range g.killed {
		errs = append(errs, fmt.Errorf("%w: killed node %d (%s) still used by %v",
			ErrInconsistent, id, g.Node(id).Op, g.Node(id).usages))
	}
	return errors.Join(errs...)
}

func (g *Graph) delete(id NodeID) {
	n := g.Node(id)
	if n == nil {
		return
	}
	for _, in := range n.Inputs {
		g.removeUsage(in, id)
	}
	if n.Op.IsFixed() && (n.Pred != NoNode || n.Next != NoNode) {
		// Still linked: splice it out so the chain stays intact.
		if pred, next := g.Node(n.Pred), g.Node(n.Next); pred != nil && next != nil && pred.Next == id {
			pred.Next = next.ID
			next.Pred = pred.ID
		}
	}
	g.nodes.data[id-1] = nil
}

// RemoveDeadFloating deletes floating nodes without usages, transitively. Params are kept.
func (g *Graph) RemoveDeadFloating() int {
	removed := 0
	for changed := true; changed; {
		changed = false
		for _, id := range g.Live() {
			n := g.Node(id)
			if n == nil || !n.Op.IsFloating() || n.Op == OpParam || n.killed || len(n.usages) > 0 {
				continue
			}
			g.delete(id)
			removed++
			changed = true
		}
	}
	return removed
}

// MergeOf returns the Merge or LoopBegin that consumes the End or LoopEnd id.
func (g *Graph) MergeOf(end NodeID) NodeID {
	n := g.Node(end)
	if n == nil {
		return NoNode
	}
	for _, u := range n.usages {
		if un := g.Node(u); un != nil && un.Op.IsMerge() {
			return u
		}
	}
	return NoNode
}

// Phis returns the phis of merge in id order.
func (g *Graph) Phis(merge NodeID) []NodeID {
	n := g.Node(merge)
	if n == nil {
		return nil
	}
	var out []NodeID
	for _, u := range n.usages {
		if un := g.Node(u); un != nil && un.Op == OpPhi && un.Input(0) == merge && !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	slices.Sort(out)
	return out
}

// ConstInt reports the value of an int constant node.
func (g *Graph) ConstInt(id NodeID) (int64, bool) {
	n := g.Node(id)
	if n == nil || n.Op != OpConst || n.Const.Kind != KindInt {
		return 0, false
	}
	return n.Const.Int, true
}

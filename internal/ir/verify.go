package ir

import (
	"errors"
	"fmt"
	"slices"
)

// Verify checks structural invariants of g and reports every violation found.
func Verify(g *Graph) error {
	var errs []error
	report := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s: %s", ErrInconsistent, g.Name, fmt.Sprintf(format, args...)))
	}

	for _, id := range g.Live() {
		n := g.Node(id)
		if n.killed {
			report("node %d (%s) is killed but not swept", id, n.Op)
		}
		for i, in := range n.Inputs {
			if in == NoNode {
				if n.Op == OpReturn {
					continue
				}
				report("node %d (%s) has empty input %d", id, n.Op, i)
				continue
			}
			inn := g.Node(in)
			if inn == nil {
				report("node %d (%s) uses deleted node %d", id, n.Op, in)
				continue
			}
			if countOf(n.Inputs, in) != countOf(inn.usages, id) {
				report("usage list of %d does not match inputs of %d", in, id)
			}
		}
		for _, u := range n.usages {
			un := g.Node(u)
			if un == nil || !slices.Contains(un.Inputs, id) {
				report("node %d lists stale usage %d", id, u)
			}
		}
		verifyNode(g, n, report)
	}

	if _, err := BuildCFG(g); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func verifyNode(g *Graph, n *Node, report func(string, ...any)) {
	switch {
	case n.Op.IsFixed():
		if n.Op != OpStart && n.Op != OpMerge && n.Op != OpLoopBegin {
			if p := g.Node(n.Pred); p == nil {
				report("fixed node %d (%s) has no predecessor", n.ID, n.Op)
			} else if p.Next != n.ID && p.True != n.ID && p.False != n.ID {
				report("fixed node %d (%s) is not the successor of its predecessor %d", n.ID, n.Op, n.Pred)
			}
		}
		if !n.Op.EndsBlock() {
			if nx := g.Node(n.Next); nx == nil || nx.Pred != n.ID {
				report("fixed node %d (%s) has a broken successor link", n.ID, n.Op)
			}
		}
	case n.Op == OpPhi:
		m := g.Node(n.Input(0))
		if m == nil || !m.Op.IsMerge() {
			report("phi %d is not attached to a merge", n.ID)
			return
		}
		if len(n.Inputs)-1 != len(m.Inputs) {
			report("phi %d has %d values for %d merge inputs", n.ID, len(n.Inputs)-1, len(m.Inputs))
		}
	}

	switch n.Op {
	case OpIf:
		for _, s := range []NodeID{n.True, n.False} {
			if sn := g.Node(s); sn == nil || sn.Op != OpBegin || sn.Pred != n.ID {
				report("if %d has a successor %d that is not its begin", n.ID, s)
			}
		}
	case OpMerge, OpLoopBegin:
		if len(n.Inputs) == 0 {
			report("%s %d has no inputs", n.Op, n.ID)
		}
		for i, e := range n.Inputs {
			en := g.Node(e)
			if en == nil {
				continue
			}
			want := OpEnd
			if n.Op == OpLoopBegin && i > 0 {
				want = OpLoopEnd
			}
			if en.Op != want {
				report("%s %d input %d is %s, want %s", n.Op, n.ID, i, en.Op, want)
			}
		}
	case OpAllocatedObject:
		c := g.Node(n.Input(0))
		if c == nil || c.Op != OpCommitAllocation || n.Index < 0 || n.Index >= len(c.Shapes) {
			report("allocated object %d does not reference a commit slot", n.ID)
		}
	}
}

func countOf(list []NodeID, id NodeID) int {
	c := 0
	for _, x := range list {
		if x == id {
			c++
		}
	}
	return c
}

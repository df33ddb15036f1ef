package ir

import "slices"

// Liveness records the values live on entry to each block of a CFG.
type Liveness struct {
	in []map[NodeID]bool
}

// LiveIn returns the values live on entry to block b in id order. Phis of b are not
// included; their inputs are live at the end of the matching predecessor.
func (l *Liveness) LiveIn(b int) []NodeID {
	out := make([]NodeID, 0, len(l.in[b]))
	for id := range l.in[b] {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// IsLiveIn reports whether id is live on entry to block b.
func (l *Liveness) IsLiveIn(b int, id NodeID) bool { return l.in[b][id] }

// ComputeLiveness solves the backward liveness problem over the blocks of c, using s for
// the placement of floating nodes.
func ComputeLiveness(c *CFG, s *Schedule) *Liveness {
	g := c.Graph
	n := len(c.Blocks)
	defs := make([]map[NodeID]bool, n)
	uses := make([]map[NodeID]bool, n)
	phiUses := make([]map[NodeID]bool, n)
	for b := range c.Blocks {
		defs[b] = make(map[NodeID]bool)
		uses[b] = make(map[NodeID]bool)
		phiUses[b] = make(map[NodeID]bool)
	}
	isValue := func(id NodeID) bool {
		nd := g.Node(id)
		return nd != nil && nd.Op.HasValue()
	}

	for b, blk := range c.Blocks {
		members := append(slices.Clone(blk.Nodes), s.Floating[b]...)
		for _, id := range members {
			defs[b][id] = true
		}
		for _, id := range members {
			nd := g.Node(id)
			if nd.Op == OpPhi {
				preds := c.Blocks[b].Preds
				for j, in := range nd.Inputs[1:] {
					if j < len(preds) && isValue(in) {
						phiUses[preds[j]][in] = true
					}
				}
				continue
			}
			for _, in := range nd.Inputs {
				if !defs[b][in] && isValue(in) {
					uses[b][in] = true
				}
			}
		}
	}

	live := &Liveness{in: make([]map[NodeID]bool, n)}
	for b := range live.in {
		live.in[b] = make(map[NodeID]bool)
	}
	for changed := true; changed; {
		changed = false
		for b := n - 1; b >= 0; b-- {
			out := make(map[NodeID]bool, len(phiUses[b]))
			for id := range phiUses[b] {
				out[id] = true
			}
			for _, sb := range c.Blocks[b].Succs {
				for id := range live.in[sb] {
					out[id] = true
				}
			}
			in := live.in[b]
			for id := range uses[b] {
				if !in[id] {
					in[id] = true
					changed = true
				}
			}
			for id := range out {
				if !defs[b][id] && !in[id] {
					in[id] = true
					changed = true
				}
			}
		}
	}
	return live
}

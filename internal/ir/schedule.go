package ir

import "slices"

// Schedule assigns every used floating node to a block.
type Schedule struct {
	blockOf map[NodeID]int
	// Floating lists the floating nodes of each block in id order. Phis are listed in the
	// block of their merge.
	Floating [][]NodeID
}

// BlockOf returns the block of a scheduled floating node, or -1.
func (s *Schedule) BlockOf(id NodeID) int {
	if b, ok := s.blockOf[id]; ok {
		return b
	}
	return -1
}

// ScheduleFloating places each floating node in the nearest block dominating all of its
// uses. A phi input is used at the end of the matching predecessor. Phis are placed in
// the block of their merge. Nodes without scheduled uses are left unscheduled.
func ScheduleFloating(c *CFG) *Schedule {
	g := c.Graph
	s := &Schedule{
		blockOf:  make(map[NodeID]int),
		Floating: make([][]NodeID, len(c.Blocks)),
	}
	const visiting = -2
	var place func(id NodeID) int
	place = func(id NodeID) int {
		if b, ok := s.blockOf[id]; ok {
			return b
		}
		n := g.Node(id)
		if n == nil || n.Killed() {
			return -1
		}
		if n.Op.IsFixed() {
			return c.BlockOf(id)
		}
		if n.Op == OpPhi {
			b := c.BlockOf(n.Input(0))
			if b >= 0 {
				s.blockOf[id] = b
			}
			return b
		}
		s.blockOf[id] = visiting
		target := -1
		for _, u := range n.usages {
			un := g.Node(u)
			if un == nil || un.Killed() {
				continue
			}
			var ub int
			if un.Op == OpPhi {
				mb := c.BlockOf(un.Input(0))
				if mb < 0 {
					continue
				}
				for j, in := range un.Inputs[1:] {
					if in == id && j < len(c.Blocks[mb].Preds) {
						target = c.CommonDominator(target, c.Blocks[mb].Preds[j])
					}
				}
				continue
			}
			ub = place(u)
			if ub < 0 {
				continue
			}
			target = c.CommonDominator(target, ub)
		}
		if target < 0 {
			delete(s.blockOf, id)
			return -1
		}
		s.blockOf[id] = target
		return target
	}
	for _, id := range g.Live() {
		if n := g.Node(id); n.Op.IsFloating() {
			place(id)
		}
	}
	for id, b := range s.blockOf {
		if b >= 0 {
			s.Floating[b] = append(s.Floating[b], id)
		}
	}
	for _, f := range s.Floating {
		slices.Sort(f)
	}
	return s
}

package effects

import (
	"errors"
	"fmt"

	"pea/internal/ir"
)

// Stats summarizes an Apply.
type Stats struct {
	Inserted int
	Replaced int
	Deleted  int
	Created  int
}

// Apply commits the effects of s to g in four steps: insertions, replacements, deletions,
// sweep. Planned nodes are created on first reference. A planned fixed node that ends up
// unlinked, or a deleted node that is still in use, is reported as ir.ErrInconsistent and
// leaves g in an unspecified state.
func Apply(g *ir.Graph, p *Plan, s *Set) (Stats, error) {
	var st Stats
	lists := s.Lists()

	for _, l := range lists {
		for _, e := range l.effects {
			if e.Kind != InsertBefore {
				continue
			}
			pos, n := p.Resolve(e.Pos), p.Resolve(e.Node)
			if err := g.InsertBefore(pos, n); err != nil {
				return st, fmt.Errorf("apply %v: %w", e, err)
			}
			st.Inserted++
		}
	}

	for _, l := range lists {
		for _, e := range l.effects {
			switch e.Kind {
			case ReplaceInput:
				n := p.Resolve(e.Node)
				if g.Node(n) == nil {
					return st, fmt.Errorf("%w: apply %v: missing node", ir.ErrInconsistent, e)
				}
				g.SetInput(n, e.Index, p.Resolve(e.Value))
				st.Replaced++
			case ReplaceAtUsages:
				g.ReplaceAtUsages(p.Resolve(e.Node), p.Resolve(e.Value))
				st.Replaced++
			}
		}
	}

	for _, l := range lists {
		for _, e := range l.effects {
			if e.Kind != Delete {
				continue
			}
			id := p.Resolve(e.Node)
			n := g.Node(id)
			if n == nil || n.Killed() {
				continue
			}
			if n.Op.IsFixed() && n.Pred != ir.NoNode {
				if err := g.Unlink(id); err != nil {
					return st, fmt.Errorf("apply %v: %w", e, err)
				}
			}
			g.Kill(id)
			st.Deleted++
		}
	}

	if err := g.Sweep(); err != nil {
		return st, fmt.Errorf("apply: %w", err)
	}

	var errs []error
	for _, id := range p.Created() {
		st.Created++
		n := g.Node(id)
		if n != nil && n.Op.IsFixed() && n.Pred == ir.NoNode {
			errs = append(errs, fmt.Errorf("%w: planned %s node %d was never linked", ir.ErrInconsistent, n.Op, id))
		}
	}
	return st, errors.Join(errs...)
}

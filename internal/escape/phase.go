package escape

import (
	"context"
	"fmt"

	"pea/internal/effects"
	"pea/internal/ir"
	"pea/internal/trace"
)

// Run performs partial escape analysis on g. Each pass walks the whole graph, records
// effects and applies them in one batch; passes repeat until one records nothing or
// MaxIterations is reached. Cancellation is checked between passes. An error wrapping
// ir.ErrInconsistent means g may be partially rewritten and must be discarded.
func Run(ctx context.Context, g *ir.Graph, opts Options) (Result, error) {
	opts = opts.withDefaults()
	t := trace.FromContext(ctx)
	parent := trace.CurrentSpan(ctx).SpanID

	var res Result
	for pass := 1; pass <= opts.MaxIterations; pass++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		span := trace.BeginFunc(t, trace.ScopePass, g.Name, "escape", parent)
		ps, err := runPass(g, opts, span)
		res.Passes++
		span.Int("pass", pass).
			Int("effects", ps.effects).
			Int("virtualized", ps.virtualized).
			Int("materialized", ps.materialized)
		if err != nil {
			span.End(err.Error())
			return res, err
		}
		span.End("")
		if ps.effects == 0 {
			break
		}
		res.Changed = true
		res.Effects += ps.effects
		res.Virtualized += ps.virtualized
		res.Materialized += ps.materialized

		if opts.Canonicalize != nil {
			if err := opts.Canonicalize(g); err != nil {
				return res, fmt.Errorf("escape: canonicalize %s: %w", g.Name, err)
			}
		}
		if opts.Verify != nil {
			if err := opts.Verify(g); err != nil {
				return res, fmt.Errorf("escape: pass %d on %s: %w", pass, g.Name, err)
			}
		}
	}
	return res, nil
}

type passStats struct {
	effects      int
	virtualized  int
	materialized int
}

// runPass walks g until every virtualized site shows a benefit, then applies the effects
// of the last walk.
func runPass(g *ir.Graph, opts Options, span *trace.Span) (passStats, error) {
	cfg, err := ir.BuildCFG(g)
	if err != nil {
		return passStats{}, fmt.Errorf("escape: %w", err)
	}
	sched := ir.ScheduleFloating(cfg)
	live := ir.ComputeLiveness(cfg, sched)
	excluded := make(map[ir.NodeID]bool)

	for {
		w := newWalker(g, cfg, sched, live, opts, excluded, span)
		if err := w.run(); err != nil {
			return passStats{}, fmt.Errorf("escape: %w", err)
		}
		benefits := w.set.Benefits()
		retry := false
		for _, site := range virtualizedSites(w.plan, w.set) {
			if !benefits[site] {
				excluded[site] = true
				retry = true
			}
		}
		if retry {
			span.Point(trace.ScopeBlock, "exclude", fmt.Sprintf("%d sites", len(excluded)))
			continue
		}

		ps := summarize(w.plan, w.set)
		if ps.effects == 0 {
			return ps, nil
		}
		if _, err := effects.Apply(g, w.plan, w.set); err != nil {
			return ps, fmt.Errorf("escape: %s: %w", g.Name, err)
		}
		return ps, nil
	}
}

// virtualizedSites returns the allocation sites removed by s.
func virtualizedSites(p *effects.Plan, s *effects.Set) []ir.NodeID {
	var out []ir.NodeID
	for _, l := range s.Lists() {
		for _, e := range l.Effects() {
			if e.Kind != effects.Delete || p.IsPlanned(e.Node) {
				continue
			}
			if n := p.Node(e.Node); n != nil && n.Op.IsAllocation() {
				out = append(out, e.Node)
			}
		}
	}
	return out
}

func objects(n *ir.Node) int {
	if n.Op == ir.OpCommitAllocation {
		return len(n.Shapes)
	}
	return 1
}

func summarize(p *effects.Plan, s *effects.Set) passStats {
	ps := passStats{effects: s.Count()}
	for _, site := range virtualizedSites(p, s) {
		ps.virtualized += objects(p.Node(site))
	}
	for _, l := range s.Lists() {
		for _, e := range l.Effects() {
			if e.Kind != effects.InsertBefore || !p.IsPlanned(e.Node) {
				continue
			}
			if n := p.Node(e.Node); n.Op.IsAllocation() {
				ps.materialized += objects(n)
			}
		}
	}
	return ps
}

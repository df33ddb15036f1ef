// Package effects records graph mutations during an analysis walk and applies them in one
// batch once the walk is accepted.
package effects

import (
	"fmt"
	"slices"

	"pea/internal/ir"
)

// Plan owns the planned nodes of one walk. Planned nodes get ids above the graph's
// high-water mark at the start of the walk and only become real when Apply needs them.
type Plan struct {
	g        *ir.Graph
	base     ir.NodeID
	planned  []*ir.Node
	resolved map[ir.NodeID]ir.NodeID
}

// NewPlan starts a plan for g.
func NewPlan(g *ir.Graph) *Plan {
	return &Plan{
		g:        g,
		base:     g.MaxID(),
		resolved: make(map[ir.NodeID]ir.NodeID),
	}
}

// Add registers n as a planned node and returns its planned id.
func (p *Plan) Add(n *ir.Node) ir.NodeID {
	c := *n
	c.Inputs = slices.Clone(n.Inputs)
	p.planned = append(p.planned, &c)
	id := p.base + ir.NodeID(len(p.planned)) //nolint:gosec // bounded by the arena size
	c.ID = id
	return id
}

// IsPlanned reports whether id names a planned node.
func (p *Plan) IsPlanned(id ir.NodeID) bool {
	return id > p.base && int(id-p.base) <= len(p.planned)
}

// Node returns the planned node id, or the graph node for real ids.
func (p *Plan) Node(id ir.NodeID) *ir.Node {
	if p.IsPlanned(id) {
		return p.planned[id-p.base-1]
	}
	return p.g.Node(id)
}

// SetInputs replaces the inputs of a planned node.
func (p *Plan) SetInputs(id ir.NodeID, inputs []ir.NodeID) {
	if !p.IsPlanned(id) {
		panic(fmt.Sprintf("effects: SetInputs on real node %d", id))
	}
	p.planned[id-p.base-1].Inputs = slices.Clone(inputs)
}

// Len returns the number of planned nodes.
func (p *Plan) Len() int { return len(p.planned) }

// Resolve returns the real id for id, creating the planned node and, transitively, the
// planned nodes it uses. The node is added before its inputs are resolved, so cycles
// through phis are fine.
func (p *Plan) Resolve(id ir.NodeID) ir.NodeID {
	if !p.IsPlanned(id) {
		return id
	}
	if r, ok := p.resolved[id]; ok {
		return r
	}
	tmpl := p.planned[id-p.base-1]
	shell := *tmpl
	shell.Inputs = nil
	rid := p.g.Add(&shell)
	p.resolved[id] = rid
	inputs := make([]ir.NodeID, len(tmpl.Inputs))
	for i, in := range tmpl.Inputs {
		inputs[i] = p.Resolve(in)
	}
	p.g.SetInputs(rid, inputs)
	return rid
}

// Created returns the real ids of the planned nodes created so far, ordered by planned id.
func (p *Plan) Created() []ir.NodeID {
	keys := make([]ir.NodeID, 0, len(p.resolved))
	for k := range p.resolved {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]ir.NodeID, len(keys))
	for i, k := range keys {
		out[i] = p.resolved[k]
	}
	return out
}
